package signature

import "errors"

type Reason string

const (
	ReasonInvalidFormat   Reason = "invalid_format"
	ReasonExpired         Reason = "expired"
	ReasonFutureTimestamp Reason = "future_timestamp"
	ReasonMismatch        Reason = "mismatch"
)

// VerificationError carries the specific rejection reason so callers can map
// it to a boundary error without leaking secret material.
type VerificationError struct {
	Reason  Reason
	Message string
}

func (e *VerificationError) Error() string {
	if e == nil {
		return ""
	}
	return "signature: " + e.Message
}

// ReasonOf extracts the verification reason, or empty when err is not a
// verification failure.
func ReasonOf(err error) Reason {
	var verificationErr *VerificationError
	if errors.As(err, &verificationErr) {
		return verificationErr.Reason
	}
	return ""
}
