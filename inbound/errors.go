package inbound

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-partners/core"
	"github.com/goliatone/go-partners/signature"
)

func rejectionMessage(reason signature.Reason) string {
	switch reason {
	case signature.ReasonExpired:
		return "Signature timestamp expired"
	case signature.ReasonFutureTimestamp:
		return "Signature timestamp is in the future"
	case signature.ReasonMismatch:
		return "Signature mismatch"
	case signature.ReasonInvalidFormat:
		return "Invalid signature format"
	default:
		return "Signature verification failed"
	}
}

func signatureTextCode(reason signature.Reason) string {
	switch reason {
	case signature.ReasonExpired:
		return core.PartnersErrorSignatureExpired
	case signature.ReasonFutureTimestamp:
		return core.PartnersErrorSignatureFuture
	case signature.ReasonInvalidFormat:
		return core.PartnersErrorSignatureFormat
	default:
		return core.PartnersErrorSignatureMismatch
	}
}

func errSignature(reason signature.Reason) error {
	return goerrors.New(rejectionMessage(reason), goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(signatureTextCode(reason))
}

func errReplay() error {
	return goerrors.New("signature already presented", goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(core.PartnersErrorSignatureMismatch)
}

func errPartnerNotFound(id string) error {
	return goerrors.New("partner is not authorized", goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(core.PartnersErrorNotFound).
		WithMetadata(map[string]any{"partner_id": id})
}

func errPartnerNotActive(id string, status core.PartnerStatus) error {
	return goerrors.New("partner is not authorized", goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(core.PartnersErrorNotActive).
		WithMetadata(map[string]any{
			"partner_id": id,
			"status":     string(status),
		})
}

func errMalformedBody(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryBadInput, "inbound: malformed webhook body").
		WithCode(http.StatusBadRequest).
		WithTextCode(core.PartnersErrorBadInput)
}

func errInternal(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.PartnersErrorInternal)
}
