package signature

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-partners/core"
)

const (
	// DefaultMaxAge is the verification window for signature timestamps.
	DefaultMaxAge = 5 * time.Minute

	// DefaultFutureSkew tolerates clocks slightly ahead of ours before a
	// timestamp is rejected as coming from the future.
	DefaultFutureSkew = time.Minute

	secretByteLength = 32
)

// Signer produces and verifies HMAC-SHA256 signature envelopes in the form
// t=<unix seconds>,v1=<hex digest>. The timestamp is part of the signed
// base, so a valid digest cannot be detached and reused under a forged
// timestamp.
type Signer struct {
	MaxAge     time.Duration
	FutureSkew time.Duration
	Now        func() time.Time
}

func NewSigner() *Signer {
	return &Signer{
		MaxAge:     DefaultMaxAge,
		FutureSkew: DefaultFutureSkew,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// GenerateSecret returns a fresh 256-bit secret, hex-encoded. Called at
// partner registration and at each explicit regeneration.
func (s *Signer) GenerateSecret() (string, error) {
	raw := make([]byte, secretByteLength)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("signature: secret generation failed: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// Sign computes the envelope for payload under secret with a fresh
// timestamp. Retries re-sign and therefore carry distinct envelopes.
func (s *Signer) Sign(payload []byte, secret string) (core.SignedEnvelope, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return core.SignedEnvelope{}, fmt.Errorf("signature: secret is required")
	}
	timestamp := s.now().Unix()
	return core.SignedEnvelope{
		Payload:   append([]byte(nil), payload...),
		Timestamp: timestamp,
		Signature: computeDigest(payload, secret, timestamp),
	}, nil
}

// Verify checks header against rawPayload and secret. The digest comparison
// is constant time; timestamp checks run first so expired envelopes are
// rejected even when the digest is otherwise correct.
func (s *Signer) Verify(header string, rawPayload []byte, secret string) error {
	timestamp, digest, err := ParseHeader(header)
	if err != nil {
		return err
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return fmt.Errorf("signature: secret is required")
	}

	now := s.now().Unix()
	maxAge := s.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	futureSkew := s.FutureSkew
	if futureSkew < 0 {
		futureSkew = DefaultFutureSkew
	}
	if timestamp > now+int64(futureSkew/time.Second) {
		return &VerificationError{
			Reason:  ReasonFutureTimestamp,
			Message: "signature timestamp is in the future",
		}
	}
	if now-timestamp > int64(maxAge/time.Second) {
		return &VerificationError{
			Reason:  ReasonExpired,
			Message: "signature timestamp expired",
		}
	}

	expected := computeDigest(rawPayload, secret, timestamp)
	if subtle.ConstantTimeCompare([]byte(digest), []byte(expected)) != 1 {
		return &VerificationError{
			Reason:  ReasonMismatch,
			Message: "signature verification failed",
		}
	}
	return nil
}

// ParseHeader splits a t=<unix>,v1=<hex> header into its parts.
func ParseHeader(header string) (int64, string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, "", &VerificationError{
			Reason:  ReasonInvalidFormat,
			Message: "signature header is required",
		}
	}
	var timestampPart, digestPart string
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "t="):
			timestampPart = strings.TrimPrefix(part, "t=")
		case strings.HasPrefix(part, "v1="):
			digestPart = strings.TrimPrefix(part, "v1=")
		}
	}
	if timestampPart == "" || digestPart == "" {
		return 0, "", &VerificationError{
			Reason:  ReasonInvalidFormat,
			Message: "signature header must contain t= and v1= parts",
		}
	}
	timestamp, err := strconv.ParseInt(timestampPart, 10, 64)
	if err != nil {
		return 0, "", &VerificationError{
			Reason:  ReasonInvalidFormat,
			Message: "signature timestamp is not a unix epoch value",
		}
	}
	if _, err := hex.DecodeString(digestPart); err != nil {
		return 0, "", &VerificationError{
			Reason:  ReasonInvalidFormat,
			Message: "signature digest is not hex encoded",
		}
	}
	return timestamp, digestPart, nil
}

func computeDigest(payload []byte, secret string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Signer) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
