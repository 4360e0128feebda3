package signature

import (
	"strings"
	"testing"
	"time"
)

func fixedSigner(at time.Time) *Signer {
	signer := NewSigner()
	signer.Now = func() time.Time { return at }
	return signer
}

func TestSigner_SignVerifyRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	signer := fixedSigner(now)

	secret, err := signer.GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	if len(secret) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(secret))
	}

	payload := []byte(`{"event":"reservation.confirmed","data":{"id":"r1"}}`)
	envelope, err := signer.Sign(payload, secret)
	if err != nil {
		t.Fatalf("sign payload: %v", err)
	}
	if envelope.Timestamp != now.Unix() {
		t.Fatalf("expected timestamp %d, got %d", now.Unix(), envelope.Timestamp)
	}
	if !strings.HasPrefix(envelope.Header(), "t=") || !strings.Contains(envelope.Header(), ",v1=") {
		t.Fatalf("unexpected header form %q", envelope.Header())
	}

	if err := signer.Verify(envelope.Header(), payload, secret); err != nil {
		t.Fatalf("verify freshly signed payload: %v", err)
	}
}

func TestSigner_TamperedPayloadFails(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	signer := fixedSigner(now)
	secret, err := signer.GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}

	payload := []byte(`{"amount":100}`)
	envelope, err := signer.Sign(payload, secret)
	if err != nil {
		t.Fatalf("sign payload: %v", err)
	}

	tampered := []byte(`{"amount":900}`)
	err = signer.Verify(envelope.Header(), tampered, secret)
	if ReasonOf(err) != ReasonMismatch {
		t.Fatalf("expected mismatch, got %v", err)
	}
}

func TestSigner_WrongSecretFails(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	signer := fixedSigner(now)

	payload := []byte(`{"id":"r1"}`)
	envelope, err := signer.Sign(payload, "secret-a")
	if err != nil {
		t.Fatalf("sign payload: %v", err)
	}
	err = signer.Verify(envelope.Header(), payload, "secret-b")
	if ReasonOf(err) != ReasonMismatch {
		t.Fatalf("expected mismatch, got %v", err)
	}
}

func TestSigner_ExpiredTimestampRejected(t *testing.T) {
	signedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	signer := fixedSigner(signedAt)
	payload := []byte(`{"id":"r1"}`)
	envelope, err := signer.Sign(payload, "top-secret")
	if err != nil {
		t.Fatalf("sign payload: %v", err)
	}

	// Ten minutes later the envelope is outside the five minute window
	// even though the digest is still correct.
	late := fixedSigner(signedAt.Add(10 * time.Minute))
	err = late.Verify(envelope.Header(), payload, "top-secret")
	if ReasonOf(err) != ReasonExpired {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestSigner_FutureTimestampRejected(t *testing.T) {
	signedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	signer := fixedSigner(signedAt)
	payload := []byte(`{"id":"r1"}`)
	envelope, err := signer.Sign(payload, "top-secret")
	if err != nil {
		t.Fatalf("sign payload: %v", err)
	}

	// Verifier clock is 2 minutes behind the signer, beyond the 60s skew
	// allowance.
	behind := fixedSigner(signedAt.Add(-2 * time.Minute))
	err = behind.Verify(envelope.Header(), payload, "top-secret")
	if ReasonOf(err) != ReasonFutureTimestamp {
		t.Fatalf("expected future timestamp, got %v", err)
	}
}

func TestSigner_WithinSkewAllowanceAccepted(t *testing.T) {
	signedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	signer := fixedSigner(signedAt)
	payload := []byte(`{"id":"r1"}`)
	envelope, err := signer.Sign(payload, "top-secret")
	if err != nil {
		t.Fatalf("sign payload: %v", err)
	}

	behind := fixedSigner(signedAt.Add(-30 * time.Second))
	if err := behind.Verify(envelope.Header(), payload, "top-secret"); err != nil {
		t.Fatalf("expected signature within skew allowance to verify: %v", err)
	}
}

func TestParseHeader_Malformed(t *testing.T) {
	cases := []struct {
		name   string
		header string
	}{
		{"empty", ""},
		{"missing digest", "t=1700000000"},
		{"missing timestamp", "v1=abcdef"},
		{"non numeric timestamp", "t=soon,v1=abcdef"},
		{"non hex digest", "t=1700000000,v1=zzzz"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := ParseHeader(tc.header)
			if ReasonOf(err) != ReasonInvalidFormat {
				t.Fatalf("expected invalid format, got %v", err)
			}
		})
	}
}

func TestSigner_FreshTimestampPerSign(t *testing.T) {
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	signer := NewSigner()
	signer.Now = func() time.Time {
		current = current.Add(time.Second)
		return current
	}

	payload := []byte(`{"id":"r1"}`)
	first, err := signer.Sign(payload, "top-secret")
	if err != nil {
		t.Fatalf("sign payload: %v", err)
	}
	second, err := signer.Sign(payload, "top-secret")
	if err != nil {
		t.Fatalf("sign payload again: %v", err)
	}
	if first.Timestamp == second.Timestamp {
		t.Fatalf("expected fresh timestamp per sign call")
	}
	if first.Signature == second.Signature {
		t.Fatalf("expected distinct digests for distinct timestamps")
	}
}
