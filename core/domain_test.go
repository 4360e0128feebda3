package core

import (
	"context"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name    string
		from    PartnerStatus
		to      PartnerStatus
		allowed bool
	}{
		{"active to inactive", PartnerStatusActive, PartnerStatusInactive, true},
		{"active to suspended", PartnerStatusActive, PartnerStatusSuspended, true},
		{"inactive to active", PartnerStatusInactive, PartnerStatusActive, true},
		{"suspended to active", PartnerStatusSuspended, PartnerStatusActive, true},
		{"inactive to suspended", PartnerStatusInactive, PartnerStatusSuspended, false},
		{"suspended to inactive", PartnerStatusSuspended, PartnerStatusInactive, false},
		{"active to active", PartnerStatusActive, PartnerStatusActive, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanTransition(tc.from, tc.to); got != tc.allowed {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
			}
		})
	}
}

func TestPartnerSubscribesTo(t *testing.T) {
	wildcard := Partner{SubscribedEvents: []string{EventTypeWildcard}}
	if !wildcard.SubscribesTo("payment.completed") {
		t.Fatalf("wildcard subscriber should match every event type")
	}
	if !wildcard.SubscribesTo("reservation.cancelled") {
		t.Fatalf("wildcard subscriber should match every event type")
	}

	narrow := Partner{SubscribedEvents: []string{"payment.completed"}}
	if !narrow.SubscribesTo("payment.completed") {
		t.Fatalf("expected exact match")
	}
	if narrow.SubscribesTo("payment.failed") {
		t.Fatalf("exact subscription must not match sibling event types")
	}
	if narrow.SubscribesTo("payment") {
		t.Fatalf("no prefix matching")
	}
	if narrow.SubscribesTo("") {
		t.Fatalf("empty event type never matches")
	}
}

func TestPartnerSanitizedOmitsSecret(t *testing.T) {
	partner := Partner{
		ID:               "p1",
		Name:             "tours-inc",
		Secret:           "super-secret",
		SubscribedEvents: []string{"reservation.confirmed"},
	}
	sanitized := partner.Sanitized()
	if sanitized.Secret != "" {
		t.Fatalf("sanitized partner must not expose the secret")
	}
	sanitized.SubscribedEvents[0] = "mutated"
	if partner.SubscribedEvents[0] != "reservation.confirmed" {
		t.Fatalf("sanitized copy must not alias the original slice")
	}
}

func TestPartnerValidate(t *testing.T) {
	valid := Partner{
		Name:             "tours-inc",
		WebhookURL:       "https://partner.example.com/hooks",
		SubscribedEvents: []string{"reservation.confirmed"},
		Status:           PartnerStatusActive,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid partner, got %v", err)
	}

	plain := valid
	plain.WebhookURL = "http://partner.example.com/hooks"
	if err := plain.Validate(); err == nil {
		t.Fatalf("expected plain http url to be rejected")
	}

	unnamed := valid
	unnamed.Name = " "
	if err := unnamed.Validate(); err == nil {
		t.Fatalf("expected missing name to be rejected")
	}

	unsubscribed := valid
	unsubscribed.SubscribedEvents = nil
	if err := unsubscribed.Validate(); err == nil {
		t.Fatalf("expected empty subscriptions to be rejected")
	}
}

func TestWebhookStatusTerminal(t *testing.T) {
	if !WebhookStatusSuccess.Terminal() || !WebhookStatusFailed.Terminal() {
		t.Fatalf("success and failed are terminal")
	}
	if WebhookStatusPending.Terminal() || WebhookStatusRetrying.Terminal() {
		t.Fatalf("pending and retrying are not terminal")
	}
}

func TestSignedEnvelopeHeader(t *testing.T) {
	envelope := SignedEnvelope{Timestamp: 1767225600, Signature: "abcd1234"}
	if got := envelope.Header(); got != "t=1767225600,v1=abcd1234" {
		t.Fatalf("unexpected header %q", got)
	}
}

func TestMemoryReplayLedger_ClaimOncePerWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ledger := NewMemoryReplayLedger(5 * time.Minute)
	ledger.Now = func() time.Time { return now }

	claimed, err := ledger.Claim(context.Background(), "p1:t=1:v1=aa", 0)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if !claimed {
		t.Fatalf("expected first claim to win")
	}

	claimed, err = ledger.Claim(context.Background(), "p1:t=1:v1=aa", 0)
	if err != nil {
		t.Fatalf("replayed claim: %v", err)
	}
	if claimed {
		t.Fatalf("expected replay inside the window to lose")
	}

	now = now.Add(6 * time.Minute)
	claimed, err = ledger.Claim(context.Background(), "p1:t=1:v1=aa", 0)
	if err != nil {
		t.Fatalf("claim after expiry: %v", err)
	}
	if !claimed {
		t.Fatalf("expected claim after window expiry to win")
	}
}

func TestRedactSensitiveMap(t *testing.T) {
	fields := map[string]any{
		"partner_id":    "p1",
		"secret":        "shh",
		"hmac_signature": "abcd",
		"nested": map[string]any{
			"api_key": "k",
			"event_type": "payment.completed",
		},
	}
	redacted := RedactSensitiveMap(fields)
	if redacted["partner_id"] != "p1" {
		t.Fatalf("traceability keys must survive redaction")
	}
	if redacted["secret"] != RedactedValue || redacted["hmac_signature"] != RedactedValue {
		t.Fatalf("secret-bearing keys must be masked")
	}
	nested := redacted["nested"].(map[string]any)
	if nested["api_key"] != RedactedValue {
		t.Fatalf("nested secret-bearing keys must be masked")
	}
	if nested["event_type"] != "payment.completed" {
		t.Fatalf("nested plain keys must survive")
	}
}
