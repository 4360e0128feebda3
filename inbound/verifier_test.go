package inbound

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-partners/core"
	"github.com/goliatone/go-partners/ledger"
	"github.com/goliatone/go-partners/signature"
)

type stubPartnerSource struct {
	partners map[string]core.Partner
	secrets  map[string]string
}

func (s *stubPartnerSource) Get(ctx context.Context, id string) (core.Partner, error) {
	partner, ok := s.partners[id]
	if !ok {
		return core.Partner{}, fmt.Errorf("partner %s not found", id)
	}
	return partner, nil
}

func (s *stubPartnerSource) Secret(ctx context.Context, id string) (string, error) {
	return s.secrets[id], nil
}

type inboundFixture struct {
	verifier *Verifier
	store    *ledger.MemoryWebhookLogStore
	signer   *signature.Signer
	secret   string
}

func newInboundFixture(t *testing.T, status core.PartnerStatus, opts ...Option) *inboundFixture {
	t.Helper()
	source := &stubPartnerSource{
		partners: map[string]core.Partner{
			"partner-1": {
				ID:         "partner-1",
				Name:       "acme",
				WebhookURL: "https://partner.example.com/hooks",
				Status:     status,
			},
		},
		secrets: map[string]string{"partner-1": "shared-secret"},
	}
	store := ledger.NewMemoryWebhookLogStore()
	logs, err := ledger.NewService(store)
	if err != nil {
		t.Fatalf("ledger.NewService() error = %v", err)
	}
	verifier, err := NewVerifier(source, logs, opts...)
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}
	return &inboundFixture{
		verifier: verifier,
		store:    store,
		signer:   signature.NewSigner(),
		secret:   "shared-secret",
	}
}

func (f *inboundFixture) sign(t *testing.T, body []byte) string {
	t.Helper()
	envelope, err := f.signer.Sign(body, f.secret)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	return envelope.Header()
}

func assertUnauthorized(t *testing.T, err error, textCode string) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an unauthorized error")
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("error %v is not a rich error", err)
	}
	if richErr.Code != http.StatusUnauthorized {
		t.Fatalf("error code = %d, want 401", richErr.Code)
	}
	if richErr.TextCode != textCode {
		t.Fatalf("text code = %s, want %s", richErr.TextCode, textCode)
	}
}

func TestProcessIncomingRoutesToHandler(t *testing.T) {
	fixture := newInboundFixture(t, core.PartnerStatusActive)

	var handled *IncomingEvent
	err := fixture.verifier.Register("availability.request", func(ctx context.Context, event IncomingEvent) error {
		handled = &event
		return nil
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	body := []byte(`{"event":"availability.request","data":{"date":"2026-03-15"}}`)
	result, err := fixture.verifier.ProcessIncoming(context.Background(), Request{
		PartnerID: "partner-1",
		Signature: fixture.sign(t, body),
		Body:      body,
	})
	if err != nil {
		t.Fatalf("ProcessIncoming() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v, want success", result)
	}
	if handled == nil {
		t.Fatal("handler never ran")
	}
	if handled.Type != "availability.request" || handled.Data["date"] != "2026-03-15" {
		t.Fatalf("handler event = %+v", handled)
	}

	logs, err := fixture.store.Query(context.Background(), core.WebhookLogFilter{Direction: core.DirectionIncoming})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(logs) != 1 || logs[0].Status != core.WebhookStatusSuccess {
		t.Fatalf("incoming logs = %+v, want one success record", logs)
	}
}

func TestProcessIncomingAcknowledgesUnknownEventTypes(t *testing.T) {
	fixture := newInboundFixture(t, core.PartnerStatusActive)

	body := []byte(`{"event":"loyalty.points_awarded","data":{}}`)
	result, err := fixture.verifier.ProcessIncoming(context.Background(), Request{
		PartnerID: "partner-1",
		Signature: fixture.sign(t, body),
		Body:      body,
	})
	if err != nil {
		t.Fatalf("ProcessIncoming() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("unknown event type was not acknowledged: %+v", result)
	}
	if result.Message != "acknowledged but not processed" {
		t.Fatalf("message = %q", result.Message)
	}
}

func TestProcessIncomingRejectsUnknownPartnerBeforeBody(t *testing.T) {
	fixture := newInboundFixture(t, core.PartnerStatusActive)

	_, err := fixture.verifier.ProcessIncoming(context.Background(), Request{
		PartnerID: "ghost",
		Signature: "t=1,v1=00",
		Body:      []byte(`not even json`),
	})
	assertUnauthorized(t, err, core.PartnersErrorNotFound)
}

func TestProcessIncomingRejectsInactivePartner(t *testing.T) {
	fixture := newInboundFixture(t, core.PartnerStatusSuspended)

	body := []byte(`{"event":"availability.request","data":{}}`)
	_, err := fixture.verifier.ProcessIncoming(context.Background(), Request{
		PartnerID: "partner-1",
		Signature: fixture.sign(t, body),
		Body:      body,
	})
	assertUnauthorized(t, err, core.PartnersErrorNotActive)
}

func TestProcessIncomingRejectsExpiredTimestamp(t *testing.T) {
	fixture := newInboundFixture(t, core.PartnerStatusActive)

	// Partner's clock, ten minutes behind the verifier's window.
	fixture.signer.Now = func() time.Time {
		return time.Now().UTC().Add(-10 * time.Minute)
	}

	body := []byte(`{"event":"availability.request","data":{}}`)
	_, err := fixture.verifier.ProcessIncoming(context.Background(), Request{
		PartnerID: "partner-1",
		Signature: fixture.sign(t, body),
		Body:      body,
	})
	assertUnauthorized(t, err, core.PartnersErrorSignatureExpired)

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("error %v is not a rich error", err)
	}
	if richErr.Message != "Signature timestamp expired" {
		t.Fatalf("message = %q, want %q", richErr.Message, "Signature timestamp expired")
	}

	logs, err := fixture.store.Query(context.Background(), core.WebhookLogFilter{
		Direction: core.DirectionIncoming,
		Status:    core.WebhookStatusFailed,
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("failed incoming logs = %d, want 1", len(logs))
	}
	if logs[0].ErrorMessage != "Signature timestamp expired" {
		t.Fatalf("log error message = %q", logs[0].ErrorMessage)
	}
}

func TestProcessIncomingRejectsTamperedBody(t *testing.T) {
	fixture := newInboundFixture(t, core.PartnerStatusActive)

	body := []byte(`{"event":"availability.request","data":{}}`)
	header := fixture.sign(t, body)
	tampered := []byte(`{"event":"availability.request","data":{"injected":true}}`)

	_, err := fixture.verifier.ProcessIncoming(context.Background(), Request{
		PartnerID: "partner-1",
		Signature: header,
		Body:      tampered,
	})
	assertUnauthorized(t, err, core.PartnersErrorSignatureMismatch)
}

func TestProcessIncomingRejectsReplayedSignature(t *testing.T) {
	fixture := newInboundFixture(t, core.PartnerStatusActive)

	body := []byte(`{"event":"availability.request","data":{}}`)
	header := fixture.sign(t, body)

	request := Request{PartnerID: "partner-1", Signature: header, Body: body}
	if _, err := fixture.verifier.ProcessIncoming(context.Background(), request); err != nil {
		t.Fatalf("first presentation rejected: %v", err)
	}

	_, err := fixture.verifier.ProcessIncoming(context.Background(), request)
	assertUnauthorized(t, err, core.PartnersErrorSignatureMismatch)
}

func TestProcessIncomingLogsHandlerFailure(t *testing.T) {
	fixture := newInboundFixture(t, core.PartnerStatusActive)

	err := fixture.verifier.Register("availability.request", func(ctx context.Context, event IncomingEvent) error {
		return fmt.Errorf("inventory backend unavailable")
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	body := []byte(`{"event":"availability.request","data":{}}`)
	result, err := fixture.verifier.ProcessIncoming(context.Background(), Request{
		PartnerID: "partner-1",
		Signature: fixture.sign(t, body),
		Body:      body,
	})
	if err != nil {
		t.Fatalf("ProcessIncoming() error = %v", err)
	}
	if result.Success {
		t.Fatalf("handler failure reported as success: %+v", result)
	}

	logs, err := fixture.store.Query(context.Background(), core.WebhookLogFilter{
		Direction: core.DirectionIncoming,
		Status:    core.WebhookStatusFailed,
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("failed incoming logs = %d, want 1", len(logs))
	}
}

func TestProcessIncomingRejectsMalformedBody(t *testing.T) {
	fixture := newInboundFixture(t, core.PartnerStatusActive)

	body := []byte(`not json at all`)
	_, err := fixture.verifier.ProcessIncoming(context.Background(), Request{
		PartnerID: "partner-1",
		Signature: fixture.sign(t, body),
		Body:      body,
	})
	if err == nil {
		t.Fatal("malformed body was accepted")
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("error %v is not a rich error", err)
	}
	if richErr.Code != http.StatusBadRequest {
		t.Fatalf("error code = %d, want 400", richErr.Code)
	}
}
