package ledger

import (
	"context"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-partners/core"
)

func newTestLedger(t *testing.T, now time.Time) *Service {
	t.Helper()
	svc, err := NewService(NewMemoryWebhookLogStore())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	svc.Now = func() time.Time { return now }
	return svc
}

func TestAppendOpensPendingRecord(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := newTestLedger(t, now)

	log, err := svc.Append(context.Background(), AppendInput{
		PartnerID: "partner-1",
		Direction: core.DirectionOutgoing,
		EventType: "booking.created",
		Payload:   []byte(`{"event":"booking.created"}`),
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if log.ID == "" {
		t.Fatal("Append() assigned no id")
	}
	if log.Status != core.WebhookStatusPending {
		t.Fatalf("Append() status = %s, want %s", log.Status, core.WebhookStatusPending)
	}
	if !log.CreatedAt.Equal(now) {
		t.Fatalf("Append() created at = %v, want %v", log.CreatedAt, now)
	}
	if log.CompletedAt != nil {
		t.Fatal("Append() set a completion time on an open record")
	}
}

func TestAppendValidatesInput(t *testing.T) {
	svc := newTestLedger(t, time.Now().UTC())

	cases := []struct {
		name  string
		input AppendInput
	}{
		{"missing partner", AppendInput{Direction: core.DirectionOutgoing, EventType: "booking.created"}},
		{"missing event type", AppendInput{PartnerID: "partner-1", Direction: core.DirectionOutgoing}},
		{"bad direction", AppendInput{PartnerID: "partner-1", Direction: "sideways", EventType: "booking.created"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Append(context.Background(), tc.input)
			if err == nil {
				t.Fatal("Append() accepted invalid input")
			}
			var richErr *goerrors.Error
			if !goerrors.As(err, &richErr) {
				t.Fatalf("Append() error %v is not a rich error", err)
			}
			if richErr.TextCode != core.PartnersErrorBadInput {
				t.Fatalf("Append() text code = %s, want %s", richErr.TextCode, core.PartnersErrorBadInput)
			}
		})
	}
}

func TestCloseIsTerminal(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := newTestLedger(t, now)

	log, err := svc.Append(context.Background(), AppendInput{
		PartnerID: "partner-1",
		Direction: core.DirectionOutgoing,
		EventType: "booking.created",
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	err = svc.Close(context.Background(), log.ID, CloseInput{
		Status:       core.WebhookStatusSuccess,
		StatusCode:   200,
		ResponseBody: "ok",
	})
	if err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := svc.MarkRetrying(context.Background(), log.ID, 1, "late retry"); err == nil {
		t.Fatal("MarkRetrying() mutated a closed record")
	}
	err = svc.Close(context.Background(), log.ID, CloseInput{Status: core.WebhookStatusFailed})
	if err == nil {
		t.Fatal("Close() reopened a closed record")
	}

	logs, err := svc.Query(context.Background(), core.WebhookLogFilter{PartnerID: "partner-1"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("Query() returned %d logs, want 1", len(logs))
	}
	got := logs[0]
	if got.Status != core.WebhookStatusSuccess {
		t.Fatalf("closed record status = %s, want %s", got.Status, core.WebhookStatusSuccess)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(now) {
		t.Fatalf("closed record completed at = %v, want %v", got.CompletedAt, now)
	}
}

func TestCloseRequiresTerminalStatus(t *testing.T) {
	svc := newTestLedger(t, time.Now().UTC())

	log, err := svc.Append(context.Background(), AppendInput{
		PartnerID: "partner-1",
		Direction: core.DirectionOutgoing,
		EventType: "booking.created",
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	err = svc.Close(context.Background(), log.ID, CloseInput{Status: core.WebhookStatusRetrying})
	if err == nil {
		t.Fatal("Close() accepted a non terminal status")
	}
}

func TestMarkRetryingTracksAttempts(t *testing.T) {
	svc := newTestLedger(t, time.Now().UTC())

	log, err := svc.Append(context.Background(), AppendInput{
		PartnerID: "partner-1",
		Direction: core.DirectionOutgoing,
		EventType: "booking.created",
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if err := svc.MarkRetrying(context.Background(), log.ID, 2, "connection refused"); err != nil {
		t.Fatalf("MarkRetrying() error = %v", err)
	}

	logs, err := svc.Query(context.Background(), core.WebhookLogFilter{Status: core.WebhookStatusRetrying})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("Query() returned %d retrying logs, want 1", len(logs))
	}
	if logs[0].RetryCount != 2 {
		t.Fatalf("retry count = %d, want 2", logs[0].RetryCount)
	}
	if logs[0].ErrorMessage != "connection refused" {
		t.Fatalf("error message = %q, want %q", logs[0].ErrorMessage, "connection refused")
	}
}

func TestQueryFilters(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := newTestLedger(t, base)

	seed := []AppendInput{
		{PartnerID: "partner-1", Direction: core.DirectionOutgoing, EventType: "booking.created"},
		{PartnerID: "partner-1", Direction: core.DirectionIncoming, EventType: "availability.request"},
		{PartnerID: "partner-2", Direction: core.DirectionOutgoing, EventType: "booking.cancelled"},
	}
	for i, in := range seed {
		at := base.Add(time.Duration(i) * time.Minute)
		svc.Now = func() time.Time { return at }
		if _, err := svc.Append(context.Background(), in); err != nil {
			t.Fatalf("Append(%d) error = %v", i, err)
		}
	}

	byPartner, err := svc.Query(context.Background(), core.WebhookLogFilter{PartnerID: "partner-1"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(byPartner) != 2 {
		t.Fatalf("partner filter returned %d logs, want 2", len(byPartner))
	}

	incoming, err := svc.Query(context.Background(), core.WebhookLogFilter{Direction: core.DirectionIncoming})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(incoming) != 1 || incoming[0].EventType != "availability.request" {
		t.Fatalf("direction filter returned %+v", incoming)
	}

	since := base.Add(90 * time.Second)
	recent, err := svc.Query(context.Background(), core.WebhookLogFilter{Since: &since})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(recent) != 1 || recent[0].EventType != "booking.cancelled" {
		t.Fatalf("since filter returned %+v", recent)
	}

	limited, err := svc.Query(context.Background(), core.WebhookLogFilter{Limit: 2})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limit filter returned %d logs, want 2", len(limited))
	}
	if limited[0].EventType != "booking.cancelled" {
		t.Fatalf("query order: newest first, got %s", limited[0].EventType)
	}
}
