package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-partners/core"
	"github.com/goliatone/go-partners/ledger"
)

func TestMemoryRetryQueueClaimSemantics(t *testing.T) {
	queue := NewMemoryRetryQueue()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	_, err := queue.Enqueue(context.Background(), core.RetryTask{
		ID:        "task-due",
		PartnerID: "partner-1",
		EventID:   "event-1",
		EventType: "booking.created",
		Attempt:   1,
		NotBefore: now.Add(-time.Second),
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	_, err = queue.Enqueue(context.Background(), core.RetryTask{
		ID:        "task-future",
		PartnerID: "partner-1",
		EventID:   "event-2",
		EventType: "booking.created",
		Attempt:   1,
		NotBefore: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	due, err := queue.ClaimDue(context.Background(), now, 10)
	if err != nil {
		t.Fatalf("ClaimDue() error = %v", err)
	}
	if len(due) != 1 || due[0].ID != "task-due" {
		t.Fatalf("ClaimDue() = %+v, want only the due task", due)
	}

	// A claimed task is invisible until released.
	again, err := queue.ClaimDue(context.Background(), now, 10)
	if err != nil {
		t.Fatalf("ClaimDue() error = %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("ClaimDue() reissued a claimed task: %+v", again)
	}

	if err := queue.Reschedule(context.Background(), "task-due", 2, now.Add(-time.Millisecond)); err != nil {
		t.Fatalf("Reschedule() error = %v", err)
	}
	released, err := queue.ClaimDue(context.Background(), now, 10)
	if err != nil {
		t.Fatalf("ClaimDue() error = %v", err)
	}
	if len(released) != 1 || released[0].Attempt != 2 {
		t.Fatalf("ClaimDue() after reschedule = %+v", released)
	}

	if err := queue.Complete(context.Background(), "task-due"); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if err := queue.Complete(context.Background(), "task-due"); err == nil {
		t.Fatal("Complete() succeeded twice for the same task")
	}
}

func TestDispatchDueResumesPersistedLadder(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	directory := newStubDirectory()
	directory.add(activePartner("partner-1", "acme", server.URL), "secret-1")
	store := ledger.NewMemoryWebhookLogStore()
	dispatcher := newTestDispatcher(t, directory, store)

	queue := NewMemoryRetryQueue()
	_, err := queue.Enqueue(context.Background(), core.RetryTask{
		ID:        "task-1",
		PartnerID: "partner-1",
		EventID:   "event-1",
		EventType: "booking.created",
		Payload:   []byte(`{"event":"booking.created"}`),
		Attempt:   2,
		NotBefore: time.Now().UTC().Add(-time.Second),
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	scheduler, err := NewRetryScheduler(queue, dispatcher)
	if err != nil {
		t.Fatalf("NewRetryScheduler() error = %v", err)
	}

	driven, err := scheduler.DispatchDue(context.Background())
	if err != nil {
		t.Fatalf("DispatchDue() error = %v", err)
	}
	if driven != 1 {
		t.Fatalf("DispatchDue() drove %d tasks, want 1", driven)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("endpoint saw %d attempts, want 1", got)
	}

	outcomes := directory.recordedOutcomes()
	if len(outcomes) != 1 || !outcomes[0] {
		t.Fatalf("recorded outcomes = %v, want one success", outcomes)
	}

	remaining, err := queue.ClaimDue(context.Background(), time.Now().UTC().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("ClaimDue() error = %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("queue still holds %d tasks after redelivery", len(remaining))
	}
}

func TestDispatchDueDropsTasksForInactivePartners(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	suspended := activePartner("partner-1", "acme", server.URL)
	suspended.Status = core.PartnerStatusSuspended
	directory := newStubDirectory()
	directory.add(suspended, "secret-1")
	dispatcher := newTestDispatcher(t, directory, ledger.NewMemoryWebhookLogStore())

	queue := NewMemoryRetryQueue()
	_, err := queue.Enqueue(context.Background(), core.RetryTask{
		ID:        "task-1",
		PartnerID: "partner-1",
		EventID:   "event-1",
		EventType: "booking.created",
		Payload:   []byte(`{}`),
		Attempt:   1,
		NotBefore: time.Now().UTC().Add(-time.Second),
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	scheduler, err := NewRetryScheduler(queue, dispatcher)
	if err != nil {
		t.Fatalf("NewRetryScheduler() error = %v", err)
	}

	driven, err := scheduler.DispatchDue(context.Background())
	if err != nil {
		t.Fatalf("DispatchDue() error = %v", err)
	}
	if driven != 1 {
		t.Fatalf("DispatchDue() drove %d tasks, want 1 (dropped)", driven)
	}
	if got := atomic.LoadInt32(&attempts); got != 0 {
		t.Fatalf("suspended partner endpoint saw %d attempts, want 0", got)
	}
}

func TestDispatcherParksRetriesDurably(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	directory := newStubDirectory()
	directory.add(activePartner("partner-1", "acme", server.URL), "secret-1")
	queue := NewMemoryRetryQueue()
	var enqueued, rescheduled, completed int
	tracker := &trackingQueue{inner: queue, enqueued: &enqueued, rescheduled: &rescheduled, completed: &completed}
	dispatcher := newTestDispatcher(t, directory, ledger.NewMemoryWebhookLogStore(),
		WithRetryQueue(tracker),
	)

	results, err := dispatcher.DispatchEvent(context.Background(), core.Event{Type: "booking.created"})
	if err != nil {
		t.Fatalf("DispatchEvent() error = %v", err)
	}
	if results[0].Success {
		t.Fatal("delivery succeeded against an endpoint that always fails")
	}
	if enqueued != 1 {
		t.Fatalf("queue saw %d enqueues, want 1", enqueued)
	}
	if rescheduled != 2 {
		t.Fatalf("queue saw %d reschedules, want 2", rescheduled)
	}
	if completed != 1 {
		t.Fatalf("queue saw %d completions, want 1", completed)
	}
}

func TestSchedulerLeavesLiveLadderAlone(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	directory := newStubDirectory()
	directory.add(activePartner("partner-1", "acme", server.URL), "secret-1")
	store := ledger.NewMemoryWebhookLogStore()
	queue := NewMemoryRetryQueue()
	dispatcher := newTestDispatcher(t, directory, store, WithRetryQueue(queue))

	scheduler, err := NewRetryScheduler(queue, dispatcher)
	if err != nil {
		t.Fatalf("NewRetryScheduler() error = %v", err)
	}

	// Sweep the queue during every backoff gap, the way a deployed poller
	// would. The parked task is leased to the live ladder, so no sweep may
	// claim it.
	dispatcher.sleep = func(ctx context.Context, d time.Duration) error {
		driven, sweepErr := scheduler.DispatchDue(ctx)
		if sweepErr != nil {
			t.Errorf("DispatchDue() error = %v", sweepErr)
		}
		if driven != 0 {
			t.Errorf("scheduler drove %d tasks while the ladder was live, want 0", driven)
		}
		return nil
	}

	results, err := dispatcher.DispatchEvent(context.Background(), core.Event{Type: "booking.created"})
	if err != nil {
		t.Fatalf("DispatchEvent() error = %v", err)
	}
	if results[0].Success || results[0].Attempts != 4 {
		t.Fatalf("result = %+v, want four failed attempts", results[0])
	}
	if got := atomic.LoadInt32(&attempts); got != 4 {
		t.Fatalf("endpoint saw %d attempts, want 4 from a single ladder", got)
	}

	outcomes := directory.recordedOutcomes()
	if len(outcomes) != 1 || outcomes[0] {
		t.Fatalf("recorded outcomes = %v, want exactly one failure", outcomes)
	}

	remaining, err := queue.ClaimDue(context.Background(), time.Now().UTC().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("ClaimDue() error = %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("queue still holds %d tasks after the ladder finished", len(remaining))
	}
}

func TestCancelledLadderHandsTaskToScheduler(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	directory := newStubDirectory()
	directory.add(activePartner("partner-1", "acme", server.URL), "secret-1")
	store := ledger.NewMemoryWebhookLogStore()
	queue := NewMemoryRetryQueue()
	dispatcher := newTestDispatcher(t, directory, store, WithRetryQueue(queue))
	dispatcher.sleep = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}

	results, err := dispatcher.DispatchEvent(context.Background(), core.Event{Type: "booking.created"})
	if err != nil {
		t.Fatalf("DispatchEvent() error = %v", err)
	}
	if results[0].Success || results[0].Error == "" {
		t.Fatalf("result = %+v, want a cancelled failure", results[0])
	}

	// No final outcome yet; the resumed ladder owns it.
	if outcomes := directory.recordedOutcomes(); len(outcomes) != 0 {
		t.Fatalf("recorded outcomes = %v, want none for a handed-off ladder", outcomes)
	}

	parked, err := queue.ClaimDue(context.Background(), time.Now().UTC().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("ClaimDue() error = %v", err)
	}
	if len(parked) != 1 || parked[0].Attempt != 1 {
		t.Fatalf("parked tasks = %+v, want the first retry preserved", parked)
	}

	logs, err := store.Query(context.Background(), core.WebhookLogFilter{PartnerID: "partner-1"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(logs) != 1 || logs[0].Status != core.WebhookStatusRetrying {
		t.Fatalf("ledger logs = %+v, want one open retrying record", logs)
	}
}

type trackingQueue struct {
	inner       *MemoryRetryQueue
	enqueued    *int
	rescheduled *int
	completed   *int
}

func (q *trackingQueue) Enqueue(ctx context.Context, task core.RetryTask) (core.RetryTask, error) {
	*q.enqueued++
	return q.inner.Enqueue(ctx, task)
}

func (q *trackingQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]core.RetryTask, error) {
	return q.inner.ClaimDue(ctx, now, limit)
}

func (q *trackingQueue) Complete(ctx context.Context, id string) error {
	*q.completed++
	return q.inner.Complete(ctx, id)
}

func (q *trackingQueue) Reschedule(ctx context.Context, id string, attempt int, notBefore time.Time) error {
	*q.rescheduled++
	return q.inner.Reschedule(ctx, id, attempt, notBefore)
}
