package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-partners/core"
)

// RetryScheduler re-drives persisted retry tasks that an interrupted process
// left behind. A live dispatcher runs its own ladder in process; the
// scheduler only picks up tasks whose owner never finished them.
type RetryScheduler struct {
	queue      core.RetryQueueStore
	dispatcher *Dispatcher
	logger     core.Logger
	batchSize  int

	Now func() time.Time
}

type SchedulerOption func(*RetryScheduler)

func WithSchedulerLogger(logger core.Logger) SchedulerOption {
	return func(s *RetryScheduler) {
		s.logger = logger
	}
}

func WithBatchSize(size int) SchedulerOption {
	return func(s *RetryScheduler) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

func NewRetryScheduler(queue core.RetryQueueStore, dispatcher *Dispatcher, opts ...SchedulerOption) (*RetryScheduler, error) {
	if queue == nil {
		return nil, fmt.Errorf("dispatch: retry queue is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatch: dispatcher is required")
	}
	scheduler := &RetryScheduler{
		queue:      queue,
		dispatcher: dispatcher,
		batchSize:  25,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(scheduler)
	}
	return scheduler, nil
}

// DispatchDue claims due tasks and resumes each partner's ladder from the
// persisted attempt number. Returns how many tasks were driven.
func (s *RetryScheduler) DispatchDue(ctx context.Context) (int, error) {
	if s == nil || s.queue == nil || s.dispatcher == nil {
		return 0, fmt.Errorf("dispatch: scheduler is not configured")
	}

	tasks, err := s.queue.ClaimDue(ctx, s.now(), s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("dispatch: claim due retry tasks: %w", err)
	}

	driven := 0
	for _, task := range tasks {
		if err := s.drive(ctx, task); err != nil {
			s.logWarn(ctx, "retry task redelivery failed", map[string]any{
				"task_id":    task.ID,
				"partner_id": task.PartnerID,
				"error":      err.Error(),
			})
			continue
		}
		driven++
	}
	return driven, nil
}

// Run polls until ctx is cancelled. Errors are logged, not fatal; the next
// tick tries again.
func (s *RetryScheduler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.DispatchDue(ctx); err != nil {
				s.logWarn(ctx, "retry sweep failed", map[string]any{
					"error": err.Error(),
				})
			}
		}
	}
}

func (s *RetryScheduler) drive(ctx context.Context, task core.RetryTask) error {
	partner, err := s.dispatcher.partners.Get(ctx, task.PartnerID)
	if err != nil {
		// Partner gone; the task has nowhere to go.
		return s.queue.Complete(ctx, task.ID)
	}
	if partner.Status != core.PartnerStatusActive {
		// Suspended or deactivated since the ladder started; drop the task
		// rather than hammer a disabled endpoint.
		return s.queue.Complete(ctx, task.ID)
	}

	event := core.Event{
		ID:       task.EventID,
		Type:     task.EventType,
		Metadata: task.Metadata,
	}
	s.dispatcher.deliver(ctx, partner, event, task.Payload, task.Attempt)
	return s.queue.Complete(ctx, task.ID)
}

func (s *RetryScheduler) logWarn(ctx context.Context, message string, fields map[string]any) {
	if s == nil || s.logger == nil {
		return
	}
	logger := s.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(core.FieldsLogger); ok {
		logger = fieldsLogger.WithFields(core.RedactSensitiveMap(fields))
	}
	logger.Warn(message)
}

func (s *RetryScheduler) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
