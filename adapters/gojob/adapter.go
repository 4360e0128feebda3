package gojob

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-partners/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const (
	JobIDWebhookRetry = "partners.webhook.retry"

	parameterBatchSize = "batch_size"
)

// RetryDispatcher drains due webhook retry tasks. The dispatch scheduler
// satisfies this.
type RetryDispatcher interface {
	DispatchDue(ctx context.Context) (int, error)
}

// NewRetrySweepMessage builds the go-job execution message for one retry
// sweep. The idempotency key keeps overlapping schedulers from stacking
// sweeps for the same tick.
func NewRetrySweepMessage(batchSize int, idempotencyKey string) *job.ExecutionMessage {
	parameters := map[string]any{}
	if batchSize > 0 {
		parameters[parameterBatchSize] = batchSize
	}
	return &job.ExecutionMessage{
		JobID:          JobIDWebhookRetry,
		Parameters:     parameters,
		IdempotencyKey: strings.TrimSpace(idempotencyKey),
	}
}

// SweepEnqueuer schedules retry sweeps on a go-job queue.
type SweepEnqueuer struct {
	enqueuer  queue.Enqueuer
	batchSize int
}

func NewSweepEnqueuer(enqueuer queue.Enqueuer, batchSize int) *SweepEnqueuer {
	return &SweepEnqueuer{enqueuer: enqueuer, batchSize: batchSize}
}

func (e *SweepEnqueuer) EnqueueSweep(ctx context.Context, at time.Time) error {
	if e == nil || e.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	key := JobIDWebhookRetry + ":" + strconv.FormatInt(at.UTC().Unix(), 10)
	return e.enqueuer.Enqueue(ctx, NewRetrySweepMessage(e.batchSize, key))
}

// RetryRunner executes retry sweep messages pulled off a go-job queue.
type RetryRunner struct {
	dispatcher RetryDispatcher
	logger     core.Logger
	metrics    core.MetricsRecorder
}

func NewRetryRunner(dispatcher RetryDispatcher, logger core.Logger, metrics core.MetricsRecorder) (*RetryRunner, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("gojob: retry dispatcher is required")
	}
	if metrics == nil {
		metrics = core.NopMetricsRecorder{}
	}
	return &RetryRunner{dispatcher: dispatcher, logger: logger, metrics: metrics}, nil
}

func (r *RetryRunner) Run(ctx context.Context, msg *job.ExecutionMessage) error {
	if r == nil || r.dispatcher == nil {
		return fmt.Errorf("gojob: retry runner is not configured")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDWebhookRetry {
		return fmt.Errorf("gojob: unexpected job id %q", msg.JobID)
	}

	driven, err := r.dispatcher.DispatchDue(ctx)
	if err != nil {
		r.metrics.IncCounter(ctx, "partners.retry.sweep.errors", 1, nil)
		return fmt.Errorf("gojob: retry sweep: %w", err)
	}
	r.metrics.IncCounter(ctx, "partners.retry.sweep.driven", int64(driven), nil)
	return nil
}

// WorkerHook reports retry worker lifecycle events through the partner
// observability stack.
type WorkerHook struct {
	logger  core.Logger
	metrics core.MetricsRecorder
}

func NewWorkerHook(logger core.Logger, metrics core.MetricsRecorder) *WorkerHook {
	if metrics == nil {
		metrics = core.NopMetricsRecorder{}
	}
	return &WorkerHook{logger: logger, metrics: metrics}
}

func (h *WorkerHook) OnStart(ctx context.Context, event worker.Event) {
	if h == nil {
		return
	}
	h.metrics.IncCounter(ctx, "partners.retry.worker.started", 1, eventTags(event))
}

func (h *WorkerHook) OnSuccess(ctx context.Context, event worker.Event) {
	if h == nil {
		return
	}
	h.metrics.IncCounter(ctx, "partners.retry.worker.succeeded", 1, eventTags(event))
	h.metrics.ObserveHistogram(ctx, "partners.retry.worker.duration_ms", float64(event.Duration.Milliseconds()), eventTags(event))
}

func (h *WorkerHook) OnFailure(ctx context.Context, event worker.Event) {
	if h == nil {
		return
	}
	h.metrics.IncCounter(ctx, "partners.retry.worker.failed", 1, eventTags(event))
	h.logEvent(ctx, event, "webhook retry worker failed")
}

func (h *WorkerHook) OnRetry(ctx context.Context, event worker.Event) {
	if h == nil {
		return
	}
	h.metrics.IncCounter(ctx, "partners.retry.worker.retried", 1, eventTags(event))
	h.logEvent(ctx, event, "webhook retry worker retrying")
}

func (h *WorkerHook) logEvent(ctx context.Context, event worker.Event, message string) {
	if h.logger == nil {
		return
	}
	logger := h.logger.WithContext(ctx)
	if fieldsLogger, ok := logger.(core.FieldsLogger); ok {
		fields := map[string]any{
			"job_id":  eventJobID(event),
			"attempt": event.Attempt,
		}
		if event.Err != nil {
			fields["error"] = event.Err.Error()
		}
		logger = fieldsLogger.WithFields(core.RedactSensitiveMap(fields))
	}
	logger.Warn(message)
}

func eventTags(event worker.Event) map[string]string {
	return map[string]string{"job_id": eventJobID(event)}
}

func eventJobID(event worker.Event) string {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	if message == nil {
		return ""
	}
	return strings.TrimSpace(message.JobID)
}

var _ worker.Hook = (*WorkerHook)(nil)
