package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goliatone/go-partners/core"
	"github.com/goliatone/go-partners/ledger"
	"github.com/goliatone/go-partners/signature"
	"github.com/google/uuid"
)

// PartnerDirectory is the slice of the registry the dispatcher needs.
type PartnerDirectory interface {
	Get(ctx context.Context, id string) (core.Partner, error)
	ListSubscribed(ctx context.Context, eventType string) ([]core.Partner, error)
	Secret(ctx context.Context, id string) (string, error)
	RecordDeliveryOutcome(ctx context.Context, id string, success bool) (core.Partner, error)
}

// AttemptLedger records delivery attempts. One logical record per partner
// per dispatch; retries update it, the final outcome closes it.
type AttemptLedger interface {
	Append(ctx context.Context, in ledger.AppendInput) (core.WebhookLog, error)
	MarkRetrying(ctx context.Context, id string, retryCount int, errorMessage string) error
	Close(ctx context.Context, id string, in ledger.CloseInput) error
}

type PayloadSigner interface {
	Sign(payload []byte, secret string) (core.SignedEnvelope, error)
}

// Dispatcher fans a business event out to every subscribed active partner.
// Deliveries run in parallel with full isolation; within one partner the
// retry ladder is strictly sequential.
type Dispatcher struct {
	partners PartnerDirectory
	logs     AttemptLedger
	signer   PayloadSigner
	sender   Sender
	policy   RetryPolicy
	queue    core.RetryQueueStore
	emitter  core.DeliveryEventEmitter
	logger   core.Logger
	metrics  core.MetricsRecorder

	attemptTimeout time.Duration

	Now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Dispatcher)

func WithSender(sender Sender) Option {
	return func(d *Dispatcher) {
		d.sender = sender
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		d.sender = NewHTTPSender(client)
	}
}

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(d *Dispatcher) {
		d.policy = policy
	}
}

// WithRetryQueue persists pending retries so the ladder survives process
// restarts. Without a queue, retries are in-process only.
func WithRetryQueue(queue core.RetryQueueStore) Option {
	return func(d *Dispatcher) {
		d.queue = queue
	}
}

func WithDeliveryEventEmitter(emitter core.DeliveryEventEmitter) Option {
	return func(d *Dispatcher) {
		d.emitter = emitter
	}
}

func WithSigner(signer PayloadSigner) Option {
	return func(d *Dispatcher) {
		d.signer = signer
	}
}

func WithLogger(logger core.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(d *Dispatcher) {
		d.metrics = recorder
	}
}

func WithAttemptTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.attemptTimeout = timeout
		}
	}
}

func NewDispatcher(partners PartnerDirectory, logs AttemptLedger, opts ...Option) (*Dispatcher, error) {
	if partners == nil {
		return nil, fmt.Errorf("dispatch: partner directory is required")
	}
	if logs == nil {
		return nil, fmt.Errorf("dispatch: attempt ledger is required")
	}
	dispatcher := &Dispatcher{
		partners:       partners,
		logs:           logs,
		signer:         signature.NewSigner(),
		sender:         NewHTTPSender(nil),
		policy:         DefaultRetryPolicy(),
		metrics:        core.NopMetricsRecorder{},
		attemptTimeout: core.DefaultConfig().DeliveryTimeout(),
		Now: func() time.Time {
			return time.Now().UTC()
		},
		sleep: sleepContext,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(dispatcher)
	}
	return dispatcher, nil
}

// DispatchEvent delivers event to every subscribed active partner. Fan-out
// is parallel; one partner's failure never affects another's delivery or
// the returned slice. The returned error covers only the subscription
// lookup, never individual deliveries.
func (d *Dispatcher) DispatchEvent(ctx context.Context, event core.Event) ([]core.DeliveryResult, error) {
	if d == nil {
		return nil, fmt.Errorf("dispatch: dispatcher is not configured")
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	partners, err := d.partners.ListSubscribed(ctx, event.Type)
	if err != nil {
		return nil, fmt.Errorf("dispatch: list subscribed partners: %w", err)
	}
	if len(partners) == 0 {
		return []core.DeliveryResult{}, nil
	}

	payload, err := d.encodePayload(event)
	if err != nil {
		return nil, err
	}

	results := make([]core.DeliveryResult, len(partners))
	var wg sync.WaitGroup
	for i, partner := range partners {
		wg.Add(1)
		go func(slot int, partner core.Partner) {
			defer wg.Done()
			results[slot] = d.deliver(ctx, partner, event, payload, 0)
		}(i, partner)
	}
	wg.Wait()

	return results, nil
}

// DispatchTest sends a synthetic ping event to a single partner without
// retries. Operators use it to validate a newly registered endpoint.
func (d *Dispatcher) DispatchTest(ctx context.Context, partnerID string) (core.DeliveryResult, error) {
	if d == nil {
		return core.DeliveryResult{}, fmt.Errorf("dispatch: dispatcher is not configured")
	}
	partner, err := d.partners.Get(ctx, partnerID)
	if err != nil {
		return core.DeliveryResult{}, err
	}
	if partner.Status != core.PartnerStatusActive {
		return core.DeliveryResult{}, fmt.Errorf("dispatch: partner %s is not active", partnerID)
	}

	event := core.Event{
		ID:   uuid.NewString(),
		Type: "webhook.test",
		Data: map[string]any{"message": "test delivery"},
	}
	payload, err := d.encodePayload(event)
	if err != nil {
		return core.DeliveryResult{}, err
	}

	result := core.DeliveryResult{
		PartnerID:   partner.ID,
		PartnerName: partner.Name,
		EventID:     event.ID,
		EventType:   event.Type,
	}
	log, logErr := d.logs.Append(ctx, ledger.AppendInput{
		PartnerID: partner.ID,
		Direction: core.DirectionOutgoing,
		EventType: event.Type,
		Payload:   payload,
	})
	if logErr == nil {
		result.LogID = log.ID
	}

	statusCode, responseBody, attemptErr := d.attempt(ctx, partner, payload)
	result.Attempts = 1
	result.StatusCode = statusCode
	result.Success = attemptErr == nil
	result.CompletedAt = d.now()
	if attemptErr != nil {
		result.Error = attemptErr.Error()
	}
	d.closeLog(ctx, result.LogID, result, responseBody)
	return result, nil
}

// deliver runs one partner's full retry ladder starting at firstAttempt
// (zero for a fresh dispatch, nonzero when resuming a persisted retry).
func (d *Dispatcher) deliver(ctx context.Context, partner core.Partner, event core.Event, payload []byte, firstAttempt int) core.DeliveryResult {
	result := core.DeliveryResult{
		PartnerID:   partner.ID,
		PartnerName: partner.Name,
		EventID:     event.ID,
		EventType:   event.Type,
	}

	log, err := d.logs.Append(ctx, ledger.AppendInput{
		PartnerID: partner.ID,
		Direction: core.DirectionOutgoing,
		EventType: event.Type,
		Payload:   payload,
	})
	if err != nil {
		d.logWarn(ctx, "webhook log append failed", map[string]any{
			"partner_id": partner.ID,
			"event_id":   event.ID,
			"error":      err.Error(),
		})
	} else {
		result.LogID = log.ID
	}

	maxRetries := d.policy.MaxRetries()
	var (
		taskID       string
		statusCode   int
		responseBody string
		attemptErr   error
		cancelled    bool
	)

	for attempt := firstAttempt; attempt <= maxRetries; attempt++ {
		statusCode, responseBody, attemptErr = d.attempt(ctx, partner, payload)
		result.Attempts = attempt + 1
		result.StatusCode = statusCode

		if attemptErr == nil {
			result.Success = true
			break
		}

		if attempt == maxRetries {
			break
		}

		retry := attempt + 1
		if err := d.logs.MarkRetrying(ctx, result.LogID, retry, attemptErr.Error()); err != nil && result.LogID != "" {
			d.logWarn(ctx, "webhook log retry update failed", map[string]any{
				"log_id": result.LogID,
				"error":  err.Error(),
			})
		}

		delay := d.policy.Backoff(retry)
		// The persisted task stays leased past the next attempt's window so
		// a polling scheduler cannot claim it while this ladder is live.
		taskID = d.parkRetry(ctx, taskID, partner, event, payload, retry, d.now().Add(d.retryLease(delay)))

		if err := d.sleep(ctx, delay); err != nil {
			attemptErr = fmt.Errorf("dispatch: delivery cancelled: %w", err)
			result.Attempts = attempt + 1
			cancelled = true
			break
		}
	}

	result.CompletedAt = d.now()
	if attemptErr != nil {
		result.Error = attemptErr.Error()
	}

	if cancelled && taskID != "" {
		// A cancelled ladder hands its persisted task to the scheduler once
		// the lease lapses; the resumed delivery records the final outcome.
		return result
	}

	d.finishRetryTask(ctx, taskID)
	d.closeLog(ctx, result.LogID, result, responseBody)
	d.recordOutcome(ctx, partner.ID, result.Success)
	d.observe(ctx, result)
	d.emit(ctx, result)
	return result
}

// attempt issues a single signed POST bounded by the per-attempt timeout.
// Any non-2xx status, transport failure, or timeout is a failed attempt.
func (d *Dispatcher) attempt(ctx context.Context, partner core.Partner, payload []byte) (int, string, error) {
	secret, err := d.partners.Secret(ctx, partner.ID)
	if err != nil {
		return 0, "", fmt.Errorf("dispatch: resolve partner secret: %w", err)
	}

	envelope, err := d.signer.Sign(payload, secret)
	if err != nil {
		return 0, "", fmt.Errorf("dispatch: sign payload: %w", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
	defer cancel()

	statusCode, responseBody, err := d.sender.Send(attemptCtx, partner.WebhookURL, envelope)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return statusCode, responseBody, fmt.Errorf("dispatch: delivery timed out after %s", d.attemptTimeout)
		}
		return statusCode, responseBody, err
	}
	if statusCode < 200 || statusCode > 299 {
		return statusCode, responseBody, fmt.Errorf("dispatch: endpoint returned status %d", statusCode)
	}
	return statusCode, responseBody, nil
}

// retryLeaseGrace pads the lease beyond the next attempt's timeout so a
// scheduler on a slightly skewed clock cannot reclaim a live ladder.
const retryLeaseGrace = 2 * time.Second

// retryLease is how long the in-process ladder keeps exclusive ownership of
// its persisted task: the backoff delay plus one full attempt window. The
// scheduler sees the task only after a ladder that never finished it.
func (d *Dispatcher) retryLease(delay time.Duration) time.Duration {
	return delay + d.attemptTimeout + retryLeaseGrace
}

// parkRetry persists the pending retry so a crash between attempts does not
// lose the ladder. Queue errors degrade to in-process retries only.
func (d *Dispatcher) parkRetry(ctx context.Context, taskID string, partner core.Partner, event core.Event, payload []byte, attempt int, notBefore time.Time) string {
	if d.queue == nil {
		return taskID
	}
	if taskID == "" {
		task, err := d.queue.Enqueue(ctx, core.RetryTask{
			ID:        uuid.NewString(),
			PartnerID: partner.ID,
			EventID:   event.ID,
			EventType: event.Type,
			Payload:   payload,
			Metadata:  event.Metadata,
			Attempt:   attempt,
			NotBefore: notBefore,
			CreatedAt: d.now(),
			UpdatedAt: d.now(),
		})
		if err != nil {
			d.logWarn(ctx, "retry task enqueue failed", map[string]any{
				"partner_id": partner.ID,
				"event_id":   event.ID,
				"error":      err.Error(),
			})
			return ""
		}
		return task.ID
	}
	if err := d.queue.Reschedule(ctx, taskID, attempt, notBefore); err != nil {
		d.logWarn(ctx, "retry task reschedule failed", map[string]any{
			"task_id": taskID,
			"error":   err.Error(),
		})
	}
	return taskID
}

func (d *Dispatcher) finishRetryTask(ctx context.Context, taskID string) {
	if d.queue == nil || taskID == "" {
		return
	}
	if err := d.queue.Complete(ctx, taskID); err != nil {
		d.logWarn(ctx, "retry task completion failed", map[string]any{
			"task_id": taskID,
			"error":   err.Error(),
		})
	}
}

func (d *Dispatcher) closeLog(ctx context.Context, logID string, result core.DeliveryResult, responseBody string) {
	if logID == "" {
		return
	}
	status := core.WebhookStatusFailed
	if result.Success {
		status = core.WebhookStatusSuccess
	}
	err := d.logs.Close(ctx, logID, ledger.CloseInput{
		Status:       status,
		StatusCode:   result.StatusCode,
		ResponseBody: responseBody,
		ErrorMessage: result.Error,
	})
	if err != nil {
		d.logWarn(ctx, "webhook log close failed", map[string]any{
			"log_id": logID,
			"error":  err.Error(),
		})
	}
}

// recordOutcome feeds exactly one registry outcome per delivery, success or
// failure. The counter math and auto-suspension live in the registry.
func (d *Dispatcher) recordOutcome(ctx context.Context, partnerID string, success bool) {
	if _, err := d.partners.RecordDeliveryOutcome(ctx, partnerID, success); err != nil {
		d.logWarn(ctx, "delivery outcome record failed", map[string]any{
			"partner_id": partnerID,
			"error":      err.Error(),
		})
	}
}

// emit is best effort. Emitter failures never alter the delivery result.
func (d *Dispatcher) emit(ctx context.Context, result core.DeliveryResult) {
	if d.emitter == nil {
		return
	}
	if err := d.emitter.EmitDeliveryStatus(ctx, result); err != nil {
		d.logWarn(ctx, "delivery status emission failed", map[string]any{
			"partner_id": result.PartnerID,
			"event_id":   result.EventID,
			"error":      err.Error(),
		})
	}
}

func (d *Dispatcher) observe(ctx context.Context, result core.DeliveryResult) {
	outcome := "failed"
	if result.Success {
		outcome = "success"
	}
	d.metrics.IncCounter(ctx, "partners.webhook.delivery", 1, map[string]string{
		"event_type": result.EventType,
		"outcome":    outcome,
	})
	d.metrics.ObserveHistogram(ctx, "partners.webhook.delivery_attempts", float64(result.Attempts), map[string]string{
		"event_type": result.EventType,
	})
}

// encodePayload freezes the outgoing body for the whole ladder; only the
// signature timestamp is fresh per attempt. Metadata always carries a
// correlation id so partners can dedupe re-deliveries.
func (d *Dispatcher) encodePayload(event core.Event) ([]byte, error) {
	metadata := make(map[string]any, len(event.Metadata)+1)
	for key, value := range event.Metadata {
		metadata[key] = value
	}
	if _, ok := metadata["correlation_id"]; !ok {
		metadata["correlation_id"] = event.ID
	}

	payload, err := json.Marshal(map[string]any{
		"event":     event.Type,
		"timestamp": d.now().Unix(),
		"data":      event.Data,
		"metadata":  metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch: encode event payload: %w", err)
	}
	return payload, nil
}

func (d *Dispatcher) logWarn(ctx context.Context, message string, fields map[string]any) {
	if d == nil || d.logger == nil {
		return
	}
	logger := d.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(core.FieldsLogger); ok {
		logger = fieldsLogger.WithFields(core.RedactSensitiveMap(fields))
	}
	logger.Warn(message)
}

func (d *Dispatcher) now() time.Time {
	if d != nil && d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
