package core

import (
	"context"
	"errors"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// PartnerStore persists partners. Secrets cross this boundary encrypted;
// the registry owns plaintext handling.
type PartnerStore interface {
	Create(ctx context.Context, partner Partner) (Partner, error)
	Get(ctx context.Context, id string) (Partner, error)
	GetByName(ctx context.Context, name string) (Partner, error)
	List(ctx context.Context) ([]Partner, error)
	ListByStatus(ctx context.Context, status PartnerStatus) ([]Partner, error)
	Update(ctx context.Context, partner Partner) (Partner, error)
	UpdateSecret(ctx context.Context, id string, encryptedSecret string) error
	SetStatus(ctx context.Context, id string, status PartnerStatus, resetFailures bool) (Partner, error)

	// RecordOutcome applies a delivery outcome as an atomic increment or
	// reset, never a read-modify-write over a stale snapshot. When the
	// consecutive failure count reaches threshold the status is forced to
	// suspended in the same write.
	RecordOutcome(ctx context.Context, id string, success bool, at time.Time, threshold int) (Partner, error)
}

type WebhookLogFilter struct {
	PartnerID string
	Direction WebhookDirection
	Status    WebhookStatus
	Since     *time.Time
	Until     *time.Time
	Limit     int
}

// WebhookLogStore persists the delivery ledger. Terminal records are
// immutable; MarkRetrying and Close reject records already closed.
type WebhookLogStore interface {
	Append(ctx context.Context, log WebhookLog) (WebhookLog, error)
	MarkRetrying(ctx context.Context, id string, retryCount int, errorMessage string) error
	Close(ctx context.Context, id string, status WebhookStatus, statusCode int, responseBody string, errorMessage string, completedAt time.Time) error
	Query(ctx context.Context, filter WebhookLogFilter) ([]WebhookLog, error)
}

// RetryQueueStore holds pending delivery retries so the ladder survives
// process restarts.
type RetryQueueStore interface {
	Enqueue(ctx context.Context, task RetryTask) (RetryTask, error)
	// ClaimDue returns up to limit tasks whose NotBefore has passed and
	// removes them from the visible queue for the duration of processing.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]RetryTask, error)
	Complete(ctx context.Context, id string) error
	Reschedule(ctx context.Context, id string, attempt int, notBefore time.Time) error
}

type StoreProvider interface {
	PartnerStore() PartnerStore
	WebhookLogStore() WebhookLogStore
	RetryQueueStore() RetryQueueStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

// ReplayLedger tracks seen incoming signatures inside the verification
// window so a captured valid envelope cannot be replayed.
type ReplayLedger interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	PurgeExpired(ctx context.Context) (int, error)
}

// ErrNotSealed is returned by SecretProvider.Decrypt when the stored value
// carries no recognizable envelope. Callers treat such values as plaintext
// written before encryption was enabled; any other decrypt error is genuine.
var ErrNotSealed = errors.New("core: stored secret is not sealed")

// SecretProvider encrypts partner secrets at rest.
type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// DeliveryEventEmitter publishes delivery-status events for observers.
// Emission is best effort; dispatchers swallow emitter failures.
type DeliveryEventEmitter interface {
	EmitDeliveryStatus(ctx context.Context, result DeliveryResult) error
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
