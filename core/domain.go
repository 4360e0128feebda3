package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	// AutoSuspendThreshold is the number of consecutive failed deliveries
	// after which a partner is forced into suspended.
	AutoSuspendThreshold = 5

	// EventTypeWildcard subscribes a partner to every event type.
	EventTypeWildcard = "*"
)

type PartnerStatus string

const (
	PartnerStatusActive    PartnerStatus = "active"
	PartnerStatusInactive  PartnerStatus = "inactive"
	PartnerStatusSuspended PartnerStatus = "suspended"
)

func (s PartnerStatus) Valid() bool {
	switch s {
	case PartnerStatusActive, PartnerStatusInactive, PartnerStatusSuspended:
		return true
	default:
		return false
	}
}

// partnerTransitions is the full set of legal operator-driven status
// transitions. Inactive partners must be reactivated before they can be
// suspended. Auto-suspension on the failure threshold is the single
// transition applied outside this table.
var partnerTransitions = map[PartnerStatus][]PartnerStatus{
	PartnerStatusActive:    {PartnerStatusInactive, PartnerStatusSuspended},
	PartnerStatusInactive:  {PartnerStatusActive},
	PartnerStatusSuspended: {PartnerStatusActive},
}

func CanTransition(from PartnerStatus, to PartnerStatus) bool {
	for _, allowed := range partnerTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

type Partner struct {
	ID                 string
	Name               string
	WebhookURL         string
	Secret             string
	SubscribedEvents   []string
	Status             PartnerStatus
	FailedWebhookCount int
	LastWebhookAt      *time.Time
	LastSuccessAt      *time.Time
	Metadata           map[string]any
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SubscribesTo reports whether the partner receives events of the given
// type. Matching is exact-string or the single global wildcard; there is no
// prefix or glob matching.
func (p Partner) SubscribesTo(eventType string) bool {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return false
	}
	for _, subscribed := range p.SubscribedEvents {
		subscribed = strings.TrimSpace(subscribed)
		if subscribed == EventTypeWildcard || subscribed == eventType {
			return true
		}
	}
	return false
}

// Sanitized returns a copy with the secret removed. Every read path outside
// of registration and secret regeneration returns sanitized partners.
func (p Partner) Sanitized() Partner {
	out := p
	out.Secret = ""
	out.SubscribedEvents = append([]string(nil), p.SubscribedEvents...)
	out.Metadata = copyAnyMap(p.Metadata)
	return out
}

func (p Partner) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("core: partner name is required")
	}
	url := strings.TrimSpace(p.WebhookURL)
	if url == "" {
		return fmt.Errorf("core: partner webhook url is required")
	}
	if !strings.HasPrefix(strings.ToLower(url), "https://") {
		return fmt.Errorf("core: partner webhook url must use https")
	}
	if len(p.SubscribedEvents) == 0 {
		return fmt.Errorf("core: partner must subscribe to at least one event type")
	}
	if !p.Status.Valid() {
		return fmt.Errorf("core: partner status %q is not valid", p.Status)
	}
	return nil
}

type WebhookDirection string

const (
	DirectionIncoming WebhookDirection = "incoming"
	DirectionOutgoing WebhookDirection = "outgoing"
)

type WebhookStatus string

const (
	WebhookStatusPending  WebhookStatus = "pending"
	WebhookStatusRetrying WebhookStatus = "retrying"
	WebhookStatusSuccess  WebhookStatus = "success"
	WebhookStatusFailed   WebhookStatus = "failed"
)

// Terminal reports whether a log record is closed. Terminal records are
// immutable except for audit reads.
func (s WebhookStatus) Terminal() bool {
	return s == WebhookStatusSuccess || s == WebhookStatusFailed
}

type WebhookLog struct {
	ID           string
	PartnerID    string
	Direction    WebhookDirection
	EventType    string
	Payload      []byte
	Status       WebhookStatus
	StatusCode   int
	ResponseBody string
	ErrorMessage string
	RetryCount   int
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

// Event is the normalized shape handed to the dispatcher. The dispatcher has
// no dependency on how events are sourced.
type Event struct {
	ID       string
	Type     string
	Data     map[string]any
	Metadata map[string]any
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.Type) == "" {
		return fmt.Errorf("core: event type is required")
	}
	return nil
}

// DeliveryResult is the per-partner outcome of one dispatch call.
type DeliveryResult struct {
	PartnerID   string
	PartnerName string
	EventID     string
	EventType   string
	Success     bool
	Attempts    int
	StatusCode  int
	Error       string
	LogID       string
	CompletedAt time.Time
}

// SignedEnvelope is the transient signature value produced per attempt. It
// is never persisted standalone; its payload is snapshotted into the log.
type SignedEnvelope struct {
	Payload   []byte
	Timestamp int64
	Signature string
}

// Header renders the envelope in wire form: t=<unix seconds>,v1=<hex hmac>.
func (e SignedEnvelope) Header() string {
	return fmt.Sprintf("t=%d,v1=%s", e.Timestamp, e.Signature)
}

// RetryTask is a persisted pending retry. Tasks survive process restarts and
// are re-driven by the dispatch scheduler once NotBefore passes.
type RetryTask struct {
	ID        string
	PartnerID string
	EventID   string
	EventType string
	Payload   []byte
	Metadata  map[string]any
	Attempt   int
	NotBefore time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func copyAnyMap(source map[string]any) map[string]any {
	if len(source) == 0 {
		return map[string]any{}
	}
	copied := make(map[string]any, len(source))
	for key, value := range source {
		copied[key] = value
	}
	return copied
}
