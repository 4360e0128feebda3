package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type partnerRecord struct {
	bun.BaseModel `bun:"table:partners,alias:p"`

	ID                 string         `bun:"id,pk"`
	Name               string         `bun:"name,notnull,unique"`
	WebhookURL         string         `bun:"webhook_url,notnull"`
	Secret             string         `bun:"secret,notnull"`
	SubscribedEvents   []string       `bun:"subscribed_events,type:jsonb,notnull"`
	Status             string         `bun:"status,notnull"`
	FailedWebhookCount int            `bun:"failed_webhook_count,notnull"`
	LastWebhookAt      *time.Time     `bun:"last_webhook_at,nullzero"`
	LastSuccessAt      *time.Time     `bun:"last_success_at,nullzero"`
	Metadata           map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt          time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt          time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type webhookLogRecord struct {
	bun.BaseModel `bun:"table:webhook_logs,alias:wl"`

	ID           string     `bun:"id,pk"`
	PartnerID    string     `bun:"partner_id,notnull"`
	Direction    string     `bun:"direction,notnull"`
	EventType    string     `bun:"event_type,notnull"`
	Payload      []byte     `bun:"payload"`
	Status       string     `bun:"status,notnull"`
	StatusCode   int        `bun:"status_code"`
	ResponseBody string     `bun:"response_body"`
	ErrorMessage string     `bun:"error_message"`
	RetryCount   int        `bun:"retry_count,notnull"`
	CreatedAt    time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	CompletedAt  *time.Time `bun:"completed_at,nullzero"`
}

type webhookRetryRecord struct {
	bun.BaseModel `bun:"table:webhook_retry_tasks,alias:wrt"`

	ID        string         `bun:"id,pk"`
	PartnerID string         `bun:"partner_id,notnull"`
	EventID   string         `bun:"event_id,notnull"`
	EventType string         `bun:"event_type,notnull"`
	Payload   []byte         `bun:"payload"`
	Metadata  map[string]any `bun:"metadata,type:jsonb,notnull"`
	Attempt   int            `bun:"attempt,notnull"`
	Claimed   bool           `bun:"claimed,notnull"`
	NotBefore time.Time      `bun:"not_before,notnull"`
	CreatedAt time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func copyAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
