package query

import (
	"context"

	"github.com/goliatone/go-partners/core"
)

// PartnerReader is the slice of the registry the query handlers need. Every
// partner it returns is sanitized; secrets never cross this boundary.
type PartnerReader interface {
	Get(ctx context.Context, id string) (core.Partner, error)
	GetByName(ctx context.Context, name string) (core.Partner, error)
	List(ctx context.Context) ([]core.Partner, error)
	ListByStatus(ctx context.Context, status core.PartnerStatus) ([]core.Partner, error)
	ListSubscribed(ctx context.Context, eventType string) ([]core.Partner, error)
}

// LedgerReader is the audit read path over webhook logs.
type LedgerReader interface {
	Query(ctx context.Context, filter core.WebhookLogFilter) ([]core.WebhookLog, error)
}

type GetPartnerQuery struct {
	reader PartnerReader
}

func NewGetPartnerQuery(reader PartnerReader) *GetPartnerQuery {
	return &GetPartnerQuery{reader: reader}
}

func (q *GetPartnerQuery) Query(ctx context.Context, msg GetPartnerMessage) (core.Partner, error) {
	if q == nil || q.reader == nil {
		return core.Partner{}, queryDependencyError("query: partner reader is required")
	}
	return q.reader.Get(ctx, msg.PartnerID)
}

type GetPartnerByNameQuery struct {
	reader PartnerReader
}

func NewGetPartnerByNameQuery(reader PartnerReader) *GetPartnerByNameQuery {
	return &GetPartnerByNameQuery{reader: reader}
}

func (q *GetPartnerByNameQuery) Query(ctx context.Context, msg GetPartnerByNameMessage) (core.Partner, error) {
	if q == nil || q.reader == nil {
		return core.Partner{}, queryDependencyError("query: partner reader is required")
	}
	return q.reader.GetByName(ctx, msg.Name)
}

type ListPartnersQuery struct {
	reader PartnerReader
}

func NewListPartnersQuery(reader PartnerReader) *ListPartnersQuery {
	return &ListPartnersQuery{reader: reader}
}

func (q *ListPartnersQuery) Query(ctx context.Context, msg ListPartnersMessage) ([]core.Partner, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: partner reader is required")
	}
	if msg.Status == "" {
		return q.reader.List(ctx)
	}
	return q.reader.ListByStatus(ctx, msg.Status)
}

type ListSubscribedQuery struct {
	reader PartnerReader
}

func NewListSubscribedQuery(reader PartnerReader) *ListSubscribedQuery {
	return &ListSubscribedQuery{reader: reader}
}

func (q *ListSubscribedQuery) Query(ctx context.Context, msg ListSubscribedMessage) ([]core.Partner, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: partner reader is required")
	}
	return q.reader.ListSubscribed(ctx, msg.EventType)
}

type ListWebhookLogsQuery struct {
	reader LedgerReader
}

func NewListWebhookLogsQuery(reader LedgerReader) *ListWebhookLogsQuery {
	return &ListWebhookLogsQuery{reader: reader}
}

func (q *ListWebhookLogsQuery) Query(ctx context.Context, msg ListWebhookLogsMessage) ([]core.WebhookLog, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: ledger reader is required")
	}
	return q.reader.Query(ctx, msg.Filter)
}
