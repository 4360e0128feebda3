package ledger

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-partners/core"
	"github.com/google/uuid"
)

// Service is the append-only audit ledger of webhook attempts, incoming and
// outgoing. Records close into success or failed and never mutate again.
type Service struct {
	store core.WebhookLogStore
	Now   func() time.Time
}

func NewService(store core.WebhookLogStore) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger: webhook log store is required")
	}
	return &Service{
		store: store,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

type AppendInput struct {
	PartnerID string
	Direction core.WebhookDirection
	EventType string
	Payload   []byte
}

// Append opens a new pending log record for one logical attempt.
func (s *Service) Append(ctx context.Context, in AppendInput) (core.WebhookLog, error) {
	if s == nil || s.store == nil {
		return core.WebhookLog{}, ledgerInternal("ledger: service is not configured")
	}
	if strings.TrimSpace(in.PartnerID) == "" {
		return core.WebhookLog{}, ledgerBadInput("ledger: partner id is required")
	}
	if in.Direction != core.DirectionIncoming && in.Direction != core.DirectionOutgoing {
		return core.WebhookLog{}, ledgerBadInput(fmt.Sprintf("ledger: direction %q is not valid", in.Direction))
	}
	if strings.TrimSpace(in.EventType) == "" {
		return core.WebhookLog{}, ledgerBadInput("ledger: event type is required")
	}
	log := core.WebhookLog{
		ID:        uuid.NewString(),
		PartnerID: strings.TrimSpace(in.PartnerID),
		Direction: in.Direction,
		EventType: strings.TrimSpace(in.EventType),
		Payload:   append([]byte(nil), in.Payload...),
		Status:    core.WebhookStatusPending,
		CreatedAt: s.now(),
	}
	appended, err := s.store.Append(ctx, log)
	if err != nil {
		return core.WebhookLog{}, ledgerWrap(err, "ledger: append webhook log")
	}
	return appended, nil
}

// MarkRetrying moves the record into the retrying state and bumps its retry
// count. Rejected once the record is terminal.
func (s *Service) MarkRetrying(ctx context.Context, id string, retryCount int, errorMessage string) error {
	if s == nil || s.store == nil {
		return ledgerInternal("ledger: service is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return ledgerBadInput("ledger: log id is required")
	}
	if retryCount < 1 {
		return ledgerBadInput("ledger: retry count must be positive")
	}
	if err := s.store.MarkRetrying(ctx, strings.TrimSpace(id), retryCount, errorMessage); err != nil {
		return ledgerWrap(err, "ledger: mark webhook log retrying")
	}
	return nil
}

type CloseInput struct {
	Status       core.WebhookStatus
	StatusCode   int
	ResponseBody string
	ErrorMessage string
}

// Close finalizes the record into a terminal status.
func (s *Service) Close(ctx context.Context, id string, in CloseInput) error {
	if s == nil || s.store == nil {
		return ledgerInternal("ledger: service is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return ledgerBadInput("ledger: log id is required")
	}
	if !in.Status.Terminal() {
		return ledgerBadInput(fmt.Sprintf("ledger: status %q is not terminal", in.Status))
	}
	err := s.store.Close(
		ctx,
		strings.TrimSpace(id),
		in.Status,
		in.StatusCode,
		in.ResponseBody,
		in.ErrorMessage,
		s.now(),
	)
	if err != nil {
		return ledgerWrap(err, "ledger: close webhook log")
	}
	return nil
}

// Query is the audit read path; it never mutates.
func (s *Service) Query(ctx context.Context, filter core.WebhookLogFilter) ([]core.WebhookLog, error) {
	if s == nil || s.store == nil {
		return nil, ledgerInternal("ledger: service is not configured")
	}
	logs, err := s.store.Query(ctx, filter)
	if err != nil {
		return nil, ledgerWrap(err, "ledger: query webhook logs")
	}
	return logs, nil
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func ledgerBadInput(message string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.PartnersErrorBadInput)
}

func ledgerInternal(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.PartnersErrorInternal)
}

func ledgerWrap(source error, message string) error {
	return goerrors.Wrap(source, goerrors.CategoryOperation, message).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.PartnersErrorInternal)
}
