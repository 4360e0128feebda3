package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-partners/core"
	"github.com/goliatone/go-partners/signature"
	"github.com/google/uuid"
)

// SecretGenerator is the slice of the signer the registry needs.
type SecretGenerator interface {
	GenerateSecret() (string, error)
}

type Service struct {
	store      core.PartnerStore
	secrets    SecretGenerator
	cipher     core.SecretProvider
	logger     core.Logger
	metrics    core.MetricsRecorder
	Now        func() time.Time
}

type Option func(*Service)

func WithLogger(logger core.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(s *Service) {
		s.metrics = recorder
	}
}

// WithSecretProvider enables envelope encryption of partner secrets at
// rest. Without one, secrets are stored as generated.
func WithSecretProvider(provider core.SecretProvider) Option {
	return func(s *Service) {
		s.cipher = provider
	}
}

func NewService(store core.PartnerStore, secrets SecretGenerator, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("registry: partner store is required")
	}
	if secrets == nil {
		secrets = signature.NewSigner()
	}
	service := &Service{
		store:   store,
		secrets: secrets,
		metrics: core.NopMetricsRecorder{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(service)
	}
	return service, nil
}

type RegisterInput struct {
	Name             string
	WebhookURL       string
	SubscribedEvents []string
	Metadata         map[string]any
}

// Register creates a partner and returns it together with the plaintext
// secret. The secret is returned exactly once; subsequent reads sanitize
// it away.
func (s *Service) Register(ctx context.Context, in RegisterInput) (core.Partner, string, error) {
	if s == nil || s.store == nil {
		return core.Partner{}, "", registryInternal("registry: service is not configured", nil)
	}
	name := strings.TrimSpace(in.Name)
	partner := core.Partner{
		ID:               uuid.NewString(),
		Name:             name,
		WebhookURL:       strings.TrimSpace(in.WebhookURL),
		SubscribedEvents: normalizeEvents(in.SubscribedEvents),
		Status:           core.PartnerStatusActive,
		Metadata:         in.Metadata,
	}
	if err := partner.Validate(); err != nil {
		return core.Partner{}, "", registryBadInput(err.Error(), map[string]any{"partner_name": name})
	}

	if existing, err := s.store.GetByName(ctx, name); err == nil && existing.ID != "" {
		return core.Partner{}, "", duplicateNameError(name)
	}

	secret, err := s.secrets.GenerateSecret()
	if err != nil {
		return core.Partner{}, "", registryInternal("registry: secret generation failed", map[string]any{"partner_name": name})
	}
	stored, err := s.sealSecret(ctx, secret)
	if err != nil {
		return core.Partner{}, "", err
	}
	partner.Secret = stored
	now := s.now()
	partner.CreatedAt = now
	partner.UpdatedAt = now

	created, err := s.store.Create(ctx, partner)
	if err != nil {
		if isDuplicate(err) {
			return core.Partner{}, "", duplicateNameError(name)
		}
		return core.Partner{}, "", registryWrap(err, "registry: create partner", map[string]any{"partner_name": name})
	}
	s.observe(ctx, "register", created.ID, nil)
	return created.Sanitized(), secret, nil
}

type UpdateInput struct {
	Name             *string
	WebhookURL       *string
	SubscribedEvents []string
	Metadata         map[string]any
}

func (s *Service) Update(ctx context.Context, id string, patch UpdateInput) (core.Partner, error) {
	partner, err := s.load(ctx, id)
	if err != nil {
		return core.Partner{}, err
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name != partner.Name {
			if existing, lookupErr := s.store.GetByName(ctx, name); lookupErr == nil && existing.ID != "" && existing.ID != partner.ID {
				return core.Partner{}, duplicateNameError(name)
			}
			partner.Name = name
		}
	}
	if patch.WebhookURL != nil {
		partner.WebhookURL = strings.TrimSpace(*patch.WebhookURL)
	}
	if patch.SubscribedEvents != nil {
		partner.SubscribedEvents = normalizeEvents(patch.SubscribedEvents)
	}
	if patch.Metadata != nil {
		partner.Metadata = patch.Metadata
	}
	if err := partner.Validate(); err != nil {
		return core.Partner{}, registryBadInput(err.Error(), map[string]any{"partner_id": id})
	}
	partner.UpdatedAt = s.now()

	updated, err := s.store.Update(ctx, partner)
	if err != nil {
		if isDuplicate(err) {
			return core.Partner{}, duplicateNameError(partner.Name)
		}
		return core.Partner{}, registryWrap(err, "registry: update partner", map[string]any{"partner_id": id})
	}
	s.observe(ctx, "update", id, nil)
	return updated.Sanitized(), nil
}

func (s *Service) Get(ctx context.Context, id string) (core.Partner, error) {
	partner, err := s.load(ctx, id)
	if err != nil {
		return core.Partner{}, err
	}
	return partner.Sanitized(), nil
}

func (s *Service) GetByName(ctx context.Context, name string) (core.Partner, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Partner{}, registryBadInput("registry: partner name is required", nil)
	}
	partner, err := s.store.GetByName(ctx, name)
	if err != nil {
		if isNotFound(err) {
			return core.Partner{}, notFoundError(name)
		}
		return core.Partner{}, registryWrap(err, "registry: load partner by name", map[string]any{"partner_name": name})
	}
	return partner.Sanitized(), nil
}

func (s *Service) List(ctx context.Context) ([]core.Partner, error) {
	partners, err := s.store.List(ctx)
	if err != nil {
		return nil, registryWrap(err, "registry: list partners", nil)
	}
	return sanitizeAll(partners), nil
}

func (s *Service) ListByStatus(ctx context.Context, status core.PartnerStatus) ([]core.Partner, error) {
	partners, err := s.store.ListByStatus(ctx, status)
	if err != nil {
		return nil, registryWrap(err, "registry: list partners by status", map[string]any{"status": string(status)})
	}
	return sanitizeAll(partners), nil
}

func (s *Service) ListActive(ctx context.Context) ([]core.Partner, error) {
	partners, err := s.store.ListByStatus(ctx, core.PartnerStatusActive)
	if err != nil {
		return nil, registryWrap(err, "registry: list active partners", nil)
	}
	return sanitizeAll(partners), nil
}

// ListSubscribed returns active partners subscribed to eventType, either
// verbatim or through the wildcard.
func (s *Service) ListSubscribed(ctx context.Context, eventType string) ([]core.Partner, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return nil, registryBadInput("registry: event type is required", nil)
	}
	active, err := s.store.ListByStatus(ctx, core.PartnerStatusActive)
	if err != nil {
		return nil, registryWrap(err, "registry: list subscribed partners", map[string]any{"event_type": eventType})
	}
	matched := make([]core.Partner, 0, len(active))
	for _, partner := range active {
		if partner.SubscribesTo(eventType) {
			matched = append(matched, partner.Sanitized())
		}
	}
	return matched, nil
}

// RegenerateSecret replaces the partner secret and returns the new value
// exactly once. The old secret stops verifying in the same write.
func (s *Service) RegenerateSecret(ctx context.Context, id string) (string, error) {
	if _, err := s.load(ctx, id); err != nil {
		return "", err
	}
	secret, err := s.secrets.GenerateSecret()
	if err != nil {
		return "", registryInternal("registry: secret generation failed", map[string]any{"partner_id": id})
	}
	stored, err := s.sealSecret(ctx, secret)
	if err != nil {
		return "", err
	}
	if err := s.store.UpdateSecret(ctx, id, stored); err != nil {
		return "", registryWrap(err, "registry: rotate partner secret", map[string]any{"partner_id": id})
	}
	s.observe(ctx, "regenerate_secret", id, nil)
	return secret, nil
}

// Secret resolves the plaintext signing secret for internal use by the
// dispatcher and verifier. Never exposed through the management surface.
func (s *Service) Secret(ctx context.Context, id string) (string, error) {
	partner, err := s.load(ctx, id)
	if err != nil {
		return "", err
	}
	return s.openSecret(ctx, partner.Secret)
}

func (s *Service) Activate(ctx context.Context, id string) (core.Partner, error) {
	return s.transition(ctx, id, core.PartnerStatusActive)
}

func (s *Service) Deactivate(ctx context.Context, id string) (core.Partner, error) {
	return s.transition(ctx, id, core.PartnerStatusInactive)
}

func (s *Service) Suspend(ctx context.Context, id string) (core.Partner, error) {
	return s.transition(ctx, id, core.PartnerStatusSuspended)
}

func (s *Service) transition(ctx context.Context, id string, to core.PartnerStatus) (core.Partner, error) {
	partner, err := s.load(ctx, id)
	if err != nil {
		return core.Partner{}, err
	}
	if !core.CanTransition(partner.Status, to) {
		return core.Partner{}, invalidTransitionError(partner.Status, to, id)
	}
	// Reactivation clears the consecutive-failure counter so a previously
	// suspended partner gets a clean health slate.
	resetFailures := to == core.PartnerStatusActive
	updated, err := s.store.SetStatus(ctx, id, to, resetFailures)
	if err != nil {
		return core.Partner{}, registryWrap(err, "registry: set partner status", map[string]any{
			"partner_id": id,
			"status":     string(to),
		})
	}
	s.observe(ctx, "transition_"+string(to), id, nil)
	return updated.Sanitized(), nil
}

// RecordDeliveryOutcome feeds one final dispatch outcome into the partner's
// health counters. Success resets the counter; failure increments it and
// auto-suspends at the threshold regardless of current status. This is the
// only automatic status transition.
func (s *Service) RecordDeliveryOutcome(ctx context.Context, id string, success bool) (core.Partner, error) {
	if s == nil || s.store == nil {
		return core.Partner{}, registryInternal("registry: service is not configured", nil)
	}
	updated, err := s.store.RecordOutcome(ctx, id, success, s.now(), core.AutoSuspendThreshold)
	if err != nil {
		if isNotFound(err) {
			return core.Partner{}, notFoundError(id)
		}
		return core.Partner{}, registryWrap(err, "registry: record delivery outcome", map[string]any{"partner_id": id})
	}
	if updated.Status == core.PartnerStatusSuspended && !success {
		s.logWarn(ctx, "partner auto-suspended after consecutive delivery failures", map[string]any{
			"partner_id":    id,
			"failure_count": updated.FailedWebhookCount,
		})
	}
	return updated.Sanitized(), nil
}

func (s *Service) load(ctx context.Context, id string) (core.Partner, error) {
	if s == nil || s.store == nil {
		return core.Partner{}, registryInternal("registry: service is not configured", nil)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.Partner{}, registryBadInput("registry: partner id is required", nil)
	}
	partner, err := s.store.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return core.Partner{}, notFoundError(id)
		}
		return core.Partner{}, registryWrap(err, "registry: load partner", map[string]any{"partner_id": id})
	}
	return partner, nil
}

func (s *Service) sealSecret(ctx context.Context, secret string) (string, error) {
	if s.cipher == nil {
		return secret, nil
	}
	sealed, err := s.cipher.Encrypt(ctx, []byte(secret))
	if err != nil {
		return "", registryInternal("registry: secret encryption failed", nil)
	}
	return string(sealed), nil
}

// openSecret tolerates plaintext values written before encryption was
// enabled; the provider reports those with core.ErrNotSealed and they
// decrypt to themselves. Every other decrypt failure is genuine.
func (s *Service) openSecret(ctx context.Context, stored string) (string, error) {
	if s.cipher == nil {
		return stored, nil
	}
	opened, err := s.cipher.Decrypt(ctx, []byte(stored))
	if err != nil {
		if errors.Is(err, core.ErrNotSealed) {
			return stored, nil
		}
		return "", registryInternal("registry: secret decryption failed", nil)
	}
	return string(opened), nil
}

func (s *Service) observe(ctx context.Context, operation string, partnerID string, tags map[string]string) {
	if s == nil || s.metrics == nil {
		return
	}
	merged := map[string]string{"operation": operation}
	if strings.TrimSpace(partnerID) != "" {
		merged["partner_id"] = partnerID
	}
	for key, value := range tags {
		merged[key] = value
	}
	s.metrics.IncCounter(ctx, "partners.registry."+operation+".total", 1, merged)
}

func (s *Service) logWarn(ctx context.Context, message string, fields map[string]any) {
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

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func normalizeEvents(events []string) []string {
	out := make([]string, 0, len(events))
	seen := map[string]struct{}{}
	for _, event := range events {
		event = strings.TrimSpace(event)
		if event == "" {
			continue
		}
		if _, exists := seen[event]; exists {
			continue
		}
		seen[event] = struct{}{}
		out = append(out, event)
	}
	return out
}

func sanitizeAll(partners []core.Partner) []core.Partner {
	out := make([]core.Partner, 0, len(partners))
	for _, partner := range partners {
		out = append(out, partner.Sanitized())
	}
	return out
}
