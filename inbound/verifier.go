package inbound

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-partners/core"
	"github.com/goliatone/go-partners/ledger"
	"github.com/goliatone/go-partners/signature"
)

// PartnerSource is the slice of the registry the verifier needs.
type PartnerSource interface {
	Get(ctx context.Context, id string) (core.Partner, error)
	Secret(ctx context.Context, id string) (string, error)
}

// SignatureVerifier checks a signature header against the raw body.
type SignatureVerifier interface {
	Verify(header string, rawPayload []byte, secret string) error
}

// CallLedger records incoming webhook calls.
type CallLedger interface {
	Append(ctx context.Context, in ledger.AppendInput) (core.WebhookLog, error)
	Close(ctx context.Context, id string, in ledger.CloseInput) error
}

// Handler processes one verified incoming event. A returned error marks the
// call failed in the ledger without leaking into the transport response.
type Handler func(ctx context.Context, event IncomingEvent) error

// IncomingEvent is the parsed body of a verified partner call.
type IncomingEvent struct {
	PartnerID string
	Type      string
	Data      map[string]any
	Raw       []byte
}

// Request carries an unverified partner call. The raw body is the exact
// bytes the signature covers; no re-serialization.
type Request struct {
	PartnerID string
	Signature string
	Body      []byte
}

// Result reports how the call was handled once verification passed.
type Result struct {
	Success   bool
	Message   string
	EventType string
	LogID     string
}

const (
	unknownEventMessage = "acknowledged but not processed"
	defaultReplayWindow = 5 * time.Minute
)

// Verifier authenticates partner-originated webhook calls and routes them to
// per-event-type handlers. Verification failures reject before the body is
// interpreted.
type Verifier struct {
	partners PartnerSource
	signer   SignatureVerifier
	logs     CallLedger
	replays  core.ReplayLedger
	logger   core.Logger
	metrics  core.MetricsRecorder

	replayWindow time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler
}

type Option func(*Verifier)

func WithSignatureVerifier(signer SignatureVerifier) Option {
	return func(v *Verifier) {
		v.signer = signer
	}
}

// WithReplayLedger rejects a second presentation of the same valid
// signature inside the verification window.
func WithReplayLedger(replays core.ReplayLedger) Option {
	return func(v *Verifier) {
		v.replays = replays
	}
}

func WithReplayWindow(window time.Duration) Option {
	return func(v *Verifier) {
		if window > 0 {
			v.replayWindow = window
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(v *Verifier) {
		v.logger = logger
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(v *Verifier) {
		v.metrics = recorder
	}
}

func NewVerifier(partners PartnerSource, logs CallLedger, opts ...Option) (*Verifier, error) {
	if partners == nil {
		return nil, fmt.Errorf("inbound: partner source is required")
	}
	if logs == nil {
		return nil, fmt.Errorf("inbound: call ledger is required")
	}
	verifier := &Verifier{
		partners:     partners,
		logs:         logs,
		signer:       signature.NewSigner(),
		replays:      core.NewMemoryReplayLedger(defaultReplayWindow),
		metrics:      core.NopMetricsRecorder{},
		replayWindow: defaultReplayWindow,
		handlers:     make(map[string]Handler),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(verifier)
	}
	return verifier, nil
}

// Register installs the handler for one event type. Registering the same
// type twice replaces the previous handler.
func (v *Verifier) Register(eventType string, handler Handler) error {
	if v == nil {
		return fmt.Errorf("inbound: verifier is not configured")
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return fmt.Errorf("inbound: event type is required")
	}
	if handler == nil {
		return fmt.Errorf("inbound: handler is required")
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.handlers[eventType] = handler
	return nil
}

// ProcessIncoming authenticates and routes one partner call. Unknown or
// inactive partners are rejected before the body is touched; signature
// failures are logged with the specific reason and rejected without
// echoing secret material. Unknown event types acknowledge successfully so
// partners can add event types before this side learns to handle them.
func (v *Verifier) ProcessIncoming(ctx context.Context, req Request) (Result, error) {
	if v == nil || v.partners == nil {
		return Result{}, errInternal("inbound: verifier is not configured")
	}

	partner, err := v.partners.Get(ctx, req.PartnerID)
	if err != nil {
		v.observe(ctx, "rejected", "partner_not_found")
		return Result{}, errPartnerNotFound(req.PartnerID)
	}
	if partner.Status != core.PartnerStatusActive {
		v.observe(ctx, "rejected", "partner_not_active")
		return Result{}, errPartnerNotActive(partner.ID, partner.Status)
	}

	secret, err := v.partners.Secret(ctx, partner.ID)
	if err != nil {
		return Result{}, errInternal("inbound: resolve partner secret")
	}

	if err := v.signer.Verify(req.Signature, req.Body, secret); err != nil {
		reason := signature.ReasonOf(err)
		v.logRejection(ctx, partner.ID, req.Body, rejectionMessage(reason))
		v.observe(ctx, "rejected", string(reason))
		return Result{}, errSignature(reason)
	}

	if v.replays != nil {
		claimed, claimErr := v.replays.Claim(ctx, replayKey(partner.ID, req.Signature), v.replayWindow)
		if claimErr != nil {
			return Result{}, errInternal("inbound: replay ledger claim")
		}
		if !claimed {
			v.logRejection(ctx, partner.ID, req.Body, "signature replayed")
			v.observe(ctx, "rejected", "replay")
			return Result{}, errReplay()
		}
	}

	event, err := parseEvent(partner.ID, req.Body)
	if err != nil {
		v.logRejection(ctx, partner.ID, req.Body, err.Error())
		v.observe(ctx, "rejected", "malformed_body")
		return Result{}, errMalformedBody(err)
	}

	log, logErr := v.logs.Append(ctx, ledger.AppendInput{
		PartnerID: partner.ID,
		Direction: core.DirectionIncoming,
		EventType: event.Type,
		Payload:   req.Body,
	})
	if logErr != nil {
		v.logWarn(ctx, "incoming webhook log append failed", map[string]any{
			"partner_id": partner.ID,
			"event_type": event.Type,
			"error":      logErr.Error(),
		})
	}

	result := Result{EventType: event.Type, LogID: log.ID}

	handler := v.handlerFor(event.Type)
	if handler == nil {
		result.Success = true
		result.Message = unknownEventMessage
		v.closeLog(ctx, log.ID, core.WebhookStatusSuccess, result.Message)
		v.observe(ctx, "acknowledged", event.Type)
		return result, nil
	}

	if err := handler(ctx, event); err != nil {
		result.Success = false
		result.Message = err.Error()
		v.closeLog(ctx, log.ID, core.WebhookStatusFailed, result.Message)
		v.observe(ctx, "handler_failed", event.Type)
		return result, nil
	}

	result.Success = true
	result.Message = "processed"
	v.closeLog(ctx, log.ID, core.WebhookStatusSuccess, "")
	v.observe(ctx, "processed", event.Type)
	return result, nil
}

func (v *Verifier) handlerFor(eventType string) Handler {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.handlers[eventType]
}

// logRejection records the failed call so support can audit why a partner
// was turned away. Ledger errors never mask the rejection itself.
func (v *Verifier) logRejection(ctx context.Context, partnerID string, body []byte, message string) {
	eventType := "unknown"
	if parsed, err := parseEvent(partnerID, body); err == nil && parsed.Type != "" {
		eventType = parsed.Type
	}
	log, err := v.logs.Append(ctx, ledger.AppendInput{
		PartnerID: partnerID,
		Direction: core.DirectionIncoming,
		EventType: eventType,
		Payload:   body,
	})
	if err != nil {
		return
	}
	v.closeLog(ctx, log.ID, core.WebhookStatusFailed, message)
}

func (v *Verifier) closeLog(ctx context.Context, logID string, status core.WebhookStatus, errorMessage string) {
	if logID == "" {
		return
	}
	err := v.logs.Close(ctx, logID, ledger.CloseInput{
		Status:       status,
		ErrorMessage: errorMessage,
	})
	if err != nil {
		v.logWarn(ctx, "incoming webhook log close failed", map[string]any{
			"log_id": logID,
			"error":  err.Error(),
		})
	}
}

func (v *Verifier) observe(ctx context.Context, outcome string, detail string) {
	v.metrics.IncCounter(ctx, "partners.webhook.incoming", 1, map[string]string{
		"outcome": outcome,
		"detail":  detail,
	})
}

func (v *Verifier) logWarn(ctx context.Context, message string, fields map[string]any) {
	if v == nil || v.logger == nil {
		return
	}
	logger := v.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(core.FieldsLogger); ok {
		logger = fieldsLogger.WithFields(core.RedactSensitiveMap(fields))
	}
	logger.Warn(message)
}

func parseEvent(partnerID string, body []byte) (IncomingEvent, error) {
	var envelope struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return IncomingEvent{}, fmt.Errorf("inbound: body is not valid JSON")
	}
	if strings.TrimSpace(envelope.Event) == "" {
		return IncomingEvent{}, fmt.Errorf("inbound: body carries no event type")
	}
	return IncomingEvent{
		PartnerID: partnerID,
		Type:      envelope.Event,
		Data:      envelope.Data,
		Raw:       body,
	}, nil
}

// replayKey hashes the signature so the ledger never stores raw signature
// material.
func replayKey(partnerID string, signatureHeader string) string {
	sum := sha256.Sum256([]byte(signatureHeader))
	return partnerID + ":" + hex.EncodeToString(sum[:])
}
