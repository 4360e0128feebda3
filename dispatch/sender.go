package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/goliatone/go-partners/core"
)

const (
	headerSignature = "X-Webhook-Signature"
	headerTimestamp = "X-Webhook-Timestamp"
	headerAlgorithm = "X-Webhook-Algorithm"

	signatureAlgorithm = "HMAC-SHA256"
	defaultUserAgent   = "go-partners-webhook/1.0"

	maxResponseBytes = 64 << 10
)

// Sender performs one webhook POST. The caller owns the attempt deadline
// through ctx.
type Sender interface {
	Send(ctx context.Context, url string, envelope core.SignedEnvelope) (statusCode int, responseBody string, err error)
}

type HTTPSender struct {
	client    *http.Client
	userAgent string
}

func NewHTTPSender(client *http.Client) *HTTPSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSender{
		client:    client,
		userAgent: defaultUserAgent,
	}
}

func (s *HTTPSender) Send(ctx context.Context, url string, envelope core.SignedEnvelope) (int, string, error) {
	if s == nil || s.client == nil {
		return 0, "", fmt.Errorf("dispatch: http sender is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(envelope.Payload))
	if err != nil {
		return 0, "", fmt.Errorf("dispatch: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set(headerSignature, envelope.Header())
	req.Header.Set(headerTimestamp, strconv.FormatInt(envelope.Timestamp, 10))
	req.Header.Set(headerAlgorithm, signatureAlgorithm)

	res, err := s.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("dispatch: post webhook: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return res.StatusCode, "", fmt.Errorf("dispatch: read response: %w", err)
	}
	return res.StatusCode, string(body), nil
}

var _ Sender = (*HTTPSender)(nil)
