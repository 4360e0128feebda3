package dispatch

import (
	"time"

	"github.com/goliatone/go-partners/core"
)

// RetryPolicy decides how many additional attempts follow a failed first
// delivery and how long to wait before each one.
type RetryPolicy interface {
	MaxRetries() int
	// Backoff returns the delay before retry number retry, 1-based. Values
	// past the ladder reuse the last rung.
	Backoff(retry int) time.Duration
}

type FixedBackoffPolicy struct {
	Retries int
	Ladder  []time.Duration
}

func NewFixedBackoffPolicy(retries int, ladder []time.Duration) FixedBackoffPolicy {
	return FixedBackoffPolicy{
		Retries: retries,
		Ladder:  append([]time.Duration(nil), ladder...),
	}
}

// DefaultRetryPolicy is one initial attempt plus three retries at 1s, 5s,
// and 15s.
func DefaultRetryPolicy() FixedBackoffPolicy {
	cfg := core.DefaultConfig()
	return NewFixedBackoffPolicy(cfg.Delivery.MaxRetries, cfg.BackoffLadder())
}

func (p FixedBackoffPolicy) MaxRetries() int {
	if p.Retries < 0 {
		return 0
	}
	return p.Retries
}

func (p FixedBackoffPolicy) Backoff(retry int) time.Duration {
	if len(p.Ladder) == 0 || retry <= 0 {
		return 0
	}
	if retry > len(p.Ladder) {
		return p.Ladder[len(p.Ladder)-1]
	}
	return p.Ladder[retry-1]
}

var _ RetryPolicy = FixedBackoffPolicy{}
