package control

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// Policy holds the timing limits of the bot loop.
type Policy struct {
	// CallTimeout bounds each external generation call.
	CallTimeout time.Duration
	// PollTimeout is the long-poll timeout passed to the update source.
	PollTimeout time.Duration
	// MaxBackoff caps the pause after consecutive poll failures.
	MaxBackoff time.Duration
}

// DefaultPolicy returns the limits used when configuration sets none.
func DefaultPolicy() Policy {
	return Policy{
		CallTimeout: 120 * time.Second,
		PollTimeout: 30 * time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// WithCallTimeout derives a context bounded by the policy's call timeout.
func (p Policy) WithCallTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	limit := p.CallTimeout
	if limit <= 0 {
		limit = DefaultPolicy().CallTimeout
	}
	return context.WithTimeout(ctx, limit)
}

// PollBackoff computes exponential backoff after consecutive poll
// failures, capped at MaxBackoff.
func (p Policy) PollBackoff(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	limit := p.MaxBackoff
	if limit <= 0 {
		limit = DefaultPolicy().MaxBackoff
	}
	if failures > 16 {
		return limit
	}
	d := time.Duration(1<<(failures-1)) * time.Second
	if d > limit {
		return limit
	}
	return d
}

// Error classes used by the circuit breaker.
const (
	ClassTimeout   = "poll_timeout"
	ClassTransport = "poll_transport"
	ClassAPI       = "poll_api"
	ClassCanceled  = "canceled"
)

// ClassifyError maps a poll error to a breaker class.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ClassTimeout
		}
		return ClassTransport
	}
	if strings.Contains(err.Error(), "request failed") {
		return ClassTransport
	}
	return ClassAPI
}
