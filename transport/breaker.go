package transport

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/alexschlessinger/pollychat/messages"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	defaultBreakerFailures uint32 = 5
	defaultBreakerTimeout         = 30 * time.Second
	defaultBreakerInterval        = 60 * time.Second
)

// BreakerConfig enables a circuit breaker around connection attempts.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failed connections that opens the circuit.
	MaxFailures uint32 `yaml:"max_failures"`
	// Timeout is how long the circuit stays open before a probe is allowed.
	Timeout time.Duration `yaml:"timeout"`
	// Interval is how often failure counts are cleared while closed.
	Interval time.Duration `yaml:"interval"`
}

// withDefaults fills zero fields: 5 failures, 30s open, counts cleared every 60s.
func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxFailures == 0 {
		c.MaxFailures = defaultBreakerFailures
	}
	if c.Timeout == 0 {
		c.Timeout = defaultBreakerTimeout
	}
	if c.Interval == 0 {
		c.Interval = defaultBreakerInterval
	}
	return c
}

func newBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker[io.ReadCloser] {
	cfg = cfg.withDefaults()

	return gobreaker.NewCircuitBreaker[io.ReadCloser](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			zap.S().Warnw("transport_breaker_state",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// rejected requests say nothing about server health
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			return !messages.IsRetryable(messages.ClassifyError(err))
		},
	})
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
