// Package retry runs store writes under bounded exponential backoff behind a
// circuit breaker. Only transient failures are retried; everything else is
// returned on the first attempt.
//
// Import Path: dsr.gov.ph/registry/internal/pkg/retry
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	apperrors "dsr.gov.ph/registry/internal/pkg/errors"
	"dsr.gov.ph/registry/internal/pkg/logger"
)

// Config controls attempts, backoff and the breaker.
type Config struct {
	Name            string
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// Breaker trips after FailureThreshold consecutive transient failures and
	// stays open for OpenTimeout.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// DefaultConfig returns three attempts starting at 100ms.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxAttempts:      3,
		InitialInterval:  100 * time.Millisecond,
		MaxInterval:      2 * time.Second,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// Policy executes operations with retry + breaker.
type Policy struct {
	cfg     Config
	breaker *gobreaker.CircuitBreaker
}

// New builds a Policy. Zero fields fall back to DefaultConfig values.
func New(cfg Config) *Policy {
	def := DefaultConfig(cfg.Name)
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    cfg.Name,
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// Unique violations and bad data are answers from a healthy store.
		IsSuccessful: func(err error) bool {
			return err == nil || !apperrors.IsTransient(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Policy{cfg: cfg, breaker: breaker}
}

// Do runs fn until it succeeds, fails permanently, exhausts MaxAttempts or
// ctx is done. The returned error is the last error from fn.
func (p *Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.InitialInterval
	b.MaxInterval = p.cfg.MaxInterval
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.cfg.MaxAttempts-1)), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		_, err := p.breaker.Execute(func() (interface{}, error) {
			return nil, fn(ctx)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%s: %w: %v", op, apperrors.ErrServiceUnavail, err)
		}
		if err == nil {
			return nil
		}
		if !apperrors.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		logger.Warn("Transient failure, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	return backoff.RetryNotify(operation, policy, notify)
}

// State returns the breaker state name for health reporting.
func (p *Policy) State() string {
	return p.breaker.State().String()
}
