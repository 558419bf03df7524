package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tapscribe/tapscribe/pkg/audio"
	"github.com/tapscribe/tapscribe/pkg/provider/stt"
)

// ErrAllBackendsFailed is returned when every backend in a [Chain] fails or
// has an open circuit breaker.
var ErrAllBackendsFailed = errors.New("all recognition backends failed")

// chainEntry pairs a recognition backend with its dedicated circuit breaker.
type chainEntry struct {
	provider stt.Provider
	breaker  *CircuitBreaker
}

// Chain implements [stt.Provider] with automatic failover across recognition
// backends. Each backend has its own circuit breaker: a failing primary is
// skipped without paying its latency on every segment, and probed again once
// its reset timeout elapses.
//
// Context cancellation is classified as neutral — a user aborting a session
// mid-call says nothing about backend health and must not trip a breaker.
//
// Chain is safe for concurrent use.
type Chain struct {
	entries    []chainEntry
	breakerCfg CircuitBreakerConfig
}

var _ stt.Provider = (*Chain)(nil)

// NewChain creates a [Chain] with primary as the preferred backend. The
// breaker config acts as a template applied to every backend; its Name and
// IsFailure fields are managed by the chain.
func NewChain(primary stt.Provider, cfg CircuitBreakerConfig) *Chain {
	c := &Chain{breakerCfg: cfg}
	c.add(primary)
	return c
}

// AddFallback registers an additional backend, tried after all earlier ones.
// The entry list is fixed once recognition starts; AddFallback is not safe
// to call concurrently with Transcribe.
func (c *Chain) AddFallback(p stt.Provider) {
	c.add(p)
}

func (c *Chain) add(p stt.Provider) {
	cfg := c.breakerCfg
	cfg.Name = p.Name()
	cfg.IsFailure = func(err error) bool {
		return !errors.Is(err, context.Canceled)
	}
	c.entries = append(c.entries, chainEntry{
		provider: p,
		breaker:  NewCircuitBreaker(cfg),
	})
}

// Name joins the backend names in failover order.
func (c *Chain) Name() string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.provider.Name()
	}
	return strings.Join(names, "+")
}

// Transcribe tries each backend in order until one succeeds. Backends with
// an open breaker are skipped. When the context is cancelled or expired the
// remaining backends are not tried; they would fail the same way.
func (c *Chain) Transcribe(ctx context.Context, seg audio.Segment) (string, error) {
	var lastErr error
	for i := range c.entries {
		entry := &c.entries[i]

		var text string
		err := entry.breaker.Execute(func() error {
			var innerErr error
			text, innerErr = entry.provider.Transcribe(ctx, seg)
			return innerErr
		})
		if err == nil {
			if i > 0 {
				slog.Info("segment recognized by fallback backend",
					"backend", entry.provider.Name(),
					"sequence", seg.Sequence)
			}
			return text, nil
		}
		lastErr = err

		switch {
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("skipping recognition backend, circuit open",
				"backend", entry.provider.Name())
		case ctx.Err() != nil:
			return "", err
		default:
			slog.Warn("recognition backend failed, trying next",
				"backend", entry.provider.Name(),
				"error", err)
		}
	}
	return "", fmt.Errorf("%w: %v", ErrAllBackendsFailed, lastErr)
}

// Ping probes backend health for readiness checks. A backend that exposes
// its own ping is probed live; one that does not counts as healthy while its
// breaker admits calls. Returns an error only when no backend is usable.
func (c *Chain) Ping(ctx context.Context) error {
	var errs []error
	for _, e := range c.entries {
		if e.breaker.State() == StateOpen {
			errs = append(errs, fmt.Errorf("%s: %w", e.provider.Name(), ErrCircuitOpen))
			continue
		}
		p, ok := e.provider.(interface{ Ping(context.Context) error })
		if !ok {
			return nil
		}
		if err := p.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.provider.Name(), err))
			continue
		}
		return nil
	}
	return fmt.Errorf("no recognition backend available: %w", errors.Join(errs...))
}
