// Package service implements the long-running cycle-loop contract shared
// by all five BigBrotr services (spec.md §4.1): bounded-work Run, an
// interruptible RunForever loop with consecutive-failure tracking, and a
// metrics/shutdown contract every service exposes identically.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CycleFunc performs exactly one bounded cycle of work. It must observe
// ctx.Done() periodically so cancellation propagates promptly.
type CycleFunc func(ctx context.Context) error

// Config parameterizes the RunForever loop.
type Config struct {
	// Interval is the interruptible sleep between cycles.
	Interval time.Duration
	// MaxConsecutiveFailures stops the loop once reached; 0 disables
	// the limit (run forever regardless of failures).
	MaxConsecutiveFailures int
}

// Base is embedded by every service; it owns the shutdown signal,
// structured logger, and metrics bundle described in spec.md §4.1.
//
// Grounded on the teacher's internal/sync/engine.go Start/Stop
// (context.WithCancel + sync.WaitGroup) and internal/ops/retention.go's
// stopChan/doneChan background-worker idiom, generalized into one
// reusable type all five services embed instead of reimplementing.
type Base struct {
	Name   string
	Logger *slog.Logger

	cfg Config
	m   *Metrics

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// NewBase constructs a Base for the named service.
func NewBase(name string, logger *slog.Logger, cfg Config, registry MetricsRegistry) *Base {
	return &Base{
		Name:       name,
		Logger:     logger.With("service", name),
		cfg:        cfg,
		m:          NewMetrics(registry, name),
		shutdownCh: make(chan struct{}),
	}
}

// RequestShutdown signals the service to stop at the next safe point.
// Idempotent.
func (b *Base) RequestShutdown() {
	b.shutdownOnce.Do(func() { close(b.shutdownCh) })
}

// Done returns a channel closed once RequestShutdown has been called.
func (b *Base) Done() <-chan struct{} { return b.shutdownCh }

// SetGauge records a service-specific gauge observation.
func (b *Base) SetGauge(name string, value float64) { b.m.SetGauge(name, value) }

// IncCounter increments a service-specific counter by delta.
func (b *Base) IncCounter(name string, delta float64) { b.m.IncCounter(name, delta) }

// RunOnce executes exactly one cycle of fn, updating metrics identically
// to how RunForever would for a single iteration. Used by the --once CLI
// flag (spec.md §6.4).
func (b *Base) RunOnce(ctx context.Context, fn CycleFunc) error {
	_, err := b.runCycle(ctx, fn)
	return err
}

// RunForever loops: run one cycle, track consecutive failures, sleep
// interruptibly, repeat. It exits when cancelled or when
// MaxConsecutiveFailures>0 and the failure streak reaches that limit —
// in the latter case it returns ErrMaxConsecutiveFailures so the caller
// (cmd/bigbrotr) can map it onto exit code 2 per spec.md §6.4.
func (b *Base) RunForever(ctx context.Context, fn CycleFunc) error {
	consecutive := 0
	for {
		cancelled, err := b.runCycle(ctx, fn)
		if cancelled {
			return nil
		}
		if err != nil {
			consecutive++
			b.Logger.Error("cycle failed", "consecutive_failures", consecutive, "error", err)
			if b.cfg.MaxConsecutiveFailures > 0 && consecutive >= b.cfg.MaxConsecutiveFailures {
				b.Logger.Error("max_consecutive_failures_reached", "limit", b.cfg.MaxConsecutiveFailures)
				return ErrMaxConsecutiveFailures
			}
		} else {
			consecutive = 0
		}
		b.m.SetGauge("consecutive_failures", float64(consecutive))

		select {
		case <-ctx.Done():
			return nil
		case <-b.shutdownCh:
			return nil
		case <-time.After(b.cfg.Interval):
		}
	}
}

// runCycle runs fn once, updating the metrics contract. cancelled is
// true when fn returned because of context cancellation or an explicit
// shutdown request — spec.md §7 category 5 requires this never counts
// as a cycle failure.
func (b *Base) runCycle(ctx context.Context, fn CycleFunc) (cancelled bool, err error) {
	runID := uuid.NewString()
	logger := b.Logger.With("run_id", runID)

	start := time.Now()
	err = fn(ctx)
	duration := time.Since(start)
	b.m.ObserveCycleDuration(duration.Seconds())

	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		logger.Debug("cycle cancelled", "duration_s", duration.Seconds())
		return true, nil
	}
	select {
	case <-b.shutdownCh:
		if err != nil {
			return true, nil
		}
	default:
	}

	b.m.SetGauge("last_cycle_timestamp", float64(time.Now().Unix()))
	if err != nil {
		b.m.IncCounter("cycles_failed", 1)
		return false, err
	}
	b.m.IncCounter("cycles_success", 1)
	logger.Debug("cycle succeeded", "duration_s", duration.Seconds())
	return false, nil
}

// ErrMaxConsecutiveFailures is returned by RunForever when the
// consecutive-failure streak reaches config.max_consecutive_failures.
var ErrMaxConsecutiveFailures = errors.New("service: max consecutive failures reached")
