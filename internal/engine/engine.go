// Package engine is the request boundary. Scans are serialized per
// participant and registrations per event on a keyed worker pool; the store
// transaction underneath remains the authority for both invariants.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gyaneshwarpardhi/turnstile/internal/apperr"
	"github.com/gyaneshwarpardhi/turnstile/internal/assignment"
	"github.com/gyaneshwarpardhi/turnstile/internal/attendance"
	"github.com/gyaneshwarpardhi/turnstile/internal/clock"
	"github.com/gyaneshwarpardhi/turnstile/internal/config"
	"github.com/gyaneshwarpardhi/turnstile/internal/metrics"
	"github.com/gyaneshwarpardhi/turnstile/internal/registrar"
	"github.com/gyaneshwarpardhi/turnstile/internal/store"
	"github.com/gyaneshwarpardhi/turnstile/internal/token"
)

// Deps are the components the engine routes to.
type Deps struct {
	Store     store.Store
	Codec     *token.Codec
	Badges    *token.Badges
	Guard     *assignment.Guard
	Ledger    *attendance.Ledger
	Registrar *registrar.Registrar
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Engine dispatches scan and registration requests.
type Engine struct {
	store     store.Store
	codec     *token.Codec
	badges    *token.Badges
	guard     *assignment.Guard
	ledger    *attendance.Ledger
	registrar *registrar.Registrar
	clock     clock.Clock
	logger    *slog.Logger

	pool    *workerPool[*call]
	conf    config.EngineConf
	timeout time.Duration
}

// call is one queued request.
type call struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// New creates an Engine using conf and starts the worker pool.
func New(ctx context.Context, deps Deps, conf config.EngineConf) (*Engine, error) {
	if deps.Store == nil || deps.Codec == nil || deps.Badges == nil || deps.Guard == nil ||
		deps.Ledger == nil || deps.Registrar == nil {
		return nil, fmt.Errorf("engine: store, codec, badges, guard, ledger and registrar are required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if conf.Workers < 1 {
		conf.Workers = 1
	}
	if conf.QueueDepth < 1 {
		conf.QueueDepth = 1
	}
	timeout := conf.RequestTimeout()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	e := &Engine{
		store:     deps.Store,
		codec:     deps.Codec,
		badges:    deps.Badges,
		guard:     deps.Guard,
		ledger:    deps.Ledger,
		registrar: deps.Registrar,
		clock:     deps.Clock,
		logger:    deps.Logger,
		conf:      conf,
		timeout:   timeout,
	}
	e.pool = newWorkerPool[*call](ctx, conf.Workers, conf.QueueDepth, func(_ context.Context, c *call) {
		if err := c.ctx.Err(); err != nil {
			c.done <- err
			return
		}
		c.done <- c.fn(c.ctx)
	})
	return e, nil
}

// do runs fn on key's worker and waits for it, bounded by the request
// timeout.
func (e *Engine) do(ctx context.Context, op, key string, fn func(context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	c := &call{ctx: ctx, fn: fn, done: make(chan error, 1)}
	if !e.pool.Submit(key, c) {
		metrics.RequestsDropped.WithLabelValues(op).Inc()
		return apperr.New(apperr.KindTransient, apperr.CodeQueueFull,
			fmt.Sprintf("%s queue full (capacity %d per worker)", op, e.conf.QueueDepth))
	}
	metrics.RequestsEnqueued.WithLabelValues(op).Inc()

	var err error
	select {
	case err = <-c.done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	metrics.RequestDuration.WithLabelValues(op).Observe(float64(time.Since(start).Milliseconds()))
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindTransient, apperr.CodeTimeout,
			fmt.Sprintf("%s timed out after %v", op, e.timeout), err)
	}
	return err
}

// QueueUtilization returns queue used / capacity (0–1).
func (e *Engine) QueueUtilization() float64 {
	if e.pool.QueueCap() == 0 {
		return 0
	}
	return float64(e.pool.QueueLen()) / float64(e.pool.QueueCap())
}

// Ready pings the store.
func (e *Engine) Ready(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// SetLegacyOpenMode forwards a reloaded scan setting to the guard.
func (e *Engine) SetLegacyOpenMode(enabled bool) {
	if e.guard.LegacyOpenMode() != enabled {
		e.logger.Info("legacy open mode changed", "enabled", enabled)
	}
	e.guard.SetLegacyOpenMode(enabled)
}

// Registrar exposes the registrar for configuration reloads.
func (e *Engine) Registrar() *registrar.Registrar { return e.registrar }

// Shutdown drains the pool gracefully.
func (e *Engine) Shutdown() {
	e.pool.Drain()
}
