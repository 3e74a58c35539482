package watcher

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/solatis/policykeeper/internal/core/metrics"
	"github.com/solatis/policykeeper/internal/types"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
)

// Dispatcher runs callbacks off the delivery goroutine. Each Dispatch gets
// its own goroutine; nothing is coalesced. Errors and panics are wrapped in
// types.CallbackFailure, logged and dropped.
type Dispatcher struct {
	backend string
	logger  zerolog.Logger
	metrics *metrics.Metrics

	callback atomic.Pointer[Callback]
	pool     *pool.Pool

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher creates a dispatcher with no callback.
func NewDispatcher(backend string, logger zerolog.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		backend: backend,
		logger:  logger,
		metrics: m,
		pool:    pool.New(),
	}
}

// SetCallback swaps the callback. Dispatches already scheduled keep the
// callback they were scheduled with.
func (d *Dispatcher) SetCallback(cb Callback) {
	if cb == nil {
		d.callback.Store(nil)
		return
	}
	d.callback.Store(&cb)
}

// Dispatch schedules one callback run with msg. Returns false when no
// callback is registered or the dispatcher is closed.
func (d *Dispatcher) Dispatch(msg string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn().Str("msg", msg).Msg("dispatcher closed, dropping notification")
		return false
	}
	cb := d.callback.Load()
	if cb == nil {
		d.logger.Debug().Msg("no callback registered")
		return false
	}

	fn := *cb
	d.pool.Go(func() { d.run(fn, msg) })
	return true
}

func (d *Dispatcher) run(fn Callback, msg string) {
	var err error
	var pc panics.Catcher
	pc.Try(func() { err = fn(msg) })
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
	}
	if err == nil {
		return
	}

	failure := &types.CallbackFailure{Err: err}
	d.metrics.ObserveCallbackFailure(d.backend)
	d.logger.Error().Err(failure).Str("msg", msg).Msg("policy change callback failed")
}

// Close rejects further dispatches and waits for running callbacks.
// Idempotent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.pool.Wait()
}
