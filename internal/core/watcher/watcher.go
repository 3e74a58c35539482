// Package watcher signals policy changes between processes sharing one
// policy table.
//
// A Watcher emits a change after a local write and subscribes to changes
// emitted by others. Three backends share the contract: an etcd counter key,
// a Redis counter plus pub/sub channel, and Postgres LISTEN/NOTIFY. Delivery
// is best effort: a notification means "something changed, reload", not a
// replicated log.
//
// Callbacks never run on the delivery goroutine. Every notification is handed
// to a Dispatcher, which runs the registered callback on its own goroutine
// and contains its errors and panics.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/solatis/policykeeper/internal/core/db"
	"github.com/solatis/policykeeper/internal/core/metrics"
	"github.com/solatis/policykeeper/internal/types"
)

// Backend names, used in logs and metric labels.
const (
	BackendEtcd     = "etcd"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Defaults for Options.
const (
	DefaultKey     = "policykeeper/revision"
	DefaultChannel = "policykeeper_changes"
	DefaultTimeout = 5 * time.Second
)

// Callback is invoked once per received notification. msg is backend
// specific: the new counter value for etcd and Redis, the payload for
// Postgres, empty after a Postgres reconnect.
type Callback func(msg string) error

// Watcher is the change notification contract shared by every backend.
type Watcher interface {
	// RegisterCallback replaces the callback. nil clears it.
	RegisterCallback(cb Callback)

	// EmitChange tells other watchers the policy changed. Store operations
	// are bounded by the configured timeout; a timeout is logged and not
	// returned.
	EmitChange(ctx context.Context) error

	// StartWatching subscribes to changes. A no-op while already watching.
	// The subscription ends when ctx is cancelled or StopWatching is called.
	StartWatching(ctx context.Context) error

	// StopWatching releases the subscription. Idempotent, and safe before
	// StartWatching or from another goroutine.
	StopWatching() error

	// Done is closed when the current subscription ends. Err reports why a
	// subscription ended without StopWatching; nil otherwise.
	Done() <-chan struct{}
	Err() error

	// Close stops watching and waits for running callbacks.
	Close() error
}

// Options configures a watcher.
type Options struct {
	// Key holds the change counter (etcd and Redis).
	// Default: policykeeper/revision
	Key string

	// Channel carries notifications (Redis and Postgres).
	// Default: policykeeper_changes
	Channel string

	// Timeout bounds each store operation of EmitChange and the connection
	// wait of the Postgres listener at start.
	// Default: 5s
	Timeout time.Duration

	Logger  *zerolog.Logger
	Metrics *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.Key == "" {
		o.Key = DefaultKey
	}
	if o.Channel == "" {
		o.Channel = DefaultChannel
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

func (o Options) validate() error {
	if err := db.ValidateChannelName("key", o.Key); err != nil {
		return err
	}
	return db.ValidateChannelName("channel", o.Channel)
}

// base carries what every backend shares: configuration, the dispatcher and
// the subscription lifecycle.
type base struct {
	backend    string
	opts       Options
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	dispatcher *Dispatcher

	mu   sync.Mutex
	sess *session
}

func newBase(backend string, opts Options) *base {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Str("component", "watcher").Str("backend", backend).Logger()
	return &base{
		backend:    backend,
		opts:       opts,
		logger:     logger,
		metrics:    opts.Metrics,
		dispatcher: NewDispatcher(backend, logger, opts.Metrics),
	}
}

func (b *base) RegisterCallback(cb Callback) {
	b.dispatcher.SetCallback(cb)
}

// start opens a subscription unless a live one exists. open runs without the
// lifecycle lock so StopWatching can cancel a start that is still connecting;
// it must release everything it acquired when it fails. run returns nil when
// its ctx ends and an error when the subscription is lost for good.
func (b *base) start(ctx context.Context, open func(ctx context.Context) (run func(ctx context.Context) error, err error)) error {
	b.mu.Lock()
	if b.sess.alive() {
		b.mu.Unlock()
		b.logger.Debug().Msg("already watching")
		return nil
	}
	sctx, cancel := context.WithCancel(ctx)
	sess := &session{cancel: cancel, done: make(chan struct{})}
	b.sess = sess
	b.mu.Unlock()

	run, err := open(sctx)
	if err != nil {
		cancel()
		b.mu.Lock()
		if b.sess == sess {
			b.sess = nil
		}
		b.mu.Unlock()
		close(sess.done)
		return fmt.Errorf("%s watcher: start: %w", b.backend, err)
	}

	go func() {
		defer close(sess.done)
		if err := run(sctx); err != nil {
			sess.err = err
			b.logger.Error().Err(err).Msg("subscription lost")
		}
	}()

	b.logger.Info().Msg("watching for policy changes")
	return nil
}

func (b *base) StopWatching() error {
	b.mu.Lock()
	sess := b.sess
	b.sess = nil
	b.mu.Unlock()

	if sess != nil {
		sess.stop()
		b.logger.Info().Msg("stopped watching")
	}
	return nil
}

// Done is closed when the current subscription ends, whether stopped or
// lost. Without a subscription the returned channel is already closed.
func (b *base) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sess == nil {
		return closedChan
	}
	return b.sess.done
}

// Err returns why the current subscription ended on its own, or nil while it
// is live or after StopWatching.
func (b *base) Err() error {
	b.mu.Lock()
	sess := b.sess
	b.mu.Unlock()
	if sess == nil || sess.alive() {
		return nil
	}
	return sess.err
}

func (b *base) Close() error {
	err := b.StopWatching()
	b.dispatcher.Close()
	return err
}

// Watching reports whether a subscription is live.
func (b *base) Watching() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sess.alive()
}

// deliver hands one notification to the dispatcher.
func (b *base) deliver(msg string) {
	b.metrics.ObserveReceived(b.backend)
	b.logger.Debug().Str("msg", msg).Msg("change notification received")
	b.dispatcher.Dispatch(msg)
}

// emitContext bounds one store operation of EmitChange.
func (b *base) emitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.opts.Timeout)
}

// finishEmit records the outcome of EmitChange. Timeouts are logged and
// swallowed; a missed notification is repaired by the next one.
func (b *base) finishEmit(tctx context.Context, err error) error {
	switch {
	case err == nil:
		b.metrics.ObserveEmit(b.backend, "ok")
		return nil
	case isTimeout(tctx, err):
		b.metrics.ObserveEmit(b.backend, "timeout")
		b.logger.Warn().
			Err(fmt.Errorf("%w: %v", types.ErrNotificationTimeout, err)).
			Dur("timeout", b.opts.Timeout).
			Msg("change notification not sent")
		return nil
	default:
		b.metrics.ObserveEmit(b.backend, "error")
		b.logger.Error().Err(err).Msg("change notification failed")
		return fmt.Errorf("%s watcher: emit change: %w", b.backend, err)
	}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// session is one subscription: its goroutine, the means to end it, and the
// error it ended with. err is written before done is closed.
type session struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (s *session) alive() bool {
	if s == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *session) stop() {
	s.cancel()
	<-s.done
}
