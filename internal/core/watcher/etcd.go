package watcher

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Re-watch backoff after etcd cancels a watch (leader loss, compaction).
// The subscription is given up after rewatchAttempts consecutive watches
// that were never established.
const (
	rewatchMinBackoff = 500 * time.Millisecond
	rewatchMaxBackoff = 30 * time.Second
	rewatchAttempts   = 10
)

// EtcdClient is the part of *clientv3.Client the etcd watcher uses.
type EtcdClient interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	Watch(ctx context.Context, key string, opts ...clientv3.OpOption) clientv3.WatchChan
}

// Etcd signals changes by bumping an integer counter under one key. Watchers
// react to every event on the key; the value itself only has to change.
// A watch cancelled by the server is re-opened, and the first response of the
// new watch is delivered as a change with an empty message since events may
// have been missed in between.
type Etcd struct {
	*base
	client EtcdClient

	minBackoff, maxBackoff time.Duration
	attempts               int

	lastMu sync.Mutex
	last   string
}

var _ Watcher = (*Etcd)(nil)

// NewEtcd creates an etcd watcher on client. The client stays owned by the
// caller.
func NewEtcd(client EtcdClient, opts Options) (*Etcd, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Etcd{
		base:       newBase(BackendEtcd, opts),
		client:     client,
		minBackoff: rewatchMinBackoff,
		maxBackoff: rewatchMaxBackoff,
		attempts:   rewatchAttempts,
	}, nil
}

// EmitChange reads the counter, increments it and writes it back, each step
// under its own timeout. A missing or non-integer value counts as 0.
func (w *Etcd) EmitChange(ctx context.Context) error {
	gctx, cancel := w.emitContext(ctx)
	resp, err := w.client.Get(gctx, w.opts.Key)
	cancel()
	if err != nil {
		return w.finishEmit(gctx, err)
	}

	n := 0
	if len(resp.Kvs) > 0 {
		raw := string(resp.Kvs[0].Value)
		v, perr := strconv.Atoi(raw)
		if perr != nil {
			w.logger.Warn().Str("value", raw).Msg("counter value is not an integer, restarting at 0")
		} else {
			n = v
		}
	}
	n++

	pctx, cancel := w.emitContext(ctx)
	defer cancel()
	_, err = w.client.Put(pctx, w.opts.Key, strconv.Itoa(n))
	if err == nil {
		w.logger.Info().Str("key", w.opts.Key).Int("value", n).Msg("change counter bumped")
	}
	return w.finishEmit(pctx, err)
}

// StartWatching opens a watch on the counter key.
func (w *Etcd) StartWatching(ctx context.Context) error {
	return w.start(ctx, func(sctx context.Context) (func(context.Context) error, error) {
		wch := w.watch(sctx)
		return func(ctx context.Context) error { return w.run(ctx, wch) }, nil
	})
}

func (w *Etcd) watch(ctx context.Context) clientv3.WatchChan {
	return w.client.Watch(clientv3.WithRequireLeader(ctx), w.opts.Key, clientv3.WithCreatedNotify())
}

// run consumes wch and re-opens the watch whenever the server ends it.
func (w *Etcd) run(ctx context.Context, wch clientv3.WatchChan) error {
	backoff := w.minBackoff
	failures := 0
	reconnect := false
	for {
		established := w.consume(ctx, wch, reconnect)
		if ctx.Err() != nil {
			return nil
		}
		if established {
			failures = 0
			backoff = w.minBackoff
		} else {
			failures++
		}
		if failures >= w.attempts {
			return fmt.Errorf("watch on %s not re-established after %d attempts", w.opts.Key, failures)
		}

		w.logger.Warn().Dur("backoff", backoff).Int("failures", failures).Msg("watch ended, re-opening")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > w.maxBackoff {
			backoff = w.maxBackoff
		}

		wch = w.watch(ctx)
		reconnect = true
	}
}

// consume delivers events until wch closes. It reports whether the watch was
// established; after a reconnect, establishment itself is delivered.
func (w *Etcd) consume(ctx context.Context, wch clientv3.WatchChan, reconnect bool) bool {
	established := false
	for resp := range wch {
		if resp.Created {
			established = true
			if reconnect {
				w.logger.Info().Msg("watch re-established, changes may have been missed")
				w.deliver("")
			}
			continue
		}
		if err := resp.Err(); err != nil {
			if ctx.Err() == nil {
				w.logger.Warn().Err(err).Bool("canceled", resp.Canceled).Msg("watch response error")
			}
			continue
		}
		established = true
		for _, ev := range resp.Events {
			value := ""
			if ev.Kv != nil {
				value = string(ev.Kv.Value)
			}
			w.lastMu.Lock()
			w.last = value
			w.lastMu.Unlock()

			w.logger.Debug().Str("event", ev.Type.String()).Msg("counter key changed")
			w.deliver(value)
		}
	}
	return established
}

// LastValue returns the counter value seen in the most recent event.
func (w *Etcd) LastValue() string {
	w.lastMu.Lock()
	defer w.lastMu.Unlock()
	return w.last
}
