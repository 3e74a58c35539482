package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/solatis/policykeeper/internal/core/db"
	"github.com/solatis/policykeeper/internal/types"
)

// Listener reconnect backoff and keepalive.
const (
	listenerMinReconnect = 10 * time.Second
	listenerMaxReconnect = time.Minute
	listenerPing         = 90 * time.Second
)

// Postgres signals changes with NOTIFY on a channel of the policy database.
// A listener reconnect may have missed notifications, so it is delivered as
// a change with an empty message.
type Postgres struct {
	*base
	db      *sqlx.DB
	connStr string
}

var _ Watcher = (*Postgres)(nil)

// NewPostgres creates a Postgres watcher. database sends notifications;
// connStr is a lib/pq connection string for the dedicated listener
// connection. The channel must be a plain identifier.
func NewPostgres(database *sqlx.DB, connStr string, opts Options) (*Postgres, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := db.ValidateTableName(opts.Channel); err != nil {
		return nil, err
	}
	return &Postgres{base: newBase(BackendPostgres, opts), db: database, connStr: connStr}, nil
}

// EmitChange sends a notification carrying a fresh time-ordered id, from
// which receivers read when the change was sent.
func (w *Postgres) EmitChange(ctx context.Context) error {
	tctx, cancel := w.emitContext(ctx)
	defer cancel()

	payload := types.NewRowID()
	_, err := w.db.ExecContext(tctx, w.db.Rebind("SELECT pg_notify(?, ?)"), w.opts.Channel, payload)
	if err == nil {
		w.logger.Info().Str("channel", w.opts.Channel).Str("payload", payload).Msg("change notified")
	}
	return w.finishEmit(tctx, err)
}

// StartWatching opens the listener connection and LISTENs on the channel.
// Waiting for the first connection is bounded by ctx and the configured
// timeout.
func (w *Postgres) StartWatching(ctx context.Context) error {
	return w.start(ctx, func(sctx context.Context) (func(context.Context) error, error) {
		listener := pq.NewListener(w.connStr, listenerMinReconnect, listenerMaxReconnect, w.listenerEvent)

		listened := make(chan error, 1)
		go func() { listened <- listener.Listen(w.opts.Channel) }()

		lctx, cancel := w.emitContext(sctx)
		defer cancel()
		select {
		case err := <-listened:
			if err != nil {
				listener.Close()
				return nil, err
			}
		case <-lctx.Done():
			listener.Close()
			return nil, fmt.Errorf("listen on %s: %w", w.opts.Channel, lctx.Err())
		}

		return func(ctx context.Context) error {
			defer listener.Close()
			ping := time.NewTicker(listenerPing)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case n, ok := <-listener.Notify:
					if !ok {
						return errors.New("listener notification channel closed")
					}
					if n == nil {
						w.deliver("")
						continue
					}
					w.logAge(n.Extra)
					w.deliver(n.Extra)
				case <-ping.C:
					go listener.Ping()
				}
			}
		}, nil
	})
}

// logAge records how long a notification took to arrive when its payload is
// a row id.
func (w *Postgres) logAge(payload string) {
	if _, err := types.ParseRowID(payload); err != nil {
		return
	}
	if sent := types.RowIDTime(payload); !sent.IsZero() {
		w.logger.Debug().Dur("age", time.Since(sent)).Msg("notification latency")
	}
}

func (w *Postgres) listenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		w.logger.Debug().Msg("listener connected")
	case pq.ListenerEventDisconnected:
		w.logger.Warn().Err(err).Msg("listener disconnected")
	case pq.ListenerEventReconnected:
		w.logger.Info().Msg("listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		w.logger.Warn().Err(err).Msg("listener connection attempt failed")
	}
}
