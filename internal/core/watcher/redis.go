package watcher

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Redis signals changes with INCR on the counter key followed by PUBLISH of
// the new value on the channel. Subscribers react to every message.
type Redis struct {
	*base
	client redis.UniversalClient
}

var _ Watcher = (*Redis)(nil)

// NewRedis creates a Redis watcher on client. The client stays owned by the
// caller.
func NewRedis(client redis.UniversalClient, opts Options) (*Redis, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Redis{base: newBase(BackendRedis, opts), client: client}, nil
}

// EmitChange increments the counter and publishes the result.
func (w *Redis) EmitChange(ctx context.Context) error {
	tctx, cancel := w.emitContext(ctx)
	defer cancel()

	n, err := w.client.Incr(tctx, w.opts.Key).Result()
	if err != nil {
		return w.finishEmit(tctx, err)
	}
	w.logger.Info().Str("key", w.opts.Key).Int64("value", n).Msg("change counter bumped")

	receivers, err := w.client.Publish(tctx, w.opts.Channel, strconv.FormatInt(n, 10)).Result()
	if err == nil {
		w.logger.Debug().Int64("receivers", receivers).Msg("change published")
	}
	return w.finishEmit(tctx, err)
}

// StartWatching subscribes to the channel and waits for the server to
// confirm before returning.
func (w *Redis) StartWatching(ctx context.Context) error {
	return w.start(ctx, func(sctx context.Context) (func(context.Context) error, error) {
		pubsub := w.client.Subscribe(sctx, w.opts.Channel)

		cctx, cancel := w.emitContext(sctx)
		defer cancel()
		if _, err := pubsub.Receive(cctx); err != nil {
			pubsub.Close()
			return nil, err
		}

		ch := pubsub.Channel()
		return func(ctx context.Context) error {
			defer pubsub.Close()
			for {
				select {
				case <-ctx.Done():
					return nil
				case msg, ok := <-ch:
					if !ok {
						return errors.New("subscription channel closed")
					}
					w.deliver(msg.Payload)
				}
			}
		}, nil
	})
}
