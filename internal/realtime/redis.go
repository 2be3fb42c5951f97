package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRelay shares channel traffic between hub instances over Redis pub/sub.
type RedisRelay struct {
	rdb    *redis.Client
	prefix string
	origin string
	broker *Broker
	logger *zap.Logger
}

// NewRedisRelay creates a relay publishing under prefix and installs it on broker.
func NewRedisRelay(rdb *redis.Client, prefix string, broker *Broker, logger *zap.Logger) *RedisRelay {
	if prefix == "" {
		prefix = "shopchat:"
	}
	r := &RedisRelay{
		rdb:    rdb,
		prefix: prefix,
		origin: uuid.NewString(),
		broker: broker,
		logger: logger,
	}
	broker.SetRelay(r)
	return r
}

// Publish sends env to every other instance.
func (r *RedisRelay) Publish(ctx context.Context, env Envelope) error {
	env.Origin = r.origin
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return r.rdb.Publish(ctx, r.prefix+env.Channel, data).Err()
}

// Run delivers envelopes from other instances to the local broker until ctx ends.
func (r *RedisRelay) Run(ctx context.Context) error {
	ps := r.rdb.PSubscribe(ctx, r.prefix+"*")
	defer func() { _ = ps.Close() }()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	r.logger.Info("redis relay subscribed", zap.String("pattern", r.prefix+"*"), zap.String("origin", r.origin))

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg)
		}
	}
}

func (r *RedisRelay) handle(msg *redis.Message) {
	var env Envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		r.logger.Warn("bad relay payload", zap.String("channel", msg.Channel), zap.Error(err))
		return
	}
	if env.Origin == r.origin {
		return
	}
	if env.Channel == "" {
		env.Channel = strings.TrimPrefix(msg.Channel, r.prefix)
	}
	r.broker.DeliverRemote(env)
}

// Close closes the underlying Redis client.
func (r *RedisRelay) Close() error {
	return r.rdb.Close()
}
