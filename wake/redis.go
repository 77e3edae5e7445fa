package wake

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisChannel is the pub/sub channel producers publish pings on.
const DefaultRedisChannel = "bestelling:wake"

// Redis carries pings between processes over Redis pub/sub. Received pings
// are folded into a Local channel, so waiting never touches the network.
type Redis struct {
	client  *redis.Client
	channel string
	sub     *redis.PubSub
	local   *Local
	done    chan struct{}
}

var _ Channel = (*Redis)(nil)

// NewRedis connects to addr and subscribes to channel.
func NewRedis(ctx context.Context, addr, channel string) (*Redis, error) {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	sub := client.Subscribe(ctx, channel)
	// wait for the subscription to be confirmed so no ping is missed
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	r := &Redis{
		client:  client,
		channel: channel,
		sub:     sub,
		local:   NewLocal(),
		done:    make(chan struct{}),
	}
	go r.forward()

	logger.Info().Msgf("✅ WakeChannel: subscribed to redis channel %s", channel)
	return r, nil
}

func (r *Redis) forward() {
	defer close(r.done)
	for range r.sub.Channel() {
		_ = r.local.Ping(context.Background())
	}
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Publish(ctx, r.channel, "wake").Err(); err != nil {
		logger.Warn().Err(err).Msg("⚠️ WakeChannel: publish failed, processor will pick up work on its next poll")
		return fmt.Errorf("failed to publish wake ping: %w", err)
	}
	return nil
}

func (r *Redis) Wait(ctx context.Context, timeout time.Duration) bool {
	return r.local.Wait(ctx, timeout)
}

func (r *Redis) Close() error {
	err := r.sub.Close()
	<-r.done
	if cerr := r.client.Close(); err == nil {
		err = cerr
	}
	return err
}
