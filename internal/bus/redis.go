// Package bus is the Redis pub/sub transport: one channel carries commands
// in, another carries results and busy notifications out.
package bus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	appLog "epdpi/internal/log"
	"epdpi/internal/protocol"
)

// Default channel names.
const (
	DefaultSubscribeChannel = "epdpi"
	DefaultPublishChannel   = "clockpi"
)

// Options configures the Redis connection and channels.
type Options struct {
	Addr     string
	Password string
	DB       int

	SubscribeChannel string
	PublishChannel   string
	// DeviceID, when set, prefixes every outbound message.
	DeviceID string
}

// Handler is called once per inbound message, on the listener goroutine.
type Handler func(ctx context.Context, channel, payload string)

// Redis publishes and listens on the configured channels.
type Redis struct {
	rdb  *redis.Client
	opts Options
}

// Dial opens a client and checks the server answers.
func Dial(ctx context.Context, opts Options) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("bus: ping %s: %w", opts.Addr, err)
	}
	return New(rdb, opts), nil
}

// New wraps an existing client.
func New(rdb *redis.Client, opts Options) *Redis {
	if opts.SubscribeChannel == "" {
		opts.SubscribeChannel = DefaultSubscribeChannel
	}
	if opts.PublishChannel == "" {
		opts.PublishChannel = DefaultPublishChannel
	}
	return &Redis{rdb: rdb, opts: opts}
}

// Client exposes the underlying client, e.g. for the shared busy flag.
func (r *Redis) Client() *redis.Client {
	return r.rdb
}

// Publish sends msg on the publish channel.
func (r *Redis) Publish(ctx context.Context, msg string) error {
	msg = protocol.WithID(r.opts.DeviceID, msg)
	appLog.Info("redis publish", "channel", r.opts.PublishChannel, "msg", msg)
	if err := r.rdb.Publish(ctx, r.opts.PublishChannel, msg).Err(); err != nil {
		return fmt.Errorf("bus: publish: %w", err)
	}
	return nil
}

// Listen subscribes to the command channel and calls h for every message,
// one at a time and in order. It returns nil when ctx is cancelled. Any
// transport error closes the subscription and is returned; there is no
// reconnect, the process is expected to be restarted.
func (r *Redis) Listen(ctx context.Context, h Handler) error {
	ps := r.rdb.Subscribe(ctx, r.opts.SubscribeChannel)
	defer ps.Close()

	// The first reply confirms the subscription.
	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("bus: subscribe %s: %w", r.opts.SubscribeChannel, err)
	}
	appLog.Info("redis subscribed", "channel", r.opts.SubscribeChannel)

	for {
		msg, err := ps.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			appLog.Error("redis listener stopped", err, "channel", r.opts.SubscribeChannel)
			return fmt.Errorf("bus: receive: %w", err)
		}

		switch m := msg.(type) {
		case *redis.Message:
			appLog.Info("redis received", "channel", m.Channel, "msg", m.Payload)
			h(ctx, m.Channel, m.Payload)
		default:
			// Subscription confirmations and pongs carry no command.
			appLog.Debug("redis ignored event", "type", fmt.Sprintf("%T", msg))
		}
	}
}

// SubscribeChannel is the channel commands arrive on.
func (r *Redis) SubscribeChannel() string {
	return r.opts.SubscribeChannel
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
