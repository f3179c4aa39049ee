package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/studyquest/studyquest-hub/internal/domain/shared"
)

// DefaultChannel is the Pub/Sub channel shared by every instance.
const DefaultChannel = "studyquest:events"

// ══════════════════════════════════════════════════════════════════════════════
// REDIS CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// RedisClient is the Pub/Sub surface the relay needs.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message string) error
	Subscribe(ctx context.Context, channel string) (<-chan string, func() error, error)
}

// GoRedisClient adapts *redis.Client to RedisClient.
type GoRedisClient struct {
	Client *redis.Client
}

func (c GoRedisClient) Publish(ctx context.Context, channel string, message string) error {
	return c.Client.Publish(ctx, channel, message).Err()
}

// Subscribe waits for the subscription to be confirmed before returning,
// so nothing published afterwards is missed.
func (c GoRedisClient) Subscribe(ctx context.Context, channel string) (<-chan string, func() error, error) {
	sub := c.Client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan string)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, sub.Close, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// RedisEventBusConfig configures NewRedisEventBus.
type RedisEventBusConfig struct {
	Client RedisClient

	// ChannelName defaults to DefaultChannel.
	ChannelName string

	// InstanceID marks this process's envelopes. Defaults to a UUID.
	InstanceID string

	LocalBusConfig InMemoryEventBusConfig
	Logger         *slog.Logger
}

// RedisEventBus delivers every event locally and relays it to the other
// instances, which replay it on their own local bus. Local subscribers see
// local events once, in publish order, whether or not Redis is reachable.
type RedisEventBus struct {
	client  RedisClient
	local   *InMemoryEventBus
	channel string
	origin  string
	log     *slog.Logger

	seq      atomic.Uint64
	lastSeen map[string]uint64 // origin -> last sequence, touched only by the loop

	ctx      context.Context
	cancel   context.CancelFunc
	closeSub func() error
	loopDone chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool
}

// NewRedisEventBus subscribes to the channel and starts relaying.
func NewRedisEventBus(cfg RedisEventBusConfig) (*RedisEventBus, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.ChannelName == "" {
		cfg.ChannelName = DefaultChannel
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LocalBusConfig.Logger == nil {
		cfg.LocalBusConfig.Logger = cfg.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	messages, closeSub, err := cfg.Client.Subscribe(ctx, cfg.ChannelName)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", cfg.ChannelName, err)
	}

	b := &RedisEventBus{
		client:   cfg.Client,
		local:    NewInMemoryEventBus(cfg.LocalBusConfig),
		channel:  cfg.ChannelName,
		origin:   cfg.InstanceID,
		log:      cfg.Logger.With("component", "event_relay", "origin", cfg.InstanceID),
		lastSeen: make(map[string]uint64),
		ctx:      ctx,
		cancel:   cancel,
		closeSub: closeSub,
		loopDone: make(chan struct{}),
	}
	go b.receive(messages)
	return b, nil
}

func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.local.Subscribe(eventType, handler)
}

func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.local.SubscribeAll(handler)
}

// Publish relays event and delivers it locally. A relay failure is logged
// only; local delivery is what the caller depends on.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return ErrNilEvent
	}
	if b.closed.Load() {
		return ErrEventBusClosed
	}

	msg, err := shared.Seal(b.origin, b.seq.Add(1), event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.EventType(), err)
	}
	if err := b.client.Publish(b.ctx, b.channel, string(msg)); err != nil {
		b.log.Warn("event relay failed", "event_type", event.EventType(), "error", err)
	}

	return b.local.Publish(event)
}

func (b *RedisEventBus) receive(messages <-chan string) {
	defer close(b.loopDone)
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			b.replay(msg)
		}
	}
}

func (b *RedisEventBus) replay(msg string) {
	env, err := shared.OpenEnvelope([]byte(msg))
	if err != nil {
		b.log.Error("undecodable relay message", "error", err)
		return
	}
	if env.Origin == b.origin {
		return
	}

	if last, ok := b.lastSeen[env.Origin]; ok && env.Sequence > last+1 {
		b.log.Warn("relay gap detected",
			"from", env.Origin,
			"missed", env.Sequence-last-1,
		)
	}
	b.lastSeen[env.Origin] = env.Sequence

	if err := b.local.Publish(env.Event()); err != nil {
		b.log.Error("failed to replay relayed event", "event_type", env.Type, "error", err)
	}
}

// Close stops relaying and closes the local bus.
func (b *RedisEventBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.cancel()
		if b.closeSub != nil {
			if cerr := b.closeSub(); cerr != nil {
				b.log.Warn("failed to close subscription", "error", cerr)
			}
		}
		<-b.loopDone
		err = b.local.Close()
	})
	return err
}

// Stats returns the local bus counters.
func (b *RedisEventBus) Stats() *BusStats { return b.local.Stats() }
