package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/HammerMeetNail/nearby/internal/events"
	"github.com/HammerMeetNail/nearby/internal/logging"
	"github.com/HammerMeetNail/nearby/internal/models"
)

const channelPrefix = "nearby:"

// RedisBus fans events out across server instances with Redis PUBLISH/SUBSCRIBE.
type RedisBus struct {
	client *redis.Client

	mu     sync.Mutex
	subs   map[*redisSubscription]struct{}
	closed bool
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{
		client: client,
		subs:   make(map[*redisSubscription]struct{}),
	}
}

type redisSubscription struct {
	bus    *RedisBus
	ps     *redis.PubSub
	topic  string
	done   chan struct{}
	closed sync.Once
}

func (b *RedisBus) Subscribe(ctx context.Context, topic string, sub events.Subscriber) (Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	b.mu.Unlock()

	ps := b.client.Subscribe(ctx, channelPrefix+topic)
	// Wait for the confirmation so events published after Subscribe returns are not lost.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	s := &redisSubscription{bus: b, ps: ps, topic: topic, done: make(chan struct{})}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.run(sub)
	return s, nil
}

func (s *redisSubscription) run(sub events.Subscriber) {
	defer close(s.done)
	for msg := range s.ps.Channel() {
		thread, ev, err := events.Decode([]byte(msg.Payload))
		if err != nil {
			logging.Warn("Dropping invalid event", map[string]interface{}{
				"topic": s.topic,
				"error": err.Error(),
			})
			continue
		}
		sub.OnEvent(thread, ev)
	}
}

func (s *redisSubscription) Close() error {
	var err error
	s.closed.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()

		err = s.ps.Close()
		<-s.done
	})
	return err
}

func (b *RedisBus) Publish(ctx context.Context, topic string, thread models.ThreadRef, ev events.Event) error {
	data, err := events.Encode(thread, ev)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, channelPrefix+topic, data).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// Close ends every open subscription. The client itself is owned by the caller.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := make([]*redisSubscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
	return nil
}
