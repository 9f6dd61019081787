package pubsub

import (
	"context"
	"sync"

	"github.com/HammerMeetNail/nearby/internal/events"
	"github.com/HammerMeetNail/nearby/internal/logging"
	"github.com/HammerMeetNail/nearby/internal/models"
)

// MemoryBus is a single-process Bus. Events take the same encode/decode round
// trip as on Redis so boundary validation is identical.
type MemoryBus struct {
	mu     sync.RWMutex
	topics map[string]map[*memorySubscription]struct{}
	closed bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{topics: make(map[string]map[*memorySubscription]struct{})}
}

type memorySubscription struct {
	bus   *MemoryBus
	topic string
	sub   events.Subscriber
	once  sync.Once
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		subs := s.bus.topics[s.topic]
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.bus.topics, s.topic)
		}
	})
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string, sub events.Subscriber) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	s := &memorySubscription{bus: b, topic: topic, sub: sub}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*memorySubscription]struct{})
	}
	b.topics[topic][s] = struct{}{}
	return s, nil
}

// Publish delivers synchronously on the caller's goroutine. Callers must not
// hold locks their subscribers take.
func (b *MemoryBus) Publish(ctx context.Context, topic string, thread models.ThreadRef, ev events.Event) error {
	data, err := events.Encode(thread, ev)
	if err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	targets := make([]events.Subscriber, 0, len(b.topics[topic]))
	for s := range b.topics[topic] {
		targets = append(targets, s.sub)
	}
	b.mu.RUnlock()

	if len(targets) == 0 {
		return nil
	}
	decodedThread, decoded, err := events.Decode(data)
	if err != nil {
		logging.Warn("Dropping invalid event", map[string]interface{}{
			"topic": topic,
			"error": err.Error(),
		})
		return nil
	}
	for _, sub := range targets {
		sub.OnEvent(decodedThread, decoded)
	}
	return nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.topics = make(map[string]map[*memorySubscription]struct{})
	return nil
}
