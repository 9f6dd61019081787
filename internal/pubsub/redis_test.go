package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HammerMeetNail/nearby/internal/events"
)

func newTestRedisBus(t *testing.T) (*RedisBus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	bus := NewRedisBus(client)
	t.Cleanup(func() { _ = bus.Close() })
	return bus, mr
}

func TestRedisBus_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	bus, _ := newTestRedisBus(t)
	msg := dmMessage()

	rec := &recorder{}
	sub, err := bus.Subscribe(ctx, ThreadTopic(msg.ThreadID), rec)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, ThreadTopic(msg.ThreadID), msg.ThreadID, events.MessageInserted{Message: msg}))
	assert.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, msg.ID, rec.last().(events.MessageInserted).Message.ID)

	require.NoError(t, sub.Close())
}

func TestRedisBus_DropsInvalidPayload(t *testing.T) {
	ctx := context.Background()
	bus, mr := newTestRedisBus(t)
	msg := dmMessage()
	topic := ThreadTopic(msg.ThreadID)

	rec := &recorder{}
	_, err := bus.Subscribe(ctx, topic, rec)
	require.NoError(t, err)

	mr.Publish(channelPrefix+topic, `{"kind":"mystery"}`)
	require.NoError(t, bus.Publish(ctx, topic, msg.ThreadID, events.MessageInserted{Message: msg}))

	assert.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	_, ok := rec.last().(events.MessageInserted)
	assert.True(t, ok)
}

func TestRedisBus_CloseEndsSubscriptions(t *testing.T) {
	ctx := context.Background()
	bus, _ := newTestRedisBus(t)

	_, err := bus.Subscribe(ctx, "user:someone", &recorder{})
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = bus.Subscribe(ctx, "user:someone", &recorder{})
	assert.ErrorIs(t, err, ErrBusClosed)
}
