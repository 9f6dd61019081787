// Package pubsub is the push channel: per-thread and per-user topics carrying
// encoded events between processes.
package pubsub

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/nearby/internal/events"
	"github.com/HammerMeetNail/nearby/internal/models"
)

var ErrBusClosed = errors.New("pubsub bus closed")

// Bus delivers events published on a topic to every current subscriber of it.
type Bus interface {
	Subscribe(ctx context.Context, topic string, sub events.Subscriber) (Subscription, error)
	Publish(ctx context.Context, topic string, thread models.ThreadRef, ev events.Event) error
	Close() error
}

type Subscription interface {
	Close() error
}

// ThreadTopic carries message inserts and typing changes for one thread.
func ThreadTopic(thread models.ThreadRef) string {
	return "thread:" + thread.Key()
}

// UserTopic is a user's feed: message inserts for every thread they belong to
// and invitation changes they are party to.
func UserTopic(userID uuid.UUID) string {
	return "user:" + userID.String()
}
