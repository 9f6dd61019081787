package pubsub

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/nearby/internal/events"
	"github.com/HammerMeetNail/nearby/internal/models"
)

// Notifier publishes store commits onto the bus. It satisfies the notifier and
// publisher hooks of the invitation and message services.
type Notifier struct {
	bus Bus
}

func NewNotifier(bus Bus) *Notifier {
	return &Notifier{bus: bus}
}

// InvitationChanged goes to both parties' feeds.
func (n *Notifier) InvitationChanged(ctx context.Context, inv *models.Invitation) error {
	thread := models.ThreadRef{Type: models.ThreadTypeDM, ID: inv.ID}
	ev := events.InvitationChanged{Invitation: *inv}
	return errors.Join(
		n.bus.Publish(ctx, UserTopic(inv.SenderID), thread, ev),
		n.bus.Publish(ctx, UserTopic(inv.ReceiverID), thread, ev),
	)
}

// MessageInserted goes to the thread topic for open channels and to every
// recipient's feed for unread counting.
func (n *Notifier) MessageInserted(ctx context.Context, msg *models.Message, recipients []uuid.UUID) error {
	ev := events.MessageInserted{Message: *msg}
	errs := []error{n.bus.Publish(ctx, ThreadTopic(msg.ThreadID), msg.ThreadID, ev)}
	for _, id := range recipients {
		errs = append(errs, n.bus.Publish(ctx, UserTopic(id), msg.ThreadID, ev))
	}
	return errors.Join(errs...)
}

// Typing broadcasts a typing flag change on the thread topic.
func (n *Notifier) Typing(ctx context.Context, thread models.ThreadRef, userID uuid.UUID, typing bool) error {
	return n.bus.Publish(ctx, ThreadTopic(thread), thread, events.TypingChanged{UserID: userID, Typing: typing})
}

// MuteChanged goes to the user's own feed so every live session of theirs
// picks up the flag.
func (n *Notifier) MuteChanged(ctx context.Context, userID uuid.UUID, thread models.ThreadRef, muted bool) error {
	return n.bus.Publish(ctx, UserTopic(userID), thread, events.MuteChanged{UserID: userID, Muted: muted})
}
