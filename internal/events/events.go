// Package events defines the push events exchanged over the realtime channel and
// validates raw payloads into them before any engine code sees them.
package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/nearby/internal/models"
)

type Kind string

const (
	KindInvitationChanged Kind = "invitation_changed"
	KindMessageInserted   Kind = "message_inserted"
	KindTypingChanged     Kind = "typing_changed"
	KindMuteChanged       Kind = "mute_changed"
)

var (
	ErrUnknownKind     = errors.New("unknown event kind")
	ErrInvalidEnvelope = errors.New("invalid event envelope")
	ErrInvalidPayload  = errors.New("invalid event payload")
)

// Event is a closed set: InvitationChanged, MessageInserted, TypingChanged or
// MuteChanged.
type Event interface {
	Kind() Kind
	validate(thread models.ThreadRef) error
}

// Subscriber receives validated events for a thread. Implementations must not block.
type Subscriber interface {
	OnEvent(thread models.ThreadRef, ev Event)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(thread models.ThreadRef, ev Event)

func (f SubscriberFunc) OnEvent(thread models.ThreadRef, ev Event) {
	f(thread, ev)
}

type InvitationChanged struct {
	Invitation models.Invitation `json:"invitation"`
}

func (InvitationChanged) Kind() Kind { return KindInvitationChanged }

func (e InvitationChanged) validate(thread models.ThreadRef) error {
	inv := e.Invitation
	if inv.ID == uuid.Nil || inv.SenderID == uuid.Nil || inv.ReceiverID == uuid.Nil {
		return fmt.Errorf("%w: invitation ids are required", ErrInvalidPayload)
	}
	if !inv.Status.Valid() {
		return fmt.Errorf("%w: invitation status %q", ErrInvalidPayload, inv.Status)
	}
	if thread.Type != models.ThreadTypeDM || thread.ID != inv.ID {
		return fmt.Errorf("%w: invitation thread mismatch", ErrInvalidPayload)
	}
	return nil
}

type MessageInserted struct {
	Message models.Message `json:"message"`
}

func (MessageInserted) Kind() Kind { return KindMessageInserted }

func (e MessageInserted) validate(thread models.ThreadRef) error {
	m := e.Message
	if m.ID == uuid.Nil || m.SenderID == uuid.Nil {
		return fmt.Errorf("%w: message ids are required", ErrInvalidPayload)
	}
	if m.ThreadID != thread {
		return fmt.Errorf("%w: message thread mismatch", ErrInvalidPayload)
	}
	if m.Content == "" {
		return fmt.Errorf("%w: message content is empty", ErrInvalidPayload)
	}
	if m.CreatedAt.IsZero() {
		return fmt.Errorf("%w: message created_at is required", ErrInvalidPayload)
	}
	if m.IsOptimistic {
		return fmt.Errorf("%w: pushed messages cannot be optimistic", ErrInvalidPayload)
	}
	return nil
}

type TypingChanged struct {
	UserID uuid.UUID `json:"user_id"`
	Typing bool      `json:"typing"`
}

func (TypingChanged) Kind() Kind { return KindTypingChanged }

func (e TypingChanged) validate(models.ThreadRef) error {
	if e.UserID == uuid.Nil {
		return fmt.Errorf("%w: typing user is required", ErrInvalidPayload)
	}
	return nil
}

// MuteChanged tells a user's other sessions that a thread's mute flag changed.
type MuteChanged struct {
	UserID uuid.UUID `json:"user_id"`
	Muted  bool      `json:"muted"`
}

func (MuteChanged) Kind() Kind { return KindMuteChanged }

func (e MuteChanged) validate(models.ThreadRef) error {
	if e.UserID == uuid.Nil {
		return fmt.Errorf("%w: mute user is required", ErrInvalidPayload)
	}
	return nil
}

type envelope struct {
	Kind    Kind            `json:"kind"`
	Thread  string          `json:"thread"`
	Payload json.RawMessage `json:"payload"`
}

// Encode produces the wire form carried by the push channel.
func Encode(thread models.ThreadRef, ev Event) ([]byte, error) {
	if !thread.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, models.ErrInvalidThreadRef)
	}
	if err := ev.validate(thread); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", ev.Kind(), err)
	}
	return json.Marshal(envelope{Kind: ev.Kind(), Thread: thread.Key(), Payload: payload})
}

// Decode validates a raw push payload into a typed event.
func Decode(data []byte) (models.ThreadRef, Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return models.ThreadRef{}, nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	thread, err := models.ParseThreadRef(env.Thread)
	if err != nil {
		return models.ThreadRef{}, nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if len(env.Payload) == 0 {
		return models.ThreadRef{}, nil, fmt.Errorf("%w: missing payload", ErrInvalidEnvelope)
	}

	var ev Event
	switch env.Kind {
	case KindInvitationChanged:
		var e InvitationChanged
		err = json.Unmarshal(env.Payload, &e)
		ev = e
	case KindMessageInserted:
		var e MessageInserted
		err = json.Unmarshal(env.Payload, &e)
		ev = e
	case KindTypingChanged:
		var e TypingChanged
		err = json.Unmarshal(env.Payload, &e)
		ev = e
	case KindMuteChanged:
		var e MuteChanged
		err = json.Unmarshal(env.Payload, &e)
		ev = e
	default:
		return models.ThreadRef{}, nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	if err != nil {
		return models.ThreadRef{}, nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := ev.validate(thread); err != nil {
		return models.ThreadRef{}, nil, err
	}
	return thread, ev, nil
}
