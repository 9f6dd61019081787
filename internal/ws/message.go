package ws

import (
	"github.com/google/uuid"

	"github.com/HammerMeetNail/nearby/internal/models"
)

type EventType string

const (
	// Client to server.
	EventOpenThread        EventType = "open_thread"
	EventCloseThread       EventType = "close_thread"
	EventSendMessage       EventType = "send_message"
	EventKeystroke         EventType = "typing"
	EventBlur              EventType = "blur"
	EventSetDraft          EventType = "set_draft"
	EventToggleMute        EventType = "toggle_mute"
	EventSendInvitation    EventType = "send_invitation"
	EventAcceptInvitation  EventType = "accept_invitation"
	EventDeclineInvitation EventType = "decline_invitation"
	EventCancelInvitation  EventType = "cancel_invitation"
	EventRefresh           EventType = "refresh"

	// Server to client.
	EventInbox      EventType = "inbox"
	EventThread     EventType = "thread"
	EventTyping     EventType = "typing_users"
	EventMessageAck EventType = "message_ack"
	EventMute       EventType = "mute"
	EventInvitation EventType = "invitation"
	EventError      EventType = "error"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type      EventType `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	Thread    string    `json:"thread,omitempty"`
	Content   string    `json:"content,omitempty"`

	// For invitations
	InvitationID  string `json:"invitation_id,omitempty"`
	ReceiverID    string `json:"receiver_id,omitempty"`
	ActivityLabel string `json:"activity_label,omitempty"`
	EventID       string `json:"event_id,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

type InboxPayload struct {
	Items       []models.ConversationItem `json:"items"`
	TotalUnread int                       `json:"total_unread"`
}

type ThreadPayload struct {
	Thread   models.ThreadRef `json:"thread"`
	Messages []models.Message `json:"messages"`
	Draft    string           `json:"draft"`
}

type TypingPayload struct {
	Thread  models.ThreadRef `json:"thread"`
	UserIDs []uuid.UUID      `json:"user_ids"`
}

type MessageAckPayload struct {
	RequestID string          `json:"request_id,omitempty"`
	Message   *models.Message `json:"message"`
}

type MutePayload struct {
	Thread models.ThreadRef `json:"thread"`
	Muted  bool             `json:"muted"`
}

type InvitationPayload struct {
	RequestID  string             `json:"request_id,omitempty"`
	Invitation *models.Invitation `json:"invitation,omitempty"`
}

// ErrorPayload carries a stable code clients switch on and a human message.
type ErrorPayload struct {
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Thread    string `json:"thread,omitempty"`
}
