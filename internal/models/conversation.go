package models

import (
	"time"

	"github.com/google/uuid"
)

type ConversationType string

const (
	ConversationPendingInvite ConversationType = "pending_invite"
	ConversationDM            ConversationType = "dm"
	ConversationSpot          ConversationType = "spot"
)

// ConversationItem is one inbox row. It is a projection, never stored.
type ConversationItem struct {
	ID             string           `json:"id"`
	Type           ConversationType `json:"type"`
	Title          string           `json:"title"`
	Subtitle       string           `json:"subtitle"`
	AvatarURL      string           `json:"avatar_url"`
	LastActivityAt time.Time        `json:"last_activity_at"`
	UnreadCount    int              `json:"unread_count"`
	Muted          bool             `json:"muted"`
	InvitationID   *uuid.UUID       `json:"invitation_id,omitempty"`
	UserID         *uuid.UUID       `json:"user_id,omitempty"`
	EventID        *uuid.UUID       `json:"event_id,omitempty"`
}

type MuteEntry struct {
	Thread ThreadRef `json:"thread"`
	Muted  bool      `json:"muted"`
}
