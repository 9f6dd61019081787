package models

import (
	"time"

	"github.com/google/uuid"
)

type InvitationStatus string

const (
	InvitationStatusPending  InvitationStatus = "pending"
	InvitationStatusAccepted InvitationStatus = "accepted"
	InvitationStatusDeclined InvitationStatus = "declined"
)

// Terminal reports whether no further transition is allowed.
func (s InvitationStatus) Terminal() bool {
	return s == InvitationStatusAccepted || s == InvitationStatusDeclined
}

func (s InvitationStatus) Valid() bool {
	switch s {
	case InvitationStatusPending, InvitationStatusAccepted, InvitationStatusDeclined:
		return true
	}
	return false
}

type Invitation struct {
	ID            uuid.UUID        `json:"id"`
	SenderID      uuid.UUID        `json:"sender_id"`
	ReceiverID    uuid.UUID        `json:"receiver_id"`
	ActivityLabel string           `json:"activity_label"`
	EventID       *uuid.UUID       `json:"event_id,omitempty"`
	Status        InvitationStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// PendingInvitation is an incoming request joined with its sender's profile.
type PendingInvitation struct {
	Invitation
	Sender UserSummary `json:"sender"`
}

// Connection exists iff an invitation reached accepted. Its thread key is the invitation id.
type Connection struct {
	InvitationID  uuid.UUID   `json:"invitation_id"`
	Peer          UserSummary `json:"peer"`
	ActivityLabel string      `json:"activity_label"`
	ConnectedAt   time.Time   `json:"connected_at"`
}

// Thread returns the direct-message thread this connection owns.
func (c Connection) Thread() ThreadRef {
	return ThreadRef{Type: ThreadTypeDM, ID: c.InvitationID}
}

type CreateInvitationParams struct {
	SenderID      uuid.UUID
	ReceiverID    uuid.UUID
	ActivityLabel string
	EventID       *uuid.UUID
}
