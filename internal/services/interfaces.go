package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/nearby/internal/models"
)

// UserServiceInterface defines the contract for user lookups.
type UserServiceInterface interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

// InvitationServiceInterface defines the contract for the invitation lifecycle.
type InvitationServiceInterface interface {
	Send(ctx context.Context, params models.CreateInvitationParams) (*models.Invitation, error)
	Accept(ctx context.Context, userID, invitationID uuid.UUID) (*models.Invitation, error)
	Decline(ctx context.Context, userID, invitationID uuid.UUID) (*models.Invitation, error)
	Cancel(ctx context.Context, userID, invitationID uuid.UUID) error
	GetByID(ctx context.Context, invitationID uuid.UUID) (*models.Invitation, error)
	ListPending(ctx context.Context, receiverID uuid.UUID) ([]models.PendingInvitation, error)
	ListSent(ctx context.Context, senderID uuid.UUID) ([]models.Invitation, error)
	ListConnections(ctx context.Context, userID uuid.UUID) ([]models.Connection, error)
}

// MessageServiceInterface defines the contract for durable message storage.
type MessageServiceInterface interface {
	Create(ctx context.Context, params models.CreateMessageParams) (*models.Message, error)
	List(ctx context.Context, userID uuid.UUID, thread models.ThreadRef, limit int) ([]models.Message, error)
	Previews(ctx context.Context, userID uuid.UUID) ([]models.ThreadPreview, error)
	MarkRead(ctx context.Context, userID uuid.UUID, thread models.ThreadRef, at time.Time) error
	UnreadCounts(ctx context.Context, userID uuid.UUID) (map[models.ThreadRef]int, error)
	Participants(ctx context.Context, thread models.ThreadRef) ([]uuid.UUID, error)
}

// EventRoomServiceInterface defines the contract for event room lookups.
type EventRoomServiceInterface interface {
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.EventRoom, error)
}

var (
	_ UserServiceInterface       = (*UserService)(nil)
	_ InvitationServiceInterface = (*InvitationService)(nil)
	_ MessageServiceInterface    = (*MessageService)(nil)
	_ EventRoomServiceInterface  = (*EventRoomService)(nil)
)
