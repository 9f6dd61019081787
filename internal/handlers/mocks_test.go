package handlers

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/nearby/internal/models"
	"github.com/HammerMeetNail/nearby/internal/services"
)

type mockUserService struct {
	GetByIDFunc func(ctx context.Context, id uuid.UUID) (*models.User, error)
	ExistsFunc  func(ctx context.Context, id uuid.UUID) (bool, error)
}

func (m *mockUserService) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockUserService) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	if m.ExistsFunc != nil {
		return m.ExistsFunc(ctx, id)
	}
	return true, nil
}

type mockInvitationService struct {
	SendFunc            func(ctx context.Context, params models.CreateInvitationParams) (*models.Invitation, error)
	AcceptFunc          func(ctx context.Context, userID, invitationID uuid.UUID) (*models.Invitation, error)
	DeclineFunc         func(ctx context.Context, userID, invitationID uuid.UUID) (*models.Invitation, error)
	CancelFunc          func(ctx context.Context, userID, invitationID uuid.UUID) error
	GetByIDFunc         func(ctx context.Context, invitationID uuid.UUID) (*models.Invitation, error)
	ListPendingFunc     func(ctx context.Context, receiverID uuid.UUID) ([]models.PendingInvitation, error)
	ListSentFunc        func(ctx context.Context, senderID uuid.UUID) ([]models.Invitation, error)
	ListConnectionsFunc func(ctx context.Context, userID uuid.UUID) ([]models.Connection, error)
}

func (m *mockInvitationService) Send(ctx context.Context, params models.CreateInvitationParams) (*models.Invitation, error) {
	if m.SendFunc != nil {
		return m.SendFunc(ctx, params)
	}
	return &models.Invitation{
		ID:            uuid.New(),
		SenderID:      params.SenderID,
		ReceiverID:    params.ReceiverID,
		ActivityLabel: params.ActivityLabel,
		EventID:       params.EventID,
		Status:        models.InvitationStatusPending,
	}, nil
}

func (m *mockInvitationService) Accept(ctx context.Context, userID, invitationID uuid.UUID) (*models.Invitation, error) {
	if m.AcceptFunc != nil {
		return m.AcceptFunc(ctx, userID, invitationID)
	}
	return &models.Invitation{ID: invitationID, ReceiverID: userID, Status: models.InvitationStatusAccepted}, nil
}

func (m *mockInvitationService) Decline(ctx context.Context, userID, invitationID uuid.UUID) (*models.Invitation, error) {
	if m.DeclineFunc != nil {
		return m.DeclineFunc(ctx, userID, invitationID)
	}
	return &models.Invitation{ID: invitationID, ReceiverID: userID, Status: models.InvitationStatusDeclined}, nil
}

func (m *mockInvitationService) Cancel(ctx context.Context, userID, invitationID uuid.UUID) error {
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, userID, invitationID)
	}
	return nil
}

func (m *mockInvitationService) GetByID(ctx context.Context, invitationID uuid.UUID) (*models.Invitation, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, invitationID)
	}
	return nil, services.ErrInvitationNotFound
}

func (m *mockInvitationService) ListPending(ctx context.Context, receiverID uuid.UUID) ([]models.PendingInvitation, error) {
	if m.ListPendingFunc != nil {
		return m.ListPendingFunc(ctx, receiverID)
	}
	return nil, nil
}

func (m *mockInvitationService) ListSent(ctx context.Context, senderID uuid.UUID) ([]models.Invitation, error) {
	if m.ListSentFunc != nil {
		return m.ListSentFunc(ctx, senderID)
	}
	return nil, nil
}

func (m *mockInvitationService) ListConnections(ctx context.Context, userID uuid.UUID) ([]models.Connection, error) {
	if m.ListConnectionsFunc != nil {
		return m.ListConnectionsFunc(ctx, userID)
	}
	return nil, nil
}

type mockMessageService struct {
	CreateFunc       func(ctx context.Context, params models.CreateMessageParams) (*models.Message, error)
	ListFunc         func(ctx context.Context, userID uuid.UUID, thread models.ThreadRef, limit int) ([]models.Message, error)
	PreviewsFunc     func(ctx context.Context, userID uuid.UUID) ([]models.ThreadPreview, error)
	MarkReadFunc     func(ctx context.Context, userID uuid.UUID, thread models.ThreadRef, at time.Time) error
	UnreadCountsFunc func(ctx context.Context, userID uuid.UUID) (map[models.ThreadRef]int, error)
	ParticipantsFunc func(ctx context.Context, thread models.ThreadRef) ([]uuid.UUID, error)
}

func (m *mockMessageService) Create(ctx context.Context, params models.CreateMessageParams) (*models.Message, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, params)
	}
	return &models.Message{
		ID:          uuid.New(),
		ThreadID:    params.Thread,
		SenderID:    params.SenderID,
		Content:     params.Content,
		ClientToken: params.ClientToken,
		CreatedAt:   time.Now(),
	}, nil
}

func (m *mockMessageService) List(ctx context.Context, userID uuid.UUID, thread models.ThreadRef, limit int) ([]models.Message, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, userID, thread, limit)
	}
	return nil, nil
}

func (m *mockMessageService) Previews(ctx context.Context, userID uuid.UUID) ([]models.ThreadPreview, error) {
	if m.PreviewsFunc != nil {
		return m.PreviewsFunc(ctx, userID)
	}
	return nil, nil
}

func (m *mockMessageService) MarkRead(ctx context.Context, userID uuid.UUID, thread models.ThreadRef, at time.Time) error {
	if m.MarkReadFunc != nil {
		return m.MarkReadFunc(ctx, userID, thread, at)
	}
	return nil
}

func (m *mockMessageService) UnreadCounts(ctx context.Context, userID uuid.UUID) (map[models.ThreadRef]int, error) {
	if m.UnreadCountsFunc != nil {
		return m.UnreadCountsFunc(ctx, userID)
	}
	return map[models.ThreadRef]int{}, nil
}

func (m *mockMessageService) Participants(ctx context.Context, thread models.ThreadRef) ([]uuid.UUID, error) {
	if m.ParticipantsFunc != nil {
		return m.ParticipantsFunc(ctx, thread)
	}
	return nil, nil
}

type mockEventRoomService struct {
	ListForUserFunc func(ctx context.Context, userID uuid.UUID) ([]models.EventRoom, error)
}

func (m *mockEventRoomService) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.EventRoom, error) {
	if m.ListForUserFunc != nil {
		return m.ListForUserFunc(ctx, userID)
	}
	return nil, nil
}

// mockMuteBackend keeps mutes in memory keyed by user.
type mockMuteBackend struct {
	muted   map[uuid.UUID]map[models.ThreadRef]bool
	LoadErr error
	SaveErr error
}

func newMockMuteBackend() *mockMuteBackend {
	return &mockMuteBackend{muted: make(map[uuid.UUID]map[models.ThreadRef]bool)}
}

func (m *mockMuteBackend) Load(ctx context.Context, userID uuid.UUID) ([]models.ThreadRef, error) {
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	var out []models.ThreadRef
	for thread := range m.muted[userID] {
		out = append(out, thread)
	}
	return out, nil
}

func (m *mockMuteBackend) Save(ctx context.Context, userID uuid.UUID, thread models.ThreadRef, muted bool) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	if m.muted[userID] == nil {
		m.muted[userID] = make(map[models.ThreadRef]bool)
	}
	if muted {
		m.muted[userID][thread] = true
	} else {
		delete(m.muted[userID], thread)
	}
	return nil
}

var (
	_ services.UserServiceInterface       = (*mockUserService)(nil)
	_ services.InvitationServiceInterface = (*mockInvitationService)(nil)
	_ services.MessageServiceInterface    = (*mockMessageService)(nil)
	_ services.EventRoomServiceInterface  = (*mockEventRoomService)(nil)
)
