package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/HammerMeetNail/nearby/internal/logging"
	"github.com/HammerMeetNail/nearby/internal/models"
)

var (
	ErrInvitationNotFound     = errors.New("invitation not found")
	ErrDuplicateInvitation    = errors.New("a pending invitation or connection already exists")
	ErrAlreadyResolved        = errors.New("invitation is already resolved")
	ErrCannotInviteSelf       = errors.New("cannot invite yourself")
	ErrNotInvitationRecipient = errors.New("only the recipient can accept or decline")
	ErrNotInvitationSender    = errors.New("only the sender can cancel")
	ErrActivityLabelTooLong   = errors.New("activity label is too long")
)

const MaxActivityLabelLength = 80

// InvitationNotifier is told about every status transition after it commits.
type InvitationNotifier interface {
	InvitationChanged(ctx context.Context, invitation *models.Invitation) error
}

type InvitationService struct {
	db       DB
	notifier InvitationNotifier
}

func NewInvitationService(db DB) *InvitationService {
	return &InvitationService{db: db}
}

func (s *InvitationService) SetNotifier(notifier InvitationNotifier) {
	s.notifier = notifier
}

const invitationColumns = `id, sender_id, receiver_id, activity_label, event_id, status, created_at, updated_at`

func scanInvitation(row Row) (*models.Invitation, error) {
	inv := &models.Invitation{}
	err := row.Scan(&inv.ID, &inv.SenderID, &inv.ReceiverID, &inv.ActivityLabel, &inv.EventID, &inv.Status, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *InvitationService) Send(ctx context.Context, params models.CreateInvitationParams) (*models.Invitation, error) {
	if params.SenderID == params.ReceiverID {
		return nil, ErrCannotInviteSelf
	}
	label := strings.TrimSpace(params.ActivityLabel)
	if len([]rune(label)) > MaxActivityLabelLength {
		return nil, ErrActivityLabelTooLong
	}

	// Pending or accepted in either direction blocks a new row.
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM invitations
			WHERE ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))
			  AND status IN ('pending', 'accepted')
		)`,
		params.SenderID, params.ReceiverID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("checking invitation existence: %w", err)
	}
	if exists {
		return nil, ErrDuplicateInvitation
	}

	inv, err := scanInvitation(s.db.QueryRow(ctx,
		`INSERT INTO invitations (sender_id, receiver_id, activity_label, event_id, status)
		 VALUES ($1, $2, $3, $4, 'pending')
		 RETURNING `+invitationColumns,
		params.SenderID, params.ReceiverID, label, params.EventID,
	))
	if err != nil {
		// The partial unique index on the unordered pair catches a concurrent send.
		if pgErrorCode(err) == pgUniqueViolation {
			return nil, ErrDuplicateInvitation
		}
		return nil, fmt.Errorf("creating invitation: %w", err)
	}

	s.notify(ctx, inv)
	return inv, nil
}

func (s *InvitationService) Accept(ctx context.Context, userID, invitationID uuid.UUID) (*models.Invitation, error) {
	return s.resolve(ctx, userID, invitationID, models.InvitationStatusAccepted)
}

func (s *InvitationService) Decline(ctx context.Context, userID, invitationID uuid.UUID) (*models.Invitation, error) {
	return s.resolve(ctx, userID, invitationID, models.InvitationStatusDeclined)
}

// resolve moves a pending invitation to a terminal status. The row lock plus the
// status predicate on the UPDATE make the first writer win; the loser gets
// ErrAlreadyResolved and must refresh.
func (s *InvitationService) resolve(ctx context.Context, userID, invitationID uuid.UUID, status models.InvitationStatus) (*models.Invitation, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin invitation %s transaction: %w", status, err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	inv, err := scanInvitation(tx.QueryRow(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE id = $1 FOR UPDATE`,
		invitationID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvitationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading invitation: %w", err)
	}

	if inv.ReceiverID != userID {
		if inv.SenderID == userID {
			return nil, ErrNotInvitationRecipient
		}
		return nil, ErrInvitationNotFound
	}
	if inv.Status.Terminal() {
		return nil, ErrAlreadyResolved
	}

	updated, err := scanInvitation(tx.QueryRow(ctx,
		`UPDATE invitations SET status = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+invitationColumns,
		invitationID, string(status),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAlreadyResolved
	}
	if err != nil {
		return nil, fmt.Errorf("updating invitation: %w", err)
	}

	if status == models.InvitationStatusAccepted && updated.EventID != nil {
		_, err = tx.Exec(ctx,
			`INSERT INTO event_members (event_id, user_id)
			 VALUES ($1, $2), ($1, $3)
			 ON CONFLICT DO NOTHING`,
			*updated.EventID, updated.SenderID, updated.ReceiverID,
		)
		if err != nil {
			return nil, fmt.Errorf("joining shared event room: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit invitation %s: %w", status, err)
	}
	committed = true

	s.notify(ctx, updated)
	return updated, nil
}

func (s *InvitationService) Cancel(ctx context.Context, userID, invitationID uuid.UUID) error {
	inv, err := s.GetByID(ctx, invitationID)
	if err != nil {
		return err
	}
	if inv.SenderID != userID {
		return ErrNotInvitationSender
	}
	if inv.Status.Terminal() {
		return ErrAlreadyResolved
	}

	result, err := s.db.Exec(ctx,
		"DELETE FROM invitations WHERE id = $1 AND status = 'pending'",
		invitationID,
	)
	if err != nil {
		return fmt.Errorf("canceling invitation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrAlreadyResolved
	}

	// The row is gone; both feeds get its last state so live inboxes refresh.
	s.notify(ctx, inv)
	return nil
}

func (s *InvitationService) GetByID(ctx context.Context, invitationID uuid.UUID) (*models.Invitation, error) {
	inv, err := scanInvitation(s.db.QueryRow(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE id = $1`,
		invitationID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvitationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting invitation: %w", err)
	}
	return inv, nil
}

func (s *InvitationService) ListPending(ctx context.Context, receiverID uuid.UUID) ([]models.PendingInvitation, error) {
	rows, err := s.db.Query(ctx,
		`SELECT i.id, i.sender_id, i.receiver_id, i.activity_label, i.event_id, i.status, i.created_at, i.updated_at,
		        u.id, u.display_name, u.avatar_url
		 FROM invitations i
		 JOIN users u ON u.id = i.sender_id
		 WHERE i.receiver_id = $1 AND i.status = 'pending'
		 ORDER BY i.created_at DESC`,
		receiverID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing pending invitations: %w", err)
	}
	defer rows.Close()

	var pending []models.PendingInvitation
	for rows.Next() {
		var p models.PendingInvitation
		if err := rows.Scan(&p.ID, &p.SenderID, &p.ReceiverID, &p.ActivityLabel, &p.EventID, &p.Status, &p.CreatedAt, &p.UpdatedAt,
			&p.Sender.ID, &p.Sender.DisplayName, &p.Sender.AvatarURL); err != nil {
			return nil, fmt.Errorf("scanning pending invitation: %w", err)
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing pending invitations: %w", err)
	}

	if pending == nil {
		pending = []models.PendingInvitation{}
	}
	return pending, nil
}

func (s *InvitationService) ListSent(ctx context.Context, senderID uuid.UUID) ([]models.Invitation, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+invitationColumns+`
		 FROM invitations
		 WHERE sender_id = $1 AND status = 'pending'
		 ORDER BY created_at DESC`,
		senderID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sent invitations: %w", err)
	}
	defer rows.Close()

	var sent []models.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sent invitation: %w", err)
		}
		sent = append(sent, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing sent invitations: %w", err)
	}

	if sent == nil {
		sent = []models.Invitation{}
	}
	return sent, nil
}

// ListConnections projects accepted invitations into connections from userID's side.
func (s *InvitationService) ListConnections(ctx context.Context, userID uuid.UUID) ([]models.Connection, error) {
	rows, err := s.db.Query(ctx,
		`SELECT i.id, i.activity_label, i.updated_at, u.id, u.display_name, u.avatar_url
		 FROM invitations i
		 JOIN users u ON u.id = CASE WHEN i.sender_id = $1 THEN i.receiver_id ELSE i.sender_id END
		 WHERE (i.sender_id = $1 OR i.receiver_id = $1) AND i.status = 'accepted'
		 ORDER BY i.updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing connections: %w", err)
	}
	defer rows.Close()

	var conns []models.Connection
	for rows.Next() {
		var c models.Connection
		if err := rows.Scan(&c.InvitationID, &c.ActivityLabel, &c.ConnectedAt, &c.Peer.ID, &c.Peer.DisplayName, &c.Peer.AvatarURL); err != nil {
			return nil, fmt.Errorf("scanning connection: %w", err)
		}
		conns = append(conns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing connections: %w", err)
	}

	if conns == nil {
		conns = []models.Connection{}
	}
	return conns, nil
}

func (s *InvitationService) notify(ctx context.Context, inv *models.Invitation) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.InvitationChanged(ctx, inv); err != nil {
		logging.Warn("Failed to publish invitation change", map[string]interface{}{
			"invitation_id": inv.ID.String(),
			"status":        string(inv.Status),
			"error":         err.Error(),
		})
	}
}
