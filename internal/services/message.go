package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/HammerMeetNail/nearby/internal/logging"
	"github.com/HammerMeetNail/nearby/internal/models"
)

var (
	// ErrConnectionTerminated means the thread no longer grants the sender
	// permission, e.g. the other party disconnected or left the event.
	ErrConnectionTerminated = errors.New("connection terminated")
	ErrInvalidThread        = errors.New("invalid thread")
	// ErrClientTokenConflict means the sender reused a client token for
	// different content.
	ErrClientTokenConflict = errors.New("client token already used")
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// MessagePublisher fans a committed message out to the push channel.
type MessagePublisher interface {
	MessageInserted(ctx context.Context, msg *models.Message, recipients []uuid.UUID) error
}

type MessageService struct {
	db        DB
	publisher MessagePublisher
}

func NewMessageService(db DB) *MessageService {
	return &MessageService{db: db}
}

func (s *MessageService) SetPublisher(publisher MessagePublisher) {
	s.publisher = publisher
}

const messageColumns = `id, thread_type, thread_id, sender_id, content, client_token, created_at`

func scanMessage(row Row) (*models.Message, error) {
	m := &models.Message{}
	var threadType string
	if err := row.Scan(&m.ID, &threadType, &m.ThreadID.ID, &m.SenderID, &m.Content, &m.ClientToken, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.ThreadID.Type = models.ThreadType(threadType)
	return m, nil
}

// Create durably writes a message. The client token makes retries idempotent:
// a second write by the same sender with the same token returns the first row
// and is not published again.
func (s *MessageService) Create(ctx context.Context, params models.CreateMessageParams) (*models.Message, error) {
	if !params.Thread.Valid() {
		return nil, ErrInvalidThread
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin message transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	recipients, err := s.participants(ctx, tx, params.Thread, true)
	if err != nil {
		return nil, err
	}
	if !containsUser(recipients, params.SenderID) {
		return nil, ErrConnectionTerminated
	}

	msg := &models.Message{}
	var threadType string
	var inserted bool
	err = tx.QueryRow(ctx,
		`INSERT INTO messages (thread_type, thread_id, sender_id, content, client_token)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (thread_type, thread_id, sender_id, client_token) WHERE client_token <> ''
		 DO UPDATE SET client_token = EXCLUDED.client_token
		 RETURNING `+messageColumns+`, (xmax = 0) AS inserted`,
		string(params.Thread.Type), params.Thread.ID, params.SenderID, params.Content, params.ClientToken,
	).Scan(&msg.ID, &threadType, &msg.ThreadID.ID, &msg.SenderID, &msg.Content, &msg.ClientToken, &msg.CreatedAt, &inserted)
	if err != nil {
		if code := pgErrorCode(err); code == pgInsufficientPrivilege {
			return nil, ErrConnectionTerminated
		}
		return nil, fmt.Errorf("creating message: %w", err)
	}
	msg.ThreadID.Type = models.ThreadType(threadType)
	if msg.SenderID != params.SenderID || msg.Content != params.Content {
		return nil, ErrClientTokenConflict
	}

	if err := tx.Commit(ctx); err != nil {
		if pgErrorCode(err) == pgInsufficientPrivilege {
			return nil, ErrConnectionTerminated
		}
		return nil, fmt.Errorf("commit message: %w", err)
	}
	committed = true

	if inserted && s.publisher != nil {
		if err := s.publisher.MessageInserted(ctx, msg, recipients); err != nil {
			logging.Warn("Failed to publish message", map[string]interface{}{
				"message_id": msg.ID.String(),
				"thread":     msg.ThreadID.Key(),
				"error":      err.Error(),
			})
		}
	}
	return msg, nil
}

// List returns up to limit most recent messages in ascending creation order.
func (s *MessageService) List(ctx context.Context, userID uuid.UUID, thread models.ThreadRef, limit int) ([]models.Message, error) {
	if !thread.Valid() {
		return nil, ErrInvalidThread
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	members, err := s.participants(ctx, s.db, thread, false)
	if err != nil {
		return nil, err
	}
	if !containsUser(members, userID) {
		return nil, ErrConnectionTerminated
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE thread_type = $1 AND thread_id = $2
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		 ) recent
		 ORDER BY created_at ASC, id ASC`,
		string(thread.Type), thread.ID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	if messages == nil {
		messages = []models.Message{}
	}
	return messages, nil
}

// Previews returns the latest message of every thread userID can see.
func (s *MessageService) Previews(ctx context.Context, userID uuid.UUID) ([]models.ThreadPreview, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT ON (m.thread_type, m.thread_id)
		        m.thread_type, m.thread_id, m.id, m.sender_id, m.content, m.created_at
		 FROM messages m
		 WHERE (m.thread_type = 'dm' AND m.thread_id IN (
		          SELECT id FROM invitations
		          WHERE status = 'accepted' AND (sender_id = $1 OR receiver_id = $1)))
		    OR (m.thread_type = 'spot' AND m.thread_id IN (
		          SELECT event_id FROM event_rooms WHERE host_id = $1
		          UNION
		          SELECT event_id FROM event_members WHERE user_id = $1))
		 ORDER BY m.thread_type, m.thread_id, m.created_at DESC, m.id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing thread previews: %w", err)
	}
	defer rows.Close()

	var previews []models.ThreadPreview
	for rows.Next() {
		var p models.ThreadPreview
		var threadType string
		if err := rows.Scan(&threadType, &p.Thread.ID, &p.LastMessageID, &p.SenderID, &p.Content, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning thread preview: %w", err)
		}
		p.Thread.Type = models.ThreadType(threadType)
		previews = append(previews, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing thread previews: %w", err)
	}

	if previews == nil {
		previews = []models.ThreadPreview{}
	}
	return previews, nil
}

// MarkRead persists the read marker used to seed unread counts on the next session.
func (s *MessageService) MarkRead(ctx context.Context, userID uuid.UUID, thread models.ThreadRef, at time.Time) error {
	if !thread.Valid() {
		return ErrInvalidThread
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO thread_reads (user_id, thread_type, thread_id, last_read_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, thread_type, thread_id)
		 DO UPDATE SET last_read_at = GREATEST(thread_reads.last_read_at, EXCLUDED.last_read_at)`,
		userID, string(thread.Type), thread.ID, at,
	)
	if err != nil {
		return fmt.Errorf("marking thread read: %w", err)
	}
	return nil
}

// UnreadCounts counts messages from others newer than each thread's read marker.
func (s *MessageService) UnreadCounts(ctx context.Context, userID uuid.UUID) (map[models.ThreadRef]int, error) {
	rows, err := s.db.Query(ctx,
		`SELECT m.thread_type, m.thread_id, COUNT(*)
		 FROM messages m
		 LEFT JOIN thread_reads r
		   ON r.user_id = $1 AND r.thread_type = m.thread_type AND r.thread_id = m.thread_id
		 WHERE m.sender_id <> $1
		   AND (r.last_read_at IS NULL OR m.created_at > r.last_read_at)
		   AND ((m.thread_type = 'dm' AND m.thread_id IN (
		          SELECT id FROM invitations
		          WHERE status = 'accepted' AND (sender_id = $1 OR receiver_id = $1)))
		     OR (m.thread_type = 'spot' AND m.thread_id IN (
		          SELECT event_id FROM event_rooms WHERE host_id = $1
		          UNION
		          SELECT event_id FROM event_members WHERE user_id = $1)))
		 GROUP BY m.thread_type, m.thread_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("counting unread messages: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.ThreadRef]int)
	for rows.Next() {
		var threadType string
		var ref models.ThreadRef
		var n int
		if err := rows.Scan(&threadType, &ref.ID, &n); err != nil {
			return nil, fmt.Errorf("scanning unread count: %w", err)
		}
		ref.Type = models.ThreadType(threadType)
		counts[ref] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("counting unread messages: %w", err)
	}
	return counts, nil
}

// Participants lists the users allowed to read and write a thread.
func (s *MessageService) Participants(ctx context.Context, thread models.ThreadRef) ([]uuid.UUID, error) {
	if !thread.Valid() {
		return nil, ErrInvalidThread
	}
	return s.participants(ctx, s.db, thread, false)
}

func (s *MessageService) participants(ctx context.Context, conn DBConn, thread models.ThreadRef, lock bool) ([]uuid.UUID, error) {
	switch thread.Type {
	case models.ThreadTypeDM:
		query := `SELECT sender_id, receiver_id, status FROM invitations WHERE id = $1`
		if lock {
			query += ` FOR SHARE`
		}
		var senderID, receiverID uuid.UUID
		var status string
		err := conn.QueryRow(ctx, query, thread.ID).Scan(&senderID, &receiverID, &status)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConnectionTerminated
		}
		if err != nil {
			return nil, fmt.Errorf("loading connection: %w", err)
		}
		if models.InvitationStatus(status) != models.InvitationStatusAccepted {
			return nil, ErrConnectionTerminated
		}
		return []uuid.UUID{senderID, receiverID}, nil

	case models.ThreadTypeSpot:
		rows, err := conn.Query(ctx,
			`SELECT host_id FROM event_rooms WHERE event_id = $1
			 UNION
			 SELECT user_id FROM event_members WHERE event_id = $1`,
			thread.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("loading room members: %w", err)
		}
		defer rows.Close()

		var members []uuid.UUID
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				return nil, fmt.Errorf("scanning room member: %w", err)
			}
			members = append(members, id)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("loading room members: %w", err)
		}
		if len(members) == 0 {
			return nil, ErrConnectionTerminated
		}
		return members, nil
	}
	return nil, ErrInvalidThread
}

func containsUser(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
