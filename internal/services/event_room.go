package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/nearby/internal/models"
)

type EventRoomService struct {
	db DB
}

func NewEventRoomService(db DB) *EventRoomService {
	return &EventRoomService{db: db}
}

// ListForUser returns every room the user hosts or has joined.
func (s *EventRoomService) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.EventRoom, error) {
	rows, err := s.db.Query(ctx,
		`SELECT r.event_id, r.host_id, r.title, r.image_url, r.host_id = $1, r.created_at
		 FROM event_rooms r
		 WHERE r.host_id = $1
		    OR EXISTS (SELECT 1 FROM event_members m WHERE m.event_id = r.event_id AND m.user_id = $1)
		 ORDER BY r.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing event rooms: %w", err)
	}
	defer rows.Close()

	var rooms []models.EventRoom
	for rows.Next() {
		var r models.EventRoom
		if err := rows.Scan(&r.EventID, &r.HostID, &r.Title, &r.ImageURL, &r.IsHost, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event room: %w", err)
		}
		rooms = append(rooms, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing event rooms: %w", err)
	}

	if rooms == nil {
		rooms = []models.EventRoom{}
	}
	return rooms, nil
}
