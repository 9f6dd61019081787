package models

import (
	"time"

	"github.com/google/uuid"
)

// EventRoom is a group chat scoped to an event ("spot").
type EventRoom struct {
	EventID   uuid.UUID `json:"event_id"`
	HostID    uuid.UUID `json:"host_id"`
	Title     string    `json:"title"`
	ImageURL  string    `json:"image_url"`
	IsHost    bool      `json:"is_host"`
	CreatedAt time.Time `json:"created_at"`
}

func (r EventRoom) Thread() ThreadRef {
	return ThreadRef{Type: ThreadTypeSpot, ID: r.EventID}
}
