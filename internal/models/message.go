package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MaxMessageLength = 2000
	TempIDPrefix     = "temp-"
)

type Message struct {
	ID       uuid.UUID `json:"id"`
	TempID   string    `json:"temp_id,omitempty"`
	ThreadID ThreadRef `json:"thread"`
	SenderID uuid.UUID `json:"sender_id"`
	Content  string    `json:"content"`
	// ClientToken is the idempotency token echoed back by the store.
	ClientToken  string    `json:"client_token,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	IsOptimistic bool      `json:"is_optimistic"`
}

// Key is the server id once confirmed, the temp id while optimistic.
func (m Message) Key() string {
	if m.ID != uuid.Nil {
		return m.ID.String()
	}
	return m.TempID
}

func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

type CreateMessageParams struct {
	Thread      ThreadRef
	SenderID    uuid.UUID
	Content     string
	ClientToken string
}

// ThreadPreview is the most recent message of a thread.
type ThreadPreview struct {
	Thread        ThreadRef `json:"thread"`
	LastMessageID uuid.UUID `json:"last_message_id"`
	SenderID      uuid.UUID `json:"sender_id"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
}
