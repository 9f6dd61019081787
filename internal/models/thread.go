package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type ThreadType string

const (
	ThreadTypeDM   ThreadType = "dm"
	ThreadTypeSpot ThreadType = "spot"
)

var ErrInvalidThreadRef = errors.New("invalid thread reference")

// ThreadRef identifies a messaging surface: a dm thread keyed by invitation id
// or an event room keyed by event id.
type ThreadRef struct {
	Type ThreadType `json:"type"`
	ID   uuid.UUID  `json:"id"`
}

func (t ThreadRef) Key() string {
	return string(t.Type) + ":" + t.ID.String()
}

func (t ThreadRef) String() string {
	return t.Key()
}

func (t ThreadRef) Valid() bool {
	return (t.Type == ThreadTypeDM || t.Type == ThreadTypeSpot) && t.ID != uuid.Nil
}

// ParseThreadRef parses the "type:uuid" form produced by Key.
func ParseThreadRef(s string) (ThreadRef, error) {
	kind, rawID, ok := strings.Cut(s, ":")
	if !ok {
		return ThreadRef{}, fmt.Errorf("%w: %q", ErrInvalidThreadRef, s)
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return ThreadRef{}, fmt.Errorf("%w: %v", ErrInvalidThreadRef, err)
	}
	ref := ThreadRef{Type: ThreadType(kind), ID: id}
	if !ref.Valid() {
		return ThreadRef{}, fmt.Errorf("%w: %q", ErrInvalidThreadRef, s)
	}
	return ref, nil
}
