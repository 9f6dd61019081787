// Package mute holds the viewing user's per-thread mute flags.
package mute

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/nearby/internal/logging"
	"github.com/HammerMeetNail/nearby/internal/models"
)

// Backend persists mute flags across sessions.
type Backend interface {
	Load(ctx context.Context, userID uuid.UUID) ([]models.ThreadRef, error)
	Save(ctx context.Context, userID uuid.UUID, thread models.ThreadRef, muted bool) error
}

// Publisher announces a persisted flag change to the user's other sessions.
type Publisher interface {
	MuteChanged(ctx context.Context, userID uuid.UUID, thread models.ThreadRef, muted bool) error
}

// Store is one user's mute flags.
type Store struct {
	mu        sync.RWMutex
	userID    uuid.UUID
	muted     map[models.ThreadRef]bool
	backend   Backend
	publisher Publisher
}

// NewStore creates an empty store for userID. A nil backend keeps flags in
// memory only.
func NewStore(userID uuid.UUID, backend Backend) *Store {
	return &Store{
		userID:  userID,
		muted:   make(map[models.ThreadRef]bool),
		backend: backend,
	}
}

// SetPublisher makes every successful SetMuted announce the change.
func (s *Store) SetPublisher(publisher Publisher) {
	s.publisher = publisher
}

// Load replaces the in-memory flags with the persisted ones.
func (s *Store) Load(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	threads, err := s.backend.Load(ctx, s.userID)
	if err != nil {
		return fmt.Errorf("loading mutes: %w", err)
	}
	muted := make(map[models.ThreadRef]bool, len(threads))
	for _, t := range threads {
		muted[t] = true
	}
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
	return nil
}

func (s *Store) IsMuted(thread models.ThreadRef) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.muted[thread]
}

// SetMuted persists first and only then updates memory, so a failed write
// leaves the flag unchanged.
func (s *Store) SetMuted(ctx context.Context, thread models.ThreadRef, muted bool) error {
	if !thread.Valid() {
		return models.ErrInvalidThreadRef
	}
	if s.backend != nil {
		if err := s.backend.Save(ctx, s.userID, thread, muted); err != nil {
			return fmt.Errorf("saving mute: %w", err)
		}
	}
	s.Apply(thread, muted)

	if s.publisher != nil {
		if err := s.publisher.MuteChanged(ctx, s.userID, thread, muted); err != nil {
			logging.Warn("Failed to publish mute change", map[string]interface{}{
				"thread": thread.Key(),
				"error":  err.Error(),
			})
		}
	}
	return nil
}

// Apply sets the in-memory flag only, for changes already persisted elsewhere.
func (s *Store) Apply(thread models.ThreadRef, muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if muted {
		s.muted[thread] = true
	} else {
		delete(s.muted, thread)
	}
}

// Toggle flips the flag and returns the new value.
func (s *Store) Toggle(ctx context.Context, thread models.ThreadRef) (bool, error) {
	next := !s.IsMuted(thread)
	if err := s.SetMuted(ctx, thread, next); err != nil {
		return !next, err
	}
	return next, nil
}

// Entries lists muted threads in key order.
func (s *Store) Entries() []models.MuteEntry {
	s.mu.RLock()
	entries := make([]models.MuteEntry, 0, len(s.muted))
	for t := range s.muted {
		entries = append(entries, models.MuteEntry{Thread: t, Muted: true})
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Thread.Key() < entries[j].Thread.Key()
	})
	return entries
}
