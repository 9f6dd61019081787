// Package channel renders one thread's timeline: optimistic sends reconciled
// against store confirmations and push events.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/nearby/internal/events"
	"github.com/HammerMeetNail/nearby/internal/logging"
	"github.com/HammerMeetNail/nearby/internal/models"
	"github.com/HammerMeetNail/nearby/internal/services"
)

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message is too long")
	ErrNetworkFailure = errors.New("message could not be sent")
	// ErrConnectionTerminated is the store's permission failure; the thread has
	// been cleared when Send returns it.
	ErrConnectionTerminated = services.ErrConnectionTerminated
)

const (
	DefaultReconcileWindow = 5 * time.Second
	DefaultSendTimeout     = 15 * time.Second
)

// Store is the durable write path.
type Store interface {
	Create(ctx context.Context, params models.CreateMessageParams) (*models.Message, error)
}

// Config bounds a channel. Zero values fall back to the package defaults.
type Config struct {
	MaxLength       int
	ReconcileWindow time.Duration
	SendTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxLength <= 0 {
		c.MaxLength = models.MaxMessageLength
	}
	if c.ReconcileWindow <= 0 {
		c.ReconcileWindow = DefaultReconcileWindow
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	return c
}

// Option customizes a Channel at construction.
type Option func(*Channel)

// WithConfig sets the limits and timeouts, filling zero fields with defaults.
func WithConfig(cfg Config) Option {
	return func(c *Channel) { c.cfg = cfg.withDefaults() }
}

// WithClock replaces time.Now when stamping optimistic messages.
func WithClock(now func() time.Time) Option {
	return func(c *Channel) { c.now = now }
}

// OnChange is called after every timeline or draft mutation, outside the lock.
func OnChange(fn func(thread models.ThreadRef)) Option {
	return func(c *Channel) { c.onChange = fn }
}

// OnTerminated is called when the store reports the connection is gone.
func OnTerminated(fn func(thread models.ThreadRef)) Option {
	return func(c *Channel) { c.onTerminated = fn }
}

// Channel is safe for concurrent use. No lock is held across the store write,
// so push events for the same message can land while a send is in flight.
type Channel struct {
	mu       sync.Mutex
	thread   models.ThreadRef
	self     uuid.UUID
	store    Store
	cfg      Config
	now      func() time.Time
	timeline []models.Message
	draft    string

	onChange     func(models.ThreadRef)
	onTerminated func(models.ThreadRef)
}

// New creates an empty channel for thread as seen by self.
func New(thread models.ThreadRef, self uuid.UUID, store Store, opts ...Option) *Channel {
	c := &Channel{
		thread: thread,
		self:   self,
		store:  store,
		cfg:    Config{}.withDefaults(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Channel) Thread() models.ThreadRef {
	return c.thread
}

// Validate rejects content locally.
func (c *Channel) Validate(content string) error {
	return ValidateContent(content, c.cfg.MaxLength)
}

// ValidateContent rejects whitespace-only content and content longer than
// maxLength code points.
func ValidateContent(content string, maxLength int) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > maxLength {
		return ErrMessageTooLong
	}
	return nil
}

// Send renders content optimistically, clears the draft and writes it to the
// store. The temp id doubles as the idempotency token the store echoes back.
func (c *Channel) Send(ctx context.Context, content string) (*models.Message, error) {
	if err := c.Validate(content); err != nil {
		return nil, err
	}

	tempID := models.NewTempID()
	optimistic := models.Message{
		TempID:       tempID,
		ThreadID:     c.thread,
		SenderID:     c.self,
		Content:      content,
		ClientToken:  tempID,
		CreatedAt:    c.now(),
		IsOptimistic: true,
	}

	c.mu.Lock()
	c.timeline = append(c.timeline, optimistic)
	c.sortLocked()
	c.draft = ""
	c.mu.Unlock()
	c.changed()

	writeCtx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
	defer cancel()
	confirmed, err := c.store.Create(writeCtx, models.CreateMessageParams{
		Thread:      c.thread,
		SenderID:    c.self,
		Content:     content,
		ClientToken: tempID,
	})

	switch {
	case err == nil:
		c.mu.Lock()
		c.confirmLocked(tempID, *confirmed)
		c.mu.Unlock()
		c.changed()
		return confirmed, nil

	case errors.Is(err, services.ErrConnectionTerminated):
		logging.Warn("Connection terminated during send", map[string]interface{}{
			"thread": c.thread.Key(),
		})
		c.mu.Lock()
		c.timeline = nil
		c.draft = ""
		c.mu.Unlock()
		c.changed()
		if c.onTerminated != nil {
			c.onTerminated(c.thread)
		}
		return nil, ErrConnectionTerminated

	default:
		logging.Warn("Message send failed", map[string]interface{}{
			"thread": c.thread.Key(),
			"error":  err.Error(),
		})
		c.mu.Lock()
		c.removeLocked(tempID)
		c.draft = content
		c.mu.Unlock()
		c.changed()
		return nil, fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}
}

// OnEvent reconciles pushed message inserts. Other kinds and other threads are ignored.
func (c *Channel) OnEvent(thread models.ThreadRef, ev events.Event) {
	inserted, ok := ev.(events.MessageInserted)
	if !ok || thread != c.thread || inserted.Message.ThreadID != c.thread {
		return
	}
	c.mu.Lock()
	changed := c.reconcileLocked(inserted.Message)
	c.mu.Unlock()
	if changed {
		c.changed()
	}
}

// Load merges history. Messages already present by id are kept as they are.
func (c *Channel) Load(history []models.Message) {
	c.mu.Lock()
	changed := false
	for _, m := range history {
		if m.ThreadID != c.thread || m.ID == uuid.Nil {
			continue
		}
		m.IsOptimistic = false
		if c.reconcileLocked(m) {
			changed = true
		}
	}
	c.mu.Unlock()
	if changed {
		c.changed()
	}
}

// Messages returns a copy of the timeline, ascending by creation time.
func (c *Channel) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Message, len(c.timeline))
	copy(out, c.timeline)
	return out
}

func (c *Channel) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

func (c *Channel) SetDraft(draft string) {
	c.mu.Lock()
	c.draft = draft
	c.mu.Unlock()
}

// Close discards unresolved optimistic entries. An in-flight write is not
// cancelled; its late confirmation still lands in the timeline.
func (c *Channel) Close() {
	c.mu.Lock()
	kept := c.timeline[:0]
	for _, m := range c.timeline {
		if !m.IsOptimistic {
			kept = append(kept, m)
		}
	}
	c.timeline = kept
	c.mu.Unlock()
}

// confirmLocked applies the store's own response for tempID.
func (c *Channel) confirmLocked(tempID string, confirmed models.Message) {
	confirmed.IsOptimistic = false
	confirmed.TempID = tempID
	if c.indexByIDLocked(confirmed.ID) >= 0 {
		// The push event won the race and already replaced or appended it.
		c.removeLocked(tempID)
		return
	}
	if i := c.indexByTempIDLocked(tempID); i >= 0 {
		c.timeline[i] = confirmed
		c.sortLocked()
		return
	}
	c.timeline = append(c.timeline, confirmed)
	c.sortLocked()
}

// reconcileLocked folds one confirmed message into the timeline and reports
// whether anything changed. Exactly one entry per logical message survives.
func (c *Channel) reconcileLocked(msg models.Message) bool {
	if c.indexByIDLocked(msg.ID) >= 0 {
		return false
	}

	i := -1
	if msg.ClientToken != "" {
		i = c.indexByTempIDLocked(msg.ClientToken)
	} else if msg.SenderID == c.self {
		i = c.heuristicMatchLocked(msg)
	}

	if i >= 0 {
		msg.TempID = c.timeline[i].TempID
		msg.IsOptimistic = false
		c.timeline[i] = msg
	} else {
		msg.IsOptimistic = false
		c.timeline = append(c.timeline, msg)
	}
	c.sortLocked()
	return true
}

// heuristicMatchLocked finds the oldest optimistic entry with the same sender and
// content created within the reconcile window of msg.
func (c *Channel) heuristicMatchLocked(msg models.Message) int {
	best := -1
	for i, m := range c.timeline {
		if !m.IsOptimistic || m.SenderID != msg.SenderID || m.Content != msg.Content {
			continue
		}
		diff := msg.CreatedAt.Sub(m.CreatedAt)
		if diff < 0 {
			diff = -diff
		}
		if diff > c.cfg.ReconcileWindow {
			continue
		}
		if best < 0 || m.CreatedAt.Before(c.timeline[best].CreatedAt) {
			best = i
		}
	}
	return best
}

func (c *Channel) indexByIDLocked(id uuid.UUID) int {
	for i, m := range c.timeline {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (c *Channel) indexByTempIDLocked(tempID string) int {
	for i, m := range c.timeline {
		if m.IsOptimistic && m.TempID == tempID {
			return i
		}
	}
	return -1
}

func (c *Channel) removeLocked(tempID string) {
	if i := c.indexByTempIDLocked(tempID); i >= 0 {
		c.timeline = append(c.timeline[:i], c.timeline[i+1:]...)
	}
}

func (c *Channel) sortLocked() {
	sort.SliceStable(c.timeline, func(i, j int) bool {
		return c.timeline[i].CreatedAt.Before(c.timeline[j].CreatedAt)
	})
}

func (c *Channel) changed() {
	if c.onChange != nil {
		c.onChange(c.thread)
	}
}
