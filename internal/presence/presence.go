// Package presence tracks who is typing in each thread. Nothing here is persisted.
package presence

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/nearby/internal/logging"
	"github.com/HammerMeetNail/nearby/internal/models"
)

const DefaultIdleTimeout = 4 * time.Second

// Broadcaster announces the viewing user's own typing flag to the thread.
type Broadcaster interface {
	Typing(ctx context.Context, thread models.ThreadRef, userID uuid.UUID, typing bool) error
}

type Option func(*Presence)

func WithClock(now func() time.Time) Option {
	return func(p *Presence) { p.now = now }
}

func WithIdleTimeout(d time.Duration) Option {
	return func(p *Presence) {
		if d > 0 {
			p.idle = d
		}
	}
}

// Presence keeps an expiry per (thread, user). Expired entries read as not typing
// even before Sweep removes them.
type Presence struct {
	mu          sync.Mutex
	self        uuid.UUID
	idle        time.Duration
	now         func() time.Time
	typers      map[models.ThreadRef]map[uuid.UUID]time.Time
	broadcaster Broadcaster
}

func New(self uuid.UUID, broadcaster Broadcaster, opts ...Option) *Presence {
	p := &Presence{
		self:        self,
		idle:        DefaultIdleTimeout,
		now:         time.Now,
		typers:      make(map[models.ThreadRef]map[uuid.UUID]time.Time),
		broadcaster: broadcaster,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Keystroke marks self as typing and broadcasts only on the false to true edge.
func (p *Presence) Keystroke(ctx context.Context, thread models.ThreadRef) {
	p.mu.Lock()
	now := p.now()
	wasTyping := p.activeLocked(thread, p.self, now)
	p.setLocked(thread, p.self, now.Add(p.idle))
	p.mu.Unlock()

	if !wasTyping {
		p.broadcast(ctx, thread, true)
	}
}

// Clear drops self's typing flag, e.g. on blur or send.
func (p *Presence) Clear(ctx context.Context, thread models.ThreadRef) {
	p.mu.Lock()
	wasTyping := p.activeLocked(thread, p.self, p.now())
	p.deleteLocked(thread, p.self)
	p.mu.Unlock()

	if wasTyping {
		p.broadcast(ctx, thread, false)
	}
}

// OnTyping applies a remote typing change. Echoes of self are ignored.
func (p *Presence) OnTyping(thread models.ThreadRef, userID uuid.UUID, typing bool) bool {
	if userID == p.self {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	before := p.activeLocked(thread, userID, now)
	if typing {
		p.setLocked(thread, userID, now.Add(p.idle))
	} else {
		p.deleteLocked(thread, userID)
	}
	return before != typing
}

// OnMessageConfirmed clears the sender's flag unconditionally, whatever its expiry.
func (p *Presence) OnMessageConfirmed(thread models.ThreadRef, senderID uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	was := p.activeLocked(thread, senderID, p.now())
	p.deleteLocked(thread, senderID)
	return was
}

// Typing lists the other users currently typing in thread, in a stable order.
func (p *Presence) Typing(thread models.ThreadRef) []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	var ids []uuid.UUID
	for id, exp := range p.typers[thread] {
		if id != p.self && now.Before(exp) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	return ids
}

// Forget drops all state for a thread the viewer has left.
func (p *Presence) Forget(thread models.ThreadRef) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.typers, thread)
}

// Sweep removes expired entries and returns the threads whose typer set changed.
// An expired self entry is broadcast as typing=false.
func (p *Presence) Sweep(ctx context.Context) []models.ThreadRef {
	p.mu.Lock()
	now := p.now()
	var changed []models.ThreadRef
	var selfExpired []models.ThreadRef
	for thread, users := range p.typers {
		removed := false
		for id, exp := range users {
			if now.Before(exp) {
				continue
			}
			delete(users, id)
			removed = true
			if id == p.self {
				selfExpired = append(selfExpired, thread)
			}
		}
		if len(users) == 0 {
			delete(p.typers, thread)
		}
		if removed {
			changed = append(changed, thread)
		}
	}
	p.mu.Unlock()

	for _, thread := range selfExpired {
		p.broadcast(ctx, thread, false)
	}
	return changed
}

// Run sweeps every interval until ctx is done, passing changed threads to onChange.
func (p *Presence) Run(ctx context.Context, interval time.Duration, onChange func(models.ThreadRef)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, thread := range p.Sweep(ctx) {
				if onChange != nil {
					onChange(thread)
				}
			}
		}
	}
}

func (p *Presence) activeLocked(thread models.ThreadRef, userID uuid.UUID, now time.Time) bool {
	exp, ok := p.typers[thread][userID]
	return ok && now.Before(exp)
}

func (p *Presence) setLocked(thread models.ThreadRef, userID uuid.UUID, expires time.Time) {
	users := p.typers[thread]
	if users == nil {
		users = make(map[uuid.UUID]time.Time)
		p.typers[thread] = users
	}
	users[userID] = expires
}

func (p *Presence) deleteLocked(thread models.ThreadRef, userID uuid.UUID) {
	users := p.typers[thread]
	delete(users, userID)
	if len(users) == 0 {
		delete(p.typers, thread)
	}
}

func (p *Presence) broadcast(ctx context.Context, thread models.ThreadRef, typing bool) {
	if p.broadcaster == nil {
		return
	}
	if err := p.broadcaster.Typing(ctx, thread, p.self, typing); err != nil {
		logging.Warn("Failed to broadcast typing", map[string]interface{}{
			"thread": thread.Key(),
			"typing": typing,
			"error":  err.Error(),
		})
	}
}
