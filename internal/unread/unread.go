// Package unread keeps per-thread unread counters for the viewing user.
package unread

import (
	"sync"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/nearby/internal/models"
)

// seenLimit bounds how many delivered message ids are remembered for dedupe.
const seenLimit = 1024

type MuteChecker interface {
	IsMuted(thread models.ThreadRef) bool
}

// Aggregator owns the unread map and the active thread pointer. It is the only
// mutator of either.
type Aggregator struct {
	mu     sync.RWMutex
	self   uuid.UUID
	counts map[models.ThreadRef]int
	active *models.ThreadRef
	mutes  MuteChecker

	seen      map[uuid.UUID]struct{}
	seenOrder []uuid.UUID
}

// New creates an Aggregator for the user self. mutes may be nil.
func New(self uuid.UUID, mutes MuteChecker) *Aggregator {
	return &Aggregator{
		self:   self,
		counts: make(map[models.ThreadRef]int),
		mutes:  mutes,
		seen:   make(map[uuid.UUID]struct{}),
	}
}

// OnInbound counts a confirmed message unless it is the viewer's own, its thread
// is muted, its thread is the one open right now, or the same message id was
// already delivered.
func (a *Aggregator) OnInbound(msg models.Message) bool {
	if msg.SenderID == a.self {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.markSeenLocked(msg.ID) {
		return false
	}
	thread := msg.ThreadID
	if a.mutes != nil && a.mutes.IsMuted(thread) {
		return false
	}
	if a.active != nil && *a.active == thread {
		return false
	}
	a.counts[thread]++
	return true
}

// markSeenLocked records id and reports whether it is new.
func (a *Aggregator) markSeenLocked(id uuid.UUID) bool {
	if id == uuid.Nil {
		return true
	}
	if _, ok := a.seen[id]; ok {
		return false
	}
	a.seen[id] = struct{}{}
	a.seenOrder = append(a.seenOrder, id)
	if len(a.seenOrder) > seenLimit {
		delete(a.seen, a.seenOrder[0])
		a.seenOrder = a.seenOrder[1:]
	}
	return true
}

// SetActive opens thread and marks it read.
func (a *Aggregator) SetActive(thread models.ThreadRef) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = &thread
	delete(a.counts, thread)
}

// ClearActive drops the active pointer and marks the thread that was active as
// read, so nothing that arrived while it was open lingers as unread.
func (a *Aggregator) ClearActive() (models.ThreadRef, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil {
		return models.ThreadRef{}, false
	}
	prev := *a.active
	a.active = nil
	delete(a.counts, prev)
	return prev, true
}

func (a *Aggregator) Active() (models.ThreadRef, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.active == nil {
		return models.ThreadRef{}, false
	}
	return *a.active, true
}

func (a *Aggregator) MarkAsRead(thread models.ThreadRef) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.counts, thread)
}

// Forget drops a thread that no longer exists, e.g. a terminated connection.
func (a *Aggregator) Forget(thread models.ThreadRef) {
	a.MarkAsRead(thread)
}

func (a *Aggregator) Count(thread models.ThreadRef) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.counts[thread]
}

// Total is the badge: pending invitations plus unread over non-muted threads.
func (a *Aggregator) Total(pendingInvites int) int {
	if pendingInvites < 0 {
		pendingInvites = 0
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	total := pendingInvites
	for thread, n := range a.counts {
		if a.mutes != nil && a.mutes.IsMuted(thread) {
			continue
		}
		total += n
	}
	return total
}

// Seed replaces the counters with persisted values. Negative values are dropped
// and the active thread stays at zero.
func (a *Aggregator) Seed(counts map[models.ThreadRef]int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counts = make(map[models.ThreadRef]int, len(counts))
	for thread, n := range counts {
		if n <= 0 {
			continue
		}
		if a.active != nil && *a.active == thread {
			continue
		}
		a.counts[thread] = n
	}
}
