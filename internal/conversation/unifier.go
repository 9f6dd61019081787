// Package conversation merges pending invitations, connections and event rooms
// into the single ordered inbox.
package conversation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/nearby/internal/models"
)

type InvitationSource interface {
	ListPending(ctx context.Context, receiverID uuid.UUID) ([]models.PendingInvitation, error)
	ListConnections(ctx context.Context, userID uuid.UUID) ([]models.Connection, error)
}

type RoomSource interface {
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.EventRoom, error)
}

type PreviewSource interface {
	Previews(ctx context.Context, userID uuid.UUID) ([]models.ThreadPreview, error)
}

// Badges supplies live per-thread unread counts and mute flags.
type Badges interface {
	Count(thread models.ThreadRef) int
	IsMuted(thread models.ThreadRef) bool
}

// Snapshot is everything Merge needs. It is plain data so Merge stays pure.
type Snapshot struct {
	Pending     []models.PendingInvitation
	Connections []models.Connection
	Rooms       []models.EventRoom
	Previews    map[models.ThreadRef]models.ThreadPreview
}

// Merge projects a snapshot into inbox order: pending invitations first, then
// by last activity descending, ties broken by item id.
func Merge(snap Snapshot, badges Badges) []models.ConversationItem {
	items := make([]models.ConversationItem, 0, len(snap.Pending)+len(snap.Connections)+len(snap.Rooms))

	for _, p := range snap.Pending {
		invitationID := p.ID
		senderID := p.SenderID
		items = append(items, models.ConversationItem{
			ID:             string(models.ConversationPendingInvite) + ":" + p.ID.String(),
			Type:           models.ConversationPendingInvite,
			Title:          p.Sender.DisplayName,
			Subtitle:       p.ActivityLabel,
			AvatarURL:      p.Sender.AvatarURL,
			LastActivityAt: p.CreatedAt,
			InvitationID:   &invitationID,
			UserID:         &senderID,
		})
	}

	for _, c := range snap.Connections {
		thread := c.Thread()
		invitationID := c.InvitationID
		peerID := c.Peer.ID
		item := models.ConversationItem{
			ID:             thread.Key(),
			Type:           models.ConversationDM,
			Title:          c.Peer.DisplayName,
			Subtitle:       c.ActivityLabel,
			AvatarURL:      c.Peer.AvatarURL,
			LastActivityAt: c.ConnectedAt,
			InvitationID:   &invitationID,
			UserID:         &peerID,
		}
		applyThread(&item, thread, snap.Previews, badges)
		items = append(items, item)
	}

	for _, r := range snap.Rooms {
		thread := r.Thread()
		eventID := r.EventID
		item := models.ConversationItem{
			ID:             thread.Key(),
			Type:           models.ConversationSpot,
			Title:          r.Title,
			AvatarURL:      r.ImageURL,
			LastActivityAt: r.CreatedAt,
			EventID:        &eventID,
		}
		applyThread(&item, thread, snap.Previews, badges)
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		aPending := a.Type == models.ConversationPendingInvite
		bPending := b.Type == models.ConversationPendingInvite
		if aPending != bPending {
			return aPending
		}
		if !a.LastActivityAt.Equal(b.LastActivityAt) {
			return a.LastActivityAt.After(b.LastActivityAt)
		}
		return a.ID < b.ID
	})
	return items
}

func applyThread(item *models.ConversationItem, thread models.ThreadRef, previews map[models.ThreadRef]models.ThreadPreview, badges Badges) {
	if p, ok := previews[thread]; ok {
		item.Subtitle = p.Content
		if p.CreatedAt.After(item.LastActivityAt) {
			item.LastActivityAt = p.CreatedAt
		}
	}
	if badges != nil {
		item.UnreadCount = badges.Count(thread)
		item.Muted = badges.IsMuted(thread)
	}
}

// Unifier caches the last snapshot so message and badge changes recompute the
// inbox without I/O. Refresh reloads the sources.
type Unifier struct {
	userID      uuid.UUID
	invitations InvitationSource
	rooms       RoomSource
	previews    PreviewSource
	badges      Badges

	mu        sync.Mutex
	emitMu    sync.Mutex // orders compute and delivery across Recompute calls
	snap      Snapshot
	items     []models.ConversationItem
	listeners []func([]models.ConversationItem)
}

func NewUnifier(userID uuid.UUID, invitations InvitationSource, rooms RoomSource, previews PreviewSource, badges Badges) *Unifier {
	return &Unifier{
		userID:      userID,
		invitations: invitations,
		rooms:       rooms,
		previews:    previews,
		badges:      badges,
		snap:        Snapshot{Previews: make(map[models.ThreadRef]models.ThreadPreview)},
	}
}

// OnChange registers a listener called with every recomputed inbox.
func (u *Unifier) OnChange(fn func([]models.ConversationItem)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.listeners = append(u.listeners, fn)
}

// Refresh reloads every source. On error the previous snapshot is kept.
func (u *Unifier) Refresh(ctx context.Context) error {
	pending, err := u.invitations.ListPending(ctx, u.userID)
	if err != nil {
		return fmt.Errorf("refreshing pending invitations: %w", err)
	}
	conns, err := u.invitations.ListConnections(ctx, u.userID)
	if err != nil {
		return fmt.Errorf("refreshing connections: %w", err)
	}
	rooms, err := u.rooms.ListForUser(ctx, u.userID)
	if err != nil {
		return fmt.Errorf("refreshing event rooms: %w", err)
	}
	previews, err := u.previews.Previews(ctx, u.userID)
	if err != nil {
		return fmt.Errorf("refreshing previews: %w", err)
	}

	byThread := make(map[models.ThreadRef]models.ThreadPreview, len(previews))
	for _, p := range previews {
		byThread[p.Thread] = p
	}

	u.mu.Lock()
	// Keep previews pushed since the query started.
	for thread, p := range u.snap.Previews {
		if cur, ok := byThread[thread]; !ok || p.CreatedAt.After(cur.CreatedAt) {
			if ok || knownThread(thread, conns, rooms) {
				byThread[thread] = p
			}
		}
	}
	u.snap = Snapshot{Pending: pending, Connections: conns, Rooms: rooms, Previews: byThread}
	u.mu.Unlock()

	u.Recompute()
	return nil
}

// ApplyMessage updates the thread's preview when msg is newer than it and
// reports whether the inbox was recomputed.
func (u *Unifier) ApplyMessage(msg models.Message) bool {
	u.mu.Lock()
	cur, ok := u.snap.Previews[msg.ThreadID]
	if ok && !msg.CreatedAt.After(cur.CreatedAt) {
		u.mu.Unlock()
		return false
	}
	u.snap.Previews[msg.ThreadID] = models.ThreadPreview{
		Thread:        msg.ThreadID,
		LastMessageID: msg.ID,
		SenderID:      msg.SenderID,
		Content:       msg.Content,
		CreatedAt:     msg.CreatedAt,
	}
	u.mu.Unlock()
	u.Recompute()
	return true
}

// RemoveThread drops a terminated connection or left room until the next Refresh.
func (u *Unifier) RemoveThread(thread models.ThreadRef) {
	u.mu.Lock()
	conns := u.snap.Connections[:0:0]
	for _, c := range u.snap.Connections {
		if c.Thread() != thread {
			conns = append(conns, c)
		}
	}
	rooms := u.snap.Rooms[:0:0]
	for _, r := range u.snap.Rooms {
		if r.Thread() != thread {
			rooms = append(rooms, r)
		}
	}
	u.snap.Connections = conns
	u.snap.Rooms = rooms
	delete(u.snap.Previews, thread)
	u.mu.Unlock()
	u.Recompute()
}

// Recompute rebuilds the inbox from the cached snapshot and live badges.
// Listeners see snapshots in the order they were computed and must not call
// back into Recompute.
func (u *Unifier) Recompute() []models.ConversationItem {
	u.emitMu.Lock()
	defer u.emitMu.Unlock()

	u.mu.Lock()
	items := Merge(u.snap, u.badges)
	u.items = items
	listeners := make([]func([]models.ConversationItem), len(u.listeners))
	copy(listeners, u.listeners)
	u.mu.Unlock()

	for _, fn := range listeners {
		fn(cloneItems(items))
	}
	return cloneItems(items)
}

func (u *Unifier) Items() []models.ConversationItem {
	u.mu.Lock()
	defer u.mu.Unlock()
	return cloneItems(u.items)
}

func (u *Unifier) PendingCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.snap.Pending)
}

// HasThread reports whether thread is a connection or room in the snapshot.
func (u *Unifier) HasThread(thread models.ThreadRef) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return knownThread(thread, u.snap.Connections, u.snap.Rooms)
}

func knownThread(thread models.ThreadRef, conns []models.Connection, rooms []models.EventRoom) bool {
	for _, c := range conns {
		if c.Thread() == thread {
			return true
		}
	}
	for _, r := range rooms {
		if r.Thread() == thread {
			return true
		}
	}
	return false
}

func cloneItems(items []models.ConversationItem) []models.ConversationItem {
	out := make([]models.ConversationItem, len(items))
	copy(out, items)
	return out
}
