// Package session wires the realtime engine together for one signed-in user:
// the mute store, unread counters, typing presence, the open thread's channel
// and the unified inbox. It exposes the only write paths a client has.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/nearby/internal/channel"
	"github.com/HammerMeetNail/nearby/internal/conversation"
	"github.com/HammerMeetNail/nearby/internal/events"
	"github.com/HammerMeetNail/nearby/internal/logging"
	"github.com/HammerMeetNail/nearby/internal/models"
	"github.com/HammerMeetNail/nearby/internal/mute"
	"github.com/HammerMeetNail/nearby/internal/presence"
	"github.com/HammerMeetNail/nearby/internal/pubsub"
	"github.com/HammerMeetNail/nearby/internal/unread"
)

var (
	ErrThreadNotOpen = errors.New("thread is not open")
	ErrClosed        = errors.New("session closed")
)

type Invitations interface {
	Send(ctx context.Context, params models.CreateInvitationParams) (*models.Invitation, error)
	Accept(ctx context.Context, userID, invitationID uuid.UUID) (*models.Invitation, error)
	Decline(ctx context.Context, userID, invitationID uuid.UUID) (*models.Invitation, error)
	Cancel(ctx context.Context, userID, invitationID uuid.UUID) error
	ListPending(ctx context.Context, receiverID uuid.UUID) ([]models.PendingInvitation, error)
	ListConnections(ctx context.Context, userID uuid.UUID) ([]models.Connection, error)
}

type Messages interface {
	Create(ctx context.Context, params models.CreateMessageParams) (*models.Message, error)
	List(ctx context.Context, userID uuid.UUID, thread models.ThreadRef, limit int) ([]models.Message, error)
	Previews(ctx context.Context, userID uuid.UUID) ([]models.ThreadPreview, error)
	MarkRead(ctx context.Context, userID uuid.UUID, thread models.ThreadRef, at time.Time) error
	UnreadCounts(ctx context.Context, userID uuid.UUID) (map[models.ThreadRef]int, error)
}

// Listener receives state snapshots. Calls happen on arbitrary goroutines and
// must not block.
type Listener interface {
	InboxChanged(items []models.ConversationItem, totalUnread int)
	ThreadChanged(thread models.ThreadRef, messages []models.Message, draft string)
	TypingChanged(thread models.ThreadRef, users []uuid.UUID)
}

type Config struct {
	Channel       channel.Config
	TypingIdle    time.Duration
	SweepInterval time.Duration
	PollInterval  time.Duration
	HistoryLimit  int
}

func (c Config) withDefaults() Config {
	if c.TypingIdle <= 0 {
		c.TypingIdle = presence.DefaultIdleTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	return c
}

type Deps struct {
	Invitations   Invitations
	Messages      Messages
	Rooms         conversation.RoomSource
	Bus           pubsub.Bus
	Typing        presence.Broadcaster
	MuteBackend   mute.Backend
	MutePublisher mute.Publisher // optional; fans mute changes out to the user's other sessions
}

type openThread struct {
	ch  *channel.Channel
	sub pubsub.Subscription
}

type Session struct {
	userID   uuid.UUID
	deps     Deps
	cfg      Config
	listener Listener
	now      func() time.Time

	mutes    *mute.Store
	unread   *unread.Aggregator
	presence *presence.Presence
	inbox    *conversation.Unifier

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	feed    pubsub.Subscription
	current *openThread
	closed  bool
}

type badges struct {
	unread *unread.Aggregator
	mutes  *mute.Store
}

func (b badges) Count(thread models.ThreadRef) int    { return b.unread.Count(thread) }
func (b badges) IsMuted(thread models.ThreadRef) bool { return b.mutes.IsMuted(thread) }

func New(userID uuid.UUID, deps Deps, cfg Config, listener Listener) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		userID:   userID,
		deps:     deps,
		cfg:      cfg,
		listener: listener,
		now:      time.Now,
	}
	s.mutes = mute.NewStore(userID, deps.MuteBackend)
	if deps.MutePublisher != nil {
		s.mutes.SetPublisher(deps.MutePublisher)
	}
	s.unread = unread.New(userID, s.mutes)
	s.presence = presence.New(userID, deps.Typing, presence.WithIdleTimeout(cfg.TypingIdle))
	s.inbox = conversation.NewUnifier(userID, deps.Invitations, deps.Rooms, deps.Messages, badges{unread: s.unread, mutes: s.mutes})
	s.inbox.OnChange(func(items []models.ConversationItem) {
		if s.listener != nil {
			s.listener.InboxChanged(items, s.TotalUnread())
		}
	})
	return s
}

func (s *Session) UserID() uuid.UUID {
	return s.userID
}

// Start loads persisted state, builds the inbox and subscribes to the user's feed.
// Background loops run until Close or ctx is done.
func (s *Session) Start(ctx context.Context) error {
	if err := s.mutes.Load(ctx); err != nil {
		logging.Warn("Starting session without persisted mutes", map[string]interface{}{
			"user_id": s.userID.String(),
			"error":   err.Error(),
		})
	}

	counts, err := s.deps.Messages.UnreadCounts(ctx, s.userID)
	if err != nil {
		return fmt.Errorf("seeding unread counts: %w", err)
	}
	s.unread.Seed(counts)

	if err := s.inbox.Refresh(ctx); err != nil {
		return err
	}

	feed, err := s.deps.Bus.Subscribe(ctx, pubsub.UserTopic(s.userID), events.SubscriberFunc(s.onFeedEvent))
	if err != nil {
		return fmt.Errorf("subscribing to user feed: %w", err)
	}

	s.mu.Lock()
	s.feed = feed
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	runCtx := s.ctx
	s.mu.Unlock()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.presence.Run(runCtx, s.cfg.SweepInterval, s.emitTyping)
	}()
	go func() {
		defer s.wg.Done()
		s.poll(runCtx)
	}()
	return nil
}

// Close tears down subscriptions and background loops. It does not wait for
// in-flight sends.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	feed := s.feed
	cur := s.current
	s.current = nil
	cancel := s.cancel
	s.mu.Unlock()

	if cur != nil {
		s.teardown(context.Background(), cur, true)
	}
	if feed != nil {
		_ = feed.Close()
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// OpenThread makes thread the active one: history is loaded into a fresh
// channel, its push topic is subscribed and its unread count is reset. Any
// other open thread is closed first.
func (s *Session) OpenThread(ctx context.Context, thread models.ThreadRef) ([]models.Message, error) {
	if !thread.Valid() {
		return nil, models.ErrInvalidThreadRef
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	prev := s.current
	if prev != nil && prev.ch.Thread() == thread {
		s.mu.Unlock()
		s.markActive(ctx, thread)
		return prev.ch.Messages(), nil
	}
	s.current = nil
	s.mu.Unlock()

	if prev != nil {
		s.teardown(ctx, prev, true)
	}

	history, err := s.deps.Messages.List(ctx, s.userID, thread, s.cfg.HistoryLimit)
	if err != nil {
		if errors.Is(err, channel.ErrConnectionTerminated) {
			s.onTerminated(thread)
		}
		return nil, err
	}

	ch := channel.New(thread, s.userID, s.deps.Messages,
		channel.WithConfig(s.cfg.Channel),
		channel.OnChange(s.emitThread),
		channel.OnTerminated(s.onTerminated),
	)
	ch.Load(history)

	open := &openThread{ch: ch}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.current = open
	s.mu.Unlock()

	sub, err := s.deps.Bus.Subscribe(ctx, pubsub.ThreadTopic(thread), events.SubscriberFunc(s.onThreadEvent))
	if err != nil {
		s.mu.Lock()
		if s.current == open {
			s.current = nil
		}
		s.mu.Unlock()
		return nil, fmt.Errorf("subscribing to thread: %w", err)
	}
	s.mu.Lock()
	if s.closed || s.current != open {
		// Closed or replaced while subscribing; teardown already ran without it.
		closed := s.closed
		s.mu.Unlock()
		_ = sub.Close()
		if closed {
			return nil, ErrClosed
		}
		return nil, ErrThreadNotOpen
	}
	open.sub = sub
	s.mu.Unlock()

	s.markActive(ctx, thread)
	return ch.Messages(), nil
}

// CloseThread releases the open thread, if it is thread.
func (s *Session) CloseThread(ctx context.Context, thread models.ThreadRef) error {
	s.mu.Lock()
	cur := s.current
	if cur == nil || cur.ch.Thread() != thread {
		s.mu.Unlock()
		return ErrThreadNotOpen
	}
	s.current = nil
	s.mu.Unlock()

	s.teardown(ctx, cur, true)
	return nil
}

// Send posts content to the open thread.
func (s *Session) Send(ctx context.Context, thread models.ThreadRef, content string) (*models.Message, error) {
	ch, err := s.channelFor(thread)
	if err != nil {
		return nil, err
	}
	if err := ch.Validate(content); err != nil {
		return nil, err
	}
	s.presence.Clear(ctx, thread)
	return ch.Send(ctx, content)
}

// Thread returns the open thread's timeline and draft.
func (s *Session) Thread(thread models.ThreadRef) ([]models.Message, string, error) {
	ch, err := s.channelFor(thread)
	if err != nil {
		return nil, "", err
	}
	return ch.Messages(), ch.Draft(), nil
}

func (s *Session) SetDraft(thread models.ThreadRef, draft string) error {
	ch, err := s.channelFor(thread)
	if err != nil {
		return err
	}
	ch.SetDraft(draft)
	return nil
}

func (s *Session) Keystroke(ctx context.Context, thread models.ThreadRef) error {
	if _, err := s.channelFor(thread); err != nil {
		return err
	}
	s.presence.Keystroke(ctx, thread)
	return nil
}

func (s *Session) Blur(ctx context.Context, thread models.ThreadRef) {
	s.presence.Clear(ctx, thread)
}

func (s *Session) Typing(thread models.ThreadRef) []uuid.UUID {
	return s.presence.Typing(thread)
}

func (s *Session) ToggleMute(ctx context.Context, thread models.ThreadRef) (bool, error) {
	muted, err := s.mutes.Toggle(ctx, thread)
	if err != nil {
		return muted, err
	}
	s.inbox.Recompute()
	return muted, nil
}

func (s *Session) Mutes() []models.MuteEntry {
	return s.mutes.Entries()
}

func (s *Session) SendInvitation(ctx context.Context, receiverID uuid.UUID, activity string, eventID *uuid.UUID) (*models.Invitation, error) {
	inv, err := s.deps.Invitations.Send(ctx, models.CreateInvitationParams{
		SenderID:      s.userID,
		ReceiverID:    receiverID,
		ActivityLabel: activity,
		EventID:       eventID,
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Session) AcceptInvitation(ctx context.Context, invitationID uuid.UUID) (*models.Invitation, error) {
	inv, err := s.deps.Invitations.Accept(ctx, s.userID, invitationID)
	return s.afterResolve(ctx, inv, err)
}

func (s *Session) DeclineInvitation(ctx context.Context, invitationID uuid.UUID) (*models.Invitation, error) {
	inv, err := s.deps.Invitations.Decline(ctx, s.userID, invitationID)
	return s.afterResolve(ctx, inv, err)
}

func (s *Session) CancelInvitation(ctx context.Context, invitationID uuid.UUID) error {
	return s.deps.Invitations.Cancel(ctx, s.userID, invitationID)
}

// afterResolve refreshes the inbox on success and on stale state alike, so the
// losing side of a concurrent accept/decline sees the winner's result.
func (s *Session) afterResolve(ctx context.Context, inv *models.Invitation, err error) (*models.Invitation, error) {
	if refreshErr := s.inbox.Refresh(ctx); refreshErr != nil {
		logging.Warn("Inbox refresh after invitation change failed", map[string]interface{}{
			"user_id": s.userID.String(),
			"error":   refreshErr.Error(),
		})
	}
	return inv, err
}

// Refresh reloads the inbox from the store.
func (s *Session) Refresh(ctx context.Context) error {
	return s.inbox.Refresh(ctx)
}

func (s *Session) Inbox() []models.ConversationItem {
	return s.inbox.Items()
}

func (s *Session) TotalUnread() int {
	return s.unread.Total(s.inbox.PendingCount())
}

func (s *Session) UnreadCount(thread models.ThreadRef) int {
	return s.unread.Count(thread)
}

func (s *Session) channelFor(thread models.ThreadRef) (*channel.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.current == nil || s.current.ch.Thread() != thread {
		return nil, ErrThreadNotOpen
	}
	return s.current.ch, nil
}

func (s *Session) markActive(ctx context.Context, thread models.ThreadRef) {
	s.unread.SetActive(thread)
	s.persistRead(ctx, thread)
	s.inbox.Recompute()
}

// teardown unsubscribes and discards optimistic state. Self typing is cleared.
func (s *Session) teardown(ctx context.Context, t *openThread, markRead bool) {
	thread := t.ch.Thread()
	t.ch.Close()
	s.mu.Lock()
	sub := t.sub
	s.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
	s.presence.Clear(ctx, thread)
	s.presence.Forget(thread)

	if active, ok := s.unread.Active(); ok && active == thread {
		s.unread.ClearActive()
	} else {
		s.unread.MarkAsRead(thread)
	}
	if markRead {
		s.persistRead(ctx, thread)
	}
	s.inbox.Recompute()
}

func (s *Session) persistRead(ctx context.Context, thread models.ThreadRef) {
	if err := s.deps.Messages.MarkRead(ctx, s.userID, thread, s.now()); err != nil {
		logging.Warn("Failed to persist read marker", map[string]interface{}{
			"user_id": s.userID.String(),
			"thread":  thread.Key(),
			"error":   err.Error(),
		})
	}
}

// onTerminated drops the thread locally and forces a connection refresh.
func (s *Session) onTerminated(thread models.ThreadRef) {
	logging.Info("Connection terminated", map[string]interface{}{
		"user_id": s.userID.String(),
		"thread":  thread.Key(),
	})

	s.mu.Lock()
	cur := s.current
	if cur != nil && cur.ch.Thread() == thread {
		s.current = nil
	} else {
		cur = nil
	}
	s.mu.Unlock()

	if cur != nil {
		s.teardown(context.Background(), cur, false)
	}
	s.unread.Forget(thread)
	s.inbox.RemoveThread(thread)
	s.refreshAsync()
}

func (s *Session) onFeedEvent(thread models.ThreadRef, ev events.Event) {
	switch e := ev.(type) {
	case events.MessageInserted:
		counted := s.unread.OnInbound(e.Message)
		if !s.inbox.ApplyMessage(e.Message) && counted {
			s.inbox.Recompute()
		}
		if !s.inbox.HasThread(thread) {
			s.refreshAsync()
		}
	case events.InvitationChanged:
		s.refreshAsync()
	case events.MuteChanged:
		if e.UserID != s.userID || s.mutes.IsMuted(thread) == e.Muted {
			return
		}
		s.mutes.Apply(thread, e.Muted)
		s.inbox.Recompute()
	}
}

func (s *Session) onThreadEvent(thread models.ThreadRef, ev events.Event) {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == nil || cur.ch.Thread() != thread {
		return
	}

	switch e := ev.(type) {
	case events.MessageInserted:
		cur.ch.OnEvent(thread, ev)
		if s.presence.OnMessageConfirmed(thread, e.Message.SenderID) {
			s.emitTyping(thread)
		}
	case events.TypingChanged:
		if s.presence.OnTyping(thread, e.UserID, e.Typing) {
			s.emitTyping(thread)
		}
	}
}

func (s *Session) emitThread(thread models.ThreadRef) {
	if s.listener == nil {
		return
	}
	messages, draft, err := s.Thread(thread)
	if err != nil {
		return
	}
	s.listener.ThreadChanged(thread, messages, draft)
}

func (s *Session) emitTyping(thread models.ThreadRef) {
	if s.listener != nil {
		s.listener.TypingChanged(thread, s.presence.Typing(thread))
	}
}

func (s *Session) refreshAsync() {
	s.mu.Lock()
	ctx := s.ctx
	closed := s.closed
	if ctx == nil || closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if err := s.inbox.Refresh(ctx); err != nil && ctx.Err() == nil {
			logging.Warn("Inbox refresh failed", map[string]interface{}{
				"user_id": s.userID.String(),
				"error":   err.Error(),
			})
		}
	}()
}

func (s *Session) poll(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.inbox.Refresh(ctx); err != nil && ctx.Err() == nil {
				logging.Warn("Periodic inbox refresh failed", map[string]interface{}{
					"user_id": s.userID.String(),
					"error":   err.Error(),
				})
			}
		}
	}
}
