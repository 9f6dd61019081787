// Package ws is the realtime transport: one websocket client per device, each
// backed by its own session.
package ws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/HammerMeetNail/nearby/internal/logging"
	"github.com/HammerMeetNail/nearby/internal/models"
	"github.com/HammerMeetNail/nearby/internal/session"
)

const (
	commandTimeout = 10 * time.Second
	startTimeout   = 10 * time.Second
)

// SessionFactory builds an unstarted session that reports to listener.
type SessionFactory func(userID uuid.UUID, listener session.Listener) *session.Session

// UserChecker confirms an invitation target exists before it is written.
type UserChecker interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

type Hub struct {
	mu         sync.RWMutex
	clients    map[uuid.UUID]map[*Client]struct{}
	total      int
	maxConns   int
	newSession SessionFactory
	users      UserChecker
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(newSession SessionFactory, users UserChecker, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		maxConns:   maxConns,
		newSession: newSession,
		users:      users,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

// Done is closed once Run has returned and every client has been closed.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[uuid.UUID]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
		c.session.Close()
	}
}

// Connect starts a session for conn and hands the client to the hub. The
// initial inbox is queued before the pumps start.
func (h *Hub) Connect(conn *websocket.Conn, userID uuid.UUID) error {
	c := NewClient(h, conn, userID)
	c.session = h.newSession(userID, c)

	startCtx, cancelStart := context.WithTimeout(context.Background(), startTimeout)
	defer cancelStart()
	if err := c.session.Start(startCtx); err != nil {
		c.session.Close()
		conn.Close()
		return fmt.Errorf("starting session: %w", err)
	}
	c.InboxChanged(c.session.Inbox(), c.session.TotalUnread())

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx, cancel)
	h.Register(c)
	return nil
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logging.Error("WebSocket connection limit reached", map[string]interface{}{
			"max_connections": h.maxConns,
			"user_id":         c.userID.String(),
		})
		c.Close()
		go c.session.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	if len(clients) == 0 {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	c.Close()
	// Session teardown persists read markers; keep it off the hub loop.
	go c.session.Close()
}

// ClientCount reports the number of live connections for userID.
func (h *Hub) ClientCount(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

// HandleMessage dispatches incoming WebSocket messages.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventOpenThread:
		h.handleOpenThread(ctx, c, msg)
	case EventCloseThread:
		h.handleCloseThread(ctx, c, msg)
	case EventSendMessage:
		h.handleSendMessage(ctx, c, msg)
	case EventKeystroke:
		h.handleKeystroke(ctx, c, msg)
	case EventBlur:
		h.handleBlur(ctx, c, msg)
	case EventSetDraft:
		h.handleSetDraft(c, msg)
	case EventToggleMute:
		h.handleToggleMute(ctx, c, msg)
	case EventSendInvitation:
		h.handleSendInvitation(ctx, c, msg)
	case EventAcceptInvitation, EventDeclineInvitation, EventCancelInvitation:
		h.handleResolveInvitation(ctx, c, msg)
	case EventRefresh:
		h.handleRefresh(ctx, c, msg)
	default:
		h.sendError(c, msg, CodeUnknownType, "unknown event type")
	}
}

func (h *Hub) handleOpenThread(ctx context.Context, c *Client, msg IncomingMessage) {
	thread, ok := h.parseThread(c, msg)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	messages, err := c.session.OpenThread(ctx, thread)
	if err != nil {
		h.sendFailure(c, msg, err)
		return
	}
	_, draft, _ := c.session.Thread(thread)
	h.sendToClient(c, OutgoingMessage{Type: EventThread, Payload: ThreadPayload{
		Thread:   thread,
		Messages: messages,
		Draft:    draft,
	}})
	h.sendToClient(c, OutgoingMessage{Type: EventTyping, Payload: TypingPayload{
		Thread:  thread,
		UserIDs: c.session.Typing(thread),
	}})
}

func (h *Hub) handleCloseThread(ctx context.Context, c *Client, msg IncomingMessage) {
	thread, ok := h.parseThread(c, msg)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if err := c.session.CloseThread(ctx, thread); err != nil {
		h.sendFailure(c, msg, err)
	}
}

// handleSendMessage runs the write off the read pump so typing and other
// commands keep flowing while the store call is in flight.
func (h *Hub) handleSendMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	thread, ok := h.parseThread(c, msg)
	if !ok {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		sent, err := c.session.Send(ctx, thread, msg.Content)
		if err != nil {
			h.sendFailure(c, msg, err)
			return
		}
		h.sendToClient(c, OutgoingMessage{Type: EventMessageAck, Payload: MessageAckPayload{
			RequestID: msg.RequestID,
			Message:   sent,
		}})
	}()
}

func (h *Hub) handleKeystroke(ctx context.Context, c *Client, msg IncomingMessage) {
	thread, ok := h.parseThread(c, msg)
	if !ok {
		return
	}
	if err := c.session.Keystroke(ctx, thread); err != nil {
		h.sendFailure(c, msg, err)
	}
}

func (h *Hub) handleBlur(ctx context.Context, c *Client, msg IncomingMessage) {
	thread, ok := h.parseThread(c, msg)
	if !ok {
		return
	}
	c.session.Blur(ctx, thread)
}

func (h *Hub) handleSetDraft(c *Client, msg IncomingMessage) {
	thread, ok := h.parseThread(c, msg)
	if !ok {
		return
	}
	if err := c.session.SetDraft(thread, msg.Content); err != nil {
		h.sendFailure(c, msg, err)
	}
}

func (h *Hub) handleToggleMute(ctx context.Context, c *Client, msg IncomingMessage) {
	thread, ok := h.parseThread(c, msg)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	muted, err := c.session.ToggleMute(ctx, thread)
	if err != nil {
		logging.Warn("Failed to toggle mute", map[string]interface{}{
			"user_id": c.userID.String(),
			"thread":  thread.Key(),
			"error":   err.Error(),
		})
		h.sendFailure(c, msg, err)
		return
	}
	h.sendToClient(c, OutgoingMessage{Type: EventMute, Payload: MutePayload{Thread: thread, Muted: muted}})
}

func (h *Hub) handleSendInvitation(ctx context.Context, c *Client, msg IncomingMessage) {
	receiverID, err := uuid.Parse(msg.ReceiverID)
	if err != nil {
		h.sendError(c, msg, CodeBadRequest, "invalid receiver_id")
		return
	}
	var eventID *uuid.UUID
	if msg.EventID != "" {
		id, err := uuid.Parse(msg.EventID)
		if err != nil {
			h.sendError(c, msg, CodeBadRequest, "invalid event_id")
			return
		}
		eventID = &id
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if h.users != nil {
		exists, err := h.users.Exists(ctx, receiverID)
		if err != nil {
			h.sendFailure(c, msg, err)
			return
		}
		if !exists {
			h.sendError(c, msg, CodeBadRequest, "receiver not found")
			return
		}
	}

	inv, err := c.session.SendInvitation(ctx, receiverID, msg.ActivityLabel, eventID)
	if err != nil {
		h.sendFailure(c, msg, err)
		return
	}
	h.sendToClient(c, OutgoingMessage{Type: EventInvitation, Payload: InvitationPayload{RequestID: msg.RequestID, Invitation: inv}})
}

func (h *Hub) handleResolveInvitation(ctx context.Context, c *Client, msg IncomingMessage) {
	invitationID, err := uuid.Parse(msg.InvitationID)
	if err != nil {
		h.sendError(c, msg, CodeBadRequest, "invalid invitation_id")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var inv *models.Invitation
	switch msg.Type {
	case EventAcceptInvitation:
		inv, err = c.session.AcceptInvitation(ctx, invitationID)
	case EventDeclineInvitation:
		inv, err = c.session.DeclineInvitation(ctx, invitationID)
	default:
		err = c.session.CancelInvitation(ctx, invitationID)
	}
	if err != nil {
		h.sendFailure(c, msg, err)
		return
	}
	h.sendToClient(c, OutgoingMessage{Type: EventInvitation, Payload: InvitationPayload{RequestID: msg.RequestID, Invitation: inv}})
}

func (h *Hub) handleRefresh(ctx context.Context, c *Client, msg IncomingMessage) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := c.session.Refresh(ctx); err != nil {
		h.sendFailure(c, msg, err)
		return
	}
	c.InboxChanged(c.session.Inbox(), c.session.TotalUnread())
}

func (h *Hub) parseThread(c *Client, msg IncomingMessage) (models.ThreadRef, bool) {
	thread, err := models.ParseThreadRef(msg.Thread)
	if err != nil {
		h.sendError(c, msg, CodeInvalidThread, "invalid thread")
		return models.ThreadRef{}, false
	}
	return thread, true
}

func (h *Hub) sendFailure(c *Client, msg IncomingMessage, err error) {
	code := errorCode(err)
	if code == CodeInternal {
		logging.Error("WebSocket command failed", map[string]interface{}{
			"user_id": c.userID.String(),
			"type":    string(msg.Type),
			"error":   err.Error(),
		})
	}
	h.sendError(c, msg, code, errorMessage(err, code))
}

func (h *Hub) sendError(c *Client, msg IncomingMessage, code, message string) {
	h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: ErrorPayload{
		RequestID: msg.RequestID,
		Code:      code,
		Message:   message,
		Thread:    msg.Thread,
	}})
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		logging.Warn("WebSocket send buffer full, closing slow client", map[string]interface{}{
			"user_id": c.userID.String(),
		})
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
		go c.session.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
