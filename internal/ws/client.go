package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/HammerMeetNail/nearby/internal/logging"
	"github.com/HammerMeetNail/nearby/internal/models"
	"github.com/HammerMeetNail/nearby/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBufSize    = 256
)

var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Client is a single WebSocket connection and the session it drives.
// Lifecycle: Hub.Connect -> Start -> [readPump, writePump] -> Close -> Wait.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan OutgoingMessage
	userID  uuid.UUID
	session *session.Session

	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

var _ session.Listener = (*Client)(nil)

func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan OutgoingMessage, sendBufSize),
		userID: userID,
		done:   make(chan struct{}),
	}
}

func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// Wait blocks until both pumps and any in-flight sends have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close stops the pumps. The session is closed by the hub.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) InboxChanged(items []models.ConversationItem, totalUnread int) {
	c.hub.sendToClient(c, OutgoingMessage{Type: EventInbox, Payload: InboxPayload{
		Items:       items,
		TotalUnread: totalUnread,
	}})
}

func (c *Client) ThreadChanged(thread models.ThreadRef, messages []models.Message, draft string) {
	c.hub.sendToClient(c, OutgoingMessage{Type: EventThread, Payload: ThreadPayload{
		Thread:   thread,
		Messages: messages,
		Draft:    draft,
	}})
}

func (c *Client) TypingChanged(thread models.ThreadRef, users []uuid.UUID) {
	c.hub.sendToClient(c, OutgoingMessage{Type: EventTyping, Payload: TypingPayload{
		Thread:  thread,
		UserIDs: users,
	}})
}

func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warn("WebSocket read error", map[string]interface{}{
					"user_id": c.userID.String(),
					"error":   err.Error(),
				})
			}
			return
		}

		var msg IncomingMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.hub.sendError(c, IncomingMessage{}, CodeBadRequest, "malformed message")
			continue
		}

		c.hub.HandleMessage(ctx, c, msg)
	}
}

func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			if err := json.NewEncoder(buf).Encode(msg); err != nil {
				bufPool.Put(buf)
				logging.Error("WebSocket marshal error", map[string]interface{}{
					"user_id": c.userID.String(),
					"type":    string(msg.Type),
					"error":   err.Error(),
				})
				continue
			}
			data := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
			writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
