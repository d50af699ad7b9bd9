package hub

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"shadow-sync/internal/protocol"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer; state snapshots can be large
	maxMessageSize = 64 * 1024
)

// Client is one accepted channel. The same type serves app instances and
// admin sessions; admin membership is granted by the join message, not the
// handshake.
type Client struct {
	clientID string
	connID   string
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte

	ctx        context.Context
	cancel     context.CancelFunc
	closed     int32 // atomic flag to track if client is closed
	sendClosed int32 // atomic flag to track if send channel is closed
}

func newClient(hub *Hub, conn *websocket.Conn, clientID string) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		clientID: clientID,
		connID:   uuid.NewString(),
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// ClientID returns the stable identifier supplied at handshake time.
func (c *Client) ClientID() string {
	return c.clientID
}

// ConnectionID returns the identifier of this underlying channel. It is
// replaced by a new Client value on every reconnect.
func (c *Client) ConnectionID() string {
	return c.connID
}

func (c *Client) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

func (c *Client) close() {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		c.cancel()
	}
}

func (c *Client) closeSendChannel() {
	if atomic.CompareAndSwapInt32(&c.sendClosed, 0, 1) {
		close(c.send)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.close()

		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}

		if err := c.conn.Close(); err != nil {
			slog.Debug("Error closing connection", "clientID", c.clientID, "connID", c.connID, "error", err)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		if c.isClosed() {
			return websocket.ErrCloseSent
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "clientID", c.clientID, "connID", c.connID, "error", err)
			} else {
				slog.Debug("WebSocket connection closed", "clientID", c.clientID, "connID", c.connID, "error", err)
			}
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			slog.Error("Failed to unmarshal message", "clientID", c.clientID, "error", err)
			c.sendError("INVALID_MESSAGE", "Invalid message format")
			continue
		}

		// Stamp server-side fields; senders cannot impersonate another client
		msg.ClientID = c.clientID
		msg.Timestamp = time.Now().Unix()
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}

		if err := msg.Validate(); err != nil {
			slog.Debug("Rejecting invalid message", "clientID", c.clientID, "error", err)
			c.sendError("INVALID_MESSAGE", "Invalid message format")
			continue
		}
		if !msg.Type.IsInbound() {
			slog.Debug("Ignoring server-only message type", "clientID", c.clientID, "type", msg.Type)
			continue
		}

		select {
		case c.hub.inbound <- &clientMessage{client: c, message: &msg}:
		case <-c.ctx.Done():
			return
		case <-c.hub.ctx.Done():
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		// readPump owns closing the connection
	}()

	for {
		select {
		case message, ok := <-c.send:
			if c.isClosed() {
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Send channel was closed, send close message and exit
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Debug("Error writing message", "clientID", c.clientID, "connID", c.connID, "error", err)
				return
			}

		case <-ticker.C:
			if c.isClosed() {
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("Error sending ping", "clientID", c.clientID, "connID", c.connID, "error", err)
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// enqueue hands raw bytes to the write pump without blocking the hub loop.
// A full buffer means the peer stopped draining; the client is cut loose.
func (c *Client) enqueue(data []byte) error {
	if c.isClosed() || atomic.LoadInt32(&c.sendClosed) == 1 {
		return ErrClientDisconnected
	}

	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return ErrClientDisconnected
	default:
		slog.Warn("Send buffer full, closing client", "clientID", c.clientID, "connID", c.connID)
		c.closeSendChannel()
		return ErrClientDisconnected
	}
}

// deliver marshals and enqueues one message for this client.
func (c *Client) deliver(msg *protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

func (c *Client) sendError(code, message string) {
	c.deliver(protocol.NewErrorMessage(uuid.NewString(), c.clientID, code, message))
}
