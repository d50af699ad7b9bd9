package agent

import (
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"shadow-sync/internal/protocol"
)

const (
	// Time allowed to write a message to the server
	writeWait = 10 * time.Second

	// Default fixed delay between reconnect attempts
	defaultReconnectDelay = 3 * time.Second
)

// State is the connection lifecycle of the manager.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Transport is the injectable surface of the connection manager, so the
// change feed and callers can be tested against a fake.
type Transport interface {
	Connect()
	Emit(event protocol.MessageType, data map[string]any)
	Disconnect()
	Connected() bool
}

// CommandHandler receives server-pushed commands addressed to this client.
type CommandHandler func(action string, payload map[string]any)

// ConnectionManager owns the single persistent channel from one app instance
// to the coordination server. Transport failures are never surfaced to the
// caller: the channel retries on a fixed delay until Disconnect is called.
// Best-effort telemetry only; nothing here carries a delivery guarantee.
type ConnectionManager struct {
	serverURL string
	clientID  string
	delay     time.Duration
	dialer    websocket.Dialer

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	retry  *time.Timer
	manual bool // set by Disconnect; suppresses automatic reconnection

	onCommand CommandHandler
	onConnect func()
}

func NewConnectionManager(serverURL, clientID string, delay time.Duration) *ConnectionManager {
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	return &ConnectionManager{
		serverURL: serverURL,
		clientID:  clientID,
		delay:     delay,
		dialer: websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		state: StateDisconnected,
	}
}

// OnCommand registers the handler for inbound command frames.
func (m *ConnectionManager) OnCommand(fn CommandHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCommand = fn
}

// OnConnect registers a hook invoked after every successful (re)connect.
func (m *ConnectionManager) OnConnect(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnect = fn
}

// State returns the current connection state.
func (m *ConnectionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether the channel is currently established.
func (m *ConnectionManager) Connected() bool {
	return m.State() == StateConnected
}

// Connect establishes the channel, tagging the handshake with the client
// identifier. No-op when a channel already exists or is being established.
// An empty identifier is a silent no-op: no channel, no error.
func (m *ConnectionManager) Connect() {
	if m.clientID == "" {
		slog.Debug("Connect skipped, empty client identifier")
		return
	}

	m.mu.Lock()
	m.manual = false
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	m.mu.Unlock()

	go m.dial()
}

// Emit sends a named event on the current channel. When not connected the
// message is silently dropped: no queuing, no error.
func (m *ConnectionManager) Emit(event protocol.MessageType, data map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateConnected || m.conn == nil {
		return
	}

	msg := protocol.NewMessage(uuid.NewString(), event, m.clientID, data)
	m.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := m.conn.WriteJSON(msg); err != nil {
		slog.Warn("Channel write failed", "clientID", m.clientID, "error", err)
		m.dropLocked()
	}
}

// Disconnect cancels any pending reconnect and closes the channel if open.
// Idempotent. Automatic reconnection stays suppressed until Connect is
// called again.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	m.manual = true
	m.stopRetryLocked()
	conn := m.conn
	m.conn = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
		slog.Info("Channel closed", "clientID", m.clientID)
	}
}

func (m *ConnectionManager) dial() {
	endpoint, err := m.endpoint()
	if err != nil {
		slog.Error("Invalid server address", "serverURL", m.serverURL, "error", err)
		m.mu.Lock()
		m.state = StateDisconnected
		m.mu.Unlock()
		return
	}

	conn, _, err := m.dialer.Dial(endpoint, nil)

	m.mu.Lock()
	if m.manual || m.state != StateConnecting {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		m.state = StateDisconnected
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		slog.Warn("Connect failed, retrying", "clientID", m.clientID, "delay", m.delay, "error", err)
		return
	}

	m.conn = conn
	m.state = StateConnected
	m.stopRetryLocked()
	onConnect := m.onConnect
	m.mu.Unlock()

	slog.Info("Channel connected", "clientID", m.clientID, "server", m.serverURL)
	go m.readLoop(conn)
	if onConnect != nil {
		onConnect()
	}
}

func (m *ConnectionManager) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleDrop(conn, err)
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("Ignoring unparseable frame", "clientID", m.clientID, "error", err)
			continue
		}

		if msg.Type == protocol.TypeCommand {
			action, _ := msg.Data["action"].(string)
			payload, _ := msg.Data["payload"].(map[string]any)

			m.mu.Lock()
			fn := m.onCommand
			m.mu.Unlock()
			if fn != nil {
				fn(action, payload)
			}
		}
	}
}

// handleDrop transitions to disconnected and arms the fixed-delay retry,
// unless conn has already been superseded or Disconnect was called.
func (m *ConnectionManager) handleDrop(conn *websocket.Conn, err error) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.dropLocked()
	m.mu.Unlock()

	conn.Close()
	slog.Warn("Channel lost", "clientID", m.clientID, "error", err)
}

func (m *ConnectionManager) dropLocked() {
	if m.conn != nil {
		conn := m.conn
		m.conn = nil
		go conn.Close()
	}
	m.state = StateDisconnected
	if !m.manual {
		m.scheduleReconnectLocked()
	}
}

// scheduleReconnectLocked arms a single fixed-delay timer. Not exponential
// backoff: the retry cadence is constant no matter how long the server stays
// unreachable.
func (m *ConnectionManager) scheduleReconnectLocked() {
	m.stopRetryLocked()
	m.retry = time.AfterFunc(m.delay, func() {
		m.mu.Lock()
		m.retry = nil
		if m.manual || m.state != StateDisconnected {
			m.mu.Unlock()
			return
		}
		m.state = StateConnecting
		m.mu.Unlock()

		m.dial()
	})
}

func (m *ConnectionManager) stopRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

func (m *ConnectionManager) endpoint() (string, error) {
	u, err := url.Parse(m.serverURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/api/v1/ws"
	q := url.Values{}
	q.Set("clientId", m.clientID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
