package hub

import (
	"context"
	"encoding/json"
	"fmt"

	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"shadow-sync/internal/protocol"
	"shadow-sync/internal/registry"
)

var ErrClientDisconnected = fmt.Errorf("client disconnected")

type clientMessage struct {
	client  *Client
	message *protocol.Message
}

// Hub runs the server side of the shadow-sync channel. Every inbound event
// (connect, snapshot, update, chat, join, command, disconnect) is processed
// by the single Run loop, so registry mutation is serialized structurally;
// the registry's own lock covers HTTP readers.
type Hub struct {
	registry *registry.Registry

	// Registered channels
	clients map[*Client]bool

	// Current channel per client identifier, last-writer-wins
	byID map[string]*Client

	// Admin broadcast group membership
	admins map[*Client]bool

	// Register requests from accepted connections
	register chan *Client

	// Unregister requests from closing connections
	unregister chan *Client

	// Inbound messages from clients
	inbound chan *clientMessage

	// Context for graceful shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

func New(reg *registry.Registry) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		registry:   reg,
		clients:    make(map[*Client]bool),
		byID:       make(map[string]*Client),
		admins:     make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan *clientMessage),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Registry exposes the presence registry for the HTTP surface.
func (h *Hub) Registry() *registry.Registry {
	return h.registry
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case cm := <-h.inbound:
			h.handleMessage(cm)

		case <-h.ctx.Done():
			slog.Info("Shadow-sync hub shutting down")
			return
		}
	}
}

func (h *Hub) Stop() {
	h.cancel()
}

// ServeWS hands an upgraded connection with a validated client identifier to
// the hub and starts its pumps.
func (h *Hub) ServeWS(conn *websocket.Conn, clientID string) {
	client := newClient(h, conn, clientID)

	select {
	case h.register <- client:
	case <-h.ctx.Done():
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (h *Hub) registerClient(c *Client) {
	h.clients[c] = true

	// Observer connections (admin consoles without an identifier) hold no
	// record and trigger no broadcast.
	if c.clientID == "" {
		slog.Info("Observer connected", "connID", c.connID)
		return
	}

	// Duplicate connect with the same identifier: the newest channel wins and
	// the prior one is orphaned without ceremony.
	if old, ok := h.byID[c.clientID]; ok && old != c {
		slog.Warn("Duplicate client identifier, orphaning previous channel",
			"clientID", c.clientID, "oldConnID", old.connID, "newConnID", c.connID)
		delete(h.clients, old)
		delete(h.admins, old)
		old.closeSendChannel()
		old.close()
		old.conn.Close()
	}

	h.byID[c.clientID] = c
	h.registry.Connect(c.clientID, c.connID)

	slog.Info("Client connected", "clientID", c.clientID, "connID", c.connID)
	h.broadcastRegistry()
}

func (h *Hub) unregisterClient(c *Client) {
	if !h.clients[c] && !h.admins[c] {
		return
	}
	delete(h.clients, c)
	delete(h.admins, c)
	c.closeSendChannel()

	if c.clientID == "" {
		return
	}
	if h.byID[c.clientID] == c {
		delete(h.byID, c.clientID)
	}

	// Guarded by connection id: a stale channel closing after an overwriting
	// reconnect must not flip the live record offline.
	if h.registry.Disconnect(c.clientID, c.connID) {
		slog.Info("Client disconnected", "clientID", c.clientID, "connID", c.connID)
		h.broadcastRegistry()
	}
}

func (h *Hub) handleMessage(cm *clientMessage) {
	c, msg := cm.client, cm.message

	// Every inbound event on an identified channel counts as activity. No
	// broadcast for this alone; the enumerated state events below handle that.
	if c.clientID != "" {
		h.registry.Touch(c.clientID)
	}

	switch msg.Type {
	case protocol.TypeStateSnapshot:
		if h.registry.ApplySnapshot(c.clientID, msg.Data) {
			h.broadcastRegistry()
		}

	case protocol.TypeStateUpdate:
		if h.registry.ApplyUpdate(c.clientID, msg.Data) {
			h.broadcastRegistry()
		}

	case protocol.TypeChatMessage:
		h.relayChat(c, msg)

	case protocol.TypeAdminJoin:
		h.joinAdmin(c)

	case protocol.TypeAdminCommand:
		h.routeCommand(c, msg)

	default:
		slog.Debug("Ignoring message", "clientID", c.clientID, "type", msg.Type)
	}
}

// joinAdmin admits the connection to the broadcast group and immediately
// sends it the full current registry, covering clients that connected before
// the admin joined. There is no authorization check; any connection that
// sends the join message is admitted.
func (h *Hub) joinAdmin(c *Client) {
	h.admins[c] = true
	slog.Info("Admin session joined", "clientID", c.clientID, "connID", c.connID)

	snapshot := protocol.NewRegistryUpdate(uuid.NewString(), h.registry.List())
	if err := c.deliver(snapshot); err != nil {
		slog.Debug("Failed to send registry snapshot to admin", "clientID", c.clientID, "error", err)
	}
}

// relayChat forwards a client chat message to every admin session, tagged
// with the sender's identifier. Not persisted: a reconnecting admin receives
// no history.
func (h *Hub) relayChat(c *Client, msg *protocol.Message) {
	text, _ := msg.Data["text"].(string)
	ts := msg.Timestamp
	if v, ok := msg.Data["timestamp"].(float64); ok {
		ts = int64(v)
	}

	out := protocol.NewChatBroadcast(uuid.NewString(), c.clientID, text, ts)
	data, err := json.Marshal(out)
	if err != nil {
		slog.Error("Failed to marshal chat broadcast", "error", err)
		return
	}
	for admin := range h.admins {
		admin.enqueue(data)
	}
}

// routeCommand delivers an administrator-issued action to the addressed
// client's current channel, if and only if its record is online. Anything
// else is dropped with a server-side log: at-most-once, no queuing, no
// acknowledgment, no error back to the issuer.
func (h *Hub) routeCommand(issuer *Client, msg *protocol.Message) {
	req, err := protocol.ParseCommandRequest(msg)
	if err != nil {
		slog.Warn("Malformed admin command", "issuer", issuer.clientID, "error", err)
		return
	}

	rec, ok := h.registry.Get(req.TargetID)
	if !ok || rec.Status != registry.StatusOnline {
		slog.Info("Dropping command for unreachable target",
			"issuer", issuer.clientID, "targetID", req.TargetID, "action", req.Action)
		return
	}

	target, ok := h.byID[req.TargetID]
	if !ok || target.connID != rec.ConnectionID {
		slog.Info("Dropping command, target channel gone",
			"issuer", issuer.clientID, "targetID", req.TargetID, "action", req.Action)
		return
	}

	cmd := protocol.NewCommand(uuid.NewString(), req.Action, req.Payload)
	if err := target.deliver(cmd); err != nil {
		slog.Info("Dropping command, target not accepting writes",
			"issuer", issuer.clientID, "targetID", req.TargetID, "error", err)
	}
}

// broadcastRegistry pushes the entire registry to every admin session. The
// payload is marshalled once and fanned out.
func (h *Hub) broadcastRegistry() {
	if len(h.admins) == 0 {
		return
	}

	out := protocol.NewRegistryUpdate(uuid.NewString(), h.registry.List())
	data, err := json.Marshal(out)
	if err != nil {
		slog.Error("Failed to marshal registry broadcast", "error", err)
		return
	}
	for admin := range h.admins {
		admin.enqueue(data)
	}
}
