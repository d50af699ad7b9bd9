package protocol

import (
	"fmt"
	"time"
)

// MessageType identifies a wire message using a custom enum type for better type safety
type MessageType string

const (
	// Client -> server
	TypeStateSnapshot MessageType = "state.snapshot"
	TypeStateUpdate   MessageType = "state.update"
	TypeChatMessage   MessageType = "chat.message"
	TypeAdminJoin     MessageType = "admin.join"
	TypeAdminCommand  MessageType = "admin.command"

	// Server -> admin group
	TypeRegistryUpdate MessageType = "registry.update"
	TypeChatBroadcast  MessageType = "chat.broadcast"

	// Server -> targeted client
	TypeCommand MessageType = "command"

	// Error events
	TypeError MessageType = "error"
)

// String returns the string representation of the MessageType
func (mt MessageType) String() string {
	return string(mt)
}

// IsValid checks if the MessageType is a valid enum value
func (mt MessageType) IsValid() bool {
	switch mt {
	case TypeStateSnapshot, TypeStateUpdate, TypeChatMessage, TypeAdminJoin,
		TypeAdminCommand, TypeRegistryUpdate, TypeChatBroadcast, TypeCommand, TypeError:
		return true
	default:
		return false
	}
}

// IsInbound reports whether the type is one a client may send to the server.
func (mt MessageType) IsInbound() bool {
	switch mt {
	case TypeStateSnapshot, TypeStateUpdate, TypeChatMessage, TypeAdminJoin, TypeAdminCommand:
		return true
	default:
		return false
	}
}

// Message is the envelope for every frame on the sync channel.
type Message struct {
	ID        string         `json:"id"`
	Type      MessageType    `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp int64          `json:"timestamp"`
	ClientID  string         `json:"client_id,omitempty"`
}

// Validate validates the message structure and type
func (m *Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("message ID is required")
	}
	if !m.Type.IsValid() {
		return fmt.Errorf("invalid message type: %s", m.Type)
	}
	if m.Data == nil {
		m.Data = make(map[string]any)
	}
	return nil
}

// CommandRequest is an administrator-issued action addressed to one client.
type CommandRequest struct {
	TargetID string         `json:"target_id"`
	Action   string         `json:"action"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// ParseCommandRequest extracts a CommandRequest from an admin.command message.
func ParseCommandRequest(m *Message) (CommandRequest, error) {
	var req CommandRequest
	if m.Type != TypeAdminCommand {
		return req, fmt.Errorf("not an admin command: %s", m.Type)
	}
	target, _ := m.Data["target_id"].(string)
	if target == "" {
		return req, fmt.Errorf("admin command requires a target_id")
	}
	action, _ := m.Data["action"].(string)
	if action == "" {
		return req, fmt.Errorf("admin command requires an action")
	}
	req.TargetID = target
	req.Action = action
	if payload, ok := m.Data["payload"].(map[string]any); ok {
		req.Payload = payload
	}
	return req, nil
}

// NewMessage creates a new message with the specified type and data
func NewMessage(id string, msgType MessageType, clientID string, data map[string]any) *Message {
	if data == nil {
		data = make(map[string]any)
	}
	return &Message{
		ID:        id,
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().Unix(),
		ClientID:  clientID,
	}
}

// NewRegistryUpdate creates a registry broadcast carrying every record's current value.
func NewRegistryUpdate(id string, records any) *Message {
	return NewMessage(id, TypeRegistryUpdate, "", map[string]any{
		"clients": records,
	})
}

// NewChatBroadcast creates a chat relay tagged with the sending client's identifier.
func NewChatBroadcast(id, clientID, text string, timestamp int64) *Message {
	return NewMessage(id, TypeChatBroadcast, clientID, map[string]any{
		"client_id": clientID,
		"text":      text,
		"timestamp": timestamp,
	})
}

// NewCommand creates the targeted command frame delivered to a single client.
func NewCommand(id, action string, payload map[string]any) *Message {
	data := map[string]any{
		"action": action,
	}
	if payload != nil {
		data["payload"] = payload
	}
	return NewMessage(id, TypeCommand, "", data)
}

// NewErrorMessage creates an error message
func NewErrorMessage(id, clientID, code, message string) *Message {
	return NewMessage(id, TypeError, clientID, map[string]any{
		"code":    code,
		"message": message,
	})
}
