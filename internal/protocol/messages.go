// Package protocol defines the WebSocket frame types exchanged between the
// messaging gateway and its clients. All frames are JSON objects with a
// "type" discriminator.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/autocareers/messaging/internal/model"
)

// Client -> Server frame types.
const (
	TypeTypingStatus       = "typing_status"
	TypeActiveConversation = "active_conversation"
)

// Server -> Client frame types. TypeTypingStatus is bidirectional: the client
// sends its own flag, the server broadcasts the full per-conversation set.
const (
	TypeNewMessage = "new_message"
	TypeAck        = "ack"
	TypeError      = "error"
)

// Error codes carried by ErrorMsg.
const (
	CodeInvalidJSON = "invalid_json"
)

// Envelope holds the frame type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server frame structs
// ---------------------------------------------------------------------------

// TypingStatusMsg is sent by the client when it starts or stops typing in a
// conversation.
type TypingStatusMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

// ActiveConversationMsg is sent by the client to record which conversation it
// is currently viewing. An empty conversation_id means none.
type ActiveConversationMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// ---------------------------------------------------------------------------
// Server -> Client frame structs
// ---------------------------------------------------------------------------

// NewMessageEvent notifies a session that a message was created in a
// conversation by another user.
type NewMessageEvent struct {
	Type    string         `json:"type"`
	Message *model.Message `json:"message"`
}

// TypingStatusEvent carries the full set of users currently typing in a
// conversation.
type TypingStatusEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	UsersTyping    []int  `json:"users_typing"`
}

// AckMsg echoes a received frame back to the sender. Every successfully
// parsed inbound frame is acknowledged this way, whether or not the gateway
// recognized its type.
type AckMsg struct {
	Type     string          `json:"type"`
	Received json.RawMessage `json:"received"`
}

// ErrorMsg is a diagnostic frame sent when an inbound frame could not be
// parsed. It never accompanies a disconnect; the session stays open.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client frame.
// It returns the frame type string and the decoded struct. Frames of an
// unknown type parse successfully with a nil struct: the gateway treats them
// as plain traffic to acknowledge, not as errors.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeTypingStatus:
		var m TypingStatusMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeActiveConversation:
		var m ActiveConversationMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, nil
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server frame. The
// msgType is injected into the payload under the "type" key so that callers
// never have to fill the Type field on the payload struct themselves.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
