// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeAuthenticate = "authenticate"
	TypeMessage      = "message"
	TypeJoinRoom     = "join_room"
	TypeLeaveRoom    = "leave_room"
	TypeTyping       = "typing"
	TypeStopTyping   = "stop_typing"
	TypeReport       = "report"
	TypePing         = "ping"
)

// Server -> Client message types.
const (
	TypeAuthenticated     = "authenticated"
	TypeNewMessage        = "new_message"
	TypeMessageDelivered  = "message_delivered"
	TypeMessageError      = "message_error"
	TypeUserStatusUpdate  = "user_status_update"
	TypeUserTyping        = "user_typing"
	TypeUserStoppedTyping = "user_stopped_typing"
	TypeRoomJoined        = "room_joined"
	TypeRoomLeft          = "room_left"
	TypeRoomError         = "room_error"
	TypeReportAck         = "report_ack"
	TypeBanned            = "banned"
	TypeError             = "error"
	TypePong              = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// AuthenticateMsg carries the connection credential. It must be the first
// message on a new connection.
type AuthenticateMsg struct {
	Type       string `json:"type"`
	Credential string `json:"credential"`
}

// SendMsg is a chat message addressed to a user (scope "private") or a
// group room (scope "group"). IsFile marks the content as an attachment
// reference; it is independent of the scope.
type SendMsg struct {
	Type     string `json:"type"`
	TargetID string `json:"target_id"`
	Content  string `json:"content"`
	Scope    string `json:"scope"`
	IsFile   bool   `json:"is_file,omitempty"`
}

// JoinRoomMsg asks to join the realtime room for a group.
type JoinRoomMsg struct {
	Type    string `json:"type"`
	GroupID string `json:"group_id"`
}

// LeaveRoomMsg asks to leave the realtime room for a group.
type LeaveRoomMsg struct {
	Type    string `json:"type"`
	GroupID string `json:"group_id"`
}

// TypingMsg signals that the sender started or is still typing toward a
// user or group target.
type TypingMsg struct {
	Type     string `json:"type"`
	TargetID string `json:"target_id"`
	Scope    string `json:"scope"`
}

// StopTypingMsg signals that the sender stopped typing.
type StopTypingMsg struct {
	Type     string `json:"type"`
	TargetID string `json:"target_id"`
	Scope    string `json:"scope"`
}

// ReportMsg files a community report against a user, globally or within a
// group context.
type ReportMsg struct {
	Type       string `json:"type"`
	ReportedID string `json:"reported_id"`
	Scope      string `json:"scope"` // "global" or "group:<id>"
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// AuthenticatedMsg confirms a successful authentication and reports the
// rooms the connection was joined to.
type AuthenticatedMsg struct {
	Type        string   `json:"type"`
	UserID      string   `json:"user_id"`
	DisplayName string   `json:"display_name"`
	Rooms       []string `json:"rooms"`
}

// NewMessageMsg delivers an inbound chat message.
type NewMessageMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	SenderID  string `json:"sender_id"`
	TargetID  string `json:"target_id"`
	Content   string `json:"content"`
	Scope     string `json:"scope"`
	IsFile    bool   `json:"is_file,omitempty"`
	Ts        int64  `json:"ts"`
}

// MessageDeliveredMsg acknowledges a send back to the sending connection.
type MessageDeliveredMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	TargetID  string `json:"target_id"`
	Ts        int64  `json:"ts"`
}

// MessageErrorMsg reports a failed send to the sending connection only.
type MessageErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UserStatusUpdateMsg announces a user's offline/online transition. It is
// broadcast only on the 0-to-1 and N-to-0 connection-count transitions.
type UserStatusUpdateMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// UserTypingMsg relays a typing signal.
type UserTypingMsg struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	TargetID string `json:"target_id"`
	Scope    string `json:"scope"`
}

// UserStoppedTypingMsg relays a stop-typing signal.
type UserStoppedTypingMsg struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	TargetID string `json:"target_id"`
	Scope    string `json:"scope"`
}

// RoomJoinedMsg confirms a room join.
type RoomJoinedMsg struct {
	Type    string `json:"type"`
	GroupID string `json:"group_id"`
}

// RoomLeftMsg confirms a room leave.
type RoomLeftMsg struct {
	Type    string `json:"type"`
	GroupID string `json:"group_id"`
}

// RoomErrorMsg reports a failed room operation.
type RoomErrorMsg struct {
	Type    string `json:"type"`
	GroupID string `json:"group_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ReportAckMsg returns the running report count so the client can show
// progress, and whether the report triggered an automatic ban.
type ReportAckMsg struct {
	Type       string `json:"type"`
	ReportedID string `json:"reported_id"`
	Count      int    `json:"count"`
	Threshold  int    `json:"threshold"`
	AutoBanned bool   `json:"auto_banned"`
}

// BannedMsg informs a connection that an action was blocked by a ban.
type BannedMsg struct {
	Type   string `json:"type"`
	Scope  string `json:"scope"`
	Reason string `json:"reason,omitempty"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
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
	case TypeAuthenticate:
		var m AuthenticateMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessage:
		var m SendMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoinRoom:
		var m JoinRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveRoom:
		var m LeaveRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStopTyping:
		var m StopTypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReport:
		var m ReportMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
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
