// Package server defines the wire envelope and payload types exchanged with
// chat clients, plus utility helpers reused across session and hub logic.
package server

import (
	"encoding/json"
	"strings"
)

// Event names carried by the envelope. EventJoin and EventMessage arrive from
// clients; EventMessage and EventUserList are emitted to them.
const (
	EventJoin     = "join"
	EventMessage  = "message"
	EventUserList = "userList"
)

// SystemUsername is the author attached to join/leave notifications.
const SystemUsername = "System"

// Envelope is the framing for every event in either direction: a named event
// and its payload. Inbound payloads stay raw until the event is dispatched.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ChatMessage is the payload of an outbound "message" event. Timestamp is
// milliseconds since epoch. Messages are relayed, never stored.
type ChatMessage struct {
	Username  string `json:"username"`
	Text      string `json:"text"`
	System    bool   `json:"system"`
	Timestamp int64  `json:"timestamp"`
}

// outbound wraps a concrete payload for marshaling to clients.
type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
