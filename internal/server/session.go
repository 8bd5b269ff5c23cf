// Package server manages individual chat sessions, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Session represents one connected client for the lifetime of its WebSocket
// connection. The username is empty until the client joins; it is owned by
// the hub and only ever read or written on the hub's event loop.
type Session struct {
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	id             string
	addr           string
	username       string
	closed         bool
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
}

// NewSession creates a Session for the provided WebSocket connection. The
// send channel is buffered so broadcasts never block on a slow reader.
func NewSession(conn *websocket.Conn, hub *Hub, addr string) *Session {
	cfg := currentConfig()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	limiter := newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval)

	return &Session{
		conn:           conn,
		send:           make(chan []byte, 256),
		hub:            hub,
		id:             uuid.NewString(),
		addr:           addr,
		closed:         false,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    limiter,
		rateLimit:      cfg.RateLimit,
	}
}

// ID returns the session's opaque identifier, used for log correlation.
func (s *Session) ID() string {
	return s.id
}

// Username returns the name bound at join time, or "" before joining.
func (s *Session) Username() string {
	return s.username
}

// setupReadConnection configures read deadlines and pong handler for the connection.
func (s *Session) setupReadConnection() {
	if err := s.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		s.hub.log.Warn("error setting initial read deadline", "session", s.id, "error", err)
	}
	s.conn.SetPongHandler(func(string) error {
		if err := s.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			s.hub.log.Warn("error setting read deadline in pong handler", "session", s.id, "error", err)
		}
		return nil
	})
}

// handleReadError logs appropriate messages based on the error type and
// returns true if the read loop should break.
func (s *Session) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		s.hub.log.Warn("frame exceeded maximum size", "session", s.id, "limit", s.maxMessageSize)
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		s.hub.log.Info("session disconnected", "session", s.id, "error", err)
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		s.hub.log.Info("session connection closed", "session", s.id, "error", err)
		return true
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		s.hub.log.Warn("unexpected websocket error", "session", s.id, "error", err)
		return true
	}

	s.hub.log.Warn("websocket read error", "session", s.id, "error", err)
	return true
}

// checkRateLimit reports whether the next inbound frame may be processed.
func (s *Session) checkRateLimit() bool {
	if s.rateLimiter != nil && !s.rateLimiter.allow() {
		s.hub.log.Warn("rate limit exceeded; discarding frame",
			"session", s.id, "burst", s.rateLimit.Burst, "interval", s.rateLimit.RefillInterval)
		return false
	}
	return true
}

// processFrame decodes one inbound envelope and queues it for the hub.
// Malformed frames and non-string payloads are dropped; the sender gets no
// feedback either way.
func (s *Session) processFrame(raw []byte) bool {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.hub.log.Debug("dropping malformed frame", "session", s.id, "error", err)
		return false
	}

	switch env.Event {
	case EventJoin, EventMessage:
	default:
		s.hub.log.Debug("dropping frame with unknown event", "session", s.id, "event", env.Event)
		return false
	}

	var data string
	if err := json.Unmarshal(env.Data, &data); err != nil {
		s.hub.log.Debug("dropping frame with non-string payload", "session", s.id, "event", env.Event)
		return false
	}

	return s.enqueue(inboundEvent{session: s, event: env.Event, data: data})
}

// enqueue hands one event to the hub loop, preserving this session's emission
// order. It gives up if the hub is shutting down.
func (s *Session) enqueue(evt inboundEvent) bool {
	select {
	case s.hub.events <- evt:
		return true
	case <-s.hub.ctx.Done():
		return false
	}
}

func (s *Session) readPump() {
	defer func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.ctx.Done():
		}
		if err := s.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				s.hub.log.Warn("error closing connection in readPump", "session", s.id, "error", err)
			}
		}
	}()

	s.setupReadConnection()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if s.handleReadError(err) {
				break
			}
		}

		if !s.checkRateLimit() {
			continue
		}

		s.processFrame(raw)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		s.closeConnection()
	}()

	for s.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (s *Session) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case payload, ok := <-s.send:
		return s.handlePayload(payload, ok)
	case <-ticker.C:
		return s.handlePing()
	case <-s.hub.ctx.Done():
		return s.writeCloseMessage()
	}
}

// closeConnection closes the WebSocket connection, logging only unexpected errors.
func (s *Session) closeConnection() {
	if err := s.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			s.hub.log.Warn("error closing connection in writePump", "session", s.id, "error", err)
		}
	}
}

// handlePayload writes an outgoing payload and returns false if the
// connection should be closed.
func (s *Session) handlePayload(payload []byte, ok bool) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		s.hub.log.Warn("error setting write deadline", "session", s.id, "error", err)
		return false
	}

	if !ok {
		return s.writeCloseMessage()
	}

	return s.writeTextMessage(payload)
}

// writeCloseMessage sends a close frame to the client.
func (s *Session) writeCloseMessage() bool {
	if err := s.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			s.hub.log.Warn("error writing close message", "session", s.id, "error", err)
		}
	}
	return false
}

// writeTextMessage writes a payload and any queued payloads as separate frames.
func (s *Session) writeTextMessage(payload []byte) bool {
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.hub.log.Warn("error writing frame", "session", s.id, "error", err)
		return false
	}

	// Drain whatever queued up while this frame went out; each envelope is
	// its own frame so clients can decode them independently.
	n := len(s.send)
	for i := 0; i < n; i++ {
		if err := s.conn.WriteMessage(websocket.TextMessage, <-s.send); err != nil {
			s.hub.log.Warn("error writing queued frame", "session", s.id, "error", err)
			return false
		}
	}

	return true
}

// handlePing sends a ping message to keep the connection alive.
func (s *Session) handlePing() bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		s.hub.log.Warn("error setting write deadline for ping", "session", s.id, "error", err)
		return false
	}
	if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		s.hub.log.Warn("error writing ping message", "session", s.id, "error", err)
		return false
	}
	return true
}
