// Package server coordinates session registration, event dispatch, and
// message broadcast for the chat relay via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// AnonymousUsername is bound to a session that joins without supplying a name.
const AnonymousUsername = "Anonymous"

// inboundEvent is one decoded client event queued for the hub loop. Events
// from a single session arrive in emission order because each session's read
// pump is the only producer for that session.
type inboundEvent struct {
	session *Session
	event   string
	data    string
}

// Hub owns the session set and the roster, and routes every join, message,
// and disconnect through a single event loop. All registry mutation and
// broadcast fan-out happens on that loop, so concurrent sessions can never
// interleave partial roster updates.
type Hub struct {
	registry   *Registry
	log        *slog.Logger
	sessions   map[*Session]bool
	register   chan *Session
	unregister chan *Session
	events     chan inboundEvent
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a Hub with an empty roster. The returned Hub is ready to
// accept sessions once Run is started.
func NewHub(log *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry:   NewRegistry(),
		log:        log,
		sessions:   make(map[*Session]bool),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		events:     make(chan inboundEvent, 64),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Registry exposes the roster for read-only use (health/debug and tests).
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Run starts the hub's event loop, handling session registration, inbound
// client events, and disconnects. It should be called in its own goroutine
// as it runs until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownSessions()
			return

		case session := <-h.register:
			if session == nil {
				h.log.Warn("received nil session registration; skipping")
				continue
			}

			h.mutex.Lock()
			session.closed = false
			h.sessions[session] = true
			count := len(h.sessions)
			h.mutex.Unlock()
			h.log.Info("session connected", "session", session.id, "addr", session.addr, "total", count)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				session.writePump()
			}()
			go func() {
				defer h.wg.Done()
				session.readPump()
			}()

		case session := <-h.unregister:
			h.dropSession(session, "disconnect")

		case evt := <-h.events:
			h.dispatch(evt)
		}
	}
}

// dispatch runs one state-machine transition for the originating session.
// Unknown events are dropped without feedback to the sender. Events queued by
// a session whose disconnect has already been processed are dropped too:
// CLOSED is terminal, and a late join or message from a dropped session must
// not touch the roster or reach other clients.
func (h *Hub) dispatch(evt inboundEvent) {
	if !h.isRegistered(evt.session) {
		h.log.Debug("dropping event from closed session", "event", evt.event, "session", evt.session.id)
		return
	}

	switch evt.event {
	case EventJoin:
		h.handleJoin(evt.session, evt.data)
	case EventMessage:
		h.handleMessage(evt.session, evt.data)
	default:
		h.log.Debug("dropping unknown event", "event", evt.event, "session", evt.session.id)
	}
}

// handleJoin binds a username to the session and announces it. An empty name
// falls back to AnonymousUsername. A join from an already-joined session
// rebinds the name; the previous name stays in the roster until disconnect,
// matching the permissive join behavior the protocol has always had.
func (h *Hub) handleJoin(session *Session, name string) {
	if name == "" {
		name = AnonymousUsername
	}
	session.username = name

	added := h.registry.Add(name)
	h.log.Info("session joined", "session", session.id, "username", name, "rosterAdd", added)

	h.broadcast(h.systemMessage(name+" joined the chat."), session)
	h.broadcast(h.userListEvent(), nil)
}

// handleMessage relays one chat line to every session, including the sender.
// Messages from sessions that never joined and whitespace-only messages are
// dropped silently.
func (h *Hub) handleMessage(session *Session, text string) {
	if session.username == "" {
		h.log.Debug("dropping message from unjoined session", "session", session.id)
		return
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}

	payload := h.marshalEvent(EventMessage, ChatMessage{
		Username:  session.username,
		Text:      trimmed,
		System:    false,
		Timestamp: time.Now().UnixMilli(),
	})
	h.broadcast(payload, nil)
}

// dropSession removes a session exactly once: it is deleted from the session
// set, its send channel is closed, and, if it had joined, the roster is
// updated and the departure announced to everyone still connected. Both the
// unregister channel and failed-send cleanup funnel through here, so a
// session can never double-remove itself.
func (h *Hub) dropSession(session *Session, reason string) {
	h.mutex.Lock()
	if _, ok := h.sessions[session]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.sessions, session)
	session.closed = true
	count := len(h.sessions)
	h.mutex.Unlock()

	// Close the channel after releasing the lock.
	close(session.send)

	h.log.Info("session closed", "session", session.id, "addr", session.addr, "reason", reason, "total", count)

	if session.username == "" {
		return
	}

	h.registry.Remove(session.username)
	h.broadcast(h.systemMessage(session.username+" left the chat."), nil)
	h.broadcast(h.userListEvent(), nil)
}

// systemMessage builds the payload for a join/leave notification.
func (h *Hub) systemMessage(text string) []byte {
	return h.marshalEvent(EventMessage, ChatMessage{
		Username:  SystemUsername,
		Text:      text,
		System:    true,
		Timestamp: time.Now().UnixMilli(),
	})
}

// userListEvent builds the payload carrying the current roster.
func (h *Hub) userListEvent() []byte {
	return h.marshalEvent(EventUserList, h.registry.Snapshot())
}

func (h *Hub) marshalEvent(event string, data any) []byte {
	payload, err := json.Marshal(outbound{Event: event, Data: data})
	if err != nil {
		// Payload types are all marshalable; this only fires on a
		// programming error.
		h.log.Error("failed to marshal outbound event", "event", event, "error", err)
		return nil
	}
	return payload
}

// broadcast delivers payload to every registered session except the excluded
// one. Delivery is fire-and-forget per recipient: a session whose buffer is
// full or whose channel is closed is dropped from the hub without aborting
// delivery to the others.
func (h *Hub) broadcast(payload []byte, except *Session) {
	if payload == nil {
		return
	}

	sessions := h.sessionSnapshot()

	var failed []*Session
	for _, session := range sessions {
		if session == except {
			continue
		}
		if !h.safeSend(session, payload) {
			failed = append(failed, session)
		}
	}

	for _, session := range failed {
		h.log.Warn("dropping unreachable session", "session", session.id, "addr", session.addr)
		h.dropSession(session, "send failure")
	}
}

func (h *Hub) safeSend(session *Session, payload []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.log.Warn("recovered from panic in safeSend", "panic", r)
		}
	}()

	// Hold the lock during the entire send attempt so the channel cannot be
	// closed out from under us.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, exists := h.sessions[session]
	if !exists || session.closed {
		return false
	}

	select {
	case session.send <- payload:
		return true
	default:
		return false
	}
}

// isRegistered reports whether the session is still part of the hub.
func (h *Hub) isRegistered(session *Session) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, ok := h.sessions[session]
	return ok
}

// sessionSnapshot returns the sessions registered at broadcast time.
func (h *Hub) sessionSnapshot() []*Session {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	sessions := make([]*Session, 0, len(h.sessions))
	for session := range h.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

// shutdownSessions closes all active connections during hub shutdown.
func (h *Hub) shutdownSessions() {
	h.log.Info("closing all session connections")

	sessions := h.sessionSnapshot()
	for _, session := range sessions {
		if session.conn != nil {
			if err := session.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.log.Warn("error closing session connection", "session", session.id, "error", err)
			}
		}
	}

	h.log.Info("closed session connections", "count", len(sessions))
}

// Shutdown initiates graceful shutdown of the hub and waits for all session
// goroutines to finish, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
