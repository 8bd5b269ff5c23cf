package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// startTestRelay boots a hub and HTTP server for end-to-end tests and
// returns the base URL.
func startTestRelay(t *testing.T) (*Hub, string) {
	t.Helper()

	hub := newTestHub()
	go hub.Run()
	t.Cleanup(func() {
		_ = hub.Shutdown(2 * time.Second)
	})

	testServer := httptest.NewServer(SetupRoutes(hub, t.TempDir()))
	t.Cleanup(testServer.Close)

	cfg := NewConfig()
	cfg.AllowedOrigins = append([]string{testServer.URL}, cfg.AllowedOrigins...)
	SetConfig(cfg)
	t.Cleanup(func() { SetConfig(nil) })

	return hub, testServer.URL
}

func dialRelay(t *testing.T, baseURL string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
	header := http.Header{}
	header.Set("Origin", baseURL)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendClientEvent(t *testing.T, conn *websocket.Conn, event, data string) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Envelope{Event: event, Data: raw}))
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(payload, &env))
	return env
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "expected no message, but received one")
	netErr, ok := err.(interface{ Timeout() bool })
	require.True(t, ok && netErr.Timeout(), "unexpected error while waiting for silence: %v", err)
}

func TestRelayEndToEnd(t *testing.T) {
	req := require.New(t)
	_, baseURL := startTestRelay(t)

	// Alice joins an empty room: she gets the roster and nothing else.
	alice := dialRelay(t, baseURL)
	sendClientEvent(t, alice, EventJoin, "Alice")
	req.Equal([]string{"Alice"}, decodeUserList(t, readEnvelope(t, alice)))

	// Bob joins: Alice sees the notice plus the roster; Bob only the roster.
	bob := dialRelay(t, baseURL)
	sendClientEvent(t, bob, EventJoin, "Bob")

	notice := decodeChatMessage(t, readEnvelope(t, alice))
	req.True(notice.System)
	req.Equal("Bob joined the chat.", notice.Text)
	req.Equal([]string{"Alice", "Bob"}, decodeUserList(t, readEnvelope(t, alice)))
	req.Equal([]string{"Alice", "Bob"}, decodeUserList(t, readEnvelope(t, bob)))

	// Alice sends a message: both clients receive it, Alice included.
	before := time.Now().UnixMilli()
	sendClientEvent(t, alice, EventMessage, "hello")
	for _, conn := range []*websocket.Conn{alice, bob} {
		msg := decodeChatMessage(t, readEnvelope(t, conn))
		req.Equal("Alice", msg.Username)
		req.Equal("hello", msg.Text)
		req.False(msg.System)
		req.GreaterOrEqual(msg.Timestamp, before)
		req.LessOrEqual(msg.Timestamp, time.Now().UnixMilli())
	}

	// Bob disconnects: Alice sees the departure and the shrunken roster.
	req.NoError(bob.Close())
	leave := decodeChatMessage(t, readEnvelope(t, alice))
	req.True(leave.System)
	req.Equal("Bob left the chat.", leave.Text)
	req.Equal([]string{"Alice"}, decodeUserList(t, readEnvelope(t, alice)))
}

func TestRelayDropsMalformedFrames(t *testing.T) {
	req := require.New(t)
	_, baseURL := startTestRelay(t)

	alice := dialRelay(t, baseURL)
	sendClientEvent(t, alice, EventJoin, "Alice")
	req.Equal([]string{"Alice"}, decodeUserList(t, readEnvelope(t, alice)))

	// None of these should produce a broadcast or close the connection.
	req.NoError(alice.WriteMessage(websocket.TextMessage, []byte("not json")))
	req.NoError(alice.WriteMessage(websocket.TextMessage, []byte(`{"event":"message","data":{"nested":true}}`)))
	req.NoError(alice.WriteMessage(websocket.TextMessage, []byte(`{"event":"shrug","data":"hi"}`)))
	req.NoError(alice.WriteMessage(websocket.TextMessage, []byte(`{"event":"message","data":"   "}`)))

	// Events from one session are processed in order, so the very next
	// envelope proves the malformed frames produced nothing and the session
	// is still alive and joined.
	sendClientEvent(t, alice, EventMessage, "still here")
	req.Equal("still here", decodeChatMessage(t, readEnvelope(t, alice)).Text)
}

func TestRelayIgnoresMessagesBeforeJoin(t *testing.T) {
	req := require.New(t)
	_, baseURL := startTestRelay(t)

	alice := dialRelay(t, baseURL)
	sendClientEvent(t, alice, EventJoin, "Alice")
	req.Equal([]string{"Alice"}, decodeUserList(t, readEnvelope(t, alice)))

	lurker := dialRelay(t, baseURL)
	sendClientEvent(t, lurker, EventMessage, "psst")

	expectSilence(t, alice)
	expectSilence(t, lurker)
}

func TestRelayDisconnectWithoutJoinIsSilent(t *testing.T) {
	req := require.New(t)
	hub, baseURL := startTestRelay(t)

	alice := dialRelay(t, baseURL)
	sendClientEvent(t, alice, EventJoin, "Alice")
	req.Equal([]string{"Alice"}, decodeUserList(t, readEnvelope(t, alice)))

	lurker := dialRelay(t, baseURL)
	time.Sleep(50 * time.Millisecond)
	req.NoError(lurker.Close())

	expectSilence(t, alice)
	req.Equal([]string{"Alice"}, hub.Registry().Snapshot())
}

func TestRelayRejectsDisallowedOrigin(t *testing.T) {
	_, baseURL := startTestRelay(t)

	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
	header := http.Header{}
	header.Set("Origin", "http://evil.example.com")

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	if conn != nil {
		_ = conn.Close()
	}
	if resp != nil {
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		_ = resp.Body.Close()
	}
}

func TestHealthEndpoint(t *testing.T) {
	req := require.New(t)
	_, baseURL := startTestRelay(t)

	resp, err := http.Get(baseURL + "/healthz")
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)
}

func TestStaticAssetServing(t *testing.T) {
	req := require.New(t)

	hub := newTestHub()
	go hub.Run()
	t.Cleanup(func() { _ = hub.Shutdown(2 * time.Second) })

	publicDir := t.TempDir()
	req.NoError(os.WriteFile(filepath.Join(publicDir, "index.html"), []byte("<html>chat</html>"), 0o644))

	testServer := httptest.NewServer(SetupRoutes(hub, publicDir))
	t.Cleanup(testServer.Close)

	resp, err := http.Get(testServer.URL + "/")
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)
	req.Contains(resp.Header.Get("Content-Type"), "text/html")
}
