// Command client is a terminal presenter for the chat relay. It dials the
// server's WebSocket endpoint, joins under a display name, relays stdin lines
// as chat messages, and renders incoming messages and roster updates.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"

	"github.com/braydonapp/chatrelay/internal/presenter"
	"github.com/braydonapp/chatrelay/internal/server"
)

const defaultServerURL = "ws://localhost:3000/ws"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "chat client error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	serverURL := os.Getenv("CHAT_SERVER_URL")
	if serverURL == "" {
		serverURL = defaultServerURL
	}

	stdin := bufio.NewScanner(os.Stdin)

	// Pre-join screen: keep asking until a non-empty trimmed name arrives.
	username := strings.TrimSpace(strings.Join(os.Args[1:], " "))
	for username == "" {
		fmt.Print("Choose a username: ")
		if !stdin.Scan() {
			return fmt.Errorf("no username provided")
		}
		username = strings.TrimSpace(stdin.Text())
	}

	conn, err := dial(serverURL)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", serverURL, err)
	}
	defer conn.Close()

	// Join optimistically; the protocol defines no join ack.
	if err := sendEvent(conn, server.EventJoin, username); err != nil {
		return fmt.Errorf("joining: %w", err)
	}
	color.Gray.Printf("joined as %s, type a message and press Enter\n", username)

	done := make(chan error, 1)
	go receiveLoop(conn, username, done)

	go func() {
		for stdin.Scan() {
			text := strings.TrimSpace(stdin.Text())
			if text == "" {
				continue
			}
			if err := sendEvent(conn, server.EventMessage, text); err != nil {
				done <- fmt.Errorf("sending: %w", err)
				return
			}
		}
		// Stdin closed; say goodbye cleanly.
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		done <- nil
	}()

	err = <-done
	color.Gray.Println("disconnected")
	return err
}

// dial opens the WebSocket connection, presenting an Origin header derived
// from the server URL so the relay's origin check accepts us.
func dial(serverURL string) (*websocket.Conn, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}

	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	header := http.Header{}
	header.Set("Origin", scheme+"://"+u.Host)

	conn, _, err := websocket.DefaultDialer.Dial(serverURL, header)
	return conn, err
}

func sendEvent(conn *websocket.Conn, event, data string) error {
	return conn.WriteJSON(server.Envelope{Event: event, Data: mustMarshal(data)})
}

func mustMarshal(s string) json.RawMessage {
	raw, _ := json.Marshal(s)
	return raw
}

// receiveLoop renders every incoming envelope until the connection drops.
func receiveLoop(conn *websocket.Conn, username string, done chan<- error) {
	for {
		var env server.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				done <- nil
			} else {
				done <- err
			}
			return
		}

		switch env.Event {
		case server.EventMessage:
			var msg server.ChatMessage
			if err := json.Unmarshal(env.Data, &msg); err != nil {
				continue
			}
			fmt.Println(presenter.RenderMessage(msg, username))
		case server.EventUserList:
			var names []string
			if err := json.Unmarshal(env.Data, &names); err != nil {
				continue
			}
			fmt.Println(presenter.RenderRoster(names, username))
		}
	}
}
