// Package presenter implements the client-side rendering rules for the chat
// relay: classifying incoming messages relative to the local user, formatting
// timestamps, and drawing the roster. The terminal client in cmd/client and
// the browser assets in public/ follow the same rules.
package presenter

import (
	"fmt"
	"strings"
	"time"

	"github.com/gookit/color"

	"github.com/braydonapp/chatrelay/internal/server"
)

// Kind classifies an incoming message for styling purposes.
type Kind int

const (
	// KindSystem is a join/leave notification, rendered in a neutral style.
	KindSystem Kind = iota
	// KindSelf is a message authored by the local user, echoed back by the
	// server. The client never renders its own input directly.
	KindSelf
	// KindOther is a message from any other participant.
	KindOther
)

// Classify determines how a message should be styled. localName is the
// username remembered at join time.
func Classify(msg server.ChatMessage, localName string) Kind {
	if msg.System {
		return KindSystem
	}
	if msg.Username == localName {
		return KindSelf
	}
	return KindOther
}

// Timestamp renders a millisecond-epoch timestamp as zero-padded HH:MM in
// the viewer's local time zone.
func Timestamp(ms int64) string {
	t := time.UnixMilli(ms).Local()
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// RenderMessage produces one styled chat line for the terminal.
func RenderMessage(msg server.ChatMessage, localName string) string {
	ts := Timestamp(msg.Timestamp)

	switch Classify(msg, localName) {
	case KindSystem:
		return color.Gray.Render(fmt.Sprintf("        -- %s [%s] --", msg.Text, ts))
	case KindSelf:
		return fmt.Sprintf("%s %s: %s", color.Gray.Render(ts), color.Green.Render(msg.Username), msg.Text)
	default:
		return fmt.Sprintf("%s %s: %s", color.Gray.Render(ts), color.Cyan.Render(msg.Username), msg.Text)
	}
}

// RenderRoster draws the full user list, marking the local user's own entry.
func RenderRoster(names []string, localName string) string {
	var b strings.Builder
	b.WriteString(color.Gray.Render(fmt.Sprintf("online (%d):", len(names))))
	for _, name := range names {
		b.WriteString(" ")
		if name == localName {
			b.WriteString(color.Green.Render(name + " (you)"))
		} else {
			b.WriteString(name)
		}
	}
	return b.String()
}
