// Package server implements the core of the chat relay: the session registry,
// the broadcasting hub, and the WebSocket transport that connects them to
// clients.
//
// The implementation is organized into specialized files for configuration,
// the roster registry, hub event routing, sessions, and HTTP plumbing to keep
// the codebase maintainable and testable as the project grows.
package server
