// Package server wires HTTP handlers into a ServeMux for the chat relay.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application
// routes: the WebSocket endpoint, a health check, and the presenter's static
// assets at the root.
func SetupRoutes(hub *Hub, publicDir string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", WebSocketHandler(hub))
	mux.HandleFunc("/healthz", HealthHandler)
	mux.Handle("/", http.FileServer(http.Dir(publicDir)))
	return mux
}
