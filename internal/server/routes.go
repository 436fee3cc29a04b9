// Package server wires HTTP handlers into a ServeMux via routing helpers.
package server

import "net/http"

// Routes returns an HTTP ServeMux with the liveness check and one WebSocket
// endpoint per room.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", HealthHandler)
	mux.HandleFunc("/ws/notifications", s.roomHandler(s.notifications))
	mux.HandleFunc("/ws/projects/{projectId}", s.roomHandler(s.projects))
	mux.HandleFunc("/ws/collaboration/{roomName}", s.roomHandler(s.collaboration))
	mux.HandleFunc("/ws/system-health", s.roomHandler(s.health))
	return mux
}
