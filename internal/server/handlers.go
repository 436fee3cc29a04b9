// Package server exposes HTTP handlers, including the per-room WebSocket
// upgrades and the liveness check.
package server

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// roomHandler authenticates, asks the room to admit the identity, upgrades the
// connection and joins the session's groups. Every refusal happens before the
// upgrade, so a refused caller never becomes a group member.
func (s *Server) roomHandler(rm room) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		identity, ok := s.auth.Authenticate(r)
		if !ok {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		sess, denied := rm.admit(r, identity)
		if denied != nil {
			s.logger.Info("connection refused",
				zap.String("room", rm.name()),
				zap.String("principal", identity.PrincipalID),
				zap.Int("status", denied.status),
				zap.String("reason", denied.reason))
			http.Error(w, denied.reason, denied.status)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Info("WebSocket upgrade failed", zap.String("room", rm.name()), zap.Error(err))
			return
		}

		client := newClient(conn, identity, sess, s)
		for _, key := range sess.groups() {
			s.registry.Join(client, key)
		}
		sess.onJoin(client)

		// The hub launches the pump goroutines.
		if !s.hub.registerClient(client) {
			sess.onLeave(client)
			s.registry.LeaveAll(client)
			client.Close()
		}
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "ProjectPulse broadcast server is running!")
}
