package api

import (
	"net/http"
	"time"
)

// handleWebSocket authenticates and upgrades an event stream connection.
// Browsers cannot set headers on WebSocket handshakes, so the token is
// also accepted as a query parameter.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	raw := bearerToken(r)
	if raw == "" {
		raw = r.URL.Query().Get("token")
	}
	if raw == "" {
		writeUnauthorized(w, "missing credential")
		return
	}

	identity, err := s.auth.Verify(raw)
	if err != nil {
		writeUnauthorized(w, "invalid or revoked credential")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewWSClient(s.hub, conn, identity)
	s.hub.Register(client)

	wsCfg := s.cfg.WebSocket
	pingInterval := time.Duration(wsCfg.PingInterval) * time.Second
	pongTimeout := pingInterval + time.Duration(wsCfg.PongTimeout)*time.Second

	go client.writePump(pingInterval, 10*time.Second)
	go client.readPump(int64(wsCfg.MaxMessageSize), pongTimeout)
}
