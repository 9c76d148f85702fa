package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/crypto-market-server/internal/connection"
)

// DisabledReason is the close reason sent when WebSockets are turned off.
const DisabledReason = "WebSocket is disabled"

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		s.logger.Debug("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	if !s.cfg.WebSocketEnabled {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, DisabledReason)
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		return
	}

	sock := connection.NewSocket(conn, s.cfg.Socket, s.logger)
	if err := s.hub.Serve(r.Context(), sock); err != nil {
		s.logger.Debug("websocket session ended", "conn", sock.ID(), "error", err)
	}
}
