package server

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512

	// clientBufferSize is the per-client pending update queue; a client
	// that falls further behind drops updates.
	clientBufferSize = 16
)

// upgrader validates that the Origin header matches the request Host to
// prevent cross-site WebSocket hijacking. Requests with no Origin (non-
// browser clients) are allowed.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
	EnableCompression: true,
}

// handleWebSocket upgrades the connection, registers the client, sends one
// initial summary, and starts the read/write pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", "err", err)
		return
	}

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.logger.Error("Failed to set read deadline", "addr", conn.RemoteAddr(), "err", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	client := make(chan []byte, clientBufferSize)
	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	s.clientsMu.Unlock()

	s.logger.Info("WebSocket client connected", "addr", conn.RemoteAddr())

	s.wg.Add(2)
	go s.clientWritePump(conn, client)
	go s.clientReadPump(conn, client)

	// Seed the new client with the current state.
	s.broadcastSummary()
}

// removeClient unregisters a client channel once.
func (s *Server) removeClient(client chan []byte) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		close(client)
	}
}

// clientWritePump forwards queued updates to the socket and keeps the
// connection alive with pings.
func (s *Server) clientWritePump(conn *websocket.Conn, client chan []byte) {
	defer s.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case <-s.ctx.Done():
			return

		case payload, ok := <-client:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.logger.Debug("WebSocket write failed", "err", err)
				s.removeClient(client)
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.removeClient(client)
				return
			}
		}
	}
}

// clientReadPump drains (and ignores) inbound messages so pongs are
// processed, and unregisters the client when the peer goes away.
func (s *Server) clientReadPump(conn *websocket.Conn, client chan []byte) {
	defer s.wg.Done()
	defer s.removeClient(client)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
