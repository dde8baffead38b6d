package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// handleGraphUpdates upgrades the connection and attaches it to the
// change hub. The subscription is promoted to open only once the
// upgrade succeeded, so a client never misses an event it was promised
// nor receives one before its transport exists. A writer goroutine
// drains the subscription and sends periodic pings; the read loop
// answers client pings and detects the peer going away.
func (s *Server) handleGraphUpdates(w http.ResponseWriter, r *http.Request) {
	hub := s.svc.Hub()
	if hub == nil {
		writeError(w, http.StatusServiceUnavailable, "change feed unavailable")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := hub.Subscribe()
	sub.Open()
	s.logger.Debug("websocket subscriber connected", zap.String("remote", conn.RemoteAddr().String()))

	var writeMu sync.Mutex
	send := func(messageType int, payload []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteMessage(messageType, payload)
	}

	done := make(chan struct{})

	go func() {
		// Closing the connection on exit makes a hub-side drop visible
		// to the peer: its read fails and it can reconnect.
		defer conn.Close()
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case event := <-sub.C():
				if err := send(websocket.TextMessage, []byte(event.Type)); err != nil {
					sub.Close()
					return
				}
			case <-ticker.C:
				if err := send(websocket.TextMessage, []byte("ping")); err != nil {
					sub.Close()
					return
				}
			case <-sub.Done():
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if string(payload) == "ping" {
			if err := send(websocket.TextMessage, []byte("pong")); err != nil {
				break
			}
		}
		// "pong" and anything else is ignored; the feed is one-way.
	}

	close(done)
	sub.Close()
	conn.Close()
	s.logger.Debug("websocket subscriber disconnected")
}
