package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"biosync/internal/bootstrap/logging"
	"biosync/internal/errs"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Loopback only; the listener never leaves localhost.
	CheckOrigin: func(*http.Request) bool { return true },
}

const (
	socketWriteWait = 10 * time.Second
	socketPingEvery = 30 * time.Second
)

// handleProgressSocket streams live run progress to one websocket client.
// Each subscriber gets its own hub channel; a slow client only loses its
// own events.
func (s *Server) handleProgressSocket(w http.ResponseWriter, r *http.Request) {
	logCtx := logging.WithAttrs(r.Context(),
		slog.String("component", "gateway.httpapi.socket"),
		slog.String("remote", r.RemoteAddr),
	)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn(logCtx, "websocket upgrade failed", slog.Any("err", errs.Loggable(err)))
		return
	}
	defer func() { _ = conn.Close() }()

	events, cancel := s.svc.Progress().Subscribe()
	defer cancel()

	// Drain client frames so pings and close handshakes are processed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, readErr := conn.ReadMessage(); readErr != nil {
				return
			}
		}
	}()

	logging.Info(logCtx, "progress subscriber connected")
	pings := time.NewTicker(socketPingEvery)
	defer pings.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-clientGone:
			return
		case <-pings.C:
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				logging.Warn(logCtx, "progress write failed", slog.Any("err", errs.Loggable(err)))
				return
			}
		}
	}
}
