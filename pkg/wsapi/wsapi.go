// Package wsapi is Helios's log egress surface: it upgrades a per-task
// HTTP request to a WebSocket and streams the task's log lines to it as
// they arrive, closing the socket once the terminal marker is seen.
package wsapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/heliosrun/helios/pkg/fanout"
	"github.com/heliosrun/helios/pkg/log"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Server upgrades /ws/logs/{task_id} requests and bridges a fanout.Hub
// subscription to WebSocket text frames.
type Server struct {
	hub      *fanout.Hub
	upgrader websocket.Upgrader
}

// New constructs a Server over hub. CORS is allow-all, matching the rest of
// Helios's HTTP surface.
func New(hub *fanout.Hub) *Server {
	return &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the ServeMux-mountable handler for /ws/logs/.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/logs/", s.streamLogs)
	return mux
}

func (s *Server) streamLogs(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimPrefix(r.URL.Path, "/ws/logs/")
	if taskID == "" {
		http.Error(w, "missing task_id", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("websocket upgrade", err)
		return
	}
	defer conn.Close()

	sub, unsubscribe := s.hub.Watch(taskID)
	defer unsubscribe()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case line, ok := <-sub:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line.Text)); err != nil {
				return
			}
			if line.Terminal {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
