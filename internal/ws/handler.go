package ws

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// PathPrefix is where the handler is mounted; the camera id follows it
const PathPrefix = "/ws/verdicts/"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Dashboards are served from other origins on the site network
		return true
	},
}

// Handler upgrades dashboard connections and subscribes them to a camera
type Handler struct {
	hub *VerdictHub
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *VerdictHub) *Handler {
	return &Handler{hub: hub}
}

// ServeHTTP handles WebSocket upgrade requests on /ws/verdicts/{camera_id}
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cameraID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, PathPrefix), "/")
	if cameraID == "" || strings.Contains(cameraID, "/") {
		http.Error(w, "camera_id required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade error: %v", err)
		return
	}

	log.Printf("[WS] New connection for camera %s from %s", cameraID, r.RemoteAddr)

	c := &client{conn: conn}
	h.hub.register(cameraID, c)

	go h.readPump(cameraID, c)
}

// readPump keeps the connection alive and detects client disconnection
func (h *Handler) readPump(cameraID string, c *client) {
	done := make(chan struct{})
	defer func() {
		close(done)
		h.hub.unregister(cameraID, c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] Read error for camera %s: %v", cameraID, err)
			}
			return
		}
	}
}
