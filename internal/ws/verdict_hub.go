package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sitewatch/internal/pipeline"
)

const writeWait = 10 * time.Second

// client serializes writes to one connection; gorilla allows a single writer
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// VerdictHub fans verdict events out to WebSocket clients per camera
type VerdictHub struct {
	// clients maps camera_id -> set of connections
	clients map[string]map[*client]bool
	mu      sync.RWMutex
}

// NewVerdictHub creates a new verdict hub
func NewVerdictHub() *VerdictHub {
	return &VerdictHub{
		clients: make(map[string]map[*client]bool),
	}
}

// register adds a connection for a specific camera
func (h *VerdictHub) register(cameraID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[cameraID] == nil {
		h.clients[cameraID] = make(map[*client]bool)
	}
	h.clients[cameraID][c] = true
	log.Printf("[WS] Client registered for camera %s (total: %d)", cameraID, len(h.clients[cameraID]))
}

// unregister removes a connection for a specific camera
func (h *VerdictHub) unregister(cameraID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.clients[cameraID]; ok {
		if _, ok := conns[c]; !ok {
			return
		}
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.clients, cameraID)
		}
		log.Printf("[WS] Client unregistered for camera %s", cameraID)
	}
}

// HasClients returns true if there are any clients connected for a camera
func (h *VerdictHub) HasClients(cameraID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns, ok := h.clients[cameraID]
	return ok && len(conns) > 0
}

// ClientCount returns the total number of connected clients
func (h *VerdictHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, conns := range h.clients {
		count += len(conns)
	}
	return count
}

// BroadcastToCamera sends a message to all clients subscribed to a camera.
// Clients that fail to receive are dropped.
func (h *VerdictHub) BroadcastToCamera(cameraID string, message []byte) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients[cameraID]))
	for c := range h.clients[cameraID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(websocket.TextMessage, message); err != nil {
			log.Printf("[WS] Error sending to client: %v", err)
			h.unregister(cameraID, c)
			c.conn.Close()
		}
	}
}

// OnVerdict implements pipeline.VerdictHandler
func (h *VerdictHub) OnVerdict(event *pipeline.VerdictEvent) {
	if !h.HasClients(event.CameraID) {
		return
	}

	data, err := json.Marshal(NewVerdictMessage(event))
	if err != nil {
		log.Printf("[WS] Error marshaling verdict message: %v", err)
		return
	}
	h.BroadcastToCamera(event.CameraID, data)
}

// Ensure VerdictHub implements pipeline.VerdictHandler
var _ pipeline.VerdictHandler = (*VerdictHub)(nil)
