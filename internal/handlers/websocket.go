package handlers

import (
	"encoding/json"
	"log"
	"time"

	"medassist/internal/models"
	"medassist/internal/services"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsPingInterval = 30 * time.Second
)

// WebSocketHandler feeds connected dashboards the live event stream
type WebSocketHandler struct {
	events *services.EventsService
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(events *services.EventsService) *WebSocketHandler {
	return &WebSocketHandler{events: events}
}

// Handle handles a new dashboard connection. The socket is push-mostly:
// the server streams events, the client only sends heartbeats.
func (h *WebSocketHandler) Handle(c *websocket.Conn) {
	client := &models.DashboardClient{
		ConnID:    uuid.New().String(),
		ClientIP:  c.RemoteAddr().String(),
		Conn:      c,
		WriteChan: make(chan models.DashboardEvent, 64),
		CreatedAt: time.Now(),
	}

	h.events.Register(client)

	done := make(chan struct{})
	defer func() {
		close(done)
		h.events.Unregister(client.ConnID)
	}()

	c.SetReadDeadline(time.Now().Add(wsReadTimeout))
	c.SetPongHandler(func(string) error {
		c.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	go h.writeLoop(client, done)

	h.readLoop(client)
}

// writeLoop drains the client's event buffer onto the socket and keeps the
// connection alive with periodic pings
func (h *WebSocketHandler) writeLoop(client *models.DashboardClient, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case event, ok := <-client.WriteChan:
			if !ok {
				return
			}
			client.Conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.Conn.WriteJSON(event); err != nil {
				log.Printf("⚠️  WebSocket write failed for %s: %v", client.ConnID, err)
				return
			}
		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wsWriteTimeout)); err != nil {
				log.Printf("⚠️  Ping failed for %s: %v", client.ConnID, err)
				return
			}
		}
	}
}

// readLoop consumes client frames until the connection drops. Dashboards
// send only heartbeat messages; everything else is ignored.
func (h *WebSocketHandler) readLoop(client *models.DashboardClient) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Panic in dashboard readLoop: %v", r)
		}
	}()

	for {
		_, msg, err := client.Conn.ReadMessage()
		if err != nil {
			break
		}
		client.Conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var frame struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &frame); err != nil {
			continue
		}

		if frame.Type == "ping" {
			client.SafeSend(models.DashboardEvent{
				Type:      "pong",
				Timestamp: time.Now().UTC(),
			})
		}
	}
}
