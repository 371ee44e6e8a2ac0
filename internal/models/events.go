package models

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// Dashboard event types pushed over /ws.
const (
	EventAnalysisCompleted  = "analysis_completed"
	EventPatientCreated     = "patient_created"
	EventAppointmentCreated = "appointment_created"
)

// DashboardEvent is the envelope broadcast to connected dashboards. The
// same shape travels over Redis when multi-instance fanout is enabled;
// InstanceID lets instances drop their own echoes.
type DashboardEvent struct {
	Type       string                 `json:"type"`
	PatientID  string                 `json:"patient_id,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	InstanceID string                 `json:"instance_id,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// DashboardClient is one connected websocket viewer.
type DashboardClient struct {
	ConnID    string
	ClientIP  string
	Conn      *websocket.Conn
	WriteChan chan DashboardEvent
	CreatedAt time.Time

	mu     sync.Mutex
	closed bool
}

// SafeSend queues an event for the client, returning false if the
// connection is already closed or its buffer is full.
func (c *DashboardClient) SafeSend(evt DashboardEvent) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			c.mu.Lock()
			c.closed = true
			c.mu.Unlock()
		}
	}()

	select {
	case c.WriteChan <- evt:
		return true
	default:
		// Slow consumer; drop rather than block the broadcaster.
		return false
	}
}

// MarkClosed marks the connection as closed.
func (c *DashboardClient) MarkClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// IsClosed reports whether the connection has been marked closed.
func (c *DashboardClient) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
