package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"medassist/internal/models"
)

// redisEventsChannel carries dashboard events between instances.
const redisEventsChannel = "medassist:dashboard:events"

// EventsService fans dashboard events out to every connected websocket
// client, and optionally across instances through Redis pub/sub. Events
// carry the originating instance id so replayed messages are not echoed
// back to their source.
type EventsService struct {
	clients    map[string]*models.DashboardClient
	mu         sync.RWMutex
	redis      *RedisService // nil for single-instance deployments
	pubsub     *redis.PubSub
	instanceID string
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewEventsService(redisService *RedisService, instanceID string) *EventsService {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventsService{
		clients:    make(map[string]*models.DashboardClient),
		redis:      redisService,
		instanceID: instanceID,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Register adds a connected dashboard client.
func (s *EventsService) Register(client *models.DashboardClient) {
	s.mu.Lock()
	s.clients[client.ConnID] = client
	total := len(s.clients)
	s.mu.Unlock()

	if m := GetMetrics(); m != nil {
		m.RecordDashboardConnect()
	}
	log.Printf("✅ Dashboard client connected: %s (Total: %d)", client.ConnID, total)
}

// Unregister removes a client and closes its write channel.
func (s *EventsService) Unregister(connID string) {
	s.mu.Lock()
	client, exists := s.clients[connID]
	if exists {
		client.MarkClosed()
		close(client.WriteChan)
		delete(s.clients, connID)
	}
	total := len(s.clients)
	s.mu.Unlock()

	if exists {
		if m := GetMetrics(); m != nil {
			m.RecordDashboardDisconnect()
		}
		log.Printf("❌ Dashboard client disconnected: %s (Total: %d)", connID, total)
	}
}

// Count returns the number of locally connected clients.
func (s *EventsService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Broadcast delivers the event to local clients and, when fanout is
// enabled, publishes it for the other instances.
func (s *EventsService) Broadcast(event models.DashboardEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.InstanceID = s.instanceID

	s.deliverLocal(event)

	if s.redis != nil {
		payload, err := json.Marshal(event)
		if err != nil {
			log.Printf("⚠️  [EVENTS] Failed to marshal event: %v", err)
			return
		}
		if err := s.redis.Publish(s.ctx, redisEventsChannel, payload); err != nil {
			log.Printf("⚠️  [EVENTS] Failed to publish event: %v", err)
		}
	}

	if m := GetMetrics(); m != nil {
		m.RecordDashboardEvent(event.Type)
	}
}

func (s *EventsService) deliverLocal(event models.DashboardEvent) {
	s.mu.RLock()
	clients := make([]*models.DashboardClient, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, client := range clients {
		if !client.SafeSend(event) && client.IsClosed() {
			s.Unregister(client.ConnID)
		}
	}
}

// NotifyAnalysisCompleted announces a fresh snapshot for a patient.
func (s *EventsService) NotifyAnalysisCompleted(patientID string, findings int) {
	s.Broadcast(models.DashboardEvent{
		Type:      models.EventAnalysisCompleted,
		PatientID: patientID,
		Payload: map[string]interface{}{
			"findings": findings,
		},
	})
}

// NotifyPatientCreated announces a new patient on the roster.
func (s *EventsService) NotifyPatientCreated(patient *models.Patient) {
	s.Broadcast(models.DashboardEvent{
		Type:      models.EventPatientCreated,
		PatientID: patient.ID,
		Payload: map[string]interface{}{
			"name": patient.Name,
			"mrn":  patient.MRN,
		},
	})
}

// NotifyAppointmentCreated announces a new appointment.
func (s *EventsService) NotifyAppointmentCreated(appt *models.Appointment) {
	s.Broadcast(models.DashboardEvent{
		Type: models.EventAppointmentCreated,
		Payload: map[string]interface{}{
			"patient": appt.Patient,
			"time":    appt.Time,
			"type":    appt.Type,
		},
	})
}

// StartFanout subscribes to the shared Redis channel and replays events
// from other instances to local clients. No-op without Redis.
func (s *EventsService) StartFanout() error {
	if s.redis == nil {
		return nil
	}

	s.pubsub = s.redis.Subscribe(s.ctx, redisEventsChannel)

	// Wait for subscription confirmation
	if _, err := s.pubsub.Receive(s.ctx); err != nil {
		return err
	}

	go s.processFanout()

	log.Printf("✅ [EVENTS] Fanout listening on %s (instance: %s)", redisEventsChannel, s.instanceID)
	return nil
}

func (s *EventsService) processFanout() {
	ch := s.pubsub.Channel()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.handleFanoutMessage(msg)
		}
	}
}

func (s *EventsService) handleFanoutMessage(msg *redis.Message) {
	var event models.DashboardEvent
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		log.Printf("⚠️  [EVENTS] Failed to unmarshal fanout event: %v", err)
		return
	}

	// Skip events from this instance (avoid loops)
	if event.InstanceID == s.instanceID {
		return
	}

	s.deliverLocal(event)
}

// Stop shuts down the fanout subscription.
func (s *EventsService) Stop() error {
	s.cancel()
	if s.pubsub != nil {
		return s.pubsub.Close()
	}
	return nil
}
