package handlers

import (
	"log"
	"strings"

	"medassist/internal/models"
	"medassist/internal/services"

	"github.com/gofiber/fiber/v2"
)

// AppointmentHandler serves the dashboard's day board
type AppointmentHandler struct {
	appointments *services.AppointmentService
	events       *services.EventsService
}

// NewAppointmentHandler creates a new appointment handler
func NewAppointmentHandler(appointments *services.AppointmentService, events *services.EventsService) *AppointmentHandler {
	return &AppointmentHandler{
		appointments: appointments,
		events:       events,
	}
}

// List returns all appointments on the board
// GET /api/appointments
func (h *AppointmentHandler) List(c *fiber.Ctx) error {
	appointments, err := h.appointments.List()
	if err != nil {
		log.Printf("❌ Failed to list appointments: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"detail": "Failed to load appointments",
		})
	}

	return c.JSON(fiber.Map{
		"appointments": appointments,
	})
}

// Create schedules a new appointment, applying the board defaults
// POST /api/appointments
func (h *AppointmentHandler) Create(c *fiber.Ctx) error {
	var req models.AppointmentCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"detail": "Invalid request body",
		})
	}

	if strings.TrimSpace(req.Patient) == "" || strings.TrimSpace(req.Time) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"detail": "Fields patient and time are required",
		})
	}

	appointment, err := h.appointments.Create(&req)
	if err != nil {
		log.Printf("❌ Failed to create appointment: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"detail": "Failed to create appointment",
		})
	}

	if h.events != nil {
		h.events.NotifyAppointmentCreated(appointment)
	}

	return c.Status(fiber.StatusCreated).JSON(appointment)
}
