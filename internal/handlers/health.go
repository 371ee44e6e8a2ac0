package handlers

import (
	"medassist/internal/services"

	"github.com/gofiber/fiber/v2"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	ai *services.AIService
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(ai *services.AIService) *HealthHandler {
	return &HealthHandler{ai: ai}
}

// Handle responds with service status and model availability.
// The message tells operators whether inference runs on GPU, CPU or mock.
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	return c.JSON(h.ai.Status())
}
