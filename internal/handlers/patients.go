package handlers

import (
	"errors"
	"log"
	"strings"

	"medassist/internal/models"
	"medassist/internal/services"

	"github.com/gofiber/fiber/v2"
)

// PatientHandler serves the patient roster and per-patient reads
type PatientHandler struct {
	patients *services.PatientService
	records  *services.RecordService
	analyses *services.AnalysisService
	events   *services.EventsService
}

// NewPatientHandler creates a new patient handler
func NewPatientHandler(patients *services.PatientService, records *services.RecordService, analyses *services.AnalysisService, events *services.EventsService) *PatientHandler {
	return &PatientHandler{
		patients: patients,
		records:  records,
		analyses: analyses,
		events:   events,
	}
}

// List returns the full patient roster
// GET /api/patients
func (h *PatientHandler) List(c *fiber.Ctx) error {
	patients, err := h.patients.List()
	if err != nil {
		log.Printf("❌ Failed to list patients: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"detail": "Failed to load patients",
		})
	}

	return c.JSON(fiber.Map{
		"patients": patients,
	})
}

// Create registers a new patient
// POST /api/patients
func (h *PatientHandler) Create(c *fiber.Ctx) error {
	var req models.PatientCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"detail": "Invalid request body",
		})
	}

	if missing := req.MissingFields(); len(missing) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"detail": "Missing required fields: " + strings.Join(missing, ", "),
		})
	}

	patient, err := h.patients.Create(&req)
	if err != nil {
		if errors.Is(err, services.ErrPatientExists) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"detail": "Patient with this id already exists",
			})
		}
		log.Printf("❌ Failed to create patient: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"detail": "Failed to create patient",
		})
	}

	if h.events != nil {
		h.events.NotifyPatientCreated(patient)
	}

	return c.Status(fiber.StatusCreated).JSON(patient)
}

// Get returns one patient profile
// GET /api/patients/:id
func (h *PatientHandler) Get(c *fiber.Ctx) error {
	patient, err := h.patients.GetByID(c.Params("id"))
	if err != nil {
		if errors.Is(err, services.ErrPatientNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"detail": "Patient not found",
			})
		}
		log.Printf("❌ Failed to load patient %s: %v", c.Params("id"), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"detail": "Failed to load patient",
		})
	}

	return c.JSON(patient)
}

// Records returns a patient's accumulated record buckets
// GET /api/patients/:id/records
func (h *PatientHandler) Records(c *fiber.Ctx) error {
	patientID := c.Params("id")

	exists, err := h.patients.Exists(patientID)
	if err != nil {
		log.Printf("❌ Failed to check patient %s: %v", patientID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"detail": "Failed to load records",
		})
	}
	if !exists {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"detail": "Patient not found",
		})
	}

	buckets, err := h.records.GetByPatient(patientID)
	if err != nil {
		log.Printf("❌ Failed to load records for %s: %v", patientID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"detail": "Failed to load records",
		})
	}

	return c.JSON(buckets)
}

// AIInsights returns the stored analysis snapshot for a patient, or null
// when no analysis has been run yet
// GET /api/patients/:id/ai-insights
func (h *PatientHandler) AIInsights(c *fiber.Ctx) error {
	patientID := c.Params("id")

	exists, err := h.patients.Exists(patientID)
	if err != nil {
		log.Printf("❌ Failed to check patient %s: %v", patientID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"detail": "Failed to load analysis",
		})
	}
	if !exists {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"detail": "Patient not found",
		})
	}

	snapshot, err := h.analyses.GetByPatient(patientID)
	if err != nil {
		log.Printf("❌ Failed to load analysis for %s: %v", patientID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"detail": "Failed to load analysis",
		})
	}

	return c.JSON(fiber.Map{
		"patient_id": patientID,
		"analysis":   snapshot,
	})
}
