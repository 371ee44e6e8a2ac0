package handlers

import (
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"strings"
	"time"
	"unicode/utf8"

	"medassist/internal/logging"
	"medassist/internal/services"
	"medassist/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// AnalyzeHandler serves the two inference endpoints: doctor-mode analysis
// and patient-mode explanation. Both accept multipart uploads and resolve
// each input category as file-over-text.
type AnalyzeHandler struct {
	ai             *services.AIService
	patients       *services.PatientService
	records        *services.RecordService
	analyses       *services.AnalysisService
	audit          *services.AuditService
	events         *services.EventsService
	maxUploadBytes int64
}

// NewAnalyzeHandler creates a new analyze handler
func NewAnalyzeHandler(ai *services.AIService, patients *services.PatientService, records *services.RecordService, analyses *services.AnalysisService, audit *services.AuditService, events *services.EventsService, maxUploadBytes int64) *AnalyzeHandler {
	return &AnalyzeHandler{
		ai:             ai,
		patients:       patients,
		records:        records,
		analyses:       analyses,
		audit:          audit,
		events:         events,
		maxUploadBytes: maxUploadBytes,
	}
}

// Doctor runs a structured clinical analysis over the uploaded records
// POST /api/doctor/analyze
func (h *AnalyzeHandler) Doctor(c *fiber.Ctx) error {
	start := time.Now()

	patientHistory, err := h.resolveClinicalField(c, "patient_history_text", "patient_history_file", "patient_history")
	if err != nil {
		return respondError(c, err)
	}
	prescriptions, err := h.resolveClinicalField(c, "prescriptions_text", "prescriptions_file", "prescriptions")
	if err != nil {
		return respondError(c, err)
	}
	labReports, err := h.resolveClinicalField(c, "lab_reports_text", "lab_reports_file", "lab_reports")
	if err != nil {
		return respondError(c, err)
	}

	if patientHistory == "" && prescriptions == "" && labReports == "" {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"detail": "At least one of history, prescriptions, or lab reports must be provided.",
		})
	}

	scanImage, scanMIME, scanFilename, err := h.resolveScanImage(c)
	if err != nil {
		return respondError(c, err)
	}

	patientID := strings.TrimSpace(c.FormValue("patient_id"))
	if patientID != "" {
		exists, err := h.patients.Exists(patientID)
		if err != nil {
			log.Printf("❌ Failed to check patient %s: %v", patientID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"detail": "Failed to verify patient",
			})
		}
		if !exists {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"detail": "Patient not found",
			})
		}
	}

	snapshot, path := h.ai.AnalyzeForDoctor(c.Context(), services.DoctorAnalysisInput{
		PatientHistory: patientHistory,
		Prescriptions:  prescriptions,
		LabReports:     labReports,
		ScanImage:      scanImage,
		ScanMIME:       scanMIME,
	})

	if patientID != "" {
		if err := h.analyses.Save(patientID, snapshot); err != nil {
			log.Printf("❌ Failed to save analysis for %s: %v", patientID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"detail": "Failed to save analysis",
			})
		}
		if _, err := h.records.AppendSources(patientID, patientHistory, prescriptions, labReports, len(scanImage) > 0, scanFilename); err != nil {
			// Analysis is already stored; a failed record append should not
			// cost the clinician the result.
			log.Printf("⚠️  Failed to append records for %s: %v", patientID, err)
		}
		if h.events != nil {
			h.events.NotifyAnalysisCompleted(patientID, len(snapshot.KeyFindings))
		}
	}

	h.recordAudit(c, &services.AnalysisAuditEvent{
		RequestID:  uuid.New().String(),
		PatientID:  patientID,
		Mode:       services.ModeDoctor,
		Path:       path,
		InputChars: len(patientHistory) + len(prescriptions) + len(labReports),
		ScanBytes:  len(scanImage),
		Findings:   len(snapshot.KeyFindings),
		DurationMs: time.Since(start).Milliseconds(),
	})

	return c.JSON(snapshot)
}

// Patient rewrites an uploaded medical report in plain language
// POST /api/patient/explain
func (h *AnalyzeHandler) Patient(c *fiber.Ctx) error {
	start := time.Now()

	reportText, err := h.resolveClinicalField(c, "report_text", "report_file", "report")
	if err != nil {
		return respondError(c, err)
	}

	if reportText == "" {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"detail": "No report content provided. Supply report_text (form field) or upload a report_file (PDF or .txt).",
		})
	}

	if len(reportText) > utils.MaxModelInputChars {
		log.Printf("⚠️  Report text truncated from %d to %d characters", len(reportText), utils.MaxModelInputChars)
		reportText = utils.TruncateForModel(reportText)
	}

	result, path := h.ai.ExplainForPatient(c.Context(), reportText)

	h.recordAudit(c, &services.AnalysisAuditEvent{
		RequestID:  uuid.New().String(),
		Mode:       services.ModePatient,
		Path:       path,
		InputChars: len(reportText),
		DurationMs: time.Since(start).Milliseconds(),
	})

	return c.JSON(result)
}

// resolveClinicalField resolves one input category, preferring an uploaded
// file over the matching text form field. The returned text is cleaned.
func (h *AnalyzeHandler) resolveClinicalField(c *fiber.Ctx, textField, fileField, fieldName string) (string, error) {
	fh, err := c.FormFile(fileField)
	if err != nil || fh == nil {
		// No file for this category; fall back to the text field
		return utils.CleanText(c.FormValue(textField)), nil
	}

	data, err := h.readUpload(fh, fieldName)
	if err != nil {
		return "", err
	}

	text, err := extractUploadText(fh, data)
	if err != nil {
		return "", err
	}
	return utils.CleanText(text), nil
}

// readUpload reads an uploaded file after enforcing the size cap
func (h *AnalyzeHandler) readUpload(fh *multipart.FileHeader, fieldName string) ([]byte, error) {
	if fh.Size > h.maxUploadBytes {
		return nil, fiber.NewError(fiber.StatusRequestEntityTooLarge,
			fmt.Sprintf("%s file exceeds the %d MB limit.", fieldName, h.maxUploadBytes/(1024*1024)))
	}

	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload %s: %w", fh.Filename, err)
	}
	return data, nil
}

// extractUploadText dispatches an upload to the matching extractor based on
// content type and filename suffix. Anything unrecognized must be UTF-8 text.
func extractUploadText(fh *multipart.FileHeader, data []byte) (string, error) {
	filename := strings.ToLower(fh.Filename)
	contentType := strings.ToLower(fh.Header.Get("Content-Type"))

	switch {
	case strings.Contains(contentType, "pdf") || strings.HasSuffix(filename, ".pdf"):
		text, err := utils.ExtractPDFText(data)
		if err != nil {
			log.Printf("⚠️  PDF extraction failed for %s: %v", fh.Filename, err)
			return "", fiber.NewError(fiber.StatusUnprocessableEntity,
				"Could not extract text from the uploaded PDF. Please ensure the file is a readable, non-scanned PDF, or paste the text directly.")
		}
		return text, nil

	case strings.Contains(contentType, "spreadsheet") || strings.HasSuffix(filename, ".xlsx"):
		text, err := utils.ExtractSpreadsheetText(data)
		if err != nil {
			log.Printf("⚠️  Spreadsheet extraction failed for %s: %v", fh.Filename, err)
			return "", fiber.NewError(fiber.StatusUnprocessableEntity,
				"Could not extract data from the uploaded spreadsheet.")
		}
		return text, nil

	case strings.Contains(contentType, "wordprocessingml") || strings.HasSuffix(filename, ".docx"):
		text, err := utils.ExtractDOCXText(data)
		if err != nil {
			log.Printf("⚠️  DOCX extraction failed for %s: %v", fh.Filename, err)
			return "", fiber.NewError(fiber.StatusUnprocessableEntity,
				"Could not extract text from the uploaded document.")
		}
		return text, nil

	default:
		if !utf8.Valid(data) {
			return "", fiber.NewError(fiber.StatusBadRequest, "Could not decode the uploaded text file.")
		}
		return utils.DecodeTextUpload(data), nil
	}
}

// resolveScanImage reads the optional scan upload. Oversize images are
// rejected; undecodable ones are skipped so the text analysis still runs.
func (h *AnalyzeHandler) resolveScanImage(c *fiber.Ctx) (data []byte, mime, filename string, err error) {
	fh, ferr := c.FormFile("scan_image")
	if ferr != nil || fh == nil {
		return nil, "", "", nil
	}

	data, err = h.readUpload(fh, "Scan image")
	if err != nil {
		return nil, "", "", err
	}

	if !utils.IsSupportedScanImage(data, fh.Filename) {
		log.Printf("⚠️  Could not decode scan image %s, proceeding without it", fh.Filename)
		return nil, "", "", nil
	}

	return data, utils.DetectScanImageType(data, fh.Filename), fh.Filename, nil
}

// recordAudit logs the delegation pass and persists an audit event without
// letting failures reach the response path
func (h *AnalyzeHandler) recordAudit(c *fiber.Ctx, event *services.AnalysisAuditEvent) {
	logging.WithAnalysis(event.RequestID, event.PatientID, event.Mode).Info("analysis completed",
		"path", event.Path,
		"input_chars", event.InputChars,
		"findings", event.Findings,
		"duration_ms", event.DurationMs)

	if h.audit == nil {
		return
	}
	if err := h.audit.RecordAnalysis(c.Context(), event); err != nil {
		log.Printf("⚠️  Audit write failed: %v", err)
	}
}

// respondError maps upload pipeline errors onto the dashboard's
// {"detail": ...} error shape
func respondError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{
			"detail": fe.Message,
		})
	}

	log.Printf("❌ Unhandled request error: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"detail": "Internal server error",
	})
}
