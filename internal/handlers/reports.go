package handlers

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"medassist/internal/report"
	"medassist/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/xuri/excelize/v2"
)

// ReportHandler generates downloadable clinical documents: per-patient
// summary reports and the roster spreadsheet export.
type ReportHandler struct {
	patients *services.PatientService
	records  *services.RecordService
	analyses *services.AnalysisService
}

// NewReportHandler creates a new report handler
func NewReportHandler(patients *services.PatientService, records *services.RecordService, analyses *services.AnalysisService) *ReportHandler {
	return &ReportHandler{
		patients: patients,
		records:  records,
		analyses: analyses,
	}
}

// Generate renders a clinical summary report for one patient
// POST /api/patients/:id/report
func (h *ReportHandler) Generate(c *fiber.Ctx) error {
	patientID := c.Params("id")

	patient, err := h.patients.GetByID(patientID)
	if err != nil {
		if errors.Is(err, services.ErrPatientNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"detail": "Patient not found",
			})
		}
		log.Printf("❌ Failed to load patient %s: %v", patientID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"detail": "Failed to generate report",
		})
	}

	buckets, err := h.records.GetByPatient(patientID)
	if err != nil {
		log.Printf("❌ Failed to load records for %s: %v", patientID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"detail": "Failed to generate report",
		})
	}

	snapshot, err := h.analyses.GetByPatient(patientID)
	if err != nil {
		log.Printf("❌ Failed to load analysis for %s: %v", patientID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"detail": "Failed to generate report",
		})
	}

	svc := report.GetService()
	if svc == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"detail": "Report generation is not available",
		})
	}

	markdown := report.BuildPatientMarkdown(patient, buckets, snapshot)
	filename := fmt.Sprintf("clinical_report_%s_%s", patient.ID, time.Now().UTC().Format("20060102_150405"))
	title := "Clinical Summary Report"

	generated, err := svc.Generate(markdown, filename, title, patient.ID)
	if err != nil {
		log.Printf("❌ Report generation failed for %s: %v", patientID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"detail": "Failed to generate report",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"document_id":  generated.DocumentID,
		"filename":     generated.Filename,
		"content_type": generated.ContentType,
		"size":         generated.Size,
		"download_url": generated.DownloadURL,
	})
}

// Download serves a generated report and marks it for the cleanup sweep
// GET /api/download/:documentId
func (h *ReportHandler) Download(c *fiber.Ctx) error {
	documentID := c.Params("documentId")

	svc := report.GetService()
	if svc == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"detail": "Report generation is not available",
		})
	}

	generated, exists := svc.GetReport(documentID)
	if !exists {
		log.Printf("⚠️  [DOWNLOAD] Report not found: %s", documentID)
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"detail": "Report not found or already removed",
		})
	}

	contentType := generated.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	c.Set("Content-Disposition", "attachment; filename=\""+generated.Filename+"\"")
	c.Set("Content-Type", contentType)

	if err := c.SendFile(generated.FilePath); err != nil {
		log.Printf("❌ [DOWNLOAD] Failed to send report: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"detail": "Failed to download report",
		})
	}

	// Report files are swept a few minutes after first download
	svc.MarkDownloaded(documentID)

	return nil
}

// ExportPatients streams the patient roster as a spreadsheet
// GET /api/export/patients.xlsx
func (h *ReportHandler) ExportPatients(c *fiber.Ctx) error {
	patients, err := h.patients.List()
	if err != nil {
		log.Printf("❌ Failed to list patients for export: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"detail": "Failed to export patients",
		})
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Patients"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		log.Printf("❌ Failed to build export workbook: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"detail": "Failed to export patients",
		})
	}

	headers := []string{
		"ID", "MRN", "Name", "Age", "Gender", "DOB", "Blood Type",
		"Allergies", "Conditions", "Last Visit", "Next Appointment", "Primary Physician",
	}
	for col, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		f.SetCellValue(sheet, cell, header)
	}

	for row, p := range patients {
		values := []interface{}{
			p.ID, p.MRN, p.Name, p.Age, p.Gender, p.DOB, p.BloodType,
			strings.Join(p.Allergies, ", "), strings.Join(p.Conditions, ", "),
			p.LastVisit, p.NextAppointment, p.PrimaryPhysician,
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(sheet, cell, value)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		log.Printf("❌ Failed to write export workbook: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"detail": "Failed to export patients",
		})
	}

	c.Set("Content-Disposition", `attachment; filename="patients.xlsx"`)
	c.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	return c.Send(buf.Bytes())
}
