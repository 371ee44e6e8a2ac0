package report

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"medassist/internal/models"
)

// GeneratedReport is one rendered clinical report awaiting download.
// Reports live on disk only briefly; the cleanup sweep removes them a
// few minutes after download and unconditionally after ten minutes.
type GeneratedReport struct {
	DocumentID   string
	PatientID    string
	Filename     string
	FilePath     string
	Size         int64
	DownloadURL  string
	ContentType  string
	CreatedAt    time.Time
	Downloaded   bool
	DownloadedAt *time.Time
}

// Service renders patient summaries to PDF (via headless Chromium) or
// styled HTML when PDF rendering is disabled, and tracks the generated
// files until they are downloaded and swept.
type Service struct {
	outputDir    string
	pdfEnabled   bool
	chromiumPath string
	reports      map[string]*GeneratedReport
	mu           sync.RWMutex
}

var (
	serviceInstance *Service
	serviceOnce     sync.Once
)

// Init creates the singleton report service. Later calls return the
// existing instance regardless of arguments.
func Init(pdfEnabled bool, chromiumPath string) *Service {
	serviceOnce.Do(func() {
		serviceInstance = newService("./generated", pdfEnabled, chromiumPath)
	})
	return serviceInstance
}

func newService(outputDir string, pdfEnabled bool, chromiumPath string) *Service {
	if err := os.MkdirAll(outputDir, 0700); err != nil {
		log.Printf("⚠️  Warning: Could not create generated directory: %v", err)
	}
	return &Service{
		outputDir:    outputDir,
		pdfEnabled:   pdfEnabled,
		chromiumPath: chromiumPath,
		reports:      make(map[string]*GeneratedReport),
	}
}

// GetService returns the singleton report service, or nil before Init.
func GetService() *Service {
	return serviceInstance
}

// BuildPatientMarkdown renders a patient's profile, record counts and
// latest analysis snapshot into the markdown document the report is
// generated from.
func BuildPatientMarkdown(patient *models.Patient, records *models.RecordBuckets, snapshot *models.AnalysisSnapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Clinical Summary Report\n\n")
	fmt.Fprintf(&b, "**Patient:** %s (%s)  \n", patient.Name, patient.ID)
	fmt.Fprintf(&b, "**MRN:** %s  \n", patient.MRN)
	fmt.Fprintf(&b, "**Generated:** %s\n\n", time.Now().UTC().Format("2006-01-02 15:04 UTC"))

	b.WriteString("## Profile\n\n")
	b.WriteString("| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Age | %d |\n", patient.Age)
	fmt.Fprintf(&b, "| Gender | %s |\n", patient.Gender)
	fmt.Fprintf(&b, "| Date of Birth | %s |\n", patient.DOB)
	fmt.Fprintf(&b, "| Blood Type | %s |\n", patient.BloodType)
	fmt.Fprintf(&b, "| Allergies | %s |\n", joinOrNone(patient.Allergies))
	fmt.Fprintf(&b, "| Conditions | %s |\n", joinOrNone(patient.Conditions))
	fmt.Fprintf(&b, "| Primary Physician | %s |\n", patient.PrimaryPhysician)
	fmt.Fprintf(&b, "| Last Visit | %s |\n", patient.LastVisit)
	fmt.Fprintf(&b, "| Next Appointment | %s |\n\n", patient.NextAppointment)

	if records != nil {
		b.WriteString("## Records on File\n\n")
		fmt.Fprintf(&b, "- Patient history entries: %d\n", len(records.History))
		fmt.Fprintf(&b, "- Prescriptions: %d\n", len(records.Prescriptions))
		fmt.Fprintf(&b, "- Lab reports: %d\n", len(records.Labs))
		fmt.Fprintf(&b, "- Imaging studies: %d\n\n", len(records.Imaging))
	}

	if snapshot != nil {
		b.WriteString("## Latest AI Analysis\n\n")
		fmt.Fprintf(&b, "> %s\n\n", snapshot.Disclaimer)
		fmt.Fprintf(&b, "### Summary\n\n%s\n\n", snapshot.PatientSummary)

		if len(snapshot.KeyFindings) > 0 {
			b.WriteString("### Key Findings\n\n")
			b.WriteString("| Urgency | Finding | Detail | Source |\n|---|---|---|---|\n")
			for _, f := range snapshot.KeyFindings {
				fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
					strings.ToUpper(f.Urgency), escapeCell(f.Finding), escapeCell(f.Detail), f.Source)
			}
			b.WriteString("\n")
		}

		if len(snapshot.ScanInsights) > 0 {
			b.WriteString("### Scan Insights\n\n")
			for _, insight := range snapshot.ScanInsights {
				fmt.Fprintf(&b, "- **%s** (%s): %s\n", escapeCell(insight.Observation), insight.Region, insight.Note)
			}
			b.WriteString("\n")
		}
	} else {
		b.WriteString("## Latest AI Analysis\n\nNo analysis has been run for this patient yet.\n\n")
	}

	fmt.Fprintf(&b, "---\n\n*%s*\n", models.StandardDisclaimer)

	return b.String()
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "None recorded"
	}
	return strings.Join(items, ", ")
}

// escapeCell keeps pipes in free-text fields from breaking table rows.
func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

// Generate converts the markdown into a downloadable report document.
// PDF when rendering is enabled, styled HTML otherwise.
func (s *Service) Generate(markdown, filename, title, patientID string) (*GeneratedReport, error) {
	var htmlBuf bytes.Buffer
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
		),
	)
	if err := md.Convert([]byte(markdown), &htmlBuf); err != nil {
		return nil, fmt.Errorf("failed to convert markdown: %w", err)
	}

	fullHTML := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>%s</title>
    <style>
        body {
            font-family: 'Segoe UI', Arial, sans-serif;
            line-height: 1.6;
            max-width: 800px;
            margin: 0 auto;
            padding: 40px 20px;
            color: #333;
        }
        h1, h2, h3 { color: #2c3e50; }
        blockquote {
            border-left: 4px solid #e67e22;
            margin: 16px 0;
            padding: 8px 16px;
            background-color: #fdf6ec;
            color: #7f5a2b;
        }
        table { border-collapse: collapse; width: 100%%; margin: 20px 0; }
        th, td { border: 1px solid #ddd; padding: 12px; text-align: left; }
        th { background-color: #2980b9; color: white; }
        hr { border: none; border-top: 1px solid #ddd; margin: 24px 0; }
    </style>
</head>
<body>
    %s
</body>
</html>`, title, htmlBuf.String())

	documentID := uuid.New().String()

	var (
		filePath    string
		contentType string
		outName     string
	)

	if s.pdfEnabled {
		outName = filename + ".pdf"
		filePath = filepath.Join(s.outputDir, documentID+".pdf")
		contentType = "application/pdf"
		if err := s.generatePDF(fullHTML, filePath); err != nil {
			return nil, fmt.Errorf("failed to generate PDF: %w", err)
		}
	} else {
		outName = filename + ".html"
		filePath = filepath.Join(s.outputDir, documentID+".html")
		contentType = "text/html"
		if err := os.WriteFile(filePath, []byte(fullHTML), 0600); err != nil {
			return nil, fmt.Errorf("failed to write report: %w", err)
		}
	}

	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	doc := &GeneratedReport{
		DocumentID:  documentID,
		PatientID:   patientID,
		Filename:    outName,
		FilePath:    filePath,
		Size:        fileInfo.Size(),
		DownloadURL: fmt.Sprintf("/api/download/%s", documentID),
		ContentType: contentType,
		CreatedAt:   time.Now(),
	}

	s.mu.Lock()
	s.reports[documentID] = doc
	s.mu.Unlock()

	log.Printf("📄 [REPORT] Generated %s for patient %s (%d bytes)", outName, patientID, fileInfo.Size())

	return doc, nil
}

// generatePDF converts HTML to PDF using headless Chromium.
func (s *Service) generatePDF(htmlContent, outputPath string) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(s.chromiumPath),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	defer allocCancel()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var pdfBuffer []byte
	if err := chromedp.Run(ctx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frameTree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frameTree.Frame.ID, htmlContent).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdfBuffer, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithDisplayHeaderFooter(false).
				WithMarginTop(0.4).
				WithMarginBottom(0.4).
				WithMarginLeft(0.4).
				WithMarginRight(0.4).
				WithPaperWidth(8.27).  // A4 width in inches
				WithPaperHeight(11.69). // A4 height in inches
				WithScale(1.0).
				Do(ctx)
			return err
		}),
	); err != nil {
		return err
	}

	return os.WriteFile(outputPath, pdfBuffer, 0600)
}

// GetReport retrieves a generated report by ID.
func (s *Service) GetReport(documentID string) (*GeneratedReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, exists := s.reports[documentID]
	return doc, exists
}

// MarkDownloaded marks a report as downloaded, starting its fast-path
// cleanup clock.
func (s *Service) MarkDownloaded(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc, exists := s.reports[documentID]; exists {
		now := time.Now()
		doc.Downloaded = true
		doc.DownloadedAt = &now
		log.Printf("✅ [REPORT] Report downloaded: %s", doc.Filename)
	}
}

// Cleanup deletes downloaded reports after five minutes and every
// report after ten, whichever comes first. Patient data must not sit
// on disk longer than the download flow needs.
func (s *Service) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cleanedCount := 0

	for docID, doc := range s.reports {
		shouldDelete := false

		if doc.Downloaded && doc.DownloadedAt != nil {
			if now.Sub(*doc.DownloadedAt) > 5*time.Minute {
				shouldDelete = true
			}
		}

		if now.Sub(doc.CreatedAt) > 10*time.Minute {
			shouldDelete = true
		}

		if shouldDelete {
			if err := os.Remove(doc.FilePath); err != nil && !os.IsNotExist(err) {
				log.Printf("⚠️  Failed to delete report file %s: %v", doc.FilePath, err)
			}
			delete(s.reports, docID)
			cleanedCount++
		}
	}

	if cleanedCount > 0 {
		log.Printf("🗑️  [REPORT] Cleaned up %d reports", cleanedCount)
	}
	return cleanedCount
}
