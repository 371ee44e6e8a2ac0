package services

import (
	"strings"
	"testing"
	"time"

	"medassist/internal/crypto"
	"medassist/internal/models"
)

const testEncryptionKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

func TestAppendSourcesAccumulates(t *testing.T) {
	db := setupTestDB(t)
	patients := NewPatientService(db)
	if err := patients.EnsureSeedData(); err != nil {
		t.Fatalf("seeding: %v", err)
	}
	records := NewRecordService(db, nil)

	buckets, err := records.AppendSources("P001", "Hypertension since 2015.", "", "eGFR 54 mL/min", true, "chest_xray.png")
	if err != nil {
		t.Fatalf("AppendSources: %v", err)
	}

	if len(buckets.History) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(buckets.History))
	}
	entry := buckets.History[0]
	if entry.Text != "Hypertension since 2015." {
		t.Errorf("unexpected history text %q", entry.Text)
	}
	if entry.Source != RecordSourceAnalyze {
		t.Errorf("expected source %q, got %q", RecordSourceAnalyze, entry.Source)
	}
	if _, err := time.Parse(time.RFC3339, entry.CapturedAt); err != nil {
		t.Errorf("captured_at should be RFC3339, got %q", entry.CapturedAt)
	}

	if len(buckets.Prescriptions) != 0 {
		t.Errorf("empty input must not create prescription entries, got %d", len(buckets.Prescriptions))
	}
	if len(buckets.Labs) != 1 {
		t.Errorf("expected 1 lab entry, got %d", len(buckets.Labs))
	}

	if len(buckets.Imaging) != 1 {
		t.Fatalf("expected 1 imaging entry, got %d", len(buckets.Imaging))
	}
	img := buckets.Imaging[0]
	if img.Filename != "chest_xray.png" || img.Type != "xray_or_scan" {
		t.Errorf("unexpected imaging entry: %+v", img)
	}

	// A second append accumulates rather than replaces.
	buckets, err = records.AppendSources("P001", "Follow-up note.", "Lisinopril 10mg", "", false, "")
	if err != nil {
		t.Fatalf("second AppendSources: %v", err)
	}
	if len(buckets.History) != 2 || len(buckets.Prescriptions) != 1 || len(buckets.Imaging) != 1 {
		t.Errorf("unexpected bucket sizes after second append: history=%d prescriptions=%d imaging=%d",
			len(buckets.History), len(buckets.Prescriptions), len(buckets.Imaging))
	}

	// Reads see the same state.
	stored, err := records.GetByPatient("P001")
	if err != nil {
		t.Fatalf("GetByPatient: %v", err)
	}
	if len(stored.History) != 2 {
		t.Errorf("expected 2 stored history entries, got %d", len(stored.History))
	}
}

func TestGetRecordsUnknownPatientReturnsEmptyBuckets(t *testing.T) {
	records := NewRecordService(setupTestDB(t), nil)

	buckets, err := records.GetByPatient("P999")
	if err != nil {
		t.Fatalf("GetByPatient: %v", err)
	}
	if buckets.History == nil || buckets.Labs == nil || buckets.Imaging == nil || buckets.Prescriptions == nil {
		t.Error("buckets must be empty slices, not nil")
	}
	if len(buckets.History) != 0 {
		t.Errorf("expected empty history, got %d entries", len(buckets.History))
	}
}

func TestRecordsEncryptedAtRest(t *testing.T) {
	db := setupTestDB(t)
	patients := NewPatientService(db)
	if err := patients.EnsureSeedData(); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	enc, err := crypto.NewEncryptionService(testEncryptionKey)
	if err != nil {
		t.Fatalf("NewEncryptionService: %v", err)
	}
	records := NewRecordService(db, enc)

	if _, err := records.AppendSources("P002", "Angina episode last month.", "", "", false, ""); err != nil {
		t.Fatalf("AppendSources: %v", err)
	}

	// The raw column must not contain recognizable plaintext.
	var raw string
	if err := db.QueryRow("SELECT records_json FROM records WHERE patient_id = ?", "P002").Scan(&raw); err != nil {
		t.Fatalf("reading raw row: %v", err)
	}
	if strings.HasPrefix(raw, "{") || strings.Contains(raw, "Angina") {
		t.Error("records column should be ciphertext when encryption is enabled")
	}

	// Round trip through the service decrypts.
	buckets, err := records.GetByPatient("P002")
	if err != nil {
		t.Fatalf("GetByPatient: %v", err)
	}
	if len(buckets.History) != 1 || buckets.History[0].Text != "Angina episode last month." {
		t.Errorf("decrypted read mismatch: %+v", buckets.History)
	}
}

func TestAnalysisSaveOverwrites(t *testing.T) {
	db := setupTestDB(t)
	patients := NewPatientService(db)
	if err := patients.EnsureSeedData(); err != nil {
		t.Fatalf("seeding: %v", err)
	}
	analyses := NewAnalysisService(db, nil)

	missing, err := analyses.GetByPatient("P001")
	if err != nil {
		t.Fatalf("GetByPatient before save: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil snapshot before first save, got %+v", missing)
	}

	first := &models.AnalysisSnapshot{
		PatientSummary: "First run.",
		KeyFindings:    []models.Finding{{Finding: "A", Urgency: models.UrgencyLow, Source: "lab_report"}},
		ScanInsights:   []models.ScanInsight{},
		UrgencyRanking: []string{"A"},
		Disclaimer:     models.StandardDisclaimer,
	}
	if err := analyses.Save("P001", first); err != nil {
		t.Fatalf("Save: %v", err)
	}

	second := &models.AnalysisSnapshot{
		PatientSummary: "Second run.",
		KeyFindings:    []models.Finding{},
		ScanInsights:   []models.ScanInsight{},
		UrgencyRanking: []string{},
		Disclaimer:     models.StandardDisclaimer,
	}
	if err := analyses.Save("P001", second); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	got, err := analyses.GetByPatient("P001")
	if err != nil {
		t.Fatalf("GetByPatient: %v", err)
	}
	if got.PatientSummary != "Second run." {
		t.Errorf("latest save must win, got %q", got.PatientSummary)
	}
	if len(got.KeyFindings) != 0 {
		t.Errorf("expected overwritten findings, got %d", len(got.KeyFindings))
	}
}

func TestAnalysisEncryptedRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	patients := NewPatientService(db)
	if err := patients.EnsureSeedData(); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	enc, err := crypto.NewEncryptionService(testEncryptionKey)
	if err != nil {
		t.Fatalf("NewEncryptionService: %v", err)
	}
	analyses := NewAnalysisService(db, enc)

	snapshot := &models.AnalysisSnapshot{
		PatientSummary: "Renal function declining.",
		KeyFindings:    []models.Finding{},
		ScanInsights:   []models.ScanInsight{},
		UrgencyRanking: []string{},
		Disclaimer:     models.StandardDisclaimer,
	}
	if err := analyses.Save("P001", snapshot); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var raw string
	if err := db.QueryRow("SELECT analysis_json FROM analysis WHERE patient_id = ?", "P001").Scan(&raw); err != nil {
		t.Fatalf("reading raw row: %v", err)
	}
	if strings.Contains(raw, "Renal") {
		t.Error("analysis column should be ciphertext when encryption is enabled")
	}

	got, err := analyses.GetByPatient("P001")
	if err != nil {
		t.Fatalf("GetByPatient: %v", err)
	}
	if got.PatientSummary != "Renal function declining." {
		t.Errorf("decrypted read mismatch: %q", got.PatientSummary)
	}
}
