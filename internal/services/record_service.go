package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"medassist/internal/crypto"
	"medassist/internal/database"
	"medassist/internal/models"
)

// RecordSourceAnalyze marks entries captured through the analysis endpoint
const RecordSourceAnalyze = "doctor_analyze"

// RecordService handles the per-patient clinical record buckets.
// When an encryption service is configured, the JSON snapshot is stored
// encrypted with the patient-specific derived key.
type RecordService struct {
	db  *database.DB
	enc *crypto.EncryptionService
}

// NewRecordService creates a new record service. enc may be nil, in which
// case snapshots are stored as plaintext JSON.
func NewRecordService(db *database.DB, enc *crypto.EncryptionService) *RecordService {
	return &RecordService{db: db, enc: enc}
}

// GetByPatient returns a patient's record buckets. A missing row yields
// empty buckets, never nil slices.
func (s *RecordService) GetByPatient(patientID string) (*models.RecordBuckets, error) {
	var recordsJSON string
	err := s.db.QueryRow(
		"SELECT records_json FROM records WHERE patient_id = ?", patientID,
	).Scan(&recordsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return models.EmptyRecordBuckets(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}

	data, err := s.decode(patientID, recordsJSON)
	if err != nil {
		return nil, err
	}

	var buckets models.RecordBuckets
	if err := json.Unmarshal(data, &buckets); err != nil {
		return nil, fmt.Errorf("failed to unmarshal records: %w", err)
	}
	normalizeBuckets(&buckets)

	return &buckets, nil
}

// AppendSources appends the analyzed source documents to the patient's
// record buckets and persists the updated snapshot.
func (s *RecordService) AppendSources(patientID, patientHistory, prescriptions, labReports string, hasScanImage bool, scanFilename string) (*models.RecordBuckets, error) {
	buckets, err := s.GetByPatient(patientID)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().UTC().Format(time.RFC3339)

	if patientHistory != "" {
		buckets.History = append(buckets.History, models.RecordEntry{
			CapturedAt: timestamp,
			Source:     RecordSourceAnalyze,
			Text:       patientHistory,
		})
	}

	if prescriptions != "" {
		buckets.Prescriptions = append(buckets.Prescriptions, models.RecordEntry{
			CapturedAt: timestamp,
			Source:     RecordSourceAnalyze,
			Text:       prescriptions,
		})
	}

	if labReports != "" {
		buckets.Labs = append(buckets.Labs, models.RecordEntry{
			CapturedAt: timestamp,
			Source:     RecordSourceAnalyze,
			Text:       labReports,
		})
	}

	if hasScanImage {
		buckets.Imaging = append(buckets.Imaging, models.RecordEntry{
			CapturedAt: timestamp,
			Source:     RecordSourceAnalyze,
			Filename:   scanFilename,
			Type:       "xray_or_scan",
		})
	}

	payload, err := json.Marshal(buckets)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal records: %w", err)
	}

	stored, err := s.encode(patientID, payload)
	if err != nil {
		return nil, err
	}

	_, err = s.db.Exec(
		"INSERT INTO records (patient_id, records_json) VALUES (?, ?) "+s.db.UpsertSuffix("records_json"),
		patientID, stored,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save records: %w", err)
	}

	return buckets, nil
}

func (s *RecordService) encode(patientID string, payload []byte) (string, error) {
	if s.enc == nil {
		return string(payload), nil
	}
	encrypted, err := s.enc.EncryptJSON(patientID, payload)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt records: %w", err)
	}
	return encrypted, nil
}

func (s *RecordService) decode(patientID, stored string) ([]byte, error) {
	if s.enc == nil {
		return []byte(stored), nil
	}
	// Rows written before encryption was enabled are plain JSON
	if len(stored) > 0 && (stored[0] == '{' || stored[0] == '[') {
		return []byte(stored), nil
	}
	decrypted, err := s.enc.DecryptJSON(patientID, stored)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt records: %w", err)
	}
	return decrypted, nil
}

// normalizeBuckets replaces nil slices so responses serialize as [] not null
func normalizeBuckets(b *models.RecordBuckets) {
	if b.History == nil {
		b.History = []models.RecordEntry{}
	}
	if b.Labs == nil {
		b.Labs = []models.RecordEntry{}
	}
	if b.Imaging == nil {
		b.Imaging = []models.RecordEntry{}
	}
	if b.Prescriptions == nil {
		b.Prescriptions = []models.RecordEntry{}
	}
}
