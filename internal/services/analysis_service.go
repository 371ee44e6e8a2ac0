package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"medassist/internal/crypto"
	"medassist/internal/database"
	"medassist/internal/models"
)

// AnalysisService persists the latest AnalysisSnapshot per patient.
// Saving always overwrites: the dashboard shows the most recent analysis,
// the audit trail keeps the history.
type AnalysisService struct {
	db  *database.DB
	enc *crypto.EncryptionService
}

// NewAnalysisService creates a new analysis service. enc may be nil.
func NewAnalysisService(db *database.DB, enc *crypto.EncryptionService) *AnalysisService {
	return &AnalysisService{db: db, enc: enc}
}

// Save stores the snapshot for a patient, replacing any previous one
func (s *AnalysisService) Save(patientID string, snapshot *models.AnalysisSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}

	stored := string(payload)
	if s.enc != nil {
		stored, err = s.enc.EncryptJSON(patientID, payload)
		if err != nil {
			return fmt.Errorf("failed to encrypt analysis: %w", err)
		}
	}

	_, err = s.db.Exec(
		"INSERT INTO analysis (patient_id, analysis_json) VALUES (?, ?) "+s.db.UpsertSuffix("analysis_json"),
		patientID, stored,
	)
	if err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}

	return nil
}

// GetByPatient returns the stored snapshot, or nil when the patient has
// never been analyzed.
func (s *AnalysisService) GetByPatient(patientID string) (*models.AnalysisSnapshot, error) {
	var analysisJSON string
	err := s.db.QueryRow(
		"SELECT analysis_json FROM analysis WHERE patient_id = ?", patientID,
	).Scan(&analysisJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query analysis: %w", err)
	}

	data := []byte(analysisJSON)
	if s.enc != nil && len(analysisJSON) > 0 && analysisJSON[0] != '{' {
		data, err = s.enc.DecryptJSON(patientID, analysisJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt analysis: %w", err)
		}
	}

	var snapshot models.AnalysisSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analysis: %w", err)
	}

	return &snapshot, nil
}
