package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"medassist/internal/database"
	"medassist/internal/models"
)

// Patient store errors
var (
	ErrPatientNotFound = errors.New("patient not found")
	ErrPatientExists   = errors.New("patient id already exists")
)

// PatientService handles patient roster operations
type PatientService struct {
	db *database.DB
}

// NewPatientService creates a new patient service
func NewPatientService(db *database.DB) *PatientService {
	return &PatientService{db: db}
}

// List returns all patients ordered by id
func (s *PatientService) List() ([]models.Patient, error) {
	rows, err := s.db.Query(`
		SELECT id, mrn, name, age, gender, dob, blood_type, allergies_json, conditions_json, last_visit, next_appointment, primary_physician
		FROM patients
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query patients: %w", err)
	}
	defer rows.Close()

	patients := []models.Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		patients = append(patients, *p)
	}

	return patients, nil
}

// GetByID returns a patient by id
func (s *PatientService) GetByID(id string) (*models.Patient, error) {
	row := s.db.QueryRow(`
		SELECT id, mrn, name, age, gender, dob, blood_type, allergies_json, conditions_json, last_visit, next_appointment, primary_physician
		FROM patients
		WHERE id = ?
	`, id)

	p, err := scanPatient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, err
	}

	return p, nil
}

// Exists reports whether a patient id is present in the roster
func (s *PatientService) Exists(id string) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM patients WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check patient: %w", err)
	}
	return true, nil
}

// Create inserts a new patient and initialises an empty records bucket.
// When the request carries no id, the next free P### id is assigned.
func (s *PatientService) Create(req *models.PatientCreateRequest) (*models.Patient, error) {
	patientID := req.ID
	if patientID == "" {
		next, err := s.nextPatientID()
		if err != nil {
			return nil, err
		}
		patientID = next
	}

	exists, err := s.Exists(patientID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrPatientExists, patientID)
	}

	age := 0
	if req.Age != nil {
		age = *req.Age
	}

	p := &models.Patient{
		ID:               patientID,
		MRN:              req.MRN,
		Name:             req.Name,
		Age:              age,
		Gender:           req.Gender,
		DOB:              req.DOB,
		BloodType:        req.BloodType,
		Allergies:        req.Allergies,
		Conditions:       req.Conditions,
		LastVisit:        req.LastVisit,
		NextAppointment:  req.NextAppointment,
		PrimaryPhysician: req.PrimaryPhysician,
	}

	if p.BloodType == "" {
		p.BloodType = "Unknown"
	}
	if p.Allergies == nil {
		p.Allergies = []string{}
	}
	if p.Conditions == nil {
		p.Conditions = []string{}
	}
	if p.LastVisit == "" {
		p.LastVisit = time.Now().UTC().Format("2006-01-02")
	}
	if p.NextAppointment == "" {
		p.NextAppointment = "TBD"
	}
	if p.PrimaryPhysician == "" {
		p.PrimaryPhysician = "Unassigned"
	}

	if err := s.insertPatient(p); err != nil {
		return nil, err
	}

	return p, nil
}

// EnsureSeedData populates the roster with the demo patients on first boot
// so the dashboard never starts empty.
func (s *PatientService) EnsureSeedData() error {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM patients").Scan(&count); err != nil {
		return fmt.Errorf("failed to count patients: %w", err)
	}
	if count > 0 {
		return nil
	}

	seeds := []models.Patient{
		{
			ID:               "P001",
			MRN:              "MRN-2024-001",
			Name:             "Sarah Johnson",
			Age:              67,
			Gender:           "Female",
			DOB:              "1957-03-15",
			BloodType:        "A+",
			Allergies:        []string{"Penicillin", "Sulfa drugs"},
			Conditions:       []string{"Type 2 Diabetes", "Hypertension", "Hyperlipidemia"},
			LastVisit:        "2024-01-15",
			NextAppointment:  "2024-02-20",
			PrimaryPhysician: "Dr. Michael Chen",
		},
		{
			ID:               "P002",
			MRN:              "MRN-2024-002",
			Name:             "James Miller",
			Age:              59,
			Gender:           "Male",
			DOB:              "1965-07-04",
			BloodType:        "O+",
			Allergies:        []string{"None known"},
			Conditions:       []string{"Coronary artery disease"},
			LastVisit:        "2024-01-11",
			NextAppointment:  "2024-02-25",
			PrimaryPhysician: "Dr. Aditi Rao",
		},
	}

	for i := range seeds {
		if err := s.insertPatient(&seeds[i]); err != nil {
			return err
		}
	}

	log.Printf("   ✅ Seeded %d demo patients", len(seeds))
	return nil
}

// insertPatient writes the patient row plus its empty records bucket
func (s *PatientService) insertPatient(p *models.Patient) error {
	allergiesJSON, err := json.Marshal(p.Allergies)
	if err != nil {
		return fmt.Errorf("failed to marshal allergies: %w", err)
	}
	conditionsJSON, err := json.Marshal(p.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO patients (
			id, mrn, name, age, gender, dob, blood_type,
			allergies_json, conditions_json, last_visit, next_appointment, primary_physician
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.MRN, p.Name, p.Age, p.Gender, p.DOB, p.BloodType,
		string(allergiesJSON), string(conditionsJSON), p.LastVisit, p.NextAppointment, p.PrimaryPhysician)
	if err != nil {
		return fmt.Errorf("failed to insert patient: %w", err)
	}

	emptyBuckets, err := json.Marshal(models.EmptyRecordBuckets())
	if err != nil {
		return fmt.Errorf("failed to marshal empty records: %w", err)
	}

	_, err = s.db.Exec(
		"INSERT INTO records (patient_id, records_json) VALUES (?, ?)",
		p.ID, string(emptyBuckets),
	)
	if err != nil {
		return fmt.Errorf("failed to insert records bucket: %w", err)
	}

	return nil
}

// nextPatientID scans existing ids and returns the next one in P### format
func (s *PatientService) nextPatientID() (string, error) {
	rows, err := s.db.Query("SELECT id FROM patients")
	if err != nil {
		return "", fmt.Errorf("failed to query patient ids: %w", err)
	}
	defer rows.Close()

	maxNum := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("failed to scan patient id: %w", err)
		}
		if !strings.HasPrefix(id, "P") {
			continue
		}
		num, err := strconv.Atoi(id[1:])
		if err != nil {
			continue
		}
		if num > maxNum {
			maxNum = num
		}
	}

	return fmt.Sprintf("P%03d", maxNum+1), nil
}

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPatient(row scanner) (*models.Patient, error) {
	var p models.Patient
	var allergiesJSON, conditionsJSON string

	err := row.Scan(&p.ID, &p.MRN, &p.Name, &p.Age, &p.Gender, &p.DOB, &p.BloodType,
		&allergiesJSON, &conditionsJSON, &p.LastVisit, &p.NextAppointment, &p.PrimaryPhysician)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan patient: %w", err)
	}

	if err := json.Unmarshal([]byte(allergiesJSON), &p.Allergies); err != nil {
		p.Allergies = []string{}
	}
	if err := json.Unmarshal([]byte(conditionsJSON), &p.Conditions); err != nil {
		p.Conditions = []string{}
	}
	if p.Allergies == nil {
		p.Allergies = []string{}
	}
	if p.Conditions == nil {
		p.Conditions = []string{}
	}

	return &p, nil
}
