package services

import (
	"fmt"

	"medassist/internal/database"
	"medassist/internal/models"
)

// AppointmentService handles the scheduling board
type AppointmentService struct {
	db *database.DB
}

// NewAppointmentService creates a new appointment service
func NewAppointmentService(db *database.DB) *AppointmentService {
	return &AppointmentService{db: db}
}

// List returns all appointments ordered by id
func (s *AppointmentService) List() ([]models.Appointment, error) {
	rows, err := s.db.Query(`
		SELECT id, patient, time, type, duration, status
		FROM appointments
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query appointments: %w", err)
	}
	defer rows.Close()

	appointments := []models.Appointment{}
	for rows.Next() {
		var a models.Appointment
		if err := rows.Scan(&a.ID, &a.Patient, &a.Time, &a.Type, &a.Duration, &a.Status); err != nil {
			return nil, fmt.Errorf("failed to scan appointment: %w", err)
		}
		appointments = append(appointments, a)
	}

	return appointments, nil
}

// Create inserts a new appointment and returns it with its assigned id
func (s *AppointmentService) Create(req *models.AppointmentCreateRequest) (*models.Appointment, error) {
	req.ApplyDefaults()

	result, err := s.db.Exec(`
		INSERT INTO appointments (patient, time, type, duration, status)
		VALUES (?, ?, ?, ?, ?)
	`, req.Patient, req.Time, req.Type, req.Duration, req.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to insert appointment: %w", err)
	}

	newID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read appointment id: %w", err)
	}

	return &models.Appointment{
		ID:       newID,
		Patient:  req.Patient,
		Time:     req.Time,
		Type:     req.Type,
		Duration: req.Duration,
		Status:   req.Status,
	}, nil
}

// RetireConfirmed flips every still-confirmed appointment to completed.
// The scheduling board is a day view; the nightly maintenance run
// retires yesterday's entries so the dashboard starts the day clean.
func (s *AppointmentService) RetireConfirmed() (int64, error) {
	result, err := s.db.Exec(
		"UPDATE appointments SET status = 'completed' WHERE status = 'confirmed'",
	)
	if err != nil {
		return 0, fmt.Errorf("failed to retire appointments: %w", err)
	}

	updated, _ := result.RowsAffected()
	return updated, nil
}
