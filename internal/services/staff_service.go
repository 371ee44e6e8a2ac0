package services

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"medassist/internal/database"
	"medassist/internal/models"

	"github.com/google/uuid"
)

// StaffService manages clinician accounts in the staff table. Only consulted
// when authentication is enabled.
type StaffService struct {
	db *database.DB
}

// NewStaffService creates a new staff service
func NewStaffService(db *database.DB) *StaffService {
	return &StaffService{db: db}
}

// GetByEmail looks up a staff account. Returns nil without error when the
// email is unknown.
func (s *StaffService) GetByEmail(email string) (*models.Staff, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	staff := &models.Staff{}
	err := s.db.QueryRow(
		"SELECT id, email, password_hash, role FROM staff WHERE email = ?", email,
	).Scan(&staff.ID, &staff.Email, &staff.PasswordHash, &staff.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query staff: %w", err)
	}
	return staff, nil
}

// GetByID looks up a staff account by id. Returns nil without error when
// the id is unknown.
func (s *StaffService) GetByID(id string) (*models.Staff, error) {
	staff := &models.Staff{}
	err := s.db.QueryRow(
		"SELECT id, email, password_hash, role FROM staff WHERE id = ?", id,
	).Scan(&staff.ID, &staff.Email, &staff.PasswordHash, &staff.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query staff: %w", err)
	}
	return staff, nil
}

// Create inserts a new staff account. An empty id gets a generated UUID.
func (s *StaffService) Create(staff *models.Staff) error {
	if staff.ID == "" {
		staff.ID = uuid.New().String()
	}
	staff.Email = strings.TrimSpace(strings.ToLower(staff.Email))

	_, err := s.db.Exec(
		"INSERT INTO staff (id, email, password_hash, role) VALUES (?, ?, ?, ?)",
		staff.ID, staff.Email, staff.PasswordHash, staff.Role,
	)
	if err != nil {
		return fmt.Errorf("failed to insert staff: %w", err)
	}
	return nil
}

// Count returns the number of staff accounts
func (s *StaffService) Count() (int, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM staff").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count staff: %w", err)
	}
	return count, nil
}

// EnsureAdmin seeds the configured admin account when the staff table is
// empty. passwordHash must already be hashed by the auth layer.
func (s *StaffService) EnsureAdmin(email, passwordHash string) error {
	if email == "" || passwordHash == "" {
		return nil
	}

	count, err := s.Count()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	admin := &models.Staff{
		Email:        email,
		PasswordHash: passwordHash,
		Role:         "admin",
	}
	if err := s.Create(admin); err != nil {
		return err
	}

	log.Printf("   ✅ Seeded admin staff account: %s", admin.Email)
	return nil
}
