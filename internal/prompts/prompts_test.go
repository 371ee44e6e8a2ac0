package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewStoreDefaults(t *testing.T) {
	s := NewStore("")

	if !strings.Contains(s.Doctor(), "MedAssist") {
		t.Error("Doctor prompt should contain the MedAssist role")
	}
	if !strings.Contains(s.Patient(), "MedExplain") {
		t.Error("Patient prompt should contain the MedExplain role")
	}
	if !strings.Contains(s.Doctor(), "patient_summary") {
		t.Error("Doctor prompt should describe the JSON schema")
	}
	if !strings.Contains(s.Patient(), "simplified_explanation") {
		t.Error("Patient prompt should describe the JSON schema")
	}
}

func TestNewStoreMissingFile(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "missing.yaml"))

	if s.Doctor() != DoctorSystemPrompt {
		t.Error("missing prompts file should keep the built-in doctor prompt")
	}
	if s.Patient() != PatientSystemPrompt {
		t.Error("missing prompts file should keep the built-in patient prompt")
	}
}

func TestStoreOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	content := "doctor: |\n  Custom doctor instructions.\npatient: |\n  Custom patient instructions.\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write prompts file: %v", err)
	}

	s := NewStore(path)

	if s.Doctor() != "Custom doctor instructions." {
		t.Errorf("Doctor() = %q, want custom override", s.Doctor())
	}
	if s.Patient() != "Custom patient instructions." {
		t.Errorf("Patient() = %q, want custom override", s.Patient())
	}
}

func TestStorePartialOverrideKeepsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte("doctor: Only the doctor prompt changed\n"), 0644); err != nil {
		t.Fatalf("Failed to write prompts file: %v", err)
	}

	s := NewStore(path)

	if s.Doctor() != "Only the doctor prompt changed" {
		t.Errorf("Doctor() = %q, want override", s.Doctor())
	}
	if s.Patient() != PatientSystemPrompt {
		t.Error("patient prompt should fall back to the built-in default")
	}
}

func TestStoreReloadRestoresDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte("doctor: Override\npatient: Override\n"), 0644); err != nil {
		t.Fatalf("Failed to write prompts file: %v", err)
	}

	s := NewStore(path)
	if s.Doctor() != "Override" {
		t.Fatalf("Doctor() = %q, want override before reload", s.Doctor())
	}

	// Clearing an override restores the built-in prompt on reload
	if err := os.WriteFile(path, []byte("doctor: \"\"\n"), 0644); err != nil {
		t.Fatalf("Failed to rewrite prompts file: %v", err)
	}
	if err := s.Reload(); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}

	if s.Doctor() != DoctorSystemPrompt {
		t.Error("cleared override should restore the built-in doctor prompt")
	}
	if s.Patient() != PatientSystemPrompt {
		t.Error("cleared override should restore the built-in patient prompt")
	}
}

func TestStoreInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte("doctor: [unclosed\n"), 0644); err != nil {
		t.Fatalf("Failed to write prompts file: %v", err)
	}

	s := NewStore(path)

	// Bad file keeps the defaults instead of blanking the prompts
	if s.Doctor() != DoctorSystemPrompt {
		t.Error("invalid prompts file should keep the built-in doctor prompt")
	}
}
