package prompts

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const maxPromptsFileSize = 100 * 1024 // 100KB

// DoctorSystemPrompt shapes the model into a clinical documentation
// assistant that returns structured JSON for the doctor dashboard.
const DoctorSystemPrompt = `You are MedAssist, a clinical documentation assistant.
Your role is to help doctors quickly understand uploaded patient records.
Rules you MUST follow:
1. You are NOT a diagnostician. Do not make definitive diagnoses.
2. If you are uncertain about anything, state that uncertainty explicitly.
3. Do not suggest prescriptions or specific treatment plans.
4. Rank findings by urgency: HIGH (needs immediate attention), MEDIUM (needs
   follow-up), LOW (routine / informational).
5. Always return a valid JSON object matching the schema below – no extra prose.

Required JSON schema:
{
  "patient_summary": "<2-4 sentence overview>",
  "key_findings": [
    {
      "finding": "<short finding title>",
      "detail": "<supporting evidence from records>",
      "urgency": "high|medium|low",
      "source": "<patient_history|prescription|lab_report|scan>"
    }
  ],
  "scan_insights": [
    {
      "observation": "<what is visible>",
      "region": "<anatomical region or null>",
      "note": "<non-diagnostic clinical note>"
    }
  ],
  "urgency_ranking": ["<highest urgency finding title>", "...", "<lowest>"]
}`

// PatientSystemPrompt shapes the model into a plain-language document
// simplifier for the patient portal.
const PatientSystemPrompt = `You are MedExplain, a medical document simplifier.
Your role is to help patients understand their own medical records in plain,
friendly language they can follow without any medical background.
Rules you MUST follow:
1. Do NOT suggest a diagnosis.
2. Do NOT recommend or advise on medications or treatments.
3. Do NOT make any definitive medical statements – you are explaining, not deciding.
4. Use simple, short sentences. Avoid jargon. If a medical term is unavoidable,
   define it in parentheses.
5. Return ONLY a JSON object with a single key "simplified_explanation".

Required JSON schema:
{
  "simplified_explanation": "<plain language explanation>"
}`

// promptsFile is the on-disk override format. Empty fields keep the
// built-in defaults.
type promptsFile struct {
	Doctor  string `yaml:"doctor"`
	Patient string `yaml:"patient"`
}

// Store holds the active system prompts. Hospitals tune prompt wording
// without redeploying by editing the prompts file; the watcher reloads it.
type Store struct {
	mu       sync.RWMutex
	filePath string
	doctor   string
	patient  string
}

// NewStore creates a prompt store seeded with the built-in defaults and,
// when filePath exists, layered with overrides from it.
func NewStore(filePath string) *Store {
	s := &Store{
		filePath: filePath,
		doctor:   DoctorSystemPrompt,
		patient:  PatientSystemPrompt,
	}

	if filePath == "" {
		return s
	}

	if err := s.Reload(); err != nil {
		if os.IsNotExist(err) {
			log.Printf("ℹ️  Prompts file %s not found, using built-in prompts", filePath)
		} else {
			log.Printf("⚠️  Failed to load prompts from %s: %v", filePath, err)
		}
	}

	return s
}

// Doctor returns the active doctor-facing system prompt.
func (s *Store) Doctor() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doctor
}

// Patient returns the active patient-facing system prompt.
func (s *Store) Patient() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.patient
}

// Reload re-reads the prompts file and swaps in any overrides it defines.
// Fields absent from the file fall back to the built-in defaults, so a
// partial file never blanks a prompt.
func (s *Store) Reload() error {
	if s.filePath == "" {
		return nil
	}

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}
	if len(data) > maxPromptsFileSize {
		return fmt.Errorf("prompts file exceeds maximum size of %d bytes", maxPromptsFileSize)
	}

	var pf promptsFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("invalid prompts file: %w", err)
	}

	doctor := strings.TrimSpace(pf.Doctor)
	patient := strings.TrimSpace(pf.Patient)

	s.mu.Lock()
	if doctor != "" {
		s.doctor = doctor
	} else {
		s.doctor = DoctorSystemPrompt
	}
	if patient != "" {
		s.patient = patient
	} else {
		s.patient = PatientSystemPrompt
	}
	s.mu.Unlock()

	return nil
}

// Watch watches the prompts file for changes and hot-reloads it. Blocks
// until the watcher fails, so callers run it in a goroutine.
func (s *Store) Watch() {
	if s.filePath == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("⚠️  Failed to create file watcher: %v", err)
		return
	}

	// Get absolute path for the file
	absPath, err := filepath.Abs(s.filePath)
	if err != nil {
		log.Printf("⚠️  Failed to get absolute path for %s: %v", s.filePath, err)
		watcher.Close()
		return
	}

	// Watch the directory containing the file (more reliable than watching the file directly)
	dir := filepath.Dir(absPath)
	filename := filepath.Base(absPath)

	if err := watcher.Add(dir); err != nil {
		log.Printf("⚠️  Failed to watch directory %s: %v", dir, err)
		watcher.Close()
		return
	}

	log.Printf("👁️  Watching %s for changes (hot-reload enabled)", s.filePath)

	// Debounce timer to avoid multiple reloads for rapid file changes
	var debounceTimer *time.Timer
	debounceDuration := 500 * time.Millisecond

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			// Only react to changes to our specific file
			if filepath.Base(event.Name) != filename {
				continue
			}

			// React to write and create events
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				// Debounce: cancel previous timer and set a new one
				if debounceTimer != nil {
					debounceTimer.Stop()
				}

				debounceTimer = time.AfterFunc(debounceDuration, func() {
					log.Printf("🔄 Detected changes in %s, reloading prompts...", s.filePath)

					if err := s.Reload(); err != nil {
						log.Printf("❌ Failed to reload prompts after file change: %v", err)
					} else {
						log.Printf("✅ Prompts reloaded from %s", s.filePath)
					}
				})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  File watcher error: %v", err)
		}
	}
}
