package models

// StandardDisclaimer is attached to every piece of clinical output the
// system emits. No snapshot ever leaves the backend without it.
const StandardDisclaimer = "This is an assistive tool and not a medical diagnosis."

// Urgency levels for findings, highest first.
const (
	UrgencyHigh   = "high"
	UrgencyMedium = "medium"
	UrgencyLow    = "low"
)

// Finding sources recognized by the dashboard UI.
const (
	SourcePatientHistory = "patient_history"
	SourcePrescription   = "prescription"
	SourceLabReport      = "lab_report"
	SourceScan           = "scan"
	SourceLegacySidecar  = "legacy_ai_backend"
)

// Finding is one ranked clinical observation inside a snapshot.
type Finding struct {
	Finding string `json:"finding"`
	Detail  string `json:"detail"`
	Urgency string `json:"urgency"` // high, medium, low
	Source  string `json:"source"`
}

// ScanInsight is one observation derived from an uploaded scan image.
type ScanInsight struct {
	Observation string `json:"observation"`
	Region      string `json:"region"`
	Note        string `json:"note"`
}

// AnalysisSnapshot is the normalized output of one doctor-mode analysis.
// One snapshot is stored per patient and replaced on each successful run.
type AnalysisSnapshot struct {
	PatientSummary string        `json:"patient_summary"`
	KeyFindings    []Finding     `json:"key_findings"`
	ScanInsights   []ScanInsight `json:"scan_insights"`
	UrgencyRanking []string      `json:"urgency_ranking"`
	Disclaimer     string        `json:"disclaimer"`
}

// ExplainResult is the patient-mode response: a plain-language rewrite of a
// clinical report.
type ExplainResult struct {
	SimplifiedExplanation string `json:"simplified_explanation"`
	Disclaimer            string `json:"disclaimer"`
}

// SidecarRequest is the body posted to the legacy sidecar's /analyze endpoint.
type SidecarRequest struct {
	Text string `json:"text"`
	Mode string `json:"mode"` // "doctor" or "patient"
}

// SidecarAbnormality is one issue in the sidecar's structured payload.
type SidecarAbnormality struct {
	Issue       string `json:"issue"`
	Severity    string `json:"severity"`
	Explanation string `json:"explanation,omitempty"`
}

// SidecarData is the structured part of a sidecar reply.
type SidecarData struct {
	Summary         string               `json:"summary"`
	Abnormalities   []SidecarAbnormality `json:"abnormalities"`
	Recommendations []string             `json:"recommendations"`
}

// SidecarResponse is the full reply from the legacy sidecar: a formatted
// markdown string plus the structured data block it was rendered from.
type SidecarResponse struct {
	Response string       `json:"response"`
	Data     *SidecarData `json:"data"`
}

// HealthStatus is the GET /health payload.
type HealthStatus struct {
	Status       string `json:"status"`
	ModelLoaded  bool   `json:"model_loaded"`
	GPUAvailable bool   `json:"gpu_available"`
	Message      string `json:"message"`
}
