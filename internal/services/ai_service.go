package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"medassist/internal/models"
	"medassist/internal/prompts"
	"medassist/internal/utils"
)

// Delegation paths, in the order they are tried. The first path that
// produces a usable result wins; the chain always terminates in mock.
const (
	PathSidecar    = "sidecar"
	PathLocalModel = "local_model"
	PathMock       = "mock"
)

// Analysis modes.
const (
	ModeDoctor  = "doctor"
	ModePatient = "patient"
)

// Local inference rate shared across all callers. The model server handles
// one request at a time; the limiter keeps concurrent dashboard users from
// piling up timeouts.
const (
	inferenceRPS   = 2
	inferenceBurst = 4
)

const (
	mockDoctorSummary = "[MOCK] This is a simulated summary. MedGemma is not loaded " +
		"(running in mock mode). The patient's uploaded records have " +
		"been received and would normally be processed by the AI model."

	mockPatientText = "[MOCK] This is a simulated explanation. When the AI model is " +
		"fully loaded, it would turn your medical document into plain " +
		"language that is easy to understand. Please note: this tool " +
		"does not provide any medical diagnosis or advice."

	missingExplanationText = "We were unable to generate an explanation for this document. " +
		"Please try again or contact your healthcare provider."

	missingSummaryText = "Summary could not be generated. Please review inputs."
)

// Matches markdown code fences the model sometimes wraps its JSON in.
var codeFenceRegex = regexp.MustCompile("(?i)```(?:json)?")

var urgencyOrder = map[string]int{
	models.UrgencyHigh:   0,
	models.UrgencyMedium: 1,
	models.UrgencyLow:    2,
}

// AIService routes analysis requests through the delegation chain:
// legacy sidecar first, then the local model server, then deterministic
// mock output. Every failure along the chain is absorbed, so callers
// always get a complete, disclaimed result. The service holds no patient
// state; persistence is the caller's concern.
type AIService struct {
	sidecar   *SidecarService // nil when the sidecar is disabled
	model     *ModelService   // nil when no model server is configured
	prompts   *prompts.Store
	limiter   *rate.Limiter
	forceMock bool
}

func NewAIService(sidecar *SidecarService, model *ModelService, promptStore *prompts.Store, forceMock bool) *AIService {
	return &AIService{
		sidecar:   sidecar,
		model:     model,
		prompts:   promptStore,
		limiter:   rate.NewLimiter(rate.Limit(inferenceRPS), inferenceBurst),
		forceMock: forceMock,
	}
}

// DoctorAnalysisInput carries the cleaned clinical inputs for one
// doctor-mode analysis run.
type DoctorAnalysisInput struct {
	PatientHistory string
	Prescriptions  string
	LabReports     string
	ScanImage      []byte // raw image bytes, empty when no scan was uploaded
	ScanMIME       string // detected content type, e.g. "image/png"
}

func (in DoctorAnalysisInput) hasScan() bool {
	return len(in.ScanImage) > 0
}

// AnalyzeForDoctor produces the structured clinical snapshot for the
// doctor dashboard. It never fails: the returned path names which stage
// of the delegation chain produced the result.
func (s *AIService) AnalyzeForDoctor(ctx context.Context, in DoctorAnalysisInput) (*models.AnalysisSnapshot, string) {
	start := time.Now()
	defer func() {
		if m := GetMetrics(); m != nil {
			m.RecordAnalysisLatency(time.Since(start).Seconds())
		}
	}()

	if s.sidecar != nil {
		combined := combineClinicalInputs(in.PatientHistory, in.Prescriptions, in.LabReports)
		resp, err := s.sidecar.Analyze(ctx, combined, ModeDoctor)
		if err == nil {
			snapshot := normalizeSidecarDoctor(resp)
			if !in.hasScan() {
				snapshot.ScanInsights = []models.ScanInsight{}
			}
			s.recordPath(PathSidecar, ModeDoctor)
			return snapshot, PathSidecar
		}
		log.Printf("⚠️ Sidecar analysis failed, falling back: %v", err)
		s.recordError("sidecar")
	}

	if s.forceMock || !s.ModelLoaded() {
		log.Printf("🤖 Using mock doctor response (model_loaded=%v)", s.ModelLoaded())
		s.recordPath(PathMock, ModeDoctor)
		return mockDoctorSnapshot(in.hasScan()), PathMock
	}

	snapshot, err := s.analyzeWithModel(ctx, in)
	if err != nil {
		log.Printf("⚠️ Local model analysis failed, using mock: %v", err)
		s.recordError("local_model")
		s.recordPath(PathMock, ModeDoctor)
		return mockDoctorSnapshot(in.hasScan()), PathMock
	}
	s.recordPath(PathLocalModel, ModeDoctor)
	return snapshot, PathLocalModel
}

// ExplainForPatient produces a plain-language rewrite of a clinical
// report. Same delegation chain and same never-fails contract as
// AnalyzeForDoctor.
func (s *AIService) ExplainForPatient(ctx context.Context, reportText string) (*models.ExplainResult, string) {
	start := time.Now()
	defer func() {
		if m := GetMetrics(); m != nil {
			m.RecordAnalysisLatency(time.Since(start).Seconds())
		}
	}()

	if s.sidecar != nil {
		resp, err := s.sidecar.Analyze(ctx, reportText, ModePatient)
		if err == nil {
			s.recordPath(PathSidecar, ModePatient)
			return normalizeSidecarPatient(resp), PathSidecar
		}
		log.Printf("⚠️ Sidecar explain failed, falling back: %v", err)
		s.recordError("sidecar")
	}

	if s.forceMock || !s.ModelLoaded() {
		log.Printf("🤖 Using mock patient response (model_loaded=%v)", s.ModelLoaded())
		s.recordPath(PathMock, ModePatient)
		return mockPatientExplanation(), PathMock
	}

	userMessage := "Please explain the following medical document:\n\n" + reportText

	result, err := s.explainWithModel(ctx, userMessage)
	if err != nil {
		log.Printf("⚠️ Local model explain failed, using mock: %v", err)
		s.recordError("local_model")
		s.recordPath(PathMock, ModePatient)
		return mockPatientExplanation(), PathMock
	}
	s.recordPath(PathLocalModel, ModePatient)
	return result, PathLocalModel
}

// ModelLoaded reports whether the local model server is reachable and
// serving the configured model. Always false under forced mock mode.
func (s *AIService) ModelLoaded() bool {
	return !s.forceMock && s.model != nil && s.model.Loaded()
}

// Status builds the health payload for the service.
func (s *AIService) Status() models.HealthStatus {
	loaded := s.ModelLoaded()
	gpu := s.model != nil && s.model.GPUAvailable()

	var message string
	switch {
	case loaded && gpu:
		message = "Service operational. MedGemma loaded on GPU."
	case loaded:
		message = "Service operational. MedGemma loaded on CPU (slower inference)."
	default:
		message = "Service operational in MOCK mode. MedGemma is not loaded – responses are simulated."
	}

	return models.HealthStatus{
		Status:       "ok",
		ModelLoaded:  loaded,
		GPUAvailable: gpu,
		Message:      message,
	}
}

func (s *AIService) analyzeWithModel(ctx context.Context, in DoctorAnalysisInput) (*models.AnalysisSnapshot, error) {
	var parts []string
	if in.PatientHistory != "" {
		parts = append(parts, "## Patient History\n"+in.PatientHistory)
	}
	if in.Prescriptions != "" {
		parts = append(parts, "## Current / Past Prescriptions\n"+in.Prescriptions)
	}
	if in.LabReports != "" {
		parts = append(parts, "## Lab Reports\n"+in.LabReports)
	}

	var imageURL string
	if in.hasScan() {
		parts = append(parts, "## Scan Image\n[Image attached – please analyse]")
		imageURL = utils.EncodeImageDataURL(in.ScanMIME, in.ScanImage)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	raw, err := s.model.ChatCompletion(ctx, s.prompts.Doctor(), strings.Join(parts, "\n\n"), imageURL)
	if err != nil {
		return nil, err
	}

	snapshot, ok := parseDoctorOutput(raw)
	if !ok {
		return nil, fmt.Errorf("no parsable JSON object in model output")
	}
	if !in.hasScan() {
		snapshot.ScanInsights = []models.ScanInsight{}
	}
	return snapshot, nil
}

func (s *AIService) explainWithModel(ctx context.Context, userMessage string) (*models.ExplainResult, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	raw, err := s.model.ChatCompletion(ctx, s.prompts.Patient(), userMessage, "")
	if err != nil {
		return nil, err
	}

	result, ok := parsePatientOutput(raw)
	if !ok {
		return nil, fmt.Errorf("no parsable JSON object in model output")
	}
	return result, nil
}

func (s *AIService) recordPath(path, mode string) {
	if m := GetMetrics(); m != nil {
		m.RecordAnalysis(path, mode)
	}
}

func (s *AIService) recordError(stage string) {
	if m := GetMetrics(); m != nil {
		m.RecordAnalysisError(stage)
	}
}

// combineClinicalInputs renders the three text inputs into the single
// document the sidecar analyses.
func combineClinicalInputs(history, prescriptions, labReports string) string {
	var sections []string
	if history != "" {
		sections = append(sections, "Patient History:\n"+history)
	}
	if prescriptions != "" {
		sections = append(sections, "Prescriptions:\n"+prescriptions)
	}
	if labReports != "" {
		sections = append(sections, "Lab Reports:\n"+labReports)
	}
	return strings.Join(sections, "\n\n")
}

// extractJSONObject pulls the first-to-last brace span out of raw model
// output, after stripping any markdown code fences. Models add preamble
// and trailing prose often enough that naive unmarshalling fails.
func extractJSONObject(raw string) (string, bool) {
	cleaned := strings.TrimSpace(codeFenceRegex.ReplaceAllString(raw, ""))
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end < start {
		return "", false
	}
	return cleaned[start : end+1], true
}

func parseDoctorOutput(raw string) (*models.AnalysisSnapshot, bool) {
	jsonStr, ok := extractJSONObject(raw)
	if !ok {
		return nil, false
	}

	var payload struct {
		PatientSummary string `json:"patient_summary"`
		KeyFindings    []struct {
			Finding string `json:"finding"`
			Detail  string `json:"detail"`
			Urgency string `json:"urgency"`
			Source  string `json:"source"`
		} `json:"key_findings"`
		ScanInsights []models.ScanInsight `json:"scan_insights"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &payload); err != nil {
		return nil, false
	}

	findings := make([]models.Finding, 0, len(payload.KeyFindings))
	for _, f := range payload.KeyFindings {
		title := strings.TrimSpace(f.Finding)
		if title == "" {
			title = "Unknown finding"
		}
		source := strings.TrimSpace(f.Source)
		if source == "" {
			source = "unknown"
		}
		findings = append(findings, models.Finding{
			Finding: title,
			Detail:  f.Detail,
			Urgency: normalizeUrgency(f.Urgency),
			Source:  source,
		})
	}

	insights := payload.ScanInsights
	if insights == nil {
		insights = []models.ScanInsight{}
	}

	return finalizeSnapshot(payload.PatientSummary, findings, insights), true
}

func parsePatientOutput(raw string) (*models.ExplainResult, bool) {
	jsonStr, ok := extractJSONObject(raw)
	if !ok {
		return nil, false
	}

	var payload struct {
		SimplifiedExplanation string `json:"simplified_explanation"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &payload); err != nil {
		return nil, false
	}

	explanation := strings.TrimSpace(payload.SimplifiedExplanation)
	if explanation == "" {
		explanation = missingExplanationText
	}
	return &models.ExplainResult{
		SimplifiedExplanation: explanation,
		Disclaimer:            models.StandardDisclaimer,
	}, true
}

// finalizeSnapshot applies the output invariants shared by every path:
// findings sorted high to medium to low, the ranking derived from the
// sorted titles, a non-empty summary, and the disclaimer attached.
func finalizeSnapshot(summary string, findings []models.Finding, insights []models.ScanInsight) *models.AnalysisSnapshot {
	sortFindingsByUrgency(findings)

	if strings.TrimSpace(summary) == "" {
		summary = missingSummaryText
	}

	return &models.AnalysisSnapshot{
		PatientSummary: summary,
		KeyFindings:    findings,
		ScanInsights:   insights,
		UrgencyRanking: rankingOf(findings),
		Disclaimer:     models.StandardDisclaimer,
	}
}

func sortFindingsByUrgency(findings []models.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		return urgencyRankOf(findings[i].Urgency) < urgencyRankOf(findings[j].Urgency)
	})
}

func urgencyRankOf(urgency string) int {
	if rank, ok := urgencyOrder[urgency]; ok {
		return rank
	}
	return 99
}

func rankingOf(findings []models.Finding) []string {
	ranking := make([]string, 0, len(findings))
	for _, f := range findings {
		ranking = append(ranking, f.Finding)
	}
	return ranking
}

// normalizeUrgency coerces whatever the model produced onto the three
// recognized levels. Anything unrecognized degrades to low rather than
// discarding the finding.
func normalizeUrgency(raw string) string {
	switch v := strings.ToLower(strings.TrimSpace(raw)); v {
	case models.UrgencyHigh, models.UrgencyMedium:
		return v
	default:
		return models.UrgencyLow
	}
}

// mapLegacySeverity maps the sidecar's severity vocabulary onto urgency
// levels. The sidecar reports "critical" for its worst class.
func mapLegacySeverity(severity string) string {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case "critical", models.UrgencyHigh:
		return models.UrgencyHigh
	case models.UrgencyMedium:
		return models.UrgencyMedium
	default:
		return models.UrgencyLow
	}
}

// normalizeSidecarDoctor maps the sidecar's payload onto a snapshot.
// The sidecar never sees scan images, so insights are always empty here.
func normalizeSidecarDoctor(resp *models.SidecarResponse) *models.AnalysisSnapshot {
	findings := []models.Finding{}
	summary := ""

	if resp.Data != nil {
		for _, ab := range resp.Data.Abnormalities {
			title := strings.TrimSpace(ab.Issue)
			if title == "" {
				title = "Unknown finding"
			}
			detail := strings.TrimSpace(ab.Explanation)
			if detail == "" {
				detail = "Derived from AI_Backend analysis."
			}
			findings = append(findings, models.Finding{
				Finding: title,
				Detail:  detail,
				Urgency: mapLegacySeverity(ab.Severity),
				Source:  models.SourceLegacySidecar,
			})
		}
		summary = strings.TrimSpace(resp.Data.Summary)
	}

	if summary == "" {
		summary = strings.TrimSpace(resp.Response)
	}
	if summary == "" {
		summary = mockDoctorSummary
	}

	return finalizeSnapshot(summary, findings, []models.ScanInsight{})
}

// normalizeSidecarPatient maps the sidecar's payload onto a plain-language
// explanation built from its summary and recommendations.
func normalizeSidecarPatient(resp *models.SidecarResponse) *models.ExplainResult {
	summary := ""
	var recommendations []string

	if resp.Data != nil {
		summary = strings.TrimSpace(resp.Data.Summary)
		for _, rec := range resp.Data.Recommendations {
			if trimmed := strings.TrimSpace(rec); trimmed != "" {
				recommendations = append(recommendations, trimmed)
			}
		}
	}

	var pieces []string
	if summary != "" {
		pieces = append(pieces, summary)
	}
	if len(recommendations) > 0 {
		pieces = append(pieces, "Key next steps mentioned in your report: "+strings.Join(recommendations, "; "))
	}
	if len(pieces) == 0 {
		return mockPatientExplanation()
	}

	return &models.ExplainResult{
		SimplifiedExplanation: strings.Join(pieces, "\n\n"),
		Disclaimer:            models.StandardDisclaimer,
	}
}

func mockDoctorSnapshot(hasScan bool) *models.AnalysisSnapshot {
	insights := []models.ScanInsight{}
	if hasScan {
		insights = []models.ScanInsight{
			{
				Observation: "[MOCK] Scan received and processed.",
				Region:      "Unknown (mock mode)",
				Note:        "Real scan analysis requires GPU and loaded MedGemma model.",
			},
		}
	}

	return &models.AnalysisSnapshot{
		PatientSummary: mockDoctorSummary,
		KeyFindings: []models.Finding{
			{
				Finding: "[MOCK] Elevated Creatinine",
				Detail:  "Lab report indicates possible renal stress markers.",
				Urgency: models.UrgencyHigh,
				Source:  models.SourceLabReport,
			},
			{
				Finding: "[MOCK] Hypertension History",
				Detail:  "Patient history notes long-standing hypertension.",
				Urgency: models.UrgencyMedium,
				Source:  models.SourcePatientHistory,
			},
			{
				Finding: "[MOCK] Routine Follow-up Due",
				Detail:  "Annual cardiology review overdue by 3 months.",
				Urgency: models.UrgencyLow,
				Source:  models.SourcePrescription,
			},
		},
		ScanInsights: insights,
		UrgencyRanking: []string{
			"[MOCK] Elevated Creatinine",
			"[MOCK] Hypertension History",
			"[MOCK] Routine Follow-up Due",
		},
		Disclaimer: models.StandardDisclaimer,
	}
}

func mockPatientExplanation() *models.ExplainResult {
	return &models.ExplainResult{
		SimplifiedExplanation: mockPatientText,
		Disclaimer:            models.StandardDisclaimer,
	}
}
