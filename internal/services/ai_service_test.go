package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"medassist/internal/models"
	"medassist/internal/prompts"
)

func newTestPrompts(t *testing.T) *prompts.Store {
	t.Helper()
	return prompts.NewStore(filepath.Join(t.TempDir(), "prompts.yaml"))
}

func TestAnalyzeForDoctorMockPath(t *testing.T) {
	svc := NewAIService(nil, nil, newTestPrompts(t), false)

	snapshot, path := svc.AnalyzeForDoctor(context.Background(), DoctorAnalysisInput{
		PatientHistory: "Long-standing hypertension.",
	})

	if path != PathMock {
		t.Fatalf("expected path %q, got %q", PathMock, path)
	}
	if !strings.HasPrefix(snapshot.PatientSummary, "[MOCK]") {
		t.Errorf("expected mock summary, got %q", snapshot.PatientSummary)
	}
	if len(snapshot.KeyFindings) != 3 {
		t.Fatalf("expected 3 mock findings, got %d", len(snapshot.KeyFindings))
	}

	wantOrder := []string{models.UrgencyHigh, models.UrgencyMedium, models.UrgencyLow}
	for i, f := range snapshot.KeyFindings {
		if f.Urgency != wantOrder[i] {
			t.Errorf("finding %d: expected urgency %q, got %q", i, wantOrder[i], f.Urgency)
		}
	}

	if len(snapshot.UrgencyRanking) != 3 {
		t.Fatalf("expected 3 ranking entries, got %d", len(snapshot.UrgencyRanking))
	}
	for i, f := range snapshot.KeyFindings {
		if snapshot.UrgencyRanking[i] != f.Finding {
			t.Errorf("ranking %d: expected %q, got %q", i, f.Finding, snapshot.UrgencyRanking[i])
		}
	}

	if snapshot.Disclaimer != models.StandardDisclaimer {
		t.Errorf("expected standard disclaimer, got %q", snapshot.Disclaimer)
	}
	if len(snapshot.ScanInsights) != 0 {
		t.Errorf("expected no scan insights without an image, got %d", len(snapshot.ScanInsights))
	}
}

func TestAnalyzeForDoctorMockIncludesScanInsight(t *testing.T) {
	svc := NewAIService(nil, nil, newTestPrompts(t), false)

	snapshot, _ := svc.AnalyzeForDoctor(context.Background(), DoctorAnalysisInput{
		LabReports: "Creatinine 2.1 mg/dL",
		ScanImage:  []byte{0xFF, 0xD8, 0xFF, 0xE0},
		ScanMIME:   "image/jpeg",
	})

	if len(snapshot.ScanInsights) != 1 {
		t.Fatalf("expected 1 scan insight with an image, got %d", len(snapshot.ScanInsights))
	}
	if !strings.HasPrefix(snapshot.ScanInsights[0].Observation, "[MOCK]") {
		t.Errorf("unexpected observation %q", snapshot.ScanInsights[0].Observation)
	}
}

func TestAnalyzeForDoctorSidecarPath(t *testing.T) {
	var gotReq models.SidecarRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		json.NewEncoder(w).Encode(models.SidecarResponse{
			Response: "## Analysis\nRenal function declining.",
			Data: &models.SidecarData{
				Summary: "Renal function shows mild decline.",
				Abnormalities: []models.SidecarAbnormality{
					{Issue: "Low eGFR", Severity: "critical", Explanation: "eGFR below 60 for three months."},
					{Issue: "Elevated BP", Severity: "medium"},
				},
			},
		})
	}))
	defer srv.Close()

	sidecar := NewSidecarService(srv.URL, 2*time.Second)
	svc := NewAIService(sidecar, nil, newTestPrompts(t), false)

	snapshot, path := svc.AnalyzeForDoctor(context.Background(), DoctorAnalysisInput{
		PatientHistory: "CKD stage 3.",
		LabReports:     "eGFR 54",
	})

	if path != PathSidecar {
		t.Fatalf("expected path %q, got %q", PathSidecar, path)
	}
	if gotReq.Mode != ModeDoctor {
		t.Errorf("expected mode %q sent to sidecar, got %q", ModeDoctor, gotReq.Mode)
	}
	if !strings.Contains(gotReq.Text, "Patient History:\nCKD stage 3.") {
		t.Errorf("combined text missing history section: %q", gotReq.Text)
	}
	if !strings.Contains(gotReq.Text, "Lab Reports:\neGFR 54") {
		t.Errorf("combined text missing lab section: %q", gotReq.Text)
	}

	if snapshot.PatientSummary != "Renal function shows mild decline." {
		t.Errorf("unexpected summary %q", snapshot.PatientSummary)
	}
	if len(snapshot.KeyFindings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(snapshot.KeyFindings))
	}

	first := snapshot.KeyFindings[0]
	if first.Finding != "Low eGFR" || first.Urgency != models.UrgencyHigh {
		t.Errorf("critical severity should map to high urgency first: %+v", first)
	}
	if first.Source != models.SourceLegacySidecar {
		t.Errorf("expected source %q, got %q", models.SourceLegacySidecar, first.Source)
	}

	second := snapshot.KeyFindings[1]
	if second.Detail != "Derived from AI_Backend analysis." {
		t.Errorf("missing explanation should use default detail, got %q", second.Detail)
	}

	if len(snapshot.ScanInsights) != 0 {
		t.Errorf("sidecar path must not produce scan insights, got %d", len(snapshot.ScanInsights))
	}
	if snapshot.Disclaimer != models.StandardDisclaimer {
		t.Errorf("expected standard disclaimer, got %q", snapshot.Disclaimer)
	}
}

func TestAnalyzeForDoctorSidecarDownFallsToMock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sidecar := NewSidecarService(srv.URL, 2*time.Second)
	svc := NewAIService(sidecar, nil, newTestPrompts(t), false)

	snapshot, path := svc.AnalyzeForDoctor(context.Background(), DoctorAnalysisInput{
		Prescriptions: "Lisinopril 10mg",
	})

	if path != PathMock {
		t.Fatalf("expected fallback to %q, got %q", PathMock, path)
	}
	if !strings.HasPrefix(snapshot.PatientSummary, "[MOCK]") {
		t.Errorf("expected mock summary, got %q", snapshot.PatientSummary)
	}
}

func newModelTestServer(t *testing.T, chatContent string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/models":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []map[string]string{{"id": "medgemma-4b-it"}},
			})
		case "/chat/completions":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"choices": []map[string]interface{}{
					{"message": map[string]string{"content": chatContent}},
				},
			})
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestAnalyzeForDoctorLocalModelPath(t *testing.T) {
	chatContent := "Here is the analysis:\n```json\n" + `{
		"patient_summary": "Stable chronic kidney disease.",
		"key_findings": [
			{"finding": "Overdue Review", "detail": "Annual review overdue.", "urgency": "low", "source": "prescription"},
			{"finding": "Rising Creatinine", "detail": "Trending up.", "urgency": "HIGH", "source": "lab_report"},
			{"finding": "Odd Level", "detail": "Model invented a level.", "urgency": "severe", "source": "lab_report"}
		],
		"scan_insights": []
	}` + "\n```"

	srv := newModelTestServer(t, chatContent)
	defer srv.Close()

	model := NewModelService(srv.URL, "medgemma-4b-it", 10*time.Second, false)
	svc := NewAIService(nil, model, newTestPrompts(t), false)

	snapshot, path := svc.AnalyzeForDoctor(context.Background(), DoctorAnalysisInput{
		LabReports: "Creatinine 1.9 mg/dL",
	})

	if path != PathLocalModel {
		t.Fatalf("expected path %q, got %q", PathLocalModel, path)
	}
	if snapshot.PatientSummary != "Stable chronic kidney disease." {
		t.Errorf("unexpected summary %q", snapshot.PatientSummary)
	}
	if len(snapshot.KeyFindings) != 3 {
		t.Fatalf("expected 3 findings, got %d", len(snapshot.KeyFindings))
	}

	if snapshot.KeyFindings[0].Finding != "Rising Creatinine" {
		t.Errorf("expected high-urgency finding first, got %q", snapshot.KeyFindings[0].Finding)
	}
	if snapshot.KeyFindings[0].Urgency != models.UrgencyHigh {
		t.Errorf("uppercase urgency should normalize to high, got %q", snapshot.KeyFindings[0].Urgency)
	}

	for _, f := range snapshot.KeyFindings {
		if f.Finding == "Odd Level" && f.Urgency != models.UrgencyLow {
			t.Errorf("unknown urgency should degrade to low, got %q", f.Urgency)
		}
	}

	wantRanking := []string{"Rising Creatinine", "Overdue Review", "Odd Level"}
	for i, want := range wantRanking {
		if snapshot.UrgencyRanking[i] != want {
			t.Errorf("ranking %d: expected %q, got %q", i, want, snapshot.UrgencyRanking[i])
		}
	}
}

func TestAnalyzeForDoctorModelGarbageFallsToMock(t *testing.T) {
	srv := newModelTestServer(t, "I am sorry, I cannot produce structured output today.")
	defer srv.Close()

	model := NewModelService(srv.URL, "medgemma-4b-it", 10*time.Second, false)
	svc := NewAIService(nil, model, newTestPrompts(t), false)

	snapshot, path := svc.AnalyzeForDoctor(context.Background(), DoctorAnalysisInput{
		PatientHistory: "Asthma since childhood.",
	})

	if path != PathMock {
		t.Fatalf("expected fallback to %q, got %q", PathMock, path)
	}
	if len(snapshot.KeyFindings) != 3 {
		t.Errorf("mock fallback should carry 3 findings, got %d", len(snapshot.KeyFindings))
	}
}

func TestAnalyzeForDoctorForceMockSkipsModel(t *testing.T) {
	srv := newModelTestServer(t, `{"patient_summary": "should never be used", "key_findings": []}`)
	defer srv.Close()

	model := NewModelService(srv.URL, "medgemma-4b-it", 10*time.Second, true)
	svc := NewAIService(nil, model, newTestPrompts(t), true)

	snapshot, path := svc.AnalyzeForDoctor(context.Background(), DoctorAnalysisInput{
		PatientHistory: "Anything",
	})

	if path != PathMock {
		t.Fatalf("force mock must short-circuit to %q, got %q", PathMock, path)
	}
	if !strings.HasPrefix(snapshot.PatientSummary, "[MOCK]") {
		t.Errorf("expected mock summary, got %q", snapshot.PatientSummary)
	}
}

func TestExplainForPatientLocalModel(t *testing.T) {
	srv := newModelTestServer(t, "```JSON\n"+`{"simplified_explanation": "Your kidneys are working a little slower than usual."}`+"\n```")
	defer srv.Close()

	model := NewModelService(srv.URL, "medgemma-4b-it", 10*time.Second, false)
	svc := NewAIService(nil, model, newTestPrompts(t), false)

	result, path := svc.ExplainForPatient(context.Background(), "eGFR 54 mL/min")

	if path != PathLocalModel {
		t.Fatalf("expected path %q, got %q", PathLocalModel, path)
	}
	if result.SimplifiedExplanation != "Your kidneys are working a little slower than usual." {
		t.Errorf("unexpected explanation %q", result.SimplifiedExplanation)
	}
	if result.Disclaimer != models.StandardDisclaimer {
		t.Errorf("expected standard disclaimer, got %q", result.Disclaimer)
	}
}

func TestExplainForPatientMockPath(t *testing.T) {
	svc := NewAIService(nil, nil, newTestPrompts(t), false)

	result, path := svc.ExplainForPatient(context.Background(), "CBC panel results")

	if path != PathMock {
		t.Fatalf("expected path %q, got %q", PathMock, path)
	}
	if !strings.HasPrefix(result.SimplifiedExplanation, "[MOCK]") {
		t.Errorf("expected mock explanation, got %q", result.SimplifiedExplanation)
	}
}

func TestNormalizeSidecarPatient(t *testing.T) {
	result := normalizeSidecarPatient(&models.SidecarResponse{
		Data: &models.SidecarData{
			Summary:         "Your blood pressure is higher than the target range.",
			Recommendations: []string{"Reduce salt intake", "Schedule a follow-up in 4 weeks"},
		},
	})

	want := "Your blood pressure is higher than the target range.\n\n" +
		"Key next steps mentioned in your report: Reduce salt intake; Schedule a follow-up in 4 weeks"
	if result.SimplifiedExplanation != want {
		t.Errorf("unexpected explanation:\n got %q\nwant %q", result.SimplifiedExplanation, want)
	}

	empty := normalizeSidecarPatient(&models.SidecarResponse{})
	if !strings.HasPrefix(empty.SimplifiedExplanation, "[MOCK]") {
		t.Errorf("empty sidecar payload should fall back to mock, got %q", empty.SimplifiedExplanation)
	}
}

func TestNormalizeSidecarDoctorEmptyData(t *testing.T) {
	snapshot := normalizeSidecarDoctor(&models.SidecarResponse{Response: "Raw markdown body."})

	if snapshot.PatientSummary != "Raw markdown body." {
		t.Errorf("summary should fall back to the response body, got %q", snapshot.PatientSummary)
	}
	if len(snapshot.KeyFindings) != 0 {
		t.Errorf("expected no findings, got %d", len(snapshot.KeyFindings))
	}
	if snapshot.UrgencyRanking == nil || snapshot.KeyFindings == nil || snapshot.ScanInsights == nil {
		t.Error("snapshot collections must be empty, not nil")
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`, true},
		{"fenced json", "```json\n{\"a\": 1}\n```", `{"a": 1}`, true},
		{"uppercase fence", "```JSON\n{\"a\": 1}\n```", `{"a": 1}`, true},
		{"leading prose", "Sure, here you go: {\"a\": 1} hope that helps", `{"a": 1}`, true},
		{"no object", "no braces here", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractJSONObject(tt.raw)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCombineClinicalInputs(t *testing.T) {
	combined := combineClinicalInputs("history text", "", "lab text")

	want := "Patient History:\nhistory text\n\nLab Reports:\nlab text"
	if combined != want {
		t.Errorf("got %q, want %q", combined, want)
	}

	if combineClinicalInputs("", "", "") != "" {
		t.Error("all-empty inputs should produce an empty document")
	}
}

func TestMapLegacySeverity(t *testing.T) {
	tests := map[string]string{
		"critical": models.UrgencyHigh,
		"HIGH":     models.UrgencyHigh,
		"medium":   models.UrgencyMedium,
		"low":      models.UrgencyLow,
		"bogus":    models.UrgencyLow,
		"":         models.UrgencyLow,
	}
	for in, want := range tests {
		if got := mapLegacySeverity(in); got != want {
			t.Errorf("mapLegacySeverity(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStatusMessages(t *testing.T) {
	mock := NewAIService(nil, nil, newTestPrompts(t), false)
	status := mock.Status()
	if status.ModelLoaded {
		t.Error("no model configured, should not report loaded")
	}
	if !strings.Contains(status.Message, "MOCK mode") {
		t.Errorf("expected mock message, got %q", status.Message)
	}
	if status.Status != "ok" {
		t.Errorf("expected status ok, got %q", status.Status)
	}

	srv := newModelTestServer(t, "{}")
	defer srv.Close()

	gpu := NewAIService(nil, NewModelService(srv.URL, "medgemma-4b-it", 10*time.Second, true), newTestPrompts(t), false)
	status = gpu.Status()
	if !status.ModelLoaded || !status.GPUAvailable {
		t.Errorf("expected loaded on GPU, got %+v", status)
	}
	if status.Message != "Service operational. MedGemma loaded on GPU." {
		t.Errorf("unexpected message %q", status.Message)
	}

	cpu := NewAIService(nil, NewModelService(srv.URL, "medgemma-4b-it", 10*time.Second, false), newTestPrompts(t), false)
	status = cpu.Status()
	if status.Message != "Service operational. MedGemma loaded on CPU (slower inference)." {
		t.Errorf("unexpected message %q", status.Message)
	}
}
