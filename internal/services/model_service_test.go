package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoadedProbesAndCaches(t *testing.T) {
	var probes int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("unexpected probe path %s", r.URL.Path)
		}
		atomic.AddInt32(&probes, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := NewModelService(server.URL, "google/medgemma-4b-it", 5*time.Second, false)

	if !svc.Loaded() {
		t.Fatal("expected Loaded to be true when /models answers 200")
	}
	// Second call is served from the probe cache.
	if !svc.Loaded() {
		t.Fatal("cached Loaded should still be true")
	}
	if got := atomic.LoadInt32(&probes); got != 1 {
		t.Errorf("expected a single probe request, got %d", got)
	}
}

func TestLoadedFalseWhenServerDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	svc := NewModelService(server.URL, "google/medgemma-4b-it", 5*time.Second, false)
	if svc.Loaded() {
		t.Error("expected Loaded to be false when the probe fails")
	}

	unreachable := NewModelService("http://127.0.0.1:1", "google/medgemma-4b-it", 1*time.Second, false)
	if unreachable.Loaded() {
		t.Error("expected Loaded to be false when the server is unreachable")
	}
}

func TestChatCompletionRequestShape(t *testing.T) {
	var body map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "All clear."}},
			},
		})
	}))
	defer server.Close()

	svc := NewModelService(server.URL, "google/medgemma-4b-it", 5*time.Second, false)

	content, err := svc.ChatCompletion(context.Background(), "You are a clinician.", "Summarize this.", "")
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if content != "All clear." {
		t.Errorf("unexpected content %q", content)
	}

	if body["model"] != "google/medgemma-4b-it" {
		t.Errorf("unexpected model %v", body["model"])
	}
	if body["stream"] != false {
		t.Errorf("stream must be false, got %v", body["stream"])
	}
	if temp, ok := body["temperature"].(float64); !ok || temp != 0 {
		t.Errorf("temperature must be 0, got %v", body["temperature"])
	}
	messages, ok := body["messages"].([]interface{})
	if !ok || len(messages) != 2 {
		t.Fatalf("expected system+user messages, got %v", body["messages"])
	}
	system := messages[0].(map[string]interface{})
	if system["role"] != "system" || system["content"] != "You are a clinician." {
		t.Errorf("unexpected system message %v", system)
	}
	user := messages[1].(map[string]interface{})
	if user["content"] != "Summarize this." {
		t.Errorf("plain text request should keep a string content, got %v", user["content"])
	}
}

func TestChatCompletionAttachesImagePart(t *testing.T) {
	var body map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "Scan reviewed."}},
			},
		})
	}))
	defer server.Close()

	svc := NewModelService(server.URL, "google/medgemma-4b-it", 5*time.Second, true)

	dataURL := "data:image/png;base64,aGVsbG8="
	if _, err := svc.ChatCompletion(context.Background(), "sys", "Look at this scan.", dataURL); err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}

	messages := body["messages"].([]interface{})
	parts, ok := messages[1].(map[string]interface{})["content"].([]interface{})
	if !ok || len(parts) != 2 {
		t.Fatalf("expected multimodal content parts, got %v", messages[1])
	}
	text := parts[0].(map[string]interface{})
	if text["type"] != "text" || text["text"] != "Look at this scan." {
		t.Errorf("unexpected text part %v", text)
	}
	image := parts[1].(map[string]interface{})
	if image["type"] != "image_url" {
		t.Errorf("unexpected image part type %v", image["type"])
	}
	if url := image["image_url"].(map[string]interface{})["url"]; url != dataURL {
		t.Errorf("unexpected image url %v", url)
	}
}

func TestChatCompletionErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chat/completions":
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("model crashed"))
		}
	}))
	defer server.Close()

	svc := NewModelService(server.URL, "google/medgemma-4b-it", 5*time.Second, false)
	if _, err := svc.ChatCompletion(context.Background(), "sys", "hi", ""); err == nil {
		t.Error("expected an error on non-200 response")
	}

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	}))
	defer empty.Close()

	svc = NewModelService(empty.URL, "google/medgemma-4b-it", 5*time.Second, false)
	if _, err := svc.ChatCompletion(context.Background(), "sys", "hi", ""); err == nil {
		t.Error("expected an error when the reply has no choices")
	}
}
