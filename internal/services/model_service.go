package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
)

const modelProbeCacheKey = "model_loaded"

// ModelService is the client for the local OpenAI-compatible inference
// server that hosts the MedGemma weights. The second delegation target:
// used when the sidecar is disabled or unreachable.
type ModelService struct {
	baseURL      string
	modelID      string
	httpClient   *http.Client
	probeClient  *http.Client
	probeCache   *cache.Cache
	gpuAvailable bool
}

// NewModelService creates a client for the local model server. baseURL is
// the OpenAI-compatible root, e.g. http://127.0.0.1:11434/v1.
func NewModelService(baseURL, modelID string, timeout time.Duration, gpuAvailable bool) *ModelService {
	return &ModelService{
		baseURL: baseURL,
		modelID: modelID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		probeClient: &http.Client{
			Timeout: 3 * time.Second,
		},
		probeCache:   cache.New(30*time.Second, 1*time.Minute),
		gpuAvailable: gpuAvailable,
	}
}

// Loaded reports whether the local model server is reachable and serving
// the configured model. Probes are cached briefly so the health endpoint
// and every analysis do not hammer the server.
func (s *ModelService) Loaded() bool {
	if cached, found := s.probeCache.Get(modelProbeCacheKey); found {
		if loaded, ok := cached.(bool); ok {
			return loaded
		}
	}

	loaded := s.probe()
	s.probeCache.Set(modelProbeCacheKey, loaded, cache.DefaultExpiration)
	return loaded
}

// GPUAvailable reports whether the model server runs on a GPU. The server
// does not expose this itself, so it comes from deploy-time configuration.
func (s *ModelService) GPUAvailable() bool {
	return s.gpuAvailable
}

// probe checks the /models listing of the local server
func (s *ModelService) probe() bool {
	req, err := http.NewRequest("GET", s.baseURL+"/models", nil)
	if err != nil {
		return false
	}

	resp, err := s.probeClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		log.Printf("⚠️  Model server probe returned status %d", resp.StatusCode)
		return false
	}

	return true
}

// ChatCompletion runs a single non-streaming completion against the local
// model. imageDataURL, when non-empty, is attached as a multimodal image
// part alongside the user message.
func (s *ModelService) ChatCompletion(ctx context.Context, systemPrompt, userMessage, imageDataURL string) (string, error) {
	var userContent interface{} = userMessage
	if imageDataURL != "" {
		userContent = []map[string]interface{}{
			{"type": "text", "text": userMessage},
			{"type": "image_url", "image_url": map[string]interface{}{"url": imageDataURL}},
		}
	}

	reqBody := map[string]interface{}{
		"model": s.modelID,
		"messages": []map[string]interface{}{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userContent},
		},
		"stream":      false,
		"temperature": 0,
	}

	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/chat/completions", bytes.NewBuffer(reqJSON))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return result.Choices[0].Message.Content, nil
}
