package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"medassist/internal/models"
)

// SidecarService handles communication with the legacy AI backend sidecar.
// The sidecar is the first delegation target: when it answers, its payload
// is normalized and returned without touching the local model.
type SidecarService struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewSidecarService creates a sidecar client. baseURL is the root of the
// legacy AI backend (no trailing slash).
func NewSidecarService(baseURL string, timeout time.Duration) *SidecarService {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	svc := &SidecarService{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}

	svc.logger.WithField("baseURL", baseURL).Info("Sidecar service initialized")
	return svc
}

// Analyze sends combined clinical text to the sidecar's /analyze endpoint.
// Any failure (network, status, decode) is returned to the caller, which
// treats it as a signal to fall through to the next delegation target.
func (s *SidecarService) Analyze(ctx context.Context, text, mode string) (*models.SidecarResponse, error) {
	url := fmt.Sprintf("%s/analyze", s.baseURL)

	reqBody := models.SidecarRequest{
		Text: text,
		Mode: mode,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"text_length": len(text),
		"mode":        mode,
	}).Info("Delegating analysis to sidecar")

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sidecar analysis failed: status=%d, body=%s", resp.StatusCode, string(body))
	}

	var result models.SidecarResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"mode":     mode,
		"has_data": result.Data != nil,
	}).Info("Sidecar analysis completed")

	return &result, nil
}

// HealthCheck checks if the sidecar is reachable
func (s *SidecarService) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/health", s.baseURL)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("health check failed: status=%d, body=%s", resp.StatusCode, string(body))
	}

	return nil
}
