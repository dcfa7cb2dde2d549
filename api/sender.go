package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"schedview-agent/models"
)

// Sender pushes poll reports to a remote ingest API
type Sender struct {
	apiURL  string
	apiKey  string
	version string
	client  *http.Client
	log     *zap.Logger
}

func NewSender(apiURL, apiKey, version string, log *zap.Logger) *Sender {
	return &Sender{
		apiURL:  apiURL,
		apiKey:  apiKey,
		version: version,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

// APIResponse is the envelope used by the ingest API and by our own error replies
type APIResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Agent    string `json:"agent,omitempty"`
	Interval int    `json:"interval,omitempty"` // seconds, set by the ingest API to retune the push loop
	Error    string `json:"error,omitempty"`
	Code     string `json:"code,omitempty"`
}

// SendReport posts the report and returns the push interval requested by
// the server, or 0 when it did not ask for one.
func (s *Sender) SendReport(ctx context.Context, report *models.PollReport) (time.Duration, error) {
	payload := report.ToPayload()

	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewBuffer(data))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", s.apiKey)
	req.Header.Set("User-Agent", "schedview-agent/"+s.version)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		var apiResp APIResponse
		if err := json.Unmarshal(body, &apiResp); err == nil && apiResp.Error != "" {
			return 0, fmt.Errorf("API error (%d): %s [%s]", resp.StatusCode, apiResp.Error, apiResp.Code)
		}
		return 0, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	var apiResp APIResponse
	if err := json.Unmarshal(body, &apiResp); err == nil && apiResp.Success {
		s.log.Debug("report sent", zap.String("agent", apiResp.Agent), zap.Int("processes", len(report.Processes)))
		if apiResp.Interval > 0 {
			return time.Duration(apiResp.Interval) * time.Second, nil
		}
	}

	return 0, nil
}
