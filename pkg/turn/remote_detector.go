package turn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/chriscow/french-tutor-agent/pkg/ai/llm"
)

// RemoteTimeout bounds each remote prediction.
const RemoteTimeout = 2 * time.Second

// DefaultUnlikelyThreshold is used by a RemoteDetector without a fallback.
const DefaultUnlikelyThreshold = 0.15

// RemoteDetector asks an HTTP inference endpoint and uses a local detector
// when the endpoint fails.
type RemoteDetector struct {
	endpoint string
	client   *http.Client
	fallback Detector
	logger   *slog.Logger
}

// NewRemoteDetector creates a remote detector; fallback may be nil.
func NewRemoteDetector(endpoint string, fallback Detector) *RemoteDetector {
	return &RemoteDetector{
		endpoint: endpoint,
		client:   &http.Client{Timeout: RemoteTimeout},
		fallback: fallback,
		logger:   slog.Default().With("component", "turn.remote"),
	}
}

// RemoteRequest is the body posted to the endpoint.
type RemoteRequest struct {
	Messages []llm.Message `json:"messages"`
	Language string        `json:"language,omitempty"`
}

// RemoteResponse is the endpoint's answer.
type RemoteResponse struct {
	Probability float64 `json:"eou_probability"`
	Error       string  `json:"error,omitempty"`
}

// UnlikelyThreshold delegates to the fallback when there is one.
func (d *RemoteDetector) UnlikelyThreshold(language string) (float64, error) {
	if d.fallback != nil {
		return d.fallback.UnlikelyThreshold(language)
	}
	return DefaultUnlikelyThreshold, nil
}

// SupportsLanguage delegates to the fallback; without one every language is accepted.
func (d *RemoteDetector) SupportsLanguage(language string) bool {
	if d.fallback != nil {
		return d.fallback.SupportsLanguage(language)
	}
	return true
}

// PredictEndOfTurn posts the context to the endpoint.
func (d *RemoteDetector) PredictEndOfTurn(ctx context.Context, chatCtx ChatContext) (float64, error) {
	prob, err := d.predict(ctx, chatCtx)
	if err == nil {
		return prob, nil
	}
	if d.fallback == nil || ctx.Err() != nil {
		return 0, fmt.Errorf("turn: remote prediction: %w", err)
	}
	d.logger.Warn("remote turn detection failed, using local model", "error", err)
	return d.fallback.PredictEndOfTurn(ctx, chatCtx)
}

func (d *RemoteDetector) predict(ctx context.Context, chatCtx ChatContext) (float64, error) {
	body, err := json.Marshal(RemoteRequest{Messages: chatCtx.Messages, Language: chatCtx.Language})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out RemoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return 0, fmt.Errorf("remote error: %s", out.Error)
	}
	if out.Probability < 0 || out.Probability > 1 {
		return 0, fmt.Errorf("probability out of range: %f", out.Probability)
	}
	return out.Probability, nil
}
