// Package elevenlabs streams speech from the ElevenLabs text-to-speech API as
// raw 24 kHz PCM.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chriscow/french-tutor-agent/pkg/ai"
	"github.com/chriscow/french-tutor-agent/pkg/ai/tts"
	"github.com/chriscow/french-tutor-agent/pkg/plugin"
	"github.com/chriscow/french-tutor-agent/pkg/rtc"
)

const (
	DefaultBaseURL = "https://api.elevenlabs.io"
	DefaultModel   = "eleven_multilingual_v2"
	DefaultVoice   = "pNInz6obpgDQGcFmaJgB" // Adam

	// SampleRate matches the pcm_24000 output format.
	SampleRate   = 24000
	outputFormat = "pcm_24000"
)

// Options configures the provider.
type Options struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
	Timeout time.Duration
}

// TTS implements tts.TTS against the streaming endpoint.
type TTS struct {
	opts   Options
	client *http.Client
	retry  ai.RetryConfig
}

// New validates the key and fills defaults.
func New(opts Options) (*TTS, error) {
	opts.APIKey = strings.TrimSpace(opts.APIKey)
	if opts.APIKey == "" {
		return nil, ai.NewFatalError(nil, "elevenlabs: API key is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Voice == "" {
		opts.Voice = DefaultVoice
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &TTS{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		retry:  ai.DefaultRetryConfig,
	}, nil
}

func (e *TTS) Label() string { return "elevenlabs.TTS" }

type synthesisRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

func (e *TTS) endpoint(voice string) (string, error) {
	u, err := url.Parse(strings.TrimRight(e.opts.BaseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid elevenlabs base url: %w", err)
	}
	u.Path += "/v1/text-to-speech/" + url.PathEscape(voice) + "/stream"
	q := u.Query()
	q.Set("output_format", outputFormat)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Synthesize retries until the response headers arrive, then streams 10 ms
// frames as the body is read.
func (e *TTS) Synthesize(ctx context.Context, req tts.SynthesizeRequest) (<-chan rtc.AudioFrame, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ai.NewFatalError(nil, "elevenlabs: empty text")
	}
	voice := req.Voice
	if voice == "" {
		voice = e.opts.Voice
	}
	endpoint, err := e.endpoint(voice)
	if err != nil {
		return nil, ai.NewFatalError(err, "elevenlabs")
	}
	payload, err := json.Marshal(synthesisRequest{Text: text, ModelID: e.opts.Model})
	if err != nil {
		return nil, ai.NewFatalError(err, "elevenlabs: encode request")
	}

	var body io.ReadCloser
	err = ai.Retry(ctx, e.retry, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return ai.NewFatalError(err, "elevenlabs: build request")
		}
		httpReq.Header.Set("xi-api-key", e.opts.APIKey)
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "audio/pcm")

		resp, err := e.client.Do(httpReq)
		if err != nil {
			return ai.NewRecoverableError(err, "elevenlabs: request")
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			resp.Body.Close()
			return classify(resp.StatusCode, strings.TrimSpace(string(msg)))
		}
		body = resp.Body
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make(chan rtc.AudioFrame, 10)
	go func() {
		defer close(out)
		defer body.Close()
		if err := tts.StreamPCM(ctx, body, SampleRate, out); err != nil && ctx.Err() == nil {
			slog.Error("TTS stream failed", slog.String("provider", e.Label()), slog.String("error", err.Error()))
		}
	}()
	return out, nil
}

func classify(status int, msg string) error {
	err := fmt.Errorf("http %d: %s", status, msg)
	if status == http.StatusTooManyRequests || status >= 500 {
		return ai.NewRecoverableError(err, "elevenlabs: synthesize")
	}
	return ai.NewFatalError(err, "elevenlabs: synthesize")
}

func (e *TTS) Capabilities() tts.TTSCapabilities {
	return tts.TTSCapabilities{
		Streaming:          true,
		SupportedLanguages: []string{"en", "fr", "de", "es", "it", "pt", "pl", "hi"},
		SupportedVoices:    []string{e.opts.Voice},
		SampleRates:        []int{SampleRate},
	}
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind: plugin.KindTTS,
		Name: "elevenlabs",
		Factory: func(cfg map[string]any) (any, error) {
			return New(Options{
				APIKey:  plugin.String(cfg, "api_key", os.Getenv("ELEVEN_API_KEY")),
				BaseURL: plugin.String(cfg, "base_url", ""),
				Model:   plugin.String(cfg, "model", DefaultModel),
				Voice:   plugin.String(cfg, "voice", DefaultVoice),
			})
		},
		Description: "ElevenLabs streaming text-to-speech",
		Version:     "1.0.0",
		Config: map[string]any{
			"api_key": "ElevenLabs API key (or set ELEVEN_API_KEY)",
			"model":   DefaultModel,
			"voice":   DefaultVoice,
		},
	})
}
