// Package openai provides Whisper STT, chat completion LLM and speech TTS on
// top of any OpenAI-compatible API. BaseURL points the same code at Groq or a
// local synthesis server.
package openai

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chriscow/french-tutor-agent/pkg/ai"
	"github.com/chriscow/french-tutor-agent/pkg/plugin"
)

// Config holds connection and model settings shared by the providers.
type Config struct {
	APIKey  string
	BaseURL string // empty uses api.openai.com
	Model   string

	// Language is the Whisper language hint.
	Language string
	// Voice is the default TTS voice.
	Voice string

	// Label names the provider in metrics, e.g. "openai.STT".
	Label string
}

func (c Config) client() (*openai.Client, error) {
	if c.APIKey == "" {
		return nil, ai.NewFatalError(nil, "openai: API key is required")
	}
	cc := openai.DefaultConfig(c.APIKey)
	if c.BaseURL != "" {
		cc.BaseURL = c.BaseURL
	}
	return openai.NewClientWithConfig(cc), nil
}

func (c Config) label(kind string) string {
	if c.Label != "" {
		return c.Label
	}
	return "openai." + kind
}

// classify marks rate limits, server errors and network failures as
// recoverable and everything else as fatal.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	var netErr net.Error
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return ai.NewRecoverableError(err, fmt.Sprintf("%s: HTTP %d", op, status))
	case status == 0 && errors.As(err, &netErr):
		return ai.NewRecoverableError(err, op)
	default:
		return ai.NewFatalError(err, op)
	}
}

// ConfigFrom reads provider options, falling back to the OPENAI_API_KEY
// environment variable.
func ConfigFrom(cfg map[string]any, model string) Config {
	return Config{
		APIKey:   plugin.String(cfg, "api_key", os.Getenv("OPENAI_API_KEY")),
		BaseURL:  plugin.String(cfg, "base_url", ""),
		Model:    plugin.String(cfg, "model", model),
		Language: plugin.String(cfg, "language", ""),
		Voice:    plugin.String(cfg, "voice", ""),
		Label:    plugin.String(cfg, "label", ""),
	}
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind: plugin.KindSTT,
		Name: "openai",
		Factory: func(cfg map[string]any) (any, error) {
			return NewWhisperSTT(ConfigFrom(cfg, openai.Whisper1))
		},
		Description: "OpenAI Whisper speech-to-text",
		Version:     "1.0.0",
		Config: map[string]any{
			"api_key":  "OpenAI API key (or set OPENAI_API_KEY)",
			"base_url": "OpenAI-compatible endpoint",
			"model":    openai.Whisper1,
			"language": "language hint, e.g. fr",
		},
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind: plugin.KindLLM,
		Name: "openai",
		Factory: func(cfg map[string]any) (any, error) {
			return NewLLM(ConfigFrom(cfg, openai.GPT4oMini))
		},
		Description: "OpenAI chat completion",
		Version:     "1.0.0",
		Config: map[string]any{
			"api_key":  "OpenAI API key (or set OPENAI_API_KEY)",
			"base_url": "OpenAI-compatible endpoint",
			"model":    openai.GPT4oMini,
		},
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind: plugin.KindTTS,
		Name: "openai",
		Factory: func(cfg map[string]any) (any, error) {
			c := ConfigFrom(cfg, string(openai.TTSModel1))
			if c.Voice == "" {
				c.Voice = string(openai.VoiceEcho)
			}
			return NewTTS(c)
		},
		Description: "OpenAI text-to-speech, or a local OpenAI-compatible server via base_url",
		Version:     "1.0.0",
		Config: map[string]any{
			"api_key":  "OpenAI API key (or set OPENAI_API_KEY)",
			"base_url": "OpenAI-compatible endpoint",
			"model":    string(openai.TTSModel1),
			"voice":    string(openai.VoiceEcho),
		},
	})
}
