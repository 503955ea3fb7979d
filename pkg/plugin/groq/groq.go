// Package groq registers Groq's OpenAI-compatible Whisper and chat models.
package groq

import (
	"os"

	"github.com/chriscow/french-tutor-agent/pkg/plugin"
	"github.com/chriscow/french-tutor-agent/pkg/plugin/openai"
)

const (
	// BaseURL is Groq's OpenAI-compatible endpoint.
	BaseURL = "https://api.groq.com/openai/v1"

	DefaultSTTModel = "whisper-large-v3"
	DefaultLLMModel = "gemma2-9b-it"
)

// Config returns the openai provider configuration for Groq.
func Config(cfg map[string]any, model, kind string) openai.Config {
	c := openai.ConfigFrom(cfg, model)
	c.APIKey = plugin.String(cfg, "api_key", os.Getenv("GROQ_API_KEY"))
	c.BaseURL = plugin.String(cfg, "base_url", BaseURL)
	c.Label = "groq." + kind
	return c
}

// NewSTT creates Groq speech recognition.
func NewSTT(cfg map[string]any) (*openai.WhisperSTT, error) {
	return openai.NewWhisperSTT(Config(cfg, DefaultSTTModel, "STT"))
}

// NewLLM creates a Groq chat model.
func NewLLM(cfg map[string]any) (*openai.LLM, error) {
	return openai.NewLLM(Config(cfg, DefaultLLMModel, "LLM"))
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindSTT,
		Name:        "groq",
		Factory:     func(cfg map[string]any) (any, error) { return NewSTT(cfg) },
		Description: "Groq Whisper speech-to-text",
		Version:     "1.0.0",
		Config: map[string]any{
			"api_key":  "Groq API key (or set GROQ_API_KEY)",
			"model":    DefaultSTTModel,
			"language": "language hint, e.g. fr",
		},
	})
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindLLM,
		Name:        "groq",
		Factory:     func(cfg map[string]any) (any, error) { return NewLLM(cfg) },
		Description: "Groq chat completion",
		Version:     "1.0.0",
		Config: map[string]any{
			"api_key": "Groq API key (or set GROQ_API_KEY)",
			"model":   DefaultLLMModel,
		},
	})
}
