package groq

import (
	"testing"

	"github.com/matryer/is"

	"github.com/chriscow/french-tutor-agent/pkg/ai"
	"github.com/chriscow/french-tutor-agent/pkg/plugin"
)

func TestConfigDefaults(t *testing.T) {
	is := is.New(t)
	t.Setenv("GROQ_API_KEY", "gsk_test")
	t.Setenv("OPENAI_API_KEY", "sk-other")

	c := Config(nil, DefaultLLMModel, "LLM")
	is.Equal(c.APIKey, "gsk_test")
	is.Equal(c.BaseURL, BaseURL)
	is.Equal(c.Model, "gemma2-9b-it")
	is.Equal(c.Label, "groq.LLM")

	c = Config(map[string]any{"model": "llama-3.1-8b-instant", "base_url": "http://localhost:9000/v1"}, DefaultLLMModel, "LLM")
	is.Equal(c.Model, "llama-3.1-8b-instant")
	is.Equal(c.BaseURL, "http://localhost:9000/v1")
}

func TestRegistered(t *testing.T) {
	is := is.New(t)
	t.Setenv("GROQ_API_KEY", "gsk_test")

	s, err := plugin.NewSTT("groq", nil)
	is.NoErr(err)
	is.Equal(s.(interface{ Label() string }).Label(), "groq.STT")

	_, err = plugin.NewLLM("groq", nil)
	is.NoErr(err)

	t.Setenv("GROQ_API_KEY", "")
	_, err = plugin.NewLLM("groq", nil)
	is.True(ai.IsFatal(err))
}
