package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/spf13/pflag"

	"github.com/chriscow/french-tutor-agent/pkg/turn"
)

// clearEnv blanks every variable the config reads so the host environment
// does not leak into the tests.
func clearEnv(t *testing.T) {
	for _, k := range []string{
		"LIVEKIT_URL", "LIVEKIT_API_KEY", "LIVEKIT_API_SECRET",
		"OPENAI_API_KEY", "GROQ_API_KEY", "ELEVEN_API_KEY",
		"STT_PROVIDER", "LLM_PROVIDER", "TTS_PROVIDER", "VAD_PROVIDER",
		"TTS_BASE_URL", "TTS_VOICE", "MIN_ENDPOINTING_DELAY", "MAX_ENDPOINTING_DELAY",
		"PARTICIPANT_TIMEOUT", "TTS_FALLBACK", "TURN_MODEL",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestDefaults(t *testing.T) {
	is := is.New(t)
	clearEnv(t)
	c := Load(NewViper())

	is.Equal(c.Providers.STT, ProviderGroq)
	is.Equal(c.Providers.LLM, ProviderGroq)
	is.Equal(c.Providers.TTS, ProviderOpenAI)
	is.Equal(c.Providers.VAD, ProviderSilero)
	is.Equal(c.Providers.STTLanguage, "fr")
	is.Equal(c.Endpointing.Min, 500*time.Millisecond)
	is.Equal(c.Endpointing.Max, 5*time.Second)
	is.Equal(c.ParticipantTimeout, 2*time.Minute)
	is.Equal(c.TurnModel, "multilingual")
	is.Equal(c.Providers.TTSFallback, "")
	is.Equal(c.AgentName, "jack")
}

func TestEnvOverrides(t *testing.T) {
	is := is.New(t)
	clearEnv(t)
	t.Setenv("TTS_PROVIDER", "ElevenLabs")
	t.Setenv("MIN_ENDPOINTING_DELAY", "300ms")
	t.Setenv("PARTICIPANT_TIMEOUT", "0s")

	c := Load(NewViper())
	is.Equal(c.Providers.TTS, ProviderElevenLabs)
	is.Equal(c.Endpointing.Min, 300*time.Millisecond)
	is.Equal(c.ParticipantTimeout, time.Duration(0))
}

func TestFlagsOverrideEnv(t *testing.T) {
	is := is.New(t)
	clearEnv(t)
	t.Setenv("LLM_PROVIDER", "groq")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("llm-provider", "", "")
	is.NoErr(flags.Parse([]string{"--llm-provider=openai"}))

	v := NewViper()
	is.NoErr(BindFlags(v, flags))
	is.Equal(Load(v).Providers.LLM, ProviderOpenAI)
}

func TestValidateCredentials(t *testing.T) {
	is := is.New(t)
	clearEnv(t)
	c := Load(NewViper())

	err := c.Validate()
	is.True(err != nil)
	is.True(strings.Contains(err.Error(), `stt provider "groq" needs GROQ_API_KEY`))
	is.True(strings.Contains(err.Error(), `tts provider "openai" needs OPENAI_API_KEY`))

	c.GroqAPIKey, c.OpenAIAPIKey = "gsk", "sk"
	is.NoErr(c.Validate())
}

func TestValidateLocalTTSNeedsNoKey(t *testing.T) {
	is := is.New(t)
	c := &Config{
		Providers:   Providers{STT: "fake", LLM: "fake", TTS: ProviderOpenAI, VAD: "fake", TTSBaseURL: "http://localhost:8000/v1"},
		Endpointing: turn.DefaultEndpointing,
	}
	is.NoErr(c.Validate())
	is.Equal(c.PluginOptions("tts")["base_url"], "http://localhost:8000/v1")
	is.Equal(c.PluginOptions("tts")["api_key"], "local")
}

func TestValidateEndpointing(t *testing.T) {
	is := is.New(t)
	c := &Config{Providers: Providers{STT: "fake", LLM: "fake", TTS: "fake", VAD: "fake"}}
	c.Endpointing.Min, c.Endpointing.Max = time.Second, 500*time.Millisecond
	err := c.Validate()
	is.True(err != nil && strings.Contains(err.Error(), "below min"))

	c.Endpointing.Min = 0
	is.True(c.Validate() != nil)
}

func TestPluginOptions(t *testing.T) {
	is := is.New(t)
	c := &Config{
		GroqAPIKey: "gsk",
		Providers:  Providers{STT: ProviderGroq, STTModel: "whisper-large-v3", STTLanguage: "fr", LLM: ProviderGroq},
	}
	is.Equal(c.PluginOptions("stt"), map[string]any{"model": "whisper-large-v3", "language": "fr", "api_key": "gsk"})
	is.Equal(c.PluginOptions("llm"), map[string]any{"api_key": "gsk"})
}

func TestLoadEnvFiles(t *testing.T) {
	is := is.New(t)
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, ".env.local")
	is.NoErr(os.WriteFile(path, []byte("GROQ_API_KEY=from-file\nOPENAI_API_KEY=file-openai\n"), 0o600))
	t.Setenv("OPENAI_API_KEY", "from-env")
	t.Cleanup(func() { os.Unsetenv("GROQ_API_KEY") })

	is.NoErr(LoadEnvFiles(filepath.Join(dir, "missing.env"), path))
	is.Equal(os.Getenv("GROQ_API_KEY"), "from-file")
	is.Equal(os.Getenv("OPENAI_API_KEY"), "from-env") // the environment wins
}

func TestValidateLiveKit(t *testing.T) {
	is := is.New(t)
	c := &Config{LiveKitURL: "wss://lk.example.com"}
	is.True(c.ValidateLiveKit() != nil)
	c.LiveKitAPIKey, c.LiveKitAPISecret = "key", "secret"
	is.NoErr(c.ValidateLiveKit())
}

func TestTTSFallback(t *testing.T) {
	is := is.New(t)
	clearEnv(t)
	t.Setenv("TTS_PROVIDER", "edge")
	t.Setenv("TTS_FALLBACK", "ElevenLabs")
	t.Setenv("STT_PROVIDER", "fake")
	t.Setenv("LLM_PROVIDER", "fake")
	c := Load(NewViper())

	is.Equal(c.Providers.TTSFallback, ProviderElevenLabs)
	err := c.Validate()
	is.True(err != nil) // the fallback needs its key too
	is.True(strings.Contains(err.Error(), "ELEVEN_API_KEY"))

	c.ElevenAPIKey = "xi"
	is.NoErr(c.Validate())
	is.Equal(c.TTSFallbackOptions()["api_key"], "xi")
}
