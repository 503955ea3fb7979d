// Package config loads the agent configuration from .env.local, the
// environment and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/chriscow/french-tutor-agent/internal/logging"
	"github.com/chriscow/french-tutor-agent/pkg/job"
	"github.com/chriscow/french-tutor-agent/pkg/turn"
)

// DefaultEnvFile is loaded by LoadEnvFiles when no files are named.
const DefaultEnvFile = ".env.local"

// Provider names selectable per slot.
const (
	ProviderOpenAI     = "openai"
	ProviderGroq       = "groq"
	ProviderEdge       = "edge"
	ProviderElevenLabs = "elevenlabs"
	ProviderSilero     = "silero"
	ProviderFake       = "fake"
)

// Providers selects one implementation per capability slot and carries the
// per-slot options handed to the plugin factories.
type Providers struct {
	STT string
	LLM string
	TTS string
	VAD string

	STTModel    string
	STTLanguage string
	LLMModel    string
	TTSModel    string
	TTSVoice    string
	// TTSBaseURL points the openai TTS at a local compatible server.
	TTSBaseURL string
	// TTSFallback, when set, is tried when the TTS provider fails.
	TTSFallback string
}

// Config is everything the binary reads at startup.
type Config struct {
	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string

	AgentName     string
	DispatcherURL string
	HealthAddr    string

	OpenAIAPIKey string
	GroqAPIKey   string
	ElevenAPIKey string

	Providers Providers

	Endpointing        turn.Endpointing
	ParticipantTimeout time.Duration

	// TurnModel is "english" or "multilingual". TurnDetectorURL selects the
	// remote detector, TurnModelPath the local model directory.
	TurnModel       string
	TurnDetectorURL string
	TurnModelPath   string

	Log logging.Options
}

// LoadEnvFiles loads dotenv files into the environment without overriding
// variables that are already set. Missing files are skipped.
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{DefaultEnvFile}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

// ReloadEnvFiles is LoadEnvFiles for dev mode: values from the files replace
// the current environment.
func ReloadEnvFiles(files ...string) error {
	for _, f := range files {
		if err := godotenv.Overload(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config: reload %s: %w", f, err)
		}
	}
	return nil
}

// NewViper returns a viper instance with the defaults set and environment
// lookup enabled. Keys are the lower-case environment variable names.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("agent_name", "jack")
	v.SetDefault("health_addr", ":8081")

	v.SetDefault("stt_provider", ProviderGroq)
	v.SetDefault("llm_provider", ProviderGroq)
	v.SetDefault("tts_provider", ProviderOpenAI)
	v.SetDefault("vad_provider", ProviderSilero)
	v.SetDefault("stt_language", "fr")
	v.SetDefault("tts_voice", "")

	v.SetDefault("min_endpointing_delay", turn.DefaultEndpointing.Min)
	v.SetDefault("max_endpointing_delay", turn.DefaultEndpointing.Max)
	v.SetDefault("participant_timeout", job.DefaultParticipantTimeout)
	v.SetDefault("turn_model", "multilingual")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	return v
}

// BindFlags lets flags override the environment. Flag names use dashes,
// e.g. --tts-provider binds tts_provider.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		err = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
	return err
}

// Load reads the configuration from v.
func Load(v *viper.Viper) *Config {
	return &Config{
		LiveKitURL:       v.GetString("livekit_url"),
		LiveKitAPIKey:    v.GetString("livekit_api_key"),
		LiveKitAPISecret: v.GetString("livekit_api_secret"),

		AgentName:     v.GetString("agent_name"),
		DispatcherURL: v.GetString("dispatcher_url"),
		HealthAddr:    v.GetString("health_addr"),

		OpenAIAPIKey: v.GetString("openai_api_key"),
		GroqAPIKey:   v.GetString("groq_api_key"),
		ElevenAPIKey: v.GetString("eleven_api_key"),

		Providers: Providers{
			STT:         strings.ToLower(v.GetString("stt_provider")),
			LLM:         strings.ToLower(v.GetString("llm_provider")),
			TTS:         strings.ToLower(v.GetString("tts_provider")),
			VAD:         strings.ToLower(v.GetString("vad_provider")),
			STTModel:    v.GetString("stt_model"),
			STTLanguage: v.GetString("stt_language"),
			LLMModel:    v.GetString("llm_model"),
			TTSModel:    v.GetString("tts_model"),
			TTSVoice:    v.GetString("tts_voice"),
			TTSBaseURL:  v.GetString("tts_base_url"),
			TTSFallback: strings.ToLower(v.GetString("tts_fallback")),
		},

		Endpointing: turn.Endpointing{
			Min: v.GetDuration("min_endpointing_delay"),
			Max: v.GetDuration("max_endpointing_delay"),
		},
		ParticipantTimeout: v.GetDuration("participant_timeout"),

		TurnModel:       v.GetString("turn_model"),
		TurnDetectorURL: v.GetString("turn_detector_url"),
		TurnModelPath:   v.GetString("turn_model_path"),

		Log: logging.Options{
			Level:  v.GetString("log_level"),
			Format: v.GetString("log_format"),
			File:   v.GetString("log_file"),
		},
	}
}

// Validate checks endpointing bounds and that every selected provider has
// its credentials.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Endpointing.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.ParticipantTimeout < 0 {
		errs = append(errs, fmt.Errorf("participant timeout must not be negative, got %s", c.ParticipantTimeout))
	}

	p := c.Providers
	slots := []struct{ slot, name string }{
		{"stt", p.STT}, {"llm", p.LLM}, {"tts", p.TTS}, {"vad", p.VAD},
	}
	for _, s := range slots {
		if s.name == "" {
			errs = append(errs, fmt.Errorf("no %s provider selected", s.slot))
			continue
		}
		if err := c.checkKey(s.slot, s.name); err != nil {
			errs = append(errs, err)
		}
	}
	if p.TTSFallback != "" {
		if err := c.checkKey("tts fallback", p.TTSFallback); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Config) checkKey(slot, name string) error {
	missing := func(env string) error {
		return fmt.Errorf("%s provider %q needs %s", slot, name, env)
	}
	switch name {
	case ProviderOpenAI:
		// A local TTS server does not check the key.
		if slot == "tts" && c.Providers.TTSBaseURL != "" {
			return nil
		}
		if c.OpenAIAPIKey == "" {
			return missing("OPENAI_API_KEY")
		}
	case ProviderGroq:
		if c.GroqAPIKey == "" {
			return missing("GROQ_API_KEY")
		}
	case ProviderElevenLabs:
		if c.ElevenAPIKey == "" {
			return missing("ELEVEN_API_KEY")
		}
	}
	return nil
}

// ValidateLiveKit checks the credentials needed to join rooms directly.
func (c *Config) ValidateLiveKit() error {
	var errs []error
	if c.LiveKitURL == "" {
		errs = append(errs, errors.New("LIVEKIT_URL is required"))
	}
	if c.LiveKitAPIKey == "" || c.LiveKitAPISecret == "" {
		errs = append(errs, errors.New("LIVEKIT_API_KEY and LIVEKIT_API_SECRET are required"))
	}
	return errors.Join(errs...)
}

// PluginOptions returns the factory options for slot.
func (c *Config) PluginOptions(slot string) map[string]any {
	p := c.Providers
	opts := map[string]any{}
	set := func(k, v string) {
		if v != "" {
			opts[k] = v
		}
	}
	switch slot {
	case "stt":
		set("model", p.STTModel)
		set("language", p.STTLanguage)
		set("api_key", c.keyFor(p.STT))
	case "llm":
		set("model", p.LLMModel)
		set("api_key", c.keyFor(p.LLM))
	case "tts":
		set("model", p.TTSModel)
		set("voice", p.TTSVoice)
		set("api_key", c.keyFor(p.TTS))
		if p.TTS == ProviderOpenAI {
			set("base_url", p.TTSBaseURL)
			if p.TTSBaseURL != "" {
				if _, ok := opts["api_key"]; !ok {
					opts["api_key"] = "local"
				}
			}
		}
	}
	return opts
}

// TTSFallbackOptions returns the factory options for the fallback TTS,
// which runs with that provider's defaults.
func (c *Config) TTSFallbackOptions() map[string]any {
	opts := map[string]any{}
	if key := c.keyFor(c.Providers.TTSFallback); key != "" {
		opts["api_key"] = key
	}
	return opts
}

func (c *Config) keyFor(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return c.OpenAIAPIKey
	case ProviderGroq:
		return c.GroqAPIKey
	case ProviderElevenLabs:
		return c.ElevenAPIKey
	}
	return ""
}
