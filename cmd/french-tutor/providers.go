package main

import (
	"fmt"
	"log/slog"

	"github.com/chriscow/french-tutor-agent/internal/config"
	"github.com/chriscow/french-tutor-agent/pkg/ai/llm"
	"github.com/chriscow/french-tutor-agent/pkg/ai/stt"
	"github.com/chriscow/french-tutor-agent/pkg/ai/tts"
	"github.com/chriscow/french-tutor-agent/pkg/plugin"
	"github.com/chriscow/french-tutor-agent/pkg/turn"
)

// providers holds the implementation chosen for each slot.
type providers struct {
	STT  stt.STT
	LLM  llm.LLM
	TTS  tts.TTS
	Turn turn.Detector
}

func newProviders(cfg *config.Config, logger *slog.Logger) (*providers, error) {
	p := cfg.Providers

	s, err := plugin.NewSTT(p.STT, cfg.PluginOptions("stt"))
	if err != nil {
		return nil, fmt.Errorf("stt: %w", err)
	}
	l, err := plugin.NewLLM(p.LLM, cfg.PluginOptions("llm"))
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	t, err := plugin.NewTTS(p.TTS, cfg.PluginOptions("tts"))
	if err != nil {
		return nil, fmt.Errorf("tts: %w", err)
	}
	if p.TTSFallback != "" {
		fb, err := plugin.NewTTS(p.TTSFallback, cfg.TTSFallbackOptions())
		if err != nil {
			return nil, fmt.Errorf("tts fallback: %w", err)
		}
		if t, err = tts.NewFallbackAdapter(logger, t, fb); err != nil {
			return nil, err
		}
	}

	det, err := turn.NewDetector(turn.DetectorConfig{
		Model:     cfg.TurnModel,
		ModelPath: cfg.TurnModelPath,
		RemoteURL: cfg.TurnDetectorURL,
	})
	if err != nil {
		return nil, fmt.Errorf("turn detector: %w", err)
	}

	logger.Info("Providers selected",
		slog.String("stt", p.STT),
		slog.String("llm", p.LLM),
		slog.String("tts", p.TTS),
		slog.String("tts_fallback", p.TTSFallback),
		slog.String("turn_model", cfg.TurnModel))
	return &providers{STT: s, LLM: l, TTS: t, Turn: det}, nil
}
