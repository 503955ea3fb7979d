package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/chriscow/french-tutor-agent/agents"
	"github.com/chriscow/french-tutor-agent/pkg/agent"
	"github.com/chriscow/french-tutor-agent/pkg/ai/llm"
	"github.com/chriscow/french-tutor-agent/pkg/ai/vad"
	"github.com/chriscow/french-tutor-agent/pkg/job"
	"github.com/chriscow/french-tutor-agent/pkg/metrics"
	"github.com/chriscow/french-tutor-agent/pkg/plugin"
)

// vadKey is where prewarm leaves the VAD in the process user data.
const vadKey = "vad"

var errNoVAD = errors.New("no prewarmed VAD in process user data")

// prewarm loads the VAD once for every job the process runs.
func prewarm(proc *agents.JobProcess) error {
	v, err := plugin.NewVAD(proc.Config.Providers.VAD, proc.Config.PluginOptions("vad"))
	if err != nil {
		return fmt.Errorf("load vad: %w", err)
	}
	proc.UserData.Set(vadKey, v)
	return nil
}

func entrypoint(jc *agents.JobContext) error {
	ctx := jc.Context()
	logger := jc.Logger
	cfg := jc.Proc.Config

	initial := llm.NewChatContext().Append(llm.RoleSystem, systemPrompt)

	logger.Info("Connecting to room")
	if err := jc.Connect(ctx, job.AudioOnly); err != nil {
		return err
	}

	participant, err := jc.WaitForParticipant(ctx)
	if err != nil {
		return err
	}
	logger.Info("Starting voice assistant", slog.String("participant", participant.Identity))

	v, ok := jc.Proc.UserData.Get(vadKey)
	if !ok {
		return errNoVAD
	}
	detector, ok := v.(vad.VAD)
	if !ok {
		return errNoVAD
	}

	p, err := newProviders(cfg, logger)
	if err != nil {
		return err
	}

	a, err := agent.New(agent.Options{
		VAD:                 detector,
		STT:                 p.STT,
		LLM:                 p.LLM,
		TTS:                 p.TTS,
		TurnDetector:        p.Turn,
		ChatContext:         initial,
		MinEndpointingDelay: cfg.Endpointing.Min,
		MaxEndpointingDelay: cfg.Endpointing.Max,
		AllowInterruptions:  true,
		Language:            cfg.Providers.STTLanguage,
		Voice:               cfg.Providers.TTSVoice,
		Logger:              logger,
	})
	if err != nil {
		return err
	}

	usage := metrics.NewUsageCollector()
	usage.Publish(jc.Job.ID)
	a.OnMetrics(func(m metrics.AgentMetrics) {
		metrics.LogMetrics(logger, m)
		usage.Collect(m)
	})

	jc.AddShutdownCallback(func(reason string) {
		a.Close()
		s := usage.Summary()
		logger.Info("Usage",
			slog.String("reason", reason),
			slog.Int("llm_prompt_tokens", s.LLMPromptTokens),
			slog.Int("llm_completion_tokens", s.LLMCompletionTokens),
			slog.Int("tts_characters_count", s.TTSCharactersCount),
			slog.Duration("stt_audio_duration", s.STTAudioDuration))
		metrics.Unpublish(jc.Job.ID)
	})

	if err := a.Start(ctx, jc.AgentRoom(), &participant); err != nil {
		return err
	}

	_, err = a.Say(ctx, greeting, true)
	return err
}
