package metrics

import (
	"context"
	"log/slog"
)

// LogMetrics writes exactly one record for m.
func LogMetrics(logger *slog.Logger, m AgentMetrics) {
	if logger == nil {
		logger = slog.Default()
	}

	var attrs []slog.Attr
	switch v := m.(type) {
	case STTMetrics:
		attrs = []slog.Attr{
			slog.String("label", v.Label),
			slog.Duration("duration", v.Duration),
			slog.Duration("audio_duration", v.AudioDuration),
			slog.Bool("streamed", v.Streamed),
		}
	case LLMMetrics:
		attrs = []slog.Attr{
			slog.String("label", v.Label),
			slog.Duration("ttft", v.TTFT),
			slog.Duration("duration", v.Duration),
			slog.Int("prompt_tokens", v.PromptTokens),
			slog.Int("completion_tokens", v.CompletionTokens),
			slog.Float64("tokens_per_second", v.TokensPerSecond),
			slog.Bool("cancelled", v.Cancelled),
		}
	case TTSMetrics:
		attrs = []slog.Attr{
			slog.String("label", v.Label),
			slog.Duration("ttfb", v.TTFB),
			slog.Duration("duration", v.Duration),
			slog.Duration("audio_duration", v.AudioDuration),
			slog.Int("characters", v.CharactersCount),
			slog.Bool("cancelled", v.Cancelled),
		}
	case VADMetrics:
		attrs = []slog.Attr{
			slog.String("label", v.Label),
			slog.Duration("idle_time", v.IdleTime),
			slog.Duration("inference_duration_total", v.InferenceDurationTotal),
			slog.Int("inference_count", v.InferenceCount),
		}
	case PipelineEOUMetrics:
		attrs = []slog.Attr{
			slog.String("sequence_id", v.SequenceID),
			slog.Duration("end_of_utterance_delay", v.EndOfUtteranceDelay),
			slog.Duration("transcription_delay", v.TranscriptionDelay),
		}
	}

	logger.LogAttrs(context.Background(), slog.LevelInfo, m.Kind()+" metrics", attrs...)
}
