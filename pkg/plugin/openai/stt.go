package openai

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chriscow/french-tutor-agent/pkg/ai"
	"github.com/chriscow/french-tutor-agent/pkg/ai/stt"
	"github.com/chriscow/french-tutor-agent/pkg/audio/resample"
	"github.com/chriscow/french-tutor-agent/pkg/audio/wav"
	"github.com/chriscow/french-tutor-agent/pkg/rtc"
)

// uploadRate is the rate audio is resampled to before upload. Whisper
// resamples to 16 kHz internally.
const uploadRate = 16000

// minAudio is the shortest clip the transcription endpoint accepts.
const minAudio = 100 * time.Millisecond

// WhisperSTT transcribes one utterance per stream. The pipeline opens a
// stream when the VAD reports speech and closes it at speech end, so each
// stream yields exactly one final transcript.
type WhisperSTT struct {
	client   *openai.Client
	model    string
	language string
	label    string
	retry    ai.RetryConfig
}

// NewWhisperSTT creates a Whisper STT provider.
func NewWhisperSTT(cfg Config) (*WhisperSTT, error) {
	client, err := cfg.client()
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &WhisperSTT{
		client:   client,
		model:    model,
		language: cfg.Language,
		label:    cfg.label("STT"),
		retry:    ai.DefaultRetryConfig,
	}, nil
}

func (w *WhisperSTT) Label() string { return w.label }

// NewStream starts buffering an utterance.
func (w *WhisperSTT) NewStream(ctx context.Context, cfg stt.StreamConfig) (stt.STTStream, error) {
	lang := cfg.Lang
	if lang == "" {
		lang = w.language
	}
	retry := w.retry
	if cfg.MaxRetry > 0 {
		retry.MaxRetries = cfg.MaxRetry
	}
	return &whisperStream{
		stt:    w,
		ctx:    ctx,
		lang:   lang,
		retry:  retry,
		events: make(chan stt.SpeechEvent, 2),
	}, nil
}

// Capabilities reports batch recognition wrapped as a stream.
func (w *WhisperSTT) Capabilities() stt.STTCapabilities {
	return stt.STTCapabilities{
		Streaming:          false,
		InterimResults:     false,
		SupportedLanguages: []string{"en", "fr", "de", "es", "it", "pt", "nl", "ja", "zh"},
		SampleRates:        []int{16000, 24000, 48000},
	}
}

type whisperStream struct {
	stt    *WhisperSTT
	ctx    context.Context
	lang   string
	retry  ai.RetryConfig
	events chan stt.SpeechEvent

	mu     sync.Mutex
	frames []rtc.AudioFrame
	closed bool
}

func (s *whisperStream) Push(frame rtc.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrStreamClosed
	}

	frame = rtc.Mono(frame)
	if len(s.frames) > 0 && s.frames[0].SampleRate != frame.SampleRate {
		return fmt.Errorf("openai stt: sample rate changed from %d to %d", s.frames[0].SampleRate, frame.SampleRate)
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *whisperStream) Events() <-chan stt.SpeechEvent {
	return s.events
}

// CloseSend uploads the buffered audio. The final event arrives on Events,
// which is closed afterwards.
func (s *whisperStream) CloseSend() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	frames := s.frames
	s.frames = nil
	s.mu.Unlock()

	go s.transcribe(frames)
	return nil
}

func (s *whisperStream) transcribe(frames []rtc.AudioFrame) {
	defer close(s.events)

	duration := rtc.TotalDuration(frames)
	if duration < minAudio {
		s.send(stt.SpeechEvent{Type: stt.SpeechEventFinal, IsFinal: true, Language: s.lang, AudioDuration: duration})
		return
	}

	if frames[0].SampleRate != uploadRate {
		frames = resample.Frames(frames, uploadRate)
	}
	data, err := wav.EncodeBytes(frames)
	if err != nil {
		s.send(stt.SpeechEvent{Type: stt.SpeechEventError, Error: ai.NewFatalError(err, "openai stt: encode")})
		return
	}

	var resp openai.AudioResponse
	err = ai.Retry(s.ctx, s.retry, func(ctx context.Context) error {
		var err error
		resp, err = s.stt.client.CreateTranscription(ctx, openai.AudioRequest{
			Model:    s.stt.model,
			Language: s.lang,
			Format:   openai.AudioResponseFormatJSON,
			Reader:   bytes.NewReader(data),
			FilePath: "audio.wav",
		})
		return classify(err, "openai stt: transcribe")
	})
	if err != nil {
		if s.ctx.Err() == nil {
			slog.Error("Whisper transcription failed", slog.String("error", err.Error()))
		}
		s.send(stt.SpeechEvent{Type: stt.SpeechEventError, Error: err, Timestamp: time.Now().UnixMilli()})
		return
	}

	lang := resp.Language
	if lang == "" {
		lang = s.lang
	}
	s.send(stt.SpeechEvent{
		Type:          stt.SpeechEventFinal,
		Text:          strings.TrimSpace(resp.Text),
		IsFinal:       true,
		Language:      lang,
		Timestamp:     time.Now().UnixMilli(),
		AudioDuration: duration,
	})
}

func (s *whisperStream) send(ev stt.SpeechEvent) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}
