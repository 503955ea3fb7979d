// Package fake provides a scripted STT provider: each stream yields the next
// transcript when it is closed for sending.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/chriscow/french-tutor-agent/pkg/ai/stt"
	"github.com/chriscow/french-tutor-agent/pkg/rtc"
)

const (
	// InterimResultFrameInterval controls how often interim results are sent.
	InterimResultFrameInterval = 10

	// DefaultTranscript is used when no transcript is provided.
	DefaultTranscript = "Bonjour Jack, comment ça va ?"
)

// FakeSTT hands out transcripts to streams in order, repeating the last one.
type FakeSTT struct {
	mu          sync.Mutex
	transcripts []string
	streams     int
	lang        string
}

// NewFakeSTT creates a fake with the given transcripts.
func NewFakeSTT(transcripts ...string) *FakeSTT {
	if len(transcripts) == 0 {
		transcripts = []string{DefaultTranscript}
	}
	return &FakeSTT{transcripts: transcripts, lang: "fr"}
}

// WithLanguage sets the language reported on events.
func (f *FakeSTT) WithLanguage(lang string) *FakeSTT {
	f.mu.Lock()
	f.lang = lang
	f.mu.Unlock()
	return f
}

// NewStream creates a new fake STT stream.
func (f *FakeSTT) NewStream(ctx context.Context, cfg stt.StreamConfig) (stt.STTStream, error) {
	f.mu.Lock()
	idx := min(f.streams, len(f.transcripts)-1)
	f.streams++
	lang := f.lang
	f.mu.Unlock()

	if cfg.Lang != "" {
		lang = cfg.Lang
	}
	return &FakeSTTStream{
		ctx:        ctx,
		transcript: f.transcripts[idx],
		lang:       lang,
		events:     make(chan stt.SpeechEvent, 16),
	}, nil
}

// Streams returns how many streams were opened.
func (f *FakeSTT) Streams() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams
}

// Capabilities returns the fake STT capabilities.
func (f *FakeSTT) Capabilities() stt.STTCapabilities {
	return stt.STTCapabilities{
		Streaming:          true,
		InterimResults:     true,
		SupportedLanguages: []string{"fr", "en"},
		SampleRates:        []int{16000, 48000},
	}
}

func (f *FakeSTT) Label() string { return "fake.STT" }

// FakeSTTStream accumulates audio until CloseSend.
type FakeSTTStream struct {
	ctx        context.Context
	transcript string
	lang       string
	events     chan stt.SpeechEvent

	mu       sync.Mutex
	frames   int
	duration time.Duration
	closed   bool
}

// Push counts the frame and sometimes emits an interim result.
func (s *FakeSTTStream) Push(frame rtc.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrStreamClosed
	}
	s.frames++
	s.duration += frame.Duration()

	if s.frames%InterimResultFrameInterval == 0 {
		n := min(len(s.transcript), s.frames/2)
		select {
		case s.events <- stt.SpeechEvent{
			Type:      stt.SpeechEventInterim,
			Text:      s.transcript[:n],
			Language:  s.lang,
			Timestamp: time.Now().UnixMilli(),
		}:
		default:
			// interim results are best effort
		}
	}
	return nil
}

// Events returns the events channel.
func (s *FakeSTTStream) Events() <-chan stt.SpeechEvent {
	return s.events
}

// CloseSend emits the final transcript and closes the events channel.
func (s *FakeSTTStream) CloseSend() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	final := stt.SpeechEvent{
		Type:          stt.SpeechEventFinal,
		Text:          s.transcript,
		IsFinal:       true,
		Language:      s.lang,
		Timestamp:     time.Now().UnixMilli(),
		AudioDuration: s.duration,
	}
	s.mu.Unlock()

	defer close(s.events)
	select {
	case s.events <- final:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}
