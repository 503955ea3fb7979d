// Package fake provides a TTS provider that renders text as a quiet tone.
package fake

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/chriscow/french-tutor-agent/pkg/ai/tts"
	"github.com/chriscow/french-tutor-agent/pkg/rtc"
)

const (
	// SampleRate matches the PCM output of the hosted providers.
	SampleRate = 24000

	// FramesPerChar controls how much audio each character produces.
	FramesPerChar = 1

	toneHz = 440.0
)

// FakeTTS emits FramesPerChar 10ms frames for every character of text.
type FakeTTS struct {
	mu       sync.Mutex
	requests []tts.SynthesizeRequest

	// Realtime paces frames at playback speed.
	Realtime bool

	// Err, when set, is returned by Synthesize.
	Err error
}

// NewFakeTTS creates a new fake TTS provider.
func NewFakeTTS() *FakeTTS {
	return &FakeTTS{}
}

// Synthesize generates a sine tone for req.Text.
func (f *FakeTTS) Synthesize(ctx context.Context, req tts.SynthesizeRequest) (<-chan rtc.AudioFrame, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	failure, realtime := f.Err, f.Realtime
	f.mu.Unlock()
	if failure != nil {
		return nil, failure
	}

	output := make(chan rtc.AudioFrame, 10)
	go func() {
		defer close(output)

		frames := len([]rune(req.Text)) * FramesPerChar
		spc := SampleRate / 100
		for i := 0; i < frames; i++ {
			samples := make([]int16, spc)
			for j := range samples {
				n := float64(i*spc + j)
				samples[j] = int16(0.3 * 32767 * math.Sin(2*math.Pi*toneHz*n/SampleRate))
			}
			frame := rtc.AudioFrame{
				Data:              rtc.PCMBytes(samples),
				SampleRate:        SampleRate,
				SamplesPerChannel: spc,
				NumChannels:       1,
				Timestamp:         time.Duration(i) * rtc.FrameDuration,
			}

			select {
			case output <- frame:
			case <-ctx.Done():
				return
			}
			if realtime {
				time.Sleep(rtc.FrameDuration)
			}
		}
	}()

	return output, nil
}

// Requests returns the synthesis requests seen so far.
func (f *FakeTTS) Requests() []tts.SynthesizeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tts.SynthesizeRequest(nil), f.requests...)
}

// Capabilities returns the fake TTS capabilities.
func (f *FakeTTS) Capabilities() tts.TTSCapabilities {
	return tts.TTSCapabilities{
		Streaming:          true,
		SupportedLanguages: []string{"fr", "en"},
		SupportedVoices:    []string{"fake"},
		SampleRates:        []int{SampleRate},
	}
}

func (f *FakeTTS) Label() string { return "fake.TTS" }
