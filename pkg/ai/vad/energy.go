package vad

import (
	"context"
	"time"

	"github.com/chriscow/french-tutor-agent/pkg/rtc"
)

// EnergyOptions configures EnergyVAD.
type EnergyOptions struct {
	// Threshold is the RMS level in [0, 1] above which a frame counts as speech.
	Threshold float64

	// MinSpeech is how long the level must stay above Threshold before speech starts.
	MinSpeech time.Duration

	// MinSilence is how long the level must stay below Threshold before speech ends.
	MinSilence time.Duration
}

// DefaultEnergyOptions mirrors the Silero defaults used by the agent.
var DefaultEnergyOptions = EnergyOptions{
	Threshold:  0.02,
	MinSpeech:  50 * time.Millisecond,
	MinSilence: 550 * time.Millisecond,
}

// EnergyVAD is a level-based detector. It is used when the Silero model is
// unavailable and in tests, where loud and silent frames are easy to produce.
type EnergyVAD struct {
	opts EnergyOptions
}

// NewEnergyVAD returns a detector; zero option fields take their defaults.
func NewEnergyVAD(opts EnergyOptions) *EnergyVAD {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultEnergyOptions.Threshold
	}
	if opts.MinSpeech <= 0 {
		opts.MinSpeech = DefaultEnergyOptions.MinSpeech
	}
	if opts.MinSilence <= 0 {
		opts.MinSilence = DefaultEnergyOptions.MinSilence
	}
	return &EnergyVAD{opts: opts}
}

// Detect emits speech start and end events for the frames read from frames.
func (v *EnergyVAD) Detect(ctx context.Context, frames <-chan rtc.AudioFrame) (<-chan VADEvent, error) {
	out := make(chan VADEvent, 10)

	go func() {
		defer close(out)

		var (
			speaking          bool
			loud, quiet       time.Duration
			speech            time.Duration
			inferences        int
			inferenceDuration time.Duration
		)
		emit := func(t VADEventType) bool {
			ev := VADEvent{
				Type:              t,
				Timestamp:         time.Now(),
				InferenceCount:    inferences,
				InferenceDuration: inferenceDuration,
			}
			if t == VADEventSpeechEnd {
				ev.SpeechDuration = speech
			}
			inferences, inferenceDuration = 0, 0
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			var frame rtc.AudioFrame
			var ok bool
			select {
			case frame, ok = <-frames:
			case <-ctx.Done():
				return
			}
			if !ok {
				if speaking {
					emit(VADEventSpeechEnd)
				}
				return
			}

			start := time.Now()
			active := frame.RMS() >= v.opts.Threshold
			inferences++
			inferenceDuration += time.Since(start)
			d := frame.Duration()

			if active {
				loud += d
				quiet = 0
			} else {
				quiet += d
				loud = 0
			}

			switch {
			case !speaking && loud >= v.opts.MinSpeech:
				speaking = true
				speech = loud
				if !emit(VADEventSpeechStart) {
					return
				}
			case speaking && quiet >= v.opts.MinSilence:
				speaking = false
				if !emit(VADEventSpeechEnd) {
					return
				}
				speech = 0
			case speaking && active:
				speech += d
			}
		}
	}()

	return out, nil
}

// Capabilities returns the detector's capabilities.
func (v *EnergyVAD) Capabilities() VADCapabilities {
	return VADCapabilities{
		SampleRates:        []int{8000, 16000, 24000, 48000},
		MinSpeechDuration:  v.opts.MinSpeech,
		MinSilenceDuration: v.opts.MinSilence,
		Sensitivity:        0.5,
	}
}

func (v *EnergyVAD) Label() string { return "vad.Energy" }
