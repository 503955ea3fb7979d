package agent

import (
	"fmt"
	"sync"

	"github.com/chriscow/french-tutor-agent/pkg/audio/resample"
	"github.com/chriscow/french-tutor-agent/pkg/audio/wav"
	"github.com/chriscow/french-tutor-agent/pkg/rtc"
)

// BackgroundAudio loops a WAV file under the agent's speech.
type BackgroundAudio struct {
	mu       sync.RWMutex
	enabled  bool
	volume   float32
	source   []rtc.AudioFrame         // mono, as loaded
	byRate   map[int][]rtc.AudioFrame // source resampled to each output rate
	position int
}

// BackgroundAudioConfig holds configuration for background audio.
type BackgroundAudioConfig struct {
	// AudioFile is the path to the WAV file to loop
	AudioFile string
	// Volume is the mixing volume (0.0 to 1.0)
	Volume float32
	// Enabled determines if background audio is mixed from the start
	Enabled bool
}

// NewBackgroundAudio creates a new BackgroundAudio instance.
func NewBackgroundAudio(cfg BackgroundAudioConfig) (*BackgroundAudio, error) {
	ba := &BackgroundAudio{
		enabled: cfg.Enabled,
		byRate:  make(map[int][]rtc.AudioFrame),
	}
	ba.SetVolume(cfg.Volume)

	if cfg.AudioFile != "" {
		if err := ba.LoadAudioFile(cfg.AudioFile); err != nil {
			return nil, err
		}
	}
	return ba, nil
}

// LoadAudioFile loads a WAV file for background audio playback.
func (ba *BackgroundAudio) LoadAudioFile(filename string) error {
	frames, err := wav.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("background audio: %w", err)
	}
	ba.SetFrames(frames)
	return nil
}

// SetFrames replaces the looped audio.
func (ba *BackgroundAudio) SetFrames(frames []rtc.AudioFrame) {
	mono := make([]rtc.AudioFrame, len(frames))
	for i, f := range frames {
		mono[i] = rtc.Mono(f)
	}

	ba.mu.Lock()
	defer ba.mu.Unlock()
	ba.source = mono
	ba.byRate = make(map[int][]rtc.AudioFrame)
	ba.position = 0
}

// SetEnabled controls whether background audio is active.
func (ba *BackgroundAudio) SetEnabled(enabled bool) {
	ba.mu.Lock()
	defer ba.mu.Unlock()
	ba.enabled = enabled
}

// SetVolume adjusts the background audio volume (0.0 to 1.0).
func (ba *BackgroundAudio) SetVolume(volume float32) {
	ba.mu.Lock()
	defer ba.mu.Unlock()
	if volume < 0.0 {
		volume = 0.0
	} else if volume > 1.0 {
		volume = 1.0
	}
	ba.volume = volume
}

// IsEnabled returns whether background audio is currently enabled.
func (ba *BackgroundAudio) IsEnabled() bool {
	ba.mu.RLock()
	defer ba.mu.RUnlock()
	return ba.enabled
}

// NextFrame returns the next volume-scaled background frame at sampleRate,
// looping at the end. It returns nil when disabled or empty.
func (ba *BackgroundAudio) NextFrame(sampleRate int) *rtc.AudioFrame {
	ba.mu.Lock()
	defer ba.mu.Unlock()

	if !ba.enabled || len(ba.source) == 0 {
		return nil
	}

	frames, ok := ba.byRate[sampleRate]
	if !ok {
		frames = ba.source
		if frames[0].SampleRate != sampleRate {
			frames = resample.Frames(ba.source, sampleRate)
		}
		ba.byRate[sampleRate] = frames
	}
	if len(frames) == 0 {
		return nil
	}

	frame := scaleVolume(frames[ba.position%len(frames)], ba.volume)
	ba.position = (ba.position + 1) % len(frames)
	return &frame
}

// MixFrames adds background audio to a foreground frame (like TTS).
func (ba *BackgroundAudio) MixFrames(foreground rtc.AudioFrame) rtc.AudioFrame {
	background := ba.NextFrame(foreground.SampleRate)
	if background == nil {
		return foreground
	}
	return mixAudioFrames(foreground, *background)
}

// scaleVolume returns a scaled copy of frame.
func scaleVolume(frame rtc.AudioFrame, volume float32) rtc.AudioFrame {
	if volume == 1.0 {
		return frame
	}

	samples := rtc.Int16s(frame.Data)
	for i, s := range samples {
		samples[i] = clamp16(int32(float32(s) * volume))
	}
	scaled := frame
	scaled.Data = rtc.PCMBytes(samples)
	return scaled
}

// mixAudioFrames sums a mono background into every channel of fg.
func mixAudioFrames(fg, bg rtc.AudioFrame) rtc.AudioFrame {
	out := rtc.Int16s(fg.Data)
	back := rtc.Int16s(bg.Data)
	channels := fg.NumChannels
	if channels < 1 {
		channels = 1
	}

	for i := range out {
		j := i / channels
		if j >= len(back) {
			break
		}
		out[i] = clamp16(int32(out[i]) + int32(back[j]))
	}

	mixed := fg
	mixed.Data = rtc.PCMBytes(out)
	return mixed
}

func clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
