// Package rtc holds the audio frame type shared by the room transport, the
// voice pipeline and every provider.
package rtc

import (
	"fmt"
	"time"
)

// FrameDuration is the length of audio carried by one AudioFrame.
const FrameDuration = 10 * time.Millisecond

// AudioFrame represents exactly 10 ms of PCM audio.
// len(Data) == SamplesPerChannel * NumChannels * 2.
//
// A zero Timestamp means "live"; otherwise it is the offset of the frame
// from the start of its stream.
type AudioFrame struct {
	Data              []byte // 16-bit PCM, little-endian
	SampleRate        int
	SamplesPerChannel int // SampleRate / 100
	NumChannels       int
	Timestamp         time.Duration
}

// NewAudioFrame creates a frame after checking that data holds exactly 10 ms
// of audio for the given format.
func NewAudioFrame(data []byte, sampleRate, numChannels int, timestamp time.Duration) (*AudioFrame, error) {
	if sampleRate <= 0 || sampleRate%100 != 0 {
		return nil, fmt.Errorf("unsupported sample rate %d", sampleRate)
	}
	if numChannels <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", numChannels)
	}

	samplesPerChannel := sampleRate / 100
	expectedLen := samplesPerChannel * numChannels * 2
	if len(data) != expectedLen {
		return nil, fmt.Errorf("AudioFrame data length mismatch: got %d bytes, expected %d bytes for %dHz %d-channel 10ms audio",
			len(data), expectedLen, sampleRate, numChannels)
	}

	return &AudioFrame{
		Data:              data,
		SampleRate:        sampleRate,
		SamplesPerChannel: samplesPerChannel,
		NumChannels:       numChannels,
		Timestamp:         timestamp,
	}, nil
}

// Silence returns a zeroed frame for the given format.
func Silence(sampleRate, numChannels int) AudioFrame {
	spc := sampleRate / 100
	return AudioFrame{
		Data:              make([]byte, spc*numChannels*2),
		SampleRate:        sampleRate,
		SamplesPerChannel: spc,
		NumChannels:       numChannels,
	}
}

// Clone creates a deep copy of the AudioFrame.
func (f *AudioFrame) Clone() *AudioFrame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)

	return &AudioFrame{
		Data:              data,
		SampleRate:        f.SampleRate,
		SamplesPerChannel: f.SamplesPerChannel,
		NumChannels:       f.NumChannels,
		Timestamp:         f.Timestamp,
	}
}

// Duration returns the duration represented by this frame.
// Frames built with NewAudioFrame are always 10ms.
func (f *AudioFrame) Duration() time.Duration {
	if f.SampleRate == 0 || f.SamplesPerChannel == 0 {
		return FrameDuration
	}
	return time.Duration(f.SamplesPerChannel) * time.Second / time.Duration(f.SampleRate)
}
