package wav

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/chriscow/french-tutor-agent/pkg/rtc"
	"github.com/matryer/is"
)

func ramp(n int) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = int16(i*37 - 4000)
	}
	return s
}

func TestRoundTripBytes(t *testing.T) {
	is := is.New(t)
	samples := ramp(480) // three 10ms frames at 16 kHz
	frames := rtc.Frames(rtc.PCMBytes(samples), 16000, 1)

	data, err := EncodeBytes(frames)
	is.NoErr(err)
	is.Equal(string(data[:4]), "RIFF")
	is.Equal(len(data), 44+len(samples)*2) // canonical header plus samples

	got, err := DecodeBytes(data)
	is.NoErr(err)
	is.Equal(len(got), 3)
	is.Equal(got[0].SampleRate, 16000)

	var decoded []int16
	for _, f := range got {
		decoded = append(decoded, rtc.Int16s(f.Data)...)
	}
	is.Equal(decoded, samples)
}

func TestRoundTripFile(t *testing.T) {
	is := is.New(t)
	path := filepath.Join(t.TempDir(), "tone.wav")
	frames := rtc.Frames(rtc.PCMBytes(ramp(960)), 48000, 2)

	is.NoErr(WriteFile(path, frames))
	got, err := ReadFile(path)
	is.NoErr(err)
	is.Equal(len(got), 1)
	is.Equal(got[0].NumChannels, 2)
	is.Equal(got[0].SamplesPerChannel, 480)
}

func TestEncodeRejectsMixedFormats(t *testing.T) {
	is := is.New(t)
	frames := []rtc.AudioFrame{rtc.Silence(16000, 1), rtc.Silence(48000, 1)}
	_, err := EncodeBytes(frames)
	is.True(errors.Is(err, ErrMixedFormat))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	is := is.New(t)
	_, err := DecodeBytes([]byte("definitely not a wav file, just text"))
	is.True(errors.Is(err, ErrInvalidFile))
}
