// Package wav converts between 16-bit PCM WAV data and audio frames.
package wav

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/chriscow/french-tutor-agent/pkg/rtc"
)

var (
	// ErrInvalidFile is returned for input that is not a RIFF/WAVE stream.
	ErrInvalidFile = errors.New("wav: invalid file")

	// ErrUnsupportedFormat is returned for anything other than 16-bit PCM.
	ErrUnsupportedFormat = errors.New("wav: only 16-bit PCM is supported")

	// ErrMixedFormat is returned when frames disagree on rate or channels.
	ErrMixedFormat = errors.New("wav: frames have mixed formats")
)

const pcmFormat = 1

// Encode writes frames as one 16-bit PCM WAV stream.
func Encode(w io.WriteSeeker, frames []rtc.AudioFrame) error {
	if len(frames) == 0 {
		return errors.New("wav: no frames to encode")
	}
	rate, ch := frames[0].SampleRate, frames[0].NumChannels

	var n int
	for _, f := range frames {
		if f.SampleRate != rate || f.NumChannels != ch {
			return ErrMixedFormat
		}
		n += len(f.Data) / 2
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: ch, SampleRate: rate},
		SourceBitDepth: 16,
		Data:           make([]int, 0, n),
	}
	for _, f := range frames {
		for _, s := range rtc.Int16s(f.Data) {
			buf.Data = append(buf.Data, int(s))
		}
	}

	enc := wav.NewEncoder(w, rate, 16, ch, pcmFormat)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("wav: write samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("wav: finalize header: %w", err)
	}
	return nil
}

// EncodeBytes returns frames as an in-memory WAV file.
func EncodeBytes(frames []rtc.AudioFrame) ([]byte, error) {
	var sb seekBuffer
	if err := Encode(&sb, frames); err != nil {
		return nil, err
	}
	return sb.buf, nil
}

// WriteFile encodes frames into path.
func WriteFile(path string, frames []rtc.AudioFrame) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wav: create %s: %w", path, err)
	}
	if err := Encode(f, frames); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Decode reads a 16-bit PCM WAV stream into 10ms frames.
func Decode(r io.ReadSeeker) ([]rtc.AudioFrame, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, ErrInvalidFile
	}
	dec.ReadInfo()
	if dec.BitDepth != 16 || dec.WavAudioFormat != pcmFormat {
		return nil, ErrUnsupportedFormat
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wav: read samples: %w", err)
	}
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}

	rate, ch := int(dec.SampleRate), int(dec.NumChans)
	if rate <= 0 || ch <= 0 {
		return nil, ErrInvalidFile
	}
	return rtc.Frames(rtc.PCMBytes(samples), rate, ch), nil
}

// DecodeBytes decodes an in-memory WAV file.
func DecodeBytes(data []byte) ([]rtc.AudioFrame, error) {
	return Decode(bytes.NewReader(data))
}

// ReadFile decodes the WAV file at path.
func ReadFile(path string) ([]rtc.AudioFrame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wav: open %s: %w", path, err)
	}
	defer f.Close()
	return Decode(f)
}

// seekBuffer is the io.WriteSeeker the encoder needs to patch the header.
type seekBuffer struct {
	buf []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	if end := s.pos + len(p); end > len(s.buf) {
		s.buf = append(s.buf, make([]byte, end-len(s.buf))...)
	}
	n := copy(s.buf[s.pos:], p)
	s.pos += n
	return n, nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(s.pos) + offset
	case io.SeekEnd:
		abs = int64(len(s.buf)) + offset
	default:
		return 0, errors.New("wav: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("wav: negative position")
	}
	s.pos = int(abs)
	return abs, nil
}
