// Package opus wraps libopus for the room transport: decoding subscribed
// tracks and packetizing outgoing speech into 20ms frames.
package opus

import (
	"fmt"
	"time"

	"gopkg.in/hraban/opus.v2"
)

const (
	// SampleRate is the WebRTC Opus clock rate.
	SampleRate = 48000

	// FrameDuration is the packet size used for published audio.
	FrameDuration = 20 * time.Millisecond

	// maxFrameSamples is 120ms at 48 kHz, the largest Opus frame.
	maxFrameSamples = 5760

	maxPacketBytes = 1500
)

// Decoder turns Opus packets into interleaved 16-bit PCM.
type Decoder struct {
	dec      *opus.Decoder
	channels int
	pcm      []int16
}

// NewDecoder creates a decoder for the given output format.
func NewDecoder(sampleRate, channels int) (*Decoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus: new decoder: %w", err)
	}
	return &Decoder{dec: dec, channels: channels, pcm: make([]int16, maxFrameSamples*channels)}, nil
}

// Decode returns the samples of one packet. The slice is freshly allocated.
func (d *Decoder) Decode(packet []byte) ([]int16, error) {
	n, err := d.dec.Decode(packet, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	out := make([]int16, n*d.channels)
	copy(out, d.pcm[:n*d.channels])
	return out, nil
}

// Encoder buffers PCM and emits one packet per FrameDuration of audio.
type Encoder struct {
	enc     *opus.Encoder
	frame   int // samples per packet, all channels
	pending []int16
	scratch []byte
}

// NewEncoder creates a VoIP-tuned encoder.
func NewEncoder(sampleRate, channels int) (*Encoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus: new encoder: %w", err)
	}
	frame := sampleRate * int(FrameDuration/time.Millisecond) / 1000 * channels
	return &Encoder{enc: enc, frame: frame, scratch: make([]byte, maxPacketBytes)}, nil
}

// FrameSamples is the number of interleaved samples in one packet.
func (e *Encoder) FrameSamples() int { return e.frame }

// Write appends pcm and returns every complete packet.
func (e *Encoder) Write(pcm []int16) ([][]byte, error) {
	e.pending = append(e.pending, pcm...)

	var packets [][]byte
	for len(e.pending) >= e.frame {
		p, err := e.encode(e.pending[:e.frame])
		if err != nil {
			return packets, err
		}
		packets = append(packets, p)
		e.pending = e.pending[e.frame:]
	}
	return packets, nil
}

// Flush zero-pads any buffered samples into a final packet.
func (e *Encoder) Flush() ([]byte, bool, error) {
	if len(e.pending) == 0 {
		return nil, false, nil
	}
	padded := make([]int16, e.frame)
	copy(padded, e.pending)
	e.pending = e.pending[:0]
	p, err := e.encode(padded)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// Reset drops buffered samples, used when speech is interrupted.
func (e *Encoder) Reset() {
	e.pending = e.pending[:0]
}

func (e *Encoder) encode(pcm []int16) ([]byte, error) {
	n, err := e.enc.Encode(pcm, e.scratch)
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	out := make([]byte, n)
	copy(out, e.scratch[:n])
	return out, nil
}
