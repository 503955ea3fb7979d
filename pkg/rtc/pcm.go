package rtc

import (
	"encoding/binary"
	"math"
	"time"
)

// Int16s decodes little-endian 16-bit PCM into samples.
func Int16s(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// PCMBytes encodes samples as little-endian 16-bit PCM.
func PCMBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Float32s returns the frame's samples scaled to [-1, 1].
func (f *AudioFrame) Float32s() []float32 {
	samples := Int16s(f.Data)
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// RMS returns the root mean square level of the frame in [0, 1].
func (f *AudioFrame) RMS() float64 {
	samples := Int16s(f.Data)
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Mono mixes a multi-channel frame down to one channel.
func Mono(f AudioFrame) AudioFrame {
	if f.NumChannels <= 1 {
		return f
	}
	samples := Int16s(f.Data)
	mixed := make([]int16, f.SamplesPerChannel)
	for i := range mixed {
		var sum int32
		for ch := 0; ch < f.NumChannels; ch++ {
			sum += int32(samples[i*f.NumChannels+ch])
		}
		mixed[i] = int16(sum / int32(f.NumChannels))
	}
	return AudioFrame{
		Data:              PCMBytes(mixed),
		SampleRate:        f.SampleRate,
		SamplesPerChannel: f.SamplesPerChannel,
		NumChannels:       1,
		Timestamp:         f.Timestamp,
	}
}

// Framer cuts an arbitrary PCM byte stream into 10 ms frames.
// It is not safe for concurrent use.
type Framer struct {
	sampleRate  int
	numChannels int
	frameBytes  int
	buf         []byte
	elapsed     time.Duration
}

// NewFramer creates a Framer for the given PCM format.
func NewFramer(sampleRate, numChannels int) *Framer {
	return &Framer{
		sampleRate:  sampleRate,
		numChannels: numChannels,
		frameBytes:  sampleRate / 100 * numChannels * 2,
	}
}

// Write buffers p and returns every complete frame now available.
func (fr *Framer) Write(p []byte) []AudioFrame {
	fr.buf = append(fr.buf, p...)
	var frames []AudioFrame
	for len(fr.buf) >= fr.frameBytes {
		data := make([]byte, fr.frameBytes)
		copy(data, fr.buf[:fr.frameBytes])
		fr.buf = fr.buf[fr.frameBytes:]
		frames = append(frames, fr.frame(data))
	}
	return frames
}

// Flush returns the remaining partial frame padded with silence.
func (fr *Framer) Flush() (AudioFrame, bool) {
	if len(fr.buf) == 0 {
		return AudioFrame{}, false
	}
	data := make([]byte, fr.frameBytes)
	copy(data, fr.buf)
	fr.buf = fr.buf[:0]
	return fr.frame(data), true
}

func (fr *Framer) frame(data []byte) AudioFrame {
	f := AudioFrame{
		Data:              data,
		SampleRate:        fr.sampleRate,
		SamplesPerChannel: fr.sampleRate / 100,
		NumChannels:       fr.numChannels,
		Timestamp:         fr.elapsed,
	}
	fr.elapsed += FrameDuration
	return f
}

// Frames splits a complete PCM buffer into 10 ms frames, padding the tail.
func Frames(pcm []byte, sampleRate, numChannels int) []AudioFrame {
	fr := NewFramer(sampleRate, numChannels)
	frames := fr.Write(pcm)
	if last, ok := fr.Flush(); ok {
		frames = append(frames, last)
	}
	return frames
}

// TotalDuration sums the duration of frames.
func TotalDuration(frames []AudioFrame) time.Duration {
	var d time.Duration
	for i := range frames {
		d += frames[i].Duration()
	}
	return d
}
