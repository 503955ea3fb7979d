// Package resample converts mono PCM between sample rates using beep's
// resampler, re-framing the result into 10ms frames.
package resample

import (
	"context"

	"github.com/gopxl/beep"

	"github.com/chriscow/french-tutor-agent/pkg/rtc"
)

// Quality is passed to beep.Resample; 3 is a good speed/accuracy balance for speech.
const Quality = 3

// Stream resamples the frames read from in to rate. Input frames are mixed to
// mono. The output channel closes when in closes or ctx is done.
func Stream(ctx context.Context, in <-chan rtc.AudioFrame, rate int) <-chan rtc.AudioFrame {
	out := make(chan rtc.AudioFrame, 10)

	go func() {
		defer close(out)

		var first rtc.AudioFrame
		select {
		case f, ok := <-in:
			if !ok {
				return
			}
			first = rtc.Mono(f)
		case <-ctx.Done():
			return
		}

		src := &frameStreamer{ctx: ctx, in: in, buf: first.Float32s()}
		Pump(ctx, src, first.SampleRate, rate, out)
	}()

	return out
}

// Frames resamples a complete slice of frames.
func Frames(frames []rtc.AudioFrame, rate int) []rtc.AudioFrame {
	in := make(chan rtc.AudioFrame, len(frames))
	for _, f := range frames {
		in <- f
	}
	close(in)

	var out []rtc.AudioFrame
	for f := range Stream(context.Background(), in, rate) {
		out = append(out, f)
	}
	return out
}

// Pump drains s, resampling from srcRate to dstRate, and sends 10ms mono
// frames to out. It returns when s is exhausted or ctx is done.
func Pump(ctx context.Context, s beep.Streamer, srcRate, dstRate int, out chan<- rtc.AudioFrame) error {
	if srcRate != dstRate {
		s = beep.Resample(Quality, beep.SampleRate(srcRate), beep.SampleRate(dstRate), s)
	}

	framer := rtc.NewFramer(dstRate, 1)
	buf := make([][2]float64, dstRate/100)
	send := func(frames []rtc.AudioFrame) bool {
		for _, f := range frames {
			select {
			case out <- f:
			case <-ctx.Done():
				return false
			}
		}
		return true
	}

	for {
		n, ok := s.Stream(buf)
		if n > 0 {
			if !send(framer.Write(rtc.PCMBytes(ToPCM16(buf[:n])))) {
				return ctx.Err()
			}
		}
		if !ok {
			break
		}
	}
	if last, ok := framer.Flush(); ok {
		send([]rtc.AudioFrame{last})
	}
	return s.Err()
}

// ToPCM16 mixes stereo float samples down to clamped mono int16.
func ToPCM16(samples [][2]float64) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := (s[0] + s[1]) * 0.5
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		out[i] = int16(v * 32767)
	}
	return out
}

// frameStreamer adapts a frame channel to beep.Streamer.
type frameStreamer struct {
	ctx context.Context
	in  <-chan rtc.AudioFrame
	buf []float32
}

func (f *frameStreamer) Stream(samples [][2]float64) (int, bool) {
	n := 0
	for n < len(samples) {
		if len(f.buf) == 0 {
			select {
			case frame, ok := <-f.in:
				if !ok {
					return n, n > 0
				}
				frame = rtc.Mono(frame)
				f.buf = frame.Float32s()
				continue
			case <-f.ctx.Done():
				return n, n > 0
			}
		}
		v := float64(f.buf[0])
		samples[n] = [2]float64{v, v}
		f.buf = f.buf[1:]
		n++
	}
	return n, true
}

func (f *frameStreamer) Err() error { return nil }
