package tts

import (
	"context"
	"errors"
	"io"

	"github.com/chriscow/french-tutor-agent/pkg/rtc"
)

// StreamPCM reads 16-bit little-endian mono PCM from r and sends it to out
// as 10 ms frames, padding the last one. It returns when r is exhausted or
// ctx is done.
func StreamPCM(ctx context.Context, r io.Reader, rate int, out chan<- rtc.AudioFrame) error {
	framer := rtc.NewFramer(rate, 1)
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

	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 && !send(framer.Write(buf[:n])) {
			return ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
	}
	if last, ok := framer.Flush(); ok {
		send([]rtc.AudioFrame{last})
	}
	return nil
}
