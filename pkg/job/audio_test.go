package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	lksdk "github.com/livekit/server-sdk-go"
	"github.com/matryer/is"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/chriscow/french-tutor-agent/pkg/audio/opus"
	"github.com/chriscow/french-tutor-agent/pkg/rtc"
)

type recordingWriter struct {
	mu      sync.Mutex
	samples []media.Sample
}

func (w *recordingWriter) WriteSample(s media.Sample, _ *lksdk.SampleWriteOptions) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, s)
	return nil
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.samples)
}

func newTestTrack(t *testing.T) (*AudioTrack, *recordingWriter) {
	t.Helper()
	enc, err := opus.NewEncoder(opus.SampleRate, 1)
	if err != nil {
		t.Fatalf("new encoder: %v", err)
	}
	w := &recordingWriter{}
	return &AudioTrack{writer: w, enc: enc}, w
}

func framesOf(n, rate int) <-chan rtc.AudioFrame {
	ch := make(chan rtc.AudioFrame, n)
	for i := 0; i < n; i++ {
		ch <- rtc.Silence(rate, 1)
	}
	close(ch)
	return ch
}

func TestAudioTrackPlay(t *testing.T) {
	is := is.New(t)
	track, w := newTestTrack(t)

	played, err := track.Play(context.Background(), framesOf(10, 24000))
	is.NoErr(err)
	is.True(w.count() > 0)
	is.Equal(played, time.Duration(w.count())*opus.FrameDuration) // one packet per 20ms
	is.True(played >= 80*time.Millisecond && played <= 120*time.Millisecond)
	for _, s := range w.samples {
		is.Equal(s.Duration, opus.FrameDuration)
	}
}

func TestAudioTrackPlayCancelled(t *testing.T) {
	is := is.New(t)
	track, w := newTestTrack(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	played, err := track.Play(ctx, framesOf(200, 48000)) // two seconds of audio
	is.True(errors.Is(err, context.Canceled))
	is.True(played < time.Second) // stopped early
	is.Equal(played, time.Duration(w.count())*opus.FrameDuration)
}
