package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/samplebuilder"

	"github.com/chriscow/french-tutor-agent/pkg/audio/opus"
	"github.com/chriscow/french-tutor-agent/pkg/audio/resample"
	"github.com/chriscow/french-tutor-agent/pkg/rtc"
)

// maxLatePackets is how many packets the sample builder holds for reordering.
const maxLatePackets = 50

// ErrInputBusy is returned when a participant's audio is already being read.
var ErrInputBusy = errors.New("audio input already open")

// AudioInput waits for the participant's audio track and returns its audio
// as 48 kHz mono frames. The channel closes when the track ends, the room
// disconnects or ctx is done.
func (r *Room) AudioInput(ctx context.Context, identity string) (<-chan rtc.AudioFrame, error) {
	if !r.inputs.SetIfAbsent(identity, struct{}{}) {
		return nil, fmt.Errorf("%w for %s", ErrInputBusy, identity)
	}

	track, err := r.waitForTrack(ctx, identity)
	if err != nil {
		r.inputs.Remove(identity)
		return nil, err
	}

	dec, err := opus.NewDecoder(opus.SampleRate, 1)
	if err != nil {
		r.inputs.Remove(identity)
		return nil, err
	}

	out := make(chan rtc.AudioFrame, 50)
	go func() {
		defer close(out)
		defer r.inputs.Remove(identity)
		r.readTrack(ctx, track, dec, out)
	}()
	return out, nil
}

func (r *Room) waitForTrack(ctx context.Context, identity string) (*webrtc.TrackRemote, error) {
	for {
		r.mu.RLock()
		changed := r.changed
		r.mu.RUnlock()

		if t, ok := r.tracks.Get(identity); ok {
			return t, nil
		}

		select {
		case <-changed:
		case <-r.ctx.Done():
			return nil, ErrRoomDisconnected
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (r *Room) readTrack(ctx context.Context, track *webrtc.TrackRemote, dec *opus.Decoder, out chan<- rtc.AudioFrame) {
	sb := samplebuilder.New(maxLatePackets, &codecs.OpusPacket{}, opus.SampleRate)
	framer := rtc.NewFramer(opus.SampleRate, 1)

	for {
		if ctx.Err() != nil || r.ctx.Err() != nil {
			return
		}

		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.logger.Warn("Audio track read failed", slog.String("error", err.Error()))
			}
			return
		}

		sb.Push(pkt)
		for sample := sb.Pop(); sample != nil; sample = sb.Pop() {
			pcm, err := dec.Decode(sample.Data)
			if err != nil {
				r.logger.Debug("Dropping undecodable packet", slog.String("error", err.Error()))
				continue
			}
			for _, f := range framer.Write(rtc.PCMBytes(pcm)) {
				select {
				case out <- f:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// AudioOutput publishes the agent's audio track on first use and returns it.
func (r *Room) AudioOutput(ctx context.Context) (*AudioTrack, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.output != nil {
		return r.output, nil
	}
	if !r.connected || r.room == nil {
		return nil, ErrNotConnected
	}

	track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: opus.SampleRate,
		Channels:  1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create local sample track: %w", err)
	}

	pub, err := r.room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   r.cfg.TrackName,
		Source: livekit.TrackSource_MICROPHONE,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to publish agent audio track: %w", err)
	}

	enc, err := opus.NewEncoder(opus.SampleRate, 1)
	if err != nil {
		return nil, err
	}

	r.logger.Info("Published agent audio track", slog.String("track_sid", pub.SID()))
	r.output = &AudioTrack{writer: track, enc: enc}
	return r.output, nil
}

// sampleWriter is the part of lksdk.LocalSampleTrack AudioTrack needs.
type sampleWriter interface {
	WriteSample(sample media.Sample, opts *lksdk.SampleWriteOptions) error
}

// AudioTrack is the published agent voice. One utterance plays at a time.
type AudioTrack struct {
	mu     sync.Mutex
	writer sampleWriter
	enc    *opus.Encoder
}

// Play encodes frames into 20 ms Opus packets and writes them in real time.
// Frames of any rate or channel count are accepted. Cancelling ctx stops
// playout at the next packet. It returns how much audio was written.
func (t *AudioTrack) Play(ctx context.Context, frames <-chan rtc.AudioFrame) (time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.enc.Reset()

	ticker := time.NewTicker(opus.FrameDuration)
	defer ticker.Stop()

	var played time.Duration
	write := func(pkt []byte) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := t.writer.WriteSample(media.Sample{Data: pkt, Duration: opus.FrameDuration}, nil); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
		played += opus.FrameDuration
		return nil
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for f := range resample.Stream(streamCtx, frames, opus.SampleRate) {
		packets, err := t.enc.Write(rtc.Int16s(f.Data))
		if err != nil {
			return played, err
		}
		for _, pkt := range packets {
			if err := write(pkt); err != nil {
				return played, err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return played, err
	}

	pkt, ok, err := t.enc.Flush()
	if err != nil {
		return played, err
	}
	if ok {
		if err := write(pkt); err != nil {
			return played, err
		}
	}
	return played, nil
}
