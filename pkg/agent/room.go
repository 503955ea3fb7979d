package agent

import (
	"context"
	"time"

	"github.com/chriscow/french-tutor-agent/pkg/job"
	"github.com/chriscow/french-tutor-agent/pkg/rtc"
)

// Room is the audio transport the agent talks through.
type Room interface {
	// AudioInput returns the participant's microphone audio.
	AudioInput(ctx context.Context, identity string) (<-chan rtc.AudioFrame, error)

	// AudioOutput returns where the agent's speech is played.
	AudioOutput(ctx context.Context) (AudioSink, error)
}

// AudioSink plays one utterance at a time. Play blocks until frames is
// drained or ctx is done and reports how much audio was played.
type AudioSink interface {
	Play(ctx context.Context, frames <-chan rtc.AudioFrame) (time.Duration, error)
}

// LiveKitRoom adapts a connected job room.
func LiveKitRoom(r *job.Room) Room {
	return liveKitRoom{r}
}

type liveKitRoom struct {
	*job.Room
}

func (r liveKitRoom) AudioOutput(ctx context.Context) (AudioSink, error) {
	track, err := r.Room.AudioOutput(ctx)
	if err != nil {
		return nil, err
	}
	return track, nil
}
