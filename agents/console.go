package agents

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chriscow/french-tutor-agent/pkg/agent"
	"github.com/chriscow/french-tutor-agent/pkg/audio/resample"
	"github.com/chriscow/french-tutor-agent/pkg/audio/wav"
	"github.com/chriscow/french-tutor-agent/pkg/job"
	"github.com/chriscow/french-tutor-agent/pkg/rtc"
)

// consoleRate is the rate of the console microphone and recording.
const consoleRate = 48000

// answerPause is how long the student waits after the agent stops talking.
const answerPause = 200 * time.Millisecond

// ConsoleParticipant is the student in console mode.
var ConsoleParticipant = job.Participant{SID: "PA_console", Identity: "console", Name: "Console"}

// ConsoleOptions configures a console run.
type ConsoleOptions struct {
	// Input is played into the agent as the student's microphone.
	Input []rtc.AudioFrame

	// TrailingSilence is fed after Input so the VAD sees the end of speech.
	TrailingSilence time.Duration

	// Linger is how long the microphone stays open once the agent is quiet.
	Linger time.Duration

	// Realtime paces the microphone at one frame per 10ms.
	Realtime bool

	Logger *slog.Logger
}

// ConsoleTransport plays a recording into the agent and records what the
// agent says. The room closes once the input is played and the agent has
// been quiet for Linger.
type ConsoleTransport struct {
	opts   ConsoleOptions
	logger *slog.Logger

	mu        sync.Mutex
	connected bool
	opened    bool
	playing   int
	plays     int
	lastPlay  time.Time
	recorded  []rtc.AudioFrame

	done      chan struct{}
	closeOnce sync.Once
}

// NewConsoleTransport returns a transport fed with opts.Input.
func NewConsoleTransport(opts ConsoleOptions) *ConsoleTransport {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &ConsoleTransport{
		opts:   opts,
		logger: opts.Logger.With("component", "console"),
		done:   make(chan struct{}),
	}
}

// LoadConsoleInput reads a WAV file as 48 kHz mono frames.
func LoadConsoleInput(path string) ([]rtc.AudioFrame, error) {
	frames, err := wav.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("console: %s has no audio", path)
	}
	if frames[0].SampleRate != consoleRate || frames[0].NumChannels != 1 {
		frames = resample.Frames(frames, consoleRate)
	}
	return frames, nil
}

func (t *ConsoleTransport) Connect(ctx context.Context, sub job.AutoSubscribe) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		return job.ErrAlreadyConnected
	}
	t.connected = true
	return nil
}

func (t *ConsoleTransport) WaitForParticipant(ctx context.Context, timeout time.Duration) (job.Participant, error) {
	select {
	case <-t.done:
		return job.Participant{}, ErrRoomDisconnected
	default:
	}
	return ConsoleParticipant, nil
}

// AudioInput returns the recording framed by silence. The channel closes
// when the agent has been quiet for Linger, and the room closes with it.
func (t *ConsoleTransport) AudioInput(ctx context.Context, identity string) (<-chan rtc.AudioFrame, error) {
	if identity != ConsoleParticipant.Identity {
		return nil, fmt.Errorf("console: unknown participant %q", identity)
	}
	t.mu.Lock()
	if t.opened {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w for %s", job.ErrInputBusy, identity)
	}
	t.opened = true
	t.mu.Unlock()

	out := make(chan rtc.AudioFrame, 50)
	go t.feed(ctx, out)
	return out, nil
}

func (t *ConsoleTransport) feed(ctx context.Context, out chan<- rtc.AudioFrame) {
	defer t.Disconnect()
	defer close(out)

	var tick <-chan time.Time
	if t.opts.Realtime {
		ticker := time.NewTicker(rtc.FrameDuration)
		defer ticker.Stop()
		tick = ticker.C
	}
	send := func(f rtc.AudioFrame) bool {
		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
				return false
			case <-t.done:
				return false
			}
		}
		select {
		case out <- f:
			return true
		case <-ctx.Done():
		case <-t.done:
		}
		return false
	}

	// The student answers once the agent's first utterance has played, or
	// after Linger if the agent does not speak first.
	start := time.Now()
	for !t.answerable(start) {
		if tick == nil {
			time.Sleep(rtc.FrameDuration)
		}
		if !send(rtc.Silence(consoleRate, 1)) {
			return
		}
	}

	for _, f := range t.opts.Input {
		if !send(f) {
			return
		}
	}
	t.logger.Debug("Input played", slog.Int("frames", len(t.opts.Input)))

	for i := time.Duration(0); i < t.opts.TrailingSilence; i += rtc.FrameDuration {
		if !send(rtc.Silence(consoleRate, 1)) {
			return
		}
	}

	// Linger counts from the end of the input at the earliest.
	t.mu.Lock()
	t.lastPlay = time.Now()
	t.mu.Unlock()

	// Keep the microphone live with silence while the agent thinks or speaks.
	for !t.quiet() {
		if tick == nil {
			time.Sleep(rtc.FrameDuration)
		}
		if !send(rtc.Silence(consoleRate, 1)) {
			return
		}
	}
}

func (t *ConsoleTransport) answerable(start time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.playing > 0 {
		return false
	}
	if t.plays > 0 {
		return time.Since(t.lastPlay) >= answerPause
	}
	return time.Since(start) >= t.opts.Linger
}

func (t *ConsoleTransport) quiet() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing == 0 && time.Since(t.lastPlay) >= t.opts.Linger
}

func (t *ConsoleTransport) AudioOutput(ctx context.Context) (agent.AudioSink, error) {
	return t, nil
}

// Play records one utterance at the console rate.
func (t *ConsoleTransport) Play(ctx context.Context, frames <-chan rtc.AudioFrame) (time.Duration, error) {
	t.mu.Lock()
	t.playing++
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.playing--
		t.plays++
		t.lastPlay = time.Now()
		t.mu.Unlock()
	}()

	var utterance []rtc.AudioFrame
	var played time.Duration
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				t.record(utterance)
				return played, nil
			}
			utterance = append(utterance, f)
			played += f.Duration()
		case <-ctx.Done():
			t.record(utterance)
			return played, ctx.Err()
		}
	}
}

func (t *ConsoleTransport) record(frames []rtc.AudioFrame) {
	if len(frames) == 0 {
		return
	}
	if frames[0].SampleRate != consoleRate || frames[0].NumChannels != 1 {
		frames = resample.Frames(frames, consoleRate)
	}
	t.mu.Lock()
	t.recorded = append(t.recorded, frames...)
	t.mu.Unlock()
}

// Recorded returns everything the agent said.
func (t *ConsoleTransport) Recorded() []rtc.AudioFrame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]rtc.AudioFrame(nil), t.recorded...)
}

// WriteRecording saves what the agent said as a WAV file.
func (t *ConsoleTransport) WriteRecording(path string) error {
	frames := t.Recorded()
	if len(frames) == 0 {
		frames = []rtc.AudioFrame{rtc.Silence(consoleRate, 1)}
	}
	return wav.WriteFile(path, frames)
}

func (t *ConsoleTransport) Disconnect() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

func (t *ConsoleTransport) Done() <-chan struct{} {
	return t.done
}
