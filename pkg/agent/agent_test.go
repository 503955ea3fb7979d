package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/french-tutor-agent/pkg/ai/llm"
	fakellm "github.com/chriscow/french-tutor-agent/pkg/ai/llm/fake"
	fakestt "github.com/chriscow/french-tutor-agent/pkg/ai/stt/fake"
	faketts "github.com/chriscow/french-tutor-agent/pkg/ai/tts/fake"
	"github.com/chriscow/french-tutor-agent/pkg/ai/vad"
	"github.com/chriscow/french-tutor-agent/pkg/job"
	"github.com/chriscow/french-tutor-agent/pkg/metrics"
	"github.com/chriscow/french-tutor-agent/pkg/rtc"
	"github.com/chriscow/french-tutor-agent/pkg/turn"
	faketurn "github.com/chriscow/french-tutor-agent/pkg/turn/fake"
)

// testRoom feeds mic from a channel and records what the agent plays.
type testRoom struct {
	mic  chan rtc.AudioFrame
	sink *recordingSink
}

func newTestRoom(block bool) *testRoom {
	return &testRoom{
		mic:  make(chan rtc.AudioFrame, 1000),
		sink: &recordingSink{block: block},
	}
}

func (r *testRoom) AudioInput(ctx context.Context, identity string) (<-chan rtc.AudioFrame, error) {
	return r.mic, nil
}

func (r *testRoom) AudioOutput(ctx context.Context) (AudioSink, error) {
	return r.sink, nil
}

func (r *testRoom) speak(loud, silent int) {
	for i := 0; i < loud; i++ {
		r.mic <- tone(48000)
	}
	for i := 0; i < silent; i++ {
		r.mic <- rtc.Silence(48000, 1)
	}
}

type recordingSink struct {
	block bool // hold every utterance until cancelled

	mu      sync.Mutex
	plays   int
	started chan struct{}
}

func (s *recordingSink) Play(ctx context.Context, frames <-chan rtc.AudioFrame) (time.Duration, error) {
	s.mu.Lock()
	s.plays++
	if s.started != nil {
		close(s.started)
		s.started = nil
	}
	s.mu.Unlock()

	if s.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	var d time.Duration
	for f := range frames {
		d += f.Duration()
	}
	return d, nil
}

func (s *recordingSink) Plays() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plays
}

func tone(rate int) rtc.AudioFrame {
	samples := make([]int16, rate/100)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 8000
		} else {
			samples[i] = -8000
		}
	}
	return rtc.AudioFrame{
		Data:              rtc.PCMBytes(samples),
		SampleRate:        rate,
		SamplesPerChannel: rate / 100,
		NumChannels:       1,
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

func testOptions() Options {
	return Options{
		VAD:                 vad.NewEnergyVAD(vad.EnergyOptions{}),
		STT:                 fakestt.NewFakeSTT("Je voudrais un café"),
		LLM:                 fakellm.NewFakeLLM("Très bien, un café !"),
		TTS:                 faketts.NewFakeTTS(),
		TurnDetector:        faketurn.NewFakeTurnDetector(),
		ChatContext:         llm.NewChatContext().Append(llm.RoleSystem, "Tu es Jack."),
		MinEndpointingDelay: 20 * time.Millisecond,
		MaxEndpointingDelay: 300 * time.Millisecond,
		AllowInterruptions:  true,
	}
}

var student = &job.Participant{SID: "PA_1", Identity: "student"}

func TestNewValidatesSlots(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
		want   string
	}{
		{"vad", func(o *Options) { o.VAD = nil }, "VAD"},
		{"stt", func(o *Options) { o.STT = nil }, "STT"},
		{"llm", func(o *Options) { o.LLM = nil }, "LLM"},
		{"tts", func(o *Options) { o.TTS = nil }, "TTS"},
		{"turn detector", func(o *Options) { o.TurnDetector = nil }, "TurnDetector"},
		{"chat context", func(o *Options) { o.ChatContext = nil }, "ChatContext"},
		{"min above max", func(o *Options) {
			o.MinEndpointingDelay = time.Second
			o.MaxEndpointingDelay = 500 * time.Millisecond
		}, "max endpointing delay"},
		{"negative min", func(o *Options) { o.MinEndpointingDelay = -time.Second }, "min endpointing delay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			tt.mutate(&opts)
			_, err := New(opts)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestNewDefaults(t *testing.T) {
	is := is.New(t)
	opts := testOptions()
	opts.MinEndpointingDelay, opts.MaxEndpointingDelay = 0, 0

	a, err := New(opts)
	is.NoErr(err)
	is.Equal(a.opts.MinEndpointingDelay, 500*time.Millisecond)
	is.Equal(a.opts.MaxEndpointingDelay, 5*time.Second)
	is.Equal(a.opts.Language, "fr")
	is.Equal(a.GetState(), StateIdle)
}

func TestStartAndSayPreconditions(t *testing.T) {
	is := is.New(t)
	a, err := New(testOptions())
	is.NoErr(err)
	defer a.Close()

	_, err = a.Say(context.Background(), "Bonjour", true)
	is.True(errors.Is(err, ErrNotStarted))

	room := newTestRoom(false)
	is.True(errors.Is(a.Start(context.Background(), room, nil), ErrNoParticipant))
	is.NoErr(a.Start(context.Background(), room, student))
	is.True(errors.Is(a.Start(context.Background(), room, student), ErrAlreadyStarted))
}

func TestSayPlaysInOrderAndRecordsHistory(t *testing.T) {
	is := is.New(t)
	a, err := New(testOptions())
	is.NoErr(err)
	defer a.Close()

	room := newTestRoom(false)
	is.NoErr(a.Start(context.Background(), room, student))

	first, err := a.Say(context.Background(), "Bonjour, tu veux pratiquer le français?", true)
	is.NoErr(err)
	second, err := a.Say(context.Background(), "On commence ?", false)
	is.NoErr(err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	is.NoErr(first.WaitForPlayout(ctx))
	is.NoErr(second.WaitForPlayout(ctx))

	msgs := a.ChatContext().Messages()
	is.Equal(len(msgs), 3)
	is.Equal(msgs[1].Role, llm.RoleAssistant)
	is.Equal(msgs[1].Content, "Bonjour, tu veux pratiquer le français?")
	is.Equal(msgs[2].Content, "On commence ?") // queued speech plays in order
	is.Equal(room.sink.Plays(), 2)
}

func TestConversationTurn(t *testing.T) {
	is := is.New(t)
	opts := testOptions()
	turns := opts.TurnDetector.(*faketurn.FakeTurnDetector)
	a, err := New(opts)
	is.NoErr(err)

	var (
		mu    sync.Mutex
		kinds []string
	)
	a.OnMetrics(func(m metrics.AgentMetrics) {
		mu.Lock()
		kinds = append(kinds, m.Kind())
		mu.Unlock()
	})

	room := newTestRoom(false)
	is.NoErr(a.Start(context.Background(), room, student))

	room.speak(30, 70)

	eventually(t, func() bool { return a.ChatContext().Count(llm.RoleAssistant) == 1 }, "agent replied")
	a.Close()

	msgs := a.ChatContext().Messages()
	is.Equal(len(msgs), 3)
	is.Equal(msgs[1], llm.Message{Role: llm.RoleUser, Content: "Je voudrais un café"})
	is.Equal(msgs[2].Content, "Très bien, un café !")
	is.Equal(turns.Calls(), 1)

	// LLM saw the full history
	reqs := opts.LLM.(*fakellm.FakeLLM).Requests()
	is.Equal(len(reqs), 1)
	is.Equal(len(reqs[0].Messages), 2)
	is.Equal(reqs[0].Messages[0].Role, llm.RoleSystem)

	mu.Lock()
	defer mu.Unlock()
	for _, want := range []string{"vad", "stt", "eou", "llm", "tts"} {
		found := false
		for _, k := range kinds {
			found = found || k == want
		}
		if !found {
			t.Errorf("no %s metrics in %v", want, kinds)
		}
	}
}

func TestUnlikelyEndOfTurnWaitsMaxDelay(t *testing.T) {
	is := is.New(t)
	opts := testOptions()
	opts.TurnDetector = faketurn.NewFakeTurnDetectorWithValues(0.05, 0.15)
	det := opts.TurnDetector.(*faketurn.FakeTurnDetector)
	fake := opts.LLM.(*fakellm.FakeLLM)
	a, err := New(opts)
	is.NoErr(err)
	defer a.Close()

	room := newTestRoom(false)
	is.NoErr(a.Start(context.Background(), room, student))

	room.speak(30, 70)
	eventually(t, func() bool { return det.Calls() == 1 }, "end of turn predicted")

	time.Sleep(100 * time.Millisecond)
	is.Equal(len(fake.Requests()), 0) // still inside the 300ms max delay

	eventually(t, func() bool { return len(fake.Requests()) == 1 }, "reply after max delay")
}

func TestUnsupportedLanguageSkipsDetector(t *testing.T) {
	is := is.New(t)
	opts := testOptions()
	det := faketurn.NewFakeTurnDetectorWithValues(0.05, 0.15).WithLanguages("en")
	opts.TurnDetector = det
	a, err := New(opts)
	is.NoErr(err)
	defer a.Close()

	room := newTestRoom(false)
	is.NoErr(a.Start(context.Background(), room, student))
	room.speak(30, 70)

	eventually(t, func() bool { return a.ChatContext().Count(llm.RoleAssistant) == 1 }, "agent replied")
	is.Equal(det.Calls(), 0)
}

func TestDetectorErrorUsesMinDelay(t *testing.T) {
	is := is.New(t)
	opts := testOptions()
	opts.MaxEndpointingDelay = 10 * time.Second
	opts.TurnDetector = faketurn.NewFakeTurnDetectorWithValues(0.05, 0.15).WithError(errors.New("model missing"))
	a, err := New(opts)
	is.NoErr(err)
	defer a.Close()

	room := newTestRoom(false)
	is.NoErr(a.Start(context.Background(), room, student))
	room.speak(30, 70)

	eventually(t, func() bool { return a.ChatContext().Count(llm.RoleAssistant) == 1 }, "reply well before max delay")
}

func TestUserSpeechInterruptsSpeech(t *testing.T) {
	is := is.New(t)
	a, err := New(testOptions())
	is.NoErr(err)
	defer a.Close()

	room := newTestRoom(true)
	started := make(chan struct{})
	room.sink.started = started
	is.NoErr(a.Start(context.Background(), room, student))

	h, err := a.Say(context.Background(), "Une longue explication", true)
	is.NoErr(err)
	<-started
	eventually(t, func() bool { return a.GetState() == StateSpeaking }, "speaking")

	room.speak(10, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	is.NoErr(h.WaitForPlayout(ctx))
	is.True(h.Interrupted())
}

func TestNonInterruptibleSpeechGatesMic(t *testing.T) {
	is := is.New(t)
	a, err := New(testOptions())
	is.NoErr(err)

	room := newTestRoom(true)
	started := make(chan struct{})
	room.sink.started = started
	is.NoErr(a.Start(context.Background(), room, student))

	h, err := a.Say(context.Background(), "Écoute bien", false)
	is.NoErr(err)
	<-started
	eventually(t, func() bool { return a.GetState() == StateSpeaking }, "speaking")

	room.speak(20, 0)
	eventually(t, func() bool { return a.gate.Dropped() == 20 }, "mic frames dropped")

	is.True(!h.Interrupted())
	is.True(errors.Is(h.Interrupt(), ErrNotInterruptible))
	is.Equal(a.GetState(), StateSpeaking)

	is.NoErr(a.Close())
	<-h.Done()
}

func TestAgentStopsWhenMicCloses(t *testing.T) {
	is := is.New(t)
	a, err := New(testOptions())
	is.NoErr(err)

	room := newTestRoom(false)
	is.NoErr(a.Start(context.Background(), room, student))
	close(room.mic)

	select {
	case <-a.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("agent did not stop")
	}

	_, err = a.Say(context.Background(), "encore ?", true)
	is.True(errors.Is(err, ErrClosed))
}

func TestStateString(t *testing.T) {
	is := is.New(t)
	is.Equal(StateIdle.String(), "Idle")
	is.Equal(StateSpeaking.String(), "Speaking")
	is.Equal(AgentState(9).String(), "Unknown(9)")
}

func TestStateTransitionsCounted(t *testing.T) {
	is := is.New(t)
	a, err := New(testOptions())
	is.NoErr(err)

	a.setState(StateListening)
	a.setState(StateThinking)
	a.setState(StateThinking) // no-op

	is.Equal(a.Metrics().StateTransitions.Get("Idle_to_Listening").String(), "1")
	is.Equal(a.Metrics().StateTransitions.Get("Listening_to_Thinking").String(), "1")
	is.True(transitions.Get("Listening_to_Thinking") != nil) // process-wide map
}

func TestSayAfterPlayoutStopsIsRejected(t *testing.T) {
	is := is.New(t)
	a, err := New(testOptions())
	is.NoErr(err)

	// Hold the metrics observer so the agent stays between playout
	// stopping and Done closing.
	blocked := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	a.OnMetrics(func(metrics.AgentMetrics) {
		once.Do(func() {
			close(blocked)
			<-release
		})
	})

	room := newTestRoom(false)
	is.NoErr(a.Start(context.Background(), room, student))
	_, err = a.Say(context.Background(), "Bonjour", true)
	is.NoErr(err)
	<-blocked
	close(room.mic)

	var queued []*SpeechHandle
	eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		h, err := a.Say(ctx, "encore ?", true)
		if err == nil {
			queued = append(queued, h)
		}
		return errors.Is(err, ErrClosed)
	}, "Say is rejected once playout stopped")

	select {
	case <-a.Done():
		t.Fatal("Done closed while an observer is still running")
	default:
	}
	for _, h := range queued {
		select {
		case <-h.Done():
		case <-time.After(3 * time.Second):
			t.Fatal("queued speech never finished")
		}
	}

	close(release)
	is.NoErr(a.Close())
}

// waitingRoom never delivers the participant's track.
type waitingRoom struct {
	testRoom
	waiting chan struct{}
}

func (r *waitingRoom) AudioInput(ctx context.Context, identity string) (<-chan rtc.AudioFrame, error) {
	close(r.waiting)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCloseCancelsStartWaitingForTrack(t *testing.T) {
	is := is.New(t)
	a, err := New(testOptions())
	is.NoErr(err)

	room := &waitingRoom{testRoom: *newTestRoom(false), waiting: make(chan struct{})}
	errc := make(chan error, 1)
	go func() { errc <- a.Start(context.Background(), room, student) }()
	<-room.waiting

	closed := make(chan struct{})
	go func() {
		a.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked behind Start")
	}
	is.True(errors.Is(<-errc, context.Canceled))
}

// ctxDetector remembers the context of the last prediction.
type ctxDetector struct {
	*faketurn.FakeTurnDetector

	mu  sync.Mutex
	ctx context.Context
}

func (d *ctxDetector) PredictEndOfTurn(ctx context.Context, chatCtx turn.ChatContext) (float64, error) {
	d.mu.Lock()
	d.ctx = ctx
	d.mu.Unlock()
	return d.FakeTurnDetector.PredictEndOfTurn(ctx, chatCtx)
}

func (d *ctxDetector) last() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ctx
}

func TestCommitReleasesEndOfTurnContext(t *testing.T) {
	is := is.New(t)
	opts := testOptions()
	det := &ctxDetector{FakeTurnDetector: faketurn.NewFakeTurnDetector()}
	opts.TurnDetector = det
	a, err := New(opts)
	is.NoErr(err)
	defer a.Close()

	room := newTestRoom(false)
	is.NoErr(a.Start(context.Background(), room, student))
	room.speak(30, 70)

	eventually(t, func() bool { return a.ChatContext().Count(llm.RoleAssistant) == 1 }, "agent replied")
	ctx := det.last()
	is.True(ctx != nil)
	is.True(ctx.Err() != nil) // cancelled by the commit, not by Close
}
