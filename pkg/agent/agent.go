// Package agent implements the voice pipeline agent: microphone audio flows
// through VAD and STT, the turn detector and endpointing delays decide when
// the user is done, the LLM answers and TTS speaks the reply. The agent moves
// through Idle → Listening → Thinking → Speaking states.
package agent

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chriscow/french-tutor-agent/pkg/ai/llm"
	"github.com/chriscow/french-tutor-agent/pkg/ai/stt"
	"github.com/chriscow/french-tutor-agent/pkg/ai/tts"
	"github.com/chriscow/french-tutor-agent/pkg/ai/vad"
	"github.com/chriscow/french-tutor-agent/pkg/job"
	"github.com/chriscow/french-tutor-agent/pkg/metrics"
	"github.com/chriscow/french-tutor-agent/pkg/turn"
	"github.com/chriscow/french-tutor-agent/pkg/voice"
)

var (
	// ErrNoParticipant is returned by Start without a participant.
	ErrNoParticipant = errors.New("agent: participant is required")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("agent: already started")

	// ErrNotStarted is returned by Say before Start.
	ErrNotStarted = errors.New("agent: not started")

	// ErrClosed is returned by Say after the agent stopped.
	ErrClosed = errors.New("agent: closed")
)

// AgentState represents the current state of the voice agent.
type AgentState int32

const (
	StateIdle AgentState = iota
	StateListening
	StateThinking
	StateSpeaking
)

func (s AgentState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateListening:
		return "Listening"
	case StateThinking:
		return "Thinking"
	case StateSpeaking:
		return "Speaking"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// transitions aggregates state changes of every agent in the process and is
// served on /debug/vars.
var transitions = expvar.NewMap("agent_state_transitions")

// AgentMetrics holds performance metrics for one agent.
type AgentMetrics struct {
	FirstWordLatency *expvar.Float
	SessionDuration  *expvar.Float
	StateTransitions *expvar.Map
}

// Options configures a VoicePipelineAgent. Every provider slot and the chat
// context are required.
type Options struct {
	VAD          vad.VAD
	STT          stt.STT
	LLM          llm.LLM
	TTS          tts.TTS
	TurnDetector turn.Detector

	// ChatContext is the conversation history, starting with the system turn.
	// The agent appends to it as the conversation goes.
	ChatContext *llm.ChatContext

	// Zero values fall back to turn.DefaultEndpointing.
	MinEndpointingDelay time.Duration
	MaxEndpointingDelay time.Duration

	// AllowInterruptions applies to generated replies. Say takes its own flag.
	AllowInterruptions bool

	// Language is used for STT streams, the turn detector and TTS. Defaults to "fr".
	Language string
	Voice    string

	// BackgroundAudio is optional background audio mixed into speech.
	BackgroundAudio *BackgroundAudio

	Logger *slog.Logger
}

func (o *Options) validate() error {
	slots := []struct {
		name string
		set  bool
	}{
		{"VAD", o.VAD != nil},
		{"STT", o.STT != nil},
		{"LLM", o.LLM != nil},
		{"TTS", o.TTS != nil},
		{"TurnDetector", o.TurnDetector != nil},
		{"ChatContext", o.ChatContext != nil},
	}
	for _, s := range slots {
		if !s.set {
			return fmt.Errorf("agent: %s is required", s.name)
		}
	}

	if o.MinEndpointingDelay == 0 {
		o.MinEndpointingDelay = turn.DefaultEndpointing.Min
	}
	if o.MaxEndpointingDelay == 0 {
		o.MaxEndpointingDelay = turn.DefaultEndpointing.Max
	}
	if err := o.endpointing().Validate(); err != nil {
		return fmt.Errorf("agent: %w", err)
	}

	if o.Language == "" {
		o.Language = "fr"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return nil
}

func (o *Options) endpointing() turn.Endpointing {
	return turn.Endpointing{Min: o.MinEndpointingDelay, Max: o.MaxEndpointingDelay}
}

// VoicePipelineAgent runs one conversation with one participant.
type VoicePipelineAgent struct {
	opts    Options
	logger  *slog.Logger
	chatCtx *llm.ChatContext
	gate    *voice.AudioGate
	metrics *AgentMetrics
	events  *metrics.Dispatcher

	state   atomic.Int32
	started atomic.Bool

	mu      sync.Mutex
	current *SpeechHandle // playing now
	cancel  context.CancelFunc
	closed  bool
	wg      sync.WaitGroup

	// qmu orders enqueues against the final drain of speechQ.
	qmu      sync.Mutex
	speechQ  chan *SpeechHandle
	stopping chan struct{} // closed once playout stops taking speech
	stopOnce sync.Once

	sessionStart  time.Time
	firstWordOnce sync.Once

	done       chan struct{}
	closeOnce  sync.Once
	finishOnce sync.Once
}

// New creates an agent after checking every provider slot and the
// endpointing bounds.
func New(opts Options) (*VoicePipelineAgent, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	a := &VoicePipelineAgent{
		opts:     opts,
		logger:   opts.Logger.With("component", "agent"),
		chatCtx:  opts.ChatContext,
		gate:     voice.NewAudioGate(),
		metrics:  newAgentMetrics(),
		events:   metrics.NewDispatcher(),
		speechQ:  make(chan *SpeechHandle, 16),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
	return a, nil
}

// OnMetrics registers fn for every metrics record. Records are delivered in
// order, exactly once, on a single goroutine.
func (a *VoicePipelineAgent) OnMetrics(fn metrics.Observer) {
	a.events.Subscribe(fn)
}

// ChatContext returns the live conversation history.
func (a *VoicePipelineAgent) ChatContext() *llm.ChatContext {
	return a.chatCtx
}

// Metrics returns the agent's expvar counters.
func (a *VoicePipelineAgent) Metrics() *AgentMetrics {
	return a.metrics
}

// Start subscribes to the participant's microphone, publishes the agent's
// voice and runs the pipeline in the background until ctx is done, the
// participant's audio ends or Close is called.
func (a *VoicePipelineAgent) Start(ctx context.Context, room Room, participant *job.Participant) error {
	if participant == nil {
		return ErrNoParticipant
	}
	if room == nil {
		return fmt.Errorf("agent: room is required")
	}
	if !a.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	// mu is not held while waiting for the participant's track, so Close
	// can cancel the wait.
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.mu.Unlock()

	fail := func(err error) error {
		cancel()
		a.mu.Lock()
		a.cancel = nil
		closed := a.closed
		a.mu.Unlock()
		a.started.Store(false)
		if closed {
			a.finish()
		}
		return err
	}

	mic, err := room.AudioInput(runCtx, participant.Identity)
	if err != nil {
		return fail(fmt.Errorf("agent: audio input: %w", err))
	}
	sink, err := room.AudioOutput(runCtx)
	if err != nil {
		return fail(fmt.Errorf("agent: audio output: %w", err))
	}

	a.sessionStart = time.Now()
	a.setState(StateIdle)

	p := newPipeline(a, mic)
	if err := p.start(runCtx); err != nil {
		return fail(err)
	}

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		if err := p.run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("Pipeline stopped", slog.String("error", err.Error()))
		}
		cancel()
	}()
	go func() {
		defer a.wg.Done()
		a.playout(runCtx, sink)
	}()

	go func() {
		a.wg.Wait()
		a.updateSessionDuration()
		a.finish()
	}()

	a.logger.Info("Agent started", slog.String("participant", participant.Identity))
	return nil
}

// Say queues text to be spoken. Queued speech plays in order; the text is
// added to the chat context once played.
func (a *VoicePipelineAgent) Say(ctx context.Context, text string, allowInterruptions bool) (*SpeechHandle, error) {
	if !a.started.Load() {
		return nil, ErrNotStarted
	}
	h := newSpeechHandle(text, allowInterruptions)
	if err := a.enqueue(ctx, h); err != nil {
		return nil, err
	}
	a.logger.Debug("Speech queued",
		slog.String("speech_id", h.ID),
		slog.String("text", text),
		slog.Bool("allow_interruptions", allowInterruptions))
	return h, nil
}

func (a *VoicePipelineAgent) enqueue(ctx context.Context, h *SpeechHandle) error {
	a.qmu.Lock()
	defer a.qmu.Unlock()
	select {
	case <-a.stopping:
		return ErrClosed
	default:
	}
	select {
	case a.speechQ <- h:
		return nil
	case <-a.stopping:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stopSpeech refuses new speech and fails everything still queued.
func (a *VoicePipelineAgent) stopSpeech() {
	a.stopOnce.Do(func() { close(a.stopping) })

	a.qmu.Lock()
	defer a.qmu.Unlock()
	for {
		select {
		case h := <-a.speechQ:
			h.finish(ErrClosed)
		default:
			return
		}
	}
}

// finish delivers the last metrics and closes done.
func (a *VoicePipelineAgent) finish() {
	a.finishOnce.Do(func() {
		a.events.Close()
		close(a.done)
	})
}

// Done is closed once the agent has stopped and delivered its last metrics.
func (a *VoicePipelineAgent) Done() <-chan struct{} {
	return a.done
}

// Close stops the pipeline and waits for it to wind down.
func (a *VoicePipelineAgent) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		cancel := a.cancel
		a.mu.Unlock()
		if cancel == nil {
			a.stopSpeech()
			a.finish()
			return
		}
		cancel()
	})
	<-a.done
	return nil
}

// GetState returns the current state of the agent.
func (a *VoicePipelineAgent) GetState() AgentState {
	return AgentState(a.state.Load())
}

// setState atomically updates the agent's state and records metrics.
func (a *VoicePipelineAgent) setState(newState AgentState) {
	oldState := AgentState(a.state.Swap(int32(newState)))
	if oldState == newState {
		return
	}

	key := fmt.Sprintf("%s_to_%s", oldState, newState)
	a.metrics.StateTransitions.Add(key, 1)
	transitions.Add(key, 1)
}

func (a *VoicePipelineAgent) emit(m metrics.AgentMetrics) {
	a.events.Emit(m)
}

func (a *VoicePipelineAgent) recordFirstWord() {
	a.firstWordOnce.Do(func() {
		a.metrics.FirstWordLatency.Set(float64(time.Since(a.sessionStart).Milliseconds()))
	})
}

func (a *VoicePipelineAgent) updateSessionDuration() {
	a.metrics.SessionDuration.Set(float64(time.Since(a.sessionStart).Milliseconds()))
}

func newAgentMetrics() *AgentMetrics {
	stateTransitions := &expvar.Map{}
	stateTransitions.Init()

	return &AgentMetrics{
		FirstWordLatency: &expvar.Float{},
		SessionDuration:  &expvar.Float{},
		StateTransitions: stateTransitions,
	}
}

// labeled is satisfied by providers that name themselves in metrics.
type labeled interface {
	Label() string
}

func labelOf(v any, fallback string) string {
	if l, ok := v.(labeled); ok {
		return l.Label()
	}
	return fallback
}
