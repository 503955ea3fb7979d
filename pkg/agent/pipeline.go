package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/chriscow/french-tutor-agent/pkg/ai/llm"
	"github.com/chriscow/french-tutor-agent/pkg/ai/stt"
	"github.com/chriscow/french-tutor-agent/pkg/ai/vad"
	"github.com/chriscow/french-tutor-agent/pkg/metrics"
	"github.com/chriscow/french-tutor-agent/pkg/rtc"
	"github.com/chriscow/french-tutor-agent/pkg/turn"
)

// prerollFrames is how much audio before VAD speech start reaches STT.
const prerollFrames = 30

// pipeline owns the turn loop. Fields below the channels are only touched
// by the run goroutine.
type pipeline struct {
	a      *VoicePipelineAgent
	mic    <-chan rtc.AudioFrame
	logger *slog.Logger
	rec    *recognizer

	vadEvents   <-chan vad.VADEvent
	transcripts chan transcript
	commits     chan commit

	userSpeaking  bool
	lastSpeechEnd time.Time
	lastFinalAt   time.Time
	pending       []string
	current       *utterance
	eouSeq        int
	eouCancel     context.CancelFunc
	replyCancel   context.CancelFunc
}

// utterance is one STT stream, opened at speech start.
type utterance struct {
	id       string
	stream   stt.STTStream
	closedAt atomic.Int64 // unix nanos of CloseSend
}

type transcript struct {
	u     *utterance
	event stt.SpeechEvent
	at    time.Time
}

type commit struct {
	seq       int
	speechEnd time.Time
	finalAt   time.Time
}

func newPipeline(a *VoicePipelineAgent, mic <-chan rtc.AudioFrame) *pipeline {
	logger := a.logger.With("component", "pipeline")
	return &pipeline{
		a:           a,
		mic:         mic,
		logger:      logger,
		rec:         &recognizer{stt: a.opts.STT, lang: a.opts.Language, logger: logger},
		transcripts: make(chan transcript, 8),
		commits:     make(chan commit, 1),
	}
}

// start wires mic → gate → (VAD, STT).
func (p *pipeline) start(ctx context.Context) error {
	gated := p.a.gate.Filter(ctx, p.mic)

	vadIn := make(chan rtc.AudioFrame, 100)
	events, err := p.a.opts.VAD.Detect(ctx, vadIn)
	if err != nil {
		return err
	}
	p.vadEvents = events

	go func() {
		defer close(vadIn)
		for f := range gated {
			select {
			case vadIn <- f:
			case <-ctx.Done():
				return
			}
			p.rec.push(f)
		}
	}()
	return nil
}

func (p *pipeline) run(ctx context.Context) error {
	defer p.stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-p.vadEvents:
			if !ok {
				p.logger.Info("Microphone closed")
				return nil
			}
			p.onVAD(ctx, ev)
		case t := <-p.transcripts:
			p.onTranscript(ctx, t)
		case c := <-p.commits:
			p.onCommit(ctx, c)
		}
	}
}

func (p *pipeline) stop() {
	p.cancelEOU()
	p.cancelReply()
	p.rec.close()
}

func (p *pipeline) onVAD(ctx context.Context, ev vad.VADEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.InferenceCount > 0 {
		var idle time.Duration
		if ev.Type == vad.VADEventSpeechStart && !p.lastSpeechEnd.IsZero() {
			idle = ev.Timestamp.Sub(p.lastSpeechEnd)
		}
		p.a.emit(metrics.VADMetrics{
			Timestamp:              ev.Timestamp,
			Label:                  labelOf(p.a.opts.VAD, "vad"),
			IdleTime:               idle,
			InferenceDurationTotal: ev.InferenceDuration,
			InferenceCount:         ev.InferenceCount,
		})
	}

	switch ev.Type {
	case vad.VADEventSpeechStart:
		p.userSpeaking = true
		p.cancelEOU()
		p.cancelReply()
		if !p.a.interruptCurrent() {
			p.a.setState(StateListening)
		}
		if p.current == nil {
			u, err := p.rec.open(ctx)
			if err != nil {
				p.logger.Error("Failed to open STT stream", slog.String("error", err.Error()))
				return
			}
			p.current = u
			go p.forward(ctx, u)
		}

	case vad.VADEventSpeechEnd:
		p.userSpeaking = false
		p.lastSpeechEnd = ev.Timestamp
		if p.current != nil {
			p.current = nil
			p.rec.close()
		}
		if len(p.pending) > 0 {
			p.scheduleEOU(ctx)
		}

	case vad.VADEventError:
		p.logger.Warn("VAD error", slog.Any("error", ev.Error))
	}
}

// forward relays one stream's results to the loop until the stream closes.
func (p *pipeline) forward(ctx context.Context, u *utterance) {
	for ev := range u.stream.Events() {
		switch ev.Type {
		case stt.SpeechEventFinal:
			select {
			case p.transcripts <- transcript{u: u, event: ev, at: time.Now()}:
			case <-ctx.Done():
				return
			}
		case stt.SpeechEventInterim:
			p.logger.Debug("Interim transcript", slog.String("text", ev.Text))
		case stt.SpeechEventError:
			p.logger.Warn("STT error", slog.Any("error", ev.Error))
		}
	}
}

func (p *pipeline) onTranscript(ctx context.Context, t transcript) {
	var waited time.Duration
	if closed := t.u.closedAt.Load(); closed > 0 {
		waited = t.at.Sub(time.Unix(0, closed))
	}
	p.a.emit(metrics.STTMetrics{
		RequestID:     t.u.id,
		Timestamp:     t.at,
		Label:         labelOf(p.a.opts.STT, "stt"),
		Duration:      waited,
		AudioDuration: t.event.AudioDuration,
		Streamed:      p.a.opts.STT.Capabilities().Streaming,
	})

	text := strings.TrimSpace(t.event.Text)
	if text == "" {
		if !p.userSpeaking && len(p.pending) == 0 && p.a.GetState() == StateListening {
			p.a.setState(StateIdle)
		}
		return
	}

	p.logger.Info("User said", slog.String("text", text))
	p.pending = append(p.pending, text)
	p.lastFinalAt = t.at
	if !p.userSpeaking {
		p.scheduleEOU(ctx)
	}
}

// scheduleEOU asks the turn detector how long to wait, then posts a commit
// unless new speech arrives first.
func (p *pipeline) scheduleEOU(ctx context.Context) {
	p.cancelEOU()
	p.eouSeq++
	seq := p.eouSeq

	eouCtx, cancel := context.WithCancel(ctx)
	p.eouCancel = cancel

	lang := p.a.opts.Language
	messages := append(p.a.chatCtx.Messages(), llm.Message{
		Role:    llm.RoleUser,
		Content: strings.Join(p.pending, " "),
	})
	c := commit{seq: seq, speechEnd: p.lastSpeechEnd, finalAt: p.lastFinalAt}
	if c.speechEnd.IsZero() {
		c.speechEnd = time.Now()
	}

	go func() {
		delay := p.endpointingDelay(eouCtx, messages, lang)

		if wait := time.Until(c.speechEnd.Add(delay)); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-eouCtx.Done():
				return
			}
		}

		select {
		case p.commits <- c:
		case <-eouCtx.Done():
		}
	}()
}

func (p *pipeline) endpointingDelay(ctx context.Context, messages []llm.Message, lang string) time.Duration {
	ep := p.a.opts.endpointing()
	det := p.a.opts.TurnDetector
	if !det.SupportsLanguage(lang) {
		return ep.Min
	}

	threshold, err := det.UnlikelyThreshold(lang)
	if err != nil {
		p.logger.Warn("Turn detector threshold unavailable", slog.String("error", err.Error()))
		return ep.Min
	}
	prob, err := det.PredictEndOfTurn(ctx, turn.ChatContext{Messages: messages, Language: lang})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.logger.Warn("Turn detector failed", slog.String("error", err.Error()))
		}
		return ep.Min
	}

	delay := ep.Delay(prob, threshold)
	p.logger.Debug("End of turn prediction",
		slog.Float64("probability", prob),
		slog.Float64("threshold", threshold),
		slog.Duration("delay", delay))
	return delay
}

func (p *pipeline) onCommit(ctx context.Context, c commit) {
	if c.seq != p.eouSeq || p.userSpeaking || len(p.pending) == 0 {
		return
	}
	p.cancelEOU()

	text := strings.Join(p.pending, " ")
	p.pending = nil

	now := time.Now()
	transcriptionDelay := c.finalAt.Sub(c.speechEnd)
	if transcriptionDelay < 0 {
		transcriptionDelay = 0
	}
	p.a.emit(metrics.PipelineEOUMetrics{
		SequenceID:          uuid.NewString(),
		Timestamp:           now,
		EndOfUtteranceDelay: now.Sub(c.speechEnd),
		TranscriptionDelay:  transcriptionDelay,
	})

	p.a.chatCtx.Append(llm.RoleUser, text)
	p.a.setState(StateThinking)

	p.cancelReply()
	replyCtx, cancel := context.WithCancel(ctx)
	p.replyCancel = cancel
	go p.reply(replyCtx)
}

// reply asks the LLM for an answer to the full history and queues it.
func (p *pipeline) reply(ctx context.Context) {
	a := p.a
	start := time.Now()
	resp, err := a.opts.LLM.Chat(ctx, llm.ChatRequest{Messages: a.chatCtx.Messages()})
	elapsed := time.Since(start)

	m := metrics.LLMMetrics{
		RequestID: uuid.NewString(),
		Timestamp: time.Now(),
		Label:     labelOf(a.opts.LLM, "llm"),
		TTFT:      elapsed,
		Duration:  elapsed,
		Cancelled: ctx.Err() != nil,
	}
	if err != nil {
		a.emit(m)
		if ctx.Err() == nil {
			p.logger.Error("LLM chat failed", slog.String("error", err.Error()))
			a.setState(StateIdle)
		}
		return
	}

	m.PromptTokens = resp.Usage.PromptTokens
	m.CompletionTokens = resp.Usage.CompletionTokens
	m.TotalTokens = resp.Usage.TotalTokens
	if secs := elapsed.Seconds(); secs > 0 {
		m.TokensPerSecond = float64(resp.Usage.CompletionTokens) / secs
	}
	a.emit(m)

	text := strings.TrimSpace(resp.Message.Content)
	if text == "" || ctx.Err() != nil {
		if ctx.Err() == nil {
			a.setState(StateIdle)
		}
		return
	}

	h := newSpeechHandle(text, a.opts.AllowInterruptions)
	if err := a.enqueue(ctx, h); err != nil {
		return
	}

	// new user speech cancels ctx; drop the reply with it
	stop := context.AfterFunc(ctx, func() { _ = h.Interrupt() })
	go func() {
		<-h.Done()
		stop()
	}()
}

func (p *pipeline) cancelEOU() {
	if p.eouCancel != nil {
		p.eouCancel()
		p.eouCancel = nil
	}
}

func (p *pipeline) cancelReply() {
	if p.replyCancel != nil {
		p.replyCancel()
		p.replyCancel = nil
	}
}

// recognizer feeds microphone audio to the open STT stream, keeping a short
// preroll while no stream is open.
type recognizer struct {
	stt    stt.STT
	lang   string
	logger *slog.Logger

	mu      sync.Mutex
	current *utterance
	preroll []rtc.AudioFrame
}

func (r *recognizer) push(f rtc.AudioFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		if err := r.current.stream.Push(f); err != nil && !errors.Is(err, stt.ErrStreamClosed) {
			r.logger.Warn("STT push failed", slog.String("error", err.Error()))
		}
		return
	}

	r.preroll = append(r.preroll, f)
	if n := len(r.preroll); n > prerollFrames {
		r.preroll = r.preroll[n-prerollFrames:]
	}
}

func (r *recognizer) open(ctx context.Context) (*utterance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rate := 48000
	if len(r.preroll) > 0 {
		rate = r.preroll[0].SampleRate
	}
	stream, err := r.stt.NewStream(ctx, stt.StreamConfig{
		SampleRate:  rate,
		NumChannels: 1,
		Lang:        r.lang,
		MaxRetry:    3,
	})
	if err != nil {
		return nil, err
	}

	u := &utterance{id: uuid.NewString(), stream: stream}
	for _, f := range r.preroll {
		if err := stream.Push(f); err != nil {
			break
		}
	}
	r.preroll = r.preroll[:0]
	r.current = u
	return u, nil
}

func (r *recognizer) close() {
	r.mu.Lock()
	u := r.current
	r.current = nil
	r.mu.Unlock()

	if u == nil {
		return
	}
	u.closedAt.Store(time.Now().UnixNano())
	if err := u.stream.CloseSend(); err != nil {
		r.logger.Warn("STT close failed", slog.String("error", err.Error()))
	}
}
