package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/chriscow/french-tutor-agent/pkg/ai/llm"
	"github.com/chriscow/french-tutor-agent/pkg/ai/tts"
	"github.com/chriscow/french-tutor-agent/pkg/metrics"
	"github.com/chriscow/french-tutor-agent/pkg/rtc"
)

// playout speaks queued handles one after another until ctx is done.
func (a *VoicePipelineAgent) playout(ctx context.Context, sink AudioSink) {
	defer a.stopSpeech()

	for {
		select {
		case <-ctx.Done():
			return
		case h := <-a.speechQ:
			a.speak(ctx, sink, h)
		}
	}
}

// interruptCurrent interrupts the playing speech. It reports true when the
// speech is playing but does not allow interruptions.
func (a *VoicePipelineAgent) interruptCurrent() bool {
	a.mu.Lock()
	h := a.current
	a.mu.Unlock()

	if h == nil {
		return false
	}
	if !h.AllowInterruptions {
		return true
	}
	if err := h.Interrupt(); err == nil {
		a.logger.Info("Speech interrupted", slog.String("speech_id", h.ID))
	}
	return false
}

func (a *VoicePipelineAgent) speak(ctx context.Context, sink AudioSink, h *SpeechHandle) {
	if h.Interrupted() {
		h.finish(nil)
		return
	}

	playCtx, stop := context.WithCancel(ctx)
	defer stop()
	defer context.AfterFunc(h.ctx, stop)()

	a.mu.Lock()
	a.current = h
	a.mu.Unlock()
	a.gate.SetSpeaking(true, h.AllowInterruptions)
	a.setState(StateSpeaking)

	defer func() {
		a.gate.SetSpeaking(false, true)
		a.mu.Lock()
		a.current = nil
		a.mu.Unlock()
		if a.GetState() == StateSpeaking {
			a.setState(StateIdle)
		}
	}()

	m := metrics.TTSMetrics{
		RequestID:       h.ID,
		Label:           labelOf(a.opts.TTS, "tts"),
		CharactersCount: len([]rune(h.Text)),
		Streamed:        a.opts.TTS.Capabilities().Streaming,
	}

	start := time.Now()
	frames, err := a.opts.TTS.Synthesize(playCtx, tts.SynthesizeRequest{
		Text:     h.Text,
		Voice:    a.opts.Voice,
		Language: a.opts.Language,
	})
	if err != nil {
		m.Timestamp = time.Now()
		m.Duration = time.Since(start)
		m.Cancelled = h.Interrupted()
		a.emit(m)
		if ctx.Err() == nil {
			a.logger.Error("TTS synthesis failed", slog.String("speech_id", h.ID), slog.String("error", err.Error()))
		}
		h.finish(err)
		return
	}

	meter := &ttsMeter{start: start, done: make(chan struct{})}
	played, err := sink.Play(playCtx, a.meterFrames(playCtx, frames, meter))
	stop()
	<-meter.done

	interrupted := h.Interrupted()
	m.Timestamp = time.Now()
	m.TTFB = meter.ttfb
	m.Duration = meter.elapsed
	m.AudioDuration = meter.audio
	m.Cancelled = interrupted
	a.emit(m)

	if interrupted || ctx.Err() != nil {
		err = nil
	} else if err != nil {
		a.logger.Error("Playout failed", slog.String("speech_id", h.ID), slog.String("error", err.Error()))
	}

	if played > 0 {
		a.chatCtx.Append(llm.RoleAssistant, h.Text)
	}
	a.logger.Debug("Speech done",
		slog.String("speech_id", h.ID),
		slog.Duration("played", played),
		slog.Bool("interrupted", interrupted))
	h.finish(err)
}

// ttsMeter is written by meterFrames and read once done is closed.
type ttsMeter struct {
	start   time.Time
	ttfb    time.Duration
	elapsed time.Duration
	audio   time.Duration
	done    chan struct{}
}

// meterFrames forwards synthesized frames, timing the synthesis and mixing
// in background audio.
func (a *VoicePipelineAgent) meterFrames(ctx context.Context, in <-chan rtc.AudioFrame, m *ttsMeter) <-chan rtc.AudioFrame {
	out := make(chan rtc.AudioFrame, 10)
	bg := a.opts.BackgroundAudio

	go func() {
		defer close(m.done)
		defer close(out)
		defer func() { m.elapsed = time.Since(m.start) }()

		first := true
		for f := range in {
			if first {
				m.ttfb = time.Since(m.start)
				a.recordFirstWord()
				first = false
			}
			m.audio += f.Duration()

			if bg != nil && bg.IsEnabled() {
				f = bg.MixFrames(f)
			}
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
