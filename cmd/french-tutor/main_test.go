package main

import (
	"bytes"
	"context"
	"encoding/json"
	"expvar"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/french-tutor-agent/agents"
	"github.com/chriscow/french-tutor-agent/internal/config"
	"github.com/chriscow/french-tutor-agent/pkg/agent"
	"github.com/chriscow/french-tutor-agent/pkg/ai/vad"
	"github.com/chriscow/french-tutor-agent/pkg/job"
	"github.com/chriscow/french-tutor-agent/pkg/rtc"
)

func fakeConfig(t *testing.T) *config.Config {
	t.Helper()
	for _, k := range []string{"STT_PROVIDER", "LLM_PROVIDER", "TTS_PROVIDER", "VAD_PROVIDER"} {
		t.Setenv(k, "fake")
	}
	t.Setenv("TTS_FALLBACK", "")
	t.Setenv("TTS_BASE_URL", "")
	t.Setenv("TURN_MODEL_PATH", t.TempDir()) // no model: the detector is skipped
	cfg := config.Load(config.NewViper())
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestSystemPrompt(t *testing.T) {
	is := is.New(t)
	is.True(strings.HasPrefix(systemPrompt, "Your name is Jack."))
	for _, want := range []string{"36 years old", "French tutor", "A1, A2, B1, B2", "4 sentences", "emoji"} {
		is.True(strings.Contains(systemPrompt, want)) // persona detail missing
	}
	is.Equal(greeting, "Bonjour, tu veux pratiquer le français?")
}

func TestPrewarmLoadsVAD(t *testing.T) {
	is := is.New(t)
	proc := agents.NewJobProcess(fakeConfig(t))

	is.NoErr(prewarm(proc))
	v, ok := proc.UserData.Get(vadKey)
	is.True(ok)
	_, ok = v.(vad.VAD)
	is.True(ok)
}

func TestPrewarmUnknownProvider(t *testing.T) {
	is := is.New(t)
	cfg := fakeConfig(t)
	cfg.Providers.VAD = "webrtc"
	is.True(prewarm(agents.NewJobProcess(cfg)) != nil)
}

func TestNewProvidersWithFallback(t *testing.T) {
	is := is.New(t)
	cfg := fakeConfig(t)
	cfg.Providers.TTSFallback = "fake"

	p, err := newProviders(cfg, slog.Default())
	is.NoErr(err)
	is.True(p.STT != nil && p.LLM != nil && p.Turn != nil)
	is.True(strings.Contains(p.TTS.(interface{ Label() string }).Label(), "Fallback"))
}

func TestNewProvidersUnknown(t *testing.T) {
	is := is.New(t)
	cfg := fakeConfig(t)
	cfg.Providers.LLM = "nobody"
	_, err := newProviders(cfg, slog.Default())
	is.True(err != nil)
	is.True(strings.HasPrefix(err.Error(), "llm:"))
}

func utterance() []rtc.AudioFrame {
	loud := make([]int16, 480)
	for i := range loud {
		loud[i] = 8000
		if i%2 == 1 {
			loud[i] = -8000
		}
	}
	var frames []rtc.AudioFrame
	for i := 0; i < 40; i++ {
		frames = append(frames, rtc.AudioFrame{Data: rtc.PCMBytes(loud), SampleRate: 48000, SamplesPerChannel: 480, NumChannels: 1})
	}
	for i := 0; i < 80; i++ {
		frames = append(frames, rtc.Silence(48000, 1))
	}
	return frames
}

// sessionTransport records the order in which the entrypoint uses the room.
type sessionTransport struct {
	*agents.ConsoleTransport

	mu    sync.Mutex
	calls []string
	sub   job.AutoSubscribe
}

func (t *sessionTransport) record(call string) {
	t.mu.Lock()
	t.calls = append(t.calls, call)
	t.mu.Unlock()
}

func (t *sessionTransport) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

func (t *sessionTransport) Connect(ctx context.Context, sub job.AutoSubscribe) error {
	t.mu.Lock()
	t.sub = sub
	t.mu.Unlock()
	t.record("connect")
	return t.ConsoleTransport.Connect(ctx, sub)
}

func (t *sessionTransport) WaitForParticipant(ctx context.Context, timeout time.Duration) (job.Participant, error) {
	p, err := t.ConsoleTransport.WaitForParticipant(ctx, timeout)
	t.record("participant")
	return p, err
}

func (t *sessionTransport) AudioOutput(ctx context.Context) (agent.AudioSink, error) {
	sink, err := t.ConsoleTransport.AudioOutput(ctx)
	if err != nil {
		return nil, err
	}
	return playRecorder{t, sink}, nil
}

type playRecorder struct {
	t    *sessionTransport
	sink agent.AudioSink
}

func (p playRecorder) Play(ctx context.Context, frames <-chan rtc.AudioFrame) (time.Duration, error) {
	p.t.record("play")
	return p.sink.Play(ctx, frames)
}

// logBuffer collects JSON log records from concurrent writers.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) records(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var recs []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		recs = append(recs, rec)
	}
	return recs
}

// TestEntrypointConsoleSession greets, hears one student turn, replies and
// logs usage at shutdown.
func TestEntrypointConsoleSession(t *testing.T) {
	is := is.New(t)
	cfg := fakeConfig(t)

	tr := &sessionTransport{ConsoleTransport: agents.NewConsoleTransport(agents.ConsoleOptions{
		Input:           utterance(),
		TrailingSilence: 500 * time.Millisecond,
		Linger:          2 * time.Second,
	})}
	logs := &logBuffer{}
	opts := &agents.WorkerOptions{
		Entrypoint:         entrypoint,
		Prewarm:            prewarm,
		Config:             cfg,
		ParticipantTimeout: time.Second,
		Logger:             slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	is.NoErr(agents.RunLocal(ctx, opts, "console", tr))

	is.True(len(tr.Recorded()) > 0) // greeting and reply were spoken
	is.Equal(tr.sub, job.AudioOnly)

	// Connect, then the participant, and only then any speech.
	calls := tr.Calls()
	is.True(len(calls) >= 4)
	is.Equal(calls[:2], []string{"connect", "participant"})
	plays := 0
	for _, c := range calls[2:] {
		is.Equal(c, "play")
		plays++
	}
	is.Equal(plays, 2) // greeting and one reply

	var (
		queued  []map[string]any
		counts  = map[string]int{}
		sums    = map[string]float64{}
		summary map[string]any
	)
	for _, rec := range logs.records(t) {
		switch msg := rec["msg"].(string); msg {
		case "Speech queued":
			queued = append(queued, rec)
		case "Usage":
			summary = rec
		case "stt metrics", "llm metrics", "tts metrics", "vad metrics", "eou metrics":
			counts[msg]++
			for _, k := range []string{"prompt_tokens", "completion_tokens", "characters"} {
				if v, ok := rec[k].(float64); ok {
					sums[k] += v
				}
			}
			if msg == "stt metrics" {
				sums["audio_duration"] += rec["audio_duration"].(float64)
			}
		}
	}

	// The greeting is the first thing said, and the student may cut it off.
	is.True(len(queued) >= 1)
	is.Equal(queued[0]["text"], greeting)
	is.Equal(queued[0]["allow_interruptions"], true)

	// One log record per metrics event: one TTS record per utterance, one
	// LLM reply and one end of turn.
	is.Equal(counts["tts metrics"], plays)
	is.Equal(counts["llm metrics"], 1)
	is.Equal(counts["eou metrics"], 1)
	is.True(counts["stt metrics"] >= 1)

	// And each one collected exactly once.
	is.True(summary != nil)
	is.Equal(summary["reason"], "room closed")
	is.Equal(summary["llm_prompt_tokens"], sums["prompt_tokens"])
	is.Equal(summary["llm_completion_tokens"], sums["completion_tokens"])
	is.Equal(summary["tts_characters_count"], sums["characters"])
	is.Equal(summary["stt_audio_duration"], sums["audio_duration"])
	is.True(sums["characters"] > float64(len([]rune(greeting)))) // greeting plus reply

	// The usage summary is unpublished when the job ends.
	is.Equal(expvar.Get("usage").String(), "{}")
}
