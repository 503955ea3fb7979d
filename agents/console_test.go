package agents

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/french-tutor-agent/pkg/agent"
	"github.com/chriscow/french-tutor-agent/pkg/ai/llm"
	fakellm "github.com/chriscow/french-tutor-agent/pkg/ai/llm/fake"
	fakestt "github.com/chriscow/french-tutor-agent/pkg/ai/stt/fake"
	faketts "github.com/chriscow/french-tutor-agent/pkg/ai/tts/fake"
	"github.com/chriscow/french-tutor-agent/pkg/ai/vad"
	"github.com/chriscow/french-tutor-agent/pkg/audio/wav"
	"github.com/chriscow/french-tutor-agent/pkg/job"
	"github.com/chriscow/french-tutor-agent/pkg/rtc"
	faketurn "github.com/chriscow/french-tutor-agent/pkg/turn/fake"
)

func tone() rtc.AudioFrame {
	samples := make([]int16, consoleRate/100)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 8000
		} else {
			samples[i] = -8000
		}
	}
	return rtc.AudioFrame{
		Data:              rtc.PCMBytes(samples),
		SampleRate:        consoleRate,
		SamplesPerChannel: consoleRate / 100,
		NumChannels:       1,
	}
}

func utterance() []rtc.AudioFrame {
	var frames []rtc.AudioFrame
	for i := 0; i < 30; i++ {
		frames = append(frames, tone())
	}
	for i := 0; i < 70; i++ {
		frames = append(frames, rtc.Silence(consoleRate, 1))
	}
	return frames
}

// TestConsoleConversation runs a greeting and one student turn through the
// console transport and checks the recording and the history.
func TestConsoleConversation(t *testing.T) {
	is := is.New(t)

	var a *agent.VoicePipelineAgent
	entry := func(jc *JobContext) error {
		if err := jc.Connect(jc.Context(), job.AudioOnly); err != nil {
			return err
		}
		p, err := jc.WaitForParticipant(jc.Context())
		if err != nil {
			return err
		}
		a, err = agent.New(agent.Options{
			VAD:                 vad.NewEnergyVAD(vad.EnergyOptions{}),
			STT:                 fakestt.NewFakeSTT("Je voudrais un café"),
			LLM:                 fakellm.NewFakeLLM("Très bien, un café !"),
			TTS:                 faketts.NewFakeTTS(),
			TurnDetector:        faketurn.NewFakeTurnDetector(),
			ChatContext:         llm.NewChatContext().Append(llm.RoleSystem, "Tu es Jack."),
			MinEndpointingDelay: 20 * time.Millisecond,
			MaxEndpointingDelay: 300 * time.Millisecond,
			AllowInterruptions:  true,
		})
		if err != nil {
			return err
		}
		jc.AddShutdownCallback(func(string) { a.Close() })
		if err := a.Start(jc.Context(), jc.AgentRoom(), &p); err != nil {
			return err
		}
		_, err = a.Say(jc.Context(), "Bonjour, tu veux pratiquer le français?", true)
		return err
	}

	tr := NewConsoleTransport(ConsoleOptions{
		Input:           utterance(),
		TrailingSilence: 200 * time.Millisecond,
		Linger:          time.Second,
		Logger:          slog.Default(),
	})
	j, err := job.New(context.Background(), job.Config{RoomName: "console"})
	is.NoErr(err)

	is.NoErr(newRunner(testOptions(entry)).run(j, tr, nil))

	is.Equal(a.ChatContext().Count(llm.RoleAssistant), 2) // greeting and reply
	msgs := a.ChatContext().Messages()
	is.Equal(msgs[1].Content, "Bonjour, tu veux pratiquer le français?")

	rec := tr.Recorded()
	is.True(len(rec) > 0)
	for _, f := range rec {
		is.Equal(f.SampleRate, consoleRate) // speech is recorded at the console rate
	}

	out := filepath.Join(t.TempDir(), "out.wav")
	is.NoErr(tr.WriteRecording(out))
	back, err := wav.ReadFile(out)
	is.NoErr(err)
	is.Equal(len(back), len(rec))
}

func TestConsoleInputClosesAfterLinger(t *testing.T) {
	is := is.New(t)
	tr := NewConsoleTransport(ConsoleOptions{Input: utterance(), Linger: 50 * time.Millisecond})
	is.NoErr(tr.Connect(context.Background(), job.AudioOnly))

	mic, err := tr.AudioInput(context.Background(), ConsoleParticipant.Identity)
	is.NoErr(err)

	_, err = tr.AudioInput(context.Background(), ConsoleParticipant.Identity)
	is.True(err != nil) // only one reader

	n := 0
	for range mic {
		n++
	}
	is.True(n >= len(utterance()))

	select {
	case <-tr.Done():
	case <-time.After(time.Second):
		t.Fatal("room not closed after the microphone ended")
	}
}

func TestConsoleRejectsUnknownParticipant(t *testing.T) {
	is := is.New(t)
	tr := NewConsoleTransport(ConsoleOptions{})
	_, err := tr.AudioInput(context.Background(), "someone")
	is.True(err != nil)
}

func TestLoadConsoleInputResamples(t *testing.T) {
	is := is.New(t)
	path := filepath.Join(t.TempDir(), "in.wav")
	frames := make([]rtc.AudioFrame, 50)
	for i := range frames {
		frames[i] = rtc.Silence(16000, 1)
	}
	is.NoErr(wav.WriteFile(path, frames))

	got, err := LoadConsoleInput(path)
	is.NoErr(err)
	is.True(len(got) > 0)
	is.Equal(got[0].SampleRate, consoleRate)
	is.Equal(got[0].NumChannels, 1)
}
