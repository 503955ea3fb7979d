// Package fake registers the scripted providers under the name "fake" so the
// console command and tests can run the whole pipeline without credentials.
package fake

import (
	"time"

	llmfake "github.com/chriscow/french-tutor-agent/pkg/ai/llm/fake"
	sttfake "github.com/chriscow/french-tutor-agent/pkg/ai/stt/fake"
	ttsfake "github.com/chriscow/french-tutor-agent/pkg/ai/tts/fake"
	"github.com/chriscow/french-tutor-agent/pkg/ai/vad"
	"github.com/chriscow/french-tutor-agent/pkg/plugin"
)

func newFakeSTT(cfg map[string]any) (any, error) {
	var transcripts []string
	switch t := cfg["transcript"].(type) {
	case string:
		transcripts = []string{t}
	case []string:
		transcripts = t
	}
	return sttfake.NewFakeSTT(transcripts...).WithLanguage(plugin.String(cfg, "language", "fr")), nil
}

func newFakeTTS(cfg map[string]any) (any, error) {
	t := ttsfake.NewFakeTTS()
	if realtime, ok := cfg["realtime"].(bool); ok {
		t.Realtime = realtime
	}
	return t, nil
}

func newFakeLLM(cfg map[string]any) (any, error) {
	responses := []string{
		"Très bien ! Et toi, qu'est-ce que tu aimes faire le week-end ?",
		"C'est super. Tu peux me raconter ta journée ?",
	}
	if r, ok := cfg["responses"].([]string); ok {
		responses = r
	}
	return llmfake.NewFakeLLM(responses...), nil
}

func newFakeVAD(cfg map[string]any) (any, error) {
	return vad.NewEnergyVAD(vad.EnergyOptions{
		Threshold:  plugin.Float(cfg, "threshold", vad.DefaultEnergyOptions.Threshold),
		MinSpeech:  time.Duration(plugin.Float(cfg, "min_speech_ms", 0)) * time.Millisecond,
		MinSilence: time.Duration(plugin.Float(cfg, "min_silence_ms", 0)) * time.Millisecond,
	}), nil
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindSTT,
		Name:        "fake",
		Factory:     newFakeSTT,
		Description: "Scripted STT for tests and console runs",
		Version:     "1.0.0",
		Config: map[string]any{
			"transcript": "transcript text, or a list of them",
			"language":   "fr",
		},
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindTTS,
		Name:        "fake",
		Factory:     newFakeTTS,
		Description: "Tone TTS for tests and console runs",
		Version:     "1.0.0",
		Config: map[string]any{
			"realtime": false,
		},
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindLLM,
		Name:        "fake",
		Factory:     newFakeLLM,
		Description: "Scripted LLM for tests and console runs",
		Version:     "1.0.0",
		Config: map[string]any{
			"responses": []string{"list of canned replies"},
		},
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindVAD,
		Name:        "fake",
		Factory:     newFakeVAD,
		Description: "Energy threshold VAD",
		Version:     "1.0.0",
		Config: map[string]any{
			"threshold": vad.DefaultEnergyOptions.Threshold,
		},
	})
}
