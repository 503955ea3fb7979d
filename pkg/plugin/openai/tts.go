package openai

import (
	"context"
	"io"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chriscow/french-tutor-agent/pkg/ai"
	"github.com/chriscow/french-tutor-agent/pkg/ai/tts"
	"github.com/chriscow/french-tutor-agent/pkg/rtc"
)

// SampleRate of the raw PCM returned by the speech endpoint.
const SampleRate = 24000

// TTS implements tts.TTS with the speech endpoint, requesting raw PCM so no
// decoding is needed.
type TTS struct {
	client *openai.Client
	model  string
	voice  string
	label  string
	retry  ai.RetryConfig
}

// NewTTS creates a speech provider.
func NewTTS(cfg Config) (*TTS, error) {
	client, err := cfg.client()
	if err != nil {
		return nil, err
	}
	model, voice := cfg.Model, cfg.Voice
	if model == "" {
		model = string(openai.TTSModel1)
	}
	if voice == "" {
		voice = string(openai.VoiceEcho)
	}
	return &TTS{client: client, model: model, voice: voice, label: cfg.label("TTS"), retry: ai.DefaultRetryConfig}, nil
}

func (o *TTS) Label() string { return o.label }

// Synthesize waits for the response headers, then streams 10 ms frames as
// the body arrives.
func (o *TTS) Synthesize(ctx context.Context, req tts.SynthesizeRequest) (<-chan rtc.AudioFrame, error) {
	voice := req.Voice
	if voice == "" {
		voice = o.voice
	}
	speech := openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.model),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	}
	if req.Speed > 0 {
		speech.Speed = float64(req.Speed)
	}

	var body io.ReadCloser
	err := ai.Retry(ctx, o.retry, func(ctx context.Context) error {
		resp, err := o.client.CreateSpeech(ctx, speech)
		if err != nil {
			return classify(err, "openai tts: create speech")
		}
		body = resp
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make(chan rtc.AudioFrame, 10)
	go func() {
		defer close(out)
		defer body.Close()
		if err := tts.StreamPCM(ctx, body, SampleRate, out); err != nil && ctx.Err() == nil {
			slog.Error("TTS stream failed", slog.String("provider", o.label), slog.String("error", err.Error()))
		}
	}()
	return out, nil
}

func (o *TTS) Capabilities() tts.TTSCapabilities {
	return tts.TTSCapabilities{
		Streaming:            true,
		SupportedLanguages:   []string{"en", "fr", "de", "es", "it", "pt"},
		SupportedVoices:      []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"},
		SampleRates:          []int{SampleRate},
		SupportsSpeedControl: true,
	}
}
