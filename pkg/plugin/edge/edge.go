// Package edge speaks through Microsoft Edge's online voices. The service
// streams MP3, which is decoded with beep and resampled to 24 kHz PCM.
package edge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/difyz9/edge-tts-go/pkg/communicate"
	"github.com/gopxl/beep/mp3"

	"github.com/chriscow/french-tutor-agent/pkg/ai"
	"github.com/chriscow/french-tutor-agent/pkg/ai/tts"
	"github.com/chriscow/french-tutor-agent/pkg/audio/resample"
	"github.com/chriscow/french-tutor-agent/pkg/plugin"
	"github.com/chriscow/french-tutor-agent/pkg/rtc"
)

// SampleRate of the frames Synthesize emits.
const SampleRate = 24000

// DefaultVoice is a male French neural voice to match Jack.
const DefaultVoice = "fr-FR-HenriNeural"

// Options configures Edge TTS. Rate, Volume and Pitch use the service's
// relative notation, e.g. "+10%" or "-2Hz".
type Options struct {
	Voice  string
	Rate   string
	Volume string
	Pitch  string
	Proxy  string

	ConnectTimeout int // seconds
	ReceiveTimeout int // seconds
}

// TTS implements tts.TTS.
type TTS struct {
	opts Options
}

// New fills defaults into opts.
func New(opts Options) *TTS {
	if opts.Voice == "" {
		opts.Voice = DefaultVoice
	}
	if opts.Rate == "" {
		opts.Rate = "+0%"
	}
	if opts.Volume == "" {
		opts.Volume = "+0%"
	}
	if opts.Pitch == "" {
		opts.Pitch = "+0Hz"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10
	}
	if opts.ReceiveTimeout == 0 {
		opts.ReceiveTimeout = 60
	}
	return &TTS{opts: opts}
}

func (e *TTS) Label() string { return "edge.TTS" }

// Synthesize opens the service stream and decodes audio as it arrives.
func (e *TTS) Synthesize(ctx context.Context, req tts.SynthesizeRequest) (<-chan rtc.AudioFrame, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ai.NewFatalError(nil, "edge tts: empty text")
	}
	voice := req.Voice
	if voice == "" {
		voice = e.opts.Voice
	}

	comm, err := communicate.NewCommunicate(
		req.Text,
		voice,
		e.opts.Rate,
		e.opts.Volume,
		e.opts.Pitch,
		e.opts.Proxy,
		e.opts.ConnectTimeout,
		e.opts.ReceiveTimeout,
	)
	if err != nil {
		return nil, ai.NewRecoverableError(err, "edge tts: connect")
	}

	chunks, errs := comm.Stream(ctx)
	pr, pw := io.Pipe()

	// copy MP3 chunks into the pipe; keep draining once the decoder is gone
	go func() {
		var gone bool
		for chunk := range chunks {
			if gone || chunk.Type != "audio" {
				continue
			}
			if _, err := pw.Write(chunk.Data); err != nil {
				gone = true
			}
		}
		var streamErr error
		select {
		case streamErr = <-errs:
		default:
		}
		pw.CloseWithError(streamErr)
	}()

	out := make(chan rtc.AudioFrame, 10)
	go func() {
		defer close(out)
		defer pr.Close()
		if err := decode(ctx, pr, out); err != nil && ctx.Err() == nil {
			slog.Error("Edge TTS stream failed", slog.String("voice", voice), slog.String("error", err.Error()))
		}
	}()
	return out, nil
}

// decode turns an MP3 stream into 24 kHz mono frames.
func decode(ctx context.Context, r io.ReadCloser, out chan<- rtc.AudioFrame) error {
	stream, format, err := mp3.Decode(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode mp3: %w", err)
	}
	defer stream.Close()
	return resample.Pump(ctx, stream, int(format.SampleRate), SampleRate, out)
}

func (e *TTS) Capabilities() tts.TTSCapabilities {
	return tts.TTSCapabilities{
		Streaming:            true,
		SupportedLanguages:   []string{"fr", "en"},
		SupportedVoices:      []string{DefaultVoice, "fr-FR-DeniseNeural", "fr-FR-RemyMultilingualNeural"},
		SampleRates:          []int{SampleRate},
		SupportsSpeedControl: true,
		SupportsPitchControl: true,
	}
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind: plugin.KindTTS,
		Name: "edge",
		Factory: func(cfg map[string]any) (any, error) {
			return New(Options{
				Voice:  plugin.String(cfg, "voice", ""),
				Rate:   plugin.String(cfg, "rate", ""),
				Volume: plugin.String(cfg, "volume", ""),
				Pitch:  plugin.String(cfg, "pitch", ""),
				Proxy:  plugin.String(cfg, "proxy", ""),
			}), nil
		},
		Description: "Microsoft Edge online text-to-speech",
		Version:     "1.0.0",
		Config: map[string]any{
			"voice": DefaultVoice,
			"rate":  "+0%",
			"pitch": "+0Hz",
		},
	})
}
