// Package silero registers the Silero VAD. Built with the silero tag it runs
// the ONNX model through silero-vad-go; otherwise the energy detector stands
// in so the tutor still runs without onnxruntime installed.
package silero

import (
	"path/filepath"
	"time"

	"github.com/chriscow/french-tutor-agent/pkg/plugin"
	"github.com/chriscow/french-tutor-agent/pkg/turn"
)

const (
	// ModelFileName is the ONNX model file inside the model directory.
	ModelFileName = "silero_vad.onnx"

	// ModelURL is where download-files fetches the model from.
	ModelURL = "https://github.com/snakers4/silero-vad/raw/v5.1.2/src/silero_vad/data/silero_vad.onnx"

	// SampleRate is the rate the model runs at; input is downsampled to it.
	SampleRate = 16000

	DefaultThreshold = 0.5
)

// Options mirrors the tunables of the Silero detector.
type Options struct {
	ModelPath string // empty uses DefaultModelPath
	Threshold float64

	MinSpeech  time.Duration
	MinSilence time.Duration
	SpeechPad  time.Duration

	// PoolSize caps concurrent Detect calls sharing the loaded model.
	PoolSize int
}

// DefaultOptions are the activation settings the tutor ships with.
var DefaultOptions = Options{
	Threshold:  DefaultThreshold,
	MinSpeech:  50 * time.Millisecond,
	MinSilence: 550 * time.Millisecond,
	SpeechPad:  30 * time.Millisecond,
	PoolSize:   8,
}

// DefaultModelPath is the model file in the shared model directory.
func DefaultModelPath() string {
	return filepath.Join(turn.DefaultModelPath(), ModelFileName)
}

func optionsFrom(cfg map[string]any) Options {
	opts := DefaultOptions
	opts.ModelPath = plugin.String(cfg, "model_path", DefaultModelPath())
	opts.Threshold = plugin.Float(cfg, "threshold", opts.Threshold)
	if ms := plugin.Float(cfg, "min_silence_ms", 0); ms > 0 {
		opts.MinSilence = time.Duration(ms) * time.Millisecond
	}
	if n := plugin.Float(cfg, "pool_size", 0); n > 0 {
		opts.PoolSize = int(n)
	}
	return opts
}

func register(factory plugin.Factory, description string) {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindVAD,
		Name:        "silero",
		Factory:     factory,
		Description: description,
		Version:     "1.0.0",
		Config: map[string]any{
			"model_path":     DefaultModelPath(),
			"threshold":      DefaultThreshold,
			"min_silence_ms": DefaultOptions.MinSilence.Milliseconds(),
			"pool_size":      DefaultOptions.PoolSize,
		},
		Downloader: NewDownloader(""),
	})
}
