//go:build !silero

package silero

import (
	"log/slog"

	"github.com/chriscow/french-tutor-agent/pkg/ai/vad"
)

// New returns the energy detector configured like the Silero one would be.
func New(opts Options) (vad.VAD, error) {
	slog.Warn("Silero VAD not compiled in (build with -tags=silero), using energy VAD")
	return vad.NewEnergyVAD(vad.EnergyOptions{
		MinSpeech:  opts.MinSpeech,
		MinSilence: opts.MinSilence,
	}), nil
}

func init() {
	register(func(cfg map[string]any) (any, error) {
		return New(optionsFrom(cfg))
	}, "Silero VAD (energy fallback; build with -tags=silero for the ONNX model)")
}
