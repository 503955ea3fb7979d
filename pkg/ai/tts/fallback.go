package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chriscow/french-tutor-agent/pkg/rtc"
)

// ErrNoProviders is returned by NewFallbackAdapter when given nothing to wrap.
var ErrNoProviders = errors.New("tts: no providers")

// FallbackAdapter tries each provider in order until one starts synthesizing.
// Fatal errors from a provider still move on to the next one; only a
// cancelled context stops the walk early.
type FallbackAdapter struct {
	providers []TTS
	logger    *slog.Logger
}

// NewFallbackAdapter wraps providers, the first being preferred.
func NewFallbackAdapter(logger *slog.Logger, providers ...TTS) (*FallbackAdapter, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackAdapter{providers: providers, logger: logger.With("component", "tts.fallback")}, nil
}

// Synthesize returns the frames of the first provider that accepts the request.
func (a *FallbackAdapter) Synthesize(ctx context.Context, req SynthesizeRequest) (<-chan rtc.AudioFrame, error) {
	var errs []error
	for i, p := range a.providers {
		frames, err := p.Synthesize(ctx, req)
		if err == nil {
			return frames, nil
		}
		if ctx.Err() != nil {
			return nil, errors.Join(ctx.Err(), err)
		}
		a.logger.Warn("tts provider failed, trying next", "provider", labelOf(p, i), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", labelOf(p, i), err))
	}
	return nil, errors.Join(errs...)
}

// Capabilities reports the preferred provider's capabilities.
func (a *FallbackAdapter) Capabilities() TTSCapabilities {
	return a.providers[0].Capabilities()
}

func (a *FallbackAdapter) Label() string { return "tts.FallbackAdapter" }

func labelOf(p TTS, i int) string {
	if l, ok := p.(Labeled); ok {
		return l.Label()
	}
	return fmt.Sprintf("provider[%d]", i)
}
