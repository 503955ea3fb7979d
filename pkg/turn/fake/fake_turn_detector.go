// Package fake provides a configurable turn detector for pipeline tests.
package fake

import (
	"context"
	"sync"

	"github.com/chriscow/french-tutor-agent/pkg/turn"
)

// FakeTurnDetector returns a fixed probability.
type FakeTurnDetector struct {
	mu          sync.Mutex
	probability float64
	threshold   float64
	languages   map[string]bool // nil supports everything
	err         error
	calls       int
}

// NewFakeTurnDetector returns a detector that always believes the turn is over.
func NewFakeTurnDetector() *FakeTurnDetector {
	return NewFakeTurnDetectorWithValues(0.85, 0.15)
}

// NewFakeTurnDetectorWithValues creates a fake detector with specific values.
func NewFakeTurnDetectorWithValues(probability, threshold float64) *FakeTurnDetector {
	return &FakeTurnDetector{probability: probability, threshold: threshold}
}

// WithLanguages restricts the supported languages.
func (f *FakeTurnDetector) WithLanguages(langs ...string) *FakeTurnDetector {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.languages = make(map[string]bool, len(langs))
	for _, l := range langs {
		f.languages[l] = true
	}
	return f
}

// WithError makes every prediction fail.
func (f *FakeTurnDetector) WithError(err error) *FakeTurnDetector {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	return f
}

func (f *FakeTurnDetector) UnlikelyThreshold(language string) (float64, error) {
	if !f.SupportsLanguage(language) {
		return 0, turn.ErrUnsupportedLanguage
	}
	return f.threshold, nil
}

func (f *FakeTurnDetector) SupportsLanguage(language string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.languages == nil || f.languages[language]
}

func (f *FakeTurnDetector) PredictEndOfTurn(ctx context.Context, chatCtx turn.ChatContext) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.probability, nil
}

// Calls returns how many predictions were requested.
func (f *FakeTurnDetector) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
