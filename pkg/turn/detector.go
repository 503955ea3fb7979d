// Package turn decides when a user has finished their turn. A Detector
// scores the conversation so far and Endpointing turns that score into the
// silence delay the pipeline waits before answering.
package turn

import (
	"context"
	"errors"

	"github.com/chriscow/french-tutor-agent/pkg/ai/llm"
)

// ErrUnsupportedLanguage is returned for languages without a tuned threshold.
var ErrUnsupportedLanguage = errors.New("turn: unsupported language")

// Detector predicts end of utterance from recent chat history.
type Detector interface {
	// UnlikelyThreshold returns the language-specific probability below
	// which the turn is considered unfinished.
	UnlikelyThreshold(language string) (float64, error)

	// SupportsLanguage returns true if the detector has a tuned threshold for this language.
	SupportsLanguage(language string) bool

	// PredictEndOfTurn returns probability (0–1) that the user has finished speaking.
	PredictEndOfTurn(ctx context.Context, chatCtx ChatContext) (float64, error)
}

// ChatContext is the conversation handed to a Detector.
type ChatContext struct {
	Messages []llm.Message
	Language string
}
