package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrNotInterruptible is returned when interrupting speech that forbids it.
var ErrNotInterruptible = errors.New("agent: speech does not allow interruptions")

// SpeechHandle tracks one queued utterance from queueing to the end of playout.
type SpeechHandle struct {
	ID                 string
	Text               string
	AllowInterruptions bool

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	interrupted bool
	err         error
	done        chan struct{}
}

func newSpeechHandle(text string, allowInterruptions bool) *SpeechHandle {
	ctx, cancel := context.WithCancel(context.Background())
	return &SpeechHandle{
		ID:                 "speech_" + uuid.NewString()[:8],
		Text:               text,
		AllowInterruptions: allowInterruptions,
		ctx:                ctx,
		cancel:             cancel,
		done:               make(chan struct{}),
	}
}

// Interrupt stops the speech, or drops it if it has not started yet.
func (h *SpeechHandle) Interrupt() error {
	if !h.AllowInterruptions {
		return ErrNotInterruptible
	}
	h.mu.Lock()
	h.interrupted = true
	h.mu.Unlock()
	h.cancel()
	return nil
}

// Interrupted reports whether Interrupt was called.
func (h *SpeechHandle) Interrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupted
}

// Done is closed at the end of playout.
func (h *SpeechHandle) Done() <-chan struct{} {
	return h.done
}

// WaitForPlayout blocks until the speech finished playing or was interrupted.
// It returns the synthesis or playout error, if any.
func (h *SpeechHandle) WaitForPlayout(ctx context.Context) error {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *SpeechHandle) finish(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	h.cancel()
	close(h.done)
}
