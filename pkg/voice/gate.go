// Package voice holds the microphone gate used while the agent speaks.
package voice

import (
	"context"
	"sync/atomic"

	"github.com/chriscow/french-tutor-agent/pkg/rtc"
)

// AudioGate decides whether microphone frames reach VAD and STT. While
// speech that may not be interrupted is playing, the gate is closed and
// frames are dropped so the user cannot barge in.
type AudioGate struct {
	closed  atomic.Bool
	dropped atomic.Int64
}

// NewAudioGate returns an open gate.
func NewAudioGate() *AudioGate {
	return &AudioGate{}
}

// SetSpeaking records the playout state of the agent.
func (g *AudioGate) SetSpeaking(playing, allowInterruptions bool) {
	g.closed.Store(playing && !allowInterruptions)
}

// ShouldDiscardAudio returns true if microphone frames should be dropped.
func (g *AudioGate) ShouldDiscardAudio() bool {
	return g.closed.Load()
}

// Dropped returns how many frames Filter discarded.
func (g *AudioGate) Dropped() int64 {
	return g.dropped.Load()
}

// Filter forwards frames from in while the gate is open.
func (g *AudioGate) Filter(ctx context.Context, in <-chan rtc.AudioFrame) <-chan rtc.AudioFrame {
	out := make(chan rtc.AudioFrame, 10)
	go func() {
		defer close(out)
		for {
			select {
			case f, ok := <-in:
				if !ok {
					return
				}
				if g.ShouldDiscardAudio() {
					g.dropped.Add(1)
					continue
				}
				select {
				case out <- f:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
