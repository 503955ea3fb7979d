// Package fake provides a scripted LLM for tests and console runs.
package fake

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/chriscow/french-tutor-agent/pkg/ai/llm"
)

// FakeLLM returns canned replies in order, cycling when it runs out.
type FakeLLM struct {
	mu        sync.Mutex
	responses []string
	requests  []llm.ChatRequest

	// Delay is slept before each reply.
	Delay time.Duration

	// Err, when set, is returned by every Chat call.
	Err error
}

// NewFakeLLM creates a fake that answers with the given replies.
func NewFakeLLM(responses ...string) *FakeLLM {
	if len(responses) == 0 {
		responses = []string{"D'accord. Continuons en français."}
	}
	return &FakeLLM{responses: responses}
}

// Chat returns the next canned reply.
func (f *FakeLLM) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	reply := f.responses[(n-1)%len(f.responses)]
	delay, failure := f.Delay, f.Err
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return llm.ChatResponse{}, ctx.Err()
		}
	}
	if failure != nil {
		return llm.ChatResponse{}, failure
	}

	prompt := 0
	for _, m := range req.Messages {
		prompt += words(m.Content)
	}
	completion := words(reply)

	return llm.ChatResponse{
		Message: llm.Message{Role: llm.RoleAssistant, Content: reply},
		Usage: llm.Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
		FinishReason: "stop",
	}, nil
}

// Requests returns the requests seen so far.
func (f *FakeLLM) Requests() []llm.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.ChatRequest(nil), f.requests...)
}

// Capabilities returns the fake's capabilities.
func (f *FakeLLM) Capabilities() llm.LLMCapabilities {
	return llm.LLMCapabilities{
		SupportsStreaming:  false,
		MaxTokens:          4096,
		SupportedModels:    []string{"fake-llm"},
		SupportsSystemRole: true,
	}
}

func (f *FakeLLM) Label() string { return "fake.LLM" }

// words approximates token counts.
func words(s string) int {
	return len(strings.Fields(s))
}
