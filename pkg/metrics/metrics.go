// Package metrics defines the records the voice pipeline reports about each
// provider call and the helpers that log and accumulate them.
package metrics

import (
	"time"
)

// AgentMetrics is one of STTMetrics, LLMMetrics, TTSMetrics, VADMetrics or
// PipelineEOUMetrics.
type AgentMetrics interface {
	// Kind is the short name used in logs.
	Kind() string
	agentMetrics()
}

// STTMetrics describes one transcription.
type STTMetrics struct {
	RequestID     string
	Timestamp     time.Time
	Label         string
	Duration      time.Duration // time spent waiting for the final transcript
	AudioDuration time.Duration
	Streamed      bool
}

// LLMMetrics describes one chat completion.
type LLMMetrics struct {
	RequestID        string
	Timestamp        time.Time
	Label            string
	TTFT             time.Duration
	Duration         time.Duration
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	TokensPerSecond  float64
	Cancelled        bool
}

// TTSMetrics describes one synthesis.
type TTSMetrics struct {
	RequestID       string
	Timestamp       time.Time
	Label           string
	TTFB            time.Duration
	Duration        time.Duration
	AudioDuration   time.Duration
	CharactersCount int
	Cancelled       bool
	Streamed        bool
}

// VADMetrics summarizes detector work between two speech events.
type VADMetrics struct {
	Timestamp              time.Time
	Label                  string
	IdleTime               time.Duration
	InferenceDurationTotal time.Duration
	InferenceCount         int
}

// PipelineEOUMetrics describes how long the pipeline took to decide the user
// had finished speaking.
type PipelineEOUMetrics struct {
	SequenceID          string
	Timestamp           time.Time
	EndOfUtteranceDelay time.Duration
	TranscriptionDelay  time.Duration
}

func (STTMetrics) Kind() string         { return "stt" }
func (LLMMetrics) Kind() string         { return "llm" }
func (TTSMetrics) Kind() string         { return "tts" }
func (VADMetrics) Kind() string         { return "vad" }
func (PipelineEOUMetrics) Kind() string { return "eou" }

func (STTMetrics) agentMetrics()         {}
func (LLMMetrics) agentMetrics()         {}
func (TTSMetrics) agentMetrics()         {}
func (VADMetrics) agentMetrics()         {}
func (PipelineEOUMetrics) agentMetrics() {}
