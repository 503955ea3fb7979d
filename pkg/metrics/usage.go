package metrics

import (
	"expvar"
	"sync"
	"time"
)

// UsageSummary is the running total of billable usage for one session.
type UsageSummary struct {
	LLMPromptTokens     int           `json:"llm_prompt_tokens"`
	LLMCompletionTokens int           `json:"llm_completion_tokens"`
	TTSCharactersCount  int           `json:"tts_characters_count"`
	STTAudioDuration    time.Duration `json:"stt_audio_duration"`
}

// UsageCollector accumulates metrics into a UsageSummary. It is safe for
// concurrent use.
type UsageCollector struct {
	mu      sync.Mutex
	summary UsageSummary
}

// NewUsageCollector returns an empty collector.
func NewUsageCollector() *UsageCollector {
	return &UsageCollector{}
}

// Collect adds m to the totals. Record kinds without billable usage are ignored.
func (c *UsageCollector) Collect(m AgentMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch v := m.(type) {
	case LLMMetrics:
		c.summary.LLMPromptTokens += v.PromptTokens
		c.summary.LLMCompletionTokens += v.CompletionTokens
	case TTSMetrics:
		c.summary.TTSCharactersCount += v.CharactersCount
	case STTMetrics:
		c.summary.STTAudioDuration += v.AudioDuration
	}
}

// Summary returns a copy of the totals.
func (c *UsageCollector) Summary() UsageSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}

var usageVars = expvar.NewMap("usage")

// Publish exposes the live summary under usage.<name> in expvar.
func (c *UsageCollector) Publish(name string) {
	usageVars.Set(name, expvar.Func(func() any { return c.Summary() }))
}

// Unpublish removes a summary published with Publish.
func Unpublish(name string) {
	usageVars.Delete(name)
}
