package llm

import (
	"strings"
	"sync"
)

// ChatContext is the ordered conversation history handed to the LLM.
// It is safe for concurrent use.
type ChatContext struct {
	mu       sync.RWMutex
	messages []Message
}

// NewChatContext returns an empty context.
func NewChatContext() *ChatContext {
	return &ChatContext{}
}

// Append adds a message and returns the context so calls can be chained.
func (c *ChatContext) Append(role MessageRole, text string) *ChatContext {
	c.mu.Lock()
	c.messages = append(c.messages, Message{Role: role, Content: text})
	c.mu.Unlock()
	return c
}

// Messages returns a copy of the history.
func (c *ChatContext) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Copy returns an independent context with the same history.
func (c *ChatContext) Copy() *ChatContext {
	return &ChatContext{messages: c.Messages()}
}

// Len returns the number of messages.
func (c *ChatContext) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Count returns how many messages have the given role.
func (c *ChatContext) Count(role MessageRole) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, m := range c.messages {
		if m.Role == role {
			n++
		}
	}
	return n
}

// Last returns the most recent message with the given role.
func (c *ChatContext) Last(role MessageRole) (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == role {
			return c.messages[i], true
		}
	}
	return Message{}, false
}

// SystemPrompt returns the text of the single system turn, if any.
func (c *ChatContext) SystemPrompt() string {
	m, ok := c.Last(RoleSystem)
	if !ok {
		return ""
	}
	return strings.TrimSpace(m.Content)
}
