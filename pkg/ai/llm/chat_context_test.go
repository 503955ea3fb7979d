package llm

import (
	"sync"
	"testing"

	"github.com/matryer/is"
)

func TestChatContextAppendChains(t *testing.T) {
	is := is.New(t)

	ctx := NewChatContext().
		Append(RoleSystem, "  You are a tutor.  ").
		Append(RoleUser, "Bonjour")

	is.Equal(ctx.Len(), 2)
	is.Equal(ctx.Count(RoleSystem), 1)
	is.Equal(ctx.SystemPrompt(), "You are a tutor.") // trimmed text of the system turn

	last, ok := ctx.Last(RoleUser)
	is.True(ok)
	is.Equal(last.Content, "Bonjour")

	_, ok = ctx.Last(RoleAssistant)
	is.True(!ok) // no assistant turn yet
}

func TestChatContextCopyIsIndependent(t *testing.T) {
	is := is.New(t)

	orig := NewChatContext().Append(RoleSystem, "prompt")
	cp := orig.Copy()
	cp.Append(RoleUser, "salut")

	is.Equal(orig.Len(), 1) // original unchanged
	is.Equal(cp.Len(), 2)

	msgs := orig.Messages()
	msgs[0].Content = "mutated"
	is.Equal(orig.SystemPrompt(), "prompt") // Messages returns a copy
}

func TestChatContextConcurrentAppend(t *testing.T) {
	is := is.New(t)
	ctx := NewChatContext()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx.Append(RoleUser, "x")
		}()
	}
	wg.Wait()
	is.Equal(ctx.Len(), 50)
}
