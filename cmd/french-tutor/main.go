// Command french-tutor runs Jack, a voice agent English speakers practise
// French conversation with.
package main

import (
	"os"

	"github.com/chriscow/french-tutor-agent/agents"
	_ "github.com/chriscow/french-tutor-agent/pkg/plugin/edge"
	_ "github.com/chriscow/french-tutor-agent/pkg/plugin/elevenlabs"
	_ "github.com/chriscow/french-tutor-agent/pkg/plugin/fake"
	_ "github.com/chriscow/french-tutor-agent/pkg/plugin/groq"
	_ "github.com/chriscow/french-tutor-agent/pkg/plugin/openai"
	_ "github.com/chriscow/french-tutor-agent/pkg/plugin/silero"
)

func main() {
	err := agents.RunApp(&agents.WorkerOptions{
		Entrypoint: entrypoint,
		Prewarm:    prewarm,
	})
	if err != nil {
		os.Exit(1)
	}
}
