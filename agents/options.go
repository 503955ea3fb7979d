package agents

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/chriscow/french-tutor-agent/internal/config"
)

// EntrypointFunc runs one job. It returns once the agent is started; the job
// stays alive until the room closes or the job is shut down.
type EntrypointFunc func(jc *JobContext) error

// NoParticipantTimeout makes JobContext.WaitForParticipant wait until the
// job ends.
const NoParticipantTimeout time.Duration = -1

// PrewarmFunc loads per-process resources before the first job.
type PrewarmFunc func(proc *JobProcess) error

// WorkerOptions configures the runtime started by RunApp.
type WorkerOptions struct {
	Entrypoint EntrypointFunc
	Prewarm    PrewarmFunc

	AgentName string

	// WSURL is the LiveKit server URL rooms are joined on.
	WSURL     string
	APIKey    string
	APISecret string

	// DispatcherURL is the websocket the worker takes job assignments from.
	DispatcherURL string
	HealthAddr    string

	// ParticipantTimeout bounds JobContext.WaitForParticipant. Zero takes
	// PARTICIPANT_TIMEOUT from the config; NoParticipantTimeout waits until
	// the job ends.
	ParticipantTimeout time.Duration

	Logger *slog.Logger

	// Config is loaded by RunApp and handed to every JobProcess.
	Config *config.Config
}

// withConfig fills unset options from cfg. Explicit options win.
func (o *WorkerOptions) withConfig(cfg *config.Config) {
	o.Config = cfg
	if o.AgentName == "" {
		o.AgentName = cfg.AgentName
	}
	if o.WSURL == "" {
		o.WSURL = cfg.LiveKitURL
	}
	if o.APIKey == "" {
		o.APIKey = cfg.LiveKitAPIKey
	}
	if o.APISecret == "" {
		o.APISecret = cfg.LiveKitAPISecret
	}
	if o.DispatcherURL == "" {
		o.DispatcherURL = cfg.DispatcherURL
	}
	if o.HealthAddr == "" {
		o.HealthAddr = cfg.HealthAddr
	}
	if o.ParticipantTimeout == 0 {
		o.ParticipantTimeout = cfg.ParticipantTimeout
	}
}

func (o *WorkerOptions) validate() error {
	if o.Entrypoint == nil {
		return fmt.Errorf("%w: entrypoint is required", ErrInvalidOptions)
	}
	if o.ParticipantTimeout < 0 && o.ParticipantTimeout != NoParticipantTimeout {
		return fmt.Errorf("%w: participant timeout must not be negative", ErrInvalidOptions)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return nil
}
