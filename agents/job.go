package agents

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/chriscow/french-tutor-agent/internal/config"
	"github.com/chriscow/french-tutor-agent/pkg/agent"
	"github.com/chriscow/french-tutor-agent/pkg/job"
)

// Transport is the room a job talks through: a LiveKit room, or WAV files
// in console mode.
type Transport interface {
	agent.Room

	Connect(ctx context.Context, sub job.AutoSubscribe) error
	WaitForParticipant(ctx context.Context, timeout time.Duration) (job.Participant, error)
	Disconnect() error

	// Done is closed when the room goes away.
	Done() <-chan struct{}
}

// JobProcess holds what is shared by every job the process runs.
type JobProcess struct {
	ID string

	// UserData is filled by prewarm and read by entrypoints.
	UserData cmap.ConcurrentMap[string, any]

	Config    *config.Config
	StartTime time.Time
}

// NewJobProcess returns an empty process context.
func NewJobProcess(cfg *config.Config) *JobProcess {
	return &JobProcess{
		ID:        "proc_" + uuid.NewString(),
		UserData:  cmap.New[any](),
		Config:    cfg,
		StartTime: time.Now(),
	}
}

// JobContext is what an entrypoint gets for one job.
type JobContext struct {
	Job  *job.Job
	Proc *JobProcess

	// Room is the LiveKit room, nil in console mode.
	Room *job.Room

	Logger *slog.Logger

	transport          Transport
	participantTimeout time.Duration
	connected          atomic.Bool
}

func newJobContext(j *job.Job, proc *JobProcess, t Transport, room *job.Room, timeout time.Duration, logger *slog.Logger) *JobContext {
	if timeout == NoParticipantTimeout {
		timeout = 0
	}
	return &JobContext{
		Job:                j,
		Proc:               proc,
		Room:               room,
		Logger:             logger.With("job_id", j.ID, "room_name", j.RoomName),
		transport:          t,
		participantTimeout: timeout,
	}
}

// Context is cancelled when the job shuts down.
func (jc *JobContext) Context() context.Context {
	return jc.Job.Context.Ctx
}

// Connect joins the room, subscribing to the tracks sub selects.
func (jc *JobContext) Connect(ctx context.Context, sub job.AutoSubscribe) error {
	if err := jc.transport.Connect(ctx, sub); err != nil {
		return err
	}
	jc.connected.Store(true)
	jc.Logger.Info("Connected to room", slog.String("auto_subscribe", sub.String()))
	return nil
}

// WaitForParticipant returns the first remote participant. It gives up after
// the participant timeout with ErrParticipantTimeout, or with
// ErrRoomDisconnected if the room goes away first.
func (jc *JobContext) WaitForParticipant(ctx context.Context) (job.Participant, error) {
	if !jc.connected.Load() {
		return job.Participant{}, ErrNotConnected
	}
	p, err := jc.transport.WaitForParticipant(ctx, jc.participantTimeout)
	if err != nil {
		return job.Participant{}, err
	}
	jc.Logger.Info("Participant joined", slog.String("participant", p.Identity))
	return p, nil
}

// AgentRoom is the audio transport for agent.VoicePipelineAgent.Start.
func (jc *JobContext) AgentRoom() agent.Room {
	return jc.transport
}

// AddShutdownCallback runs fn with the reason when the job shuts down.
func (jc *JobContext) AddShutdownCallback(fn func(reason string)) {
	jc.Job.Context.OnShutdown(fn)
}

// Shutdown ends the job.
func (jc *JobContext) Shutdown(reason string) {
	jc.Job.Shutdown(reason)
}

// livekitTransport adapts a job room.
type livekitTransport struct {
	room *job.Room
	agent.Room
}

func newLiveKitTransport(room *job.Room) *livekitTransport {
	return &livekitTransport{room: room, Room: agent.LiveKitRoom(room)}
}

func (t *livekitTransport) Connect(ctx context.Context, sub job.AutoSubscribe) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.room.Connect(sub)
}

func (t *livekitTransport) WaitForParticipant(ctx context.Context, timeout time.Duration) (job.Participant, error) {
	return t.room.WaitForParticipant(ctx, timeout)
}

func (t *livekitTransport) Disconnect() error     { return t.room.Disconnect() }
func (t *livekitTransport) Done() <-chan struct{} { return t.room.Done() }
