package agents

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chriscow/french-tutor-agent/pkg/job"
)

// runner runs jobs against the process shared by all of them.
type runner struct {
	opts   *WorkerOptions
	proc   *JobProcess
	logger *slog.Logger

	prewarmOnce sync.Once
	prewarmErr  error
}

func newRunner(opts *WorkerOptions) *runner {
	return &runner{
		opts:   opts,
		proc:   NewJobProcess(opts.Config),
		logger: opts.Logger.With("component", "runner"),
	}
}

// prewarm runs the prewarm function once per process. Later calls return
// the first result.
func (r *runner) prewarm() error {
	r.prewarmOnce.Do(func() {
		if r.opts.Prewarm == nil {
			return
		}
		r.logger.Info("Prewarming process", slog.String("proc_id", r.proc.ID))
		if err := r.opts.Prewarm(r.proc); err != nil {
			r.prewarmErr = fmt.Errorf("prewarm: %w", err)
		}
	})
	return r.prewarmErr
}

// handleAssigned is the worker's job handler: it joins the job's LiveKit room.
func (r *runner) handleAssigned(j *job.Job) error {
	room, err := j.NewRoom(job.RoomConfig{Logger: r.opts.Logger})
	if err != nil {
		return err
	}
	return r.run(j, newLiveKitTransport(room), room)
}

// run calls the entrypoint and keeps the job alive until the room closes or
// the job is shut down. Shutdown hooks run before the room is disconnected.
func (r *runner) run(j *job.Job, t Transport, room *job.Room) error {
	if err := r.prewarm(); err != nil {
		t.Disconnect()
		return err
	}

	jc := newJobContext(j, r.proc, t, room, r.opts.ParticipantTimeout, r.opts.Logger)
	if err := r.entrypoint(jc); err != nil {
		j.Shutdown("entrypoint failed")
		t.Disconnect()
		return err
	}

	reason := "job shutdown"
	select {
	case <-j.Context.Done():
	case <-t.Done():
		reason = "room closed"
	}
	j.Shutdown(reason)
	return t.Disconnect()
}

func (r *runner) entrypoint(jc *JobContext) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("entrypoint panicked: %v", p)
		}
	}()
	return r.opts.Entrypoint(jc)
}

// RunLocal runs one job against t without a dispatcher. The console
// command uses it with a ConsoleTransport.
func RunLocal(ctx context.Context, opts *WorkerOptions, roomName string, t Transport) error {
	if err := opts.validate(); err != nil {
		return err
	}
	j, err := job.New(ctx, job.Config{RoomName: roomName})
	if err != nil {
		return err
	}
	return newRunner(opts).run(j, t, nil)
}
