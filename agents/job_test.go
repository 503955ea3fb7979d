package agents

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/french-tutor-agent/internal/config"
	"github.com/chriscow/french-tutor-agent/pkg/job"
)

func testOptions(entry EntrypointFunc) *WorkerOptions {
	return &WorkerOptions{Entrypoint: entry, Logger: slog.Default(), ParticipantTimeout: time.Second}
}

func newTestJob(t *testing.T) *job.Job {
	t.Helper()
	j, err := job.New(context.Background(), job.Config{RoomName: "salon"})
	if err != nil {
		t.Fatal(err)
	}
	return j
}

func TestPrewarmRunsOnce(t *testing.T) {
	is := is.New(t)
	var calls atomic.Int32
	opts := testOptions(func(jc *JobContext) error {
		v, ok := jc.Proc.UserData.Get("vad")
		is.True(ok)
		is.Equal(v, "loaded")
		jc.Shutdown("done")
		return nil
	})
	opts.Prewarm = func(proc *JobProcess) error {
		calls.Add(1)
		proc.UserData.Set("vad", "loaded")
		return nil
	}
	r := newRunner(opts)

	for i := 0; i < 3; i++ {
		is.NoErr(r.run(newTestJob(t), NewConsoleTransport(ConsoleOptions{}), nil))
	}
	is.Equal(calls.Load(), int32(1)) // prewarm runs once per process
}

func TestPrewarmErrorAbortsJobs(t *testing.T) {
	is := is.New(t)
	ran := false
	opts := testOptions(func(jc *JobContext) error { ran = true; return nil })
	opts.Prewarm = func(proc *JobProcess) error { return errors.New("model missing") }
	r := newRunner(opts)

	err := r.run(newTestJob(t), NewConsoleTransport(ConsoleOptions{}), nil)
	is.True(err != nil)
	is.True(!ran)              // the entrypoint never runs
	is.Equal(r.prewarm(), err) // later jobs see the same error
}

func TestEntrypointErrorShutsDownJob(t *testing.T) {
	is := is.New(t)
	r := newRunner(testOptions(func(jc *JobContext) error { return errors.New("no participant") }))
	j := newTestJob(t)
	tr := NewConsoleTransport(ConsoleOptions{})

	err := r.run(j, tr, nil)
	is.Equal(err.Error(), "no participant")
	is.True(!j.IsActive())
	<-tr.Done() // the room is disconnected
}

func TestEntrypointPanicIsReported(t *testing.T) {
	is := is.New(t)
	r := newRunner(testOptions(func(jc *JobContext) error { panic("boom") }))
	err := r.run(newTestJob(t), NewConsoleTransport(ConsoleOptions{}), nil)
	is.True(err != nil)
}

func TestShutdownCallbacksRunWhenRoomCloses(t *testing.T) {
	is := is.New(t)
	reasons := make(chan string, 1)
	tr := NewConsoleTransport(ConsoleOptions{})
	r := newRunner(testOptions(func(jc *JobContext) error {
		jc.AddShutdownCallback(func(reason string) { reasons <- reason })
		go tr.Disconnect()
		return nil
	}))

	is.NoErr(r.run(newTestJob(t), tr, nil))
	is.Equal(<-reasons, "room closed")
}

func TestWaitForParticipantRequiresConnect(t *testing.T) {
	is := is.New(t)
	j := newTestJob(t)
	defer j.Shutdown("test")
	jc := newJobContext(j, NewJobProcess(nil), NewConsoleTransport(ConsoleOptions{}), nil, time.Second, slog.Default())

	_, err := jc.WaitForParticipant(context.Background())
	is.True(errors.Is(err, ErrNotConnected))

	is.NoErr(jc.Connect(context.Background(), job.AudioOnly))
	p, err := jc.WaitForParticipant(context.Background())
	is.NoErr(err)
	is.Equal(p, ConsoleParticipant)
	is.True(jc.AgentRoom() != nil)
}

func TestWaitForParticipantAfterRoomClosed(t *testing.T) {
	is := is.New(t)
	j := newTestJob(t)
	defer j.Shutdown("test")
	tr := NewConsoleTransport(ConsoleOptions{})
	jc := newJobContext(j, NewJobProcess(nil), tr, nil, time.Second, slog.Default())
	is.NoErr(jc.Connect(context.Background(), job.AudioOnly))

	tr.Disconnect()
	_, err := jc.WaitForParticipant(context.Background())
	is.True(errors.Is(err, ErrRoomDisconnected))
}

func TestValidateOptions(t *testing.T) {
	is := is.New(t)
	is.True(errors.Is((&WorkerOptions{}).validate(), ErrInvalidOptions))

	opts := &WorkerOptions{Entrypoint: func(*JobContext) error { return nil }, ParticipantTimeout: -time.Second}
	is.True(errors.Is(opts.validate(), ErrInvalidOptions))

	opts.ParticipantTimeout = 0
	is.NoErr(opts.validate())
	is.True(opts.Logger != nil)

	opts.ParticipantTimeout = NoParticipantTimeout
	is.NoErr(opts.validate())
}

func TestWithConfigParticipantTimeout(t *testing.T) {
	is := is.New(t)
	cfg := &config.Config{ParticipantTimeout: 2 * time.Minute}

	opts := &WorkerOptions{}
	opts.withConfig(cfg)
	is.Equal(opts.ParticipantTimeout, 2*time.Minute) // unset takes the config

	opts = &WorkerOptions{ParticipantTimeout: 5 * time.Second}
	opts.withConfig(cfg)
	is.Equal(opts.ParticipantTimeout, 5*time.Second) // explicit wins

	opts = &WorkerOptions{ParticipantTimeout: NoParticipantTimeout}
	opts.withConfig(cfg)
	is.Equal(opts.ParticipantTimeout, NoParticipantTimeout)

	j := newTestJob(t)
	defer j.Shutdown("test")
	jc := newJobContext(j, NewJobProcess(cfg), NewConsoleTransport(ConsoleOptions{}), nil, NoParticipantTimeout, slog.Default())
	is.Equal(jc.participantTimeout, time.Duration(0)) // the room waits until ctx is done
}
