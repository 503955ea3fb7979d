// Package worker connects to the agent dispatcher over a websocket, accepts
// job assignments and runs each job in its own goroutine.
package worker

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/chriscow/french-tutor-agent/pkg/job"
	"github.com/chriscow/french-tutor-agent/pkg/version"
)

// Signal and command type constants
const (
	SignalTypeRegister      = "register"
	SignalTypePing          = "ping"
	SignalTypePong          = "pong"
	SignalTypeJobAssignment = "job_assignment"
	SignalTypeJobUpdate     = "job_update"
	SignalTypeShutdown      = "shutdown"
)

// Job statuses reported in job_update commands.
const (
	JobStatusRunning = "running"
	JobStatusSuccess = "success"
	JobStatusFailed  = "failed"
)

// ErrNoHandler is reported for jobs assigned to a worker without a handler.
var ErrNoHandler = errors.New("worker has no job handler")

var (
	jobsStarted = expvar.NewInt("worker_jobs_started")
	jobsFailed  = expvar.NewInt("worker_jobs_failed")
	reconnects  = expvar.NewInt("worker_reconnects")
)

// JobHandler runs one job to completion. The job's context is cancelled when
// the worker shuts down.
type JobHandler func(j *job.Job) error

type Worker struct {
	url        string
	token      string
	agentName  string
	handler    JobHandler
	jobTimeout time.Duration
	wsClient   *WebSocketClient
	logger     *slog.Logger
	in         chan *Signal
	out        chan *Command
	jobs       cmap.ConcurrentMap[string, *job.Job]
	jobWG      sync.WaitGroup

	mu             sync.RWMutex
	connected      bool
	backoffAttempt int
	base           context.Context
	stop           context.CancelFunc
}

type Config struct {
	URL       string
	Token     string
	AgentName string

	// Handler runs assigned jobs.
	Handler JobHandler

	// JobTimeout bounds each job, zero means none.
	JobTimeout time.Duration
}

// Status is the worker state served by the health endpoint.
type Status struct {
	AgentName  string `json:"agent_name"`
	Connected  bool   `json:"connected"`
	ActiveJobs int    `json:"active_jobs"`
}

func New(config Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "worker")
	return &Worker{
		url:        config.URL,
		token:      config.Token,
		agentName:  config.AgentName,
		handler:    config.Handler,
		jobTimeout: config.JobTimeout,
		logger:     logger,
		in:         make(chan *Signal, 100),
		out:        make(chan *Command, 100),
		jobs:       cmap.New[*job.Job](),
		wsClient:   NewWebSocketClient(config.URL, config.Token, logger),
	}
}

// Run connects and serves the dispatcher until ctx is done or a shutdown
// signal arrives, reconnecting with backoff. Active jobs are shut down and
// waited for before it returns.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.mu.Lock()
	w.base, w.stop = ctx, cancel
	w.mu.Unlock()

	w.logger.Info("Starting worker", slog.String("url", w.url), slog.String("agent_name", w.agentName))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker shutting down")
			return w.shutdown()
		default:
			if err := w.connectAndRun(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				w.logger.Error("Worker connection failed", slog.String("error", err.Error()))
				if err := w.backoffDelay(ctx); err != nil {
					return w.shutdown()
				}
				reconnects.Add(1)
			}
		}
	}
}

func (w *Worker) connectAndRun(ctx context.Context) error {
	w.logger.Info("Connecting to dispatcher")

	if err := w.wsClient.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() {
		if err := w.wsClient.Close(); err != nil {
			w.logger.Error("Error closing WebSocket during cleanup", slog.String("error", err.Error()))
		}
	}()

	if err := w.wsClient.WriteCommand(ctx, w.registerCommand()); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	w.setConnected(true)
	defer w.setConnected(false)

	readCtx, readCancel := context.WithCancel(ctx)
	defer readCancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := w.readSignals(readCtx); err != nil {
			errCh <- fmt.Errorf("read signals: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := w.writeCommands(readCtx); err != nil {
			errCh <- fmt.Errorf("write commands: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		w.processSignals(readCtx)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
	}
	readCancel()
	// The reader only returns once the connection is closed.
	w.wsClient.Close()
	wg.Wait()
	return err
}

func (w *Worker) registerCommand() *Command {
	return &Command{
		Type: SignalTypeRegister,
		Data: map[string]any{
			"agent_name":  w.agentName,
			"version":     version.Version,
			"active_jobs": w.jobs.Count(),
		},
	}
}

func (w *Worker) readSignals(ctx context.Context) error {
	for {
		signal, err := w.wsClient.ReadSignal(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		select {
		case w.in <- signal:
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Worker) writeCommands(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-w.out:
			if err := w.wsClient.WriteCommand(ctx, cmd); err != nil {
				return err
			}
		}
	}
}

func (w *Worker) processSignals(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case signal := <-w.in:
			w.handleSignal(ctx, signal)
		}
	}
}

func (w *Worker) handleSignal(ctx context.Context, signal *Signal) {
	w.logger.Debug("Processing signal", slog.String("type", signal.Type))

	switch signal.Type {
	case SignalTypePing:
		w.send(&Command{Type: SignalTypePong, Data: signal.Data})

	case SignalTypeJobAssignment:
		w.assign(signal.Data)

	case SignalTypeShutdown:
		w.logger.Info("Received shutdown signal")
		w.mu.RLock()
		stop := w.stop
		w.mu.RUnlock()
		if stop != nil {
			stop()
		}

	default:
		w.logger.Warn("Unknown signal type", slog.String("type", signal.Type))
	}
}

// send queues cmd for the writer. Commands are dropped when the queue is
// full, which only happens while disconnected for a long time.
func (w *Worker) send(cmd *Command) {
	select {
	case w.out <- cmd:
	default:
		w.logger.Warn("Command queue full, dropping", slog.String("type", cmd.Type))
	}
}

func str(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func (w *Worker) assign(data map[string]any) {
	jobID := str(data, "job_id")
	if jobID != "" && w.jobs.Has(jobID) {
		w.logger.Warn("Duplicate job assignment", slog.String("job_id", jobID))
		return
	}

	j, err := job.New(w.jobParent(), job.Config{
		ID:       jobID,
		RoomName: str(data, "room"),
		URL:      str(data, "url"),
		Token:    str(data, "token"),
		Metadata: str(data, "metadata"),
		Timeout:  w.jobTimeout,
	})
	if err != nil {
		w.logger.Error("Rejecting job assignment", slog.String("job_id", jobID), slog.String("error", err.Error()))
		w.update(jobID, JobStatusFailed, err)
		return
	}

	w.jobs.Set(j.ID, j)
	jobsStarted.Add(1)
	w.update(j.ID, JobStatusRunning, nil)

	w.jobWG.Add(1)
	go w.runJob(j)
}

func (w *Worker) jobParent() context.Context {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.base == nil {
		return context.Background()
	}
	return w.base
}

func (w *Worker) runJob(j *job.Job) {
	defer w.jobWG.Done()
	defer w.jobs.Remove(j.ID)

	logger := w.logger.With("job_id", j.ID, "room_name", j.RoomName)
	logger.Info("Job started")

	err := w.callHandler(j)
	j.Shutdown("job finished")

	if err != nil {
		jobsFailed.Add(1)
		logger.Error("Job failed", slog.String("error", err.Error()))
		w.update(j.ID, JobStatusFailed, err)
		return
	}
	logger.Info("Job finished")
	w.update(j.ID, JobStatusSuccess, nil)
}

func (w *Worker) callHandler(j *job.Job) (err error) {
	if w.handler == nil {
		return ErrNoHandler
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return w.handler(j)
}

func (w *Worker) update(jobID, status string, err error) {
	data := map[string]any{"job_id": jobID, "status": status}
	if err != nil {
		data["error"] = err.Error()
	}
	w.send(&Command{Type: SignalTypeJobUpdate, Data: data})
}

func (w *Worker) backoffDelay(ctx context.Context) error {
	w.mu.Lock()
	w.backoffAttempt++
	attempt := w.backoffAttempt
	w.mu.Unlock()

	// Exponential backoff: 1s, 2s, 4s, 8s, up to 10s max
	delay := time.Duration(math.Min(math.Pow(2, float64(attempt-1)), 10)) * time.Second

	w.logger.Info("Reconnecting with backoff",
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay))

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) setConnected(connected bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if connected && !w.connected {
		// Reset backoff on successful connection
		w.backoffAttempt = 0
		w.logger.Info("Worker connected successfully")
	}

	w.connected = connected
}

func (w *Worker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// ActiveJobs returns the number of running jobs.
func (w *Worker) ActiveJobs() int {
	return w.jobs.Count()
}

func (w *Worker) Status() Status {
	return Status{
		AgentName:  w.agentName,
		Connected:  w.IsConnected(),
		ActiveJobs: w.ActiveJobs(),
	}
}

func (w *Worker) shutdown() error {
	w.logger.Info("Shutting down worker", slog.Int("active_jobs", w.jobs.Count()))

	for _, j := range w.jobs.Items() {
		j.Shutdown("worker shutdown")
	}
	w.jobWG.Wait()

	if err := w.wsClient.Close(); err != nil {
		w.logger.Error("Error closing WebSocket", slog.String("error", err.Error()))
		return err
	}

	w.logger.Info("Worker shutdown complete")
	return nil
}
