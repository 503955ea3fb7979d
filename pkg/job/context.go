package job

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// NewJobContext creates a new JobContext with the given parent context.
// The context will be cancelled when Shutdown is called.
func NewJobContext(parent context.Context) *JobContext {
	ctx, cancel := context.WithCancel(parent)
	return &JobContext{Ctx: ctx, cancel: cancel}
}

func newJobContextWithTimeout(parent context.Context, timeout time.Duration) *JobContext {
	if timeout <= 0 {
		return NewJobContext(parent)
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	return &JobContext{Ctx: ctx, cancel: cancel}
}

// Shutdown initiates graceful shutdown of the job.
// This method is idempotent; registered hooks run exactly once, concurrently,
// and Shutdown waits up to ShutdownHookTimeout for them.
func (jc *JobContext) Shutdown(reason string) {
	jc.mu.Lock()
	if jc.shutdown {
		jc.mu.Unlock()
		return
	}
	jc.shutdown = true
	hooks := jc.shutdownHooks
	jc.shutdownHooks = nil
	jc.mu.Unlock()

	slog.Info("Job shutdown initiated", slog.String("reason", reason))

	var wg sync.WaitGroup
	for _, hook := range hooks {
		wg.Add(1)
		go func(h func(string)) {
			defer wg.Done()
			runHook(h, reason)
		}(hook)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(ShutdownHookTimeout)
	defer timer.Stop()
	select {
	case <-done:
		slog.Debug("All shutdown hooks completed")
	case <-timer.C:
		slog.Warn("Shutdown hooks timed out", slog.Duration("timeout", ShutdownHookTimeout))
	}

	jc.cancel()
}

// OnShutdown registers a callback to be executed when Shutdown is called.
// If the job has already been shut down, the callback runs immediately in
// its own goroutine.
func (jc *JobContext) OnShutdown(callback func(reason string)) {
	jc.mu.Lock()
	defer jc.mu.Unlock()

	if jc.shutdown {
		go runHook(callback, "job already shut down")
		return
	}
	jc.shutdownHooks = append(jc.shutdownHooks, callback)
}

func runHook(h func(string), reason string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Shutdown hook panicked", slog.Any("panic", r))
		}
	}()
	h(reason)
}

// IsShutdown returns true once the job context is done, either through
// Shutdown or because the parent ended.
func (jc *JobContext) IsShutdown() bool {
	select {
	case <-jc.Ctx.Done():
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed when the job context is cancelled.
func (jc *JobContext) Done() <-chan struct{} {
	return jc.Ctx.Done()
}

// Err returns the error associated with the context cancellation.
func (jc *JobContext) Err() error {
	return jc.Ctx.Err()
}
