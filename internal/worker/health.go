package worker

import (
	"context"

	"github.com/gofiber/fiber/v2"
	expvarmw "github.com/gofiber/fiber/v2/middleware/expvar"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/chriscow/french-tutor-agent/pkg/version"
)

// HealthApp serves /health with the worker status and /debug/vars with the
// process expvars, including usage summaries and agent state counters.
func (w *Worker) HealthApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               version.Name,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(expvarmw.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		st := w.Status()
		status, code := "ok", fiber.StatusOK
		if !st.Connected {
			status, code = "disconnected", fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(fiber.Map{
			"status":  status,
			"worker":  st,
			"version": version.Current(),
		})
	})
	return app
}

// ServeHealth listens on addr until ctx is done.
func (w *Worker) ServeHealth(ctx context.Context, addr string) error {
	app := w.HealthApp()
	errCh := make(chan error, 1)
	go func() { errCh <- app.Listen(addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		w.logger.Info("Stopping health server")
		return app.Shutdown()
	}
}
