package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chriscow/french-tutor-agent/internal/config"
	"github.com/chriscow/french-tutor-agent/internal/logging"
	"github.com/chriscow/french-tutor-agent/internal/worker"
	"github.com/chriscow/french-tutor-agent/pkg/job"
	"github.com/chriscow/french-tutor-agent/pkg/plugin"
	"github.com/chriscow/french-tutor-agent/pkg/turn"
	"github.com/chriscow/french-tutor-agent/pkg/version"
)

// reloadDelay collapses the burst of events an editor save produces.
const reloadDelay = 300 * time.Millisecond

// RunApp is the main entry point of an agent binary.
func RunApp(opts *WorkerOptions) error {
	if opts == nil {
		return fmt.Errorf("%w: options are required", ErrInvalidOptions)
	}
	return NewRootCommand(opts).Execute()
}

type app struct {
	opts     *WorkerOptions
	v        *viper.Viper
	envFiles []string
	cfg      *config.Config
	closeLog func() error

	// base is opts as the binary passed them, before the config filled them.
	base *WorkerOptions
}

// NewRootCommand builds the command tree RunApp executes.
func NewRootCommand(opts *WorkerOptions) *cobra.Command {
	a := &app{opts: opts, v: config.NewViper()}

	root := &cobra.Command{
		Use:                version.Name,
		Short:              "Jack, a LiveKit voice agent for practising French",
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	pf := root.PersistentFlags()
	pf.StringSliceVar(&a.envFiles, "env-file", []string{config.DefaultEnvFile}, "dotenv files to load")
	pf.String("stt-provider", "", "speech-to-text provider")
	pf.String("llm-provider", "", "language model provider")
	pf.String("tts-provider", "", "text-to-speech provider")
	pf.String("vad-provider", "", "voice activity detection provider")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("log-format", "", "log format (json or console)")

	root.AddCommand(
		a.startCommand(),
		a.devCommand(),
		a.connectCommand(),
		a.consoleCommand(),
		a.downloadCommand(),
		a.pluginsCommand(),
		a.versionCommand(),
	)
	return root
}

// setup loads the configuration and logging every command runs with.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	if err := config.LoadEnvFiles(a.envFiles...); err != nil {
		return err
	}
	if err := config.BindFlags(a.v, cmd.Flags()); err != nil {
		return err
	}
	return a.apply(a.load(cmd))
}

// load reads the config. dev defaults to debug console logs unless a flag
// or the environment says otherwise.
func (a *app) load(cmd *cobra.Command) *config.Config {
	cfg := config.Load(a.v)
	if cmd.Name() == "dev" {
		flags := cmd.Flags()
		if !flags.Changed("log-level") && os.Getenv("LOG_LEVEL") == "" {
			cfg.Log.Level = "debug"
		}
		if !flags.Changed("log-format") && os.Getenv("LOG_FORMAT") == "" {
			cfg.Log.Format = "console"
		}
	}
	return cfg
}

// apply rebuilds the logger and the options from cfg. Options the binary set
// itself always win over cfg.
func (a *app) apply(cfg *config.Config) error {
	if a.base == nil {
		base := *a.opts
		a.base = &base
	}
	if a.closeLog != nil {
		a.closeLog()
		a.closeLog = nil
	}

	logger, closeLog, err := logging.Setup(cfg.Log)
	if err != nil {
		return err
	}
	a.closeLog = closeLog

	opts := *a.base
	if opts.Logger == nil {
		opts.Logger = logger
	}
	opts.withConfig(cfg)
	if err := opts.validate(); err != nil {
		return err
	}
	*a.opts = opts
	a.cfg = cfg
	return nil
}

func (a *app) teardown(cmd *cobra.Command, args []string) error {
	if a.closeLog != nil {
		return a.closeLog()
	}
	return nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (a *app) startCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Take jobs from the dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return a.runWorker(ctx, newRunner(a.opts))
		},
	}
}

// runWorker serves the dispatcher and the health endpoint until ctx is done.
func (a *app) runWorker(ctx context.Context, r *runner) error {
	if a.opts.DispatcherURL == "" {
		return ErrNoDispatcher
	}
	// A prewarm failure aborts the worker before it takes any job.
	if err := r.prewarm(); err != nil {
		return err
	}

	var token string
	if a.opts.APIKey != "" && a.opts.APISecret != "" {
		var err error
		token, err = WorkerToken(a.opts.APIKey, a.opts.APISecret, a.opts.AgentName, DefaultTokenTTL)
		if err != nil {
			return err
		}
	}

	w := worker.New(worker.Config{
		URL:       a.opts.DispatcherURL,
		Token:     token,
		AgentName: a.opts.AgentName,
		Handler:   r.handleAssigned,
	}, a.opts.Logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if a.opts.HealthAddr != "" {
		go func() {
			if err := w.ServeHealth(ctx, a.opts.HealthAddr); err != nil {
				a.opts.Logger.Error("Health server failed", slog.String("error", err.Error()))
			}
		}()
	}
	return w.Run(ctx)
}

func (a *app) devCommand() *cobra.Command {
	var room string
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Run with debug logs, restarting when the env file changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return a.runDev(ctx, cmd, room)
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "join this room directly instead of taking jobs from the dispatcher")
	return cmd
}

// runDev runs the agent and restarts it with a fresh config whenever an env
// file changes. A run that fails waits for the next change.
func (a *app) runDev(ctx context.Context, cmd *cobra.Command, room string) error {
	logger := a.opts.Logger.With("component", "dev")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directories; editors often replace files instead of writing them.
	watched := map[string]bool{}
	for _, f := range a.envFiles {
		abs, err := filepath.Abs(f)
		if err != nil {
			return err
		}
		watched[abs] = true
		if err := watcher.Add(filepath.Dir(abs)); err != nil {
			return fmt.Errorf("failed to watch %s: %w", f, err)
		}
	}

	reload := make(chan struct{}, 1)
	debounced := debounce.New(reloadDelay)

	run := func(ctx context.Context) error {
		if err := a.cfg.Validate(); err != nil {
			return err
		}
		r := newRunner(a.opts)
		if room != "" {
			return a.runRoom(ctx, r, room, a.opts.AgentName)
		}
		return a.runWorker(ctx, r)
	}

	// done is nil while no run is active.
	var (
		stop context.CancelFunc = func() {}
		done chan error
	)
	start := func() {
		runCtx, cancel := context.WithCancel(ctx)
		d := make(chan error, 1)
		go func() { d <- run(runCtx) }()
		stop, done = cancel, d
	}
	halt := func() error {
		stop()
		if done == nil {
			return nil
		}
		err := <-done
		done = nil
		return err
	}

	start()
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return halt()
			}
			abs, _ := filepath.Abs(ev.Name)
			if watched[abs] && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounced(func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			}

		case err, ok := <-watcher.Errors:
			if ok {
				logger.Warn("File watcher error", slog.String("error", err.Error()))
			}

		case <-reload:
			logger.Info("Env file changed, restarting")
			if err := halt(); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("Agent stopped", slog.String("error", err.Error()))
			}
			if err := config.ReloadEnvFiles(a.envFiles...); err != nil {
				logger.Error("Reloading env files failed", slog.String("error", err.Error()))
			}
			if err := a.apply(a.load(cmd)); err != nil {
				logger.Error("Invalid config, waiting for a change", slog.String("error", err.Error()))
				continue
			}
			logger = a.opts.Logger.With("component", "dev")
			start()

		case err := <-done:
			stop()
			done = nil
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				logger.Error("Agent stopped, waiting for a change", slog.String("error", err.Error()))
			} else {
				logger.Info("Agent stopped, waiting for a change")
			}

		case <-ctx.Done():
			halt()
			return nil
		}
	}
}

func (a *app) connectCommand() *cobra.Command {
	var room, identity string
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Join one room directly",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			if identity == "" {
				identity = a.opts.AgentName
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return a.runRoom(ctx, newRunner(a.opts), room, identity)
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "room to join")
	cmd.Flags().StringVar(&identity, "identity", "", "agent identity in the room (default: agent name)")
	cmd.MarkFlagRequired("room")
	return cmd
}

// runRoom joins room with a minted token and runs one job in it.
func (a *app) runRoom(ctx context.Context, r *runner, room, identity string) error {
	if err := a.cfg.ValidateLiveKit(); err != nil {
		return err
	}
	token, err := RoomToken(a.opts.APIKey, a.opts.APISecret, room, identity, DefaultTokenTTL)
	if err != nil {
		return err
	}
	j, err := job.New(ctx, job.Config{RoomName: room, URL: a.opts.WSURL, Token: token})
	if err != nil {
		return err
	}
	return r.handleAssigned(j)
}

func (a *app) consoleCommand() *cobra.Command {
	var (
		input, output string
		linger        time.Duration
		realtime      bool
	)
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Talk to the agent offline with WAV files",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			frames, err := LoadConsoleInput(input)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			t := NewConsoleTransport(ConsoleOptions{
				Input:           frames,
				TrailingSilence: time.Second,
				Linger:          linger,
				Realtime:        realtime,
				Logger:          a.opts.Logger,
			})
			runErr := a.runConsole(ctx, t)
			if output != "" {
				if err := t.WriteRecording(output); err != nil {
					return errors.Join(runErr, err)
				}
				a.opts.Logger.Info("Wrote agent audio", slog.String("path", output))
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "WAV file played as the student's microphone")
	cmd.Flags().StringVar(&output, "output", "", "WAV file the agent's speech is written to")
	cmd.Flags().DurationVar(&linger, "linger", 8*time.Second, "how long to wait for the agent once it is quiet")
	cmd.Flags().BoolVar(&realtime, "realtime", true, "feed the input at real-time speed")
	cmd.MarkFlagRequired("input")
	return cmd
}

func (a *app) runConsole(ctx context.Context, t *ConsoleTransport) error {
	return RunLocal(ctx, a.opts, "console", t)
}

func (a *app) downloadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "download-files",
		Short: "Download the model files used by plugins and the turn detector",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			logger := a.opts.Logger

			for _, p := range plugin.Downloaders() {
				logger.Info("Downloading plugin files", slog.String("kind", p.Kind), slog.String("name", p.Name))
				if err := p.Downloader.Download(ctx); err != nil {
					return fmt.Errorf("%s/%s: %w", p.Kind, p.Name, err)
				}
			}

			logger.Info("Downloading turn detector models")
			d := turn.NewDownloader(a.cfg.TurnModelPath)
			if err := d.DownloadAll(ctx); err != nil {
				return fmt.Errorf("turn detector: %w", err)
			}
			for name, ok := range d.Status() {
				logger.Info("Turn detector model", slog.String("model", name), slog.Bool("ready", ok))
			}
			return nil
		},
	}
}

func (a *app) pluginsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List the registered providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tNAME\tVERSION\tDESCRIPTION")
			for _, kind := range plugin.ListKinds() {
				for _, p := range plugin.List(kind) {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", kind, p.Name, p.Version, p.Description)
				}
			}
			return tw.Flush()
		},
	}
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.GetVersionInfo())
		},
	}
}
