package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/dispatchd/internal/config"
	"github.com/dohr-michael/dispatchd/internal/dispatch"
	"github.com/dohr-michael/dispatchd/internal/events"
	"github.com/dohr-michael/dispatchd/internal/jobfile"
)

// NewRunCommand returns the run subcommand.
func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the dispatcher over the jobs defined in the jobfile",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "jobfile",
				Usage: "Path to the YAML jobfile (overrides config)",
			},
		},
		Action: runRun,
	}
}

func runRun(ctx context.Context, cmd *cli.Command) error {
	setupLogging(cmd)

	configPath := cmd.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Warn("config not found, using defaults", "path", configPath, "error", err)
		cfg = config.Default()
	}
	if !cmd.Bool("debug") {
		applyLogLevel(cfg.LogLevel)
	}

	jobPath := cfg.Jobfile
	if cmd.IsSet("jobfile") {
		jobPath = cmd.String("jobfile")
	}
	jobs, err := jobfile.Load(jobPath)
	if err != nil {
		return err
	}
	if len(jobs.Jobs) == 0 {
		return fmt.Errorf("no jobs defined in %s", jobPath)
	}

	dcfg, err := cfg.DispatcherConfig()
	if err != nil {
		return err
	}

	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()
	dcfg.Bus = bus

	unsubscribe := bus.Subscribe(func(e events.Event) {
		slog.Debug("event", "type", e.Type, "payload", e.Payload)
	})
	defer unsubscribe()

	d := dispatch.New(dcfg)
	d.Start()
	defer d.Stop()

	for _, job := range jobs.Jobs {
		t, err := job.Task()
		if err != nil {
			return fmt.Errorf("job %q: %w", job.Name, err)
		}
		d.Dispatch(t)
		slog.Info("job dispatched", "job", job.Name)
	}

	slog.Info("dispatcher running", "jobs", len(jobs.Jobs), "wait", cfg.Worker.WaitMode)
	<-ctx.Done()
	slog.Info("shutting down", "pending", d.Size())
	return nil
}

func setupLogging(cmd *cli.Command) {
	level := slog.LevelInfo
	if cmd.Bool("debug") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func applyLogLevel(name string) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		slog.Warn("unknown log_level, keeping info", "log_level", name)
		return
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
