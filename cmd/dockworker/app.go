package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/waabox/dockworker/internal/config"
	"github.com/waabox/dockworker/internal/docker"
	"github.com/waabox/dockworker/internal/git"
	"github.com/waabox/dockworker/internal/jobs"
	"github.com/waabox/dockworker/internal/log"
	"github.com/waabox/dockworker/internal/metrics"
	"github.com/waabox/dockworker/internal/notify"
	"github.com/waabox/dockworker/internal/service"
	"github.com/waabox/dockworker/internal/storage"
)

type appOptions struct {
	logFormat    string
	pull         bool
	// pullOptional keeps going without Docker; pull requests are then rejected.
	pullOptional bool
	publish      bool
	metrics      *metrics.Metrics
	background   context.Context
}

// app holds the process-wide collaborators shared by every command.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	svc     *service.Service
	closers []func()
}

func newApp(ctx context.Context, flags *rootFlags, opts appOptions) (*app, error) {
	cfg, err := loadSettings()
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevelOrDefault()
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	logger := log.Setup(level, opts.logFormat)

	a := &app{cfg: cfg, logger: logger}

	db, err := storage.OpenSQLite(ctx, cfg.DBPathOrDefault())
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = db.Close() })

	deps := service.Dependencies{
		Settings:   loadSettings,
		Jobs:       jobs.NewStore(db),
		Metrics:    opts.metrics,
		Logger:     logger,
		Background: opts.background,
	}

	if opts.pull {
		puller, err := docker.NewClient(log.WithComponent("docker"))
		switch {
		case err != nil && !opts.pullOptional:
			a.Close()
			return nil, fmt.Errorf("connecting to docker: %w", err)
		case err != nil:
			logger.Warn("docker unavailable, pull requests will be rejected", "error", err)
		default:
			deps.Puller = puller
			a.closers = append(a.closers, func() { _ = puller.Close() })
		}
	}

	if opts.publish && cfg.Notify.NATSURL != "" {
		pub, err := notify.New(cfg.Notify.NATSURL, cfg.SubjectOrDefault())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connecting to nats: %w", err)
		}
		deps.Publisher = pub
		a.closers = append(a.closers, pub.Close)
		logger.Info("publishing job events", "subject", cfg.SubjectOrDefault())
	}

	a.svc = service.New(deps)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// loadSettings reads the dotenv and TOML settings. When no owner is
// configured, the origin of the enclosing git checkout is used.
func loadSettings() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if cfg.GitHub.Owner != "" {
		return cfg, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return cfg, nil
	}
	repo, err := git.DetectRepository(cwd)
	if err != nil {
		return cfg, nil
	}
	cfg.GitHub.Owner = repo.Owner
	if cfg.GitHub.Repo == "" {
		cfg.GitHub.Repo = repo.Name
	}
	return cfg, nil
}
