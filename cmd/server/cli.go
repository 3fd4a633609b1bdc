package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prezlab/nasma/backend/internal/collaborators/events"
	"github.com/prezlab/nasma/backend/internal/domain/session"
	"github.com/prezlab/nasma/backend/internal/infrastructure/config"
	"github.com/prezlab/nasma/backend/internal/infrastructure/logging"
)

// CLI is the command line.
type CLI struct {
	Version  kong.VersionFlag `help:"Show version information."`
	Dev      bool             `help:"Development logging and gin debug mode." env:"LOG_DEV"`
	LogLevel string           `help:"Log level (debug, info, warn, error)." env:"LOG_LEVEL"`
	Catalog  string           `help:"Flow catalog override (.yaml or .toml)." type:"existingfile" env:"CATALOG_FILE"`

	Serve ServeCmd `cmd:"" default:"1" help:"Run the chat API (default)."`
	Sweep SweepCmd `cmd:"" help:"Remove expired and finished sessions once."`
	Stats StatsCmd `cmd:"" help:"Print session statistics as JSON."`
}

// setup loads the environment configuration and applies flag overrides.
func (c *CLI) setup() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if c.Dev {
		cfg.Logging.Development = true
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}
	if c.Catalog != "" {
		cfg.Catalog.File = c.Catalog
	}
	return cfg, logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development), nil
}

// ServeCmd runs the HTTP and gRPC listeners and the sweeper.
type ServeCmd struct {
	Port   string `help:"HTTP port, overrides PORT." short:"p"`
	NoGRPC bool   `help:"Disable the gRPC health server." name:"no-grpc"`
}

// Run serves until SIGINT or SIGTERM.
func (s *ServeCmd) Run(cli *CLI) error {
	cfg, log, err := cli.setup()
	if err != nil {
		return err
	}
	defer log.Sync()
	if s.Port != "" {
		cfg.Server.Port = s.Port
	}
	if s.NoGRPC {
		cfg.GRPC.Enabled = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := openCore(cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()
	c.startEvents()

	if err := c.sessions.Open(ctx); err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	srv, err := c.buildServer()
	if err != nil {
		return err
	}
	sweeper := session.NewSweeper(c.sessions, cfg.Session.SweepInterval, log.Component("sweeper"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Run)
	g.Go(srv.RunGRPC)
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Info("Nasma ready",
		zap.String("addr", cfg.Server.Host+":"+cfg.Server.Port),
		zap.String("session_backend", cfg.Session.Backend),
		zap.Bool("grpc", cfg.GRPC.Enabled))
	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", zap.Error(err))
		return err
	}
	log.Info("Server stopped")
	return nil
}

// SweepCmd removes stale sessions once, for cron deployments that run
// without the in-process sweeper.
type SweepCmd struct{}

// Run sweeps and prints the report.
func (s *SweepCmd) Run(cli *CLI) error {
	cfg, log, err := cli.setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	c, err := openCore(cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()
	c.startEvents()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	report, err := c.sessions.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	return printJSON(report)
}

// StatsCmd prints session statistics and, when auditing is on, flow
// outcomes for the last Days days.
type StatsCmd struct {
	Days int `help:"Outcome window in days." default:"7"`
}

// Run prints the statistics.
func (s *StatsCmd) Run(cli *CLI) error {
	cfg, log, err := cli.setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	c, err := openCore(cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	out := struct {
		Sessions session.Stats    `json:"sessions"`
		Outcomes []events.Outcome `json:"outcomes,omitempty"`
	}{Sessions: c.sessions.Stats(ctx)}
	if c.audit != nil && s.Days > 0 {
		outcomes, err := c.audit.Outcomes(ctx, time.Now().AddDate(0, 0, -s.Days))
		if err != nil {
			return fmt.Errorf("failed to read outcomes: %w", err)
		}
		out.Outcomes = outcomes
	}
	return printJSON(out)
}

func printJSON(v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(data))
	return err
}
