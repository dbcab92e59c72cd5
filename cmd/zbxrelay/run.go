package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HerbHall/zbxrelay/internal/relay"
	"github.com/HerbHall/zbxrelay/internal/server"
	"github.com/HerbHall/zbxrelay/internal/store"
	"github.com/HerbHall/zbxrelay/internal/version"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the relay (default)",
	RunE:  runRelay,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRelay(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("zbxrelay starting",
		append([]zap.Field{zap.String("version", version.Short())}, cfg.LogFields()...)...)

	c, err := newComponents(cfg, logger)
	if err != nil {
		return err
	}
	if err := telegramConfig(cfg).Validate(); err != nil {
		logger.Warn("telegram delivery disabled, problems will only be logged", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	deps := relay.Deps{
		Prober:    c.client,
		Auth:      c.session,
		Source:    c.fetcher,
		Formatter: c.formatter,
		Sender:    c.notifier,
		Versions:  c.client,
		Metrics:   relay.NewMetrics(reg),
	}
	if cfg.Relay.StateFile != "" {
		st, err := store.Open(ctx, cfg.Relay.StateFile, version.Short())
		if err != nil {
			return err
		}
		defer st.Close()
		deps.Store = st
		logger.Info("watermark persistence enabled", zap.String("path", cfg.Relay.StateFile))
	}

	r, err := relay.New(relay.Config{
		StartupDelay:       cfg.StartupDelay(),
		ProbeAttempts:      cfg.Relay.ProbeAttempts,
		ProbeDelay:         cfg.ProbeDelay(),
		PollInterval:       cfg.PollInterval(),
		MonotonicWatermark: cfg.Relay.MonotonicWatermark,
	}, deps, logger.Named("relay"))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Run(gctx) })
	if cfg.Server.Addr != "" {
		srv := server.New(cfg.Server.Addr, r, reg, logger.Named("server"))
		// The ops listener is auxiliary: its failure is logged and never
		// stops the relay.
		g.Go(func() error {
			if err := srv.ListenAndServe(gctx); err != nil {
				logger.Error("ops HTTP server failed, relay keeps running", zap.Error(err))
			}
			return nil
		})
	}
	runErr := g.Wait()

	if c.session.Valid() {
		logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := c.session.Logout(logoutCtx); err != nil {
			logger.Debug("logout failed", zap.Error(err))
		}
		cancel()
	}

	if runErr != nil {
		logger.Error("zbxrelay stopped", zap.Error(runErr))
		return runErr
	}
	logger.Info("zbxrelay stopped")
	return nil
}
