package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/approvalcenter/internal/gateway/httpapi"
	"github.com/jkaninda/approvalcenter/internal/ratelimit"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the escalation schedule",
	RunE:  runServe,
}

func init() {
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveAddr, "addr", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runServe starts the HTTP API gateway and, when enabled, the escalation sweep.
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.HTTP.ListenAddr = serveAddr
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.EscalationEnabled() {
		stopSweep, err := sc.Sweeper.Start(ctx, cfg.Escalation.CronSchedule(), sc.Store.Idempotency(), cfg.Escalation.LedgerRetention())
		if err != nil {
			return err
		}
		defer stopSweep()
	}

	if len(cfg.HTTP.APIKeys) == 0 {
		logger.Warn("no API keys configured, every /v1 request will be rejected")
	}

	gwCfg := httpapi.Config{
		ListenAddr:     cfg.HTTP.Addr(),
		EnableDocs:     cfg.HTTP.EnableDocs,
		APIKeys:        cfg.HTTP.APIKeys,
		MaxRequestSize: cfg.HTTP.MaxRequestSizeBytes,
	}
	if obs := sc.Obs; obs != nil {
		gwCfg.MetricsRegistry = obs.Registry()
		gwCfg.HealthChecker = obs.HealthOrNil()
		gwCfg.Metrics = obs.Metrics
		gwCfg.Tracer = obs.SpanTracer()
		if m := cfg.Observability.Metrics; m != nil {
			gwCfg.MetricsPath = m.Path
		}
	}

	gw := httpapi.NewGateway(gwCfg, sc.Center, ratelimit.NewLimiter(cfg.HTTP.RateLimit), logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("gateway shutdown", slog.String("error", err.Error()))
	}
	return nil
}
