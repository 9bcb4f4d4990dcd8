package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	appscans "github.com/bryanwahyu/automaton-fix/internal/application/scans"
	"github.com/bryanwahyu/automaton-fix/internal/infra/httpserver"
	"github.com/bryanwahyu/automaton-fix/internal/infra/ledger"
	"github.com/bryanwahyu/automaton-fix/internal/infra/storage"
	"github.com/bryanwahyu/automaton-fix/internal/middleware"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve findings, attempts and diffs over HTTP",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if err := cfg.Validate(); err != nil {
		return setupError("validate config", err)
	}

	res := &resources{}
	defer res.Close()

	health := map[string]middleware.HealthChecker{
		"ledger": &middleware.FileHealthChecker{Path: cfg.Project.Findings},
	}
	attempts, err := newAttemptRepository(ctx, cfg, res, health)
	if err != nil {
		return setupError("audit store", err)
	}
	diffs, err := storage.NewLocal(cfg.Project.Out, nil)
	if err != nil {
		return setupError("diff directory", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	limiter := middleware.NewRateLimiter(cfg.Server.RateBurst, cfg.Server.RatePerSecond)
	limiter.StartSweeper(ctx, 5*time.Minute)

	handler := httpserver.NewRouter(httpserver.Deps{
		Findings:       &appscans.Service{Ledger: ledger.NewFile(cfg.Project.Findings)},
		Attempts:       attempts,
		Diffs:          diffs,
		Metrics:        middleware.NewMetrics(reg),
		Health:         health,
		APIKeys:        cfg.Server.APIKeys,
		Limiter:        limiter,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return setupError("listen", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("shutdown error")
	}
	return nil
}
