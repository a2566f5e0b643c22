package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	cfhttp "github.com/nintynick/openclaw-mission-control-sub001/internal/adapter/http"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/adapter/natskv"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/adapter/ws"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/middleware"
)

const shutdownTimeout = 10 * time.Second

func (a *app) serveCmd() *cobra.Command {
	var withWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the governance HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context(), withWorker)
		},
	}
	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "also run queue workers and the escalation sweeper in this process")
	return cmd
}

func (a *app) serve(ctx context.Context, withWorker bool) error {
	cfg := a.cfg
	in, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer in.close()

	hub := ws.NewHub(originHost(cfg.Server.CORSOrigin))
	svc, err := a.buildServices(ctx, in, hub)
	if err != nil {
		return err
	}

	idempotency, err := natskv.Open(ctx, in.mq.JetStream(), cfg.Idempotency.Bucket, cfg.Idempotency.TTL)
	if err != nil {
		return fmt.Errorf("idempotency store: %w", err)
	}
	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	handlers := &cfhttp.Handlers{
		Zones:       svc.zones,
		Proposals:   svc.proposals,
		Escalations: svc.escalations,
		Lifecycle:   svc.lifecycle,
		Audit:       svc.audit,
		Evaluations: svc.evaluations,
		Permissions: svc.permissions,
		Ping:        in.pool.Ping,
		Breakers:    svc.breakers,
		Events:      in.mq,
	}
	opts := cfhttp.RouterOptions{
		CORSOrigin:     cfg.Server.CORSOrigin,
		RateLimiter:    limiter,
		Idempotency:    idempotency,
		IdempotencyTTL: cfg.Idempotency.TTL,
		WebSocket:      hub.HandleWS,
	}
	if cfg.OTEL.Enabled {
		opts.ServiceName = cfg.OTEL.ServiceName
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           cfhttp.NewRouter(handlers, opts),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr, "with_worker", withWorker)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		watchReload(gctx, in.vault)
		return nil
	})
	if withWorker {
		g.Go(func() error { return a.runWorker(gctx, in, svc) })
	}
	return g.Wait()
}
