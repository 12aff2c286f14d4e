package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"devguard/internal/bootstrap"
	jwttoken "devguard/internal/jwt_token"
	"devguard/internal/platform/config"
	"devguard/internal/platform/httpserver"
	"devguard/internal/platform/logger"
	"devguard/internal/platform/metrics"
	httptransport "devguard/internal/transport/http"
)

// main wires the daemon: the operator HTTP surface, the audit retention
// worker and, when enabled, the public-record forwarder. Workflows are
// executed by devguardctl against the same audit directory and backends.
func main() {
	configPath := flag.String("config", "", "path to devguard.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("devguard server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	reg := metrics.New()
	rt, err := bootstrap.New(ctx, cfg, log, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Warn("runtime close failed", "error", err)
		}
	}()

	checks := map[string]httptransport.ReadinessCheck{}
	for name, check := range rt.Checks() {
		checks[name] = check
	}
	deps := httptransport.Deps{
		Logger:   log,
		Registry: reg,
		Health:   httptransport.NewHealthHandler(checks),
	}
	if cfg.Server.JWTSigningKey != "" {
		jwtService := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer)
		deps.Validator = jwttoken.NewJWTServiceAdapter(jwtService)
		deps.Audit = httptransport.NewAuditHandler(rt.Audit, log)
		deps.Runs = httptransport.NewRunsHandler(rt.History, log)
		deps.Workflows = httptransport.NewWorkflowsHandler(rt.Definitions, log)
	} else {
		log.Warn("server.jwt_signing_key is not set; admin routes are disabled")
	}
	srv := httpserver.New(cfg.Server.Addr, httptransport.NewRouter(deps))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting devguard server", "addr", cfg.Server.Addr)
		return httpserver.Run(gctx, srv, cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		return rt.Audit.RunRetention(gctx, cfg.Audit.RetentionInterval)
	})
	if rt.Forwarder != nil {
		g.Go(func() error {
			return rt.Forwarder.Run(gctx)
		})
	}
	return g.Wait()
}
