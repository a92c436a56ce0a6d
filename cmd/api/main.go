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

	"github.com/example/hotel-refunds/internal/api"
	"github.com/example/hotel-refunds/internal/app"
	"github.com/example/hotel-refunds/internal/config"
	"github.com/example/hotel-refunds/internal/logging"
	"github.com/example/hotel-refunds/internal/security"
	"github.com/example/hotel-refunds/pkg/audit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.Environment, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	allowlist, err := security.ParseCIDRAllowlist(cfg.API.IPAllowlist)
	if err != nil {
		logger.Error("invalid API_IP_ALLOWLIST", "error", err)
		os.Exit(1)
	}

	auditor := audit.NewChainLogger(1024)
	auditor.Sink = func(e *audit.LogEntry) {
		logger.Info("audit_entry", "hash", e.Hash, "previous_hash", e.PreviousHash, "payload", e.Payload)
	}

	var rateLimiter *security.RedisTokenBucket
	if a.Redis != nil {
		rateLimiter = &security.RedisTokenBucket{
			Redis:      a.Redis,
			Prefix:     "hotel_refunds_api",
			Capacity:   cfg.API.RateLimitCapacity,
			RefillRate: cfg.API.RateLimitRefillPerSec,
		}
	}

	router, err := api.NewRouter(api.Dependencies{
		Logger:       logger,
		Refunds:      a.Refunds,
		Journal:      a.Controller,
		Arbitrators:  a.Arbitrators,
		Arbitration:  a.Engine,
		Auditor:      auditor,
		RateLimiter:  rateLimiter,
		IPAllowlist:  allowlist,
		MaxBodyBytes: cfg.API.MaxBodyBytes,
	})
	if err != nil {
		logger.Error("failed to build router", "error", err)
		os.Exit(1)
	}

	// An in-memory outbox is invisible to payoutd, so drain it here.
	if cfg.DatabaseDriver() == "memory" {
		dispatcher, pub, err := a.NewDispatcher(cfg, logger)
		if err != nil {
			logger.Error("failed to build payout dispatcher", "error", err)
			os.Exit(1)
		}
		defer pub.Close()
		go func() { _ = dispatcher.Run(ctx) }()
	}

	tlsCfg := security.TLSConfig{CertFile: cfg.API.TLSCert, KeyFile: cfg.API.TLSKey, CAFile: cfg.API.TLSCA}
	srv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if tlsCfg.Enabled() {
		srv.TLSConfig, err = security.LoadServerTLSConfig(tlsCfg)
		if err != nil {
			logger.Error("failed to load TLS config", "error", err)
			os.Exit(1)
		}
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("refund api listening", "addr", cfg.API.Addr, "tls", tlsCfg.Enabled(), "store", cfg.DatabaseDriver())
	if tlsCfg.Enabled() {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
