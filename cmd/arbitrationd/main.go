package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/example/hotel-refunds/internal/app"
	"github.com/example/hotel-refunds/internal/config"
	"github.com/example/hotel-refunds/internal/logging"
	"github.com/example/hotel-refunds/internal/rpc"
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

	auditor := audit.NewChainLogger(1024)
	auditor.Sink = func(e *audit.LogEntry) {
		logger.Info("audit_entry", "hash", e.Hash, "previous_hash", e.PreviousHash, "payload", e.Payload)
	}

	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(1024 * 1024),
		grpc.MaxSendMsgSize(1024 * 1024),
		grpc.UnaryInterceptor(rpc.UnaryInterceptor(logger, auditor)),
	}
	tlsCfg := security.TLSConfig{CertFile: cfg.API.TLSCert, KeyFile: cfg.API.TLSKey, CAFile: cfg.API.TLSCA}
	if tlsCfg.Enabled() {
		serverTLS, err := security.LoadServerTLSConfig(tlsCfg)
		if err != nil {
			logger.Error("failed to load TLS config", "error", err)
			os.Exit(1)
		}
		opts = append(opts, grpc.Creds(credentials.NewTLS(serverTLS)))
	}

	grpcServer := grpc.NewServer(opts...)
	rpc.RegisterArbitrationServiceServer(grpcServer, rpc.NewServer(a.Engine, logger))

	healthServer := health.NewServer()
	healthServer.SetServingStatus("arbitration.v1.ArbitrationService", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen", "addr", cfg.GRPCAddr, "error", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down arbitration gRPC server")
		healthServer.Shutdown()
		grpcServer.GracefulStop()
	}()

	logger.Info("arbitration gRPC server listening", "addr", cfg.GRPCAddr, "tls", tlsCfg.Enabled())
	if err := grpcServer.Serve(lis); err != nil {
		logger.Error("failed to serve", "error", err)
		os.Exit(1)
	}
}
