// Command lookupd serves private lookups over REST and gRPC.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"google.golang.org/grpc/credentials"

	"github.com/sprl/lookup/internal/service"
	"github.com/sprl/lookup/pkg/config"
	"github.com/sprl/lookup/pkg/grpcserver"
	"github.com/sprl/lookup/pkg/observability/logging"
	"github.com/sprl/lookup/pkg/observability/metrics"
	"github.com/sprl/lookup/pkg/server"
)

var version = "dev"

var (
	configPath = flag.StringP("config", "c", "", "Config file (.toml or .yaml)")
	listen     = flag.String("listen", "", "REST listen address (overrides config)")
	grpcListen = flag.String("grpc-listen", "", "gRPC listen address (overrides config)")
	dataDir    = flag.String("data-dir", "", "Published dataset directory (overrides config)")
	profile    = flag.String("profile", "", "Dataset profile (overrides config)")
	adminToken = flag.String("admin-token", "", "Bearer token for POST /reload (overrides config)")
	logLevel   = flag.String("log-level", "", "Log level (overrides config)")
	demo       = flag.Bool("demo", false, "Serve a small built-in dataset instead of the data directory")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "lookupd: %v\n", err)
		os.Exit(2)
	}

	logger, closer := logging.Setup("lookupd", cfg.Log.Env, logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer closer.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error("lookupd failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig() (config.File, error) {
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return config.File{}, err
		}
		cfg = loaded
	}

	s := &cfg.Server
	if flag.CommandLine.Changed("listen") {
		s.ListenAddr = *listen
	}
	if flag.CommandLine.Changed("grpc-listen") {
		s.GRPCAddr = *grpcListen
	}
	if flag.CommandLine.Changed("data-dir") {
		s.DataDir = *dataDir
	}
	if flag.CommandLine.Changed("profile") {
		s.Profile = *profile
	}
	if flag.CommandLine.Changed("admin-token") {
		s.AdminToken = *adminToken
	}
	if flag.CommandLine.Changed("log-level") {
		cfg.Log.Level = *logLevel
	}
	return cfg, cfg.Validate()
}

func run(cfg config.File, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := cfg.Profile(cfg.Server.Profile)
	if err != nil {
		return err
	}
	sc := cfg.Server

	svcCfg := service.Config{
		PIR:            p.PIR(),
		DataDir:        sc.DataDir,
		SessionTTL:     sc.SessionTTL.Duration,
		AllowEphemeral: !sc.DisableEphemeral,
		Workers:        sc.Workers,
	}
	if *demo {
		svcCfg.DataDir = ""
	}
	svc, err := service.New(svcCfg, metrics.Server(), logger)
	if err != nil {
		return fmt.Errorf("failed to create lookup service: %w", err)
	}

	if *demo {
		if err := loadDemo(ctx, svc, p, logger); err != nil {
			return err
		}
	} else if err := svc.Reload(ctx); err != nil {
		// Health stays unhealthy until an operator publishes and reloads.
		logger.Warn("no dataset loaded", "data_dir", sc.DataDir, "error", err)
	}

	go svc.Run(ctx)

	errCh := make(chan error, 2)
	var rest *server.Server
	if sc.ListenAddr != "" {
		rest = server.New(server.Config{
			Address:      sc.ListenAddr,
			ReadTimeout:  2 * time.Minute,
			WriteTimeout: 2 * time.Minute,
			MaxBodyBytes: sc.MaxBodyBytes,
			AdminToken:   sc.AdminToken,
			RateLimit:    server.RateLimit{RequestsPerMinute: sc.RateLimit * 60, Burst: sc.RateBurst},
			Version:      version,
		}, svc, logger)
		go func() { errCh <- rest.Start() }()
	}

	var grpcStop func()
	if sc.GRPCAddr != "" {
		var creds credentials.TransportCredentials
		if sc.TLSCert != "" {
			creds, err = grpcserver.LoadTLSCredentials(sc.TLSCert, sc.TLSKey)
			if err != nil {
				return err
			}
			logger.Info("tls enabled")
		}
		lis, err := net.Listen("tcp", sc.GRPCAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", sc.GRPCAddr, err)
		}
		gs := grpcserver.NewGRPCServer(grpcserver.New(svc), creds, logger)
		grpcStop = gs.GracefulStop
		go func() {
			logger.Info("grpc server listening", "address", sc.GRPCAddr)
			errCh <- gs.Serve(lis)
		}()
	}

	logger.Info("lookupd started", "version", version, "profile", p.Name, "buckets", p.PIR().NumBuckets(), "item_size", p.ItemSize)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	logger.Info("shutting down")
	if grpcStop != nil {
		grpcStop()
	}
	if rest != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rest.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("rest shutdown", "error", err)
		}
	}
	logger.Info("shutdown complete")
	return serveErr
}
