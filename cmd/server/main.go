package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/dasmlab/doctrans/pkg/config"
	"github.com/dasmlab/doctrans/pkg/document"
	"github.com/dasmlab/doctrans/pkg/pipeline"
	"github.com/dasmlab/doctrans/pkg/server"
	"github.com/dasmlab/doctrans/pkg/service"
	"github.com/dasmlab/doctrans/pkg/translate"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "doctrans: %v\n", err)
		os.Exit(2)
	}

	logger := cfg.NewLogger()
	logger.WithFields(logrus.Fields{
		"http_port": cfg.Server.HTTPPort,
		"grpc_port": cfg.Server.GRPCPort,
		"mt_engine": cfg.Translator.Engine,
		"mt_url":    cfg.Translator.URL,
		"log_level": logger.GetLevel().String(),
	}).Info("Starting doctrans server")

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Server error")
	}
	logger.Info("Server stopped gracefully")
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	translator, pool, err := newTranslator(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	// Verify translator is healthy
	healthCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	logger.Info("Checking translator health...")
	if err := translator.CheckHealth(healthCtx); err != nil {
		logger.WithError(err).Warn("Translator health check failed, but continuing anyway")
		logger.Warn("Server will start, but translation requests may fail until translator is ready")
	} else {
		logger.Info("Translator health check passed")
	}
	cancel()

	registry := document.NewRegistry(document.Options{
		Extended:       cfg.Pipeline.ExtendedFormats,
		LanguageSuffix: cfg.Pipeline.LanguageSuffix,
		Logger:         logger,
	})

	p, err := pipeline.New(pipeline.Config{
		Registry:       registry,
		Translator:     translator,
		Languages:      cfg.Pipeline.Languages,
		DefaultSource:  cfg.Pipeline.DefaultSource,
		DefaultTarget:  cfg.Pipeline.DefaultTarget,
		Gate:           pipeline.NewGate(time.Duration(cfg.Pipeline.Gate)),
		StrictFormulas: cfg.Pipeline.StrictFormulas,
		RunTimeout:     time.Duration(cfg.Pipeline.RunTimeout),
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	processor := service.NewJobProcessor(ctx, cfg.Jobs.MaxConcurrent, logger)
	jobQueue := service.NewJobQueue(p, processor, logger)

	httpServer := server.NewHTTPServer(jobQueue, logger, server.Options{
		Port:           cfg.Server.HTTPPort,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Health:         translator.CheckHealth,
	})

	grpcServer, healthServer := newGRPCServer(logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return httpServer.Start()
	})

	if cfg.Server.GRPCPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			return fmt.Errorf("listen on gRPC port %d: %w", cfg.Server.GRPCPort, err)
		}
		g.Go(func() error {
			logger.WithFields(logrus.Fields{
				"port": cfg.Server.GRPCPort,
			}).Info("gRPC health server listening")
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("failed to serve gRPC: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		jobQueue.RunCleanup(gctx, time.Duration(cfg.Jobs.CleanupInterval), time.Duration(cfg.Jobs.MaxAge))
		return nil
	})
	logger.WithFields(logrus.Fields{
		"cleanup_interval": time.Duration(cfg.Jobs.CleanupInterval).String(),
		"max_age":          time.Duration(cfg.Jobs.MaxAge).String(),
	}).Info("Started job cleanup goroutine")

	g.Go(func() error {
		watchHealth(gctx, translator, healthServer, time.Duration(cfg.Server.HealthInterval), logger)
		return nil
	})

	// Shut down once a signal arrives or any server fails.
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()

		err := httpServer.Shutdown(shutdownCtx)

		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			logger.Warn("Graceful shutdown timeout, forcing stop...")
			grpcServer.Stop()
		}
		return err
	})

	return g.Wait()
}

// newTranslator builds the configured engine. For the ondevice engine it
// also starts the worker pool when enabled and pre-warms the configured
// pairs.
func newTranslator(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (translate.Translator, *translate.WorkerPool, error) {
	engine, err := translate.ParseEngineType(cfg.Translator.Engine)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse translation engine type: %w", err)
	}

	tcfg := translate.Config{
		Engine:            engine,
		BaseURL:           cfg.Translator.URL,
		APIKey:            cfg.Translator.APIKey,
		Model:             cfg.Translator.Model,
		ChunkSize:         cfg.Translator.ChunkSize,
		KeepSourceOnError: cfg.Translator.KeepSourceOnError,
		Logger:            logger,
	}

	var pool *translate.WorkerPool
	if engine == translate.EngineOnDevice {
		var loader translate.ModelLoader = translate.NewPlaceholderTranslator()
		if wp := cfg.Translator.WorkerPool; wp.Enabled {
			pool, err = translate.NewWorkerPool(translate.WorkerPoolConfig{
				PythonPath: wp.PythonPath,
				ScriptPath: wp.ScriptPath,
				SocketDir:  wp.SocketDir,
				Workers:    wp.Workers,
				Logger:     logger,
			})
			if err != nil {
				return nil, nil, fmt.Errorf("start worker pool: %w", err)
			}
			loader = pool
		}
		tcfg.ModelCache = translate.NewModelCache(loader, nil, logger)
	}

	translator, err := translate.NewTranslator(ctx, tcfg)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, nil, fmt.Errorf("failed to create translator: %w", err)
	}

	if tcfg.ModelCache != nil && len(cfg.Translator.PreWarm) > 0 {
		preWarm(ctx, translate.NewOnDeviceTranslator(tcfg.ModelCache, logger), cfg.Translator.PreWarm, logger)
	}

	return translator, pool, nil
}

func preWarm(ctx context.Context, t *translate.OnDeviceTranslator, pairs []string, logger *logrus.Logger) {
	for _, pair := range pairs {
		src, tgt, ok := strings.Cut(pair, "_to_")
		if !ok {
			logger.WithField("pair", pair).Warn("Ignoring malformed pre-warm pair, expected <src>_to_<tgt>")
			continue
		}
		if !t.IsModelAvailable(src, tgt) {
			logger.WithFields(logrus.Fields{
				"pair":      pair,
				"available": t.SupportedPairs(),
			}).Warn("No model for pre-warm pair")
			continue
		}
		if err := t.PreWarm(ctx, src, tgt); err == nil {
			logger.WithField("pair", pair).Info("Pre-warmed translation model")
		}
	}
}

func newGRPCServer(logger *logrus.Logger) (*grpc.Server, *health.Server) {
	var opts []grpc.ServerOption
	opts = append(opts, grpc.Creds(insecure.NewCredentials()))

	// Clients ping every 30s; allow down to 15s before "too many pings".
	opts = append(opts, grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
		MinTime:             15 * time.Second,
		PermitWithoutStream: true,
	}))
	opts = append(opts, grpc.KeepaliveParams(keepalive.ServerParameters{
		MaxConnectionIdle:     5 * time.Minute,
		MaxConnectionAge:      30 * time.Minute,
		MaxConnectionAgeGrace: 5 * time.Second,
		Time:                  30 * time.Second,
		Timeout:               10 * time.Second,
	}))

	logger.WithFields(logrus.Fields{
		"min_time":              "15s",
		"permit_without_stream": true,
		"max_connection_idle":   "5m",
		"max_connection_age":    "30m",
	}).Debug("Configured gRPC server keepalive settings")

	s := grpc.NewServer(opts...)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	// Reflection lets grpcurl list the health service.
	reflection.Register(s)

	return s, healthServer
}

// watchHealth mirrors the translator's health into the gRPC health service.
func watchHealth(ctx context.Context, translator translate.Translator, hs *health.Server, interval time.Duration, logger *logrus.Logger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	serving := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := translator.CheckHealth(checkCtx)
			cancel()

			switch {
			case err != nil && serving:
				logger.WithError(err).Warn("Translator unhealthy, reporting NOT_SERVING")
				hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
				serving = false
			case err == nil && !serving:
				logger.Info("Translator healthy again, reporting SERVING")
				hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
				serving = true
			}
		}
	}
}
