package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"skillcoach-engine/pkg/coaching"
	"skillcoach-engine/pkg/config"
	httpserver "skillcoach-engine/pkg/http"
	"skillcoach-engine/pkg/messaging"
	"skillcoach-engine/pkg/metrics"
	"skillcoach-engine/pkg/registry"
	"skillcoach-engine/pkg/store"
	"skillcoach-engine/pkg/stt"
	"skillcoach-engine/pkg/telemetry/tracing"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine behind its internal HTTP and WebSocket surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			dirPath, _ := cmd.Flags().GetString("directory")
			return runServe(cmd.Context(), dirPath)
		},
	}
}

func runServe(parent context.Context, directoryPath string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(logger)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.ApplyLogging(logger); err != nil {
		return fmt.Errorf("failed to apply logging configuration: %w", err)
	}
	logger.WithField("level", logger.GetLevel().String()).Info("Log level set")

	metrics.Init(logger)
	metrics.EnableMetrics(cfg.HTTP.EnableMetrics)

	tracingShutdown, err := tracing.Init(ctx, cfg.Tracing, logger)
	if err != nil {
		logger.WithError(err).Warn("Failed to initialize tracing, continuing without export")
		tracingShutdown = func(context.Context) error { return nil }
	}

	directory, err := loadDirectory(directoryPath)
	if err != nil {
		return err
	}

	recognizers, err := stt.BuildManager(ctx, cfg.Transcription, logger)
	if err != nil {
		return fmt.Errorf("failed to set up speech recognition: %w", err)
	}
	recognizer, _ := recognizers.Default()

	var (
		sinks     store.Fanout
		publisher *messaging.Publisher
		redis     *store.RedisStore
	)
	if cfg.Store.RedisEnabled {
		redis, err = store.NewRedisStore(cfg.Store, logger)
		if err != nil {
			logger.WithError(err).Warn("Redis insight store unavailable, continuing without it")
		} else {
			sinks = append(sinks, redis)
		}
	}
	if cfg.Messaging.Enabled {
		publisher = messaging.NewPublisher(logger, cfg.Messaging)
		if err := publisher.Connect(); err != nil {
			logger.WithError(err).Warn("AMQP broker unreachable, events will not be published")
		}
		sinks = append(sinks, publisher)
	}
	if len(sinks) == 0 {
		logger.Warn("No insight store configured, keeping meeting scripts and coaching insights in memory")
		sinks = append(sinks, store.NewMemoryStore())
	}

	registryOpts := registry.Options{
		Config:     registry.ConfigFrom(cfg.Engine, cfg.Transcription),
		Recognizer: recognizer,
		Directory:  directory,
		Scripts:    sinks,
		Logger:     logger,
	}
	advisorOpts := coaching.Options{
		Store:        sinks,
		HistoryLimit: cfg.Coaching.HistoryLimit,
		Logger:       logger,
	}
	services := httpserver.Services{Recognizer: recognizer}
	if publisher != nil {
		registryOpts.XP = publisher
		advisorOpts.Career = publisher
		services.Messaging = publisher
	}
	if redis != nil {
		services.Store = redis
	}

	sessions := registry.New(registryOpts)
	advisor := coaching.NewAdvisor(advisorOpts)
	services.Sessions = sessions
	services.Coaching = advisor

	server := httpserver.NewServer(logger, httpserver.ConfigFrom(cfg.HTTP), services)
	if cfg.HTTP.Enabled {
		server.Start()
	} else {
		logger.Warn("HTTP surface disabled; the engine is idle until stopped")
	}

	logger.WithField("recognizers", recognizers.Names()).Info("Skill coaching engine started")
	<-ctx.Done()
	logger.Info("Received shutdown signal, cleaning up...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error shutting down HTTP server")
	}
	if err := sessions.Close(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Sessions did not finish before shutdown deadline")
	}
	advisor.Close(shutdownCtx)

	if publisher != nil {
		publisher.Disconnect()
	}
	if redis != nil {
		if err := redis.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close Redis client")
		}
	}
	if err := recognizers.Close(); err != nil {
		logger.WithError(err).Warn("Failed to release speech recognizers")
	}
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Failed to flush tracing spans during shutdown")
	}

	logger.Info("Shutdown complete")
	return nil
}
