package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/propline/campaign-engine/internal/channel"
	"github.com/propline/campaign-engine/internal/config"
	"github.com/propline/campaign-engine/internal/db"
	"github.com/propline/campaign-engine/internal/models"
	"github.com/propline/campaign-engine/internal/queue"
	"github.com/propline/campaign-engine/internal/repository"
	"github.com/propline/campaign-engine/internal/service"
	"github.com/propline/campaign-engine/internal/worker"
)

func main() {
	// Initialize logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	logger.Info("starting campaign engine worker")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Connect to database
	database, err := db.New(db.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer database.Close()

	logger.Info("connected to database")

	// Connect to Redis queue
	queueClient, err := queue.NewRedisClient(queue.RedisConfig{
		URL:       cfg.Queue.RedisURL,
		QueueName: cfg.Queue.QueueName,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to Redis", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer queueClient.Close()

	// Initialize repositories
	campaignRepo := repository.NewCampaignRepository(database.DB)
	recipientRepo := repository.NewRecipientRepository(database.DB)
	connectionRepo := repository.NewConnectionRepository(database.DB)
	auditRepo := repository.NewAuditRepository(database.DB)

	// Initialize services
	adapters := buildAdapters(cfg)
	templateSvc := service.NewTemplateService()
	dispatcher := service.NewBatchDispatcher(
		campaignRepo, recipientRepo, connectionRepo, auditRepo, adapters, templateSvc, logger,
	)
	campaignSvc := service.NewCampaignService(
		campaignRepo, recipientRepo, auditRepo, dispatcher, queueClient, logger,
	)

	// Initialize batch processor
	processor := worker.NewBatchProcessor(campaignSvc, cfg.Worker.BatchInterval, logger)

	// Initialize sweeps
	sweeper := worker.NewSweeper(campaignRepo, recipientRepo, campaignSvc, cfg.Worker.StuckTimeout, logger)
	cronRunner := cron.New()
	if err := sweeper.Register(cronRunner, cfg.Worker.SweepSchedule); err != nil {
		logger.Error("failed to register sweeps", slog.String("error", err.Error()))
		os.Exit(1)
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start consuming batch jobs
	consumerErrors := make(chan error, 1)
	go func() {
		logger.Info("starting batch consumer",
			slog.Int("concurrency", cfg.Worker.Concurrency),
			slog.Duration("batch_interval", cfg.Worker.BatchInterval),
		)

		jobHandler := func(ctx context.Context, job *models.BatchJob) error {
			return processor.Process(ctx, job)
		}

		consumerErrors <- queueClient.Consume(ctx, jobHandler, cfg.Worker.Concurrency)
	}()

	// Wait for interrupt signal or consumer error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-consumerErrors:
		if err != nil && err != context.Canceled {
			logger.Error("consumer error", slog.String("error", err.Error()))
			os.Exit(1)
		}

	case sig := <-quit:
		logger.Info("shutting down worker", slog.String("signal", sig.String()))

		// Cancel context to stop consumer
		cancel()

		// Give in-flight batches time to resolve
		time.Sleep(5 * time.Second)

		logger.Info("worker stopped gracefully")
	}
}

// buildAdapters wires one adapter per channel. MOCK_SEND swaps in
// simulated providers for local development.
func buildAdapters(cfg *config.Config) *channel.Registry {
	if cfg.Worker.MockSendEnabled {
		return channel.NewRegistry(
			channel.NewMockAdapter("whatsapp", 0.92),
			channel.NewMockAdapter("email", 0.92),
			channel.NewMockAdapter("sms", 0.92),
		)
	}

	httpClient := &http.Client{Timeout: 15 * time.Second}
	return channel.NewRegistry(
		channel.NewWhatsAppAdapter(httpClient, ""),
		channel.NewEmailAdapter(),
		channel.NewSMSAdapter(httpClient),
	)
}
