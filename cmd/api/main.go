package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/propline/campaign-engine/internal/channel"
	"github.com/propline/campaign-engine/internal/config"
	"github.com/propline/campaign-engine/internal/db"
	"github.com/propline/campaign-engine/internal/handler"
	"github.com/propline/campaign-engine/internal/queue"
	"github.com/propline/campaign-engine/internal/repository"
	"github.com/propline/campaign-engine/internal/service"
)

func main() {
	// Initialize logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	logger.Info("starting campaign engine API server")

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
	retrySvc := service.NewRetryService(
		campaignRepo, recipientRepo, auditRepo, queueClient, logger,
	)
	reconcilerSvc := service.NewReconcilerService(
		campaignRepo, recipientRepo, auditRepo, logger,
	)

	// Initialize handlers
	campaignHandler := handler.NewCampaignHandler(campaignSvc, retrySvc, logger)
	webhookHandler := handler.NewWebhookHandler(reconcilerSvc, logger)
	healthHandler := handler.NewHealthHandler(database.DB, queueClient, logger)

	// Setup router
	r := chi.NewRouter()
	r.Use(handler.RecoveryMiddleware(logger))
	r.Use(handler.LoggingMiddleware(logger))
	r.Use(handler.CORSMiddleware)

	r.Get("/health", healthHandler.Health)

	r.Route("/campaigns", func(r chi.Router) {
		r.Get("/{id}", campaignHandler.GetCampaign)
		r.Get("/{id}/recipients", campaignHandler.ListRecipients)
		r.Post("/{id}/execute", campaignHandler.Execute)
		r.Post("/{id}/retry", campaignHandler.Retry)
	})

	r.Post("/webhooks/{channel}", webhookHandler.Receive)

	// Create server
	addr := fmt.Sprintf(":%d", cfg.API.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("API server listening", slog.String("addr", addr))
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)

	case sig := <-quit:
		logger.Info("shutting down server", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("server shutdown failed", slog.String("error", err.Error()))
			os.Exit(1)
		}

		logger.Info("server stopped gracefully")
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
