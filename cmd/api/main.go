package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davet/prodsync/internal/api"
	"github.com/davet/prodsync/internal/api/handler"
	"github.com/davet/prodsync/internal/api/middleware"
	"github.com/davet/prodsync/internal/config"
	"github.com/davet/prodsync/internal/logger"
	"github.com/davet/prodsync/internal/repository"
	"github.com/davet/prodsync/internal/service"
	"github.com/davet/prodsync/internal/storage"
)

func main() {
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.NewFromEnv(logger.LoadFromEnv())
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.Fatalf("Failed to initialize database: %v", err)
	}

	// Initialize storage (supports MinIO, R2, S3)
	objectStorage, err := storage.NewStorage(&storage.S3Config{
		Type:      storage.StorageType(cfg.Storage.Type),
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		PublicURL: cfg.Storage.PublicURL,
	})
	if err != nil {
		appLogger.Fatalf("Failed to initialize storage: %v", err)
	}
	if s3, ok := objectStorage.(*storage.S3Storage); ok {
		if err := s3.EnsureBucket(context.Background()); err != nil {
			appLogger.Fatalf("Failed to ensure storage bucket: %v", err)
		}
	}

	// Initialize repositories
	jobRepo := repository.NewImportJobRepository(db)
	productRepo := repository.NewSupplierProductRepository(db)
	analysisRepo := repository.NewProductAnalysisRepository(db)
	taskRepo := repository.NewEnrichmentTaskRepository(db)
	inboxRepo := repository.NewImportInboxRepository(db)
	priceRepo := repository.NewPriceRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	// Initialize services
	aiClient := service.NewAIClient(&cfg.AI)
	engineA := service.NewEngineA(&cfg.Search.EngineA)
	engineB := service.NewEngineB(&cfg.Search.EngineB)
	priceSearch := service.NewPriceSearchService(engineA, engineB, priceRepo)
	orchestrator := service.NewOrchestrator(aiClient, priceSearch, engineA, engineB, analysisRepo)
	queueService := service.NewQueueService(taskRepo, productRepo, notificationRepo, orchestrator, cfg.Queue.TaskTimeout)

	streamImporter := service.NewStreamImporter(objectStorage, cfg.Import.BatchSize)
	chunkProcessor := service.NewChunkProcessor(jobRepo, productRepo, analysisRepo, inboxRepo, objectStorage, service.ChunkProcessorOptions{
		MaxChunkRetries:  cfg.Import.MaxChunkRetries,
		MaxDownloadTries: cfg.Import.MaxDownloadTries,
		RetryDelay:       cfg.Import.RetryDelay,
	})
	dispatcher := service.NewChainDispatcher(chunkProcessor, cfg.Import.RetryDelay)
	chunkProcessor.SetInvoker(dispatcher)
	importService := service.NewImportService(jobRepo, inboxRepo, streamImporter, dispatcher, cfg.Import.ChunkLimit, cfg.Import.DefaultCurrency)

	// Setup router
	router := api.SetupRouter(api.RouterDeps{
		Import: handler.NewImportHandler(importService, chunkProcessor, objectStorage),
		Queue:  handler.NewQueueHandler(queueService),
		Price:  handler.NewPriceHandler(priceSearch),
	}, appLogger, middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	}, cfg.Server.Mode)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		appLogger.Infof("Starting API server on port %d (mode: %s)", cfg.Server.Port, cfg.Server.Mode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout; let in-flight chunk chains settle too.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Fatalf("Server forced to shutdown: %v", err)
	}
	dispatcher.Wait()

	appLogger.Info("Server exited")
}
