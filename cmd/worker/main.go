package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davet/prodsync/internal/config"
	"github.com/davet/prodsync/internal/logger"
	"github.com/davet/prodsync/internal/repository"
	"github.com/davet/prodsync/internal/service"
	"github.com/davet/prodsync/internal/storage"
)

// stalledAfter is how long a running import may go untouched before the
// worker resumes its chunk chain.
const stalledAfter = 15 * time.Minute

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.NewFromEnv(logger.LoadFromEnv())
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.Fatalf("Failed to initialize database: %v", err)
	}

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

	jobRepo := repository.NewImportJobRepository(db)
	productRepo := repository.NewSupplierProductRepository(db)
	analysisRepo := repository.NewProductAnalysisRepository(db)
	taskRepo := repository.NewEnrichmentTaskRepository(db)
	inboxRepo := repository.NewImportInboxRepository(db)
	priceRepo := repository.NewPriceRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Queue.Interval)
	defer ticker.Stop()

	appLogger.Infof("Worker started (interval: %s, max_items: %d, parallelism: %d)",
		cfg.Queue.Interval, cfg.Queue.MaxItems, cfg.Queue.Parallelism)

	runPass := func() {
		stats, err := queueService.ProcessQueue(ctx, cfg.Queue.MaxItems, cfg.Queue.Parallelism)
		if err != nil {
			logger.CtxError(ctx, "queue pass failed: %v", err)
		} else if stats.Processed > 0 || stats.Recovered > 0 {
			logger.CtxInfo(ctx, "queue pass: %d processed, %d ok, %d errors, %d requeued, %d recovered",
				stats.Processed, stats.Success, stats.Errors, stats.Requeued, stats.Recovered)
		}

		resumed, err := importService.ResumeStalled(ctx, stalledAfter)
		if err != nil {
			logger.CtxError(ctx, "stalled-job scan failed: %v", err)
		} else if resumed > 0 {
			logger.CtxInfo(ctx, "resumed %d stalled import chains", resumed)
		}
	}

	// One pass at startup, then on every tick.
	runPass()
	for {
		select {
		case <-ticker.C:
			runPass()
		case <-quit:
			appLogger.Info("Worker shutting down...")
			cancel()
			dispatcher.Wait()
			appLogger.Info("Worker exited")
			return
		}
	}
}
