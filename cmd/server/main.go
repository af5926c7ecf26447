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

	"sales-sync-service/config"
	"sales-sync-service/internal/api"
	"sales-sync-service/internal/broker"
	"sales-sync-service/internal/lock"
	"sales-sync-service/internal/redisclient"
	"sales-sync-service/internal/service"
	"sales-sync-service/internal/store"
	"sales-sync-service/internal/util"
	"sales-sync-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting sales sync service")

	tp, err := util.InitTracer("sales-sync-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = db.EnsureSchema(schemaCtx)
	schemaCancel()
	if err != nil {
		log.Fatalf("Failed to ensure database schema: %v", err)
	}
	log.Println("Database connected")

	// Lock scope follows deployment: one process needs no Redis, several
	// replicas sharing the queue do.
	var locker lock.Locker
	if cfg.Redis.Addr != "" {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		locker = redisClient
		log.Println("Redis connected, sync locks are distributed")
	} else {
		locker = lock.NewKeyedMutex()
		log.Println("No Redis configured, sync locks are in-process")
	}

	var queue broker.Queue
	if cfg.Queue.Driver == "kafka" {
		queue = broker.NewKafkaQueue(cfg.Kafka.Brokers, cfg.Kafka.TopicSync, cfg.Kafka.ConsumerGroup)
		log.Println("Kafka sync queue initialized")
	} else {
		queue = broker.NewMemoryQueue(cfg.Queue.Capacity)
		log.Println("In-memory sync queue initialized")
	}

	ledgerClient := service.NewLedgerClient(cfg.Ledger.BaseURL, cfg.Ledger.Timeout)
	inventoryClient := service.NewInventoryClient(cfg.Inventory.BaseURL, cfg.Inventory.Timeout)
	saleService := service.NewSaleService(db, inventoryClient, queue)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	syncWorker := worker.NewSyncWorker(queue, db, ledgerClient, locker, cfg.Sync)
	syncWorker.Start(workerCtx)

	sweeper := worker.NewSweeper(db, queue, cfg.Reconcile, cfg.Sync.MaxRetries)
	sweeper.Start(workerCtx)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(saleService, db)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	if err := queue.Close(); err != nil {
		log.Printf("Error closing sync queue: %v", err)
	}
	syncWorker.Stop()
	sweeper.Stop()

	log.Println("Server exited")
}
