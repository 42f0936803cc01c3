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

	"fulfillment-core/config"
	"fulfillment-core/internal/api"
	"fulfillment-core/internal/broker"
	"fulfillment-core/internal/redisclient"
	"fulfillment-core/internal/service"
	"fulfillment-core/internal/store"
	"fulfillment-core/internal/util"
	"fulfillment-core/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting fulfillment core")

	tp, err := util.InitTracer("fulfillment-core", cfg.Observ.JaegerEndpoint)
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
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	ledger := service.NewStockLedger(db, redisClient)
	reaper := service.NewReservationReaper(db, ledger, eventPublisher, cfg.Business.ReservationTTL)
	checkout := service.NewCheckoutService(db, ledger, eventPublisher, reaper)
	lifecycle := service.NewLifecycleService(db, ledger, eventPublisher)
	auditor := service.NewConsistencyAuditor(db, checkout, eventPublisher)

	ctx := context.Background()
	if err := ledger.SyncCache(ctx); err != nil {
		log.Printf("Failed to sync stock cache: %v", err)
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	sweepWorker := worker.NewSweepWorker(reaper, redisClient, cfg.Business.SweepInterval)
	go sweepWorker.Run(workerCtx)

	auditWorker := worker.NewAuditWorker(auditor, cfg.Business.AuditInterval, cfg.Business.AuditAutoFix)
	go auditWorker.Run(workerCtx)

	paymentConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	lifecycleWorker := worker.NewLifecycleWorker(paymentConsumer, lifecycle)
	go func() {
		if err := lifecycleWorker.Start(workerCtx); err != nil {
			log.Printf("Lifecycle worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(checkout, lifecycle, reaper, auditor, ledger)
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
	lifecycleWorker.Stop()

	log.Println("Server exited")
}
