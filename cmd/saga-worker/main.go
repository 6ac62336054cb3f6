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

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/cinehub-booking/internal/di"
	"github.com/prohmpiriya/cinehub-booking/internal/metrics"
	"github.com/prohmpiriya/cinehub-booking/pkg/config"
	"github.com/prohmpiriya/cinehub-booking/pkg/database"
	"github.com/prohmpiriya/cinehub-booking/pkg/kafka"
	"github.com/prohmpiriya/cinehub-booking/pkg/logger"
	pkgredis "github.com/prohmpiriya/cinehub-booking/pkg/redis"
	"github.com/prohmpiriya/cinehub-booking/pkg/retry"
	"github.com/prohmpiriya/cinehub-booking/pkg/telemetry"
)

const serviceName = "saga-worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.App.LogLevel,
		ServiceName: serviceName,
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Saga Worker...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Warn(fmt.Sprintf("Telemetry disabled: %v", err))
	}
	if err := metrics.Init(); err != nil {
		appLog.Warn(fmt.Sprintf("Failed to register metrics: %v", err))
	}

	if err := cfg.ValidateBookingDatabase(); err != nil {
		appLog.Fatal(fmt.Sprintf("Invalid database config: %v", err))
	}
	db, err := database.NewPostgres(ctx, database.FromConfig(cfg.BookingDatabase, cfg.OTel.Enabled))
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Database connection failed: %v", err))
	}
	defer db.Close()

	redisClient, err := pkgredis.NewClient(ctx, pkgredis.FromConfig(cfg.Redis))
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Redis connection failed: %v", err))
	}
	defer redisClient.Close()

	// The worker cannot make progress without the bus
	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Kafka.Brokers,
		ClientID:      cfg.Kafka.ClientID + "-" + serviceName,
		MaxRetries:    5,
		RetryInterval: 2 * time.Second,
		BatchSize:     100,
		LingerMs:      5,
	})
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Kafka producer failed: %v", err))
	}
	defer producer.Close()

	container := di.NewContainer(&di.ContainerConfig{
		Config:   cfg,
		Logger:   appLog,
		DB:       db,
		Redis:    redisClient,
		Producer: producer,
	})
	if err := container.Prepare(ctx); err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to prepare storage: %v", err))
	}

	source, err := kafka.NewConsumer(ctx, &kafka.ConsumerConfig{
		Brokers:        cfg.Kafka.Brokers,
		GroupID:        cfg.Kafka.ConsumerGroup,
		Topics:         container.EventRouter().Topics(),
		ClientID:       cfg.Kafka.ClientID + "-" + serviceName,
		MaxRetries:     5,
		RetryInterval:  2 * time.Second,
		SessionTimeout: 30 * time.Second,
	})
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Kafka consumer failed: %v", err))
	}

	eventConsumer := container.NewEventConsumer(source, retry.NewKafkaDLQPublisher(producer, serviceName))
	if err := eventConsumer.Start(ctx); err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to start consumer: %v", err))
	}
	appLog.Info(fmt.Sprintf("Consuming %d topics as group %s", len(container.EventRouter().Topics()), cfg.Kafka.ConsumerGroup))

	reconciler := container.NewReconciler()
	if err := reconciler.Start(ctx); err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to start reconciler: %v", err))
	}

	// Probes only, the worker serves no API
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	probes := gin.New()
	probes.Use(gin.Recovery())
	probes.GET("/health", container.Handlers.Health.Health)
	probes.GET("/ready", container.Handlers.Health.Ready)
	probeSrv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port+1),
		Handler:           probes,
		ReadHeaderTimeout: 2 * time.Second,
	}
	go func() {
		appLog.Info(fmt.Sprintf("Probe server listening on %s", probeSrv.Addr))
		if err := probeSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Error(fmt.Sprintf("Probe server error: %v", err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down worker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	reconciler.Stop()
	if err := eventConsumer.Stop(); err != nil {
		appLog.Error(fmt.Sprintf("Consumer stopped with error: %v", err))
	}
	cancel()

	if err := probeSrv.Shutdown(shutdownCtx); err != nil {
		appLog.Error(fmt.Sprintf("Probe server forced to shutdown: %v", err))
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		appLog.Warn(fmt.Sprintf("Failed to flush traces: %v", err))
	}

	appLog.Info("Worker exited gracefully")
}
