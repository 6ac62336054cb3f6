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
	"github.com/prohmpiriya/cinehub-booking/pkg/telemetry"
)

const serviceName = "booking-api"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	if err := logger.Init(&logger.Config{
		Level:       cfg.App.LogLevel,
		ServiceName: serviceName,
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Booking API...")

	ctx := context.Background()

	// Tracing and metrics
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

	// Database
	if err := cfg.ValidateBookingDatabase(); err != nil {
		appLog.Fatal(fmt.Sprintf("Invalid database config: %v", err))
	}
	db, err := database.NewPostgres(ctx, database.FromConfig(cfg.BookingDatabase, cfg.OTel.Enabled))
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Database connection failed: %v", err))
	}
	defer db.Close()
	appLog.Info("Database connected")

	// Redis
	redisClient, err := pkgredis.NewClient(ctx, pkgredis.FromConfig(cfg.Redis))
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Redis connection failed: %v", err))
	}
	defer redisClient.Close()
	appLog.Info("Redis connected")

	// Kafka producer, lock and admin events are lost without it so start degraded rather than not at all
	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Kafka.Brokers,
		ClientID:      cfg.Kafka.ClientID + "-" + serviceName,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
		BatchSize:     100,
		LingerMs:      5,
	})
	if err != nil {
		appLog.Warn(fmt.Sprintf("Kafka connection failed, using no-op publisher: %v", err))
		producer = nil
	} else {
		defer producer.Close()
		appLog.Info("Kafka producer connected")
	}

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

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	gin.DisableConsoleColor()

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           container.Router(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 2 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	// Start server in goroutine
	go func() {
		appLog.Info(fmt.Sprintf("Booking API listening on %s", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatal(fmt.Sprintf("Failed to start server: %v", err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down server...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error(fmt.Sprintf("Server forced to shutdown: %v", err))
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		appLog.Warn(fmt.Sprintf("Failed to flush traces: %v", err))
	}

	appLog.Info("Server exited gracefully")
}
