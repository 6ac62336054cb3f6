package di

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/cinehub-booking/internal/consumer"
	"github.com/prohmpiriya/cinehub-booking/internal/gateway"
	"github.com/prohmpiriya/cinehub-booking/internal/handler"
	"github.com/prohmpiriya/cinehub-booking/internal/payment"
	"github.com/prohmpiriya/cinehub-booking/internal/promotion"
	"github.com/prohmpiriya/cinehub-booking/internal/publisher"
	"github.com/prohmpiriya/cinehub-booking/internal/repository"
	"github.com/prohmpiriya/cinehub-booking/internal/saga"
	"github.com/prohmpiriya/cinehub-booking/internal/seatlock"
	"github.com/prohmpiriya/cinehub-booking/internal/worker"
	"github.com/prohmpiriya/cinehub-booking/pkg/config"
	"github.com/prohmpiriya/cinehub-booking/pkg/database"
	"github.com/prohmpiriya/cinehub-booking/pkg/kafka"
	"github.com/prohmpiriya/cinehub-booking/pkg/logger"
	"github.com/prohmpiriya/cinehub-booking/pkg/middleware"
	"github.com/prohmpiriya/cinehub-booking/pkg/redis"
	"github.com/prohmpiriya/cinehub-booking/pkg/retry"
)

// Container holds all dependencies of the booking services
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	// Infrastructure
	DB       *database.PostgresDB
	Redis    *redis.Client
	Producer *kafka.Producer

	// Repositories
	BookingRepo        repository.BookingRepository
	PaymentRepo        repository.PaymentRepository
	PromotionUsageRepo repository.PromotionUsageRepository

	// Publishers
	Publisher publisher.Publisher

	// Services
	SeatStore    seatlock.Store
	Coordinator  *seatlock.Coordinator
	Guard        *promotion.Guard
	Ledger       *payment.Ledger
	Orchestrator *saga.Orchestrator

	// Handlers
	Handlers *handler.Handlers
}

// ContainerConfig contains configuration for building the container.
// A nil DB or Redis selects the in-memory implementation, a nil Producer
// selects Publisher (or a no-op publisher when that is nil too).
type ContainerConfig struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        *database.PostgresDB
	Redis     *redis.Client
	Producer  *kafka.Producer
	Publisher publisher.Publisher
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) *Container {
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	c := &Container{
		Config:   cfg.Config,
		Logger:   log,
		DB:       cfg.DB,
		Redis:    cfg.Redis,
		Producer: cfg.Producer,
	}

	// Repositories
	if c.DB != nil {
		c.BookingRepo = repository.NewPostgresBookingRepository(c.DB)
		c.PaymentRepo = repository.NewPostgresPaymentRepository(c.DB)
		c.PromotionUsageRepo = repository.NewPostgresPromotionUsageRepository(c.DB)
	} else {
		c.BookingRepo = repository.NewMemoryBookingRepository()
		c.PaymentRepo = repository.NewMemoryPaymentRepository()
		c.PromotionUsageRepo = repository.NewMemoryPromotionUsageRepository()
	}

	// Publisher
	switch {
	case c.Producer != nil:
		c.Publisher = publisher.NewKafkaPublisher(c.Producer, publisher.Config{ServiceName: cfg.Config.App.Name})
	case cfg.Publisher != nil:
		c.Publisher = cfg.Publisher
	default:
		c.Publisher = publisher.NoOp{}
	}

	// Seat locks
	if c.Redis != nil {
		c.SeatStore = seatlock.NewRedisStore(c.Redis)
	} else {
		c.SeatStore = seatlock.NewMemoryStore(time.Now)
	}
	c.Coordinator = seatlock.NewCoordinator(c.SeatStore, c.Publisher, seatlock.Config{TTL: cfg.Config.SeatLock.TTL}, log)

	// Services
	gw := GatewayConfig(cfg.Config)
	c.Guard = promotion.NewGuard(c.PromotionUsageRepo, log)
	c.Ledger = payment.NewLedger(c.PaymentRepo, c.Publisher, log)
	c.Orchestrator = saga.NewOrchestrator(saga.Dependencies{
		Bookings:    c.BookingRepo,
		Seats:       c.Coordinator,
		Guard:       c.Guard,
		Publisher:   c.Publisher,
		Pricing:     gateway.NewPricingGateway(gw, log),
		Promotion:   gateway.NewPromotionGateway(gw, log),
		Fnb:         gateway.NewFnbGateway(gw, log),
		Showtime:    gateway.NewShowtimeGateway(gw, log),
		Movie:       gateway.NewMovieGateway(gw, log),
		UserProfile: gateway.NewUserProfileGateway(gw, log),
	}, log)

	// Handlers
	c.Handlers = &handler.Handlers{
		Seat:    handler.NewSeatHandler(c.Coordinator),
		Booking: handler.NewBookingHandler(c.Orchestrator, c.Ledger),
		Payment: handler.NewPaymentHandler(c.Ledger),
		Admin:   handler.NewAdminHandler(c.Publisher),
		Health:  handler.NewHealthHandler(c.healthChecks()),
	}

	return c
}

// GatewayConfig maps application settings to gateway settings
func GatewayConfig(cfg *config.Config) gateway.Config {
	return gateway.Config{
		PricingURL:     cfg.Services.PricingURL,
		PromotionURL:   cfg.Services.PromotionURL,
		FnbURL:         cfg.Services.FnbURL,
		ShowtimeURL:    cfg.Services.ShowtimeURL,
		MovieURL:       cfg.Services.MovieURL,
		UserProfileURL: cfg.Services.UserProfileURL,
		Timeout:        cfg.Services.Timeout,
		Breaker:        gateway.BreakerConfigFrom(cfg.Breaker),
	}
}

// Prepare loads Redis scripts and applies the schema. Failures to preload scripts are not fatal.
func (c *Container) Prepare(ctx context.Context) error {
	if rs, ok := c.SeatStore.(*seatlock.RedisStore); ok {
		if err := rs.LoadScripts(ctx); err != nil {
			c.Logger.Warn("Failed to pre-load seat lock scripts: " + err.Error())
		}
	}
	if c.DB != nil {
		return repository.Migrate(ctx, c.DB)
	}
	return nil
}

// Router builds the HTTP router of the booking API
func (c *Container) Router() *gin.Engine {
	var store middleware.IdempotencyStore
	if c.Redis != nil {
		store = c.Redis.Client()
	}
	return handler.NewRouter(c.Handlers, handler.RouterConfig{
		ServiceName: c.Config.OTel.ServiceName,
		Auth:        middleware.AuthConfig{Secret: c.Config.JWT.Secret, Issuer: c.Config.JWT.Issuer},
		Idempotency: middleware.IdempotencyConfig{Store: store},
		Logger:      c.Logger,
	})
}

// EventRouter routes saga topics to the orchestrator, ledger and promotion guard
func (c *Container) EventRouter() *consumer.Router {
	return consumer.NewRouter(c.Orchestrator, c.Ledger, c.Guard)
}

// NewEventConsumer builds the saga consumer over source. A nil dlq drops exhausted records after logging.
func (c *Container) NewEventConsumer(source consumer.Source, dlq retry.DLQPublisher) *consumer.Consumer {
	return consumer.New(source, c.EventRouter(), dlq, &consumer.Config{
		WorkerCount:   c.Config.Consumer.WorkerCount,
		MaxRetries:    c.Config.Consumer.MaxRetries,
		RetryInterval: c.Config.Consumer.RetryInterval,
	}, c.Logger)
}

// NewReconciler builds the stale booking sweep
func (c *Container) NewReconciler() *worker.Reconciler {
	return worker.NewReconciler(c.BookingRepo, c.Coordinator, c.Orchestrator, worker.ReconcilerConfigFrom(c.Config.Reconcile), c.Logger)
}

func (c *Container) healthChecks() map[string]handler.Checker {
	checks := map[string]handler.Checker{
		"database": nil,
		"redis":    nil,
		"kafka":    nil,
	}
	if c.DB != nil {
		checks["database"] = c.DB.HealthCheck
	}
	if c.Redis != nil {
		checks["redis"] = c.Redis.HealthCheck
	}
	if c.Producer != nil {
		checks["kafka"] = c.Producer.Ping
	}
	return checks
}
