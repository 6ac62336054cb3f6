package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/cinehub-booking/pkg/logger"
	"github.com/prohmpiriya/cinehub-booking/pkg/middleware"
	"github.com/prohmpiriya/cinehub-booking/pkg/telemetry"
)

// RoleAdmin is the token role allowed to call admin endpoints
const RoleAdmin = "admin"

// Handlers groups the HTTP handlers of the booking API
type Handlers struct {
	Seat    *SeatHandler
	Booking *BookingHandler
	Payment *PaymentHandler
	Admin   *AdminHandler
	Health  *HealthHandler
}

// RouterConfig configures the middleware chain
type RouterConfig struct {
	ServiceName string
	Auth        middleware.AuthConfig
	Idempotency middleware.IdempotencyConfig
	Logger      *logger.Logger
}

// NewRouter builds the gin engine with every route registered
func NewRouter(h *Handlers, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	if cfg.ServiceName != "" {
		router.Use(telemetry.TracingMiddleware(cfg.ServiceName))
	}
	if cfg.Logger != nil {
		router.Use(middleware.AccessLog(cfg.Logger))
	}

	router.GET("/health", h.Health.Health)
	router.GET("/ready", h.Health.Ready)

	RegisterRoutes(router.Group("/api/v1"), h, cfg)
	return router
}

// RegisterRoutes registers the versioned API on group
func RegisterRoutes(v1 *gin.RouterGroup, h *Handlers, cfg RouterConfig) {
	idempotent := middleware.Idempotency(cfg.Idempotency)
	auth := middleware.Auth(cfg.Auth)

	showtimes := v1.Group("/showtimes/:showtimeId", auth)
	{
		showtimes.POST("/locks", h.Seat.LockSeats)
		showtimes.DELETE("/locks", h.Seat.ReleaseSeats)
		showtimes.GET("/seats/:seatId", h.Seat.GetSeatStatus)
	}

	bookings := v1.Group("/bookings", auth)
	{
		bookings.GET("/:id", h.Booking.GetBooking)
		bookings.POST("/:id/finalize", idempotent, h.Booking.Finalize)
		bookings.GET("/:id/payment", h.Booking.GetPayment)
	}

	// signature verification of gateway callbacks happens upstream
	v1.POST("/payments/callback", idempotent, h.Payment.Callback)

	admin := v1.Group("/admin", auth, middleware.RequireRole(RoleAdmin))
	{
		admin.POST("/showtimes/:showtimeId/suspend", h.Admin.SuspendShowtime)
	}
}
