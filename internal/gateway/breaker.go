package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prohmpiriya/cinehub-booking/internal/domain"
	"github.com/prohmpiriya/cinehub-booking/internal/metrics"
	"github.com/prohmpiriya/cinehub-booking/pkg/config"
	"github.com/prohmpiriya/cinehub-booking/pkg/logger"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// BreakerConfig configures a gateway circuit breaker
type BreakerConfig struct {
	// MaxRequests allowed through while half-open
	MaxRequests uint32
	// Interval clears the closed-state counts; zero never clears
	Interval time.Duration
	// Timeout is how long the breaker stays open
	Timeout time.Duration
	// FailureThreshold consecutive failures open the breaker
	FailureThreshold uint32
}

// DefaultBreakerConfig returns default breaker settings
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// BreakerConfigFrom maps application settings, keeping defaults for zero values
func BreakerConfigFrom(c config.BreakerConfig) BreakerConfig {
	cfg := DefaultBreakerConfig()
	if c.MaxRequests > 0 {
		cfg.MaxRequests = c.MaxRequests
	}
	if c.Interval > 0 {
		cfg.Interval = c.Interval
	}
	if c.Timeout > 0 {
		cfg.Timeout = c.Timeout
	}
	if c.FailureThreshold > 0 {
		cfg.FailureThreshold = c.FailureThreshold
	}
	return cfg
}

func newBreaker[T any](name string, cfg BreakerConfig, log *logger.Logger) *gobreaker.CircuitBreaker[T] {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 1
	}
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn(fmt.Sprintf("Circuit breaker %s changed from %s to %s", name, from, to))
			metrics.BreakerStateChanges.Inc(context.Background(),
				attribute.String("gateway", name),
				attribute.String("to", to.String()),
			)
		},
		// A 4xx is an answer, not an outage
		IsSuccessful: func(err error) bool {
			return err == nil || isClientError(err)
		},
	})
}

// execute runs fn inside cb and folds breaker and transport failures into ErrDependencyUnavailable.
// Client errors (404, 4xx) pass through untouched.
func execute[T any](cb *gobreaker.CircuitBreaker[T], fn func() (T, error)) (T, error) {
	v, err := cb.Execute(fn)
	if err == nil || isClientError(err) {
		return v, err
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return v, fmt.Errorf("%w: %s circuit %v", domain.ErrDependencyUnavailable, cb.Name(), err)
	}
	return v, fmt.Errorf("%w: %s: %v", domain.ErrDependencyUnavailable, cb.Name(), err)
}

// fallback logs and counts a degraded answer
func fallback(ctx context.Context, log *logger.Logger, name string, err error) {
	metrics.GatewayFallbacks.Inc(ctx, attribute.String("gateway", name))
	log.WarnContext(ctx, fmt.Sprintf("%s unavailable, using fallback", name), zap.Error(err))
}
