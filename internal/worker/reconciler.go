package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prohmpiriya/cinehub-booking/internal/domain"
	"github.com/prohmpiriya/cinehub-booking/internal/metrics"
	"github.com/prohmpiriya/cinehub-booking/internal/seatlock"
	"github.com/prohmpiriya/cinehub-booking/pkg/config"
	"github.com/prohmpiriya/cinehub-booking/pkg/logger"
	"github.com/prohmpiriya/cinehub-booking/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// StaleBookingLister finds PENDING bookings created before a cutoff
type StaleBookingLister interface {
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Booking, error)
}

// LockInspector reports whether a holder still owns seat locks, see seatlock.Coordinator
type LockInspector interface {
	HasLiveLocks(ctx context.Context, showtimeID string, seatIDs []string, holder seatlock.Holder) (bool, error)
}

// Expirer moves a booking to EXPIRED, see saga.Orchestrator
type Expirer interface {
	Expire(ctx context.Context, bookingID string) error
}

// ReconcilerConfig contains configuration for the reconciliation sweep
type ReconcilerConfig struct {
	// Interval is the time between sweeps
	Interval time.Duration
	// PendingMaxAge is how old a PENDING booking must be before it is checked
	PendingMaxAge time.Duration
	// BatchSize is the number of bookings checked per sweep
	BatchSize int
}

// DefaultReconcilerConfig returns default configuration
func DefaultReconcilerConfig() *ReconcilerConfig {
	return &ReconcilerConfig{
		Interval:      30 * time.Second,
		PendingMaxAge: 15 * time.Minute,
		BatchSize:     100,
	}
}

// ReconcilerConfigFrom maps the application config
func ReconcilerConfigFrom(c config.ReconcileConfig) *ReconcilerConfig {
	cfg := DefaultReconcilerConfig()
	if c.Interval > 0 {
		cfg.Interval = c.Interval
	}
	if c.PendingMaxAge > 0 {
		cfg.PendingMaxAge = c.PendingMaxAge
	}
	if c.BatchSize > 0 {
		cfg.BatchSize = c.BatchSize
	}
	return cfg
}

// Reconciler expires PENDING bookings whose seat locks are gone. It covers
// lock expiries nobody announced and SeatLocked events that were lost after
// the booking was created.
type Reconciler struct {
	bookings StaleBookingLister
	locks    LockInspector
	expirer  Expirer
	config   *ReconcilerConfig
	log      *logger.Logger
	now      func() time.Time
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool

	// Stats
	totalExpired     int64
	totalSkipped     int64
	totalFailed      int64
	lastScanTime     time.Time
	lastExpiredCount int
}

// NewReconciler creates a new reconciler
func NewReconciler(bookings StaleBookingLister, locks LockInspector, expirer Expirer, cfg *ReconcilerConfig, log *logger.Logger) *Reconciler {
	if cfg == nil {
		cfg = DefaultReconcilerConfig()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Reconciler{
		bookings: bookings,
		locks:    locks,
		expirer:  expirer,
		config:   cfg,
		log:      log,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// WithClock overrides the clock used for the staleness cutoff
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Start starts the periodic sweep
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("reconciler already running")
	}
	r.running = true
	r.mu.Unlock()

	r.log.Info(fmt.Sprintf("Starting reconciler (interval %s, max age %s)", r.config.Interval, r.config.PendingMaxAge))

	r.wg.Add(1)
	go r.loop(ctx)

	return nil
}

// Stop stops the sweep and waits for the current one to finish
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.log.Info("Stopping reconciler")
	close(r.stopCh)
	r.wg.Wait()
	r.log.Info("Reconciler stopped")
}

func (r *Reconciler) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and returns how many bookings it expired
func (r *Reconciler) RunOnce(ctx context.Context) int {
	ctx, span := telemetry.StartSpan(ctx, "worker.reconcile")
	defer span.End()

	now := r.now()
	r.mu.Lock()
	r.lastScanTime = now
	r.mu.Unlock()

	stale, err := r.bookings.ListStalePending(ctx, now.Add(-r.config.PendingMaxAge), r.config.BatchSize)
	if err != nil {
		telemetry.RecordError(span, err)
		r.log.Error(fmt.Sprintf("Failed to list stale bookings: %v", err))
		return 0
	}
	span.SetAttributes(attribute.Int("stale_count", len(stale)))
	if len(stale) == 0 {
		return 0
	}

	r.log.Debug(fmt.Sprintf("Found %d stale pending bookings to check", len(stale)))

	var expired, skipped, failed int
	for _, b := range stale {
		live, err := r.locks.HasLiveLocks(ctx, b.ShowtimeID, b.SeatIDs(), seatlock.Holder{LockID: b.ID})
		if err != nil {
			failed++
			r.log.Warn(fmt.Sprintf("Failed to inspect locks of booking %s: %v", b.ID, err))
			continue
		}
		if live {
			skipped++
			continue
		}

		if err := r.expirer.Expire(ctx, b.ID); err != nil {
			failed++
			r.log.Error(fmt.Sprintf("Failed to expire booking %s: %v", b.ID, err),
				zap.String("showtime_id", b.ShowtimeID),
			)
			continue
		}
		expired++
		metrics.BookingsReconciled.Inc(ctx)
	}

	r.mu.Lock()
	r.totalExpired += int64(expired)
	r.totalSkipped += int64(skipped)
	r.totalFailed += int64(failed)
	r.lastExpiredCount = expired
	r.mu.Unlock()

	if expired > 0 {
		r.log.Info(fmt.Sprintf("Reconciler expired %d bookings (%d still locked, %d failed)", expired, skipped, failed))
	}
	return expired
}

// Stats returns reconciler statistics
func (r *Reconciler) Stats() *ReconcilerStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return &ReconcilerStats{
		IsRunning:        r.running,
		TotalExpired:     r.totalExpired,
		TotalSkipped:     r.totalSkipped,
		TotalFailed:      r.totalFailed,
		LastScanTime:     r.lastScanTime,
		LastExpiredCount: r.lastExpiredCount,
	}
}

// ReconcilerStats contains reconciler statistics
type ReconcilerStats struct {
	IsRunning        bool      `json:"is_running"`
	TotalExpired     int64     `json:"total_expired"`
	TotalSkipped     int64     `json:"total_skipped"`
	TotalFailed      int64     `json:"total_failed"`
	LastScanTime     time.Time `json:"last_scan_time"`
	LastExpiredCount int       `json:"last_expired_count"`
}
