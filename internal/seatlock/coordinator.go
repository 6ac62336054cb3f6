package seatlock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prohmpiriya/cinehub-booking/internal/domain"
	"github.com/prohmpiriya/cinehub-booking/internal/events"
	"github.com/prohmpiriya/cinehub-booking/internal/metrics"
	"github.com/prohmpiriya/cinehub-booking/internal/publisher"
	"github.com/prohmpiriya/cinehub-booking/pkg/logger"
	"github.com/prohmpiriya/cinehub-booking/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// DefaultTTL is the lock lifetime when none is configured
const DefaultTTL = 10 * time.Second

// SeatState is the lock status of a single seat
type SeatState string

const (
	SeatLocked    SeatState = "LOCKED"
	SeatAvailable SeatState = "AVAILABLE"
)

// ConflictError reports the first seat that could not be locked
type ConflictError struct {
	SeatID     string
	RetryAfter time.Duration
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("seat %s is locked, retry after %s", e.SeatID, e.RetryAfter)
}

func (e *ConflictError) Unwrap() error { return domain.ErrSeatLocked }

// LockRequest asks for all seats or none
type LockRequest struct {
	ShowtimeID string
	UserID     string
	Seats      []domain.SeatRequest
}

// LockResult describes a successful lock. LockID doubles as the booking id.
type LockResult struct {
	LockID    string
	SeatIDs   []string
	ExpiresAt time.Time
	TTL       time.Duration
}

// ReleaseRequest describes a bulk release
type ReleaseRequest struct {
	ShowtimeID string
	SeatIDs    []string
	Holder     Holder
	Reason     events.SeatUnlockReason
	BookingID  string
}

// Status is the observable state of a seat
type Status struct {
	SeatID       string
	State        SeatState
	RemainingTTL time.Duration
	HolderUserID string
}

// Config configures the coordinator
type Config struct {
	TTL time.Duration
}

// Coordinator is the only concurrency gate for seat inventory
type Coordinator struct {
	store     Store
	publisher publisher.Publisher
	ttl       time.Duration
	log       *logger.Logger
	now       func() time.Time
	newID     func() string
}

// NewCoordinator creates a new Coordinator
func NewCoordinator(store Store, pub publisher.Publisher, cfg Config, log *logger.Logger) *Coordinator {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Coordinator{
		store:     store,
		publisher: pub,
		ttl:       ttl,
		log:       log,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// WithClock overrides the clock used for expires_at. Tests share it with MemoryStore.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// TTL returns the configured lock lifetime
func (c *Coordinator) TTL() time.Duration {
	return c.ttl
}

func validateLockRequest(req LockRequest) error {
	if req.ShowtimeID == "" {
		return domain.ErrInvalidShowtimeID
	}
	if req.UserID == "" {
		return domain.ErrInvalidUserID
	}
	if len(req.Seats) == 0 {
		return domain.ErrNoSeats
	}
	seen := make(map[string]struct{}, len(req.Seats))
	for _, s := range req.Seats {
		if s.SeatID == "" {
			return domain.ErrNoSeats
		}
		if _, dup := seen[s.SeatID]; dup {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateSeat, s.SeatID)
		}
		seen[s.SeatID] = struct{}{}
	}
	return nil
}

// LockSeats locks every requested seat or none of them.
// On the first held seat it releases what it took and returns *ConflictError.
func (c *Coordinator) LockSeats(ctx context.Context, req LockRequest) (*LockResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "seatlock.lock_seats")
	defer span.End()
	start := c.now()

	span.SetAttributes(
		attribute.String("showtime_id", req.ShowtimeID),
		attribute.String("user_id", req.UserID),
		attribute.Int("seat_count", len(req.Seats)),
	)

	if err := validateLockRequest(req); err != nil {
		return nil, err
	}

	lockID := c.newID()
	expiresAt := c.now().Add(c.ttl)
	lock := Lock{UserID: req.UserID, LockID: lockID, ExpiresAt: expiresAt}
	holder := Holder{UserID: req.UserID, LockID: lockID}

	acquired := make([]string, 0, len(req.Seats))
	for _, seat := range req.Seats {
		key := Key(req.ShowtimeID, seat.SeatID)
		ok, err := c.store.Acquire(ctx, key, lock, c.ttl)
		if err != nil {
			c.rollback(ctx, acquired, holder)
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err)
		}
		if !ok {
			c.rollback(ctx, acquired, holder)
			retryAfter := c.remainingTTL(ctx, key)
			metrics.SeatLockConflicts.Inc(ctx, attribute.String("showtime_id", req.ShowtimeID))
			span.SetAttributes(attribute.String("conflict_seat", seat.SeatID))
			span.SetStatus(codes.Error, "seat locked")
			return nil, &ConflictError{SeatID: seat.SeatID, RetryAfter: retryAfter}
		}
		acquired = append(acquired, key)
	}

	evt := events.SeatLocked{
		LockID:      lockID,
		UserID:      req.UserID,
		ShowtimeID:  req.ShowtimeID,
		SeatIDs:     make([]string, len(req.Seats)),
		SeatTypes:   make([]string, len(req.Seats)),
		TicketTypes: make([]string, len(req.Seats)),
		TTLSeconds:  int64(c.ttl / time.Second),
	}
	for i, s := range req.Seats {
		evt.SeatIDs[i] = s.SeatID
		evt.SeatTypes[i] = s.SeatType
		evt.TicketTypes[i] = s.TicketType
	}

	if err := c.publisher.Publish(ctx, evt); err != nil {
		// without SeatLocked no booking will ever own these locks
		c.rollback(ctx, acquired, holder)
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: publish seat locked: %v", domain.ErrDependencyUnavailable, err)
	}

	metrics.SeatLocksAcquired.Inc(ctx, attribute.String("showtime_id", req.ShowtimeID))
	metrics.LockDuration.Record(ctx, float64(c.now().Sub(start).Milliseconds()))
	span.SetAttributes(attribute.String("lock_id", lockID))
	span.SetStatus(codes.Ok, "")

	c.log.Info(fmt.Sprintf("Locked %d seats for showtime %s", len(req.Seats), req.ShowtimeID),
		zap.String("lock_id", lockID),
		zap.String("user_id", req.UserID),
	)

	return &LockResult{
		LockID:    lockID,
		SeatIDs:   evt.SeatIDs,
		ExpiresAt: expiresAt,
		TTL:       c.ttl,
	}, nil
}

func (c *Coordinator) rollback(ctx context.Context, keys []string, holder Holder) {
	if len(keys) == 0 {
		return
	}
	if _, err := c.store.Release(ctx, keys, holder); err != nil {
		// leftover keys expire with their TTL
		c.log.Warn("Failed to roll back partial seat lock", zap.Error(err), zap.String("lock_id", holder.LockID))
	}
}

func (c *Coordinator) remainingTTL(ctx context.Context, key string) time.Duration {
	_, ttl, err := c.store.Inspect(ctx, key)
	if err != nil || ttl <= 0 {
		// the holder's key vanished or could not be read; ask the client to retry shortly
		return time.Millisecond
	}
	return ttl
}

// ReleaseSeats deletes the holder's locks and publishes SeatUnlocked
func (c *Coordinator) ReleaseSeats(ctx context.Context, req ReleaseRequest) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "seatlock.release_seats")
	defer span.End()

	span.SetAttributes(telemetry.BookingAttrs(req.BookingID, req.ShowtimeID)...)
	span.SetAttributes(attribute.String("reason", string(req.Reason)))

	if req.ShowtimeID == "" {
		return 0, domain.ErrInvalidShowtimeID
	}
	if len(req.SeatIDs) == 0 {
		return 0, nil
	}

	keys := make([]string, len(req.SeatIDs))
	for i, id := range req.SeatIDs {
		keys[i] = Key(req.ShowtimeID, id)
	}

	released, err := c.store.Release(ctx, keys, req.Holder)
	if err != nil {
		telemetry.RecordError(span, err)
		return 0, fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err)
	}
	metrics.SeatLocksReleased.Add(ctx, int64(released), attribute.String("reason", string(req.Reason)))

	evt := events.SeatUnlocked{
		ShowtimeID: req.ShowtimeID,
		BookingID:  req.BookingID,
		SeatIDs:    req.SeatIDs,
		Reason:     req.Reason,
	}
	if err := c.publisher.Publish(ctx, evt); err != nil {
		telemetry.RecordError(span, err)
		return released, fmt.Errorf("%w: publish seat unlocked: %v", domain.ErrDependencyUnavailable, err)
	}

	c.log.Info(fmt.Sprintf("Released %d/%d seats for showtime %s", released, len(req.SeatIDs), req.ShowtimeID),
		zap.String("booking_id", req.BookingID),
		zap.String("reason", string(req.Reason)),
	)
	return released, nil
}

// SeatStatus reports whether a seat is currently locked and for how long
func (c *Coordinator) SeatStatus(ctx context.Context, showtimeID, seatID string) (*Status, error) {
	lock, ttl, err := c.store.Inspect(ctx, Key(showtimeID, seatID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err)
	}
	if lock == nil {
		return &Status{SeatID: seatID, State: SeatAvailable}, nil
	}
	return &Status{
		SeatID:       seatID,
		State:        SeatLocked,
		RemainingTTL: ttl,
		HolderUserID: lock.UserID,
	}, nil
}

// HasLiveLocks reports whether any of the seats is still locked by holder
func (c *Coordinator) HasLiveLocks(ctx context.Context, showtimeID string, seatIDs []string, holder Holder) (bool, error) {
	for _, id := range seatIDs {
		lock, _, err := c.store.Inspect(ctx, Key(showtimeID, id))
		if err != nil {
			return false, fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err)
		}
		if lock != nil && holder.matches(lock) {
			return true, nil
		}
	}
	return false, nil
}
