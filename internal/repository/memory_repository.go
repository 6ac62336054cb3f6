package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prohmpiriya/cinehub-booking/internal/domain"
)

// MemoryBookingRepository implements BookingRepository in memory.
// Used by tests and the local profile.
type MemoryBookingRepository struct {
	bookings map[string]*domain.Booking
	mu       sync.RWMutex
}

// NewMemoryBookingRepository creates a new in-memory booking repository
func NewMemoryBookingRepository() *MemoryBookingRepository {
	return &MemoryBookingRepository{bookings: make(map[string]*domain.Booking)}
}

// Create stores a copy of booking
func (r *MemoryBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bookings[booking.ID]; exists {
		return domain.ErrBookingAlreadyExists
	}
	r.bookings[booking.ID] = booking.Clone()
	return nil
}

// GetByID returns a copy of the stored booking
func (r *MemoryBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, exists := r.bookings[id]
	if !exists {
		return nil, domain.ErrBookingNotFound
	}
	return b.Clone(), nil
}

// Update replaces the stored booking when versions match
func (r *MemoryBookingRepository) Update(ctx context.Context, booking *domain.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.bookings[booking.ID]
	if !exists {
		return domain.ErrBookingNotFound
	}
	if current.Version != booking.Version {
		return domain.ErrVersionConflict
	}

	booking.Version++
	booking.UpdatedAt = time.Now()
	stored := booking.Clone()
	// seats are immutable once created
	stored.Seats = current.Seats
	r.bookings[booking.ID] = stored
	return nil
}

// ListStalePending returns PENDING bookings created before cutoff
func (r *MemoryBookingRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Booking, error) {
	return r.filter(limit, func(b *domain.Booking) bool {
		return b.Status == domain.BookingStatusPending && b.CreatedAt.Before(cutoff)
	}), nil
}

// ListOpenByShowtime returns non-terminal bookings of a showtime
func (r *MemoryBookingRepository) ListOpenByShowtime(ctx context.Context, showtimeID string) ([]*domain.Booking, error) {
	return r.filter(0, func(b *domain.Booking) bool {
		return b.ShowtimeID == showtimeID && !b.Status.IsTerminal()
	}), nil
}

func (r *MemoryBookingRepository) filter(limit int, keep func(*domain.Booking) bool) []*domain.Booking {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Booking
	for _, b := range r.bookings {
		if keep(b) {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// MemoryPaymentRepository implements PaymentRepository in memory
type MemoryPaymentRepository struct {
	byBooking map[string]*domain.PaymentTransaction
	mu        sync.RWMutex
}

// NewMemoryPaymentRepository creates a new in-memory payment repository
func NewMemoryPaymentRepository() *MemoryPaymentRepository {
	return &MemoryPaymentRepository{byBooking: make(map[string]*domain.PaymentTransaction)}
}

// Create stores a transaction, one per booking
func (r *MemoryPaymentRepository) Create(ctx context.Context, tx *domain.PaymentTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byBooking[tx.BookingID]; exists {
		return domain.ErrTransactionExists
	}
	t := *tx
	r.byBooking[tx.BookingID] = &t
	return nil
}

// GetByBookingID returns a copy of the booking's transaction
func (r *MemoryPaymentRepository) GetByBookingID(ctx context.Context, bookingID string) (*domain.PaymentTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tx, exists := r.byBooking[bookingID]
	if !exists {
		return nil, domain.ErrTransactionNotFound
	}
	t := *tx
	return &t, nil
}

// UpdateIfPending overwrites the row while it is still PENDING
func (r *MemoryPaymentRepository) UpdateIfPending(ctx context.Context, tx *domain.PaymentTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.byBooking[tx.BookingID]
	if !exists || !current.IsPending() {
		return domain.ErrTransactionNotPending
	}
	t := *tx
	t.ID = current.ID
	r.byBooking[tx.BookingID] = &t
	return nil
}

type usageKey struct {
	userID string
	code   string
}

// MemoryPromotionUsageRepository implements PromotionUsageRepository in memory
type MemoryPromotionUsageRepository struct {
	usages map[usageKey]domain.UsedPromotion
	mu     sync.Mutex
}

// NewMemoryPromotionUsageRepository creates a new in-memory usage repository
func NewMemoryPromotionUsageRepository() *MemoryPromotionUsageRepository {
	return &MemoryPromotionUsageRepository{usages: make(map[usageKey]domain.UsedPromotion)}
}

// Insert enforces the (user, code) uniqueness
func (r *MemoryPromotionUsageRepository) Insert(ctx context.Context, usage *domain.UsedPromotion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := usageKey{usage.UserID, usage.PromotionCode}
	if _, exists := r.usages[key]; exists {
		return domain.ErrPromotionAlreadyUsed
	}
	r.usages[key] = *usage
	return nil
}

// Exists reports whether the user used the code
func (r *MemoryPromotionUsageRepository) Exists(ctx context.Context, userID, code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.usages[usageKey{userID, code}]
	return exists, nil
}

// DeleteByBookingID removes usage rows of a booking
func (r *MemoryPromotionUsageRepository) DeleteByBookingID(ctx context.Context, bookingID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for k, u := range r.usages {
		if u.BookingID == bookingID {
			delete(r.usages, k)
			n++
		}
	}
	return n, nil
}

// DeleteUsage removes one usage row if bookingID still owns it
func (r *MemoryPromotionUsageRepository) DeleteUsage(ctx context.Context, userID, code, bookingID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := usageKey{userID, code}
	if u, ok := r.usages[key]; ok && u.BookingID == bookingID {
		delete(r.usages, key)
		return 1, nil
	}
	return 0, nil
}
