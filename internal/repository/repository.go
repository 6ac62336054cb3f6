package repository

import (
	"context"
	"time"

	"github.com/prohmpiriya/cinehub-booking/internal/domain"
)

// BookingRepository persists the Booking aggregate
type BookingRepository interface {
	// Create inserts a booking with its seats. Duplicate id returns domain.ErrBookingAlreadyExists.
	Create(ctx context.Context, booking *domain.Booking) error

	// GetByID loads the aggregate with seats, promotion and fnb items
	GetByID(ctx context.Context, id string) (*domain.Booking, error)

	// Update writes status, prices, payment fields, promotion and fnb items when
	// booking.Version still matches the stored version, then bumps booking.Version.
	// A stale version returns domain.ErrVersionConflict.
	Update(ctx context.Context, booking *domain.Booking) error

	// ListStalePending returns PENDING bookings created before cutoff, oldest first
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Booking, error)

	// ListOpenByShowtime returns the non-terminal bookings of a showtime
	ListOpenByShowtime(ctx context.Context, showtimeID string) ([]*domain.Booking, error)
}

// PaymentRepository persists payment transactions
type PaymentRepository interface {
	// Create inserts a transaction. A second row for the booking returns domain.ErrTransactionExists.
	Create(ctx context.Context, tx *domain.PaymentTransaction) error

	// GetByBookingID returns domain.ErrTransactionNotFound when absent
	GetByBookingID(ctx context.Context, bookingID string) (*domain.PaymentTransaction, error)

	// UpdateIfPending writes tx only while the stored row is PENDING, else domain.ErrTransactionNotPending
	UpdateIfPending(ctx context.Context, tx *domain.PaymentTransaction) error
}

// PromotionUsageRepository persists one-time promotion usage
type PromotionUsageRepository interface {
	// Insert returns domain.ErrPromotionAlreadyUsed on (user, code) collision
	Insert(ctx context.Context, usage *domain.UsedPromotion) error

	Exists(ctx context.Context, userID, code string) (bool, error)

	// DeleteByBookingID removes the usage rows owned by a booking
	DeleteByBookingID(ctx context.Context, bookingID string) (int64, error)

	// DeleteUsage removes the (user, code) row only while it is still owned by bookingID
	DeleteUsage(ctx context.Context, userID, code, bookingID string) (int64, error)
}
