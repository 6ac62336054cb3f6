package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prohmpiriya/cinehub-booking/internal/domain"
	"github.com/prohmpiriya/cinehub-booking/pkg/database"
	"github.com/prohmpiriya/cinehub-booking/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PostgresBookingRepository implements BookingRepository using PostgreSQL with pgxpool
type PostgresBookingRepository struct {
	db *database.PostgresDB
}

// NewPostgresBookingRepository creates a new PostgresBookingRepository
func NewPostgresBookingRepository(db *database.PostgresDB) *PostgresBookingRepository {
	return &PostgresBookingRepository{db: db}
}

func (r *PostgresBookingRepository) pool() *pgxpool.Pool {
	return r.db.Pool()
}

// Create creates a booking and its seats in one transaction
func (r *PostgresBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.create")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", booking.ID),
		attribute.String("user_id", booking.UserID),
		attribute.String("showtime_id", booking.ShowtimeID),
	)

	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO bookings (
				id, user_id, showtime_id, status,
				total_price, discount_amount, final_price,
				payment_method, payment_id, version, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`,
			booking.ID,
			booking.UserID,
			booking.ShowtimeID,
			string(booking.Status),
			booking.TotalPrice,
			booking.DiscountAmount,
			booking.FinalPrice,
			nullString(booking.PaymentMethod),
			nullString(booking.PaymentID),
			booking.Version,
			booking.CreatedAt,
			booking.UpdatedAt,
		)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i, s := range booking.Seats {
			batch.Queue(`
				INSERT INTO booking_seats (booking_id, seat_id, seat_type, ticket_type, price, position)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, booking.ID, s.SeatID, s.SeatType, s.TicketType, s.Price, i)
		}
		return tx.SendBatch(ctx, batch).Close()
	})

	if err != nil {
		if database.IsUniqueViolation(err) {
			span.SetStatus(codes.Error, "already exists")
			return domain.ErrBookingAlreadyExists
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create booking: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

const selectBooking = `
	SELECT id, user_id, showtime_id, status,
		total_price, discount_amount, final_price,
		payment_method, payment_id, version, created_at, updated_at
	FROM bookings
`

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	b := &domain.Booking{}
	var (
		status        string
		paymentMethod *string
		paymentID     *string
	)
	err := row.Scan(
		&b.ID,
		&b.UserID,
		&b.ShowtimeID,
		&status,
		&b.TotalPrice,
		&b.DiscountAmount,
		&b.FinalPrice,
		&paymentMethod,
		&paymentID,
		&b.Version,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Status = domain.BookingStatus(status)
	if paymentMethod != nil {
		b.PaymentMethod = *paymentMethod
	}
	if paymentID != nil {
		b.PaymentID = *paymentID
	}
	return b, nil
}

// GetByID retrieves a booking with its children
func (r *PostgresBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.String("booking_id", id))

	b, err := scanBooking(r.pool().QueryRow(ctx, selectBooking+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrBookingNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}

	if err := r.loadChildren(ctx, b); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return b, nil
}

func (r *PostgresBookingRepository) loadChildren(ctx context.Context, b *domain.Booking) error {
	rows, err := r.pool().Query(ctx, `
		SELECT seat_id, seat_type, ticket_type, price
		FROM booking_seats WHERE booking_id = $1 ORDER BY position
	`, b.ID)
	if err != nil {
		return fmt.Errorf("failed to load booking seats: %w", err)
	}
	b.Seats, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.BookingSeat, error) {
		var s domain.BookingSeat
		err := row.Scan(&s.SeatID, &s.SeatType, &s.TicketType, &s.Price)
		return s, err
	})
	if err != nil {
		return fmt.Errorf("failed to scan booking seats: %w", err)
	}

	rows, err = r.pool().Query(ctx, `
		SELECT item_id, quantity, unit_price, total_price
		FROM booking_fnb_items WHERE booking_id = $1 ORDER BY item_id
	`, b.ID)
	if err != nil {
		return fmt.Errorf("failed to load fnb items: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.BookingFnbItem, error) {
		var it domain.BookingFnbItem
		err := row.Scan(&it.ItemID, &it.Quantity, &it.UnitPrice, &it.TotalPrice)
		return it, err
	})
	if err != nil {
		return fmt.Errorf("failed to scan fnb items: %w", err)
	}
	if len(items) > 0 {
		b.FnbItems = items
	}

	var (
		p            domain.BookingPromotion
		discountType string
	)
	err = r.pool().QueryRow(ctx, `
		SELECT code, discount_type, discount_value, discount_amount
		FROM booking_promotions WHERE booking_id = $1
	`, b.ID).Scan(&p.Code, &discountType, &p.DiscountValue, &p.DiscountAmount)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to load booking promotion: %w", err)
	default:
		p.DiscountType = domain.DiscountType(discountType)
		b.Promotion = &p
	}
	return nil
}

// Update writes the mutable booking state guarded by the version column
func (r *PostgresBookingRepository) Update(ctx context.Context, booking *domain.Booking) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.update")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", booking.ID),
		attribute.String("status", string(booking.Status)),
		attribute.Int("version", booking.Version),
	)

	updatedAt := time.Now()
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE bookings SET
				status = $3,
				total_price = $4,
				discount_amount = $5,
				final_price = $6,
				payment_method = $7,
				payment_id = $8,
				version = version + 1,
				updated_at = $9
			WHERE id = $1 AND version = $2
		`,
			booking.ID,
			booking.Version,
			string(booking.Status),
			booking.TotalPrice,
			booking.DiscountAmount,
			booking.FinalPrice,
			nullString(booking.PaymentMethod),
			nullString(booking.PaymentID),
			updatedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrVersionConflict
		}

		batch := &pgx.Batch{}
		batch.Queue(`DELETE FROM booking_fnb_items WHERE booking_id = $1`, booking.ID)
		batch.Queue(`DELETE FROM booking_promotions WHERE booking_id = $1`, booking.ID)
		for _, it := range booking.FnbItems {
			batch.Queue(`
				INSERT INTO booking_fnb_items (booking_id, item_id, quantity, unit_price, total_price)
				VALUES ($1, $2, $3, $4, $5)
			`, booking.ID, it.ItemID, it.Quantity, it.UnitPrice, it.TotalPrice)
		}
		if p := booking.Promotion; p != nil {
			batch.Queue(`
				INSERT INTO booking_promotions (booking_id, code, discount_type, discount_value, discount_amount)
				VALUES ($1, $2, $3, $4, $5)
			`, booking.ID, p.Code, string(p.DiscountType), p.DiscountValue, p.DiscountAmount)
		}
		return tx.SendBatch(ctx, batch).Close()
	})

	if err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			span.SetStatus(codes.Error, "version conflict")
			return err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to update booking: %w", err)
	}

	booking.Version++
	booking.UpdatedAt = updatedAt
	span.SetStatus(codes.Ok, "")
	return nil
}

// ListStalePending returns PENDING bookings older than cutoff
func (r *PostgresBookingRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.list_stale_pending")
	defer span.End()

	span.SetAttributes(attribute.Int("limit", limit))

	return r.list(ctx, selectBooking+`
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3
	`, string(domain.BookingStatusPending), cutoff, limit)
}

// ListOpenByShowtime returns PENDING and AWAITING_PAYMENT bookings of a showtime
func (r *PostgresBookingRepository) ListOpenByShowtime(ctx context.Context, showtimeID string) ([]*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.list_open_by_showtime")
	defer span.End()

	span.SetAttributes(attribute.String("showtime_id", showtimeID))

	return r.list(ctx, selectBooking+`
		WHERE showtime_id = $1 AND status IN ($2, $3)
		ORDER BY created_at ASC
	`, showtimeID, string(domain.BookingStatusPending), string(domain.BookingStatusAwaitingPayment))
}

func (r *PostgresBookingRepository) list(ctx context.Context, query string, args ...interface{}) ([]*domain.Booking, error) {
	rows, err := r.pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	bookings, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Booking, error) {
		return scanBooking(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan bookings: %w", err)
	}

	for _, b := range bookings {
		if err := r.loadChildren(ctx, b); err != nil {
			return nil, err
		}
	}
	return bookings, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
