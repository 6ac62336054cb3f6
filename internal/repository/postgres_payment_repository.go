package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/prohmpiriya/cinehub-booking/internal/domain"
	"github.com/prohmpiriya/cinehub-booking/pkg/database"
	"github.com/prohmpiriya/cinehub-booking/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PostgresPaymentRepository implements PaymentRepository using PostgreSQL
type PostgresPaymentRepository struct {
	db *database.PostgresDB
}

// NewPostgresPaymentRepository creates a new PostgresPaymentRepository
func NewPostgresPaymentRepository(db *database.PostgresDB) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{db: db}
}

// Create inserts a payment transaction
func (r *PostgresPaymentRepository) Create(ctx context.Context, tx *domain.PaymentTransaction) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.payment.create")
	defer span.End()

	span.SetAttributes(
		attribute.String("payment_id", tx.ID),
		attribute.String("booking_id", tx.BookingID),
	)

	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO payment_transactions (
			id, booking_id, user_id, amount, method, status,
			transaction_ref, failure_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		tx.ID,
		tx.BookingID,
		tx.UserID,
		tx.Amount,
		nullString(tx.Method),
		string(tx.Status),
		nullString(tx.TransactionRef),
		nullString(tx.FailureReason),
		tx.CreatedAt,
		tx.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			span.SetStatus(codes.Error, "already exists")
			return domain.ErrTransactionExists
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create payment transaction: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// GetByBookingID retrieves the transaction of a booking
func (r *PostgresPaymentRepository) GetByBookingID(ctx context.Context, bookingID string) (*domain.PaymentTransaction, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.payment.get_by_booking_id")
	defer span.End()

	span.SetAttributes(attribute.String("booking_id", bookingID))

	tx := &domain.PaymentTransaction{}
	var (
		status        string
		method        *string
		ref           *string
		failureReason *string
	)
	err := r.db.Pool().QueryRow(ctx, `
		SELECT id, booking_id, user_id, amount, method, status,
			transaction_ref, failure_reason, created_at, updated_at
		FROM payment_transactions
		WHERE booking_id = $1
	`, bookingID).Scan(
		&tx.ID,
		&tx.BookingID,
		&tx.UserID,
		&tx.Amount,
		&method,
		&status,
		&ref,
		&failureReason,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrTransactionNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get payment transaction: %w", err)
	}

	tx.Status = domain.TransactionStatus(status)
	if method != nil {
		tx.Method = *method
	}
	if ref != nil {
		tx.TransactionRef = *ref
	}
	if failureReason != nil {
		tx.FailureReason = *failureReason
	}

	span.SetStatus(codes.Ok, "")
	return tx, nil
}

// UpdateIfPending moves a PENDING row to tx's state
func (r *PostgresPaymentRepository) UpdateIfPending(ctx context.Context, tx *domain.PaymentTransaction) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.payment.update_if_pending")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", tx.BookingID),
		attribute.String("status", string(tx.Status)),
	)

	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE payment_transactions SET
			amount = $2,
			method = $3,
			status = $4,
			transaction_ref = $5,
			failure_reason = $6,
			updated_at = $7
		WHERE booking_id = $1 AND status = 'PENDING'
	`,
		tx.BookingID,
		tx.Amount,
		nullString(tx.Method),
		string(tx.Status),
		nullString(tx.TransactionRef),
		nullString(tx.FailureReason),
		tx.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to update payment transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "not pending")
		return domain.ErrTransactionNotPending
	}

	span.SetStatus(codes.Ok, "")
	return nil
}
