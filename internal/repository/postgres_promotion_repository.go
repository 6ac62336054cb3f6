package repository

import (
	"context"
	"fmt"

	"github.com/prohmpiriya/cinehub-booking/internal/domain"
	"github.com/prohmpiriya/cinehub-booking/pkg/database"
	"github.com/prohmpiriya/cinehub-booking/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PostgresPromotionUsageRepository implements PromotionUsageRepository.
// The (user_id, promotion_code) unique constraint is what makes one-time codes race safe.
type PostgresPromotionUsageRepository struct {
	db *database.PostgresDB
}

// NewPostgresPromotionUsageRepository creates a new PostgresPromotionUsageRepository
func NewPostgresPromotionUsageRepository(db *database.PostgresDB) *PostgresPromotionUsageRepository {
	return &PostgresPromotionUsageRepository{db: db}
}

// Insert records a usage
func (r *PostgresPromotionUsageRepository) Insert(ctx context.Context, usage *domain.UsedPromotion) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.used_promotion.insert")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", usage.UserID),
		attribute.String("promotion_code", usage.PromotionCode),
		attribute.String("booking_id", usage.BookingID),
	)

	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO used_promotions (user_id, promotion_code, booking_id, used_at)
		VALUES ($1, $2, $3, $4)
	`, usage.UserID, usage.PromotionCode, usage.BookingID, usage.UsedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			span.SetStatus(codes.Error, "already used")
			return domain.ErrPromotionAlreadyUsed
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to record promotion usage: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// Exists reports whether the user already used the code
func (r *PostgresPromotionUsageRepository) Exists(ctx context.Context, userID, code string) (bool, error) {
	var exists bool
	err := r.db.Pool().QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM used_promotions WHERE user_id = $1 AND promotion_code = $2)
	`, userID, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check promotion usage: %w", err)
	}
	return exists, nil
}

// DeleteByBookingID removes the usage owned by a booking
func (r *PostgresPromotionUsageRepository) DeleteByBookingID(ctx context.Context, bookingID string) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.used_promotion.delete_by_booking")
	defer span.End()

	span.SetAttributes(attribute.String("booking_id", bookingID))

	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM used_promotions WHERE booking_id = $1`, bookingID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to delete promotion usage: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return tag.RowsAffected(), nil
}

// DeleteUsage removes a single usage row, scoped to the booking that recorded it
func (r *PostgresPromotionUsageRepository) DeleteUsage(ctx context.Context, userID, code, bookingID string) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.used_promotion.delete_usage")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", bookingID),
		attribute.String("promotion_code", code),
	)

	tag, err := r.db.Pool().Exec(ctx, `
		DELETE FROM used_promotions
		WHERE user_id = $1 AND promotion_code = $2 AND booking_id = $3
	`, userID, code, bookingID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to delete promotion usage: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return tag.RowsAffected(), nil
}
