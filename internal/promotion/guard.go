package promotion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prohmpiriya/cinehub-booking/internal/domain"
	"github.com/prohmpiriya/cinehub-booking/internal/repository"
	"github.com/prohmpiriya/cinehub-booking/pkg/logger"
	"github.com/prohmpiriya/cinehub-booking/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Guard enforces one-time promotion codes. The usage table's unique
// constraint is the race-safe check; CanUse is advisory.
type Guard struct {
	repo repository.PromotionUsageRepository
	log  *logger.Logger
	now  func() time.Time
}

// NewGuard creates a new promotion usage guard
func NewGuard(repo repository.PromotionUsageRepository, log *logger.Logger) *Guard {
	if log == nil {
		log = logger.Nop()
	}
	return &Guard{repo: repo, log: log, now: time.Now}
}

// CanUse reports whether userID may apply code
func (g *Guard) CanUse(ctx context.Context, userID, code string, oneTimeUse bool) (bool, error) {
	if !oneTimeUse {
		return true, nil
	}
	used, err := g.repo.Exists(ctx, userID, code)
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err)
	}
	return !used, nil
}

// RecordUsage stores a usage row. A second usage by the same user returns ErrPromotionAlreadyUsed.
func (g *Guard) RecordUsage(ctx context.Context, usage domain.UsedPromotion) error {
	ctx, span := telemetry.StartSpan(ctx, "promotion.record_usage")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", usage.UserID),
		attribute.String("promotion_code", usage.PromotionCode),
	)

	if usage.UsedAt.IsZero() {
		usage.UsedAt = g.now()
	}

	if err := g.repo.Insert(ctx, &usage); err != nil {
		if errors.Is(err, domain.ErrPromotionAlreadyUsed) {
			return err
		}
		telemetry.RecordError(span, err)
		return fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err)
	}
	return nil
}

// OnBookingStatusChange frees the booking's usage when it ends without a sale
func (g *Guard) OnBookingStatusChange(ctx context.Context, bookingID string, status domain.BookingStatus) error {
	if !status.ReleasesPromotion() {
		return nil
	}
	return g.Release(ctx, bookingID)
}

// Release deletes the usage owned by a booking. Deleting nothing is not an error.
func (g *Guard) Release(ctx context.Context, bookingID string) error {
	n, err := g.repo.DeleteByBookingID(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err)
	}
	if n > 0 {
		g.log.Info(fmt.Sprintf("Released promotion usage for booking %s", bookingID),
			zap.Int64("rows", n),
		)
	}
	return nil
}

// ReleaseUsage deletes the one row usage describes. Rows recorded by other
// finalize attempts of the same booking are kept.
func (g *Guard) ReleaseUsage(ctx context.Context, usage domain.UsedPromotion) error {
	n, err := g.repo.DeleteUsage(ctx, usage.UserID, usage.PromotionCode, usage.BookingID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err)
	}
	if n > 0 {
		g.log.Info(fmt.Sprintf("Rolled back promotion %s of booking %s", usage.PromotionCode, usage.BookingID))
	}
	return nil
}
