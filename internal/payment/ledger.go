package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prohmpiriya/cinehub-booking/internal/domain"
	"github.com/prohmpiriya/cinehub-booking/internal/events"
	"github.com/prohmpiriya/cinehub-booking/internal/metrics"
	"github.com/prohmpiriya/cinehub-booking/internal/publisher"
	"github.com/prohmpiriya/cinehub-booking/internal/repository"
	"github.com/prohmpiriya/cinehub-booking/pkg/logger"
	"github.com/prohmpiriya/cinehub-booking/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Ledger keeps exactly one payment transaction per booking and turns
// gateway callbacks into PaymentSuccess / PaymentFailed events
type Ledger struct {
	repo      repository.PaymentRepository
	publisher publisher.Publisher
	log       *logger.Logger
	now       func() time.Time
}

// NewLedger creates a new payment ledger
func NewLedger(repo repository.PaymentRepository, pub publisher.Publisher, log *logger.Logger) *Ledger {
	if log == nil {
		log = logger.Nop()
	}
	return &Ledger{repo: repo, publisher: pub, log: log, now: time.Now}
}

// CreatePendingTransaction opens the PENDING row for a new booking.
// A redelivered BookingCreated is a no-op.
func (l *Ledger) CreatePendingTransaction(ctx context.Context, evt events.BookingCreated) error {
	ctx, span := telemetry.StartSpan(ctx, "payment.ledger.create_pending")
	defer span.End()

	span.SetAttributes(attribute.String("booking_id", evt.BookingID))

	tx, err := domain.NewPaymentTransaction(evt.BookingID, evt.UserID, evt.TotalPrice, l.now())
	if err != nil {
		return err
	}

	if err := l.repo.Create(ctx, tx); err != nil {
		if errors.Is(err, domain.ErrTransactionExists) {
			l.log.Debug(fmt.Sprintf("Payment transaction for booking %s already exists", evt.BookingID))
			return nil
		}
		telemetry.RecordError(span, err)
		return fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err)
	}

	metrics.LedgerOutcomes.Inc(ctx, attribute.String("outcome", "pending"))
	return nil
}

// UpdateAmount sets the PENDING row's amount to the finalized price.
// When BookingFinalized overtakes BookingCreated the row is opened here.
func (l *Ledger) UpdateAmount(ctx context.Context, evt events.BookingFinalized) error {
	ctx, span := telemetry.StartSpan(ctx, "payment.ledger.update_amount")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", evt.BookingID),
		attribute.Int64("final_price", evt.FinalPrice),
	)

	tx, err := l.repo.GetByBookingID(ctx, evt.BookingID)
	if errors.Is(err, domain.ErrTransactionNotFound) {
		return l.CreatePendingTransaction(ctx, events.BookingCreated{
			BookingID:  evt.BookingID,
			UserID:     evt.UserID,
			ShowtimeID: evt.ShowtimeID,
			TotalPrice: evt.FinalPrice,
		})
	}
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err)
	}
	if !tx.IsPending() {
		return domain.ErrTransactionNotPending
	}
	if tx.Amount == evt.FinalPrice {
		return nil
	}

	tx.Amount = evt.FinalPrice
	tx.UpdatedAt = l.now()
	if err := l.repo.UpdateIfPending(ctx, tx); err != nil {
		if errors.Is(err, domain.ErrTransactionNotPending) {
			return err
		}
		telemetry.RecordError(span, err)
		return fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err)
	}
	return nil
}

// ProcessSuccess records a successful gateway callback and emits PaymentSuccess
func (l *Ledger) ProcessSuccess(ctx context.Context, bookingID, ref, method string) (*domain.PaymentTransaction, error) {
	return l.settle(ctx, bookingID, domain.TransactionStatusSuccess, func(tx *domain.PaymentTransaction) error {
		return tx.Succeed(ref, method, l.now())
	}, ref)
}

// ProcessFailure records a failed gateway callback and emits PaymentFailed
func (l *Ledger) ProcessFailure(ctx context.Context, bookingID, ref, reason string) (*domain.PaymentTransaction, error) {
	return l.settle(ctx, bookingID, domain.TransactionStatusFailed, func(tx *domain.PaymentTransaction) error {
		return tx.Fail(ref, reason, l.now())
	}, ref)
}

func (l *Ledger) settle(
	ctx context.Context,
	bookingID string,
	target domain.TransactionStatus,
	apply func(*domain.PaymentTransaction) error,
	ref string,
) (*domain.PaymentTransaction, error) {
	ctx, span := telemetry.StartSpan(ctx, "payment.ledger.settle")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", bookingID),
		attribute.String("target_status", string(target)),
	)

	if bookingID == "" {
		return nil, domain.ErrInvalidBookingID
	}

	tx, err := l.repo.GetByBookingID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err)
	}

	if !tx.IsPending() {
		// The same callback again: re-emit so a publish lost after the write still reaches the saga
		if tx.Status == target && ref != "" && tx.TransactionRef == ref {
			l.log.Info(fmt.Sprintf("Replaying %s for booking %s", target, bookingID))
			return tx, l.emit(ctx, tx)
		}
		return tx, domain.ErrTransactionNotPending
	}

	if err := apply(tx); err != nil {
		return nil, err
	}

	if err := l.repo.UpdateIfPending(ctx, tx); err != nil {
		if errors.Is(err, domain.ErrTransactionNotPending) {
			return nil, err
		}
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err)
	}

	metrics.LedgerOutcomes.Inc(ctx, attribute.String("outcome", string(target)))
	l.log.Info(fmt.Sprintf("Payment for booking %s is %s", bookingID, target),
		zap.String("transaction_id", tx.ID),
		zap.String("transaction_ref", tx.TransactionRef),
	)

	return tx, l.emit(ctx, tx)
}

func (l *Ledger) emit(ctx context.Context, tx *domain.PaymentTransaction) error {
	var evt events.Event
	switch tx.Status {
	case domain.TransactionStatusSuccess:
		evt = events.PaymentSuccess{
			PaymentID: tx.ID,
			BookingID: tx.BookingID,
			UserID:    tx.UserID,
			Amount:    tx.Amount,
			Method:    tx.Method,
		}
	case domain.TransactionStatusFailed:
		evt = events.PaymentFailed{BookingID: tx.BookingID, Reason: tx.FailureReason}
	default:
		return nil
	}

	if err := l.publisher.Publish(ctx, evt); err != nil {
		l.log.ErrorContext(ctx, fmt.Sprintf("Failed to publish %s for booking %s", evt.Type(), tx.BookingID), zap.Error(err))
		return fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err)
	}
	return nil
}

// GetByBookingID returns the booking's transaction
func (l *Ledger) GetByBookingID(ctx context.Context, bookingID string) (*domain.PaymentTransaction, error) {
	return l.repo.GetByBookingID(ctx, bookingID)
}
