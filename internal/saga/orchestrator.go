package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prohmpiriya/cinehub-booking/internal/domain"
	"github.com/prohmpiriya/cinehub-booking/internal/events"
	"github.com/prohmpiriya/cinehub-booking/internal/gateway"
	"github.com/prohmpiriya/cinehub-booking/internal/metrics"
	"github.com/prohmpiriya/cinehub-booking/internal/publisher"
	"github.com/prohmpiriya/cinehub-booking/internal/repository"
	"github.com/prohmpiriya/cinehub-booking/internal/seatlock"
	"github.com/prohmpiriya/cinehub-booking/pkg/logger"
	"github.com/prohmpiriya/cinehub-booking/pkg/retry"
	"github.com/prohmpiriya/cinehub-booking/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SeatReleaser releases seat locks, see seatlock.Coordinator
type SeatReleaser interface {
	ReleaseSeats(ctx context.Context, req seatlock.ReleaseRequest) (int, error)
}

// UsageGuard tracks one-time promotion usage, see promotion.Guard
type UsageGuard interface {
	CanUse(ctx context.Context, userID, code string, oneTimeUse bool) (bool, error)
	RecordUsage(ctx context.Context, usage domain.UsedPromotion) error
	Release(ctx context.Context, bookingID string) error
	ReleaseUsage(ctx context.Context, usage domain.UsedPromotion) error
}

// Dependencies holds the collaborators of the orchestrator
type Dependencies struct {
	Bookings    repository.BookingRepository
	Seats       SeatReleaser
	Guard       UsageGuard
	Publisher   publisher.Publisher
	Pricing     gateway.PricingGateway
	Promotion   gateway.PromotionGateway
	Fnb         gateway.FnbGateway
	Showtime    gateway.ShowtimeGateway
	Movie       gateway.MovieGateway
	UserProfile gateway.UserProfileGateway
}

// FinalizeRequest adds F&B and an optional promotion to a PENDING booking
type FinalizeRequest struct {
	BookingID string
	UserID    string
	FnbItems  []domain.FnbSelection
	PromoCode string
}

// Orchestrator owns the booking lifecycle. It keeps no in-process locks;
// concurrent writers are serialized by the booking version.
type Orchestrator struct {
	deps        Dependencies
	log         *logger.Logger
	now         func() time.Time
	updateRetry *retry.Config
}

// NewOrchestrator creates a new booking orchestrator
func NewOrchestrator(deps Dependencies, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.Nop()
	}
	return &Orchestrator{
		deps: deps,
		log:  log,
		now:  time.Now,
		// a stale version is reloaded and retried once
		updateRetry: &retry.Config{
			MaxRetries:      1,
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     50 * time.Millisecond,
			Multiplier:      2,
			JitterFactor:    0.2,
		},
	}
}

// WithClock overrides the clock used for booking timestamps
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// GetBooking returns a booking
func (o *Orchestrator) GetBooking(ctx context.Context, bookingID string) (*domain.Booking, error) {
	b, err := o.deps.Bookings.GetByID(ctx, bookingID)
	if err != nil && !errors.Is(err, domain.ErrBookingNotFound) {
		return nil, fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err)
	}
	return b, err
}

// HandleSeatLocked creates the PENDING booking for a fresh lock. A redelivered
// SeatLocked finds the booking already there and does nothing.
func (o *Orchestrator) HandleSeatLocked(ctx context.Context, evt events.SeatLocked) error {
	ctx, span := telemetry.StartSpan(ctx, "saga.handle_seat_locked")
	defer span.End()

	span.SetAttributes(telemetry.BookingAttrs(evt.LockID, evt.ShowtimeID)...)
	span.SetAttributes(attribute.Int("seat_count", len(evt.SeatIDs)))

	if evt.LockID == "" || len(evt.SeatIDs) == 0 {
		return fmt.Errorf("%w: seat locked event without lock id or seats", domain.ErrInvalidBookingID)
	}

	if _, err := o.deps.Bookings.GetByID(ctx, evt.LockID); err == nil {
		o.log.Debug(fmt.Sprintf("Booking %s already exists, skipping", evt.LockID))
		return nil
	} else if !errors.Is(err, domain.ErrBookingNotFound) {
		return fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err)
	}

	seats, err := o.priceSeats(ctx, evt)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	booking, err := domain.NewBooking(evt.LockID, evt.UserID, evt.ShowtimeID, seats, o.now())
	if err != nil {
		return err
	}

	if err := o.deps.Bookings.Create(ctx, booking); err != nil {
		if errors.Is(err, domain.ErrBookingAlreadyExists) {
			return nil
		}
		telemetry.RecordError(span, err)
		return fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err)
	}

	metrics.SagaTransitions.Inc(ctx, attribute.String("to", string(domain.BookingStatusPending)))
	o.log.Info(fmt.Sprintf("Created booking %s for %d seats", booking.ID, len(seats)),
		zap.String("user_id", booking.UserID),
		zap.String("showtime_id", booking.ShowtimeID),
		zap.Int64("total_price", booking.TotalPrice),
	)

	o.publish(ctx, events.BookingCreated{
		BookingID:  booking.ID,
		UserID:     booking.UserID,
		ShowtimeID: booking.ShowtimeID,
		SeatIDs:    booking.SeatIDs(),
		TotalPrice: booking.TotalPrice,
	})
	o.publish(ctx, events.BookingSeatsMapped{
		BookingID:  booking.ID,
		ShowtimeID: booking.ShowtimeID,
		UserID:     booking.UserID,
		SeatIDs:    booking.SeatIDs(),
	})
	return nil
}

// priceSeats prices every seat; one failure aborts the whole booking
func (o *Orchestrator) priceSeats(ctx context.Context, evt events.SeatLocked) ([]domain.BookingSeat, error) {
	seats := make([]domain.BookingSeat, len(evt.SeatIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, seatID := range evt.SeatIDs {
		seat := domain.BookingSeat{SeatID: seatID}
		if i < len(evt.SeatTypes) {
			seat.SeatType = evt.SeatTypes[i]
		}
		if i < len(evt.TicketTypes) {
			seat.TicketType = evt.TicketTypes[i]
		}
		g.Go(func() error {
			price, err := o.deps.Pricing.GetSeatPrice(gctx, seat.SeatType, seat.TicketType)
			if err != nil {
				return fmt.Errorf("failed to price seat %s: %w", seat.SeatID, err)
			}
			seat.Price = price
			seats[i] = seat
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if !domain.IsDependencyUnavailable(err) {
			err = fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err)
		}
		return nil, err
	}
	return seats, nil
}

// Finalize prices F&B and the promotion and moves a PENDING booking to AWAITING_PAYMENT
func (o *Orchestrator) Finalize(ctx context.Context, req FinalizeRequest) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "saga.finalize")
	defer span.End()
	start := time.Now()

	span.SetAttributes(
		attribute.String("booking_id", req.BookingID),
		attribute.Int("fnb_count", len(req.FnbItems)),
		attribute.Bool("has_promotion", req.PromoCode != ""),
	)

	for _, item := range req.FnbItems {
		if item.ItemID == "" || item.Quantity <= 0 {
			return nil, domain.ErrInvalidQuantity
		}
	}

	booking, err := o.GetBooking(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	if booking.UserID != req.UserID {
		return nil, domain.ErrForbidden
	}
	if d := Decide(booking.Status, TriggerFinalize); d.Outcome != Apply {
		return nil, fmt.Errorf("%w: booking %s is %s", domain.ErrInvalidBookingState, booking.ID, booking.Status)
	}

	quote, err := o.deps.Fnb.Calculate(ctx, req.FnbItems)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	fnb := make([]domain.BookingFnbItem, len(quote.Items))
	for i, line := range quote.Items {
		fnb[i] = domain.BookingFnbItem{
			ItemID:     line.ItemID,
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
			TotalPrice: line.TotalPrice,
		}
	}
	total := booking.SeatTotal() + sumFnb(fnb)

	promo, usage, err := o.resolvePromotion(ctx, booking, req.PromoCode, total)
	if err != nil {
		return nil, err
	}

	// rank and promotion discounts are both taken on the undiscounted total
	// and summed; ApplyPricing caps the sum at the total
	var discount int64
	if rank, err := o.deps.UserProfile.GetRankAndDiscount(ctx, booking.UserID); err == nil && rank != nil {
		discount = domain.RankDiscount(rank.DiscountPercent, total)
	}
	if promo != nil {
		discount += promo.DiscountAmount
	}

	if usage != nil {
		if err := o.deps.Guard.RecordUsage(ctx, *usage); err != nil {
			return nil, err
		}
	}

	updated, _, err := o.transition(ctx, req.BookingID, TriggerFinalize, func(b *domain.Booking) {
		b.ApplyPricing(fnb, promo, discount)
	})
	if err == nil && updated == nil {
		err = fmt.Errorf("%w: booking %s changed during finalize", domain.ErrInvalidBookingState, req.BookingID)
	}
	if err != nil {
		if usage != nil {
			if rerr := o.deps.Guard.ReleaseUsage(ctx, *usage); rerr != nil {
				o.log.ErrorContext(ctx, fmt.Sprintf("Failed to roll back promotion %s of booking %s", usage.PromotionCode, req.BookingID), zap.Error(rerr))
			}
		}
		return nil, err
	}

	metrics.FinalizeDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	return updated, nil
}

// resolvePromotion validates code and computes its discount on total.
// A degraded promotion service means no promotion.
func (o *Orchestrator) resolvePromotion(ctx context.Context, b *domain.Booking, code string, total int64) (*domain.BookingPromotion, *domain.UsedPromotion, error) {
	if code == "" {
		return nil, nil, nil
	}

	info, err := o.deps.Promotion.Validate(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	if info.Fallback {
		return nil, nil, nil
	}

	if info.IsOneTimeUse {
		ok, err := o.deps.Guard.CanUse(ctx, b.UserID, info.Code, true)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, domain.ErrPromotionAlreadyUsed
		}
	}

	promo := &domain.BookingPromotion{
		Code:           info.Code,
		DiscountType:   info.DiscountType,
		DiscountValue:  info.DiscountValue,
		DiscountAmount: domain.CalculateDiscount(info.DiscountType, info.DiscountValue, total),
	}

	var usage *domain.UsedPromotion
	if info.IsOneTimeUse {
		usage = &domain.UsedPromotion{
			UserID:        b.UserID,
			PromotionCode: info.Code,
			BookingID:     b.ID,
			UsedAt:        o.now(),
		}
	}
	return promo, usage, nil
}

// HandlePaymentSuccess confirms the booking and emits the ticket
func (o *Orchestrator) HandlePaymentSuccess(ctx context.Context, evt events.PaymentSuccess) error {
	ctx, span := telemetry.StartSpan(ctx, "saga.handle_payment_success")
	defer span.End()

	span.SetAttributes(attribute.String("booking_id", evt.BookingID))

	_, _, err := o.transition(ctx, evt.BookingID, TriggerPaymentSuccess, func(b *domain.Booking) {
		b.PaymentMethod = evt.Method
		b.PaymentID = evt.PaymentID
	})
	return err
}

// HandlePaymentFailed cancels the booking and compensates
func (o *Orchestrator) HandlePaymentFailed(ctx context.Context, evt events.PaymentFailed) error {
	ctx, span := telemetry.StartSpan(ctx, "saga.handle_payment_failed")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", evt.BookingID),
		attribute.String("reason", evt.Reason),
	)

	_, _, err := o.transition(ctx, evt.BookingID, TriggerPaymentFailed, nil)
	return err
}

// HandleSeatExpired expires the booking whose locks timed out
func (o *Orchestrator) HandleSeatExpired(ctx context.Context, evt events.SeatUnlocked) error {
	if evt.Reason != events.UnlockReasonExpired || evt.BookingID == "" {
		return nil
	}
	return o.Expire(ctx, evt.BookingID)
}

// Expire marks an abandoned booking EXPIRED
func (o *Orchestrator) Expire(ctx context.Context, bookingID string) error {
	ctx, span := telemetry.StartSpan(ctx, "saga.expire")
	defer span.End()

	span.SetAttributes(attribute.String("booking_id", bookingID))

	_, _, err := o.transition(ctx, bookingID, TriggerExpire, nil)
	return err
}

// HandleShowtimeSuspended cancels every open booking of the showtime
func (o *Orchestrator) HandleShowtimeSuspended(ctx context.Context, evt events.ShowtimeSuspended) error {
	ctx, span := telemetry.StartSpan(ctx, "saga.handle_showtime_suspended")
	defer span.End()

	span.SetAttributes(attribute.String("showtime_id", evt.ShowtimeID))

	bookings, err := o.deps.Bookings.ListOpenByShowtime(ctx, evt.ShowtimeID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err)
	}

	var errs []error
	for _, b := range bookings {
		if _, _, err := o.transition(ctx, b.ID, TriggerShowtimeSuspended, nil); err != nil && !domain.IsNotFound(err) {
			errs = append(errs, fmt.Errorf("booking %s: %w", b.ID, err))
		}
	}

	o.log.Info(fmt.Sprintf("Showtime %s suspended, cancelled %d bookings", evt.ShowtimeID, len(bookings)-len(errs)),
		zap.String("reason", evt.Reason),
	)
	return errors.Join(errs...)
}

// HandleStatusUpdated applies status changes owned by other services.
// Only REFUNDED is accepted; the saga's own announcements are ignored.
func (o *Orchestrator) HandleStatusUpdated(ctx context.Context, evt events.BookingStatusUpdated) error {
	if evt.NewStatus != domain.BookingStatusRefunded {
		return nil
	}
	_, _, err := o.transition(ctx, evt.BookingID, TriggerRefunded, nil)
	return err
}

// transition loads the booking, asks Decide, writes the new status with the
// version guard and runs the effects. It returns a nil booking when nothing was applied.
func (o *Orchestrator) transition(ctx context.Context, bookingID string, trigger Trigger, mutate func(*domain.Booking)) (*domain.Booking, Decision, error) {
	var (
		applied  *domain.Booking
		decision Decision
		previous domain.BookingStatus
	)

	res := retry.Do(ctx, o.updateRetry, func(ctx context.Context) error {
		applied = nil

		b, err := o.deps.Bookings.GetByID(ctx, bookingID)
		if err != nil {
			if errors.Is(err, domain.ErrBookingNotFound) {
				return retry.Permanent(err)
			}
			return retry.Permanent(fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err))
		}

		decision = Decide(b.Status, trigger)
		switch decision.Outcome {
		case Duplicate:
			metrics.SagaIgnored.Inc(ctx, attribute.String("trigger", string(trigger)), attribute.String("outcome", "duplicate"))
			o.log.Debug(fmt.Sprintf("Booking %s already %s, %s is a duplicate", b.ID, b.Status, trigger))
			return nil
		case Ignore:
			metrics.SagaIgnored.Inc(ctx, attribute.String("trigger", string(trigger)), attribute.String("outcome", "ignore"))
			o.log.Warn(fmt.Sprintf("Ignoring %s for booking %s in status %s", trigger, b.ID, b.Status),
				zap.String("booking_id", b.ID),
			)
			return nil
		case Reject:
			return retry.Permanent(fmt.Errorf("%w: %s not allowed from %s", domain.ErrInvalidBookingState, trigger, b.Status))
		}

		previous = b.Status
		if decision.Has(EffectClearExtras) {
			b.ClearExtras()
		}
		if mutate != nil {
			mutate(b)
		}
		b.Status = decision.Next

		if err := o.deps.Bookings.Update(ctx, b); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				return err
			}
			return retry.Permanent(fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err))
		}
		applied = b
		return nil
	})

	if res.Err != nil {
		if errors.Is(res.LastError, domain.ErrVersionConflict) {
			return nil, decision, fmt.Errorf("%w: booking %s", domain.ErrConcurrentUpdate, bookingID)
		}
		if errors.Is(res.Err, retry.ErrContextCanceled) {
			return nil, decision, fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, ctx.Err())
		}
		return nil, decision, res.Err
	}
	if applied == nil {
		return nil, decision, nil
	}

	metrics.SagaTransitions.Inc(ctx, attribute.String("to", string(applied.Status)))
	o.log.Info(fmt.Sprintf("Booking %s moved %s -> %s", applied.ID, previous, applied.Status),
		zap.String("trigger", string(trigger)),
	)

	o.runEffects(ctx, applied, previous, decision)
	return applied, decision, nil
}

// runEffects performs the side effects of an applied transition. The status is
// already committed, so failures are logged; seat TTLs and the promotion guard's
// own status subscription converge what is missed here.
func (o *Orchestrator) runEffects(ctx context.Context, b *domain.Booking, previous domain.BookingStatus, d Decision) {
	if d.Has(EffectClearExtras) {
		if err := o.deps.Guard.Release(ctx, b.ID); err != nil {
			o.log.ErrorContext(ctx, fmt.Sprintf("Failed to release promotion of booking %s", b.ID), zap.Error(err))
		}
	}

	if d.Has(EffectPublishFinalized) {
		o.publish(ctx, events.BookingFinalized{
			BookingID:  b.ID,
			UserID:     b.UserID,
			ShowtimeID: b.ShowtimeID,
			FinalPrice: b.FinalPrice,
		})
	}

	if d.Has(EffectPublishStatusUpdated) {
		o.publish(ctx, events.NewStatusUpdated(b, previous))
	}

	// after the status announcement, so the projection sees BOOKED seats first
	if d.Has(EffectReleaseSeats) {
		reason := events.UnlockReasonCancelled
		if b.Status == domain.BookingStatusConfirmed {
			reason = events.UnlockReasonBooked
		}
		_, err := o.deps.Seats.ReleaseSeats(ctx, seatlock.ReleaseRequest{
			ShowtimeID: b.ShowtimeID,
			SeatIDs:    b.SeatIDs(),
			Holder:     seatlock.Holder{LockID: b.ID},
			Reason:     reason,
			BookingID:  b.ID,
		})
		if err != nil {
			o.log.ErrorContext(ctx, fmt.Sprintf("Failed to release seats of booking %s", b.ID), zap.Error(err))
		}
	}

	if d.Has(EffectGenerateTicket) {
		ticket, err := o.buildTicket(ctx, b)
		if err != nil {
			o.log.ErrorContext(ctx, fmt.Sprintf("Failed to build ticket for booking %s", b.ID), zap.Error(err))
			return
		}
		o.publish(ctx, ticket)
	}
}

// buildTicket gathers the receipt from the read collaborators in parallel
func (o *Orchestrator) buildTicket(ctx context.Context, b *domain.Booking) (events.BookingTicketGenerated, error) {
	ticket := events.BookingTicketGenerated{
		BookingID:      b.ID,
		UserID:         b.UserID,
		ShowtimeID:     b.ShowtimeID,
		TotalPrice:     b.TotalPrice,
		DiscountAmount: b.DiscountAmount,
		FinalPrice:     b.FinalPrice,
		PaymentMethod:  b.PaymentMethod,
	}
	if b.Promotion != nil {
		ticket.PromotionCode = b.Promotion.Code
	}

	var (
		seatInfo []gateway.SeatInfo
		fnbNames = map[string]string{}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		st, err := o.deps.Showtime.GetShowtime(gctx, b.ShowtimeID)
		if err != nil {
			return err
		}
		ticket.MovieID = st.MovieID
		ticket.TheaterName = st.TheaterName
		ticket.RoomName = st.RoomName
		ticket.StartTime = st.StartTime

		movie, err := o.deps.Movie.GetMovie(gctx, st.MovieID)
		if err != nil {
			return err
		}
		ticket.MovieTitle = movie.Title
		return nil
	})
	g.Go(func() error {
		seats, err := o.deps.Showtime.GetSeatInfo(gctx, b.ShowtimeID, b.SeatIDs())
		seatInfo = seats
		return err
	})
	g.Go(func() error {
		rank, err := o.deps.UserProfile.GetRankAndDiscount(gctx, b.UserID)
		if err != nil {
			return err
		}
		ticket.UserEmail = rank.Email
		ticket.UserRank = rank.Rank
		return nil
	})
	if len(b.FnbItems) > 0 {
		g.Go(func() error {
			selection := make([]domain.FnbSelection, len(b.FnbItems))
			for i, item := range b.FnbItems {
				selection[i] = domain.FnbSelection{ItemID: item.ItemID, Quantity: item.Quantity}
			}
			quote, err := o.deps.Fnb.Calculate(gctx, selection)
			if err != nil {
				// names are cosmetic; the booking already holds the prices
				o.log.Warn(fmt.Sprintf("F&B names unavailable for booking %s", b.ID), zap.Error(err))
				return nil
			}
			for _, line := range quote.Items {
				fnbNames[line.ItemID] = line.Name
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ticket, err
	}

	labels := make(map[string]string, len(seatInfo))
	for _, s := range seatInfo {
		labels[s.SeatID] = s.Label
	}
	for _, s := range b.Seats {
		number := labels[s.SeatID]
		if number == "" {
			number = s.SeatID
		}
		ticket.Seats = append(ticket.Seats, events.TicketSeat{
			SeatID:     s.SeatID,
			SeatNumber: number,
			SeatType:   s.SeatType,
			TicketType: s.TicketType,
			Price:      s.Price,
		})
	}
	for _, item := range b.FnbItems {
		ticket.FnbItems = append(ticket.FnbItems, events.TicketFnbLine{
			ItemID:     item.ItemID,
			Name:       fnbNames[item.ItemID],
			Quantity:   item.Quantity,
			TotalPrice: item.TotalPrice,
		})
	}
	return ticket, nil
}

func (o *Orchestrator) publish(ctx context.Context, evt events.Event) {
	if err := o.deps.Publisher.Publish(ctx, evt); err != nil {
		o.log.ErrorContext(ctx, fmt.Sprintf("Failed to publish %s", evt.Type()),
			zap.String("key", evt.Key()),
			zap.Error(err),
		)
	}
}

func sumFnb(items []domain.BookingFnbItem) int64 {
	var total int64
	for _, item := range items {
		total += item.TotalPrice
	}
	return total
}
