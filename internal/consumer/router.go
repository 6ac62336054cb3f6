package consumer

import (
	"context"
	"errors"
	"fmt"

	"github.com/prohmpiriya/cinehub-booking/internal/domain"
	"github.com/prohmpiriya/cinehub-booking/internal/events"
)

// ErrMalformed marks a message that can never be handled
var ErrMalformed = errors.New("malformed event")

// Saga handles the booking lifecycle events, see saga.Orchestrator
type Saga interface {
	HandleSeatLocked(ctx context.Context, evt events.SeatLocked) error
	HandlePaymentSuccess(ctx context.Context, evt events.PaymentSuccess) error
	HandlePaymentFailed(ctx context.Context, evt events.PaymentFailed) error
	HandleSeatExpired(ctx context.Context, evt events.SeatUnlocked) error
	HandleShowtimeSuspended(ctx context.Context, evt events.ShowtimeSuspended) error
	HandleStatusUpdated(ctx context.Context, evt events.BookingStatusUpdated) error
}

// Ledger keeps payment transactions in step with bookings, see payment.Ledger
type Ledger interface {
	CreatePendingTransaction(ctx context.Context, evt events.BookingCreated) error
	UpdateAmount(ctx context.Context, evt events.BookingFinalized) error
}

// PromotionReleaser frees promotion usage of bookings that ended without a sale, see promotion.Guard
type PromotionReleaser interface {
	OnBookingStatusChange(ctx context.Context, bookingID string, status domain.BookingStatus) error
}

type handlerFunc func(ctx context.Context, env *events.Envelope) error

// Router dispatches enveloped events by topic
type Router struct {
	routes map[string]handlerFunc
}

// NewRouter wires every consumed topic to its handler
func NewRouter(saga Saga, ledger Ledger, promotions PromotionReleaser) *Router {
	r := &Router{routes: make(map[string]handlerFunc)}

	r.routes[events.TopicSeatLocked] = decoded(saga.HandleSeatLocked)
	r.routes[events.TopicSeatUnlocked] = decoded(saga.HandleSeatExpired)
	r.routes[events.TopicPaymentSuccess] = decoded(saga.HandlePaymentSuccess)
	r.routes[events.TopicPaymentFailed] = decoded(saga.HandlePaymentFailed)
	r.routes[events.TopicShowtimeSuspended] = decoded(saga.HandleShowtimeSuspended)
	r.routes[events.TopicBookingCreated] = decoded(ledger.CreatePendingTransaction)
	r.routes[events.TopicBookingFinalized] = decoded(ledger.UpdateAmount)
	r.routes[events.TopicBookingStatusUpdated] = decoded(func(ctx context.Context, evt events.BookingStatusUpdated) error {
		return errors.Join(
			promotions.OnBookingStatusChange(ctx, evt.BookingID, evt.NewStatus),
			saga.HandleStatusUpdated(ctx, evt),
		)
	})
	return r
}

// decoded adapts a typed handler to the envelope
func decoded[T any](handle func(context.Context, T) error) handlerFunc {
	return func(ctx context.Context, env *events.Envelope) error {
		var evt T
		if err := env.Decode(&evt); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return handle(ctx, evt)
	}
}

// Topics lists the topics the router handles
func (r *Router) Topics() []string {
	return []string{
		events.TopicSeatLocked,
		events.TopicSeatUnlocked,
		events.TopicBookingCreated,
		events.TopicBookingFinalized,
		events.TopicPaymentSuccess,
		events.TopicPaymentFailed,
		events.TopicBookingStatusUpdated,
		events.TopicShowtimeSuspended,
	}
}

// Route decodes raw as an envelope and runs the handler of topic
func (r *Router) Route(ctx context.Context, topic string, raw []byte) error {
	handle, ok := r.routes[topic]
	if !ok {
		return fmt.Errorf("%w: no route for topic %s", ErrMalformed, topic)
	}
	env, err := events.Unwrap(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return handle(ctx, env)
}
