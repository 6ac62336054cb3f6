package saga

import (
	"github.com/prohmpiriya/cinehub-booking/internal/domain"
)

// Trigger is something that asks a booking to change status
type Trigger string

const (
	TriggerFinalize          Trigger = "FINALIZE"
	TriggerPaymentSuccess    Trigger = "PAYMENT_SUCCESS"
	TriggerPaymentFailed     Trigger = "PAYMENT_FAILED"
	TriggerExpire            Trigger = "EXPIRE"
	TriggerShowtimeSuspended Trigger = "SHOWTIME_SUSPENDED"
	// TriggerRefunded is the external refund flow reporting REFUNDED
	TriggerRefunded Trigger = "REFUNDED"
)

// Outcome is what the orchestrator does with a trigger
type Outcome int

const (
	// Apply moves the booking to Decision.Next and runs the effects
	Apply Outcome = iota
	// Duplicate means the trigger was already applied; nothing happens
	Duplicate
	// Ignore drops a trigger that can no longer apply, e.g. anything on CONFIRMED
	Ignore
	// Reject surfaces ErrInvalidBookingState to the caller
	Reject
)

func (o Outcome) String() string {
	switch o {
	case Apply:
		return "apply"
	case Duplicate:
		return "duplicate"
	case Ignore:
		return "ignore"
	case Reject:
		return "reject"
	}
	return "unknown"
}

// Effect is a side effect of an applied transition
type Effect string

const (
	EffectClearExtras          Effect = "CLEAR_EXTRAS"
	EffectReleaseSeats         Effect = "RELEASE_SEATS"
	EffectPublishFinalized     Effect = "PUBLISH_FINALIZED"
	EffectPublishStatusUpdated Effect = "PUBLISH_STATUS_UPDATED"
	EffectGenerateTicket       Effect = "GENERATE_TICKET"
)

// Decision is the result of Decide
type Decision struct {
	Outcome Outcome
	Next    domain.BookingStatus
	Effects []Effect
}

// Has reports whether the decision carries effect e
func (d Decision) Has(e Effect) bool {
	for _, x := range d.Effects {
		if x == e {
			return true
		}
	}
	return false
}

type rule struct {
	from      []domain.BookingStatus
	to        domain.BookingStatus
	effects   []Effect
	otherwise Outcome
}

var open = []domain.BookingStatus{domain.BookingStatusPending, domain.BookingStatusAwaitingPayment}

var rules = map[Trigger]rule{
	TriggerFinalize: {
		from:      []domain.BookingStatus{domain.BookingStatusPending},
		to:        domain.BookingStatusAwaitingPayment,
		effects:   []Effect{EffectPublishFinalized},
		otherwise: Reject,
	},
	TriggerPaymentSuccess: {
		from:      open,
		to:        domain.BookingStatusConfirmed,
		effects:   []Effect{EffectPublishStatusUpdated, EffectReleaseSeats, EffectGenerateTicket},
		otherwise: Ignore,
	},
	TriggerPaymentFailed: {
		from:      open,
		to:        domain.BookingStatusCancelled,
		effects:   []Effect{EffectClearExtras, EffectReleaseSeats, EffectPublishStatusUpdated},
		otherwise: Ignore,
	},
	TriggerShowtimeSuspended: {
		from:      open,
		to:        domain.BookingStatusCancelled,
		effects:   []Effect{EffectClearExtras, EffectReleaseSeats, EffectPublishStatusUpdated},
		otherwise: Ignore,
	},
	// locks are already gone when a booking expires
	TriggerExpire: {
		from:      open,
		to:        domain.BookingStatusExpired,
		effects:   []Effect{EffectClearExtras, EffectPublishStatusUpdated},
		otherwise: Ignore,
	},
	// the refund flow announces REFUNDED itself
	TriggerRefunded: {
		from:      []domain.BookingStatus{domain.BookingStatusConfirmed},
		to:        domain.BookingStatusRefunded,
		effects:   nil,
		otherwise: Ignore,
	},
}

// Decide is the booking state machine. It has no side effects.
func Decide(status domain.BookingStatus, trigger Trigger) Decision {
	r, ok := rules[trigger]
	if !ok || !status.IsValid() {
		return Decision{Outcome: Reject, Next: status}
	}

	for _, from := range r.from {
		if status == from {
			return Decision{Outcome: Apply, Next: r.to, Effects: r.effects}
		}
	}

	// a synchronous command is never silently repeated
	if status == r.to && r.otherwise != Reject {
		return Decision{Outcome: Duplicate, Next: status}
	}
	return Decision{Outcome: r.otherwise, Next: status}
}
