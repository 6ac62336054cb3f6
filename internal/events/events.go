package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prohmpiriya/cinehub-booking/internal/domain"
)

// Topics
const (
	TopicSeatLocked             = "seat.locked"
	TopicSeatUnlocked           = "seat.unlocked"
	TopicBookingCreated         = "booking.created"
	TopicBookingSeatsMapped     = "booking.seats-mapped"
	TopicBookingFinalized       = "booking.finalized"
	TopicPaymentSuccess         = "payment.success"
	TopicPaymentFailed          = "payment.failed"
	TopicBookingStatusUpdated   = "booking.status-updated"
	TopicBookingTicketGenerated = "booking.ticket-generated"
	TopicShowtimeSuspended      = "showtime.suspended"
)

// Event types carried in the envelope
const (
	TypeSeatLocked             = "SeatLocked"
	TypeSeatUnlocked           = "SeatUnlocked"
	TypeBookingCreated         = "BookingCreated"
	TypeBookingSeatsMapped     = "BookingSeatsMapped"
	TypeBookingFinalized       = "BookingFinalized"
	TypePaymentSuccess         = "PaymentSuccess"
	TypePaymentFailed          = "PaymentFailed"
	TypeBookingStatusUpdated   = "BookingStatusUpdated"
	TypeBookingTicketGenerated = "BookingTicketGenerated"
	TypeShowtimeSuspended      = "ShowtimeSuspended"
)

// EnvelopeVersion is the current envelope schema version
const EnvelopeVersion = 1

// Envelope wraps every message on the bus
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Version    int             `json:"version"`
	Data       json.RawMessage `json:"data"`
}

// Event is implemented by every payload
type Event interface {
	Topic() string
	Type() string
	Key() string
}

// Wrap builds an envelope with a fresh event id
func Wrap(e Event, now time.Time) (*Envelope, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", e.Type(), err)
	}
	return &Envelope{
		EventID:    uuid.New().String(),
		EventType:  e.Type(),
		OccurredAt: now.UTC(),
		Version:    EnvelopeVersion,
		Data:       data,
	}, nil
}

// Unwrap parses an envelope off the wire
func Unwrap(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if env.EventType == "" || len(env.Data) == 0 {
		return nil, fmt.Errorf("invalid envelope: missing event_type or data")
	}
	return &env, nil
}

// Decode unmarshals the envelope data into v
func (e *Envelope) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", e.EventType, err)
	}
	return nil
}

// SeatUnlockReason explains why locks were released
type SeatUnlockReason string

const (
	UnlockReasonCancelled SeatUnlockReason = "CANCELLED"
	UnlockReasonExpired   SeatUnlockReason = "EXPIRED"
	UnlockReasonConflict  SeatUnlockReason = "CONFLICT"
	// UnlockReasonBooked drops the locks of a confirmed booking; the seats
	// are sold, not available again
	UnlockReasonBooked SeatUnlockReason = "BOOKED"
)

// SeatLocked is published once per successful multi-seat lock
type SeatLocked struct {
	LockID      string   `json:"lock_id"`
	UserID      string   `json:"user_id"`
	ShowtimeID  string   `json:"showtime_id"`
	SeatIDs     []string `json:"seat_ids"`
	SeatTypes   []string `json:"seat_types"`
	TicketTypes []string `json:"ticket_types"`
	TTLSeconds  int64    `json:"ttl_seconds"`
}

func (SeatLocked) Topic() string { return TopicSeatLocked }
func (SeatLocked) Type() string  { return TypeSeatLocked }
func (e SeatLocked) Key() string { return e.LockID }

// SeatUnlocked is published when locks are released
type SeatUnlocked struct {
	ShowtimeID string           `json:"showtime_id"`
	BookingID  string           `json:"booking_id,omitempty"`
	SeatIDs    []string         `json:"seat_ids"`
	Reason     SeatUnlockReason `json:"reason"`
}

func (SeatUnlocked) Topic() string { return TopicSeatUnlocked }
func (SeatUnlocked) Type() string  { return TypeSeatUnlocked }
func (e SeatUnlocked) Key() string { return e.ShowtimeID }

// BookingCreated opens the payment ledger entry
type BookingCreated struct {
	BookingID  string   `json:"booking_id"`
	UserID     string   `json:"user_id"`
	ShowtimeID string   `json:"showtime_id"`
	SeatIDs    []string `json:"seat_ids"`
	TotalPrice int64    `json:"total_price"`
}

func (BookingCreated) Topic() string { return TopicBookingCreated }
func (BookingCreated) Type() string  { return TypeBookingCreated }
func (e BookingCreated) Key() string { return e.BookingID }

// BookingSeatsMapped feeds the showtime inventory projection
type BookingSeatsMapped struct {
	BookingID  string   `json:"booking_id"`
	ShowtimeID string   `json:"showtime_id"`
	UserID     string   `json:"user_id"`
	SeatIDs    []string `json:"seat_ids"`
}

func (BookingSeatsMapped) Topic() string { return TopicBookingSeatsMapped }
func (BookingSeatsMapped) Type() string  { return TypeBookingSeatsMapped }
func (e BookingSeatsMapped) Key() string { return e.BookingID }

// BookingFinalized carries the payable amount after F&B and discounts
type BookingFinalized struct {
	BookingID  string `json:"booking_id"`
	UserID     string `json:"user_id"`
	ShowtimeID string `json:"showtime_id"`
	FinalPrice int64  `json:"final_price"`
}

func (BookingFinalized) Topic() string { return TopicBookingFinalized }
func (BookingFinalized) Type() string  { return TypeBookingFinalized }
func (e BookingFinalized) Key() string { return e.BookingID }

// PaymentSuccess is emitted by the ledger after a successful callback
type PaymentSuccess struct {
	PaymentID string `json:"payment_id"`
	BookingID string `json:"booking_id"`
	UserID    string `json:"user_id"`
	Amount    int64  `json:"amount"`
	Method    string `json:"method"`
}

func (PaymentSuccess) Topic() string { return TopicPaymentSuccess }
func (PaymentSuccess) Type() string  { return TypePaymentSuccess }
func (e PaymentSuccess) Key() string { return e.BookingID }

// PaymentFailed is emitted by the ledger after a failed callback
type PaymentFailed struct {
	BookingID string `json:"booking_id"`
	Reason    string `json:"reason"`
}

func (PaymentFailed) Topic() string { return TopicPaymentFailed }
func (PaymentFailed) Type() string  { return TypePaymentFailed }
func (e PaymentFailed) Key() string { return e.BookingID }

// BookingStatusUpdated announces every status change
type BookingStatusUpdated struct {
	BookingID  string               `json:"booking_id"`
	ShowtimeID string               `json:"showtime_id"`
	UserID     string               `json:"user_id"`
	SeatIDs    []string             `json:"seat_ids"`
	NewStatus  domain.BookingStatus `json:"new_status"`
	OldStatus  domain.BookingStatus `json:"old_status"`
}

func (BookingStatusUpdated) Topic() string { return TopicBookingStatusUpdated }
func (BookingStatusUpdated) Type() string  { return TypeBookingStatusUpdated }
func (e BookingStatusUpdated) Key() string { return e.BookingID }

// TicketFnbLine is an F&B line of a ticket receipt
type TicketFnbLine struct {
	ItemID     string `json:"item_id"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	TotalPrice int64  `json:"total_price"`
}

// TicketSeat is a seat line of a ticket receipt
type TicketSeat struct {
	SeatID     string `json:"seat_id"`
	SeatNumber string `json:"seat_number"`
	SeatType   string `json:"seat_type"`
	TicketType string `json:"ticket_type"`
	Price      int64  `json:"price"`
}

// BookingTicketGenerated is the denormalized receipt of a confirmed booking
type BookingTicketGenerated struct {
	BookingID      string          `json:"booking_id"`
	UserID         string          `json:"user_id"`
	UserEmail      string          `json:"user_email,omitempty"`
	UserRank       string          `json:"user_rank,omitempty"`
	ShowtimeID     string          `json:"showtime_id"`
	MovieID        string          `json:"movie_id,omitempty"`
	MovieTitle     string          `json:"movie_title"`
	TheaterName    string          `json:"theater_name"`
	RoomName       string          `json:"room_name"`
	StartTime      time.Time       `json:"start_time"`
	Seats          []TicketSeat    `json:"seats"`
	FnbItems       []TicketFnbLine `json:"fnb_items,omitempty"`
	PromotionCode  string          `json:"promotion_code,omitempty"`
	TotalPrice     int64           `json:"total_price"`
	DiscountAmount int64           `json:"discount_amount"`
	FinalPrice     int64           `json:"final_price"`
	PaymentMethod  string          `json:"payment_method"`
}

func (BookingTicketGenerated) Topic() string { return TopicBookingTicketGenerated }
func (BookingTicketGenerated) Type() string  { return TypeBookingTicketGenerated }
func (e BookingTicketGenerated) Key() string { return e.BookingID }

// ShowtimeSuspended cancels every open booking of a showtime
type ShowtimeSuspended struct {
	ShowtimeID string `json:"showtime_id"`
	MovieID    string `json:"movie_id,omitempty"`
	Reason     string `json:"reason"`
}

func (ShowtimeSuspended) Topic() string { return TopicShowtimeSuspended }
func (ShowtimeSuspended) Type() string  { return TypeShowtimeSuspended }
func (e ShowtimeSuspended) Key() string { return e.ShowtimeID }

// NewStatusUpdated builds a status event from a booking
func NewStatusUpdated(b *domain.Booking, old domain.BookingStatus) BookingStatusUpdated {
	return BookingStatusUpdated{
		BookingID:  b.ID,
		ShowtimeID: b.ShowtimeID,
		UserID:     b.UserID,
		SeatIDs:    b.SeatIDs(),
		NewStatus:  b.Status,
		OldStatus:  old,
	}
}
