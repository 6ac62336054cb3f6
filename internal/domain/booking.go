package domain

import (
	"time"
)

// BookingStatus represents the lifecycle state of a booking
type BookingStatus string

const (
	BookingStatusPending         BookingStatus = "PENDING"
	BookingStatusAwaitingPayment BookingStatus = "AWAITING_PAYMENT"
	BookingStatusConfirmed       BookingStatus = "CONFIRMED"
	BookingStatusCancelled       BookingStatus = "CANCELLED"
	BookingStatusExpired         BookingStatus = "EXPIRED"
	BookingStatusRefunded        BookingStatus = "REFUNDED"
)

// IsTerminal reports whether no further saga transition leaves this state
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingStatusConfirmed, BookingStatusCancelled, BookingStatusExpired, BookingStatusRefunded:
		return true
	}
	return false
}

// IsValid reports whether s is a known status
func (s BookingStatus) IsValid() bool {
	switch s {
	case BookingStatusPending, BookingStatusAwaitingPayment,
		BookingStatusConfirmed, BookingStatusCancelled,
		BookingStatusExpired, BookingStatusRefunded:
		return true
	}
	return false
}

// ReleasesPromotion reports whether a booking in this state gives its promo code back
func (s BookingStatus) ReleasesPromotion() bool {
	return s == BookingStatusCancelled || s == BookingStatusExpired || s == BookingStatusRefunded
}

// BookingSeat is a priced seat of a booking. Seats never change after creation.
type BookingSeat struct {
	SeatID     string `json:"seat_id"`
	SeatType   string `json:"seat_type"`
	TicketType string `json:"ticket_type"`
	Price      int64  `json:"price"`
}

// DiscountType is how a promotion computes its discount
type DiscountType string

const (
	DiscountTypePercentage  DiscountType = "PERCENTAGE"
	DiscountTypeFixedAmount DiscountType = "FIXED_AMOUNT"
)

// BookingPromotion is the promotion applied to a booking at finalize
type BookingPromotion struct {
	Code           string       `json:"code"`
	DiscountType   DiscountType `json:"discount_type"`
	DiscountValue  int64        `json:"discount_value"`
	DiscountAmount int64        `json:"discount_amount"`
}

// BookingFnbItem is a food and beverage line of a booking
type BookingFnbItem struct {
	ItemID     string `json:"item_id"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
	TotalPrice int64  `json:"total_price"`
}

// Booking is the saga aggregate
type Booking struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	ShowtimeID     string            `json:"showtime_id"`
	Status         BookingStatus     `json:"status"`
	TotalPrice     int64             `json:"total_price"`
	DiscountAmount int64             `json:"discount_amount"`
	FinalPrice     int64             `json:"final_price"`
	PaymentMethod  string            `json:"payment_method,omitempty"`
	PaymentID      string            `json:"payment_id,omitempty"`
	Seats          []BookingSeat     `json:"seats"`
	Promotion      *BookingPromotion `json:"promotion,omitempty"`
	FnbItems       []BookingFnbItem  `json:"fnb_items,omitempty"`
	Version        int               `json:"version"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// NewBooking creates a PENDING booking from priced seats
func NewBooking(id, userID, showtimeID string, seats []BookingSeat, now time.Time) (*Booking, error) {
	if id == "" {
		return nil, ErrInvalidBookingID
	}
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	if showtimeID == "" {
		return nil, ErrInvalidShowtimeID
	}
	if len(seats) == 0 {
		return nil, ErrNoSeats
	}

	b := &Booking{
		ID:         id,
		UserID:     userID,
		ShowtimeID: showtimeID,
		Status:     BookingStatusPending,
		Seats:      append([]BookingSeat(nil), seats...),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	b.TotalPrice = b.SeatTotal()
	b.FinalPrice = b.TotalPrice
	return b, nil
}

// SeatTotal sums the seat prices
func (b *Booking) SeatTotal() int64 {
	var total int64
	for _, s := range b.Seats {
		total += s.Price
	}
	return total
}

// FnbTotal sums the food and beverage lines
func (b *Booking) FnbTotal() int64 {
	var total int64
	for _, item := range b.FnbItems {
		total += item.TotalPrice
	}
	return total
}

// SeatIDs returns the ids of the booked seats in booking order
func (b *Booking) SeatIDs() []string {
	ids := make([]string, len(b.Seats))
	for i, s := range b.Seats {
		ids[i] = s.SeatID
	}
	return ids
}

// ApplyPricing sets fnb lines and discount and recomputes the price totals
func (b *Booking) ApplyPricing(fnb []BookingFnbItem, promo *BookingPromotion, discount int64) {
	b.FnbItems = fnb
	b.Promotion = promo
	b.TotalPrice = b.SeatTotal() + b.FnbTotal()
	b.DiscountAmount = CapDiscount(discount, b.TotalPrice)
	b.FinalPrice = FinalPrice(b.TotalPrice, b.DiscountAmount)
}

// ClearExtras drops fnb, promotion and discount, leaving the seat-only price
func (b *Booking) ClearExtras() {
	b.ApplyPricing(nil, nil, 0)
}

// Clone returns a deep copy
func (b *Booking) Clone() *Booking {
	c := *b
	c.Seats = append([]BookingSeat(nil), b.Seats...)
	if b.FnbItems != nil {
		c.FnbItems = append([]BookingFnbItem(nil), b.FnbItems...)
	}
	if b.Promotion != nil {
		p := *b.Promotion
		c.Promotion = &p
	}
	return &c
}

// SeatRequest is one seat of a lock request
type SeatRequest struct {
	SeatID     string `json:"seat_id"`
	SeatType   string `json:"seat_type"`
	TicketType string `json:"ticket_type"`
}

// FnbSelection is a requested food and beverage item
type FnbSelection struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}
