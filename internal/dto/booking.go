package dto

import (
	"time"

	"github.com/prohmpiriya/cinehub-booking/internal/domain"
	"github.com/prohmpiriya/cinehub-booking/internal/seatlock"
)

// SeatSelection is one seat of a lock request
type SeatSelection struct {
	SeatID     string `json:"seat_id" binding:"required"`
	SeatType   string `json:"seat_type" binding:"required"`
	TicketType string `json:"ticket_type" binding:"required"`
}

// LockSeatsRequest represents request to lock seats of a showtime
type LockSeatsRequest struct {
	Seats []SeatSelection `json:"seats" binding:"required,min=1,max=10,dive"`
}

// LockSeatsResponse represents response after locking seats
type LockSeatsResponse struct {
	BookingID  string    `json:"booking_id"`
	ShowtimeID string    `json:"showtime_id"`
	SeatIDs    []string  `json:"seat_ids"`
	ExpiresAt  time.Time `json:"expires_at"`
	TTLSeconds int64     `json:"ttl_seconds"`
}

// SeatConflictDetails is returned with a 409 when a seat is held
type SeatConflictDetails struct {
	SeatID            string `json:"seat_id"`
	RetryAfterSeconds int64  `json:"retry_after_seconds"`
}

// ReleaseSeatsRequest represents request to release own seat locks
type ReleaseSeatsRequest struct {
	SeatIDs   []string `json:"seat_ids" binding:"required,min=1"`
	BookingID string   `json:"booking_id,omitempty"`
}

// ReleaseSeatsResponse represents response after releasing seats
type ReleaseSeatsResponse struct {
	ShowtimeID string `json:"showtime_id"`
	Released   int    `json:"released"`
}

// SeatStatusResponse represents the lock state of a seat
type SeatStatusResponse struct {
	SeatID              string `json:"seat_id"`
	Status              string `json:"status"`
	RemainingTTLSeconds int64  `json:"remaining_ttl_seconds,omitempty"`
	HeldByYou           bool   `json:"held_by_you"`
}

// FnbItemRequest is a requested food and beverage line
type FnbItemRequest struct {
	ItemID   string `json:"item_id" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,min=1"`
}

// FinalizeBookingRequest represents request to finalize a booking
type FinalizeBookingRequest struct {
	FnbItems  []FnbItemRequest `json:"fnb_items,omitempty" binding:"omitempty,dive"`
	PromoCode string           `json:"promo_code,omitempty"`
}

// PaymentCallbackRequest is the payment gateway's notification
type PaymentCallbackRequest struct {
	BookingID      string `json:"booking_id" binding:"required"`
	Status         string `json:"status" binding:"required,oneof=SUCCESS FAILED"`
	TransactionRef string `json:"transaction_ref" binding:"required"`
	Method         string `json:"method,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// SuspendShowtimeRequest represents an admin request to suspend a showtime
type SuspendShowtimeRequest struct {
	MovieID string `json:"movie_id,omitempty"`
	Reason  string `json:"reason" binding:"required"`
}

// BookingSeatResponse is a seat line of a booking
type BookingSeatResponse struct {
	SeatID     string `json:"seat_id"`
	SeatType   string `json:"seat_type"`
	TicketType string `json:"ticket_type"`
	Price      int64  `json:"price"`
}

// BookingFnbResponse is an F&B line of a booking
type BookingFnbResponse struct {
	ItemID     string `json:"item_id"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
	TotalPrice int64  `json:"total_price"`
}

// BookingPromotionResponse is the promotion applied to a booking
type BookingPromotionResponse struct {
	Code           string `json:"code"`
	DiscountType   string `json:"discount_type"`
	DiscountValue  int64  `json:"discount_value"`
	DiscountAmount int64  `json:"discount_amount"`
}

// BookingResponse represents a booking in API response
type BookingResponse struct {
	ID             string                    `json:"id"`
	UserID         string                    `json:"user_id"`
	ShowtimeID     string                    `json:"showtime_id"`
	Status         string                    `json:"status"`
	Seats          []BookingSeatResponse     `json:"seats"`
	FnbItems       []BookingFnbResponse      `json:"fnb_items,omitempty"`
	Promotion      *BookingPromotionResponse `json:"promotion,omitempty"`
	TotalPrice     int64                     `json:"total_price"`
	DiscountAmount int64                     `json:"discount_amount"`
	FinalPrice     int64                     `json:"final_price"`
	PaymentMethod  string                    `json:"payment_method,omitempty"`
	CreatedAt      time.Time                 `json:"created_at"`
	UpdatedAt      time.Time                 `json:"updated_at"`
}

// PaymentResponse represents a payment transaction in API response
type PaymentResponse struct {
	ID             string    `json:"id"`
	BookingID      string    `json:"booking_id"`
	Amount         int64     `json:"amount"`
	Status         string    `json:"status"`
	Method         string    `json:"method,omitempty"`
	TransactionRef string    `json:"transaction_ref,omitempty"`
	FailureReason  string    `json:"failure_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ToSeatRequests converts the request seats to domain seat requests
func (r *LockSeatsRequest) ToSeatRequests() []domain.SeatRequest {
	seats := make([]domain.SeatRequest, len(r.Seats))
	for i, s := range r.Seats {
		seats[i] = domain.SeatRequest{SeatID: s.SeatID, SeatType: s.SeatType, TicketType: s.TicketType}
	}
	return seats
}

// ToFnbSelections converts the request F&B lines to domain selections
func (r *FinalizeBookingRequest) ToFnbSelections() []domain.FnbSelection {
	if len(r.FnbItems) == 0 {
		return nil
	}
	items := make([]domain.FnbSelection, len(r.FnbItems))
	for i, item := range r.FnbItems {
		items[i] = domain.FnbSelection{ItemID: item.ItemID, Quantity: item.Quantity}
	}
	return items
}

// FromLockResult converts a lock result to API response
func FromLockResult(showtimeID string, res *seatlock.LockResult) *LockSeatsResponse {
	return &LockSeatsResponse{
		BookingID:  res.LockID,
		ShowtimeID: showtimeID,
		SeatIDs:    res.SeatIDs,
		ExpiresAt:  res.ExpiresAt,
		TTLSeconds: int64(res.TTL / time.Second),
	}
}

// FromSeatStatus converts a seat status to API response
func FromSeatStatus(s *seatlock.Status, userID string) *SeatStatusResponse {
	resp := &SeatStatusResponse{
		SeatID:    s.SeatID,
		Status:    string(s.State),
		HeldByYou: s.State == seatlock.SeatLocked && s.HolderUserID == userID,
	}
	if s.RemainingTTL > 0 {
		resp.RemainingTTLSeconds = ceilSeconds(s.RemainingTTL)
	}
	return resp
}

// FromBooking converts a domain booking to API response
func FromBooking(b *domain.Booking) *BookingResponse {
	resp := &BookingResponse{
		ID:             b.ID,
		UserID:         b.UserID,
		ShowtimeID:     b.ShowtimeID,
		Status:         string(b.Status),
		Seats:          make([]BookingSeatResponse, len(b.Seats)),
		TotalPrice:     b.TotalPrice,
		DiscountAmount: b.DiscountAmount,
		FinalPrice:     b.FinalPrice,
		PaymentMethod:  b.PaymentMethod,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
	for i, s := range b.Seats {
		resp.Seats[i] = BookingSeatResponse(s)
	}
	for _, item := range b.FnbItems {
		resp.FnbItems = append(resp.FnbItems, BookingFnbResponse(item))
	}
	if b.Promotion != nil {
		resp.Promotion = &BookingPromotionResponse{
			Code:           b.Promotion.Code,
			DiscountType:   string(b.Promotion.DiscountType),
			DiscountValue:  b.Promotion.DiscountValue,
			DiscountAmount: b.Promotion.DiscountAmount,
		}
	}
	return resp
}

// FromPayment converts a payment transaction to API response
func FromPayment(t *domain.PaymentTransaction) *PaymentResponse {
	return &PaymentResponse{
		ID:             t.ID,
		BookingID:      t.BookingID,
		Amount:         t.Amount,
		Status:         string(t.Status),
		Method:         t.Method,
		TransactionRef: t.TransactionRef,
		FailureReason:  t.FailureReason,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

// ceilSeconds rounds up so a held seat never reports zero
func ceilSeconds(d time.Duration) int64 {
	return int64((d + time.Second - 1) / time.Second)
}

// RetryAfterSeconds converts a conflict's retry hint to whole seconds
func RetryAfterSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 1
	}
	return ceilSeconds(d)
}
