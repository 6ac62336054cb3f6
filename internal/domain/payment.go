package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionStatus represents the state of a payment transaction
type TransactionStatus string

const (
	TransactionStatusPending TransactionStatus = "PENDING"
	TransactionStatusSuccess TransactionStatus = "SUCCESS"
	TransactionStatusFailed  TransactionStatus = "FAILED"
)

// PaymentTransaction is the single payment record of a booking
type PaymentTransaction struct {
	ID             string            `json:"id"`
	BookingID      string            `json:"booking_id"`
	UserID         string            `json:"user_id"`
	Amount         int64             `json:"amount"`
	Method         string            `json:"method,omitempty"`
	Status         TransactionStatus `json:"status"`
	TransactionRef string            `json:"transaction_ref,omitempty"`
	FailureReason  string            `json:"failure_reason,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// NewPaymentTransaction creates a PENDING transaction for a booking
func NewPaymentTransaction(bookingID, userID string, amount int64, now time.Time) (*PaymentTransaction, error) {
	if bookingID == "" {
		return nil, ErrInvalidBookingID
	}
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	if amount < 0 {
		return nil, ErrInvalidAmount
	}
	return &PaymentTransaction{
		ID:        uuid.New().String(),
		BookingID: bookingID,
		UserID:    userID,
		Amount:    amount,
		Status:    TransactionStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// IsPending reports whether the transaction can still transition
func (t *PaymentTransaction) IsPending() bool {
	return t.Status == TransactionStatusPending
}

// Succeed moves a PENDING transaction to SUCCESS
func (t *PaymentTransaction) Succeed(ref, method string, now time.Time) error {
	if !t.IsPending() {
		return ErrTransactionNotPending
	}
	t.Status = TransactionStatusSuccess
	t.TransactionRef = ref
	if method != "" {
		t.Method = method
	}
	t.UpdatedAt = now
	return nil
}

// Fail moves a PENDING transaction to FAILED
func (t *PaymentTransaction) Fail(ref, reason string, now time.Time) error {
	if !t.IsPending() {
		return ErrTransactionNotPending
	}
	t.Status = TransactionStatusFailed
	t.TransactionRef = ref
	t.FailureReason = reason
	t.UpdatedAt = now
	return nil
}

// UsedPromotion records a one-time promo code consumed by a user
type UsedPromotion struct {
	UserID        string    `json:"user_id"`
	PromotionCode string    `json:"promotion_code"`
	BookingID     string    `json:"booking_id"`
	UsedAt        time.Time `json:"used_at"`
}
