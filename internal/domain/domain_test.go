package domain

import (
	"fmt"
	"testing"
	"time"
)

func TestNewBooking(t *testing.T) {
	now := time.Now()
	seats := []BookingSeat{
		{SeatID: "S1", SeatType: "STANDARD", TicketType: "ADULT", Price: 100000},
		{SeatID: "S2", SeatType: "STANDARD", TicketType: "ADULT", Price: 100000},
	}

	tests := []struct {
		name       string
		id         string
		userID     string
		showtimeID string
		seats      []BookingSeat
		wantErr    error
	}{
		{"valid booking", "b-1", "u-1", "st-1", seats, nil},
		{"missing id", "", "u-1", "st-1", seats, ErrInvalidBookingID},
		{"missing user", "b-1", "", "st-1", seats, ErrInvalidUserID},
		{"missing showtime", "b-1", "u-1", "", seats, ErrInvalidShowtimeID},
		{"no seats", "b-1", "u-1", "st-1", nil, ErrNoSeats},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewBooking(tt.id, tt.userID, tt.showtimeID, tt.seats, now)
			if err != tt.wantErr {
				t.Fatalf("NewBooking() error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if b.Status != BookingStatusPending {
				t.Errorf("Status = %s, want PENDING", b.Status)
			}
			if b.TotalPrice != 200000 || b.FinalPrice != 200000 {
				t.Errorf("TotalPrice/FinalPrice = %d/%d, want 200000/200000", b.TotalPrice, b.FinalPrice)
			}
		})
	}
}

func TestBooking_ApplyPricingKeepsInvariants(t *testing.T) {
	b, _ := NewBooking("b-1", "u-1", "st-1", []BookingSeat{{SeatID: "S1", Price: 120000}}, time.Now())
	fnb := []BookingFnbItem{{ItemID: "popcorn", Quantity: 2, UnitPrice: 40000, TotalPrice: 80000}}

	b.ApplyPricing(fnb, &BookingPromotion{Code: "BIG"}, 500000)

	if b.TotalPrice != b.SeatTotal()+b.FnbTotal() {
		t.Errorf("TotalPrice %d != seats+fnb %d", b.TotalPrice, b.SeatTotal()+b.FnbTotal())
	}
	if b.DiscountAmount != 200000 {
		t.Errorf("DiscountAmount = %d, want capped 200000", b.DiscountAmount)
	}
	if b.FinalPrice != 0 {
		t.Errorf("FinalPrice = %d, want 0", b.FinalPrice)
	}

	b.ClearExtras()
	if b.Promotion != nil || len(b.FnbItems) != 0 || b.DiscountAmount != 0 {
		t.Error("ClearExtras() should drop promotion, fnb and discount")
	}
	if b.TotalPrice != 120000 || b.FinalPrice != 120000 {
		t.Errorf("after ClearExtras TotalPrice/FinalPrice = %d/%d", b.TotalPrice, b.FinalPrice)
	}
}

func TestCalculateDiscount(t *testing.T) {
	tests := []struct {
		typ   DiscountType
		value int64
		total int64
		want  int64
	}{
		{DiscountTypePercentage, 10, 200000, 20000},
		{DiscountTypePercentage, 150, 200000, 200000},
		{DiscountTypeFixedAmount, 50000, 200000, 50000},
		{DiscountTypeFixedAmount, 300000, 200000, 200000},
		{DiscountTypeFixedAmount, -1, 200000, 0},
		{"UNKNOWN", 10, 200000, 0},
		{DiscountTypePercentage, 10, 0, 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%d_%d", tt.typ, tt.value, tt.total), func(t *testing.T) {
			if got := CalculateDiscount(tt.typ, tt.value, tt.total); got != tt.want {
				t.Errorf("CalculateDiscount() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFinalPriceNeverNegative(t *testing.T) {
	for _, total := range []int64{0, 1, 1000, 200000} {
		for _, discount := range []int64{0, 1, 999, 200000, 400000} {
			got := FinalPrice(total, discount)
			want := total - discount
			if want < 0 {
				want = 0
			}
			if got != want {
				t.Errorf("FinalPrice(%d, %d) = %d, want %d", total, discount, got, want)
			}
		}
	}
}

func TestBookingStatus(t *testing.T) {
	terminal := map[BookingStatus]bool{
		BookingStatusPending:         false,
		BookingStatusAwaitingPayment: false,
		BookingStatusConfirmed:       true,
		BookingStatusCancelled:       true,
		BookingStatusExpired:         true,
		BookingStatusRefunded:        true,
	}
	for status, want := range terminal {
		if status.IsTerminal() != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, !want, want)
		}
		if !status.IsValid() {
			t.Errorf("%s should be valid", status)
		}
	}
	if BookingStatus("BOGUS").IsValid() {
		t.Error("unknown status should be invalid")
	}
	if BookingStatusConfirmed.ReleasesPromotion() {
		t.Error("CONFIRMED keeps its promotion")
	}
	if !BookingStatusRefunded.ReleasesPromotion() {
		t.Error("REFUNDED releases its promotion")
	}
}

func TestPaymentTransaction_Transitions(t *testing.T) {
	now := time.Now()
	tx, err := NewPaymentTransaction("b-1", "u-1", 180000, now)
	if err != nil {
		t.Fatalf("NewPaymentTransaction() error = %v", err)
	}
	if !tx.IsPending() {
		t.Fatal("new transaction should be PENDING")
	}

	if err := tx.Succeed("ref-1", "CARD", now); err != nil {
		t.Fatalf("Succeed() error = %v", err)
	}
	if tx.Status != TransactionStatusSuccess || tx.TransactionRef != "ref-1" || tx.Method != "CARD" {
		t.Errorf("unexpected transaction after Succeed: %+v", tx)
	}

	if err := tx.Succeed("ref-2", "", now); err != ErrTransactionNotPending {
		t.Errorf("second Succeed() error = %v, want ErrTransactionNotPending", err)
	}
	if err := tx.Fail("ref-2", "declined", now); err != ErrTransactionNotPending {
		t.Errorf("Fail() after success error = %v, want ErrTransactionNotPending", err)
	}

	if _, err := NewPaymentTransaction("b-1", "u-1", -1, now); err != ErrInvalidAmount {
		t.Errorf("negative amount error = %v, want ErrInvalidAmount", err)
	}
}

func TestErrorClassifiers(t *testing.T) {
	wrapped := fmt.Errorf("finalize: %w", ErrPromotionAlreadyUsed)

	if !IsConflict(wrapped) {
		t.Error("wrapped ErrPromotionAlreadyUsed should be a conflict")
	}
	if !IsNotFound(fmt.Errorf("load: %w", ErrBookingNotFound)) {
		t.Error("ErrBookingNotFound should be not found")
	}
	if !IsDependencyUnavailable(ErrConcurrentUpdate) || !IsDependencyUnavailable(ErrDependencyUnavailable) {
		t.Error("concurrent update and dependency errors should be transient")
	}
	if IsDependencyUnavailable(ErrSeatLocked) {
		t.Error("seat locked is not transient")
	}
	if !IsInvariantViolation(ErrIllegalTransition) {
		t.Error("ErrIllegalTransition should be an invariant violation")
	}
	if !IsValidation(ErrNoSeats) || IsValidation(ErrBookingNotFound) {
		t.Error("validation classifier mismatch")
	}
}
