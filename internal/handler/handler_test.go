package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prohmpiriya/cinehub-booking/internal/domain"
	"github.com/prohmpiriya/cinehub-booking/internal/events"
	"github.com/prohmpiriya/cinehub-booking/internal/publisher"
	"github.com/prohmpiriya/cinehub-booking/internal/saga"
	"github.com/prohmpiriya/cinehub-booking/internal/seatlock"
	"github.com/prohmpiriya/cinehub-booking/pkg/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockSeatService is a mock implementation of SeatService for testing
type MockSeatService struct {
	LockSeatsFunc    func(ctx context.Context, req seatlock.LockRequest) (*seatlock.LockResult, error)
	ReleaseSeatsFunc func(ctx context.Context, req seatlock.ReleaseRequest) (int, error)
	SeatStatusFunc   func(ctx context.Context, showtimeID, seatID string) (*seatlock.Status, error)
}

func (m *MockSeatService) LockSeats(ctx context.Context, req seatlock.LockRequest) (*seatlock.LockResult, error) {
	if m.LockSeatsFunc != nil {
		return m.LockSeatsFunc(ctx, req)
	}
	return nil, nil
}

func (m *MockSeatService) ReleaseSeats(ctx context.Context, req seatlock.ReleaseRequest) (int, error) {
	if m.ReleaseSeatsFunc != nil {
		return m.ReleaseSeatsFunc(ctx, req)
	}
	return 0, nil
}

func (m *MockSeatService) SeatStatus(ctx context.Context, showtimeID, seatID string) (*seatlock.Status, error) {
	if m.SeatStatusFunc != nil {
		return m.SeatStatusFunc(ctx, showtimeID, seatID)
	}
	return nil, nil
}

// MockBookingService is a mock implementation of BookingService for testing
type MockBookingService struct {
	GetBookingFunc func(ctx context.Context, bookingID string) (*domain.Booking, error)
	FinalizeFunc   func(ctx context.Context, req saga.FinalizeRequest) (*domain.Booking, error)
}

func (m *MockBookingService) GetBooking(ctx context.Context, bookingID string) (*domain.Booking, error) {
	if m.GetBookingFunc != nil {
		return m.GetBookingFunc(ctx, bookingID)
	}
	return nil, domain.ErrBookingNotFound
}

func (m *MockBookingService) Finalize(ctx context.Context, req saga.FinalizeRequest) (*domain.Booking, error) {
	if m.FinalizeFunc != nil {
		return m.FinalizeFunc(ctx, req)
	}
	return nil, nil
}

// MockPayments is a mock implementation of PaymentQuery and PaymentProcessor for testing
type MockPayments struct {
	GetByBookingIDFunc func(ctx context.Context, bookingID string) (*domain.PaymentTransaction, error)
	ProcessSuccessFunc func(ctx context.Context, bookingID, ref, method string) (*domain.PaymentTransaction, error)
	ProcessFailureFunc func(ctx context.Context, bookingID, ref, reason string) (*domain.PaymentTransaction, error)
}

func (m *MockPayments) GetByBookingID(ctx context.Context, bookingID string) (*domain.PaymentTransaction, error) {
	if m.GetByBookingIDFunc != nil {
		return m.GetByBookingIDFunc(ctx, bookingID)
	}
	return nil, domain.ErrTransactionNotFound
}

func (m *MockPayments) ProcessSuccess(ctx context.Context, bookingID, ref, method string) (*domain.PaymentTransaction, error) {
	if m.ProcessSuccessFunc != nil {
		return m.ProcessSuccessFunc(ctx, bookingID, ref, method)
	}
	return nil, nil
}

func (m *MockPayments) ProcessFailure(ctx context.Context, bookingID, ref, reason string) (*domain.PaymentTransaction, error) {
	if m.ProcessFailureFunc != nil {
		return m.ProcessFailureFunc(ctx, bookingID, ref, reason)
	}
	return nil, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	env := decode(t, w)
	if env.Error == nil {
		return ""
	}
	return env.Error.Code
}

func setupTestRouterWithAuth(h *Handlers, userID string) *gin.Engine {
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if userID != "" {
			c.Set(middleware.ContextKeyUserID, userID)
		}
		c.Next()
	})

	router.POST("/showtimes/:showtimeId/locks", h.Seat.LockSeats)
	router.DELETE("/showtimes/:showtimeId/locks", h.Seat.ReleaseSeats)
	router.GET("/showtimes/:showtimeId/seats/:seatId", h.Seat.GetSeatStatus)
	router.GET("/bookings/:id", h.Booking.GetBooking)
	router.POST("/bookings/:id/finalize", h.Booking.Finalize)
	router.GET("/bookings/:id/payment", h.Booking.GetPayment)
	router.POST("/payments/callback", h.Payment.Callback)
	router.POST("/admin/showtimes/:showtimeId/suspend", h.Admin.SuspendShowtime)
	return router
}

func newHandlers(seats *MockSeatService, bookings *MockBookingService, payments *MockPayments, pub publisher.Publisher) *Handlers {
	if pub == nil {
		pub = publisher.NoOp{}
	}
	return &Handlers{
		Seat:    NewSeatHandler(seats),
		Booking: NewBookingHandler(bookings, payments),
		Payment: NewPaymentHandler(payments),
		Admin:   NewAdminHandler(pub),
		Health:  NewHealthHandler(nil),
	}
}

func doJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

var lockBody = map[string]interface{}{
	"seats": []map[string]string{
		{"seat_id": "A1", "seat_type": "STANDARD", "ticket_type": "ADULT"},
		{"seat_id": "A2", "seat_type": "STANDARD", "ticket_type": "ADULT"},
	},
}

func TestSeatHandler_LockSeats(t *testing.T) {
	expires := time.Date(2026, 5, 1, 18, 0, 10, 0, time.UTC)

	tests := []struct {
		name           string
		userID         string
		body           interface{}
		lockFunc       func(ctx context.Context, req seatlock.LockRequest) (*seatlock.LockResult, error)
		expectedStatus int
		expectedCode   string
	}{
		{
			name:   "locked",
			userID: "user-1",
			body:   lockBody,
			lockFunc: func(ctx context.Context, req seatlock.LockRequest) (*seatlock.LockResult, error) {
				return &seatlock.LockResult{LockID: "b-1", SeatIDs: []string{"A1", "A2"}, ExpiresAt: expires, TTL: 10 * time.Second}, nil
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "unauthorized",
			body:           lockBody,
			expectedStatus: http.StatusUnauthorized,
			expectedCode:   "UNAUTHORIZED",
		},
		{
			name:           "no seats",
			userID:         "user-1",
			body:           map[string]interface{}{"seats": []interface{}{}},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "BAD_REQUEST",
		},
		{
			name:   "seat held by someone else",
			userID: "user-1",
			body:   lockBody,
			lockFunc: func(ctx context.Context, req seatlock.LockRequest) (*seatlock.LockResult, error) {
				return nil, fmt.Errorf("failed to lock seats: %w", &seatlock.ConflictError{SeatID: "A2", RetryAfter: 3500 * time.Millisecond})
			},
			expectedStatus: http.StatusConflict,
			expectedCode:   "SEAT_LOCKED",
		},
		{
			name:   "store down",
			userID: "user-1",
			body:   lockBody,
			lockFunc: func(ctx context.Context, req seatlock.LockRequest) (*seatlock.LockResult, error) {
				return nil, domain.ErrDependencyUnavailable
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedCode:   "DEPENDENCY_UNAVAILABLE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seats := &MockSeatService{LockSeatsFunc: tt.lockFunc}
			router := setupTestRouterWithAuth(newHandlers(seats, &MockBookingService{}, &MockPayments{}, nil), tt.userID)

			w := doJSON(router, http.MethodPost, "/showtimes/st-1/locks", tt.body)

			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if tt.expectedCode != "" {
				assert.Equal(t, tt.expectedCode, errorCode(t, w))
			}
		})
	}
}

func TestSeatHandler_LockSeats_PassesRequest(t *testing.T) {
	var got seatlock.LockRequest
	seats := &MockSeatService{LockSeatsFunc: func(ctx context.Context, req seatlock.LockRequest) (*seatlock.LockResult, error) {
		got = req
		return &seatlock.LockResult{LockID: "b-1", SeatIDs: []string{"A1", "A2"}, TTL: 10 * time.Second}, nil
	}}
	router := setupTestRouterWithAuth(newHandlers(seats, &MockBookingService{}, &MockPayments{}, nil), "user-1")

	w := doJSON(router, http.MethodPost, "/showtimes/st-1/locks", lockBody)
	require.Equal(t, http.StatusCreated, w.Code)

	assert.Equal(t, "st-1", got.ShowtimeID)
	assert.Equal(t, "user-1", got.UserID)
	require.Len(t, got.Seats, 2)
	assert.Equal(t, domain.SeatRequest{SeatID: "A1", SeatType: "STANDARD", TicketType: "ADULT"}, got.Seats[0])

	var data struct {
		BookingID  string   `json:"booking_id"`
		SeatIDs    []string `json:"seat_ids"`
		TTLSeconds int64    `json:"ttl_seconds"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &data))
	assert.Equal(t, "b-1", data.BookingID)
	assert.Equal(t, []string{"A1", "A2"}, data.SeatIDs)
	assert.Equal(t, int64(10), data.TTLSeconds)
}

func TestSeatHandler_ConflictCarriesRetryAfter(t *testing.T) {
	seats := &MockSeatService{LockSeatsFunc: func(ctx context.Context, req seatlock.LockRequest) (*seatlock.LockResult, error) {
		return nil, &seatlock.ConflictError{SeatID: "A2", RetryAfter: 3500 * time.Millisecond}
	}}
	router := setupTestRouterWithAuth(newHandlers(seats, &MockBookingService{}, &MockPayments{}, nil), "user-1")

	w := doJSON(router, http.MethodPost, "/showtimes/st-1/locks", lockBody)
	require.Equal(t, http.StatusConflict, w.Code)

	var details struct {
		SeatID            string `json:"seat_id"`
		RetryAfterSeconds int64  `json:"retry_after_seconds"`
	}
	env := decode(t, w)
	require.NotNil(t, env.Error)
	require.NoError(t, json.Unmarshal(env.Error.Details, &details))
	assert.Equal(t, "A2", details.SeatID)
	assert.Equal(t, int64(4), details.RetryAfterSeconds)
}

func TestSeatHandler_ReleaseSeats_OnlyOwnLocks(t *testing.T) {
	var got seatlock.ReleaseRequest
	seats := &MockSeatService{ReleaseSeatsFunc: func(ctx context.Context, req seatlock.ReleaseRequest) (int, error) {
		got = req
		return 1, nil
	}}
	router := setupTestRouterWithAuth(newHandlers(seats, &MockBookingService{}, &MockPayments{}, nil), "user-1")

	w := doJSON(router, http.MethodDelete, "/showtimes/st-1/locks", map[string]interface{}{
		"seat_ids":   []string{"A1", "A2"},
		"booking_id": "b-1",
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, seatlock.Holder{UserID: "user-1", LockID: "b-1"}, got.Holder)
	assert.Equal(t, events.UnlockReasonCancelled, got.Reason)
	assert.Equal(t, []string{"A1", "A2"}, got.SeatIDs)
	assert.Contains(t, w.Body.String(), `"released":1`)
}

func TestSeatHandler_GetSeatStatus(t *testing.T) {
	seats := &MockSeatService{SeatStatusFunc: func(ctx context.Context, showtimeID, seatID string) (*seatlock.Status, error) {
		return &seatlock.Status{SeatID: seatID, State: seatlock.SeatLocked, RemainingTTL: 2300 * time.Millisecond, HolderUserID: "user-1"}, nil
	}}
	h := newHandlers(seats, &MockBookingService{}, &MockPayments{}, nil)

	mine := doJSON(setupTestRouterWithAuth(h, "user-1"), http.MethodGet, "/showtimes/st-1/seats/A1", nil)
	require.Equal(t, http.StatusOK, mine.Code)
	assert.Contains(t, mine.Body.String(), `"held_by_you":true`)
	assert.Contains(t, mine.Body.String(), `"remaining_ttl_seconds":3`)

	theirs := doJSON(setupTestRouterWithAuth(h, "user-2"), http.MethodGet, "/showtimes/st-1/seats/A1", nil)
	require.Equal(t, http.StatusOK, theirs.Code)
	assert.Contains(t, theirs.Body.String(), `"held_by_you":false`)
}

func ownedBooking(id, userID string) *domain.Booking {
	return &domain.Booking{
		ID:         id,
		UserID:     userID,
		ShowtimeID: "st-1",
		Status:     domain.BookingStatusPending,
		Seats:      []domain.BookingSeat{{SeatID: "A1", SeatType: "STANDARD", TicketType: "ADULT", Price: 100000}},
		TotalPrice: 100000,
		FinalPrice: 100000,
	}
}

func TestBookingHandler_GetBooking(t *testing.T) {
	bookings := &MockBookingService{GetBookingFunc: func(ctx context.Context, bookingID string) (*domain.Booking, error) {
		if bookingID != "b-1" {
			return nil, domain.ErrBookingNotFound
		}
		return ownedBooking("b-1", "user-1"), nil
	}}
	h := newHandlers(&MockSeatService{}, bookings, &MockPayments{}, nil)

	tests := []struct {
		name           string
		userID         string
		path           string
		expectedStatus int
	}{
		{"owner", "user-1", "/bookings/b-1", http.StatusOK},
		{"other user", "user-2", "/bookings/b-1", http.StatusNotFound},
		{"missing", "user-1", "/bookings/nope", http.StatusNotFound},
		{"unauthorized", "", "/bookings/b-1", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(setupTestRouterWithAuth(h, tt.userID), http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
		})
	}
}

func TestBookingHandler_Finalize(t *testing.T) {
	tests := []struct {
		name           string
		body           interface{}
		err            error
		expectedStatus int
		expectedCode   string
	}{
		{"no extras", nil, nil, http.StatusOK, ""},
		{"with promotion", map[string]interface{}{"promo_code": "SAVE10", "fnb_items": []map[string]interface{}{{"item_id": "popcorn", "quantity": 2}}}, nil, http.StatusOK, ""},
		{"bad quantity", map[string]interface{}{"fnb_items": []map[string]interface{}{{"item_id": "popcorn", "quantity": 0}}}, nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"promotion used", map[string]interface{}{"promo_code": "SAVE10"}, domain.ErrPromotionAlreadyUsed, http.StatusConflict, "PROMOTION_ALREADY_USED"},
		{"promotion invalid", map[string]interface{}{"promo_code": "NOPE"}, domain.ErrPromotionInvalid, http.StatusUnprocessableEntity, "PROMOTION_INVALID"},
		{"not pending", nil, domain.ErrInvalidBookingState, http.StatusConflict, "INVALID_BOOKING_STATE"},
		{"other user", nil, domain.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
		{"concurrent update", nil, domain.ErrConcurrentUpdate, http.StatusServiceUnavailable, "DEPENDENCY_UNAVAILABLE"},
		{"unexpected", nil, errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got saga.FinalizeRequest
			bookings := &MockBookingService{FinalizeFunc: func(ctx context.Context, req saga.FinalizeRequest) (*domain.Booking, error) {
				got = req
				if tt.err != nil {
					return nil, tt.err
				}
				return ownedBooking(req.BookingID, req.UserID), nil
			}}
			router := setupTestRouterWithAuth(newHandlers(&MockSeatService{}, bookings, &MockPayments{}, nil), "user-1")

			w := doJSON(router, http.MethodPost, "/bookings/b-1/finalize", tt.body)

			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if tt.expectedCode != "" {
				assert.Equal(t, tt.expectedCode, errorCode(t, w))
			}
			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, "b-1", got.BookingID)
				assert.Equal(t, "user-1", got.UserID)
			}
		})
	}
}

func TestBookingHandler_Finalize_MapsSelections(t *testing.T) {
	var got saga.FinalizeRequest
	bookings := &MockBookingService{FinalizeFunc: func(ctx context.Context, req saga.FinalizeRequest) (*domain.Booking, error) {
		got = req
		return ownedBooking(req.BookingID, req.UserID), nil
	}}
	router := setupTestRouterWithAuth(newHandlers(&MockSeatService{}, bookings, &MockPayments{}, nil), "user-1")

	w := doJSON(router, http.MethodPost, "/bookings/b-1/finalize", map[string]interface{}{
		"promo_code": "SAVE10",
		"fnb_items":  []map[string]interface{}{{"item_id": "popcorn", "quantity": 2}},
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "SAVE10", got.PromoCode)
	assert.Equal(t, []domain.FnbSelection{{ItemID: "popcorn", Quantity: 2}}, got.FnbItems)
}

func TestBookingHandler_GetPayment(t *testing.T) {
	bookings := &MockBookingService{GetBookingFunc: func(ctx context.Context, bookingID string) (*domain.Booking, error) {
		return ownedBooking(bookingID, "user-1"), nil
	}}
	payments := &MockPayments{GetByBookingIDFunc: func(ctx context.Context, bookingID string) (*domain.PaymentTransaction, error) {
		return &domain.PaymentTransaction{ID: "tx-1", BookingID: bookingID, Amount: 100000, Status: domain.TransactionStatusPending}, nil
	}}
	h := newHandlers(&MockSeatService{}, bookings, payments, nil)

	w := doJSON(setupTestRouterWithAuth(h, "user-1"), http.MethodGet, "/bookings/b-1/payment", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"PENDING"`)
	assert.Contains(t, w.Body.String(), `"amount":100000`)

	other := doJSON(setupTestRouterWithAuth(h, "user-2"), http.MethodGet, "/bookings/b-1/payment", nil)
	assert.Equal(t, http.StatusNotFound, other.Code)
}

func TestPaymentHandler_Callback(t *testing.T) {
	tests := []struct {
		name           string
		body           map[string]string
		err            error
		expectedStatus int
		expectedCode   string
		wantSuccess    bool
		wantFailure    bool
	}{
		{
			name:           "success",
			body:           map[string]string{"booking_id": "b-1", "status": "SUCCESS", "transaction_ref": "ref-1", "method": "CARD"},
			expectedStatus: http.StatusOK,
			wantSuccess:    true,
		},
		{
			name:           "failed",
			body:           map[string]string{"booking_id": "b-1", "status": "FAILED", "transaction_ref": "ref-1", "reason": "declined"},
			expectedStatus: http.StatusOK,
			wantFailure:    true,
		},
		{
			name:           "unknown status",
			body:           map[string]string{"booking_id": "b-1", "status": "MAYBE", "transaction_ref": "ref-1"},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "BAD_REQUEST",
		},
		{
			name:           "already settled",
			body:           map[string]string{"booking_id": "b-1", "status": "SUCCESS", "transaction_ref": "ref-2"},
			err:            domain.ErrTransactionNotPending,
			expectedStatus: http.StatusConflict,
			expectedCode:   "TRANSACTION_NOT_PENDING",
			wantSuccess:    true,
		},
		{
			name:           "no transaction",
			body:           map[string]string{"booking_id": "b-9", "status": "SUCCESS", "transaction_ref": "ref-1"},
			err:            domain.ErrTransactionNotFound,
			expectedStatus: http.StatusNotFound,
			expectedCode:   "NOT_FOUND",
			wantSuccess:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var succeeded, failed bool
			payments := &MockPayments{
				ProcessSuccessFunc: func(ctx context.Context, bookingID, ref, method string) (*domain.PaymentTransaction, error) {
					succeeded = true
					if tt.err != nil {
						return nil, tt.err
					}
					return &domain.PaymentTransaction{ID: "tx-1", BookingID: bookingID, Status: domain.TransactionStatusSuccess, TransactionRef: ref, Method: method}, nil
				},
				ProcessFailureFunc: func(ctx context.Context, bookingID, ref, reason string) (*domain.PaymentTransaction, error) {
					failed = true
					return &domain.PaymentTransaction{ID: "tx-1", BookingID: bookingID, Status: domain.TransactionStatusFailed, FailureReason: reason}, nil
				},
			}
			router := setupTestRouterWithAuth(newHandlers(&MockSeatService{}, &MockBookingService{}, payments, nil), "")

			w := doJSON(router, http.MethodPost, "/payments/callback", tt.body)

			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if tt.expectedCode != "" {
				assert.Equal(t, tt.expectedCode, errorCode(t, w))
			}
			assert.Equal(t, tt.wantSuccess, succeeded)
			assert.Equal(t, tt.wantFailure, failed)
		})
	}
}

func TestAdminHandler_SuspendShowtime(t *testing.T) {
	rec := publisher.NewRecorder()
	router := setupTestRouterWithAuth(newHandlers(&MockSeatService{}, &MockBookingService{}, &MockPayments{}, rec), "admin-1")

	w := doJSON(router, http.MethodPost, "/admin/showtimes/st-1/suspend", map[string]string{"movie_id": "m-1", "reason": "projector failure"})

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	published := rec.OfType(events.TypeShowtimeSuspended)
	require.Len(t, published, 1)
	assert.Equal(t, events.ShowtimeSuspended{ShowtimeID: "st-1", MovieID: "m-1", Reason: "projector failure"}, published[0])

	missing := doJSON(router, http.MethodPost, "/admin/showtimes/st-1/suspend", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, missing.Code)

	rec.Err = errors.New("broker unreachable")
	down := setupTestRouterWithAuth(newHandlers(&MockSeatService{}, &MockBookingService{}, &MockPayments{}, rec), "admin-1")
	w = doJSON(down, http.MethodPost, "/admin/showtimes/st-1/suspend", map[string]string{"reason": "x"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestHealthHandler_Health(t *testing.T) {
	handler := NewHealthHandler(nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)

	handler.Health(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
}

func TestHealthHandler_Ready(t *testing.T) {
	tests := []struct {
		name           string
		checks         map[string]Checker
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "no components",
			expectedStatus: http.StatusOK,
			expectedBody:   `"status":"ready"`,
		},
		{
			name:           "not configured",
			checks:         map[string]Checker{"kafka": nil},
			expectedStatus: http.StatusOK,
			expectedBody:   `"kafka":"not configured"`,
		},
		{
			name: "all healthy",
			checks: map[string]Checker{
				"database": func(ctx context.Context) error { return nil },
				"redis":    func(ctx context.Context) error { return nil },
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"redis":"healthy"`,
		},
		{
			name: "redis down",
			checks: map[string]Checker{
				"database": func(ctx context.Context) error { return nil },
				"redis":    func(ctx context.Context) error { return errors.New("connection refused") },
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedBody:   `"redis":"unhealthy: connection refused"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHealthHandler(tt.checks)

			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/ready", nil)

			handler.Ready(c)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedBody)
		})
	}
}

const testSecret = "test-secret"

func signToken(t *testing.T, userID, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestNewRouter_Protection(t *testing.T) {
	rec := publisher.NewRecorder()
	seats := &MockSeatService{LockSeatsFunc: func(ctx context.Context, req seatlock.LockRequest) (*seatlock.LockResult, error) {
		return &seatlock.LockResult{LockID: "b-1", SeatIDs: []string{"A1"}, TTL: 10 * time.Second}, nil
	}}
	router := NewRouter(newHandlers(seats, &MockBookingService{}, &MockPayments{}, rec), RouterConfig{
		Auth: middleware.AuthConfig{Secret: testSecret},
	})

	send := func(method, path, token string, body interface{}) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		_ = json.NewEncoder(&buf).Encode(body)
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	userToken := signToken(t, "user-1", "user")
	adminToken := signToken(t, "admin-1", RoleAdmin)

	assert.Equal(t, http.StatusOK, send(http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, send(http.MethodPost, "/api/v1/showtimes/st-1/locks", "", lockBody).Code)
	assert.Equal(t, http.StatusCreated, send(http.MethodPost, "/api/v1/showtimes/st-1/locks", userToken, lockBody).Code)

	// finalize needs an idempotency key
	w := send(http.MethodPost, "/api/v1/bookings/b-1/finalize", userToken, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "MISSING_IDEMPOTENCY_KEY", errorCode(t, w))

	suspend := map[string]string{"reason": "maintenance"}
	assert.Equal(t, http.StatusForbidden, send(http.MethodPost, "/api/v1/admin/showtimes/st-1/suspend", userToken, suspend).Code)
	assert.Equal(t, http.StatusAccepted, send(http.MethodPost, "/api/v1/admin/showtimes/st-1/suspend", adminToken, suspend).Code)
	assert.Len(t, rec.OfType(events.TypeShowtimeSuspended), 1)
}
