package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/cinehub-booking/internal/domain"
	"github.com/prohmpiriya/cinehub-booking/internal/dto"
	"github.com/prohmpiriya/cinehub-booking/internal/saga"
	"github.com/prohmpiriya/cinehub-booking/pkg/middleware"
	"github.com/prohmpiriya/cinehub-booking/pkg/response"
	"github.com/prohmpiriya/cinehub-booking/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// BookingService reads and finalizes bookings, see saga.Orchestrator
type BookingService interface {
	GetBooking(ctx context.Context, bookingID string) (*domain.Booking, error)
	Finalize(ctx context.Context, req saga.FinalizeRequest) (*domain.Booking, error)
}

// PaymentQuery reads payment transactions, see payment.Ledger
type PaymentQuery interface {
	GetByBookingID(ctx context.Context, bookingID string) (*domain.PaymentTransaction, error)
}

// BookingHandler handles booking HTTP requests
type BookingHandler struct {
	bookings BookingService
	payments PaymentQuery
}

// NewBookingHandler creates a new booking handler
func NewBookingHandler(bookings BookingService, payments PaymentQuery) *BookingHandler {
	return &BookingHandler{bookings: bookings, payments: payments}
}

// GetBooking handles GET /bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.get")
	defer span.End()

	booking, ok := h.ownedBooking(c, ctx)
	if !ok {
		return
	}
	response.Success(c, dto.FromBooking(booking))
}

// Finalize handles POST /bookings/:id/finalize
func (h *BookingHandler) Finalize(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.finalize")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var req dto.FinalizeBookingRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	bookingID := c.Param("id")
	span.SetAttributes(
		attribute.String("booking_id", bookingID),
		attribute.String("user_id", userID),
		attribute.Bool("has_promotion", req.PromoCode != ""),
	)

	booking, err := h.bookings.Finalize(ctx, saga.FinalizeRequest{
		BookingID: bookingID,
		UserID:    userID,
		FnbItems:  req.ToFnbSelections(),
		PromoCode: req.PromoCode,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, dto.FromBooking(booking))
}

// GetPayment handles GET /bookings/:id/payment
func (h *BookingHandler) GetPayment(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.payment")
	defer span.End()

	booking, ok := h.ownedBooking(c, ctx)
	if !ok {
		return
	}

	tx, err := h.payments.GetByBookingID(ctx, booking.ID)
	if err != nil {
		span.RecordError(err)
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromPayment(tx))
}

// ownedBooking loads the :id booking and writes the error response when the caller may not see it
func (h *BookingHandler) ownedBooking(c *gin.Context, ctx context.Context) (*domain.Booking, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return nil, false
	}

	booking, err := h.bookings.GetBooking(ctx, c.Param("id"))
	if err != nil {
		handleError(c, err)
		return nil, false
	}
	if booking.UserID != userID {
		// do not reveal other users' bookings
		response.NotFound(c, domain.ErrBookingNotFound.Error())
		return nil, false
	}
	return booking, true
}
