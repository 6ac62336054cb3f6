package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/cinehub-booking/internal/domain"
	"github.com/prohmpiriya/cinehub-booking/internal/dto"
	"github.com/prohmpiriya/cinehub-booking/pkg/response"
	"github.com/prohmpiriya/cinehub-booking/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PaymentProcessor settles payment transactions, see payment.Ledger
type PaymentProcessor interface {
	ProcessSuccess(ctx context.Context, bookingID, ref, method string) (*domain.PaymentTransaction, error)
	ProcessFailure(ctx context.Context, bookingID, ref, reason string) (*domain.PaymentTransaction, error)
}

// PaymentHandler handles payment gateway callbacks
type PaymentHandler struct {
	payments PaymentProcessor
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(payments PaymentProcessor) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// Callback handles POST /payments/callback
func (h *PaymentHandler) Callback(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.payment.callback")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	var req dto.PaymentCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		response.BadRequest(c, err.Error())
		return
	}

	span.SetAttributes(
		attribute.String("booking_id", req.BookingID),
		attribute.String("payment_status", req.Status),
	)

	var (
		tx  *domain.PaymentTransaction
		err error
	)
	if req.Status == string(domain.TransactionStatusSuccess) {
		tx, err = h.payments.ProcessSuccess(ctx, req.BookingID, req.TransactionRef, req.Method)
	} else {
		tx, err = h.payments.ProcessFailure(ctx, req.BookingID, req.TransactionRef, req.Reason)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, dto.FromPayment(tx))
}
