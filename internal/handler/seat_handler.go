package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/cinehub-booking/internal/dto"
	"github.com/prohmpiriya/cinehub-booking/internal/events"
	"github.com/prohmpiriya/cinehub-booking/internal/seatlock"
	"github.com/prohmpiriya/cinehub-booking/pkg/middleware"
	"github.com/prohmpiriya/cinehub-booking/pkg/response"
	"github.com/prohmpiriya/cinehub-booking/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// SeatService locks and releases seats, see seatlock.Coordinator
type SeatService interface {
	LockSeats(ctx context.Context, req seatlock.LockRequest) (*seatlock.LockResult, error)
	ReleaseSeats(ctx context.Context, req seatlock.ReleaseRequest) (int, error)
	SeatStatus(ctx context.Context, showtimeID, seatID string) (*seatlock.Status, error)
}

// SeatHandler handles seat lock HTTP requests
type SeatHandler struct {
	seats SeatService
}

// NewSeatHandler creates a new seat handler
func NewSeatHandler(seats SeatService) *SeatHandler {
	return &SeatHandler{seats: seats}
}

// LockSeats handles POST /showtimes/:showtimeId/locks
func (h *SeatHandler) LockSeats(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.seat.lock")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var req dto.LockSeatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		response.BadRequest(c, err.Error())
		return
	}

	showtimeID := c.Param("showtimeId")
	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("showtime_id", showtimeID),
		attribute.Int("seat_count", len(req.Seats)),
	)

	result, err := h.seats.LockSeats(ctx, seatlock.LockRequest{
		ShowtimeID: showtimeID,
		UserID:     userID,
		Seats:      req.ToSeatRequests(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.String("booking_id", result.LockID))
	response.Created(c, dto.FromLockResult(showtimeID, result))
}

// ReleaseSeats handles DELETE /showtimes/:showtimeId/locks. Only the caller's own locks are deleted.
func (h *SeatHandler) ReleaseSeats(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.seat.release")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var req dto.ReleaseSeatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	showtimeID := c.Param("showtimeId")
	released, err := h.seats.ReleaseSeats(ctx, seatlock.ReleaseRequest{
		ShowtimeID: showtimeID,
		SeatIDs:    req.SeatIDs,
		Holder:     seatlock.Holder{UserID: userID, LockID: req.BookingID},
		Reason:     events.UnlockReasonCancelled,
		BookingID:  req.BookingID,
	})
	if err != nil {
		span.RecordError(err)
		handleError(c, err)
		return
	}

	response.Success(c, dto.ReleaseSeatsResponse{ShowtimeID: showtimeID, Released: released})
}

// GetSeatStatus handles GET /showtimes/:showtimeId/seats/:seatId
func (h *SeatHandler) GetSeatStatus(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.seat.status")
	defer span.End()

	userID, _ := middleware.GetUserID(c)

	status, err := h.seats.SeatStatus(ctx, c.Param("showtimeId"), c.Param("seatId"))
	if err != nil {
		span.RecordError(err)
		handleError(c, err)
		return
	}

	response.Success(c, dto.FromSeatStatus(status, userID))
}
