package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/cinehub-booking/internal/domain"
	"github.com/prohmpiriya/cinehub-booking/internal/dto"
	"github.com/prohmpiriya/cinehub-booking/internal/seatlock"
	"github.com/prohmpiriya/cinehub-booking/pkg/response"
)

// handleError maps domain errors to HTTP responses
func handleError(c *gin.Context, err error) {
	var conflict *seatlock.ConflictError
	if errors.As(err, &conflict) {
		response.Conflict(c, "SEAT_LOCKED", conflict.Error(), dto.SeatConflictDetails{
			SeatID:            conflict.SeatID,
			RetryAfterSeconds: dto.RetryAfterSeconds(conflict.RetryAfter),
		})
		return
	}

	switch {
	case errors.Is(err, domain.ErrForbidden):
		response.Forbidden(c, err.Error())
	case errors.Is(err, domain.ErrPromotionAlreadyUsed):
		response.Conflict(c, "PROMOTION_ALREADY_USED", err.Error(), nil)
	case errors.Is(err, domain.ErrInvalidBookingState):
		response.Conflict(c, "INVALID_BOOKING_STATE", err.Error(), nil)
	case errors.Is(err, domain.ErrTransactionNotPending):
		response.Conflict(c, "TRANSACTION_NOT_PENDING", err.Error(), nil)
	case domain.IsConflict(err):
		response.Conflict(c, "CONFLICT", err.Error(), nil)
	case domain.IsNotFound(err):
		response.NotFound(c, err.Error())
	case errors.Is(err, domain.ErrPromotionInvalid):
		response.Error(c, http.StatusUnprocessableEntity, "PROMOTION_INVALID", err.Error(), nil)
	case domain.IsValidation(err):
		response.BadRequest(c, err.Error())
	case domain.IsDependencyUnavailable(err):
		c.Header("Retry-After", "1")
		response.ServiceUnavailable(c, "A dependency is unavailable, please retry")
	default:
		response.InternalError(c, err)
	}
}
