package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/cinehub-booking/internal/domain"
	"github.com/prohmpiriya/cinehub-booking/internal/dto"
	"github.com/prohmpiriya/cinehub-booking/internal/events"
	"github.com/prohmpiriya/cinehub-booking/internal/publisher"
	"github.com/prohmpiriya/cinehub-booking/pkg/response"
	"github.com/prohmpiriya/cinehub-booking/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// AdminHandler handles operator requests
type AdminHandler struct {
	publisher publisher.Publisher
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(pub publisher.Publisher) *AdminHandler {
	return &AdminHandler{publisher: pub}
}

// SuspendShowtime handles POST /admin/showtimes/:showtimeId/suspend.
// Open bookings are cancelled asynchronously by the saga worker.
func (h *AdminHandler) SuspendShowtime(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.suspend_showtime")
	defer span.End()

	var req dto.SuspendShowtimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	evt := events.ShowtimeSuspended{
		ShowtimeID: c.Param("showtimeId"),
		MovieID:    req.MovieID,
		Reason:     req.Reason,
	}
	span.SetAttributes(attribute.String("showtime_id", evt.ShowtimeID))

	if err := h.publisher.Publish(ctx, evt); err != nil {
		span.RecordError(err)
		handleError(c, domain.ErrDependencyUnavailable)
		return
	}

	c.JSON(http.StatusAccepted, response.Response{Success: true, Data: evt})
}
