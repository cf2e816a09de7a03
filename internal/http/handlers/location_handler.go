// README: Rider location updates feeding the position cache.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"riderdispatch/internal/modules/dispatch"
	"riderdispatch/internal/modules/location"
	"riderdispatch/internal/types"
)

type LocationService interface {
	Update(ctx context.Context, u location.Update) (location.Position, error)
}

type LocationHandler struct {
	location LocationService
}

func NewLocationHandler(svc LocationService) *LocationHandler {
	return &LocationHandler{location: svc}
}

type locationReq struct {
	Lat        *float64  `json:"lat"`
	Lng        *float64  `json:"lng"`
	RecordedAt time.Time `json:"recorded_at"`
}

func (h *LocationHandler) Update(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, dispatch.CodeInvalidInput, "invalid rider id")
		return
	}
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Lat == nil || req.Lng == nil {
		writeError(c, http.StatusBadRequest, dispatch.CodeInvalidInput, "lat and lng are required")
		return
	}
	p, err := h.location.Update(c.Request.Context(), location.Update{
		RiderID:    types.ID(id),
		Point:      types.Point{Lat: *req.Lat, Lng: *req.Lng},
		RecordedAt: req.RecordedAt,
	})
	if errors.Is(err, location.ErrBadRequest) {
		writeError(c, http.StatusBadRequest, dispatch.CodeInvalidInput, err.Error())
		return
	}
	if errors.Is(err, location.ErrUnknownRider) {
		writeError(c, http.StatusNotFound, dispatch.CodeNotFound, "rider not found")
		return
	}
	if err != nil {
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, dispatch.CodeInternal, "internal error")
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{
		"rider_id":    p.RiderID,
		"lat":         p.Point.Lat,
		"lng":         p.Point.Lng,
		"recorded_at": p.RecordedAt,
	})
}
