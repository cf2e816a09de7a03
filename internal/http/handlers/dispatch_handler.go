// README: Dispatch handlers for suggest, auto-assign, manual-assign and validate.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"riderdispatch/internal/modules/dispatch"
	"riderdispatch/internal/modules/rider"
	"riderdispatch/internal/types"
)

type DispatchService interface {
	Suggest(ctx context.Context, cmd dispatch.SuggestCommand) (*dispatch.Suggestion, error)
	AutoAssign(ctx context.Context, cmd dispatch.AutoAssignCommand) (*dispatch.AssignResult, error)
	ManualAssign(ctx context.Context, cmd dispatch.ManualAssignCommand) (*dispatch.AssignResult, error)
	ValidateManual(ctx context.Context, cmd dispatch.ManualAssignCommand) (*rider.Rider, error)
}

type DispatchHandler struct {
	dispatch DispatchService
}

func NewDispatchHandler(svc DispatchService) *DispatchHandler {
	return &DispatchHandler{dispatch: svc}
}

type suggestReq struct {
	DeliveryLat *float64 `json:"delivery_lat"`
	DeliveryLng *float64 `json:"delivery_lng"`
	DeliveryID  string   `json:"delivery_id"`
	Priority    string   `json:"priority"`
}

type autoAssignReq struct {
	DeliveryID string `json:"delivery_id"`
	Priority   string `json:"priority"`
}

type manualAssignReq struct {
	DeliveryID string `json:"delivery_id"`
	RiderID    string `json:"rider_id"`
}

func (h *DispatchHandler) Suggest(c *gin.Context) {
	var req suggestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, dispatch.CodeInvalidInput, "invalid json")
		return
	}
	cmd := dispatch.SuggestCommand{Priority: req.Priority}
	if req.DeliveryID != "" {
		if !isValidID(req.DeliveryID) {
			writeError(c, http.StatusBadRequest, dispatch.CodeInvalidInput, "invalid delivery_id")
			return
		}
		cmd.DeliveryID = types.ID(req.DeliveryID)
	}
	switch {
	case req.DeliveryLat != nil && req.DeliveryLng != nil:
		cmd.Pickup = &types.Point{Lat: *req.DeliveryLat, Lng: *req.DeliveryLng}
	case req.DeliveryLat != nil || req.DeliveryLng != nil || cmd.DeliveryID == "":
		writeError(c, http.StatusBadRequest, dispatch.CodeInvalidInput, "delivery_lat and delivery_lng are required")
		return
	}

	sug, err := h.dispatch.Suggest(c.Request.Context(), cmd)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toSuggestion(sug))
}

func (h *DispatchHandler) AutoAssign(c *gin.Context) {
	var req autoAssignReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, dispatch.CodeInvalidInput, "invalid json")
		return
	}
	if !isValidID(req.DeliveryID) {
		writeError(c, http.StatusBadRequest, dispatch.CodeInvalidInput, "invalid delivery_id")
		return
	}

	res, err := h.dispatch.AutoAssign(c.Request.Context(), dispatch.AutoAssignCommand{
		DeliveryID: types.ID(req.DeliveryID),
		Priority:   req.Priority,
	})
	if err != nil {
		var de *dispatch.Error
		if errors.As(err, &de) && de.Code == dispatch.CodeManualSelectionRequired && res != nil && res.Suggestion != nil {
			writeJSON(c, http.StatusUnprocessableEntity, manualRequiredResp{
				errorResponse: errorResponse{ErrorCode: string(de.Code), Message: de.Message},
				Suggestion:    toSuggestion(res.Suggestion),
			})
			return
		}
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toAssign(res))
}

func (h *DispatchHandler) ManualAssign(c *gin.Context) {
	cmd, ok := bindManual(c)
	if !ok {
		return
	}
	res, err := h.dispatch.ManualAssign(c.Request.Context(), cmd)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toAssign(res))
}

func (h *DispatchHandler) Validate(c *gin.Context) {
	cmd, ok := bindManual(c)
	if !ok {
		return
	}
	r, err := h.dispatch.ValidateManual(c.Request.Context(), cmd)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, validateResp{
		Valid:             true,
		RiderID:           string(r.ID),
		RiderName:         r.Name,
		CurrentDeliveries: r.CurrentDeliveries,
		MaxCapacity:       r.MaxCapacity,
	})
}

func bindManual(c *gin.Context) (dispatch.ManualAssignCommand, bool) {
	var req manualAssignReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, dispatch.CodeInvalidInput, "invalid json")
		return dispatch.ManualAssignCommand{}, false
	}
	if !isValidID(req.DeliveryID) || !isValidID(req.RiderID) {
		writeError(c, http.StatusBadRequest, dispatch.CodeInvalidInput, "invalid delivery_id or rider_id")
		return dispatch.ManualAssignCommand{}, false
	}
	return dispatch.ManualAssignCommand{DeliveryID: types.ID(req.DeliveryID), RiderID: types.ID(req.RiderID)}, true
}
