// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"riderdispatch/internal/modules/dispatch"
)

type errorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// isValidID accepts ids made of letters, digits, '-' and '_' up to 64 chars.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, code dispatch.Code, msg string) {
	writeJSON(c, status, errorResponse{ErrorCode: string(code), Message: msg})
}

func statusFor(code dispatch.Code) int {
	switch code {
	case dispatch.CodeInvalidInput:
		return http.StatusBadRequest
	case dispatch.CodeNotFound:
		return http.StatusNotFound
	case dispatch.CodeAlreadyAssigned, dispatch.CodeCapacityExceeded, dispatch.CodeRiderUnavailable:
		return http.StatusConflict
	case dispatch.CodeNoRidersAvailable, dispatch.CodeRouteCalculationFailed, dispatch.CodeManualSelectionRequired:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeDispatchError never leaks the cause of internal errors.
func writeDispatchError(c *gin.Context, err error) {
	var de *dispatch.Error
	if !errors.As(err, &de) || de.Code == dispatch.CodeInternal {
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, dispatch.CodeInternal, "internal error")
		return
	}
	writeError(c, statusFor(de.Code), de.Code, de.Message)
}
