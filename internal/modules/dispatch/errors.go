// README: Dispatch error taxonomy surfaced to callers as stable codes.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"riderdispatch/internal/modules/assignment"
	"riderdispatch/internal/modules/delivery"
	"riderdispatch/internal/modules/rider"
	"riderdispatch/internal/modules/routing"
)

type Code string

const (
	CodeNoRidersAvailable       Code = "no_riders_available"
	CodeRouteCalculationFailed  Code = "route_calculation_failed"
	CodeAlreadyAssigned         Code = "already_assigned"
	CodeCapacityExceeded        Code = "capacity_exceeded"
	CodeRiderUnavailable        Code = "rider_unavailable"
	CodeManualSelectionRequired Code = "manual_selection_required"
	CodeInvalidInput            Code = "invalid_input"
	CodeNotFound                Code = "not_found"
	CodeInternal                Code = "internal_error"
)

// Error is a request-level failure. Message is safe to show callers; Err
// keeps the underlying cause for logs.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the dispatch code carried by err, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// classify maps collaborator errors onto the taxonomy.
func classify(err error) *Error {
	var de *Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &de):
		return de
	case errors.Is(err, assignment.ErrAlreadyAssigned):
		return newError(CodeAlreadyAssigned, "delivery already has an active assignment", err)
	case errors.Is(err, assignment.ErrCapacityExceeded):
		return newError(CodeCapacityExceeded, "rider has no free capacity", err)
	case errors.Is(err, assignment.ErrConflict):
		return newError(CodeCapacityExceeded, "rider capacity is contended, retry", err)
	case errors.Is(err, assignment.ErrRiderUnavailable):
		return newError(CodeRiderUnavailable, "rider cannot take this delivery", err)
	case errors.Is(err, assignment.ErrNotFound),
		errors.Is(err, delivery.ErrNotFound),
		errors.Is(err, rider.ErrNotFound):
		return newError(CodeNotFound, "delivery or rider not found", err)
	case errors.Is(err, routing.ErrInvalidCoordinates),
		errors.Is(err, delivery.ErrInvalidPriority):
		return newError(CodeInvalidInput, err.Error(), err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newError(CodeInternal, "request cancelled", err)
	default:
		return newError(CodeInternal, "internal error", err)
	}
}
