// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/openkz/admin-api/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var (
		validation *shared.ValidationError
		forbidden  *shared.ForbiddenError
		conflict   *shared.ConflictError
	)
	switch {
	case errors.Is(err, shared.ErrUnauthenticated):
		Problem(w, http.StatusUnauthorized, "Unauthenticated", "Unauthenticated.")
	case errors.As(err, &forbidden):
		JSON(w, http.StatusForbidden, ProblemDetail{
			Title:      "Forbidden",
			Status:     http.StatusForbidden,
			Detail:     forbidden.Error(),
			Field:      forbidden.Field,
			Permission: forbidden.Permission,
		})
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &validation):
		JSON(w, http.StatusUnprocessableEntity, ProblemDetail{
			Title:  "Validation Failed",
			Status: http.StatusUnprocessableEntity,
			Detail: validation.Error(),
			Fields: validation.Fields,
		})
	case errors.As(err, &conflict):
		JSON(w, http.StatusConflict, ProblemDetail{
			Title:      "Conflict",
			Status:     http.StatusConflict,
			Detail:     conflict.Error(),
			Unresolved: conflict.Unresolved,
		})
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// IsInternal reports whether err falls outside the domain taxonomy and would
// be rendered as a 500.
func IsInternal(err error) bool {
	for _, target := range []error{
		shared.ErrUnauthenticated,
		shared.ErrForbidden,
		shared.ErrNotFound,
		shared.ErrValidation,
		shared.ErrConflict,
	} {
		if errors.Is(err, target) {
			return false
		}
	}
	return true
}
