package shared

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrUnauthenticated indicates no principal could be resolved for the request.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden indicates the principal lacks a required permission.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation indicates a structural or business-rule violation on input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a mutation referencing records outside its guard.
	ErrConflict = errors.New("conflict")
)

// FieldErrors maps machine-readable field keys to messages.
type FieldErrors map[string][]string

// Add appends a message for field.
func (f FieldErrors) Add(field, message string) {
	f[field] = append(f[field], message)
}

// ValidationError reports per-field input violations.
type ValidationError struct {
	Fields FieldErrors
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	fields := FieldErrors{}
	fields.Add(field, message)
	return &ValidationError{Fields: fields}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], " "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is reports ValidationError as ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ForbiddenError describes a denied action. Field is set when the denial is
// specific to one input field (for example roles or status on a self-update).
type ForbiddenError struct {
	Permission string
	Field      string
	Reason     string
}

func (e *ForbiddenError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	if e.Permission != "" {
		return fmt.Sprintf("forbidden: requires %s", e.Permission)
	}
	return ErrForbidden.Error()
}

// Is reports ForbiddenError as ErrForbidden.
func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}

// ConflictError lists permission names that exist only under other guards.
type ConflictError struct {
	Guard      string
	Unresolved []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("permissions not defined for guard %s: %s", e.Guard, strings.Join(e.Unresolved, ", "))
}

// Is reports ConflictError as ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// UnresolvedPermissionsError reports permission names that could not be
// resolved within guard. unknown names are stored nowhere; foreign names
// exist only under other guards. Any unknown name makes the request a
// validation failure that lists both groups under "permissions"; foreign
// names alone are a ConflictError. It returns nil when both are empty.
func UnresolvedPermissionsError(guard string, unknown, foreign []string) error {
	if len(unknown) == 0 {
		if len(foreign) == 0 {
			return nil
		}
		return &ConflictError{Guard: guard, Unresolved: foreign}
	}
	verr := NewValidationError("permissions", "Unknown permissions: "+strings.Join(unknown, ", "))
	if len(foreign) > 0 {
		verr.Fields.Add("permissions", fmt.Sprintf("Not defined for guard %s: %s", guard, strings.Join(foreign, ", ")))
	}
	return verr
}
