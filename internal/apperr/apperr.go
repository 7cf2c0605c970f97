// README: Error kinds shared by every module; callers match with errors.Is and tag responses with KindOf.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidStatus      = errors.New("invalid_status")
	ErrDuplicate          = errors.New("duplicate_entry")
	ErrCapacityExceeded   = errors.New("capacity_exceeded")
	ErrChildNotInJourney  = errors.New("child_not_in_journey")
	ErrETAUnavailable     = errors.New("eta_unavailable")
	ErrDatabase           = errors.New("database_error")
	ErrConflict           = errors.New("conflict")
	ErrNoChildrenAssigned = errors.New("no_children_assigned")
	ErrForbidden          = errors.New("forbidden")
)

var kinds = []error{
	ErrValidation,
	ErrNotFound,
	ErrInvalidStatus,
	ErrDuplicate,
	ErrCapacityExceeded,
	ErrChildNotInJourney,
	ErrETAUnavailable,
	ErrDatabase,
	ErrConflict,
	ErrNoChildrenAssigned,
	ErrForbidden,
}

// New tags a formatted message with kind.
func New(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Database wraps a store failure. Errors that already carry a kind pass through unchanged.
func Database(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != "" {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrDatabase, op, err)
}

// KindOf returns the tag of the first kind err wraps, or "" for untagged errors.
func KindOf(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	return ""
}
