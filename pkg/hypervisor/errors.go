package hypervisor

import (
	"errors"
	"fmt"
)

// NotFoundError is returned when a lookup matches no record or a map key is absent
type NotFoundError struct {
	// Kind is what was looked up, e.g. "network" or "other-config key"
	Kind string

	// Key is the lookup key
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(kind, key string) *NotFoundError {
	return &NotFoundError{Kind: kind, Key: key}
}

// IsNotFound checks if an error is a NotFoundError
func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}
