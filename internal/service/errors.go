package service

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderDisabled is returned when importing a disabled provider.
	ErrProviderDisabled = errors.New("provider is disabled")
	// ErrImportInProgress is returned when the provider's import lock is held.
	ErrImportInProgress = errors.New("import already in progress")
	// ErrInvalidInput wraps caller mistakes such as an empty time window.
	ErrInvalidInput = errors.New("invalid input")
)

// MaintenanceError reports a failed retention or dedup pass. Nothing after the
// failing step ran; earlier steps stay committed.
type MaintenanceError struct {
	Op  string
	Err error
}

func (e *MaintenanceError) Error() string {
	return fmt.Sprintf("maintenance %s: %v", e.Op, e.Err)
}

func (e *MaintenanceError) Unwrap() error { return e.Err }

func maintenanceErr(op string, err error) error {
	return &MaintenanceError{Op: op, Err: err}
}
