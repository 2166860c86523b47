package apperrors

import (
	"errors"
	"fmt"
)

// Service names used in ExternalServiceError.
const (
	ServiceDevice   = "device"
	ServicePayment  = "payment"
	ServiceLocator  = "locator"
	ServiceDatabase = "database"
)

// ErrAlreadyActive is returned when a payment arrives while a session is running.
var ErrAlreadyActive = errors.New("charger already active")

// ErrGeofenced is returned when a payment comes from outside the allowed radius.
var ErrGeofenced = errors.New("client outside charging area")

// ExternalServiceError wraps a failure of a cloud dependency at the adapter boundary.
type ExternalServiceError struct {
	Service string
	Op      string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// External builds an ExternalServiceError, passing through errors that already are one.
func External(service, op string, err error) error {
	if err == nil {
		return nil
	}
	var ext *ExternalServiceError
	if errors.As(err, &ext) {
		return err
	}
	return &ExternalServiceError{Service: service, Op: op, Err: err}
}

// ValidationError rejects a malformed request before any gateway call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DriftCorrectionError reports a failed reconciliation pass. It is never fatal.
type DriftCorrectionError struct {
	Desired bool
	Err     error
}

func (e *DriftCorrectionError) Error() string {
	return fmt.Sprintf("drift correction to power=%t failed: %v", e.Desired, e.Err)
}

func (e *DriftCorrectionError) Unwrap() error {
	return e.Err
}

// IsExternal reports whether err came from a cloud dependency.
func IsExternal(err error) bool {
	var ext *ExternalServiceError
	return errors.As(err, &ext)
}
