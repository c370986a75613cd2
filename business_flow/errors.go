// Package businessflow contains the broadcast use cases behind the admin and scheduler APIs
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Broadcast-related errors
	ErrBroadcastNotFound          = errors.New("broadcast job not found")
	ErrBroadcastInvalidAction     = errors.New("invalid broadcast action")
	ErrBroadcastInvalidTransition = errors.New("action is not allowed in the current job status")
	ErrBroadcastAudienceEmpty     = errors.New("audience resolved to no recipients")
	ErrBroadcastMessageRequired   = errors.New("broadcast message is required")
	ErrBroadcastMessageTooLong    = errors.New("broadcast message is too long")
	ErrInvalidJobStatus           = errors.New("invalid job status")

	// Maintenance errors
	ErrInvalidMaintenanceAction = errors.New("invalid maintenance action")
	ErrInvalidMaintenanceDays   = errors.New("days must be at least 1")

	// Dispatch errors
	ErrDispatchNotConfigured = errors.New("dispatch is not configured")

	// Filter errors
	ErrInvalidPage     = errors.New("page must be at least 1")
	ErrInvalidPageSize = errors.New("page size must be between 1 and 100")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsBroadcastNotFound(err error) bool {
	return errors.Is(err, ErrBroadcastNotFound)
}

func IsBroadcastInvalidAction(err error) bool {
	return errors.Is(err, ErrBroadcastInvalidAction)
}

func IsBroadcastInvalidTransition(err error) bool {
	return errors.Is(err, ErrBroadcastInvalidTransition)
}

func IsBroadcastAudienceEmpty(err error) bool {
	return errors.Is(err, ErrBroadcastAudienceEmpty)
}

func IsBroadcastMessageRequired(err error) bool {
	return errors.Is(err, ErrBroadcastMessageRequired)
}

func IsBroadcastMessageTooLong(err error) bool {
	return errors.Is(err, ErrBroadcastMessageTooLong)
}

func IsInvalidJobStatus(err error) bool {
	return errors.Is(err, ErrInvalidJobStatus)
}

func IsInvalidMaintenanceAction(err error) bool {
	return errors.Is(err, ErrInvalidMaintenanceAction)
}

func IsInvalidMaintenanceDays(err error) bool {
	return errors.Is(err, ErrInvalidMaintenanceDays)
}

func IsDispatchNotConfigured(err error) bool {
	return errors.Is(err, ErrDispatchNotConfigured)
}

func IsInvalidPage(err error) bool {
	return errors.Is(err, ErrInvalidPage)
}

func IsInvalidPageSize(err error) bool {
	return errors.Is(err, ErrInvalidPageSize)
}

// IsValidationError reports whether err is caused by bad input rather than state
func IsValidationError(err error) bool {
	return IsBroadcastInvalidAction(err) ||
		IsBroadcastAudienceEmpty(err) ||
		IsBroadcastMessageRequired(err) ||
		IsBroadcastMessageTooLong(err) ||
		IsInvalidJobStatus(err) ||
		IsInvalidMaintenanceAction(err) ||
		IsInvalidMaintenanceDays(err) ||
		IsInvalidPage(err) ||
		IsInvalidPageSize(err)
}
