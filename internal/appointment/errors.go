package appointment

import (
	"errors"
	"fmt"
)

// Error classes. Callers match with errors.Is; anything else is an internal fault.
var (
	ErrValidation              = errors.New("validation failed")
	ErrInvalidInput            = errors.New("invalid input")
	ErrInvalidRange            = errors.New("invalid date range")
	ErrNotFound                = errors.New("not found")
	ErrForbidden               = errors.New("forbidden")
	ErrCapacityExceeded        = errors.New("capacity exceeded")
	ErrDayNotAvailable         = errors.New("day is not available for booking")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrDateBusy                = errors.New("date is being booked, please retry")
)

var (
	ErrAppointmentNotFound  = fmt.Errorf("appointment %w", ErrNotFound)
	ErrAvailableDayNotFound = fmt.Errorf("available day %w", ErrNotFound)
	ErrUserNotFound         = fmt.Errorf("user %w", ErrNotFound)
	ErrNoSlotsLeft          = fmt.Errorf("%w: no slots left for this day", ErrCapacityExceeded)
	ErrReasonRequired       = fmt.Errorf("%w: reason is required to flag an appointment", ErrValidation)
)
