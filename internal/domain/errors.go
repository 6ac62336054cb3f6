package domain

import "errors"

// Domain errors
var (
	// Conflict errors: surfaced to the caller, never retried
	ErrSeatLocked            = errors.New("seat is locked by another user")
	ErrPromotionAlreadyUsed  = errors.New("promotion already used by this user")
	ErrInvalidBookingState   = errors.New("booking is not in a valid state for this operation")
	ErrTransactionNotPending = errors.New("payment transaction is not pending")
	ErrBookingAlreadyExists  = errors.New("booking already exists")

	// ErrTransactionExists is returned when a booking already has a payment transaction
	ErrTransactionExists = errors.New("payment transaction already exists")

	// Not found errors
	ErrBookingNotFound     = errors.New("booking not found")
	ErrTransactionNotFound = errors.New("payment transaction not found")
	ErrPromotionNotFound   = errors.New("promotion not found")

	// Transient errors: retried by consumers, 503 over HTTP
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrConcurrentUpdate      = errors.New("booking was concurrently updated")

	// ErrVersionConflict is returned by repositories when the optimistic version check fails
	ErrVersionConflict = errors.New("version conflict")

	// ErrIllegalTransition marks an attempted transition out of a terminal state
	ErrIllegalTransition = errors.New("illegal booking transition")

	// Validation errors
	ErrPromotionInvalid  = errors.New("promotion code is invalid")
	ErrInvalidUserID     = errors.New("invalid user id")
	ErrInvalidShowtimeID = errors.New("invalid showtime id")
	ErrInvalidBookingID  = errors.New("invalid booking id")
	ErrNoSeats           = errors.New("at least one seat is required")
	ErrDuplicateSeat     = errors.New("seat requested more than once")
	ErrInvalidQuantity   = errors.New("quantity must be greater than zero")
	ErrInvalidAmount     = errors.New("amount cannot be negative")
	ErrForbidden         = errors.New("booking belongs to another user")
)

// IsConflict checks if the error is a business conflict
func IsConflict(err error) bool {
	return errors.Is(err, ErrSeatLocked) ||
		errors.Is(err, ErrPromotionAlreadyUsed) ||
		errors.Is(err, ErrInvalidBookingState) ||
		errors.Is(err, ErrTransactionNotPending) ||
		errors.Is(err, ErrBookingAlreadyExists)
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBookingNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrPromotionNotFound)
}

// IsDependencyUnavailable checks if the error is transient and worth retrying
func IsDependencyUnavailable(err error) bool {
	return errors.Is(err, ErrDependencyUnavailable) ||
		errors.Is(err, ErrConcurrentUpdate)
}

// IsInvariantViolation checks if the error is an attempted illegal transition
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrIllegalTransition)
}

// IsValidation checks if the error is a request validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrPromotionInvalid) ||
		errors.Is(err, ErrInvalidUserID) ||
		errors.Is(err, ErrInvalidShowtimeID) ||
		errors.Is(err, ErrInvalidBookingID) ||
		errors.Is(err, ErrNoSeats) ||
		errors.Is(err, ErrDuplicateSeat) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidAmount)
}
