package domain

import "errors"

// Domain errors for the delivery system.
var (
	// ErrJobNotFound is returned when a delivery job cannot be found.
	ErrJobNotFound = errors.New("delivery job not found")

	// ErrJobNotPending is returned when a conditional update finds the job already terminal.
	ErrJobNotPending = errors.New("delivery job is not pending")

	// ErrUnsupportedMethod is returned when a job's delivery method has no channel.
	ErrUnsupportedMethod = errors.New("unsupported delivery method")

	// ErrInvalidDestination is returned when a destination cannot be addressed.
	ErrInvalidDestination = errors.New("invalid delivery destination")

	// ErrInvalidContent is returned when job content cannot be rendered by the channel.
	ErrInvalidContent = errors.New("invalid delivery content")

	// ErrRateLimited is returned when a destination has exceeded its send rate.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrCircuitOpen is returned when the circuit breaker is open for a destination.
	ErrCircuitOpen = errors.New("circuit breaker is open for destination")

	// ErrChannelUnavailable is returned when the messaging API cannot be reached.
	ErrChannelUnavailable = errors.New("delivery channel unavailable")

	// ErrDeliveryFailed is returned when the channel rejects a message.
	ErrDeliveryFailed = errors.New("delivery failed")

	// ErrStaleJob is the reason recorded when reconciliation fails a stuck job.
	ErrStaleJob = errors.New("delivery timed out: job stuck in pending state after exhausting retries")
)

// ValidationError represents a validation error with field details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) ValidationError {
	return ValidationError{
		Field:   field,
		Message: message,
	}
}
