package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrJobNotFound is returned when a job id is unknown.
	ErrJobNotFound = errors.New("job not found")

	// ErrUserNotFound is returned when a wallet has never submitted a job.
	ErrUserNotFound = errors.New("user not found")

	ErrInvalidWallet   = errors.New("invalid wallet address")
	ErrUnknownCategory = errors.New("unknown job type")
	ErrUnknownModel    = errors.New("unknown model")
	ErrInvalidInput    = errors.New("invalid job input")
	ErrInvalidAmount   = errors.New("invalid amount")

	// ErrInsufficientCredits is the admission failure.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrNotCancellable is returned when a job has already been handed to a worker.
	ErrNotCancellable = errors.New("job is already in flight and can no longer be cancelled")

	// ErrJobTerminal is returned when a callback targets a job that ended in another state.
	ErrJobTerminal = errors.New("job already reached a terminal state")

	// ErrInvalidTransition is returned for moves that are not edges of the state machine.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrJobNotReady is returned when a worker claims a job that is still PENDING.
	ErrJobNotReady = errors.New("job has not been queued yet")

	// ErrForbidden is returned when a wallet touches a job it does not own.
	ErrForbidden = errors.New("job belongs to another wallet")
)

// ValidationError reports a rejected request field.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// InsufficientCreditsError names the shortfall of a rejected admission.
type InsufficientCreditsError struct {
	Wallet    string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %s, available %s, short by %s",
		e.Required.String(), e.Available.String(), e.Shortfall().String())
}

func (e *InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}

// Shortfall is how many more credits the wallet would need.
func (e *InsufficientCreditsError) Shortfall() decimal.Decimal {
	s := e.Required.Sub(e.Available)
	if s.IsNegative() {
		return decimal.Zero
	}
	return s
}

// IsConflict reports whether err means the job state no longer allows the request.
func IsConflict(err error) bool {
	return errors.Is(err, ErrNotCancellable) ||
		errors.Is(err, ErrJobTerminal) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrJobNotReady)
}

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
