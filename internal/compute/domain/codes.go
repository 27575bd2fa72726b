package domain

import "errors"

// Error codes travel in API error bodies so remote callers, such as the
// worker service, can recover the sentinel errors.
const (
	CodeValidation          = "validation_failed"
	CodeInsufficientCredits = "insufficient_credits"
	CodeForbidden           = "forbidden"
	CodeJobNotFound         = "job_not_found"
	CodeUserNotFound        = "user_not_found"
	CodeNotCancellable      = "not_cancellable"
	CodeJobTerminal         = "job_terminal"
	CodeInvalidTransition   = "invalid_transition"
	CodeJobNotReady         = "job_not_ready"
	CodeRateLimited         = "rate_limited"
	CodeUnauthorized        = "unauthorized"
	CodeInternal            = "internal_error"
)

var codeErrors = []struct {
	code string
	err  error
}{
	{CodeInsufficientCredits, ErrInsufficientCredits},
	{CodeForbidden, ErrForbidden},
	{CodeJobNotFound, ErrJobNotFound},
	{CodeUserNotFound, ErrUserNotFound},
	{CodeNotCancellable, ErrNotCancellable},
	{CodeJobTerminal, ErrJobTerminal},
	{CodeJobNotReady, ErrJobNotReady},
	{CodeInvalidTransition, ErrInvalidTransition},
}

// ErrorCode maps err to its API code.
func ErrorCode(err error) string {
	if IsValidation(err) {
		return CodeValidation
	}
	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			return ce.code
		}
	}
	return CodeInternal
}

// ErrorForCode returns the sentinel error behind code, or nil.
func ErrorForCode(code string) error {
	for _, ce := range codeErrors {
		if ce.code == code {
			return ce.err
		}
	}
	return nil
}
