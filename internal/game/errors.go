package game

import (
	"errors"
	"fmt"
)

// Error taxonomy surfaced to callers. Wrap with fmt.Errorf("...: %w", ErrX) to add context.
var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidState     = errors.New("invalid state")
	ErrConflict         = errors.New("conflict")
	ErrAlreadyInGame    = errors.New("already in game")
	ErrRateLimited      = errors.New("rate limited")
	ErrExecutionFailure = errors.New("execution failure")
	ErrInvalidInput     = errors.New("invalid input")
)

// RateLimitError carries the remaining cooldown in whole seconds.
type RateLimitError struct {
	Action     string
	RetryAfter int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limited: retry in %ds", e.Action, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}
