package game

import (
	"math"
	"time"
)

// Rate-limited action classes.
const (
	ActionPrompt = "prompt"
	ActionTest   = "test"
	ActionSubmit = "submission"
)

// CanAct reports whether an action gated by cooldown may run at now.
// A nil lastActionAt means the action was never taken.
func CanAct(lastActionAt *time.Time, cooldown time.Duration, now time.Time) bool {
	if lastActionAt == nil {
		return true
	}
	return !now.Before(lastActionAt.Add(cooldown))
}

// RemainingWait returns ceil((lastActionAt + cooldown) - now) in seconds, never negative.
func RemainingWait(lastActionAt *time.Time, cooldown time.Duration, now time.Time) int {
	if lastActionAt == nil {
		return 0
	}
	left := lastActionAt.Add(cooldown).Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Seconds()))
}

// checkRate returns a *RateLimitError when the cooldown has not elapsed.
func checkRate(action string, lastActionAt *time.Time, cooldown time.Duration, now time.Time) error {
	if CanAct(lastActionAt, cooldown, now) {
		return nil
	}
	return &RateLimitError{Action: action, RetryAfter: RemainingWait(lastActionAt, cooldown, now)}
}
