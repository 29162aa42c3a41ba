package outbox

import "time"

// DefaultBackoff is used when no schedule is configured.
var DefaultBackoff = BackoffSchedule{5 * time.Second, 30 * time.Second, 5 * time.Minute}

// BackoffSchedule lists the wait before each retry. Attempts past the end of
// the list reuse the last entry.
type BackoffSchedule []time.Duration

// Delay returns the wait after the given failed attempt (1-based).
func (s BackoffSchedule) Delay(attempt int) time.Duration {
	if len(s) == 0 {
		s = DefaultBackoff
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(s) {
		return s[len(s)-1]
	}
	return s[attempt-1]
}
