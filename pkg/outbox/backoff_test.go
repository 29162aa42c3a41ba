package outbox

import (
	"strings"
	"testing"
	"time"
)

func TestBackoffScheduleDelay(t *testing.T) {
	s := BackoffSchedule{5 * time.Second, 30 * time.Second, 5 * time.Minute}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 5 * time.Second},
		{2, 30 * time.Second},
		{3, 5 * time.Minute},
		{10, 5 * time.Minute},
	}
	for _, tc := range cases {
		if got := s.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestBackoffScheduleIsMonotonic(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 1; attempt <= 20; attempt++ {
		d := DefaultBackoff.Delay(attempt)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %v < %v", attempt, d, prev)
		}
		prev = d
	}
	if got := BackoffSchedule(nil).Delay(1); got != DefaultBackoff[0] {
		t.Fatalf("empty schedule should fall back to default, got %v", got)
	}
}

func TestSanitizeError(t *testing.T) {
	cases := map[string]string{
		"Authorization: Bearer eyJhbGciOi.abc.def failed":   "Bearer [REDACTED]",
		"dial postgres://relay:s3cret@db:5432/relay failed": "relay:[REDACTED]@db",
		`{"password":"hunter2"}`:                            `"password":"[REDACTED]`,
		"notify ops@example.com failed":                     "notify [EMAIL] failed",
		"api_key=sk_live_123 rejected":                      "api_key=[REDACTED] rejected",
	}
	for in, want := range cases {
		got := SanitizeError(in)
		if !strings.Contains(got, want) {
			t.Errorf("SanitizeError(%q) = %q, want it to contain %q", in, got, want)
		}
	}

	long := strings.Repeat("é", 600)
	if got := []rune(SanitizeError(long)); len(got) != maxErrorRunes {
		t.Fatalf("expected %d runes, got %d", maxErrorRunes, len(got))
	}
}
