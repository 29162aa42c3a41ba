package outbox

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const maxErrorRunes = 512

var redactions = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)(bearer|basic)\s+[A-Za-z0-9\-._~+/=]+`), "$1 [REDACTED]"},
	{regexp.MustCompile(`(?i)(password|passwd|pwd|secret|token|api[_-]?key)(["']?\s*[:=]\s*["']?)[^\s"'&,;]+`), "$1$2[REDACTED]"},
	{regexp.MustCompile(`(?i)://([^:/@\s]+):([^@/\s]+)@`), "://$1:[REDACTED]@"},
	{regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`), "[EMAIL]"},
}

// SanitizeError redacts credentials and email addresses from a delivery error
// and truncates it to 512 runes.
func SanitizeError(msg string) string {
	msg = strings.TrimSpace(msg)
	for _, r := range redactions {
		msg = r.re.ReplaceAllString(msg, r.repl)
	}
	if utf8.RuneCountInString(msg) <= maxErrorRunes {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:maxErrorRunes])
}

func sanitizedPtr(err error) *string {
	if err == nil {
		return nil
	}
	msg := SanitizeError(err.Error())
	return &msg
}
