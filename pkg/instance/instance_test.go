package instance

import (
	"fmt"
	"os"
	"strings"
	"testing"
)

func TestGetIDPrefersEnv(t *testing.T) {
	t.Setenv("RELAY_WORKER_ID", "publisher-a")
	if got := GetID(); got != "publisher-a" {
		t.Fatalf("expected env id, got %q", got)
	}
}

func TestGetIDFallsBackToHostAndPID(t *testing.T) {
	t.Setenv("RELAY_WORKER_ID", "")
	t.Setenv("WORKER_ID", "")
	got := GetID()
	if !strings.HasSuffix(got, fmt.Sprintf("-%d", os.Getpid())) {
		t.Fatalf("expected pid suffix, got %q", got)
	}
}
