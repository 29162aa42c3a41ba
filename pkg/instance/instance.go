package instance

import (
	"fmt"
	"os"

	"github.com/angelmondragon/backoffice-relay/pkg/env"
)

// GetID returns the identifier a worker stamps on the leases it holds. It
// prefers RELAY_WORKER_ID (or WORKER_ID) and falls back to hostname-pid so two replicas on
// one host never share an owner.
func GetID() string {
	if id := env.First("", "RELAY_WORKER_ID", "WORKER_ID"); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
