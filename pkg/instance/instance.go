package instance

import (
	"os"

	"github.com/angelmondragon/shopcore-backend/pkg/env"
)

// EnvWorkerID overrides the identifier a process reports for itself.
const EnvWorkerID = "SHOPCORE_WORKER_ID"

// GetID returns the process identifier used as the owner prefix of
// distributed locks and in worker logs. It falls back to the hostname.
func GetID() string {
	if id := env.Get(EnvWorkerID, ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
