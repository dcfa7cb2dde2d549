// Package collector reads the host: the live process table for the engine,
// a host summary for the UI header and, when Docker is reachable, which
// container each process belongs to.
package collector

import (
	"context"
	"os"
	"time"

	"schedview-agent/models"
)

// CollectHostSummary gathers the host-wide figures shown above the process table
func CollectHostSummary(ctx context.Context) models.HostSummary {
	summary := models.HostSummary{
		Timestamp: time.Now(),
	}

	hostname, _ := os.Hostname()
	summary.Hostname = hostname

	collectSystemInfo(ctx, &summary)
	collectCPUInfo(ctx, &summary)
	collectMemoryInfo(ctx, &summary)
	collectLoadInfo(ctx, &summary)

	return summary
}
