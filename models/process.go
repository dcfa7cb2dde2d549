package models

import "strings"

// ProcessStatus is the lifecycle state reported for a process
type ProcessStatus string

const (
	StatusRunning  ProcessStatus = "running"
	StatusSleeping ProcessStatus = "sleeping"
	StatusIdle     ProcessStatus = "idle"
	StatusStopped  ProcessStatus = "stopped"
	StatusZombie   ProcessStatus = "zombie"
	StatusTracing  ProcessStatus = "tracing"
	StatusUnknown  ProcessStatus = "unknown"
)

// ParseProcessStatus maps a raw platform status (gopsutil names or the
// single-letter codes from /proc/<pid>/stat) onto ProcessStatus.
func ParseProcessStatus(raw string) ProcessStatus {
	raw = strings.TrimSpace(raw)

	// /proc uses "T" for stopped and "t" for stopped under a tracer
	switch raw {
	case "T":
		return StatusStopped
	case "t":
		return StatusTracing
	}

	switch strings.ToLower(raw) {
	case "running", "r":
		return StatusRunning
	case "sleep", "sleeping", "s", "wait", "w", "blocked", "d", "lock", "l":
		return StatusSleeping
	case "idle", "i":
		return StatusIdle
	case "stop", "stopped":
		return StatusStopped
	case "zombie", "z":
		return StatusZombie
	case "tracing", "trace", "tracing stop":
		return StatusTracing
	default:
		return StatusUnknown
	}
}

// ProcessSnapshotEntry is one live process as read from the OS
type ProcessSnapshotEntry struct {
	PID        int32
	Name       string
	CPU        float64
	MemoryKB   uint64
	Status     ProcessStatus
	CreateTime int64 // ms since epoch, 0 when unknown
}

// ProcessMetricsRecord is the per-process row served to the UI
type ProcessMetricsRecord struct {
	PID           string  `json:"pid"`
	Name          string  `json:"name"`
	Priority      int     `json:"priority"`
	CPU           float64 `json:"cpu"`
	Memory        uint64  `json:"memory"`
	Status        string  `json:"status"`
	Interactivity string  `json:"interactivity"`
	Progress      float64 `json:"progress"`
	Wakeups       uint32  `json:"wakeups"`
	TotalRuntime  float64 `json:"totalRuntime"`
	Remaining     float64 `json:"remaining"`
	Container     string  `json:"container,omitempty"`
}
