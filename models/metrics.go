package models

import "time"

// SystemInfo holds OS details
type SystemInfo struct {
	OS     string `json:"os"`
	Kernel string `json:"kernel"`
	Arch   string `json:"arch"`
}

// CPUInfo holds CPU stats
type CPUInfo struct {
	Percent float64 `json:"percent"`
	Model   string  `json:"model"`
	Cores   int     `json:"cores"`
}

// MemoryInfo holds RAM stats
type MemoryInfo struct {
	Total     uint64  `json:"total"`
	Available uint64  `json:"available"`
	Used      uint64  `json:"used"`
	Percent   float64 `json:"percent"`
}

// LoadInfo holds Load Average stats (Unix only)
type LoadInfo struct {
	Load1  float64 `json:"load1"`
	Load5  float64 `json:"load5"`
	Load15 float64 `json:"load15"`
}

// HostSummary is the header shown above the process table
type HostSummary struct {
	Timestamp time.Time  `json:"timestamp"`
	Hostname  string     `json:"hostname"`
	System    SystemInfo `json:"system"`
	Uptime    uint64     `json:"uptime"`
	CPU       CPUInfo    `json:"cpu"`
	Memory    MemoryInfo `json:"memory"`
	Load      LoadInfo   `json:"load"`
}

// PollReport is one poll result as pushed to the remote API and the websocket stream
type PollReport struct {
	Timestamp time.Time              `json:"timestamp"`
	Hostname  string                 `json:"hostname"`
	Processes []ProcessMetricsRecord `json:"processes"`
}

// PollPayload is the flat payload sent to API
type PollPayload struct {
	Hostname     string                 `json:"hostname"`
	Timestamp    int64                  `json:"timestamp"`
	ProcessCount int                    `json:"processCount"`
	TopCPU       float64                `json:"topCpu"`
	Processes    []ProcessMetricsRecord `json:"processes"`
}

// ToPayload converts PollReport to PollPayload
func (r *PollReport) ToPayload() *PollPayload {
	topCPU := 0.0
	if len(r.Processes) > 0 {
		topCPU = r.Processes[0].CPU
	}
	return &PollPayload{
		Hostname:     r.Hostname,
		Timestamp:    r.Timestamp.UnixMilli(),
		ProcessCount: len(r.Processes),
		TopCPU:       topCPU,
		Processes:    r.Processes,
	}
}
