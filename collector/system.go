package collector

import (
	"context"
	"runtime"

	"schedview-agent/models"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Gathers OS and Uptime info
func collectSystemInfo(ctx context.Context, summary *models.HostSummary) {
	if hostInfo, err := host.InfoWithContext(ctx); err == nil {
		summary.System = models.SystemInfo{
			OS:     hostInfo.OS + " " + hostInfo.Platform + " " + hostInfo.PlatformVersion,
			Kernel: hostInfo.KernelVersion,
			Arch:   hostInfo.KernelArch,
		}
		summary.Uptime = hostInfo.Uptime
		if summary.Hostname == "" {
			summary.Hostname = hostInfo.Hostname
		}
	}
}

// Gathers CPU stats. Usage is measured since the previous call.
func collectCPUInfo(ctx context.Context, summary *models.HostSummary) {
	if percent, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percent) > 0 {
		summary.CPU.Percent = percent[0]
	}
	if count, err := cpu.CountsWithContext(ctx, true); err == nil {
		summary.CPU.Cores = count
	}
	if info, err := cpu.InfoWithContext(ctx); err == nil && len(info) > 0 {
		summary.CPU.Model = info[0].ModelName
	}
}

// Gathers Memory stats
func collectMemoryInfo(ctx context.Context, summary *models.HostSummary) {
	if memInfo, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		summary.Memory = models.MemoryInfo{
			Total:     memInfo.Total,
			Available: memInfo.Available,
			Used:      memInfo.Used,
			Percent:   memInfo.UsedPercent,
		}
	}
}

// Gathers Load Average (Unix only)
func collectLoadInfo(ctx context.Context, summary *models.HostSummary) {
	if runtime.GOOS == "windows" {
		return
	}
	if loadAvg, err := load.AvgWithContext(ctx); err == nil && loadAvg != nil {
		summary.Load = models.LoadInfo{
			Load1:  loadAvg.Load1,
			Load5:  loadAvg.Load5,
			Load15: loadAvg.Load15,
		}
	}
}
