package engine

import "math"

const (
	// ActivityThreshold is the CPU% above which a process counts as active
	ActivityThreshold = 1.0
	// SmoothingFactor is the EWMA weight of the newest CPU reading
	SmoothingFactor = 0.25

	minCPURuntime  = 1.0
	maxCPURuntime  = 20.0
	minMemRuntime  = 5.0
	baseMemRuntime = 10.0
	memMBPerSecond = 50.0
)

// Interactivity labels, highest band first
const (
	InteractivityRealTime = "real-time"
	InteractivityHigh     = "high"
	InteractivityMedium   = "medium"
	InteractivityLow      = "low"
	InteractivityVeryLow  = "very low"
)

// EstimateTotalRuntime maps the current CPU and memory reading to a runtime
// budget in seconds. Busy processes land in [1, 20]; idle ones fall back to
// a memory heuristic floored at 5.
func EstimateTotalRuntime(cpu float64, memKB uint64) float64 {
	if cpu > 0 {
		v := math.Round(minCPURuntime + (cpu/100)*(maxCPURuntime-minCPURuntime))
		return clamp(v, minCPURuntime, maxCPURuntime)
	}

	memMB := float64(memKB) / 1024
	return math.Max(math.Round(baseMemRuntime+memMB/memMBPerSecond), minMemRuntime)
}

// Classify returns the interactivity label for a smoothed CPU value
func Classify(smoothed float64) string {
	switch {
	case smoothed >= 70:
		return InteractivityRealTime
	case smoothed >= 25:
		return InteractivityHigh
	case smoothed >= 10:
		return InteractivityMedium
	case smoothed >= 5:
		return InteractivityLow
	default:
		return InteractivityVeryLow
	}
}

func ewma(prev, x float64) float64 {
	return SmoothingFactor*x + (1-SmoothingFactor)*prev
}

func progress(accumulated, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return clamp(accumulated/total*100, 0, 100)
}

func remaining(accumulated, total float64) float64 {
	if accumulated >= total {
		return 0
	}
	return math.Max(total-accumulated, 0)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
