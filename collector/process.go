package collector

import (
	"context"
	"fmt"
	"sync"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"schedview-agent/models"
)

// ProcessCollector lists live processes. Handles are kept between snapshots
// so Percent(0) reports CPU usage since the previous snapshot.
type ProcessCollector struct {
	mu      sync.Mutex
	handles map[int32]*process.Process
	log     *zap.Logger
}

func NewProcessCollector(log *zap.Logger) *ProcessCollector {
	return &ProcessCollector{
		handles: make(map[int32]*process.Process),
		log:     log,
	}
}

// Snapshot reads every live process. Processes that exit while being read
// are skipped.
func (c *ProcessCollector) Snapshot(ctx context.Context) ([]models.ProcessSnapshotEntry, error) {
	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	next := make(map[int32]*process.Process, len(pids))
	entries := make([]models.ProcessSnapshotEntry, 0, len(pids))
	skipped := 0

	for _, pid := range pids {
		p := c.handle(ctx, pid)
		if p == nil {
			skipped++
			continue
		}

		entry, err := readEntry(ctx, p)
		if err != nil {
			skipped++
			continue
		}

		next[pid] = p
		entries = append(entries, entry)
	}

	c.handles = next

	c.log.Debug("process snapshot",
		zap.Int("processes", len(entries)),
		zap.Int("skipped", skipped),
	)
	return entries, nil
}

// handle returns the cached handle for pid unless the PID was recycled
func (c *ProcessCollector) handle(ctx context.Context, pid int32) *process.Process {
	if p, ok := c.handles[pid]; ok {
		if running, err := p.IsRunningWithContext(ctx); err == nil && running {
			return p
		}
	}

	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil
	}
	return p
}

func readEntry(ctx context.Context, p *process.Process) (models.ProcessSnapshotEntry, error) {
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return models.ProcessSnapshotEntry{}, err
	}

	cpu, err := p.PercentWithContext(ctx, 0)
	if err != nil {
		cpu = 0
	}

	var memKB uint64
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		memKB = mem.RSS / 1024
	}

	status := models.StatusUnknown
	if raw, err := p.StatusWithContext(ctx); err == nil && len(raw) > 0 {
		status = models.ParseProcessStatus(raw[0])
	}

	createTime, err := p.CreateTimeWithContext(ctx)
	if err != nil {
		createTime = 0
	}

	return models.ProcessSnapshotEntry{
		PID:        p.Pid,
		Name:       name,
		CPU:        cpu,
		MemoryKB:   memKB,
		Status:     status,
		CreateTime: createTime,
	}, nil
}
