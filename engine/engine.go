// Package engine turns raw process snapshots into synthetic scheduling
// metrics: runtime budget, progress, remaining time, interactivity and wake
// counts. State lives in a StateStore that outlives individual polls.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"schedview-agent/models"
)

// Priority is reported for every process; there is no portable priority to read.
const Priority = 1

var (
	ErrStateLock = errors.New("state store lock unavailable")
	ErrSnapshot  = errors.New("process snapshot failed")
)

// Enumerator lists the live processes of the host
type Enumerator interface {
	Snapshot(ctx context.Context) ([]models.ProcessSnapshotEntry, error)
}

// Annotator resolves PIDs to container names. Failures only cost the annotation.
type Annotator interface {
	Containers(ctx context.Context) (map[int32]string, error)
}

type Engine struct {
	enumerator Enumerator
	store      *StateStore
	annotator  Annotator
	log        *zap.Logger
}

type Option func(*Engine)

func WithAnnotator(a Annotator) Option {
	return func(e *Engine) {
		e.annotator = a
	}
}

func New(enumerator Enumerator, store *StateStore, log *zap.Logger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		enumerator: enumerator,
		store:      store,
		log:        log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Poll takes a snapshot, advances the state of every live process, evicts
// state of exited ones and returns the records sorted by descending CPU.
func (e *Engine) Poll(ctx context.Context) ([]models.ProcessMetricsRecord, error) {
	entries, err := e.enumerator.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSnapshot, err)
	}

	records := make([]models.ProcessMetricsRecord, 0, len(entries))
	live := make(map[int32]struct{}, len(entries))

	for _, entry := range entries {
		live[entry.PID] = struct{}{}

		total := EstimateTotalRuntime(entry.CPU, entry.MemoryKB)
		sample, err := e.store.Update(ctx, entry, total)
		if err != nil {
			return nil, err
		}
		records = append(records, newRecord(entry, total, sample))
	}

	evicted, err := e.store.Reap(ctx, live)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CPU > records[j].CPU
	})

	e.annotate(ctx, records)

	e.log.Debug("poll complete",
		zap.Int("processes", len(records)),
		zap.Int("evicted", evicted),
	)
	return records, nil
}

func (e *Engine) annotate(ctx context.Context, records []models.ProcessMetricsRecord) {
	if e.annotator == nil {
		return
	}

	containers, err := e.annotator.Containers(ctx)
	if err != nil {
		e.log.Warn("container annotation incomplete", zap.Error(err))
	}
	if len(containers) == 0 {
		return
	}

	for i := range records {
		pid, err := strconv.ParseInt(records[i].PID, 10, 32)
		if err != nil {
			continue
		}
		records[i].Container = containers[int32(pid)]
	}
}

func newRecord(entry models.ProcessSnapshotEntry, total float64, s Sample) models.ProcessMetricsRecord {
	return models.ProcessMetricsRecord{
		PID:           strconv.FormatInt(int64(entry.PID), 10),
		Name:          entry.Name,
		Priority:      Priority,
		CPU:           entry.CPU,
		Memory:        entry.MemoryKB,
		Status:        string(entry.Status),
		Interactivity: s.Interactivity,
		Progress:      s.Progress,
		Wakeups:       s.WakeCount,
		TotalRuntime:  total,
		Remaining:     s.Remaining,
	}
}
