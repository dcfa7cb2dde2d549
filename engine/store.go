package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/semaphore"

	"schedview-agent/models"
)

// TrackingState is what the engine remembers about a PID between polls
type TrackingState struct {
	LastSeen              time.Time
	AccumulatedCPUSeconds float64
	WakeCount             uint32
	WasActive             bool
	SmoothedCPU           float64
	CreateTime            int64
}

// Sample is the outcome of one state update
type Sample struct {
	AccumulatedCPUSeconds float64
	SmoothedCPU           float64
	WakeCount             uint32
	Progress              float64
	Remaining             float64
	Interactivity         string
}

// StateStore holds tracking state keyed by PID. A single-slot semaphore
// serves as the lock so waiting on it honours the caller's context.
type StateStore struct {
	sem    *semaphore.Weighted
	clock  clock.Clock
	states map[int32]*TrackingState
}

func NewStateStore(clk clock.Clock) *StateStore {
	if clk == nil {
		clk = clock.New()
	}
	return &StateStore{
		sem:    semaphore.NewWeighted(1),
		clock:  clk,
		states: make(map[int32]*TrackingState),
	}
}

func (s *StateStore) lock(ctx context.Context) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %w", ErrStateLock, err)
	}
	return nil
}

func (s *StateStore) unlock() {
	s.sem.Release(1)
}

// Update advances the state of entry.PID by the time elapsed since it was
// last seen, creating the state on first observation.
func (s *StateStore) Update(ctx context.Context, entry models.ProcessSnapshotEntry, total float64) (Sample, error) {
	if err := s.lock(ctx); err != nil {
		return Sample{}, err
	}
	defer s.unlock()

	now := s.clock.Now()
	cpu := math.Max(entry.CPU, 0)
	active := cpu > ActivityThreshold

	st, ok := s.states[entry.PID]
	if ok && st.CreateTime != 0 && entry.CreateTime != 0 && st.CreateTime != entry.CreateTime {
		// PID was recycled between two polls
		delete(s.states, entry.PID)
		ok = false
	}

	if !ok {
		st = &TrackingState{
			LastSeen:    now,
			WasActive:   active,
			SmoothedCPU: cpu,
			CreateTime:  entry.CreateTime,
		}
		if active {
			st.WakeCount = 1
		}
		s.states[entry.PID] = st

		return Sample{
			SmoothedCPU:   st.SmoothedCPU,
			WakeCount:     st.WakeCount,
			Progress:      0,
			Remaining:     total,
			Interactivity: Classify(st.SmoothedCPU),
		}, nil
	}

	elapsed := math.Max(now.Sub(st.LastSeen).Seconds(), 0)
	st.AccumulatedCPUSeconds += (cpu / 100) * elapsed
	st.SmoothedCPU = ewma(st.SmoothedCPU, cpu)

	if active && !st.WasActive {
		st.WakeCount++
	}
	st.WasActive = active
	if now.After(st.LastSeen) {
		st.LastSeen = now
	}

	return Sample{
		AccumulatedCPUSeconds: st.AccumulatedCPUSeconds,
		SmoothedCPU:           st.SmoothedCPU,
		WakeCount:             st.WakeCount,
		Progress:              progress(st.AccumulatedCPUSeconds, total),
		Remaining:             remaining(st.AccumulatedCPUSeconds, total),
		Interactivity:         Classify(st.SmoothedCPU),
	}, nil
}

// Reap drops state for every PID not in live and returns how many were dropped.
func (s *StateStore) Reap(ctx context.Context, live map[int32]struct{}) (int, error) {
	if err := s.lock(ctx); err != nil {
		return 0, err
	}
	defer s.unlock()

	evicted := 0
	for pid := range s.states {
		if _, ok := live[pid]; !ok {
			delete(s.states, pid)
			evicted++
		}
	}
	return evicted, nil
}

// Get returns a copy of the state tracked for pid.
func (s *StateStore) Get(ctx context.Context, pid int32) (TrackingState, bool, error) {
	if err := s.lock(ctx); err != nil {
		return TrackingState{}, false, err
	}
	defer s.unlock()

	st, ok := s.states[pid]
	if !ok {
		return TrackingState{}, false, nil
	}
	return *st, true, nil
}

// Len reports the number of tracked PIDs.
func (s *StateStore) Len(ctx context.Context) (int, error) {
	if err := s.lock(ctx); err != nil {
		return 0, err
	}
	defer s.unlock()
	return len(s.states), nil
}
