package engine

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"schedview-agent/models"
)

type fakeEnumerator struct {
	mu      sync.Mutex
	entries []models.ProcessSnapshotEntry
	err     error
}

func (f *fakeEnumerator) set(entries ...models.ProcessSnapshotEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = entries
}

func (f *fakeEnumerator) Snapshot(context.Context) ([]models.ProcessSnapshotEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]models.ProcessSnapshotEntry(nil), f.entries...), nil
}

type fakeAnnotator struct {
	containers map[int32]string
	err        error
}

func (f fakeAnnotator) Containers(context.Context) (map[int32]string, error) {
	return f.containers, f.err
}

func proc(pid int32, cpu float64, memKB uint64) models.ProcessSnapshotEntry {
	return models.ProcessSnapshotEntry{
		PID:      pid,
		Name:     "proc",
		CPU:      cpu,
		MemoryKB: memKB,
		Status:   models.StatusRunning,
	}
}

func newTestEngine(opts ...Option) (*Engine, *StateStore, *fakeEnumerator, *clock.Mock) {
	mockClock := clock.NewMock()
	store := NewStateStore(mockClock)
	enum := &fakeEnumerator{}
	return New(enum, store, zap.NewNop(), opts...), store, enum, mockClock
}

func findRecord(t *testing.T, records []models.ProcessMetricsRecord, pid string) models.ProcessMetricsRecord {
	t.Helper()
	for _, r := range records {
		if r.PID == pid {
			return r
		}
	}
	require.Failf(t, "record not found", "pid %s", pid)
	return models.ProcessMetricsRecord{}
}

func TestPollFirstObservationAndFollowUp(t *testing.T) {
	e, store, enum, mockClock := newTestEngine()
	ctx := context.Background()

	enum.set(proc(42, 50, 1000))
	records, err := e.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "42", r.PID)
	assert.Equal(t, Priority, r.Priority)
	assert.Equal(t, "running", r.Status)
	assert.Equal(t, 11.0, r.TotalRuntime)
	assert.Equal(t, uint32(1), r.Wakeups)
	assert.Equal(t, 0.0, r.Progress)
	assert.Equal(t, 11.0, r.Remaining)
	assert.Equal(t, InteractivityHigh, r.Interactivity)

	mockClock.Add(2 * time.Second)
	records, err = e.Poll(ctx)
	require.NoError(t, err)

	r = records[0]
	assert.InDelta(t, 100.0/11.0, r.Progress, 1e-9)
	assert.InDelta(t, 10.0, r.Remaining, 1e-9)
	assert.Equal(t, uint32(1), r.Wakeups)

	st, ok, err := store.Get(ctx, 42)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 1.0, st.AccumulatedCPUSeconds, 1e-9)
	assert.InDelta(t, 50.0, st.SmoothedCPU, 1e-9)
	assert.Equal(t, mockClock.Now(), st.LastSeen)
}

func TestPollWakeCountsRisingEdgesOnly(t *testing.T) {
	e, _, enum, mockClock := newTestEngine()
	ctx := context.Background()

	steps := []struct {
		cpu   float64
		wakes uint32
	}{
		{50, 1},
		{0, 1},   // falling edge
		{0.5, 1}, // still below threshold
		{1.0, 1}, // threshold itself is not active
		{5, 2},   // rising edge
		{80, 2},
		{0, 2},
		{3, 3},
	}

	for i, step := range steps {
		enum.set(proc(7, step.cpu, 2048))
		records, err := e.Poll(ctx)
		require.NoError(t, err)
		assert.Equal(t, step.wakes, records[0].Wakeups, "step %d", i)
		mockClock.Add(time.Second)
	}
}

func TestPollFirstObservationBelowThreshold(t *testing.T) {
	e, _, enum, _ := newTestEngine()

	enum.set(proc(3, 0.5, 1024))
	records, err := e.Poll(context.Background())
	require.NoError(t, err)

	r := records[0]
	assert.Equal(t, uint32(0), r.Wakeups)
	assert.Equal(t, EstimateTotalRuntime(0.5, 1024), r.TotalRuntime)
	assert.Equal(t, r.TotalRuntime, r.Remaining)
	assert.Equal(t, InteractivityVeryLow, r.Interactivity)
}

func TestPollReapsVanishedProcesses(t *testing.T) {
	e, store, enum, mockClock := newTestEngine()
	ctx := context.Background()

	enum.set(proc(1, 60, 100), proc(2, 60, 100))
	_, err := e.Poll(ctx)
	require.NoError(t, err)

	mockClock.Add(10 * time.Second)
	enum.set(proc(1, 60, 100))
	_, err = e.Poll(ctx)
	require.NoError(t, err)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok, err := store.Get(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	// same PID comes back: no history reuse
	mockClock.Add(10 * time.Second)
	enum.set(proc(1, 60, 100), proc(2, 60, 100))
	records, err := e.Poll(ctx)
	require.NoError(t, err)

	back := findRecord(t, records, "2")
	assert.Equal(t, 0.0, back.Progress)
	assert.Equal(t, back.TotalRuntime, back.Remaining)
	assert.Equal(t, uint32(1), back.Wakeups)

	st, ok, err := store.Get(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Zero(t, st.AccumulatedCPUSeconds)

	kept := findRecord(t, records, "1")
	assert.Greater(t, kept.Progress, 0.0)
}

func TestPollEmptySnapshotClearsStore(t *testing.T) {
	e, store, enum, _ := newTestEngine()
	ctx := context.Background()

	enum.set(proc(1, 10, 10), proc(2, 20, 20), proc(3, 30, 30))
	_, err := e.Poll(ctx)
	require.NoError(t, err)

	enum.set()
	records, err := e.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPollSortsByDescendingCPU(t *testing.T) {
	e, _, enum, _ := newTestEngine()

	enum.set(
		proc(1, 3, 10),
		proc(2, 97.5, 10),
		proc(3, 0, 10),
		proc(4, 150, 10),
		proc(5, 3, 10),
	)
	records, err := e.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 5)

	for i := 1; i < len(records); i++ {
		assert.GreaterOrEqual(t, records[i-1].CPU, records[i].CPU)
	}
	assert.Equal(t, "4", records[0].PID)
	// stable for ties
	assert.Equal(t, "1", records[2].PID)
	assert.Equal(t, "5", records[3].PID)
}

func TestPollProgressIsNotMonotonic(t *testing.T) {
	e, _, enum, mockClock := newTestEngine()
	ctx := context.Background()

	enum.set(proc(9, 100, 10))
	_, err := e.Poll(ctx)
	require.NoError(t, err)

	mockClock.Add(4 * time.Second)
	records, err := e.Poll(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, records[0].Progress, 1e-9)
	assert.InDelta(t, 16.0, records[0].Remaining, 1e-9)

	// CPU collapses, the denominator shrinks below what was consumed
	mockClock.Add(time.Second)
	enum.set(proc(9, 5, 10))
	records, err = e.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2.0, records[0].TotalRuntime)
	assert.Equal(t, 100.0, records[0].Progress)
	assert.Equal(t, 0.0, records[0].Remaining)

	// and grows back: progress drops again
	mockClock.Add(time.Second)
	enum.set(proc(9, 100, 10))
	records, err = e.Poll(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 5.05/20*100, records[0].Progress, 1e-9)
	assert.InDelta(t, 20-5.05, records[0].Remaining, 1e-9)
}

func TestPollPropertiesUnderRandomLoad(t *testing.T) {
	e, store, enum, mockClock := newTestEngine()
	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))

	lastAcc := map[int32]float64{}
	lastWakes := map[int32]uint32{}

	for round := 0; round < 200; round++ {
		var entries []models.ProcessSnapshotEntry
		for pid := int32(1); pid <= 5; pid++ {
			cpu := 0.0
			if rng.Intn(3) > 0 {
				cpu = rng.Float64() * 120
			}
			entries = append(entries, proc(pid, cpu, uint64(rng.Intn(4_000_000))))
		}
		enum.set(entries...)
		mockClock.Add(time.Duration(rng.Intn(3000)) * time.Millisecond)

		records, err := e.Poll(ctx)
		require.NoError(t, err)

		for i, r := range records {
			if i > 0 {
				assert.GreaterOrEqual(t, records[i-1].CPU, r.CPU)
			}
			assert.GreaterOrEqual(t, r.Progress, 0.0)
			assert.LessOrEqual(t, r.Progress, 100.0)
			assert.GreaterOrEqual(t, r.Remaining, 0.0)
		}

		for pid := int32(1); pid <= 5; pid++ {
			st, ok, err := store.Get(ctx, pid)
			require.NoError(t, err)
			require.True(t, ok)

			assert.GreaterOrEqual(t, st.AccumulatedCPUSeconds, lastAcc[pid])
			assert.GreaterOrEqual(t, st.WakeCount, lastWakes[pid])
			assert.LessOrEqual(t, st.WakeCount-lastWakes[pid], uint32(1))
			lastAcc[pid] = st.AccumulatedCPUSeconds
			lastWakes[pid] = st.WakeCount

			total := EstimateTotalRuntime(entries[pid-1].CPU, entries[pid-1].MemoryKB)
			r := findRecord(t, records, strconv.Itoa(int(pid)))
			assert.Equal(t, st.AccumulatedCPUSeconds >= total, r.Remaining == 0)
		}
	}
}

func TestPollConcurrentCallers(t *testing.T) {
	e, store, enum, mockClock := newTestEngine()
	ctx := context.Background()
	enum.set(proc(1, 50, 10), proc(2, 25, 10))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_, err := e.Poll(ctx)
				assert.NoError(t, err)
			}
		}()
	}
	for i := 0; i < 20; i++ {
		mockClock.Add(100 * time.Millisecond)
	}
	wg.Wait()

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPollSnapshotFailure(t *testing.T) {
	e, _, enum, _ := newTestEngine()
	boom := errors.New("proc unreadable")
	enum.err = boom

	records, err := e.Poll(context.Background())
	assert.Nil(t, records)
	assert.ErrorIs(t, err, ErrSnapshot)
	assert.ErrorIs(t, err, boom)
}

func TestPollLockFailure(t *testing.T) {
	e, _, enum, _ := newTestEngine()
	enum.set(proc(1, 10, 10))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	records, err := e.Poll(ctx)
	assert.Nil(t, records)
	assert.ErrorIs(t, err, ErrStateLock)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPollLockTimeoutWhileHeld(t *testing.T) {
	e, store, enum, _ := newTestEngine()
	enum.set(proc(1, 10, 10))

	require.NoError(t, store.lock(context.Background()))
	defer store.unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := e.Poll(ctx)
	assert.ErrorIs(t, err, ErrStateLock)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPollAnnotatesContainers(t *testing.T) {
	annotator := fakeAnnotator{containers: map[int32]string{2: "redis"}}
	e, _, enum, _ := newTestEngine(WithAnnotator(annotator))
	enum.set(proc(1, 10, 10), proc(2, 5, 10))

	records, err := e.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", findRecord(t, records, "1").Container)
	assert.Equal(t, "redis", findRecord(t, records, "2").Container)
}

func TestPollAnnotationErrorIsNotFatal(t *testing.T) {
	annotator := fakeAnnotator{
		containers: map[int32]string{1: "web"},
		err:        errors.New("top failed for one container"),
	}
	e, _, enum, _ := newTestEngine(WithAnnotator(annotator))
	enum.set(proc(1, 10, 10))

	records, err := e.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "web", records[0].Container)
}
