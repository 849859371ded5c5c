package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voyagen/guidevault/internal/models"
	"github.com/voyagen/guidevault/internal/service"
)

type fakeImporter struct {
	calls   atomic.Int32
	block   chan struct{}
	started chan struct{}
	err     error
}

func (f *fakeImporter) ImportAllEnabledProviders(ctx context.Context) ([]models.ImportLog, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return []models.ImportLog{{ID: 1, Status: models.ImportSuccess}}, nil
}

type fakeMaintainer struct {
	mu       sync.Mutex
	cleanups []int
	dedups   int
	err      error
}

func (f *fakeMaintainer) CleanupOldPrograms(_ context.Context, days int) (service.CleanupResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups = append(f.cleanups, days)
	return service.CleanupResult{ProgramsDeleted: 3}, f.err
}

func (f *fakeMaintainer) DeduplicatePrograms(context.Context, time.Duration, float64) (service.DedupStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dedups++
	return service.DedupStats{TotalRemoved: 1}, nil
}

func (f *fakeMaintainer) cleanupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cleanups)
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("03:30")
	require.NoError(t, err)
	assert.Equal(t, 3, h)
	assert.Equal(t, 30, m)

	for _, bad := range []string{"", "3", "24:00", "12:60", "ab:cd", "-1:00"} {
		_, _, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestNextAfter(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	s := New(Config{Hour: 3, Minute: 0, Location: berlin}, &fakeImporter{}, &fakeMaintainer{})

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"later today", time.Date(2025, 6, 15, 0, 30, 0, 0, berlin), time.Date(2025, 6, 15, 3, 0, 0, 0, berlin)},
		{"exactly now rolls over", time.Date(2025, 6, 15, 3, 0, 0, 0, berlin), time.Date(2025, 6, 16, 3, 0, 0, 0, berlin)},
		{"after today", time.Date(2025, 6, 15, 12, 0, 0, 0, berlin), time.Date(2025, 6, 16, 3, 0, 0, 0, berlin)},
		{"utc input", time.Date(2025, 6, 15, 2, 0, 0, 0, time.UTC), time.Date(2025, 6, 16, 3, 0, 0, 0, berlin)},
		{"month end", time.Date(2025, 6, 30, 23, 0, 0, 0, berlin), time.Date(2025, 7, 1, 3, 0, 0, 0, berlin)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.NextAfter(tt.now)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
		})
	}
}

func TestRunOnce(t *testing.T) {
	imp := &fakeImporter{}
	m := &fakeMaintainer{}
	s := New(Config{RetentionDays: 7, Dedup: true}, imp, m)

	res := s.RunOnce(context.Background(), TriggerManual)
	assert.Equal(t, TriggerManual, res.Trigger)
	assert.Equal(t, 1, res.Imports)
	require.NotNil(t, res.Cleanup)
	assert.Equal(t, int64(3), res.Cleanup.ProgramsDeleted)
	require.NotNil(t, res.Dedup)
	assert.Empty(t, res.Err)
	assert.Equal(t, []int{7}, m.cleanups)
	assert.Equal(t, 1, m.dedups)
	assert.Equal(t, &res, s.LastRun())
	assert.False(t, s.Running())
}

func TestRunOnce_CleanupRunsAfterImportFailure(t *testing.T) {
	imp := &fakeImporter{err: errors.New("db down")}
	m := &fakeMaintainer{}
	s := New(Config{RetentionDays: 3}, imp, m)

	res := s.RunOnce(context.Background(), TriggerScheduled)
	assert.Contains(t, res.Err, "db down")
	assert.Equal(t, []int{3}, m.cleanups)
	assert.Equal(t, 0, m.dedups, "dedup is off by default")
}

func TestRunOnce_CleanupFailureSkipsDedup(t *testing.T) {
	m := &fakeMaintainer{err: &service.MaintenanceError{Op: "cleanup programmes", Err: errors.New("boom")}}
	s := New(Config{Dedup: true}, &fakeImporter{}, m)

	res := s.RunOnce(context.Background(), TriggerScheduled)
	assert.Contains(t, res.Err, "boom")
	assert.Nil(t, res.Cleanup)
	assert.Equal(t, 0, m.dedups)
}

func TestServe_DailyTimer(t *testing.T) {
	fire := make(chan time.Time)
	var waits []time.Duration
	var mu sync.Mutex
	now := time.Date(2025, 6, 15, 2, 0, 0, 0, time.UTC)
	after := func(d time.Duration) <-chan time.Time {
		mu.Lock()
		waits = append(waits, d)
		mu.Unlock()
		return fire
	}
	imp := &fakeImporter{}
	m := &fakeMaintainer{}
	s := New(Config{Hour: 3, RetentionDays: 7}, imp, m, WithClock(func() time.Time { return now }, after))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	fire <- now
	require.Eventually(t, func() bool { return m.cleanupCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), imp.calls.Load())
	assert.Equal(t, time.Date(2025, 6, 15, 3, 0, 0, 0, time.UTC), s.NextRunTime())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, waits)
	assert.Equal(t, time.Hour, waits[0])
}

func TestServe_ManualTriggersCoalesce(t *testing.T) {
	never := make(chan time.Time)
	imp := &fakeImporter{block: make(chan struct{}), started: make(chan struct{}, 4)}
	m := &fakeMaintainer{}
	s := New(Config{Hour: 3}, imp, m, WithClock(nil, func(time.Duration) <-chan time.Time { return never }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	require.True(t, s.TriggerNow())
	<-imp.started
	assert.True(t, s.Running())

	// One slot: the first request while running is pending, the rest fold into it.
	assert.True(t, s.TriggerNow())
	assert.False(t, s.TriggerNow())
	assert.False(t, s.TriggerNow())

	imp.block <- struct{}{}
	<-imp.started
	imp.block <- struct{}{}
	require.Eventually(t, func() bool { return m.cleanupCount() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), imp.calls.Load())

	cancel()
	<-done
}

func TestNextRunTime_BeforeServe(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	s := New(Config{Hour: 3, Minute: 15}, &fakeImporter{}, &fakeMaintainer{}, WithClock(func() time.Time { return now }, nil))
	assert.Equal(t, time.Date(2025, 6, 16, 3, 15, 0, 0, time.UTC), s.NextRunTime())
	assert.Nil(t, s.LastRun())
}
