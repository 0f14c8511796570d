package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baxromumarov/telemetry-relay/internal/sink"
	"github.com/baxromumarov/telemetry-relay/internal/store"
	"github.com/baxromumarov/telemetry-relay/internal/telemetry"
)

type fakeSource struct {
	records []telemetry.RawRecord
	err     error
	block   chan struct{}
}

func (f *fakeSource) Fetch(ctx context.Context) ([]telemetry.RawRecord, error) {
	if f.block != nil {
		<-f.block
	}
	return f.records, f.err
}

type fakeSink struct {
	mu        sync.Mutex
	submitted [][]telemetry.Record
	submitErr error
	total     int
	countErr  error
}

func (f *fakeSink) Submit(_ context.Context, records []telemetry.Record) (sink.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return sink.Receipt{Requests: 1}, f.submitErr
	}
	f.submitted = append(f.submitted, records)
	f.total += len(records)
	return sink.Receipt{RecordsAdded: len(records), Requests: 1, Status: 201}, nil
}

func (f *fakeSink) Count(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total, f.countErr
}

type fakeStore struct {
	mu        sync.Mutex
	created   []store.Run
	finished  []store.Run
	snapshots map[string][]telemetry.Record
}

func (f *fakeStore) CreateRun(_ context.Context, run store.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, run)
	return nil
}

func (f *fakeStore) FinishRun(_ context.Context, run store.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, run)
	return nil
}

func (f *fakeStore) SaveSnapshots(_ context.Context, runID string, records []telemetry.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapshots == nil {
		f.snapshots = map[string][]telemetry.Record{}
	}
	f.snapshots[runID] = records
	return nil
}

func sampleBatch() []telemetry.RawRecord {
	return []telemetry.RawRecord{
		{"VehicleName": "Truck-12-07", "Speed": "42.5", "DataDateTime": "25/09/29 10:00:00"},
		{"VehicleName": "Van 1207", "Speed": "<nil>", "DataDateTime": "25/09/29 10:01:00"},
		{"VehicleName": "Alpha", "Speed": "", "DataDateTime": "25/09/28 23:59:00"},
	}
}

func TestRunOnce_RelaysNormalizedBatch(t *testing.T) {
	src := &fakeSource{records: sampleBatch()}
	dst := &fakeSink{total: 229}
	st := &fakeStore{}

	svc := NewRelayService(src, dst, st, RelayOptions{})
	run, err := svc.RunOnce(context.Background(), TriggerStartup)
	require.NoError(t, err)

	assert.Equal(t, store.RunCompleted, run.Status)
	assert.Equal(t, 3, run.VehicleCount)
	assert.Equal(t, 3, run.FilteredCount)
	assert.Equal(t, 3, run.RecordsAdded)
	require.NotNil(t, run.SinkTotal)
	assert.Equal(t, 232, *run.SinkTotal)
	require.NotNil(t, run.FinishedAt)

	require.Len(t, dst.submitted, 1)
	sent := dst.submitted[0]
	assert.Equal(t, 1207.0, sent[0].VehicleCD)
	assert.Equal(t, 1208.0, sent[1].VehicleCD)
	assert.Equal(t, 42.5, *sent[0].Speed)
	assert.Equal(t, 0.0, *sent[1].Speed)

	require.Len(t, st.created, 1)
	require.Len(t, st.finished, 1)
	assert.Equal(t, store.RunRunning, st.created[0].Status)
	assert.Equal(t, store.RunCompleted, st.finished[0].Status)
	assert.Len(t, st.snapshots[run.ID], 3)

	got, ok := svc.Run(run.ID)
	require.True(t, ok)
	assert.Equal(t, store.RunCompleted, got.Status)
}

func TestRunOnce_DateFilterToday(t *testing.T) {
	src := &fakeSource{records: sampleBatch()}
	dst := &fakeSink{}

	svc := NewRelayService(src, dst, nil, RelayOptions{DateFilter: "today"})
	svc.now = func() time.Time { return time.Date(2025, 9, 29, 12, 0, 0, 0, time.UTC) }

	run, err := svc.RunOnce(context.Background(), TriggerSchedule)
	require.NoError(t, err)
	assert.Equal(t, 3, run.VehicleCount)
	assert.Equal(t, 2, run.FilteredCount)
	assert.Equal(t, 2, run.RecordsAdded)
}

func TestRunOnce_EmptyFeedSkipsSink(t *testing.T) {
	dst := &fakeSink{}
	svc := NewRelayService(&fakeSource{}, dst, nil, RelayOptions{})

	run, err := svc.RunOnce(context.Background(), TriggerSchedule)
	require.NoError(t, err)
	assert.Equal(t, store.RunCompleted, run.Status)
	assert.Empty(t, dst.submitted)
	assert.Nil(t, run.SinkTotal)
}

func TestRunOnce_FeedFailureMarksRunFailed(t *testing.T) {
	st := &fakeStore{}
	svc := NewRelayService(&fakeSource{err: errors.New("feed fetch failed: connection refused")}, &fakeSink{}, st, RelayOptions{})

	run, err := svc.RunOnce(context.Background(), TriggerSchedule)
	require.Error(t, err)
	assert.Equal(t, store.RunFailed, run.Status)
	assert.Contains(t, run.Error, "connection refused")
	require.Len(t, st.finished, 1)
	assert.Equal(t, store.RunFailed, st.finished[0].Status)
}

func TestRunOnce_SinkFailureMarksRunFailed(t *testing.T) {
	dst := &fakeSink{submitErr: errors.New("sink submit failed")}
	svc := NewRelayService(&fakeSource{records: sampleBatch()}, dst, nil, RelayOptions{})

	run, err := svc.RunOnce(context.Background(), TriggerSchedule)
	require.Error(t, err)
	assert.Equal(t, store.RunFailed, run.Status)
}

func TestRunOnce_SinkCountFailureStillCompletes(t *testing.T) {
	dst := &fakeSink{countErr: errors.New("sink count failed")}
	svc := NewRelayService(&fakeSource{records: sampleBatch()}, dst, nil, RelayOptions{})

	run, err := svc.RunOnce(context.Background(), TriggerSchedule)
	require.NoError(t, err)
	assert.Equal(t, store.RunCompleted, run.Status)
	assert.Nil(t, run.SinkTotal)
}

func TestRunOnce_StrictRejectsCoercedBatch(t *testing.T) {
	dst := &fakeSink{}
	svc := NewRelayService(&fakeSource{records: []telemetry.RawRecord{
		{"VehicleName": "A1", "Speed": "fast"},
	}}, dst, nil, RelayOptions{Strict: true})

	run, err := svc.RunOnce(context.Background(), TriggerSchedule)
	require.Error(t, err)
	assert.ErrorIs(t, err, telemetry.ErrCoercion)
	assert.Equal(t, 1, run.NoticeCount)
	assert.Empty(t, dst.submitted)
}

func TestRunOnce_TwoPassAllocator(t *testing.T) {
	dst := &fakeSink{}
	svc := NewRelayService(&fakeSource{records: []telemetry.RawRecord{
		{"VehicleName": "No.5"},
		{"VehicleName": "Car 5"},
		{"VehicleName": "No.6"},
	}}, dst, nil, RelayOptions{Allocator: telemetry.TwoPassAllocator{}})

	_, err := svc.RunOnce(context.Background(), TriggerSchedule)
	require.NoError(t, err)
	sent := dst.submitted[0]
	assert.Equal(t, []float64{5, 7, 6}, []float64{sent[0].VehicleCD, sent[1].VehicleCD, sent[2].VehicleCD})
}

func TestRunOnce_RejectsOverlap(t *testing.T) {
	src := &fakeSource{records: sampleBatch(), block: make(chan struct{})}
	svc := NewRelayService(src, &fakeSink{}, nil, RelayOptions{})

	done := make(chan error, 1)
	go func() {
		_, err := svc.RunOnce(context.Background(), TriggerSchedule)
		done <- err
	}()

	require.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return svc.running
	}, time.Second, time.Millisecond)

	_, err := svc.RunOnce(context.Background(), TriggerSchedule)
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(src.block)
	require.NoError(t, <-done)
}

func TestRecentRuns_NewestFirstAndBounded(t *testing.T) {
	svc := NewRelayService(&fakeSource{}, &fakeSink{}, nil, RelayOptions{})
	base := time.Date(2025, 9, 29, 0, 0, 0, 0, time.UTC)
	tick := 0
	svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	for i := 0; i < recentRunsKept+5; i++ {
		_, err := svc.RunOnce(context.Background(), TriggerSchedule)
		require.NoError(t, err)
	}

	runs := svc.RecentRuns()
	assert.Len(t, runs, recentRunsKept)
	for i := 1; i < len(runs); i++ {
		assert.True(t, runs[i-1].StartedAt.After(runs[i].StartedAt))
	}
}

func TestStart_RunsImmediately(t *testing.T) {
	dst := &fakeSink{}
	svc := NewRelayService(&fakeSource{records: sampleBatch()}, dst, nil, RelayOptions{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, svc.Start(ctx))

	assert.Eventually(t, func() bool {
		dst.mu.Lock()
		defer dst.mu.Unlock()
		return len(dst.submitted) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestStart_InvalidCron(t *testing.T) {
	svc := NewRelayService(&fakeSource{}, &fakeSink{}, nil, RelayOptions{Cron: "whenever"})
	require.Error(t, svc.Start(context.Background()))
}
