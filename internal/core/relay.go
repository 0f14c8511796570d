package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/baxromumarov/telemetry-relay/internal/feed"
	"github.com/baxromumarov/telemetry-relay/internal/observability"
	"github.com/baxromumarov/telemetry-relay/internal/sink"
	"github.com/baxromumarov/telemetry-relay/internal/store"
	"github.com/baxromumarov/telemetry-relay/internal/telemetry"
)

const (
	TriggerStartup  = "startup"
	TriggerSchedule = "schedule"

	recentRunsKept = 50
)

var ErrRunInProgress = errors.New("relay: run already in progress")

// RunStore persists run history and vehicle snapshots.
type RunStore interface {
	CreateRun(ctx context.Context, run store.Run) error
	FinishRun(ctx context.Context, run store.Run) error
	SaveSnapshots(ctx context.Context, runID string, records []telemetry.Record) error
}

type RelayOptions struct {
	DateFilter string
	Strict     bool
	Allocator  telemetry.IdentityAllocator
	Interval   time.Duration
	Cron       string
}

// RelayService moves telemetry from the feed into the sink, one batch per run.
type RelayService struct {
	source     feed.Source
	sink       sink.Sink
	store      RunStore
	normalizer *telemetry.BatchNormalizer
	opts       RelayOptions
	now        func() time.Time

	mu      sync.Mutex
	running bool

	runsMu sync.RWMutex
	runs   map[string]store.Run
}

// NewRelayService wires a relay. runStore may be nil, in which case run
// history lives only in memory.
func NewRelayService(source feed.Source, dst sink.Sink, runStore RunStore, opts RelayOptions) *RelayService {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	return &RelayService{
		source:     source,
		sink:       dst,
		store:      runStore,
		normalizer: telemetry.NewBatchNormalizer(telemetry.WithAllocator(opts.Allocator)),
		opts:       opts,
		now:        time.Now,
		runs:       make(map[string]store.Run),
	}
}

func (s *RelayService) Start(ctx context.Context) error {
	if s.opts.Cron != "" {
		schedule, err := cron.ParseStandard(s.opts.Cron)
		if err != nil {
			return fmt.Errorf("relay: invalid cron %q: %w", s.opts.Cron, err)
		}
		go s.cronLoop(ctx, schedule)
		return nil
	}
	go s.relayLoop(ctx, s.opts.Interval)
	return nil
}

func (s *RelayService) relayLoop(ctx context.Context, interval time.Duration) {
	s.runLogged(ctx, TriggerStartup)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runLogged(ctx, TriggerSchedule)
		}
	}
}

func (s *RelayService) cronLoop(ctx context.Context, schedule cron.Schedule) {
	c := cron.New()
	c.Schedule(schedule, cron.FuncJob(func() { s.runLogged(ctx, TriggerSchedule) }))

	s.runLogged(ctx, TriggerStartup)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
}

func (s *RelayService) runLogged(ctx context.Context, trigger string) {
	run, err := s.RunOnce(ctx, trigger)
	switch {
	case errors.Is(err, ErrRunInProgress):
		slog.Info("relay: previous run still in progress, skipping", "trigger", trigger)
	case err != nil:
		slog.Error("relay: run failed", "run_id", run.ID, "trigger", trigger, "error", err)
	default:
		slog.Info("relay: run completed",
			"run_id", run.ID,
			"trigger", trigger,
			"vehicles", run.VehicleCount,
			"relayed", run.RecordsAdded,
			"notices", run.NoticeCount,
		)
	}
}

// RunOnce performs one fetch → normalize → submit cycle. Concurrent calls
// return ErrRunInProgress instead of overlapping.
func (s *RelayService) RunOnce(ctx context.Context, trigger string) (store.Run, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return store.Run{}, ErrRunInProgress
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	started := s.now()
	run := store.Run{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Status:    store.RunRunning,
		StartedAt: started,
	}
	s.remember(run)
	if s.store != nil {
		if err := s.store.CreateRun(ctx, run); err != nil {
			observability.IncError(observability.ErrorStore, "store")
			slog.Warn("relay: failed to record run", "run_id", run.ID, "error", err)
		}
	}

	err := s.relay(ctx, &run)

	finished := s.now()
	run.FinishedAt = &finished
	if err != nil {
		run.Status = store.RunFailed
		run.Error = err.Error()
	} else {
		run.Status = store.RunCompleted
	}
	s.remember(run)

	if s.store != nil {
		if ferr := s.store.FinishRun(context.WithoutCancel(ctx), run); ferr != nil {
			observability.IncError(observability.ErrorStore, "store")
			slog.Warn("relay: failed to finish run", "run_id", run.ID, "error", ferr)
		}
	}

	observability.IncRun(string(run.Status))
	observability.ObserveRunDuration(finished.Sub(started).Seconds())
	return run, err
}

func (s *RelayService) relay(ctx context.Context, run *store.Run) error {
	raw, err := s.source.Fetch(ctx)
	if err != nil {
		observability.IncError(observability.ClassifyError(err), "feed")
		return err
	}
	run.VehicleCount = len(raw)
	observability.IncRecordsFetched(len(raw))

	if needle := ExpandDateFilter(s.opts.DateFilter, run.StartedAt); needle != "" {
		raw = FilterByDate(raw, needle)
		slog.Debug("relay: date filter applied", "run_id", run.ID, "filter", needle, "kept", len(raw))
	}
	run.FilteredCount = len(raw)

	var results []telemetry.Result
	if s.opts.Strict {
		results, err = s.normalizer.NormalizeStrict(raw)
	} else {
		results = s.normalizer.Normalize(raw)
	}
	run.NoticeCount = telemetry.CountNotices(results)
	observability.IncCoercionNotices(run.NoticeCount)
	if err != nil {
		observability.IncError(observability.ErrorCoercion, "normalizer")
		return err
	}
	for i, r := range results {
		for _, n := range r.Notices {
			slog.Debug("relay: value coerced", "run_id", run.ID, "record", i, "field", n.Field, "reason", n.Reason)
		}
	}

	records := telemetry.Records(results)
	if len(records) == 0 {
		return nil
	}

	if s.store != nil {
		if err := s.store.SaveSnapshots(ctx, run.ID, records); err != nil {
			observability.IncError(observability.ErrorStore, "store")
			slog.Warn("relay: failed to save snapshots", "run_id", run.ID, "error", err)
		}
	}

	receipt, err := s.sink.Submit(ctx, records)
	run.RecordsAdded = receipt.RecordsAdded
	observability.IncRecordsRelayed(receipt.RecordsAdded)
	if err != nil {
		observability.IncError(observability.ClassifyError(err), "sink")
		return err
	}

	total, err := s.sink.Count(ctx)
	if err != nil {
		observability.IncError(observability.ClassifyError(err), "sink")
		slog.Warn("relay: failed to read sink total", "run_id", run.ID, "error", err)
		return nil
	}
	run.SinkTotal = &total
	return nil
}

func (s *RelayService) remember(run store.Run) {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	s.runs[run.ID] = run
	if len(s.runs) <= recentRunsKept {
		return
	}
	var oldest string
	for id, r := range s.runs {
		if oldest == "" || r.StartedAt.Before(s.runs[oldest].StartedAt) {
			oldest = id
		}
	}
	delete(s.runs, oldest)
}

// Run returns a recent run from memory.
func (s *RelayService) Run(id string) (store.Run, bool) {
	s.runsMu.RLock()
	defer s.runsMu.RUnlock()
	r, ok := s.runs[id]
	return r, ok
}

// RecentRuns returns the runs kept in memory, newest first.
func (s *RelayService) RecentRuns() []store.Run {
	s.runsMu.RLock()
	runs := make([]store.Run, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	s.runsMu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs
}
