package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/baxromumarov/telemetry-relay/internal/observability"
)

type RetentionStore interface {
	DeleteOldRuns(ctx context.Context, olderThan time.Duration) (int64, error)
}

type SchedulerService struct {
	store     RetentionStore
	retention time.Duration
}

func NewSchedulerService(store RetentionStore, retention time.Duration) *SchedulerService {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &SchedulerService{store: store, retention: retention}
}

func (s *SchedulerService) Start(ctx context.Context) {
	go s.runRetentionPolicy(ctx, 24*time.Hour)
}

// runRetentionPolicy deletes runs and snapshots older than the retention window
func (s *SchedulerService) runRetentionPolicy(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run immediately on startup
	s.cleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup(ctx)
		}
	}
}

func (s *SchedulerService) cleanup(ctx context.Context) {
	count, err := s.store.DeleteOldRuns(ctx, s.retention)
	if err != nil {
		observability.IncError(observability.ErrorStore, "retention")
		slog.Error("retention policy: cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("retention policy: deleted old runs", "count", count)
	}
}
