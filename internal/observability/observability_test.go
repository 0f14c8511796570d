package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/baxromumarov/telemetry-relay/internal/httpx"
	"github.com/baxromumarov/telemetry-relay/internal/store"
	"github.com/baxromumarov/telemetry-relay/internal/telemetry"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ErrorUnknown},
		{"rate limit", fmt.Errorf("feed fetch failed: %w", &httpx.FetchError{Status: http.StatusTooManyRequests}), ErrorRateLimit},
		{"server error", &httpx.FetchError{Status: http.StatusBadGateway}, ErrorNetwork},
		{"client error", &httpx.FetchError{Status: http.StatusBadRequest}, ErrorRejected},
		{"transport", &httpx.FetchError{Err: errors.New("connection refused")}, ErrorNetwork},
		{"deadline", context.DeadlineExceeded, ErrorNetwork},
		{"cancel", fmt.Errorf("run: %w", context.Canceled), ErrorCancel},
		{"coercion", &telemetry.CoercionError{Index: 2}, ErrorCoercion},
		{"store", store.ErrNotFound, ErrorStore},
		{"decode", errors.New("feed decode failed: unexpected EOF"), ErrorParsing},
		{"other", errors.New("boom"), ErrorUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestSnapshotCounters(t *testing.T) {
	before := Snapshot()

	IncRun("completed")
	IncRecordsFetched(4)
	IncRecordsRelayed(3)
	IncCoercionNotices(2)
	IncRecordsFetched(-1)
	IncError(ErrorNetwork, "feed")
	IncError("", "")
	ObserveRunDuration(0.5)

	after := Snapshot()
	assert.Equal(t, before.RunsTotal+1, after.RunsTotal)
	assert.Equal(t, before.RecordsFetched+4, after.RecordsFetched)
	assert.Equal(t, before.RecordsRelayed+3, after.RecordsRelayed)
	assert.Equal(t, before.CoercionNotices+2, after.CoercionNotices)
	assert.Equal(t, before.ErrorsTotal+2, after.ErrorsTotal)
	assert.Equal(t, before.RunsByStatus["completed"]+1, after.RunsByStatus["completed"])
	assert.Equal(t, before.ErrorsByComponent["feed"]+1, after.ErrorsByComponent["feed"])
	assert.Equal(t, before.ErrorsByType["unknown"]+1, after.ErrorsByType["unknown"])
	assert.Greater(t, after.RunSecondsAvg, 0.0)
}
