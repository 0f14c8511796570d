package sink

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baxromumarov/telemetry-relay/internal/httpx"
	"github.com/baxromumarov/telemetry-relay/internal/telemetry"
)

func testOpts() []httpx.Option {
	return []httpx.Option{
		httpx.WithRetries(1, time.Millisecond),
		httpx.WithRateLimit(time.Millisecond, 100),
	}
}

func records(names ...string) []telemetry.Record {
	raw := make([]telemetry.RawRecord, len(names))
	for i, n := range names {
		raw[i] = telemetry.RawRecord{"VehicleName": n, "Speed": "1", "DataDateTime": "2025-09-29 10:00:00"}
	}
	return telemetry.Records(telemetry.Normalize(raw))
}

func TestSubmit_PostsChunkedJSONArrays(t *testing.T) {
	var (
		mu      sync.Mutex
		batches [][]map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/dtakologs", r.URL.Path)
		assert.Equal(t, "application/json; charset=utf-8", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		var batch []map[string]any
		assert.NoError(t, json.Unmarshal(body, &batch))
		mu.Lock()
		batches = append(batches, batch)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, ChunkSize: 2}, testOpts()...)
	require.NoError(t, err)

	receipt, err := c.Submit(context.Background(), records("A1", "A2", "A3"))
	require.NoError(t, err)
	assert.Equal(t, 3, receipt.RecordsAdded)
	assert.Equal(t, 2, receipt.Requests)
	assert.Equal(t, http.StatusCreated, receipt.Status)
	assert.Equal(t, `{"success":true}`, receipt.Body)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[1], 1)
	assert.Equal(t, "25-09-29 10:00:00", batches[0][0]["DataDateTime"])
	assert.Equal(t, 1.0, batches[0][0]["VehicleCD"])
}

func TestSubmit_EmptyIsNoop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request")
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL}, testOpts()...)
	require.NoError(t, err)

	receipt, err := c.Submit(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, receipt.Requests)
}

func TestSubmit_StopsAtFailedChunk(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) > 1 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`invalid payload`))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, ChunkSize: 1}, testOpts()...)
	require.NoError(t, err)

	receipt, err := c.Submit(context.Background(), records("A1", "A2", "A3"))
	require.Error(t, err)
	assert.True(t, httpx.IsStatus(err, http.StatusBadRequest))
	assert.Equal(t, 1, receipt.RecordsAdded)
	assert.Equal(t, 2, receipt.Requests)
}

func TestCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/dtakologs/currentListAll", r.URL.Path)
		w.Write([]byte(`[{"VehicleCD":1},{"VehicleCD":2},{"VehicleCD":3}]`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL + "/"}, testOpts()...)
	require.NoError(t, err)

	n, err := c.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestCount_BadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"nope"}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL}, testOpts()...)
	require.NoError(t, err)

	_, err = c.Count(context.Background())
	require.Error(t, err)
}
