package observability

import (
	"sync"
	"sync/atomic"
)

type StatsSnapshot struct {
	RunsTotal         uint64            `json:"runs_total"`
	RecordsFetched    uint64            `json:"records_fetched"`
	RecordsRelayed    uint64            `json:"records_relayed"`
	CoercionNotices   uint64            `json:"coercion_notices"`
	ErrorsTotal       uint64            `json:"errors_total"`
	RunSecondsAvg     float64           `json:"run_seconds_avg"`
	RunsByStatus      map[string]uint64 `json:"runs_by_status,omitempty"`
	ErrorsByType      map[string]uint64 `json:"errors_by_type,omitempty"`
	ErrorsByComponent map[string]uint64 `json:"errors_by_component,omitempty"`
}

var (
	runsTotal       uint64
	recordsFetched  uint64
	recordsRelayed  uint64
	coercionNotices uint64
	errorsTotal     uint64

	runCount uint64
	runNanos uint64

	statsMu           sync.Mutex
	runsByStatus      = map[string]uint64{}
	errorsByType      = map[string]uint64{}
	errorsByComponent = map[string]uint64{}
)

func IncRecordsFetched(n int) {
	if n > 0 {
		atomic.AddUint64(&recordsFetched, uint64(n))
	}
}

func IncRecordsRelayed(n int) {
	if n > 0 {
		atomic.AddUint64(&recordsRelayed, uint64(n))
	}
}

func IncCoercionNotices(n int) {
	if n > 0 {
		atomic.AddUint64(&coercionNotices, uint64(n))
	}
}

func IncRun(status string) {
	if status == "" {
		status = "unknown"
	}
	atomic.AddUint64(&runsTotal, 1)
	statsMu.Lock()
	runsByStatus[status]++
	statsMu.Unlock()
}

func ObserveRunDuration(seconds float64) {
	if seconds <= 0 {
		return
	}
	atomic.AddUint64(&runCount, 1)
	atomic.AddUint64(&runNanos, uint64(seconds*1e9))
}

func IncError(errType, component string) {
	if errType == "" {
		errType = "unknown"
	}
	if component == "" {
		component = "unknown"
	}
	atomic.AddUint64(&errorsTotal, 1)
	statsMu.Lock()
	errorsByType[errType]++
	errorsByComponent[component]++
	statsMu.Unlock()
}

func Snapshot() StatsSnapshot {
	statsMu.Lock()
	statusCopy := copyMap(runsByStatus)
	errorsTypeCopy := copyMap(errorsByType)
	errorsComponentCopy := copyMap(errorsByComponent)
	statsMu.Unlock()

	count := atomic.LoadUint64(&runCount)
	avg := 0.0
	if count > 0 {
		avg = float64(atomic.LoadUint64(&runNanos)) / float64(count) / 1e9
	}

	return StatsSnapshot{
		RunsTotal:         atomic.LoadUint64(&runsTotal),
		RecordsFetched:    atomic.LoadUint64(&recordsFetched),
		RecordsRelayed:    atomic.LoadUint64(&recordsRelayed),
		CoercionNotices:   atomic.LoadUint64(&coercionNotices),
		ErrorsTotal:       atomic.LoadUint64(&errorsTotal),
		RunSecondsAvg:     avg,
		RunsByStatus:      statusCopy,
		ErrorsByType:      errorsTypeCopy,
		ErrorsByComponent: errorsComponentCopy,
	}
}

func copyMap(src map[string]uint64) map[string]uint64 {
	if len(src) == 0 {
		return map[string]uint64{}
	}
	out := make(map[string]uint64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
