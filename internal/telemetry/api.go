package telemetry

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel is the placeholder the tracking backend emits for "no value".
const Sentinel = "<nil>"

const (
	FieldVehicleCD    = "VehicleCD"
	FieldVehicleName  = "VehicleName"
	FieldDataDateTime = "DataDateTime"
)

// RawRecord is one telemetry record as delivered by the source feed.
type RawRecord map[string]any

// Normalizer turns a batch of raw records into records safe to hand to the sink.
type Normalizer interface {
	Normalize(batch []RawRecord) []Result
}

// IdentityAllocator assigns batch-unique identity codes. It receives the natural
// candidate of every record in batch order and returns the committed codes in
// the same order.
type IdentityAllocator interface {
	Assign(candidates []float64) []float64
}

// Notice records a value that could not be used as delivered and was replaced.
type Notice struct {
	Field  string `json:"field"`
	Raw    any    `json:"raw"`
	Reason string `json:"reason"`
}

func (n Notice) String() string {
	return fmt.Sprintf("%s: %s (%v)", n.Field, n.Reason, n.Raw)
}

// Result pairs a normalized record with the coercion notices raised for it.
type Result struct {
	Record  Record   `json:"record"`
	Notices []Notice `json:"notices,omitempty"`
}

// Records projects the plain record list out of a result batch.
func Records(results []Result) []Record {
	out := make([]Record, len(results))
	for i, r := range results {
		out[i] = r.Record
	}
	return out
}

// CountNotices returns the total number of notices in a result batch.
func CountNotices(results []Result) int {
	n := 0
	for _, r := range results {
		n += len(r.Notices)
	}
	return n
}

var ErrCoercion = errors.New("telemetry: value coerced to default")

// CoercionError is returned by strict normalization when any record needed a
// substitution.
type CoercionError struct {
	Index   int
	Notices []Notice
}

func (e *CoercionError) Error() string {
	parts := make([]string, len(e.Notices))
	for i, n := range e.Notices {
		parts[i] = n.String()
	}
	return fmt.Sprintf("telemetry: record %d: %s", e.Index, strings.Join(parts, "; "))
}

func (e *CoercionError) Unwrap() error {
	return ErrCoercion
}
