package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/baxromumarov/telemetry-relay/internal/telemetry"
)

// backendDateLayout is how the tracking backend writes dates in DataDateTime.
const backendDateLayout = "06/01/02"

// ExpandDateFilter resolves the "today" keyword against now. Any other value
// is used verbatim.
func ExpandDateFilter(filter string, now time.Time) string {
	if strings.EqualFold(strings.TrimSpace(filter), "today") {
		return now.Format(backendDateLayout)
	}
	return filter
}

// FilterByDate keeps records whose DataDateTime contains needle. An empty
// needle keeps everything.
func FilterByDate(records []telemetry.RawRecord, needle string) []telemetry.RawRecord {
	if needle == "" {
		return records
	}
	out := make([]telemetry.RawRecord, 0, len(records))
	for _, r := range records {
		v, ok := r[telemetry.FieldDataDateTime]
		if !ok || v == nil {
			continue
		}
		if strings.Contains(fmt.Sprint(v), needle) {
			out = append(out, r)
		}
	}
	return out
}
