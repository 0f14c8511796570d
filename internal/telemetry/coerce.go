package telemetry

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

const (
	reasonUnparsable  = "unparsable number"
	reasonNonFinite   = "non-finite number"
	reasonUnsupported = "unsupported type"
)

func isSentinel(v any) bool {
	switch s := v.(type) {
	case nil:
		return true
	case string:
		return s == "" || s == Sentinel
	}
	return false
}

// coerceNumber applies the numeric coercion rule. ok is false when the value
// was replaced by zero for a reason other than being a sentinel.
func coerceNumber(v any) (n float64, ok bool, reason string) {
	if isSentinel(v) {
		return 0, true, ""
	}

	switch x := v.(type) {
	case float64:
		return finite(x)
	case float32:
		return finite(float64(x))
	case int:
		return float64(x), true, ""
	case int8:
		return float64(x), true, ""
	case int16:
		return float64(x), true, ""
	case int32:
		return float64(x), true, ""
	case int64:
		return float64(x), true, ""
	case uint:
		return float64(x), true, ""
	case uint8:
		return float64(x), true, ""
	case uint16:
		return float64(x), true, ""
	case uint32:
		return float64(x), true, ""
	case uint64:
		return float64(x), true, ""
	case uintptr:
		return float64(x), true, ""
	case bool:
		if x {
			return 1, true, ""
		}
		return 0, true, ""
	case json.Number:
		return parseFloat(x.String())
	case string:
		return parseFloat(x)
	}
	return 0, false, reasonUnsupported
}

func parseFloat(s string) (float64, bool, string) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false, reasonUnparsable
	}
	return finite(f)
}

func finite(f float64) (float64, bool, string) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, reasonNonFinite
	}
	return f, true, ""
}
