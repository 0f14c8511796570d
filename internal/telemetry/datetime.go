package telemetry

import (
	"encoding/json"
	"fmt"
)

// RewriteDateTime maps a backend timestamp to the sink's shape. Sentinels
// become nil. A leading four-digit 20xx year loses its century so the sink,
// which prepends "20" itself, does not double it. Anything else passes
// through untouched, including compact stamps such as "20250929".
func RewriteDateTime(v any) *string {
	if isSentinel(v) {
		return nil
	}

	var s string
	switch x := v.(type) {
	case string:
		s = x
	case json.Number:
		s = x.String()
	default:
		s = fmt.Sprint(x)
	}

	if hasCenturyPrefix(s) {
		s = s[2:]
	}
	return &s
}

// hasCenturyPrefix matches "20" followed by exactly two more digits. Requiring
// the year to end there keeps the rewrite idempotent: "2020-01-01" becomes
// "20-01-01", which is left alone on a second pass.
func hasCenturyPrefix(s string) bool {
	if len(s) < 4 || s[0] != '2' || s[1] != '0' {
		return false
	}
	if !isDigit(s[2]) || !isDigit(s[3]) {
		return false
	}
	return len(s) == 4 || !isDigit(s[4])
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
