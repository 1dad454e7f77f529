package detection

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Timestamp layouts accepted from upstream producers, tried in order.
// Fractional seconds are accepted by the parser without a dedicated layout.
var hourLayouts = []string{
	time.RFC3339,          // 2024-06-01T02:00:00+05:30
	"2006-01-02T15:04:05", // no offset
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02", // date only, hour 0
}

// ExtractHour returns the local hour-of-day encoded in a loosely formatted
// timestamp. It never fails: a trailing "Z" is rewritten to "+00:00" before
// parsing, unparseable input defers to meta["hour"], and the current UTC
// hour is the final fallback. No timezone conversion is applied; the hour is
// whatever the parsed timestamp's own clock face reads.
func ExtractHour(timestamp string, meta map[string]interface{}, now func() time.Time) int {
	if now == nil {
		now = time.Now
	}
	ts := strings.TrimSpace(timestamp)
	if ts == "" {
		return metaHour(meta, now)
	}
	if strings.HasSuffix(ts, "Z") {
		ts = strings.TrimSuffix(ts, "Z") + "+00:00"
	}
	for _, layout := range hourLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.Hour()
		}
	}
	return metaHour(meta, now)
}

func metaHour(meta map[string]interface{}, now func() time.Time) int {
	if meta != nil {
		if h, ok := coerceHour(meta["hour"]); ok {
			return h
		}
	}
	return now().UTC().Hour()
}

// coerceHour accepts the numeric shapes JSON decoding produces, plus digit
// strings. Fractions truncate. Values outside [0,23] count as absent.
func coerceHour(v interface{}) (int, bool) {
	var h int
	switch n := v.(type) {
	case int:
		h = n
	case int64:
		h = int(n)
	case float64:
		h = int(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		h = int(f)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		h = i
	default:
		return 0, false
	}
	if h < 0 || h > 23 {
		return 0, false
	}
	return h, true
}
