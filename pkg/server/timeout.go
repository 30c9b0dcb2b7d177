package server

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseTimeout interprets the raw "timeout" field of a send request as
// milliseconds. Numbers and numeric strings are accepted; anything absent,
// non-numeric, non-finite, or not positive yields 0, which the correlation
// engine replaces with its configured default.
func ParseTimeout(raw json.RawMessage) time.Duration {
	if len(raw) == 0 {
		return 0
	}

	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0
	}

	var ms float64
	switch val := v.(type) {
	case float64:
		ms = val
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0
		}
		ms = parsed
	default:
		return 0
	}

	if ms <= 0 || math.IsInf(ms, 0) || math.IsNaN(ms) {
		return 0
	}
	return time.Duration(ms * float64(time.Millisecond))
}
