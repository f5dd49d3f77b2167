package storage

import (
	"strconv"
	"strings"
	"time"
)

// NormalizeKey converts a key value to a canonical string form, suitable for
// in-memory dedupe maps (e.g. "SOABWAP12A6D4F7D37" or "7").
//
// Text keys are compared exactly: only a nil value and an empty string
// collapse to "". Timestamps normalize to UTC with millisecond precision.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case *string:
		if t == nil {
			return ""
		}
		return *t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case *int64:
		if t == nil {
			return ""
		}
		return strconv.FormatInt(*t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case time.Time:
		return t.UTC().Format("2006-01-02 15:04:05.000")
	default:
		return strings.TrimSpace(toString(v))
	}
}

func toString(v any) string {
	if s, ok := v.(interface{ String() string }); ok {
		return s.String()
	}
	return ""
}
