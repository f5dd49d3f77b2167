package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"dwh/internal/storage"
)

// Decimal precision and scale used for the songs.duration column.
const (
	DecimalPrecision = storage.DecimalPrecision
	DecimalScale     = storage.DecimalScale
)

// TimestampLayout is the canonical text form of a timestamp where a backend
// stores timestamps as text.
const TimestampLayout = "2006-01-02 15:04:05.000"

var timestampLayouts = []string{
	TimestampLayout,
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
}

// ParseInt converts staging text to an integer. nil stays nil; anything
// that is not a base-10 integer after trimming spaces is an error.
func ParseInt(s *string) (*int64, error) {
	if s == nil {
		return nil, nil
	}
	v, err := strconv.ParseInt(strings.TrimSpace(*s), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid integer %q", *s)
	}
	return &v, nil
}

// ParseFloat converts staging text to a double.
func ParseFloat(s *string) (*float64, error) {
	if s == nil {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(*s), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid float %q", *s)
	}
	return &v, nil
}

// ParseDecimal converts staging text to a fixed-scale decimal, rounded half
// away from zero to DecimalScale places.
func ParseDecimal(s *string) (*float64, error) {
	f, err := ParseFloat(s)
	if err != nil {
		return nil, fmt.Errorf("invalid decimal %q", *s)
	}
	if f == nil {
		return nil, nil
	}
	if math.IsNaN(*f) || math.IsInf(*f, 0) {
		return nil, fmt.Errorf("invalid decimal %q", *s)
	}
	scale := math.Pow10(DecimalScale)
	v := math.Round(*f*scale) / scale
	if math.Abs(v) >= math.Pow10(DecimalPrecision-DecimalScale) {
		return nil, fmt.Errorf("decimal %q overflows (%d,%d)", *s, DecimalPrecision, DecimalScale)
	}
	return &v, nil
}

// FromEpochMillis converts milliseconds since the Unix epoch to UTC.
func FromEpochMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// FormatTimestamp renders t in TimestampLayout, in UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts TimestampLayout and a few ISO-8601 variants.
// Values without a zone are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// DecomposeTime splits a timestamp into the time dimension columns. Week is
// the ISO-8601 week number and weekday counts from 0 = Sunday.
func DecomposeTime(t time.Time) TimeRow {
	t = t.UTC()
	_, week := t.ISOWeek()
	return TimeRow{
		StartTime: t,
		Hour:      t.Hour(),
		Day:       t.Day(),
		Week:      week,
		Month:     int(t.Month()),
		Year:      t.Year(),
		Weekday:   int(t.Weekday()),
	}
}

// Part returns one component of the decomposition by name.
func (r TimeRow) Part(name string) (int, error) {
	switch name {
	case "hour":
		return r.Hour, nil
	case "day":
		return r.Day, nil
	case "week":
		return r.Week, nil
	case "month":
		return r.Month, nil
	case "year":
		return r.Year, nil
	case "weekday":
		return r.Weekday, nil
	default:
		return 0, fmt.Errorf("unknown time part %q", name)
	}
}
