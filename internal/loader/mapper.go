package loader

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"dwh/internal/schema"
	"dwh/internal/storage"
)

// Column length limits of the warehouse text types, in bytes. Longer values
// reject the record, as the warehouse's own bulk load does.
const (
	maxTextBytes     = 256
	maxLongTextBytes = 65535
)

// mapper turns decoded records into positional rows for one load directive.
type mapper struct {
	cols       []storage.ColumnSpec
	paths      []Path // positional; nil means match by name
	ignoreCase bool
	timeFormat string
}

func newMapper(d storage.LoadDirective, paths []Path) (*mapper, error) {
	if len(d.Columns) == 0 {
		return nil, fmt.Errorf("load %s: no columns", d.Table)
	}
	m := &mapper{cols: d.Columns, timeFormat: d.TimeFormat}
	switch strings.ToLower(strings.TrimSpace(d.Format)) {
	case storage.FormatAuto, "":
	case storage.FormatAutoIgnoreCase:
		m.ignoreCase = true
	default:
		if len(paths) != len(d.Columns) {
			return nil, fmt.Errorf("load %s: %d jsonpaths for %d columns", d.Table, len(paths), len(d.Columns))
		}
		m.paths = paths
	}
	switch d.TimeFormat {
	case "", storage.TimeFormatAuto, storage.TimeFormatEpochMillis, storage.TimeFormatEpochSecs:
	default:
		return nil, fmt.Errorf("load %s: unsupported time format %q", d.Table, d.TimeFormat)
	}
	return m, nil
}

// fill writes the converted values of rec into dst, which has one slot per
// column.
func (m *mapper) fill(rec map[string]any, dst []any) error {
	var folded map[string]any
	if m.paths == nil && m.ignoreCase {
		folded = make(map[string]any, len(rec))
		for k, v := range rec {
			lk := strings.ToLower(k)
			if _, dup := folded[lk]; !dup {
				folded[lk] = v
			}
		}
	}

	for i, col := range m.cols {
		var raw any
		switch {
		case m.paths != nil:
			raw = m.paths[i].Eval(rec)
		case folded != nil:
			raw = folded[strings.ToLower(col.Name)]
		default:
			raw = rec[col.Name]
		}
		v, err := m.convert(col, raw)
		if err != nil {
			return fmt.Errorf("column %s: %w", col.Name, err)
		}
		dst[i] = v
	}
	return nil
}

func (m *mapper) convert(col storage.ColumnSpec, raw any) (any, error) {
	if raw == nil {
		if col.NotNull {
			return nil, fmt.Errorf("null in NOT NULL column")
		}
		return nil, nil
	}
	switch col.Type {
	case storage.TypeText, storage.TypeLongText:
		s, err := scalarText(raw)
		if err != nil {
			return nil, err
		}
		limit := maxTextBytes
		if col.Type == storage.TypeLongText {
			limit = maxLongTextBytes
		}
		if len(s) > limit {
			return nil, fmt.Errorf("value of %d bytes exceeds %d", len(s), limit)
		}
		return s, nil
	case storage.TypeTimestamp:
		return m.timestamp(raw)
	case storage.TypeInt:
		s, err := scalarText(raw)
		if err != nil {
			return nil, err
		}
		return deref(schema.ParseInt(&s))
	case storage.TypeDecimal:
		s, err := scalarText(raw)
		if err != nil {
			return nil, err
		}
		return deref(schema.ParseDecimal(&s))
	case storage.TypeFloat:
		s, err := scalarText(raw)
		if err != nil {
			return nil, err
		}
		return deref(schema.ParseFloat(&s))
	default:
		return nil, fmt.Errorf("unsupported column type %q", col.Type)
	}
}

func deref[T any](v *T, err error) (any, error) {
	if err != nil || v == nil {
		return nil, err
	}
	return *v, nil
}

func (m *mapper) timestamp(raw any) (time.Time, error) {
	switch m.timeFormat {
	case storage.TimeFormatEpochMillis, storage.TimeFormatEpochSecs:
		s, err := scalarText(raw)
		if err != nil {
			return time.Time{}, err
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid epoch value %q", s)
		}
		if m.timeFormat == storage.TimeFormatEpochSecs {
			n *= 1000
		}
		return schema.FromEpochMillis(int64(n)), nil
	default:
		s, ok := raw.(string)
		if !ok {
			return time.Time{}, fmt.Errorf("timestamp must be text without a TIMEFORMAT, got %T", raw)
		}
		return schema.ParseTimestamp(s)
	}
}

// scalarText renders a JSON value as column text. Numbers keep their source
// digits; nested objects and arrays are stored as compact JSON.
func scalarText(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("unsupported JSON value %T", v)
	}
}
