package sqlite

import (
	"database/sql/driver"
	"fmt"
	"strings"

	msqlite "modernc.org/sqlite"

	"dwh/internal/schema"
)

// SQLite's CAST never fails: CAST('abc' AS INTEGER) is 0. The transforms
// need casts that reject malformed text, so strict conversions are
// registered as deterministic scalar functions on every connection.
const (
	fnInt     = "dwh_int"
	fnReal    = "dwh_real"
	fnDecimal = "dwh_decimal"
	fnExtract = "dwh_extract"
)

func init() {
	msqlite.MustRegisterDeterministicScalarFunction(fnInt, 1, strictInt)
	msqlite.MustRegisterDeterministicScalarFunction(fnReal, 1, strictReal)
	msqlite.MustRegisterDeterministicScalarFunction(fnDecimal, 1, strictDecimal)
	msqlite.MustRegisterDeterministicScalarFunction(fnExtract, 2, extractPart)
}

func strictInt(_ *msqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case int64:
		return v, nil
	case float64:
		if v != float64(int64(v)) {
			return nil, fmt.Errorf("%s: %v is not an integer", fnInt, v)
		}
		return int64(v), nil
	}
	s, err := textArg(fnInt, args[0])
	if err != nil {
		return nil, err
	}
	n, err := schema.ParseInt(&s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnInt, err)
	}
	return *n, nil
}

func strictReal(_ *msqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	}
	s, err := textArg(fnReal, args[0])
	if err != nil {
		return nil, err
	}
	f, err := schema.ParseFloat(&s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnReal, err)
	}
	return *f, nil
}

func strictDecimal(_ *msqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if args[0] == nil {
		return nil, nil
	}
	var s string
	switch v := args[0].(type) {
	case int64:
		s = fmt.Sprint(v)
	case float64:
		s = fmt.Sprint(v)
	default:
		var err error
		if s, err = textArg(fnDecimal, args[0]); err != nil {
			return nil, err
		}
	}
	d, err := schema.ParseDecimal(&s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnDecimal, err)
	}
	return *d, nil
}

// extractPart(part, ts) returns one time dimension component of a
// timestamp stored as text.
func extractPart(_ *msqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	part, err := textArg(fnExtract, args[0])
	if err != nil {
		return nil, err
	}
	if args[1] == nil {
		return nil, nil
	}
	raw, err := textArg(fnExtract, args[1])
	if err != nil {
		return nil, err
	}
	ts, err := parseSQLiteTime(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnExtract, err)
	}
	v, err := schema.DecomposeTime(ts).Part(strings.ToLower(part))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnExtract, err)
	}
	return int64(v), nil
}

func textArg(fn string, v driver.Value) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	default:
		return "", fmt.Errorf("%s: unsupported argument type %T", fn, v)
	}
}
