package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownKind is returned when no backend is registered for a kind.
var ErrUnknownKind = errors.New("storage: unknown warehouse kind")

// Config is the minimal configuration needed to open a warehouse.
//
// When to use:
//   - Use Config when constructing a Warehouse via Open.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
//
// Errors:
//   - Open returns an error if Kind is empty or unsupported.
type Config struct {
	Kind string
	DSN  string
}

// Warehouse is the execution interface the pipeline needs: submit one
// statement, get success or failure.
type Warehouse interface {
	// Exec runs one statement. The statement text is sent as-is with no
	// arguments.
	Exec(ctx context.Context, sql string) error

	// Ping verifies connectivity. Backends open lazily, so the first Ping is
	// the first round trip.
	Ping(ctx context.Context) error

	Dialect() Dialect

	// Close releases any backend resources (connections, pools).
	//
	// Edge cases:
	//   - Callers should treat Close as "call once".
	Close()
}

// RowCopier bulk-inserts positional rows. Warehouses without a native
// COPY-from-object-store implement it so staging tables can be filled by the
// generic loader.
type RowCopier interface {
	CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
}

// TimePart is a component extracted from a timestamp.
type TimePart string

const (
	PartHour    TimePart = "hour"
	PartDay     TimePart = "day"
	PartWeek    TimePart = "week" // ISO-8601 week of year
	PartMonth   TimePart = "month"
	PartYear    TimePart = "year"
	PartWeekday TimePart = "weekday" // 0 = Sunday
)

// TimeParts lists the parts in the column order of the time dimension.
var TimeParts = []TimePart{PartHour, PartDay, PartWeek, PartMonth, PartYear, PartWeekday}

// Timestamp interpretations for LoadDirective.TimeFormat.
const (
	TimeFormatEpochMillis = "epochmillisecs"
	TimeFormatEpochSecs   = "epochsecs"
	TimeFormatAuto        = "auto"
)

// Field-to-column mappings that need no JSONPaths document. FormatAuto
// matches field names to column names exactly; FormatAutoIgnoreCase ignores
// case.
const (
	FormatAuto           = "auto"
	FormatAutoIgnoreCase = "auto ignorecase"
)

// LoadDirective describes one bulk load from object storage into a staging
// table.
type LoadDirective struct {
	Table   string
	Columns []ColumnSpec

	Source     string // object-store URI prefix
	Credential string // IAM role ARN the warehouse assumes
	Format     string // JSONPaths document URI, "auto" or "auto ignorecase"
	TimeFormat string // "" leaves timestamp text to the warehouse
	Region     string

	// MaxErrors is the number of bad records tolerated before the load fails.
	MaxErrors int
}

// Dialect renders SQL for one warehouse flavor. Implementations are
// stateless and safe for concurrent use.
type Dialect interface {
	Name() string

	// CreateTableSQL renders a create-if-absent statement.
	CreateTableSQL(t TableSpec) (string, error)

	// DropTableSQL renders a drop-if-exists statement.
	DropTableSQL(table string) string

	// CopySQL renders a native bulk load. It returns "" when the warehouse
	// has no native load from object storage; the directive is then
	// executed through a RowCopier.
	CopySQL(d LoadDirective) (string, error)

	// Cast converts expr to the target type and must fail on malformed
	// numeric text. It panics on a type the dialect cannot render.
	Cast(expr string, to ColumnType) string

	// Extract returns an integer-valued expression for part of a timestamp.
	Extract(part TimePart, expr string) string
}

// QuoteLiteral renders s as a single-quoted SQL string literal.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// ---- backend registry ----

// Opener opens a warehouse connection for a registered kind.
type Opener func(ctx context.Context, cfg Config) (Warehouse, error)

type backend struct {
	dialect Dialect
	open    Opener
}

var (
	mu       sync.RWMutex
	backends = map[string]backend{}
)

// Register registers a backend under a kind (e.g. "redshift", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//   - The `kind` string becomes the lookup key used by Open and DialectFor.
//
// Panics:
//   - If kind is empty.
//   - If d or open is nil.
//   - If kind is already registered.
func Register(kind string, d Dialect, open Opener) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if d == nil || open == nil {
		panic("storage: Register called with nil dialect or opener")
	}
	if _, exists := backends[kind]; exists {
		panic(fmt.Sprintf("storage: backend already registered for kind=%q", kind))
	}

	backends[kind] = backend{dialect: d, open: open}
}

// Open constructs a Warehouse using the registered backend.
//
// Concurrency:
//   - Safe for concurrent use with Register.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered opener returns.
func Open(ctx context.Context, cfg Config) (Warehouse, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing warehouse kind")
	}
	b, err := lookup(cfg.Kind)
	if err != nil {
		return nil, err
	}
	return b.open(ctx, cfg)
}

// DialectFor returns the dialect of a registered kind without connecting.
func DialectFor(kind string) (Dialect, error) {
	b, err := lookup(kind)
	if err != nil {
		return nil, err
	}
	return b.dialect, nil
}

// Kinds returns the registered kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(backends))
	for k := range backends {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func lookup(kind string) (backend, error) {
	mu.RLock()
	b, ok := backends[kind]
	mu.RUnlock()
	if !ok {
		return backend{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return b, nil
}

// ---- table binding ----

// TableCopier is a RowCopier bound to one table.
type TableCopier struct {
	copier RowCopier
	table  string
}

// BindTable binds copier to table.
func BindTable(copier RowCopier, table string) (*TableCopier, error) {
	if copier == nil {
		return nil, fmt.Errorf("storage: BindTable: nil copier")
	}
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("storage: BindTable: empty table")
	}
	return &TableCopier{copier: copier, table: table}, nil
}

func (c *TableCopier) Table() string { return c.table }

// CopyFrom delegates to the bound copier.
func (c *TableCopier) CopyFrom(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	return c.copier.CopyRows(ctx, c.table, columns, rows)
}
