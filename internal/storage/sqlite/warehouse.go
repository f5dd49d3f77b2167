package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"dwh/internal/schema"
	"dwh/internal/storage"
)

// maxParams bounds bound parameters per INSERT, matching SQLite's historic
// SQLITE_MAX_VARIABLE_NUMBER.
const maxParams = 999

// Warehouse implements storage.Warehouse for SQLite.
//
// Key design points vs Postgres:
//   - SQLite has no native TIMESTAMP type, so timestamps are written as TEXT
//     in schema.TimestampLayout and parsed back by the dwh_extract function.
//   - The pool is capped at one connection so a ":memory:" database is the
//     same database for every statement.
type Warehouse struct {
	db *sql.DB
}

var (
	_ storage.Warehouse = (*Warehouse)(nil)
	_ storage.RowCopier = (*Warehouse)(nil)
)

func init() {
	storage.Register("sqlite", Dialect{}, Open)
}

func Open(ctx context.Context, cfg storage.Config) (storage.Warehouse, error) {
	return NewWarehouse(cfg.DSN)
}

// NewWarehouse opens dsn without connecting.
func NewWarehouse(dsn string) (*Warehouse, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite: empty dsn")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &Warehouse{db: db}, nil
}

func (w *Warehouse) Dialect() storage.Dialect { return Dialect{} }

func (w *Warehouse) Exec(ctx context.Context, sql string) error {
	_, err := w.db.ExecContext(ctx, sql)
	return err
}

func (w *Warehouse) Ping(ctx context.Context) error { return w.db.PingContext(ctx) }

func (w *Warehouse) Close() { _ = w.db.Close() }

// CopyRows inserts rows in one transaction using multi-row VALUES chunks.
func (w *Warehouse) CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("sqlite: copy into %s: no columns", table)
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	per := maxParams / len(columns)
	if per < 1 {
		per = 1
	}
	var total int64
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		q, args := buildInsertSQL(table, columns, rows[start:end])
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("sqlite: copy into %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

// Query runs a read-only query and returns every row as positional values.
// It exists for verification tooling and tests, not for the pipeline.
func (w *Warehouse) Query(ctx context.Context, query string) ([][]any, error) {
	rows, err := w.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}

func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(columns, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		for j := range columns {
			var v any
			if j < len(row) {
				v = row[j]
			}
			args = append(args, bindValue(v))
		}
	}
	return b.String(), args
}

func bindValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return formatSQLiteTime(t)
	case *time.Time:
		if t == nil {
			return nil
		}
		return formatSQLiteTime(*t)
	default:
		return v
	}
}

// formatSQLiteTime formats a time in schema.TimestampLayout, UTC.
func formatSQLiteTime(t time.Time) string {
	return schema.FormatTimestamp(t)
}

// parseSQLiteTime parses timestamps stored as TEXT.
//
// Supported formats:
//   - schema.TimestampLayout (what we write)
//   - RFC3339 / RFC3339Nano
//   - "2006-01-02 15:04:05[.fff][Z07:00]" written by other tools
func parseSQLiteTime(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}
	return schema.ParseTimestamp(s)
}
