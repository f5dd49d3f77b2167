package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"dwh/internal/storage"
)

const (
	// SQL Server allows 2100 parameters per request and 1000 rows per
	// VALUES constructor.
	maxParams    = 2000
	maxValueRows = 1000
)

// Warehouse implements storage.Warehouse for Microsoft SQL Server using
// database/sql and the "sqlserver" driver.
type Warehouse struct {
	db dbConn
}

var (
	_ storage.Warehouse = (*Warehouse)(nil)
	_ storage.RowCopier = (*Warehouse)(nil)
)

func init() {
	storage.Register("mssql", Dialect{}, Open)
}

// Open constructs a Warehouse without connecting; call Ping to verify.
func Open(ctx context.Context, cfg storage.Config) (storage.Warehouse, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// Conservative defaults for ETL-style bursty loads.
	raw.SetMaxOpenConns(16)
	raw.SetMaxIdleConns(16)

	return &Warehouse{db: &sqlDB{db: raw}}, nil
}

func (w *Warehouse) Dialect() storage.Dialect { return Dialect{} }

func (w *Warehouse) Exec(ctx context.Context, query string) error {
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Warehouse) Ping(ctx context.Context) error { return w.db.PingContext(ctx) }

// Close releases database resources held by this warehouse.
func (w *Warehouse) Close() {
	if w == nil || w.db == nil {
		return
	}
	_ = w.db.Close()
}

// CopyRows inserts rows using chunked INSERT ... VALUES statements inside
// one transaction.
func (w *Warehouse) CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("mssql: copy into %s: no columns", table)
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, chunk := range chunkRows(rows, len(columns)) {
		q, args := buildBulkInsertSQL(table, columns, chunk)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("mssql: copy into %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

// chunkRows splits rows so each chunk stays under the parameter and VALUES
// row limits.
func chunkRows(rows [][]any, columnCount int) [][][]any {
	per := maxParams / max(columnCount, 1)
	per = max(min(per, maxValueRows), 1)

	out := make([][][]any, 0, (len(rows)+per-1)/per)
	for start := 0; start < len(rows); start += per {
		out = append(out, rows[start:min(start+per, len(rows))])
	}
	return out
}

// buildBulkInsertSQL builds a single INSERT ... VALUES statement for all rows.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(fmt.Sprintf("@p%d", p))
			var v any
			if j < len(row) {
				v = row[j]
			}
			args = append(args, v)
			p++
		}
		b.WriteString(")")
	}

	return b.String(), args
}

// ---- database/sql seam types ----

// dbConn is a small interface over *sql.DB used to make this package testable.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PingContext(ctx context.Context) error
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is a small interface over *sql.Tx used for testability.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

// sqlDB wraps *sql.DB to implement dbConn.
type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) PingContext(ctx context.Context) error { return s.db.PingContext(ctx) }

// BeginTx begins a transaction and returns a txConn wrapper.
func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

var (
	_ dbConn = (*sqlDB)(nil)
	_ txConn = (*sql.Tx)(nil)
)
