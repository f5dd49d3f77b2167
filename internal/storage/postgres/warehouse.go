package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dwh/internal/storage"
)

/*
Warehouse implements storage.Warehouse over a pgx connection pool.

It provides:
  - Exec of single statements (simple protocol when there are no arguments)
  - CopyRows via the COPY FROM STDIN protocol, used by the staging loader

The same pool type serves any warehouse that speaks the Postgres wire
protocol; the dialect decides what SQL it receives.
*/
type Warehouse struct {
	pool    *pgxpool.Pool
	dialect storage.Dialect
}

var (
	_ storage.Warehouse = (*Warehouse)(nil)
	_ storage.RowCopier = (*Warehouse)(nil)
)

// Open creates a Postgres-backed Warehouse. The pool connects lazily.
func Open(ctx context.Context, cfg storage.Config) (storage.Warehouse, error) {
	return NewWarehouse(ctx, cfg.DSN, Dialect{}, false)
}

// NewWarehouse creates a pool for dsn that renders SQL with d.
//
// simpleProtocol forces the simple query protocol for every query, for
// servers that do not support extended-protocol statement caching.
func NewWarehouse(ctx context.Context, dsn string, d storage.Dialect, simpleProtocol bool) (*Warehouse, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: parse dsn: %w", d.Name(), err)
	}
	if simpleProtocol {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: open pool: %w", d.Name(), err)
	}
	return &Warehouse{pool: pool, dialect: d}, nil
}

func (w *Warehouse) Dialect() storage.Dialect { return w.dialect }

func (w *Warehouse) Exec(ctx context.Context, sql string) error {
	_, err := w.pool.Exec(ctx, sql)
	return err
}

func (w *Warehouse) Ping(ctx context.Context) error { return w.pool.Ping(ctx) }

// Close closes the connection pool.
func (w *Warehouse) Close() {
	w.pool.Close()
}

// CopyRows streams rows with COPY FROM STDIN.
//
// Unquoted identifiers fold to lower case in CREATE TABLE, while pgx quotes
// the identifiers it sends with COPY, so names are lowered here to match.
func (w *Warehouse) CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = strings.ToLower(c)
	}
	n, err := w.pool.CopyFrom(ctx, pgx.Identifier{strings.ToLower(table)}, cols, pgx.CopyFromRows(rows))
	if err != nil {
		return n, fmt.Errorf("%s: copy into %s: %w", w.dialect.Name(), table, err)
	}
	return n, nil
}

// Query runs a read-only query and returns every row as positional values.
// It exists for verification tooling and tests, not for the pipeline.
func (w *Warehouse) Query(ctx context.Context, sql string) ([][]any, error) {
	rows, err := w.pool.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}
