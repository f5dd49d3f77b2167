package transformer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"dwh/internal/schema"
	"dwh/internal/storage"
)

// Staging is an in-memory storage.RowCopier. It receives staging rows from
// the loader when no warehouse is involved, e.g. for a local preview.
//
// Concurrency:
//   - CopyRows is safe for concurrent use; each call copies the rows it is
//     given, so callers may reuse their slices afterwards.
type Staging struct {
	mu     sync.Mutex
	tables map[string]*stagedTable
}

type stagedTable struct {
	columns []string
	rows    [][]any
}

// NewStaging returns an empty staging area.
func NewStaging() *Staging {
	return &Staging{tables: map[string]*stagedTable{}}
}

// CopyRows implements storage.RowCopier. Every call for one table must use
// the same column list.
func (s *Staging) CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[table]
	if !ok {
		t = &stagedTable{columns: append([]string(nil), columns...)}
		s.tables[table] = t
	} else if strings.Join(t.columns, ",") != strings.Join(columns, ",") {
		return 0, fmt.Errorf("staging %s: column list changed between batches", table)
	}
	for _, r := range rows {
		t.rows = append(t.rows, append([]any(nil), r...))
	}
	return int64(len(rows)), nil
}

// Len returns the number of rows staged for table.
func (s *Staging) Len(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[table]; ok {
		return len(t.rows)
	}
	return 0
}

// Events decodes the staged staging_events rows.
func (s *Staging) Events() ([]schema.StagingEvent, error) {
	columns, rows := s.snapshot(schema.StagingEvents)
	out := make([]schema.StagingEvent, 0, len(rows))
	for i, r := range rows {
		e, err := schema.EventFromRow(columns, r)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", schema.StagingEvents, i+1, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Songs decodes the staged staging_songs rows.
func (s *Staging) Songs() ([]schema.StagingSong, error) {
	columns, rows := s.snapshot(schema.StagingSongs)
	out := make([]schema.StagingSong, 0, len(rows))
	for i, r := range rows {
		song, err := schema.SongFromRow(columns, r)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", schema.StagingSongs, i+1, err)
		}
		out = append(out, song)
	}
	return out, nil
}

func (s *Staging) snapshot(table string) ([]string, [][]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		return nil, nil
	}
	return t.columns, append([][]any(nil), t.rows...)
}

var _ storage.RowCopier = (*Staging)(nil)
