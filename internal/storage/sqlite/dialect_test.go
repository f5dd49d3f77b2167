package sqlite

import (
	"context"
	"strings"
	"testing"
	"time"

	"dwh/internal/storage"
)

func TestCreateTableSQL_IdentityAndTypes(t *testing.T) {
	t.Parallel()

	spec := storage.TableSpec{
		Name:       "songplays",
		PrimaryKey: "songplay_id",
		Columns: []storage.ColumnSpec{
			{Name: "songplay_id", Type: storage.TypeInt, Identity: true},
			{Name: "start_time", Type: storage.TypeTimestamp, NotNull: true},
			{Name: "duration", Type: storage.TypeDecimal},
		},
	}
	got, err := Dialect{}.CreateTableSQL(spec)
	if err != nil {
		t.Fatalf("CreateTableSQL: %v", err)
	}
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS songplays (",
		"songplay_id INTEGER PRIMARY KEY AUTOINCREMENT",
		"start_time TEXT NOT NULL",
		"duration REAL",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in:\n%s", want, got)
		}
	}
}

func TestCastAndExtract(t *testing.T) {
	t.Parallel()

	d := Dialect{}
	if got := d.Cast("userId", storage.TypeInt); got != "dwh_int(userId)" {
		t.Fatalf("Cast int = %q", got)
	}
	if got := d.Cast("x", storage.TypeText); got != "CAST(x AS TEXT)" {
		t.Fatalf("Cast text = %q", got)
	}
	if got := d.Extract(storage.PartMonth, "ts"); got != "dwh_extract('month', ts)" {
		t.Fatalf("Extract = %q", got)
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("Cast to unknown type did not panic")
		}
	}()
	d.Cast("x", storage.ColumnType("blob"))
}

func TestCopyRows_ChunksAndFormatsTimestamps(t *testing.T) {
	w, err := NewWarehouse(":memory:")
	if err != nil {
		t.Fatalf("NewWarehouse: %v", err)
	}
	defer w.Close()
	ctx := context.Background()

	if err := w.Exec(ctx, "CREATE TABLE t (a TEXT, ts TEXT)"); err != nil {
		t.Fatalf("create: %v", err)
	}

	ts := time.Date(2018, 11, 2, 1, 25, 34, 796_000_000, time.UTC)
	rows := make([][]any, 0, 1200)
	for i := 0; i < 1200; i++ {
		rows = append(rows, []any{"x", ts})
	}
	rows = append(rows, []any{nil, nil})

	n, err := w.CopyRows(ctx, "t", []string{"a", "ts"}, rows)
	if err != nil {
		t.Fatalf("CopyRows: %v", err)
	}
	if n != int64(len(rows)) {
		t.Fatalf("copied %d, want %d", n, len(rows))
	}

	got, err := w.Query(ctx, "SELECT ts FROM t LIMIT 1")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got[0][0] != "2018-11-02 01:25:34.796" {
		t.Fatalf("stored ts = %#v", got[0][0])
	}
}

func TestNewWarehouse_EmptyDSN(t *testing.T) {
	t.Parallel()

	if _, err := NewWarehouse(" "); err == nil {
		t.Fatalf("expected error")
	}
}
