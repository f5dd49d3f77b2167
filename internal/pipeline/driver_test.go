package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"dwh/internal/queries"
	"dwh/internal/storage"
)

type fakeExec struct {
	mu     sync.Mutex
	sqls   []string
	failOn string
	err    error

	loads []string
}

func (f *fakeExec) Exec(ctx context.Context, sql string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sqls = append(f.sqls, sql)
	if f.failOn != "" && sql == f.failOn {
		return f.err
	}
	return nil
}

type fakeLoader struct {
	fakeExec
}

func (f *fakeLoader) BulkLoad(ctx context.Context, d storage.LoadDirective) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, d.Table)
	return nil
}

type recorder struct {
	mu       sync.Mutex
	started  []string
	finished []string
	errs     []error
}

func (r *recorder) StatementStarted(st queries.Statement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, st.Name)
}

func (r *recorder) StatementFinished(st queries.Statement, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, st.Name)
	r.errs = append(r.errs, err)
}

func stmt(phase queries.Phase, table string) queries.Statement {
	return queries.Statement{
		Name:  string(phase) + "_" + table,
		Phase: phase,
		Table: table,
		SQL:   string(phase) + " " + table,
	}
}

func sampleStatements() queries.Statements {
	return queries.Statements{
		Drop:   []queries.Statement{stmt(queries.PhaseDrop, "a"), stmt(queries.PhaseDrop, "b")},
		Create: []queries.Statement{stmt(queries.PhaseCreate, "a"), stmt(queries.PhaseCreate, "b")},
		Copy:   []queries.Statement{stmt(queries.PhaseLoad, "staging_events"), stmt(queries.PhaseLoad, "staging_songs")},
		Insert: []queries.Statement{
			stmt(queries.PhaseTransform, "songplays"),
			stmt(queries.PhaseTransform, "users"),
			stmt(queries.PhaseTransform, "songs"),
			stmt(queries.PhaseTransform, "artists"),
			stmt(queries.PhaseTransform, "time"),
		},
	}
}

func TestRun_SequentialOrder(t *testing.T) {
	t.Parallel()

	ex := &fakeExec{}
	rec := &recorder{}
	d := &Driver{Exec: ex, Observer: rec}
	st := sampleStatements()

	if err := d.Run(context.Background(), st); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var want []string
	for _, s := range st.All() {
		want = append(want, s.SQL)
	}
	if strings.Join(ex.sqls, "|") != strings.Join(want, "|") {
		t.Fatalf("order:\n got %v\nwant %v", ex.sqls, want)
	}
	if len(rec.started) != len(want) || len(rec.finished) != len(want) {
		t.Fatalf("observer saw %d/%d events, want %d", len(rec.started), len(rec.finished), len(want))
	}
}

func TestRun_StopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("relation does not exist")
	ex := &fakeExec{failOn: "create b", err: boom}
	rec := &recorder{}
	d := &Driver{Exec: ex, Observer: rec}

	err := d.Run(context.Background(), sampleStatements())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped executor error, got %v", err)
	}
	var se *StatementError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatementError, got %T", err)
	}
	if se.Phase != queries.PhaseCreate || se.Statement != "create_b" || se.Table != "b" {
		t.Fatalf("unexpected error fields: %+v", se)
	}
	if got := ex.sqls[len(ex.sqls)-1]; got != "create b" {
		t.Fatalf("executed past failure; last = %q", got)
	}
	if len(ex.sqls) != 4 {
		t.Fatalf("expected 4 statements submitted, got %d", len(ex.sqls))
	}
	if last := rec.errs[len(rec.errs)-1]; !errors.Is(last, boom) {
		t.Fatalf("observer did not see the failure: %v", last)
	}
}

func TestRunPhases_Subset(t *testing.T) {
	t.Parallel()

	ex := &fakeExec{}
	d := &Driver{Exec: ex}
	if err := d.RunPhases(context.Background(), sampleStatements(), queries.PhaseLoad, queries.PhaseTransform); err != nil {
		t.Fatalf("RunPhases: %v", err)
	}
	if len(ex.sqls) != 7 || ex.sqls[0] != "load staging_events" {
		t.Fatalf("unexpected statements: %v", ex.sqls)
	}
}

func TestRunPhases_RejectsOutOfOrder(t *testing.T) {
	t.Parallel()

	ex := &fakeExec{}
	d := &Driver{Exec: ex}
	for _, phases := range [][]queries.Phase{
		{queries.PhaseTransform, queries.PhaseLoad},
		{queries.PhaseDrop, queries.PhaseDrop},
		{"vacuum"},
	} {
		if err := d.RunPhases(context.Background(), sampleStatements(), phases...); err == nil {
			t.Fatalf("%v: expected error", phases)
		}
	}
	if len(ex.sqls) != 0 {
		t.Fatalf("nothing should run on a bad phase list; ran %v", ex.sqls)
	}
}

func TestRun_NilExecutor(t *testing.T) {
	t.Parallel()

	if err := (&Driver{}).Run(context.Background(), sampleStatements()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRun_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ex := &fakeExec{}
	if err := (&Driver{Exec: ex}).Run(ctx, sampleStatements()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(ex.sqls) != 0 {
		t.Fatalf("ran %v", ex.sqls)
	}
}

func TestRun_BulkLoadDirective(t *testing.T) {
	t.Parallel()

	st := sampleStatements()
	st.Copy = []queries.Statement{{
		Name:  "copy_staging_songs",
		Phase: queries.PhaseLoad,
		Table: "staging_songs",
		Load:  &storage.LoadDirective{Table: "staging_songs", Source: "file:///tmp/song_data"},
	}}

	ld := &fakeLoader{}
	if err := (&Driver{Exec: ld}).RunPhases(context.Background(), st, queries.PhaseLoad); err != nil {
		t.Fatalf("RunPhases: %v", err)
	}
	if len(ld.loads) != 1 || ld.loads[0] != "staging_songs" {
		t.Fatalf("loads = %v", ld.loads)
	}

	err := (&Driver{Exec: &fakeExec{}}).RunPhases(context.Background(), st, queries.PhaseLoad)
	if !errors.Is(err, ErrBulkLoadUnsupported) {
		t.Fatalf("expected ErrBulkLoadUnsupported, got %v", err)
	}
}

// orderingExec records when each statement starts and finishes, to check
// that the fact transform waits for every dimension.
type orderingExec struct {
	mu     sync.Mutex
	events []string
}

func (o *orderingExec) Exec(ctx context.Context, sql string) error {
	o.mu.Lock()
	o.events = append(o.events, "start "+sql)
	o.mu.Unlock()
	time.Sleep(time.Millisecond)
	o.mu.Lock()
	o.events = append(o.events, "end "+sql)
	o.mu.Unlock()
	return nil
}

func TestRun_ParallelRunsFactAfterDimensions(t *testing.T) {
	t.Parallel()

	ex := &orderingExec{}
	d := &Driver{Exec: ex, Parallel: true}
	if err := d.RunPhases(context.Background(), sampleStatements(), queries.PhaseTransform); err != nil {
		t.Fatalf("RunPhases: %v", err)
	}

	if len(ex.events) != 10 {
		t.Fatalf("expected 10 events, got %v", ex.events)
	}
	if ex.events[8] != "start transform songplays" || ex.events[9] != "end transform songplays" {
		t.Fatalf("fact did not run last: %v", ex.events)
	}
}

func TestRun_ParallelSurfacesFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("duplicate key")
	ex := &fakeExec{failOn: "transform users", err: boom}
	d := &Driver{Exec: ex, Parallel: true}

	err := d.RunPhases(context.Background(), sampleStatements(), queries.PhaseTransform)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	for _, s := range ex.sqls {
		if s == "transform songplays" {
			t.Fatalf("fact ran after a dimension failed")
		}
	}
}
