// Package pipeline executes the statement lists against a warehouse:
// DROP, then CREATE, then LOAD, then TRANSFORM.
//
// The driver owns ordering and failure semantics only. It does not log,
// retry, or manage connections; callers observe progress through Observer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"dwh/internal/queries"
	"dwh/internal/schema"
	"dwh/internal/storage"
)

// ErrBulkLoadUnsupported is returned when a load statement has no SQL and
// the executor cannot bulk load.
var ErrBulkLoadUnsupported = errors.New("pipeline: executor cannot bulk load")

// Executor submits one statement and reports success or failure.
type Executor interface {
	Exec(ctx context.Context, sql string) error
}

// BulkLoader runs a load directive for warehouses without a native bulk
// load from object storage.
type BulkLoader interface {
	BulkLoad(ctx context.Context, d storage.LoadDirective) error
}

// Observer receives statement lifecycle events. With Driver.Parallel set,
// calls may arrive concurrently.
type Observer interface {
	StatementStarted(st queries.Statement)
	StatementFinished(st queries.Statement, elapsed time.Duration, err error)
}

// StatementError wraps the executor's error with the failing statement.
type StatementError struct {
	Phase     queries.Phase
	Statement string
	Table     string
	Err       error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("pipeline: %s %s: %v", e.Phase, e.Statement, e.Err)
}

func (e *StatementError) Unwrap() error { return e.Err }

// Driver runs statement lists through Exec.
//
// When to use:
//   - Construct one Driver per run; it holds no state between runs.
//
// Edge cases:
//   - Sequential mode (default) runs statements one at a time in list order
//     and stops at the first failure. Nothing is retried.
//   - Parallel mode runs the load statements concurrently, and the dimension
//     transforms concurrently before the fact transform. The first failure
//     cancels the rest of the phase. Drop and create are always sequential.
type Driver struct {
	Exec     Executor
	Observer Observer
	Parallel bool

	now func() time.Time
}

// Run executes all four phases in order.
func (d *Driver) Run(ctx context.Context, st queries.Statements) error {
	return d.RunPhases(ctx, st, queries.Phases...)
}

// RunPhases executes a subset of phases. phases must be in execution order
// without repeats; e.g. {load, transform} is valid, {transform, load} is not.
func (d *Driver) RunPhases(ctx context.Context, st queries.Statements, phases ...queries.Phase) error {
	if d.Exec == nil {
		return fmt.Errorf("pipeline: nil executor")
	}
	if err := checkOrder(phases); err != nil {
		return err
	}
	for _, p := range phases {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.runPhase(ctx, p, st.Phase(p)); err != nil {
			return err
		}
	}
	return nil
}

func checkOrder(phases []queries.Phase) error {
	last := -1
	for _, p := range phases {
		idx := -1
		for i, known := range queries.Phases {
			if known == p {
				idx = i
			}
		}
		if idx < 0 {
			return fmt.Errorf("pipeline: unknown phase %q", p)
		}
		if idx <= last {
			return fmt.Errorf("pipeline: phase %q out of order", p)
		}
		last = idx
	}
	return nil
}

func (d *Driver) runPhase(ctx context.Context, phase queries.Phase, list []queries.Statement) error {
	if !d.Parallel {
		return d.runSequential(ctx, list)
	}
	switch phase {
	case queries.PhaseLoad:
		return d.runConcurrent(ctx, list)
	case queries.PhaseTransform:
		var facts, dims []queries.Statement
		for _, st := range list {
			if spec, ok := schema.Lookup(st.Table); ok && spec.Role == storage.RoleFact {
				facts = append(facts, st)
			} else {
				dims = append(dims, st)
			}
		}
		if err := d.runConcurrent(ctx, dims); err != nil {
			return err
		}
		return d.runSequential(ctx, facts)
	default:
		return d.runSequential(ctx, list)
	}
}

func (d *Driver) runSequential(ctx context.Context, list []queries.Statement) error {
	for _, st := range list {
		if err := d.runOne(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) runConcurrent(ctx context.Context, list []queries.Statement) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, st := range list {
		g.Go(func() error { return d.runOne(gctx, st) })
	}
	return g.Wait()
}

func (d *Driver) runOne(ctx context.Context, st queries.Statement) error {
	now := d.now
	if now == nil {
		now = time.Now
	}
	if d.Observer != nil {
		d.Observer.StatementStarted(st)
	}
	start := now()

	err := d.exec(ctx, st)

	if d.Observer != nil {
		d.Observer.StatementFinished(st, now().Sub(start), err)
	}
	if err != nil {
		return &StatementError{Phase: st.Phase, Statement: st.Name, Table: st.Table, Err: err}
	}
	return nil
}

func (d *Driver) exec(ctx context.Context, st queries.Statement) error {
	if st.SQL != "" {
		return d.Exec.Exec(ctx, st.SQL)
	}
	if st.Load == nil {
		return fmt.Errorf("statement %s has no SQL", st.Name)
	}
	bl, ok := d.Exec.(BulkLoader)
	if !ok {
		return ErrBulkLoadUnsupported
	}
	return bl.BulkLoad(ctx, *st.Load)
}
