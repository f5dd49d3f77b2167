// Package queries builds the four ordered statement lists of a warehouse
// refresh: drop, create, copy and insert. The lists are pure data; running
// them is the pipeline driver's job.
package queries

import (
	"fmt"
	"slices"

	"dwh/internal/schema"
	"dwh/internal/storage"
)

// Phase names a statement list. Phases run in declaration order.
type Phase string

const (
	PhaseDrop      Phase = "drop"
	PhaseCreate    Phase = "create"
	PhaseLoad      Phase = "load"
	PhaseTransform Phase = "transform"
)

// Phases lists every phase in execution order.
var Phases = []Phase{PhaseDrop, PhaseCreate, PhaseLoad, PhaseTransform}

// ParsePhase accepts a phase name.
func ParsePhase(s string) (Phase, error) {
	for _, p := range Phases {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// Statement is one unit of work submitted to the warehouse.
type Statement struct {
	Name  string
	Phase Phase
	Table string

	// SQL is the statement text. A load statement whose dialect has no
	// native bulk load carries empty SQL and a Load directive.
	SQL string

	// Load is set for load statements.
	Load *storage.LoadDirective
}

// Statements holds the four lists.
type Statements struct {
	Drop   []Statement
	Create []Statement
	Copy   []Statement
	Insert []Statement
}

// Phase returns the list for p.
func (s Statements) Phase(p Phase) []Statement {
	switch p {
	case PhaseDrop:
		return s.Drop
	case PhaseCreate:
		return s.Create
	case PhaseLoad:
		return s.Copy
	case PhaseTransform:
		return s.Insert
	default:
		return nil
	}
}

// All returns every statement in execution order.
func (s Statements) All() []Statement {
	out := make([]Statement, 0, len(s.Drop)+len(s.Create)+len(s.Copy)+len(s.Insert))
	for _, p := range Phases {
		out = append(out, s.Phase(p)...)
	}
	return out
}

// Sources says where the staging data lives and how the warehouse may
// read it.
type Sources struct {
	LogData     string // object-store prefix of activity logs
	LogJSONPath string // JSONPaths document mapping log fields to columns
	SongData    string // object-store prefix of song metadata
	IAMRole     string // role ARN the warehouse assumes for COPY
	Region      string
	MaxErrors   int
}

// Options tune the transform statements.
type Options struct {
	KeyConflict schema.KeyConflict
}

// Build renders all four lists for dialect d.
//
// Errors:
//   - A table spec the dialect cannot render.
//   - Missing source locations, or a native COPY missing credentials.
//   - An unknown key conflict policy.
func Build(d storage.Dialect, src Sources, opts Options) (Statements, error) {
	create, err := CreateStatements(d)
	if err != nil {
		return Statements{}, err
	}
	cp, err := CopyStatements(d, src)
	if err != nil {
		return Statements{}, err
	}
	ins, err := InsertStatements(d, opts)
	if err != nil {
		return Statements{}, err
	}
	return Statements{
		Drop:   DropStatements(d),
		Create: create,
		Copy:   cp,
		Insert: ins,
	}, nil
}

// DropStatements drops every catalog table if it exists, in reverse
// catalog order so the fact goes before the dimensions.
func DropStatements(d storage.Dialect) []Statement {
	tables := schema.Catalog()
	slices.Reverse(tables)
	out := make([]Statement, 0, len(tables))
	for _, t := range tables {
		out = append(out, Statement{
			Name:  "drop_" + t.Name,
			Phase: PhaseDrop,
			Table: t.Name,
			SQL:   d.DropTableSQL(t.Name),
		})
	}
	return out
}

// CreateStatements creates every catalog table if absent, in catalog order.
func CreateStatements(d storage.Dialect) ([]Statement, error) {
	tables := schema.Catalog()
	out := make([]Statement, 0, len(tables))
	for _, t := range tables {
		sql, err := d.CreateTableSQL(t)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", t.Name, err)
		}
		out = append(out, Statement{
			Name:  "create_" + t.Name,
			Phase: PhaseCreate,
			Table: t.Name,
			SQL:   sql,
		})
	}
	return out, nil
}

// CopyStatements loads staging_events (via the JSONPaths document, epoch
// millisecond timestamps) and then staging_songs (fields matched by name).
func CopyStatements(d storage.Dialect, src Sources) ([]Statement, error) {
	switch {
	case src.LogData == "":
		return nil, fmt.Errorf("copy: log data location is empty")
	case src.LogJSONPath == "":
		return nil, fmt.Errorf("copy: log JSONPaths location is empty")
	case src.SongData == "":
		return nil, fmt.Errorf("copy: song data location is empty")
	case src.MaxErrors < 0:
		return nil, fmt.Errorf("copy: max errors must be >= 0, got %d", src.MaxErrors)
	}

	events := schema.StagingEventsTable()
	songs := schema.StagingSongsTable()
	directives := []storage.LoadDirective{
		{
			Table:      events.Name,
			Columns:    events.Columns,
			Source:     src.LogData,
			Credential: src.IAMRole,
			Format:     src.LogJSONPath,
			TimeFormat: storage.TimeFormatEpochMillis,
			Region:     src.Region,
			MaxErrors:  src.MaxErrors,
		},
		{
			Table:      songs.Name,
			Columns:    songs.Columns,
			Source:     src.SongData,
			Credential: src.IAMRole,
			Format:     storage.FormatAuto,
			Region:     src.Region,
			MaxErrors:  src.MaxErrors,
		},
	}

	out := make([]Statement, 0, len(directives))
	for i := range directives {
		ld := directives[i]
		sql, err := d.CopySQL(ld)
		if err != nil {
			return nil, fmt.Errorf("copy %s: %w", ld.Table, err)
		}
		out = append(out, Statement{
			Name:  "copy_" + ld.Table,
			Phase: PhaseLoad,
			Table: ld.Table,
			SQL:   sql,
			Load:  &ld,
		})
	}
	return out, nil
}
