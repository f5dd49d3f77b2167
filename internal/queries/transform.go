package queries

import (
	"fmt"
	"strings"

	"dwh/internal/schema"
	"dwh/internal/storage"
)

// projection is an INSERT ... SELECT into one star table. exprs holds one
// expression per target column, in target column order.
type projection struct {
	table    storage.TableSpec
	columns  []string
	exprs    []string
	from     string
	where    string
	distinct bool
}

// InsertStatements renders the five transforms in order: songplays, users,
// songs, artists, time.
//
// Under schema.FirstWins every dimension insert keeps one row per primary
// key. Under schema.WarehousePolicy the statements insert every distinct
// projected row (every event, for time) and leave duplicates to the
// warehouse.
func InsertStatements(d storage.Dialect, opts Options) ([]Statement, error) {
	policy, err := schema.ParseKeyConflict(string(opts.KeyConflict))
	if err != nil {
		return nil, err
	}

	fact := songplaysProjection(d)
	dims := []projection{
		usersProjection(d),
		songsProjection(d),
		artistsProjection(d),
		timeProjection(d, policy),
	}

	out := make([]Statement, 0, 1+len(dims))
	out = append(out, Statement{
		Name:  "insert_" + fact.table.Name,
		Phase: PhaseTransform,
		Table: fact.table.Name,
		SQL:   fact.plainSQL(),
	})
	for _, p := range dims {
		sql := p.plainSQL()
		if policy == schema.FirstWins && p.table.Name != schema.Time {
			sql = p.firstWinsSQL()
		}
		out = append(out, Statement{
			Name:  "insert_" + p.table.Name,
			Phase: PhaseTransform,
			Table: p.table.Name,
			SQL:   sql,
		})
	}
	for _, st := range out {
		if st.SQL == "" {
			return nil, fmt.Errorf("transform %s: empty statement", st.Table)
		}
	}
	return out, nil
}

// songplaysProjection joins NextSong events to songs on artist name and
// title. Events without a matching song produce no row.
func songplaysProjection(d storage.Dialect) projection {
	t := schema.SongplaysTable()
	var cols []string
	for _, c := range t.Columns {
		if !c.Identity {
			cols = append(cols, c.Name)
		}
	}
	return projection{
		table:   t,
		columns: cols,
		exprs: []string{
			"e.ts",
			d.Cast("e.userId", storage.TypeInt),
			"e.level",
			"s.song_id",
			"s.artist_id",
			d.Cast("e.sessionId", storage.TypeInt),
			"e.location",
			"e.userAgent",
		},
		from:  "staging_events e\nJOIN staging_songs s ON e.artist = s.artist_name AND e.song = s.title",
		where: "e.page = " + storage.QuoteLiteral(schema.PageNextSong),
	}
}

func usersProjection(d storage.Dialect) projection {
	t := schema.UsersTable()
	return projection{
		table:   t,
		columns: t.ColumnNames(),
		exprs: []string{
			d.Cast("userId", storage.TypeInt),
			"firstName",
			"lastName",
			"gender",
			"level",
		},
		from:     schema.StagingEvents,
		where:    "page = " + storage.QuoteLiteral(schema.PageNextSong),
		distinct: true,
	}
}

func songsProjection(d storage.Dialect) projection {
	t := schema.SongsTable()
	return projection{
		table:   t,
		columns: t.ColumnNames(),
		exprs: []string{
			"song_id",
			"title",
			"artist_id",
			d.Cast("year", storage.TypeInt),
			d.Cast("duration", storage.TypeDecimal),
		},
		from:     schema.StagingSongs,
		distinct: true,
	}
}

func artistsProjection(d storage.Dialect) projection {
	t := schema.ArtistsTable()
	return projection{
		table:   t,
		columns: t.ColumnNames(),
		exprs: []string{
			"artist_id",
			"artist_name",
			"artist_location",
			d.Cast("artist_latitude", storage.TypeFloat),
			d.Cast("artist_longitude", storage.TypeFloat),
		},
		from:     schema.StagingSongs,
		distinct: true,
	}
}

// timeProjection decomposes every event timestamp. Under FirstWins the rows
// are DISTINCT and NULL timestamps are skipped; every part is a function of
// start_time, so that alone leaves one row per key.
func timeProjection(d storage.Dialect, policy schema.KeyConflict) projection {
	t := schema.TimeTable()
	exprs := []string{"ts"}
	for _, part := range storage.TimeParts {
		exprs = append(exprs, d.Extract(part, "ts"))
	}
	p := projection{
		table:   t,
		columns: t.ColumnNames(),
		exprs:   exprs,
		from:    schema.StagingEvents,
	}
	if policy == schema.FirstWins {
		p.distinct = true
		p.where = "ts IS NOT NULL"
	}
	return p
}

func (p projection) insertHead() string {
	return "INSERT INTO " + p.table.Name + " (" + strings.Join(p.columns, ", ") + ")\n"
}

func (p projection) plainSQL() string {
	if len(p.columns) != len(p.exprs) {
		return ""
	}
	var b strings.Builder
	b.WriteString(p.insertHead())
	b.WriteString("SELECT ")
	if p.distinct {
		b.WriteString("DISTINCT ")
	}
	b.WriteString(strings.Join(p.exprs, ",\n       "))
	b.WriteString("\nFROM ")
	b.WriteString(p.from)
	if p.where != "" {
		b.WriteString("\nWHERE ")
		b.WriteString(p.where)
	}
	b.WriteString(";")
	return b.String()
}

// firstWinsSQL ranks the distinct projection within each primary key and
// keeps rank 1, dropping rows with a NULL key. The order is the remaining
// columns ascending with NULLs last, so the surviving row does not depend on
// scan order.
func (p projection) firstWinsSQL() string {
	if len(p.columns) != len(p.exprs) || p.table.PrimaryKey == "" {
		return ""
	}

	aliased := make([]string, len(p.exprs))
	var order []string
	for i, e := range p.exprs {
		c := p.columns[i]
		aliased[i] = e
		if e != c {
			aliased[i] = e + " AS " + c
		}
		if c != p.table.PrimaryKey {
			order = append(order, "CASE WHEN "+c+" IS NULL THEN 1 ELSE 0 END, "+c)
		}
	}
	cols := strings.Join(p.columns, ", ")

	var b strings.Builder
	b.WriteString(p.insertHead())
	b.WriteString("SELECT " + cols + "\n")
	b.WriteString("FROM (\n")
	b.WriteString("    SELECT " + cols + ",\n")
	b.WriteString("           ROW_NUMBER() OVER (PARTITION BY " + p.table.PrimaryKey + " ORDER BY " + strings.Join(order, ", ") + ") AS rn\n")
	b.WriteString("    FROM (\n")
	b.WriteString("        SELECT DISTINCT " + strings.Join(aliased, ",\n               ") + "\n")
	b.WriteString("        FROM " + p.from + "\n")
	if p.where != "" {
		b.WriteString("        WHERE " + p.where + "\n")
	}
	b.WriteString("    ) candidates\n")
	b.WriteString(") ranked\n")
	b.WriteString("WHERE rn = 1 AND " + p.table.PrimaryKey + " IS NOT NULL;")
	return b.String()
}
