// Package redshift renders Amazon Redshift SQL and connects over the
// Postgres wire protocol.
package redshift

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"dwh/internal/storage"
	"dwh/internal/storage/postgres"
)

// Dialect renders Redshift DDL with distribution and sort hints, and native
// COPY from S3. Redshift does not enforce primary keys.
type Dialect struct{}

var _ storage.Dialect = Dialect{}

func init() {
	storage.Register("redshift", Dialect{}, Open)
}

// Open connects with pgx in simple-protocol mode.
func Open(ctx context.Context, cfg storage.Config) (storage.Warehouse, error) {
	return postgres.NewWarehouse(ctx, cfg.DSN, Dialect{}, true)
}

func (Dialect) Name() string { return "redshift" }

// CreateTableSQL renders column-level DISTKEY and SORTKEY attributes and a
// trailing DISTSTYLE for replicated or even tables.
func (Dialect) CreateTableSQL(t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", fmt.Errorf("redshift: %w", err)
	}

	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		typ, err := sqlType(c.Type)
		if err != nil {
			return "", fmt.Errorf("redshift: table %s column %s: %w", t.Name, c.Name, err)
		}
		def := c.Name + " " + typ
		if c.Identity {
			def += " IDENTITY(0,1)"
		}
		if c.NotNull {
			def += " NOT NULL"
		}
		if c.Name == t.PrimaryKey {
			def += " PRIMARY KEY"
		}
		if c.Name == t.Layout.SortKey {
			def += " SORTKEY"
		}
		if t.Layout.DistStyle == storage.DistKey && c.Name == t.Layout.DistKey {
			def += " DISTKEY"
		}
		defs = append(defs, def)
	}

	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(t.Name)
	b.WriteString(" (\n    ")
	b.WriteString(strings.Join(defs, ",\n    "))
	b.WriteString("\n)")
	switch t.Layout.DistStyle {
	case storage.DistAll:
		b.WriteString(" DISTSTYLE ALL")
	case storage.DistEven:
		b.WriteString(" DISTSTYLE EVEN")
	}
	b.WriteString(";")
	return b.String(), nil
}

func (Dialect) DropTableSQL(table string) string {
	return "DROP TABLE IF EXISTS " + table + ";"
}

// CopySQL renders a COPY from S3 using an IAM role. TIMEFORMAT is emitted
// only when the directive names one; MAXERROR only when it is positive.
func (Dialect) CopySQL(d storage.LoadDirective) (string, error) {
	switch {
	case d.Table == "":
		return "", fmt.Errorf("redshift: copy: empty table")
	case d.Source == "":
		return "", fmt.Errorf("redshift: copy %s: empty source", d.Table)
	case d.Credential == "":
		return "", fmt.Errorf("redshift: copy %s: empty IAM role", d.Table)
	case d.Region == "":
		return "", fmt.Errorf("redshift: copy %s: empty region", d.Table)
	}
	format := d.Format
	if format == "" {
		format = storage.FormatAuto
	}

	var b strings.Builder
	b.WriteString("COPY " + d.Table + "\n")
	b.WriteString("FROM " + storage.QuoteLiteral(d.Source) + "\n")
	b.WriteString("CREDENTIALS " + storage.QuoteLiteral("aws_iam_role="+d.Credential) + "\n")
	b.WriteString("FORMAT AS JSON " + storage.QuoteLiteral(format) + "\n")
	if d.TimeFormat != "" {
		b.WriteString("TIMEFORMAT AS " + storage.QuoteLiteral(d.TimeFormat) + "\n")
	}
	b.WriteString("REGION " + storage.QuoteLiteral(d.Region))
	if d.MaxErrors > 0 {
		b.WriteString("\nMAXERROR " + strconv.Itoa(d.MaxErrors))
	}
	b.WriteString(";")
	return b.String(), nil
}

// Cast relies on Redshift's CAST, which rejects malformed numeric text.
func (Dialect) Cast(expr string, to storage.ColumnType) string {
	typ, err := sqlType(to)
	if err != nil {
		panic("redshift: cast: " + err.Error())
	}
	return "CAST(" + expr + " AS " + typ + ")"
}

func (Dialect) Extract(part storage.TimePart, expr string) string {
	field := strings.ToUpper(string(part))
	if part == storage.PartWeekday {
		field = "DOW"
	}
	return "EXTRACT(" + field + " FROM " + expr + ")"
}

func sqlType(t storage.ColumnType) (string, error) {
	switch t {
	case storage.TypeText:
		return "VARCHAR(256)", nil
	case storage.TypeLongText:
		return "VARCHAR(MAX)", nil
	case storage.TypeTimestamp:
		return "TIMESTAMP", nil
	case storage.TypeInt:
		return "INTEGER", nil
	case storage.TypeDecimal:
		return fmt.Sprintf("DECIMAL(%d,%d)", storage.DecimalPrecision, storage.DecimalScale), nil
	case storage.TypeFloat:
		return "FLOAT", nil
	default:
		return "", fmt.Errorf("unsupported column type %q", t)
	}
}
