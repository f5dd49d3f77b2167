package postgres

import (
	"fmt"
	"strings"

	"dwh/internal/storage"
)

// Dialect renders PostgreSQL. Layout hints are ignored; loads go through
// COPY FROM STDIN (see Warehouse.CopyRows) because Postgres cannot read
// object storage itself.
type Dialect struct{}

var _ storage.Dialect = Dialect{}

func (Dialect) Name() string { return "postgres" }

// CreateTableSQL renders CREATE TABLE IF NOT EXISTS with an inline primary
// key. Identity columns start at 0.
func (Dialect) CreateTableSQL(t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", fmt.Errorf("postgres: %w", err)
	}

	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		def, err := columnDef(c, c.Name == t.PrimaryKey)
		if err != nil {
			return "", fmt.Errorf("postgres: table %s: %w", t.Name, err)
		}
		defs = append(defs, def)
	}

	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(t.Name)
	b.WriteString(" (\n    ")
	b.WriteString(strings.Join(defs, ",\n    "))
	b.WriteString("\n);")
	return b.String(), nil
}

func (Dialect) DropTableSQL(table string) string {
	return "DROP TABLE IF EXISTS " + table + ";"
}

func (Dialect) CopySQL(storage.LoadDirective) (string, error) { return "", nil }

func (Dialect) Cast(expr string, to storage.ColumnType) string {
	typ, err := sqlType(to)
	if err != nil {
		panic("postgres: cast: " + err.Error())
	}
	return "CAST(" + expr + " AS " + typ + ")"
}

// Extract uses DOW for weekday (0 = Sunday) and WEEK for the ISO week.
func (Dialect) Extract(part storage.TimePart, expr string) string {
	field := strings.ToUpper(string(part))
	if part == storage.PartWeekday {
		field = "DOW"
	}
	return "CAST(EXTRACT(" + field + " FROM " + expr + ") AS INTEGER)"
}

func columnDef(c storage.ColumnSpec, primaryKey bool) (string, error) {
	typ, err := sqlType(c.Type)
	if err != nil {
		return "", fmt.Errorf("column %s: %w", c.Name, err)
	}
	def := c.Name + " " + typ
	if c.Identity {
		def += " GENERATED BY DEFAULT AS IDENTITY (START WITH 0 MINVALUE 0)"
	}
	if c.NotNull {
		def += " NOT NULL"
	}
	if primaryKey {
		def += " PRIMARY KEY"
	}
	return def, nil
}

func sqlType(t storage.ColumnType) (string, error) {
	switch t {
	case storage.TypeText, storage.TypeLongText:
		return "TEXT", nil
	case storage.TypeTimestamp:
		return "TIMESTAMP", nil
	case storage.TypeInt:
		return "INTEGER", nil
	case storage.TypeDecimal:
		return fmt.Sprintf("NUMERIC(%d,%d)", storage.DecimalPrecision, storage.DecimalScale), nil
	case storage.TypeFloat:
		return "DOUBLE PRECISION", nil
	default:
		return "", fmt.Errorf("unsupported column type %q", t)
	}
}
