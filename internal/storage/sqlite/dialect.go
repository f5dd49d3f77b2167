package sqlite

import (
	"fmt"
	"strings"

	"dwh/internal/storage"
)

// Dialect renders SQLite. Timestamps are stored as TEXT in
// schema.TimestampLayout, decimals and floats as REAL. The identity column
// becomes INTEGER PRIMARY KEY AUTOINCREMENT, which numbers from 1.
type Dialect struct{}

var _ storage.Dialect = Dialect{}

func (Dialect) Name() string { return "sqlite" }

func (Dialect) CreateTableSQL(t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", fmt.Errorf("sqlite: %w", err)
	}

	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		typ, err := sqlType(c.Type)
		if err != nil {
			return "", fmt.Errorf("sqlite: table %s column %s: %w", t.Name, c.Name, err)
		}
		def := c.Name + " " + typ
		if c.NotNull {
			def += " NOT NULL"
		}
		if c.Name == t.PrimaryKey {
			def += " PRIMARY KEY"
			if c.Identity {
				def += " AUTOINCREMENT"
			}
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

// Cast maps numeric targets to the strict functions in functions.go.
func (Dialect) Cast(expr string, to storage.ColumnType) string {
	switch to {
	case storage.TypeInt:
		return fnInt + "(" + expr + ")"
	case storage.TypeFloat:
		return fnReal + "(" + expr + ")"
	case storage.TypeDecimal:
		return fnDecimal + "(" + expr + ")"
	case storage.TypeText, storage.TypeLongText, storage.TypeTimestamp:
		return "CAST(" + expr + " AS TEXT)"
	default:
		panic(fmt.Sprintf("sqlite: cast: unsupported column type %q", to))
	}
}

func (Dialect) Extract(part storage.TimePart, expr string) string {
	return fnExtract + "(" + storage.QuoteLiteral(string(part)) + ", " + expr + ")"
}

func sqlType(t storage.ColumnType) (string, error) {
	switch t {
	case storage.TypeText, storage.TypeLongText, storage.TypeTimestamp:
		return "TEXT", nil
	case storage.TypeInt:
		return "INTEGER", nil
	case storage.TypeDecimal, storage.TypeFloat:
		return "REAL", nil
	default:
		return "", fmt.Errorf("unsupported column type %q", t)
	}
}
