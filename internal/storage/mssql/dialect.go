package mssql

import (
	"fmt"
	"strings"

	"dwh/internal/storage"
)

// Dialect renders Microsoft SQL Server T-SQL.
//
// Notes:
//   - CREATE TABLE is wrapped in an OBJECT_ID guard; DROP uses DROP TABLE IF
//     EXISTS (SQL Server 2016+).
//   - Weekday is normalized to 0 = Sunday regardless of @@DATEFIRST.
//   - Layout hints are ignored.
type Dialect struct{}

var _ storage.Dialect = Dialect{}

func (Dialect) Name() string { return "mssql" }

func (Dialect) CreateTableSQL(t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", fmt.Errorf("mssql: %w", err)
	}

	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		def, err := mssqlColumnDef(c, c.Name == t.PrimaryKey)
		if err != nil {
			return "", fmt.Errorf("mssql: table %s: %w", t.Name, err)
		}
		defs = append(defs, def)
	}
	return wrapCreateIfMissing(t.Name, strings.Join(defs, ", ")), nil
}

func (Dialect) DropTableSQL(table string) string {
	return "DROP TABLE IF EXISTS " + mssqlTableIdent(table) + ";"
}

func (Dialect) CopySQL(storage.LoadDirective) (string, error) { return "", nil }

// Cast uses CAST, which raises a conversion error on malformed numeric text.
func (Dialect) Cast(expr string, to storage.ColumnType) string {
	typ, err := sqlType(to)
	if err != nil {
		panic("mssql: cast: " + err.Error())
	}
	return "CAST(" + expr + " AS " + typ + ")"
}

func (Dialect) Extract(part storage.TimePart, expr string) string {
	switch part {
	case storage.PartWeek:
		return "DATEPART(ISO_WEEK, " + expr + ")"
	case storage.PartWeekday:
		return "((DATEPART(WEEKDAY, " + expr + ") + @@DATEFIRST - 1) % 7)"
	default:
		return "DATEPART(" + strings.ToUpper(string(part)) + ", " + expr + ")"
	}
}

// wrapCreateIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
//
// This keeps table creation idempotent without IF NOT EXISTS syntax.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N%s, N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		storage.QuoteLiteral(tableName),
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

// mssqlColumnDef builds a SQL Server column definition.
func mssqlColumnDef(c storage.ColumnSpec, primaryKey bool) (string, error) {
	typ, err := sqlType(c.Type)
	if err != nil {
		return "", fmt.Errorf("column %s: %w", c.Name, err)
	}
	def := mssqlIdent(c.Name) + " " + typ
	if c.Identity {
		def += " IDENTITY(0,1)"
	}
	if c.NotNull || primaryKey {
		def += " NOT NULL"
	} else {
		def += " NULL"
	}
	if primaryKey {
		def += " PRIMARY KEY"
	}
	return def, nil
}

func sqlType(t storage.ColumnType) (string, error) {
	switch t {
	case storage.TypeText:
		return "NVARCHAR(256)", nil
	case storage.TypeLongText:
		return "NVARCHAR(MAX)", nil
	case storage.TypeTimestamp:
		return "DATETIME2(3)", nil
	case storage.TypeInt:
		return "INT", nil
	case storage.TypeDecimal:
		return fmt.Sprintf("DECIMAL(%d,%d)", storage.DecimalPrecision, storage.DecimalScale), nil
	case storage.TypeFloat:
		return "FLOAT", nil
	default:
		return "", fmt.Errorf("unsupported column type %q", t)
	}
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.songs" -> [dbo].[songs]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}
