// Table definitions live here so the statement builder and every backend
// dialect can import them without circular deps.
package storage

import "fmt"

// ColumnType is the logical type of a column. Each Dialect maps it to a
// concrete SQL type.
type ColumnType string

const (
	TypeText      ColumnType = "text"      // short variable-length text
	TypeLongText  ColumnType = "long_text" // unbounded text
	TypeTimestamp ColumnType = "timestamp" // timestamp without zone, UTC by convention
	TypeInt       ColumnType = "int"
	TypeDecimal   ColumnType = "decimal"
	TypeFloat     ColumnType = "float"
)

// Precision and scale every dialect renders for TypeDecimal.
const (
	DecimalPrecision = 18
	DecimalScale     = 5
)

// TableRole says where a table sits in the flow.
type TableRole string

const (
	RoleStaging   TableRole = "staging"
	RoleFact      TableRole = "fact"
	RoleDimension TableRole = "dimension"
)

// DistStyle is the row distribution strategy of a distributed columnar store.
type DistStyle string

const (
	DistAuto DistStyle = ""     // let the warehouse decide
	DistKey  DistStyle = "key"  // hash-distribute on Layout.DistKey
	DistAll  DistStyle = "all"  // replicate to every node
	DistEven DistStyle = "even" // round-robin
)

// Layout carries physical hints. Dialects without distribution support
// ignore it.
type Layout struct {
	DistStyle DistStyle `json:"dist_style,omitempty"`
	DistKey   string    `json:"dist_key,omitempty"`
	SortKey   string    `json:"sort_key,omitempty"`
}

type ColumnSpec struct {
	Name    string     `json:"name"`
	Type    ColumnType `json:"type"`
	NotNull bool       `json:"not_null,omitempty"`

	// Identity marks an auto-generated integer starting at 0, step 1.
	Identity bool `json:"identity,omitempty"`
}

type TableSpec struct {
	Name       string       `json:"name"`
	Role       TableRole    `json:"role"`
	PrimaryKey string       `json:"primary_key,omitempty"`
	Columns    []ColumnSpec `json:"columns"`
	Layout     Layout       `json:"layout"`
}

// ColumnNames returns the column names in declaration order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Column returns the named column.
func (t TableSpec) Column(name string) (ColumnSpec, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// Validate checks that every key named by PrimaryKey or Layout is a
// declared column and that column names are unique.
func (t TableSpec) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("table name is empty")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s: no columns", t.Name)
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == "" {
			return fmt.Errorf("table %s: column name is empty", t.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("table %s: duplicate column %s", t.Name, c.Name)
		}
		seen[c.Name] = true
		if c.Type == "" {
			return fmt.Errorf("table %s: column %s has no type", t.Name, c.Name)
		}
		if c.Identity && c.Type != TypeInt {
			return fmt.Errorf("table %s: identity column %s must be int", t.Name, c.Name)
		}
	}
	for _, ref := range []struct{ what, col string }{
		{"primary key", t.PrimaryKey},
		{"dist key", t.Layout.DistKey},
		{"sort key", t.Layout.SortKey},
	} {
		if ref.col != "" && !seen[ref.col] {
			return fmt.Errorf("table %s: %s %s is not a column", t.Name, ref.what, ref.col)
		}
	}
	if t.Layout.DistStyle == DistKey && t.Layout.DistKey == "" {
		return fmt.Errorf("table %s: dist style key requires a dist key", t.Name)
	}
	return nil
}
