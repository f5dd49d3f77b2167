package schema

import "fmt"

// KeyConflict decides what happens when a dimension projection yields more
// than one row for the same primary key.
type KeyConflict string

const (
	// FirstWins keeps exactly one row per key: the first by ascending order
	// of the remaining projected columns.
	FirstWins KeyConflict = "first_wins"

	// WarehousePolicy inserts every distinct row and leaves the outcome to
	// the warehouse. Redshift keeps duplicates because it does not enforce
	// primary keys; warehouses that enforce them fail the statement.
	WarehousePolicy KeyConflict = "warehouse"
)

// ParseKeyConflict accepts "" (FirstWins), "first_wins" and "warehouse".
func ParseKeyConflict(s string) (KeyConflict, error) {
	switch KeyConflict(s) {
	case "", FirstWins:
		return FirstWins, nil
	case WarehousePolicy:
		return WarehousePolicy, nil
	default:
		return "", fmt.Errorf("unknown key conflict policy %q (want %s or %s)", s, FirstWins, WarehousePolicy)
	}
}
