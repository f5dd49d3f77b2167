// Package all registers every warehouse backend with the storage registry.
package all

import (
	_ "dwh/internal/storage/mssql"
	_ "dwh/internal/storage/postgres"
	_ "dwh/internal/storage/redshift"
	_ "dwh/internal/storage/sqlite"
)
