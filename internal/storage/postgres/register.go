package postgres

import "dwh/internal/storage"

func init() {
	storage.Register("postgres", Dialect{}, Open)
}
