package main

import (
	"os"

	// register all backends with the storage factory.
	_ "dwh/internal/storage/all"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
