//go:build cgo

package db

import (
	_ "github.com/marcboeker/go-duckdb" // registers "duckdb"; requires cgo
)
