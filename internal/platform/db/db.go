// Package db provides the single database surface the query builders and
// solvers depend on: one capability interface with distinct constructors per
// driver, a dialect adapter for engine-specific SQL fragments, and the
// startup schema gate over the OMOP tables the worker reads.
package db

import (
	"context"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/config"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/errs"
)

// Engine identifies the underlying database engine.
type Engine string

const (
	EnginePostgres  Engine = "postgresql"
	EngineSQLServer Engine = "mssql"
	EngineDuckDB    Engine = "duckdb"
	EngineTrino     Engine = "trino"
)

// Rows is the minimal result-set cursor shared by all drivers.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
	Close()
}

// Client is the capability surface the core requires from a database.
// One connection is checked out per call inside the implementation and
// returned on all exit paths; the pool's checked-out count is identical
// before and after any solve.
type Client interface {
	Engine() Engine
	Dialect() Dialect
	// Schema is the warehouse schema holding the OMOP tables.
	Schema() string
	Exec(ctx context.Context, sql string, args ...interface{}) error
	Query(ctx context.Context, sql string, args ...interface{}) (Rows, error)
	ListTables(ctx context.Context) ([]string, error)
	Stats() PoolStats
	Close()
}

// Connect builds the client for the configured driver, verifies
// connectivity, and runs the schema gate. Construction fails fast on an
// unsupported engine, a missing required table, or an unreachable database.
func Connect(ctx context.Context, cfg *config.Config) (Client, error) {
	if err := cfg.ValidateDatasource(); err != nil {
		return nil, err
	}

	var (
		client Client
		err    error
	)
	switch {
	case cfg.UseTrino:
		client, err = NewTrinoClient(ctx, cfg)
	case cfg.DBDriverName == config.DriverPostgres:
		client, err = NewPostgresClient(ctx, cfg)
	case cfg.DBDriverName == config.DriverMSSQL:
		client, err = NewMSSQLClient(ctx, cfg)
	case cfg.DBDriverName == config.DriverDuckDB:
		client, err = NewDuckDBClient(ctx, cfg)
	default:
		return nil, errs.Newf(errs.KindConfiguration, "db.connect",
			"unsupported driver %q", cfg.DBDriverName)
	}
	if err != nil {
		return nil, err
	}

	if err := CheckSchema(ctx, client); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
