package db

import (
	"context"
	"database/sql"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/errs"
)

// sqlClient backs every engine reached through database/sql (SQL Server,
// DuckDB, Trino). Connection checkout and return are handled by the
// database/sql pool; Stats surfaces its in-use count for the pool invariant.
type sqlClient struct {
	db      *sql.DB
	engine  Engine
	dialect Dialect
	schema  string
	// listTablesSQL takes the schema as its single parameter.
	listTablesSQL string
}

func newSQLClient(ctx context.Context, db *sql.DB, engine Engine, schema, listTablesSQL string) (*sqlClient, error) {
	dialect, err := DialectFor(engine)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.KindSQLExecution, "db."+string(engine), err)
	}
	return &sqlClient{
		db:            db,
		engine:        engine,
		dialect:       dialect,
		schema:        schema,
		listTablesSQL: listTablesSQL,
	}, nil
}

func (c *sqlClient) Engine() Engine   { return c.engine }
func (c *sqlClient) Dialect() Dialect { return c.dialect }
func (c *sqlClient) Schema() string   { return c.schema }

func (c *sqlClient) Exec(ctx context.Context, query string, args ...interface{}) error {
	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return errs.Wrap(errs.KindSQLExecution, "db.exec", err)
	}
	return nil
}

func (c *sqlClient) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.KindSQLExecution, "db.query", err)
	}
	return sqlRows{rows}, nil
}

func (c *sqlClient) ListTables(ctx context.Context) ([]string, error) {
	rows, err := c.Query(ctx, c.listTablesSQL, c.schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errs.Wrap(errs.KindSQLExecution, "db.list_tables", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (c *sqlClient) Stats() PoolStats {
	stat := c.db.Stats()
	return PoolStats{
		TotalConns:    int32(stat.OpenConnections),
		IdleConns:     int32(stat.Idle),
		AcquiredConns: int32(stat.InUse),
		MaxConns:      int32(stat.MaxOpenConnections),
		AcquireCount:  stat.WaitCount,
	}
}

func (c *sqlClient) Close() { c.db.Close() }

// sqlRows adapts *sql.Rows to the Rows interface.
type sqlRows struct{ rows *sql.Rows }

func (r sqlRows) Next() bool                     { return r.rows.Next() }
func (r sqlRows) Scan(dest ...interface{}) error { return r.rows.Scan(dest...) }
func (r sqlRows) Err() error                     { return r.rows.Err() }
func (r sqlRows) Close()                         { _ = r.rows.Close() }
