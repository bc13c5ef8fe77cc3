package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/config"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/errs"
)

type postgresClient struct {
	pool    *pgxpool.Pool
	dialect Dialect
	schema  string
}

// NewPostgresClient opens a pgx connection pool against the warehouse and
// pings it. With DATASOURCE_USE_AZURE_MANAGED_IDENTITY set, the password is
// replaced by a managed-identity access token at pool construction.
func NewPostgresClient(ctx context.Context, cfg *config.Config) (Client, error) {
	const op = "db.postgres"

	password := cfg.DBPassword
	if cfg.UseAzureManagedIdentity {
		token, err := azureDBToken(ctx)
		if err != nil {
			return nil, err
		}
		password = token
	}

	url := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		cfg.DBUsername, password, cfg.DBHost, cfg.DBPort, cfg.DBDatabase)

	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, op, err)
	}
	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MinConns = cfg.DBMinConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errs.Wrap(errs.KindSQLExecution, op, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.Wrap(errs.KindSQLExecution, op, err)
	}

	dialect, err := DialectFor(EnginePostgres)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &postgresClient{pool: pool, dialect: dialect, schema: cfg.DBSchema}, nil
}

func (c *postgresClient) Engine() Engine   { return EnginePostgres }
func (c *postgresClient) Dialect() Dialect { return c.dialect }
func (c *postgresClient) Schema() string   { return c.schema }

func (c *postgresClient) Exec(ctx context.Context, sql string, args ...interface{}) error {
	if _, err := c.pool.Exec(ctx, sql, args...); err != nil {
		return errs.Wrap(errs.KindSQLExecution, "db.exec", err)
	}
	return nil
}

func (c *postgresClient) Query(ctx context.Context, sql string, args ...interface{}) (Rows, error) {
	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errs.Wrap(errs.KindSQLExecution, "db.query", err)
	}
	return pgxRows{rows}, nil
}

func (c *postgresClient) ListTables(ctx context.Context) ([]string, error) {
	rows, err := c.Query(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_schema = $1`,
		c.schema)
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

func (c *postgresClient) Stats() PoolStats {
	stat := c.pool.Stat()
	return PoolStats{
		TotalConns:    stat.TotalConns(),
		IdleConns:     stat.IdleConns(),
		AcquiredConns: stat.AcquiredConns(),
		MaxConns:      stat.MaxConns(),
		AcquireCount:  stat.AcquireCount(),
	}
}

func (c *postgresClient) Close() { c.pool.Close() }

// pgxRows adapts pgx.Rows to the Rows interface.
type pgxRows struct{ rows pgx.Rows }

func (r pgxRows) Next() bool                         { return r.rows.Next() }
func (r pgxRows) Scan(dest ...interface{}) error     { return r.rows.Scan(dest...) }
func (r pgxRows) Err() error                         { return r.rows.Err() }
func (r pgxRows) Close()                             { r.rows.Close() }
