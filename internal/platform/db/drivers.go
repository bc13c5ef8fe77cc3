package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/denisenkom/go-mssqldb"         // registers "sqlserver"
	_ "github.com/trinodb/trino-go-client/trino" // registers "trino"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/config"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/errs"
)

const infoSchemaTables = `SELECT table_name FROM information_schema.tables WHERE table_schema = ?`

// NewMSSQLClient opens a SQL Server connection.
func NewMSSQLClient(ctx context.Context, cfg *config.Config) (Client, error) {
	const op = "db.mssql"

	password := cfg.DBPassword
	if cfg.UseAzureManagedIdentity {
		token, err := azureDBToken(ctx)
		if err != nil {
			return nil, err
		}
		password = token
	}

	conn, err := sql.Open("sqlserver", mssqlDSN(cfg, password))
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, op, err)
	}
	conn.SetMaxOpenConns(int(cfg.DBMaxConns))

	return newSQLClient(ctx, conn, EngineSQLServer, cfg.DBSchema,
		`SELECT table_name FROM information_schema.tables WHERE table_schema = @p1`)
}

// NewDuckDBClient opens an embedded DuckDB database at the configured path;
// an empty path runs in-memory. The memory limit, when set, is applied as a
// connection option.
func NewDuckDBClient(ctx context.Context, cfg *config.Config) (Client, error) {
	const op = "db.duckdb"

	conn, err := sql.Open("duckdb", duckdbDSN(cfg))
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, op, err)
	}
	// DuckDB is embedded and single-writer; a single connection avoids
	// file-lock contention.
	conn.SetMaxOpenConns(1)

	return newSQLClient(ctx, conn, EngineDuckDB, cfg.DBSchema, infoSchemaTables)
}

// NewTrinoClient opens a Trino connection with the configured catalog and
// schema. Trino fronts the warehouse when DATASOURCE_USE_TRINO is set.
func NewTrinoClient(ctx context.Context, cfg *config.Config) (Client, error) {
	const op = "db.trino"

	conn, err := sql.Open("trino", trinoDSN(cfg))
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, op, err)
	}
	conn.SetMaxOpenConns(int(cfg.DBMaxConns))

	return newSQLClient(ctx, conn, EngineTrino, cfg.DBSchema, infoSchemaTables)
}

func mssqlDSN(cfg *config.Config, password string) string {
	dsn := &url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(cfg.DBUsername, password),
		Host:   fmt.Sprintf("%s:%d", cfg.DBHost, cfg.DBPort),
	}
	q := dsn.Query()
	q.Set("database", cfg.DBDatabase)
	dsn.RawQuery = q.Encode()
	return dsn.String()
}

func duckdbDSN(cfg *config.Config) string {
	dsn := cfg.DuckDBPath
	if cfg.DuckDBMemoryLimit != "" {
		dsn += "?memory_limit=" + url.QueryEscape(cfg.DuckDBMemoryLimit)
	}
	return dsn
}

func trinoDSN(cfg *config.Config) string {
	dsn := &url.URL{
		Scheme: "http",
		User:   url.User(cfg.DBUsername),
		Host:   fmt.Sprintf("%s:%d", cfg.DBHost, cfg.DBPort),
	}
	q := dsn.Query()
	q.Set("catalog", cfg.DBCatalog)
	q.Set("schema", cfg.DBSchema)
	dsn.RawQuery = q.Encode()
	return dsn.String()
}
