package db

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/errs"
)

// RequiredTables are the OMOP tables the worker reads. Client construction
// fails when any is absent.
var RequiredTables = []string{
	"concept",
	"person",
	"measurement",
	"condition_occurrence",
	"observation",
	"drug_exposure",
}

// recommendedIndexes name the person-id indexes that keep cohort queries
// tolerable on large warehouses. Their absence is a warning, not a failure.
var recommendedIndexes = map[string]string{
	"condition_occurrence": "person_id",
	"drug_exposure":        "person_id",
	"measurement":          "person_id",
	"observation":          "person_id",
}

// CheckSchema verifies every required OMOP table (or view) is visible in the
// client's schema.
func CheckSchema(ctx context.Context, client Client) error {
	const op = "db.schema_check"

	tables, err := client.ListTables(ctx)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(tables))
	for _, t := range tables {
		present[strings.ToLower(t)] = true
	}

	var missing []string
	for _, t := range RequiredTables {
		if !present[t] {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return errs.Newf(errs.KindConfiguration, op,
			"required OMOP tables missing from schema %q: %s",
			client.Schema(), strings.Join(missing, ", "))
	}
	return nil
}

// WarnMissingIndexes logs a warning for each recommended person_id index not
// found. Only Postgres exposes a portable catalog for this; other engines
// are skipped.
func WarnMissingIndexes(ctx context.Context, client Client, logger zerolog.Logger) {
	if client.Engine() != EnginePostgres {
		return
	}

	rows, err := client.Query(ctx,
		`SELECT tablename, indexdef FROM pg_indexes WHERE schemaname = $1`,
		client.Schema())
	if err != nil {
		logger.Warn().Err(err).Msg("index check skipped")
		return
	}
	defer rows.Close()

	indexed := make(map[string]bool)
	for rows.Next() {
		var table, def string
		if err := rows.Scan(&table, &def); err != nil {
			logger.Warn().Err(err).Msg("index check skipped")
			return
		}
		if strings.Contains(def, "person_id") {
			indexed[table] = true
		}
	}
	if err := rows.Err(); err != nil {
		logger.Warn().Err(err).Msg("index check skipped")
		return
	}

	for table, column := range recommendedIndexes {
		if !indexed[table] {
			logger.Warn().
				Str("table", table).
				Str("column", column).
				Msg("recommended index missing; cohort queries may be slow")
		}
	}
}
