package db

import (
	"fmt"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/errs"
)

// Dialect generates the engine-specific SQL fragments the builders cannot
// express portably. Dialects are selected once at client construction;
// an engine without a dialect fails fast there.
type Dialect interface {
	Engine() Engine
	// Placeholder renders the n-th (1-based) positional parameter.
	Placeholder(n int) string
	// YearDiff is the whole-year difference between an event date column
	// and a year-of-birth column.
	YearDiff(dateExpr, yearOfBirthExpr string) string
	// AgeNow is the subject's age in years at the current date.
	AgeNow(yearOfBirthExpr string) string
	// MonthsAgo is a date expression for the given number of months before
	// the current date.
	MonthsAgo(months int) string
	// Round rounds a numeric expression to the nearest integer.
	Round(expr string) string
}

// DialectFor returns the dialect for an engine.
func DialectFor(engine Engine) (Dialect, error) {
	switch engine {
	case EnginePostgres:
		return postgresDialect{}, nil
	case EngineSQLServer:
		return mssqlDialect{}, nil
	case EngineDuckDB:
		return duckdbDialect{}, nil
	case EngineTrino:
		return trinoDialect{}, nil
	default:
		return nil, errs.Newf(errs.KindConfiguration, "db.dialect",
			"no SQL dialect for engine %q", engine)
	}
}

type postgresDialect struct{}

func (postgresDialect) Engine() Engine            { return EnginePostgres }
func (postgresDialect) Placeholder(n int) string  { return fmt.Sprintf("$%d", n) }
func (postgresDialect) YearDiff(dateExpr, yearOfBirthExpr string) string {
	return fmt.Sprintf("(EXTRACT(YEAR FROM %s) - %s)", dateExpr, yearOfBirthExpr)
}
func (postgresDialect) AgeNow(yearOfBirthExpr string) string {
	return fmt.Sprintf("(EXTRACT(YEAR FROM CURRENT_DATE) - %s)", yearOfBirthExpr)
}
func (postgresDialect) MonthsAgo(months int) string {
	return fmt.Sprintf("(CURRENT_DATE - INTERVAL '%d months')", months)
}
func (postgresDialect) Round(expr string) string {
	return fmt.Sprintf("ROUND(%s)", expr)
}

type mssqlDialect struct{}

func (mssqlDialect) Engine() Engine           { return EngineSQLServer }
func (mssqlDialect) Placeholder(n int) string { return fmt.Sprintf("@p%d", n) }
func (mssqlDialect) YearDiff(dateExpr, yearOfBirthExpr string) string {
	return fmt.Sprintf("(YEAR(%s) - %s)", dateExpr, yearOfBirthExpr)
}
func (mssqlDialect) AgeNow(yearOfBirthExpr string) string {
	return fmt.Sprintf("(YEAR(GETDATE()) - %s)", yearOfBirthExpr)
}
func (mssqlDialect) MonthsAgo(months int) string {
	return fmt.Sprintf("DATEADD(month, -%d, GETDATE())", months)
}
func (mssqlDialect) Round(expr string) string {
	return fmt.Sprintf("ROUND(%s, 0)", expr)
}

type duckdbDialect struct{}

func (duckdbDialect) Engine() Engine           { return EngineDuckDB }
func (duckdbDialect) Placeholder(n int) string { return "?" }
func (duckdbDialect) YearDiff(dateExpr, yearOfBirthExpr string) string {
	return fmt.Sprintf("(EXTRACT(YEAR FROM %s) - %s)", dateExpr, yearOfBirthExpr)
}
func (duckdbDialect) AgeNow(yearOfBirthExpr string) string {
	return fmt.Sprintf("(EXTRACT(YEAR FROM CURRENT_DATE) - %s)", yearOfBirthExpr)
}
func (duckdbDialect) MonthsAgo(months int) string {
	return fmt.Sprintf("(CURRENT_DATE - INTERVAL %d MONTH)", months)
}
func (duckdbDialect) Round(expr string) string {
	return fmt.Sprintf("ROUND(%s)", expr)
}

type trinoDialect struct{}

func (trinoDialect) Engine() Engine           { return EngineTrino }
func (trinoDialect) Placeholder(n int) string { return "?" }
func (trinoDialect) YearDiff(dateExpr, yearOfBirthExpr string) string {
	return fmt.Sprintf("(year(%s) - %s)", dateExpr, yearOfBirthExpr)
}
func (trinoDialect) AgeNow(yearOfBirthExpr string) string {
	return fmt.Sprintf("(year(current_date) - %s)", yearOfBirthExpr)
}
func (trinoDialect) MonthsAgo(months int) string {
	return fmt.Sprintf("date_add('month', -%d, current_date)", months)
}
func (trinoDialect) Round(expr string) string {
	return fmt.Sprintf("round(%s)", expr)
}
