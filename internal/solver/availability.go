package solver

import (
	"context"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/errs"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/obfuscation"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/omop"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/query"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/rquest"
)

// Availability counts the distinct subjects satisfying the cohort. The
// disclosure filters reach the count twice: pushed into the SQL where the
// dialect can express them, then re-applied in-process so composition order
// survives even when the SQL path cannot carry a modifier.
func (s *Solver) Availability(ctx context.Context, q *rquest.AvailabilityQuery) (*rquest.Result, error) {
	domains, err := omop.ResolveDomains(ctx, s.client, q.Cohort.Groups)
	if err != nil {
		return nil, err
	}

	builder := query.NewBuilder(s.client.Dialect(), s.client.Schema(), domains)
	sql, err := builder.CountSQL(q.Cohort, s.filters)
	if err != nil {
		return nil, err
	}

	var count int64
	err = s.retrySQL(ctx, func() error {
		n, err := s.countQuery(ctx, sql)
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	if err != nil {
		return nil, err
	}

	count = obfuscation.Apply(count, s.filters)
	s.log.Info().Str("uuid", q.UUID).Int64("count", count).Msg("availability query solved")
	return rquest.NewAvailabilityResult(q.UUID, q.Collection, count), nil
}

// countQuery runs a single-value count statement. No row means the HAVING
// clause suppressed the cohort, which reads as zero.
func (s *Solver) countQuery(ctx context.Context, sql string) (int64, error) {
	const op = "solver.count"

	rows, err := s.client.Query(ctx, sql)
	if err != nil {
		return 0, errs.Wrap(errs.KindSQLExecution, op, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, errs.Wrap(errs.KindSQLExecution, op, err)
		}
		return 0, nil
	}
	var n int64
	if err := rows.Scan(&n); err != nil {
		return 0, errs.Wrap(errs.KindSQLExecution, op, err)
	}
	if err := rows.Err(); err != nil {
		return 0, errs.Wrap(errs.KindSQLExecution, op, err)
	}
	return n, nil
}
