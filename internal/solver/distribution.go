package solver

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/errs"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/obfuscation"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/omop"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/query"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/rquest"
)

// distRow is one line of a distribution TSV. The statistical columns are
// unknown for count-only distributions and render as empty strings.
type distRow struct {
	Biobank      string
	Code         string
	Count        int64
	Description  string
	Alternatives string
	Dataset      string
	OMOP         string
	OMOPDescr    string
	Category     string
}

var tsvHeader = []string{
	"BIOBANK", "CODE", "COUNT", "DESCRIPTION", "MIN", "Q1", "MEDIAN",
	"MEAN", "Q3", "MAX", "ALTERNATIVES", "DATASET", "OMOP", "OMOP_DESCR",
	"CATEGORY",
}

func writeTSV(rows []distRow) []byte {
	var b strings.Builder
	b.WriteString(strings.Join(tsvHeader, "\t"))
	b.WriteByte('\n')
	for _, r := range rows {
		fields := []string{
			r.Biobank, r.Code, strconv.FormatInt(r.Count, 10), r.Description,
			"", "", "", "", "", "",
			r.Alternatives, r.Dataset, r.OMOP, r.OMOPDescr, r.Category,
		}
		b.WriteString(strings.Join(fields, "\t"))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// CodeDistribution counts distinct subjects per concept across the eight
// distribution domains. A domain whose table is absent from the warehouse
// is logged and skipped rather than failing the whole task.
func (s *Solver) CodeDistribution(ctx context.Context, q *rquest.DistributionQuery) (*rquest.Result, error) {
	builder := query.NewBuilder(s.client.Dialect(), s.client.Schema(), nil)

	var out []distRow
	for _, dt := range omop.DistributionDomains {
		sql := builder.DistributionSQL(dt, s.filters)

		var rows []distRow
		err := s.retrySQL(ctx, func() error {
			r, err := s.domainRows(ctx, sql, dt, q.Collection)
			if err != nil {
				return err
			}
			rows = r
			return nil
		})
		if err != nil {
			s.log.Warn().Err(err).Str("domain", dt.Domain).
				Msg("domain skipped in code distribution")
			continue
		}
		out = append(out, rows...)
	}

	file := rquest.NewTSVFile(rquest.FileNameCode,
		"Result of code.distribution analysis", writeTSV(out))
	s.log.Info().Str("uuid", q.UUID).Int("rows", len(out)).Msg("code distribution solved")
	return rquest.NewDistributionResult(q.UUID, q.Collection, int64(len(out)), file), nil
}

// domainRows runs one per-domain grouped count and shapes its rows.
func (s *Solver) domainRows(ctx context.Context, sql string, dt omop.DomainTable, biobank string) ([]distRow, error) {
	const op = "solver.distribution"

	rows, err := s.client.Query(ctx, sql)
	if err != nil {
		return nil, errs.Wrap(errs.KindSQLExecution, op, err)
	}
	defer rows.Close()

	var out []distRow
	for rows.Next() {
		var (
			conceptID int64
			name      string
			count     int64
		)
		if err := rows.Scan(&conceptID, &name, &count); err != nil {
			return nil, errs.Wrap(errs.KindSQLExecution, op, err)
		}
		count = obfuscation.Apply(count, s.filters)
		id := strconv.FormatInt(conceptID, 10)
		out = append(out, distRow{
			Biobank:     biobank,
			Code:        "OMOP:" + id,
			Count:       count,
			Description: name,
			Dataset:     dt.Table,
			OMOP:        id,
			OMOPDescr:   name,
			Category:    dt.Domain,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindSQLExecution, op, err)
	}
	return out, nil
}

// Demographics produces the gender breakdown as SEX and GENOMICS rows.
// Each embedded count passes through the disclosure pipeline before it is
// formatted into the alternatives string.
func (s *Solver) Demographics(ctx context.Context, q *rquest.DistributionQuery) (*rquest.Result, error) {
	const op = "solver.demographics"

	builder := query.NewBuilder(s.client.Dialect(), s.client.Schema(), nil)
	sql := builder.DemographicsSQL()

	var male, female int64
	err := s.retrySQL(ctx, func() error {
		rows, err := s.client.Query(ctx, sql)
		if err != nil {
			return errs.Wrap(errs.KindSQLExecution, op, err)
		}
		defer rows.Close()

		male, female = 0, 0
		for rows.Next() {
			var concept, count int64
			if err := rows.Scan(&concept, &count); err != nil {
				return errs.Wrap(errs.KindSQLExecution, op, err)
			}
			switch concept {
			case omop.ConceptMale:
				male = count
			case omop.ConceptFemale:
				female = count
			}
		}
		if err := rows.Err(); err != nil {
			return errs.Wrap(errs.KindSQLExecution, op, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	male = obfuscation.Apply(male, s.filters)
	female = obfuscation.Apply(female, s.filters)
	total := male + female

	out := []distRow{
		{
			Biobank:      q.Collection,
			Code:         "SEX",
			Count:        total,
			Description:  "Sex",
			Alternatives: fmt.Sprintf("^MALE|%d^FEMALE|%d^", male, female),
			Dataset:      omop.TablePerson,
		},
		{
			Biobank:      q.Collection,
			Code:         "GENOMICS",
			Count:        total,
			Description:  "Genomics",
			Alternatives: fmt.Sprintf("^No|%d^", total),
			Dataset:      omop.TablePerson,
		},
	}

	file := rquest.NewTSVFile(rquest.FileNameDemographics,
		"Result of demographics.distribution analysis", writeTSV(out))
	s.log.Info().Str("uuid", q.UUID).Int64("count", total).Msg("demographics distribution solved")
	return rquest.NewDistributionResult(q.UUID, q.Collection, int64(len(out)), file), nil
}
