package omop

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/errs"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/platform/db"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/rquest"
)

// ResolveDomains looks up concept_id -> domain_id for every concept cited in
// the cohort, in one query against the live vocabulary. Domains are resolved
// from the warehouse rather than trusted from the payload so that vocabulary
// upgrades that move concepts between domains keep working.
func ResolveDomains(ctx context.Context, client db.Client, groups []*rquest.Group) (map[string]string, error) {
	const op = "omop.resolve_domains"

	seen := make(map[int]bool)
	var ids []int
	for _, g := range groups {
		for _, r := range g.Rules {
			id, ok := r.ConceptID()
			if !ok || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	sort.Ints(ids)

	query := fmt.Sprintf(
		`SELECT DISTINCT concept_id, domain_id FROM %s.%s WHERE concept_id IN (%s)`,
		client.Schema(), TableConcept, joinInts(ids))

	rows, err := client.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	domains := make(map[string]string, len(ids))
	for rows.Next() {
		var conceptID int64
		var domainID string
		if err := rows.Scan(&conceptID, &domainID); err != nil {
			return nil, errs.Wrap(errs.KindSQLExecution, op, err)
		}
		domains[strconv.FormatInt(conceptID, 10)] = domainID
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindSQLExecution, op, err)
	}
	return domains, nil
}

// joinInts renders validated integer ids as an IN-list body. Values have
// passed strconv parsing, so inlining is injection-safe and keeps the SQL
// identical across engines.
func joinInts(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ", ")
}
