package query

import (
	"fmt"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/obfuscation"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/omop"
)

// DistributionSQL builds the per-domain grouped count for the code
// distribution: distinct subjects per concept, joined with the vocabulary
// for the concept name. Suppression lands in the HAVING clause and rounding
// in the SELECT when the modifiers carry them.
func (b *Builder) DistributionSQL(dt omop.DomainTable, filters []obfuscation.Modifier) string {
	countExpr := "COUNT(DISTINCT t.person_id)"
	if nearest := obfuscation.RoundingTarget(filters); nearest > 0 {
		countExpr = fmt.Sprintf("%s * %d",
			b.dialect.Round(fmt.Sprintf("(COUNT(DISTINCT t.person_id) * 1.0) / %d", nearest)), nearest)
	}

	sql := fmt.Sprintf(
		"SELECT t.%s AS concept_id, c.concept_name, %s AS cnt\nFROM %s AS t\nJOIN %s AS c ON c.concept_id = t.%s\nGROUP BY t.%s, c.concept_name",
		dt.ConceptColumn, countExpr,
		b.qualify(dt.Table), b.qualify(omop.TableConcept),
		dt.ConceptColumn, dt.ConceptColumn)
	if threshold := obfuscation.Suppression(filters); threshold > 0 {
		sql += fmt.Sprintf("\nHAVING COUNT(DISTINCT t.person_id) > %d", threshold)
	}
	return sql
}

// DemographicsSQL builds the gender breakdown over the person table. The
// disclosure pipeline runs in-process on every embedded count, so the SQL
// stays plain.
func (b *Builder) DemographicsSQL() string {
	return fmt.Sprintf("SELECT %s, COUNT(%s) AS cnt FROM %s GROUP BY %s",
		omop.ColumnGenderConceptID, omop.ColumnPersonID,
		b.qualify(omop.TablePerson), omop.ColumnGenderConceptID)
}
