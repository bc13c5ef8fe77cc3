// Package query translates a validated cohort into SQL over the OMOP event
// and person tables. The output of every builder is a set-valued expression
// over person_id; the cohort builder wraps groups as CTEs and the count
// builder adds the disclosure clauses the SQL path can express.
package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/errs"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/obfuscation"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/omop"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/platform/db"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/rquest"
)

// Builder constructs SQL for one task. Domains come from the concept
// resolver; the builder itself never touches the database.
type Builder struct {
	dialect db.Dialect
	schema  string
	domains map[string]string
}

// NewBuilder returns a builder for the given dialect and schema.
func NewBuilder(dialect db.Dialect, schema string, domains map[string]string) *Builder {
	return &Builder{dialect: dialect, schema: schema, domains: domains}
}

func (b *Builder) qualify(table string) string {
	return b.schema + "." + table
}

// RuleSet builds the set of person_ids with at least one event matching the
// rule, as a UNION over the four clinical tables. The operator is not
// applied here; exclusion is realised at the group level.
func (b *Builder) RuleSet(r *rquest.Rule) (string, error) {
	const op = "query.rule"

	if r.VarCat == rquest.VarCatPerson {
		return "", errs.New(errs.KindSchemaValidation, op,
			"person rules build predicates, not event sets")
	}
	if r.MinValue != nil && r.MaxValue != nil && *r.MinValue > *r.MaxValue {
		return "", errs.Newf(errs.KindSchemaValidation, op,
			"numeric range min %v exceeds max %v", *r.MinValue, *r.MaxValue)
	}

	var subQueries []string
	for _, et := range omop.EventTables {
		sub, err := b.eventSubQuery(r, et)
		if err != nil {
			return "", err
		}
		subQueries = append(subQueries, sub)
	}
	return strings.Join(subQueries, "\nUNION\n"), nil
}

// eventSubQuery builds one arm of the rule union.
func (b *Builder) eventSubQuery(r *rquest.Rule, et omop.EventTable) (string, error) {
	const op = "query.rule"

	var (
		joins []string
		conds []string
	)

	if id, ok := r.ConceptID(); ok {
		conds = append(conds, fmt.Sprintf("t.%s = %d", et.ConceptColumn, id))
	}

	if r.HasTimeWindow() {
		value, upper := r.TimeBound()
		switch r.TimeCategory {
		case rquest.TimeCategoryAge:
			// Event age: year difference between the event date and birth,
			// joined through the person table. One-sided only.
			joins = append(joins, fmt.Sprintf(
				"JOIN %s AS p ON p.%s = t.%s",
				b.qualify(omop.TablePerson), omop.ColumnPersonID, omop.ColumnPersonID))
			diff := b.dialect.YearDiff("t."+et.DateColumn, "p."+omop.ColumnYearOfBirth)
			if upper {
				conds = append(conds, fmt.Sprintf("%s < %d", diff, value))
			} else {
				conds = append(conds, fmt.Sprintf("%s > %d", diff, value))
			}
		case rquest.TimeCategoryTime:
			months := value
			if r.TimeUnit == rquest.TimeUnitYears {
				months = value * 12
			}
			relative := b.dialect.MonthsAgo(months)
			if upper {
				conds = append(conds, fmt.Sprintf("t.%s <= %s", et.DateColumn, relative))
			} else {
				conds = append(conds, fmt.Sprintf("t.%s >= %s", et.DateColumn, relative))
			}
		default:
			return "", errs.Newf(errs.KindSchemaValidation, op,
				"unknown time category %q", r.TimeCategory)
		}
	}

	if r.MinValue != nil && r.MaxValue != nil && et.ValueAsNumber {
		conds = append(conds, fmt.Sprintf("t.value_as_number BETWEEN %s AND %s",
			formatFloat(*r.MinValue), formatFloat(*r.MaxValue)))
	}

	if len(r.SecondaryModifier) > 0 && et.TypeConceptColumn != "" {
		ids := make([]string, len(r.SecondaryModifier))
		for i, id := range r.SecondaryModifier {
			ids[i] = strconv.Itoa(id)
		}
		conds = append(conds, fmt.Sprintf("t.%s IN (%s)",
			et.TypeConceptColumn, strings.Join(ids, ", ")))
	}

	sql := fmt.Sprintf("SELECT t.%s AS %s FROM %s AS t",
		omop.ColumnPersonID, omop.ColumnPersonID, b.qualify(et.Name))
	if len(joins) > 0 {
		sql += " " + strings.Join(joins, " ")
	}
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	return sql, nil
}

// PersonPredicate builds a boolean predicate over the person table for a
// demographic or age rule. The predicate applies the rule's operator.
func (b *Builder) PersonPredicate(r *rquest.Rule) (string, error) {
	const op = "query.person"

	if r.VarCat != rquest.VarCatPerson {
		return "", errs.New(errs.KindSchemaValidation, op,
			"only person rules build person predicates")
	}

	if r.IsAge() {
		if r.MinValue == nil || r.MaxValue == nil {
			return "", errs.New(errs.KindSchemaValidation, op,
				"age rules require both range bounds")
		}
		if *r.MinValue > *r.MaxValue {
			return "", errs.Newf(errs.KindSchemaValidation, op,
				"age range min %v exceeds max %v", *r.MinValue, *r.MaxValue)
		}
		age := b.dialect.AgeNow(omop.ColumnYearOfBirth)
		return fmt.Sprintf("(%s >= %s AND %s <= %s)",
			age, formatFloat(*r.MinValue), age, formatFloat(*r.MaxValue)), nil
	}

	id, ok := r.ConceptID()
	if !ok {
		return "", errs.New(errs.KindSchemaValidation, op,
			"person rule has no concept id")
	}
	column, err := b.personColumn(r.Value)
	if err != nil {
		return "", err
	}
	if r.Included() {
		return fmt.Sprintf("%s = %d", column, id), nil
	}
	return fmt.Sprintf("%s != %d", column, id), nil
}

// personColumn picks the person column from the concept's resolved domain.
func (b *Builder) personColumn(conceptID string) (string, error) {
	domain, ok := b.domains[conceptID]
	if !ok {
		return "", errs.Newf(errs.KindSchemaValidation, "query.person",
			"concept %s not found in vocabulary", conceptID)
	}
	switch domain {
	case omop.DomainGender:
		return omop.ColumnGenderConceptID, nil
	case omop.DomainRace:
		return omop.ColumnRaceConceptID, nil
	case omop.DomainEthnicity:
		return omop.ColumnEthnicityConceptID, nil
	default:
		return "", errs.Newf(errs.KindSchemaValidation, "query.person",
			"domain %q has no person column", domain)
	}
}

// GroupSet combines a group's rules into one person_id set.
func (b *Builder) GroupSet(g *rquest.Group) (string, error) {
	var (
		personPreds []string
		inclusions  []string
		exclusions  []string
	)

	for _, r := range g.Rules {
		if r.VarCat == rquest.VarCatPerson {
			pred, err := b.PersonPredicate(r)
			if err != nil {
				return "", err
			}
			personPreds = append(personPreds, pred)
			continue
		}
		set, err := b.RuleSet(r)
		if err != nil {
			return "", err
		}
		if r.Included() {
			inclusions = append(inclusions, set)
		} else {
			exclusions = append(exclusions, set)
		}
	}

	var parts []string
	if len(personPreds) > 0 {
		// Person predicates are intra-group AND regardless of the rules
		// operator: each constrains a different column.
		parts = append(parts, fmt.Sprintf("SELECT %s FROM %s WHERE %s",
			omop.ColumnPersonID, b.qualify(omop.TablePerson),
			strings.Join(personPreds, " AND ")))
	}
	parts = append(parts, inclusions...)

	if len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("SELECT %s FROM %s",
			omop.ColumnPersonID, b.qualify(omop.TablePerson)))
	}

	combiner := "\nINTERSECT\n"
	if g.RulesOperator == rquest.BoolOr {
		combiner = "\nUNION\n"
	}
	result := strings.Join(parts, combiner)

	if len(exclusions) > 0 {
		excluded := strings.Join(exclusions, "\nUNION\n")
		result = fmt.Sprintf("%s\nINTERSECT\nSELECT %s FROM %s WHERE %s NOT IN (%s)",
			result, omop.ColumnPersonID, b.qualify(omop.TablePerson),
			omop.ColumnPersonID, excluded)
	}
	return result, nil
}

// CohortParts builds the WITH clause naming one CTE per group and the set
// expression combining them. Groups are wrapped as CTEs for readability and
// so the planner can optimise each independently.
func (b *Builder) CohortParts(c *rquest.Cohort) (withClause, setExpr string, err error) {
	var (
		ctes    []string
		selects []string
	)
	for i, g := range c.Groups {
		set, err := b.GroupSet(g)
		if err != nil {
			return "", "", err
		}
		name := fmt.Sprintf("group_%d", i)
		ctes = append(ctes, fmt.Sprintf("%s AS (\n%s\n)", name, set))
		selects = append(selects, fmt.Sprintf("SELECT %s FROM %s", omop.ColumnPersonID, name))
	}

	combiner := "\nINTERSECT\n"
	if c.GroupsOperator == rquest.BoolOr {
		combiner = "\nUNION\n"
	}
	return "WITH " + strings.Join(ctes, ",\n"), strings.Join(selects, combiner), nil
}

// CountSQL builds the availability count statement. Rounding is pushed into
// the SELECT and suppression into a HAVING over the raw count where the
// modifiers allow; the in-process pipeline still re-applies both afterwards.
func (b *Builder) CountSQL(c *rquest.Cohort, filters []obfuscation.Modifier) (string, error) {
	withClause, setExpr, err := b.CohortParts(c)
	if err != nil {
		return "", err
	}

	countExpr := "COUNT(*)"
	if nearest := obfuscation.RoundingTarget(filters); nearest > 0 {
		countExpr = fmt.Sprintf("%s * %d",
			b.dialect.Round(fmt.Sprintf("(COUNT(*) * 1.0) / %d", nearest)), nearest)
	}

	sql := fmt.Sprintf("%s\nSELECT %s AS cnt FROM (\n%s\n) AS cohort",
		withClause, countExpr, setExpr)
	if threshold := obfuscation.Suppression(filters); threshold > 0 {
		sql += fmt.Sprintf("\nHAVING COUNT(*) >= %d", threshold)
	}
	return sql, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
