package rquest

import (
	"encoding/json"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/errs"
)

// BoolOperator combines rules inside a group or groups inside a cohort.
type BoolOperator string

const (
	BoolAnd BoolOperator = "AND"
	BoolOr  BoolOperator = "OR"
)

// Group is an ordered list of rules combined by RulesOperator.
type Group struct {
	Rules         []*Rule
	RulesOperator BoolOperator
}

// Cohort is an ordered list of groups combined by GroupsOperator.
type Cohort struct {
	Groups         []*Group
	GroupsOperator BoolOperator
}

type groupWire struct {
	Rules         []ruleWire `json:"rules"`
	RulesOperator string     `json:"rules_oper"`
}

type cohortWire struct {
	Groups         []groupWire `json:"groups"`
	GroupsOperator string      `json:"groups_oper"`
}

func parseBoolOperator(op, field string) (BoolOperator, error) {
	switch BoolOperator(op) {
	case BoolAnd, BoolOr:
		return BoolOperator(op), nil
	default:
		return "", errs.Newf(errs.KindSchemaValidation, "rquest.cohort",
			"%s must be AND or OR, got %q", field, op)
	}
}

func parseGroup(w groupWire) (*Group, error) {
	if len(w.Rules) == 0 {
		return nil, errs.New(errs.KindSchemaValidation, "rquest.cohort",
			"group has no rules")
	}
	oper, err := parseBoolOperator(w.RulesOperator, "rules_oper")
	if err != nil {
		return nil, err
	}
	g := &Group{RulesOperator: oper}
	for _, rw := range w.Rules {
		r, err := parseRule(rw)
		if err != nil {
			return nil, err
		}
		g.Rules = append(g.Rules, r)
	}
	return g, nil
}

func parseCohort(w cohortWire) (*Cohort, error) {
	if len(w.Groups) == 0 {
		return nil, errs.New(errs.KindSchemaValidation, "rquest.cohort",
			"cohort has no groups")
	}
	oper, err := parseBoolOperator(w.GroupsOperator, "groups_oper")
	if err != nil {
		return nil, err
	}
	c := &Cohort{GroupsOperator: oper}
	for _, gw := range w.Groups {
		g, err := parseGroup(gw)
		if err != nil {
			return nil, err
		}
		c.Groups = append(c.Groups, g)
	}
	return c, nil
}

// MarshalJSON renders the cohort back into its wire form, used when a query
// is re-serialised for cache keying.
func (c *Cohort) MarshalJSON() ([]byte, error) {
	w := cohortWire{GroupsOperator: string(c.GroupsOperator)}
	for _, g := range c.Groups {
		gw := groupWire{RulesOperator: string(g.RulesOperator)}
		for _, r := range g.Rules {
			var sm json.RawMessage
			if len(r.SecondaryModifier) > 0 {
				sm, _ = json.Marshal(r.SecondaryModifier)
			}
			gw.Rules = append(gw.Rules, ruleWire{
				VarName:           r.VarName,
				VarCat:            string(r.VarCat),
				Type:              string(r.Type),
				Operator:          string(r.Operator),
				Value:             r.Value,
				Time:              r.Time,
				RawRange:          r.RawRange,
				SecondaryModifier: sm,
			})
		}
		w.Groups = append(w.Groups, gw)
	}
	return json.Marshal(w)
}
