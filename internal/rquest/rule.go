// Package rquest holds the parsed, validated form of coordinator queries and
// the result envelope sent back. Entities are immutable once validated and
// live only for the duration of one task.
package rquest

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/errs"
)

// VarCat is the variable category of a rule.
type VarCat string

const (
	VarCatPerson      VarCat = "Person"
	VarCatCondition   VarCat = "Condition"
	VarCatObservation VarCat = "Observation"
	VarCatDrug        VarCat = "Drug"
	VarCatMeasurement VarCat = "Measurement"
)

// RuleType distinguishes numeric-range rules from plain concept rules.
type RuleType string

const (
	RuleTypeNum  RuleType = "NUM"
	RuleTypeText RuleType = "TEXT"
)

// Operator is the rule operator; equality means inclusion, inequality
// exclusion.
type Operator string

const (
	OperatorInclude Operator = "="
	OperatorExclude Operator = "!="
)

// Time window categories, decoded from the rule's time string.
const (
	TimeCategoryAge  = "AGE"
	TimeCategoryTime = "TIME"
)

// Time window units.
const (
	TimeUnitYears  = "Y"
	TimeUnitMonths = "M"
)

// The varname convention that signals an age-range rule on the person table.
const VarnameAge = "AGE"

// Rule is one atomic constraint of a cohort query. The derived fields are
// populated during parsing and never change afterwards.
type Rule struct {
	VarName           string
	VarCat            VarCat
	Type              RuleType
	Operator          Operator
	Value             string
	Time              string
	RawRange          string
	SecondaryModifier []int

	// Derived from Time, e.g. "1|:AGE:Y".
	LeftValueTime  string
	RightValueTime string
	TimeCategory   string
	TimeUnit       string

	// Derived from RawRange for NUM rules; nil when absent or unparseable.
	MinValue *float64
	MaxValue *float64
}

// ruleWire is the JSON shape of a rule as the coordinator sends it.
type ruleWire struct {
	VarName           string          `json:"varname"`
	VarCat            string          `json:"varcat"`
	Type              string          `json:"type"`
	Operator          string          `json:"oper"`
	Value             string          `json:"value"`
	Time              string          `json:"time,omitempty"`
	RawRange          string          `json:"raw_range,omitempty"`
	SecondaryModifier json.RawMessage `json:"secondary_modifier,omitempty"`
}

func parseRule(w ruleWire) (*Rule, error) {
	const op = "rquest.rule"

	r := &Rule{
		VarName:  w.VarName,
		Value:    w.Value,
		Time:     w.Time,
		RawRange: w.RawRange,
	}

	switch VarCat(w.VarCat) {
	case VarCatPerson, VarCatCondition, VarCatObservation, VarCatDrug, VarCatMeasurement:
		r.VarCat = VarCat(w.VarCat)
	default:
		return nil, errs.Newf(errs.KindSchemaValidation, op, "unknown varcat %q", w.VarCat)
	}

	switch RuleType(w.Type) {
	case RuleTypeNum, RuleTypeText:
		r.Type = RuleType(w.Type)
	default:
		return nil, errs.Newf(errs.KindSchemaValidation, op, "unknown rule type %q", w.Type)
	}

	switch Operator(w.Operator) {
	case OperatorInclude, OperatorExclude:
		r.Operator = Operator(w.Operator)
	default:
		return nil, errs.Newf(errs.KindSchemaValidation, op, "unknown operator %q", w.Operator)
	}

	if err := r.parseTime(); err != nil {
		return nil, err
	}
	if err := r.parseSecondaryModifier(w.SecondaryModifier); err != nil {
		return nil, err
	}
	if r.Type == RuleTypeNum {
		r.parseNumRange()
	}
	if r.Value != "" && !r.IsAge() {
		if _, err := strconv.Atoi(r.Value); err != nil {
			return nil, errs.Newf(errs.KindSchemaValidation, op,
				"rule value %q is not a concept id", r.Value)
		}
	}
	return r, nil
}

// parseTime decodes the encoded window "L|R:AGE|TIME:Y|M". Exactly one of
// L and R must be empty: an empty left means upper-bounded, an empty right
// lower-bounded.
func (r *Rule) parseTime() error {
	const op = "rquest.rule.time"

	if r.Time == "" {
		return nil
	}
	parts := strings.Split(r.Time, ":")
	if len(parts) != 3 {
		return errs.Newf(errs.KindSchemaValidation, op, "malformed time %q", r.Time)
	}
	window := strings.SplitN(parts[0], "|", 2)
	if len(window) != 2 {
		return errs.Newf(errs.KindSchemaValidation, op, "malformed time window %q", parts[0])
	}
	left, right := window[0], window[1]
	if (left == "") == (right == "") {
		return errs.Newf(errs.KindSchemaValidation, op,
			"time window %q must have exactly one empty side", parts[0])
	}
	for _, side := range []string{left, right} {
		if side == "" {
			continue
		}
		if _, err := strconv.Atoi(side); err != nil {
			return errs.Newf(errs.KindSchemaValidation, op,
				"time window bound %q is not numeric", side)
		}
	}

	switch parts[1] {
	case TimeCategoryAge, TimeCategoryTime:
	default:
		return errs.Newf(errs.KindSchemaValidation, op, "unknown time category %q", parts[1])
	}
	switch parts[2] {
	case TimeUnitYears, TimeUnitMonths:
	default:
		return errs.Newf(errs.KindSchemaValidation, op, "unknown time unit %q", parts[2])
	}

	r.LeftValueTime = left
	r.RightValueTime = right
	r.TimeCategory = parts[1]
	r.TimeUnit = parts[2]
	return nil
}

// parseSecondaryModifier accepts both integer and string concept-type ids.
func (r *Rule) parseSecondaryModifier(raw json.RawMessage) error {
	const op = "rquest.rule.secondary_modifier"

	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var anyIDs []interface{}
	if err := json.Unmarshal(raw, &anyIDs); err != nil {
		return errs.Wrap(errs.KindSchemaValidation, op, err)
	}
	for _, v := range anyIDs {
		switch id := v.(type) {
		case float64:
			r.SecondaryModifier = append(r.SecondaryModifier, int(id))
		case string:
			if id == "" {
				continue
			}
			n, err := strconv.Atoi(id)
			if err != nil {
				return errs.Newf(errs.KindSchemaValidation, op,
					"concept type id %q is not numeric", id)
			}
			r.SecondaryModifier = append(r.SecondaryModifier, n)
		default:
			return errs.Newf(errs.KindSchemaValidation, op,
				"unsupported concept type id %v", v)
		}
	}
	return nil
}

// parseNumRange decodes raw_range "min|max" or "min..max" and re-derives
// the concept id from varname "OMOP=<id>". A failed parse leaves the bounds
// nil and the rule behaves as a pure concept rule; raw_range is kept verbatim.
func (r *Rule) parseNumRange() {
	raw := r.RawRange
	var min, max string
	switch {
	case strings.Contains(raw, ".."):
		parts := strings.SplitN(raw, "..", 2)
		min, max = parts[0], parts[1]
	case strings.Contains(raw, "|"):
		parts := strings.SplitN(raw, "|", 2)
		min, max = parts[0], parts[1]
	default:
		return
	}

	lo, errLo := strconv.ParseFloat(strings.TrimSpace(min), 64)
	hi, errHi := strconv.ParseFloat(strings.TrimSpace(max), 64)
	if errLo != nil || errHi != nil {
		return
	}

	if r.IsAge() {
		r.MinValue = &lo
		r.MaxValue = &hi
		return
	}

	// value carries the concept id encoded in the varname
	if id, ok := strings.CutPrefix(r.VarName, "OMOP="); ok {
		if _, err := strconv.Atoi(id); err == nil {
			r.Value = id
			r.MinValue = &lo
			r.MaxValue = &hi
		}
	}
}

// IsAge reports whether the rule is the person age-range convention.
func (r *Rule) IsAge() bool {
	return r.VarCat == VarCatPerson && r.VarName == VarnameAge
}

// Included reports whether the rule is an inclusion (operator "=").
func (r *Rule) Included() bool { return r.Operator == OperatorInclude }

// HasTimeWindow reports whether a decoded time window is present.
func (r *Rule) HasTimeWindow() bool { return r.TimeCategory != "" }

// TimeBound returns the numeric window bound and whether the window is an
// upper bound (empty left side) or a lower bound (empty right side).
func (r *Rule) TimeBound() (value int, upper bool) {
	if r.LeftValueTime == "" {
		v, _ := strconv.Atoi(r.RightValueTime)
		return v, true
	}
	v, _ := strconv.Atoi(r.LeftValueTime)
	return v, false
}

// ConceptID returns the rule's concept id as an integer. The parser has
// already checked it is numeric for concept rules.
func (r *Rule) ConceptID() (int, bool) {
	if r.Value == "" {
		return 0, false
	}
	id, err := strconv.Atoi(r.Value)
	if err != nil {
		return 0, false
	}
	return id, true
}
