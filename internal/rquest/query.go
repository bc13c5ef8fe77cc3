package rquest

import (
	"encoding/json"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/errs"
)

// Distribution codes recognised on the wire.
const (
	DistributionDemographics = "DEMOGRAPHICS"
	DistributionGeneric      = "GENERIC"
	DistributionICDMain      = "ICD-MAIN"
)

// AnalysisDistribution is the analysis marker distinguishing distribution
// queries from availability queries.
const AnalysisDistribution = "DISTRIBUTION"

// AvailabilityQuery asks for the size of a cohort.
type AvailabilityQuery struct {
	Cohort          *Cohort `json:"cohort"`
	UUID            string  `json:"uuid"`
	Owner           string  `json:"owner"`
	Collection      string  `json:"collection"`
	ProtocolVersion string  `json:"protocol_version"`
	CharSalt        string  `json:"char_salt"`
}

// DistributionQuery asks for a histogram-like TSV artifact.
type DistributionQuery struct {
	Owner      string `json:"owner"`
	Code       string `json:"code"`
	Analysis   string `json:"analysis"`
	UUID       string `json:"uuid"`
	Collection string `json:"collection"`
}

type availabilityWire struct {
	Cohort          cohortWire `json:"cohort"`
	UUID            string     `json:"uuid"`
	Owner           string     `json:"owner"`
	Collection      string     `json:"collection"`
	ProtocolVersion string     `json:"protocol_version"`
	CharSalt        string     `json:"char_salt"`
}

// ParseAvailability validates a raw availability payload.
func ParseAvailability(raw []byte) (*AvailabilityQuery, error) {
	const op = "rquest.availability"

	var w availabilityWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, errs.Wrap(errs.KindSchemaValidation, op, err)
	}
	if w.UUID == "" {
		return nil, errs.New(errs.KindSchemaValidation, op, "uuid is required")
	}
	if w.Collection == "" {
		return nil, errs.New(errs.KindSchemaValidation, op, "collection is required")
	}
	cohort, err := parseCohort(w.Cohort)
	if err != nil {
		return nil, err
	}
	return &AvailabilityQuery{
		Cohort:          cohort,
		UUID:            w.UUID,
		Owner:           w.Owner,
		Collection:      w.Collection,
		ProtocolVersion: w.ProtocolVersion,
		CharSalt:        w.CharSalt,
	}, nil
}

// ParseDistribution validates a raw distribution payload. ICD-MAIN parses
// successfully; rejecting it is the dispatcher's job so the refusal is
// reported, not treated as a malformed payload.
func ParseDistribution(raw []byte) (*DistributionQuery, error) {
	const op = "rquest.distribution"

	var q DistributionQuery
	if err := json.Unmarshal(raw, &q); err != nil {
		return nil, errs.Wrap(errs.KindSchemaValidation, op, err)
	}
	if q.Analysis != AnalysisDistribution {
		return nil, errs.Newf(errs.KindSchemaValidation, op,
			"analysis must be %q, got %q", AnalysisDistribution, q.Analysis)
	}
	switch q.Code {
	case DistributionDemographics, DistributionGeneric, DistributionICDMain:
	default:
		return nil, errs.Newf(errs.KindSchemaValidation, op,
			"unknown distribution code %q", q.Code)
	}
	if q.UUID == "" {
		return nil, errs.New(errs.KindSchemaValidation, op, "uuid is required")
	}
	if q.Collection == "" {
		return nil, errs.New(errs.KindSchemaValidation, op, "collection is required")
	}
	return &q, nil
}

// QueryKind labels the outcome of dispatching a raw payload.
type QueryKind int

const (
	QueryKindAvailability QueryKind = iota
	QueryKindDistribution
)

// ParseQuery inspects a raw payload and validates it as an availability or
// distribution query based on the presence of the analysis key.
func ParseQuery(raw []byte) (QueryKind, *AvailabilityQuery, *DistributionQuery, error) {
	var probe struct {
		Analysis *string `json:"analysis"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return 0, nil, nil, errs.Wrap(errs.KindSchemaValidation, "rquest.parse", err)
	}
	if probe.Analysis != nil {
		q, err := ParseDistribution(raw)
		return QueryKindDistribution, nil, q, err
	}
	q, err := ParseAvailability(raw)
	return QueryKindAvailability, q, nil, err
}
