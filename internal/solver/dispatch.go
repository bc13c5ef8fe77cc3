package solver

import (
	"context"
	"encoding/json"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/errs"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/rquest"
)

// Solve validates a raw task payload, runs the matching solver, and always
// returns a protocol result. Failures of any kind inside the task boundary
// come back as error-shaped results, never as panics or errors.
func (s *Solver) Solve(ctx context.Context, raw []byte) (res *rquest.Result) {
	uuid, collection := probeIdentity(raw)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("task handler panicked")
			res = rquest.NewErrorResult(uuid, collection, "internal error")
		}
	}()

	kind, aq, dq, err := rquest.ParseQuery(raw)
	if err != nil {
		s.log.Error().Err(err).Msg("task payload rejected")
		return rquest.NewErrorResult(uuid, collection, err.Error())
	}

	switch kind {
	case rquest.QueryKindAvailability:
		r, err := s.Availability(ctx, aq)
		if err != nil {
			s.log.Error().Err(err).Str("uuid", aq.UUID).Msg("availability query failed")
			return rquest.NewErrorResult(aq.UUID, aq.Collection, err.Error())
		}
		return r
	case rquest.QueryKindDistribution:
		return s.solveDistribution(ctx, raw, dq)
	}
	return rquest.NewErrorResult(uuid, collection, "unrecognised task payload")
}

func (s *Solver) solveDistribution(ctx context.Context, raw []byte, q *rquest.DistributionQuery) *rquest.Result {
	if q.Code == rquest.DistributionICDMain {
		err := errs.Newf(errs.KindUnsupportedOperation, "solver.dispatch",
			"distribution code %s is not supported", q.Code)
		s.log.Error().Err(err).Str("uuid", q.UUID).Msg("distribution refused")
		return rquest.NewErrorResult(q.UUID, q.Collection, err.Error())
	}

	var key string
	if s.cache != nil {
		k, err := s.cache.Key(raw, s.filters)
		if err != nil {
			s.log.Warn().Err(err).Msg("cache key derivation failed")
		} else {
			key = k
			if r, ok := s.cache.Get(key); ok {
				s.log.Debug().Str("uuid", q.UUID).Str("key", key).Msg("distribution served from cache")
				return r
			}
		}
	}

	var (
		r   *rquest.Result
		err error
	)
	switch q.Code {
	case rquest.DistributionDemographics:
		r, err = s.Demographics(ctx, q)
	case rquest.DistributionGeneric:
		r, err = s.CodeDistribution(ctx, q)
	}
	if err != nil {
		s.log.Error().Err(err).Str("uuid", q.UUID).Msg("distribution query failed")
		return rquest.NewErrorResult(q.UUID, q.Collection, err.Error())
	}
	if s.cache != nil && key != "" {
		s.cache.Set(key, r)
	}
	return r
}

// probeIdentity extracts uuid and collection best-effort so even a payload
// that fails validation gets an addressable error result.
func probeIdentity(raw []byte) (uuid, collection string) {
	var probe struct {
		UUID       string `json:"uuid"`
		Collection string `json:"collection"`
	}
	_ = json.Unmarshal(raw, &probe)
	return probe.UUID, probe.Collection
}
