package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/rquest"
)

// failureBackoff is how long the refresher waits after a failed pass.
const failureBackoff = 5 * time.Minute

// joinTimeout bounds how long Stop waits for the background goroutine.
const joinTimeout = 5 * time.Second

// SolveFunc evaluates one raw task payload. The solver's own cache hookup
// makes a successful evaluation land in the cache as a side effect.
type SolveFunc func(ctx context.Context, raw []byte) *rquest.Result

// Refresher re-evaluates a fixed set of distribution queries on the cache
// TTL cadence so common answers stay warm. Failures are logged and the next
// pass is delayed; the foreground worker is never affected.
type Refresher struct {
	solve    SolveFunc
	queries  [][]byte
	interval time.Duration
	log      zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRefresher builds a refresher over the given payloads. A non-positive
// interval disables it.
func NewRefresher(solve SolveFunc, queries [][]byte, interval time.Duration, log zerolog.Logger) *Refresher {
	return &Refresher{solve: solve, queries: queries, interval: interval, log: log}
}

// CommonQueries returns the distribution payloads kept warm for a
// collection.
func CommonQueries(owner, collection string) [][]byte {
	build := func(code string) []byte {
		return []byte(`{"owner":"` + owner + `","code":"` + code +
			`","analysis":"DISTRIBUTION","uuid":"cache-refresh","collection":"` + collection + `"}`)
	}
	return [][]byte{
		build(rquest.DistributionDemographics),
		build(rquest.DistributionGeneric),
	}
}

// Start launches the background loop. It runs until Stop or the parent
// context ends.
func (r *Refresher) Start(ctx context.Context) {
	if r.interval <= 0 || len(r.queries) == 0 {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		for {
			wait := r.interval
			if !r.pass(ctx) {
				wait = failureBackoff
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}()
}

// pass evaluates every query once and reports whether all succeeded.
func (r *Refresher) pass(ctx context.Context) bool {
	ok := true
	for _, q := range r.queries {
		if ctx.Err() != nil {
			return ok
		}
		res := r.solve(ctx, q)
		if res == nil || res.Status != rquest.StatusOK {
			ok = false
			r.log.Warn().Msg("cache refresh query failed")
		}
	}
	if ok {
		r.log.Debug().Int("queries", len(r.queries)).Msg("cache refresh pass complete")
	}
	return ok
}

// Stop signals the loop and joins it briefly. A refresher stuck in a slow
// solve is abandoned after the join timeout.
func (r *Refresher) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	select {
	case <-r.done:
	case <-time.After(joinTimeout):
		r.log.Warn().Msg("cache refresher did not stop in time")
	}
}
