// Package solver executes cohort and distribution tasks against the
// warehouse and shapes protocol results. It is the only package that both
// builds SQL and runs it; everything above hands it raw payloads and
// everything below is a db.Client.
package solver

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/errs"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/obfuscation"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/platform/db"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/rquest"
)

// SQL retry envelope. Construction errors are never retried; only failures
// kinded KindSQLExecution re-enter the loop.
const (
	sqlRetryAttempts = 3
	sqlRetryWait     = 60 * time.Second
)

// ResultCache is the slice of the distribution cache the solver needs.
// A nil cache disables caching.
type ResultCache interface {
	Key(query []byte, filters []obfuscation.Modifier) (string, error)
	Get(key string) (*rquest.Result, bool)
	Set(key string, res *rquest.Result)
}

// Solver runs one task at a time against a single database client.
type Solver struct {
	client  db.Client
	log     zerolog.Logger
	filters []obfuscation.Modifier
	cache   ResultCache

	attempts int
	wait     time.Duration
}

// New returns a solver applying the given disclosure filters to every
// count it emits.
func New(client db.Client, log zerolog.Logger, filters []obfuscation.Modifier) *Solver {
	return &Solver{
		client:   client,
		log:      log,
		filters:  filters,
		attempts: sqlRetryAttempts,
		wait:     sqlRetryWait,
	}
}

// WithCache attaches a distribution result cache.
func (s *Solver) WithCache(c ResultCache) *Solver {
	s.cache = c
	return s
}

// WithRetry overrides the SQL retry envelope.
func (s *Solver) WithRetry(attempts int, wait time.Duration) *Solver {
	s.attempts = attempts
	s.wait = wait
	return s
}

// retrySQL runs fn under the solver's retry envelope. Errors that are not
// SQL execution failures abort immediately.
func (s *Solver) retrySQL(ctx context.Context, fn func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.wait), uint64(s.attempts-1)), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !errs.IsKind(err, errs.KindSQLExecution) {
			return backoff.Permanent(err)
		}
		s.log.Warn().Err(err).Msg("sql execution failed, retrying")
		return err
	}, policy)
}
