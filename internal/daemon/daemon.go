// Package daemon runs the long-lived polling worker: ask the coordinator
// for a task, solve it, submit the result, sleep, repeat. Processing is
// strictly serial so results reach the coordinator in dispatch order.
package daemon

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/rquest"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/taskapi"
)

// TaskSource is the slice of the task API the loop needs.
type TaskSource interface {
	NextJob(ctx context.Context, collection string) (taskapi.Poll, error)
	SubmitResult(ctx context.Context, res *rquest.Result) error
}

// Handler solves one raw task payload. It must not panic and must always
// return a result.
type Handler func(ctx context.Context, raw []byte) *rquest.Result

// Loop polls one collection queue. Transport failures widen an exponential
// backoff that resets on the next successful poll.
type Loop struct {
	source     TaskSource
	handle     Handler
	collection string

	interval       time.Duration
	initialBackoff time.Duration
	maxBackoff     time.Duration

	log zerolog.Logger

	// sleep is a seam for loop tests.
	sleep func(ctx context.Context, d time.Duration)
}

// NewLoop wires a polling loop over a task source and handler.
func NewLoop(source TaskSource, handle Handler, collection string,
	interval, initialBackoff, maxBackoff time.Duration, log zerolog.Logger) *Loop {
	return &Loop{
		source:         source,
		handle:         handle,
		collection:     collection,
		interval:       interval,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
		log:            log,
		sleep:          sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Run polls until the context ends. maxIterations caps the number of
// iterations for deterministic tests; zero means unbounded.
func (l *Loop) Run(ctx context.Context, maxIterations int) error {
	backoff := l.initialBackoff

	for i := 0; maxIterations == 0 || i < maxIterations; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		poll, err := l.source.NextJob(ctx, l.collection)
		switch {
		case err != nil:
			l.log.Warn().Err(err).Dur("backoff", backoff).Msg("polling failed")
			l.sleep(ctx, backoff)
			backoff *= 2
			if backoff > l.maxBackoff {
				backoff = l.maxBackoff
			}
		case poll.Status == taskapi.PollTask:
			backoff = l.initialBackoff
			l.dispatch(ctx, poll.Body)
		case poll.Status == taskapi.PollNoTask:
			l.log.Debug().Msg("no task")
		case poll.Status == taskapi.PollUnauthorized:
			l.log.Info().Msg("task api authentication failed")
		default:
			l.log.Info().Int("status", poll.Code).Msg("unexpected polling response")
		}

		l.sleep(ctx, l.interval)
	}
	return ctx.Err()
}

// dispatch solves one task and submits its result. Submission failures are
// logged and the task is abandoned; the loop itself never stops for them.
func (l *Loop) dispatch(ctx context.Context, raw []byte) {
	res := l.handle(ctx, raw)
	if res == nil {
		l.log.Error().Msg("task handler returned no result")
		return
	}
	if err := l.source.SubmitResult(ctx, res); err != nil {
		l.log.Error().Err(err).Str("uuid", res.UUID).Msg("result submission abandoned")
	}
}
