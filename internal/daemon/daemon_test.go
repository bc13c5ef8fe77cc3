package daemon

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/platform/db/dbtest"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/rquest"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/taskapi"
)

// scriptedSource replays a fixed sequence of polling outcomes and records
// submitted results.
type scriptedSource struct {
	polls     []pollStep
	idx       int
	submitted []*rquest.Result
	submitErr error
}

type pollStep struct {
	poll taskapi.Poll
	err  error
}

func (s *scriptedSource) NextJob(context.Context, string) (taskapi.Poll, error) {
	if s.idx >= len(s.polls) {
		return taskapi.Poll{Status: taskapi.PollNoTask}, nil
	}
	step := s.polls[s.idx]
	s.idx++
	return step.poll, step.err
}

func (s *scriptedSource) SubmitResult(_ context.Context, res *rquest.Result) error {
	s.submitted = append(s.submitted, res)
	return s.submitErr
}

func echoHandler(_ context.Context, raw []byte) *rquest.Result {
	return rquest.NewAvailabilityResult(string(raw), "col-1", 1)
}

func newTestLoop(source TaskSource, handle Handler) (*Loop, *[]time.Duration) {
	l := NewLoop(source, handle, "col-1",
		5*time.Second, 5*time.Second, 60*time.Second, zerolog.Nop())
	var sleeps []time.Duration
	l.sleep = func(_ context.Context, d time.Duration) {
		sleeps = append(sleeps, d)
	}
	return l, &sleeps
}

func TestLoopDispatchesAndSubmits(t *testing.T) {
	source := &scriptedSource{polls: []pollStep{
		{poll: taskapi.Poll{Status: taskapi.PollTask, Body: []byte("task-1")}},
		{poll: taskapi.Poll{Status: taskapi.PollNoTask}},
		{poll: taskapi.Poll{Status: taskapi.PollTask, Body: []byte("task-2")}},
	}}

	l, _ := newTestLoop(source, echoHandler)
	if err := l.Run(context.Background(), 3); err != nil {
		t.Fatal(err)
	}

	if len(source.submitted) != 2 {
		t.Fatalf("submitted = %d, want 2", len(source.submitted))
	}
	// results preserve dispatch order
	if source.submitted[0].UUID != "task-1" || source.submitted[1].UUID != "task-2" {
		t.Errorf("order wrong: %s, %s", source.submitted[0].UUID, source.submitted[1].UUID)
	}
}

func TestLoopBackoffDoublesToMax(t *testing.T) {
	transportErr := errors.New("connection refused")
	source := &scriptedSource{polls: []pollStep{
		{err: transportErr},
		{err: transportErr},
		{err: transportErr},
		{err: transportErr},
		{err: transportErr},
	}}

	l, sleeps := newTestLoop(source, echoHandler)
	if err := l.Run(context.Background(), 5); err != nil {
		t.Fatal(err)
	}

	// every iteration sleeps backoff then the polling interval
	var backoffs []time.Duration
	for i := 0; i < len(*sleeps); i += 2 {
		backoffs = append(backoffs, (*sleeps)[i])
	}
	want := []time.Duration{
		5 * time.Second, 10 * time.Second, 20 * time.Second,
		40 * time.Second, 60 * time.Second,
	}
	if len(backoffs) != len(want) {
		t.Fatalf("backoffs = %v", backoffs)
	}
	for i := range want {
		if backoffs[i] != want[i] {
			t.Errorf("backoff %d = %v, want %v", i, backoffs[i], want[i])
		}
	}
}

func TestLoopBackoffResetsOnTask(t *testing.T) {
	transportErr := errors.New("connection refused")
	source := &scriptedSource{polls: []pollStep{
		{err: transportErr},
		{err: transportErr},
		{poll: taskapi.Poll{Status: taskapi.PollTask, Body: []byte("task-1")}},
		{err: transportErr},
	}}

	l, sleeps := newTestLoop(source, echoHandler)
	if err := l.Run(context.Background(), 4); err != nil {
		t.Fatal(err)
	}

	// last iteration's backoff is back to the initial value
	last := (*sleeps)[len(*sleeps)-2]
	if last != 5*time.Second {
		t.Errorf("backoff after reset = %v, want 5s", last)
	}
}

func TestLoopContinuesOnUnauthorized(t *testing.T) {
	source := &scriptedSource{polls: []pollStep{
		{poll: taskapi.Poll{Status: taskapi.PollUnauthorized, Code: 401}},
		{poll: taskapi.Poll{Status: taskapi.PollTask, Body: []byte("task-1")}},
	}}

	l, _ := newTestLoop(source, echoHandler)
	if err := l.Run(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	if len(source.submitted) != 1 {
		t.Errorf("submitted = %d, want 1 (401 must not stop the loop)", len(source.submitted))
	}
}

func TestLoopSurvivesSubmissionFailure(t *testing.T) {
	source := &scriptedSource{
		polls: []pollStep{
			{poll: taskapi.Poll{Status: taskapi.PollTask, Body: []byte("task-1")}},
			{poll: taskapi.Poll{Status: taskapi.PollTask, Body: []byte("task-2")}},
		},
		submitErr: errors.New("coordinator down"),
	}

	l, _ := newTestLoop(source, echoHandler)
	if err := l.Run(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	if len(source.submitted) != 2 {
		t.Errorf("submitted attempts = %d, want 2", len(source.submitted))
	}
}

func TestLoopStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l, _ := newTestLoop(&scriptedSource{}, echoHandler)
	if err := l.Run(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestHealthRoutes(t *testing.T) {
	client := dbtest.New()
	h := NewHealth(client, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("/health = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/health/db", nil)
	rec = httptest.NewRecorder()
	h.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("/health/db = %d, body %s", rec.Code, rec.Body.String())
	}
}
