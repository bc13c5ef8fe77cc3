// Package taskapi is the HTTP client for the coordinator's task queue:
// polling for the next job and submitting finished results. All requests
// carry basic authentication.
package taskapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/errs"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/rquest"
)

// Result submission retry envelope. Any 2xx or 4xx response is terminal;
// 5xx and transport failures re-enter the loop.
const (
	submitAttempts = 4
	submitWait     = 5 * time.Second
)

// PollStatus classifies one polling response.
type PollStatus int

const (
	// PollTask carries a task body.
	PollTask PollStatus = iota
	// PollNoTask is the coordinator's 204.
	PollNoTask
	// PollUnauthorized is a 401; the loop logs and carries on.
	PollUnauthorized
	// PollOther is any unexpected status, logged and otherwise ignored.
	PollOther
)

// Poll is the outcome of one NextJob call.
type Poll struct {
	Status PollStatus
	Code   int
	Body   []byte
}

// Client talks to one coordinator with one identity. It is stateless apart
// from the underlying http.Client and safe for reuse across iterations.
type Client struct {
	base     string
	username string
	password string
	taskType string
	http     *http.Client
	log      zerolog.Logger

	attempts int
	wait     time.Duration
}

// New returns a client for the given coordinator base URL. taskType narrows
// the polled queue and may be empty.
func New(baseURL, username, password, taskType string, log zerolog.Logger) *Client {
	return &Client{
		base:     strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		taskType: taskType,
		http:     &http.Client{Timeout: 30 * time.Second},
		log:      log,
		attempts: submitAttempts,
		wait:     submitWait,
	}
}

// WithRetry overrides the submission retry envelope.
func (c *Client) WithRetry(attempts int, wait time.Duration) *Client {
	c.attempts = attempts
	c.wait = wait
	return c
}

// NextJob polls the queue for the given collection.
func (c *Client) NextJob(ctx context.Context, collection string) (Poll, error) {
	const op = "taskapi.nextjob"

	queue := collection
	if c.taskType != "" {
		queue += "." + c.taskType
	}
	url := fmt.Sprintf("%s/task/nextjob/%s", c.base, queue)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Poll{}, errs.Wrap(errs.KindTransport, op, err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return Poll{}, errs.Wrap(errs.KindTransport, op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return Poll{}, errs.Wrap(errs.KindTransport, op, err)
		}
		return Poll{Status: PollTask, Code: resp.StatusCode, Body: body}, nil
	case resp.StatusCode == http.StatusNoContent:
		return Poll{Status: PollNoTask, Code: resp.StatusCode}, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return Poll{Status: PollUnauthorized, Code: resp.StatusCode}, nil
	default:
		return Poll{Status: PollOther, Code: resp.StatusCode}, nil
	}
}

// SubmitResult posts a finished result. A malformed report (any 4xx) is
// surfaced, not re-sent; 5xx and transport failures retry on a fixed delay.
func (c *Client) SubmitResult(ctx context.Context, res *rquest.Result) error {
	const op = "taskapi.submit"

	body, err := res.Marshal()
	if err != nil {
		return errs.Wrap(errs.KindTransport, op, err)
	}
	url := fmt.Sprintf("%s/task/result/%s/%s", c.base, res.UUID, res.CollectionID)

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.wait), uint64(c.attempts-1)), ctx)
	return backoff.Retry(func() error {
		err := c.postResult(ctx, url, body)
		if err == nil {
			return nil
		}
		var terminal *terminalError
		if errors.As(err, &terminal) {
			return backoff.Permanent(terminal.err)
		}
		c.log.Warn().Err(err).Str("uuid", res.UUID).Msg("result submission failed, retrying")
		return err
	}, policy)
}

// terminalError marks submission failures that must not be retried.
type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

func (c *Client) postResult(ctx context.Context, url string, body []byte) error {
	const op = "taskapi.submit"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &terminalError{err: errs.Wrap(errs.KindTransport, op, err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindTransport, op, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return &terminalError{err: errs.Newf(errs.KindAuthentication, op,
			"submission rejected with status %d", resp.StatusCode)}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &terminalError{err: errs.Newf(errs.KindTransport, op,
			"submission rejected with status %d", resp.StatusCode)}
	default:
		return errs.Newf(errs.KindTransport, op,
			"submission failed with status %d", resp.StatusCode)
	}
}
