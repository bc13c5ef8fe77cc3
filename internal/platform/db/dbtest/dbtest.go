// Package dbtest provides a scriptable db.Client for solver and resolver
// tests. Queries are matched by substring against scripted responses and
// every executed statement is recorded for assertions on SQL shape.
package dbtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/platform/db"
)

// Response scripts the rows returned for any query containing Match.
type Response struct {
	Match string
	Rows  [][]interface{}
	Err   error
}

// Client is an in-memory db.Client. The zero value is usable; add scripted
// responses with Respond.
type Client struct {
	mu        sync.Mutex
	EngineVal db.Engine
	SchemaVal string
	Tables    []string
	responses []Response
	// Queries records every statement passed to Query, in order.
	Queries []string
	// QueryCalls counts Query invocations, including unmatched ones.
	QueryCalls int
	// Acquired simulates the pool's checked-out count; it is bumped during
	// Query and restored when the returned rows are closed.
	acquired int32
}

// New returns a Postgres-flavoured fake with the full OMOP schema visible.
func New() *Client {
	return &Client{
		EngineVal: db.EnginePostgres,
		SchemaVal: "public",
		Tables:    append([]string{}, db.RequiredTables...),
	}
}

// Respond scripts rows for queries containing match. Later scripts win over
// earlier ones so tests can override defaults.
func (c *Client) Respond(match string, rows [][]interface{}) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append([]Response{{Match: match, Rows: rows}}, c.responses...)
	return c
}

// Fail scripts an error for queries containing match.
func (c *Client) Fail(match string, err error) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append([]Response{{Match: match, Err: err}}, c.responses...)
	return c
}

func (c *Client) Engine() db.Engine { return c.EngineVal }
func (c *Client) Schema() string    { return c.SchemaVal }

func (c *Client) Dialect() db.Dialect {
	d, err := db.DialectFor(c.EngineVal)
	if err != nil {
		panic(err)
	}
	return d
}

func (c *Client) Exec(_ context.Context, sql string, _ ...interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Queries = append(c.Queries, sql)
	return nil
}

func (c *Client) Query(_ context.Context, sql string, _ ...interface{}) (db.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Queries = append(c.Queries, sql)
	c.QueryCalls++

	for _, r := range c.responses {
		if strings.Contains(sql, r.Match) {
			if r.Err != nil {
				return nil, r.Err
			}
			c.acquired++
			return &rows{client: c, data: r.Rows, idx: -1}, nil
		}
	}
	// Unmatched queries return an empty result set rather than failing, so
	// shape-only tests need no scripting.
	c.acquired++
	return &rows{client: c, idx: -1}, nil
}

func (c *Client) ListTables(context.Context) ([]string, error) {
	return c.Tables, nil
}

func (c *Client) Stats() db.PoolStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return db.PoolStats{TotalConns: 1, AcquiredConns: c.acquired}
}

func (c *Client) Close() {}

// LastQuery returns the most recent statement, or "".
func (c *Client) LastQuery() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Queries) == 0 {
		return ""
	}
	return c.Queries[len(c.Queries)-1]
}

type rows struct {
	client *Client
	data   [][]interface{}
	idx    int
	closed bool
}

func (r *rows) Next() bool {
	r.idx++
	return r.idx < len(r.data)
}

func (r *rows) Scan(dest ...interface{}) error {
	if r.idx < 0 || r.idx >= len(r.data) {
		return fmt.Errorf("dbtest: Scan without Next")
	}
	row := r.data[r.idx]
	if len(dest) != len(row) {
		return fmt.Errorf("dbtest: Scan got %d targets, row has %d columns", len(dest), len(row))
	}
	for i, src := range row {
		if err := assign(dest[i], src); err != nil {
			return err
		}
	}
	return nil
}

func (r *rows) Err() error { return nil }

func (r *rows) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.client.mu.Lock()
	r.client.acquired--
	r.client.mu.Unlock()
}

func assign(dest, src interface{}) error {
	switch d := dest.(type) {
	case *int64:
		switch s := src.(type) {
		case int64:
			*d = s
		case int:
			*d = int64(s)
		default:
			return fmt.Errorf("dbtest: cannot scan %T into *int64", src)
		}
	case *int:
		switch s := src.(type) {
		case int64:
			*d = int(s)
		case int:
			*d = s
		default:
			return fmt.Errorf("dbtest: cannot scan %T into *int", src)
		}
	case *string:
		s, ok := src.(string)
		if !ok {
			return fmt.Errorf("dbtest: cannot scan %T into *string", src)
		}
		*d = s
	case *float64:
		switch s := src.(type) {
		case float64:
			*d = s
		case int:
			*d = float64(s)
		case int64:
			*d = float64(s)
		default:
			return fmt.Errorf("dbtest: cannot scan %T into *float64", src)
		}
	default:
		return fmt.Errorf("dbtest: unsupported scan target %T", dest)
	}
	return nil
}
