package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/errs"
)

// The stub driver below lets the tests drive sqlClient through the real
// database/sql pool, so checkout accounting and row iteration behave as
// they do against a live engine.

type stubScript struct {
	match   string
	columns []string
	rows    [][]driver.Value
	err     error
}

type stubConn struct {
	mu      sync.Mutex
	scripts []stubScript
	pingErr error
	queries []string
	execs   []string
}

func (c *stubConn) respond(match string, columns []string, rows ...[]driver.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts = append([]stubScript{{match: match, columns: columns, rows: rows}}, c.scripts...)
}

func (c *stubConn) fail(match string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts = append([]stubScript{{match: match, err: err}}, c.scripts...)
}

func (c *stubConn) lookup(query string) stubScript {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.scripts {
		if strings.Contains(query, s.match) {
			return s
		}
	}
	return stubScript{}
}

func (c *stubConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}
func (c *stubConn) Close() error                        { return nil }
func (c *stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not supported") }

func (c *stubConn) Ping(context.Context) error { return c.pingErr }

func (c *stubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	c.queries = append(c.queries, query)
	c.mu.Unlock()

	s := c.lookup(query)
	if s.err != nil {
		return nil, s.err
	}
	return &stubRows{columns: s.columns, data: s.rows}, nil
}

func (c *stubConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	c.execs = append(c.execs, query)
	c.mu.Unlock()

	if s := c.lookup(query); s.err != nil {
		return nil, s.err
	}
	return driver.RowsAffected(0), nil
}

type stubRows struct {
	columns []string
	data    [][]driver.Value
	pos     int
}

func (r *stubRows) Columns() []string { return r.columns }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.data) {
		return io.EOF
	}
	copy(dest, r.data[r.pos])
	r.pos++
	return nil
}

type stubDriver struct {
	mu    sync.Mutex
	conns map[string]*stubConn
}

func (d *stubDriver) Open(name string) (driver.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn, ok := d.conns[name]
	if !ok {
		return nil, errors.New("unknown stub " + name)
	}
	return conn, nil
}

var stubReg = &stubDriver{conns: map[string]*stubConn{}}

func init() { sql.Register("bunnystub", stubReg) }

func openStub(t *testing.T, conn *stubConn) *sql.DB {
	t.Helper()
	stubReg.mu.Lock()
	stubReg.conns[t.Name()] = conn
	stubReg.mu.Unlock()

	sqlDB, err := sql.Open("bunnystub", t.Name())
	if err != nil {
		t.Fatalf("open stub: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return sqlDB
}

func newStubClient(t *testing.T, conn *stubConn) *sqlClient {
	t.Helper()
	client, err := newSQLClient(context.Background(), openStub(t, conn),
		EngineDuckDB, "main", "SELECT table_name FROM information_schema.tables WHERE table_schema = ?")
	if err != nil {
		t.Fatalf("newSQLClient: %v", err)
	}
	return client
}

func TestSQLClientPingFailure(t *testing.T) {
	conn := &stubConn{pingErr: errors.New("connection refused")}
	_, err := newSQLClient(context.Background(), openStub(t, conn),
		EngineDuckDB, "main", "")
	if err == nil {
		t.Fatal("expected construction to fail when ping fails")
	}
	if !errs.IsKind(err, errs.KindSQLExecution) {
		t.Errorf("kind = %v, want SQLExecution", errs.KindOf(err))
	}
}

func TestSQLClientQueryScan(t *testing.T) {
	conn := &stubConn{}
	conn.respond("FROM main.person", []string{"gender_concept_id", "cnt"},
		[]driver.Value{int64(8507), int64(40)},
		[]driver.Value{int64(8532), int64(60)})
	client := newStubClient(t, conn)
	defer client.Close()

	rows, err := client.Query(context.Background(), "SELECT gender_concept_id, COUNT(person_id) AS cnt FROM main.person GROUP BY gender_concept_id")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	defer rows.Close()

	var got []int64
	for rows.Next() {
		var concept, cnt int64
		if err := rows.Scan(&concept, &cnt); err != nil {
			t.Fatalf("Scan: %v", err)
		}
		got = append(got, concept, cnt)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows.Err: %v", err)
	}
	want := []int64{8507, 40, 8532, 60}
	if len(got) != len(want) {
		t.Fatalf("scanned %d values, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("value[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestSQLClientQueryErrorKind(t *testing.T) {
	conn := &stubConn{}
	conn.fail("FROM main.condition_occurrence", errors.New("relation does not exist"))
	client := newStubClient(t, conn)
	defer client.Close()

	_, err := client.Query(context.Background(), "SELECT person_id FROM main.condition_occurrence")
	if !errs.IsKind(err, errs.KindSQLExecution) {
		t.Errorf("kind = %v, want SQLExecution", errs.KindOf(err))
	}
}

func TestSQLClientListTables(t *testing.T) {
	conn := &stubConn{}
	conn.respond("information_schema.tables", []string{"table_name"},
		[]driver.Value{"person"},
		[]driver.Value{"concept"},
		[]driver.Value{"measurement"})
	client := newStubClient(t, conn)
	defer client.Close()

	tables, err := client.ListTables(context.Background())
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	want := []string{"person", "concept", "measurement"}
	if len(tables) != len(want) {
		t.Fatalf("ListTables = %v, want %v", tables, want)
	}
	for i := range want {
		if tables[i] != want[i] {
			t.Errorf("table[%d] = %q, want %q", i, tables[i], want[i])
		}
	}
}

func TestSQLClientStatsTrackCheckout(t *testing.T) {
	conn := &stubConn{}
	conn.respond("FROM main.person", []string{"person_id"}, []driver.Value{int64(1)})
	client := newStubClient(t, conn)
	defer client.Close()

	rows, err := client.Query(context.Background(), "SELECT person_id FROM main.person")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got := client.Stats().AcquiredConns; got != 1 {
		t.Errorf("AcquiredConns while iterating = %d, want 1", got)
	}
	rows.Close()
	if got := client.Stats().AcquiredConns; got != 0 {
		t.Errorf("AcquiredConns after Close = %d, want 0", got)
	}
}

func TestSQLClientExec(t *testing.T) {
	conn := &stubConn{}
	client := newStubClient(t, conn)
	defer client.Close()

	if err := client.Exec(context.Background(), "SET memory_limit = '4GB'"); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.execs) != 1 || conn.execs[0] != "SET memory_limit = '4GB'" {
		t.Errorf("execs = %v, want the SET statement", conn.execs)
	}
}
