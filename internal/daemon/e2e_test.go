package daemon

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/obfuscation"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/platform/db/dbtest"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/solver"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/taskapi"
)

// coordinator is an httptest stand-in for the task API: it hands out queued
// tasks and records every submitted result body.
type coordinator struct {
	mu      sync.Mutex
	tasks   []string
	results []submission
}

type submission struct {
	path string
	body []byte
}

func (c *coordinator) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()

		switch {
		case strings.HasPrefix(r.URL.Path, "/task/nextjob/"):
			if len(c.tasks) == 0 {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			task := c.tasks[0]
			c.tasks = c.tasks[1:]
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(task))
		case strings.HasPrefix(r.URL.Path, "/task/result/"):
			body, _ := io.ReadAll(r.Body)
			c.results = append(c.results, submission{path: r.URL.Path, body: body})
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

const e2eAvailability = `{
  "uuid": "e2e-1", "collection": "col-1",
  "cohort": {"groups_oper": "AND", "groups": [
    {"rules_oper": "AND", "rules": [
      {"varname": "OMOP", "varcat": "Condition", "type": "TEXT", "oper": "=", "value": "443614"}
    ]}
  ]}
}`

const e2eDemographics = `{
  "owner": "user1", "code": "DEMOGRAPHICS", "analysis": "DISTRIBUTION",
  "uuid": "e2e-2", "collection": "col-1"
}`

func TestLoopEndToEnd(t *testing.T) {
	coord := &coordinator{tasks: []string{e2eAvailability, e2eDemographics}}
	srv := httptest.NewServer(coord.handler())
	defer srv.Close()

	warehouse := dbtest.New()
	warehouse.Respond("AS cnt", [][]interface{}{{int64(99)}})
	warehouse.Respond("GROUP BY gender_concept_id", [][]interface{}{
		{int64(8507), int64(40)},
		{int64(8532), int64(60)},
	})

	sv := solver.New(warehouse, zerolog.Nop(), obfuscation.DefaultFilters(10, 10)).
		WithRetry(1, 0)
	source := taskapi.New(srv.URL, "user", "pass", "", zerolog.Nop()).WithRetry(1, 0)
	loop := NewLoop(source, sv.Solve, "col-1", 0, 0, 0, zerolog.Nop())
	loop.sleep = func(context.Context, time.Duration) {}

	if err := loop.Run(context.Background(), 3); err != nil {
		t.Fatal(err)
	}

	if len(coord.results) != 2 {
		t.Fatalf("results = %d, want 2", len(coord.results))
	}
	if coord.results[0].path != "/task/result/e2e-1/col-1" {
		t.Errorf("first result path = %q", coord.results[0].path)
	}
	if coord.results[1].path != "/task/result/e2e-2/col-1" {
		t.Errorf("second result path = %q", coord.results[1].path)
	}

	// availability result carries the exact wire keys and the rounded count
	var wire map[string]interface{}
	if err := json.Unmarshal(coord.results[0].body, &wire); err != nil {
		t.Fatal(err)
	}
	if wire["status"] != "ok" || wire["protocolVersion"] != "v2" {
		t.Errorf("availability envelope wrong: %v", wire)
	}
	qr, ok := wire["queryResult"].(map[string]interface{})
	if !ok {
		t.Fatalf("queryResult missing: %v", wire)
	}
	if qr["count"] != float64(100) {
		t.Errorf("count = %v, want 100 after rounding", qr["count"])
	}

	// demographics result carries one base64 TSV file
	if err := json.Unmarshal(coord.results[1].body, &wire); err != nil {
		t.Fatal(err)
	}
	qr = wire["queryResult"].(map[string]interface{})
	files, ok := qr["files"].([]interface{})
	if !ok || len(files) != 1 {
		t.Fatalf("files wrong: %v", qr["files"])
	}
	file := files[0].(map[string]interface{})
	if file["file_name"] != "demographics.distribution" {
		t.Errorf("file name = %v", file["file_name"])
	}
	if file["file_type"] != "BCOS" || file["file_sensitive"] != true {
		t.Errorf("file metadata wrong: %v", file)
	}

	// the warehouse pool is back to its resting state
	if got := warehouse.Stats().AcquiredConns; got != 0 {
		t.Errorf("acquired conns = %d after run, want 0", got)
	}
}
