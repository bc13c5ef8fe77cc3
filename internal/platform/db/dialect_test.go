package db

import (
	"strings"
	"testing"
)

func TestDialectFor(t *testing.T) {
	for _, engine := range []Engine{EnginePostgres, EngineSQLServer, EngineDuckDB, EngineTrino} {
		d, err := DialectFor(engine)
		if err != nil {
			t.Fatalf("DialectFor(%s): %v", engine, err)
		}
		if d.Engine() != engine {
			t.Errorf("dialect engine = %s, want %s", d.Engine(), engine)
		}
	}
}

func TestDialectForUnsupported(t *testing.T) {
	if _, err := DialectFor(Engine("oracle")); err == nil {
		t.Error("unsupported engine must fail fast")
	}
}

func TestPlaceholders(t *testing.T) {
	cases := []struct {
		engine Engine
		n      int
		want   string
	}{
		{EnginePostgres, 1, "$1"},
		{EnginePostgres, 3, "$3"},
		{EngineSQLServer, 2, "@p2"},
		{EngineDuckDB, 5, "?"},
		{EngineTrino, 5, "?"},
	}
	for _, tc := range cases {
		d, _ := DialectFor(tc.engine)
		if got := d.Placeholder(tc.n); got != tc.want {
			t.Errorf("%s.Placeholder(%d) = %q, want %q", tc.engine, tc.n, got, tc.want)
		}
	}
}

func TestYearDiffShapes(t *testing.T) {
	cases := map[Engine]string{
		EnginePostgres:  "EXTRACT(YEAR FROM t.condition_start_date)",
		EngineSQLServer: "YEAR(t.condition_start_date)",
		EngineDuckDB:    "EXTRACT(YEAR FROM t.condition_start_date)",
		EngineTrino:     "year(t.condition_start_date)",
	}
	for engine, fragment := range cases {
		d, _ := DialectFor(engine)
		expr := d.YearDiff("t.condition_start_date", "p.year_of_birth")
		if !strings.Contains(expr, fragment) {
			t.Errorf("%s YearDiff = %q, want fragment %q", engine, expr, fragment)
		}
		if !strings.Contains(expr, "p.year_of_birth") {
			t.Errorf("%s YearDiff = %q, missing birth-year operand", engine, expr)
		}
	}
}

func TestMonthsAgoShapes(t *testing.T) {
	cases := map[Engine]string{
		EnginePostgres:  "INTERVAL '6 months'",
		EngineSQLServer: "DATEADD(month, -6",
		EngineDuckDB:    "INTERVAL 6 MONTH",
		EngineTrino:     "date_add('month', -6",
	}
	for engine, fragment := range cases {
		d, _ := DialectFor(engine)
		expr := d.MonthsAgo(6)
		if !strings.Contains(expr, fragment) {
			t.Errorf("%s MonthsAgo(6) = %q, want fragment %q", engine, expr, fragment)
		}
	}
}

func TestAgeNowShapes(t *testing.T) {
	for _, engine := range []Engine{EnginePostgres, EngineSQLServer, EngineDuckDB, EngineTrino} {
		d, _ := DialectFor(engine)
		expr := d.AgeNow("year_of_birth")
		if !strings.Contains(expr, "year_of_birth") {
			t.Errorf("%s AgeNow = %q, missing birth-year operand", engine, expr)
		}
	}
}

func TestPoolStatsHealthy(t *testing.T) {
	if (PoolStats{}).Healthy() {
		t.Error("empty pool reported healthy")
	}
	if !(PoolStats{TotalConns: 2}).Healthy() {
		t.Error("live pool reported unhealthy")
	}
}
