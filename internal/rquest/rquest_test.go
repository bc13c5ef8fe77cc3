package rquest

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/errs"
)

const availabilityPayload = `{
  "uuid": "unique_id",
  "owner": "user1",
  "collection": "collection_id",
  "protocol_version": "v2",
  "char_salt": "salt",
  "cohort": {
    "groups_oper": "OR",
    "groups": [
      {
        "rules_oper": "AND",
        "rules": [
          {
            "varname": "OMOP",
            "varcat": "Person",
            "type": "TEXT",
            "oper": "=",
            "value": "8507"
          }
        ]
      }
    ]
  }
}`

func TestParseAvailability(t *testing.T) {
	q, err := ParseAvailability([]byte(availabilityPayload))
	if err != nil {
		t.Fatalf("ParseAvailability: %v", err)
	}
	if q.UUID != "unique_id" || q.Collection != "collection_id" {
		t.Errorf("identity fields wrong: %+v", q)
	}
	if q.Cohort.GroupsOperator != BoolOr {
		t.Errorf("groups operator = %q, want OR", q.Cohort.GroupsOperator)
	}
	if len(q.Cohort.Groups) != 1 || len(q.Cohort.Groups[0].Rules) != 1 {
		t.Fatalf("cohort shape wrong: %+v", q.Cohort)
	}
	r := q.Cohort.Groups[0].Rules[0]
	if r.VarCat != VarCatPerson || r.Value != "8507" || !r.Included() {
		t.Errorf("rule wrong: %+v", r)
	}
}

func TestParseAvailabilityRejects(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(map[string]interface{})
	}{
		{"missing uuid", func(m map[string]interface{}) { delete(m, "uuid") }},
		{"missing collection", func(m map[string]interface{}) { delete(m, "collection") }},
		{"empty groups", func(m map[string]interface{}) {
			m["cohort"] = map[string]interface{}{"groups_oper": "OR", "groups": []interface{}{}}
		}},
		{"bad groups operator", func(m map[string]interface{}) {
			c := m["cohort"].(map[string]interface{})
			c["groups_oper"] = "XOR"
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var m map[string]interface{}
			if err := json.Unmarshal([]byte(availabilityPayload), &m); err != nil {
				t.Fatal(err)
			}
			tc.mutate(m)
			raw, _ := json.Marshal(m)
			_, err := ParseAvailability(raw)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errs.IsKind(err, errs.KindSchemaValidation) {
				t.Errorf("kind = %v, want schema_validation", errs.KindOf(err))
			}
		})
	}
}

func TestParseRuleTimeWindow(t *testing.T) {
	cases := []struct {
		name      string
		time      string
		wantErr   bool
		wantCat   string
		wantValue int
		wantUpper bool
	}{
		{"upper bounded time", "|6:TIME:M", false, TimeCategoryTime, 6, true},
		{"lower bounded age", "5|:AGE:Y", false, TimeCategoryAge, 5, false},
		{"both sides set", "1|5:AGE:Y", true, "", 0, false},
		{"both sides empty", "|:TIME:M", true, "", 0, false},
		{"bad category", "|6:EPOCH:M", true, "", 0, false},
		{"bad unit", "|6:TIME:D", true, "", 0, false},
		{"not numeric", "|six:TIME:M", true, "", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := parseRule(ruleWire{
				VarName: "OMOP", VarCat: "Condition", Type: "TEXT",
				Operator: "=", Value: "123", Time: tc.time,
			})
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseRule: %v", err)
			}
			if r.TimeCategory != tc.wantCat {
				t.Errorf("category = %q, want %q", r.TimeCategory, tc.wantCat)
			}
			value, upper := r.TimeBound()
			if value != tc.wantValue || upper != tc.wantUpper {
				t.Errorf("TimeBound() = (%d, %v), want (%d, %v)",
					value, upper, tc.wantValue, tc.wantUpper)
			}
		})
	}
}

func TestParseRuleNumRange(t *testing.T) {
	r, err := parseRule(ruleWire{
		VarName: "OMOP=3037532", VarCat: "Measurement", Type: "NUM",
		Operator: "=", RawRange: "10|20",
	})
	if err != nil {
		t.Fatalf("parseRule: %v", err)
	}
	if r.Value != "3037532" {
		t.Errorf("value = %q, want concept id from varname", r.Value)
	}
	if r.MinValue == nil || r.MaxValue == nil || *r.MinValue != 10 || *r.MaxValue != 20 {
		t.Errorf("bounds = %v/%v, want 10/20", r.MinValue, r.MaxValue)
	}
	if r.RawRange != "10|20" {
		t.Errorf("raw_range must be retained verbatim, got %q", r.RawRange)
	}
}

func TestParseRuleNumRangeDotDot(t *testing.T) {
	r, err := parseRule(ruleWire{
		VarName: "OMOP=3037532", VarCat: "Measurement", Type: "NUM",
		Operator: "=", RawRange: "1.5..9.5",
	})
	if err != nil {
		t.Fatalf("parseRule: %v", err)
	}
	if r.MinValue == nil || *r.MinValue != 1.5 || r.MaxValue == nil || *r.MaxValue != 9.5 {
		t.Errorf("bounds = %v/%v, want 1.5/9.5", r.MinValue, r.MaxValue)
	}
}

// A NUM rule whose range fails to parse falls back to a pure concept rule.
func TestParseRuleNumRangeUnparseable(t *testing.T) {
	r, err := parseRule(ruleWire{
		VarName: "OMOP=3037532", VarCat: "Measurement", Type: "NUM",
		Operator: "=", Value: "3037532", RawRange: "low|high",
	})
	if err != nil {
		t.Fatalf("parseRule: %v", err)
	}
	if r.MinValue != nil || r.MaxValue != nil {
		t.Errorf("bounds should be nil, got %v/%v", r.MinValue, r.MaxValue)
	}
	if r.Value != "3037532" {
		t.Errorf("value = %q", r.Value)
	}
}

func TestParseRuleAgeRange(t *testing.T) {
	r, err := parseRule(ruleWire{
		VarName: "AGE", VarCat: "Person", Type: "NUM",
		Operator: "=", RawRange: "18|65",
	})
	if err != nil {
		t.Fatalf("parseRule: %v", err)
	}
	if !r.IsAge() {
		t.Error("IsAge() = false")
	}
	if r.MinValue == nil || *r.MinValue != 18 || r.MaxValue == nil || *r.MaxValue != 65 {
		t.Errorf("age bounds = %v/%v, want 18/65", r.MinValue, r.MaxValue)
	}
}

func TestParseRuleSecondaryModifier(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []int
	}{
		{"integers", `[32020, 32021]`, []int{32020, 32021}},
		{"strings", `["32020", "32021"]`, []int{32020, 32021}},
		{"empty strings skipped", `["", "32020"]`, []int{32020}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := parseRule(ruleWire{
				VarName: "OMOP", VarCat: "Condition", Type: "TEXT",
				Operator: "=", Value: "123",
				SecondaryModifier: json.RawMessage(tc.raw),
			})
			if err != nil {
				t.Fatalf("parseRule: %v", err)
			}
			if len(r.SecondaryModifier) != len(tc.want) {
				t.Fatalf("modifiers = %v, want %v", r.SecondaryModifier, tc.want)
			}
			for i, id := range tc.want {
				if r.SecondaryModifier[i] != id {
					t.Errorf("modifiers = %v, want %v", r.SecondaryModifier, tc.want)
				}
			}
		})
	}
}

func TestParseRuleRejectsBadEnums(t *testing.T) {
	base := ruleWire{VarName: "OMOP", VarCat: "Condition", Type: "TEXT", Operator: "=", Value: "123"}
	cases := []struct {
		name   string
		mutate func(*ruleWire)
	}{
		{"bad varcat", func(w *ruleWire) { w.VarCat = "Visit" }},
		{"bad type", func(w *ruleWire) { w.Type = "BOOL" }},
		{"bad operator", func(w *ruleWire) { w.Operator = "<" }},
		{"non-numeric value", func(w *ruleWire) { w.Value = "not-a-concept" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := base
			tc.mutate(&w)
			if _, err := parseRule(w); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseDistribution(t *testing.T) {
	raw := []byte(`{"owner":"user1","code":"DEMOGRAPHICS","analysis":"DISTRIBUTION","uuid":"u1","collection":"c1"}`)
	q, err := ParseDistribution(raw)
	if err != nil {
		t.Fatalf("ParseDistribution: %v", err)
	}
	if q.Code != DistributionDemographics {
		t.Errorf("code = %q", q.Code)
	}
}

func TestParseDistributionRejects(t *testing.T) {
	cases := []string{
		`{"owner":"u","code":"DEMOGRAPHICS","analysis":"HISTOGRAM","uuid":"u1","collection":"c1"}`,
		`{"owner":"u","code":"VISITS","analysis":"DISTRIBUTION","uuid":"u1","collection":"c1"}`,
		`{"owner":"u","code":"DEMOGRAPHICS","analysis":"DISTRIBUTION","collection":"c1"}`,
	}
	for _, raw := range cases {
		if _, err := ParseDistribution([]byte(raw)); err == nil {
			t.Errorf("expected error for %s", raw)
		}
	}
}

// ICD-MAIN is a valid payload; the refusal happens at dispatch, not parse.
func TestParseDistributionICDMain(t *testing.T) {
	raw := []byte(`{"owner":"u","code":"ICD-MAIN","analysis":"DISTRIBUTION","uuid":"u1","collection":"c1"}`)
	if _, err := ParseDistribution(raw); err != nil {
		t.Errorf("ICD-MAIN should parse, got %v", err)
	}
}

func TestParseQueryDispatch(t *testing.T) {
	kind, avail, _, err := ParseQuery([]byte(availabilityPayload))
	if err != nil {
		t.Fatalf("ParseQuery availability: %v", err)
	}
	if kind != QueryKindAvailability || avail == nil {
		t.Error("availability payload not dispatched to availability")
	}

	kind, _, dist, err := ParseQuery([]byte(`{"owner":"u","code":"GENERIC","analysis":"DISTRIBUTION","uuid":"u1","collection":"c1"}`))
	if err != nil {
		t.Fatalf("ParseQuery distribution: %v", err)
	}
	if kind != QueryKindDistribution || dist == nil {
		t.Error("distribution payload not dispatched to distribution")
	}
}

func TestResultWireFormat(t *testing.T) {
	res := NewAvailabilityResult("uuid-1", "coll-1", 40)
	raw, err := res.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"status", "protocolVersion", "uuid", "queryResult", "message", "collection_id"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing wire key %q", key)
		}
	}
	qr := m["queryResult"].(map[string]interface{})
	for _, key := range []string{"count", "datasetCount", "files"} {
		if _, ok := qr[key]; !ok {
			t.Errorf("missing queryResult key %q", key)
		}
	}
	if qr["count"].(float64) != 40 {
		t.Errorf("count = %v, want 40", qr["count"])
	}
	if qr["datasetCount"].(float64) != 0 {
		t.Errorf("datasetCount = %v, want 0 for availability", qr["datasetCount"])
	}
	if m["protocolVersion"] != "v2" {
		t.Errorf("protocolVersion = %v", m["protocolVersion"])
	}
}

func TestNewTSVFile(t *testing.T) {
	tsv := []byte("BIOBANK\tCODE\ncoll\tOMOP:8507\n")
	f := NewTSVFile(FileNameDemographics, "Demographics Distribution", tsv)

	if f.Type != FileTypeBCOS {
		t.Errorf("type = %q, want BCOS", f.Type)
	}
	if !f.Sensitive {
		t.Error("distribution files are sensitive")
	}
	wantSize := float64(len(base64.StdEncoding.EncodeToString(tsv))) / 1000
	if f.Size != wantSize {
		t.Errorf("size = %v, want %v", f.Size, wantSize)
	}
	decoded, err := f.DecodeData()
	if err != nil {
		t.Fatal(err)
	}
	if string(decoded) != string(tsv) {
		t.Error("round-trip through base64 lost data")
	}

	var m map[string]interface{}
	raw, _ := json.Marshal(f)
	json.Unmarshal(raw, &m)
	for _, key := range []string{"file_name", "file_data", "file_description", "file_reference", "file_sensitive", "file_size", "file_type"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing file wire key %q", key)
		}
	}
}

func TestCohortMarshalRoundTrip(t *testing.T) {
	q, err := ParseAvailability([]byte(availabilityPayload))
	if err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(q.Cohort)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"groups_oper":"OR"`) {
		t.Errorf("marshalled cohort missing operator: %s", raw)
	}
	var w cohortWire
	if err := json.Unmarshal(raw, &w); err != nil {
		t.Fatal(err)
	}
	if _, err := parseCohort(w); err != nil {
		t.Errorf("re-parse of marshalled cohort failed: %v", err)
	}
}

func TestErrorResultZeroesCount(t *testing.T) {
	res := NewErrorResult("u", "c", "sql failed")
	if res.Status != StatusError || res.QueryResult.Count != 0 {
		t.Errorf("error result = %+v", res)
	}
	if res.QueryResult.Files == nil {
		t.Error("files must be an empty array, not null")
	}
}
