package parser

import (
	"errors"
	"strings"
	"testing"
)

const sampleResponse = `{
  "findings": [
    {"severity": "Low", "title": "Floating pragma", "description": "d1", "recommendation": "r1"},
    {"severity": "Critical", "title": "Reentrancy", "description": "d2", "recommendation": "r2", "line": 42},
    {"severity": "Low", "title": "Missing event", "description": "d3", "recommendation": "r3"},
    {"severity": "High", "title": "Unchecked call", "description": "d4", "recommendation": "r4", "line": "10-12"}
  ],
  "score": 61.6,
  "summary": "Several issues."
}`

func titles(findings []Finding) []string {
	out := make([]string, len(findings))
	for i, f := range findings {
		out[i] = f.Title
	}
	return out
}

func TestNormalize_Wrappers(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"plain", sampleResponse},
		{"json fence", "```json\n" + sampleResponse + "\n```"},
		{"solidity fence", "```solidity\n" + sampleResponse + "\n```"},
		{"bare fence", "```\n" + sampleResponse + "\n```"},
		{"inline fence", "```json" + sampleResponse + "```"},
		{"prose around", "Here is my audit:\n\n" + sampleResponse + "\n\nLet me know if you need more."},
		{"prose and fence", "Sure.\n```json\n" + sampleResponse + "\n```\nDone."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Normalize(tt.input)
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if len(res.Findings) != 4 {
				t.Fatalf("expected 4 findings, got %d", len(res.Findings))
			}
			if res.Score != 62 {
				t.Errorf("expected score 62, got %d", res.Score)
			}
			if res.Summary != "Several issues." {
				t.Errorf("unexpected summary %q", res.Summary)
			}
		})
	}
}

func TestNormalize_SortIsStable(t *testing.T) {
	res, err := Normalize(sampleResponse)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	want := []string{"Reentrancy", "Unchecked call", "Floating pragma", "Missing event"}
	got := titles(res.Findings)
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("order = %v, want %v", got, want)
	}

	if res.Findings[0].Line != "42" {
		t.Errorf("numeric line should be coerced to \"42\", got %q", res.Findings[0].Line)
	}
	if res.Findings[1].Line != "10-12" {
		t.Errorf("string line should be kept, got %q", res.Findings[1].Line)
	}
	if res.Findings[2].Line != "" {
		t.Errorf("absent line should stay empty, got %q", res.Findings[2].Line)
	}
}

func TestNormalize_Failures(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"prose only", "I could not analyze this contract."},
		{"broken braces", "result: {not json at all}"},
		{"reversed braces", "} nothing {"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Normalize(tt.input)
			if !errors.Is(err, ErrParse) {
				t.Fatalf("expected ErrParse, got %v", err)
			}
			if res != nil {
				t.Errorf("expected no partial result, got %+v", res)
			}
		})
	}
}

func TestNormalize_Score(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"integer", `85`, 85},
		{"round half up", `84.5`, 85},
		{"round down", `84.4`, 84},
		{"negative", `-3`, 0},
		{"above range", `150`, 100},
		{"numeric string", `"72"`, 72},
		{"padded string", `" 40 "`, 40},
		{"non-numeric string", `"high"`, 0},
		{"null", `null`, 0},
		{"bool", `true`, 1},
		{"object", `{"value": 9}`, 0},
		{"overflow", `1e400`, 100},
		{"negative overflow", `-1e400`, 0},
		{"underflow", `1e-400`, 0},
		{"overflow string", `"1e400"`, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Normalize(`{"findings": [], "score": ` + tt.raw + `}`)
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if res.Score != tt.want {
				t.Errorf("score = %d, want %d", res.Score, tt.want)
			}
		})
	}

	res, err := Normalize(`{"findings": []}`)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if res.Score != 0 || res.Summary != "" {
		t.Errorf("missing score/summary should default to 0/\"\", got %d/%q", res.Score, res.Summary)
	}
}

func TestNormalize_FindingDefaults(t *testing.T) {
	input := `{"findings": [
		{"severity": "Critical"},
		{"severity": "Severe", "title": "", "description": null, "line": 0},
		"not an object",
		42,
		{"severity": "critical", "title": 7, "recommendation": ["a", "b"], "line": ""},
		{"severity": "Low", "title": "Huge line", "line": 1e999},
		{"severity": "Low", "title": "Plain line", "line": 12}
	], "score": 50}`

	res, err := Normalize(input)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	// Low 排在 Info 之前
	if len(res.Findings) != 5 {
		t.Fatalf("expected non-object entries to be skipped, got %d findings", len(res.Findings))
	}
	if res.Findings[1].Title != "Huge line" || res.Findings[1].Line != "Infinity" {
		t.Errorf("out-of-range line should be kept as Infinity, got %+v", res.Findings[1])
	}
	if res.Findings[2].Line != "12" {
		t.Errorf("numeric line should be stringified, got %q", res.Findings[2].Line)
	}
	res.Findings = append(res.Findings[:1], res.Findings[3:]...)
	if len(res.Findings) != 3 {
		t.Fatalf("expected non-object entries to be skipped, got %d findings", len(res.Findings))
	}

	first := res.Findings[0]
	if first.Severity != SeverityCritical {
		t.Errorf("severity = %q, want Critical", first.Severity)
	}
	if first.Title != "Unnamed Finding" {
		t.Errorf("missing title should use placeholder, got %q", first.Title)
	}
	if first.Description != "" || first.Recommendation != "" {
		t.Errorf("missing text fields should be empty strings, got %+v", first)
	}

	for _, f := range res.Findings[1:] {
		if f.Severity != SeverityInfo {
			t.Errorf("unknown, miscased or missing severity should map to Info, got %q", f.Severity)
		}
		if f.Line != "" {
			t.Errorf("falsy line should be omitted, got %q", f.Line)
		}
	}

	if res.Findings[1].Title != "Unnamed Finding" {
		t.Errorf("empty title should use placeholder, got %q", res.Findings[1].Title)
	}
	if res.Findings[2].Title != "7" {
		t.Errorf("numeric title should be stringified, got %q", res.Findings[2].Title)
	}
	if res.Findings[2].Recommendation != "a,b" {
		t.Errorf("array recommendation should be joined, got %q", res.Findings[2].Recommendation)
	}
}

func TestNormalize_NonArrayFindings(t *testing.T) {
	res, err := Normalize(`{"findings": {"severity": "High"}, "score": 90, "summary": "ok"}`)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if res.Findings == nil || len(res.Findings) != 0 {
		t.Errorf("non-array findings should normalize to an empty list, got %#v", res.Findings)
	}
	if res.Score != 90 {
		t.Errorf("score = %d, want 90", res.Score)
	}
}

func TestParser_MaxFindings(t *testing.T) {
	p := NewParser(2)
	res, err := p.Parse(sampleResponse)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := []string{"Reentrancy", "Unchecked call"}
	got := titles(res.Findings)
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("truncation should keep the most severe findings, got %v", got)
	}
}

func TestSeverityRank(t *testing.T) {
	for i, s := range Severities() {
		if GetSeverityRank(s) != i {
			t.Errorf("rank of %s = %d, want %d", s, GetSeverityRank(s), i)
		}
	}
	if GetSeverityRank("Unknown") != 5 {
		t.Errorf("unknown severity should rank after Info")
	}
}

func FuzzNormalize(f *testing.F) {
	f.Add(sampleResponse)
	f.Add("```json\n{\"score\": 5}\n```")
	f.Add("text {\"findings\": [1, {\"line\": [1,2]}]} text")
	f.Add("{{}")

	f.Fuzz(func(t *testing.T, input string) {
		res, err := Normalize(input)
		if err != nil {
			if !errors.Is(err, ErrParse) {
				t.Fatalf("unexpected error type: %v", err)
			}
			return
		}
		if res.Score < 0 || res.Score > 100 {
			t.Fatalf("score out of range: %d", res.Score)
		}
		for i := 1; i < len(res.Findings); i++ {
			if GetSeverityRank(res.Findings[i-1].Severity) > GetSeverityRank(res.Findings[i].Severity) {
				t.Fatalf("findings not sorted: %+v", res.Findings)
			}
		}
	})
}
