package nl2sql

import (
	"math/big"
	"strings"
	"testing"
	"time"
)

func TestExtractSQL(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{
			name:     "markers",
			response: "SQLQuery: SELECT Year FROM albums WHERE Artist = 'X'\nSQLResult: [(2000,)]\nAnswer: 2000",
			want:     "SELECT Year FROM albums WHERE Artist = 'X'",
		},
		{
			name:     "leading text before marker",
			response: "Question: when?\nSQLQuery: SELECT 1",
			want:     "SELECT 1",
		},
		{
			name:     "fenced without markers",
			response: "```SELECT 1```",
			want:     "SELECT 1",
		},
		{
			name:     "fenced inside markers",
			response: "SQLQuery: ```SELECT COUNT(*) FROM t```\nSQLResult:",
			want:     "SELECT COUNT(*) FROM t",
		},
		{
			name:     "result marker only",
			response: "  SELECT 2 \nSQLResult: 2",
			want:     "SELECT 2",
		},
		{
			name:     "language tag is not stripped",
			response: "```sql\nSELECT 1\n```",
			want:     "sql\nSELECT 1",
		},
		{
			name:     "first markers win",
			response: "SQLQuery: SELECT 1 SQLQuery: SELECT 2",
			want:     "SELECT 1 SQLQuery: SELECT 2",
		},
		{
			name:     "empty",
			response: "   ",
			want:     "",
		},
	}
	for _, tc := range tests {
		if got := ExtractSQL(tc.response); got != tc.want {
			t.Fatalf("%s: ExtractSQL() = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestTextToSQLPrompt(t *testing.T) {
	prompt := TextToSQLPrompt("duckdb", "Table 'albums' has columns: Year (BIGINT).", "When was X signed?")
	if !strings.HasPrefix(prompt, "Given an input question, first create a syntactically correct duckdb query to run") {
		t.Fatalf("prompt prefix = %q", prompt[:80])
	}
	if !strings.Contains(prompt, "Only use tables listed below.\nTable 'albums' has columns: Year (BIGINT).\n\nQuestion: When was X signed?\nSQLQuery: ") {
		t.Fatalf("prompt tail = %q", prompt)
	}
	if !strings.HasSuffix(prompt, "SQLQuery: ") {
		t.Fatalf("prompt should end with SQLQuery marker: %q", prompt)
	}
}

func TestPromptValuesAreNotReexpanded(t *testing.T) {
	prompt := ResponseSynthesisPrompt("{sql_query}", "SELECT 1", "[(1,)]")
	want := "Given an input question, synthesize a response from the query results.\nQuery: {sql_query}\nSQL: SELECT 1\nSQL Response: [(1,)]\nResponse:"
	if prompt != want {
		t.Fatalf("ResponseSynthesisPrompt() = %q, want %q", prompt, want)
	}
}

func TestTableSummaryPromptListsExcludedNamesSorted(t *testing.T) {
	prompt := TableSummaryPrompt(",Year,Album\n0,2000,First\n", []string{"Zeta", "Alpha", "Bob's"})
	if !strings.Contains(prompt, `any from the list: ['Alpha', "Bob's", 'Zeta']`) {
		t.Fatalf("prompt = %q", prompt)
	}
	if !strings.Contains(prompt, "Table Data:\n,Year,Album\n0,2000,First\n\n\nSummary:\n") {
		t.Fatalf("prompt = %q", prompt)
	}

	empty := TableSummaryPrompt("x", nil)
	if !strings.Contains(empty, "any from the list: [])") {
		t.Fatalf("prompt = %q", empty)
	}
}

func TestFormatRow(t *testing.T) {
	tests := []struct {
		values []any
		want   string
	}{
		{[]any{"X", int64(2000)}, "('X', 2000)"},
		{[]any{int64(2000)}, "(2000,)"},
		{[]any{}, "()"},
		{[]any{nil, true, 1.5, 2.0}, "(NULL, True, 1.5, 2.0)"},
		{[]any{"it's", `say "hi"`}, `("it's", 'say "hi"')`},
		{[]any{"a\\b\nc"}, `('a\\b\nc',)`},
		{[]any{big.NewInt(12345678901234)}, "(12345678901234,)"},
		{[]any{time.Date(1993, 5, 1, 0, 0, 0, 0, time.UTC)}, "('1993-05-01',)"},
		{[]any{1e20, 0.00001}, "(1e+20, 1e-05)"},
	}
	for _, tc := range tests {
		if got := FormatRow(tc.values); got != tc.want {
			t.Fatalf("FormatRow(%#v) = %q, want %q", tc.values, got, tc.want)
		}
	}
}

func TestFormatRows(t *testing.T) {
	if got := FormatRows([][]any{{int64(2000)}}); got != "[(2000,)]" {
		t.Fatalf("FormatRows() = %q", got)
	}
	if got := FormatRows(nil); got != "[]" {
		t.Fatalf("FormatRows(nil) = %q", got)
	}
}
