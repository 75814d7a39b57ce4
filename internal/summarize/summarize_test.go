package summarize

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeCompleter struct {
	responses []string
	prompts   []string
	err       error
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	response := f.responses[0]
	f.responses = f.responses[1:]
	return response, nil
}

func TestSummarizePassesExcludedNamesAndParses(t *testing.T) {
	completer := &fakeCompleter{responses: []string{"```json\n{\"table_name\": \"Bad Boy Artists\", \"table_summary\": \" Artists and years. \"}\n```"}}
	summarizer, err := New(completer, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	info, err := summarizer.Summarize(context.Background(), ",artist,year\n0,Nas,1994\n", []string{"b_table", "a_table"})
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if info.TableName != "Bad_Boy_Artists" || info.TableSummary != "Artists and years." {
		t.Fatalf("Summarize() = %+v", info)
	}
	prompt := completer.prompts[0]
	if !strings.Contains(prompt, "['a_table', 'b_table']") {
		t.Fatalf("prompt missing sorted exclusions:\n%s", prompt)
	}
	if !strings.Contains(prompt, "0,Nas,1994") {
		t.Fatalf("prompt missing table sample:\n%s", prompt)
	}
}

func TestParseToleratesProse(t *testing.T) {
	info, err := Parse("Here you go: {\"table_name\": \"Medals\", \"table_summary\": \"Counts.\"} Thanks!")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if info.TableName != "Medals" {
		t.Fatalf("Parse() = %+v", info)
	}
}

func TestParseRejectsUnusableReplies(t *testing.T) {
	for _, raw := range []string{
		"no json here",
		`{"table_name": "   ", "table_summary": "x"}`,
		`{"table_name": `,
	} {
		if _, err := Parse(raw); !errors.Is(err, ErrInvalidSummary) {
			t.Fatalf("Parse(%q) error = %v, want ErrInvalidSummary", raw, err)
		}
	}
}

func TestSummarizePropagatesCompletionError(t *testing.T) {
	summarizer, _ := New(&fakeCompleter{err: errors.New("rate limited")}, nil)
	if _, err := summarizer.Summarize(context.Background(), "", nil); err == nil {
		t.Fatal("expected error")
	}
}
