package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewOpenAIClientValidatesConfig(t *testing.T) {
	if _, err := NewOpenAIClient(OpenAIConfig{APIKey: "k"}, nil); err == nil {
		t.Fatal("expected error for missing base URL")
	}
	if _, err := NewOpenAIClient(OpenAIConfig{BaseURL: "http://x"}, nil); err == nil {
		t.Fatal("expected error for missing api key")
	}
	client, err := NewOpenAIClient(OpenAIConfig{BaseURL: "http://x/", APIKey: "k"}, nil)
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}
	if client.Model() != "gpt-4o-mini" {
		t.Fatalf("Model() = %q", client.Model())
	}
}

func TestCompleteSendsSingleUserMessage(t *testing.T) {
	var captured struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		Temperature float64 `json:"temperature"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"SQLQuery: SELECT 1\nSQLResult: 1"}}]}`))
	}))
	defer server.Close()

	client, err := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, APIKey: "secret", Model: "m1", Temperature: 0.1}, nil)
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}
	got, err := client.Complete(context.Background(), "Question: how many?")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "SQLQuery: SELECT 1\nSQLResult: 1" {
		t.Fatalf("Complete() = %q", got)
	}
	if captured.Model != "m1" || captured.Temperature != 0.1 {
		t.Fatalf("payload = %+v", captured)
	}
	if len(captured.Messages) != 1 || captured.Messages[0].Role != "user" || captured.Messages[0].Content != "Question: how many?" {
		t.Fatalf("messages = %+v", captured.Messages)
	}
}

func TestCompleteWrapsHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer server.Close()

	client, err := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, APIKey: "k"}, nil)
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}
	_, err = client.Complete(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "status=429") {
		t.Fatalf("Complete() error = %v, want status=429", err)
	}
}

func TestCompleteRejectsEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	client, err := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, APIKey: "k"}, nil)
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}
	if _, err := client.Complete(context.Background(), "x"); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestStripMarkdownFence(t *testing.T) {
	tests := map[string]string{
		"```sql\nSELECT 1;\n```":            "SELECT 1;",
		"```json\n{\"table_name\":\"x\"}\n```": `{"table_name":"x"}`,
		"```{\"a\":1}```":                   `{"a":1}`,
		"  plain text ":                     "plain text",
	}
	for input, want := range tests {
		if got := StripMarkdownFence(input); got != want {
			t.Fatalf("StripMarkdownFence(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestTokenCounterCounts(t *testing.T) {
	counter, err := DefaultTokenCounter()
	if err != nil {
		t.Fatalf("DefaultTokenCounter() error = %v", err)
	}
	if got := counter.Count(""); got != 0 {
		t.Fatalf("Count(\"\") = %d", got)
	}
	if got := counter.Count("hello world"); got != 2 {
		t.Fatalf("Count(hello world) = %d, want 2", got)
	}
	var nilCounter *TokenCounter
	if got := nilCounter.Count("x"); got != 0 {
		t.Fatalf("nil Count() = %d", got)
	}
}
