package tableqactl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "http://localhost:8080"
	defaultTimeout = 120 * time.Second
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// askFlags carries the flags that shape an ask request and its output.
type askFlags struct {
	includeContext bool
	answerOnly     bool
}

type command struct {
	name    string
	usage   string
	method  string
	path    string
	payload func(args []string, flags askFlags) ([]byte, error)
	render  func(raw []byte, flags askFlags) (string, bool)
}

var errUsage = errors.New("usage")

var commands = []command{
	{name: "health", usage: "health", method: http.MethodGet, path: "/v1/health"},
	{name: "ready", usage: "ready", method: http.MethodGet, path: "/v1/ready"},
	{name: "tables", usage: "tables", method: http.MethodGet, path: "/v1/tables"},
	{name: "ask", usage: "ask <question...>", method: http.MethodPost, path: "/v1/ask", payload: askPayload, render: renderAnswer},
	{name: "retention-run", usage: "retention-run", method: http.MethodPost, path: "/v1/retention/run"},
	{name: "integrity-run", usage: "integrity-run", method: http.MethodPost, path: "/v1/integrity/run"},
}

// Run executes one command and returns the process exit code: 0 on success,
// 1 on request or HTTP failure, 2 on usage errors.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := writerOr(defaults.Stdout)
	stderr := writerOr(defaults.Stderr)

	fs := flag.NewFlagSet("tableqactl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, defaultBaseURL), "tableqa API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, defaultTimeout), "HTTP timeout (e.g. 30s)")
	var flags askFlags
	fs.BoolVar(&flags.includeContext, "context", false, "include the retrieved table context in ask output")
	fs.BoolVar(&flags.answerOnly, "answer-only", false, "print only the answer text for ask")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	name := strings.TrimSpace(fs.Arg(0))
	cmd, ok := lookup(name)
	if !ok {
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", name)
		writeUsage(stderr)
		return 2
	}

	var body []byte
	if cmd.payload != nil {
		var err error
		body, err = cmd.payload(fs.Args()[1:], flags)
		if errors.Is(err, errUsage) {
			_, _ = fmt.Fprintf(stderr, "%s requires a question\n", cmd.name)
			writeUsage(stderr)
			return 2
		}
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "encode request: %v\n", err)
			return 1
		}
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}
	endpoint := strings.TrimRight(*baseURL, "/") + cmd.path
	status, responseBody, err := doRequest(ctx, client, cmd.method, endpoint, *apiKey, body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	if status >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", status, strings.TrimSpace(string(responseBody)))
		return 1
	}

	render := cmd.render
	if render == nil {
		render = func(raw []byte, _ askFlags) (string, bool) { return prettyJSON(raw) }
	}
	if out, ok := render(responseBody, flags); ok {
		_, _ = fmt.Fprintln(stdout, out)
	} else if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func lookup(name string) (command, bool) {
	for _, cmd := range commands {
		if cmd.name == name {
			return cmd, true
		}
	}
	return command{}, false
}

func askPayload(args []string, flags askFlags) ([]byte, error) {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return nil, errUsage
	}
	return json.Marshal(map[string]any{"query": question, "include_context": flags.includeContext})
}

func renderAnswer(raw []byte, flags askFlags) (string, bool) {
	if !flags.answerOnly {
		return prettyJSON(raw)
	}
	var response struct {
		Answer string `json:"answer"`
	}
	if err := json.Unmarshal(raw, &response); err != nil {
		return "", false
	}
	return response.Answer, true
}

func doRequest(ctx context.Context, client *http.Client, method, url, apiKey string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := strings.TrimSpace(apiKey); key != "" {
		req.Header.Set("X-API-Key", key)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(decoded, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: tableqactl [flags] <command>")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "commands:")
	for _, cmd := range commands {
		_, _ = fmt.Fprintf(w, "  %-20s%s %s\n", cmd.usage, cmd.method, cmd.path)
	}
}

func writerOr(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
