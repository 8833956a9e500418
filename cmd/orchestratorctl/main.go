// Command orchestratorctl is the thin CLI adapter of spec.md §6: every
// subcommand is a single call against the programmatic API exposed by
// orchestratord. It never touches the Store or Context Manager directly.
// Grounded on cmd/cliaimonitor/main.go's flag-driven subcommand dispatch,
// adapted from an in-process instance manager to an HTTP client.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	exitSuccess         = 0
	exitUserError       = 1
	exitConfigError     = 2
	exitExternalFailure = 3
	exitInternalFailure = 10
)

func main() {
	addr := flag.String("addr", envOr("ORCHESTRATORCTL_ADDR", "http://127.0.0.1:7070"), "orchestratord API base URL")
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: orchestratorctl [-addr url] <start|save|resume|list|pause|shutdown> [args...]")
		os.Exit(exitUserError)
	}

	client := &client{base: *addr, http: &http.Client{Timeout: 30 * time.Second}}
	cmd, rest := args[0], args[1:]

	var err error
	switch cmd {
	case "start":
		err = client.start(rest)
	case "save":
		err = client.contextAction(rest, "save")
	case "resume":
		err = client.contextAction(rest, "resume")
	case "pause":
		err = client.contextAction(rest, "pause")
	case "list":
		err = client.list()
	case "shutdown":
		variant := "regular"
		if len(rest) > 0 {
			variant = rest[0]
		}
		err = client.shutdown(variant)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		os.Exit(exitUserError)
	}

	os.Exit(exitCodeFor(err))
}

func exitCodeFor(err error) int {
	if err == nil {
		return exitSuccess
	}
	if ce, ok := err.(*cliError); ok {
		return ce.code
	}
	fmt.Fprintln(os.Stderr, err)
	return exitInternalFailure
}

// cliError carries a pre-assigned exit code alongside the message.
type cliError struct {
	code int
	msg  string
}

func (e *cliError) Error() string { return e.msg }

func newCliError(code int, format string, a ...interface{}) *cliError {
	return &cliError{code: code, msg: fmt.Sprintf(format, a...)}
}

type client struct {
	base string
	http *http.Client
}

func (c *client) do(method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, newCliError(exitUserError, "encode request: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return nil, newCliError(exitConfigError, "build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, newCliError(exitExternalFailure, "orchestratord unreachable at %s: %v", c.base, err)
	}
	if resp.StatusCode >= 500 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, newCliError(exitExternalFailure, "orchestratord returned %d: %s", resp.StatusCode, string(data))
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, newCliError(exitUserError, "request rejected (%d): %s", resp.StatusCode, string(data))
	}
	return resp, nil
}

func (c *client) start(args []string) error {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	scope := fs.String("scope", "session", "context scope: session or project")
	goal := fs.String("goal", "", "context goal")
	budget := fs.Int("budget", 8000, "token budget")
	if err := fs.Parse(args); err != nil {
		return newCliError(exitUserError, "%v", err)
	}
	if *goal == "" {
		return newCliError(exitUserError, "-goal is required")
	}

	resp, err := c.do(http.MethodPost, "/api/v1/contexts", map[string]interface{}{
		"scope": *scope, "goal": *goal, "token_budget": *budget,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var created struct {
		ID          string `json:"id"`
		Goal        string `json:"goal"`
		TokenBudget int    `json:"token_budget"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return newCliError(exitInternalFailure, "decode response: %v", err)
	}
	fmt.Printf("created context %s (%q, budget %s tokens)\n", created.ID, created.Goal, humanize.Comma(int64(created.TokenBudget)))
	return nil
}

func (c *client) contextAction(args []string, action string) error {
	if len(args) == 0 {
		return newCliError(exitUserError, "%s requires a context id", action)
	}
	id := args[0]
	resp, err := c.do(http.MethodPost, "/api/v1/contexts/"+id+"/"+action, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	fmt.Printf("%s: ok\n", action)
	return nil
}

func (c *client) list() error {
	resp, err := c.do(http.MethodGet, "/api/v1/contexts", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var contexts []struct {
		ID         string `json:"id"`
		Scope      string `json:"scope"`
		Goal       string `json:"goal"`
		TokenUsage int    `json:"token_usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&contexts); err != nil {
		return newCliError(exitInternalFailure, "decode response: %v", err)
	}
	for _, ctx := range contexts {
		fmt.Printf("%s\t%s\t%s\t%s tokens used\n", ctx.ID, ctx.Scope, ctx.Goal, humanize.Comma(int64(ctx.TokenUsage)))
	}
	return nil
}

func (c *client) shutdown(variant string) error {
	resp, err := c.do(http.MethodPost, "/api/v1/shutdown?variant="+variant, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	fmt.Printf("shutdown (%s) requested\n", variant)
	return nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
