package sourcecontrol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// GitHubHost is the real Host implementation talking to the GitHub REST
// API. Grounded on internal/bootstrap/phonehome.go's Bearer-token HTTPS
// client shape.
type GitHubHost struct {
	baseURL string
	client  *http.Client
}

// NewGitHubHost builds a GitHubHost. baseURL defaults to
// "https://api.github.com" — overridable for GitHub Enterprise or tests.
func NewGitHubHost(baseURL string) *GitHubHost {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &GitHubHost{baseURL: baseURL, client: &http.Client{Timeout: 15 * time.Second}}
}

func (g *GitHubHost) do(ctx context.Context, token, method, path string, body interface{}, out interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return resp, fmt.Errorf("github returned %d: %s", resp.StatusCode, string(data))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp, nil
}

// Identity returns the authenticated user's login.
func (g *GitHubHost) Identity(ctx context.Context, token string) (string, error) {
	var out struct {
		Login string `json:"login"`
	}
	if _, err := g.do(ctx, token, http.MethodGet, "/user", nil, &out); err != nil {
		return "", err
	}
	return out.Login, nil
}

// CreateBranch creates a ref pointing at baseSHA.
func (g *GitHubHost) CreateBranch(ctx context.Context, token, owner, repo, branch, baseSHA string) error {
	path := fmt.Sprintf("/repos/%s/%s/git/refs", owner, repo)
	body := map[string]string{"ref": "refs/heads/" + branch, "sha": baseSHA}
	_, err := g.do(ctx, token, http.MethodPost, path, body, nil)
	return err
}

// CreatePullRequest opens a PR and, if labels are given, applies them in a
// follow-up call (GitHub's PR-create endpoint does not accept labels
// directly).
func (g *GitHubHost) CreatePullRequest(ctx context.Context, token, owner, repo, branch, base, title, body string, labels []string) (string, string, error) {
	path := fmt.Sprintf("/repos/%s/%s/pulls", owner, repo)
	reqBody := map[string]string{"title": title, "head": branch, "base": base, "body": body}
	var out struct {
		Number int    `json:"number"`
		URL    string `json:"html_url"`
	}
	if _, err := g.do(ctx, token, http.MethodPost, path, reqBody, &out); err != nil {
		return "", "", err
	}
	if len(labels) > 0 {
		labelPath := fmt.Sprintf("/repos/%s/%s/issues/%d/labels", owner, repo, out.Number)
		_, _ = g.do(ctx, token, http.MethodPost, labelPath, map[string][]string{"labels": labels}, nil)
	}
	return strconv.Itoa(out.Number), out.URL, nil
}

// Comment posts a comment on an issue or pull request.
func (g *GitHubHost) Comment(ctx context.Context, token, owner, repo, targetID, body string) error {
	path := fmt.Sprintf("/repos/%s/%s/issues/%s/comments", owner, repo, targetID)
	_, err := g.do(ctx, token, http.MethodPost, path, map[string]string{"body": body}, nil)
	return err
}

// StatusCheck reports the combined status for ref and the remaining
// rate-limit budget from the response headers.
func (g *GitHubHost) StatusCheck(ctx context.Context, token, owner, repo, ref string) (string, int, error) {
	path := fmt.Sprintf("/repos/%s/%s/commits/%s/status", owner, repo, ref)
	var out struct {
		State string `json:"state"`
	}
	resp, err := g.do(ctx, token, http.MethodGet, path, nil, &out)
	if err != nil {
		return "", 0, err
	}
	remaining, _ := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining"))
	return out.State, remaining, nil
}
