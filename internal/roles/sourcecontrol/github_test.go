package sourcecontrol

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGitHubHostIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user" {
			t.Fatalf("path = %q, want /user", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Fatalf("Authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"login": "orchestrator-bot"})
	}))
	defer srv.Close()

	host := NewGitHubHost(srv.URL)
	login, err := host.Identity(context.Background(), "test-token")
	if err != nil {
		t.Fatalf("Identity() error = %v", err)
	}
	if login != "orchestrator-bot" {
		t.Fatalf("login = %q, want orchestrator-bot", login)
	}
}

func TestGitHubHostCreatePullRequestAppliesLabels(t *testing.T) {
	var labelsCalled bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/repos/acme/widgets/pulls":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"number": 42, "html_url": "https://github.com/acme/widgets/pull/42"})
		case r.Method == http.MethodPost && r.URL.Path == "/repos/acme/widgets/issues/42/labels":
			labelsCalled = true
			w.WriteHeader(http.StatusOK)
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	host := NewGitHubHost(srv.URL)
	id, url, err := host.CreatePullRequest(context.Background(), "tok", "acme", "widgets", "feature/x", "main", "title", "body", []string{"automated"})
	if err != nil {
		t.Fatalf("CreatePullRequest() error = %v", err)
	}
	if id != "42" || url != "https://github.com/acme/widgets/pull/42" {
		t.Fatalf("got id=%q url=%q", id, url)
	}
	if !labelsCalled {
		t.Fatal("expected labels endpoint to be called")
	}
}

func TestGitHubHostStatusCheckReturnsRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "4987")
		_ = json.NewEncoder(w).Encode(map[string]string{"state": "success"})
	}))
	defer srv.Close()

	host := NewGitHubHost(srv.URL)
	state, remaining, err := host.StatusCheck(context.Background(), "tok", "acme", "widgets", "deadbeef")
	if err != nil {
		t.Fatalf("StatusCheck() error = %v", err)
	}
	if state != "success" || remaining != 4987 {
		t.Fatalf("got state=%q remaining=%d", state, remaining)
	}
}

func TestGitHubHostErrorStatusReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"rate limited"}`))
	}))
	defer srv.Close()

	host := NewGitHubHost(srv.URL)
	if _, err := host.Identity(context.Background(), "tok"); err == nil {
		t.Fatal("expected error for 403 response")
	}
}
