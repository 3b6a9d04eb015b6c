package github

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gogithub "github.com/google/go-github/v60/github"

	"github.com/jacklau/autofix/internal/issue"
)

// newTestClient points a go-github client at an httptest server.
func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	gh := gogithub.NewClient(nil)
	baseURL, err := gh.BaseURL.Parse(srv.URL + "/")
	if err != nil {
		t.Fatalf("parsing base URL: %v", err)
	}
	gh.BaseURL = baseURL
	return NewClient(gh)
}

// fakeRepo records the Git data API calls made against it.
type fakeRepo struct {
	mu        sync.Mutex
	calls     []string
	failPulls bool
	blob      string
	tree      map[string]any
	pr        map[string]any
}

func (f *fakeRepo) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := r.Method + " " + r.URL.Path
	f.calls = append(f.calls, call)
	w.Header().Set("Content-Type", "application/json")

	decode := func() map[string]any {
		var m map[string]any
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &m)
		return m
	}

	switch {
	case call == "GET /repos/o/r":
		fmt.Fprint(w, `{"name":"r","default_branch":"develop"}`)
	case call == "GET /repos/o/r/git/ref/heads/develop":
		fmt.Fprint(w, `{"ref":"refs/heads/develop","object":{"sha":"base-sha","type":"commit"}}`)
	case call == "POST /repos/o/r/git/refs":
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"ref":"refs/heads/autofix/x","object":{"sha":"base-sha"}}`)
	case call == "POST /repos/o/r/git/blobs":
		f.blob, _ = decode()["content"].(string)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"sha":"blob-sha"}`)
	case call == "GET /repos/o/r/git/commits/base-sha":
		fmt.Fprint(w, `{"sha":"base-sha","tree":{"sha":"base-tree"}}`)
	case call == "GET /repos/o/r/git/trees/base-tree":
		fmt.Fprint(w, `{"sha":"base-tree","tree":[
			{"path":"a.py","mode":"100644","type":"blob","sha":"a-sha"},
			{"path":"bin","mode":"040000","type":"tree","sha":"bin-tree"}]}`)
	case call == "GET /repos/o/r/git/trees/bin-tree":
		fmt.Fprint(w, `{"sha":"bin-tree","tree":[
			{"path":"run.py","mode":"100755","type":"blob","sha":"run-sha"}]}`)
	case call == "POST /repos/o/r/git/trees":
		f.tree = decode()
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"sha":"new-tree"}`)
	case call == "POST /repos/o/r/git/commits":
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"sha":"commit-sha"}`)
	case r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, "/repos/o/r/git/refs/heads/"):
		fmt.Fprint(w, `{"ref":"refs/heads/autofix/x","object":{"sha":"commit-sha"}}`)
	case call == "POST /repos/o/r/pulls":
		if f.failPulls {
			w.WriteHeader(http.StatusUnprocessableEntity)
			fmt.Fprint(w, `{"message":"Validation Failed"}`)
			return
		}
		f.pr = decode()
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"number":7,"html_url":"https://github.com/o/r/pull/7"}`)
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/repos/o/r/git/refs/heads/"):
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	}
}

func TestOpenChangeRequest(t *testing.T) {
	repo := &fakeRepo{}
	c := newTestClient(t, repo)

	url, err := c.OpenChangeRequest(context.Background(), ChangeRequest{
		Owner:         "o",
		Repo:          "r",
		Branch:        "autofix/style-a-py-1-abcd1234",
		FilePath:      "a.py",
		Content:       "print('fixed')\n",
		CommitMessage: "fix: unused import in a.py",
		Body:          "details",
	})
	if err != nil {
		t.Fatalf("OpenChangeRequest failed: %v", err)
	}
	if url != "https://github.com/o/r/pull/7" {
		t.Errorf("unexpected url %q", url)
	}

	want := []string{
		"GET /repos/o/r",
		"GET /repos/o/r/git/ref/heads/develop",
		"POST /repos/o/r/git/refs",
		"POST /repos/o/r/git/blobs",
		"GET /repos/o/r/git/commits/base-sha",
		"GET /repos/o/r/git/trees/base-tree",
		"POST /repos/o/r/git/trees",
		"POST /repos/o/r/git/commits",
		"PATCH /repos/o/r/git/refs/heads/autofix/style-a-py-1-abcd1234",
		"POST /repos/o/r/pulls",
	}
	if len(repo.calls) != len(want) {
		t.Fatalf("expected %d calls, got %d: %v", len(want), len(repo.calls), repo.calls)
	}
	for i := range want {
		if repo.calls[i] != want[i] {
			t.Errorf("call %d: expected %q, got %q", i, want[i], repo.calls[i])
		}
	}

	if repo.blob != "print('fixed')\n" {
		t.Errorf("unexpected blob content %q", repo.blob)
	}
	if repo.tree["base_tree"] != "base-tree" {
		t.Errorf("expected base_tree base-tree, got %v", repo.tree["base_tree"])
	}
	if repo.pr["title"] != "fix: unused import in a.py" {
		t.Errorf("title should default to commit message, got %v", repo.pr["title"])
	}
	if repo.pr["base"] != "develop" || repo.pr["head"] != "autofix/style-a-py-1-abcd1234" {
		t.Errorf("unexpected base/head %v/%v", repo.pr["base"], repo.pr["head"])
	}
}

// treeMode returns the mode of the single entry posted to the trees API.
func (f *fakeRepo) treeMode(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, _ := f.tree["tree"].([]any)
	if len(entries) != 1 {
		t.Fatalf("expected one tree entry, got %v", f.tree["tree"])
	}
	mode, _ := entries[0].(map[string]any)["mode"].(string)
	return mode
}

func TestOpenChangeRequestKeepsFileMode(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"a.py", "100644"},
		{"bin/run.py", "100755"},
		{"bin/new.py", "100644"},
		{"missing/dir/x.py", "100644"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			repo := &fakeRepo{}
			c := newTestClient(t, repo)

			_, err := c.OpenChangeRequest(context.Background(), ChangeRequest{
				Owner: "o", Repo: "r", BaseBranch: "develop", Branch: "b",
				FilePath: tt.path, Content: "x\n", CommitMessage: "m",
			})
			if err != nil {
				t.Fatalf("OpenChangeRequest failed: %v", err)
			}
			if got := repo.treeMode(t); got != tt.want {
				t.Errorf("tree mode = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOpenChangeRequestConfiguredBase(t *testing.T) {
	repo := &fakeRepo{}
	c := newTestClient(t, repo)

	_, err := c.OpenChangeRequest(context.Background(), ChangeRequest{
		Owner: "o", Repo: "r", BaseBranch: "develop", Branch: "b",
		FilePath: "a.py", Content: "x\n", CommitMessage: "m",
	})
	if err != nil {
		t.Fatalf("OpenChangeRequest failed: %v", err)
	}
	if repo.calls[0] == "GET /repos/o/r" {
		t.Error("default branch lookup should be skipped when base is configured")
	}
}

func TestOpenChangeRequestCleansUpBranch(t *testing.T) {
	repo := &fakeRepo{failPulls: true}
	c := newTestClient(t, repo)

	_, err := c.OpenChangeRequest(context.Background(), ChangeRequest{
		Owner: "o", Repo: "r", BaseBranch: "develop", Branch: "autofix/x",
		FilePath: "a.py", Content: "x\n", CommitMessage: "m",
	})
	if err == nil {
		t.Fatal("expected error when pull request creation fails")
	}

	last := repo.calls[len(repo.calls)-1]
	if last != "DELETE /repos/o/r/git/refs/heads/autofix/x" {
		t.Errorf("expected branch deletion, last call was %q", last)
	}
	pulls := 0
	for _, c := range repo.calls {
		if c == "POST /repos/o/r/pulls" {
			pulls++
		}
	}
	if pulls != 1 {
		t.Errorf("422 must not be retried, got %d attempts", pulls)
	}
}

func TestOpenChangeRequestMissingBase(t *testing.T) {
	c := newTestClient(t, &fakeRepo{})

	_, err := c.OpenChangeRequest(context.Background(), ChangeRequest{
		Owner: "o", Repo: "r", BaseBranch: "nope", Branch: "b", FilePath: "a.py",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetFileContent(t *testing.T) {
	source := "import os\n\nprint(os.name)\n"
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/o/r/contents/app/a.py", func(w http.ResponseWriter, r *http.Request) {
		if ref := r.URL.Query().Get("ref"); ref != "feature" {
			t.Errorf("expected ref=feature, got %q", ref)
		}
		fmt.Fprintf(w, `{"type":"file","encoding":"base64","content":%q,"sha":"s1","path":"app/a.py"}`,
			base64.StdEncoding.EncodeToString([]byte(source)))
	})
	mux.HandleFunc("/repos/o/r/contents/big.py", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"type":"file","encoding":"none","content":"","sha":"big-sha","size":2000000}`)
	})
	mux.HandleFunc("/repos/o/r/git/blobs/big-sha", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "x = 1\n")
	})
	c := newTestClient(t, mux)

	got, err := c.GetFileContent(context.Background(), "o", "r", "app/a.py", "feature")
	if err != nil {
		t.Fatalf("GetFileContent failed: %v", err)
	}
	if got != source {
		t.Errorf("unexpected content %q", got)
	}

	got, err = c.GetFileContent(context.Background(), "o", "r", "big.py", "")
	if err != nil {
		t.Fatalf("GetFileContent(big) failed: %v", err)
	}
	if got != "x = 1\n" {
		t.Errorf("expected raw blob content, got %q", got)
	}

	_, err = c.GetFileContent(context.Background(), "o", "r", "missing.py", "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	resp := func(code int) *http.Response {
		return &http.Response{StatusCode: code, Request: &http.Request{Method: "GET"}}
	}
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), false},
		{"rate limit", &gogithub.RateLimitError{Response: resp(403)}, true},
		{"abuse", &gogithub.AbuseRateLimitError{Response: resp(403)}, true},
		{"500", &gogithub.ErrorResponse{Response: resp(502)}, true},
		{"429", &gogithub.ErrorResponse{Response: resp(429)}, true},
		{"422", &gogithub.ErrorResponse{Response: resp(422)}, false},
		{"401", fmt.Errorf("creating branch: %w", &gogithub.ErrorResponse{Response: resp(401)}), false},
		{"network", errors.New("connection reset by peer"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	rle := &gogithub.RateLimitError{Rate: gogithub.Rate{Reset: gogithub.Timestamp{Time: now.Add(20 * time.Second)}}}
	if d := RetryAfter(rle, now); d != 20*time.Second {
		t.Errorf("expected 20s, got %v", d)
	}

	far := &gogithub.RateLimitError{Rate: gogithub.Rate{Reset: gogithub.Timestamp{Time: now.Add(time.Hour)}}}
	if d := RetryAfter(far, now); d != maxWait {
		t.Errorf("expected cap %v, got %v", maxWait, d)
	}

	wait := 5 * time.Second
	abuse := &gogithub.AbuseRateLimitError{RetryAfter: &wait}
	if d := RetryAfter(fmt.Errorf("x: %w", abuse), now); d != wait {
		t.Errorf("expected %v, got %v", wait, d)
	}

	if d := RetryAfter(errors.New("boom"), now); d != 0 {
		t.Errorf("expected 0, got %v", d)
	}
}

func TestBranchName(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	is := issue.Issue{File: "src/App/Main_Module.py", Line: 3, Kind: issue.Style{Code: "F401"}}

	got := BranchName("autofix", is, now, "3f2a9c1e-7b4d-4e8a-9c2b-1a2b3c4d5e6f")
	want := "autofix/style-src-app-main-module-py-1700000000-3f2a9c1e"
	if got != want {
		t.Errorf("BranchName = %q, want %q", got, want)
	}

	long := issue.Issue{File: strings.Repeat("deep/", 20) + "x.py", Kind: issue.Complexity{Function: "f"}}
	got = BranchName("bot/", long, now, "abc")
	if !strings.HasPrefix(got, "bot/complexity-") || !strings.HasSuffix(got, "-1700000000-abc") {
		t.Errorf("unexpected branch %q", got)
	}
	slug := strings.TrimSuffix(strings.TrimPrefix(got, "bot/complexity-"), "-1700000000-abc")
	if len(slug) > maxSlugLen || strings.HasPrefix(slug, "-") {
		t.Errorf("slug %q not trimmed", slug)
	}

	if got := BranchName("", issue.Issue{File: "__", Kind: issue.Style{}}, now, "deadbeef00"); got != "style-file-1700000000-deadbeef" {
		t.Errorf("unexpected branch %q", got)
	}
}

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

func TestResolvePrivateKey(t *testing.T) {
	pemKey := testKey(t)

	got, err := resolvePrivateKey(pemKey, "")
	if err != nil || !strings.HasPrefix(string(got), "-----BEGIN") {
		t.Errorf("raw PEM: got %q, err %v", got, err)
	}

	got, err = resolvePrivateKey([]byte(base64.StdEncoding.EncodeToString(pemKey)), "")
	if err != nil || string(got) != string(pemKey) {
		t.Errorf("base64 PEM not decoded: err %v", err)
	}

	path := filepath.Join(t.TempDir(), "app.pem")
	if err := os.WriteFile(path, pemKey, 0o600); err != nil {
		t.Fatal(err)
	}
	got, err = resolvePrivateKey(nil, path)
	if err != nil || string(got) != string(pemKey) {
		t.Errorf("file key not read: err %v", err)
	}

	if _, err := resolvePrivateKey([]byte("not a key!!"), ""); err == nil {
		t.Error("expected error for garbage key")
	}
	if _, err := resolvePrivateKey(nil, ""); err == nil {
		t.Error("expected error when no key is configured")
	}
}

func TestAppClientsToken(t *testing.T) {
	var tokenCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/app/installations/42/access_tokens" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Error("expected app JWT bearer auth")
		}
		tokenCalls++
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"token":"ghs_test","expires_at":%q}`, time.Now().Add(time.Hour).UTC().Format(time.RFC3339))
	}))
	defer srv.Close()

	apps, err := NewAppClients(1234, testKey(t), "", srv.URL)
	if err != nil {
		t.Fatalf("NewAppClients failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		tok, err := apps.Token(context.Background(), 42)
		if err != nil {
			t.Fatalf("Token failed: %v", err)
		}
		if tok != "ghs_test" {
			t.Errorf("unexpected token %q", tok)
		}
	}
	if tokenCalls != 1 {
		t.Errorf("expected token to be cached, got %d requests", tokenCalls)
	}
}
