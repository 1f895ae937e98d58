package graph

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/tetherdev/tether/internal/entity"
)

func newTestClient(t *testing.T, srv *httptest.Server, tokens TokenSource) *Client {
	t.Helper()
	if tokens == nil {
		tokens = StaticToken("tok-1")
	}
	c, err := NewClient(Options{BaseURL: srv.URL, Tokens: tokens})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func TestClientGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/entities/e1_s1_t1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewEncoder(w).Encode(Record{
			ID:    "e1_s1_t1",
			Kind:  entity.KindTask,
			Title: "Fix parser",
			State: entity.State{Status: entity.StatusInProgress, Assignee: "mira"},
			Content: entity.Content{
				Problem: "Parser rejects nested lists",
			},
			GraphHash: "gh-42",
		})
	}))
	defer srv.Close()

	rec, err := newTestClient(t, srv, nil).Get(context.Background(), "e1_s1_t1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.GraphHash != "gh-42" || rec.State.Assignee != "mira" {
		t.Errorf("Get() = %+v", rec)
	}
}

func TestClientGetNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, nil).Get(context.Background(), "e9")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestClientPutContentOnly(t *testing.T) {
	var gotBody map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %q", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(UpsertResult{GraphHash: "gh-43"})
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv, nil).Put(context.Background(), "e1", Upsert{
		Title:   "Ship v2",
		Kind:    entity.KindEpic,
		Content: &entity.Content{Problem: "v1 is slow"},
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if res.GraphHash != "gh-43" {
		t.Errorf("GraphHash = %q, want gh-43", res.GraphHash)
	}
	// State must not ride along on a content push.
	if _, ok := gotBody["state"]; ok {
		t.Errorf("content-only upsert sent state: %s", gotBody["state"])
	}
	if _, ok := gotBody["content"]; !ok {
		t.Error("upsert body missing content")
	}
}

func TestClientPutDuplicate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "merge produced two nodes for e1", http.StatusConflict)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, nil).Put(context.Background(), "e1", Upsert{})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("Put() error = %v, want ErrDuplicate", err)
	}
	var de *DuplicateError
	if !errors.As(err, &de) || de.ID != "e1" {
		t.Errorf("Put() error = %#v, want DuplicateError for e1", err)
	}
}

func TestClientChildren(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/entities/e1_s1/children" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"children": []Summary{
				{ID: "e1_s1_t1", Kind: entity.KindTask, Status: entity.StatusComplete},
				{ID: "e1_s1_t2", Kind: entity.KindTask, Status: entity.StatusInProgress},
			},
		})
	}))
	defer srv.Close()

	kids, err := newTestClient(t, srv, nil).Children(context.Background(), "e1_s1")
	if err != nil {
		t.Fatalf("Children() error = %v", err)
	}
	if len(kids) != 2 || kids[0].ID != "e1_s1_t1" {
		t.Errorf("Children() = %+v", kids)
	}
}

func TestClientChildrenEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"children": null}`))
	}))
	defer srv.Close()

	kids, err := newTestClient(t, srv, nil).Children(context.Background(), "e2")
	if err != nil {
		t.Fatalf("Children() error = %v", err)
	}
	if kids == nil || len(kids) != 0 {
		t.Errorf("Children() = %#v, want empty slice", kids)
	}
}

func TestClientRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(Record{ID: "e1", GraphHash: "gh-1"})
	}))
	defer srv.Close()

	rec, err := newTestClient(t, srv, nil).Get(context.Background(), "e1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.GraphHash != "gh-1" {
		t.Errorf("GraphHash = %q", rec.GraphHash)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestClientNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse all connections

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := newTestClient(t, srv, nil)
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, "e1")
		errCh <- err
	}()
	// Connection refused is transient; cancel to cut the retry loop short.
	cancel()
	err := <-errCh
	if err == nil {
		t.Fatal("Get() against closed server succeeded")
	}
	if !errors.Is(err, ErrNetwork) && !errors.Is(err, context.Canceled) {
		t.Errorf("Get() error = %v, want network or cancellation", err)
	}
}

func TestClientRefreshesTokenOnce(t *testing.T) {
	dir := t.TempDir()
	tokenPath := filepath.Join(dir, "token")
	if err := os.WriteFile(tokenPath, []byte("stale\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	var refreshes atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/token/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"token": "fresh"})
	})
	mux.HandleFunc("/v1/entities/e1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(Record{ID: "e1", GraphHash: "gh-9"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tokens := &FileToken{Path: tokenPath, RefreshURL: srv.URL + "/v1/token/refresh"}
	rec, err := newTestClient(t, srv, tokens).Get(context.Background(), "e1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.GraphHash != "gh-9" {
		t.Errorf("GraphHash = %q", rec.GraphHash)
	}
	if refreshes.Load() != 1 {
		t.Errorf("refresh calls = %d, want 1", refreshes.Load())
	}
	b, _ := os.ReadFile(tokenPath)
	if strings.TrimSpace(string(b)) != "fresh" {
		t.Errorf("token file = %q, want refreshed token persisted", b)
	}
}

func TestClientAuthFatalAfterRefresh(t *testing.T) {
	var refreshes atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/token/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"token": "still-bad"})
	})
	mux.HandleFunc("/v1/entities/e1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	tokenPath := filepath.Join(dir, "token")
	os.WriteFile(tokenPath, []byte("bad"), 0o600)
	tokens := &FileToken{Path: tokenPath, RefreshURL: srv.URL + "/v1/token/refresh"}

	_, err := newTestClient(t, srv, tokens).Get(context.Background(), "e1")
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("Get() error = %v, want ErrAuth", err)
	}
	if refreshes.Load() != 1 {
		t.Errorf("refresh calls = %d, want exactly 1", refreshes.Load())
	}
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"empty base URL", Options{Tokens: StaticToken("t")}},
		{"bad scheme", Options{BaseURL: "ftp://x", Tokens: StaticToken("t")}},
		{"no tokens", Options{BaseURL: "https://graph.example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(tt.opts); err == nil {
				t.Error("NewClient() succeeded, want error")
			}
		})
	}
}

func TestClientSendsGraphIDHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Graph-ID"); got != "planning-42" {
			t.Errorf("X-Graph-ID = %q, want planning-42", got)
		}
		json.NewEncoder(w).Encode(Record{ID: "e1"})
	}))
	defer srv.Close()

	c, err := NewClient(Options{BaseURL: srv.URL, GraphID: "planning-42", Tokens: StaticToken("tok-1")})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if _, err := c.Get(context.Background(), "e1"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
}
