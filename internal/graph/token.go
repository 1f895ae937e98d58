package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
)

// TokenSource supplies the bearer token for gateway calls. Refresh is
// invoked at most once per logical call after a 401/403.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
}

// StaticToken is a TokenSource with no refresh capability. Refresh
// fails, so a rejected static token is immediately fatal.
type StaticToken string

func (s StaticToken) Token(ctx context.Context) (string, error) { return string(s), nil }

func (s StaticToken) Refresh(ctx context.Context) error {
	return fmt.Errorf("static token cannot be refreshed")
}

// FileToken reads the bearer token from a file and exchanges it for a
// fresh one at the gateway's refresh endpoint, writing the replacement
// back so concurrent invocations pick it up.
type FileToken struct {
	Path       string
	RefreshURL string // e.g. base + "/v1/token/refresh"
	HTTPClient *http.Client

	mu sync.Mutex
}

func (f *FileToken) Token(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(b))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", f.Path)
	}
	return token, nil
}

func (f *FileToken) Refresh(ctx context.Context) error {
	old, err := f.Token(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]string{"token": old})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.RefreshURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := f.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return &NetworkError{Op: "refresh", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &AuthError{Status: resp.StatusCode, Hint: "token refresh rejected"}
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode refresh response: %w", err)
	}
	if out.Token == "" {
		return fmt.Errorf("refresh response carried no token")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.WriteFile(f.Path, []byte(out.Token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write refreshed token: %w", err)
	}
	return nil
}
