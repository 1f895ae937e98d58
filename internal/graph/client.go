package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultTimeout bounds every single gateway call. A hung remote
	// must surface as a network failure, not a hung CLI.
	DefaultTimeout = 15 * time.Second

	// retryMaxElapsed caps the transient-retry window for one logical
	// call, attempts included.
	retryMaxElapsed = 30 * time.Second
)

// Options configures a Client.
type Options struct {
	// BaseURL is the gateway root, e.g. "https://graph.example.com".
	BaseURL string

	// GraphID selects the graph on multi-tenant gateways; sent as the
	// X-Graph-ID header when non-empty.
	GraphID string

	// Tokens supplies and refreshes the bearer token.
	Tokens TokenSource

	// Timeout bounds each HTTP attempt. Zero means DefaultTimeout.
	Timeout time.Duration

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client

	// Logger receives retry and refresh notices. Nil gets a default
	// stderr logger.
	Logger *log.Logger
}

// Client is the HTTP implementation of Gateway.
type Client struct {
	base    string
	graphID string
	tokens  TokenSource
	http    *http.Client
	timeout time.Duration
	logger  *log.Logger
}

var _ Gateway = (*Client)(nil)

// NewClient validates opts and returns a ready Client.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("graph: base URL is required")
	}
	u, err := url.Parse(opts.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("graph: invalid base URL %q", opts.BaseURL)
	}
	if opts.Tokens == nil {
		return nil, fmt.Errorf("graph: token source is required")
	}
	c := &Client{
		base:    strings.TrimRight(opts.BaseURL, "/"),
		graphID: opts.GraphID,
		tokens:  opts.Tokens,
		http:    opts.HTTPClient,
		timeout: opts.Timeout,
		logger:  opts.Logger,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.timeout == 0 {
		c.timeout = DefaultTimeout
	}
	if c.logger == nil {
		c.logger = log.New(os.Stderr, "[graph] ", log.LstdFlags)
	}
	return c, nil
}

// Get implements Gateway.
func (c *Client) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	err := c.call(ctx, "get", http.MethodGet, "/v1/entities/"+url.PathEscape(id), id, nil, &rec)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Put implements Gateway.
func (c *Client) Put(ctx context.Context, id string, up Upsert) (*UpsertResult, error) {
	var res UpsertResult
	err := c.call(ctx, "upsert", http.MethodPut, "/v1/entities/"+url.PathEscape(id), id, up, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Children implements Gateway.
func (c *Client) Children(ctx context.Context, id string) ([]Summary, error) {
	var out struct {
		Children []Summary `json:"children"`
	}
	err := c.call(ctx, "children", http.MethodGet, "/v1/entities/"+url.PathEscape(id)+"/children", id, nil, &out)
	if err != nil {
		return nil, err
	}
	if out.Children == nil {
		out.Children = []Summary{}
	}
	return out.Children, nil
}

// call runs one logical gateway call: transient failures retry with
// exponential backoff inside retryMaxElapsed, a 401/403 triggers one
// token refresh across the whole call, everything else is permanent.
func (c *Client) call(ctx context.Context, op, method, path, id string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("graph %s %s: encode request: %w", op, id, err)
		}
	}

	refreshed := false
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = retryMaxElapsed

	return backoff.Retry(func() error {
		err := c.attempt(ctx, op, method, path, id, payload, out)
		if err == nil {
			return nil
		}
		var ne *NetworkError
		if errors.As(err, &ne) {
			c.logger.Printf("%s %s: transient failure, will retry: %v", op, id, ne.Err)
			return err
		}
		var ae *AuthError
		if errors.As(err, &ae) && !refreshed {
			refreshed = true
			if rerr := c.tokens.Refresh(ctx); rerr != nil {
				return backoff.Permanent(fmt.Errorf("token refresh after HTTP %d: %w", ae.Status, rerr))
			}
			c.logger.Printf("%s %s: HTTP %d, refreshed token, retrying once", op, id, ae.Status)
			return err // retry with the fresh token
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))
}

func (c *Client) attempt(ctx context.Context, op, method, path, id string, payload []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("graph %s %s: build request: %w", op, id, err)
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("graph %s %s: load token: %w", op, id, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if c.graphID != "" {
		req.Header.Set("X-Graph-ID", c.graphID)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: op, ID: id, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("graph %s %s: decode response: %w", op, id, err)
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("graph %s %s: %w", op, id, ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Status: resp.StatusCode}
	case resp.StatusCode == http.StatusConflict:
		return &DuplicateError{ID: id, Detail: readBody(resp.Body)}
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return &NetworkError{Op: op, ID: id, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	default:
		return &StatusError{Op: op, ID: id, Status: resp.StatusCode, Body: readBody(resp.Body)}
	}
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	return strings.TrimSpace(string(b))
}
