// Package api is the HTTP client for the listing surface under test.
//
// It speaks the DRF conventions the surface exposes: listings at
// {base}/{endpoint}/ with page, page_size, ordering and filter parameters,
// answered either with a {count,next,previous,results} envelope or a bare
// array; detail, update and create calls on the same paths.
//
// Non-2xx answers are returned as responses, not errors. Transport failures
// and undecodable bodies are errors and are fatal to the calling check.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout is the per-request timeout when none is configured.
const DefaultTimeout = 100 * time.Second

// TokenSource yields the Authorization header value for a request.
type TokenSource interface {
	Header(ctx context.Context) (string, error)
}

// StaticToken is a fixed "<type> <token>" header value.
type StaticToken string

// Header returns the token unchanged.
func (t StaticToken) Header(context.Context) (string, error) {
	return string(t), nil
}

// TransportError is a request that produced no HTTP response.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client issues requests against one base URL.
type Client struct {
	base   *url.URL
	http   *http.Client
	tokens TokenSource
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithTokens sets the default token source for every request.
func WithTokens(ts TokenSource) Option {
	return func(c *Client) {
		c.tokens = ts
	}
}

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client for baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: DefaultTimeout},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Base returns the base URL.
func (c *Client) Base() string {
	return c.base.String()
}

// URL returns the collection or item URL for endpoint, with the trailing
// slash DRF routes require.
func (c *Client) URL(endpoint string, id ...string) string {
	parts := append([]string{strings.Trim(endpoint, "/")}, id...)
	u := c.base.JoinPath(parts...)
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String()
}

// Response is a completed HTTP exchange.
type Response struct {
	Method string
	URL    string
	Status int
	Body   []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// ServerError reports a 5xx status.
func (r *Response) ServerError() bool {
	return r.Status >= 500 && r.Status < 600
}

// Do sends a request. target is an absolute URL; query is merged into its
// query string; body, when non-nil, is sent as JSON. tokens overrides the
// client's default token source.
func (c *Client) Do(ctx context.Context, method, target string, query url.Values, body any, tokens TokenSource) (*Response, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, &TransportError{Method: method, URL: target, Err: err}
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			q.Del(k)
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, &TransportError{Method: method, URL: u.String(), Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if tokens == nil {
		tokens = c.tokens
	}
	if tokens != nil {
		h, err := tokens.Header(ctx)
		if err != nil {
			return nil, &TransportError{Method: method, URL: u.String(), Err: fmt.Errorf("token: %w", err)}
		}
		req.Header.Set("Authorization", h)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Method: method, URL: u.String(), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: method, URL: u.String(), Err: fmt.Errorf("read body: %w", err)}
	}

	c.logger.Debug("http", "method", method, "url", u.String(), "status", resp.StatusCode, "elapsed", time.Since(start))
	return &Response{Method: method, URL: u.String(), Status: resp.StatusCode, Body: data}, nil
}

// List fetches a listing. A non-200 answer is returned as *StatusError.
func (c *Client) List(ctx context.Context, endpoint string, params url.Values) (*Page, error) {
	return c.page(ctx, c.URL(endpoint), params)
}

// Follow fetches the page a next/previous link points to.
func (c *Client) Follow(ctx context.Context, link string) (*Page, error) {
	return c.page(ctx, link, nil)
}

func (c *Client) page(ctx context.Context, target string, params url.Values) (*Page, error) {
	resp, err := c.Do(ctx, http.MethodGet, target, params, nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusOK {
		return nil, &StatusError{Response: resp}
	}
	page, err := DecodePage(resp.Body)
	if err != nil {
		return nil, &DecodeError{URL: resp.URL, Err: err}
	}
	return page, nil
}

// Detail fetches one item. The response is returned whatever its status.
func (c *Client) Detail(ctx context.Context, endpoint, id string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, c.URL(endpoint, id), nil, nil, nil)
}

// Update sends a PATCH or PUT for one item as the principal behind tokens
// (nil for the default principal).
func (c *Client) Update(ctx context.Context, method, endpoint, id string, body any, tokens TokenSource) (*Response, error) {
	return c.Do(ctx, method, c.URL(endpoint, id), nil, body, tokens)
}

// Create POSTs a new item to endpoint.
func (c *Client) Create(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.Do(ctx, http.MethodPost, c.URL(endpoint), nil, body, nil)
}
