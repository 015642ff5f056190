package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var ErrUnauthorized = errors.New("unauthorized")

const defaultTimeout = 30 * time.Second

type Config interface {
	BaseURL() string
	Timeout() time.Duration
}

// Error is a non-2xx backend response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Message)
}

func (e *Error) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Client talks to the marketplace backend. Its transport is the only place a
// bearer credential is attached to outgoing requests.
type Client struct {
	baseURL string
	http    *http.Client
	bearer  *bearerTransport
}

type Option func(c *Client)

// WithTransport replaces the underlying round tripper. The bearer layer stays on top.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.bearer.next = rt
	}
}

func New(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	bt := &bearerTransport{next: http.DefaultTransport}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL(), "/"),
		bearer:  bt,
		http: &http.Client{
			Timeout:   timeout,
			Transport: bt,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) SetBearer(token string) {
	c.bearer.set(token)
}

func (c *Client) ClearBearer() {
	c.bearer.set("")
}

// Do sends a JSON request and decodes a JSON response into target (which may be nil).
func (c *Client) Do(ctx context.Context, method, path string, body, target any) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to perform request: %w", err)
	}
	return parseResponse(resp, target)
}

func parseResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &Error{Status: resp.StatusCode}

		var errResp errorResponse
		if err := json.Unmarshal(body, &errResp); err == nil {
			apiErr.Message = errResp.Message
			if apiErr.Message == "" {
				apiErr.Message = errResp.Error
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return apiErr
	}

	if target == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type ctxKey int

const (
	skipAuthKey ctxKey = iota
	bearerKey
)

// WithoutAuth marks requests made with ctx as anonymous.
func WithoutAuth(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipAuthKey, true)
}

// WithBearer pins the credential of requests made with ctx to token instead of
// the client's current one.
func WithBearer(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerKey, token)
}

func skipAuth(ctx context.Context) bool {
	v, _ := ctx.Value(skipAuthKey).(bool)
	return v
}

type bearerTransport struct {
	next http.RoundTripper

	mtx   sync.RWMutex
	token string
}

func (t *bearerTransport) set(token string) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.token = token
}

func (t *bearerTransport) current() string {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	return t.token
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Del("Authorization")

	token := t.current()
	if pinned, ok := req.Context().Value(bearerKey).(string); ok {
		token = pinned
	}
	if token != "" && !skipAuth(req.Context()) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	log.Debugf("[API] %s %s authenticated=%t", r.Method, r.URL.Path, r.Header.Get("Authorization") != "")
	return t.next.RoundTrip(r)
}
