package pocketbase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"

	"github.com/felixgeelhaar/pyportal/internal/domain"
)

// SuperusersCollection is the auth collection holding backend administrators
const SuperusersCollection = "_superusers"

// StatusError is a non-2xx response from the backend
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("pocketbase: status %d", e.Code)
	}
	return fmt.Sprintf("pocketbase: status %d: %s", e.Code, e.Message)
}

// Retryable reports whether the request may succeed when repeated
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Config configures the backend client
type Config struct {
	URL     string
	Timeout time.Duration

	// MaxAttempts bounds retries of 5xx/429 and transport failures (default 3)
	MaxAttempts int

	// InitialDelay is the first retry backoff (default 200ms)
	InitialDelay time.Duration

	Logger *slog.Logger
}

// Client talks to the PocketBase REST API
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger

	breaker circuitbreaker.CircuitBreaker[*response]
	retrier retry.Retry[*response]

	mu    sync.RWMutex
	token string
}

type response struct {
	status int
	body   []byte
}

// NewClient creates a client for the backend at cfg.URL
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, domain.NewValidationError("pocketbase url", "is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("parse pocketbase url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 200 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}

	c.breaker = circuitbreaker.New[*response](circuitbreaker.Config{
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts circuitbreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(from, to circuitbreaker.State) {
			logger.Warn("pocketbase circuit breaker state change",
				"from", from.String(),
				"to", to.String())
		},
	})

	c.retrier = retry.New[*response](retry.Config{
		MaxAttempts:   cfg.MaxAttempts,
		InitialDelay:  cfg.InitialDelay,
		MaxDelay:      5 * time.Second,
		Multiplier:    2.0,
		BackoffPolicy: retry.BackoffExponential,
		Jitter:        true,
		IsRetryable:   isRetryable,
	})

	return c, nil
}

// SetToken sets the bearer token sent with every request
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Health checks that the backend is reachable and healthy
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &out); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	return nil
}

// AuthResult is the response of a password authentication
type AuthResult struct {
	Token  string          `json:"token"`
	Record json.RawMessage `json:"record"`
}

// AuthWithPassword authenticates against an auth collection and keeps the token
func (c *Client) AuthWithPassword(ctx context.Context, collection, identity, password string) (*AuthResult, error) {
	body := map[string]string{
		"identity": identity,
		"password": password,
	}
	var out AuthResult
	path := "/api/collections/" + url.PathEscape(collection) + "/auth-with-password"
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, fmt.Errorf("authenticate %s: %w", collection, err)
	}
	if out.Token == "" {
		return nil, fmt.Errorf("authenticate %s: empty token", collection)
	}
	c.SetToken(out.Token)
	c.logger.Debug("pocketbase authenticated", "collection", collection)
	return &out, nil
}

// ListOptions filters and pages a record listing
type ListOptions struct {
	Page    int
	PerPage int
	Filter  string
	Sort    string
}

func (o ListOptions) query() url.Values {
	q := url.Values{}
	if o.Page > 0 {
		q.Set("page", strconv.Itoa(o.Page))
	}
	if o.PerPage > 0 {
		q.Set("perPage", strconv.Itoa(o.PerPage))
	}
	if o.Filter != "" {
		q.Set("filter", o.Filter)
	}
	if o.Sort != "" {
		q.Set("sort", o.Sort)
	}
	return q
}

// ListResult is one page of records; Items are decoded by the caller
type ListResult struct {
	Page       int               `json:"page"`
	PerPage    int               `json:"perPage"`
	TotalItems int               `json:"totalItems"`
	TotalPages int               `json:"totalPages"`
	Items      []json.RawMessage `json:"items"`
}

// List returns a page of records from a collection
func (c *Client) List(ctx context.Context, collection string, opts ListOptions) (*ListResult, error) {
	path := recordsPath(collection)
	if q := opts.query().Encode(); q != "" {
		path += "?" + q
	}
	var out ListResult
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	return &out, nil
}

// Get decodes a single record into out
func (c *Client) Get(ctx context.Context, collection, id string, out any) error {
	if err := c.do(ctx, http.MethodGet, recordsPath(collection)+"/"+url.PathEscape(id), nil, out); err != nil {
		return fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return nil
}

// Create inserts a record and decodes the stored record into out
func (c *Client) Create(ctx context.Context, collection string, in, out any) error {
	if err := c.do(ctx, http.MethodPost, recordsPath(collection), in, out); err != nil {
		return fmt.Errorf("create %s: %w", collection, err)
	}
	return nil
}

// Update patches a record and decodes the stored record into out
func (c *Client) Update(ctx context.Context, collection, id string, in, out any) error {
	if err := c.do(ctx, http.MethodPatch, recordsPath(collection)+"/"+url.PathEscape(id), in, out); err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return nil
}

// Delete removes a record
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	if err := c.do(ctx, http.MethodDelete, recordsPath(collection)+"/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func recordsPath(collection string) string {
	return "/api/collections/" + url.PathEscape(collection) + "/records"
}

// do sends the request through the breaker and retrier and decodes a 2xx body into out.
// Only transport failures and retryable statuses count against the breaker.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	attempt := func(ctx context.Context) (*response, error) {
		resp, err := c.send(ctx, method, path, payload)
		if err != nil {
			return nil, err
		}
		if resp.status == http.StatusTooManyRequests || resp.status >= 500 {
			return nil, statusError(resp)
		}
		return resp, nil
	}

	resp, err := c.breaker.Execute(ctx, func(ctx context.Context) (*response, error) {
		return c.retrier.Do(ctx, attempt)
	})
	if err != nil {
		var se *StatusError
		if !errors.As(err, &se) {
			err = fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
		}
		return err
	}

	if resp.status == http.StatusNotFound {
		return domain.NewNotFoundError("record", path)
	}
	if resp.status >= 400 {
		return statusError(resp)
	}
	if out == nil || len(resp.body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte) (*response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("pocketbase request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	return &response{status: resp.StatusCode, body: data}, nil
}

func statusError(resp *response) *StatusError {
	var payload struct {
		Message string `json:"message"`
	}
	msg := ""
	if json.Unmarshal(resp.body, &payload) == nil {
		msg = payload.Message
	}
	return &StatusError{Code: resp.status, Message: msg}
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
