package wialon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rb/deliverytrack-go/internal/metrics"
)

// AllDataFlags requests every data block of a unit (position, parameters,
// sensors). Matches the provider's "all flags set" convention.
const AllDataFlags uint64 = 4294967295

// DefaultSearchFlags is enough for listing units with base properties.
const DefaultSearchFlags uint64 = 1025

// codeInvalidSession is the provider error returned once a session id has
// been invalidated server-side.
const codeInvalidSession = 1

// AuthError means the provider login itself failed; there is no point in
// retrying the original call.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wialon: login failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("wialon: login failed: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RemoteError is a provider-side failure that survived the single re-login
// retry.
type RemoteError struct {
	Svc  string
	Code int
	Err  error
}

func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wialon: %s failed: %v", e.Svc, e.Err)
	}
	return fmt.Sprintf("wialon: %s failed with provider error %d", e.Svc, e.Code)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Config holds the remote endpoint parameters.
type Config struct {
	// BaseURL is the provider RPC endpoint, e.g.
	// https://hst-api.wialon.eu/wialon/ajax.html
	BaseURL string
	// Token is the static API token exchanged for a session id.
	Token string
	// Timeout bounds every single HTTP call. Defaults to 10s.
	Timeout time.Duration
	// HTTP overrides the transport, mainly for tests.
	HTTP *http.Client
	// Log defaults to the standard logrus logger.
	Log *logrus.Entry
}

// Client talks to the telemetry provider. One long-lived instance is shared
// by all polling tasks; the session id is the only mutable state.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *logrus.Entry

	mu  sync.Mutex
	sid string
}

// New validates the config and builds a client. It does not log in; call
// Login once at startup so an invalid token is visible at boot.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("wialon: base URL is empty")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("wialon: parse base URL: %w", err)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("wialon: token is empty")
	}
	httpClient := cfg.HTTP
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	log := cfg.Log
	if log == nil {
		log = logrus.WithField("component", "wialon")
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    httpClient,
		log:     log,
	}, nil
}

// Login exchanges the API token for a fresh session id. Concurrent logins
// are tolerated: the provider treats them as independent sessions and the
// last stored id wins.
func (c *Client) Login(ctx context.Context) error {
	params := map[string]string{"token": c.token}
	body, err := c.post(ctx, "token/login", params, "")
	if err != nil {
		metrics.LoginObserved(false)
		return &AuthError{Reason: "request failed", Err: err}
	}
	var res struct {
		EID   string `json:"eid"`
		Error *int   `json:"error"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		metrics.LoginObserved(false)
		return &AuthError{Reason: "malformed login response", Err: err}
	}
	if res.Error != nil && *res.Error != 0 {
		metrics.LoginObserved(false)
		return &AuthError{Reason: fmt.Sprintf("provider error %d", *res.Error)}
	}
	if res.EID == "" {
		metrics.LoginObserved(false)
		return &AuthError{Reason: "no session id in response"}
	}
	c.mu.Lock()
	c.sid = res.EID
	c.mu.Unlock()
	metrics.LoginObserved(true)
	c.log.WithField("sid", res.EID).Debug("logged in")
	return nil
}

// SearchUnitByID fetches one unit with the requested data flags.
func (c *Client) SearchUnitByID(ctx context.Context, id int64, flags uint64) (*Unit, error) {
	params := map[string]any{"id": id, "flags": flags}
	body, err := c.request(ctx, "core/search_item", params)
	if err != nil {
		return nil, err
	}
	var res unitResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("wialon: decode search_item response: %w", err)
	}
	if res.Item == nil {
		return nil, fmt.Errorf("wialon: unit %d not found", id)
	}
	return res.Item, nil
}

// SearchUnits lists units matching the search spec; from/to bound the result
// range
// (0,0 means everything).
func (c *Client) SearchUnits(ctx context.Context, spec SearchSpec, flags uint64, from, to int) ([]Unit, error) {
	if flags == 0 {
		flags = DefaultSearchFlags
	}
	params := map[string]any{
		"spec":  spec.withDefaults(),
		"force": 1,
		"flags": flags,
		"from":  from,
		"to":    to,
	}
	body, err := c.request(ctx, "core/search_items", params)
	if err != nil {
		return nil, err
	}
	var res unitsResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("wialon: decode search_items response: %w", err)
	}
	return res.Items, nil
}

// request issues one provider call, logging in first when no session exists
// and retrying exactly once after a session-expired error. A second failure
// is surfaced as RemoteError; there is no retry loop.
func (c *Client) request(ctx context.Context, svc string, params any) (json.RawMessage, error) {
	sid := c.session()
	if sid == "" {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
		sid = c.session()
	}

	body, code, err := c.call(ctx, svc, params, sid)
	if err != nil {
		return nil, &RemoteError{Svc: svc, Err: err}
	}
	if code == codeInvalidSession {
		c.log.WithField("svc", svc).Info("session expired, logging in again")
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
		body, code, err = c.call(ctx, svc, params, c.session())
		if err != nil {
			return nil, &RemoteError{Svc: svc, Err: err}
		}
	}
	if code != 0 {
		return nil, &RemoteError{Svc: svc, Code: code}
	}
	return body, nil
}

// call performs the HTTP exchange and extracts the provider error code, if
// any. It never mutates shared state: the request is built from scratch on
// every invocation.
func (c *Client) call(ctx context.Context, svc string, params any, sid string) (json.RawMessage, int, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal params: %w", err)
	}
	var b strings.Builder
	b.WriteString(c.baseURL)
	b.WriteString("?svc=")
	b.WriteString(url.QueryEscape(svc))
	b.WriteString("&params=")
	b.WriteString(url.QueryEscape(string(raw)))
	if sid != "" {
		b.WriteString("&sid=")
		b.WriteString(url.QueryEscape(sid))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.String(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, 0, fmt.Errorf("status %s: %s", resp.Status, strings.TrimSpace(string(body[:min(len(body), 512)])))
	}

	var probe struct {
		Error *int `json:"error"`
	}
	if err := json.Unmarshal(body, &probe); err == nil && probe.Error != nil && *probe.Error != 0 {
		return body, *probe.Error, nil
	}
	return body, 0, nil
}

// post is the sessionless variant used by Login.
func (c *Client) post(ctx context.Context, svc string, params any, sid string) (json.RawMessage, error) {
	body, _, err := c.call(ctx, svc, params, sid)
	return body, err
}

func (c *Client) session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sid
}
