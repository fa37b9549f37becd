// Package push is the HTTP adapter for the push gateway.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/djlord-it/pushcron/internal/circuitbreaker"
	"github.com/djlord-it/pushcron/internal/metrics"
)

// ErrTokenInvalid means the gateway no longer recognises the device token.
// The caller should drop the token from the device directory.
var ErrTokenInvalid = errors.New("push token invalid")

// Gateway error statuses for a revoked or unknown token.
const (
	unregistered  = "UNREGISTERED"
	tokenNotFound = "NOT_FOUND"
)

// maxErrorBody caps how much of an error response is read for the message.
const maxErrorBody = 4 << 10

// MetricsSink receives per-request push metrics. Methods must not block.
type MetricsSink interface {
	PushAttemptCompleted(statusClass string, duration time.Duration)
}

// Breaker guards the gateway host.
type Breaker interface {
	Allow(key string) error
	RecordSuccess(key string)
	RecordFailure(key string)
}

// Client sends one notification per request to the gateway's /send endpoint.
type Client struct {
	baseURL *url.URL
	token   string
	secret  string
	http    *http.Client
	breaker Breaker
	metrics MetricsSink
}

// New creates a gateway client. timeout bounds each request.
func New(rawURL, token string, timeout time.Duration) (*Client, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("push gateway url is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("push gateway url must be absolute")
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	return &Client{
		baseURL: parsed,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// WithCircuitBreaker attaches a breaker keyed by the gateway host.
func (c *Client) WithCircuitBreaker(b Breaker) *Client {
	c.breaker = b
	return c
}

// WithMetrics attaches a metrics sink to the client.
func (c *Client) WithMetrics(m MetricsSink) *Client {
	c.metrics = m
	return c
}

type sendRequest struct {
	Token        string            `json:"token"`
	Notification notification      `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// Send delivers one notification and returns the gateway message id.
// A revoked token yields an error matching ErrTokenInvalid.
func (c *Client) Send(ctx context.Context, token, title, body, link string) (string, error) {
	host := c.baseURL.Host
	if c.breaker != nil {
		if err := c.breaker.Allow(host); err != nil {
			err = fmt.Errorf("push gateway %s: %w", host, err)
			c.observe(nil, err, 0)
			return "", err
		}
	}

	payload := sendRequest{
		Token:        token,
		Notification: notification{Title: title, Body: body},
	}
	if link != "" {
		payload.Data = map[string]string{"url": link}
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve("/send"), bytes.NewReader(buf))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.secret != "" {
		req.Header.Set(SignatureHeader, sign(c.secret, buf))
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	c.observe(resp, err, time.Since(start))
	if err != nil {
		c.recordFailure(host)
		return "", fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.recordSuccess(host)
		var out sendResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		return out.MessageID, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		c.recordFailure(host)
		return "", fmt.Errorf("push http status %s: %s", resp.Status, readError(resp.Body))
	default:
		// The host answered; a rejected token says nothing about its health.
		c.recordSuccess(host)
		msg, status := decodeError(resp.Body)
		if tokenRejected(resp.StatusCode, status) {
			return "", fmt.Errorf("push http status %s: %s: %w", resp.Status, msg, ErrTokenInvalid)
		}
		return "", fmt.Errorf("push http status %s: %s", resp.Status, msg)
	}
}

// Ping checks that the gateway is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve("/health"), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping failed: %s", resp.Status)
	}
	return nil
}

func (c *Client) resolve(p string) string {
	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, p)
	return u.String()
}

func (c *Client) observe(resp *http.Response, err error, d time.Duration) {
	if c.metrics == nil {
		return
	}
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	c.metrics.PushAttemptCompleted(metrics.ClassifyStatus(status, err), d)
}

func (c *Client) recordSuccess(host string) {
	if c.breaker != nil {
		c.breaker.RecordSuccess(host)
	}
}

func (c *Client) recordFailure(host string) {
	if c.breaker != nil {
		c.breaker.RecordFailure(host)
	}
}

// tokenRejected reports whether a client error names the token itself.
// A bare 404 is a routing problem (wrong gateway URL or path) and must
// not evict tokens.
func tokenRejected(code int, status string) bool {
	switch {
	case code == http.StatusGone, status == unregistered:
		return true
	case code == http.StatusNotFound:
		return status == tokenNotFound
	}
	return false
}

func readError(r io.Reader) string {
	msg, _ := decodeError(r)
	return msg
}

// decodeError extracts the message and status of a gateway error body,
// falling back to the raw text.
func decodeError(r io.Reader) (message, status string) {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var e errorResponse
	if err := json.Unmarshal(raw, &e); err == nil && (e.Error.Message != "" || e.Error.Status != "") {
		return e.Error.Message, e.Error.Status
	}
	return strings.TrimSpace(string(raw)), ""
}

var _ Breaker = (*circuitbreaker.CircuitBreaker)(nil)
