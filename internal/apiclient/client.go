// Package apiclient is the single path through which the console talks to the
// Damio Kids REST backend.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/damio-kids/admin-console/internal/observability"
)

const maxResponseBytes = 10 << 20

// TokenSource supplies the credential for outgoing requests and is cleared
// when the backend rejects it.
type TokenSource interface {
	GetCredential(ctx context.Context) (string, error)
	// ClearCredential clears storage only if it still holds cred and reports
	// whether it did.
	ClearCredential(ctx context.Context, cred string) (bool, error)
}

// AuthFailureFunc runs after a credential rejection has cleared the
// TokenSource. rejected is the credential the failed request carried.
type AuthFailureFunc func(ctx context.Context, rejected string)

// Options are shared by every session's client.
type Options struct {
	BaseURL       string
	HTTPClient    *http.Client
	Logger        *zap.Logger
	Metrics       *observability.Metrics
	WarmupPath    string
	WarmupTimeout time.Duration
	// WarmupGate, when set, is shared by every client so the backend is
	// woken at most once per interval rather than once per session.
	WarmupGate *WarmupGate
}

// WarmupGate admits one warm-up per interval.
type WarmupGate struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

// NewWarmupGate returns a gate that opens at most once per interval.
func NewWarmupGate(interval time.Duration) *WarmupGate {
	return &WarmupGate{interval: interval, now: time.Now}
}

// Allow reports whether a warm-up may go out now. A nil gate always allows.
func (g *WarmupGate) Allow() bool {
	if g == nil {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if !g.last.IsZero() && now.Sub(g.last) < g.interval {
		return false
	}
	g.last = now
	return true
}

// NewHTTPClient returns a pooled client whose timeout bounds every call.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// Client attaches the session's credential to backend calls and reacts to
// credential rejections.
type Client struct {
	opts          Options
	tokens        TokenSource
	onAuthFailure AuthFailureFunc
}

// New builds a client for one browser session.
func New(opts Options, tokens TokenSource, onAuthFailure AuthFailureFunc) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = NewHTTPClient(30 * time.Second)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Client{opts: opts, tokens: tokens, onAuthFailure: onAuthFailure}
}

// Do sends in as JSON and decodes a successful response into out.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.opts.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.send(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// ForwardRequest is a raw call relayed on behalf of a feature view.
type ForwardRequest struct {
	Method      string
	Path        string
	RawQuery    string
	ContentType string
	Body        []byte
}

// ForwardResponse is the backend's successful raw answer.
type ForwardResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Forward relays a raw request. Non-2xx answers come back as *Error carrying
// the backend's status and body.
func (c *Client) Forward(ctx context.Context, fr ForwardRequest) (*ForwardResponse, error) {
	target := c.opts.BaseURL + fr.Path
	if fr.RawQuery != "" {
		target += "?" + fr.RawQuery
	}
	var body io.Reader
	if len(fr.Body) > 0 {
		body = bytes.NewReader(fr.Body)
	}
	req, err := http.NewRequestWithContext(ctx, fr.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if fr.ContentType != "" {
		req.Header.Set("Content-Type", fr.ContentType)
	}
	req.Header.Set("Accept", "application/json")
	return c.send(ctx, req)
}

// Warmup pings the backend without credentials to wake a cold instance.
func (c *Client) Warmup(ctx context.Context) error {
	if c.opts.WarmupPath == "" || !c.opts.WarmupGate.Allow() {
		return nil
	}
	if c.opts.WarmupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.WarmupTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+c.opts.WarmupPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode >= 500 {
		return fmt.Errorf("warmup: backend answered %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) send(ctx context.Context, req *http.Request) (*ForwardResponse, error) {
	cred, err := c.tokens.GetCredential(ctx)
	if err != nil {
		return nil, err
	}
	if cred != "" {
		req.Header.Set("Authorization", "Bearer "+cred)
		req.Header.Set("auth-token", cred)
	}

	c.opts.Logger.Debug("backend request", zap.String("method", req.Method), zap.String("path", req.URL.Path))

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		c.opts.Metrics.RecordUpstream(req.Method, observability.UpstreamNetwork)
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.opts.Metrics.RecordUpstream(req.Method, observability.UpstreamNetwork)
		return nil, fmt.Errorf("read %s %s response: %w", req.Method, req.URL.Path, err)
	}
	contentType := resp.Header.Get("Content-Type")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.reject(ctx, req, cred, parseError(resp.StatusCode, contentType, data))
	}

	c.opts.Metrics.RecordUpstream(req.Method, observability.UpstreamOK)
	return &ForwardResponse{StatusCode: resp.StatusCode, ContentType: contentType, Body: data}, nil
}

// reject clears the session storage before notifying, so nothing observes a
// stale credential after the callback. A rejection of a credential that has
// since been replaced touches neither storage nor the session.
func (c *Client) reject(ctx context.Context, req *http.Request, sent string, apiErr *Error) error {
	if !apiErr.CredentialInvalid() {
		c.opts.Metrics.RecordUpstream(req.Method, observability.UpstreamError)
		c.opts.Logger.Debug("backend error",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", apiErr.StatusCode),
			zap.String("code", apiErr.Code))
		return apiErr
	}

	c.opts.Metrics.RecordUpstream(req.Method, observability.UpstreamCredentialRejected)
	c.opts.Logger.Info("backend rejected credential",
		zap.String("path", req.URL.Path),
		zap.String("code", apiErr.Code))

	cleared, err := c.tokens.ClearCredential(context.WithoutCancel(ctx), sent)
	if err != nil {
		c.opts.Logger.Error("failed to clear session storage", zap.Error(err))
	} else if !cleared {
		c.opts.Logger.Info("ignoring rejection of a replaced credential", zap.String("path", req.URL.Path))
		return apiErr
	}
	if c.onAuthFailure != nil {
		c.onAuthFailure(context.WithoutCancel(ctx), sent)
	}
	return apiErr
}

// IsTimeout reports whether err is a timeout talking to the backend.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
