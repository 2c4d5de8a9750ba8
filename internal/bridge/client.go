package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/Leonid-DD/Chess2/pkg/chessdto"
)

// Client talks to a bridge Server. cmd/bridgecheck drives a running
// daemon with it.
type Client struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

// WithRetry sets the attempt budget of idempotent requests.
func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithDial replaces the TCP dialer, e.g. with an in-memory listener.
func WithDial(dial func(addr string) (net.Conn, error)) Option {
	return func(c *Client) { c.http.Dial = dial }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 8},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State fetches the view of player.
func (c *Client) State(ctx context.Context, player string) (*chessdto.SessionView, error) {
	var v chessdto.SessionView
	path := pathState + "?player=" + url.QueryEscape(player)
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &v, true); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) Click(ctx context.Context, req chessdto.ClickRequest) (*chessdto.ClickResponse, error) {
	return c.click(ctx, pathClick, req)
}

func (c *Client) Select(ctx context.Context, req chessdto.ClickRequest) (*chessdto.ClickResponse, error) {
	return c.click(ctx, pathSelect, req)
}

func (c *Client) Commit(ctx context.Context, req chessdto.ClickRequest) (*chessdto.ClickResponse, error) {
	return c.click(ctx, pathCommit, req)
}

func (c *Client) click(ctx context.Context, path string, req chessdto.ClickRequest) (*chessdto.ClickResponse, error) {
	var resp chessdto.ClickResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, path, req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health succeeds when the daemon's bridge is serving.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, fasthttp.MethodGet, pathHealth, nil, nil, true)
}

// Retry asks the daemon to re-persist a ply whose write failed.
func (c *Client) Retry(ctx context.Context) error {
	return c.doJSON(ctx, fasthttp.MethodPost, pathRetry, nil, nil, false)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err == nil {
			status := resp.StatusCode()
			if status >= 200 && status < 300 {
				if out != nil && status != fasthttp.StatusNoContent {
					if err := json.Unmarshal(resp.Body(), out); err != nil {
						return fmt.Errorf("decode response: %w", err)
					}
				}
				return nil
			}
			derr := decodeError(status, resp.Body())
			if !derr.Retryable && status < 500 {
				return derr
			}
			err = derr
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
			return lastErr
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func decodeError(status int, body []byte) chessdto.DomainError {
	var de chessdto.DomainError
	if err := json.Unmarshal(body, &de); err != nil || de.Code == "" {
		de = chessdto.DomainError{Code: fmt.Sprintf("http_%d", status), Message: truncate(string(body), 256)}
	}
	if status >= 500 {
		de.Retryable = true
	}
	return de
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 50 * time.Millisecond
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
