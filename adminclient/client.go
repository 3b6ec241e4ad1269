// Package adminclient talks to a gencached admin endpoint.
package adminclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/unkn0wn-root/gencache"
	"github.com/unkn0wn-root/gencache/internal/admin"
)

type Option func(*resty.Client)

func WithTimeout(d time.Duration) Option {
	return func(c *resty.Client) {
		if d > 0 {
			c.SetTimeout(d)
		}
	}
}

func WithHeader(key, value string) Option {
	return func(c *resty.Client) { c.SetHeader(key, value) }
}

// StatusError is returned for any non-2xx admin response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("adminclient: http %d: %s", e.Code, e.Message)
}

type Client struct {
	r *resty.Client
}

// New returns a client for the admin server at baseURL, e.g. http://localhost:7071.
func New(baseURL string, opts ...Option) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(10*time.Second).
		SetHeader("Accept", "application/json")
	for _, opt := range opts {
		if opt != nil {
			opt(rc)
		}
	}
	return &Client{r: rc}
}

func (c *Client) Health(ctx context.Context) (admin.Health, error) {
	var out admin.Health
	err := c.do(ctx, resty.MethodGet, "/healthz", &out)
	return out, err
}

func (c *Client) Info(ctx context.Context) (gencache.Stats, error) {
	var out gencache.Stats
	err := c.do(ctx, resty.MethodGet, "/v1/info", &out)
	return out, err
}

// Flush forces a batch and returns the generation after it.
func (c *Client) Flush(ctx context.Context) (uint64, error) {
	var out admin.Flushed
	if err := c.do(ctx, resty.MethodPost, "/v1/flush", &out); err != nil {
		return 0, err
	}
	return out.Generation, nil
}

func (c *Client) do(ctx context.Context, method, path string, result any) error {
	var eb admin.ErrorBody
	resp, err := c.r.R().
		SetContext(ctx).
		SetResult(result).
		SetError(&eb).
		Execute(method, path)
	if err != nil {
		return fmt.Errorf("adminclient: %s %s: %w", method, path, err)
	}
	if resp.IsError() {
		msg := eb.Error
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return &StatusError{Code: resp.StatusCode(), Message: msg}
	}
	return nil
}
