package quota

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const maxErrorBody = 512

var ErrEmptyFeature = errors.New("feature key is empty")

// StatusError is a non-2xx answer from the quota service.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("quota %s: status %d: %s", e.Op, e.Code, e.Body)
	}
	return fmt.Sprintf("quota %s: status %d", e.Op, e.Code)
}

// Retryable reports whether the request may succeed if sent again.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

type ClientConfig struct {
	BaseURL string
	// Token is sent as a bearer token when set.
	Token   string
	Timeout time.Duration
	// Retries bounds extra CheckPermission attempts on transient failures.
	Retries        int
	InitialBackoff time.Duration
}

// Client is the HTTP implementation of Service.
type Client struct {
	cfg  ClientConfig
	base *url.URL
	http *http.Client
	log  zerolog.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("quota base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("quota base url: unsupported scheme %q", base.Scheme)
	}
	if base.Path == "" {
		base.Path = "/"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	return &Client{
		cfg:  cfg,
		base: base,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.With().Str("module", "quota").Str("host", base.Host).Logger(),
	}, nil
}

func (c *Client) newBackoff(ctx context.Context) backoff.BackOff {
	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = c.cfg.InitialBackoff
	ebo.Reset()
	retries := max(c.cfg.Retries, 0)
	return backoff.WithContext(backoff.WithMaxRetries(ebo, uint64(retries)), ctx)
}

func (c *Client) CheckPermission(ctx context.Context, feature string) (Decision, error) {
	if feature == "" {
		return Decision{}, ErrEmptyFeature
	}
	endpoint := c.base.JoinPath("v1", "permissions", feature).String()

	var d Decision
	attempt := 0
	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		err = c.do(req, "check permission", &d)
		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return backoff.Permanent(err)
		}
		if err != nil {
			c.log.Warn().Err(err).Int("attempt", attempt).Str("feature", feature).Msg("permission check failed")
		}
		return err
	}
	if err := backoff.Retry(op, c.newBackoff(ctx)); err != nil {
		return Decision{}, err
	}

	d.RemainingQuota = d.TotalTokens - d.UsedTokens
	c.log.Info().
		Str("feature", feature).
		Bool("allowed", d.Allowed).
		Bool("can_renew", d.CanRenew).
		Str("plan", d.CurrentPlan).
		Int64("remaining", d.RemainingQuota).
		Msg("permission checked")
	return d, nil
}

type usageRequest struct {
	Feature string `json:"feature"`
	Count   int    `json:"count"`
}

// RecordUsage is sent once and never retried so usage cannot be double counted.
func (c *Client) RecordUsage(ctx context.Context, feature string, count int) error {
	if feature == "" {
		return ErrEmptyFeature
	}
	body, err := json.Marshal(usageRequest{Feature: feature, Count: count})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.JoinPath("v1", "usage").String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.do(req, "record usage", nil); err != nil {
		return err
	}
	c.log.Info().Str("feature", feature).Int("count", count).Msg("usage recorded")
	return nil
}

func (c *Client) do(req *http.Request, op string, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("quota %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("quota %s: decode: %w", op, err))
	}
	return nil
}
