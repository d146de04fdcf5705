package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/brandpilot/internal/plans"
)

const cronSecretHeader = "x-cron-secret"

// ErrUnauthorized is returned when the server rejects the scheduler secret.
var ErrUnauthorized = errors.New("unauthorized: check the cron secret")

// StatusError is a non-success response from the server.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned HTTP %d: %s", e.StatusCode, e.Message)
}

// Client calls the brandpilot API.
type Client struct {
	baseURL    string
	cronSecret string
	maxRetries uint
	http       *http.Client // plain client for operator calls
	cached     *http.Client // caching client for cacheable reads
	backoff    func() backoff.BackOff
}

// Option configures a Client.
type Option func(*Client)

// WithBackOff sets the retry schedule for operator calls.
func WithBackOff(b func() backoff.BackOff) Option {
	return func(c *Client) {
		c.backoff = b
	}
}

// New creates a client from cfg.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(cfg.ServerURL, "/"),
		cronSecret: cfg.CronSecret,
		maxRetries: cfg.MaxRetries,
		http:       &http.Client{Timeout: cfg.Timeout},
		cached:     NewCachingHTTPClient(cfg.CacheDir, cfg.Timeout),
		backoff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Plans fetches the plan table. Repeat calls are served from the HTTP cache
// or revalidated with the server's ETag.
func (c *Client) Plans(ctx context.Context) ([]plans.Plan, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/plans", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.cached.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch plans: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readStatusError(resp)
	}

	// Read to EOF so the cache stores the response.
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read plans: %w", err)
	}

	var body struct {
		Plans []plans.Plan `json:"plans"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("failed to decode plans: %w", err)
	}

	return body.Plans, nil
}

// TriggerReconcile asks the server to run a reconciliation sweep and returns
// the number of workspaces downgraded. Network failures and 5xx responses are
// retried with backoff; the sweep is idempotent so a retry is always safe.
// A rejected secret fails immediately with ErrUnauthorized.
func (c *Client) TriggerReconcile(ctx context.Context) (int, error) {
	operation := func() (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/reconcile", nil)
		if err != nil {
			return 0, backoff.Permanent(err)
		}
		if c.cronSecret != "" {
			req.Header.Set(cronSecretHeader, c.cronSecret)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return 0, fmt.Errorf("failed to call reconcile: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusUnauthorized:
			return 0, backoff.Permanent(ErrUnauthorized)
		case resp.StatusCode == http.StatusTooManyRequests:
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
				return 0, backoff.RetryAfter(secs)
			}
			return 0, readStatusError(resp)
		case resp.StatusCode >= http.StatusInternalServerError:
			return 0, readStatusError(resp)
		default:
			return 0, backoff.Permanent(readStatusError(resp))
		}

		var body struct {
			Downgraded int `json:"downgraded"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return 0, backoff.Permanent(fmt.Errorf("failed to decode reconcile response: %w", err))
		}
		return body.Downgraded, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.backoff()),
		backoff.WithMaxTries(c.maxRetries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Dur("retry_in", next).Msg("Reconcile trigger failed, retrying")
		}),
	)
}

func readStatusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
	}

	return &StatusError{StatusCode: resp.StatusCode, Message: body.Error}
}
