package thorchain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrNotFound is returned when a node answers 404, e.g. a pool that did not
// exist at the requested height.
var ErrNotFound = errors.New("not found")

// Opts configures a Client.
type Opts struct {
	ThornodeURLs []string
	MidgardURLs  []string
	StableCoins  []string
	Timeout      time.Duration
	MaxTries     uint
	RetryInitial time.Duration
	PageSize     int
	MaxPages     int
	HTTPClient   *http.Client
}

// Client talks to THORNode (pool state) and Midgard (wallet actions).
// Every request walks the configured endpoints in order and the whole walk
// is retried with exponential backoff.
type Client struct {
	thornode    []string
	midgard     []string
	stableCoins []string
	client      *http.Client

	maxTries     uint
	retryInitial time.Duration
	pageSize     int
	maxPages     int
}

func New(o Opts) *Client {
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.MaxTries == 0 {
		o.MaxTries = 3
	}
	if o.RetryInitial <= 0 {
		o.RetryInitial = 500 * time.Millisecond
	}
	if o.PageSize <= 0 {
		o.PageSize = 50
	}
	if o.MaxPages <= 0 {
		o.MaxPages = 200
	}
	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	}
	return &Client{
		thornode:     trimEndpoints(o.ThornodeURLs),
		midgard:      trimEndpoints(o.MidgardURLs),
		stableCoins:  o.StableCoins,
		client:       client,
		maxTries:     o.MaxTries,
		retryInitial: o.RetryInitial,
		pageSize:     o.PageSize,
		maxPages:     o.MaxPages,
	}
}

func trimEndpoints(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, ep := range in {
		ep = strings.TrimRight(strings.TrimSpace(ep), "/")
		if ep == "" || seen[ep] {
			continue
		}
		seen[ep] = true
		out = append(out, ep)
	}
	return out
}

func (c *Client) getJSON(ctx context.Context, endpoints []string, path string, out any) error {
	if len(endpoints) == 0 {
		return fmt.Errorf("no endpoints configured for %s", path)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInitial
	policy.MaxInterval = c.retryInitial * 10

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.walk(ctx, endpoints, path, out)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.maxTries))
	return err
}

// walk tries each endpoint once. Client errors are permanent; server and
// transport errors move on to the next endpoint.
func (c *Client) walk(ctx context.Context, endpoints []string, path string, out any) error {
	var lastErr error
	for _, ep := range endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep+path, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			drainAndClose(resp.Body)
			return backoff.Permanent(fmt.Errorf("%s: %w", path, ErrNotFound))
		case resp.StatusCode >= 500:
			drainAndClose(resp.Body)
			lastErr = fmt.Errorf("%s: server %d", ep, resp.StatusCode)
			continue
		case resp.StatusCode >= 300:
			drainAndClose(resp.Body)
			return backoff.Permanent(fmt.Errorf("%s: http %d", path, resp.StatusCode))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		drainAndClose(resp.Body)
		if err != nil {
			lastErr = fmt.Errorf("decode %s: %w", path, err)
			continue
		}
		return nil
	}
	return lastErr
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
