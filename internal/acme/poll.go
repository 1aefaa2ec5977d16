package acme

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/rfjacob/acmeclient/internal/acmeerr"
)

// Polling policy (RFC 8555 §7.1.3, §7.5.1): initial delay 2s, fixed
// interval 2s, maximum 30 attempts (~60s), overridden by a server-supplied
// Retry-After when present. A 120s wall-clock deadline backs the attempt
// ceiling up in case individual polls are slow.
const (
	pollInitialDelay = 2 * time.Second
	pollInterval     = 2 * time.Second
	pollMaxAttempts  = 30
	pollDeadline     = 120 * time.Second
)

// PollAuthorization polls an authorization until it reaches a terminal
// status (valid or invalid) or the polling policy is exhausted.
func (c *Client) PollAuthorization(ctx context.Context, url string) (*Authorization, error) {
	var last *Authorization
	err := c.poll(ctx, "authorization", func(ctx context.Context) (string, time.Duration, error) {
		authz, retryAfter, err := c.fetchAuthorizationWithRetryAfter(ctx, url)
		if err != nil {
			return "", 0, err
		}
		last = authz
		return authz.Status, retryAfter, nil
	})
	return last, err
}

// PollOrder polls an order until it reaches a terminal status (valid or
// invalid), used after finalize when the order is still "processing"
// (RFC 8555 §7.4).
func (c *Client) PollOrder(ctx context.Context, url string) (*Order, error) {
	var last *Order
	err := c.poll(ctx, "order", func(ctx context.Context) (string, time.Duration, error) {
		order, retryAfter, err := c.fetchOrderWithRetryAfter(ctx, url)
		if err != nil {
			return "", 0, err
		}
		last = order
		return order.Status, retryAfter, nil
	})
	return last, err
}

// poll implements the shared loop: sleep pollInitialDelay, then poll every
// pollInterval (or the server's Retry-After) until StatusValid (success),
// StatusInvalid (failure) or the attempt/deadline ceiling is hit
// (ValidationTimeout). It never loops indefinitely.
func (c *Client) poll(ctx context.Context, stage string, fetch func(context.Context) (status string, retryAfter time.Duration, err error)) error {
	deadline := time.Now().Add(pollDeadline)

	if err := sleepCtx(ctx, pollInitialDelay); err != nil {
		return acmeerr.Wrap(stage, acmeerr.ValidationTimeout, err)
	}

	interval := pollInterval
	for attempt := 1; attempt <= pollMaxAttempts; attempt++ {
		status, retryAfter, err := fetch(ctx)
		if err != nil {
			return err
		}

		switch status {
		case StatusValid:
			return nil
		case StatusInvalid:
			return acmeerr.New(stage, acmeerr.Unauthorized, "server marked the "+stage+" invalid")
		}

		if time.Now().After(deadline) {
			break
		}

		wait := interval
		if retryAfter > 0 {
			wait = retryAfter
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return acmeerr.Wrap(stage, acmeerr.ValidationTimeout, err)
		}
	}

	return acmeerr.New(stage, acmeerr.ValidationTimeout, "polling exceeded the deadline without reaching a terminal status")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fetchAuthorizationWithRetryAfter is FetchAuthorization plus the
// Retry-After header the polling loop honors when present.
func (c *Client) fetchAuthorizationWithRetryAfter(ctx context.Context, url string) (*Authorization, time.Duration, error) {
	sign := func(u string) (string, error) { return c.signer.SignPayload(u, c.kid, nil) }

	var authz Authorization
	resp, err := c.request(ctx, "authorization", url, sign, &authz)
	if err != nil {
		return nil, 0, err
	}
	return &authz, retryAfterOf(resp), nil
}

func (c *Client) fetchOrderWithRetryAfter(ctx context.Context, url string) (*Order, time.Duration, error) {
	sign := func(u string) (string, error) { return c.signer.SignPayload(u, c.kid, nil) }

	var order Order
	resp, err := c.request(ctx, "order", url, sign, &order)
	if err != nil {
		return nil, 0, err
	}
	order.URL = url
	return &order, retryAfterOf(resp), nil
}

// retryAfterOf parses a Retry-After header expressed in seconds (ACME
// servers don't use the HTTP-date form for this header).
func retryAfterOf(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
