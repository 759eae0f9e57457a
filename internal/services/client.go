// Package services talks to the screening API: speech sessions and
// analysis, the hearing step service, game sessions, modality status and
// the EEG model.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"cognisafe/internal/metrics"
)

// TransportError is a network failure or a non-2xx response. It is
// retryable; Status is 0 when no response arrived.
type TransportError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the same request may succeed.
func (e *TransportError) Temporary() bool {
	return e.Status == 0 || e.Status == http.StatusTooManyRequests || e.Status >= 500
}

type Client struct {
	baseURL string
	http    *http.Client
	tries   uint
	backoff func() backoff.BackOff
}

// NewPooledHTTPClient creates an http.Client with connection pooling.
func NewPooledHTTPClient(poolSize int, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:          poolSize,
			MaxIdleConnsPerHost:   poolSize,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}

// New returns a client for the API at baseURL. tries bounds the attempts
// made for idempotent calls.
func New(baseURL string, timeout time.Duration, tries uint) *Client {
	if tries == 0 {
		tries = 1
	}
	return &Client{
		baseURL: baseURL,
		http:    NewPooledHTTPClient(8, timeout),
		tries:   tries,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
}

func (c *Client) do(req *http.Request, op string, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.ServiceDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Errors.WithLabelValues("services", "http").Inc()
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.Errors.WithLabelValues("services", "status").Inc()
		return &TransportError{Op: op, Status: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, op, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, op, out)
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating %s request: %w", op, err)
	}
	return c.do(req, op, out)
}

// retry runs call with exponential backoff. Client errors are not retried.
func retry[T any](ctx context.Context, c *Client, call func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		v, err := call()
		var te *TransportError
		if err != nil && (!errors.As(err, &te) || !te.Temporary()) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(c.backoff()), backoff.WithMaxTries(c.tries))
}
