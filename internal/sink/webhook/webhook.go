// Package webhook POSTs each authentication event to an HTTP endpoint, for
// example a cart checkout service.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"

	"github.com/jpalmerr/turnstile/internal/model"
)

const (
	defaultTimeout       = 5 * time.Second
	maxRetries           = 2
	retryInitialInterval = 250 * time.Millisecond
)

// Option configures an [Output].
type Option func(*Output)

// WithHeaders sets custom HTTP headers sent with every POST.
func WithHeaders(h map[string]string) Option {
	return func(o *Output) { o.headers = h }
}

// WithTimeout sets the per-attempt timeout. Default: 5s.
func WithTimeout(d time.Duration) Option {
	return func(o *Output) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithName sets the consumer name, which also names its breaker and
// metrics. Default: "webhook".
func WithName(name string) Option {
	return func(o *Output) {
		if name != "" {
			o.name = name
		}
	}
}

// Output POSTs one JSON event per request. Retries on 5xx with a short
// exponential backoff.
type Output struct {
	client  *http.Client
	url     string
	name    string
	headers map[string]string
	timeout time.Duration
}

// New creates a webhook output targeting the given URL.
func New(url string, opts ...Option) *Output {
	o := &Output{
		client:  &http.Client{},
		url:     url,
		name:    "webhook",
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Output) Name() string { return o.name }

// Consume sends ev.
func (o *Output) Consume(ctx context.Context, ev model.AuthenticationEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}
	return o.postWithRetry(ctx, body)
}

// postWithRetry sends the body via HTTP POST. Only 5xx responses are
// retried; transport errors and other statuses fail at once.
func (o *Output) postWithRetry(ctx context.Context, body []byte) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	op := func() error {
		code, err := o.post(ctx, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		if code >= 200 && code < 300 {
			return nil
		}
		err = fmt.Errorf("webhook: HTTP %d", code)
		if code < 500 {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx)); err != nil {
		if cerr := ctx.Err(); cerr != nil && err == cerr {
			return fmt.Errorf("webhook: %w", err)
		}
		return err
	}
	return nil
}

func (o *Output) post(ctx context.Context, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("webhook: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range o.headers {
		req.Header.Set(k, v)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("webhook: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode, nil
}

// Close releases idle connections.
func (o *Output) Close() error {
	o.client.CloseIdleConnections()
	return nil
}
