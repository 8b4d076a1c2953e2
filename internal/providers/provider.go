// Package providers normalizes heterogeneous backend model APIs behind one
// adapter interface. Each adapter translates the augmented request into its
// backend's native call and translates the native response, streamed or not,
// back into the normalized wire shape.
package providers

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"raggate-api/internal/metrics"
	"raggate-api/internal/prompt"
	"raggate-api/internal/shared"

	"go.uber.org/zap"
)

// Adapter is the capability set every backend implementation provides.
type Adapter interface {
	Name() string

	// TranslateRequest maps the normalized request to the backend's native
	// payload. Returns shared.ErrUnsupportedParameter when a requested
	// sampling parameter has no backend equivalent and cannot be
	// approximated.
	TranslateRequest(req *prompt.AugmentedRequest) ([]byte, error)

	// Send performs the network call with the backend's auth scheme,
	// bounded by the provider's connection pool and retried per the retry
	// policy. The returned response body releases its pool slot on Close.
	Send(ctx context.Context, payload []byte, stream bool) (*http.Response, error)

	// TranslateResponse produces one normalized completion from a
	// non-streaming backend body.
	TranslateResponse(body []byte) (*shared.ChatCompletion, error)

	// TranslateChunk turns one wire line into one normalized delta,
	// preserving token order. done reports the backend's end-of-stream
	// marker; a nil chunk with done=false means the line carried no delta
	// (keepalives, event names) and should be skipped.
	TranslateChunk(line []byte) (chunk *shared.ChatCompletionChunk, done bool, err error)
}

// RetryPolicy is the explicit bounded-retry schedule for transient network
// failures. The sleep hook exists so tests run with deterministic timing.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
	Sleep      func(time.Duration)
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: shared.DefaultMaxRetries,
		Backoff:    shared.DefaultRetryBackoff,
		Sleep:      time.Sleep,
	}
}

func (p RetryPolicy) sleep(d time.Duration) {
	if p.Sleep != nil {
		p.Sleep(d)
		return
	}
	time.Sleep(d)
}

func newHTTPClient() *http.Client {
	tr := &http.Transport{
		Dial: (&net.Dialer{
			Timeout: shared.DefaultDialTimeout,
		}).Dial,
		TLSHandshakeTimeout: shared.DefaultDialTimeout,
		DisableKeepAlives:   false,
	}
	return &http.Client{Transport: tr, Timeout: shared.DefaultHTTPTimeout}
}

// send is the shared dispatch loop used by every adapter: acquire a pool
// slot, attempt the call, retry transient transport failures once with
// backoff, classify HTTP-level failures. The request is rebuilt per attempt
// because the body reader is consumed by a failed send.
func send(ctx context.Context, client *http.Client, pool *Pool, retry RetryPolicy,
	build func() (*http.Request, error), log *zap.SugaredLogger) (*http.Response, error) {

	if err := pool.Acquire(ctx); err != nil {
		return nil, err
	}

	var res *http.Response
	var lastErr error
	for attempt := 0; attempt <= retry.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.ProviderRetries.WithLabelValues(pool.name).Inc()
			log.Warnw("retrying backend call", "attempt", attempt, "error", lastErr)
			retry.sleep(retry.Backoff)
		}

		req, err := build()
		if err != nil {
			pool.Release()
			return nil, err
		}
		res, lastErr = client.Do(req.WithContext(ctx))
		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			// Client went away; not a backend failure and not worth a retry.
			pool.Release()
			return nil, ctx.Err()
		}
	}
	if lastErr != nil {
		pool.Release()
		return nil, fmt.Errorf("%w: %w", shared.ErrProviderUnavailable, lastErr)
	}

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		_ = res.Body.Close()
		pool.Release()
		return nil, fmt.Errorf("%w: backend returned %d", shared.ErrProviderAuth, res.StatusCode)
	case res.StatusCode < 200 || res.StatusCode > 299:
		_ = res.Body.Close()
		pool.Release()
		return nil, fmt.Errorf("%w: backend returned %d", shared.ErrProviderUnavailable, res.StatusCode)
	}

	res.Body = &pooledBody{ReadCloser: res.Body, pool: pool}
	return res, nil
}
