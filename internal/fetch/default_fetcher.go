package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/kestrelstream/manifestcore/internal/config"
	"github.com/kestrelstream/manifestcore/internal/manifest"
	"github.com/kestrelstream/manifestcore/internal/observability"
)

const defaultMaxResponseSize = 64 << 20 // 64 MiB, generous for an MPD/steering manifest

// DefaultFetcher is the reference Fetcher implementation, adapted from
// jmylchreest-tvarr/pkg/httpclient/client.go: a net/http.Client wrapped
// with exponential backoff retry and a per-origin circuit breaker, plus
// transparent response decompression.
type DefaultFetcher struct {
	client  *http.Client
	retry   config.RetryConfig
	breaker *CircuitBreaker

	userAgent       string
	maxResponseSize int64
}

// NewDefaultFetcher constructs a DefaultFetcher from retry, using base as
// the underlying *http.Client (pass nil for http.DefaultClient semantics
// with retry.Timeout applied per-attempt).
func NewDefaultFetcher(retry config.RetryConfig, base *http.Client) *DefaultFetcher {
	timeout := retry.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if base == nil {
		base = &http.Client{Timeout: timeout}
	}
	return &DefaultFetcher{
		client:          base,
		retry:           retry,
		breaker:         NewCircuitBreaker(retry.CircuitThreshold, retry.CircuitTimeout),
		userAgent:       "manifestcore/1.0",
		maxResponseSize: defaultMaxResponseSize,
	}
}

// SetUserAgent overrides the User-Agent header sent on every request.
func (f *DefaultFetcher) SetUserAgent(ua string) { f.userAgent = ua }

// SetMaxResponseSize overrides the post-decompression size limit.
func (f *DefaultFetcher) SetMaxResponseSize(n int64) { f.maxResponseSize = n }

// Request implements Fetcher, per spec.md §6.
func (f *DefaultFetcher) Request(ctx context.Context, reqType RequestType, uri, method string, headers http.Header, body io.Reader, rangeStart, rangeEnd *int64) (*Response, error) {
	logger := observability.LoggerFromContext(ctx)

	maxAttempts := f.retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	delay := f.retry.BaseDelay
	if delay <= 0 {
		delay = time.Second
	}
	maxDelay := f.retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	multiplier := f.retry.BackoffMultiplier
	if multiplier <= 1 {
		multiplier = 2
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, manifest.NewError(manifest.CategoryAborted, uri, ctx.Err())
		}

		if !f.breaker.Allow() {
			return nil, manifest.NewError(manifest.CategoryNetwork, uri, fmt.Errorf("fetch: circuit open for %s", uri))
		}

		resp, err := f.doOnce(ctx, reqType, uri, method, headers, body, rangeStart, rangeEnd)
		if err == nil {
			f.breaker.RecordSuccess()
			return resp, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, manifest.NewError(manifest.CategoryAborted, uri, err)
		}

		f.breaker.RecordFailure()

		if !isRetryable(err) || attempt == maxAttempts-1 {
			break
		}

		if logger != nil {
			logger.Debug("fetch retrying", slog.String("uri", uri), slog.Int("attempt", attempt+1), slog.String("error", err.Error()))
		}

		jitter := time.Duration(rand.Int63n(int64(delay) / 4 + 1))
		select {
		case <-ctx.Done():
			return nil, manifest.NewError(manifest.CategoryAborted, uri, ctx.Err())
		case <-time.After(delay + jitter):
		}
		delay = time.Duration(float64(delay) * multiplier)
		if delay > maxDelay {
			delay = maxDelay
		}
	}

	return nil, manifest.NewError(manifest.CategoryNetwork, uri, lastErr)
}

func (f *DefaultFetcher) doOnce(ctx context.Context, reqType RequestType, uri, method string, headers http.Header, body io.Reader, rangeStart, rangeEnd *int64) (*Response, error) {
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, uri, body)
	if err != nil {
		return nil, fmt.Errorf("fetch: building request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	if rangeStart != nil {
		end := ""
		if rangeEnd != nil {
			end = strconv.FormatInt(*rangeEnd, 10)
		}
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%s", *rangeStart, end))
	}

	httpResp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %s: %w", uri, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return nil, &httpStatusError{uri: uri, status: httpResp.StatusCode}
	}

	reader, err := decompress(httpResp.Header.Get("Content-Encoding"), httpResp.Body)
	if err != nil {
		return nil, err
	}
	bytes, err := readAllLimited(reader, f.maxResponseSize)
	if err != nil {
		return nil, fmt.Errorf("fetch: reading body of %s: %w", uri, err)
	}

	finalURI := uri
	if httpResp.Request != nil && httpResp.Request.URL != nil {
		finalURI = httpResp.Request.URL.String()
	}

	return &Response{URI: finalURI, Headers: httpResp.Header, Bytes: bytes}, nil
}

// httpStatusError distinguishes an HTTP-level failure (status >= 400) from
// a transport-level one so isRetryable can tell a 404 (never retryable)
// from a 503 (retryable) apart from a dropped connection (retryable).
type httpStatusError struct {
	uri    string
	status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("fetch: %s: status %d", e.uri, e.status)
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func isRetryable(err error) bool {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return isRetryableStatus(statusErr.status)
	}
	return true
}
