// Package fetch provides the byte-fetching surface every other package in
// manifestcore calls through: the Fetcher interface (spec.md §6), a
// FetchFacade wrapping it with a redirect-aware final-URI contract (spec.md
// §4.7), and DefaultFetcher, a reference Fetcher backed by net/http with
// retry, backoff, circuit-breaking and transparent decompression.
package fetch

import (
	"context"
	"io"
	"net/http"
)

// RequestType classifies the purpose of a Request call, per spec.md §6.
// The default fetcher does not currently vary behaviour by type, but
// callers (and wrapping Fetchers, e.g. one adding per-type metrics) can.
type RequestType string

const (
	RequestManifest RequestType = "manifest"
	RequestSegment  RequestType = "segment"
	RequestLicense  RequestType = "license"
	RequestKey      RequestType = "key"
	RequestTiming   RequestType = "timing"
	RequestApp      RequestType = "app"
)

// Response is the result of a Fetcher.Request call, per spec.md §6.
type Response struct {
	URI     string
	Headers http.Header
	Bytes   []byte
}

// Fetcher is the collaborator every parser and probe in manifestcore fetches
// bytes through, per spec.md §6. Implementations must honour ctx
// cancellation as the spec's cancellationToken.
type Fetcher interface {
	Request(ctx context.Context, reqType RequestType, uri, method string, headers http.Header, body io.Reader, rangeStart, rangeEnd *int64) (*Response, error)
}

// FetchFacade wraps a Fetcher with the redirect surface spec.md §4.7
// describes: the facade itself adds no retry/backoff policy (that's the
// underlying Fetcher's job), it only guarantees the returned URI is the
// final one after redirects so callers can rebase relative children
// against it.
type FetchFacade struct {
	fetcher Fetcher
}

// NewFetchFacade wraps fetcher in a FetchFacade.
func NewFetchFacade(fetcher Fetcher) *FetchFacade {
	return &FetchFacade{fetcher: fetcher}
}

// Request fetches uri, optionally as a byte range, returning the body, the
// final URI (post-redirect) and response headers, per spec.md §4.7.
func (f *FetchFacade) Request(ctx context.Context, reqType RequestType, uri string, rangeStart, rangeEnd *int64) ([]byte, string, http.Header, error) {
	resp, err := f.fetcher.Request(ctx, reqType, uri, http.MethodGet, nil, nil, rangeStart, rangeEnd)
	if err != nil {
		return nil, "", nil, err
	}
	return resp.Bytes, resp.URI, resp.Headers, nil
}
