// Package steering implements the content-steering client described in
// spec.md §4.6: a small piece of state (current pathway, pathway priority
// order, reload URI, TTL) kept fresh by a background timer, consulted on
// every segment URL resolution that has alternate-pathway URIs to choose
// between.
package steering

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kestrelstream/manifestcore/internal/fetch"
	"github.com/kestrelstream/manifestcore/internal/observability"
)

// defaultTTL is used until the first steering manifest response supplies a
// TTL, and whenever a fetch fails (failure is non-fatal; spec.md §4.6).
const defaultTTL = 300 * time.Second

// manifestDoc is the content-steering JSON schema from spec.md §6:
// {VERSION, TTL, RELOAD-URI, PATHWAY-PRIORITY}.
type manifestDoc struct {
	Version         int      `json:"VERSION"`
	TTL             int      `json:"TTL"`
	ReloadURI       string   `json:"RELOAD-URI"`
	PathwayPriority []string `json:"PATHWAY-PRIORITY"`
}

// Alternate pairs a pathway ID with the URI a variant declared for that
// pathway. Callers resolving a segment or playlist URL for a variant that
// declares more than one pathway build the Alternate slice from whatever
// the manifest parser recorded and pass it to Reorder.
type Alternate struct {
	PathwayID string
	URI       string
}

// Client holds content-steering state for one manifest, per spec.md §4.6.
// The zero value is not usable; construct with New.
type Client struct {
	mu sync.RWMutex

	fetcher fetch.Fetcher

	currentPathwayID string
	pathwayOrder     []string
	reloadURI        string
	ttl              time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Client. initialPathwayID is the manifest's declared
// default pathway (the PATHWAY-ID on the #EXT-X-CONTENT-STEERING tag, or
// empty if none); reloadURI is that tag's SERVER-URI, resolved to an
// absolute URI by the caller.
func New(fetcher fetch.Fetcher, reloadURI, initialPathwayID string) *Client {
	order := []string{}
	if initialPathwayID != "" {
		order = []string{initialPathwayID}
	}
	return &Client{
		fetcher:          fetcher,
		currentPathwayID: initialPathwayID,
		pathwayOrder:     order,
		reloadURI:        reloadURI,
		ttl:              defaultTTL,
	}
}

// Start begins the periodic reload timer. It performs one immediate fetch
// before returning so the first segment resolution after Start already has
// steering data, then continues reloading every TTL until ctx is cancelled
// or Stop is called.
func (c *Client) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.reload(runCtx)

	c.wg.Add(1)
	go c.loop(runCtx)
}

// Stop cancels the reload timer and waits for the background goroutine to
// exit. Safe to call on a Client that was never Start-ed.
func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Client) loop(ctx context.Context) {
	defer c.wg.Done()

	for {
		c.mu.RLock()
		ttl := c.ttl
		c.mu.RUnlock()

		timer := time.NewTimer(ttl)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			c.reload(ctx)
		}
	}
}

// reload fetches and applies the steering manifest. Failure is non-fatal
// per spec.md §4.6: the prior pathwayOrder is kept and the next attempt is
// scheduled after defaultTTL.
func (c *Client) reload(ctx context.Context) {
	logger := observability.LoggerFromContext(ctx)

	c.mu.RLock()
	uri := c.reloadURI
	c.mu.RUnlock()
	if uri == "" {
		return
	}

	resp, err := c.fetcher.Request(ctx, fetch.RequestApp, uri, http.MethodGet, nil, nil, nil, nil)
	if err != nil {
		if logger != nil {
			logger.Warn("content steering reload failed", slog.String("uri", uri), slog.String("error", err.Error()))
		}
		c.mu.Lock()
		c.ttl = defaultTTL
		c.mu.Unlock()
		return
	}

	var doc manifestDoc
	if err := json.Unmarshal(resp.Bytes, &doc); err != nil {
		if logger != nil {
			logger.Warn("content steering manifest unparsable", slog.String("uri", uri), slog.String("error", err.Error()))
		}
		c.mu.Lock()
		c.ttl = defaultTTL
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if doc.TTL > 0 {
		c.ttl = time.Duration(doc.TTL) * time.Second
	} else {
		c.ttl = defaultTTL
	}
	if doc.ReloadURI != "" {
		c.reloadURI = doc.ReloadURI
	}
	if len(doc.PathwayPriority) > 0 {
		c.pathwayOrder = append([]string{}, doc.PathwayPriority...)
		c.currentPathwayID = c.pathwayOrder[0]
	}
	c.mu.Unlock()

	if logger != nil {
		logger.Debug("content steering manifest applied", slog.String("uri", uri), slog.Any("pathway_order", doc.PathwayPriority))
	}
}

// CurrentPathwayID returns the highest-priority pathway ID currently in
// effect.
func (c *Client) CurrentPathwayID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentPathwayID
}

// PathwayOrder returns a copy of the current pathway priority order.
func (c *Client) PathwayOrder() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string{}, c.pathwayOrder...)
}

// Reorder applies the current pathwayOrder to alternates, per spec.md §4.6:
// the primary (first) result is the highest-priority pathway present in
// alternates; pathways absent from the priority list keep their relative
// declaration order, appended after every prioritised pathway.
func (c *Client) Reorder(alternates []Alternate) []string {
	if len(alternates) == 0 {
		return nil
	}
	c.mu.RLock()
	order := c.pathwayOrder
	c.mu.RUnlock()

	byPathway := make(map[string]string, len(alternates))
	for _, a := range alternates {
		byPathway[a.PathwayID] = a.URI
	}

	uris := make([]string, 0, len(alternates))
	seen := make(map[string]bool, len(alternates))
	for _, pathwayID := range order {
		if uri, ok := byPathway[pathwayID]; ok && !seen[pathwayID] {
			uris = append(uris, uri)
			seen[pathwayID] = true
		}
	}
	for _, a := range alternates {
		if !seen[a.PathwayID] {
			uris = append(uris, a.URI)
			seen[a.PathwayID] = true
		}
	}
	return uris
}

// SetReloadURI updates the URI the client reloads from, e.g. after a live
// manifest refresh replaces its #EXT-X-CONTENT-STEERING SERVER-URI.
func (c *Client) SetReloadURI(uri string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reloadURI = uri
}

// ReloadURI returns the URI the client currently reloads from.
func (c *Client) ReloadURI() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reloadURI
}

var errNoReloadURI = fmt.Errorf("steering: no reload URI configured")

// Reload performs a synchronous, caller-initiated reload outside the
// background timer, returning an error only when no reload URI is
// configured; transport/decode failures are swallowed per spec.md §4.6 and
// only observable via logging, matching the timer-driven path.
func (c *Client) Reload(ctx context.Context) error {
	if c.ReloadURI() == "" {
		return errNoReloadURI
	}
	c.reload(ctx)
	return nil
}
