package steering

import (
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/kestrelstream/manifestcore/internal/fetch"
)

type fakeFetcher struct {
	mu    sync.Mutex
	body  []byte
	err   error
	calls int
}

func (f *fakeFetcher) Request(ctx context.Context, reqType fetch.RequestType, uri, method string, headers http.Header, body io.Reader, rangeStart, rangeEnd *int64) (*fetch.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &fetch.Response{URI: uri, Headers: http.Header{}, Bytes: f.body}, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fetchError struct{}

func (fetchError) Error() string { return "steering: fetch failed" }

func TestReloadAppliesPathwayPriority(t *testing.T) {
	fetcher := &fakeFetcher{body: []byte(`{"VERSION":1,"TTL":30,"RELOAD-URI":"https://cdn.example.com/steering.json","PATHWAY-PRIORITY":["cdn-b","cdn-a"]}`)}
	c := New(fetcher, "https://cdn.example.com/steering.json", "cdn-a")

	if err := c.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	if got := c.CurrentPathwayID(); got != "cdn-b" {
		t.Errorf("CurrentPathwayID() = %q, want %q", got, "cdn-b")
	}
	order := c.PathwayOrder()
	if len(order) != 2 || order[0] != "cdn-b" || order[1] != "cdn-a" {
		t.Errorf("PathwayOrder() = %v, want [cdn-b cdn-a]", order)
	}
}

func TestReloadFailureKeepsPriorOrder(t *testing.T) {
	fetcher := &fakeFetcher{body: []byte(`{"VERSION":1,"TTL":30,"PATHWAY-PRIORITY":["cdn-a","cdn-b"]}`)}
	c := New(fetcher, "https://cdn.example.com/steering.json", "cdn-a")
	if err := c.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	fetcher.mu.Lock()
	fetcher.err = fetchError{}
	fetcher.mu.Unlock()

	if err := c.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	order := c.PathwayOrder()
	if len(order) != 2 || order[0] != "cdn-a" || order[1] != "cdn-b" {
		t.Errorf("PathwayOrder() after failed reload = %v, want unchanged [cdn-a cdn-b]", order)
	}
}

func TestReorderPrioritisesHighestPriorityPathwayPresent(t *testing.T) {
	fetcher := &fakeFetcher{body: []byte(`{"VERSION":1,"TTL":30,"PATHWAY-PRIORITY":["cdn-c","cdn-b","cdn-a"]}`)}
	c := New(fetcher, "https://cdn.example.com/steering.json", "cdn-a")
	if err := c.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	alternates := []Alternate{
		{PathwayID: "cdn-a", URI: "https://a.example.com/seg.m4s"},
		{PathwayID: "cdn-b", URI: "https://b.example.com/seg.m4s"},
	}
	got := c.Reorder(alternates)
	want := []string{"https://b.example.com/seg.m4s", "https://a.example.com/seg.m4s"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Reorder() = %v, want %v", got, want)
	}
}

func TestReorderAppendsUnprioritisedPathwaysInDeclarationOrder(t *testing.T) {
	c := New(&fakeFetcher{}, "", "cdn-a")
	alternates := []Alternate{
		{PathwayID: "cdn-z", URI: "https://z.example.com/seg.m4s"},
		{PathwayID: "cdn-a", URI: "https://a.example.com/seg.m4s"},
	}
	got := c.Reorder(alternates)
	if len(got) != 2 || got[0] != "https://a.example.com/seg.m4s" || got[1] != "https://z.example.com/seg.m4s" {
		t.Errorf("Reorder() = %v, want [a z] (cdn-a prioritised, cdn-z appended)", got)
	}
}

func TestStartPerformsImmediateFetchThenStops(t *testing.T) {
	fetcher := &fakeFetcher{body: []byte(`{"VERSION":1,"TTL":3600,"PATHWAY-PRIORITY":["cdn-a"]}`)}
	c := New(fetcher, "https://cdn.example.com/steering.json", "cdn-a")

	c.Start(context.Background())
	c.Stop()

	if fetcher.callCount() != 1 {
		t.Errorf("callCount = %d, want 1 (one immediate fetch, timer never fires before Stop)", fetcher.callCount())
	}
}

func TestReloadWithNoURIConfiguredReturnsError(t *testing.T) {
	c := New(&fakeFetcher{}, "", "")
	if err := c.Reload(context.Background()); err == nil {
		t.Fatal("expected error when no reload URI is configured")
	}
}

func TestStartRespectsContextCancellation(t *testing.T) {
	fetcher := &fakeFetcher{body: []byte(`{"VERSION":1,"TTL":3600,"PATHWAY-PRIORITY":["cdn-a"]}`)}
	c := New(fetcher, "https://cdn.example.com/steering.json", "cdn-a")

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("background loop did not exit after context cancellation")
	}
}
