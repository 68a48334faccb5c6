package manifestcore

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/kestrelstream/manifestcore/internal/config"
	"github.com/kestrelstream/manifestcore/internal/fetch"
	"github.com/kestrelstream/manifestcore/internal/manifest"
	"github.com/kestrelstream/manifestcore/internal/scheduler"
)

type fakeFetcher struct {
	byURI map[string][]byte
}

func (f *fakeFetcher) Request(ctx context.Context, reqType fetch.RequestType, uri, method string, headers http.Header, body io.Reader, rangeStart, rangeEnd *int64) (*fetch.Response, error) {
	b, ok := f.byURI[uri]
	if !ok {
		return nil, &missingFixtureError{uri: uri}
	}
	return &fetch.Response{URI: uri, Headers: http.Header{}, Bytes: b}, nil
}

type missingFixtureError struct{ uri string }

func (e *missingFixtureError) Error() string { return "no fixture for " + e.uri }

const liveMediaPlaylist = `#EXTM3U
#EXT-X-VERSION:7
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:6.0,
seg0.ts
#EXTINF:6.0,
seg1.ts
`

func TestParseDispatchesByExtension(t *testing.T) {
	fetcher := &fakeFetcher{byURI: map[string][]byte{
		"https://cdn.example.com/live.m3u8": []byte(liveMediaPlaylist),
	}}
	m, err := Parse(context.Background(), "https://cdn.example.com/live.m3u8", fetcher, &config.Config{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if m.Format != manifest.SourceHLS {
		t.Errorf("Format = %v, want %v", m.Format, manifest.SourceHLS)
	}
	if !m.IsLive {
		t.Error("expected live media playlist without EXT-X-ENDLIST to parse as live")
	}
	if m.RefreshIntervalSeconds == nil || *m.RefreshIntervalSeconds != 6 {
		t.Fatalf("RefreshIntervalSeconds = %v, want 6", m.RefreshIntervalSeconds)
	}
}

func TestStartAutoRefreshSchedulesLiveManifest(t *testing.T) {
	fetcher := &fakeFetcher{byURI: map[string][]byte{
		"https://cdn.example.com/live.m3u8": []byte(liveMediaPlaylist),
	}}
	m, err := Parse(context.Background(), "https://cdn.example.com/live.m3u8", fetcher, &config.Config{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	sched := scheduler.New()
	defer sched.CancelAll()

	if ok := StartAutoRefresh(context.Background(), sched, m, fetcher, &config.Config{}); !ok {
		t.Fatal("StartAutoRefresh() = false, want true for live manifest")
	}
	if sched.Len() != 1 {
		t.Fatalf("sched.Len() = %d, want 1", sched.Len())
	}
	sched.Cancel(m.URI)
}

func TestStartAutoRefreshNoopForVod(t *testing.T) {
	m := manifest.NewManifest("https://cdn.example.com/vod.m3u8", manifest.SourceHLS)
	m.IsLive = false

	sched := scheduler.New()
	defer sched.CancelAll()

	if ok := StartAutoRefresh(context.Background(), sched, m, &fakeFetcher{}, &config.Config{}); ok {
		t.Error("StartAutoRefresh() = true, want false for VOD manifest")
	}
	if sched.Len() != 0 {
		t.Errorf("sched.Len() = %d, want 0", sched.Len())
	}
}
