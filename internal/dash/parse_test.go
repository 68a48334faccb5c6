package dash

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/kestrelstream/manifestcore/internal/config"
	"github.com/kestrelstream/manifestcore/internal/fetch"
	"github.com/kestrelstream/manifestcore/internal/manifest"
)

type fakeFetcher struct {
	byURI map[string][]byte
}

func (f *fakeFetcher) Request(ctx context.Context, reqType fetch.RequestType, uri, method string, headers http.Header, body io.Reader, rangeStart, rangeEnd *int64) (*fetch.Response, error) {
	b, ok := f.byURI[uri]
	if !ok {
		return nil, &httpMissingError{uri: uri}
	}
	return &fetch.Response{URI: uri, Headers: http.Header{}, Bytes: b}, nil
}

type httpMissingError struct{ uri string }

func (e *httpMissingError) Error() string { return "no fixture for " + e.uri }

const vodMPD = `<?xml version="1.0" encoding="utf-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static" mediaPresentationDuration="PT30S" minBufferTime="PT2S" profiles="urn:mpeg:dash:profile:isoff-live:2011">
  <Period id="0" start="PT0S">
    <AdaptationSet mimeType="video/mp4" contentType="video" segmentAlignment="true">
      <ContentProtection schemeIdUri="urn:mpeg:dash:mp4protection:2011" value="cenc" default_KID="11111111-2222-3333-4444-555555555555"/>
      <ContentProtection schemeIdUri="urn:uuid:edef8ba9-79d6-4ace-a3c8-27dcd51d21ed" value="widevine"/>
      <SegmentTemplate timescale="90000" media="$RepresentationID$/$Number%05d$.m4s" initialization="$RepresentationID$/init.mp4" startNumber="1">
        <SegmentTimeline>
          <S t="0" d="450000" r="2"/>
        </SegmentTimeline>
      </SegmentTemplate>
      <Representation id="video-1" bandwidth="2000000" width="1920" height="1080" codecs="avc1.640028"/>
    </AdaptationSet>
    <AdaptationSet mimeType="audio/mp4" contentType="audio" lang="en">
      <SegmentTemplate timescale="48000" media="$RepresentationID$/$Number%05d$.m4s" initialization="$RepresentationID$/init.mp4" startNumber="1" duration="240000"/>
      <Representation id="audio-1" bandwidth="128000" audioSamplingRate="48000" codecs="mp4a.40.2"/>
    </AdaptationSet>
  </Period>
</MPD>`

func TestParseVodSegmentTemplateTimeline(t *testing.T) {
	fetcher := &fakeFetcher{byURI: map[string][]byte{
		"https://cdn.example.com/stream.mpd": []byte(vodMPD),
	}}
	m, err := Parse(context.Background(), "https://cdn.example.com/stream.mpd", fetcher, &config.Config{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if m.IsLive {
		t.Error("expected static MPD to parse as non-live")
	}
	if len(m.Variants) != 1 {
		t.Fatalf("len(Variants) = %d, want 1", len(m.Variants))
	}
	v := m.Variants[0]
	if v.Video == nil || v.Audio == nil {
		t.Fatal("expected paired audio+video variant")
	}
	if v.Video.SegmentIndex == nil {
		t.Fatal("expected video SegmentIndex to be materialised")
	}
	if got := v.Video.SegmentIndex.Len(); got != 3 {
		t.Errorf("video SegmentIndex.Len() = %d, want 3 (S r=2 means 3 occurrences)", got)
	}
	first := v.Video.SegmentIndex.Get(0)
	if first.StartTime != 0 || first.EndTime != 5 {
		t.Errorf("first ref = [%v, %v), want [0, 5)", first.StartTime, first.EndTime)
	}
	third := v.Video.SegmentIndex.Get(2)
	if third.StartTime != 10 {
		t.Errorf("third ref start = %v, want 10", third.StartTime)
	}

	if len(v.Video.DRMInfo) != 1 {
		t.Fatalf("len(Video.DRMInfo) = %d, want 1 (widevine; mp4protection default_KID folds into it)", len(v.Video.DRMInfo))
	}
	widevine := v.Video.DRMInfo[0]
	if widevine.KeySystem != "com.widevine.alpha" {
		t.Fatalf("KeySystem = %q, want com.widevine.alpha", widevine.KeySystem)
	}
	if len(widevine.KeyIDs) != 1 {
		t.Errorf("widevine key id count = %d, want 1 (inherited from default_KID)", len(widevine.KeyIDs))
	}
}

const liveMPD = `<?xml version="1.0" encoding="utf-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="dynamic" availabilityStartTime="1970-01-01T00:00:00Z" suggestedPresentationDelay="PT0S" timeShiftBufferDepth="PT60S" minBufferTime="PT2S" profiles="urn:mpeg:dash:profile:isoff-live:2011">
  <Period id="0" start="PT0S">
    <AdaptationSet mimeType="video/mp4" contentType="video">
      <SegmentTemplate timescale="1" media="$RepresentationID$/$Number$.m4s" initialization="$RepresentationID$/init.mp4" startNumber="1" duration="5"/>
      <Representation id="video-1" bandwidth="1000000" width="1280" height="720" codecs="avc1.640028"/>
    </AdaptationSet>
  </Period>
</MPD>`

func TestParseLiveMarksManifestLive(t *testing.T) {
	fetcher := &fakeFetcher{byURI: map[string][]byte{
		"https://cdn.example.com/live.mpd": []byte(liveMPD),
	}}
	m, err := Parse(context.Background(), "https://cdn.example.com/live.mpd", fetcher, &config.Config{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !m.IsLive {
		t.Error("expected dynamic MPD to parse as live")
	}
	if !m.Timeline.IsLive() {
		t.Error("expected Timeline.IsLive() true")
	}
}

func TestParseRejectsInvalidRoot(t *testing.T) {
	fetcher := &fakeFetcher{byURI: map[string][]byte{
		"https://cdn.example.com/bad.mpd": []byte(`<NotMPD/>`),
	}}
	_, err := Parse(context.Background(), "https://cdn.example.com/bad.mpd", fetcher, &config.Config{})
	if !manifest.IsCategory(err, manifest.CategoryInvalidXML) {
		t.Fatalf("expected CategoryInvalidXML, got %v", err)
	}
}

// TestParseLiveUTCTimingSyncE2 exercises resolveUTCTiming and
// Timeline.SetClockOffset together through Parse, mirroring the spec's own
// UTC-sync scenario: a server clock 25s ahead of availabilityStartTime,
// suggestedPresentationDelay and maxSegmentDuration both zero, expecting
// seekRangeEnd == 25. availabilityStartTime and the UTCTiming value are
// both expressed relative to the real clock at test time rather than fixed
// epoch offsets, so the assertion holds regardless of when the test runs.
func TestParseLiveUTCTimingSyncE2(t *testing.T) {
	server := time.Now().UTC().Add(20 * time.Second)
	availabilityStart := server.Add(-25 * time.Second)

	mpd := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="dynamic" availabilityStartTime="%s" suggestedPresentationDelay="PT0S" timeShiftBufferDepth="PT60S" minBufferTime="PT2S" profiles="urn:mpeg:dash:profile:isoff-live:2011">
  <UTCTiming schemeIdUri="urn:mpeg:dash:utc:direct:2014" value="%s"/>
  <Period id="0" start="PT0S">
    <AdaptationSet mimeType="video/mp4" contentType="video">
      <SegmentTemplate timescale="1" media="$RepresentationID$/$Number$.m4s" initialization="$RepresentationID$/init.mp4" startNumber="1" duration="5"/>
      <Representation id="video-1" bandwidth="1000000" width="1280" height="720" codecs="avc1.640028"/>
    </AdaptationSet>
  </Period>
</MPD>`, availabilityStart.Format(time.RFC3339), server.Format(time.RFC3339))

	fetcher := &fakeFetcher{byURI: map[string][]byte{
		"https://cdn.example.com/live.mpd": []byte(mpd),
	}}
	m, err := Parse(context.Background(), "https://cdn.example.com/live.mpd", fetcher, &config.Config{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	got := m.Timeline.SeekRangeEnd()
	if math.Abs(got-25) > 0.5 {
		t.Errorf("SeekRangeEnd() = %v, want ~25 (resolveUTCTiming's offset must match Timeline's local-minus-server convention)", got)
	}
}

// TestParseLiveSegmentTemplateDurationGrowsAcrossRefresh exercises spec
// §4.4's live-refresh contract for SegmentTemplate@duration addressing
// (no SegmentTimeline): the index must hold more than the single t=0
// reference, and merging a freshly re-parsed manifest into it must align
// by the segment's own number rather than falling back to closestByTime.
func TestParseLiveSegmentTemplateDurationGrowsAcrossRefresh(t *testing.T) {
	availabilityStart := time.Now().UTC().Add(-1 * time.Hour)
	mpd := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="dynamic" availabilityStartTime="%s" suggestedPresentationDelay="PT0S" timeShiftBufferDepth="PT30S" minBufferTime="PT2S" profiles="urn:mpeg:dash:profile:isoff-live:2011">
  <Period id="0" start="PT0S">
    <AdaptationSet mimeType="video/mp4" contentType="video">
      <SegmentTemplate timescale="1" media="$RepresentationID$/$Number$.m4s" initialization="$RepresentationID$/init.mp4" startNumber="1" duration="5"/>
      <Representation id="video-1" bandwidth="1000000" width="1280" height="720" codecs="avc1.640028"/>
    </AdaptationSet>
  </Period>
</MPD>`, availabilityStart.Format(time.RFC3339))

	fetcher := &fakeFetcher{byURI: map[string][]byte{
		"https://cdn.example.com/live.mpd": []byte(mpd),
	}}
	m, err := Parse(context.Background(), "https://cdn.example.com/live.mpd", fetcher, &config.Config{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	idx := m.Variants[0].Video.SegmentIndex
	if idx.Len() <= 1 {
		t.Fatalf("Len() = %d, want > 1 for a live SegmentTemplate@duration window", idx.Len())
	}
	first := idx.Get(0)

	if err := Refresh(context.Background(), m, fetcher, &config.Config{}); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	refreshed := m.Variants[0].Video.SegmentIndex
	if refreshed.Len() <= 1 {
		t.Fatalf("Len() after Refresh = %d, want > 1", refreshed.Len())
	}
	if refreshed.Get(0) != first {
		t.Error("expected the oldest still-held reference's identity to survive Refresh, per spec.md §8 property 4")
	}
}
