package hls

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/kestrelstream/manifestcore/internal/config"
	"github.com/kestrelstream/manifestcore/internal/fetch"
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

const masterPlaylist = `#EXTM3U
#EXT-X-VERSION:7
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",NAME="English",LANGUAGE="en",DEFAULT=YES,AUTOSELECT=YES,URI="audio-en.m3u8"
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",NAME="French",LANGUAGE="fr",DEFAULT=NO,AUTOSELECT=YES,URI="audio-fr.m3u8"
#EXT-X-STREAM-INF:BANDWIDTH=1280000,AVERAGE-BANDWIDTH=1200000,CODECS="avc1.640028,mp4a.40.2",RESOLUTION=1280x720,FRAME-RATE=30.0,AUDIO="aud"
video-720.m3u8
#EXT-X-I-FRAME-STREAM-INF:BANDWIDTH=200000,CODECS="avc1.640028",RESOLUTION=1280x720,URI="iframe-720.m3u8"
`

const mediaPlaylist = `#EXTM3U
#EXT-X-VERSION:7
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:100
#EXT-X-PLAYLIST-TYPE:VOD
#EXT-X-MAP:URI="init.mp4"
#EXTINF:6.000,
seg100.m4s
#EXTINF:6.000,
seg101.m4s
#EXT-X-ENDLIST
`

const iframeMediaPlaylist = `#EXTM3U
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:100
#EXT-X-PLAYLIST-TYPE:VOD
#EXTINF:6.000,
#EXT-X-BYTERANGE:4096@0
iframe100.m4s
#EXT-X-ENDLIST
`

func masterFetcher() *fakeFetcher {
	return &fakeFetcher{byURI: map[string][]byte{
		"https://cdn.example.com/master.m3u8":    []byte(masterPlaylist),
		"https://cdn.example.com/video-720.m3u8":  []byte(mediaPlaylist),
		"https://cdn.example.com/audio-en.m3u8":   []byte(mediaPlaylist),
		"https://cdn.example.com/audio-fr.m3u8":   []byte(mediaPlaylist),
		"https://cdn.example.com/iframe-720.m3u8": []byte(iframeMediaPlaylist),
	}}
}

func TestParseMasterPairsStreamInfWithAudioRenditions(t *testing.T) {
	m, err := Parse(context.Background(), "https://cdn.example.com/master.m3u8", masterFetcher(), &config.Config{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(m.Variants) != 2 {
		t.Fatalf("len(Variants) = %d, want 2 (one per audio language)", len(m.Variants))
	}
	langs := map[string]bool{}
	for _, v := range m.Variants {
		if v.Video == nil || v.Audio == nil {
			t.Fatal("expected paired audio+video variant")
		}
		langs[v.Language] = true
		if v.Video.Width != 1280 || v.Video.Height != 720 {
			t.Errorf("video resolution = %dx%d, want 1280x720", v.Video.Width, v.Video.Height)
		}
		if v.Video.SegmentIndex == nil || v.Video.SegmentIndex.Len() != 2 {
			t.Errorf("video SegmentIndex.Len() = %v, want 2", v.Video.SegmentIndex)
		}
	}
	if !langs["en"] || !langs["fr"] {
		t.Errorf("expected both en and fr variants, got %v", langs)
	}
	if m.IsLive {
		t.Error("expected VOD media playlists to mark manifest non-live")
	}
}

func TestParseMasterAttachesTrickModeVideo(t *testing.T) {
	m, err := Parse(context.Background(), "https://cdn.example.com/master.m3u8", masterFetcher(), &config.Config{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	for _, v := range m.Variants {
		if v.Video.TrickModeVideo == nil {
			t.Error("expected I-FRAME-STREAM-INF to attach as TrickModeVideo on the matching resolution variant")
		}
	}
}

func TestParseBareMediaPlaylist(t *testing.T) {
	fetcher := &fakeFetcher{byURI: map[string][]byte{
		"https://cdn.example.com/stream.m3u8": []byte(mediaPlaylist),
	}}
	m, err := Parse(context.Background(), "https://cdn.example.com/stream.m3u8", fetcher, &config.Config{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(m.Variants) != 1 {
		t.Fatalf("len(Variants) = %d, want 1", len(m.Variants))
	}
	if m.Variants[0].Video.SegmentIndex.Len() != 2 {
		t.Errorf("SegmentIndex.Len() = %d, want 2", m.Variants[0].Video.SegmentIndex.Len())
	}
	if m.IsLive {
		t.Error("expected ENDLIST media playlist to parse as non-live")
	}
}

const liveMediaPlaylist = `#EXTM3U
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:5
#EXTINF:6.000,
seg5.m4s
#EXTINF:6.000,
seg6.m4s
`

func TestParseBareMediaPlaylistLiveWithoutEndlist(t *testing.T) {
	fetcher := &fakeFetcher{byURI: map[string][]byte{
		"https://cdn.example.com/live.m3u8": []byte(liveMediaPlaylist),
	}}
	m, err := Parse(context.Background(), "https://cdn.example.com/live.m3u8", fetcher, &config.Config{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !m.IsLive {
		t.Error("expected media playlist without #EXT-X-ENDLIST to parse as live")
	}
}

const aes128MediaPlaylist = `#EXTM3U
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:0
#EXT-X-KEY:METHOD=AES-128,URI="https://cdn.example.com/key1"
#EXTINF:6.000,
seg0.ts
#EXT-X-ENDLIST
`

func TestParseAES128SegmentCarriesKeyBytes(t *testing.T) {
	fetcher := &fakeFetcher{byURI: map[string][]byte{
		"https://cdn.example.com/aes.m3u8": []byte(aes128MediaPlaylist),
		"https://cdn.example.com/key1":     []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10},
	}}
	m, err := Parse(context.Background(), "https://cdn.example.com/aes.m3u8", fetcher, &config.Config{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	idx := m.Variants[0].Video.SegmentIndex
	if idx.Len() != 1 {
		t.Fatalf("SegmentIndex.Len() = %d, want 1", idx.Len())
	}
	ref := idx.Get(0)
	if len(ref.AESKey) != 16 {
		t.Fatalf("len(AESKey) = %d, want 16", len(ref.AESKey))
	}
}

func TestIVForSegmentFallsBackToSequenceNumber(t *testing.T) {
	iv := IVForSegment("", 42)
	if len(iv) != 16 {
		t.Fatalf("len(iv) = %d, want 16", len(iv))
	}
	want := byte(42)
	if iv[15] != want {
		t.Errorf("iv[15] = %d, want %d", iv[15], want)
	}
}

func TestParseRejectsMissingExtM3UHeader(t *testing.T) {
	fetcher := &fakeFetcher{byURI: map[string][]byte{
		"https://cdn.example.com/bad.m3u8": []byte("not a playlist\n"),
	}}
	_, err := Parse(context.Background(), "https://cdn.example.com/bad.m3u8", fetcher, &config.Config{})
	if err == nil {
		t.Fatal("expected an error for a body missing #EXTM3U")
	}
}
