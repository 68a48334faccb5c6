package manifest

import (
	"testing"

	"github.com/kestrelstream/manifestcore/internal/timeline"
)

func TestAllStreamsDeduplicates(t *testing.T) {
	m := NewManifest("https://cdn.example.com/master.m3u8", SourceHLS)
	m.Timeline = timeline.NewVod(30)

	shared := &Stream{ID: "audio-en", Kind: KindAudio}
	video1 := &Stream{ID: "video-1", Kind: KindVideo}
	video2 := &Stream{ID: "video-2", Kind: KindVideo}

	m.Variants = []*Variant{
		{ID: "v1", Audio: shared, Video: video1},
		{ID: "v2", Audio: shared, Video: video2},
	}

	all := m.AllStreams()
	if len(all) != 3 {
		t.Fatalf("AllStreams() len = %d, want 3 (shared audio deduplicated)", len(all))
	}
}

func TestAllStreamsIncludesTextAndImage(t *testing.T) {
	m := NewManifest("https://cdn.example.com/master.m3u8", SourceHLS)
	textStream := &Stream{ID: "subs-en", Kind: KindText}
	imageStream := &Stream{ID: "thumbs", Kind: KindImage}
	m.TextStreams = []*Stream{textStream}
	m.ImageStreams = []*Stream{imageStream}

	all := m.AllStreams()
	if len(all) != 2 {
		t.Fatalf("AllStreams() len = %d, want 2", len(all))
	}
}

func TestNewManifestHasDiagnostics(t *testing.T) {
	m := NewManifest("https://cdn.example.com/stream.mpd", SourceDASH)
	if m.Diagnostics == nil {
		t.Fatal("expected NewManifest to initialise Diagnostics")
	}
	if m.Format != SourceDASH {
		t.Errorf("Format = %v, want SourceDASH", m.Format)
	}
}
