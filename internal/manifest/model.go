// Package manifest defines the uniform Manifest/Variant/Stream model shared
// by the DASH and HLS parsers, the error taxonomy they report through, and
// the event/diagnostics types their callers observe, per spec.md §3, §6
// and §7.
package manifest

import (
	"github.com/kestrelstream/manifestcore/internal/drm"
	"github.com/kestrelstream/manifestcore/internal/segment"
	"github.com/kestrelstream/manifestcore/internal/timeline"
)

// SourceFormat tags which wire dialect a Manifest was parsed from.
type SourceFormat string

const (
	SourceDASH SourceFormat = "dash"
	SourceHLS  SourceFormat = "hls"
)

// StreamKind identifies the media type of a Stream.
type StreamKind string

const (
	KindAudio StreamKind = "audio"
	KindVideo StreamKind = "video"
	KindText  StreamKind = "text"
	KindImage StreamKind = "image"
)

// ClosedCaption maps a CEA-608/708 instream id (e.g. "CC1", "SERVICE1") to
// its advertised language.
type ClosedCaption struct {
	InstreamID string
	Language   string
}

// Stream is the common record for one media track, per spec.md §3 "Stream".
// Created once per Representation/Rendition and reused across live updates
// so subscribers observe segmentIndex growth rather than object
// replacement.
type Stream struct {
	ID   string
	Kind StreamKind

	MimeType string
	// Codecs is the normalised RFC 6381 codec string, e.g. "avc1.64001f".
	Codecs string

	// Video attributes.
	Width            int
	Height           int
	FrameRate        float64
	PixelAspectRatio string
	HDR              string
	VideoLayout      string

	// Audio attributes.
	ChannelsCount     int
	AudioSamplingRate int
	SpatialAudio      bool

	Language         string
	OriginalLanguage string
	Label            string
	Roles            []string
	Forced           bool

	ClosedCaptions []ClosedCaption

	DRMInfo []*drm.Info

	// SegmentIndex is created lazily — nil until the parser first
	// materialises segments for this stream (DASH: during parse; HLS: once
	// the stream's own media playlist has been fetched).
	SegmentIndex *segment.Index

	// TrickModeVideo is an optional reference to a peer video Stream
	// used for seek-preview frames (DASH AdaptationSet with the trickmode
	// EssentialProperty, HLS I-FRAME-STREAM-INF).
	TrickModeVideo *Stream

	Encrypted bool

	// Unloaded is set for an HLS stream whose own media playlist has not
	// yet been fetched; MimeType and other attributes derived only from
	// the playlist body are refined once it is.
	Unloaded bool

	// Bandwidth is this stream's own bitrate where the format expresses one
	// per-track (HLS EXT-X-MEDIA has none; DASH Representation always
	// does).
	Bandwidth int

	// Ended marks a live stream whose own playlist has reached its end
	// (HLS #EXT-X-ENDLIST). DASH tracks end-of-presentation at the
	// Manifest level (MPD@type) instead, so this is always false there.
	Ended bool

	// RefreshURI is the address Refresh re-fetches this stream's own
	// playlist from. Only meaningful for formats that address streams
	// individually (HLS media playlists); empty for formats that refresh
	// by re-parsing the whole manifest (DASH), and for a Stream assembled
	// without its own playlist fetch.
	RefreshURI string

	// TargetDurationSeconds is this stream's own media playlist
	// #EXT-X-TARGETDURATION, used to derive Manifest.RefreshIntervalSeconds.
	// Zero for DASH and for an unloaded HLS stream.
	TargetDurationSeconds float64
}

// Variant pairs an optional audio Stream and optional video Stream (plus
// optional text) that may be rendered together, per spec.md §3 "Variant".
// At least one of Audio/Video must be non-nil.
type Variant struct {
	ID string

	Bandwidth int
	Language  string
	Primary   bool

	DRMInfo []*drm.Info

	Video *Stream
	Audio *Stream
	Text  *Stream
}

// Manifest is the uniform top-level container produced by both parsers,
// per spec.md §3 "Manifest". Created once per manifest URL; its identity
// (and that of its Variants/Streams) is stable across live updates so
// callers observe index growth, not object replacement.
type Manifest struct {
	URI    string
	Format SourceFormat

	Timeline *timeline.Timeline

	Variants     []*Variant
	TextStreams  []*Stream
	ImageStreams []*Stream

	IsLive bool
	// SequenceMode is an HLS hint to consumers to address segments by
	// sequence number rather than timestamp.
	SequenceMode bool

	// StartTimeSeconds is an optional presentation start-time offset
	// (HLS #EXT-X-START). The DASH parser leaves it nil.
	StartTimeSeconds *float64

	// RefreshIntervalSeconds is how often a live Manifest's caller should
	// invoke Refresh: DASH MPD@minimumUpdatePeriod, or HLS's shortest
	// media-playlist @EXT-X-TARGETDURATION. Nil for a VOD Manifest.
	RefreshIntervalSeconds *float64

	Diagnostics *Diagnostics
}

// NewManifest constructs an empty Manifest ready for a parser to populate.
func NewManifest(uri string, format SourceFormat) *Manifest {
	return &Manifest{
		URI:         uri,
		Format:      format,
		Diagnostics: NewDiagnostics(),
	}
}

// AllStreams returns every Stream reachable from the Manifest: each
// Variant's audio/video/text plus TextStreams and ImageStreams, useful for
// callers that need to walk every DRM info set or segment index.
func (m *Manifest) AllStreams() []*Stream {
	seen := make(map[*Stream]bool)
	var out []*Stream
	add := func(s *Stream) {
		if s == nil || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, v := range m.Variants {
		add(v.Audio)
		add(v.Video)
		add(v.Text)
	}
	for _, s := range m.TextStreams {
		add(s)
	}
	for _, s := range m.ImageStreams {
		add(s)
	}
	return out
}
