package hls

import (
	"context"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/kestrelstream/manifestcore/internal/fetch"
	"github.com/kestrelstream/manifestcore/internal/manifest"
)

// inferMimeType implements spec.md §4.5.4's priority order: explicit codec
// special-cases, then file extension, then a HEAD probe of the first
// segment, then a configured/format fallback.
func inferMimeType(ctx context.Context, kind manifest.StreamKind, codecs string, firstSegmentURI string, fetcher fetch.Fetcher, fallback string) string {
	lowerCodecs := strings.ToLower(codecs)
	switch {
	case strings.HasPrefix(lowerCodecs, "mp4a.40.34"):
		return "audio/mpeg"
	case strings.Contains(lowerCodecs, "jpeg"), strings.Contains(lowerCodecs, "mjpg"):
		return "image/jpeg"
	case strings.HasPrefix(lowerCodecs, "wvtt"):
		return "application/mp4"
	case lowerCodecs == "vtt":
		return "text/vtt"
	case strings.HasPrefix(lowerCodecs, "stpp.ttml"):
		return "application/mp4"
	}

	if firstSegmentURI != "" {
		if mt, ok := mimeFromExtension(firstSegmentURI); ok {
			return mt
		}
	}

	if fetcher != nil && firstSegmentURI != "" {
		resp, err := fetcher.Request(ctx, fetch.RequestSegment, firstSegmentURI, http.MethodHead, nil, nil, nil, nil)
		if err == nil {
			if ct := resp.Headers.Get("Content-Type"); ct != "" {
				if mediaType, _, err := mime.ParseMediaType(ct); err == nil && mediaType != "" {
					return mediaType
				}
			}
		}
	}

	if fallback != "" {
		return fallback
	}
	return "video/mp4"
}

func mimeFromExtension(uri string) (string, bool) {
	ext := strings.ToLower(path.Ext(stripQuery(uri)))
	switch ext {
	case ".mp4", ".m4s", ".m4v", ".m4a":
		return "application/mp4", true
	case ".ts":
		return "video/mp2t", true
	case ".aac":
		return "audio/aac", true
	case ".mp3":
		return "audio/mpeg", true
	case ".vtt":
		return "text/vtt", true
	default:
		return "", false
	}
}

func stripQuery(uri string) string {
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		return uri[:i]
	}
	return uri
}
