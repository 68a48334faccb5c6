package hls

import (
	"strconv"
	"strings"
	"time"

	"github.com/kestrelstream/manifestcore/internal/uri"
)

// keyRow is one entry of the currently-active #EXT-X-KEY set while a media playlist
// is scanned top-to-bottom; multiple concurrent key systems stack, per
// spec.md §4.5.2.
type keyRow struct {
	Method    string
	URI       string
	IV        string
	KeyFormat string
	KeyID     string
}

// mapRow is an #EXT-X-MAP row.
type mapRow struct {
	URI       string
	ByteRange string
}

// partRow is one #EXT-X-PART or the #EXT-X-PRELOAD-HINT speculative part.
type partRow struct {
	URI         string
	Duration    float64
	Independent bool
	ByteRange   string
	Gap         bool
	Preload     bool
}

// segmentDraft is one accumulated media-playlist segment before conversion
// to a segment.Reference, holding the stateful tags active when its
// trailing URI line was seen.
type segmentDraft struct {
	Duration              float64
	URI                   string
	ByteRange             string
	Map                   *mapRow
	Keys                  []keyRow
	Discontinuity         bool
	DiscontinuitySequence int
	ProgramDateTime       *time.Time
	Gap                   bool
	Bitrate               int
	MediaSequenceNumber   int64
	Parts                 []partRow
}

// mediaDoc is the intermediate parse of a media playlist.
type mediaDoc struct {
	TargetDuration         float64
	MediaSequence          int64
	DiscontinuitySequence  int
	PlaylistType           string // "", "EVENT", "VOD"
	EndList                bool
	PartTargetDuration     float64
	Segments               []segmentDraft
	Vars                   uri.Variables
}

func parseMedia(body string, parentVars uri.Variables) (*mediaDoc, error) {
	lines := splitLines(body)
	doc := &mediaDoc{Vars: uri.NewVariables()}
	for k, v := range parentVars {
		doc.Vars[k] = v
	}

	var (
		curMap           *mapRow
		curKeys          []keyRow
		discontinuitySeq int
		pendingDisc      bool
		pendingGap       bool
		trackedPDT       *time.Time // carries forward, advanced by each segment's duration
		pendingBitrate   int
		mediaSeq         int64
		pendingDuration  float64
		pendingByteRange string
		pendingParts     []partRow
		haveDuration     bool
	)

	for _, raw := range lines {
		line := doc.Vars.Substitute(raw)
		switch {
		case strings.HasPrefix(line, "#EXT-X-DEFINE:"):
			applyDefine(doc.Vars, attributes(tagValue(line, "#EXT-X-DEFINE:")), line)

		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			if f, ok := attrFloatScalar(tagValue(line, "#EXT-X-TARGETDURATION:")); ok {
				doc.TargetDuration = f
			}

		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			if n, ok := attrIntScalar(tagValue(line, "#EXT-X-MEDIA-SEQUENCE:")); ok {
				doc.MediaSequence = int64(n)
				mediaSeq = int64(n)
			}

		case strings.HasPrefix(line, "#EXT-X-DISCONTINUITY-SEQUENCE:"):
			if n, ok := attrIntScalar(tagValue(line, "#EXT-X-DISCONTINUITY-SEQUENCE:")); ok {
				doc.DiscontinuitySequence = n
				discontinuitySeq = n
			}

		case strings.HasPrefix(line, "#EXT-X-PLAYLIST-TYPE:"):
			doc.PlaylistType = strings.TrimSpace(tagValue(line, "#EXT-X-PLAYLIST-TYPE:"))

		case line == "#EXT-X-ENDLIST":
			doc.EndList = true

		case strings.HasPrefix(line, "#EXT-X-PART-INF:"):
			attrs := attributes(tagValue(line, "#EXT-X-PART-INF:"))
			if f, ok := attrFloat(attrs, "PART-TARGET"); ok {
				doc.PartTargetDuration = f
			}

		case strings.HasPrefix(line, "#EXT-X-MAP:"):
			attrs := attributes(tagValue(line, "#EXT-X-MAP:"))
			curMap = &mapRow{URI: attrs["URI"], ByteRange: attrs["BYTERANGE"]}

		case strings.HasPrefix(line, "#EXT-X-KEY:"):
			attrs := attributes(tagValue(line, "#EXT-X-KEY:"))
			row := keyRow{Method: attrs["METHOD"], URI: attrs["URI"], IV: attrs["IV"], KeyFormat: attrs["KEYFORMAT"], KeyID: attrs["KEYID"]}
			if strings.EqualFold(row.Method, "NONE") {
				curKeys = nil
			} else {
				curKeys = append(curKeys, row)
			}

		case strings.HasPrefix(line, "#EXT-X-BYTERANGE:"):
			pendingByteRange = tagValue(line, "#EXT-X-BYTERANGE:")

		case line == "#EXT-X-DISCONTINUITY":
			pendingDisc = true

		case strings.HasPrefix(line, "#EXT-X-PROGRAM-DATE-TIME:"):
			if t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(tagValue(line, "#EXT-X-PROGRAM-DATE-TIME:"))); err == nil {
				trackedPDT = &t
			}

		case line == "#EXT-X-GAP":
			pendingGap = true

		case strings.HasPrefix(line, "#EXT-X-BITRATE:"):
			if n, ok := attrIntScalar(tagValue(line, "#EXT-X-BITRATE:")); ok {
				pendingBitrate = n
			}

		case strings.HasPrefix(line, "#EXT-X-PART:"):
			attrs := attributes(tagValue(line, "#EXT-X-PART:"))
			p := partRow{URI: attrs["URI"], Independent: attrBool(attrs, "INDEPENDENT"), ByteRange: attrs["BYTERANGE"]}
			if f, ok := attrFloat(attrs, "DURATION"); ok {
				p.Duration = f
			}
			pendingParts = append(pendingParts, p)

		case strings.HasPrefix(line, "#EXT-X-PRELOAD-HINT:"):
			attrs := attributes(tagValue(line, "#EXT-X-PRELOAD-HINT:"))
			pendingParts = append(pendingParts, partRow{URI: attrs["URI"], Preload: true})

		case strings.HasPrefix(line, "#EXTINF:"):
			rest := tagValue(line, "#EXTINF:")
			sep := strings.Index(rest, ",")
			durStr := rest
			if sep >= 0 {
				durStr = rest[:sep]
			}
			if f, ok := attrFloatScalar(durStr); ok {
				pendingDuration = f
			}
			haveDuration = true

		case !strings.HasPrefix(line, "#"):
			if !haveDuration {
				continue
			}
			if pendingDuration == 0 {
				// EXTINF:0, is ignored: the URI line is consumed but no
				// segment reference is emitted for it.
				haveDuration = false
				pendingByteRange = ""
				pendingDisc = false
				pendingGap = false
				pendingBitrate = 0
				pendingParts = nil
				continue
			}
			d := segmentDraft{
				Duration:            pendingDuration,
				URI:                 line,
				ByteRange:           pendingByteRange,
				Map:                 curMap,
				Keys:                append([]keyRow{}, curKeys...),
				Discontinuity:       pendingDisc,
				Gap:                 pendingGap,
				Bitrate:             pendingBitrate,
				ProgramDateTime:     trackedPDT,
				MediaSequenceNumber: mediaSeq,
				Parts:               pendingParts,
			}
			if pendingDisc {
				discontinuitySeq++
			}
			d.DiscontinuitySequence = discontinuitySeq
			doc.Segments = append(doc.Segments, d)

			if trackedPDT != nil {
				advanced := trackedPDT.Add(time.Duration(pendingDuration * float64(time.Second)))
				trackedPDT = &advanced
			}

			mediaSeq++
			haveDuration = false
			pendingDuration = 0
			pendingByteRange = ""
			pendingDisc = false
			pendingGap = false
			pendingBitrate = 0
			pendingParts = nil
		}
	}

	return doc, nil
}

func attrFloatScalar(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func attrIntScalar(s string) (int, bool) {
	f, ok := attrFloatScalar(s)
	if !ok {
		return 0, false
	}
	return int(f), true
}
