package dash

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kestrelstream/manifestcore/internal/manifest"
	"github.com/kestrelstream/manifestcore/internal/segment"
	"github.com/kestrelstream/manifestcore/internal/uri"
)

// addressingMode tags which of the four SegmentBase/SegmentList/
// SegmentTemplate+duration/SegmentTemplate+SegmentTimeline variants a
// Representation resolved to, per spec.md §9's tagged-variant design
// decision (kept here, not in internal/segment, since each mode's "generate
// next reference" logic is DASH-XML-attribute-driven).
type addressingMode int

const (
	modeSegmentBase addressingMode = iota
	modeSegmentList
	modeSegmentTemplateDuration
	modeSegmentTemplateTimeline
)

// resolvedAddressing is the fully-inherited addressing state for one
// Representation: whichever of SegmentBase/SegmentList/SegmentTemplate won
// by precedence, plus the values it inherited from AdaptationSet/Period.
type resolvedAddressing struct {
	mode addressingMode

	segmentBase     *SegmentBase
	segmentList     *SegmentList
	segmentTemplate *SegmentTemplate

	timescale   uint64
	startNumber uint64
}

// resolveAddressing picks the highest-precedence addressing element present
// across Representation > AdaptationSet (first match wins), per spec.md
// §4.4 step 4's precedence list: SegmentTemplate+Timeline >
// SegmentTemplate+duration > SegmentList > SegmentBase.
func resolveAddressing(as *AdaptationSet, rep *Representation) (resolvedAddressing, bool) {
	template := rep.SegmentTemplate
	if template == nil {
		template = as.SegmentTemplate
	}
	if template != nil {
		ts := template.Timescale
		if ts == 0 {
			ts = 1
		}
		sn := uint64(1)
		if template.StartNumber != nil {
			sn = *template.StartNumber
		}
		if template.SegmentTimeline != nil {
			return resolvedAddressing{mode: modeSegmentTemplateTimeline, segmentTemplate: template, timescale: ts, startNumber: sn}, true
		}
		if template.Duration > 0 {
			return resolvedAddressing{mode: modeSegmentTemplateDuration, segmentTemplate: template, timescale: ts, startNumber: sn}, true
		}
	}

	list := rep.SegmentList
	if list == nil {
		list = as.SegmentList
	}
	if list != nil {
		ts := list.Timescale
		if ts == 0 {
			ts = 1
		}
		sn := uint64(1)
		if list.StartNumber != nil {
			sn = *list.StartNumber
		}
		return resolvedAddressing{mode: modeSegmentList, segmentList: list, timescale: ts, startNumber: sn}, true
	}

	base := rep.SegmentBase
	if base == nil {
		base = as.SegmentBase
	}
	if base != nil {
		ts := base.Timescale
		if ts == 0 {
			ts = 1
		}
		return resolvedAddressing{mode: modeSegmentBase, segmentBase: base, timescale: ts}, true
	}

	return resolvedAddressing{}, false
}

// templateTokenPattern matches DASH URL template tokens, optionally with a
// printf-style zero-padding width, per spec.md §4.4.1.
var templateTokenPattern = regexp.MustCompile(`\$(RepresentationID|Number|Bandwidth|Time|SubNumber)(%0(\d+)d)?\$`)

// expandTemplate substitutes $RepresentationID$/$Number$/$Bandwidth$/
// $Time$/$SubNumber$ tokens, honouring the optional %0<N>d width.
func expandTemplate(template string, repID string, number, bandwidth, time, subNumber uint64) string {
	return templateTokenPattern.ReplaceAllStringFunc(template, func(tok string) string {
		m := templateTokenPattern.FindStringSubmatch(tok)
		name, width := m[1], m[3]
		var raw string
		switch name {
		case "RepresentationID":
			return repID
		case "Number":
			raw = strconv.FormatUint(number, 10)
		case "Bandwidth":
			raw = strconv.FormatUint(bandwidth, 10)
		case "Time":
			raw = strconv.FormatUint(time, 10)
		case "SubNumber":
			raw = strconv.FormatUint(subNumber, 10)
		}
		if width != "" {
			n, _ := strconv.Atoi(width)
			raw = fmt.Sprintf("%0*s", n, raw)
		}
		return raw
	})
}

// parseByteRange parses an MPD "start-end" byte range into (start, end);
// end is inclusive in the wire format, converted to the exclusive-open
// convention segment.Reference uses internally is left to the caller
// (Reference.EndByte here is the inclusive wire value + 0, matching how
// internal/probe and callers already treat byte ranges as [start, end]).
func parseByteRange(s string) (start, end int64, ok bool) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	a, err1 := strconv.ParseInt(parts[0], 10, 64)
	b, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return a, b, true
}

// materialiseSegmentList builds a segment.Index for SegmentList addressing:
// each SegmentURL becomes one reference, time-positioned by startNumber and
// the list's shared duration (spec.md §4.4.1 "each SegmentURL becomes one
// reference; startNumber and duration derive times").
func materialiseSegmentList(base *uri.Chain, addr resolvedAddressing, repID string, idx *segment.Index) error {
	list := addr.segmentList
	var initRef *segment.InitSegmentReference
	if list.Initialization != nil && list.Initialization.SourceURL != "" {
		initURI, err := base.Resolve(list.Initialization.SourceURL)
		if err != nil {
			return err
		}
		start, end, _ := parseByteRange(list.Initialization.Range)
		if list.Initialization.Range == "" {
			end = -1
		}
		initRef = idx.ShareInit(initURI, start, end, "", nil)
	}

	refs := make([]*segment.Reference, 0, len(list.SegmentURLs))
	number := addr.startNumber
	var t float64
	durationSeconds := float64(list.Duration) / float64(addr.timescale)
	for _, su := range list.SegmentURLs {
		mediaURI, err := base.Resolve(su.Media)
		if err != nil {
			return fmt.Errorf("dash: resolving SegmentURL for %s: %w", repID, err)
		}
		startByte, endByte := int64(0), int64(-1)
		if su.MediaRange != "" {
			startByte, endByte, _ = parseByteRange(su.MediaRange)
		}
		refs = append(refs, &segment.Reference{
			StartTime:           t,
			EndTime:             t + durationSeconds,
			URIs:                []string{mediaURI},
			StartByte:           startByte,
			EndByte:             endByte,
			InitSegment:         initRef,
			MediaSequenceNumber: -1,
		})
		t += durationSeconds
		number++
	}
	return idx.Append(refs)
}

// materialiseSegmentTemplateTimeline expands a SegmentTimeline's `<S>`
// tuples into an explicit reference list, per spec.md §4.4.1: `t` omitted
// continues from the previous entry's end time; `r` is exclusive of the
// first S's own occurrence (r=2 means the tuple occurs 3 times total);
// r=-1 repeats until the Period ends, which callers signal via
// periodEndSeconds (0 or negative means "unbounded", i.e. live).
func materialiseSegmentTemplateTimeline(base *uri.Chain, addr resolvedAddressing, repID string, bandwidth uint64, periodEndSeconds float64, idx *segment.Index) error {
	tmpl := addr.segmentTemplate
	var initRef *segment.InitSegmentReference
	if tmpl.Initialization != "" {
		initURI, err := base.Resolve(expandTemplate(tmpl.Initialization, repID, 0, bandwidth, 0, 0))
		if err != nil {
			return err
		}
		initRef = idx.ShareInit(initURI, 0, -1, "", nil)
	}

	var refs []*segment.Reference
	var cursorTime uint64
	number := addr.startNumber
	for _, s := range tmpl.SegmentTimeline.S {
		if s.T != nil {
			cursorTime = *s.T
		}
		repeat := int64(0)
		if s.R != nil {
			repeat = *s.R
		}
		occurrences := repeat + 1
		unbounded := repeat == -1
		for i := int64(0); unbounded || i < occurrences; i++ {
			startSeconds := float64(cursorTime) / float64(addr.timescale)
			endSeconds := float64(cursorTime+s.D) / float64(addr.timescale)
			if unbounded && periodEndSeconds > 0 && startSeconds >= periodEndSeconds {
				break
			}
			mediaURI, err := base.Resolve(expandTemplate(tmpl.Media, repID, number, bandwidth, cursorTime, 0))
			if err != nil {
				return fmt.Errorf("dash: resolving SegmentTemplate media for %s: %w", repID, err)
			}
			refs = append(refs, &segment.Reference{
				StartTime:           startSeconds,
				EndTime:             endSeconds,
				URIs:                []string{mediaURI},
				EndByte:             -1,
				InitSegment:         initRef,
				MediaSequenceNumber: -1,
			})
			cursorTime += s.D
			number++
		}
	}
	return idx.Append(refs)
}

// liveAddressingClock carries the wall-clock state materialiseSegmentTemplateDuration
// needs to compute which segment numbers currently exist: unlike
// SegmentTimeline, SegmentTemplate@duration carries no explicit segment
// list, so availability is derived from wall-clock time per ISO/IEC
// 23009-1 §5.3.9.5.3, re-derived on every Parse/Refresh call rather than
// accumulated across them.
type liveAddressingClock struct {
	// periodElapsedSeconds is serverNow - availabilityStartTime -
	// Period@start, i.e. how far the live edge has advanced into this
	// Period.
	periodElapsedSeconds float64
	// windowSeconds bounds how far back from the live edge to generate
	// segments (MPD@timeShiftBufferDepth); 0 means the MPD declared none,
	// so a small fixed-size lookback is used instead of walking back to
	// the Period start.
	windowSeconds float64
}

// materialiseSegmentTemplateDuration generates an arithmetic sequence of
// references from SegmentTemplate@duration, bounded by periodEndSeconds
// when positive (VOD). For a live Period (periodEndSeconds <= 0) it
// generates the window of segment numbers currently available at live.
// MediaSequenceNumber is set to the computed segment number so
// segment.Index.Merge can align a regenerated reference with the one it
// already holds instead of falling back to closestByTime, letting the
// index actually grow as the live edge advances across refreshes.
func materialiseSegmentTemplateDuration(base *uri.Chain, addr resolvedAddressing, repID string, bandwidth uint64, periodEndSeconds float64, live liveAddressingClock, idx *segment.Index) error {
	tmpl := addr.segmentTemplate
	var initRef *segment.InitSegmentReference
	if tmpl.Initialization != "" {
		initURI, err := base.Resolve(expandTemplate(tmpl.Initialization, repID, 0, bandwidth, 0, 0))
		if err != nil {
			return err
		}
		initRef = idx.ShareInit(initURI, 0, -1, "", nil)
	}

	durationSeconds := float64(tmpl.Duration) / float64(addr.timescale)
	if durationSeconds <= 0 {
		return fmt.Errorf("dash: SegmentTemplate@duration must be positive for %s", repID)
	}

	firstOffset, lastOffset := liveSegmentOffsetRange(periodEndSeconds, live, durationSeconds)

	var refs []*segment.Reference
	for offset := firstOffset; offset <= lastOffset; offset++ {
		number := addr.startNumber + uint64(offset)
		t := float64(offset) * durationSeconds
		mediaURI, err := base.Resolve(expandTemplate(tmpl.Media, repID, number, bandwidth, uint64(t*float64(addr.timescale)), 0))
		if err != nil {
			return fmt.Errorf("dash: resolving SegmentTemplate media for %s: %w", repID, err)
		}
		refs = append(refs, &segment.Reference{
			StartTime:           t,
			EndTime:             t + durationSeconds,
			URIs:                []string{mediaURI},
			EndByte:             -1,
			InitSegment:         initRef,
			MediaSequenceNumber: int64(number),
		})
	}
	return idx.Append(refs)
}

// liveSegmentOffsetRange returns the inclusive [first, last] segment-number
// offsets (relative to startNumber) to materialise. For VOD that is the
// whole period. For live it is every segment whose interval has fully
// elapsed as of live.periodElapsedSeconds, bounded below by
// live.windowSeconds (or a 3-segment lookback absent a declared window).
func liveSegmentOffsetRange(periodEndSeconds float64, live liveAddressingClock, durationSeconds float64) (first, last int64) {
	if periodEndSeconds > 0 {
		last = int64(periodEndSeconds/durationSeconds) - 1
		if last < 0 {
			last = 0
		}
		return 0, last
	}

	elapsed := live.periodElapsedSeconds
	if elapsed < 0 {
		elapsed = 0
	}
	last = int64(elapsed/durationSeconds) - 1
	if last < 0 {
		last = 0
	}

	windowSeconds := live.windowSeconds
	if windowSeconds <= 0 {
		windowSeconds = 3 * durationSeconds
	}
	first = last - int64(windowSeconds/durationSeconds)
	if first < 0 {
		first = 0
	}
	return first, last
}

// materialiseSegmentBase builds a single-reference index for SegmentBase
// addressing: one segment spanning the whole resource, per spec.md §4.4.1.
// @indexRange's sidx box is not eagerly parsed here (that's deferred to
// first createSegmentIndex per the spec's laziness requirement). The
// reference's StartByte/EndByte are 0/-1, the whole resource; @indexRange
// is not carried on the reference.
func materialiseSegmentBase(base *uri.Chain, addr resolvedAddressing, repID string, mediaURI string, idx *segment.Index) error {
	sb := addr.segmentBase
	var initRef *segment.InitSegmentReference
	if sb.Initialization != nil && sb.Initialization.SourceURL != "" {
		initURI, err := base.Resolve(sb.Initialization.SourceURL)
		if err != nil {
			return err
		}
		start, end, ok := parseByteRange(sb.Initialization.Range)
		if !ok {
			start, end = 0, -1
		}
		initRef = idx.ShareInit(initURI, start, end, "", nil)
	}

	resolved, err := base.Resolve(mediaURI)
	if err != nil {
		return fmt.Errorf("dash: resolving SegmentBase media for %s: %w", repID, err)
	}
	startByte, endByte := int64(0), int64(-1)
	ref := &segment.Reference{
		StartTime:           0,
		EndTime:             0, // materialiseIndex sets it to the period end when the period duration is known
		URIs:                []string{resolved},
		StartByte:           startByte,
		EndByte:             endByte,
		InitSegment:         initRef,
		MediaSequenceNumber: -1,
	}
	return idx.Append([]*segment.Reference{ref})
}

// countAddressingElements counts how many of SegmentTemplate/SegmentList/
// SegmentBase are present at the Representation-or-inherited-AdaptationSet
// level, used to detect the spec.md §9 Open Question 1 ambiguity.
func countAddressingElements(as *AdaptationSet, rep *Representation) int {
	n := 0
	if rep.SegmentTemplate != nil || as.SegmentTemplate != nil {
		n++
	}
	if rep.SegmentList != nil || as.SegmentList != nil {
		n++
	}
	if rep.SegmentBase != nil || as.SegmentBase != nil {
		n++
	}
	return n
}

// newDiagnosticForUnresolvedAddressing records the spec.md §9 Open Question
// 1 resolution: when more than one addressing element is present at the
// same inheritance level, the ignored ones are not silently dropped.
func newDiagnosticForUnresolvedAddressing(context string) *manifest.Error {
	return manifest.NewWarning(manifest.CategoryUnrecognisedScheme, context, fmt.Errorf("multiple segment addressing elements present; using highest-precedence one"))
}
