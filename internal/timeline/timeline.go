// Package timeline implements the presentation timeline shared by the DASH
// and HLS parsers: the authoritative source of duration, live/VOD status,
// availability window and seek range, per spec.md §3 "Presentation
// timeline" and §4.1.
package timeline

import (
	"math"
	"sync"
	"time"
)

// nowFunc is overridden in tests so seekRangeEnd math is deterministic.
var nowFunc = time.Now

// Timeline holds the mutable state backing a Manifest's presentation
// timeline. All queries and mutations are safe for concurrent use since the
// scheduler may be advancing the timeline on a background goroutine while
// the caller reads seek range from another.
type Timeline struct {
	mu sync.RWMutex

	live bool

	// durationSeconds is the known VOD duration, or +Inf for a live
	// presentation whose end is not yet known (isInProgress with no
	// declared end).
	durationSeconds float64

	// presentationStartTimeUnixMs is the wall-clock origin of time zero,
	// used only when live.
	presentationStartTimeUnixMs int64

	// segmentAvailabilityDurationSeconds is the sliding window depth; +Inf
	// for an unbounded (DVR-style) live window.
	segmentAvailabilityDurationSeconds float64

	maxSegmentDurationSeconds float64
	suggestedPresentationDelaySeconds float64

	// clockOffsetMs is local-minus-server; server_now = local_now -
	// clockOffsetMs.
	clockOffsetMs int64

	// inProgress marks a live presentation that has since ended (HLS
	// #EXT-X-ENDLIST / DASH type switched to static) but whose duration is
	// now known rather than unbounded.
	inProgress bool
}

// NewVod constructs a static, bounded timeline. duration may be
// math.Inf(1) if genuinely unknown (spec.md treats this as a degenerate
// case; callers should prefer a concrete duration whenever declared).
func NewVod(durationSeconds float64) *Timeline {
	return &Timeline{
		live:                               false,
		durationSeconds:                    durationSeconds,
		segmentAvailabilityDurationSeconds: math.Inf(1),
	}
}

// NewLive constructs a live timeline. startUtcMs is the presentation's
// wall-clock time origin (DASH availabilityStartTime, HLS program-date-time
// of media sequence zero). windowSeconds is the sliding availability
// window depth (DASH timeShiftBufferDepth; +Inf if absent, meaning an
// unbounded DVR window). suggestedDelaySeconds is the recommended distance
// to stay behind the live edge.
func NewLive(startUtcMs int64, windowSeconds, suggestedDelaySeconds float64) *Timeline {
	return &Timeline{
		live:                               true,
		durationSeconds:                    math.Inf(1),
		presentationStartTimeUnixMs:        startUtcMs,
		segmentAvailabilityDurationSeconds: windowSeconds,
		suggestedPresentationDelaySeconds:  suggestedDelaySeconds,
	}
}

// SetClockOffset records the local/server clock offset derived from
// UTCTiming or HLS #EXT-X-PROGRAM-DATE-TIME cross-checks. offsetMs is
// local-minus-server, matching spec.md §3's "clockOffsetMs (local minus
// server)".
func (t *Timeline) SetClockOffset(offsetMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clockOffsetMs = offsetMs
}

// SetMaxSegmentDuration records the largest segment duration observed or
// declared (DASH @maxSegmentDuration, or the largest EXTINF seen), used to
// keep the live edge from exposing a segment that may not be fully
// available yet.
func (t *Timeline) SetMaxSegmentDuration(seconds float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if seconds > t.maxSegmentDurationSeconds {
		t.maxSegmentDurationSeconds = seconds
	}
}

// SetSuggestedPresentationDelay overrides the suggested live-edge delay,
// e.g. from a DASH MPD update or HLS #EXT-X-START:TIME-OFFSET=.
func (t *Timeline) SetSuggestedPresentationDelay(seconds float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.suggestedPresentationDelaySeconds = seconds
}

// SetAvailabilityWindow overrides the sliding window depth, e.g. from a
// manifest update changing timeShiftBufferDepth, or a caller-supplied
// availabilityWindowOverride (spec.md §6).
func (t *Timeline) SetAvailabilityWindow(seconds float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.segmentAvailabilityDurationSeconds = seconds
}

// NotifySegments expands known duration for VOD, or advances the live
// window's known extent, in response to newly discovered segment times.
// maxEndTime is the largest segment endTime observed across all variants'
// segment indexes in this update. The window is never shrunk past the
// largest segment already announced unless shrinkAllowed is set (the
// manifest explicitly reduced the window depth), per spec.md §4.1.
func (t *Timeline) NotifySegments(maxEndTime float64, isFirstPeriod bool, shrinkAllowed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inProgress {
		if maxEndTime > t.durationSeconds || shrinkAllowed {
			t.durationSeconds = maxEndTime
		}
		return
	}

	if !t.live {
		if isFirstPeriod || maxEndTime > t.durationSeconds {
			t.durationSeconds = maxEndTime
		}
		return
	}
}

// MarkEnded transitions a live timeline to in-progress-with-known-duration
// (DASH MPD@type switching to "static", HLS #EXT-X-ENDLIST), fixing
// durationSeconds at the given value instead of +Inf.
func (t *Timeline) MarkEnded(durationSeconds float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.live = false
	t.inProgress = true
	t.durationSeconds = durationSeconds
}

// IsLive reports whether the presentation is an unbounded live stream.
func (t *Timeline) IsLive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.live
}

// IsInProgress reports whether this was a live presentation that has since
// ended with a now-known duration.
func (t *Timeline) IsInProgress() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.inProgress
}

// DurationSeconds returns the presentation's total duration, or +Inf for an
// unbounded live stream.
func (t *Timeline) DurationSeconds() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.durationSeconds
}

// serverNowSeconds returns the server-adjusted elapsed time since
// presentationStartTimeUnixMs, in seconds. Caller must hold at least a read
// lock.
func (t *Timeline) serverNowSeconds() float64 {
	localNowMs := nowFunc().UnixMilli()
	serverNowMs := localNowMs - t.clockOffsetMs
	return float64(serverNowMs-t.presentationStartTimeUnixMs) / 1000.0
}

// SeekRangeStart returns max(0, availabilityEnd - windowSeconds) for live,
// 0 for VOD, per spec.md §4.1.
func (t *Timeline) SeekRangeStart() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.live {
		return 0
	}
	availabilityEnd := t.serverNowSeconds()
	start := availabilityEnd - t.segmentAvailabilityDurationSeconds
	if start < 0 {
		return 0
	}
	return start
}

// SeekRangeEnd returns min(duration, now - suggestedDelay - maxSegmentDuration)
// for live (the max-segment-duration term keeps the edge from exposing a
// segment still being appended to), duration for VOD, per spec.md §4.1 and
// end-to-end scenario E2.
func (t *Timeline) SeekRangeEnd() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.live {
		return t.durationSeconds
	}
	now := t.serverNowSeconds()
	end := now - t.suggestedPresentationDelaySeconds - t.maxSegmentDurationSeconds
	if end < 0 {
		end = 0
	}
	if !t.inProgress {
		return end
	}
	if end > t.durationSeconds {
		return t.durationSeconds
	}
	return end
}

// ClockOffsetMs returns the currently recorded local-minus-server offset.
func (t *Timeline) ClockOffsetMs() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.clockOffsetMs
}
