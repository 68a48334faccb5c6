package timeline

import (
	"math"
	"testing"
	"time"
)

func TestVodSeekRange(t *testing.T) {
	tl := NewVod(30)
	if tl.IsLive() {
		t.Error("expected VOD timeline to report not live")
	}
	if got := tl.SeekRangeStart(); got != 0 {
		t.Errorf("SeekRangeStart() = %v, want 0", got)
	}
	if got := tl.SeekRangeEnd(); got != 30 {
		t.Errorf("SeekRangeEnd() = %v, want 30", got)
	}
}

func TestLiveSeekRangeEnd_E2(t *testing.T) {
	// E2: availabilityStartTime=1970-01-01T00:00:00Z, timeShiftBufferDepth=60s,
	// maxSegmentDuration=5s, suggestedPresentationDelay=0s, UTCTiming direct
	// reports server time 30s while the local clock reads 10s.
	restore := nowFunc
	defer func() { nowFunc = restore }()

	tl := NewLive(0, 60, 0)
	tl.SetMaxSegmentDuration(5)

	localNow := time.UnixMilli(10_000)
	serverNow := time.UnixMilli(30_000)
	// local minus server.
	offset := localNow.UnixMilli() - serverNow.UnixMilli()
	tl.SetClockOffset(offset)

	nowFunc = func() time.Time { return localNow }

	got := tl.SeekRangeEnd()
	want := 25.0
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("SeekRangeEnd() = %v, want %v", got, want)
	}
}

func TestLiveSeekRangeStart(t *testing.T) {
	restore := nowFunc
	defer func() { nowFunc = restore }()

	tl := NewLive(0, 60, 0)
	nowFunc = func() time.Time { return time.UnixMilli(30_000) }

	got := tl.SeekRangeStart()
	if got != 0 {
		t.Errorf("SeekRangeStart() = %v, want 0 (window exceeds elapsed time)", got)
	}
}

func TestLiveSeekRangeStartSlidingWindow(t *testing.T) {
	restore := nowFunc
	defer func() { nowFunc = restore }()

	tl := NewLive(0, 60, 0)
	nowFunc = func() time.Time { return time.UnixMilli(100_000) }

	got := tl.SeekRangeStart()
	want := 40.0 // 100 - 60
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("SeekRangeStart() = %v, want %v", got, want)
	}
}

func TestNotifySegmentsExpandsVodDuration(t *testing.T) {
	tl := NewVod(0)
	tl.NotifySegments(10, true, false)
	if got := tl.DurationSeconds(); got != 10 {
		t.Errorf("DurationSeconds() = %v, want 10", got)
	}
	// A smaller subsequent period's maxEndTime must not shrink it.
	tl.NotifySegments(5, false, false)
	if got := tl.DurationSeconds(); got != 10 {
		t.Errorf("DurationSeconds() = %v after smaller notify, want unchanged 10", got)
	}
}

func TestMarkEndedFixesDuration(t *testing.T) {
	tl := NewLive(0, 60, 0)
	tl.MarkEnded(120)
	if tl.IsLive() {
		t.Error("expected timeline to no longer be live after MarkEnded")
	}
	if !tl.IsInProgress() {
		t.Error("expected IsInProgress() true after MarkEnded")
	}
	if got := tl.SeekRangeEnd(); got != 120 {
		t.Errorf("SeekRangeEnd() = %v, want 120", got)
	}
}

func TestWindowNeverMovesBackwardsWithoutShrinkAllowed(t *testing.T) {
	tl := NewLive(0, 60, 0)
	tl.MarkEnded(100)
	tl.NotifySegments(50, false, false)
	if got := tl.DurationSeconds(); got != 100 {
		t.Errorf("DurationSeconds() = %v, want unchanged 100 (shrink not allowed)", got)
	}
	tl.NotifySegments(40, false, true)
	if got := tl.DurationSeconds(); got != 40 {
		t.Errorf("DurationSeconds() = %v, want 40 (shrink explicitly allowed)", got)
	}
}
