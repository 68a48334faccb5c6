// Package isodate provides ISO-8601 duration and date-time parsing and
// formatting for the subset used by MPEG-DASH and HLS manifests.
//
// Durations look like "PT75S", "PT1H2M3S", "P1DT2H" — designator-prefixed
// fields rather than Go's suffix-per-field grammar, and they may carry
// fractional seconds ("PT1.5S"). Go's time.ParseDuration cannot read this
// grammar at all, so this package parses it directly into a time.Duration
// (adequate precision for manifest timing, which never needs calendar
// arithmetic over years/months the way P1Y2M would imply).
//
// Supported duration designators: Y (years, 365 days), M (months, 30 days)
// and W (weeks) and D (days) before "T", then H/M/S after
// "T" for hours/minutes/(fractional) seconds.
package isodate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// Day approximates a calendar day for duration arithmetic.
	Day = 24 * time.Hour
	// Week is 7 days.
	Week = 7 * Day
	// Month approximates a calendar month for duration arithmetic.
	Month = 30 * Day
	// Year approximates a calendar year for duration arithmetic.
	Year = 365 * Day
)

// durationPattern matches the full ISO-8601 duration grammar used by DASH
// and HLS: PnYnMnWnDTnHnMnS, any field optional, "T" only present when a
// time field follows it.
var durationPattern = regexp.MustCompile(
	`^(-)?P(?:(\d+(?:\.\d+)?)Y)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)W)?(?:(\d+(?:\.\d+)?)D)?` +
		`(?:T(?:(\d+(?:\.\d+)?)H)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ErrInvalidDuration is returned when a string does not match the ISO-8601
// duration grammar.
var ErrInvalidDuration = fmt.Errorf("isodate: invalid duration")

// ParseDuration parses an ISO-8601 duration such as "PT75S" or "PT1H2M3.5S".
// An empty string is treated as a zero duration, matching DASH's convention
// of omitting a duration attribute entirely rather than writing "PT0S".
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	m := durationPattern.FindStringSubmatch(s)
	// A bare "P" or a trailing "T" carries no field at all.
	if m == nil || strings.HasSuffix(s, "P") || strings.HasSuffix(s, "T") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}

	var total time.Duration
	fields := []struct {
		value string
		unit  time.Duration
	}{
		{m[2], Year},
		{m[3], Month},
		{m[4], Week},
		{m[5], Day},
		{m[6], time.Hour},
		{m[7], time.Minute},
		{m[8], time.Second},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		v, err := strconv.ParseFloat(f.value, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrInvalidDuration, s, err)
		}
		total += time.Duration(v * float64(f.unit))
	}

	if m[1] == "-" {
		total = -total
	}
	return total, nil
}

// MustParseDuration is like ParseDuration but panics on error. Use only for
// compile-time fixtures and constants.
func MustParseDuration(s string) time.Duration {
	d, err := ParseDuration(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FormatDuration renders d as an ISO-8601 "PT…" duration using the smallest
// set of designators that round-trips through ParseDuration, matching the
// style MPDs and UTCTiming responses use (no Y/M/W fields — DASH durations
// are always expressed in D/H/M/S once past the period/timeline level).
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "PT0S"
	}

	negative := d < 0
	if negative {
		d = -d
	}

	days := d / Day
	d -= days * Day
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	secRemainder := d

	var b strings.Builder
	if negative {
		b.WriteByte('-')
	}
	b.WriteByte('P')
	if days > 0 {
		fmt.Fprintf(&b, "%dD", days)
	}
	if hours > 0 || minutes > 0 || secRemainder > 0 {
		b.WriteByte('T')
		if hours > 0 {
			fmt.Fprintf(&b, "%dH", hours)
		}
		if minutes > 0 {
			fmt.Fprintf(&b, "%dM", minutes)
		}
		if secRemainder > 0 {
			secs := secRemainder.Seconds()
			if secs == float64(int64(secs)) {
				fmt.Fprintf(&b, "%dS", int64(secs))
			} else {
				fmt.Fprintf(&b, "%gS", secs)
			}
		}
	}
	if b.Len() == 1 || (negative && b.Len() == 2) {
		b.WriteString("T0S")
	}
	return b.String()
}

// ParseUTC parses a manifest wall-clock timestamp. DASH uses plain ISO-8601
// date-times (availabilityStartTime, UTCTiming direct/xsdate values); HLS
// uses RFC3339 PROGRAM-DATE-TIME. Both are accepted here since RFC3339 is a
// profile of ISO-8601.
func ParseUTC(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("isodate: invalid date-time %q", s)
}
