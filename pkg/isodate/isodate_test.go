package isodate

import (
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"PT0S", 0},
		{"PT75S", 75 * time.Second},
		{"PT1H2M3S", time.Hour + 2*time.Minute + 3*time.Second},
		{"P1D", Day},
		{"P1DT2H", Day + 2*time.Hour},
		{"PT1.5S", 1500 * time.Millisecond},
		{"-PT5S", -5 * time.Second},
	}
	for _, c := range cases {
		got, err := ParseDuration(c.in)
		if err != nil {
			t.Fatalf("ParseDuration(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseDurationInvalid(t *testing.T) {
	for _, in := range []string{"garbage", "P", "1H2M3S"} {
		if _, err := ParseDuration(in); err == nil {
			t.Errorf("ParseDuration(%q): expected error", in)
		}
	}
}

func TestFormatDurationRoundTrip(t *testing.T) {
	for _, d := range []time.Duration{
		0, 75 * time.Second, time.Hour + 2*time.Minute + 3*time.Second, Day + 2*time.Hour,
	} {
		s := FormatDuration(d)
		got, err := ParseDuration(s)
		if err != nil {
			t.Fatalf("ParseDuration(FormatDuration(%v)=%q): %v", d, s, err)
		}
		if got != d {
			t.Errorf("round trip %v -> %q -> %v", d, s, got)
		}
	}
}

func TestParseUTC(t *testing.T) {
	cases := []string{
		"1970-01-01T00:00:00Z",
		"1970-01-01T00:00:30Z",
		"2024-01-02T03:04:05.123Z",
	}
	for _, c := range cases {
		if _, err := ParseUTC(c); err != nil {
			t.Errorf("ParseUTC(%q): %v", c, err)
		}
	}
}
