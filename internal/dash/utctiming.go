package dash

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/kestrelstream/manifestcore/internal/fetch"
	"github.com/kestrelstream/manifestcore/pkg/isodate"
)

const (
	schemeDirect   = "urn:mpeg:dash:utc:direct:2014"
	schemeHTTPHead = "urn:mpeg:dash:utc:http-head:2014"
	schemeHTTPXSDate = "urn:mpeg:dash:utc:http-xsdate:2014"
	schemeHTTPISO  = "urn:mpeg:dash:utc:http-iso:2014"
)

// resolveUTCTiming tries each UTCTiming descriptor in declared order, per
// spec.md §4.4.3, returning the first successful clock offset in
// milliseconds, local-minus-server (the convention timeline.Timeline's
// clockOffsetMs expects: server_now = local_now - clockOffsetMs). Unknown
// schemes are skipped without error; if every descriptor fails or none is
// present, ok is false and callers should leave the clock offset at zero
// (no time sync available).
func resolveUTCTiming(ctx context.Context, fetcher fetch.Fetcher, timings []Descriptor, localNow time.Time) (offsetMs int64, ok bool) {
	for _, t := range timings {
		switch t.SchemeIDURI {
		case schemeDirect:
			server, err := isodate.ParseUTC(t.Value)
			if err != nil {
				continue
			}
			return -server.Sub(localNow).Milliseconds(), true

		case schemeHTTPHead:
			resp, err := fetcher.Request(ctx, fetch.RequestTiming, t.Value, http.MethodHead, nil, nil, nil, nil)
			if err != nil {
				continue
			}
			dateHeader := resp.Headers.Get("Date")
			server, err := http.ParseTime(dateHeader)
			if err != nil {
				continue
			}
			return -server.Sub(localNow).Milliseconds(), true

		case schemeHTTPXSDate, schemeHTTPISO:
			resp, err := fetcher.Request(ctx, fetch.RequestTiming, t.Value, http.MethodGet, nil, nil, nil, nil)
			if err != nil {
				continue
			}
			server, err := isodate.ParseUTC(strings.TrimSpace(string(resp.Bytes)))
			if err != nil {
				continue
			}
			return -server.Sub(localNow).Milliseconds(), true

		default:
			continue
		}
	}
	return 0, false
}
