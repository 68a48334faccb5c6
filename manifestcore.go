// Package manifestcore is the library's top-level facade, per spec.md §6's
// public contract: parse(manifestUri, fetcher) -> Manifest. It dispatches to
// the DASH and HLS parsers by URI extension and wires internal/scheduler to
// each parser's derived refresh interval so a caller gets live-refresh
// scheduling without driving Scheduler.Schedule itself.
package manifestcore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kestrelstream/manifestcore/internal/config"
	"github.com/kestrelstream/manifestcore/internal/dash"
	"github.com/kestrelstream/manifestcore/internal/fetch"
	"github.com/kestrelstream/manifestcore/internal/hls"
	"github.com/kestrelstream/manifestcore/internal/manifest"
	"github.com/kestrelstream/manifestcore/internal/scheduler"
)

// Parse fetches and parses manifestURI, selecting the DASH parser for a
// ".mpd" URI and the HLS parser otherwise.
func Parse(ctx context.Context, manifestURI string, fetcher fetch.Fetcher, cfg *config.Config) (*manifest.Manifest, error) {
	if strings.HasSuffix(strings.ToLower(manifestURI), ".mpd") {
		return dash.Parse(ctx, manifestURI, fetcher, cfg)
	}
	return hls.Parse(ctx, manifestURI, fetcher, cfg)
}

// Refresh re-fetches m in place, dispatching on m.Format to the parser that
// produced it.
func Refresh(ctx context.Context, m *manifest.Manifest, fetcher fetch.Fetcher, cfg *config.Config) error {
	switch m.Format {
	case manifest.SourceDASH:
		return dash.Refresh(ctx, m, fetcher, cfg)
	case manifest.SourceHLS:
		return hls.Refresh(ctx, m, fetcher, cfg)
	default:
		return fmt.Errorf("manifestcore: unrecognised manifest format %q", m.Format)
	}
}

// StartAutoRefresh schedules m for periodic Refresh on sched, at the
// interval its parser derived (DASH minimumUpdatePeriod, HLS shortest
// target duration; see Manifest.RefreshIntervalSeconds), per spec.md §4.8.
// A no-op returning false for a VOD manifest or one with no derivable
// interval. The caller owns sched and should Cancel(m.URI) once the
// presentation ends or playback stops.
func StartAutoRefresh(ctx context.Context, sched *scheduler.Scheduler, m *manifest.Manifest, fetcher fetch.Fetcher, cfg *config.Config) bool {
	if !m.IsLive || m.RefreshIntervalSeconds == nil || *m.RefreshIntervalSeconds <= 0 {
		return false
	}
	interval := time.Duration(*m.RefreshIntervalSeconds * float64(time.Second))
	sched.Schedule(ctx, m.URI, interval, func(ctx context.Context) error {
		return Refresh(ctx, m, fetcher, cfg)
	})
	return true
}
