// Package scheduler implements the per-playlist update scheduler described
// in spec.md §4.8: one logical timer per refreshable playlist, ticks
// coalesced so no two concurrent refreshes of the same playlist ever run,
// cancellation propagated immediately through the caller's context.
package scheduler

import (
	"context"
	"crypto/rand"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kestrelstream/manifestcore/internal/observability"
)

// RefreshFunc performs one refresh of a single playlist. Implementations
// are internal/hls.Refresh or internal/dash.Refresh bound to a particular
// *manifest.Manifest and Fetcher; the scheduler is format-agnostic.
type RefreshFunc func(ctx context.Context) error

// entry tracks the running state of one scheduled playlist.
type entry struct {
	mu       sync.Mutex
	id       string
	interval time.Duration
	refresh  RefreshFunc
	cancel   context.CancelFunc
	inFlight bool
	pending  bool
	wg       sync.WaitGroup
}

// Scheduler owns a set of independently cancellable per-playlist timers.
// Safe for concurrent use.
type Scheduler struct {
	mu        sync.Mutex
	playlists map[string]*entry
}

// New constructs an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{playlists: make(map[string]*entry)}
}

// Schedule starts (or replaces) the timer for playlistID: refresh fires
// every interval, derived from ctx so cancelling ctx or calling Cancel
// stops only this playlist's timer. Calling Schedule again for an ID
// already scheduled cancels the prior timer first.
func (s *Scheduler) Schedule(ctx context.Context, playlistID string, interval time.Duration, refresh RefreshFunc) {
	s.Cancel(playlistID)

	runCtx, cancel := context.WithCancel(ctx)
	e := &entry{id: playlistID, interval: interval, refresh: refresh, cancel: cancel}

	s.mu.Lock()
	s.playlists[playlistID] = e
	s.mu.Unlock()

	e.wg.Add(1)
	go s.run(runCtx, e)
}

// Cancel stops playlistID's timer, if one is running, and waits for its
// goroutine to exit. A no-op if playlistID was never scheduled.
func (s *Scheduler) Cancel(playlistID string) {
	s.mu.Lock()
	e, ok := s.playlists[playlistID]
	if ok {
		delete(s.playlists, playlistID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	e.cancel()
	e.wg.Wait()
}

// CancelAll stops every scheduled timer and waits for all of them to exit.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	all := make([]*entry, 0, len(s.playlists))
	for id, e := range s.playlists {
		all = append(all, e)
		delete(s.playlists, id)
	}
	s.mu.Unlock()
	for _, e := range all {
		e.cancel()
	}
	for _, e := range all {
		e.wg.Wait()
	}
}

// Len returns the number of currently scheduled playlists.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.playlists)
}

func (s *Scheduler) run(ctx context.Context, e *entry) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, e)
		}
	}
}

// tick fires a refresh, or marks one pending if a refresh for this
// playlist is already running, per spec.md §4.8's coalescing rule.
func (s *Scheduler) tick(ctx context.Context, e *entry) {
	e.mu.Lock()
	if e.inFlight {
		e.pending = true
		e.mu.Unlock()
		return
	}
	e.inFlight = true
	e.mu.Unlock()

	s.drain(ctx, e)
}

// drain runs e.refresh, then re-runs it immediately for every tick that
// coalesced while it was in flight, before releasing inFlight. This keeps
// at most one refresh running per playlist at any moment while never
// silently dropping a tick that arrived mid-refresh.
func (s *Scheduler) drain(ctx context.Context, e *entry) {
	logger := observability.LoggerFromContext(ctx)
	for {
		tickID := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
		if err := e.refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			if logger != nil {
				logger.Warn("playlist refresh failed",
					slog.String("playlist", e.id),
					slog.String("tick_id", tickID.String()),
					slog.String("error", err.Error()))
			}
		} else if logger != nil {
			logger.Debug("playlist refreshed",
				slog.String("playlist", e.id),
				slog.String("tick_id", tickID.String()))
		}

		e.mu.Lock()
		if e.pending && ctx.Err() == nil {
			e.pending = false
			e.mu.Unlock()
			continue
		}
		e.inFlight = false
		e.pending = false
		e.mu.Unlock()
		return
	}
}
