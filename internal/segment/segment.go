// Package segment implements the ordered, lazily-materialised segment index
// shared by the DASH and HLS parsers, per spec.md §4.2 and the tagged-variant
// design in §9.
package segment

import (
	"errors"
	"sort"
	"sync"
)

// Errors returned by SegmentIndex operations.
var (
	ErrEmpty         = errors.New("segment: index is empty")
	ErrNotContiguous = errors.New("segment: append refs are not contiguous with the last held ref")
	ErrInvalidOrder  = errors.New("segment: refs are not time-ordered")
)

// Status is the availability state of a SegmentReference.
type Status int

const (
	StatusAvailable Status = iota
	// StatusMissing corresponds to an HLS #EXT-X-GAP segment: its slot in
	// the timeline is known but no media is ever retrievable for it.
	StatusMissing
	// StatusUnavailable is a segment whose slot is known to exist (DASH
	// SegmentTimeline, HLS media sequence) but has not yet become fetchable.
	StatusUnavailable
)

// InitSegmentReference describes initialization bytes shared by every
// SegmentReference that points at it. Instances are reference-counted by
// the SegmentIndex that owns them so SegmentIndex.Evict can release one
// once its last referencing segment is evicted, per spec.md §9's "reference
// -counted handles" note.
type InitSegmentReference struct {
	URIs      []string
	StartByte int64
	// EndByte is -1 for an open-ended range.
	EndByte int64
	// MediaQuality is a decrypted-media-quality descriptor opaque to this
	// package (codec/resolution summary used by callers, not parsed here).
	MediaQuality string
	AESKey       []byte

	refCount int
}

// PartialReference is a single low-latency HLS #EXT-X-PART within a
// SegmentReference's partialReferences list.
type PartialReference struct {
	URI         string
	StartTime   float64
	EndTime     float64
	Independent bool
	StartByte   int64
	EndByte     int64
	Gap         bool
}

// Reference is a single addressable media chunk, per spec.md "Segment
// reference".
type Reference struct {
	StartTime float64
	EndTime   float64
	URIs      []string
	StartByte int64
	// EndByte is -1 for an open-ended range.
	EndByte int64

	InitSegment *InitSegmentReference

	TimestampOffset   float64
	AppendWindowStart float64
	AppendWindowEnd   float64

	PartialReferences []PartialReference

	Status Status

	DiscontinuitySequence int

	AESKey []byte

	// SyncTime is the wall-clock alignment key used during live merges when
	// discontinuitySequence/mediaSequenceNumber are unavailable.
	SyncTime float64

	// MediaSequenceNumber is the HLS media-sequence number, or -1 when this
	// reference comes from a DASH addressing mode that has no such concept.
	MediaSequenceNumber int64

	TilesLayout string
}

// Index is a time-ordered, random-access sequence of Reference values.
// Safe for concurrent find/get/append/iteration from multiple goroutines;
// merge and evict take an exclusive lock.
type Index struct {
	mu   sync.RWMutex
	refs []*Reference
	// inits deduplicates InitSegmentReference instances by URI+byte range so
	// identical init segments are shared across merges (spec.md §4.2's
	// "init-reference sharing is preserved across merges").
	inits map[initKey]*InitSegmentReference
}

type initKey struct {
	uri       string
	startByte int64
	endByte   int64
}

// NewIndex constructs an empty Index.
func NewIndex() *Index {
	return &Index{inits: make(map[initKey]*InitSegmentReference)}
}

// ShareInit returns the canonical InitSegmentReference for the given
// descriptor, creating and caching one if this is the first time it has
// been seen. Callers building Reference values for a new addressing mode
// should always route through ShareInit rather than allocating their own
// InitSegmentReference directly.
func (idx *Index) ShareInit(uri string, startByte, endByte int64, mediaQuality string, aesKey []byte) *InitSegmentReference {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	key := initKey{uri: uri, startByte: startByte, endByte: endByte}
	if existing, ok := idx.inits[key]; ok {
		existing.refCount++
		return existing
	}
	init := &InitSegmentReference{
		URIs:         []string{uri},
		StartByte:    startByte,
		EndByte:      endByte,
		MediaQuality: mediaQuality,
		AESKey:       aesKey,
		refCount:     1,
	}
	idx.inits[key] = init
	return init
}

// Len returns the number of references currently held.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.refs)
}

// Find returns the position of the reference whose half-open interval
// [startTime, endTime) contains t, or (-1, false) if none does.
func (idx *Index) Find(t float64) (int, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	refs := idx.refs
	n := len(refs)
	pos := sort.Search(n, func(i int) bool { return refs[i].EndTime > t })
	if pos == n || refs[pos].StartTime > t {
		return -1, false
	}
	return pos, true
}

// Get returns the reference at position, or nil if out of range.
func (idx *Index) Get(position int) *Reference {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if position < 0 || position >= len(idx.refs) {
		return nil
	}
	return idx.refs[position]
}

// Append adds refs to the end of the index. refs must be contiguous with
// the last held reference (refs[0].StartTime >= last.EndTime) and
// internally time-ordered; it is the caller's responsibility to have built
// them from a single contiguous addressing pass.
func (idx *Index) Append(refs []*Reference) error {
	if len(refs) == 0 {
		return nil
	}
	if err := validateOrdered(refs); err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if len(idx.refs) > 0 {
		last := idx.refs[len(idx.refs)-1]
		if refs[0].StartTime < last.EndTime {
			return ErrNotContiguous
		}
	}
	idx.refs = append(idx.refs, refs...)
	return nil
}

func validateOrdered(refs []*Reference) error {
	for i := 1; i < len(refs); i++ {
		if refs[i].StartTime < refs[i-1].EndTime {
			return ErrInvalidOrder
		}
	}
	return nil
}

// Evict drops references whose EndTime <= olderThan, releasing shared init
// segments whose last referencing Reference was just dropped.
func (idx *Index) Evict(olderThan float64) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	cut := sort.Search(len(idx.refs), func(i int) bool { return idx.refs[i].EndTime > olderThan })
	if cut == 0 {
		return 0
	}
	for _, r := range idx.refs[:cut] {
		idx.releaseInitLocked(r.InitSegment)
	}
	n := cut
	idx.refs = append([]*Reference{}, idx.refs[cut:]...)
	return n
}

func (idx *Index) releaseInitLocked(init *InitSegmentReference) {
	if init == nil {
		return
	}
	init.refCount--
	if init.refCount <= 0 {
		for key, v := range idx.inits {
			if v == init {
				delete(idx.inits, key)
				break
			}
		}
	}
}

// alignKey identifies a reference for merge alignment purposes, preferring
// discontinuitySequence+mediaSequenceNumber, falling back to syncTime
// proximity, falling back to start-time proximity, per spec.md §4.2.
type alignKey struct {
	discontinuitySequence int
	mediaSequenceNumber   int64
}

func (r *Reference) alignKey() (alignKey, bool) {
	if r.MediaSequenceNumber < 0 {
		return alignKey{}, false
	}
	return alignKey{discontinuitySequence: r.DiscontinuitySequence, mediaSequenceNumber: r.MediaSequenceNumber}, true
}

// Merge applies a live-update batch of refs, per spec.md §4.2: each update
// ref is aligned against the refs already held by (discontinuitySequence,
// mediaSequenceNumber) where available, falling back to syncTime proximity,
// falling back to start-time proximity. Where an update ref aligns with a
// ref already held, the held ref's object identity is preserved in the
// result (spec.md §8 property 4) rather than being replaced by the new
// value; an update ref with no match becomes a newly appended reference.
// Existing refs that precede the earliest aligned position fall off the
// front and are evicted, releasing any init segments they alone held.
func (idx *Index) Merge(update []*Reference) error {
	if len(update) == 0 {
		return nil
	}
	if err := validateOrdered(update); err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	byAlign := make(map[alignKey]int, len(idx.refs))
	for i, r := range idx.refs {
		if k, ok := r.alignKey(); ok {
			byAlign[k] = i
		}
	}

	firstKept := -1
	result := make([]*Reference, 0, len(update))
	for _, u := range update {
		var matchedPos = -1
		if k, ok := u.alignKey(); ok {
			if i, found := byAlign[k]; found {
				matchedPos = i
			}
		} else {
			matchedPos = closestByTime(idx.refs, u)
		}
		if matchedPos >= 0 {
			if firstKept == -1 || matchedPos < firstKept {
				firstKept = matchedPos
			}
			result = append(result, idx.refs[matchedPos])
			continue
		}
		result = append(result, u)
	}

	if firstKept > 0 {
		for i := 0; i < firstKept; i++ {
			idx.releaseInitLocked(idx.refs[i].InitSegment)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].StartTime < result[j].StartTime })
	idx.refs = result
	return nil
}

// closestByTime finds the index of the reference in refs whose interval is
// nearest to u's syncTime (or start time if syncTime is zero), used as the
// final fallback alignment strategy. A held reference counts as a match only
// when its anchor is within half its own duration of u's; -1 means no match.
func closestByTime(refs []*Reference, u *Reference) int {
	anchor := u.SyncTime
	if anchor == 0 {
		anchor = u.StartTime
	}
	best := -1
	bestDist := -1.0
	for i, r := range refs {
		ranchor := r.SyncTime
		if ranchor == 0 {
			ranchor = r.StartTime
		}
		d := ranchor - anchor
		if d < 0 {
			d = -d
		}
		if d > (r.EndTime-r.StartTime)/2 {
			continue
		}
		if best == -1 || d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

// ForwardIterator walks references from front to back. It remains valid
// across a concurrent Append (new references simply become reachable) but
// is invalidated by a concurrent Merge or Evict, which callers must detect
// by re-deriving position from Find after such an operation.
type ForwardIterator struct {
	idx *Index
	pos int
}

// Forward returns a ForwardIterator starting at position 0.
func (idx *Index) Forward() *ForwardIterator { return &ForwardIterator{idx: idx, pos: 0} }

// Next returns the next reference, or nil when exhausted.
func (it *ForwardIterator) Next() *Reference {
	r := it.idx.Get(it.pos)
	if r == nil {
		return nil
	}
	it.pos++
	return r
}

// ReverseIterator walks references from back to front.
type ReverseIterator struct {
	idx *Index
	pos int
}

// Reverse returns a ReverseIterator starting at the last held reference.
func (idx *Index) Reverse() *ReverseIterator {
	return &ReverseIterator{idx: idx, pos: idx.Len() - 1}
}

// Next returns the previous reference, or nil when exhausted.
func (it *ReverseIterator) Next() *Reference {
	if it.pos < 0 {
		return nil
	}
	r := it.idx.Get(it.pos)
	it.pos--
	return r
}
