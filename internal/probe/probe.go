// Package probe inspects the leading bytes of a media segment to recover
// its container decode time and timescale, per spec.md §4.3.
package probe

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/Eyevinn/mp4ff/bits"
	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/asticode/go-astits"
)

// ErrUnparsableSegment is returned when no timestamp can be located in the
// probed bytes, per spec.md §4.3. Callers may treat this as zero for the
// leading segment of a stream or propagate it.
var ErrUnparsableSegment = errors.New("probe: could not locate a timestamp in segment")

// Result is the decode-time anchor recovered from a segment.
type Result struct {
	// Timescale is the container's decode-time unit rate, e.g. 90000 for
	// MPEG-TS PES, or the init segment's mdhd timescale for MP4.
	Timescale uint32
	// BaseMediaDecodeTime is the decode time of the segment's first sample,
	// expressed in Timescale units.
	BaseMediaDecodeTime uint64
}

// Container identifies which probe path produced a Result, useful for
// logging and diagnostics.
type Container int

const (
	ContainerUnknown Container = iota
	ContainerMP4
	ContainerMPEGTS
	ContainerAAC
	ContainerMP3
)

// MP4 probes an fMP4 segment's leading bytes for moof → traf → tfdt.
// initTimescale is the accompanying init segment's moov → trak → mdia →
// mdhd timescale (obtained via MP4Timescale), used to populate
// Result.Timescale since a media segment's own moof carries no timescale.
func MP4(segment []byte, initTimescale uint32) (Result, error) {
	sr := bits.NewFixedSliceReader(segment)
	segFile, err := mp4.DecodeFileSR(sr)
	if err != nil && !errors.Is(err, io.EOF) {
		return Result{}, fmt.Errorf("%w: decoding mp4: %v", ErrUnparsableSegment, err)
	}
	var frags []*mp4.Fragment
	for _, seg := range segFile.Segments {
		frags = append(frags, seg.Fragments...)
	}
	if len(frags) == 0 {
		return Result{}, fmt.Errorf("%w: no fragments present", ErrUnparsableSegment)
	}
	moof := frags[0].Moof
	if moof == nil || moof.Traf == nil || moof.Traf.Tfdt == nil {
		return Result{}, fmt.Errorf("%w: moof/traf/tfdt not found", ErrUnparsableSegment)
	}
	return Result{
		Timescale:           initTimescale,
		BaseMediaDecodeTime: moof.Traf.Tfdt.BaseMediaDecodeTime(),
	}, nil
}

// MP4Timescale decodes an init segment's leading bytes for its moov → trak
// → mdia → mdhd timescale. When multiple tracks are present the first
// track's timescale is returned, matching spec.md §4.3's single-track
// init-segment assumption for this probe.
func MP4Timescale(initSegment []byte) (uint32, error) {
	sr := bits.NewFixedSliceReader(initSegment)
	initFile, err := mp4.DecodeFileSR(sr)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("%w: decoding init segment: %v", ErrUnparsableSegment, err)
	}
	if initFile.Moov == nil || len(initFile.Moov.Traks) == 0 {
		return 0, fmt.Errorf("%w: moov/trak not found", ErrUnparsableSegment)
	}
	trak := initFile.Moov.Traks[0]
	if trak.Mdia == nil || trak.Mdia.Mdhd == nil {
		return 0, fmt.Errorf("%w: mdia/mdhd not found", ErrUnparsableSegment)
	}
	return trak.Mdia.Mdhd.Timescale, nil
}

// PTSTimescale is the fixed 90kHz clock MPEG-TS PES timestamps are
// expressed in.
const PTSTimescale = 90000

// ptsWraparound is 2^33, the modulus a 33-bit PTS counter wraps at.
const ptsWraparound = 1 << 33

// RolloverCorrect adds multiples of 2^33/90000 seconds' worth of ticks to
// raw (a freshly decoded 33-bit PTS, already in [0, 2^33)) until the
// result is within half a wraparound period of expected, per spec.md
// §4.3's rollover-correction rule. expected is the caller's best estimate
// of the true (unwrapped) PTS derived from prior segments — typically the
// previous segment's end time extrapolated forward.
func RolloverCorrect(raw uint64, expected uint64) uint64 {
	half := uint64(ptsWraparound / 2)
	corrected := raw
	if expected == 0 {
		return corrected
	}
	// Shift corrected into the same wraparound epoch as expected, then
	// nudge by one period at a time until within half a period.
	epoch := (expected / ptsWraparound) * ptsWraparound
	corrected = epoch + raw
	for corrected+half < expected {
		corrected += ptsWraparound
	}
	for corrected > expected+half {
		if corrected < ptsWraparound {
			break
		}
		corrected -= ptsWraparound
	}
	return corrected
}

// MPEGTS scans the leading bytes of a transport-stream segment for the PES
// header of the first elementary stream packet and decodes its 33-bit PTS,
// applying rollover correction against expectedPTS (the caller's running
// estimate; pass 0 for the first segment of a stream). Returns
// Result.Timescale = 90000 always.
func MPEGTS(ctx context.Context, segment []byte, expectedPTS uint64) (Result, error) {
	dmx := astits.NewDemuxer(ctx, bytes.NewReader(segment))
	for {
		data, err := dmx.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) || errors.Is(err, io.EOF) {
				break
			}
			return Result{}, fmt.Errorf("%w: demuxing: %v", ErrUnparsableSegment, err)
		}
		if data.PES == nil || data.PES.Header == nil || data.PES.Header.OptionalHeader == nil {
			continue
		}
		opt := data.PES.Header.OptionalHeader
		if opt.PTS == nil {
			continue
		}
		raw := uint64(opt.PTS.Base)
		corrected := RolloverCorrect(raw, expectedPTS)
		return Result{Timescale: PTSTimescale, BaseMediaDecodeTime: corrected}, nil
	}
	return Result{}, fmt.Errorf("%w: no PES with PTS found", ErrUnparsableSegment)
}

// id3PrivOwnerTransportStreamTimestamp is the ID3 PRIV frame owner
// identifier HLS uses to carry a raw audio segment's transport-stream
// timestamp, per spec.md §4.3.
const id3PrivOwnerTransportStreamTimestamp = "com.apple.streaming.transportStreamTimestamp"

// RawAudio probes a raw AAC (ADTS) or MP3 segment for an ID3v2 tag
// carrying a PRIV frame with owner
// "com.apple.streaming.transportStreamTimestamp"; if found, its 8-byte
// big-endian PTS (33-bit, 90kHz) is rollover-corrected against
// expectedPTS and returned. If no such tag is present the first frame's
// timestamp is defined to be 0, per spec.md §4.3 — this is not an error.
func RawAudio(segment []byte, expectedPTS uint64) Result {
	raw, ok := findID3PrivTimestamp(segment)
	if !ok {
		return Result{Timescale: PTSTimescale, BaseMediaDecodeTime: 0}
	}
	corrected := RolloverCorrect(raw&(ptsWraparound-1), expectedPTS)
	return Result{Timescale: PTSTimescale, BaseMediaDecodeTime: corrected}
}

// findID3PrivTimestamp locates an ID3v2 header at the start of segment and
// scans its frames for a PRIV frame with the transport-stream-timestamp
// owner, returning its raw 8-byte big-endian value.
func findID3PrivTimestamp(segment []byte) (uint64, bool) {
	if len(segment) < 10 || string(segment[0:3]) != "ID3" {
		return 0, false
	}
	size := synchsafeSize(segment[6:10])
	end := 10 + size
	if end > len(segment) {
		end = len(segment)
	}
	body := segment[10:end]
	for len(body) >= 10 {
		frameID := string(body[0:4])
		frameSize := int(binary.BigEndian.Uint32(body[4:8]))
		if frameSize <= 0 || 10+frameSize > len(body) {
			break
		}
		frameData := body[10 : 10+frameSize]
		if frameID == "PRIV" {
			sep := bytes.IndexByte(frameData, 0x00)
			if sep > 0 {
				owner := string(frameData[:sep])
				payload := frameData[sep+1:]
				if owner == id3PrivOwnerTransportStreamTimestamp && len(payload) >= 8 {
					return binary.BigEndian.Uint64(payload[:8]), true
				}
			}
		}
		body = body[10+frameSize:]
	}
	return 0, false
}

// synchsafeSize decodes a 4-byte ID3v2 synchsafe integer (7 significant
// bits per byte).
func synchsafeSize(b []byte) int {
	return int(b[0])<<21 | int(b[1])<<14 | int(b[2])<<7 | int(b[3])
}
