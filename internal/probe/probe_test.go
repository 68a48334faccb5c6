package probe

import (
	"encoding/binary"
	"testing"
)

func TestRolloverCorrectNoWrap(t *testing.T) {
	// expected and raw agree within the same epoch: no correction needed.
	got := RolloverCorrect(1000, 1000)
	if got != 1000 {
		t.Errorf("RolloverCorrect(1000, 1000) = %d, want 1000", got)
	}
}

func TestRolloverCorrectFirstSegment(t *testing.T) {
	// expected == 0 means "no prior estimate"; raw is returned unmodified.
	got := RolloverCorrect(12345, 0)
	if got != 12345 {
		t.Errorf("RolloverCorrect(12345, 0) = %d, want 12345", got)
	}
}

func TestRolloverCorrectAcrossWraparound(t *testing.T) {
	// raw has wrapped back to a small value while expected has advanced
	// past 2^33; the corrected value should land near expected, not near
	// raw's literal (pre-wrap) magnitude.
	const wrap = uint64(1) << 33
	expected := wrap + 500 // just past one full wraparound
	raw := uint64(100)     // what the 33-bit counter now reads

	got := RolloverCorrect(raw, expected)
	diff := int64(got) - int64(expected)
	if diff < 0 {
		diff = -diff
	}
	if uint64(diff) > wrap/2 {
		t.Errorf("RolloverCorrect(%d, %d) = %d, too far from expected", raw, expected, got)
	}
}

func buildID3PrivSegment(owner string, payload []byte) []byte {
	frameData := append([]byte(owner), 0x00)
	frameData = append(frameData, payload...)

	frameHeader := make([]byte, 10)
	copy(frameHeader[0:4], "PRIV")
	binary.BigEndian.PutUint32(frameHeader[4:8], uint32(len(frameData)))
	// flags left zero.

	body := append(frameHeader, frameData...)

	header := make([]byte, 10)
	copy(header[0:3], "ID3")
	header[3] = 4 // version
	header[4] = 0
	size := len(body)
	header[6] = byte((size >> 21) & 0x7F)
	header[7] = byte((size >> 14) & 0x7F)
	header[8] = byte((size >> 7) & 0x7F)
	header[9] = byte(size & 0x7F)

	return append(header, body...)
}

func TestRawAudioWithID3Priv(t *testing.T) {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, 54000)
	segment := buildID3PrivSegment(id3PrivOwnerTransportStreamTimestamp, payload)

	result := RawAudio(segment, 0)
	if result.Timescale != PTSTimescale {
		t.Errorf("Timescale = %d, want %d", result.Timescale, PTSTimescale)
	}
	if result.BaseMediaDecodeTime != 54000 {
		t.Errorf("BaseMediaDecodeTime = %d, want 54000", result.BaseMediaDecodeTime)
	}
}

func TestRawAudioWithoutID3Defaults(t *testing.T) {
	segment := []byte{0xFF, 0xF1, 0x00, 0x00}
	result := RawAudio(segment, 0)
	if result.BaseMediaDecodeTime != 0 {
		t.Errorf("BaseMediaDecodeTime = %d, want 0 for frame with no ID3 PRIV tag", result.BaseMediaDecodeTime)
	}
}

func TestRawAudioIgnoresUnrelatedPrivOwner(t *testing.T) {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, 99999)
	segment := buildID3PrivSegment("com.example.other", payload)

	result := RawAudio(segment, 0)
	if result.BaseMediaDecodeTime != 0 {
		t.Errorf("BaseMediaDecodeTime = %d, want 0 for unrelated PRIV owner", result.BaseMediaDecodeTime)
	}
}
