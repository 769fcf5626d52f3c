package rtp

import (
	"bytes"
	"testing"

	"lumen/pkg/capture"
	"lumen/pkg/timecode"
)

func testFrame(size int) *capture.Frame {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	return &capture.Frame{Data: data, Width: 640, Height: 480}
}

func TestPacketizeFragmentation(t *testing.T) {
	frame := testFrame(2500)
	tc := timecode.Timecode{PTS: 6000, DTS: 6000}
	var cursor SequenceCursor
	p := NewPacketizer(60)

	seq, err := p.Packetize(frame, tc, &cursor, 580)
	if err != nil {
		t.Fatalf("Packetize failed: %v", err)
	}

	var reassembled []byte
	var lastSeq int = -1
	markers := 0
	keyframes := 0
	prevOffset := -1

	for packet := seq.Next(); packet != nil; packet = seq.Next() {
		if packet.Version != 2 {
			t.Errorf("version: got %d, want 2", packet.Version)
		}
		if packet.PayloadType != PayloadTypeJPEG {
			t.Errorf("payload type: got %d, want %d", packet.PayloadType, PayloadTypeJPEG)
		}
		if packet.SSRC != DefaultSSRC {
			t.Errorf("ssrc: got %#x, want %#x", packet.SSRC, DefaultSSRC)
		}
		if packet.Timestamp != tc.PTS {
			t.Errorf("timestamp varies across fragments: got %d, want %d", packet.Timestamp, tc.PTS)
		}
		if lastSeq >= 0 && int(packet.SequenceNumber) != lastSeq+1 {
			t.Errorf("sequence gap: %d after %d", packet.SequenceNumber, lastSeq)
		}
		lastSeq = int(packet.SequenceNumber)

		var hdr JPEGHeader
		if err := hdr.Unmarshal(packet.Payload); err != nil {
			t.Fatalf("payload missing fragmentation header: %v", err)
		}
		if int(hdr.FragmentOffset) <= prevOffset {
			t.Errorf("offsets not strictly increasing: %d after %d", hdr.FragmentOffset, prevOffset)
		}
		if int(hdr.FragmentOffset) != len(reassembled) {
			t.Errorf("offset %d does not match bytes covered %d", hdr.FragmentOffset, len(reassembled))
		}
		prevOffset = int(hdr.FragmentOffset)

		if hdr.TypeSpecific == TypeSpecificKeyframe {
			keyframes++
			if hdr.FragmentOffset != 0 {
				t.Error("keyframe indicator on a non-first fragment")
			}
		}
		if hdr.Quality != 60 || hdr.Width != 80 || hdr.Height != 60 {
			t.Errorf("header fields: %+v", hdr)
		}
		if packet.Marker {
			markers++
		}
		if len(packet.Payload)-JPEGHeaderSize > 580 {
			t.Errorf("fragment exceeds max payload: %d", len(packet.Payload)-JPEGHeaderSize)
		}

		reassembled = append(reassembled, packet.Payload[JPEGHeaderSize:]...)
	}

	if markers != 1 {
		t.Errorf("marker set on %d packets, want exactly 1", markers)
	}
	if keyframes != 1 {
		t.Errorf("keyframe indicator on %d packets, want exactly 1", keyframes)
	}
	if !bytes.Equal(reassembled, frame.Data) {
		t.Error("reassembled payload does not match the original frame")
	}
	if seq.Remaining() != 0 {
		t.Errorf("Remaining after exhaustion: %d", seq.Remaining())
	}
}

func TestPacketizeSingleFragment(t *testing.T) {
	frame := testFrame(100)
	var cursor SequenceCursor
	p := NewPacketizer(60)

	seq, err := p.Packetize(frame, timecode.Timecode{PTS: 1}, &cursor, 580)
	if err != nil {
		t.Fatalf("Packetize failed: %v", err)
	}

	packet := seq.Next()
	if packet == nil {
		t.Fatal("expected one packet")
	}
	if !packet.Marker {
		t.Error("single fragment must carry the marker")
	}
	var hdr JPEGHeader
	hdr.Unmarshal(packet.Payload)
	if hdr.TypeSpecific != TypeSpecificKeyframe {
		t.Error("single fragment must carry the keyframe indicator")
	}
	if seq.Next() != nil {
		t.Error("expected sequence exhaustion after one packet")
	}
}

func TestPacketizeRejectsBadInput(t *testing.T) {
	var cursor SequenceCursor
	p := NewPacketizer(60)
	tc := timecode.Timecode{PTS: 1}

	if _, err := p.Packetize(&capture.Frame{}, tc, &cursor, 580); err == nil {
		t.Error("expected error for empty frame")
	}
	if _, err := p.Packetize(nil, tc, &cursor, 580); err == nil {
		t.Error("expected error for nil frame")
	}
	if _, err := p.Packetize(testFrame(10), tc, &cursor, 0); err == nil {
		t.Error("expected error for zero max payload")
	}
	if _, err := p.Packetize(testFrame(1<<24), tc, &cursor, 580); err == nil {
		t.Error("expected error for frame exceeding 24-bit offsets")
	}
}

func TestSequenceCursorWrap(t *testing.T) {
	c := SequenceCursor{next: 65534}

	if got := c.Next(); got != 65534 {
		t.Errorf("got %d, want 65534", got)
	}
	if got := c.Next(); got != 65535 {
		t.Errorf("got %d, want 65535", got)
	}
	// Zero is only valid as the very first value; the wrap skips it.
	if got := c.Next(); got != 1 {
		t.Errorf("after wrap: got %d, want 1", got)
	}
}

func TestSequenceCursorResetAndPeek(t *testing.T) {
	var c SequenceCursor
	if got := c.Next(); got != 0 {
		t.Errorf("first value: got %d, want 0", got)
	}
	if got := c.Peek(); got != 1 {
		t.Errorf("Peek: got %d, want 1", got)
	}
	c.Next()
	c.Reset()
	if got := c.Next(); got != 0 {
		t.Errorf("after reset: got %d, want 0", got)
	}
}
