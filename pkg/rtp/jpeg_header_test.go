package rtp

import (
	"bytes"
	"testing"
)

func TestJPEGHeaderRoundTrip(t *testing.T) {
	original := JPEGHeader{
		TypeSpecific:   TypeSpecificKeyframe,
		FragmentOffset: 0x0304FF,
		Type:           1,
		Quality:        60,
		Width:          80,  // 640px
		Height:         60,  // 480px
	}

	data, err := original.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if len(data) != JPEGHeaderSize {
		t.Fatalf("Marshal produced %d bytes, want %d", len(data), JPEGHeaderSize)
	}

	var parsed JPEGHeader
	if err := parsed.Unmarshal(data); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if parsed != original {
		t.Errorf("round trip mismatch: got %+v, want %+v", parsed, original)
	}
}

func TestJPEGHeaderOffsetBounds(t *testing.T) {
	h := JPEGHeader{FragmentOffset: 1 << 24}
	if _, err := h.Marshal(); err == nil {
		t.Error("expected error for offset exceeding 24 bits")
	}

	h.FragmentOffset = 1<<24 - 1
	data, err := h.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed at max offset: %v", err)
	}
	var parsed JPEGHeader
	if err := parsed.Unmarshal(data); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if parsed.FragmentOffset != 1<<24-1 {
		t.Errorf("max offset round trip: got %d", parsed.FragmentOffset)
	}
}

func TestJPEGHeaderUnmarshalShort(t *testing.T) {
	var h JPEGHeader
	if err := h.Unmarshal(make([]byte, JPEGHeaderSize-1)); err == nil {
		t.Error("expected error for short buffer")
	}
}

func TestMarshalInterleavedHeader(t *testing.T) {
	header := MarshalInterleavedHeader(0, 0x0214)
	want := []byte{'$', 0x00, 0x02, 0x14}
	if !bytes.Equal(header, want) {
		t.Errorf("got % x, want % x", header, want)
	}

	header = MarshalInterleavedHeader(2, 65535)
	if header[1] != 2 || header[2] != 0xFF || header[3] != 0xFF {
		t.Errorf("channel/length encoding wrong: % x", header)
	}
}
