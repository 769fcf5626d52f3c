package rtp

import (
	"encoding/binary"
	"fmt"
)

// JPEGHeader is the 8-byte fragmentation header that follows the RTP
// header in every packet of a JPEG frame (RFC 2435 main header).
type JPEGHeader struct {
	TypeSpecific   uint8  // keyframe indicator on the first fragment
	FragmentOffset uint32 // 24 bits: byte offset of this fragment within the frame
	Type           uint8  // 0 = 4:2:2, 1 = 4:2:0
	Quality        uint8  // quality factor hint
	Width          uint8  // frame width in 8-pixel units
	Height         uint8  // frame height in 8-pixel units
}

// JPEGHeaderSize is the fragmentation header size in bytes.
const JPEGHeaderSize = 8

// TypeSpecificKeyframe marks the first fragment of an independently
// decodable frame. Every frame in an MJPEG stream qualifies.
const TypeSpecificKeyframe = 0x01

// maxFragmentOffset is the largest offset the 24-bit field can carry.
const maxFragmentOffset = 1<<24 - 1

// Marshal serializes the fragmentation header into 8 bytes.
func (h *JPEGHeader) Marshal() ([]byte, error) {
	if h.FragmentOffset > maxFragmentOffset {
		return nil, fmt.Errorf("fragment offset %d exceeds 24 bits", h.FragmentOffset)
	}
	buf := make([]byte, JPEGHeaderSize)
	buf[0] = h.TypeSpecific
	buf[1] = byte(h.FragmentOffset >> 16)
	buf[2] = byte(h.FragmentOffset >> 8)
	buf[3] = byte(h.FragmentOffset)
	buf[4] = h.Type
	buf[5] = h.Quality
	buf[6] = h.Width
	buf[7] = h.Height
	return buf, nil
}

// Unmarshal parses the fragmentation header from the start of data.
func (h *JPEGHeader) Unmarshal(data []byte) error {
	if len(data) < JPEGHeaderSize {
		return fmt.Errorf("JPEG header too short: %d bytes (min: %d)", len(data), JPEGHeaderSize)
	}
	h.TypeSpecific = data[0]
	h.FragmentOffset = uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	h.Type = data[4]
	h.Quality = data[5]
	h.Width = data[6]
	h.Height = data[7]
	return nil
}

// String returns a compact representation for debug logging.
func (h *JPEGHeader) String() string {
	return fmt.Sprintf("JPEG{TS:%d Off:%d Type:%d Q:%d W:%d H:%d}",
		h.TypeSpecific, h.FragmentOffset, h.Type, h.Quality,
		uint16(h.Width)*8, uint16(h.Height)*8)
}

// InterleavedHeaderSize is the framing marker size used when a packet is
// embedded in the control connection.
const InterleavedHeaderSize = 4

// InterleavedMarker is the first byte of the embedded framing marker.
const InterleavedMarker = '$'

// MarshalInterleavedHeader builds the 4-byte marker that precedes a
// packet sent over the control connection: '$', channel, 16-bit length.
func MarshalInterleavedHeader(channel uint8, length uint16) []byte {
	buf := make([]byte, InterleavedHeaderSize)
	buf[0] = InterleavedMarker
	buf[1] = channel
	binary.BigEndian.PutUint16(buf[2:4], length)
	return buf
}
