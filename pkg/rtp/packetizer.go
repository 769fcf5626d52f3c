package rtp

import (
	"fmt"

	"github.com/pion/rtp"

	"lumen/pkg/capture"
	"lumen/pkg/timecode"
)

// Constants for RTP framing.
const (
	// HeaderSize is the fixed RTP header size in bytes.
	HeaderSize = 12
	// PayloadTypeJPEG is the static RTP payload type for JPEG video.
	PayloadTypeJPEG = 26
	// DefaultSSRC is the stream-source identifier stamped on every packet.
	DefaultSSRC = 0x13f97e67
)

// Packetizer fragments compressed frames into RTP/JPEG packets. It is
// transport-agnostic; the delivery layer decides how the packets move.
type Packetizer struct {
	SSRC    uint32
	Quality uint8
}

// NewPacketizer creates a packetizer with the default stream-source
// identifier and the given quality hint.
func NewPacketizer(quality uint8) *Packetizer {
	return &Packetizer{SSRC: DefaultSSRC, Quality: quality}
}

// FrameSequence is the ordered, lazy sequence of packets covering one
// frame. It is single-use: it must be fully consumed before the next
// frame's sequence begins, because it advances the shared sequence cursor
// as a side effect of Next.
type FrameSequence struct {
	pkt     *Packetizer
	frame   *capture.Frame
	tc      timecode.Timecode
	cursor  *SequenceCursor
	maxSize int
	offset  int
}

// Packetize starts the packet sequence for one frame. maxPayload is the
// largest fragment the transport can carry, excluding the RTP and JPEG
// headers.
func (p *Packetizer) Packetize(frame *capture.Frame, tc timecode.Timecode, cursor *SequenceCursor, maxPayload int) (*FrameSequence, error) {
	if frame == nil || len(frame.Data) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	if maxPayload <= 0 {
		return nil, fmt.Errorf("invalid max payload size: %d", maxPayload)
	}
	if len(frame.Data) > maxFragmentOffset {
		return nil, fmt.Errorf("frame too large for 24-bit offsets: %d bytes", len(frame.Data))
	}
	return &FrameSequence{
		pkt:     p,
		frame:   frame,
		tc:      tc,
		cursor:  cursor,
		maxSize: maxPayload,
	}, nil
}

// Next builds the next packet of the frame, or returns nil when the
// frame is fully covered. The marker bit is set on exactly the final
// fragment; the keyframe indicator on exactly the first.
func (s *FrameSequence) Next() *rtp.Packet {
	total := len(s.frame.Data)
	if s.offset >= total {
		return nil
	}

	size := total - s.offset
	if size > s.maxSize {
		size = s.maxSize
	}
	last := s.offset+size >= total
	first := s.offset == 0

	jpegHdr := JPEGHeader{
		FragmentOffset: uint32(s.offset),
		Quality:        s.pkt.Quality,
		Width:          uint8(s.frame.Width / 8),
		Height:         uint8(s.frame.Height / 8),
	}
	if first {
		jpegHdr.TypeSpecific = TypeSpecificKeyframe
	}
	hdrBytes, err := jpegHdr.Marshal()
	if err != nil {
		// Offset bounds were validated in Packetize.
		return nil
	}

	payload := make([]byte, 0, JPEGHeaderSize+size)
	payload = append(payload, hdrBytes...)
	payload = append(payload, s.frame.Data[s.offset:s.offset+size]...)

	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         last,
			PayloadType:    PayloadTypeJPEG,
			SequenceNumber: s.cursor.Next(),
			Timestamp:      s.tc.PTS,
			SSRC:           s.pkt.SSRC,
		},
		Payload: payload,
	}

	s.offset += size
	return packet
}

// Remaining reports how many payload bytes of the frame are not yet
// covered by emitted packets.
func (s *FrameSequence) Remaining() int {
	return len(s.frame.Data) - s.offset
}
