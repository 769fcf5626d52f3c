package rtsp

import (
	"bufio"
	"io"

	"lumen/pkg/rtp"
)

// MessageWriter handles RTSP response writing and interleaved media
// framing on the control connection.
type MessageWriter struct {
	conn   io.Writer
	writer *bufio.Writer
}

// NewMessageWriter creates a new RTSP message writer.
func NewMessageWriter(w io.Writer) *MessageWriter {
	return &MessageWriter{
		conn:   w,
		writer: bufio.NewWriter(w),
	}
}

// Reset discards buffered bytes and clears a sticky write error so a
// retry can reach the connection again.
func (mw *MessageWriter) Reset() {
	mw.writer.Reset(mw.conn)
}

// WriteResponse writes an RTSP response and flushes it.
func (mw *MessageWriter) WriteResponse(resp *Response) error {
	data := resp.Bytes()
	if _, err := mw.writer.Write(data); err != nil {
		return err
	}
	return mw.writer.Flush()
}

// WriteInterleaved writes one media packet embedded in the control
// connection: a 4-byte channel marker followed by the packet bytes.
func (mw *MessageWriter) WriteInterleaved(channel uint8, packet []byte) error {
	header := rtp.MarshalInterleavedHeader(channel, uint16(len(packet)))
	if _, err := mw.writer.Write(header); err != nil {
		return err
	}
	if _, err := mw.writer.Write(packet); err != nil {
		return err
	}
	return mw.writer.Flush()
}
