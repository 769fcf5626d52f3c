package rtsp

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MessageReader handles RTSP request parsing on the server side.
type MessageReader struct {
	reader *bufio.Reader
}

// NewMessageReader creates a new RTSP message reader.
func NewMessageReader(r io.Reader) *MessageReader {
	return &MessageReader{
		reader: bufio.NewReader(r),
	}
}

// ReadRequest reads and parses one RTSP request. A request with no CSeq
// header is assigned the default sequence-correlation value.
func (mr *MessageReader) ReadRequest() (*Request, error) {
	// Read request line
	line, err := mr.readLine()
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid request line: %s", line)
	}

	request := &Request{
		Method:  parts[0],
		URI:     parts[1],
		Version: parts[2],
		Headers: make(map[string]string),
		CSeq:    DefaultCSeq,
	}

	// Read headers
	if err := mr.readHeaders(request.Headers); err != nil {
		return nil, fmt.Errorf("failed to read headers: %w", err)
	}

	// Parse CSeq
	if cseqStr := request.Headers[HeaderCSeq]; cseqStr != "" {
		if cseq, err := strconv.Atoi(strings.TrimSpace(cseqStr)); err == nil {
			request.CSeq = cseq
		}
	}

	// Read body if Content-Length is specified
	if contentLengthStr := request.Headers[HeaderContentLength]; contentLengthStr != "" {
		contentLength, err := strconv.Atoi(contentLengthStr)
		if err != nil {
			return nil, fmt.Errorf("invalid content length: %s", contentLengthStr)
		}

		if contentLength > 0 {
			request.Body = make([]byte, contentLength)
			if _, err := io.ReadFull(mr.reader, request.Body); err != nil {
				return nil, fmt.Errorf("failed to read body: %w", err)
			}
		}
	}

	return request, nil
}

// readLine reads a line from the reader (removes \r\n).
func (mr *MessageReader) readLine() (string, error) {
	line, err := mr.reader.ReadString('\n')
	if err != nil {
		return "", err
	}

	return strings.TrimRight(line, "\r\n"), nil
}

// readHeaders reads headers until an empty line.
func (mr *MessageReader) readHeaders(headers map[string]string) error {
	for {
		line, err := mr.readLine()
		if err != nil {
			return err
		}

		// Empty line means end of headers
		if line == "" {
			break
		}

		// Parse header
		colonIndex := strings.Index(line, ":")
		if colonIndex == -1 {
			continue // Skip invalid header lines
		}

		key := strings.TrimSpace(line[:colonIndex])
		value := strings.TrimSpace(line[colonIndex+1:])
		headers[key] = value
	}

	return nil
}
