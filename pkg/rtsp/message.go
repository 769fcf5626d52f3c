package rtsp

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Request represents an RTSP request received from a viewer.
type Request struct {
	Method  string
	URI     string
	Version string
	Headers map[string]string
	Body    []byte
	CSeq    int
}

// Response represents an RTSP response sent to a viewer.
type Response struct {
	Version    string
	StatusCode int
	StatusText string
	Headers    map[string]string
	Body       []byte
}

// NewResponse creates a new RTSP response with the standard status text.
func NewResponse(statusCode int) *Response {
	return &Response{
		Version:    RTSPVersion,
		StatusCode: statusCode,
		StatusText: getStatusText(statusCode),
		Headers:    make(map[string]string),
	}
}

// GetHeader gets a request header value.
func (r *Request) GetHeader(key string) string {
	return r.Headers[key]
}

// Path returns the path component of the request URI. A bare path is
// returned unchanged; an absolute rtsp:// URI is stripped to its path.
func (r *Request) Path() string {
	uri := r.URI
	if i := strings.Index(uri, "://"); i != -1 {
		rest := uri[i+3:]
		if j := strings.Index(rest, "/"); j != -1 {
			return rest[j:]
		}
		return "/"
	}
	return uri
}

// SetHeader sets a response header value.
func (r *Response) SetHeader(key, value string) {
	r.Headers[key] = value
}

// SetCSeq sets the sequence-correlation header echoed back to the viewer.
func (r *Response) SetCSeq(cseq int) {
	r.Headers[HeaderCSeq] = strconv.Itoa(cseq)
}

// SetBody attaches a body and its Content-Length/Content-Type headers.
func (r *Response) SetBody(contentType string, body []byte) {
	r.Body = body
	r.Headers[HeaderContentType] = contentType
	r.Headers[HeaderContentLength] = strconv.Itoa(len(body))
}

// String returns the wire representation of the response.
func (r *Response) String() string {
	var sb strings.Builder

	// Status line
	sb.WriteString(fmt.Sprintf("%s %d %s\r\n", r.Version, r.StatusCode, r.StatusText))

	// Headers, in stable order so responses are reproducible
	keys := make([]string, 0, len(r.Headers))
	for key := range r.Headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		sb.WriteString(fmt.Sprintf("%s: %s\r\n", key, r.Headers[key]))
	}

	// Empty line
	sb.WriteString("\r\n")

	// Body
	if len(r.Body) > 0 {
		sb.Write(r.Body)
	}

	return sb.String()
}

// Bytes returns the byte representation of the response.
func (r *Response) Bytes() []byte {
	return []byte(r.String())
}

// getStatusText returns the standard status text for a status code.
func getStatusText(statusCode int) string {
	switch statusCode {
	case StatusOK:
		return "OK"
	case StatusBadRequest:
		return "Bad Request"
	case StatusNotFound:
		return "Not Found"
	case StatusMethodNotValidInThisState:
		return "Method Not Valid in This State"
	case StatusUnsupportedTransport:
		return "Unsupported transport"
	case StatusInternalServerError:
		return "Internal Server Error"
	case StatusNotImplemented:
		return "Not Implemented"
	default:
		return "Unknown"
	}
}
