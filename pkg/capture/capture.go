package capture

import (
	"errors"
)

// ErrNotReady is returned by rate-gated capture when the next frame
// interval has not elapsed yet. It is not an error condition for the
// caller; the caller simply tries again on the next tick.
var ErrNotReady = errors.New("capture: frame not ready")

// Frame is one independently-decodable compressed image. Data is an
// opaque JPEG byte buffer; Width and Height describe the encoded image.
type Frame struct {
	Data   []byte
	Width  int
	Height int
}

// Source produces compressed frames. A Frame obtained from Capture or
// CaptureNow is exclusively owned by the caller until Release is called,
// which must happen exactly once per obtained frame.
type Source interface {
	// Capture returns the next frame, gated to the source's configured
	// frame rate. Returns ErrNotReady between intervals.
	Capture() (*Frame, error)

	// CaptureNow returns a frame without rate gating. Used when the
	// transport needs a frame immediately (interleaved delivery and
	// transport fallback).
	CaptureNow() (*Frame, error)

	// Release returns the frame's buffer to the source.
	Release(f *Frame)
}
