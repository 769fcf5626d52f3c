package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"
)

// PatternSource generates a moving color-bar test pattern encoded as
// JPEG. It stands in for camera hardware so the server can stream
// without a physical sensor attached.
type PatternSource struct {
	width    int
	height   int
	quality  int
	interval time.Duration

	mu          sync.Mutex
	lastCapture time.Time
	frameIndex  int
	outstanding int
}

// NewPatternSource creates a test-pattern source producing width x height
// JPEG frames at most once per 1/fps seconds through Capture.
func NewPatternSource(width, height, quality, fps int) *PatternSource {
	if fps <= 0 {
		fps = 15
	}
	return &PatternSource{
		width:    width,
		height:   height,
		quality:  quality,
		interval: time.Second / time.Duration(fps),
	}
}

// Capture returns the next frame, enforcing the configured frame rate.
func (s *PatternSource) Capture() (*Frame, error) {
	s.mu.Lock()
	now := time.Now()
	if !s.lastCapture.IsZero() && now.Sub(s.lastCapture) < s.interval {
		s.mu.Unlock()
		return nil, ErrNotReady
	}
	s.lastCapture = now
	s.mu.Unlock()

	return s.encode()
}

// CaptureNow returns a frame without rate gating.
func (s *PatternSource) CaptureNow() (*Frame, error) {
	return s.encode()
}

// Release returns the frame buffer. The pattern source allocates per
// frame, so it only balances the outstanding count used to detect leaks.
func (s *PatternSource) Release(f *Frame) {
	if f == nil {
		return
	}
	s.mu.Lock()
	s.outstanding--
	if s.outstanding < 0 {
		slog.Warn("Frame released more than once", "outstanding", s.outstanding)
		s.outstanding = 0
	}
	s.mu.Unlock()
}

// Outstanding reports how many captured frames have not been released.
func (s *PatternSource) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding
}

func (s *PatternSource) encode() (*Frame, error) {
	s.mu.Lock()
	idx := s.frameIndex
	s.frameIndex++
	s.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	bars := []color.RGBA{
		{235, 235, 235, 255},
		{235, 235, 16, 255},
		{16, 235, 235, 255},
		{16, 235, 16, 255},
		{235, 16, 235, 255},
		{235, 16, 16, 255},
		{16, 16, 235, 255},
	}
	barWidth := s.width / len(bars)
	if barWidth == 0 {
		barWidth = 1
	}
	shift := (idx * 4) % s.width
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			bar := (((x + shift) % s.width) / barWidth) % len(bars)
			img.SetRGBA(x, y, bars[bar])
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode test pattern: %w", err)
	}

	s.mu.Lock()
	s.outstanding++
	s.mu.Unlock()

	return &Frame{Data: buf.Bytes(), Width: s.width, Height: s.height}, nil
}
