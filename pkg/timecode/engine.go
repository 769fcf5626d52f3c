package timecode

import (
	"log/slog"
	"sync"
	"time"

	"github.com/beevik/ntp"
)

// Mode selects how presentation timestamps are derived.
type Mode int

const (
	// ModeBasic derives the timestamp from elapsed wall-clock time
	// converted to the stream clock rate.
	ModeBasic Mode = iota
	// ModeAdvanced derives the timestamp from the frame counter times the
	// fixed per-frame increment (clockRate / fps), independent of actual
	// elapsed time.
	ModeAdvanced
	// ModeExpert is ModeAdvanced plus a synchronization flag in the clock
	// reference when a network time source has been consulted.
	ModeExpert
)

// String returns the string representation of the timecode mode.
func (m Mode) String() string {
	switch m {
	case ModeBasic:
		return "basic"
	case ModeAdvanced:
		return "advanced"
	case ModeExpert:
		return "expert"
	default:
		return "unknown"
	}
}

// syncFlag is set in the clock reference in expert mode once the network
// time source has been successfully consulted.
const syncFlag = 0x80000000

// Timecode carries the timing values for one frame.
type Timecode struct {
	PTS       uint32 // presentation timestamp, in clock-rate ticks
	DTS       uint32 // decoding timestamp, never exceeds PTS
	ClockRef  uint32 // free-running clock reference value
	WallClock uint32 // milliseconds since the engine started
}

// Options configures an Engine.
type Options struct {
	Mode           Mode
	ClockRate      uint32 // ticks per second, 90000 for video
	FrameRate      uint32 // target frames per second
	ForceMonotonic bool   // force strictly increasing PTS
	NTPServer      string // empty disables network time consultation
	NTPTimeout     time.Duration
}

// Engine derives monotonically increasing presentation and decoding
// timestamps from a free-running local clock. Each streaming session owns
// one Engine; timecodes are never shared across sessions.
type Engine struct {
	mode           Mode
	clockRate      uint32
	frameRate      uint32
	forceMonotonic bool

	start        time.Time
	frameCounter uint32
	lastPTS      uint32

	mu        sync.Mutex
	ntpSynced bool
	ntpTime   uint32
}

// NewEngine creates an engine with its reference clock established now.
// If a network time server is configured, consultation starts in the
// background and never blocks timecode generation.
func NewEngine(opts Options) *Engine {
	if opts.ClockRate == 0 {
		opts.ClockRate = 90000
	}
	if opts.FrameRate == 0 {
		opts.FrameRate = 15
	}
	e := &Engine{
		mode:           opts.Mode,
		clockRate:      opts.ClockRate,
		frameRate:      opts.FrameRate,
		forceMonotonic: opts.ForceMonotonic,
		start:          time.Now(),
	}
	if opts.NTPServer != "" {
		go e.syncNTP(opts.NTPServer, opts.NTPTimeout)
	}
	return e
}

// syncNTP consults the network time source once, best effort and time
// bounded. Failure leaves the engine unsynchronized.
func (e *Engine) syncNTP(server string, timeout time.Duration) {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		slog.Warn("NTP synchronization failed", "server", server, "err", err)
		return
	}
	if err := resp.Validate(); err != nil {
		slog.Warn("NTP response rejected", "server", server, "err", err)
		return
	}

	e.mu.Lock()
	e.ntpSynced = true
	e.ntpTime = uint32(resp.Time.Unix())
	e.mu.Unlock()
	slog.Info("NTP synchronization successful", "server", server, "offset", resp.ClockOffset)
}

// Synchronized reports whether the network time source has been consulted
// successfully.
func (e *Engine) Synchronized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ntpSynced
}

// NTPTime returns the network timestamp obtained at synchronization, or 0.
func (e *Engine) NTPTime() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ntpSynced {
		return 0
	}
	return e.ntpTime
}

// FrameTicks returns the per-frame timestamp increment, clockRate / fps.
func (e *Engine) FrameTicks() uint32 {
	return e.clockRate / e.frameRate
}

// WallClockMs returns elapsed milliseconds since the engine started,
// never zero.
func (e *Engine) WallClockMs() uint32 {
	ms := uint32(time.Since(e.start).Milliseconds())
	if ms == 0 {
		ms = 1
	}
	return ms
}

// FrameCounter returns the number of frames stamped so far.
func (e *Engine) FrameCounter() uint32 {
	return e.frameCounter
}

// Mode returns the engine's timestamp derivation mode.
func (e *Engine) Mode() Mode {
	return e.mode
}

// ResetCounters restarts the frame counter and the monotonicity floor.
// Called when playback starts from the beginning.
func (e *Engine) ResetCounters() {
	e.frameCounter = 0
	e.lastPTS = 0
}

// Next stamps the next frame. The returned timecode is never zero, is
// strictly increasing when monotonicity enforcement is on, and always has
// DTS <= PTS.
func (e *Engine) Next() Timecode {
	e.frameCounter++
	if e.frameCounter == 0 {
		e.frameCounter = 1 // wrapped
	}

	clockRef := uint32(time.Since(e.start).Milliseconds())
	tc := Timecode{
		ClockRef:  clockRef,
		WallClock: e.WallClockMs(),
	}

	switch e.mode {
	case ModeAdvanced, ModeExpert:
		tc.PTS = e.frameCounter * e.FrameTicks()
		tc.DTS = tc.PTS
		if e.mode == ModeExpert && e.Synchronized() {
			tc.ClockRef |= syncFlag
		}
	default:
		tc.PTS = e.elapsedTicks()
		tc.DTS = tc.PTS
	}

	if tc.PTS == 0 {
		tc.PTS = e.FrameTicks()
	}
	if tc.DTS == 0 {
		tc.DTS = tc.PTS
	}

	if e.forceMonotonic && tc.PTS <= e.lastPTS {
		tc.PTS = e.lastPTS + e.FrameTicks()
		tc.DTS = tc.PTS
	}

	// Single-frame-independent encoding: decoding never lags presentation.
	if tc.DTS > tc.PTS {
		tc.DTS = tc.PTS
	}

	e.lastPTS = tc.PTS
	return tc
}

// CurrentTimestamp returns the clock-rate timestamp corresponding to the
// elapsed wall-clock time, never zero. It does not advance the frame
// counter.
func (e *Engine) CurrentTimestamp() uint32 {
	ts := e.elapsedTicks()
	if ts == 0 {
		ts = e.FrameTicks()
	}
	return ts
}

// elapsedTicks converts elapsed wall-clock time to clock-rate ticks.
func (e *Engine) elapsedTicks() uint32 {
	ms := uint64(e.WallClockMs())
	return uint32(ms * uint64(e.clockRate) / 1000)
}
