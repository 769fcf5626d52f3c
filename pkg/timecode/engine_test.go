package timecode

import (
	"testing"
	"time"
)

func TestFrameTicks(t *testing.T) {
	e := NewEngine(Options{Mode: ModeAdvanced, ClockRate: 90000, FrameRate: 15})
	if got := e.FrameTicks(); got != 6000 {
		t.Errorf("FrameTicks: got %d, want 6000", got)
	}
}

func TestAdvancedModeIncrement(t *testing.T) {
	e := NewEngine(Options{Mode: ModeAdvanced, ClockRate: 90000, FrameRate: 15})

	for i := 1; i <= 5; i++ {
		tc := e.Next()
		want := uint32(i) * 6000
		if tc.PTS != want {
			t.Errorf("frame %d: PTS got %d, want %d", i, tc.PTS, want)
		}
		if tc.DTS != tc.PTS {
			t.Errorf("frame %d: DTS %d != PTS %d", i, tc.DTS, tc.PTS)
		}
	}
	if e.FrameCounter() != 5 {
		t.Errorf("FrameCounter: got %d, want 5", e.FrameCounter())
	}
}

func TestBasicModeNeverZero(t *testing.T) {
	e := NewEngine(Options{Mode: ModeBasic, ClockRate: 90000, FrameRate: 15})

	// Immediately after start the elapsed time rounds to zero ticks; the
	// engine must substitute a non-zero value.
	tc := e.Next()
	if tc.PTS == 0 {
		t.Error("PTS must never be zero")
	}
	if tc.DTS == 0 {
		t.Error("DTS must never be zero")
	}
	if tc.DTS > tc.PTS {
		t.Errorf("DTS %d exceeds PTS %d", tc.DTS, tc.PTS)
	}
}

func TestMonotonicForcing(t *testing.T) {
	e := NewEngine(Options{Mode: ModeBasic, ClockRate: 90000, FrameRate: 15, ForceMonotonic: true})

	// Back-to-back calls land in the same wall-clock millisecond, which
	// would repeat the timestamp without forcing.
	prev := e.Next().PTS
	for i := 0; i < 4; i++ {
		tc := e.Next()
		if tc.PTS <= prev {
			t.Errorf("PTS not strictly increasing: %d after %d", tc.PTS, prev)
		}
		prev = tc.PTS
	}
}

func TestExpertModeUnsynced(t *testing.T) {
	e := NewEngine(Options{Mode: ModeExpert, ClockRate: 90000, FrameRate: 15})

	tc := e.Next()
	if tc.ClockRef&0x80000000 != 0 {
		t.Error("sync flag set without a successful time-source consultation")
	}
	if e.Synchronized() {
		t.Error("engine reports synchronized without consultation")
	}
	if e.NTPTime() != 0 {
		t.Errorf("NTPTime without sync: got %d, want 0", e.NTPTime())
	}
	if tc.PTS != 6000 {
		t.Errorf("expert mode PTS: got %d, want 6000", tc.PTS)
	}
}

func TestResetCounters(t *testing.T) {
	e := NewEngine(Options{Mode: ModeAdvanced, ClockRate: 90000, FrameRate: 15})
	e.Next()
	e.Next()
	e.ResetCounters()

	if e.FrameCounter() != 0 {
		t.Errorf("FrameCounter after reset: got %d, want 0", e.FrameCounter())
	}
	if tc := e.Next(); tc.PTS != 6000 {
		t.Errorf("first PTS after reset: got %d, want 6000", tc.PTS)
	}
}

func TestWallClockNeverZero(t *testing.T) {
	e := NewEngine(Options{Mode: ModeBasic, ClockRate: 90000, FrameRate: 15})
	if e.WallClockMs() == 0 {
		t.Error("WallClockMs must never be zero")
	}
}

func TestCurrentTimestampAdvances(t *testing.T) {
	e := NewEngine(Options{Mode: ModeBasic, ClockRate: 90000, FrameRate: 15})
	first := e.CurrentTimestamp()
	if first == 0 {
		t.Error("CurrentTimestamp must never be zero")
	}
	time.Sleep(5 * time.Millisecond)
	if second := e.CurrentTimestamp(); second <= first {
		t.Errorf("CurrentTimestamp did not advance: %d then %d", first, second)
	}
	if e.FrameCounter() != 0 {
		t.Error("CurrentTimestamp must not advance the frame counter")
	}
}

func TestDefaultOptions(t *testing.T) {
	e := NewEngine(Options{})
	if e.FrameTicks() != 6000 {
		t.Errorf("defaults: FrameTicks got %d, want 6000", e.FrameTicks())
	}
	if e.Mode() != ModeBasic {
		t.Errorf("defaults: mode got %v, want basic", e.Mode())
	}
}
