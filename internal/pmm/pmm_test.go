package pmm_test

import (
	"testing"

	"nucleus/internal/bootcfg"
	"nucleus/internal/kerr"
	"nucleus/internal/pmm"
)

func TestFrameZeroNeverAllocated(t *testing.T) {
	a := pmm.New(16 * bootcfg.PageSize)
	if a.IsFree(0) {
		t.Fatalf("frame 0 must never be free")
	}
}

func TestAllocateFreeBalance(t *testing.T) {
	a := pmm.New(64 * bootcfg.PageSize)
	before := a.Stats()

	var frames []pmm.FrameAddr
	for i := 0; i < 10; i++ {
		f, err := a.Allocate()
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		frames = append(frames, f)
	}

	seen := map[pmm.FrameAddr]bool{}
	for _, f := range frames {
		if seen[f] {
			t.Fatalf("frame %d allocated twice", f)
		}
		seen[f] = true
	}

	for _, f := range frames {
		a.Free(f)
	}

	after := a.Stats()
	if after != before {
		t.Fatalf("PMM balance violated: before=%+v after=%+v", before, after)
	}
}

func TestExhaustion(t *testing.T) {
	// Small pool entirely consumed by reserved ranges + one usable frame.
	a := pmm.New(2 * bootcfg.PageSize)
	_, err := a.Allocate()
	if err != nil {
		t.Fatalf("expected one allocation to succeed: %v", err)
	}
	if _, err := a.Allocate(); !kerr.Is(err, kerr.ResourceExhausted) {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}
}

func TestFreeOutsideRangeIsDropped(t *testing.T) {
	a := pmm.New(4 * bootcfg.PageSize)
	before := a.Stats()
	a.Free(pmm.FrameAddr(1000 * bootcfg.PageSize))
	if a.Stats() != before {
		t.Fatalf("freeing an out-of-range frame must not change counters")
	}
}

func TestDoubleFreeDoesNotCorruptCounters(t *testing.T) {
	a := pmm.New(8 * bootcfg.PageSize)
	f, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	a.Free(f)
	afterFirst := a.Stats()
	a.Free(f)
	if a.Stats() != afterFirst {
		t.Fatalf("double free corrupted counters: %+v -> %+v", afterFirst, a.Stats())
	}
}

func TestReservedRangesPreMarked(t *testing.T) {
	a := pmm.New(1024 * bootcfg.PageSize)
	if !a.IsFree(bootcfg.InterruptVectorEnd + bootcfg.PageSize) {
		// sanity: frames well past the reserved ranges are free
		t.Fatalf("frame past the interrupt vector area must be free")
	}
	if a.IsFree(0x400) {
		t.Fatalf("interrupt vector area must be pre-reserved")
	}
	if a.IsFree(bootcfg.VideoMemoryBase) {
		t.Fatalf("video memory must be pre-reserved")
	}
}
