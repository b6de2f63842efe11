package paging_test

import (
	"testing"

	"nucleus/internal/archvt"
	"nucleus/internal/bootcfg"
	"nucleus/internal/paging"
	"nucleus/internal/pmm"
)

func newManager(t *testing.T) (*paging.Manager, *archvt.Sim) {
	t.Helper()
	frames := pmm.New(256 * bootcfg.PageSize)
	sim := archvt.NewSim()
	return paging.NewManager(frames, sim), sim
}

func TestMapTranslateRoundTrip(t *testing.T) {
	mgr, _ := newManager(t)
	as := mgr.CreateAddressSpace()

	const vaddr = 0x08048000
	frame := pmm.FrameAddr(0x2000)

	if err := mgr.Map(as, vaddr, frame, archvt.Writable|archvt.User); err != nil {
		t.Fatalf("Map: %v", err)
	}

	got, ok := mgr.Translate(as, vaddr)
	if !ok || got != frame {
		t.Fatalf("Translate = (%v, %v), want (%v, true)", got, ok, frame)
	}

	mgr.Unmap(as, vaddr)
	if _, ok := mgr.Translate(as, vaddr); ok {
		t.Fatalf("expected translate to fail after unmap")
	}
}

func TestUnmapInvalidatesTLB(t *testing.T) {
	mgr, sim := newManager(t)
	as := mgr.CreateAddressSpace()
	const vaddr = 0x1000
	_ = mgr.Map(as, vaddr, pmm.FrameAddr(0x3000), archvt.Writable)

	mgr.Unmap(as, vaddr)

	found := false
	for _, v := range sim.Invalidated() {
		if v == vaddr {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected InvalidatePage(%#x) to have been recorded", vaddr)
	}
}

func TestSwitchIsFullFlush(t *testing.T) {
	mgr, sim := newManager(t)
	as1 := mgr.CreateAddressSpace()
	as2 := mgr.CreateAddressSpace()

	_ = mgr.Map(as1, 0x1000, pmm.FrameAddr(0x4000), archvt.Writable)
	mgr.Unmap(as1, 0x1000)
	if len(sim.Invalidated()) == 0 {
		t.Fatalf("expected an invalidation recorded before switch")
	}

	mgr.SwitchTo(as2)
	if len(sim.Invalidated()) != 0 {
		t.Fatalf("switch should be a full TLB flush, clearing recorded invalidations")
	}
	if sim.Current() != as2.ID() {
		t.Fatalf("sim should have loaded as2's directory")
	}
}

func TestKernelHighHalfSharedAcrossSpaces(t *testing.T) {
	mgr, _ := newManager(t)
	mgr.MapKernel(bootcfg.KernelHeapStart, pmm.FrameAddr(0x9000), archvt.Writable)

	as1 := mgr.CreateAddressSpace()
	as2 := mgr.CreateAddressSpace()

	f1, ok1 := mgr.Translate(as1, bootcfg.KernelHeapStart)
	f2, ok2 := mgr.Translate(as2, bootcfg.KernelHeapStart)
	if !ok1 || !ok2 || f1 != f2 {
		t.Fatalf("kernel high half should be identically mapped in every space")
	}
}

func TestDestroyAddressSpaceFreesUserFrames(t *testing.T) {
	frames := pmm.New(64 * bootcfg.PageSize)
	sim := archvt.NewSim()
	mgr := paging.NewManager(frames, sim)
	before := frames.Stats()

	as := mgr.CreateAddressSpace()
	f, err := frames.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := mgr.Map(as, 0x08048000, f, archvt.Writable|archvt.User); err != nil {
		t.Fatalf("Map: %v", err)
	}

	mgr.DestroyAddressSpace(as)

	after := frames.Stats()
	if after != before {
		t.Fatalf("destroy should not leak frames: before=%+v after=%+v", before, after)
	}
}
