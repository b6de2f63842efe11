// Package procmem builds the per-process user heap (brk/sbrk) and
// user stack (spec.md §4.4), mapping frames into a process's own
// paging.AddressSpace. The teacher has no process model to generalize
// this from directly (mazarin never leaves a single flat address
// space); this package composes internal/pmm and internal/paging the
// same page-per-4KiB-at-a-time way src/go/mazarin/page.go's
// allocPage/freePage does, applied per spec.md §4.4's heap/stack
// contract instead of the teacher's identity-mapped kernel pages.
package procmem

import (
	"nucleus/internal/archvt"
	"nucleus/internal/bootcfg"
	"nucleus/internal/kerr"
	"nucleus/internal/paging"
	"nucleus/internal/pmm"
)

const pageSize = bootcfg.PageSize

// UserHeap tracks a process's brk-managed region.
type UserHeap struct {
	Start uint32
	End   uint32 // current break, exclusive
	Max   uint32 // hard ceiling (bootcfg.UserHeapMax past Start)
}

// HeapInit maps a single frame at vaddrStart and records the heap
// range (spec.md §4.4: "process_heap_init maps a single frame at
// vaddr_start and records the heap range").
func HeapInit(mgr *paging.Manager, frames *pmm.Allocator, as *paging.AddressSpace, vaddrStart uint32) (*UserHeap, error) {
	frame, err := frames.Allocate()
	if err != nil {
		return nil, kerr.Wrap(kerr.ResourceExhausted, "procmem.HeapInit", "no frame for initial heap page", err)
	}
	if err := mgr.Map(as, vaddrStart, frame, archvt.Writable|archvt.User); err != nil {
		frames.Free(frame)
		return nil, err
	}
	return &UserHeap{
		Start: vaddrStart,
		End:   vaddrStart + pageSize,
		Max:   vaddrStart + bootcfg.UserHeapMax,
	}, nil
}

// Brk grows (or, per spec, only ever grows) the heap up to target,
// mapping one frame per 4KiB page needed, bounded by heap.Max
// (spec.md §4.4). On partial failure the heap is left fully extended
// to the last successfully mapped page (a lower value than target) -
// it never leaves a half-mapped final page.
func Brk(mgr *paging.Manager, frames *pmm.Allocator, as *paging.AddressSpace, heap *UserHeap, target uint32) error {
	if target <= heap.End {
		return nil
	}
	if target > heap.Max {
		return kerr.New(kerr.ResourceExhausted, "procmem.Brk", "target exceeds user heap maximum")
	}

	rounded := roundUpPage(target)
	for vaddr := heap.End; vaddr < rounded; vaddr += pageSize {
		frame, err := frames.Allocate()
		if err != nil {
			// Leave the heap consistent at the last successful page.
			return kerr.Wrap(kerr.ResourceExhausted, "procmem.Brk", "no frame during heap growth", err)
		}
		if err := mgr.Map(as, vaddr, frame, archvt.Writable|archvt.User); err != nil {
			frames.Free(frame)
			return err
		}
		heap.End = vaddr + pageSize
	}
	return nil
}

// Sbrk is the incremental form of Brk (spec.md §4.4).
func Sbrk(mgr *paging.Manager, frames *pmm.Allocator, as *paging.AddressSpace, heap *UserHeap, delta int32) (uint32, error) {
	prevEnd := heap.End
	if delta == 0 {
		return prevEnd, nil
	}
	if delta < 0 {
		// Shrinking is not part of spec.md's contract; reject rather
		// than silently no-op so callers notice a misuse.
		return 0, kerr.New(kerr.InvalidInput, "procmem.Sbrk", "negative delta not supported")
	}
	target := heap.End + uint32(delta)
	if err := Brk(mgr, frames, as, heap, target); err != nil {
		return 0, err
	}
	return prevEnd, nil
}

func roundUpPage(v uint32) uint32 {
	return (v + pageSize - 1) &^ (pageSize - 1)
}

// UserStack describes the mapped stack region.
type UserStack struct {
	Top   uint32 // highest mapped address + 1 (bootcfg.UserStackTop)
	Size  uint32
	SavedSP uint32 // initial stack pointer, pointing at the exit-handler sentinel
}

// InitStack allocates N frames, maps them RW/user at the fixed stack
// location, then - with the new address space temporarily active -
// writes the exit-handler address as the top-of-stack return sentinel
// (spec.md §4.4). Control returns to the caller's previously active
// address space before InitStack returns.
func InitStack(mgr *paging.Manager, frames *pmm.Allocator, as *paging.AddressSpace, exitHandlerAddr uint32) (*UserStack, error) {
	const size = bootcfg.UserStackSize
	base := uint32(bootcfg.UserStackTop) - size

	type mappedPage struct {
		vaddr uint32
		frame pmm.FrameAddr
	}
	var mapped []mappedPage
	rollback := func() {
		for _, m := range mapped {
			mgr.Unmap(as, m.vaddr)
			frames.Free(m.frame)
		}
	}

	for vaddr := base; vaddr < bootcfg.UserStackTop; vaddr += pageSize {
		frame, err := frames.Allocate()
		if err != nil {
			rollback()
			return nil, kerr.Wrap(kerr.ResourceExhausted, "procmem.InitStack", "no frame for stack page", err)
		}
		if err := mgr.Map(as, vaddr, frame, archvt.Writable|archvt.User); err != nil {
			frames.Free(frame)
			rollback()
			return nil, err
		}
		mapped = append(mapped, mappedPage{vaddr: vaddr, frame: frame})
	}

	// The sentinel word sits at the very top of the mapped range.
	sentinelAddr := uint32(bootcfg.UserStackTop) - 4

	var word [4]byte
	word[0] = byte(exitHandlerAddr)
	word[1] = byte(exitHandlerAddr >> 8)
	word[2] = byte(exitHandlerAddr >> 16)
	word[3] = byte(exitHandlerAddr >> 24)
	if err := mgr.WriteUser(as, sentinelAddr, word[:]); err != nil {
		rollback()
		return nil, err
	}

	return &UserStack{
		Top:     bootcfg.UserStackTop,
		Size:    size,
		SavedSP: sentinelAddr,
	}, nil
}
