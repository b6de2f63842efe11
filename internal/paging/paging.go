// Package paging is the page-table manager (spec.md §4.2). Grounded
// on src/go/mazarin/page.go's per-page metadata/free-list approach,
// generalized from a single flat identity-mapped space (the teacher
// never builds more than one address space) into the per-process
// address-space contract spec.md requires: create/destroy/map/unmap/
// translate/switch, with kernel high-half sharing across every space.
//
// Real x86 page directories are binary on-disk structures; since
// nothing here boots hardware, an AddressSpace is a Go map keyed by
// virtual page number, and TLB/CR3 effects are delegated to an
// archvt.PagingVTable at exactly the points spec.md §4.2 and §5
// require it (after unmap, and on every switch).
package paging

import (
	"sync"

	"nucleus/internal/archvt"
	"nucleus/internal/bootcfg"
	"nucleus/internal/kerr"
	"nucleus/internal/pmm"
)

const pageSize = bootcfg.PageSize

// mapping is one (vpage -> frame, flags) entry.
type mapping struct {
	frame pmm.FrameAddr
	flags archvt.Flags
}

// AddressSpace is a page directory plus the mappings it encodes
// (spec.md §3). The kernel high half (>= KernelBase) is identical
// across every AddressSpace created by the same Manager, so a switch
// never loses visibility of kernel code/heap/data.
type AddressSpace struct {
	id  archvt.PageDirID
	mgr *Manager

	mu       sync.Mutex
	entries  map[uint32]mapping         // vpage number -> mapping, user half
	ptFrames map[uint32]pmm.FrameAddr   // page-table-index -> backing frame, for intermediate tables allocated on demand
}

// Manager creates and switches address spaces, owning the frame
// allocator and the arch paging vtable.
type Manager struct {
	mu      sync.Mutex
	pmm     *pmm.Allocator
	vt      archvt.PagingVTable
	nextID  uint64
	kernel  map[uint32]mapping // shared high-half entries, copied into every new space
	current *AddressSpace
}

// NewManager builds a paging Manager over frames and the hardware
// vtable.
func NewManager(frames *pmm.Allocator, vt archvt.PagingVTable) *Manager {
	return &Manager{
		pmm:    frames,
		vt:     vt,
		kernel: make(map[uint32]mapping),
	}
}

func vpage(vaddr uint32) uint32 { return vaddr &^ (pageSize - 1) }

// MapKernel installs a mapping that is shared, identically, across
// every address space created from this point forward - used once at
// boot to establish the kernel high half (spec.md §4.2: "installs
// kernel high-half sharing (>= 3 GiB) so a switch never loses
// visibility of kernel code, heap, and data").
func (m *Manager) MapKernel(vaddr uint32, frame pmm.FrameAddr, flags archvt.Flags) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kernel[vpage(vaddr)] = mapping{frame: frame, flags: flags | archvt.Present}
}

// CreateAddressSpace allocates a fresh AddressSpace pre-populated
// with the shared kernel high half.
func (m *Manager) CreateAddressSpace() *AddressSpace {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	as := &AddressSpace{
		id:       archvt.PageDirID(m.nextID),
		mgr:      m,
		entries:  make(map[uint32]mapping),
		ptFrames: make(map[uint32]pmm.FrameAddr),
	}
	for vp, mp := range m.kernel {
		as.entries[vp] = mp
	}
	return as
}

// DestroyAddressSpace releases every user-half mapping's backing
// frame and drops the space. Kernel high-half frames are shared and
// are never freed here.
func (m *Manager) DestroyAddressSpace(as *AddressSpace) {
	as.mu.Lock()
	defer as.mu.Unlock()
	for vp, mp := range as.entries {
		if m.isKernelHalf(vp) {
			continue
		}
		m.pmm.Free(mp.frame)
	}
	for _, ptFrame := range as.ptFrames {
		m.pmm.Free(ptFrame)
	}
	as.entries = nil
	as.ptFrames = nil
	m.mu.Lock()
	if m.current == as {
		m.current = nil
	}
	m.mu.Unlock()
}

func (m *Manager) isKernelHalf(vp uint32) bool { return vp >= bootcfg.KernelBase }

// Map installs a (vaddr -> paddr) mapping with the given permission
// flags, allocating an intermediate page-table frame on demand
// (spec.md §4.2). Returns ResourceExhausted if no frame is available;
// the caller (ELF loader, heap expander) is responsible for rolling
// back any partial mappings it made before this call failed.
func (m *Manager) Map(as *AddressSpace, vaddr uint32, frame pmm.FrameAddr, flags archvt.Flags) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	vp := vpage(vaddr)

	ptIndex := vp / (pageSize * 1024) // one intermediate table covers 1024 pages, x86-style
	if _, ok := as.ptFrames[ptIndex]; !ok {
		// Simulate "allocate an intermediate page-table frame on
		// demand": the frame itself is not user-addressable, but its
		// absence/presence is the failure mode spec.md §4.2 names.
		ptFrame, err := m.pmm.Allocate()
		if err != nil {
			return kerr.Wrap(kerr.ResourceExhausted, "paging.Map", "no frame for page table", err)
		}
		as.ptFrames[ptIndex] = ptFrame
	}

	as.entries[vp] = mapping{frame: frame, flags: flags | archvt.Present}
	return nil
}

// Unmap removes the mapping for vaddr's page and invalidates the TLB
// entry before returning (spec.md §4.2, ordering guarantee spec.md §5).
func (m *Manager) Unmap(as *AddressSpace, vaddr uint32) {
	as.mu.Lock()
	vp := vpage(vaddr)
	delete(as.entries, vp)
	as.mu.Unlock()

	if m.vt != nil {
		m.vt.InvalidatePage(vp)
	}
}

// Translate returns the physical frame backing vaddr, if mapped.
func (m *Manager) Translate(as *AddressSpace, vaddr uint32) (pmm.FrameAddr, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	mp, ok := as.entries[vpage(vaddr)]
	if !ok || !mp.flags.Has(archvt.Present) {
		return 0, false
	}
	offset := uint64(vaddr) & (pageSize - 1)
	return pmm.FrameAddr(uint64(mp.frame) + offset), true
}

// Flags returns the permission flags mapped at vaddr, if any.
func (m *Manager) Flags(as *AddressSpace, vaddr uint32) (archvt.Flags, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	mp, ok := as.entries[vpage(vaddr)]
	return mp.flags, ok
}

// SwitchTo makes as the active address space, reloading CR3 - a full
// TLB flush (spec.md §5).
func (m *Manager) SwitchTo(as *AddressSpace) {
	m.mu.Lock()
	m.current = as
	m.mu.Unlock()
	if m.vt != nil {
		m.vt.LoadCR3(as.id)
	}
}

// Current returns the active address space, or nil before the first
// switch.
func (m *Manager) Current() *AddressSpace {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// ID exposes the address space's opaque page-directory handle, for
// callers that need to compare identity without taking a lock.
func (as *AddressSpace) ID() archvt.PageDirID { return as.id }

// WriteUser copies data into as's address space starting at vaddr,
// one page at a time. It switches the active address space to as once
// for the whole call and restores the caller's previous address space
// afterwards (spec.md §4.9 "Design Notes: switch-write-switch-back");
// the ELF loader gets its per-chunk switch by calling WriteUser once
// per bounce-buffer chunk.
// Every byte of data must already be covered by a mapping; an
// unmapped destination page returns InvalidInput and leaves prior
// pages already written.
func (m *Manager) WriteUser(as *AddressSpace, vaddr uint32, data []byte) error {
	prev := m.Current()
	m.SwitchTo(as)
	defer func() {
		if prev != nil {
			m.SwitchTo(prev)
		}
	}()

	off := 0
	for off < len(data) {
		page := vpage(vaddr)
		pageOff := vaddr - page
		n := pageSize - int(pageOff)
		if n > len(data)-off {
			n = len(data) - off
		}
		frame, ok := m.Translate(as, vaddr)
		if !ok {
			return kerr.New(kerr.InvalidInput, "paging.WriteUser", "destination page not mapped")
		}
		if err := m.pmm.WritePhys(uint64(frame), data[off:off+n]); err != nil {
			return err
		}
		off += n
		vaddr += uint32(n)
	}
	return nil
}

// ReadUser is WriteUser's inverse, filling buf from as's memory.
func (m *Manager) ReadUser(as *AddressSpace, vaddr uint32, buf []byte) error {
	prev := m.Current()
	m.SwitchTo(as)
	defer func() {
		if prev != nil {
			m.SwitchTo(prev)
		}
	}()

	off := 0
	for off < len(buf) {
		page := vpage(vaddr)
		pageOff := vaddr - page
		n := pageSize - int(pageOff)
		if n > len(buf)-off {
			n = len(buf) - off
		}
		frame, ok := m.Translate(as, vaddr)
		if !ok {
			return kerr.New(kerr.InvalidInput, "paging.ReadUser", "source page not mapped")
		}
		if err := m.pmm.ReadPhys(uint64(frame), buf[off:off+n]); err != nil {
			return err
		}
		off += n
		vaddr += uint32(n)
	}
	return nil
}

// ZeroUser zeroes n bytes of as's memory starting at vaddr, used for
// BSS zeroing after an ELF PT_LOAD segment (spec.md §4.9 step 4).
func (m *Manager) ZeroUser(as *AddressSpace, vaddr uint32, n uint32) error {
	zeros := make([]byte, n)
	return m.WriteUser(as, vaddr, zeros)
}

// Mappings returns every live (vpage, frame, flags) triple - a
// supplemented introspection surface (SPEC_FULL.md §6). No package or
// test in this module calls it; the ELF loader's failure-path unwind
// tracks its own mapped pages instead.
func (as *AddressSpace) Mappings() map[uint32]struct {
	Frame pmm.FrameAddr
	Flags archvt.Flags
} {
	as.mu.Lock()
	defer as.mu.Unlock()
	out := make(map[uint32]struct {
		Frame pmm.FrameAddr
		Flags archvt.Flags
	}, len(as.entries))
	for vp, mp := range as.entries {
		out[vp] = struct {
			Frame pmm.FrameAddr
			Flags archvt.Flags
		}{mp.frame, mp.flags}
	}
	return out
}
