// Package proc implements the process control block lifecycle and
// ELF loader spec.md §4.9 describes: kernel-mode and user-mode
// process creation, PT_LOAD segment copying across address-space
// boundaries, and PCB teardown.
//
// Grounded on src/go/mazarin/kernel.go's init-order style (PCBs here
// are allocated per Create and kept in a map, not pre-allocated slots)
// composed with internal/procmem and internal/paging, which the
// teacher has no process model to generalize from directly (mazarin
// runs in one flat address space). The switch-write-switch-back ELF
// copy step follows spec.md §4.9/§9's explicit design note rather
// than any teacher code.
package proc

import (
	"sync"

	"nucleus/internal/archvt"
	"nucleus/internal/bootcfg"
	"nucleus/internal/elf32"
	"nucleus/internal/fdtable"
	"nucleus/internal/kerr"
	"nucleus/internal/paging"
	"nucleus/internal/pmm"
	"nucleus/internal/procmem"
	"nucleus/internal/vfs"
)

// State is the PCB's runnable state (spec.md §3).
type State int

const (
	StateRunnable State = iota
	StateBlocked
	StateZombie
)

// PCB is the process control block (spec.md §3: "process id, parent
// id, runnable state, kernel-vs-user flag, owning address space, user
// heap start/end, user stack start/end, saved register snapshot,
// priority, time slice, signal mask, exit code, bounded FD table").
type PCB struct {
	PID        uint32
	ParentPID  uint32
	State      State
	KernelMode bool

	AS *paging.AddressSpace

	Heap  *procmem.UserHeap
	Stack *procmem.UserStack

	Regs archvt.RegisterFrame

	Priority  int
	TimeSlice int
	SigMask   uint32
	ExitCode  int32

	FDs *fdtable.Table
}

// Table owns PCB lifecycle: allocation, lookup and destruction. It
// plays the role of the teacher's fixed process table, but each PCB
// is allocated on Create and held in a pid-keyed map with no fixed
// capacity.
type Table struct {
	mu       sync.Mutex
	mgr      *paging.Manager
	frames   *pmm.Allocator
	fs       *vfs.VFS
	kernelAS *paging.AddressSpace
	nextPID  uint32
	procs    map[uint32]*PCB
}

// NewTable builds an empty process table bound to a paging Manager,
// frame allocator, and the VFS descriptors are opened/closed through.
func NewTable(mgr *paging.Manager, frames *pmm.Allocator, fs *vfs.VFS) *Table {
	return &Table{
		mgr:    mgr,
		frames: frames,
		fs:     fs,
		procs:  make(map[uint32]*PCB),
	}
}

// SetKernelAddressSpace records the address space Destroy switches
// back to when it tears down the currently active process (spec.md
// §3 "switches back to the kernel address space if it was current").
// Boot wiring calls this once, after the kernel's own address space
// is constructed.
func (t *Table) SetKernelAddressSpace(as *paging.AddressSpace) {
	t.kernelAS = as
}

// exitHandlerAddr is the synthetic return address seeded at the top
// of a fresh user stack (spec.md §4.4 "seeds the stack with the
// exit-handler address"). The real address is architecture/runtime
// wiring outside this package's scope; a fixed sentinel in the low
// kernel range is distinguishable from any legitimate user code
// address and is what the trap-return path recognizes as "process
// called exit implicitly by returning from main".
const exitHandlerAddr = 0xC0001000

// Create builds a fresh PCB. The kernel-mode path skips user
// heap/stack setup and gets its own address space from
// CreateAddressSpace (holding the shared kernel high half); it does
// not reuse the space given to SetKernelAddressSpace. The user-mode path
// creates a fresh address space, user heap, and user stack (spec.md
// §4.9).
func (t *Table) Create(parentPID uint32, entryIP uint32, kernelMode bool) (*PCB, error) {
	t.mu.Lock()
	t.nextPID++
	pid := t.nextPID
	t.mu.Unlock()

	pcb := &PCB{
		PID:        pid,
		ParentPID:  parentPID,
		State:      StateRunnable,
		KernelMode: kernelMode,
		Priority:   0,
		TimeSlice:  0,
		FDs:        fdtable.New(),
	}
	pcb.Regs.EIP = entryIP
	pcb.Regs.EFLAGS = eflagsInterruptsEnabled

	if kernelMode {
		pcb.AS = t.mgr.CreateAddressSpace()
	} else {
		as := t.mgr.CreateAddressSpace()
		heap, err := procmem.HeapInit(t.mgr, t.frames, as, bootcfg.UserHeapBase)
		if err != nil {
			t.mgr.DestroyAddressSpace(as)
			return nil, err
		}
		stack, err := procmem.InitStack(t.mgr, t.frames, as, exitHandlerAddr)
		if err != nil {
			t.mgr.DestroyAddressSpace(as)
			return nil, err
		}
		pcb.AS = as
		pcb.Heap = heap
		pcb.Stack = stack
		pcb.Regs.ESP = stack.SavedSP
		pcb.Regs.EBP = stack.SavedSP
	}

	t.mu.Lock()
	t.procs[pid] = pcb
	t.mu.Unlock()
	return pcb, nil
}

// eflagsInterruptsEnabled is bit 9 (IF) of EFLAGS (spec.md §4.9
// "zeroes general-purpose registers... with interrupts enabled in
// the saved flags").
const eflagsInterruptsEnabled = 1 << 9

// Get looks up a live PCB by pid.
func (t *Table) Get(pid uint32) (*PCB, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.procs[pid]
	return p, ok
}

// Destroy releases a PCB: unwinds all user mappings and their backing
// frames, closes all descriptors, switches back to the kernel address
// space if the destroyed one was current, and releases the PCB
// (spec.md §3 "Process_Destroy").
func (t *Table) Destroy(pcb *PCB) {
	pcb.FDs.CloseAll(t.fs)
	if pcb.AS != nil {
		wasCurrent := t.mgr.Current() == pcb.AS
		t.mgr.DestroyAddressSpace(pcb.AS)
		if wasCurrent && t.kernelAS != nil {
			t.mgr.SwitchTo(t.kernelAS)
		}
	}
	t.mu.Lock()
	delete(t.procs, pcb.PID)
	t.mu.Unlock()
}

// LoadELF implements elf_load_process (spec.md §4.9): opens path
// through the VFS, parses the ELF header, maps and copies every
// PT_LOAD segment into a fresh PCB's address space, and sets the
// saved instruction pointer to the ELF entry point. On any failure
// the partially-built PCB is destroyed before returning the error.
func (t *Table) LoadELF(path string, parentPID uint32, kernelMode bool) (*PCB, error) {
	f, err := t.fs.Open(path)
	if err != nil {
		return nil, kerr.Wrap(kerr.MediumFailure, "proc.LoadELF", "opening ELF path", err)
	}
	defer t.fs.Close(f)

	raw := make([]byte, f.Size())
	if _, err := t.fs.Read(f, len(raw), raw); err != nil {
		return nil, kerr.Wrap(kerr.MediumFailure, "proc.LoadELF", "reading ELF file", err)
	}

	hdr, err := elf32.ParseHeader(raw)
	if err != nil {
		return nil, err
	}
	phdrs, err := elf32.ParseProgramHeaders(raw, hdr)
	if err != nil {
		return nil, err
	}

	pcb, err := t.Create(parentPID, hdr.Entry, kernelMode)
	if err != nil {
		return nil, err
	}

	for _, ph := range phdrs {
		if ph.Type != elf32.PTLoad {
			continue
		}
		if err := t.loadSegment(pcb, raw, ph); err != nil {
			t.Destroy(pcb)
			return nil, err
		}
	}

	pcb.Regs.EIP = hdr.Entry
	return pcb, nil
}

const pageSize = bootcfg.PageSize

func pageAlignDown(v uint32) uint32 { return v &^ (pageSize - 1) }

// loadSegment implements spec.md §4.9's four PT_LOAD steps: page-align
// the virtual range and map a frame per page, copy the segment's file
// bytes out of raw (the whole file, already read by LoadELF; nothing
// is re-read from the file here) in 512-byte chunks,
// switch-write-switch-back each chunk into the new address space, then
// zero any BSS tail.
func (t *Table) loadSegment(pcb *PCB, raw []byte, ph elf32.ProgramHeader) error {
	start := pageAlignDown(ph.VAddr)
	end := ph.VAddr + ph.MemSz

	flags := archvt.User
	if ph.Flags&elf32.PFWrite != 0 {
		flags |= archvt.Writable
	}

	type mappedPage struct {
		vaddr uint32
		frame pmm.FrameAddr
	}
	mapped := make([]mappedPage, 0, (end-start)/pageSize)
	rollback := func() {
		for _, m := range mapped {
			t.mgr.Unmap(pcb.AS, m.vaddr)
			t.frames.Free(m.frame)
		}
	}

	for vaddr := start; vaddr < end; vaddr += pageSize {
		frame, err := t.frames.Allocate()
		if err != nil {
			rollback()
			return kerr.Wrap(kerr.ResourceExhausted, "proc.loadSegment", "no frame for PT_LOAD page", err)
		}
		if err := t.mgr.Map(pcb.AS, vaddr, frame, flags); err != nil {
			t.frames.Free(frame)
			rollback()
			return err
		}
		mapped = append(mapped, mappedPage{vaddr: vaddr, frame: frame})
	}

	if ph.Offset+ph.FileSz > uint32(len(raw)) {
		rollback()
		return kerr.New(kerr.MediumFailure, "proc.loadSegment", "PT_LOAD extends past end of file")
	}

	const bounceSize = 512
	remaining := ph.FileSz
	fileOff := ph.Offset
	vaddr := ph.VAddr
	for remaining > 0 {
		chunk := uint32(bounceSize)
		if chunk > remaining {
			chunk = remaining
		}
		bounce := raw[fileOff : fileOff+chunk]
		if err := t.mgr.WriteUser(pcb.AS, vaddr, bounce); err != nil {
			rollback()
			return err
		}
		fileOff += chunk
		vaddr += chunk
		remaining -= chunk
	}

	if ph.MemSz > ph.FileSz {
		bssStart := ph.VAddr + ph.FileSz
		bssLen := ph.MemSz - ph.FileSz
		if err := t.mgr.ZeroUser(pcb.AS, bssStart, bssLen); err != nil {
			rollback()
			return err
		}
	}

	return nil
}
