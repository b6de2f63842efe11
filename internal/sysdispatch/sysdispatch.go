// Package sysdispatch is the generic syscall dispatcher spec.md §4.11
// describes: extract a syscall number and up to six word-sized
// arguments from a saved register frame, switch on the number,
// coerce arguments to each handler's shape, invoke the handler, and
// write the return value back into the frame's accumulator register.
//
// Grounded on src/go/mazarin/exceptions.go's ExceptionHandler /
// handleException register-extract-and-switch pattern, generalized
// from the teacher's AArch64 ESR/ELR exception dispatch to the x86
// trap-frame spec.md §4.11 requires (accumulator + up to six argument
// registers via archvt.StackVTable).
package sysdispatch

import (
	"nucleus/internal/archvt"
	"nucleus/internal/paging"
	"nucleus/internal/pmm"
	"nucleus/internal/proc"
	"nucleus/internal/procmem"
	"nucleus/internal/vfs"
)

// Syscall numbers (spec.md §4.11).
const (
	Read  = 3
	Write = 4
	Open  = 5
	Close = 6
	Lseek = 19
	Brk   = 45
	Sbrk  = 186
)

const negOne = 0xFFFFFFFF // -1 as an unsigned 32-bit word, the ABI's failure sentinel (spec.md §7)

const userBufMax = 1 << 20 // guards against a runaway syscall length argument

// Dispatcher is the generic half of the trap path: the arch-specific
// handler extracts a RegisterFrame and a pid, then calls Dispatch.
type Dispatcher struct {
	procs  *proc.Table
	fs     *vfs.VFS
	mgr    *paging.Manager
	frames *pmm.Allocator
	stack  archvt.StackVTable
}

// New builds a dispatcher wired to the process table, VFS, paging
// manager, frame allocator, and the architecture's register-frame
// calling convention.
func New(procs *proc.Table, fs *vfs.VFS, mgr *paging.Manager, frames *pmm.Allocator, stack archvt.StackVTable) *Dispatcher {
	return &Dispatcher{procs: procs, fs: fs, mgr: mgr, frames: frames, stack: stack}
}

// Dispatch extracts the syscall number from the frame's accumulator
// (spec.md §4.11), invokes the matching handler for pid, and writes
// the result back into the frame's accumulator for the trap-return
// path.
func (d *Dispatcher) Dispatch(pid uint32, frame *archvt.RegisterFrame) {
	pcb, ok := d.procs.Get(pid)
	if !ok {
		d.stack.SetReturn(frame, negOne)
		return
	}
	ret := d.route(pcb, frame.EAX, frame)
	d.stack.SetReturn(frame, ret)
}

func (d *Dispatcher) route(pcb *proc.PCB, num uint32, frame *archvt.RegisterFrame) uint32 {
	arg := func(i int) uint32 { return d.stack.Arg(frame, i) }

	switch num {
	case Read:
		return d.sysRead(pcb, int32(arg(0)), arg(1), arg(2))
	case Write:
		return d.sysWrite(pcb, int32(arg(0)), arg(1), arg(2))
	case Open:
		return d.sysOpen(pcb, arg(0), arg(1))
	case Close:
		return d.sysClose(pcb, int32(arg(0)))
	case Lseek:
		return d.sysLseek(pcb, int32(arg(0)), int32(arg(1)), int32(arg(2)))
	case Brk:
		return d.sysBrk(pcb, arg(0))
	case Sbrk:
		return d.sysSbrk(pcb, int32(arg(0)))
	default:
		return negOne
	}
}

// readUserBuf copies n bytes out of pcb's address space at vaddr into
// a fresh kernel buffer.
func (d *Dispatcher) readUserBuf(pcb *proc.PCB, vaddr uint32, n uint32) ([]byte, bool) {
	if n > userBufMax {
		return nil, false
	}
	buf := make([]byte, n)
	if err := d.mgr.ReadUser(pcb.AS, vaddr, buf); err != nil {
		return nil, false
	}
	return buf, true
}

func (d *Dispatcher) sysRead(pcb *proc.PCB, fd int32, bufAddr, n uint32) uint32 {
	if n > userBufMax {
		return negOne
	}
	kbuf := make([]byte, n)
	got, err := pcb.FDs.Read(d.fs, int(fd), int(n), kbuf)
	if err != nil {
		return negOne
	}
	if err := d.mgr.WriteUser(pcb.AS, bufAddr, kbuf[:got]); err != nil {
		return negOne
	}
	return uint32(got)
}

func (d *Dispatcher) sysWrite(pcb *proc.PCB, fd int32, bufAddr, n uint32) uint32 {
	kbuf, ok := d.readUserBuf(pcb, bufAddr, n)
	if !ok {
		return negOne
	}
	written, err := pcb.FDs.Write(d.fs, int(fd), len(kbuf), kbuf)
	if err != nil {
		return negOne
	}
	return uint32(written)
}

func (d *Dispatcher) sysOpen(pcb *proc.PCB, pathAddr, flags uint32) uint32 {
	path, ok := d.readUserCString(pcb, pathAddr)
	if !ok {
		return negOne
	}
	fd, err := pcb.FDs.Open(d.fs, path, int(flags))
	if err != nil {
		return negOne
	}
	return uint32(fd)
}

func (d *Dispatcher) sysClose(pcb *proc.PCB, fd int32) uint32 {
	if err := pcb.FDs.Close(d.fs, int(fd)); err != nil {
		return negOne
	}
	return 0
}

func (d *Dispatcher) sysLseek(pcb *proc.PCB, fd int32, off int32, whence int32) uint32 {
	pos, err := pcb.FDs.Lseek(int(fd), int64(off), int(whence))
	if err != nil {
		return negOne
	}
	return uint32(pos)
}

func (d *Dispatcher) sysBrk(pcb *proc.PCB, target uint32) uint32 {
	if pcb.Heap == nil {
		return negOne
	}
	if err := procmem.Brk(d.mgr, d.frames, pcb.AS, pcb.Heap, target); err != nil {
		return negOne
	}
	return pcb.Heap.End
}

func (d *Dispatcher) sysSbrk(pcb *proc.PCB, delta int32) uint32 {
	if pcb.Heap == nil {
		return negOne
	}
	prev, err := procmem.Sbrk(d.mgr, d.frames, pcb.AS, pcb.Heap, delta)
	if err != nil {
		return negOne
	}
	return prev
}

const maxPathLen = 4096

// readUserCString reads a NUL-terminated path string out of pcb's
// address space 64 bytes at a time, up to maxPathLen bytes.
func (d *Dispatcher) readUserCString(pcb *proc.PCB, vaddr uint32) (string, bool) {
	var out []byte
	var chunk [64]byte
	for off := uint32(0); off < maxPathLen; off += uint32(len(chunk)) {
		if err := d.mgr.ReadUser(pcb.AS, vaddr+off, chunk[:]); err != nil {
			return "", false
		}
		for _, b := range chunk {
			if b == 0 {
				return string(out), true
			}
			out = append(out, b)
		}
	}
	return "", false
}
