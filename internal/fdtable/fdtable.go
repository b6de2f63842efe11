// Package fdtable implements the per-process file-descriptor table
// spec.md §4.10 describes: a bounded slot table with stdin/stdout/
// stderr reserved, lowest-free-slot allocation starting at 3, and the
// open/close/read/write/lseek contract that bridges user code to the
// VFS.
//
// Grounded on spec.md §3's "bounded file-descriptor table (size 16)"
// and §4.10 directly; the teacher (mazarin) has no process or file
// descriptor model at all, so this follows the same bounded fixed-
// array style the rest of the rewrite uses (fat.FS.open,
// volumes.Arena) rather than an unbounded slice.
package fdtable

import (
	"nucleus/internal/bootcfg"
	"nucleus/internal/kerr"
	"nucleus/internal/vfs"
)

// Open flag bit values, preserved for ABI (spec.md §4.10).
const (
	ORDONLY = 0
	OWRONLY = 1
	ORDWR   = 2
	OCREAT  = 0x40
	OTRUNC  = 0x200
	OAPPEND = 0x400
)

// Whence values for Lseek. SEEK_END is explicitly not implemented
// (spec.md §4.10, §9 open questions).
const (
	SeekSet = 0
	SeekCur = 1
)

// Stream tags fd 1/2 writes are fanned out to the active terminal
// under (spec.md §4.10 "write to the active terminal with a stream
// tag of stdout or stderr").
const (
	StreamStdout = 1
	StreamStderr = 2
)

// TerminalSink is the minimal surface fd 1/2 writes bypass the VFS
// for. Kept as a small local interface, not an import of
// internal/terminal, so fdtable never depends on the terminal
// subsystem's own dependency graph - mirroring how internal/devfs
// decouples from internal/terminal via TTYIO.
type TerminalSink interface {
	Write(stream int, buf []byte) (int, error)
}

// descriptor is one live FD record (spec.md §3 "File descriptor").
type descriptor struct {
	path     string
	offset   int64
	readable bool
	writable bool
	flags    int
	file     *vfs.File
	inUse    bool
}

// Table is a process's bounded descriptor table. Slots 0/1/2 are
// reserved for stdin/stdout/stderr and never close through Close.
type Table struct {
	slots    [bootcfg.FDTableSize]descriptor
	terminal TerminalSink
}

// New returns an empty table with slots 0/1/2 pre-reserved.
func New() *Table {
	t := &Table{}
	for i := 0; i < 3; i++ {
		t.slots[i].inUse = true
		t.slots[i].readable = i == 0
		t.slots[i].writable = i != 0
	}
	return t
}

// SetTerminal binds the active terminal that fd 1/2 writes fan out
// to.
func (t *Table) SetTerminal(sink TerminalSink) { t.terminal = sink }

func readWriteFromFlags(flags int) (readable, writable bool) {
	switch flags & 0x3 {
	case ORDONLY:
		return true, false
	case OWRONLY:
		return false, true
	case ORDWR:
		return true, true
	default:
		return true, false
	}
}

// Open finds the lowest free slot >= 3, opens path through fs
// (creating it first if O_CREAT is set and truncating if O_TRUNC is
// set), and wraps the result in a descriptor record (spec.md §4.10).
func (t *Table) Open(fs *vfs.VFS, path string, flags int) (int, error) {
	slot := -1
	for i := 3; i < len(t.slots); i++ {
		if !t.slots[i].inUse {
			slot = i
			break
		}
	}
	if slot < 0 {
		return -1, kerr.New(kerr.ResourceExhausted, "fdtable.Open", "file descriptor table is full")
	}

	var f *vfs.File
	var err error
	if flags&OCREAT != 0 {
		f, err = fs.Create(path)
		if kerr.Is(err, kerr.InvalidInput) {
			// Already exists: fall back to a plain open, matching
			// O_CREAT's usual "create if missing" semantics rather
			// than O_CREAT|O_EXCL (spec.md names no O_EXCL flag).
			f, err = fs.Open(path)
		}
	} else {
		f, err = fs.Open(path)
	}
	if err != nil {
		return -1, err
	}

	if flags&OTRUNC != 0 {
		if err := fs.Truncate(f); err != nil {
			fs.Close(f)
			return -1, err
		}
	}

	readable, writable := readWriteFromFlags(flags)
	var offset int64
	if flags&OAPPEND != 0 {
		offset = f.Size()
	}
	t.slots[slot] = descriptor{
		path:     path,
		offset:   offset,
		readable: readable,
		writable: writable,
		flags:    flags,
		file:     f,
		inUse:    true,
	}
	return slot, nil
}

func (t *Table) get(fd int) (*descriptor, error) {
	if fd < 0 || fd >= len(t.slots) || !t.slots[fd].inUse {
		return nil, kerr.New(kerr.InvalidInput, "fdtable", "bad file descriptor")
	}
	return &t.slots[fd], nil
}

// Close frees fd's record. Closing 0/1/2 is a silent no-op (spec.md
// §4.10).
func (t *Table) Close(fs *vfs.VFS, fd int) error {
	if fd >= 0 && fd < 3 {
		return nil
	}
	d, err := t.get(fd)
	if err != nil {
		return err
	}
	fs.Close(d.file)
	*d = descriptor{}
	return nil
}

// Read seeks the VFS handle to fd's offset then reads up to n bytes,
// advancing the offset by the bytes returned (spec.md §4.10).
func (t *Table) Read(fs *vfs.VFS, fd int, n int, buf []byte) (int, error) {
	d, err := t.get(fd)
	if err != nil {
		return 0, err
	}
	if !d.readable {
		return 0, kerr.New(kerr.InvalidInput, "fdtable.Read", "descriptor not opened for reading")
	}
	if err := fs.Seek(d.file, d.offset); err != nil {
		return 0, err
	}
	got, err := fs.Read(d.file, n, buf)
	d.offset += int64(got)
	return got, err
}

// Write bypasses the VFS for fd 1/2, fanning out to the active
// terminal with a stream tag; otherwise it seeks to fd's offset and
// writes, advancing the offset (spec.md §4.10).
func (t *Table) Write(fs *vfs.VFS, fd int, n int, buf []byte) (int, error) {
	if fd == 1 || fd == 2 {
		if t.terminal == nil {
			return 0, kerr.New(kerr.InvalidInput, "fdtable.Write", "no active terminal bound")
		}
		if n > len(buf) {
			n = len(buf)
		}
		stream := StreamStdout
		if fd == 2 {
			stream = StreamStderr
		}
		return t.terminal.Write(stream, buf[:n])
	}

	d, err := t.get(fd)
	if err != nil {
		return 0, err
	}
	if !d.writable {
		return 0, kerr.New(kerr.InvalidInput, "fdtable.Write", "descriptor not opened for writing")
	}
	if err := fs.Seek(d.file, d.offset); err != nil {
		return 0, err
	}
	written, err := fs.Write(d.file, n, buf)
	d.offset += int64(written)
	return written, err
}

// Lseek supports SEEK_SET and SEEK_CUR only (spec.md §4.10, §9:
// "SEEK_END is unimplemented in the source; the spec leaves it
// unimplemented").
func (t *Table) Lseek(fd int, off int64, whence int) (int64, error) {
	d, err := t.get(fd)
	if err != nil {
		return -1, err
	}
	switch whence {
	case SeekSet:
		d.offset = off
	case SeekCur:
		d.offset += off
	default:
		return -1, kerr.New(kerr.InvalidInput, "fdtable.Lseek", "unsupported whence (SEEK_END is not implemented)")
	}
	return d.offset, nil
}

// CloseAll tears down every non-reserved descriptor, used by process
// destruction (spec.md §3 "Process_Destroy... closes all descriptors").
func (t *Table) CloseAll(fs *vfs.VFS) {
	for i := 3; i < len(t.slots); i++ {
		if t.slots[i].inUse {
			fs.Close(t.slots[i].file)
			t.slots[i] = descriptor{}
		}
	}
}
