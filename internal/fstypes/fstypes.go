// Package fstypes holds the shared data model spec.md §3 describes
// for Disk, Partition, and Filesystem, plus the FSOperations vtable
// spec.md §4.7 requires every filesystem driver to implement. spec.md
// §9's design note calls Filesystem<->Partition "a mutually recursive
// type pair... worked around with forward declarations" in the
// source and recommends "one compilation unit" for the rewrite: this
// package is that unit, imported by internal/fat, internal/devfs and
// internal/vfs without any import cycle between them.
package fstypes

import "nucleus/internal/kerr"

// FSType tags which concrete filesystem a Filesystem record holds
// (spec.md §3).
type FSType int

const (
	FSUnknown FSType = iota
	FSFAT12
	FSFAT16
	FSFAT32
	FSDevfs
)

func (t FSType) String() string {
	switch t {
	case FSFAT12:
		return "fat12"
	case FSFAT16:
		return "fat16"
	case FSFAT32:
		return "fat32"
	case FSDevfs:
		return "devfs"
	default:
		return "unknown"
	}
}

// File is the opaque per-filesystem open-file handle FSOperations
// hands back from Open and expects on every subsequent call. Concrete
// filesystems type-assert it back to their own handle type.
type File interface{}

// FSOperations is the per-filesystem vtable (spec.md §4.7): a table
// of function pointers in the source, a Go interface here. Every
// filesystem - FAT, devfs, and any future addition per spec.md §9 -
// implements this.
type FSOperations interface {
	Open(p *Partition, path string) (File, error)
	Read(p *Partition, f File, n int, buf []byte) (int, error)
	Write(p *Partition, f File, n int, buf []byte) (int, error)
	Seek(p *Partition, f File, pos int64) error
	Close(f File)
	GetSize(f File) int64
	Delete(p *Partition, path string) error
	// IsDir reports whether the open handle refers to a directory,
	// feeding the VFS File wrapper's cached is-directory flag.
	IsDir(f File) bool
	// Create and Truncate back the O_CREAT/O_TRUNC open flags
	// (spec.md §4.10) the vtable's bare open/read/write/seek/close/
	// get_size/delete list does not itself name a slot for.
	Create(p *Partition, path string) (File, error)
	Truncate(p *Partition, f File) error
}

// Disk holds identifier, geometry, and total size (spec.md §3).
type Disk struct {
	ID           string
	SectorSize   int
	TotalSectors uint64
}

// Filesystem holds {type enum, operation vtable, mount flag,
// read-only flag, block size} (spec.md §3).
type Filesystem struct {
	Type     FSType
	Ops      FSOperations
	Mounted  bool
	ReadOnly bool
	BlockSz  int
}

// Partition references a Disk and holds offset/size/type/label/UUID/
// root flag and a pointer to its Filesystem (spec.md §3).
type Partition struct {
	Disk        *Disk
	OffsetLBA   uint64
	SizeSectors uint64
	TypeByte    byte
	Label       string
	UUID        string
	IsRoot      bool
	FS          *Filesystem

	// Reader/Writer is the block device biasing LBAs by OffsetLBA,
	// wired in by internal/blockdev so internal/fat never needs to
	// know about volumes/arenas directly.
	Reader interface {
		ReadSectors(lba uint64, count int, buf []byte) error
	}
	Writer interface {
		WriteSectors(lba uint64, count int, buf []byte) error
	}
}

// ReadSectors reads count sectors starting at lba (already biased by
// Partition.OffsetLBA inside the Reader implementation).
func (p *Partition) ReadSectors(lba uint64, count int, buf []byte) error {
	if p.Reader == nil {
		return kerr.New(kerr.InvalidInput, "fstypes.Partition.ReadSectors", "no backing reader")
	}
	return p.Reader.ReadSectors(lba, count, buf)
}

// WriteSectors writes count sectors starting at lba.
func (p *Partition) WriteSectors(lba uint64, count int, buf []byte) error {
	if p.FS != nil && p.FS.ReadOnly {
		return kerr.New(kerr.InvalidInput, "fstypes.Partition.WriteSectors", "partition is read-only")
	}
	if p.Writer == nil {
		return kerr.New(kerr.InvalidInput, "fstypes.Partition.WriteSectors", "no backing writer")
	}
	return p.Writer.WriteSectors(lba, count, buf)
}
