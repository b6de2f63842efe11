// Package bootcfg holds the kernel's compiled-in configuration: the
// memory map and table sizes spec.md fixes at build time. Grounded on
// the teacher's const blocks (src/go/mazarin/heap.go, page.go) -
// a kernel has no argv or environment to read configuration from, so
// this stays a plain struct of constants rather than a flag/env
// parsing layer.
package bootcfg

const (
	// PageSize is the frame/page granularity (spec.md §6).
	PageSize = 4096

	// Virtual memory map (spec.md §6), all in bytes.
	UserSpaceBase   = 0x00000000
	KernelBase      = 0xC0000000
	KernelHeapStart = 0xC1000000
	KernelHeapEnd   = 0xFF000000
	UserCodeBase    = 0x08048000
	UserHeapBase    = 0x10000000
	UserStackTop    = 0xBFFF0000
	UserStackSize   = 64 * 1024

	// DefaultHeapCap resolves the "two divergent MEM_Initialize"
	// ambiguity (spec.md §9) in favor of the safer bounded value.
	DefaultHeapCap = 64 * 1024 * 1024

	// UserHeapMax bounds process_brk growth (spec.md §4.4).
	UserHeapMax = 256 * 1024 * 1024

	// Reserved physical ranges pre-marked used before first
	// allocation (spec.md §4.1).
	InterruptVectorEnd = 0x500
	VideoMemoryBase    = 0xA0000
	VideoMemoryEnd     = 0xC0000

	// FDTableSize is the bounded per-process descriptor table
	// (spec.md §3).
	FDTableSize = 16

	// MountTableCapacity bounds the VFS mount table (spec.md §4.7).
	MountTableCapacity = 8

	// DevfsMaxNodes bounds the devfs registration namespace.
	DevfsMaxNodes = 64

	// DevfsReservedMountSlot is the slot devfs's mount survives disk
	// re-scans in (spec.md §4.8): the last slot of the mount table, so
	// that vfs.MountAt accepts it.
	DevfsReservedMountSlot = MountTableCapacity - 1

	// SymbolTableCapacity bounds the dynamic-linking global symbol
	// table (spec.md §3).
	SymbolTableCapacity = 1024

	// SectorSize is the fixed block device sector size (spec.md §4.5).
	SectorSize = 512

	// MaxDisks / MaxPartitions bound the fixed-capacity disk/partition
	// arena (spec.md §4.5, §9 "Pointer graphs": slot-index handles
	// instead of raw pointers so the arena never reallocates under a
	// live *Partition).
	MaxDisks      = 4
	MaxPartitions = 16

	// FATCacheSectors is the number of sectors cached from the FAT
	// (spec.md §4.6).
	FATCacheSectors = 5

	// MaxSectorAdvancesPerRead bounds FAT read traversal (spec.md §4.6).
	MaxSectorAdvancesPerRead = 10000

	// FAT32RootMaxBytes caps implicit FAT32 root directory size scans
	// (spec.md §4.6).
	FAT32RootMaxBytes = 16 * 1024 * 1024

	// FATMaxOpenFiles bounds the FAT engine's fixed-size open-file array
	// (spec.md §3).
	FATMaxOpenFiles = 32

	// TerminalScrollbackLines / Columns size the line-discipline ring
	// (spec.md §4.12).
	TerminalScrollbackLines = 1000
	TerminalColumns         = 80
	TerminalScreenHeight    = 25
)
