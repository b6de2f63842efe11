package fat

import (
	"sync"

	"nucleus/internal/bootcfg"
	"nucleus/internal/fstypes"
	"nucleus/internal/kerr"
)

const sectorSize = bootcfg.SectorSize
const entriesPerSector = sectorSize / dirEntrySize

// dirLocator names where a directory's entries live: either the fixed
// sector range of a FAT12/16 root, or a cluster chain (spec.md §3
// "parent-directory locator (cluster + is-root)").
type dirLocator struct {
	isRoot     bool
	fixedLBA   uint32
	fixedCount uint32 // nonzero => fixed FAT12/16 root range
	cluster    uint32 // used when fixedCount == 0
}

// fatCache is the five-sector FAT window (spec.md §4.6 "FAT cache").
type fatCache struct {
	valid bool
	first uint32 // absolute LBA of the first cached sector
	data  [bootcfg.FATCacheSectors * sectorSize]byte
}

// FS is the single process-wide FAT engine instance for one mounted
// partition (spec.md §3 "FAT engine state").
type FS struct {
	mu   sync.Mutex
	part *fstypes.Partition
	bpb  *bpb
	kind fatKind

	fatLBA  uint32
	dataLBA uint32

	rootLBA     uint32 // FAT12/16 fixed root range
	rootSectors uint32
	rootCluster uint32 // FAT32 root cluster chain start

	nFatEnt uint32 // number of FAT entries = data clusters + 2

	cache fatCache

	open     [bootcfg.FATMaxOpenFiles]openFile
	openUsed [bootcfg.FATMaxOpenFiles]bool
}

// Mount reads sector 0 of part, validates the BPB, and derives every
// constant the engine needs (spec.md §4.6 "Initialization").
func Mount(part *fstypes.Partition) (*FS, error) {
	sector := make([]byte, sectorSize)
	if err := part.ReadSectors(0, 1, sector); err != nil {
		return nil, kerr.Wrap(kerr.MediumFailure, "fat.Mount", "reading boot sector", err)
	}
	b, err := parseBPB(sector)
	if err != nil {
		return nil, err
	}

	fs := &FS{part: part, bpb: b}
	fs.fatLBA = uint32(b.reservedSectors)
	rootSectors := b.rootDirSectors()
	fs.rootLBA = fs.fatLBA + uint32(b.numFATs)*b.sectorsPerFAT()
	fs.rootSectors = rootSectors
	fs.rootCluster = b.rootCluster
	fs.dataLBA = fs.rootLBA + rootSectors

	totalSectors := b.totalSectors()
	dataSectors := uint32(0)
	if totalSectors > fs.dataLBA {
		dataSectors = totalSectors - fs.dataLBA
	}
	dataClusters := dataSectors / uint32(b.sectorsPerCluster)
	fs.kind = classify(dataClusters)
	fs.nFatEnt = dataClusters + 2

	fs.cache.valid = false
	return fs, nil
}

func (fs *FS) rootLocator() dirLocator {
	if fs.kind == kindFAT32 {
		return dirLocator{isRoot: true, cluster: fs.rootCluster}
	}
	return dirLocator{isRoot: true, fixedLBA: fs.rootLBA, fixedCount: fs.rootSectors}
}

// clusterToLBA converts a cluster number to its starting sector
// (spec.md §4.6 "Cluster math").
func (fs *FS) clusterToLBA(c uint32) uint32 {
	return fs.dataLBA + (c-2)*uint32(fs.bpb.sectorsPerCluster)
}

// isEOF reports whether a raw FAT entry value should be treated as
// end-of-chain: either at or above the type's sentinel threshold, or
// below 2 (free/reserved, never a valid traversal target - spec.md
// §4.6 "values < 2 read during traversal are treated as EOF").
func (fs *FS) isEOF(value uint32) bool {
	return value < 2 || value >= fs.kind.eocThreshold()
}

// eofMarker is the canonical end-of-chain value this engine writes
// when terminating a chain.
func (fs *FS) eofMarker() uint32 {
	switch fs.kind {
	case kindFAT12:
		return 0xFFF
	case kindFAT16:
		return 0xFFFF
	default:
		return 0x0FFFFFFF
	}
}

// ensureCached loads the five-sector window starting at absSector if
// it is not already resident (spec.md §4.6 "FAT cache").
func (fs *FS) ensureCached(absSector uint32) error {
	if fs.cache.valid && absSector >= fs.cache.first && absSector < fs.cache.first+bootcfg.FATCacheSectors {
		return nil
	}
	if err := fs.part.ReadSectors(uint64(absSector), bootcfg.FATCacheSectors, fs.cache.data[:]); err != nil {
		return kerr.Wrap(kerr.MediumFailure, "fat.ensureCached", "reading FAT window", err)
	}
	fs.cache.first = absSector
	fs.cache.valid = true
	return nil
}

// fatByteOffset returns the FAT-relative byte offset of cluster c's
// entry for this engine's FAT type (spec.md §4.6).
func (fs *FS) fatByteOffset(c uint32) uint32 {
	switch fs.kind {
	case kindFAT12:
		return c + c/2 // c*3/2
	case kindFAT16:
		return c * 2
	default:
		return c * 4
	}
}

// nextCluster reads cluster c's FAT entry, type-masked per spec.md
// §4.6 ("FAT12 uses the low or high 12 bits depending on parity",
// "FAT32 masks off the top four reserved bits").
func (fs *FS) nextCluster(c uint32) (uint32, error) {
	off := fs.fatByteOffset(c)
	sector := fs.fatLBA + off/sectorSize
	if err := fs.ensureCached(sector); err != nil {
		return 0, err
	}
	local := int(off%sectorSize) + int(sector-fs.cache.first)*sectorSize

	switch fs.kind {
	case kindFAT12:
		raw16 := uint16(fs.cache.data[local]) | uint16(fs.cache.data[local+1])<<8
		if c%2 == 0 {
			return uint32(raw16 & 0x0FFF), nil
		}
		return uint32(raw16 >> 4), nil
	case kindFAT16:
		return uint32(fs.cache.data[local]) | uint32(fs.cache.data[local+1])<<8, nil
	default:
		raw32 := uint32(fs.cache.data[local]) | uint32(fs.cache.data[local+1])<<8 |
			uint32(fs.cache.data[local+2])<<16 | uint32(fs.cache.data[local+3])<<24
		return raw32 & 0x0FFFFFFF, nil
	}
}

// writeFATEntry updates cluster c's entry in every FAT copy (spec.md
// §4.6 "write_fat_entry"). For FAT12 this read-modify-writes the
// shared byte pair, preserving the neighboring nibble.
func (fs *FS) writeFATEntry(c uint32, value uint32) error {
	off := fs.fatByteOffset(c)
	sector := fs.fatLBA + off/sectorSize
	if err := fs.ensureCached(sector); err != nil {
		return err
	}
	local := int(off%sectorSize) + int(sector-fs.cache.first)*sectorSize

	switch fs.kind {
	case kindFAT12:
		old16 := uint16(fs.cache.data[local]) | uint16(fs.cache.data[local+1])<<8
		var new16 uint16
		if c%2 == 0 {
			new16 = (old16 & 0xF000) | uint16(value&0x0FFF)
		} else {
			new16 = (old16 & 0x000F) | uint16(value<<4)
		}
		fs.cache.data[local] = byte(new16)
		fs.cache.data[local+1] = byte(new16 >> 8)
	case kindFAT16:
		fs.cache.data[local] = byte(value)
		fs.cache.data[local+1] = byte(value >> 8)
	default:
		old32 := uint32(fs.cache.data[local]) | uint32(fs.cache.data[local+1])<<8 |
			uint32(fs.cache.data[local+2])<<16 | uint32(fs.cache.data[local+3])<<24
		new32 := (old32 & 0xF0000000) | (value & 0x0FFFFFFF)
		fs.cache.data[local] = byte(new32)
		fs.cache.data[local+1] = byte(new32 >> 8)
		fs.cache.data[local+2] = byte(new32 >> 16)
		fs.cache.data[local+3] = byte(new32 >> 24)
	}

	// Write the just-modified window to every FAT copy.
	for i := uint32(0); i < uint32(fs.bpb.numFATs); i++ {
		copyBase := fs.fatLBA + i*fs.bpb.sectorsPerFAT()
		dest := copyBase + (fs.cache.first - fs.fatLBA)
		if err := fs.part.WriteSectors(uint64(dest), bootcfg.FATCacheSectors, fs.cache.data[:]); err != nil {
			return kerr.Wrap(kerr.MediumFailure, "fat.writeFATEntry", "writing FAT copy", err)
		}
	}
	return nil
}

// allocateCluster performs a linear scan from cluster 2 for the first
// free entry, marks it EOF, and returns it (spec.md §4.6 "Write").
func (fs *FS) allocateCluster() (uint32, error) {
	for c := uint32(2); c < fs.nFatEnt; c++ {
		v, err := fs.nextCluster(c)
		if err != nil {
			return 0, err
		}
		if v == 0 {
			if err := fs.writeFATEntry(c, fs.eofMarker()); err != nil {
				return 0, err
			}
			return c, nil
		}
	}
	return 0, kerr.New(kerr.ResourceExhausted, "fat.allocateCluster", "no free clusters")
}

// freeChain walks from first and marks every cluster free, stopping
// at EOF or after MaxSectorAdvancesPerRead steps (defensive bound
// against a corrupt, non-terminating chain).
func (fs *FS) freeChain(first uint32) error {
	c := first
	for i := 0; i < bootcfg.MaxSectorAdvancesPerRead; i++ {
		if fs.isEOF(c) {
			return nil
		}
		next, err := fs.nextCluster(c)
		if err != nil {
			return err
		}
		if err := fs.writeFATEntry(c, 0); err != nil {
			return err
		}
		if fs.isEOF(next) {
			return nil
		}
		c = next
	}
	return kerr.New(kerr.LogicalCorruption, "fat.freeChain", "cluster chain did not terminate")
}
