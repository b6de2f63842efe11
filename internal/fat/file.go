package fat

import (
	"nucleus/internal/bootcfg"
	"nucleus/internal/kerr"
)

// fileState is the per-open-file state machine (spec.md §4.6 "State
// machine"). Truncated is a sticky flag tracked separately.
type fileState int

const (
	stateFresh fileState = iota
	stateReading
	stateWriting
)

// openFile is one slot in FS's fixed-size open-file array (spec.md §3
// "FAT engine state" / "each open file carries...").
type openFile struct {
	isRoot        bool
	isDir         bool
	firstCluster  uint32
	parentLoc     dirLocator
	name          string // basename within parentLoc, for update-on-write
	size          uint32
	pos           uint32
	curCluster    uint32
	sectorInClust uint32
	buf           [sectorSize]byte
	bufLoaded     bool
	truncatedOnce bool
	state         fileState
}

// dirEntrySector returns the 512-byte sector holding directory entry
// index entryIndex within loc, or eod=true once the directory's
// extent (fixed range, or FAT32's implicit 16 MiB cap) is exhausted.
func (fs *FS) dirEntrySector(loc dirLocator, entryIndex uint32) (sector []byte, absLBA uint32, eod bool, err error) {
	sectorIdx := entryIndex / entriesPerSector

	if loc.fixedCount > 0 {
		if sectorIdx >= loc.fixedCount {
			return nil, 0, true, nil
		}
		absLBA = loc.fixedLBA + sectorIdx
	} else {
		maxEntries := uint32(bootcfg.FAT32RootMaxBytes) / dirEntrySize
		if loc.isRoot && entryIndex >= maxEntries {
			return nil, 0, true, nil
		}
		perCluster := uint32(fs.bpb.sectorsPerCluster)
		clusterSteps := sectorIdx / perCluster
		sectorWithinCluster := sectorIdx % perCluster

		c := loc.cluster
		for i := uint32(0); i < clusterSteps; i++ {
			if i > bootcfg.MaxSectorAdvancesPerRead {
				return nil, 0, false, kerr.New(kerr.LogicalCorruption, "fat.dirEntrySector", "directory chain did not terminate")
			}
			next, err := fs.nextCluster(c)
			if err != nil {
				return nil, 0, false, err
			}
			if fs.isEOF(next) {
				return nil, 0, true, nil
			}
			c = next
		}
		absLBA = fs.clusterToLBA(c) + sectorWithinCluster
	}

	buf := make([]byte, sectorSize)
	if err := fs.part.ReadSectors(uint64(absLBA), 1, buf); err != nil {
		return nil, 0, false, kerr.Wrap(kerr.MediumFailure, "fat.dirEntrySector", "reading directory sector", err)
	}
	return buf, absLBA, false, nil
}

// findInDir scans loc for a component by 8.3 name, honoring spec.md
// §4.6's stop/skip rules (0x00 stops, 0xE5 and long-name entries are
// skipped).
func (fs *FS) findInDir(loc dirLocator, component string) (dirEntry, bool, error) {
	want := to8dot3(component)
	for idx := uint32(0); ; idx++ {
		sector, _, eod, err := fs.dirEntrySector(loc, idx)
		if err != nil {
			return dirEntry{}, false, err
		}
		if eod {
			return dirEntry{}, false, nil
		}
		off := int(idx%entriesPerSector) * dirEntrySize
		raw := sector[off : off+dirEntrySize]
		if raw[0] == direntFree {
			return dirEntry{}, false, nil
		}
		if raw[0] == direntDeleted || raw[11] == attrLongName {
			continue
		}
		var name [11]byte
		copy(name[:], raw[0:11])
		if name == want {
			return parseDirEntry(raw), true, nil
		}
	}
}

// findFreeSlot scans loc for the first entry whose name byte is 0x00
// or 0xE5 (spec.md §4.6 "Create").
func (fs *FS) findFreeSlot(loc dirLocator) (absLBA uint32, byteOff int, err error) {
	for idx := uint32(0); ; idx++ {
		sector, lba, eod, err := fs.dirEntrySector(loc, idx)
		if err != nil {
			return 0, 0, err
		}
		if eod {
			return 0, 0, kerr.New(kerr.ResourceExhausted, "fat.findFreeSlot", "directory has no free entry")
		}
		off := int(idx%entriesPerSector) * dirEntrySize
		if sector[off] == direntFree || sector[off] == direntDeleted {
			return lba, off, nil
		}
	}
}

// writeEntryAt overwrites the 32-byte slot at (absLBA, byteOff) with raw.
func (fs *FS) writeEntryAt(absLBA uint32, byteOff int, raw []byte) error {
	sector := make([]byte, sectorSize)
	if err := fs.part.ReadSectors(uint64(absLBA), 1, sector); err != nil {
		return kerr.Wrap(kerr.MediumFailure, "fat.writeEntryAt", "reading directory sector", err)
	}
	copy(sector[byteOff:byteOff+dirEntrySize], raw)
	if err := fs.part.WriteSectors(uint64(absLBA), 1, sector); err != nil {
		return kerr.Wrap(kerr.MediumFailure, "fat.writeEntryAt", "writing directory sector", err)
	}
	return nil
}

// updateDirEntry persists size/firstCluster into the named entry
// within loc (spec.md §4.6 "After a successful write, persist size
// and first_cluster... by scanning the parent for a name match").
// A missing match is logical corruption, not a normal failure mode:
// the caller already opened the file through this exact entry.
func (fs *FS) updateDirEntry(loc dirLocator, name string, size, firstCluster uint32) error {
	want := to8dot3(name)
	for idx := uint32(0); ; idx++ {
		sector, lba, eod, err := fs.dirEntrySector(loc, idx)
		if err != nil {
			return err
		}
		if eod {
			return kerr.New(kerr.LogicalCorruption, "fat.updateDirEntry", "directory entry name mismatch during update")
		}
		off := int(idx%entriesPerSector) * dirEntrySize
		raw := sector[off : off+dirEntrySize]
		if raw[0] == direntFree {
			return kerr.New(kerr.LogicalCorruption, "fat.updateDirEntry", "directory entry name mismatch during update")
		}
		var entryName [11]byte
		copy(entryName[:], raw[0:11])
		if raw[0] == direntDeleted || raw[11] == attrLongName || entryName != want {
			continue
		}
		d := parseDirEntry(raw)
		d.size = size
		d.firstClust = firstCluster
		return fs.writeEntryAt(lba, off, encodeDirEntry(d))
	}
}
