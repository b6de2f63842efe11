// ops.go implements fstypes.FSOperations over *FS, the dispatch
// surface internal/vfs calls through (spec.md §4.7).
package fat

import (
	"nucleus/internal/bootcfg"
	"nucleus/internal/fstypes"
	"nucleus/internal/kerr"
)

var _ fstypes.FSOperations = (*FS)(nil)

// splitParent splits a slash-separated path into its parent
// directory's component list and the final basename.
func splitParent(path string) (parents []string, base string) {
	comps := splitPath(path)
	if len(comps) == 0 {
		return nil, ""
	}
	return comps[:len(comps)-1], comps[len(comps)-1]
}

func splitPath(path string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				out = append(out, path[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// resolveDir walks components from the root, requiring every
// intermediate to be a directory, and returns its locator.
func (fs *FS) resolveDir(components []string) (dirLocator, error) {
	loc := fs.rootLocator()
	for _, comp := range components {
		entry, found, err := fs.findInDir(loc, comp)
		if err != nil {
			return dirLocator{}, err
		}
		if !found {
			return dirLocator{}, kerr.New(kerr.InvalidInput, "fat.resolveDir", "path component not found")
		}
		if !entry.isDir() {
			return dirLocator{}, kerr.New(kerr.InvalidInput, "fat.resolveDir", "path component is not a directory")
		}
		loc = dirLocator{cluster: entry.firstClust}
	}
	return loc, nil
}

func (fs *FS) allocSlot() (int, error) {
	for i := range fs.open {
		if !fs.openUsed[i] {
			fs.openUsed[i] = true
			return i, nil
		}
	}
	return 0, kerr.New(kerr.ResourceExhausted, "fat.allocSlot", "open file table full")
}

// Open resolves path and returns a handle to the existing file or
// directory (spec.md §4.6 "Open file & directory iteration").
func (fs *FS) Open(p *fstypes.Partition, path string) (fstypes.File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	comps := splitPath(path)
	if len(comps) == 0 {
		// Opening "/" itself.
		idx, err := fs.allocSlot()
		if err != nil {
			return nil, err
		}
		root := fs.rootLocator()
		fs.open[idx] = openFile{
			isRoot:       true,
			isDir:        true,
			parentLoc:    root,
			firstCluster: root.cluster,
			curCluster:   root.cluster,
		}
		return idx, nil
	}

	parents, base := splitParent(path)
	parentLoc, err := fs.resolveDir(parents)
	if err != nil {
		return nil, err
	}
	entry, found, err := fs.findInDir(parentLoc, base)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, kerr.New(kerr.InvalidInput, "fat.Open", "no such file")
	}

	idx, err := fs.allocSlot()
	if err != nil {
		return nil, err
	}
	fs.open[idx] = openFile{
		isDir:        entry.isDir(),
		firstCluster: entry.firstClust,
		parentLoc:    parentLoc,
		name:         base,
		size:         entry.size,
		curCluster:   entry.firstClust,
	}
	return idx, nil
}

// Create makes a new zero-length file (spec.md §4.6 "Create").
func (fs *FS) Create(p *fstypes.Partition, path string) (fstypes.File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parents, base := splitParent(path)
	if base == "" {
		return nil, kerr.New(kerr.InvalidInput, "fat.Create", "empty path")
	}
	parentLoc, err := fs.resolveDir(parents)
	if err != nil {
		return nil, err
	}
	if _, found, err := fs.findInDir(parentLoc, base); err != nil {
		return nil, err
	} else if found {
		return nil, kerr.New(kerr.InvalidInput, "fat.Create", "file already exists")
	}

	cluster, err := fs.allocateCluster()
	if err != nil {
		return nil, err
	}
	lba, off, err := fs.findFreeSlot(parentLoc)
	if err != nil {
		fs.freeChain(cluster)
		return nil, err
	}
	d := dirEntry{name: to8dot3(base), attr: packAttr(dirAttrFlags{Archive: true}), firstClust: cluster, size: 0}
	if err := fs.writeEntryAt(lba, off, encodeDirEntry(d)); err != nil {
		fs.freeChain(cluster)
		return nil, err
	}

	idx, err := fs.allocSlot()
	if err != nil {
		return nil, err
	}
	fs.open[idx] = openFile{
		firstCluster: cluster,
		parentLoc:    parentLoc,
		name:         base,
		curCluster:   cluster,
		state:        stateFresh,
	}
	return idx, nil
}

func (fs *FS) slot(f fstypes.File) (int, *openFile, error) {
	idx, ok := f.(int)
	if !ok || idx < 0 || idx >= len(fs.open) || !fs.openUsed[idx] {
		return 0, nil, kerr.New(kerr.InvalidInput, "fat", "invalid file handle")
	}
	return idx, &fs.open[idx], nil
}

// loadCurrentSector ensures of.buf holds the sector at (of.curCluster,
// of.sectorInClust).
func (fs *FS) loadCurrentSector(of *openFile) error {
	if of.bufLoaded {
		return nil
	}
	lba := fs.clusterToLBA(of.curCluster) + of.sectorInClust
	if err := fs.part.ReadSectors(uint64(lba), 1, of.buf[:]); err != nil {
		return kerr.Wrap(kerr.MediumFailure, "fat.loadCurrentSector", "reading data sector", err)
	}
	of.bufLoaded = true
	return nil
}

// Read serves bytes from the current-sector buffer, advancing the
// cluster chain as needed (spec.md §4.6 "Read").
func (fs *FS) Read(p *fstypes.Partition, f fstypes.File, n int, buf []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, of, err := fs.slot(f)
	if err != nil {
		return 0, err
	}
	if of.isRoot && of.isDir && of.firstCluster == 0 && fs.kind != kindFAT32 {
		return 0, kerr.New(kerr.InvalidInput, "fat.Read", "fixed FAT12/16 root has no byte-stream representation")
	}

	remaining := n
	if uint32(n) > of.size-of.pos {
		remaining = int(of.size - of.pos)
	}
	if remaining <= 0 {
		return 0, nil
	}
	if len(buf) < remaining {
		remaining = len(buf)
	}

	total := 0
	advances := 0
	for total < remaining {
		if advances > bootcfg.MaxSectorAdvancesPerRead {
			return total, kerr.New(kerr.LogicalCorruption, "fat.Read", "exceeded maximum sector advances")
		}
		if err := fs.loadCurrentSector(of); err != nil {
			return total, err
		}
		inSectorOff := int(of.pos % sectorSize)
		chunk := sectorSize - inSectorOff
		if chunk > remaining-total {
			chunk = remaining - total
		}
		copy(buf[total:total+chunk], of.buf[inSectorOff:inSectorOff+chunk])
		total += chunk
		of.pos += uint32(chunk)

		if inSectorOff+chunk == sectorSize {
			if of.pos < of.size {
				if err := fs.advanceSector(of); err != nil {
					return total, err
				}
				advances++
			} else {
				of.bufLoaded = false
			}
		}
	}
	of.state = stateReading
	return total, nil
}

// advanceSector moves to the next sector, walking to the next cluster
// when the current one is exhausted (spec.md §4.6 "Read").
func (fs *FS) advanceSector(of *openFile) error {
	of.bufLoaded = false
	of.sectorInClust++
	if of.sectorInClust < uint32(fs.bpb.sectorsPerCluster) {
		return nil
	}
	of.sectorInClust = 0
	next, err := fs.nextCluster(of.curCluster)
	if err != nil {
		return err
	}
	if fs.isEOF(next) {
		return kerr.New(kerr.LogicalCorruption, "fat.advanceSector", "cluster chain ended before recorded size")
	}
	of.curCluster = next
	return nil
}

// Write implements the one-shot-truncate-then-append contract
// (spec.md §4.6 "Write").
func (fs *FS) Write(p *fstypes.Partition, f fstypes.File, n int, buf []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, of, err := fs.slot(f)
	if err != nil {
		return 0, err
	}
	if of.isDir || of.isRoot {
		return 0, kerr.New(kerr.InvalidInput, "fat.Write", "cannot write to a directory")
	}

	if !of.truncatedOnce && (of.state == stateFresh || of.state == stateReading) && of.pos == 0 && of.size > 0 {
		if err := fs.truncateChain(of); err != nil {
			return 0, err
		}
	}

	if n > len(buf) {
		n = len(buf)
	}
	total := 0
	for total < n {
		// Roll onto a fresh cluster only once the next byte actually
		// needs it - deferred so a write that ends exactly on a
		// cluster boundary does not burn an unused cluster.
		if of.sectorInClust >= uint32(fs.bpb.sectorsPerCluster) {
			newClust, err := fs.allocateCluster()
			if err != nil {
				return total, err
			}
			if err := fs.writeFATEntry(of.curCluster, newClust); err != nil {
				return total, err
			}
			of.curCluster = newClust
			of.sectorInClust = 0
			of.bufLoaded = false
		}

		if err := fs.loadCurrentSector(of); err != nil {
			return total, err
		}
		inSectorOff := int(of.pos % sectorSize)
		room := sectorSize - inSectorOff
		chunk := room
		if chunk > n-total {
			chunk = n - total
		}
		copy(of.buf[inSectorOff:inSectorOff+chunk], buf[total:total+chunk])
		lba := fs.clusterToLBA(of.curCluster) + of.sectorInClust
		if err := fs.part.WriteSectors(uint64(lba), 1, of.buf[:]); err != nil {
			return total, kerr.Wrap(kerr.MediumFailure, "fat.Write", "writing data sector", err)
		}
		total += chunk
		of.pos += uint32(chunk)
		if of.pos > of.size {
			of.size = of.pos
		}

		if inSectorOff+chunk == sectorSize {
			of.sectorInClust++
			of.bufLoaded = false
		}
	}

	of.state = stateWriting
	if err := fs.updateDirEntry(of.parentLoc, of.name, of.size, of.firstCluster); err != nil {
		return total, err
	}
	return total, nil
}

// truncateChain frees every cluster after the first, marks the first
// EOF, and zeroes the in-memory buffer (spec.md §4.6 "Write" one-shot
// truncate, and "Truncate").
func (fs *FS) truncateChain(of *openFile) error {
	next, err := fs.nextCluster(of.firstCluster)
	if err != nil {
		return err
	}
	if !fs.isEOF(next) {
		if err := fs.freeChain(next); err != nil {
			return err
		}
	}
	if err := fs.writeFATEntry(of.firstCluster, fs.eofMarker()); err != nil {
		return err
	}
	of.curCluster = of.firstCluster
	of.sectorInClust = 0
	of.pos = 0
	of.size = 0
	for i := range of.buf {
		of.buf[i] = 0
	}
	// The zeroed buffer already is the first cluster's current sector
	// content - mark it loaded so a write immediately following does
	// not reload stale bytes off disk.
	of.bufLoaded = true
	of.truncatedOnce = true
	return nil
}

// Truncate implements the explicit truncate entry point (spec.md
// §4.6 "Create, Delete, Truncate").
func (fs *FS) Truncate(p *fstypes.Partition, f fstypes.File) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, of, err := fs.slot(f)
	if err != nil {
		return err
	}
	if of.isDir || of.isRoot {
		return kerr.New(kerr.InvalidInput, "fat.Truncate", "cannot truncate a directory")
	}
	if err := fs.truncateChain(of); err != nil {
		return err
	}
	return fs.updateDirEntry(of.parentLoc, of.name, 0, of.firstCluster)
}

// Seek repositions pos, bounded to [0, size] (spec.md §3 "position <=
// size for regular files").
func (fs *FS) Seek(p *fstypes.Partition, f fstypes.File, pos int64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, of, err := fs.slot(f)
	if err != nil {
		return err
	}
	if pos < 0 || pos > int64(of.size) {
		return kerr.New(kerr.LogicalCorruption, "fat.Seek", "position exceeds size")
	}
	of.pos = uint32(pos)
	clusterIdx := of.pos / (sectorSize * uint32(fs.bpb.sectorsPerCluster))
	c := of.firstCluster
	for i := uint32(0); i < clusterIdx; i++ {
		next, err := fs.nextCluster(c)
		if err != nil {
			return err
		}
		if fs.isEOF(next) {
			if i == clusterIdx-1 && of.pos == of.size && of.pos%(sectorSize*uint32(fs.bpb.sectorsPerCluster)) == 0 {
				// End of a file that exactly fills its last cluster:
				// stay on that cluster, past its final sector, so the
				// next Write links a fresh cluster.
				of.curCluster = c
				of.sectorInClust = uint32(fs.bpb.sectorsPerCluster)
				of.bufLoaded = false
				return nil
			}
			return kerr.New(kerr.LogicalCorruption, "fat.Seek", "cluster chain ended before seek target")
		}
		c = next
	}
	of.curCluster = c
	of.sectorInClust = (of.pos / sectorSize) % uint32(fs.bpb.sectorsPerCluster)
	of.bufLoaded = false
	return nil
}

// Close returns the slot to the pool (spec.md §4.6 "close always
// permitted").
func (fs *FS) Close(f fstypes.File) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	idx, ok := f.(int)
	if !ok || idx < 0 || idx >= len(fs.open) {
		return
	}
	fs.openUsed[idx] = false
	fs.open[idx] = openFile{}
}

func (fs *FS) GetSize(f fstypes.File) int64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, of, err := fs.slot(f)
	if err != nil {
		return 0
	}
	return int64(of.size)
}

func (fs *FS) IsDir(f fstypes.File) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, of, err := fs.slot(f)
	if err != nil {
		return false
	}
	return of.isDir
}

// Delete removes path, recursing into directories first (spec.md
// §4.6 "Delete").
func (fs *FS) Delete(p *fstypes.Partition, path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.deleteLocked(path)
}

func (fs *FS) deleteLocked(path string) error {
	parents, base := splitParent(path)
	parentLoc, err := fs.resolveDir(parents)
	if err != nil {
		return err
	}
	entry, found, err := fs.findInDir(parentLoc, base)
	if err != nil {
		return err
	}
	if !found {
		return kerr.New(kerr.InvalidInput, "fat.Delete", "no such file")
	}

	if entry.isDir() {
		childLoc := dirLocator{cluster: entry.firstClust}
		if err := fs.deleteDirChildren(childLoc, path); err != nil {
			return err
		}
	}

	if err := fs.freeChain(entry.firstClust); err != nil {
		return err
	}
	lba, off, found2, err := fs.locateEntrySlot(parentLoc, base)
	if err != nil {
		return err
	}
	if !found2 {
		return kerr.New(kerr.LogicalCorruption, "fat.Delete", "directory entry vanished during delete")
	}
	sector := make([]byte, sectorSize)
	if err := fs.part.ReadSectors(uint64(lba), 1, sector); err != nil {
		return kerr.Wrap(kerr.MediumFailure, "fat.Delete", "reading directory sector", err)
	}
	sector[off] = direntDeleted
	return fs.part.WriteSectors(uint64(lba), 1, sector)
}

func (fs *FS) locateEntrySlot(loc dirLocator, name string) (absLBA uint32, byteOff int, found bool, err error) {
	want := to8dot3(name)
	for idx := uint32(0); ; idx++ {
		sector, lba, eod, err := fs.dirEntrySector(loc, idx)
		if err != nil {
			return 0, 0, false, err
		}
		if eod {
			return 0, 0, false, nil
		}
		off := int(idx%entriesPerSector) * dirEntrySize
		raw := sector[off : off+dirEntrySize]
		if raw[0] == direntFree {
			return 0, 0, false, nil
		}
		var name11 [11]byte
		copy(name11[:], raw[0:11])
		if raw[0] != direntDeleted && raw[11] != attrLongName && name11 == want {
			return lba, off, true, nil
		}
	}
}

// deleteDirChildren recursively deletes every entry under loc except
// "." and "..".
func (fs *FS) deleteDirChildren(loc dirLocator, parentPath string) error {
	for idx := uint32(0); ; idx++ {
		sector, _, eod, err := fs.dirEntrySector(loc, idx)
		if err != nil {
			return err
		}
		if eod {
			return nil
		}
		off := int(idx%entriesPerSector) * dirEntrySize
		raw := sector[off : off+dirEntrySize]
		if raw[0] == direntFree {
			return nil
		}
		if raw[0] == direntDeleted || raw[11] == attrLongName {
			continue
		}
		name := dirEntryName([11]byte(raw[0:11]))
		if name == "." || name == ".." {
			continue
		}
		if err := fs.deleteLocked(parentPath + "/" + name); err != nil {
			return err
		}
	}
}
