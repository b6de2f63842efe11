// Package volumes is the fixed-capacity disk/partition arena spec.md
// §9's "Pointer graphs" design note asks for: the original keeps
// Partition->Filesystem->Partition cycles alive with raw pointers into
// a static array; here that becomes slot-index handles into
// pre-allocated Go slices, so a *fstypes.Partition handed out to a
// caller is never invalidated by a later registration (no slice
// growth ever reallocates backing storage out from under a live
// pointer - mirrored from src/go/mazarin/page.go's fixed frame-table
// approach, applied to disks/partitions instead of physical frames).
package volumes

import (
	"nucleus/internal/blockdev"
	"nucleus/internal/bootcfg"
	"nucleus/internal/fstypes"
	"nucleus/internal/kerr"
)

// Arena holds every registered Disk and Partition at a fixed capacity
// (spec.md §4.5, bootcfg.MaxDisks/MaxPartitions).
type Arena struct {
	disks      [bootcfg.MaxDisks]fstypes.Disk
	diskUsed   [bootcfg.MaxDisks]bool
	partitions [bootcfg.MaxPartitions]fstypes.Partition
	partUsed   [bootcfg.MaxPartitions]bool
}

// New builds an empty arena.
func New() *Arena {
	return &Arena{}
}

// RegisterDisk claims the first free disk slot and returns a stable
// pointer into the arena's backing array - stable because the array
// is fixed-size and never reallocated (spec.md §9).
func (a *Arena) RegisterDisk(id string, sectorSize int, totalSectors uint64) (*fstypes.Disk, error) {
	for i := range a.disks {
		if a.diskUsed[i] {
			continue
		}
		a.diskUsed[i] = true
		a.disks[i] = fstypes.Disk{ID: id, SectorSize: sectorSize, TotalSectors: totalSectors}
		return &a.disks[i], nil
	}
	return nil, kerr.New(kerr.ResourceExhausted, "volumes.RegisterDisk", "disk arena full")
}

// ReleaseDisk frees a disk slot, identified by pointer identity.
// Any partitions still referencing it are left dangling from the
// caller's point of view - callers must release partitions first.
func (a *Arena) ReleaseDisk(d *fstypes.Disk) error {
	for i := range a.disks {
		if &a.disks[i] == d {
			if !a.diskUsed[i] {
				return kerr.New(kerr.InvalidInput, "volumes.ReleaseDisk", "disk already released")
			}
			a.diskUsed[i] = false
			a.disks[i] = fstypes.Disk{}
			return nil
		}
	}
	return kerr.New(kerr.InvalidInput, "volumes.ReleaseDisk", "pointer not owned by this arena")
}

// RegisterPartition claims the first free partition slot.
func (a *Arena) RegisterPartition(disk *fstypes.Disk, offsetLBA, sizeSectors uint64, typeByte byte, label string) (*fstypes.Partition, error) {
	if !a.ownsDisk(disk) {
		return nil, kerr.New(kerr.InvalidInput, "volumes.RegisterPartition", "disk not owned by this arena")
	}
	for i := range a.partitions {
		if a.partUsed[i] {
			continue
		}
		a.partUsed[i] = true
		a.partitions[i] = fstypes.Partition{
			Disk:        disk,
			OffsetLBA:   offsetLBA,
			SizeSectors: sizeSectors,
			TypeByte:    typeByte,
			Label:       label,
		}
		return &a.partitions[i], nil
	}
	return nil, kerr.New(kerr.ResourceExhausted, "volumes.RegisterPartition", "partition arena full")
}

// AttachDevice wires a partition's Reader/Writer to a
// blockdev.PartitionDevice biasing every LBA by the partition's own
// offset into backing (spec.md §4.5) - called once after
// RegisterPartition, once the underlying disk's transport is known.
func (a *Arena) AttachDevice(p *fstypes.Partition, backing blockdev.BlockDevice) error {
	if !a.ownsPartition(p) {
		return kerr.New(kerr.InvalidInput, "volumes.AttachDevice", "partition not owned by this arena")
	}
	pd := &blockdev.PartitionDevice{Backing: backing, Offset: p.OffsetLBA, Size: p.SizeSectors}
	p.Reader = pd
	p.Writer = pd
	return nil
}

func (a *Arena) ownsPartition(p *fstypes.Partition) bool {
	for i := range a.partitions {
		if &a.partitions[i] == p {
			return a.partUsed[i]
		}
	}
	return false
}

// ReleasePartition frees a partition slot.
func (a *Arena) ReleasePartition(p *fstypes.Partition) error {
	for i := range a.partitions {
		if &a.partitions[i] == p {
			if !a.partUsed[i] {
				return kerr.New(kerr.InvalidInput, "volumes.ReleasePartition", "partition already released")
			}
			a.partUsed[i] = false
			a.partitions[i] = fstypes.Partition{}
			return nil
		}
	}
	return kerr.New(kerr.InvalidInput, "volumes.ReleasePartition", "pointer not owned by this arena")
}

func (a *Arena) ownsDisk(d *fstypes.Disk) bool {
	for i := range a.disks {
		if &a.disks[i] == d {
			return a.diskUsed[i]
		}
	}
	return false
}

// Partitions returns every currently-registered partition pointer, in
// slot order. Only the tests call it; the VFS does not scan it.
func (a *Arena) Partitions() []*fstypes.Partition {
	out := make([]*fstypes.Partition, 0, bootcfg.MaxPartitions)
	for i := range a.partitions {
		if a.partUsed[i] {
			out = append(out, &a.partitions[i])
		}
	}
	return out
}
