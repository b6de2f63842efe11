// Package blockdev is the sector-addressed storage transport spec.md
// §1 treats as an external collaborator ("ATA/floppy drivers, the
// disk-controller wire protocol"): every fstypes.Partition and the FAT
// engine sit on the BlockDevice interface below, never on a concrete
// ATA/FDC register protocol, so this package only needs to provide a
// device standing in for one - MemBlockDevice plays the same role
// archvt.Sim plays for the rest of the hardware boundary.
package blockdev

import (
	"nucleus/internal/kerr"
)

// BlockDevice is the sector-addressed read/write surface every
// transport and every fstypes.Partition sits on top of (spec.md
// §4.5/§4.7).
type BlockDevice interface {
	ReadSectors(lba uint64, count int, buf []byte) error
	WriteSectors(lba uint64, count int, buf []byte) error
	SectorSize() int
	SectorCount() uint64
}

// MemBlockDevice is a RAM-backed BlockDevice for tests and for the
// devfs/volumes arena fixtures - there being no real disk under test,
// this stands in for the teacher's qemu-simulated target the same way
// archvt.Sim stands in for real hardware.
type MemBlockDevice struct {
	sectorSize int
	data       []byte
}

// NewMemBlockDevice allocates a zero-filled device of the given
// sector size and count.
func NewMemBlockDevice(sectorSize int, sectorCount uint64) *MemBlockDevice {
	return &MemBlockDevice{
		sectorSize: sectorSize,
		data:       make([]byte, sectorSize*int(sectorCount)),
	}
}

func (d *MemBlockDevice) SectorSize() int     { return d.sectorSize }
func (d *MemBlockDevice) SectorCount() uint64 { return uint64(len(d.data) / d.sectorSize) }

func (d *MemBlockDevice) bounds(lba uint64, count int) (int, int, error) {
	start := int(lba) * d.sectorSize
	end := start + count*d.sectorSize
	if lba+uint64(count) > d.SectorCount() || count < 0 {
		return 0, 0, kerr.New(kerr.InvalidInput, "blockdev.MemBlockDevice", "sector range out of bounds")
	}
	return start, end, nil
}

func (d *MemBlockDevice) ReadSectors(lba uint64, count int, buf []byte) error {
	start, end, err := d.bounds(lba, count)
	if err != nil {
		return err
	}
	if len(buf) < end-start {
		return kerr.New(kerr.InvalidInput, "blockdev.MemBlockDevice.ReadSectors", "buffer too small")
	}
	copy(buf, d.data[start:end])
	return nil
}

func (d *MemBlockDevice) WriteSectors(lba uint64, count int, buf []byte) error {
	start, end, err := d.bounds(lba, count)
	if err != nil {
		return err
	}
	if len(buf) < end-start {
		return kerr.New(kerr.InvalidInput, "blockdev.MemBlockDevice.WriteSectors", "buffer too small")
	}
	copy(d.data[start:end], buf[:end-start])
	return nil
}

// PartitionDevice biases every LBA by an offset, letting a
// fstypes.Partition address its own sector range without knowing the
// underlying disk's absolute geometry (spec.md §4.5).
type PartitionDevice struct {
	Backing BlockDevice
	Offset  uint64
	Size    uint64
}

func (p *PartitionDevice) SectorSize() int     { return p.Backing.SectorSize() }
func (p *PartitionDevice) SectorCount() uint64 { return p.Size }

func (p *PartitionDevice) checkRange(lba uint64, count int) error {
	if count < 0 || lba+uint64(count) > p.Size {
		return kerr.New(kerr.InvalidInput, "blockdev.PartitionDevice", "sector range exceeds partition")
	}
	return nil
}

func (p *PartitionDevice) ReadSectors(lba uint64, count int, buf []byte) error {
	if err := p.checkRange(lba, count); err != nil {
		return err
	}
	return p.Backing.ReadSectors(p.Offset+lba, count, buf)
}

func (p *PartitionDevice) WriteSectors(lba uint64, count int, buf []byte) error {
	if err := p.checkRange(lba, count); err != nil {
		return err
	}
	return p.Backing.WriteSectors(p.Offset+lba, count, buf)
}
