// Package fat is the FAT12/16/32 engine (spec.md §4.6): BPB parsing,
// cluster math, a five-sector FAT cache, and the open/read/write/
// create/delete/truncate surface internal/vfs dispatches through.
//
// The 32-bit x86 BPB and 32-byte directory-entry layouts are a wire
// format fixed by the FAT standard, not something the teacher (a
// RPi4/ARM64 kernel with no FAT driver at all) has any prior art for;
// the byte-offset field table is grounded directly on spec.md §6 and
// cross-checked against the reference BPB struct in
// other_examples/487c7707_ostafen-digler__internal-disk-fat.go.go,
// which this rewrite does not copy but confirms the offsets against.
// The one-FS-engine-state / fixed-size-open-file-array shape follows
// src/go/mazarin/heap.go's fixed-capacity-over-dynamic-allocation style.
package fat

import (
	"encoding/binary"

	"nucleus/internal/kerr"
)

const bootSectorSignatureOffset = 510
const bootSectorSignature = 0xAA55

// bpb holds the boot-sector fields this engine actually consumes
// (spec.md §6 byte offsets).
type bpb struct {
	bytesPerSector    uint16
	sectorsPerCluster uint8
	reservedSectors   uint16
	numFATs           uint8
	rootEntryCount    uint16
	totalSectors16    uint16
	sectorsPerFAT16   uint16
	totalSectors32    uint32
	sectorsPerFAT32   uint32
	rootCluster       uint32
}

// parseBPB validates and extracts the BIOS Parameter Block from
// sector 0 of a partition (spec.md §4.6 "Initialization").
func parseBPB(sector []byte) (*bpb, error) {
	if len(sector) < 512 {
		return nil, kerr.New(kerr.InvalidInput, "fat.parseBPB", "sector buffer too small")
	}
	if binary.LittleEndian.Uint16(sector[bootSectorSignatureOffset:]) != bootSectorSignature {
		return nil, kerr.New(kerr.MediumFailure, "fat.parseBPB", "missing 0x55AA boot signature")
	}

	b := &bpb{
		bytesPerSector:    binary.LittleEndian.Uint16(sector[11:13]),
		sectorsPerCluster: sector[13],
		reservedSectors:   binary.LittleEndian.Uint16(sector[14:16]),
		numFATs:           sector[16],
		rootEntryCount:    binary.LittleEndian.Uint16(sector[17:19]),
		totalSectors16:    binary.LittleEndian.Uint16(sector[19:21]),
		sectorsPerFAT16:   binary.LittleEndian.Uint16(sector[22:24]),
		totalSectors32:    binary.LittleEndian.Uint32(sector[32:36]),
	}
	if b.bytesPerSector == 0 || b.sectorsPerCluster == 0 {
		return nil, kerr.New(kerr.InvalidInput, "fat.parseBPB", "zero bytes-per-sector or sectors-per-cluster")
	}
	if b.sectorsPerFAT16 == 0 {
		// sectors-per-FAT == 0 in the 16-bit field signals FAT32; the
		// extended BPB at offset 36 carries the real 32-bit value.
		b.sectorsPerFAT32 = binary.LittleEndian.Uint32(sector[36:40])
		b.rootCluster = binary.LittleEndian.Uint32(sector[44:48])
	}
	return b, nil
}

func (b *bpb) totalSectors() uint32 {
	if b.totalSectors16 != 0 {
		return uint32(b.totalSectors16)
	}
	return b.totalSectors32
}

func (b *bpb) sectorsPerFAT() uint32 {
	if b.sectorsPerFAT16 != 0 {
		return uint32(b.sectorsPerFAT16)
	}
	return b.sectorsPerFAT32
}

func (b *bpb) isFAT32() bool { return b.sectorsPerFAT16 == 0 }

// rootDirSectors is the fixed sector count of a FAT12/16 root
// directory (zero for FAT32, whose root is a cluster chain).
func (b *bpb) rootDirSectors() uint32 {
	if b.isFAT32() {
		return 0
	}
	return (uint32(b.rootEntryCount)*32 + uint32(b.bytesPerSector) - 1) / uint32(b.bytesPerSector)
}

// FAT12/16/32 classification thresholds, by data-cluster count
// (spec.md §4.6 "canonical 0xFF5 / 0xFFF5 thresholds").
const (
	fat12MaxClusters = 0xFF5
	fat16MaxClusters = 0xFFF5
)

type fatKind int

const (
	kindFAT12 fatKind = iota
	kindFAT16
	kindFAT32
)

func classify(dataClusters uint32) fatKind {
	switch {
	case dataClusters < fat12MaxClusters:
		return kindFAT12
	case dataClusters < fat16MaxClusters:
		return kindFAT16
	default:
		return kindFAT32
	}
}

// eocThreshold is the per-type end-of-chain sentinel floor (spec.md
// §4.6): a cluster value at or above this is EOF.
func (k fatKind) eocThreshold() uint32 {
	switch k {
	case kindFAT12:
		return 0xFF8
	case kindFAT16:
		return 0xFFF8
	default:
		return 0x0FFFFFF8
	}
}
