// Package elf32 parses the little-endian ELF32 structures spec.md §6
// names: the file header, program headers (for PT_LOAD segment
// loading, spec.md §4.9) and section headers/symbol table/relocation
// entries (for the dynamic library loader, spec.md §4.13). Field
// layouts are the standard ELF32 on-disk format spec.md §6 quotes
// offsets for; other_examples/0e99ac4c_xyproto-vibe67__elf_complete.go.go
// is reference-only struct-shape cross-checking, not a teacher (the
// teacher, mazarin, has no ELF loader at all).
package elf32

import (
	"encoding/binary"

	"nucleus/internal/kerr"
)

const (
	ehdrSize = 52
	phdrSize = 32
	shdrSize = 40
	symSize  = 16
	relSize  = 8

	elfMagic0, elfMagic1, elfMagic2, elfMagic3 = 0x7F, 'E', 'L', 'F'

	ClassNone = 0
	Class32   = 1

	DataNone = 0
	DataLSB  = 1

	MachineI386 = 3
)

// Segment type constants (p_type, spec.md §4.9).
const (
	PTNull = 0
	PTLoad = 1
)

// Program header permission flags (p_flags).
const (
	PFExec  = 1
	PFWrite = 2
	PFRead  = 4
)

// Section header type constants (spec.md §6 "SHT_SYMTAB, SHT_STRTAB, SHT_REL").
const (
	SHTNull    = 0
	SHTSymtab  = 2
	SHTStrtab  = 3
	SHTRel     = 9
	SHTDynsym  = 11
)

// Symbol binding, extracted from st_info's high nibble.
const (
	STBLocal  = 0
	STBGlobal = 1
	STBWeak   = 2
)

// Relocation types spec.md §4.13 lists.
const (
	R386None     = 0
	R38632       = 1
	R386PC32     = 2
	R386GlobDat  = 6
	R386JmpSlot  = 7
	R386Relative = 8
)

// Header is the parsed ELF32 file header.
type Header struct {
	Class      byte
	Data       byte
	Type       uint16
	Machine    uint16
	Entry      uint32
	PhOff      uint32
	ShOff      uint32
	PhEntSize  uint16
	PhNum      uint16
	ShEntSize  uint16
	ShNum      uint16
	ShStrNdx   uint16
}

// ParseHeader validates the magic/class/data/machine fields (spec.md
// §4.9 "accept only class 32, LSB data, machine i386") and returns the
// parsed header.
func ParseHeader(raw []byte) (*Header, error) {
	if len(raw) < ehdrSize {
		return nil, kerr.New(kerr.MediumFailure, "elf32.ParseHeader", "file shorter than ELF header")
	}
	if raw[0] != elfMagic0 || raw[1] != elfMagic1 || raw[2] != elfMagic2 || raw[3] != elfMagic3 {
		return nil, kerr.New(kerr.MediumFailure, "elf32.ParseHeader", "bad ELF magic")
	}
	h := &Header{
		Class:     raw[4],
		Data:      raw[5],
		Type:      binary.LittleEndian.Uint16(raw[16:18]),
		Machine:   binary.LittleEndian.Uint16(raw[18:20]),
		Entry:     binary.LittleEndian.Uint32(raw[24:28]),
		PhOff:     binary.LittleEndian.Uint32(raw[28:32]),
		ShOff:     binary.LittleEndian.Uint32(raw[32:36]),
		PhEntSize: binary.LittleEndian.Uint16(raw[42:44]),
		PhNum:     binary.LittleEndian.Uint16(raw[44:46]),
		ShEntSize: binary.LittleEndian.Uint16(raw[46:48]),
		ShNum:     binary.LittleEndian.Uint16(raw[48:50]),
		ShStrNdx:  binary.LittleEndian.Uint16(raw[50:52]),
	}
	if h.Class != Class32 {
		return nil, kerr.New(kerr.MediumFailure, "elf32.ParseHeader", "not a 32-bit ELF")
	}
	if h.Data != DataLSB {
		return nil, kerr.New(kerr.MediumFailure, "elf32.ParseHeader", "not little-endian")
	}
	if h.Machine != MachineI386 {
		return nil, kerr.New(kerr.MediumFailure, "elf32.ParseHeader", "not machine i386")
	}
	if h.PhNum == 0 {
		return nil, kerr.New(kerr.MediumFailure, "elf32.ParseHeader", "no program headers")
	}
	if h.PhEntSize != phdrSize {
		return nil, kerr.New(kerr.MediumFailure, "elf32.ParseHeader", "unexpected program header entry size")
	}
	return h, nil
}

// ProgramHeader is one parsed Phdr32 entry.
type ProgramHeader struct {
	Type   uint32
	Offset uint32
	VAddr  uint32
	FileSz uint32
	MemSz  uint32
	Flags  uint32
}

// ParseProgramHeaders slices h.PhNum entries of phdrSize bytes out of
// raw starting at h.PhOff.
func ParseProgramHeaders(raw []byte, h *Header) ([]ProgramHeader, error) {
	out := make([]ProgramHeader, 0, h.PhNum)
	for i := uint16(0); i < h.PhNum; i++ {
		off := h.PhOff + uint32(i)*uint32(h.PhEntSize)
		if int(off)+phdrSize > len(raw) {
			return nil, kerr.New(kerr.MediumFailure, "elf32.ParseProgramHeaders", "program header table truncated")
		}
		p := raw[off : off+phdrSize]
		out = append(out, ProgramHeader{
			Type:   binary.LittleEndian.Uint32(p[0:4]),
			Offset: binary.LittleEndian.Uint32(p[4:8]),
			VAddr:  binary.LittleEndian.Uint32(p[8:12]),
			FileSz: binary.LittleEndian.Uint32(p[16:20]),
			MemSz:  binary.LittleEndian.Uint32(p[20:24]),
			Flags:  binary.LittleEndian.Uint32(p[24:28]),
		})
	}
	return out, nil
}

// SectionHeader is one parsed Shdr32 entry.
type SectionHeader struct {
	Name      uint32
	Type      uint32
	Flags     uint32
	Addr      uint32
	Offset    uint32
	Size      uint32
	Link      uint32
	Info      uint32
	EntSize   uint32
}

// ParseSectionHeaders slices h.ShNum entries out of raw starting at
// h.ShOff (spec.md §6 "section-header traversal required only for
// the dynamic-library loader").
func ParseSectionHeaders(raw []byte, h *Header) ([]SectionHeader, error) {
	if h.ShNum == 0 {
		return nil, nil
	}
	out := make([]SectionHeader, 0, h.ShNum)
	for i := uint16(0); i < h.ShNum; i++ {
		off := h.ShOff + uint32(i)*uint32(h.ShEntSize)
		if int(off)+shdrSize > len(raw) {
			return nil, kerr.New(kerr.MediumFailure, "elf32.ParseSectionHeaders", "section header table truncated")
		}
		s := raw[off : off+shdrSize]
		out = append(out, SectionHeader{
			Name:    binary.LittleEndian.Uint32(s[0:4]),
			Type:    binary.LittleEndian.Uint32(s[4:8]),
			Flags:   binary.LittleEndian.Uint32(s[8:12]),
			Addr:    binary.LittleEndian.Uint32(s[12:16]),
			Offset:  binary.LittleEndian.Uint32(s[16:20]),
			Size:    binary.LittleEndian.Uint32(s[20:24]),
			Link:    binary.LittleEndian.Uint32(s[24:28]),
			Info:    binary.LittleEndian.Uint32(s[28:32]),
			EntSize: binary.LittleEndian.Uint32(s[36:40]),
		})
	}
	return out, nil
}

// Symbol is one parsed Sym32 entry, with Name already resolved
// through the companion string table.
type Symbol struct {
	Name    string
	Value   uint32
	Size    uint32
	Bind    byte
	ShNdx   uint16
}

// ParseSymbols reads every symSize-byte entry of sectionData against
// strtabData for name resolution.
func ParseSymbols(sectionData, strtabData []byte) ([]Symbol, error) {
	if len(sectionData)%symSize != 0 {
		return nil, kerr.New(kerr.MediumFailure, "elf32.ParseSymbols", "symbol table size not a multiple of entry size")
	}
	n := len(sectionData) / symSize
	out := make([]Symbol, 0, n)
	for i := 0; i < n; i++ {
		s := sectionData[i*symSize : (i+1)*symSize]
		nameOff := binary.LittleEndian.Uint32(s[0:4])
		out = append(out, Symbol{
			Name:  cString(strtabData, nameOff),
			Value: binary.LittleEndian.Uint32(s[4:8]),
			Size:  binary.LittleEndian.Uint32(s[8:12]),
			Bind:  s[12] >> 4,
			ShNdx: binary.LittleEndian.Uint16(s[14:16]),
		})
	}
	return out, nil
}

func cString(data []byte, off uint32) string {
	if int(off) >= len(data) {
		return ""
	}
	end := int(off)
	for end < len(data) && data[end] != 0 {
		end++
	}
	return string(data[off:end])
}

// Reloc is one parsed Rel32 entry (no addend - REL, not RELA).
type Reloc struct {
	Offset uint32
	Sym    uint32
	Type   uint32
}

// ParseRelocs reads every relSize-byte entry of sectionData.
func ParseRelocs(sectionData []byte) ([]Reloc, error) {
	if len(sectionData)%relSize != 0 {
		return nil, kerr.New(kerr.MediumFailure, "elf32.ParseRelocs", "relocation table size not a multiple of entry size")
	}
	n := len(sectionData) / relSize
	out := make([]Reloc, 0, n)
	for i := 0; i < n; i++ {
		r := sectionData[i*relSize : (i+1)*relSize]
		off := binary.LittleEndian.Uint32(r[0:4])
		info := binary.LittleEndian.Uint32(r[4:8])
		out = append(out, Reloc{Offset: off, Sym: info >> 8, Type: info & 0xFF})
	}
	return out, nil
}
