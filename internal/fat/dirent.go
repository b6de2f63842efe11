package fat

import (
	"encoding/binary"
	"strings"

	"nucleus/internal/bitfield"
)

// dirEntrySize is the fixed 32-byte on-disk directory entry (spec.md §6).
const dirEntrySize = 32

// attrLongName is not a single flag bit but the reserved all-four-low-bits
// combination that marks a long-filename entry; checked by raw byte
// comparison rather than through dirAttrFlags.
const attrLongName = 0x0F

const (
	direntFree    = 0x00 // first byte: stop iteration
	direntDeleted = 0xE5 // first byte: skip, slot reusable
)

// attrConfig packs dirAttrFlags into the single on-disk attribute byte
// (spec.md §6's 6 independent boolean attribute bits).
var attrConfig = &bitfield.Config{NumBits: 8}

// dirAttrFlags is the unpacked form of a directory entry's attribute
// byte, one bool per on-disk bit.
type dirAttrFlags struct {
	ReadOnly  bool `bitfield:",1"`
	Hidden    bool `bitfield:",1"`
	System    bool `bitfield:",1"`
	VolumeID  bool `bitfield:",1"`
	Directory bool `bitfield:",1"`
	Archive   bool `bitfield:",1"`
}

// packAttr compacts f into the on-disk attribute byte.
func packAttr(f dirAttrFlags) byte {
	packed, err := bitfield.Pack(&f, attrConfig)
	if err != nil {
		// f's fields are all single-bit bools; Pack only fails on
		// overflow or unsupported kinds, neither possible here.
		panic(err)
	}
	return byte(packed)
}

// unpackAttr expands an on-disk attribute byte into dirAttrFlags.
func unpackAttr(attr byte) dirAttrFlags {
	var f dirAttrFlags
	_ = bitfield.Unpack(uint64(attr), &f, attrConfig)
	return f
}

// dirEntry is the parsed form of one 32-byte directory entry.
type dirEntry struct {
	name       [11]byte // 8.3, space-padded, uppercase
	attr       byte
	firstClust uint32
	size       uint32
}

func (d *dirEntry) isDir() bool { return unpackAttr(d.attr).Directory }

// parseDirEntry extracts a dirEntry from one 32-byte disk slot.
func parseDirEntry(raw []byte) dirEntry {
	var d dirEntry
	copy(d.name[:], raw[0:11])
	d.attr = raw[11]
	hi := binary.LittleEndian.Uint16(raw[20:22])
	lo := binary.LittleEndian.Uint16(raw[26:28])
	d.firstClust = uint32(hi)<<16 | uint32(lo)
	d.size = binary.LittleEndian.Uint32(raw[28:32])
	return d
}

// encodeDirEntry writes d into a fresh 32-byte slot.
func encodeDirEntry(d dirEntry) []byte {
	raw := make([]byte, dirEntrySize)
	copy(raw[0:11], d.name[:])
	raw[11] = d.attr
	binary.LittleEndian.PutUint16(raw[20:22], uint16(d.firstClust>>16))
	binary.LittleEndian.PutUint16(raw[26:28], uint16(d.firstClust))
	binary.LittleEndian.PutUint32(raw[28:32], d.size)
	return raw
}

// to8dot3 converts a single path component to an uppercase,
// space-padded 8.3 name (spec.md §4.6 "Open file & directory
// iteration"). Names/extensions longer than 8/3 characters are
// truncated rather than rejected - long-filename support is an
// explicit non-goal.
func to8dot3(component string) [11]byte {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	base := component
	ext := ""
	if idx := strings.LastIndexByte(component, '.'); idx >= 0 {
		base, ext = component[:idx], component[idx+1:]
	}
	base = strings.ToUpper(base)
	ext = strings.ToUpper(ext)
	n := len(base)
	if n > 8 {
		n = 8
	}
	copy(out[0:8], base[:n])
	m := len(ext)
	if m > 3 {
		m = 3
	}
	copy(out[8:11], ext[:m])
	return out
}

// nameMatches reports whether an on-disk 11-byte name equals the
// 8.3-converted form of component.
func nameMatches(raw [11]byte, component string) bool {
	return raw == to8dot3(component)
}

// dirEntryName renders an 11-byte 8.3 name back to "base.ext" (trimmed
// of padding, lowercase kept as stored), for directory listings.
func dirEntryName(raw [11]byte) string {
	base := strings.TrimRight(string(raw[0:8]), " ")
	ext := strings.TrimRight(string(raw[8:11]), " ")
	if ext == "" {
		return base
	}
	return base + "." + ext
}
