package elf32_test

import (
	"encoding/binary"
	"testing"

	"nucleus/internal/elf32"
)

func putU16(b []byte, off int, v uint16) { binary.LittleEndian.PutUint16(b[off:], v) }
func putU32(b []byte, off int, v uint32) { binary.LittleEndian.PutUint32(b[off:], v) }

func buildMinimalELF(t *testing.T, entry, vaddr, filesz, memsz uint32) []byte {
	t.Helper()
	const ehdrSize = 52
	const phdrSize = 32
	buf := make([]byte, ehdrSize+phdrSize+int(filesz))

	buf[0], buf[1], buf[2], buf[3] = 0x7F, 'E', 'L', 'F'
	buf[4] = 1 // ELFCLASS32
	buf[5] = 1 // ELFDATA2LSB
	putU16(buf, 16, 2)  // ET_EXEC
	putU16(buf, 18, 3)  // EM_386
	putU32(buf, 24, entry)
	putU32(buf, 28, ehdrSize) // e_phoff
	putU16(buf, 42, phdrSize) // e_phentsize
	putU16(buf, 44, 1)        // e_phnum

	ph := buf[ehdrSize : ehdrSize+phdrSize]
	putU32(ph, 0, elf32.PTLoad)
	putU32(ph, 4, ehdrSize+phdrSize) // p_offset
	putU32(ph, 8, vaddr)
	putU32(ph, 16, filesz)
	putU32(ph, 20, memsz)
	putU32(ph, 24, elf32.PFRead|elf32.PFExec)

	for i := uint32(0); i < filesz; i++ {
		buf[ehdrSize+phdrSize+int(i)] = byte(i + 1)
	}
	return buf
}

func TestParseHeaderAcceptsValidI386(t *testing.T) {
	raw := buildMinimalELF(t, 0x08048000, 0x08048000, 16, 32)
	h, err := elf32.ParseHeader(raw)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Entry != 0x08048000 || h.PhNum != 1 {
		t.Fatalf("unexpected header: %+v", h)
	}
}

func TestParseHeaderRejectsBadMagic(t *testing.T) {
	raw := buildMinimalELF(t, 0, 0, 4, 4)
	raw[0] = 0x00
	if _, err := elf32.ParseHeader(raw); err == nil {
		t.Fatalf("expected bad-magic rejection")
	}
}

func TestParseHeaderRejectsWrongMachine(t *testing.T) {
	raw := buildMinimalELF(t, 0, 0, 4, 4)
	binary.LittleEndian.PutUint16(raw[18:20], 0xFF)
	if _, err := elf32.ParseHeader(raw); err == nil {
		t.Fatalf("expected wrong-machine rejection")
	}
}

func TestParseProgramHeadersRoundTrip(t *testing.T) {
	raw := buildMinimalELF(t, 0x08048000, 0x08048000, 16, 32)
	h, err := elf32.ParseHeader(raw)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	phdrs, err := elf32.ParseProgramHeaders(raw, h)
	if err != nil {
		t.Fatalf("ParseProgramHeaders: %v", err)
	}
	if len(phdrs) != 1 {
		t.Fatalf("got %d program headers, want 1", len(phdrs))
	}
	p := phdrs[0]
	if p.Type != elf32.PTLoad || p.VAddr != 0x08048000 || p.FileSz != 16 || p.MemSz != 32 {
		t.Fatalf("unexpected program header: %+v", p)
	}
}

func TestParseSymbolsResolvesNames(t *testing.T) {
	strtab := []byte{0, 'm', 'a', 'i', 'n', 0}
	sym := make([]byte, 16)
	putU32(sym, 0, 1) // name offset into strtab
	putU32(sym, 4, 0x08048000)
	sym[12] = byte(elf32.STBGlobal << 4)
	putU16(sym, 14, 1)

	syms, err := elf32.ParseSymbols(sym, strtab)
	if err != nil {
		t.Fatalf("ParseSymbols: %v", err)
	}
	if len(syms) != 1 || syms[0].Name != "main" || syms[0].Value != 0x08048000 {
		t.Fatalf("unexpected symbols: %+v", syms)
	}
}

func TestParseRelocsDecodesSymAndType(t *testing.T) {
	rel := make([]byte, 8)
	putU32(rel, 0, 0x1000)
	putU32(rel, 4, (7<<8)|elf32.R386JmpSlot)

	relocs, err := elf32.ParseRelocs(rel)
	if err != nil {
		t.Fatalf("ParseRelocs: %v", err)
	}
	if len(relocs) != 1 || relocs[0].Sym != 7 || relocs[0].Type != elf32.R386JmpSlot {
		t.Fatalf("unexpected relocs: %+v", relocs)
	}
}
