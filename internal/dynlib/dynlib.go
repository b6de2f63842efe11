// Package dynlib implements the dynamic library loader spec.md §4.13
// describes: per-module ELF symbol extraction into a process-wide
// global symbol registry, and R_386_* relocation application against
// that registry. There is no teacher prior art for this (mazarin has
// no dynamic loader); grounded directly on spec.md §4.13's formal
// algorithm and internal/elf32's section/symbol/relocation parsing.
package dynlib

import (
	"encoding/binary"
	"strings"
	"sync"

	"nucleus/internal/bootcfg"
	"nucleus/internal/elf32"
	"nucleus/internal/kerr"
)

// SymbolEntry is one published entry of the global symbol table:
// name -> (absolute address, source module, kernel-or-library flag)
// (spec.md §3 "Dynamic library record").
type SymbolEntry struct {
	Name       string
	Addr       uint32
	Module     string
	FromKernel bool
}

// Registry is the process-wide global symbol table, bounded at
// bootcfg.SymbolTableCapacity entries (spec.md §3) and append-only
// after the load phase (spec.md §5 "readers after the load phase see
// a stable snapshot").
type Registry struct {
	mu   sync.Mutex
	syms map[string]SymbolEntry
}

// NewRegistry builds an empty global symbol table.
func NewRegistry() *Registry {
	return &Registry{syms: make(map[string]SymbolEntry)}
}

// Publish adds or updates one symbol. A module publishing a name
// already in the table overwrites the prior entry (symbol
// interposition); genuinely new names are rejected once the table is
// at capacity.
func (r *Registry) Publish(name string, addr uint32, module string, fromKernel bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.syms[name]; !exists && len(r.syms) >= bootcfg.SymbolTableCapacity {
		return kerr.New(kerr.ResourceExhausted, "dynlib.Registry.Publish", "global symbol table full")
	}
	r.syms[name] = SymbolEntry{Name: name, Addr: addr, Module: module, FromKernel: fromKernel}
	return nil
}

// Lookup resolves a symbol name to its published entry.
func (r *Registry) Lookup(name string) (SymbolEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.syms[name]
	return e, ok
}

// Len reports how many symbols are currently published.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.syms)
}

// Module is one loaded dynamic library record (spec.md §3): its load
// base, link-time base, entry point, a relocated in-memory image, and
// the symbols it exported into the Registry.
type Module struct {
	Name     string
	LoadBase uint32
	LinkBase uint32
	Entry    uint32
	Size     uint32
	Image    []byte
	Deps     []string
	Exports  []SymbolEntry
}

// Loader parses and relocates ELF modules against a shared Registry.
type Loader struct {
	registry *Registry
}

// NewLoader builds a Loader publishing into registry.
func NewLoader(registry *Registry) *Loader {
	return &Loader{registry: registry}
}

const linkBaseAlign = 64 * 1024

// detectLinkBase implements spec.md §4.13's "detect the link-time base
// from the entry point (mask to 64 KiB alignment), fall back to first
// PT_LOAD".
func detectLinkBase(hdr *elf32.Header, phdrs []elf32.ProgramHeader) uint32 {
	if hdr.Entry != 0 {
		return hdr.Entry &^ (linkBaseAlign - 1)
	}
	for _, ph := range phdrs {
		if ph.Type == elf32.PTLoad {
			return ph.VAddr &^ (linkBaseAlign - 1)
		}
	}
	return 0
}

// buildImage lays out every PT_LOAD segment's file contents into a
// single buffer indexed by (vaddr - linkBase), the module's own
// relocatable image independent of where it is ultimately loaded.
func buildImage(raw []byte, phdrs []elf32.ProgramHeader, linkBase uint32) []byte {
	size := 0
	for _, ph := range phdrs {
		if ph.Type != elf32.PTLoad {
			continue
		}
		end := int(ph.VAddr-linkBase) + int(ph.MemSz)
		if end > size {
			size = end
		}
	}
	image := make([]byte, size)
	for _, ph := range phdrs {
		if ph.Type != elf32.PTLoad {
			continue
		}
		off := int(ph.VAddr - linkBase)
		copy(image[off:], raw[ph.Offset:ph.Offset+ph.FileSz])
	}
	return image
}

func sectionBytes(raw []byte, sh *elf32.SectionHeader) []byte {
	if sh.Offset+sh.Size > uint32(len(raw)) {
		return nil
	}
	return raw[sh.Offset : sh.Offset+sh.Size]
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

func sectionName(raw []byte, shdrs []elf32.SectionHeader, shstrndx uint16, nameOff uint32) string {
	if int(shstrndx) >= len(shdrs) {
		return ""
	}
	return cString(sectionBytes(raw, &shdrs[shstrndx]), nameOff)
}

// parseSymbolTable finds the first SHT_SYMTAB or SHT_DYNSYM section
// (spec.md §4.13 "parse section headers to find .symtab/.dynsym and
// .strtab/.dynstr") and returns every entry, including locals and
// undefined symbols - relocations address this table by index.
func parseSymbolTable(raw []byte, shdrs []elf32.SectionHeader) ([]elf32.Symbol, error) {
	for i := range shdrs {
		if shdrs[i].Type != elf32.SHTSymtab && shdrs[i].Type != elf32.SHTDynsym {
			continue
		}
		if int(shdrs[i].Link) >= len(shdrs) {
			continue
		}
		strSec := shdrs[shdrs[i].Link]
		return elf32.ParseSymbols(sectionBytes(raw, &shdrs[i]), sectionBytes(raw, &strSec))
	}
	return nil, nil
}

// exportedSymbols filters allSyms down to the non-local, defined
// symbols a module publishes (spec.md §4.13 "for each non-local
// symbol with a non-zero section index"), with the runtime address
// computed as load_base + (st_value - link_base).
func exportedSymbols(allSyms []elf32.Symbol, loadBase, linkBase uint32) []SymbolEntry {
	var out []SymbolEntry
	for _, s := range allSyms {
		if s.Bind == elf32.STBLocal || s.ShNdx == 0 || s.Name == "" {
			continue
		}
		out = append(out, SymbolEntry{Name: s.Name, Addr: loadBase + (s.Value - linkBase)})
	}
	return out
}

func readWord(buf []byte, off uint32) uint32 { return binary.LittleEndian.Uint32(buf[off : off+4]) }
func writeWord(buf []byte, off uint32, v uint32) {
	binary.LittleEndian.PutUint32(buf[off:off+4], v)
}

// Load parses raw as an ELF32 module, builds its relocatable image,
// publishes its exported symbols into the Registry under name, applies
// every R_386_* relocation section against the image, and returns the
// resulting Module. fromKernel tags the published symbols per spec.md
// §3's "kernel-or-library flag". It does not affect relocation: an
// unresolved non-PLT relocation fails the load whatever fromKernel is.
func (l *Loader) Load(name string, raw []byte, loadBase uint32, fromKernel bool) (*Module, error) {
	hdr, err := elf32.ParseHeader(raw)
	if err != nil {
		return nil, err
	}
	phdrs, err := elf32.ParseProgramHeaders(raw, hdr)
	if err != nil {
		return nil, err
	}
	linkBase := detectLinkBase(hdr, phdrs)
	image := buildImage(raw, phdrs, linkBase)

	shdrs, err := elf32.ParseSectionHeaders(raw, hdr)
	if err != nil {
		return nil, err
	}

	allSyms, err := parseSymbolTable(raw, shdrs)
	if err != nil {
		return nil, err
	}

	exports := exportedSymbols(allSyms, loadBase, linkBase)
	for _, e := range exports {
		if err := l.registry.Publish(e.Name, e.Addr, name, fromKernel); err != nil {
			return nil, err
		}
	}

	if err := l.applyAllRelocations(raw, shdrs, hdr, allSyms, image, loadBase, linkBase); err != nil {
		return nil, err
	}

	return &Module{
		Name:     name,
		LoadBase: loadBase,
		LinkBase: linkBase,
		Entry:    loadBase + (hdr.Entry - linkBase),
		Size:     uint32(len(image)),
		Image:    image,
		Exports:  exports,
	}, nil
}

func (l *Loader) applyAllRelocations(raw []byte, shdrs []elf32.SectionHeader, hdr *elf32.Header, allSyms []elf32.Symbol, image []byte, loadBase, linkBase uint32) error {
	delta := loadBase - linkBase
	for i := range shdrs {
		if shdrs[i].Type != elf32.SHTRel {
			continue
		}
		name := sectionName(raw, shdrs, hdr.ShStrNdx, shdrs[i].Name)
		isPLT := strings.Contains(name, ".plt")

		relocs, err := elf32.ParseRelocs(sectionBytes(raw, &shdrs[i]))
		if err != nil {
			return err
		}
		for _, r := range relocs {
			if err := l.applyReloc(image, loadBase, delta, linkBase, allSyms, r, isPLT); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyReloc implements spec.md §4.13's five relocation rules against
// image, the module's own relocatable buffer.
func (l *Loader) applyReloc(image []byte, loadBase, delta, linkBase uint32, allSyms []elf32.Symbol, r elf32.Reloc, isPLT bool) error {
	off := r.Offset - linkBase
	if int(off)+4 > len(image) {
		return kerr.New(kerr.MediumFailure, "dynlib.applyReloc", "relocation target outside module image")
	}
	target := loadBase + off

	switch r.Type {
	case elf32.R386None:
		return nil
	case elf32.R386Relative:
		stored := readWord(image, off)
		if stored >= loadBase && stored < loadBase+uint32(len(image)) {
			return nil // already relocated
		}
		writeWord(image, off, stored+delta)
		return nil
	}

	var symName string
	if int(r.Sym) < len(allSyms) {
		symName = allSyms[r.Sym].Name
	}
	entry, ok := l.registry.Lookup(symName)
	if !ok {
		if isPLT {
			return nil // spec.md §7: unresolved PLT symbol is a warning, other relocations still apply
		}
		return kerr.New(kerr.Unresolved, "dynlib.applyReloc", "unresolved symbol: "+symName)
	}

	switch r.Type {
	case elf32.R38632:
		addend := readWord(image, off)
		writeWord(image, off, entry.Addr+addend)
	case elf32.R386PC32:
		addend := readWord(image, off)
		writeWord(image, off, entry.Addr+addend-target)
	case elf32.R386GlobDat, elf32.R386JmpSlot:
		writeWord(image, off, entry.Addr)
	}
	return nil
}
