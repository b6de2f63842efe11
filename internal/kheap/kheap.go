// Package kheap is the kernel heap (spec.md §4.3): a bump allocator
// over a fixed virtual range, each Block preceded by a header
// carrying its size and two canary values an integrity sweep can
// check on demand. Grounded on src/go/mazarin/heap.go's kmalloc/
// kfree segment list, but simplified to the bump-allocator contract
// spec.md §4.3 actually specifies (the teacher's best-fit free-list
// design is a better-fit model for a *general* allocator; spec.md is
// explicit that kheap's free is a documented no-op, so a bump
// allocator is the correct - and simpler - match. free's no-op
// behavior and realloc's allocate+copy both come straight from
// spec.md §4.3).
package kheap

import (
	"nucleus/internal/kerr"
)

const (
	canary1 = 0xDEADBEEF
	canary2 = 0xCAFEF00D
)

// blockHeader precedes every allocated Block.
type blockHeader struct {
	size    uint32
	canary1 uint32
	canary2 uint32
}

// Block is a bookkeeping record; Heap never exposes raw addresses,
// it exposes byte slices view into its backing arena so allocations
// can be exercised and verified under go test.
type Block struct {
	header blockHeader
	data   []byte
}

// Heap is a bump allocator over [0, capacity). free is a no-op by
// design (spec.md §4.3): callers must not rely on reclamation.
type Heap struct {
	capacity uint64
	used     uint64
	blocks   []*Block
}

// New creates a Heap with the given capacity in bytes.
func New(capacity uint64) *Heap {
	return &Heap{capacity: capacity}
}

// Alloc bumps the heap pointer by size (plus header) and returns a
// handle to the new Block's data, or ResourceExhausted if the heap's
// fixed range is full.
func (h *Heap) Alloc(size uint32) (*Block, error) {
	need := uint64(size) + headerSize()
	if h.used+need > h.capacity {
		return nil, kerr.New(kerr.ResourceExhausted, "kheap.Alloc", "heap exhausted")
	}
	b := &Block{
		header: blockHeader{size: size, canary1: canary1, canary2: canary2},
		data:   make([]byte, size),
	}
	h.blocks = append(h.blocks, b)
	h.used += need
	return b, nil
}

func headerSize() uint64 { return 12 } // 3 x uint32, matching blockHeader's field count

// Data returns the Block's backing bytes.
func (b *Block) Data() []byte { return b.data }

// Size returns the Block's requested size.
func (b *Block) Size() uint32 { return b.header.size }

// Free is a documented no-op (spec.md §4.3): "free is a no-op by
// design. Callers must not rely on reclamation." Kept as a named call
// so call sites read the same as a real allocator's.
func (h *Heap) Free(b *Block) { _ = b }

// Realloc allocates a new Block of newSize and copies min(oldSize,
// newSize) bytes across (spec.md §4.3: "realloc allocates a new
// Block and copies").
func (h *Heap) Realloc(b *Block, newSize uint32) (*Block, error) {
	nb, err := h.Alloc(newSize)
	if err != nil {
		return nil, err
	}
	n := b.Size()
	if newSize < n {
		n = newSize
	}
	copy(nb.data, b.data[:n])
	return nb, nil
}

// Sbrk grows the heap's used/committed range by delta bytes and
// returns the previous break, mirroring brk/sbrk semantics on the
// same bump pointer the teacher's kmalloc implicitly advances
// (spec.md §4.3: "Exposes brk/sbrk semantics on the same pointer for
// kernel-internal use").
func (h *Heap) Sbrk(delta uint32) (uint64, error) {
	prev := h.used
	if h.used+uint64(delta) > h.capacity {
		return 0, kerr.New(kerr.ResourceExhausted, "kheap.Sbrk", "would exceed heap capacity")
	}
	h.used += uint64(delta)
	return prev, nil
}

// Brk returns the current break (bytes committed so far).
func (h *Heap) Brk() uint64 { return h.used }

// CheckIntegrity sweeps every live Block's canaries, returning the
// first corrupted Block's index, or -1 if all blocks are intact
// (spec.md §4.3: "two sentinel values checked on demand by an
// integrity sweep").
func (h *Heap) CheckIntegrity() int {
	for i, b := range h.blocks {
		if b.header.canary1 != canary1 || b.header.canary2 != canary2 {
			return i
		}
	}
	return -1
}

// Corrupt is a test hook simulating a buffer overrun stomping a
// Block's canary.
func (b *Block) Corrupt() { b.header.canary1 = 0 }
