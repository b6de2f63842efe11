package kheap_test

import (
	"testing"

	"nucleus/internal/kerr"
	"nucleus/internal/kheap"
)

func TestAllocWritesAndIntegrityClean(t *testing.T) {
	h := kheap.New(4096)
	b, err := h.Alloc(64)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	copy(b.Data(), []byte("hello"))
	if h.CheckIntegrity() != -1 {
		t.Fatalf("expected clean integrity sweep")
	}
}

func TestIntegritySweepCatchesCorruption(t *testing.T) {
	h := kheap.New(4096)
	b, _ := h.Alloc(16)
	b.Corrupt()
	if idx := h.CheckIntegrity(); idx != 0 {
		t.Fatalf("expected corrupted block at index 0, got %d", idx)
	}
}

func TestExhaustionReturnsResourceExhausted(t *testing.T) {
	h := kheap.New(32)
	if _, err := h.Alloc(1000); !kerr.Is(err, kerr.ResourceExhausted) {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}
}

func TestReallocCopiesData(t *testing.T) {
	h := kheap.New(4096)
	b, _ := h.Alloc(4)
	copy(b.Data(), []byte("abcd"))

	nb, err := h.Realloc(b, 8)
	if err != nil {
		t.Fatalf("Realloc: %v", err)
	}
	if string(nb.Data()[:4]) != "abcd" {
		t.Fatalf("realloc should preserve original bytes, got %q", nb.Data()[:4])
	}
}

func TestFreeIsNoOp(t *testing.T) {
	h := kheap.New(4096)
	b, _ := h.Alloc(16)
	before := h.Brk()
	h.Free(b)
	if h.Brk() != before {
		t.Fatalf("Free must not reclaim heap space")
	}
}

func TestSbrkGrowsBreak(t *testing.T) {
	h := kheap.New(128)
	prev, err := h.Sbrk(32)
	if err != nil {
		t.Fatalf("Sbrk: %v", err)
	}
	if prev != 0 {
		t.Fatalf("first Sbrk should return break 0, got %d", prev)
	}
	if h.Brk() != 32 {
		t.Fatalf("Brk = %d, want 32", h.Brk())
	}
}
