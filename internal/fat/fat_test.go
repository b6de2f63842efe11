package fat_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"nucleus/internal/blockdev"
	"nucleus/internal/fat"
	"nucleus/internal/fstypes"
)

// buildFAT16Image hand-assembles a minimal but standards-conformant
// FAT16 boot sector (spec.md §6 byte offsets) with enough data
// clusters (>4085) to classify as FAT16 rather than FAT12 (spec.md
// §4.6 "canonical 0xFF5 / 0xFFF5 thresholds").
func buildFAT16Image(t *testing.T) *blockdev.MemBlockDevice {
	t.Helper()
	const (
		reservedSectors = 1
		numFATs         = 2
		rootEntries     = 32
		sectorsPerFAT   = 20
		totalSectors    = 4250
	)
	dev := blockdev.NewMemBlockDevice(512, totalSectors)

	boot := make([]byte, 512)
	binary.LittleEndian.PutUint16(boot[11:13], 512)
	boot[13] = 1 // sectors per cluster
	binary.LittleEndian.PutUint16(boot[14:16], reservedSectors)
	boot[16] = numFATs
	binary.LittleEndian.PutUint16(boot[17:19], rootEntries)
	binary.LittleEndian.PutUint16(boot[19:21], totalSectors)
	binary.LittleEndian.PutUint16(boot[22:24], sectorsPerFAT)
	boot[510] = 0x55
	boot[511] = 0xAA
	if err := dev.WriteSectors(0, 1, boot); err != nil {
		t.Fatalf("writing boot sector: %v", err)
	}

	zero := make([]byte, 512)
	for lba := uint64(1); lba < reservedSectors+numFATs*sectorsPerFAT; lba++ {
		if err := dev.WriteSectors(lba, 1, zero); err != nil {
			t.Fatalf("zeroing FAT sector %d: %v", lba, err)
		}
	}
	return dev
}

func mountTestFS(t *testing.T) (*fat.FS, *fstypes.Partition) {
	t.Helper()
	dev := buildFAT16Image(t)
	part := &fstypes.Partition{
		Reader: dev,
		Writer: dev,
	}
	fs, err := fat.Mount(part)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	return fs, part
}

func TestMountOpensRootDirectory(t *testing.T) {
	fs, part := mountTestFS(t)
	root, err := fs.Open(part, "/")
	if err != nil {
		t.Fatalf("Open root: %v", err)
	}
	if !fs.IsDir(root) {
		t.Fatalf("root should report as a directory")
	}
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	fs, part := mountTestFS(t)

	f, err := fs.Create(part, "/hello.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	payload := []byte("hello, fat16 world")
	n, err := fs.Write(part, f, len(payload), payload)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("Write returned %d, want %d", n, len(payload))
	}
	fs.Close(f)

	f2, err := fs.Open(part, "/hello.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if fs.GetSize(f2) != int64(len(payload)) {
		t.Fatalf("GetSize = %d, want %d", fs.GetSize(f2), len(payload))
	}
	got := make([]byte, len(payload))
	n, err = fs.Read(part, f2, len(got), got)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != len(payload) || !bytes.Equal(got, payload) {
		t.Fatalf("Read round trip mismatch: got %q want %q", got, payload)
	}
}

func TestWriteAcrossMultipleSectors(t *testing.T) {
	fs, part := mountTestFS(t)
	f, err := fs.Create(part, "/big.bin")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	payload := bytes.Repeat([]byte{0x7A}, 512*3+17)
	if _, err := fs.Write(part, f, len(payload), payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	fs.Close(f)

	f2, _ := fs.Open(part, "/big.bin")
	got := make([]byte, len(payload))
	n, err := fs.Read(part, f2, len(got), got)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != len(payload) || !bytes.Equal(got, payload) {
		t.Fatalf("multi-sector round trip mismatch")
	}
}

func TestCreateRejectsDuplicate(t *testing.T) {
	fs, part := mountTestFS(t)
	if _, err := fs.Create(part, "/dup.txt"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := fs.Create(part, "/dup.txt"); err == nil {
		t.Fatalf("expected duplicate create to fail")
	}
}

func TestDeleteRemovesFile(t *testing.T) {
	fs, part := mountTestFS(t)
	fs.Create(part, "/gone.txt")
	if err := fs.Delete(part, "/gone.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := fs.Open(part, "/gone.txt"); err == nil {
		t.Fatalf("expected open of deleted file to fail")
	}
}

func TestWriteToDirectoryRejected(t *testing.T) {
	fs, part := mountTestFS(t)
	root, _ := fs.Open(part, "/")
	if _, err := fs.Write(part, root, 1, []byte{0}); err == nil {
		t.Fatalf("expected write to root directory to fail")
	}
}

func TestOneShotTruncateOnFirstWrite(t *testing.T) {
	fs, part := mountTestFS(t)
	f, _ := fs.Create(part, "/resize.txt")
	fs.Write(part, f, 5, []byte("12345"))
	fs.Close(f)

	f2, _ := fs.Open(part, "/resize.txt")
	// Writing again from position 0 on a file with existing size
	// triggers the one-shot truncate (spec.md §4.6), so the new
	// content fully replaces the old rather than appending.
	fs.Write(part, f2, 2, []byte("ab"))
	fs.Close(f2)

	f3, _ := fs.Open(part, "/resize.txt")
	if fs.GetSize(f3) != 2 {
		t.Fatalf("GetSize = %d, want 2 after truncating rewrite", fs.GetSize(f3))
	}
	got := make([]byte, 2)
	fs.Read(part, f3, 2, got)
	if string(got) != "ab" {
		t.Fatalf("content = %q, want \"ab\"", got)
	}
}

func TestSeekRejectsPastSize(t *testing.T) {
	fs, part := mountTestFS(t)
	f, _ := fs.Create(part, "/s.txt")
	fs.Write(part, f, 3, []byte("abc"))
	if err := fs.Seek(part, f, 100); err == nil {
		t.Fatalf("expected seek past size to fail")
	}
}
