package fdtable_test

import (
	"testing"

	"nucleus/internal/blockdev"
	"nucleus/internal/fat"
	"nucleus/internal/fdtable"
	"nucleus/internal/fstypes"
	"nucleus/internal/vfs"
)

func newMountedVFS(t *testing.T) *vfs.VFS {
	t.Helper()
	dev := blockdev.NewMemBlockDevice(512, 4250)
	boot := make([]byte, 512)
	put16 := func(off int, v uint16) { boot[off], boot[off+1] = byte(v), byte(v>>8) }
	put16(11, 512)
	boot[13] = 1
	put16(14, 1)
	boot[16] = 2
	put16(17, 32)
	put16(19, 4250)
	put16(22, 20)
	boot[510], boot[511] = 0x55, 0xAA
	dev.WriteSectors(0, 1, boot)
	zero := make([]byte, 512)
	for lba := uint64(1); lba < 41; lba++ {
		dev.WriteSectors(lba, 1, zero)
	}
	part := &fstypes.Partition{Reader: dev, Writer: dev}
	fs, err := fat.Mount(part)
	if err != nil {
		t.Fatalf("fat.Mount: %v", err)
	}
	part.FS = &fstypes.Filesystem{Type: fstypes.FSFAT16, Ops: fs}
	v := vfs.New()
	if err := v.Mount("/", part); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	return v
}

func TestOpenAssignsLowestFreeSlotFrom3(t *testing.T) {
	v := newMountedVFS(t)
	tbl := fdtable.New()
	fd, err := tbl.Open(v, "/a.txt", fdtable.OCREAT|fdtable.ORDWR)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if fd != 3 {
		t.Fatalf("fd = %d, want 3", fd)
	}
}

func TestReadWriteAdvancesOffset(t *testing.T) {
	v := newMountedVFS(t)
	tbl := fdtable.New()
	fd, err := tbl.Open(v, "/b.txt", fdtable.OCREAT|fdtable.ORDWR)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	n, err := tbl.Write(v, fd, 5, []byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("Write: n=%d err=%v", n, err)
	}
	if _, err := tbl.Lseek(fd, 0, fdtable.SeekSet); err != nil {
		t.Fatalf("Lseek: %v", err)
	}
	buf := make([]byte, 5)
	n, err = tbl.Read(v, fd, 5, buf)
	if err != nil || n != 5 || string(buf) != "hello" {
		t.Fatalf("Read: n=%d err=%v buf=%q", n, err, buf)
	}
}

func TestLseekRejectsSeekEnd(t *testing.T) {
	v := newMountedVFS(t)
	tbl := fdtable.New()
	fd, _ := tbl.Open(v, "/c.txt", fdtable.OCREAT|fdtable.ORDWR)
	if _, err := tbl.Lseek(fd, 0, 2 /* SEEK_END */); err == nil {
		t.Fatalf("expected SEEK_END to be rejected")
	}
}

func TestCloseStdStreamsIsNoOp(t *testing.T) {
	v := newMountedVFS(t)
	tbl := fdtable.New()
	if err := tbl.Close(v, 0); err != nil {
		t.Fatalf("closing fd 0 should be a no-op, got %v", err)
	}
	if err := tbl.Close(v, 1); err != nil {
		t.Fatalf("closing fd 1 should be a no-op, got %v", err)
	}
}

func TestWriteToStdoutFansOutToTerminal(t *testing.T) {
	v := newMountedVFS(t)
	tbl := fdtable.New()
	sink := &captureSink{}
	tbl.SetTerminal(sink)
	n, err := tbl.Write(v, 1, 3, []byte("abc"))
	if err != nil || n != 3 {
		t.Fatalf("Write to stdout: n=%d err=%v", n, err)
	}
	if sink.stream != fdtable.StreamStdout || string(sink.data) != "abc" {
		t.Fatalf("captured stream=%d data=%q", sink.stream, sink.data)
	}
}

func TestReadOnlyDescriptorRejectsWrite(t *testing.T) {
	v := newMountedVFS(t)
	tbl := fdtable.New()
	fd, _ := tbl.Open(v, "/d.txt", fdtable.OCREAT|fdtable.ORDONLY)
	if _, err := tbl.Write(v, fd, 1, []byte("x")); err == nil {
		t.Fatalf("expected write on a read-only descriptor to fail")
	}
}

func TestFileDescriptorTableExhaustion(t *testing.T) {
	v := newMountedVFS(t)
	tbl := fdtable.New()
	for i := 0; i < 13; i++ {
		if _, err := tbl.Open(v, pathFor(i), fdtable.OCREAT|fdtable.ORDWR); err != nil {
			t.Fatalf("Open #%d: %v", i, err)
		}
	}
	if _, err := tbl.Open(v, "/overflow.txt", fdtable.OCREAT|fdtable.ORDWR); err == nil {
		t.Fatalf("expected descriptor table exhaustion")
	}
}

func pathFor(i int) string {
	return "/f" + string(rune('a'+i)) + ".txt"
}

type captureSink struct {
	stream int
	data   []byte
}

func (c *captureSink) Write(stream int, buf []byte) (int, error) {
	c.stream = stream
	c.data = append(c.data, buf...)
	return len(buf), nil
}
