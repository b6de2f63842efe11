package proc_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"nucleus/internal/archvt"
	"nucleus/internal/blockdev"
	"nucleus/internal/bootcfg"
	"nucleus/internal/fat"
	"nucleus/internal/fstypes"
	"nucleus/internal/paging"
	"nucleus/internal/pmm"
	"nucleus/internal/proc"
	"nucleus/internal/vfs"
)

func newEnv(t *testing.T) (*paging.Manager, *pmm.Allocator) {
	t.Helper()
	frames := pmm.New(64 * 1024 * 1024)
	sim := archvt.NewSim()
	mgr := paging.NewManager(frames, sim)
	return mgr, frames
}

func TestCreateKernelModeSharesKernelSpace(t *testing.T) {
	mgr, frames := newEnv(t)
	v := vfs.New()
	tbl := proc.NewTable(mgr, frames, v)
	pcb, err := tbl.Create(0, 0xC0100000, true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if pcb.Heap != nil || pcb.Stack != nil {
		t.Fatalf("kernel-mode PCB should skip user heap/stack setup")
	}
	if pcb.Regs.EFLAGS&(1<<9) == 0 {
		t.Fatalf("expected interrupts enabled in saved flags")
	}
}

func TestCreateUserModeSetsUpHeapAndStack(t *testing.T) {
	mgr, frames := newEnv(t)
	v := vfs.New()
	tbl := proc.NewTable(mgr, frames, v)
	pcb, err := tbl.Create(0, bootcfg.UserCodeBase, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if pcb.Heap == nil || pcb.Stack == nil {
		t.Fatalf("user-mode PCB should have heap and stack set up")
	}
	if pcb.Regs.ESP == 0 {
		t.Fatalf("expected a nonzero saved stack pointer")
	}
}

func TestDestroyReleasesMappings(t *testing.T) {
	mgr, frames := newEnv(t)
	v := vfs.New()
	tbl := proc.NewTable(mgr, frames, v)
	statsBefore := frames.Stats()

	pcb, err := tbl.Create(0, bootcfg.UserCodeBase, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if frames.Stats().Free >= statsBefore.Free {
		t.Fatalf("expected frames consumed by user heap/stack setup")
	}
	tbl.Destroy(pcb)
	if frames.Stats() != statsBefore {
		t.Fatalf("frames not fully released: before=%+v after=%+v", statsBefore, frames.Stats())
	}
	if _, ok := tbl.Get(pcb.PID); ok {
		t.Fatalf("destroyed PCB should no longer be looked up")
	}
}

func mountFATWithFile(t *testing.T, path string, content []byte) *vfs.VFS {
	t.Helper()
	dev := blockdev.NewMemBlockDevice(512, 4250)
	boot := make([]byte, 512)
	binary.LittleEndian.PutUint16(boot[11:13], 512)
	boot[13] = 1
	binary.LittleEndian.PutUint16(boot[14:16], 1)
	boot[16] = 2
	binary.LittleEndian.PutUint16(boot[17:19], 32)
	binary.LittleEndian.PutUint16(boot[19:21], 4250)
	binary.LittleEndian.PutUint16(boot[22:24], 20)
	boot[510], boot[511] = 0x55, 0xAA
	if err := dev.WriteSectors(0, 1, boot); err != nil {
		t.Fatalf("boot sector: %v", err)
	}
	zero := make([]byte, 512)
	for lba := uint64(1); lba < 41; lba++ {
		dev.WriteSectors(lba, 1, zero)
	}
	part := &fstypes.Partition{Reader: dev, Writer: dev}
	fatfs, err := fat.Mount(part)
	if err != nil {
		t.Fatalf("fat.Mount: %v", err)
	}
	part.FS = &fstypes.Filesystem{Type: fstypes.FSFAT16, Ops: fatfs}

	f, err := fatfs.Create(part, path)
	if err != nil {
		t.Fatalf("Create %s: %v", path, err)
	}
	if _, err := fatfs.Write(part, f, len(content), content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	fatfs.Close(f)

	v := vfs.New()
	if err := v.Mount("/", part); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	return v
}

func buildELFWithBSS(t *testing.T, vaddr, filesz, memsz uint32) []byte {
	t.Helper()
	const ehdrSize = 52
	const phdrSize = 32
	buf := make([]byte, ehdrSize+phdrSize+int(filesz))
	buf[0], buf[1], buf[2], buf[3] = 0x7F, 'E', 'L', 'F'
	buf[4], buf[5] = 1, 1
	binary.LittleEndian.PutUint16(buf[16:18], 2)
	binary.LittleEndian.PutUint16(buf[18:20], 3)
	binary.LittleEndian.PutUint32(buf[24:28], vaddr)
	binary.LittleEndian.PutUint32(buf[28:32], ehdrSize)
	binary.LittleEndian.PutUint16(buf[42:44], phdrSize)
	binary.LittleEndian.PutUint16(buf[44:46], 1)

	ph := buf[ehdrSize : ehdrSize+phdrSize]
	binary.LittleEndian.PutUint32(ph[0:4], 1) // PT_LOAD
	binary.LittleEndian.PutUint32(ph[4:8], ehdrSize+phdrSize)
	binary.LittleEndian.PutUint32(ph[8:12], vaddr)
	binary.LittleEndian.PutUint32(ph[16:20], filesz)
	binary.LittleEndian.PutUint32(ph[20:24], memsz)
	binary.LittleEndian.PutUint32(ph[24:28], 4|1) // R|X

	payload := buf[ehdrSize+phdrSize:]
	for i := range payload {
		payload[i] = byte(0xAA)
	}
	return buf
}

func TestLoadELFMapsSegmentAndZeroesBSS(t *testing.T) {
	const vaddr = bootcfg.UserCodeBase
	const filesz = 0x1000
	const memsz = 0x2000
	elfBytes := buildELFWithBSS(t, vaddr, filesz, memsz)

	v := mountFATWithFile(t, "/prog.elf", elfBytes)
	mgr, frames := newEnv(t)
	tbl := proc.NewTable(mgr, frames, v)

	pcb, err := tbl.LoadELF("/prog.elf", 0, false)
	if err != nil {
		t.Fatalf("LoadELF: %v", err)
	}
	if pcb.Regs.EIP != vaddr {
		t.Fatalf("entry = %x, want %x", pcb.Regs.EIP, vaddr)
	}

	loaded := make([]byte, filesz)
	if err := mgr.ReadUser(pcb.AS, vaddr, loaded); err != nil {
		t.Fatalf("ReadUser data: %v", err)
	}
	want := bytes.Repeat([]byte{0xAA}, filesz)
	if !bytes.Equal(loaded, want) {
		t.Fatalf("loaded segment data mismatch")
	}

	bss := make([]byte, memsz-filesz)
	if err := mgr.ReadUser(pcb.AS, vaddr+filesz, bss); err != nil {
		t.Fatalf("ReadUser bss: %v", err)
	}
	for i, b := range bss {
		if b != 0 {
			t.Fatalf("bss[%d] = %x, want 0", i, b)
		}
	}
}

func TestLoadELFRejectsWrongMachine(t *testing.T) {
	elfBytes := buildELFWithBSS(t, bootcfg.UserCodeBase, 16, 16)
	binary.LittleEndian.PutUint16(elfBytes[18:20], 0xFFFF)
	v := mountFATWithFile(t, "/bad.elf", elfBytes)
	mgr, frames := newEnv(t)
	tbl := proc.NewTable(mgr, frames, v)
	if _, err := tbl.LoadELF("/bad.elf", 0, false); err == nil {
		t.Fatalf("expected wrong-machine ELF to be rejected")
	}
}
