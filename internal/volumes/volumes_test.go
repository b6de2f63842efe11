package volumes_test

import (
	"bytes"
	"testing"

	"nucleus/internal/blockdev"
	"nucleus/internal/bootcfg"
	"nucleus/internal/volumes"
)

func TestRegisterDiskAndPartition(t *testing.T) {
	a := volumes.New()
	disk, err := a.RegisterDisk("hd0", 512, 1024)
	if err != nil {
		t.Fatalf("RegisterDisk: %v", err)
	}
	part, err := a.RegisterPartition(disk, 1, 512, 0x0C, "boot")
	if err != nil {
		t.Fatalf("RegisterPartition: %v", err)
	}
	if part.Disk != disk {
		t.Fatalf("partition should reference the registered disk")
	}
}

func TestPartitionPointerStableAcrossRegistrations(t *testing.T) {
	a := volumes.New()
	disk, _ := a.RegisterDisk("hd0", 512, 1024)
	first, err := a.RegisterPartition(disk, 0, 100, 0, "a")
	if err != nil {
		t.Fatalf("RegisterPartition: %v", err)
	}
	firstLabel := first.Label

	// Registering more partitions must never move first's backing
	// storage (spec.md §9: pointer graphs must stay stable).
	for i := 0; i < bootcfg.MaxPartitions-1; i++ {
		if _, err := a.RegisterPartition(disk, uint64(i+1), 10, 0, "x"); err != nil {
			break
		}
	}
	if first.Label != firstLabel {
		t.Fatalf("partition pointer identity broke after further registrations")
	}
}

func TestPartitionArenaExhaustion(t *testing.T) {
	a := volumes.New()
	disk, _ := a.RegisterDisk("hd0", 512, 1<<20)
	for i := 0; i < bootcfg.MaxPartitions; i++ {
		if _, err := a.RegisterPartition(disk, uint64(i), 1, 0, "p"); err != nil {
			t.Fatalf("unexpected failure at partition %d: %v", i, err)
		}
	}
	if _, err := a.RegisterPartition(disk, 999, 1, 0, "overflow"); err == nil {
		t.Fatalf("expected partition arena to be full")
	}
}

func TestDiskArenaExhaustion(t *testing.T) {
	a := volumes.New()
	for i := 0; i < bootcfg.MaxDisks; i++ {
		if _, err := a.RegisterDisk("d", 512, 1); err != nil {
			t.Fatalf("unexpected failure at disk %d: %v", i, err)
		}
	}
	if _, err := a.RegisterDisk("overflow", 512, 1); err == nil {
		t.Fatalf("expected disk arena to be full")
	}
}

func TestReleasePartitionFreesSlot(t *testing.T) {
	a := volumes.New()
	disk, _ := a.RegisterDisk("hd0", 512, 1024)
	part, _ := a.RegisterPartition(disk, 0, 100, 0, "a")
	if err := a.ReleasePartition(part); err != nil {
		t.Fatalf("ReleasePartition: %v", err)
	}
	if len(a.Partitions()) != 0 {
		t.Fatalf("expected no live partitions after release")
	}
	if _, err := a.RegisterPartition(disk, 0, 50, 0, "b"); err != nil {
		t.Fatalf("slot should be reusable after release: %v", err)
	}
}

func TestAttachDeviceBiasesLBA(t *testing.T) {
	a := volumes.New()
	disk, _ := a.RegisterDisk("hd0", 512, 1024)
	part, _ := a.RegisterPartition(disk, 8, 16, 0x0C, "boot")

	backing := blockdev.NewMemBlockDevice(512, 32)
	if err := a.AttachDevice(part, backing); err != nil {
		t.Fatalf("AttachDevice: %v", err)
	}

	payload := bytes.Repeat([]byte{0x42}, 512)
	if err := part.WriteSectors(0, 1, payload); err != nil {
		t.Fatalf("WriteSectors: %v", err)
	}
	direct := make([]byte, 512)
	if err := backing.ReadSectors(8, 1, direct); err != nil {
		t.Fatalf("ReadSectors: %v", err)
	}
	if !bytes.Equal(direct, payload) {
		t.Fatalf("partition write did not land at biased absolute LBA")
	}
}

func TestReleaseUnownedPointerFails(t *testing.T) {
	a := volumes.New()
	other := volumes.New()
	disk, _ := other.RegisterDisk("hd0", 512, 1024)
	part, _ := other.RegisterPartition(disk, 0, 10, 0, "a")
	if err := a.ReleasePartition(part); err == nil {
		t.Fatalf("expected releasing a foreign pointer to fail")
	}
}
