// Command nucleus is the boot entry point: it constructs every core
// subsystem in dependency order and wires them together exactly the
// way spec.md's module list implies they compose, generalizing the
// teacher's KernelMain (src/go/mazarin/kernel.go: sequential
// uartPuts-logged init steps ending in an echo loop) into a
// klog-logged init sequence ending in a single demonstration syscall
// round-trip. Real scheduling, interrupt delivery, and hardware
// transport are external collaborators this binary never implements
// (spec.md §1) - archvt.Sim and blockdev.MemBlockDevice stand in for
// them, the same role the teacher's "qemu" build tag plays.
package main

import (
	"fmt"
	"os"

	"nucleus/internal/archvt"
	"nucleus/internal/blockdev"
	"nucleus/internal/bootcfg"
	"nucleus/internal/devfs"
	"nucleus/internal/dynlib"
	"nucleus/internal/fat"
	"nucleus/internal/fdtable"
	"nucleus/internal/fstypes"
	"nucleus/internal/kheap"
	"nucleus/internal/klog"
	"nucleus/internal/paging"
	"nucleus/internal/pmm"
	"nucleus/internal/proc"
	"nucleus/internal/sysdispatch"
	"nucleus/internal/termfb"
	"nucleus/internal/terminal"
	"nucleus/internal/vfs"
	"nucleus/internal/volumes"
)

// physMemBytes is the simulated RAM the physical frame allocator
// carves frames out of - large enough for the kernel half mappings,
// the root FAT volume, and a handful of user processes.
const physMemBytes = 128 * 1024 * 1024

// rootVolumeSectors sizes the RAM-backed root filesystem device.
const rootVolumeSectors = 8192

// kernelMapPages is how many frames boot wiring pre-maps into the
// shared kernel half, standing in for the real kernel image/heap
// mappings a linker script would otherwise describe.
const kernelMapPages = 16

// Kernel holds every subsystem boot wiring constructed, for use by
// tests that want to drive the fully wired core without re-running
// main's side effects (os.Exit, stdout logging).
type Kernel struct {
	Frames  *pmm.Allocator
	Paging  *paging.Manager
	KHeap   *kheap.Heap
	VFS     *vfs.VFS
	Devfs   *devfs.Namespace
	Arena   *volumes.Arena
	Term    *terminal.Terminal
	Procs   *proc.Table
	Sys     *sysdispatch.Dispatcher
	DynReg  *dynlib.Registry
	DynLib  *dynlib.Loader
	Init    *proc.PCB
}

// consoleWriter adapts Terminal.Write's (stream, buf) shape to
// io.Writer so klog.Default can be rebound onto it once the terminal
// exists (klog.go's own doc comment: "until cmd/nucleus rebinds it to
// the active terminal device").
type consoleWriter struct{ t *terminal.Terminal }

func (w consoleWriter) Write(p []byte) (int, error) {
	return w.t.Write(fdtable.StreamStdout, p)
}

// formatFAT16RootVolume hand-writes a minimal, standards-conformant
// FAT16 boot sector directly onto dev, the same shape
// internal/fat/fat_test.go's buildFAT16Image constructs for tests -
// there is no real disk image to load at boot, so the root volume is
// formatted in place the first time the kernel starts.
func formatFAT16RootVolume(dev *blockdev.MemBlockDevice) error {
	const (
		reservedSectors = 1
		numFATs         = 2
		rootEntries     = 512
		sectorsPerFAT   = 32
	)
	boot := make([]byte, bootcfg.SectorSize)
	boot[11], boot[12] = byte(bootcfg.SectorSize), byte(bootcfg.SectorSize>>8)
	boot[13] = 1 // sectors per cluster
	boot[14], boot[15] = reservedSectors, 0
	boot[16] = numFATs
	boot[17], boot[18] = byte(rootEntries), byte(rootEntries>>8)
	boot[19], boot[20] = byte(rootVolumeSectors), byte(rootVolumeSectors>>8)
	boot[22], boot[23] = sectorsPerFAT, 0
	boot[510], boot[511] = 0x55, 0xAA
	if err := dev.WriteSectors(0, 1, boot); err != nil {
		return err
	}
	zero := make([]byte, bootcfg.SectorSize)
	for lba := uint64(1); lba < reservedSectors+numFATs*sectorsPerFAT; lba++ {
		if err := dev.WriteSectors(lba, 1, zero); err != nil {
			return err
		}
	}
	return nil
}

// boot constructs and wires every core subsystem, in the dependency
// order spec.md's module list implies: physical memory before paging,
// paging before the process table, the VFS and its mounted
// filesystems before anything that opens a path, the terminal before
// anything binds fd 1/2 to it.
func boot(log *klog.Logger) (*Kernel, error) {
	log.Info("booting nucleus kernel core")

	frames := pmm.New(physMemBytes)
	log.Infof("physical memory: %s across %d frames", klog.MemSize(physMemBytes), frames.Stats().Total)

	vt := archvt.NewSim()
	stack := archvt.SimStack{}
	mgr := paging.NewManager(frames, vt)

	for i := 0; i < kernelMapPages; i++ {
		frame, err := frames.Allocate()
		if err != nil {
			return nil, fmt.Errorf("mapping kernel half: %w", err)
		}
		mgr.MapKernel(bootcfg.KernelHeapStart+uint32(i)*bootcfg.PageSize, frame, archvt.Present|archvt.Writable)
	}
	kernelAS := mgr.CreateAddressSpace()
	log.Infof("kernel half mapped: %d pages at %s", kernelMapPages, klog.Hex32(bootcfg.KernelHeapStart))

	heap := kheap.New(bootcfg.DefaultHeapCap)
	log.Infof("kernel heap: capacity %s", klog.MemSize(bootcfg.DefaultHeapCap))

	fs := vfs.New()

	devNS := devfs.New()
	if err := devNS.RegisterStandardDevices(); err != nil {
		return nil, fmt.Errorf("registering standard devices: %w", err)
	}
	devPart := &fstypes.Partition{FS: &fstypes.Filesystem{Type: fstypes.FSDevfs, Ops: devNS, Mounted: true}}
	if err := fs.MountAt(bootcfg.DevfsReservedMountSlot, "/dev", devPart); err != nil {
		return nil, fmt.Errorf("mounting devfs: %w", err)
	}
	log.Info("devfs mounted at /dev")

	arena := volumes.New()
	disk, err := arena.RegisterDisk("ram0", bootcfg.SectorSize, rootVolumeSectors)
	if err != nil {
		return nil, fmt.Errorf("registering root disk: %w", err)
	}
	rootPart, err := arena.RegisterPartition(disk, 0, rootVolumeSectors, 0x06, "ROOT")
	if err != nil {
		return nil, fmt.Errorf("registering root partition: %w", err)
	}
	rootDev := blockdev.NewMemBlockDevice(bootcfg.SectorSize, rootVolumeSectors)
	if err := formatFAT16RootVolume(rootDev); err != nil {
		return nil, fmt.Errorf("formatting root volume: %w", err)
	}
	if err := arena.AttachDevice(rootPart, rootDev); err != nil {
		return nil, fmt.Errorf("attaching root volume device: %w", err)
	}
	rootFS, err := fat.Mount(rootPart)
	if err != nil {
		return nil, fmt.Errorf("mounting root volume: %w", err)
	}
	rootPart.FS = &fstypes.Filesystem{Type: fstypes.FSFAT16, Ops: rootFS, BlockSz: bootcfg.SectorSize, Mounted: true}
	if err := fs.Mount("/", rootPart); err != nil {
		return nil, fmt.Errorf("mounting / : %w", err)
	}
	log.Info("root FAT16 volume mounted at /")

	renderer := termfb.NewRenderer(bootcfg.TerminalColumns, bootcfg.TerminalScreenHeight)
	term := terminal.New(renderer)
	tty := term.AsTTY()
	for _, name := range []string{"console", "tty"} {
		if err := devNS.BindTTY(name, tty); err != nil {
			return nil, fmt.Errorf("binding /dev/%s: %w", name, err)
		}
	}
	if err := devNS.BindTTY("tty0", tty); err != nil {
		return nil, fmt.Errorf("binding /dev/tty0: %w", err)
	}
	klog.Default = klog.New(consoleWriter{term}, klog.Info, "nucleus")
	klog.Default.Info("terminal online, console rebound")

	procs := proc.NewTable(mgr, frames, fs)
	procs.SetKernelAddressSpace(kernelAS)

	dispatcher := sysdispatch.New(procs, fs, mgr, frames, stack)

	dynReg := dynlib.NewRegistry()
	dynLoader := dynlib.NewLoader(dynReg)
	if err := dynReg.Publish("kernel_panic", bootcfg.KernelBase, "kernel", true); err != nil {
		return nil, fmt.Errorf("publishing kernel symbols: %w", err)
	}

	initPCB, err := procs.Create(0, 0, true)
	if err != nil {
		return nil, fmt.Errorf("creating init process: %w", err)
	}
	initPCB.FDs.SetTerminal(term)

	k := &Kernel{
		Frames: frames,
		Paging: mgr,
		KHeap:  heap,
		VFS:    fs,
		Devfs:  devNS,
		Arena:  arena,
		Term:   term,
		Procs:  procs,
		Sys:    dispatcher,
		DynReg: dynReg,
		DynLib: dynLoader,
		Init:   initPCB,
	}

	if err := k.demoSyscallWrite("nucleus kernel core is up\n"); err != nil {
		return nil, fmt.Errorf("demonstration syscall write: %w", err)
	}

	klog.Default.Info("boot sequence complete")
	return k, nil
}

// demoSyscallWrite exercises the full syscall boundary spec.md §4.11
// describes for a single write(1, msg, len(msg)) call: it maps a
// scratch page into the init process's address space, copies msg
// into it, and drives sysdispatch through the same RegisterFrame path
// a real trap handler would build from a software interrupt, rather
// than calling terminal/fdtable directly.
func (k *Kernel) demoSyscallWrite(msg string) error {
	const scratchVAddr = bootcfg.UserCodeBase

	frame, err := k.Frames.Allocate()
	if err != nil {
		return err
	}
	if err := k.Paging.Map(k.Init.AS, scratchVAddr, frame, archvt.Writable); err != nil {
		return err
	}
	if err := k.Paging.WriteUser(k.Init.AS, scratchVAddr, []byte(msg)); err != nil {
		return err
	}

	regs := archvt.RegisterFrame{
		EAX: sysdispatch.Write,
		EBX: fdtable.StreamStdout,
		ECX: scratchVAddr,
		EDX: uint32(len(msg)),
	}
	k.Sys.Dispatch(k.Init.PID, &regs)
	if regs.EAX == 0xFFFFFFFF {
		return fmt.Errorf("sysWrite returned -1")
	}
	return nil
}

func main() {
	log := klog.Default
	k, err := boot(log)
	if err != nil {
		log.Errorf("boot failed: %v", err)
		os.Exit(1)
	}
	k.Procs.Destroy(k.Init)
}
