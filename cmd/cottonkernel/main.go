// Boots the CottonOS simulation: wires the simulated bus, interrupt
// controller, memory managers, block device, filesystems, scheduler and
// process table together the way the reference's kernel_main does, then
// starts the scheduler.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cottonos/kernel/internal/ata"
	"github.com/cottonos/kernel/internal/bootinfo"
	"github.com/cottonos/kernel/internal/console"
	"github.com/cottonos/kernel/internal/cottonfs"
	"github.com/cottonos/kernel/internal/cpu"
	"github.com/cottonos/kernel/internal/devfs"
	"github.com/cottonos/kernel/internal/errno"
	"github.com/cottonos/kernel/internal/input"
	"github.com/cottonos/kernel/internal/interrupt"
	"github.com/cottonos/kernel/internal/kpanic"
	"github.com/cottonos/kernel/internal/mm/heap"
	"github.com/cottonos/kernel/internal/mm/paging"
	"github.com/cottonos/kernel/internal/mm/pmm"
	"github.com/cottonos/kernel/internal/proc"
	"github.com/cottonos/kernel/internal/sched"
	"github.com/cottonos/kernel/internal/syscall"
	"github.com/cottonos/kernel/internal/timer"
	"github.com/cottonos/kernel/internal/vfs"
)

// kernelInitialized guards kernel_main against re-entry (spec §4.P: "asserts
// single-entry via an atomic swap on a KERNEL_INITIALIZED flag").
var kernelInitialized atomic.Bool

// bootDirs are seeded at mount time; CottonFS itself has no notion of a
// standard layout (spec §9), so populating it is the bootstrap's job.
var bootDirs = []string{"/bin", "/dev", "/etc", "/home", "/home/user", "/tmp", "/var", "/var/log"}

// ataPrimaryBase is the legacy primary IDE command-block base port.
const ataPrimaryBase = 0x1F0

func main() {
	memSize := flag.Uint64("mem", 64<<20, "simulated physical RAM size in bytes")
	diskBlocks := flag.Uint64("disk-blocks", 4096, "simulated ATA disk size, in 512-byte sectors")
	diskPath := flag.String("disk", "", "path to a persistent disk image (empty means an in-memory disk)")
	flag.Parse()

	log.SetFlags(log.Lmicroseconds)

	if err := boot(*memSize, *diskBlocks, *diskPath); err != nil {
		log.Fatalf("boot: %v", err)
	}
}

func boot(memSize, diskBlocks uint64, diskPath string) error {
	if kernelInitialized.Swap(true) {
		return fmt.Errorf("kernel_main re-entered")
	}

	bus, err := cpu.NewBus(memSize)
	if err != nil {
		return fmt.Errorf("cpu.NewBus: %w", err)
	}
	defer bus.Close()

	info := bootinfo.Defaults()
	log.Printf("boot info: framebuffer=%v", info.Framebuffer != nil && info.Framebuffer.Usable())

	ic := interrupt.New(bus)
	_ = interrupt.NewSegmentTable(ic)

	// Double fault and machine check are spec §7's Fatal category: there
	// is no recovering from them, so they route straight to the panic
	// handler instead of an ordinary Handler in the gate table.
	ic.SetHandler(interrupt.VecDoubleFault, func(f *interrupt.Regs) {
		kpanic.Fatal(bus, os.Stderr, "interrupt/idt.go", int(interrupt.VecDoubleFault), "double fault (error code %#x)", f.ErrorCode)
	})
	ic.SetHandler(interrupt.VecMachineCheck, func(f *interrupt.Regs) {
		kpanic.Fatal(bus, os.Stderr, "interrupt/idt.go", int(interrupt.VecMachineCheck), "machine check exception")
	})

	alloc := pmm.New(memSize, nil, 0, 0)
	log.Printf("pmm: %d frames (%d free)", alloc.TotalFrames(), alloc.FreeFrames())

	mapper, e := paging.New(bus, alloc)
	if e != errno.OK {
		return fmt.Errorf("paging.New: %v", e)
	}

	kheap, e := heap.New(mapper, alloc, heap.DefaultStart, heap.DefaultInitialSize, heap.DefaultHardCap)
	if e != errno.OK {
		return fmt.Errorf("heap.New: %v", e)
	}
	log.Printf("kernel heap: %d bytes free", kheap.FreeBytes())

	// Console, PS/2 and disk device construction touch disjoint bus port
	// ranges and don't depend on each other, so they're built concurrently
	// the way the reference's own driver-probe stage overlaps independent
	// device bring-up.
	var (
		vga    = console.NewVGA()
		serial *console.Serial
		disk   *ata.Device
		ps2    *input.Controller
	)
	var g errgroup.Group
	g.Go(func() error {
		serial = console.NewSerial(bus)
		return nil
	})
	g.Go(func() error {
		var backing ata.Backing
		if diskPath != "" {
			fb, err := ata.OpenFileBacking(diskPath, diskBlocks*ata.SectorSize)
			if err != nil {
				return fmt.Errorf("open disk image %s: %w", diskPath, err)
			}
			backing = fb
		} else {
			backing = ata.NewMemBacking(diskBlocks * ata.SectorSize)
		}
		channel := ata.NewChannel(bus, ataPrimaryBase, backing, nil)
		disk = ata.NewDevice("hda", channel, 0)
		return nil
	})
	g.Go(func() error {
		ps2 = input.NewController(bus)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	out := console.New(vga, serial, os.Stdout)

	keyboard := input.NewKeyboard(bus, ps2, ic)
	mouse := input.NewMouse(bus, ps2, ic, bootinfo.DefaultVGAWidth*8, bootinfo.DefaultVGAHeight*16)
	log.Printf("ps/2: keyboard ready (%d events pending), mouse wheel=%v",
		keyboard.Pending(), mouse.FourByte())

	// One PIT tick is one millisecond at TargetHz, so the scheduler's
	// tick interval is 1 ms.
	schd := sched.New(1, nil)
	pit := timer.New(bus, ic, func() { schd.TimerTick() })
	go driveTicks(pit)

	fs, e := cottonfs.Mount(disk)
	if e != errno.OK {
		return fmt.Errorf("cottonfs.Mount: %v", e)
	}

	mounts := vfs.NewTable()
	if e := mounts.Mount("/", cottonfs.AsVFS(fs)); e != errno.OK {
		return fmt.Errorf("mount /: %v", e)
	}
	if e := mounts.Mount("/dev", devfs.New(out)); e != errno.OK {
		return fmt.Errorf("mount /dev: %v", e)
	}
	if err := seedDirs(mounts); err != nil {
		return err
	}

	procs := proc.NewTable(bus, alloc)

	// PID 0 is the idle stub, PID 1 the first kernel-mode init (spec §3).
	idle, e := procs.NewIdle("idle")
	if e != errno.OK {
		return fmt.Errorf("NewIdle: %v", e)
	}
	schd.SetIdle(idle.PID(), idle)

	initProc, e := procs.NewKernel("init")
	if e != errno.OK {
		return fmt.Errorf("NewKernel(init): %v", e)
	}
	initProc.SetState(sched.Ready)
	schd.Add(initProc)

	syscalls := syscall.New(&syscall.Context{
		Procs:   procs,
		Sched:   schd,
		Mounts:  mounts,
		Console: out,
		Bus:     bus,
	})
	syscalls.InstallOn(ic)

	log.Printf("cottonkernel: pid %d (init) ready, starting scheduler", initProc.PID())
	schd.Start()
	select {} // the kernel never returns; driveTicks and IRQ delivery run on other goroutines
}

// driveTicks raises the PIT's IRQ 0 at TargetHz, standing in for the
// real hardware timer this simulation has no interrupt source for.
func driveTicks(pit *timer.PIT) {
	interval := time.Second / time.Duration(timer.TargetHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		pit.Tick()
	}
}

// seedDirs creates the standard directory layout on a freshly formatted
// root (spec §9: CottonFS itself stays opinion-free about layout).
func seedDirs(mounts *vfs.Table) error {
	for _, dir := range bootDirs {
		parent, name, e := mounts.ResolveParent(dir)
		if e != errno.OK {
			return fmt.Errorf("resolve parent of %s: %v", dir, e)
		}
		if _, e := parent.Lookup(name); e == errno.OK {
			continue // already present from a prior-formatted disk
		}
		if _, e := parent.Mkdir(name, 0755); e != errno.OK {
			return fmt.Errorf("mkdir %s: %v", dir, e)
		}
	}
	return nil
}
