// Package pmm implements the bitmap physical frame allocator of spec §4.D.
package pmm

import (
	"sync"

	"github.com/cottonos/kernel/internal/errno"
)

// FrameSize is the unit of physical allocation (spec §3).
const FrameSize = 4096

// Region describes an "available" span from the boot memory map.
type Region struct {
	Start, End uint64 // [Start, End), byte addresses
}

// Allocator is a single global bitmap over all supported physical RAM
// (spec §4.D): one bit per frame, 1 meaning allocated.
type Allocator struct {
	mu sync.Mutex

	bitmap     []byte
	totalFrames uint64
	freeCount   uint64
	firstFree   uint64 // monotonic hint, in frame units
}

// defaultAvailable is used when the boot memory map supplies nothing,
// mirroring the reference's hard-coded fallback.
func defaultAvailable(memSize uint64) []Region {
	return []Region{{Start: 0, End: memSize}}
}

// New builds the allocator over memSize bytes of physical RAM. available
// lists the memory-map regions the firmware reports usable (nil uses the
// hard-coded default, spec §4.D step 2); kernelStart/kernelEnd mark the
// kernel's own image, reserved regardless of what the memory map says.
func New(memSize uint64, available []Region, kernelStart, kernelEnd uint64) *Allocator {
	total := memSize / FrameSize
	a := &Allocator{
		bitmap:      make([]byte, (total+7)/8),
		totalFrames: total,
	}

	// Step 1: mark everything allocated.
	for i := range a.bitmap {
		a.bitmap[i] = 0xFF
	}

	// Step 2: mark available regions free, page-aligned and page-granular.
	if available == nil {
		available = defaultAvailable(memSize)
	}
	for _, r := range available {
		start := alignUp(r.Start, FrameSize)
		end := alignDown(r.End, FrameSize)
		for addr := start; addr+FrameSize <= end && addr+FrameSize <= memSize; addr += FrameSize {
			a.setFree(addr / FrameSize)
		}
	}

	// Step 3: the low 1 MiB is always reserved (BIOS data, legacy MMIO).
	a.markRange(0, 1024*1024)

	// Step 4: the kernel's own image.
	a.markRange(kernelStart, kernelEnd)

	a.recount()
	return a
}

func alignUp(v, align uint64) uint64   { return (v + align - 1) &^ (align - 1) }
func alignDown(v, align uint64) uint64 { return v &^ (align - 1) }

func (a *Allocator) markRange(start, end uint64) {
	start = alignDown(start, FrameSize)
	end = alignUp(end, FrameSize)
	for addr := start; addr < end && addr/FrameSize < a.totalFrames; addr += FrameSize {
		a.setAllocated(addr / FrameSize)
	}
}

func (a *Allocator) setFree(frame uint64) {
	a.bitmap[frame/8] &^= 1 << (frame % 8)
}

func (a *Allocator) setAllocated(frame uint64) {
	a.bitmap[frame/8] |= 1 << (frame % 8)
}

func (a *Allocator) isFree(frame uint64) bool {
	return a.bitmap[frame/8]&(1<<(frame%8)) == 0
}

func (a *Allocator) recount() {
	var free uint64
	for f := uint64(0); f < a.totalFrames; f++ {
		if a.isFree(f) {
			free++
		}
	}
	a.freeCount = free
}

// TotalFrames and FreeFrames expose the invariant in spec §8.1.
func (a *Allocator) TotalFrames() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalFrames
}

func (a *Allocator) FreeFrames() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.freeCount
}

// IsAllocated reports the current bitmap bit for a frame, for invariant
// checks in tests.
func (a *Allocator) IsAllocated(physAddr uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	frame := physAddr / FrameSize
	if frame >= a.totalFrames {
		return true
	}
	return !a.isFree(frame)
}

// Alloc finds one free frame, marks it allocated and returns its physical
// address. It scans from firstFree to the end, then wraps to [0,
// firstFree) (spec §4.D).
func (a *Allocator) Alloc() (uint64, errno.Errno) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocOneLocked()
}

func (a *Allocator) allocOneLocked() (uint64, errno.Errno) {
	if a.freeCount == 0 {
		return 0, errno.ENOMEM
	}
	if f, ok := a.scanFrom(a.firstFree, a.totalFrames); ok {
		return a.commitLocked(f)
	}
	if f, ok := a.scanFrom(0, a.firstFree); ok {
		return a.commitLocked(f)
	}
	return 0, errno.ENOMEM
}

func (a *Allocator) scanFrom(start, end uint64) (uint64, bool) {
	for f := start; f < end; f++ {
		if a.isFree(f) {
			return f, true
		}
	}
	return 0, false
}

func (a *Allocator) commitLocked(frame uint64) (uint64, errno.Errno) {
	a.setAllocated(frame)
	a.freeCount--
	a.firstFree = frame + 1
	return frame * FrameSize, errno.OK
}

// AllocContiguous finds a run of n free frames and marks them all
// allocated, returning the physical address of the first. n==1 uses the
// single-frame fast path.
func (a *Allocator) AllocContiguous(n uint64) (uint64, errno.Errno) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n == 0 {
		return 0, errno.EINVAL
	}
	if n == 1 {
		return a.allocOneLocked()
	}
	if a.freeCount < n {
		return 0, errno.ENOMEM
	}
	run, ok := a.findRun(n)
	if !ok {
		return 0, errno.ENOMEM
	}
	for f := run; f < run+n; f++ {
		a.setAllocated(f)
	}
	a.freeCount -= n
	if a.firstFree >= run && a.firstFree < run+n {
		a.firstFree = run + n
	}
	return run * FrameSize, errno.OK
}

func (a *Allocator) findRun(n uint64) (uint64, bool) {
	var runStart uint64
	var runLen uint64
	for f := uint64(0); f < a.totalFrames; f++ {
		if a.isFree(f) {
			if runLen == 0 {
				runStart = f
			}
			runLen++
			if runLen == n {
				return runStart, true
			}
		} else {
			runLen = 0
		}
	}
	return 0, false
}

// Free clears the bit for the frame containing physAddr and lowers the
// firstFree hint if this frame precedes it (spec §4.D, round-trip law in
// §8: alloc(); free(a); alloc() == a).
func (a *Allocator) Free(physAddr uint64) errno.Errno {
	a.mu.Lock()
	defer a.mu.Unlock()
	frame := physAddr / FrameSize
	if frame >= a.totalFrames {
		return errno.EINVAL
	}
	if a.isFree(frame) {
		return errno.EINVAL // double free
	}
	a.setFree(frame)
	a.freeCount++
	if frame < a.firstFree {
		a.firstFree = frame
	}
	return errno.OK
}
