package pmm

import "testing"

func TestAllocFreeRoundTrip(t *testing.T) {
	// The low 1 MiB is always reserved, so the arena extends 16 frames past it.
	a := New(1<<20+16*FrameSize, nil, 0, 0)
	first, e := a.Alloc()
	if e != 0 {
		t.Fatalf("Alloc: %v", e)
	}
	if e := a.Free(first); e != 0 {
		t.Fatalf("Free: %v", e)
	}
	second, e := a.Alloc()
	if e != 0 {
		t.Fatalf("Alloc: %v", e)
	}
	if second != first {
		t.Fatalf("second alloc = %#x, want %#x (hint should have lowered)", second, first)
	}
}

func TestKernelImageReserved(t *testing.T) {
	// The image sits above the always-reserved low 1 MiB, so only the
	// kernel-image step can mark these frames.
	a := New(1<<20+64*FrameSize, nil, 1<<20+4*FrameSize, 1<<20+8*FrameSize)
	for f := uint64(4); f < 8; f++ {
		if !a.IsAllocated(1<<20 + f*FrameSize) {
			t.Fatalf("frame %d should be reserved for kernel image", f)
		}
	}
}

func TestFirstMegabyteReserved(t *testing.T) {
	a := New(8*1024*1024, nil, 0, 0)
	if !a.IsAllocated(0) {
		t.Fatal("frame 0 should be reserved")
	}
	if a.IsAllocated(2 * 1024 * 1024) {
		t.Fatal("frame at 2MiB should be free")
	}
}

func TestAllocContiguous(t *testing.T) {
	a := New(1<<20+32*FrameSize, nil, 0, 0)
	base, e := a.AllocContiguous(4)
	if e != 0 {
		t.Fatalf("AllocContiguous: %v", e)
	}
	for i := uint64(0); i < 4; i++ {
		if !a.IsAllocated(base + i*FrameSize) {
			t.Fatalf("frame %d of run not allocated", i)
		}
	}
}

func TestExhaustionIsGraceful(t *testing.T) {
	a := New(1<<20+4*FrameSize, nil, 0, 0)
	var allocs []uint64
	for {
		addr, e := a.Alloc()
		if e != 0 {
			break
		}
		allocs = append(allocs, addr)
	}
	if _, e := a.Alloc(); e == 0 {
		t.Fatal("expected allocation failure once frames are exhausted")
	}
	if e := a.Free(allocs[len(allocs)-1]); e != 0 {
		t.Fatalf("Free: %v", e)
	}
	if _, e := a.Alloc(); e != 0 {
		t.Fatalf("Alloc after free should succeed: %v", e)
	}
}

func TestFreeCountInvariant(t *testing.T) {
	a := New(1<<20+16*FrameSize, nil, 0, 0)
	// Frames of the reserved low 1 MiB are neither used nor free here.
	total := a.TotalFrames() - (1<<20)/FrameSize
	free := a.FreeFrames()
	var used uint64
	for used+free != total {
		if _, e := a.Alloc(); e != 0 {
			break
		}
		used++
		free = a.FreeFrames()
	}
	if used+a.FreeFrames() != total {
		t.Fatalf("used(%d)+free(%d) != total(%d)", used, a.FreeFrames(), total)
	}
}
