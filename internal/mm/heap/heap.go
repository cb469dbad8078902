// Package heap implements the kernel heap of spec §4.E: a linked-list
// allocator over a reserved, extendable virtual region, bump-backed by
// physical frames from pmm and mapped writable+no-execute through paging.
package heap

import (
	"sort"

	"github.com/cottonos/kernel/internal/errno"
	"github.com/cottonos/kernel/internal/mm/paging"
	"github.com/cottonos/kernel/internal/mm/pmm"
)

// DefaultStart is the fixed virtual address the heap begins at. It sits
// above the 4 GiB identity-mapped window so heap mappings get their own
// page tables instead of landing inside a 2 MiB huge-page PD entry.
const DefaultStart = 1 << 39

// DefaultInitialSize and DefaultHardCap bound the heap's growth.
const (
	DefaultInitialSize = 1 * 1024 * 1024
	DefaultHardCap     = 16 * 1024 * 1024

	minSplit = 16 // below this leftover, a split block isn't worth creating
)

type block struct {
	start uint64
	size  uint64
	free  bool
}

// Heap is a single kernel heap instance. Metadata (the free list) is kept
// as native Go state rather than encoded into the simulated byte arena:
// the allocator's algorithm, invariants and growth policy are what spec
// §4.E specifies, and nothing downstream needs to read raw heap bytes
// through the simulated bus.
type Heap struct {
	mapper *paging.Mapper
	alloc  *pmm.Allocator

	start   uint64
	mapped  uint64 // bytes currently backed by frames and mapped
	hardCap uint64

	blocks []*block // sorted by start, non-overlapping, covers [start,start+mapped)
}

// New reserves `initial` bytes of virtual address space at `start`,
// backs it with frames from alloc and maps it writable+no-execute
// through mapper.
func New(mapper *paging.Mapper, alloc *pmm.Allocator, start, initial, hardCap uint64) (*Heap, errno.Errno) {
	h := &Heap{mapper: mapper, alloc: alloc, start: start, hardCap: hardCap}
	if e := h.growBy(initial); e != errno.OK {
		return nil, e
	}
	return h, errno.OK
}

func (h *Heap) growBy(n uint64) errno.Errno {
	if n == 0 {
		return errno.OK
	}
	if h.mapped+n > h.hardCap {
		return errno.ENOMEM
	}
	pages := (n + paging.PageSize - 1) / paging.PageSize
	for i := uint64(0); i < pages; i++ {
		frame, e := h.alloc.Alloc()
		if e != errno.OK {
			return e
		}
		virt := h.start + h.mapped + i*paging.PageSize
		if e := h.mapper.MapPage(virt, frame, paging.Writable|paging.NoExecute); e != errno.OK {
			return e
		}
	}
	grown := pages * paging.PageSize
	newBlock := &block{start: h.start + h.mapped, size: grown, free: true}
	h.mapped += grown

	if n := len(h.blocks); n > 0 && h.blocks[n-1].free {
		h.blocks[n-1].size += newBlock.size
	} else {
		h.blocks = append(h.blocks, newBlock)
	}
	return errno.OK
}

// Extend grows the heap by n bytes, refusing once the hard cap (spec
// §4.E: "refuses above a hard cap") would be exceeded.
func (h *Heap) Extend(n uint64) errno.Errno {
	return h.growBy(n)
}

// Alloc finds a first-fit free block of at least size bytes, splitting
// it if the remainder is worth keeping, and returns the virtual address
// of the allocation.
func (h *Heap) Alloc(size uint64) (uint64, errno.Errno) {
	if size == 0 {
		return 0, errno.EINVAL
	}
	size = alignUp(size, 16)
	for _, b := range h.blocks {
		if !b.free || b.size < size {
			continue
		}
		if b.size-size >= minSplit {
			rem := &block{start: b.start + size, size: b.size - size, free: true}
			b.size = size
			h.insertAfter(b, rem)
		}
		b.free = false
		return b.start, errno.OK
	}
	// Out of space: try growing once (clamped to the hard cap), then
	// retry.
	growth := size
	if growth < DefaultInitialSize {
		growth = DefaultInitialSize
	}
	if avail := (h.hardCap - h.mapped) &^ (paging.PageSize - 1); growth > avail {
		growth = avail
	}
	if growth < size {
		return 0, errno.ENOMEM
	}
	if e := h.growBy(growth); e != errno.OK {
		return 0, errno.ENOMEM
	}
	return h.Alloc(size)
}

func (h *Heap) insertAfter(after, nb *block) {
	idx := sort.Search(len(h.blocks), func(i int) bool { return h.blocks[i].start >= after.start })
	h.blocks = append(h.blocks, nil)
	copy(h.blocks[idx+2:], h.blocks[idx+1:])
	h.blocks[idx+1] = nb
}

// Free releases the allocation at virt, coalescing with free neighbors.
func (h *Heap) Free(virt uint64) errno.Errno {
	for i, b := range h.blocks {
		if b.start != virt {
			continue
		}
		if b.free {
			return errno.EINVAL // double free
		}
		b.free = true
		h.coalesce(i)
		return errno.OK
	}
	return errno.EINVAL
}

func (h *Heap) coalesce(i int) {
	if i+1 < len(h.blocks) && h.blocks[i+1].free {
		h.blocks[i].size += h.blocks[i+1].size
		h.blocks = append(h.blocks[:i+1], h.blocks[i+2:]...)
	}
	if i > 0 && h.blocks[i-1].free {
		h.blocks[i-1].size += h.blocks[i].size
		h.blocks = append(h.blocks[:i], h.blocks[i+1:]...)
	}
}

func alignUp(v, align uint64) uint64 { return (v + align - 1) &^ (align - 1) }

// UsedBytes and FreeBytes report the allocator's current accounting.
func (h *Heap) UsedBytes() uint64 {
	var used uint64
	for _, b := range h.blocks {
		if !b.free {
			used += b.size
		}
	}
	return used
}

func (h *Heap) FreeBytes() uint64 {
	var free uint64
	for _, b := range h.blocks {
		if b.free {
			free += b.size
		}
	}
	return free
}
