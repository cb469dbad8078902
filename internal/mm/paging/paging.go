// Package paging implements the 4-level x86_64 page tables of spec §4.C:
// PML4 -> PDPT -> PD -> PT, huge-page short-circuits at PD (2 MiB) and
// PDPT (1 GiB), map/unmap/translate and TLB invalidation.
//
// Page tables live in the simulated physical memory arena (cpu.Bus.Mem);
// a "physical address" is simply a byte offset into that arena, and a
// page-table entry is the little-endian uint64 stored there, exactly
// matching the on-the-wire layout spec §3 describes.
package paging

import (
	"encoding/binary"

	"github.com/cottonos/kernel/internal/cpu"
	"github.com/cottonos/kernel/internal/errno"
	"github.com/cottonos/kernel/internal/mm/pmm"
)

const (
	entriesPerTable = 512
	entrySize       = 8
	tableBytes      = entriesPerTable * entrySize

	PageSize = 4096
	HugePageSize2M = 2 * 1024 * 1024
	HugePageSize1G = 1024 * 1024 * 1024

	addrMask = 0x000FFFFFFFFFF000 // bits 12..52
)

// Flags mirrors the page-table entry bit layout of spec §3.
type Flags uint64

const (
	Present      Flags = 1 << 0
	Writable     Flags = 1 << 1
	User         Flags = 1 << 2
	WriteThrough Flags = 1 << 3
	NoCache      Flags = 1 << 4
	Accessed     Flags = 1 << 5
	Dirty        Flags = 1 << 6
	Huge         Flags = 1 << 7
	Global       Flags = 1 << 8
	NoExecute    Flags = 1 << 63
)

// Mapper owns one PML4 and performs translation/mapping against it.
type Mapper struct {
	bus      *cpu.Bus
	alloc    *pmm.Allocator
	pml4Phys uint64
}

func idx(virt uint64, level int) uint64 {
	shift := uint(12 + 9*level)
	return (virt >> shift) & 0x1FF
}

func (m *Mapper) readEntry(tablePhys uint64, index uint64) uint64 {
	off := tablePhys + index*entrySize
	return binary.LittleEndian.Uint64(m.bus.Mem()[off : off+8])
}

func (m *Mapper) writeEntry(tablePhys uint64, index uint64, val uint64) {
	off := tablePhys + index*entrySize
	binary.LittleEndian.PutUint64(m.bus.Mem()[off:off+8], val)
}

func entryPresent(e uint64) bool { return e&uint64(Present) != 0 }
func entryHuge(e uint64) bool    { return e&uint64(Huge) != 0 }
func entryAddr(e uint64) uint64  { return e & addrMask }

func (m *Mapper) zeroFrame(phys uint64) {
	mem := m.bus.Mem()[phys : phys+tableBytes]
	for i := range mem {
		mem[i] = 0
	}
}

// allocTable allocates and zeroes a frame for use as a page table.
func (m *Mapper) allocTable() (uint64, errno.Errno) {
	phys, e := m.alloc.Alloc()
	if e != errno.OK {
		return 0, e
	}
	m.zeroFrame(phys)
	return phys, errno.OK
}

// New builds the kernel's PML4, one PDPT and four PDs, identity-mapping
// the first 4 GiB with 2 MiB huge pages, and makes entry 0 and entry 511
// of the PML4 alias the same PDPT so the mapping is visible both at
// identity addresses and in the conventional high half (spec §4.C).
func New(bus *cpu.Bus, alloc *pmm.Allocator) (*Mapper, errno.Errno) {
	m := &Mapper{bus: bus, alloc: alloc}

	pml4, e := m.allocTable()
	if e != errno.OK {
		return nil, e
	}
	m.pml4Phys = pml4

	pdpt, e := m.allocTable()
	if e != errno.OK {
		return nil, e
	}

	for gib := uint64(0); gib < 4; gib++ {
		pd, e := m.allocTable()
		if e != errno.OK {
			return nil, e
		}
		for i := uint64(0); i < entriesPerTable; i++ {
			phys := gib*HugePageSize1G + i*HugePageSize2M
			entry := (phys & addrMask) | uint64(Present|Writable|Huge)
			m.writeEntry(pd, i, entry)
		}
		pdptEntry := (pd & addrMask) | uint64(Present|Writable)
		m.writeEntry(pdpt, gib, pdptEntry)
	}

	pml4Entry := (pdpt & addrMask) | uint64(Present|Writable)
	m.writeEntry(pml4, 0, pml4Entry)
	m.writeEntry(pml4, 511, pml4Entry)

	bus.SetCR3(pml4)
	return m, errno.OK
}

// NewEmpty allocates a zeroed PML4 with no mappings at all, the starting
// point for a user address space (spec §4.L: "fresh PML4 from the frame
// allocator, zeroed"). Unlike New it installs no identity mapping.
func NewEmpty(bus *cpu.Bus, alloc *pmm.Allocator) (*Mapper, errno.Errno) {
	m := &Mapper{bus: bus, alloc: alloc}
	pml4, e := m.allocTable()
	if e != errno.OK {
		return nil, e
	}
	m.pml4Phys = pml4
	return m, errno.OK
}

// PML4Phys returns the physical address of the root table (what a real
// kernel would load into CR3).
func (m *Mapper) PML4Phys() uint64 { return m.pml4Phys }

// MapPage walks PML4->PDPT->PD->PT, allocating and zeroing any missing
// intermediate table from the frame allocator, installs the leaf entry
// and invalidates the TLB entry for virt. If a deeper level cannot be
// allocated, every intermediate table this walk installed is cleared and
// its frame returned, so a failed MapPage leaves no half-installed
// entries (spec §8 S6).
func (m *Mapper) MapPage(virt, phys uint64, flags Flags) errno.Errno {
	type installed struct{ table, index, child uint64 }
	var fresh []installed

	unwind := func(e errno.Errno) errno.Errno {
		for i := len(fresh) - 1; i >= 0; i-- {
			m.writeEntry(fresh[i].table, fresh[i].index, 0)
			m.alloc.Free(fresh[i].child)
		}
		return e
	}

	pdpt, alloced, e := m.descend(m.pml4Phys, idx(virt, 3))
	if e != errno.OK {
		return e
	}
	if alloced {
		fresh = append(fresh, installed{m.pml4Phys, idx(virt, 3), pdpt})
	}
	pd, alloced, e := m.descend(pdpt, idx(virt, 2))
	if e != errno.OK {
		return unwind(e)
	}
	if alloced {
		fresh = append(fresh, installed{pdpt, idx(virt, 2), pd})
	}
	pt, alloced, e := m.descend(pd, idx(virt, 1))
	if e != errno.OK {
		return unwind(e)
	}
	if alloced {
		fresh = append(fresh, installed{pd, idx(virt, 1), pt})
	}
	ptIndex := idx(virt, 0)
	entry := (phys & addrMask) | uint64(flags|Present)
	m.writeEntry(pt, ptIndex, entry)
	m.bus.Invlpg(virt)
	return errno.OK
}

// descend returns the physical address of the next-level table at
// `index` within the table at `tablePhys`, allocating it if absent; the
// bool reports whether this call installed a fresh table (so the caller
// can unwind it if a deeper level fails). A present huge-page entry is a
// leaf, not a table; descending through one is refused rather than
// scribbling into the mapped region.
func (m *Mapper) descend(tablePhys uint64, index uint64) (uint64, bool, errno.Errno) {
	e := m.readEntry(tablePhys, index)
	if entryPresent(e) {
		if entryHuge(e) {
			return 0, false, errno.EEXIST
		}
		return entryAddr(e), false, errno.OK
	}
	child, errAlloc := m.allocTable()
	if errAlloc != errno.OK {
		return 0, false, errAlloc
	}
	m.writeEntry(tablePhys, index, (child&addrMask)|uint64(Present|Writable|User))
	return child, true, errno.OK
}

// UnmapPage walks to the leaf, failing if any level is not present (or is
// a huge-page leaf, which this operation does not support), clears the
// entry and invalidates the TLB entry, returning the physical address
// that was mapped.
func (m *Mapper) UnmapPage(virt uint64) (uint64, errno.Errno) {
	pml4E := m.readEntry(m.pml4Phys, idx(virt, 3))
	if !entryPresent(pml4E) {
		return 0, errno.EINVAL
	}
	pdptE := m.readEntry(entryAddr(pml4E), idx(virt, 2))
	if !entryPresent(pdptE) || entryHuge(pdptE) {
		return 0, errno.EINVAL
	}
	pdE := m.readEntry(entryAddr(pdptE), idx(virt, 1))
	if !entryPresent(pdE) || entryHuge(pdE) {
		return 0, errno.EINVAL
	}
	ptPhys := entryAddr(pdE)
	ptIndex := idx(virt, 0)
	ptE := m.readEntry(ptPhys, ptIndex)
	if !entryPresent(ptE) {
		return 0, errno.EINVAL
	}
	phys := entryAddr(ptE)
	m.writeEntry(ptPhys, ptIndex, 0)
	m.bus.Invlpg(virt)
	return phys, errno.OK
}

// Translate resolves virt to a physical address, honoring huge pages at
// the PDPT (1 GiB) and PD (2 MiB) levels by short-circuiting descent as
// soon as a huge-page leaf is found (spec §4.C tie-break).
func (m *Mapper) Translate(virt uint64) (uint64, bool) {
	pml4E := m.readEntry(m.pml4Phys, idx(virt, 3))
	if !entryPresent(pml4E) {
		return 0, false
	}
	pdptE := m.readEntry(entryAddr(pml4E), idx(virt, 2))
	if !entryPresent(pdptE) {
		return 0, false
	}
	if entryHuge(pdptE) {
		return entryAddr(pdptE) + (virt & (HugePageSize1G - 1)), true
	}
	pdE := m.readEntry(entryAddr(pdptE), idx(virt, 1))
	if !entryPresent(pdE) {
		return 0, false
	}
	if entryHuge(pdE) {
		return entryAddr(pdE) + (virt & (HugePageSize2M - 1)), true
	}
	ptE := m.readEntry(entryAddr(pdE), idx(virt, 0))
	if !entryPresent(ptE) {
		return 0, false
	}
	return entryAddr(ptE) + (virt & (PageSize - 1)), true
}
