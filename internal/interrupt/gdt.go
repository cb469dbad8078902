package interrupt

// Selector identifies a segment selector value, matching the reference's
// GDT layout (kernel/src/arch/x86_64/gdt.rs, see SPEC_FULL.md §4).
type Selector uint16

// Fixed selector values for the kernel and user code/data segments, plus
// the TSS selector. Ring bits (bottom 2) are baked in: kernel selectors
// are ring 0, user selectors are ring 3.
const (
	SelNull       Selector = 0x00
	SelKernelCode Selector = 0x08
	SelKernelData Selector = 0x10
	SelUserCode   Selector = 0x18 | 3
	SelUserData   Selector = 0x20 | 3
	SelTSS        Selector = 0x28
)

// SegmentTable models the GDT plus the single TSS the reference uses to
// hold the double-fault stack pointer. Process creation (internal/proc)
// reads the selector constants above; this type's only job is to own the
// TSS's RSP0/IST entries so the double-fault stack has a concrete owner.
type SegmentTable struct {
	RSP0 uint64 // kernel stack pointer loaded on a ring3->ring0 transition
	IST1 uint64 // double-fault stack top (paired with Controller.DoubleFaultStack)
}

// NewSegmentTable builds the table and points IST1 at the controller's
// double-fault stack.
func NewSegmentTable(c *Controller) *SegmentTable {
	st := &SegmentTable{}
	if len(c.DoubleFaultStack) > 0 {
		st.IST1 = uint64(len(c.DoubleFaultStack))
	}
	return st
}
