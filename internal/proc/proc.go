// Package proc implements the spec §4.L process/thread model: process
// control blocks backed by a kernel or user stack carved from the
// physical frame allocator, fork/exit/wait, and the sched.Task
// bindings that let internal/sched schedule a Process.
package proc

import (
	"sync"
	"sync/atomic"

	"github.com/cottonos/kernel/internal/cpu"
	"github.com/cottonos/kernel/internal/errno"
	"github.com/cottonos/kernel/internal/interrupt"
	"github.com/cottonos/kernel/internal/mm/paging"
	"github.com/cottonos/kernel/internal/mm/pmm"
	"github.com/cottonos/kernel/internal/sched"
)

const (
	// idlePID is reserved for the idle stub (spec §3); ordinary PID
	// allocation starts at 1, so the first kernel process is PID 1.
	idlePID sched.PID = 0

	kernelStackFrames = 4 // 16 KiB, spec §4.L
	kernelStackBytes  = kernelStackFrames * pmm.FrameSize
	userStackBytes    = kernelStackFrames * pmm.FrameSize

	// userStackTopVirt is the conventional high virtual address the
	// reference places the user stack at.
	userStackTopVirt = 0x0000_7FFF_FFFF_F000

	defaultRFlags = 0x202 // IF=1
)

// Context is the saved architectural state of one thread (spec §4.K): a
// struct sum of the x86_64 GPRs plus RIP/RFLAGS/CS/SS/RSP. Nothing in a
// hosted Go process can actually load these into real registers; the
// fields exist so process creation and context-switch bookkeeping have
// something concrete to read and write, the same role they play in the
// reference before its own IRQ entry/exit macros do the real save/restore.
type Context struct {
	RAX, RBX, RCX, RDX uint64
	RSI, RDI, RBP, RSP uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64
	RIP, RFlags        uint64
	CS, SS             interrupt.Selector
}

// Process is a CottonOS process control block. A Process with no
// address space (AddrSpace == nil) is a kernel task.
type Process struct {
	pid  sched.PID
	name string

	mu       sync.Mutex
	state    sched.State
	priority sched.Priority
	timeSlice int32
	wakeTick  uint64

	Ctx        Context
	AddrSpace  *paging.AddressSpace // nil for kernel processes
	ParentPID  sched.PID
	HasParent  bool

	kernelStackPhys uint64

	mainThread *Thread
	children   []sched.PID

	cwd string
	fdTable [MaxFDs]*OpenFile

	exitStatus int32
	exited     atomic.Bool
}

// Table owns PID allocation and the live process set (spec §4.L:
// wait() "polls the process table").
type Table struct {
	alloc *pmm.Allocator
	bus   *cpu.Bus

	mu      sync.Mutex
	nextPID sched.PID
	nextTID uint64
	procs   map[sched.PID]*Process
}

// NewTable returns an empty process table backed by the given frame
// allocator and memory bus (used for user address-space creation).
func NewTable(bus *cpu.Bus, alloc *pmm.Allocator) *Table {
	return &Table{bus: bus, alloc: alloc, procs: make(map[sched.PID]*Process), nextPID: 1, nextTID: 1}
}

func (t *Table) allocPID() sched.PID {
	t.mu.Lock()
	defer t.mu.Unlock()
	pid := t.nextPID
	t.nextPID++
	return pid
}

func (t *Table) allocTID() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	tid := t.nextTID
	t.nextTID++
	return tid
}

// NewKernel allocates a 16 KiB kernel stack (4 frames), sets RSP to its
// top, RFLAGS=0x202, kernel segment selectors, and state Created (spec
// §4.L).
func (t *Table) NewKernel(name string) (*Process, errno.Errno) {
	return t.newKernelProc(t.allocPID(), name, sched.PriorityNormal)
}

// NewIdle builds the idle stub's PCB on reserved PID 0 (spec §3). The
// idle task is never enqueued; the scheduler selects it only when every
// queue is empty. A second idle stub is refused.
func (t *Table) NewIdle(name string) (*Process, errno.Errno) {
	t.mu.Lock()
	_, exists := t.procs[idlePID]
	t.mu.Unlock()
	if exists {
		return nil, errno.EBUSY
	}
	return t.newKernelProc(idlePID, name, sched.PriorityIdle)
}

func (t *Table) newKernelProc(pid sched.PID, name string, prio sched.Priority) (*Process, errno.Errno) {
	stackPhys, e := t.alloc.AllocContiguous(kernelStackFrames)
	if e != errno.OK {
		return nil, e
	}
	p := &Process{
		pid: pid, name: name,
		state: sched.Created, priority: prio, timeSlice: 10,
		kernelStackPhys: stackPhys,
		cwd:             "/",
	}
	p.Ctx.RSP = stackPhys + kernelStackBytes
	p.Ctx.RFlags = defaultRFlags
	p.Ctx.CS = interrupt.SelKernelCode
	p.Ctx.SS = interrupt.SelKernelData
	p.mainThread = &Thread{tid: t.allocTID(), owner: p}

	t.mu.Lock()
	t.procs[p.pid] = p
	t.mu.Unlock()
	return p, errno.OK
}

// NewUser additionally allocates a fresh address space and a 16 KiB user
// stack, sets ring-3 segment selectors, and places RSP at the conventional
// high user-space address (spec §4.L).
func (t *Table) NewUser(name string, parent sched.PID) (*Process, errno.Errno) {
	p, e := t.NewKernel(name)
	if e != errno.OK {
		return nil, e
	}
	p.ParentPID = parent
	p.HasParent = true

	space, e := paging.NewAddressSpace(t.bus, t.alloc)
	if e != errno.OK {
		return nil, e
	}
	stack := paging.Region{
		Start: userStackTopVirt - userStackBytes,
		End:   userStackTopVirt,
		Flags: paging.RegionRead | paging.RegionWrite | paging.RegionUser | paging.RegionStack,
	}
	if e := space.MapRegion(stack); e != errno.OK {
		return nil, e
	}

	p.mu.Lock()
	p.AddrSpace = space
	p.Ctx.RSP = userStackTopVirt
	p.Ctx.CS = interrupt.SelUserCode
	p.Ctx.SS = interrupt.SelUserData
	p.mu.Unlock()
	return p, errno.OK
}

// --- sched.Task bindings ---

func (p *Process) PID() sched.PID { return p.pid }

func (p *Process) Priority() sched.Priority {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.priority
}

func (p *Process) State() sched.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Process) SetState(s sched.State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Process) TimeSlice() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timeSlice
}

func (p *Process) SetTimeSlice(n int32) {
	p.mu.Lock()
	p.timeSlice = n
	p.mu.Unlock()
}

func (p *Process) WakeTick() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.wakeTick
}

func (p *Process) SetWakeTick(tk uint64) {
	p.mu.Lock()
	p.wakeTick = tk
	p.mu.Unlock()
}

func (p *Process) Name() string { return p.name }

// Fork clones the current process's context, priority, cwd and file
// descriptors into a freshly allocated PCB with its own kernel stack, and
// returns the child. The caller installs it into the scheduler (spec
// §4.L).
func (t *Table) Fork(parent *Process) (*Process, errno.Errno) {
	child, e := t.NewKernel(parent.name)
	if e != errno.OK {
		return nil, e
	}
	parent.mu.Lock()
	child.mu.Lock()
	savedRSP := child.Ctx.RSP
	savedCS, savedSS := child.Ctx.CS, child.Ctx.SS
	child.Ctx = parent.Ctx
	child.Ctx.RSP = savedRSP
	child.Ctx.CS, child.Ctx.SS = savedCS, savedSS
	child.priority = parent.priority
	child.cwd = parent.cwd
	child.fdTable = parent.fdTable // fork shares open-file descriptions with its parent, spec §4.L
	child.ParentPID = parent.pid
	child.HasParent = true
	child.mu.Unlock()
	parent.children = append(parent.children, child.pid)
	parent.mu.Unlock()
	return child, errno.OK
}

// Children returns the PIDs this process has forked.
func (p *Process) Children() []sched.PID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sched.PID(nil), p.children...)
}

// MainThread returns the process's one thread (this kernel keeps threads
// 1-to-1 with processes).
func (p *Process) MainThread() *Thread { return p.mainThread }

// Exec is specified but not implemented in the reference; it always
// returns ENOSYS (spec §4.L).
func (t *Table) Exec(p *Process, path string, argv []string) errno.Errno {
	return errno.ENOSYS
}

// Exit sets the process Zombie with the given status (spec §4.L); the
// scheduler must be asked to reschedule afterward by the caller.
func (t *Table) Exit(p *Process, status int32) {
	p.mu.Lock()
	p.state = sched.Zombie
	p.exitStatus = status
	p.mu.Unlock()
	p.exited.Store(true)
}

// Wait polls the process table (calling yield between polls) until pid is
// Zombie, then removes it and returns its exit status (spec §4.L).
func (t *Table) Wait(pid sched.PID, yield func()) (int32, errno.Errno) {
	for {
		t.mu.Lock()
		p, ok := t.procs[pid]
		t.mu.Unlock()
		if !ok {
			return 0, errno.ECHILD
		}
		if p.exited.Load() {
			t.mu.Lock()
			delete(t.procs, pid)
			t.mu.Unlock()
			p.mu.Lock()
			status := p.exitStatus
			p.mu.Unlock()
			return status, errno.OK
		}
		if yield != nil {
			yield()
		}
	}
}

// Get returns the process for pid, if it's still in the table.
func (t *Table) Get(pid sched.PID) (*Process, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.procs[pid]
	return p, ok
}
