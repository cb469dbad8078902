package proc

import "github.com/cottonos/kernel/internal/sched"

// Thread is one schedulable flow of control, identified by a 64-bit TID
// unique across the table. This kernel keeps threads 1-to-1 with
// processes (spec §3): each process owns exactly its main thread, which
// shares the PCB's kernel stack and saved context, so the thread's state
// is the process's state. The split type leaves room to grow real
// multi-threading without touching the scheduler contract.
type Thread struct {
	tid   uint64
	owner *Process
}

// TID returns the thread's table-unique identifier.
func (th *Thread) TID() uint64 { return th.tid }

// Owner returns the process this thread belongs to.
func (th *Thread) Owner() *Process { return th.owner }

// State mirrors the owning process's scheduling state.
func (th *Thread) State() sched.State { return th.owner.State() }

// Context returns the thread's saved CPU context (the PCB's, while
// threads stay 1-to-1).
func (th *Thread) Context() *Context { return &th.owner.Ctx }
