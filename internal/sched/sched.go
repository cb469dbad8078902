// Package sched implements the spec §4.K scheduler: five per-priority
// FIFOs of ready PIDs, a current/idle slot, and a tick-driven
// round-robin reschedule policy. Tasks are plain control blocks (see
// internal/proc); the Scheduler itself only tracks bookkeeping state —
// priority queues, time slices, sleep targets — the way the reference's
// own scheduler is pure data plus a context-switch call.
package sched

import "sync"

// Priority levels, 0 highest. Higher-priority queues starve lower ones;
// there is no aging (spec §4.K).
type Priority uint8

const (
	PriorityRealtime Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityIdle
	numPriorities
)

// PID identifies a task to the scheduler.
type PID uint64

// State is a task's scheduling state.
type State uint8

const (
	Created State = iota
	Ready
	Running
	Sleeping
	Zombie
)

const defaultTimeSlice = 10

// Task is the view the scheduler needs of a process/thread control block;
// internal/proc's Process implements it.
type Task interface {
	PID() PID
	Priority() Priority
	State() State
	SetState(State)
	TimeSlice() int32
	SetTimeSlice(int32)
	WakeTick() uint64
	SetWakeTick(uint64)
}

// ContextSwitch is invoked whenever Schedule picks a different PID than
// the one that was running. The reference's own assembly primitive only
// swaps the stack pointer, leaving register save/restore to the IRQ entry
// macros that pushed them; this hook is the equivalent seam here and is
// deliberately left to the caller to wire to something meaningful (goroutine
// park/unpark, a condition variable, etc.) — see spec §9 and DESIGN.md.
type ContextSwitch func(old, new PID)

// Scheduler holds the ready queues and current/idle task slots.
type Scheduler struct {
	mu     sync.Mutex
	queues [numPriorities][]PID
	tasks  map[PID]Task

	hasCurrent bool
	current    PID

	hasIdle bool
	idle    PID

	ticks uint64

	tickIntervalMs uint64
	onSwitch       ContextSwitch

	enabled bool
}

// New returns an empty scheduler. tickIntervalMs is the wall-clock period
// of one TimerTick call, used to convert SleepMs durations into tick
// counts.
func New(tickIntervalMs uint64, onSwitch ContextSwitch) *Scheduler {
	if tickIntervalMs == 0 {
		tickIntervalMs = 1
	}
	return &Scheduler{
		tasks:          make(map[PID]Task),
		tickIntervalMs: tickIntervalMs,
		onSwitch:       onSwitch,
	}
}

// SetIdle designates pid as the idle task: never enqueued, selected only
// when every priority queue is empty.
func (s *Scheduler) SetIdle(pid PID, task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[pid] = task
	s.idle = pid
	s.hasIdle = true
}

// Add appends pid to the queue for its current priority (spec §4.K).
func (s *Scheduler) Add(task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pid := task.PID()
	s.tasks[pid] = task
	p := task.Priority()
	s.queues[p] = append(s.queues[p], pid)
}

// Remove scrubs pid from every queue and clears current if it matches.
func (s *Scheduler) Remove(pid PID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.queues {
		s.queues[p] = removePID(s.queues[p], pid)
	}
	if s.hasCurrent && s.current == pid {
		s.hasCurrent = false
	}
	delete(s.tasks, pid)
}

func removePID(q []PID, pid PID) []PID {
	out := q[:0]
	for _, p := range q {
		if p != pid {
			out = append(out, p)
		}
	}
	return out
}

// CurrentPID returns the running task's PID, if any.
func (s *Scheduler) CurrentPID() (PID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.hasCurrent
}

// TimerTick is called from IRQ 0 (spec §4.K): increments the tick
// counter and decrements the current task's time slice. It reports
// whether the slice has been exhausted and a reschedule should happen.
func (s *Scheduler) TimerTick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++
	if !s.hasCurrent {
		return false
	}
	cur, ok := s.tasks[s.current]
	if !ok {
		return false
	}
	remaining := cur.TimeSlice() - 1
	cur.SetTimeSlice(remaining)
	return remaining <= 0
}

// Ticks returns the scheduler's tick count.
func (s *Scheduler) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

// Schedule requeues the outgoing task (if still runnable), picks the
// next runnable task by scanning priority queues high to low (falling
// back to idle), and invokes the context-switch hook if the winner
// differs from the outgoing task (spec §4.K).
func (s *Scheduler) Schedule() PID {
	s.mu.Lock()

	old := s.current
	hadOld := s.hasCurrent
	// The idle task is never enqueued; it is only ever the fallback below.
	if hadOld && !(s.hasIdle && old == s.idle) {
		if t, ok := s.tasks[old]; ok && t.State() != Zombie && t.State() != Sleeping {
			t.SetState(Ready)
			t.SetTimeSlice(defaultTimeSlice)
			s.queues[t.Priority()] = append(s.queues[t.Priority()], old)
		}
	}

	next, ok := s.popNextLocked()
	if !ok {
		if s.hasIdle {
			next = s.idle
			ok = true
		}
	}

	if ok {
		if t, ok := s.tasks[next]; ok {
			t.SetState(Running)
		}
		s.current = next
		s.hasCurrent = true
	} else {
		s.hasCurrent = false
	}

	switched := !hadOld || old != next
	onSwitch := s.onSwitch
	result := next
	resultOK := ok
	s.mu.Unlock()

	if switched && onSwitch != nil && hadOld && resultOK {
		onSwitch(old, result)
	}
	return result
}

// popNextLocked scans queues from highest to lowest priority, discarding
// entries that are no longer runnable (Sleeping, Zombie, or removed from
// the task map): the scheduler never runs those. Caller holds s.mu.
func (s *Scheduler) popNextLocked() (PID, bool) {
	for p := Priority(0); p < numPriorities; p++ {
		for len(s.queues[p]) > 0 {
			pid := s.queues[p][0]
			s.queues[p] = s.queues[p][1:]
			t, ok := s.tasks[pid]
			if !ok || t.State() == Sleeping || t.State() == Zombie {
				continue
			}
			return pid, true
		}
	}
	return 0, false
}

// YieldNow is Schedule() under another name (spec §4.K).
func (s *Scheduler) YieldNow() PID { return s.Schedule() }

// SleepMs marks pid Sleeping with a wake target ceil(ms/tickIntervalMs)
// ticks in the future, then spins calling Schedule until the tick counter reaches
// that target (spec §4.K). The caller's goroutine is the one blocked here;
// other runnable tasks continue to be scheduled in the meantime.
func (s *Scheduler) SleepMs(pid PID, ms uint64) {
	s.mu.Lock()
	task, ok := s.tasks[pid]
	if !ok {
		s.mu.Unlock()
		return
	}
	wake := s.ticks + (ms+s.tickIntervalMs-1)/s.tickIntervalMs
	task.SetState(Sleeping)
	task.SetWakeTick(wake)
	s.mu.Unlock()

	for {
		s.mu.Lock()
		reached := s.ticks >= wake
		s.mu.Unlock()
		if reached {
			break
		}
		s.Schedule()
	}

	s.mu.Lock()
	task.SetState(Ready)
	s.queues[task.Priority()] = append(s.queues[task.Priority()], pid)
	s.mu.Unlock()
}

// Start sets the global enable flag. Unmasking interrupts and entering
// the shell/GUI loop is the caller's responsibility (cmd/cottonkernel).
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.enabled = true
	s.mu.Unlock()
}

// Enabled reports whether Start has been called.
func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}
