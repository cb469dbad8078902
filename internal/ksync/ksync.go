// Package ksync implements the spec §4.M synchronization primitives.
// Every primitive cooperates with a sched.Scheduler: a thread that cannot
// make progress enqueues its PID on a waiter list and yields, rather than
// blocking a real OS thread. Release pops one (or all) waiters but does
// not target a specific PID's wakeup — the reference's own primitives are
// the same way, relying on the popped waiter to retry after its next
// Schedule (spec §4.M: "coarse but correct given preemption").
package ksync

import (
	"sync"
	"sync/atomic"

	"github.com/cottonos/kernel/internal/sched"
)

// Yielder is however the caller's scheduler wants to give up the CPU —
// ordinarily (*sched.Scheduler).YieldNow, wrapped so this package doesn't
// need to know the caller's own PID.
type Yielder func()

type waiterDeque struct {
	mu      sync.Mutex
	waiters []sched.PID
}

func (w *waiterDeque) push(pid sched.PID) {
	w.mu.Lock()
	w.waiters = append(w.waiters, pid)
	w.mu.Unlock()
}

func (w *waiterDeque) popOne() (sched.PID, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.waiters) == 0 {
		return 0, false
	}
	pid := w.waiters[0]
	w.waiters = w.waiters[1:]
	return pid, true
}

func (w *waiterDeque) popAll() []sched.PID {
	w.mu.Lock()
	defer w.mu.Unlock()
	all := w.waiters
	w.waiters = nil
	return all
}

// Mutex is an atomic locked flag plus owner PID and a waiter deque.
type Mutex struct {
	locked atomic.Bool
	mu     sync.Mutex
	owner  sched.PID
	hasOwner bool
	waiters waiterDeque
}

// TryLock attempts to acquire the mutex without blocking.
func (m *Mutex) TryLock(pid sched.PID) bool {
	if m.locked.CompareAndSwap(false, true) {
		m.mu.Lock()
		m.owner = pid
		m.hasOwner = true
		m.mu.Unlock()
		return true
	}
	return false
}

// Lock spins TryLock/yield until acquired (spec §4.M).
func (m *Mutex) Lock(pid sched.PID, yield Yielder) {
	for !m.TryLock(pid) {
		m.waiters.push(pid)
		yield()
	}
}

// Unlock clears the locked state and pops one waiter (which must retry
// TryLock on its next turn).
func (m *Mutex) Unlock() {
	m.mu.Lock()
	m.hasOwner = false
	m.mu.Unlock()
	m.locked.Store(false)
	m.waiters.popOne()
}

// Owner returns the current owning PID, if locked.
func (m *Mutex) Owner() (sched.PID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner, m.hasOwner
}

// RecursiveMutex adds an owner-scoped recursion count to Mutex.
type RecursiveMutex struct {
	Mutex
	count int
}

// Lock acquires the mutex, or increments the recursion count if the
// calling PID already owns it.
func (m *RecursiveMutex) Lock(pid sched.PID, yield Yielder) {
	if owner, ok := m.Owner(); ok && owner == pid {
		m.count++
		return
	}
	m.Mutex.Lock(pid, yield)
	m.count = 1
}

// Unlock decrements the recursion count, releasing the underlying mutex
// only once it reaches zero.
func (m *RecursiveMutex) Unlock() {
	m.count--
	if m.count <= 0 {
		m.count = 0
		m.Mutex.Unlock()
	}
}

// RwLock is a writer flag plus reader count: writers wait for readers to
// drain after raising the flag; readers roll back if they observe a
// writer after incrementing (spec §4.M).
type RwLock struct {
	mu          sync.Mutex
	writerFlag  bool
	readerCount int
	waiters     waiterDeque
}

// RLock acquires a read lock, retrying if a writer is active or arrives
// concurrently.
func (l *RwLock) RLock(pid sched.PID, yield Yielder) {
	for {
		l.mu.Lock()
		if l.writerFlag {
			l.mu.Unlock()
			l.waiters.push(pid)
			yield()
			continue
		}
		l.readerCount++
		writerArrived := l.writerFlag
		l.mu.Unlock()
		if writerArrived {
			l.mu.Lock()
			l.readerCount--
			l.mu.Unlock()
			l.waiters.push(pid)
			yield()
			continue
		}
		return
	}
}

// RUnlock releases a read lock.
func (l *RwLock) RUnlock() {
	l.mu.Lock()
	l.readerCount--
	empty := l.readerCount == 0
	l.mu.Unlock()
	if empty {
		l.waiters.popOne()
	}
}

// Lock acquires the write lock: sets the writer flag, then waits for
// readers to drain.
func (l *RwLock) Lock(pid sched.PID, yield Yielder) {
	for {
		l.mu.Lock()
		if l.writerFlag {
			l.mu.Unlock()
			l.waiters.push(pid)
			yield()
			continue
		}
		l.writerFlag = true
		l.mu.Unlock()
		break
	}
	for {
		l.mu.Lock()
		drained := l.readerCount == 0
		l.mu.Unlock()
		if drained {
			return
		}
		yield()
	}
}

// Unlock releases the write lock and wakes every waiter.
func (l *RwLock) Unlock() {
	l.mu.Lock()
	l.writerFlag = false
	l.mu.Unlock()
	for range l.waiters.popAll() {
	}
}

// Semaphore is a counting semaphore: decrement-or-wait, increment-and-wake.
type Semaphore struct {
	mu      sync.Mutex
	count   int
	waiters waiterDeque
}

// NewSemaphore returns a semaphore initialized to n.
func NewSemaphore(n int) *Semaphore { return &Semaphore{count: n} }

// Wait decrements the count, blocking (yielding) while it is zero.
func (s *Semaphore) Wait(pid sched.PID, yield Yielder) {
	for {
		s.mu.Lock()
		if s.count > 0 {
			s.count--
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		s.waiters.push(pid)
		yield()
	}
}

// Signal increments the count and wakes one waiter.
func (s *Semaphore) Signal() {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	s.waiters.popOne()
}

// CondVar is a waiter deque associated with an external Mutex.
type CondVar struct {
	waiters waiterDeque
}

// Wait queues pid, releases m, yields until NotifyOne or NotifyAll has
// popped pid from the waiter deque, then reacquires m (spec §4.M).
func (c *CondVar) Wait(pid sched.PID, m *Mutex, yield Yielder) {
	c.waiters.push(pid)
	m.Unlock()
	for {
		yield()
		c.waiters.mu.Lock()
		waiting := false
		for _, w := range c.waiters.waiters {
			if w == pid {
				waiting = true
				break
			}
		}
		c.waiters.mu.Unlock()
		if !waiting {
			break
		}
	}
	m.Lock(pid, yield)
}

// NotifyOne pops one waiter.
func (c *CondVar) NotifyOne() { c.waiters.popOne() }

// NotifyAll pops every waiter.
func (c *CondVar) NotifyAll() { c.waiters.popAll() }

// Barrier counts arrivals; the last arrival releases every waiter in that
// generation, and a generation counter lets others detect release (spec
// §4.M).
type Barrier struct {
	mu         sync.Mutex
	n          int
	arrived    int
	generation uint64
}

// NewBarrier returns a barrier that releases once n tasks have arrived.
func NewBarrier(n int) *Barrier { return &Barrier{n: n} }

// Wait blocks (yielding) until n tasks have called Wait in the same
// generation.
func (b *Barrier) Wait(yield Yielder) {
	b.mu.Lock()
	gen := b.generation
	b.arrived++
	if b.arrived == b.n {
		b.arrived = 0
		b.generation++
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	for {
		b.mu.Lock()
		released := b.generation != gen
		b.mu.Unlock()
		if released {
			return
		}
		yield()
	}
}

// Once gates a one-shot initializer behind an atomic done flag.
type Once struct {
	done atomic.Bool
	mu   sync.Mutex
}

// Do runs fn exactly once across all callers.
func (o *Once) Do(fn func()) {
	if o.done.Load() {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done.Load() {
		return
	}
	fn()
	o.done.Store(true)
}
