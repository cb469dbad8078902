package sched

import (
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

type fakeTask struct {
	pid       PID
	priority  Priority
	state     State
	timeSlice int32
	wakeTick  uint64
}

func (f *fakeTask) PID() PID           { return f.pid }
func (f *fakeTask) Priority() Priority { return f.priority }
func (f *fakeTask) State() State       { return f.state }
func (f *fakeTask) SetState(s State)   { f.state = s }
func (f *fakeTask) TimeSlice() int32   { return f.timeSlice }
func (f *fakeTask) SetTimeSlice(n int32) { f.timeSlice = n }
func (f *fakeTask) WakeTick() uint64    { return f.wakeTick }
func (f *fakeTask) SetWakeTick(t uint64) { f.wakeTick = t }

func newTask(pid PID, p Priority) *fakeTask {
	return &fakeTask{pid: pid, priority: p, state: Ready, timeSlice: defaultTimeSlice}
}

func TestHigherPriorityRunsFirst(t *testing.T) {
	s := New(10, nil)
	low := newTask(1, PriorityLow)
	high := newTask(2, PriorityHigh)
	s.Add(low)
	s.Add(high)

	got := s.Schedule()
	if got != 2 {
		t.Fatalf("expected high-priority PID 2 to run first, got %d", got)
	}
}

func TestFIFOWithinPriority(t *testing.T) {
	s := New(10, nil)
	a := newTask(1, PriorityNormal)
	b := newTask(2, PriorityNormal)
	s.Add(a)
	s.Add(b)

	first := s.Schedule()
	if first != 1 {
		t.Fatalf("expected FIFO order, PID 1 first, got %d", first)
	}
}

func TestRoundRobinBothRun(t *testing.T) {
	s := New(10, nil)
	a := newTask(1, PriorityNormal)
	b := newTask(2, PriorityNormal)
	s.Add(a)
	s.Add(b)

	counts := map[PID]int{}
	for i := 0; i < 100; i++ {
		counts[s.Schedule()]++
	}
	if counts[1] == 0 || counts[2] == 0 {
		t.Fatalf("equal-priority tasks should alternate, got %v", counts)
	}
}

func TestScheduleSkipsSleepingTask(t *testing.T) {
	s := New(10, nil)
	sleeper := newTask(1, PriorityNormal)
	runner := newTask(2, PriorityNormal)
	s.Add(sleeper)
	s.Add(runner)
	sleeper.state = Sleeping

	if got := s.Schedule(); got != 2 {
		t.Fatalf("scheduler must never run a Sleeping task, picked %d", got)
	}
}

func TestIdleSelectedWhenQueuesEmpty(t *testing.T) {
	s := New(10, nil)
	idle := newTask(99, PriorityIdle)
	s.SetIdle(99, idle)

	got := s.Schedule()
	if got != 99 {
		t.Fatalf("expected idle task when no queues are populated, got %d", got)
	}
}

func TestRemoveClearsCurrent(t *testing.T) {
	s := New(10, nil)
	a := newTask(1, PriorityNormal)
	s.Add(a)
	s.Schedule()
	if _, ok := s.CurrentPID(); !ok {
		t.Fatal("expected a current PID after Schedule")
	}
	s.Remove(1)
	if _, ok := s.CurrentPID(); ok {
		t.Fatal("Remove of the current PID should clear current")
	}
}

func TestTimerTickExhaustsSlice(t *testing.T) {
	s := New(10, nil)
	a := newTask(1, PriorityNormal)
	a.timeSlice = 1
	s.Add(a)
	s.Schedule()

	resched := s.TimerTick()
	if !resched {
		t.Fatal("expected reschedule requested once slice reaches 0")
	}
}

func TestContextSwitchCalledOnChange(t *testing.T) {
	var gotOld, gotNew PID
	calls := 0
	onSwitch := func(old, new PID) {
		calls++
		gotOld, gotNew = old, new
	}
	s := New(10, onSwitch)
	a := newTask(1, PriorityNormal)
	b := newTask(2, PriorityHigh)
	s.Add(a)
	s.Schedule() // current becomes 1, no prior current so no switch callback
	s.Add(b)
	s.Schedule() // current becomes 2, switch from 1

	if calls != 1 {
		t.Fatalf("expected exactly one context switch callback, got %d", calls)
	}
	if gotOld != 1 || gotNew != 2 {
		t.Fatalf("expected switch 1->2, got %d->%d", gotOld, gotNew)
	}
}

// TestPreemptionSharesCPU drives tick-based preemption over two
// equal-priority busy tasks and checks neither starves.
func TestPreemptionSharesCPU(t *testing.T) {
	s := New(1, nil)
	a := newTask(1, PriorityNormal)
	b := newTask(2, PriorityNormal)
	s.Add(a)
	s.Add(b)
	s.Schedule()

	var countA, countB int64
	stop := make(chan struct{})
	var g errgroup.Group
	for _, w := range []struct {
		pid PID
		n   *int64
	}{{1, &countA}, {2, &countB}} {
		w := w
		g.Go(func() error {
			for {
				select {
				case <-stop:
					return nil
				default:
				}
				if cur, ok := s.CurrentPID(); ok && cur == w.pid {
					atomic.AddInt64(w.n, 1)
				}
			}
		})
	}

	for i := 0; i < 1000; i++ {
		if s.TimerTick() {
			s.Schedule()
		}
		time.Sleep(50 * time.Microsecond)
	}
	close(stop)
	g.Wait()

	if atomic.LoadInt64(&countA) == 0 || atomic.LoadInt64(&countB) == 0 {
		t.Fatalf("both equal-priority tasks should make progress: a=%d b=%d",
			atomic.LoadInt64(&countA), atomic.LoadInt64(&countB))
	}
}

func TestSleepMsWakesAtTarget(t *testing.T) {
	s := New(10, nil)
	a := newTask(1, PriorityIdle)
	s.SetIdle(1, a)
	sleeper := newTask(2, PriorityNormal)
	s.Add(sleeper)

	done := make(chan struct{})
	go func() {
		s.SleepMs(2, 30)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	ticked := 0
	for {
		select {
		case <-done:
			if ticked < 3 {
				t.Fatalf("sleeper woke after only %d ticks, expected to need at least 3", ticked)
			}
			return
		case <-deadline:
			t.Fatal("sleeper never woke")
		default:
			s.TimerTick()
			ticked++
			time.Sleep(time.Millisecond)
		}
	}
}
