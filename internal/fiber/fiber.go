// Package fiber is a reference cooperative scheduler for driving litmus
// tests through the checker: each user-program thread runs as a goroutine
// that yields back to the scheduler after every observable action, and at
// most one is ever runnable.
//
// Adapted from go-weave/weave's thread/wake-channel handoff pattern, but
// as instance state on a Scheduler value rather than package-level
// globals (spec.md §9 "Global mutable state"): the real scheduler — the
// thing that decides which runnable thread goes next, backtracks, and
// explores alternate interleavings — is explicitly out of scope (spec.md
// §6's "Consumed from the scheduler (not specified here)"), so this
// package only supplies a round-robin policy, sufficient to drive
// deterministic litmus tests and exercise the checker core.
package fiber

import "github.com/Ricagraca/c11tester/action"

type thread struct {
	id      action.ThreadID
	wake    chan struct{}
	done    bool
	blocked bool
}

// Scheduler runs a fixed set of goroutines, handing control to exactly one
// at a time and resuming the scheduling loop whenever that thread yields
// or finishes.
type Scheduler struct {
	threads  []*thread
	mainWake chan struct{}
	cursor   int
}

// New returns a Scheduler with no threads registered yet.
func New() *Scheduler {
	return &Scheduler{mainWake: make(chan struct{})}
}

// Go registers f as a new thread. f must call Yield after every
// observable action it performs, and must not touch any state the
// scheduler doesn't own without yielding around it.
func (s *Scheduler) Go(f func()) action.ThreadID {
	t := &thread{id: action.ThreadID(len(s.threads)), wake: make(chan struct{})}
	s.threads = append(s.threads, t)
	go func() {
		<-t.wake
		f()
		t.done = true
		s.mainWake <- struct{}{}
	}()
	return t.id
}

// Run drives every registered thread to completion, round-robin, one
// observable action at a time.
func (s *Scheduler) Run() {
	for {
		t := s.pickNext()
		if t == nil {
			return
		}
		t.wake <- struct{}{}
		<-s.mainWake
	}
}

func (s *Scheduler) pickNext() *thread {
	n := len(s.threads)
	for i := 0; i < n; i++ {
		idx := (s.cursor + i) % n
		t := s.threads[idx]
		if !t.done && !t.blocked {
			s.cursor = (idx + 1) % n
			return t
		}
	}
	return nil
}

// Yield suspends the calling thread and returns control to Run's
// scheduling loop, which picks the next runnable thread (possibly this one
// again, if it is alone).
func (s *Scheduler) Yield(tid action.ThreadID) {
	t := s.find(tid)
	s.mainWake <- struct{}{}
	<-t.wake
}

// NextThread implements driver.Scheduler: round-robin over the
// not-yet-finished, not-blocked threads.
func (s *Scheduler) NextThread() (action.ThreadID, bool) {
	t := s.pickNext()
	if t == nil {
		return 0, false
	}
	return t.id, true
}

// Sleep marks tid as blocked until Wake is called.
func (s *Scheduler) Sleep(tid action.ThreadID) {
	if t := s.find(tid); t != nil {
		t.blocked = true
	}
}

// Wake clears tid's blocked flag, making it eligible again.
func (s *Scheduler) Wake(tid action.ThreadID) {
	if t := s.find(tid); t != nil {
		t.blocked = false
	}
}

// SetCurrent implements driver.Scheduler; the round-robin policy here
// ignores it, since pickNext always scans from its own cursor, but a
// biased scheduler built on predicate-tree weights would use it to jump
// straight to a chosen thread.
func (s *Scheduler) SetCurrent(action.ThreadID) {}

func (s *Scheduler) find(tid action.ThreadID) *thread {
	for _, t := range s.threads {
		if t.id == tid {
			return t
		}
	}
	return nil
}
