// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

package sched

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/nucleus-foundation/nucleus/lib/kerror"
	"github.com/nucleus-foundation/nucleus/lib/trace"
)

// Scheduler owns the task table and ready queues for one logical CPU.
// All methods take a short exclusive critical section and never block
// while holding it; the only caller besides the kernel run loop is
// the diagnostic status path reading Stats.
//
// A documented extension point for multiprocessor scheduling: run one
// Scheduler per CPU and add a migration policy between them. Nothing
// here assumes a process-global instance.
type Scheduler struct {
	mu sync.Mutex

	levels   int
	capacity int

	nextID TaskID
	tasks  map[TaskID]*TCB

	// ready holds one FIFO queue per priority level; bitmap has bit i
	// set exactly when ready[i] is non-empty. Selection is the lowest
	// set bit. An empty queue with a set bit (or vice versa) is a
	// broken kernel invariant, checked on every pop.
	ready  [][]TaskID
	bitmap uint64

	// current is the running task, or 0 when the CPU is between
	// tasks.
	current TaskID

	// deadlines tracks blocked tasks with timeout ticks.
	deadlines map[TaskID]uint64

	tick uint64

	idleTicks  uint64
	switches   uint64
	spawned    uint64
	terminated uint64

	ring *trace.Ring
}

// New creates a scheduler with the given number of priority levels
// and task-table capacity. Levels must be between 1 and 64, so the
// non-empty bitmap is a single machine word, which is what keeps
// selection O(1).
func New(levels, capacity int, ring *trace.Ring) (*Scheduler, error) {
	if levels < 1 || levels > 64 {
		return nil, fmt.Errorf("scheduler: %d priority levels, want 1..64", levels)
	}
	if capacity < 1 {
		return nil, fmt.Errorf("scheduler: task capacity %d, want >= 1", capacity)
	}
	return &Scheduler{
		levels:    levels,
		capacity:  capacity,
		tasks:     make(map[TaskID]*TCB),
		ready:     make([][]TaskID, levels),
		deadlines: make(map[TaskID]uint64),
		ring:      ring,
	}, nil
}

// Levels returns the number of priority levels.
func (s *Scheduler) Levels() int { return s.levels }

// Spawn allocates a task control block and enqueues it Ready at the
// tail of its priority level. Fails with ResourceExhausted when the
// task table is full and InvalidTask when the priority is out of
// range. Both are returned to the caller, never fatal.
func (s *Scheduler) Spawn(name string, priority Priority) (TaskID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(priority) >= s.levels {
		return 0, fmt.Errorf("%w: priority %d out of range 0..%d",
			kerror.ErrInvalidTask, priority, s.levels-1)
	}
	if s.liveCountLocked() >= s.capacity {
		return 0, fmt.Errorf("%w: task table at capacity %d", kerror.ErrResourceExhausted, s.capacity)
	}

	s.nextID++
	tcb := &TCB{
		ID:       s.nextID,
		Name:     name,
		Priority: priority,
		State:    StateNew,
	}
	s.tasks[tcb.ID] = tcb
	s.enqueueLocked(tcb)
	s.spawned++

	s.ring.EmitNote(trace.CategoryScheduler, trace.CodeTaskSpawn,
		uint64(tcb.ID), uint64(priority), name)
	return tcb.ID, nil
}

// liveCountLocked counts non-terminated tasks. Caller holds s.mu.
func (s *Scheduler) liveCountLocked() int {
	count := 0
	for _, tcb := range s.tasks {
		if tcb.State != StateTerminated {
			count++
		}
	}
	return count
}

// enqueueLocked appends a task to its level's ready queue and marks
// it Ready. Caller holds s.mu.
func (s *Scheduler) enqueueLocked(tcb *TCB) {
	tcb.State = StateReady
	tcb.Wait = WaitNone
	tcb.WaitDetail = 0
	s.ready[tcb.Priority] = append(s.ready[tcb.Priority], tcb.ID)
	s.bitmap |= 1 << tcb.Priority
}

// RunNext pops the earliest-queued task from the lowest non-empty
// priority level and marks it Running. Returns false when every queue
// is empty. Panics on a corrupted bitmap: that is an internal
// invariant violation, not caller misuse, and the kernel routes the
// panic through its trace-dump path.
func (s *Scheduler) RunNext() (TaskID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != 0 {
		panic(fmt.Sprintf("scheduler: RunNext with task %d still running", s.current))
	}
	if s.bitmap == 0 {
		return 0, false
	}

	level := bits.TrailingZeros64(s.bitmap)
	queue := s.ready[level]
	if len(queue) == 0 {
		panic(fmt.Sprintf("scheduler: ready bitmap claims level %d is non-empty", level))
	}

	id := queue[0]
	s.ready[level] = queue[1:]
	if len(s.ready[level]) == 0 {
		s.bitmap &^= 1 << level
	}

	tcb := s.tasks[id]
	tcb.State = StateRunning
	s.current = id
	s.switches++

	s.ring.Emit(trace.CategoryScheduler, trace.CodeContextSwitch, uint64(id), uint64(level))
	return id, true
}

// Current returns the running task, or 0.
func (s *Scheduler) Current() TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// PreemptCurrent moves the running task back to the tail of its
// priority level. Called on timer preemption and voluntary yield,
// the only two sources of preemption.
func (s *Scheduler) PreemptCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == 0 {
		return
	}
	tcb := s.tasks[s.current]
	s.current = 0
	s.enqueueLocked(tcb)
}

// BlockCurrent suspends the running task with the given wait reason.
// A non-zero deadline is an absolute tick at which the task is woken
// with a timeout if nothing unblocked it first.
func (s *Scheduler) BlockCurrent(kind WaitKind, detail uint64, deadline uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == 0 {
		return fmt.Errorf("%w: no running task to block", kerror.ErrInvalidTask)
	}
	tcb := s.tasks[s.current]
	s.current = 0

	tcb.State = StateBlocked
	tcb.Wait = kind
	tcb.WaitDetail = detail
	tcb.Deadline = deadline
	if deadline != 0 {
		s.deadlines[tcb.ID] = deadline
	}

	s.ring.Emit(trace.CategoryScheduler, trace.CodeTaskBlock, uint64(tcb.ID), detail)
	return nil
}

// Unblock moves a blocked task back to Ready. Returns false when the
// task is unknown or not blocked; waking a task twice is harmless
// for callers that lost a race with a deadline expiry.
func (s *Scheduler) Unblock(id TaskID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unblockLocked(id)
}

func (s *Scheduler) unblockLocked(id TaskID) bool {
	tcb, ok := s.tasks[id]
	if !ok || tcb.State != StateBlocked {
		return false
	}
	delete(s.deadlines, id)
	tcb.Deadline = 0
	s.enqueueLocked(tcb)
	s.ring.Emit(trace.CategoryScheduler, trace.CodeTaskUnblock, uint64(id), 0)
	return true
}

// Tick advances the scheduler clock by one timer tick. The running
// task is charged one CPU tick; an empty ready set with no running
// task is counted as an idle tick. Blocked tasks whose deadline has
// arrived are woken and returned so the kernel can complete their
// pending operations with a timeout result.
func (s *Scheduler) Tick() []TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tick++
	s.ring.Emit(trace.CategoryScheduler, trace.CodeTimerTick, uint64(s.current), s.tick)

	if s.current != 0 {
		s.tasks[s.current].CPUTicks++
	} else if s.bitmap == 0 {
		s.idleTicks++
	}

	var expired []TaskID
	for id, deadline := range s.deadlines {
		if s.tick >= deadline {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		s.unblockLocked(id)
		s.ring.Emit(trace.CategoryScheduler, trace.CodeTaskTimeout, uint64(id), s.tick)
	}
	return expired
}

// ChargeCPU attributes one timer tick of CPU time to a task. The
// kernel calls it for the task it dispatched this round: dispatch
// ends with the task preempted, blocked, or terminated, so by the
// time the next Tick fires no task is current and Tick cannot
// attribute the time itself. Unknown tasks are ignored.
func (s *Scheduler) ChargeCPU(id TaskID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tcb, ok := s.tasks[id]; ok {
		tcb.CPUTicks++
	}
}

// Now returns the current tick.
func (s *Scheduler) Now() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// Terminate marks a task Terminated and removes it from every queue.
// The kernel calls this only after the task's channels and
// capabilities have been released, so no one can observe a Terminated
// task that still owns resources.
func (s *Scheduler) Terminate(id TaskID, exitCode int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tcb, ok := s.tasks[id]
	if !ok || tcb.State == StateTerminated {
		return fmt.Errorf("%w: task %d", kerror.ErrInvalidTask, id)
	}

	if s.current == id {
		s.current = 0
	}
	if tcb.State == StateReady {
		s.removeFromQueueLocked(tcb)
	}
	delete(s.deadlines, id)

	tcb.State = StateTerminated
	tcb.Wait = WaitNone
	tcb.ExitCode = exitCode
	s.terminated++

	s.ring.Emit(trace.CategoryScheduler, trace.CodeTaskExit, uint64(id), uint64(exitCode))
	return nil
}

// removeFromQueueLocked deletes a Ready task from its level's queue.
// Caller holds s.mu.
func (s *Scheduler) removeFromQueueLocked(tcb *TCB) {
	queue := s.ready[tcb.Priority]
	for i, id := range queue {
		if id == tcb.ID {
			s.ready[tcb.Priority] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(s.ready[tcb.Priority]) == 0 {
		s.bitmap &^= 1 << tcb.Priority
	}
}

// Task returns a snapshot of a task's control block.
func (s *Scheduler) Task(id TaskID) (TCB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tcb, ok := s.tasks[id]
	if !ok {
		return TCB{}, fmt.Errorf("%w: task %d", kerror.ErrInvalidTask, id)
	}
	return *tcb, nil
}

// Stats returns counters for the diagnostic status surface.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		Tick:            s.tick,
		IdleTicks:       s.idleTicks,
		ContextSwitches: s.switches,
		Spawned:         s.spawned,
		Terminated:      s.terminated,
		Running:         uint64(s.current),
	}
	for _, tcb := range s.tasks {
		switch tcb.State {
		case StateReady:
			stats.ReadyCount++
		case StateBlocked:
			stats.BlockedCount++
		}
	}
	return stats
}

// Stats summarizes scheduler state.
type Stats struct {
	Tick            uint64 `cbor:"tick"`
	IdleTicks       uint64 `cbor:"idle_ticks"`
	ContextSwitches uint64 `cbor:"context_switches"`
	Spawned         uint64 `cbor:"spawned"`
	Terminated      uint64 `cbor:"terminated"`
	Running         uint64 `cbor:"running"`
	ReadyCount      int    `cbor:"ready_count"`
	BlockedCount    int    `cbor:"blocked_count"`
}
