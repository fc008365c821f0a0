// threads.go - per-thread state map (component C)
//
// Generalizes debug_monitor.go's CPUEntry/MonitorState registry
// (one entry per emulated CPU, mutated only while yieldLock is held)
// into one entry per traced thread, mutated only from the event-loop
// goroutine; external readers take the read lock.

package engine

import "sync"

// ThreadState is everything the dispatcher tracks about one traced
// thread between stops.
type ThreadState struct {
	TID                      int
	Attached                 bool
	Stopped                  bool
	StoppedByUser            bool
	PendingSignal            int
	StepMode                 SingleStepMode
	StepContinueAfter        bool // resume automatically once the step-over completes
	CurrentHWBreakpointIndex int  // -1 if none
	CurrentWatchpointIndex   int
	CurrentSWBreakpointIndex int
	DisabledResourceIndex    int // slot temporarily disabled to step over it, -1 if none
}

func newThreadState(tid int) *ThreadState {
	return &ThreadState{
		TID:                      tid,
		CurrentHWBreakpointIndex: -1,
		CurrentWatchpointIndex:   -1,
		CurrentSWBreakpointIndex: -1,
		DisabledResourceIndex:    -1,
	}
}

// ThreadMap owns the set of known thread states.
type ThreadMap struct {
	mu      sync.RWMutex
	threads map[int]*ThreadState
}

func NewThreadMap() *ThreadMap {
	return &ThreadMap{threads: make(map[int]*ThreadState)}
}

// Insert adds tid if it is not already tracked and returns its state.
func (m *ThreadMap) Insert(tid int) *ThreadState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.threads[tid]; ok {
		return s
	}
	s := newThreadState(tid)
	m.threads[tid] = s
	return s
}

// Remove drops tid, e.g. on thread exit.
func (m *ThreadMap) Remove(tid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, tid)
}

// Get returns tid's state, or nil if untracked.
func (m *ThreadMap) Get(tid int) *ThreadState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.threads[tid]
}

// Each visits every tracked thread under the read lock.
func (m *ThreadMap) Each(f func(*ThreadState)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.threads {
		f(s)
	}
}

// Len reports the number of tracked threads.
func (m *ThreadMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.threads)
}

// AllStopped reports whether every tracked thread is currently stopped.
func (m *ThreadMap) AllStopped() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.threads {
		if !s.Stopped {
			return false
		}
	}
	return true
}
