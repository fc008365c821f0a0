// tables.go - breakpoint/watchpoint slot tables (component B)
//
// Generalizes DebugX86's bpMu-guarded breakpoints/watchpoints maps
// (debug_cpu_x86.go) into fixed-capacity slot tables addressed by
// index, the shape spec.md §3 requires so hardware slot indices map
// 1:1 onto DR0-3/BVR0-3 positions.

package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

const interlockTimeout = time.Second

// HWBreakpointSlot is one hardware execute-breakpoint slot (DR0-3 on
// amd64, BVR/BCR0-3 on arm64).
type HWBreakpointSlot struct {
	InUse       bool
	Address     uint64
	HitCount    uint64
	TargetCount uint64 // 0 means "every hit breaks"
	EndAddress  uint64 // stored only; not read by the dispatcher

	removing atomic.Bool
	inFlight atomic.Int32
}

// SWBreakpointSlot is one software (trap-instruction) breakpoint.
// Like hardware breakpoints it supports a trace-mode hit count
// (spec.md §6's set_sw_breakpoint(addr, target_count)): TargetCount
// of 0 means every hit stops the thread, a non-zero count means the
// first TargetCount-1 hits are traced and silently stepped over.
type SWBreakpointSlot struct {
	InUse         bool
	Address       uint64
	OriginalBytes [4]byte
	OriginalLen   int
	HitCount      uint64
	TargetCount   uint64

	removing atomic.Bool
	inFlight atomic.Int32
}

// WatchpointSlot is one hardware data watchpoint.
type WatchpointSlot struct {
	InUse   bool
	Address uint64
	Size    int
	Type    WatchpointType

	removing atomic.Bool
	inFlight atomic.Int32
}

// BreakpointTable owns all three slot families and enforces invariant 1
// from spec.md §3: no address appears in more than one table at once.
type BreakpointTable struct {
	mu   sync.RWMutex
	hw   [NumHWBreakpoints]HWBreakpointSlot
	sw   [NumSWBreakpoints]SWBreakpointSlot
	watc [NumWatchpoints]WatchpointSlot
}

func NewBreakpointTable() *BreakpointTable {
	return &BreakpointTable{}
}

// addressInUse reports whether addr is already held by any table.
// Caller must hold mu (at least for reading).
func (t *BreakpointTable) addressInUse(addr uint64) bool {
	for i := range t.hw {
		if t.hw[i].InUse && t.hw[i].Address == addr {
			return true
		}
	}
	for i := range t.sw {
		if t.sw[i].InUse && t.sw[i].Address == addr {
			return true
		}
	}
	for i := range t.watc {
		if t.watc[i].InUse && t.watc[i].Address == addr {
			return true
		}
	}
	return false
}

// AddHardware installs a hardware breakpoint at addr and returns its
// slot index.
func (t *BreakpointTable) AddHardware(addr uint64, targetCount uint64, endAddr uint64) (int, *EngineError) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.addressInUse(addr) {
		return -1, newErr(ErrOutOfSlots, "address already has a breakpoint or watchpoint", nil)
	}
	for i := range t.hw {
		if !t.hw[i].InUse {
			t.hw[i] = HWBreakpointSlot{InUse: true, Address: addr, TargetCount: targetCount, EndAddress: endAddr}
			return i, nil
		}
	}
	return -1, newErr(ErrOutOfSlots, "no free hardware breakpoint slots", nil)
}

// AddSoftware installs a software breakpoint at addr, recording the
// bytes it is about to replace so RemoveSoftware can restore them.
func (t *BreakpointTable) AddSoftware(addr uint64, original []byte, targetCount uint64) (int, *EngineError) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.addressInUse(addr) {
		return -1, newErr(ErrOutOfSlots, "address already has a breakpoint or watchpoint", nil)
	}
	for i := range t.sw {
		if !t.sw[i].InUse {
			slot := SWBreakpointSlot{InUse: true, Address: addr, OriginalLen: len(original), TargetCount: targetCount}
			copy(slot.OriginalBytes[:], original)
			t.sw[i] = slot
			return i, nil
		}
	}
	return -1, newErr(ErrOutOfSlots, "no free software breakpoint slots", nil)
}

// IncSWHit bumps a software breakpoint's hit count and reports whether
// its TargetCount has now been reached (0 always reports true: every
// hit stops the thread), mirroring IncHWHit.
func (t *BreakpointTable) IncSWHit(index int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &t.sw[index]
	s.HitCount++
	return s.TargetCount == 0 || s.HitCount >= s.TargetCount
}

// AddWatchpoint installs a hardware watchpoint covering [addr, addr+size).
func (t *BreakpointTable) AddWatchpoint(addr uint64, size int, kind WatchpointType) (int, *EngineError) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.addressInUse(addr) {
		return -1, newErr(ErrOutOfSlots, "address already has a breakpoint or watchpoint", nil)
	}
	for i := range t.watc {
		if !t.watc[i].InUse {
			t.watc[i] = WatchpointSlot{InUse: true, Address: addr, Size: size, Type: kind}
			return i, nil
		}
	}
	return -1, newErr(ErrOutOfSlots, "no free watchpoint slots", nil)
}

// FindAny looks an address up across all three tables. kind is "hw",
// "sw" or "watch"; index is the slot position.
func (t *BreakpointTable) FindAny(addr uint64) (kind string, index int, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := range t.hw {
		if t.hw[i].InUse && t.hw[i].Address == addr {
			return "hw", i, true
		}
	}
	for i := range t.sw {
		if t.sw[i].InUse && t.sw[i].Address == addr {
			return "sw", i, true
		}
	}
	for i := range t.watc {
		if t.watc[i].InUse && t.watc[i].Address == addr {
			return "watch", i, true
		}
	}
	return "", -1, false
}

// FindWatchContaining returns the watchpoint slot (if any) whose range
// [Address, Address+Size) contains addr, used to attribute a data
// access trap to its watchpoint.
func (t *BreakpointTable) FindWatchContaining(addr uint64) (index int, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := range t.watc {
		s := t.watc[i]
		if s.InUse && addr >= s.Address && addr < s.Address+uint64(s.Size) {
			return i, true
		}
	}
	return -1, false
}

func (t *BreakpointTable) HW(index int) HWBreakpointSlot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.hw[index]
}

func (t *BreakpointTable) SW(index int) SWBreakpointSlot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sw[index]
}

func (t *BreakpointTable) Watch(index int) WatchpointSlot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.watc[index]
}

// IncHWHit bumps a hardware breakpoint's hit count and reports whether
// the configured TargetCount has now been reached (0 always reports
// true: every hit breaks).
func (t *BreakpointTable) IncHWHit(index int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &t.hw[index]
	s.HitCount++
	return s.TargetCount == 0 || s.HitCount >= s.TargetCount
}

// BeginHandling/EndHandling bracket in-flight use of a slot by the
// dispatcher, so RemoveHardware/RemoveWatchpoint's interlock can tell
// whether a handler is still reading it.
func (t *BreakpointTable) BeginHandlingHW(index int)        { t.hw[index].inFlight.Add(1) }
func (t *BreakpointTable) EndHandlingHW(index int)          { t.hw[index].inFlight.Add(-1) }
func (t *BreakpointTable) BeginHandlingWatch(index int)     { t.watc[index].inFlight.Add(1) }
func (t *BreakpointTable) EndHandlingWatch(index int)       { t.watc[index].inFlight.Add(-1) }

// RemoveHardware clears a hardware breakpoint slot, waiting up to
// interlockTimeout for any in-flight handler to finish; logWarn is
// called if the wait times out and the slot is force-reset anyway.
func (t *BreakpointTable) RemoveHardware(index int, logWarn func(index int)) {
	t.hw[index].removing.Store(true)
	waitForInFlight(&t.hw[index].inFlight, logWarn, index)
	t.mu.Lock()
	t.hw[index] = HWBreakpointSlot{}
	t.mu.Unlock()
}

// RemoveSoftware clears a software breakpoint slot and returns the
// original bytes the caller must restore in target memory.
func (t *BreakpointTable) RemoveSoftware(index int) ([]byte, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.sw[index]
	t.sw[index] = SWBreakpointSlot{}
	original := make([]byte, s.OriginalLen)
	copy(original, s.OriginalBytes[:s.OriginalLen])
	return original, s.OriginalLen
}

// RemoveWatchpoint clears a watchpoint slot under the same interlock
// discipline as RemoveHardware.
func (t *BreakpointTable) RemoveWatchpoint(index int, logWarn func(index int)) {
	t.watc[index].removing.Store(true)
	waitForInFlight(&t.watc[index].inFlight, logWarn, index)
	t.mu.Lock()
	t.watc[index] = WatchpointSlot{}
	t.mu.Unlock()
}

func waitForInFlight(counter *atomic.Int32, logWarn func(index int), index int) {
	deadline := time.Now().Add(interlockTimeout)
	for counter.Load() != 0 {
		if time.Now().After(deadline) {
			if logWarn != nil {
				logWarn(index)
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// EachHW/EachWatch let the dispatcher scan occupied slots without
// exposing the backing arrays.
func (t *BreakpointTable) EachHW(f func(index int, slot HWBreakpointSlot)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := range t.hw {
		if t.hw[i].InUse {
			f(i, t.hw[i])
		}
	}
}

func (t *BreakpointTable) EachWatch(f func(index int, slot WatchpointSlot)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := range t.watc {
		if t.watc[i].InUse {
			f(i, t.watc[i])
		}
	}
}
