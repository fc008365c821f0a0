// dispatcher_events.go - stop-event classification and handling
// (component D, the other half of dispatcher.go)
//
// Linux reports every trap as a plain SIGTRAP; this file does the
// address-based disambiguation spec.md §4.D describes (PC lookup for
// breakpoints, siginfo fault address for watchpoints). DarwinBridge
// pre-classifies only single-step completions and EXC_BAD_ACCESS; any
// event it leaves as TrapUnknown goes through the same lookup.

package engine

import (
	"encoding/binary"

	"github.com/intuitionamiga/nativedbg/engine/osbridge"
)

const sigTrap = 5 // SIGTRAP, identical value on Linux and Darwin

func (e *Engine) handleEvent(ev osbridge.Event) {
	switch ev.Kind {
	case osbridge.EventNewThread:
		e.threads.Insert(ev.NewTID).Stopped = true
		if err := e.programHardwareSlots(); err != nil {
			e.log.WithError(err).Warn("failed to program hardware breakpoints for new thread")
		}
		if err := e.programWatchpointSlots(); err != nil {
			e.log.WithError(err).Warn("failed to program watchpoints for new thread")
		}
		if err := e.bridge.Resume(e.handle, ev.NewTID, 0, false); err != nil {
			e.log.WithError(err).Warn("failed to resume new thread")
		}
		// ev.TID is the parent that took the clone stop to report this
		// event; it must be resumed too or it stays ptrace-stopped forever.
		if err := e.bridge.Resume(e.handle, ev.TID, 0, false); err != nil {
			e.log.WithError(err).Warn("failed to resume parent thread after clone")
		} else if parent := e.threads.Get(ev.TID); parent != nil {
			parent.Stopped = false
		}
	case osbridge.EventExited, osbridge.EventSignalled:
		e.threads.Remove(ev.TID)
		if e.threads.Len() == 0 {
			e.attached = false
			e.setState(StateDetached)
		}
	case osbridge.EventGroupStop:
		ts := e.threads.Insert(ev.TID)
		ts.Stopped = true
		e.setState(StatePaused)
	case osbridge.EventStopped:
		e.handleStopped(ev)
	}
}

func (e *Engine) handleStopped(ev osbridge.Event) {
	ts := e.threads.Insert(ev.TID)
	ts.Stopped = true

	if ev.Signal != sigTrap {
		if d := e.sigPolicy.Resolve(ev.Signal); !d.Catch {
			sig := 0
			if d.Pass {
				sig = ev.Signal
			}
			if err := e.bridge.Resume(e.handle, ev.TID, sig, false); err != nil {
				e.log.WithError(err).Warn("failed to resume past uncaught signal")
				return
			}
			ts.Stopped = false
			return
		}
		ts.PendingSignal = ev.Signal
		e.setState(StatePaused)
		return
	}

	trap := ev.Trap
	if trap == osbridge.TrapUnknown {
		trap = e.classifyLinuxTrap(ev.TID, ts)
	}

	switch trap {
	case osbridge.TrapSoftwareBreakpoint:
		e.handleSoftwareBreakpointHit(ts)
	case osbridge.TrapHardware:
		e.handleHardwareBreakpointHit(ts)
	case osbridge.TrapWatch:
		e.handleWatchpointHit(ts)
	case osbridge.TrapSoftwareStep:
		e.handleStepComplete(ts)
	default:
		e.setState(StatePaused)
	}
}

// classifyLinuxTrap performs the PC/siginfo-based disambiguation
// spec.md §4.D describes for Linux's undifferentiated SIGTRAP.
func (e *Engine) classifyLinuxTrap(tid int, ts *ThreadState) osbridge.TrapKind {
	regs, err := e.bridge.GetRegisters(e.handle, tid)
	if err != nil {
		return osbridge.TrapUnknown
	}
	pc := regs.PC()

	swAddr := pc
	if e.arch == ArchAMD64 {
		swAddr = pc - 1 // INT3 has already retired and advanced RIP by 1
	}
	if kind, _, ok := e.bp.FindAny(swAddr); ok && kind == "sw" {
		return osbridge.TrapSoftwareBreakpoint
	}
	if kind, _, ok := e.bp.FindAny(pc); ok && kind == "hw" {
		return osbridge.TrapHardware
	}
	if addr, ok, _ := e.bridge.FaultAddr(e.handle, tid); ok {
		if _, ok := e.bp.FindWatchContaining(addr); ok {
			return osbridge.TrapWatch
		}
	}
	if ts.StepMode != StepNone {
		return osbridge.TrapSoftwareStep
	}
	return osbridge.TrapUnknown
}

func (e *Engine) handleSoftwareBreakpointHit(ts *ThreadState) {
	regs, err := e.bridge.GetRegisters(e.handle, ts.TID)
	if err != nil {
		e.log.WithError(err).Warn("failed to read registers on software breakpoint hit")
		return
	}
	addr := regs.PC()
	if e.arch == ArchAMD64 {
		addr--
		regs.SetPC(addr)
		if err := e.bridge.SetRegisters(e.handle, ts.TID, regs); err != nil {
			e.log.WithError(err).Warn("failed to rewind PC past INT3")
		}
	}
	_, index, ok := e.bp.FindAny(addr)
	if !ok {
		return
	}

	// Trace mode (TargetCount > 0): log every hit but only stop the
	// thread once TargetCount is reached, silently stepping over the
	// breakpoint in between (spec.md §6's set_sw_breakpoint trace mode).
	reached := e.bp.IncSWHit(index)
	allow := e.shouldBreak == nil || e.shouldBreak(regs)
	reached = reached && allow
	e.recordTraceStep(ts.TID, regs)
	if !reached {
		ts.CurrentSWBreakpointIndex = index
		if stepping, eerr := e.startStepOver(ts, true); eerr != nil {
			e.log.WithError(eerr).Warn("failed to step over traced software breakpoint hit")
		} else if !stepping {
			ts.CurrentSWBreakpointIndex = -1
		}
		return
	}

	ts.CurrentSWBreakpointIndex = index
	e.setState(StateBreakpointHit)
}

func (e *Engine) handleHardwareBreakpointHit(ts *ThreadState) {
	regs, err := e.bridge.GetRegisters(e.handle, ts.TID)
	if err != nil {
		e.log.WithError(err).Warn("failed to read registers on hardware breakpoint hit")
		return
	}
	_, index, ok := e.bp.FindAny(regs.PC())
	if !ok {
		return
	}
	e.bp.BeginHandlingHW(index)
	defer e.bp.EndHandlingHW(index)

	hit := e.bp.IncHWHit(index)
	allow := e.shouldBreak == nil || e.shouldBreak(regs)
	reached := hit && allow
	if !reached {
		// Hit count target not yet reached, or the should-break callback
		// downgraded this hit to a silent continue: resume transparently.
		if err := e.bridge.Resume(e.handle, ts.TID, 0, false); err != nil {
			e.log.WithError(err).Warn("failed to resume past uncounted hardware breakpoint hit")
			return
		}
		ts.Stopped = false
		return
	}
	ts.CurrentHWBreakpointIndex = index
	e.setState(StateBreakpointHit)
	e.recordTraceStep(ts.TID, regs)
}

func (e *Engine) handleWatchpointHit(ts *ThreadState) {
	addr, ok, err := e.bridge.FaultAddr(e.handle, ts.TID)
	if err != nil || !ok {
		return
	}
	index, ok := e.bp.FindWatchContaining(addr)
	if !ok {
		return
	}
	e.bp.BeginHandlingWatch(index)
	defer e.bp.EndHandlingWatch(index)

	ts.CurrentWatchpointIndex = index
	e.setState(StateWatchpointHit)
	if regs, err := e.bridge.GetRegisters(e.handle, ts.TID); err == nil {
		e.recordTraceStep(ts.TID, regs)
	}
}

// startStepOver begins the disable-step-reenable dance needed to get
// a thread past whichever breakpoint/watchpoint it is currently
// sitting on. It returns false if the thread isn't sitting on
// anything, meaning the caller should resume/step normally instead.
func (e *Engine) startStepOver(ts *ThreadState, continueAfter bool) (bool, *EngineError) {
	switch {
	case ts.CurrentHWBreakpointIndex != -1:
		i := ts.CurrentHWBreakpointIndex
		if err := e.disableHWSlotForThread(ts.TID, i); err != nil {
			return true, newErr(ErrOSError, "disable hardware breakpoint for step-over", err)
		}
		ts.DisabledResourceIndex = i
		if continueAfter {
			ts.StepMode = StepHardwareBreakpointContinue
		} else {
			ts.StepMode = StepBreakpoint
		}
	case ts.CurrentSWBreakpointIndex != -1:
		i := ts.CurrentSWBreakpointIndex
		slot := e.bp.SW(i)
		if err := e.bridge.WriteMemory(e.handle, slot.Address, slot.OriginalBytes[:slot.OriginalLen]); err != nil {
			return true, newErr(ErrMemoryFault, "restore original bytes for step-over", err)
		}
		ts.DisabledResourceIndex = i
		if continueAfter {
			ts.StepMode = StepSoftwareBreakpointContinue
		} else {
			ts.StepMode = StepSoftwareBreakpoint
		}
	case ts.CurrentWatchpointIndex != -1:
		i := ts.CurrentWatchpointIndex
		if err := e.disableWatchSlotForThread(ts.TID, i); err != nil {
			return true, newErr(ErrOSError, "disable watchpoint for step-over", err)
		}
		ts.DisabledResourceIndex = i
		ts.StepMode = StepWatchpoint
	default:
		return false, nil
	}
	ts.StepContinueAfter = continueAfter
	if err := e.bridge.Resume(e.handle, ts.TID, 0, true); err != nil {
		return true, newErr(ErrOSError, "single step for step-over", err)
	}
	ts.Stopped = false
	return true, nil
}

func (e *Engine) disableHWSlotForThread(tid, index int) error {
	dr, err := e.bridge.GetDebugRegisters(e.handle, tid)
	if err != nil {
		return err
	}
	if e.arch == ArchARM64 {
		dr.BCR[index] = osbridge.ClearCtrl(dr.BCR[index])
	} else {
		dr.DR7 = osbridge.ClearDR7Slot(dr.DR7, index)
	}
	return e.bridge.SetDebugRegisters(e.handle, tid, dr)
}

func (e *Engine) disableWatchSlotForThread(tid, index int) error {
	dr, err := e.bridge.GetDebugRegisters(e.handle, tid)
	if err != nil {
		return err
	}
	if e.arch == ArchARM64 {
		dr.WCR[index] = osbridge.ClearCtrl(dr.WCR[index])
	} else {
		dr.DR7 = osbridge.ClearDR7Slot(dr.DR7, index)
	}
	return e.bridge.SetDebugRegisters(e.handle, tid, dr)
}

// handleStepComplete runs when a single step taken by startStepOver
// finishes. On Linux a step trap is recognised only while StepMode is
// set, so a plain SingleStep from a thread not sitting on a breakpoint
// or watchpoint is classified TrapUnknown and ends in StatePaused
// instead of reaching here.
func (e *Engine) handleStepComplete(ts *ThreadState) {
	switch ts.StepMode {
	case StepBreakpoint, StepHardwareBreakpointContinue:
		if err := e.programHardwareSlots(); err != nil {
			e.log.WithError(err).Warn("failed to re-arm hardware breakpoints after step-over")
		}
		ts.CurrentHWBreakpointIndex = -1
		ts.DisabledResourceIndex = -1
	case StepSoftwareBreakpoint, StepSoftwareBreakpointContinue:
		i := ts.CurrentSWBreakpointIndex
		if i != -1 {
			slot := e.bp.SW(i)
			if err := e.bridge.WriteMemory(e.handle, slot.Address, e.trapInstructionBytes()); err != nil {
				e.log.WithError(err).Warn("failed to re-patch software breakpoint after step-over")
			}
		}
		ts.CurrentSWBreakpointIndex = -1
		ts.DisabledResourceIndex = -1
	case StepWatchpoint:
		if err := e.programWatchpointSlots(); err != nil {
			e.log.WithError(err).Warn("failed to re-arm watchpoints after step-over")
		}
		ts.CurrentWatchpointIndex = -1
		ts.DisabledResourceIndex = -1
	}

	continueAfter := ts.StepContinueAfter
	ts.StepMode = StepNone
	ts.StepContinueAfter = false

	if continueAfter {
		sig := e.signalToDeliver(ts)
		if err := e.bridge.Resume(e.handle, ts.TID, sig, false); err != nil {
			e.log.WithError(err).Warn("failed to resume after step-over")
			return
		}
		ts.Stopped = false
		e.setState(StateRunning)
		return
	}
	ts.Stopped = true
	e.setState(StateSingleStepping)
	if regs, err := e.bridge.GetRegisters(e.handle, ts.TID); err == nil {
		e.recordTraceStep(ts.TID, regs)
	}
}

func (e *Engine) recordTraceStep(tid int, regs osbridge.Registers) {
	if !e.trace.Enabled() {
		return
	}
	if e.trace.StopRequested() {
		if err := e.trace.Disable(); err != nil {
			e.log.WithError(err).Warn("failed to close trace file on stop request")
		}
		return
	}
	pc := regs.PC()
	var raw [4]byte
	if data, err := e.bridge.ReadMemory(e.handle, pc, 4); err == nil {
		copy(raw[:], data)
	}
	mnemonic, length := "", 0
	if e.disasmFn != nil {
		mnemonic, length = e.disasmFn(pc, raw)
	}
	entry := TraceEntry{PC: pc, SP: regs.SP(), InstrLen: uint32(length)}
	copy(entry.InstrText[:], mnemonic)
	names := osbridge.Amd64RegisterNames
	if e.arch == ArchARM64 {
		names = osbridge.Arm64RegisterNames[:31]
	}
	for i, n := range names {
		if i >= len(entry.Regs) {
			break
		}
		if v, ok := regs.Get(n); ok {
			entry.Regs[i] = v
		}
	}
	flagsName := "RFLAGS"
	if e.arch == ArchARM64 {
		flagsName = "PSTATE"
	}
	if v, ok := regs.Get(flagsName); ok {
		entry.Flags = v
	}

	// Up to 6 memory windows read from the addresses held in the first
	// six argument registers (spec.md §4.D/§6's memory[6][64]).
	argNames := osbridge.Amd64ArgRegisterNames
	if e.arch == ArchARM64 {
		argNames = osbridge.Arm64ArgRegisterNames
	}
	for i, n := range argNames {
		if i >= len(entry.MemWindows) {
			break
		}
		v, ok := regs.Get(n)
		if !ok {
			continue
		}
		if data, err := e.bridge.ReadMemory(e.handle, v, 64); err == nil {
			copy(entry.MemWindows[i][:], data)
		}
	}

	// Best-effort ARM64 load/store decode for the first memory-access
	// slot (spec.md §4.E).
	if e.arch == ArchARM64 && length >= 4 {
		instr := binary.LittleEndian.Uint32(raw[:])
		if access := DecodeARMLoadStoreAccess(instr); access.Decoded {
			if addr, ok := armLoadStoreAddress(instr, regs); ok {
				entry.MemAccessAddr[0] = addr
				entry.MemAccessLen[0] = uint32(access.Size)
				if access.Write {
					entry.MemAccessKind[0] = 2
				} else {
					entry.MemAccessKind[0] = 1
				}
			}
		}
	}

	if err := e.trace.WriteEntry(entry); err != nil {
		e.log.WithError(err).Warn("failed to write trace entry")
	}

	if e.trace.DumpPending() {
		e.dumpFullMemorySnapshot()
	}
}

// dumpFullMemorySnapshot enumerates every readable memory region and
// writes them as one buffer to the trace recorder's dump file
// (spec.md §4.D: "if full_memory_cache is enabled and this is the
// first hit, dump every readable region"). WriteMemorySnapshot only
// accepts one write per session, so every region must be gathered
// before the single call.
func (e *Engine) dumpFullMemorySnapshot() {
	regions, err := e.bridge.Regions(e.handle)
	if err != nil {
		e.log.WithError(err).Warn("failed to enumerate memory regions for full memory cache")
		return
	}
	var buf []byte
	for _, r := range regions {
		size := int(r.End - r.Start)
		if size <= 0 {
			continue
		}
		data, err := e.bridge.ReadMemory(e.handle, r.Start, size)
		if err != nil {
			continue
		}
		buf = append(buf, data...)
	}
	if err := e.trace.WriteMemorySnapshot(buf); err != nil {
		e.log.WithError(err).Warn("failed to write full memory snapshot")
	}
}
