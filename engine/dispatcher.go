// dispatcher.go - event loop and exception dispatch (component D)
//
// The single goroutine that owns all engine state: it drains the
// command queue, then waits for the next OS stop event, exactly the
// shape DebugX86.trapLoop used for one CPU (debug_cpu_x86.go),
// generalized per SPEC_FULL.md §5 from "one breakpoint map" to "three
// slot tables + thread map + trace writer", all reached only from here.

package engine

import (
	"context"
	"time"

	"github.com/intuitionamiga/nativedbg/engine/osbridge"
)

// Run drives the event loop until ctx is cancelled. It must be started
// in its own goroutine; every Engine method blocks until Run is
// running and draining cmdCh.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.closed)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		e.drainCommands(ctx)

		if !e.attached {
			select {
			case <-ctx.Done():
				return
			case c := <-e.cmdCh:
				e.handleCommand(c)
			case <-time.After(e.pollInterval):
			}
			continue
		}

		ev, ok, err := e.bridge.WaitEvent(e.handle, e.pollInterval)
		if err != nil {
			e.log.WithError(err).Error("wait event failed")
			continue
		}
		if !ok {
			continue
		}
		e.handleEvent(ev)
	}
}

func (e *Engine) drainCommands(ctx context.Context) {
	for {
		select {
		case c := <-e.cmdCh:
			e.handleCommand(c)
		case <-ctx.Done():
			return
		default:
			return
		}
	}
}

func (e *Engine) reply(c command, r result) {
	select {
	case c.resultCh <- r:
	default:
	}
}

func (e *Engine) handleCommand(c command) {
	switch c.kind {
	case cmdAttach:
		e.doAttach(c)
	case cmdDetach:
		e.doDetach(c)
	case cmdSetHardwareBreakpoint:
		e.doSetHardwareBreakpoint(c)
	case cmdSetSoftwareBreakpoint:
		e.doSetSoftwareBreakpoint(c)
	case cmdRemoveBreakpoint:
		e.doRemoveBreakpoint(c)
	case cmdSetWatchpoint:
		e.doSetWatchpoint(c)
	case cmdRemoveWatchpoint:
		e.doRemoveWatchpoint(c)
	case cmdContinue:
		e.doContinue(c)
	case cmdSingleStep:
		e.doSingleStep(c)
	case cmdReadRegister:
		e.doReadRegister(c)
	case cmdWriteRegister:
		e.doWriteRegister(c)
	case cmdReadMemory:
		e.doReadMemory(c)
	case cmdWriteMemory:
		e.doWriteMemory(c)
	case cmdEnableTraceFile:
		err := e.trace.Enable(c.path, e.arch)
		e.reply(c, wrapErr(err, ErrOSError, "enable trace file"))
	case cmdDisableTraceFile:
		err := e.trace.Disable()
		e.reply(c, wrapErr(err, ErrOSError, "disable trace file"))
	case cmdEnableMemoryCache:
		err := e.trace.EnableMemoryCache(c.dumpPath, c.logPath)
		e.reply(c, wrapErr(err, ErrOSError, "enable memory cache"))
	case cmdDisableMemoryCache:
		e.trace.DisableMemoryCache()
		e.reply(c, result{})
	case cmdRequestTraceStop:
		e.trace.RequestStop(c.notifyUI)
		e.reply(c, result{})
	case cmdSetSignalPolicy:
		e.sigPolicy.Set(c.sig, c.disposition)
		e.reply(c, result{})
	case cmdGetSignalPolicy:
		e.reply(c, result{disp: e.sigPolicy.Resolve(c.sig)})
	case cmdRemoveSignalPolicy:
		e.sigPolicy.Remove(c.sig)
		e.reply(c, result{})
	case cmdState:
		e.reply(c, result{state: e.getState()})
	}
}

func wrapErr(err error, kind ErrorKind, msg string) result {
	if err == nil {
		return result{}
	}
	return result{err: newErr(kind, msg, err)}
}

func (e *Engine) doAttach(c command) {
	h, err := e.bridge.Attach(c.pid)
	if err != nil {
		e.log.WithError(err).WithField("pid", c.pid).Error("attach failed")
		e.reply(c, result{err: newErr(ErrAttachFailed, "attach failed", err)})
		return
	}
	e.handle = h
	e.attached = true
	e.threads.Insert(c.pid).Stopped = true
	e.setState(StatePaused)
	e.reply(c, result{})
}

func (e *Engine) doDetach(c command) {
	if !e.attached {
		e.reply(c, result{})
		return
	}
	// Restore every software breakpoint's original bytes before detaching.
	restoreErr := e.restoreAllSoftwareBreakpoints()
	if err := e.bridge.Detach(e.handle); err != nil {
		e.reply(c, result{err: newErr(ErrOSError, "detach failed", err)})
		return
	}
	e.attached = false
	e.setState(StateDetached)
	e.reply(c, wrapErr(restoreErr, ErrOSError, "restore software breakpoints on detach"))
}

func (e *Engine) restoreAllSoftwareBreakpoints() error {
	var firstErr error
	for i := 0; i < NumSWBreakpoints; i++ {
		slot := e.bp.SW(i)
		if !slot.InUse {
			continue
		}
		if err := e.bridge.WriteMemory(e.handle, slot.Address, slot.OriginalBytes[:slot.OriginalLen]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *Engine) doSetHardwareBreakpoint(c command) {
	index, eerr := e.bp.AddHardware(c.addr, c.targetCount, c.endAddr)
	if eerr != nil {
		e.reply(c, result{err: eerr})
		return
	}
	if err := e.programHardwareSlots(); err != nil {
		e.reply(c, result{err: newErr(ErrOSError, "program hardware debug registers", err)})
		return
	}
	e.reply(c, result{index: index})
}

func (e *Engine) doSetSoftwareBreakpoint(c command) {
	trapLen := e.trapInstructionLen()
	original, err := e.bridge.ReadMemory(e.handle, c.addr, trapLen)
	if err != nil {
		e.reply(c, result{err: newErr(ErrMemoryFault, "read original bytes", err)})
		return
	}
	index, eerr := e.bp.AddSoftware(c.addr, original, c.targetCount)
	if eerr != nil {
		e.reply(c, result{err: eerr})
		return
	}
	if err := e.bridge.WriteMemory(e.handle, c.addr, e.trapInstructionBytes()); err != nil {
		e.reply(c, result{err: newErr(ErrMemoryFault, "write trap instruction", err)})
		return
	}
	e.reply(c, result{index: index})
}

func (e *Engine) trapInstructionLen() int {
	if e.arch == ArchARM64 {
		return 4
	}
	return 1
}

func (e *Engine) trapInstructionBytes() []byte {
	if e.arch == ArchARM64 {
		return []byte{0x00, 0x00, 0x20, 0xd4} // BRK #0, little-endian
	}
	return []byte{0xcc} // INT3
}

func (e *Engine) doRemoveBreakpoint(c command) {
	kind, index, ok := e.bp.FindAny(c.addr)
	if !ok {
		e.reply(c, result{err: newErr(ErrNotFound, "no breakpoint at address", nil)})
		return
	}
	switch kind {
	case "hw":
		e.bp.RemoveHardware(index, e.logInterlockWarning("hardware breakpoint"))
		if err := e.programHardwareSlots(); err != nil {
			e.reply(c, result{err: newErr(ErrOSError, "reprogram hardware debug registers", err)})
			return
		}
	case "sw":
		original, n := e.bp.RemoveSoftware(index)
		if err := e.bridge.WriteMemory(e.handle, c.addr, original[:n]); err != nil {
			e.reply(c, result{err: newErr(ErrMemoryFault, "restore original bytes", err)})
			return
		}
	default:
		e.reply(c, result{err: newErr(ErrNotFound, "address is a watchpoint, not a breakpoint", nil)})
		return
	}
	e.reply(c, result{})
}

func (e *Engine) doSetWatchpoint(c command) {
	index, eerr := e.bp.AddWatchpoint(c.addr, c.size, c.watchKind)
	if eerr != nil {
		e.reply(c, result{err: eerr})
		return
	}
	if err := e.programWatchpointSlots(); err != nil {
		e.reply(c, result{err: newErr(ErrOSError, "program watchpoint registers", err)})
		return
	}
	e.reply(c, result{index: index})
}

func (e *Engine) doRemoveWatchpoint(c command) {
	kind, index, ok := e.bp.FindAny(c.addr)
	if !ok || kind != "watch" {
		e.reply(c, result{err: newErr(ErrNotFound, "no watchpoint at address", nil)})
		return
	}
	e.bp.RemoveWatchpoint(index, e.logInterlockWarning("watchpoint"))
	if err := e.programWatchpointSlots(); err != nil {
		e.reply(c, result{err: newErr(ErrOSError, "reprogram watchpoint registers", err)})
		return
	}
	e.reply(c, result{})
}

func (e *Engine) logInterlockWarning(kind string) func(index int) {
	return func(index int) {
		e.log.WithField("slot", index).Warnf("%s removal timed out waiting for in-flight handler; forcing reset", kind)
	}
}

func (e *Engine) doContinue(c command) {
	targets := e.resumeTargets(c.tid)
	for _, tid := range targets {
		ts := e.threads.Get(tid)
		if ts == nil || !ts.Stopped {
			continue
		}
		stepping, eerr := e.startStepOver(ts, true)
		if eerr != nil {
			e.reply(c, result{err: eerr})
			return
		}
		if stepping {
			continue
		}
		sig := e.signalToDeliver(ts)
		if err := e.bridge.Resume(e.handle, tid, sig, false); err != nil {
			e.reply(c, result{err: newErr(ErrOSError, "resume failed", err)})
			return
		}
		ts.Stopped = false
		ts.StepMode = StepNone
	}
	e.setState(StateRunning)
	e.reply(c, result{})
}

func (e *Engine) doSingleStep(c command) {
	ts := e.threads.Get(c.tid)
	if ts == nil || !ts.Stopped {
		e.reply(c, result{err: newErr(ErrNotStopped, "thread is not stopped", nil)})
		return
	}
	stepping, eerr := e.startStepOver(ts, false)
	if eerr != nil {
		e.reply(c, result{err: eerr})
		return
	}
	if !stepping {
		if err := e.bridge.Resume(e.handle, c.tid, 0, true); err != nil {
			e.reply(c, result{err: newErr(ErrOSError, "single step failed", err)})
			return
		}
		ts.Stopped = false
	}
	e.setState(StateSingleStepping)
	e.reply(c, result{})
}

func (e *Engine) resumeTargets(tid int) []int {
	if tid != 0 {
		return []int{tid}
	}
	var out []int
	e.threads.Each(func(s *ThreadState) { out = append(out, s.TID) })
	return out
}

func (e *Engine) signalToDeliver(ts *ThreadState) int {
	if ts.PendingSignal == 0 {
		return 0
	}
	d := e.sigPolicy.Resolve(ts.PendingSignal)
	sig := ts.PendingSignal
	ts.PendingSignal = 0
	if d.Pass {
		return sig
	}
	return 0
}

func (e *Engine) doReadRegister(c command) {
	regs, err := e.bridge.GetRegisters(e.handle, c.tid)
	if err != nil {
		e.reply(c, result{err: newErr(ErrOSError, "read registers", err)})
		return
	}
	v, ok := regs.Get(c.regName)
	if !ok {
		e.reply(c, result{err: newErr(ErrUnknownRegister, c.regName, nil)})
		return
	}
	e.reply(c, result{value: v})
}

func (e *Engine) doWriteRegister(c command) {
	regs, err := e.bridge.GetRegisters(e.handle, c.tid)
	if err != nil {
		e.reply(c, result{err: newErr(ErrOSError, "read registers", err)})
		return
	}
	if !regs.Set(c.regName, c.regValue) {
		e.reply(c, result{err: newErr(ErrUnknownRegister, c.regName, nil)})
		return
	}
	if err := e.bridge.SetRegisters(e.handle, c.tid, regs); err != nil {
		e.reply(c, result{err: newErr(ErrOSError, "write registers", err)})
		return
	}
	e.reply(c, result{})
}

func (e *Engine) doReadMemory(c command) {
	data, err := e.bridge.ReadMemory(e.handle, c.addr, c.size)
	if err != nil {
		e.reply(c, result{err: newErr(ErrMemoryFault, "read memory", err)})
		return
	}
	if e.trace.Enabled() {
		e.trace.LogMemoryAccess(c.addr, c.size, false)
	}
	e.reply(c, result{data: data})
}

func (e *Engine) doWriteMemory(c command) {
	if err := e.bridge.WriteMemory(e.handle, c.addr, c.data); err != nil {
		e.reply(c, result{err: newErr(ErrMemoryFault, "write memory", err)})
		return
	}
	if e.trace.Enabled() {
		e.trace.LogMemoryAccess(c.addr, len(c.data), true)
	}
	e.reply(c, result{})
}

// programHardwareSlots rewrites every tracked thread's debug registers
// to match the current set of occupied hardware breakpoint slots.
func (e *Engine) programHardwareSlots() error {
	var firstErr error
	e.threads.Each(func(ts *ThreadState) {
		dr, err := e.bridge.GetDebugRegisters(e.handle, ts.TID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		e.bp.EachHW(func(i int, slot HWBreakpointSlot) {
			if e.arch == ArchARM64 {
				dr.BVR[i] = slot.Address
				dr.BCR[i] = osbridge.EncodeBCR()
			} else {
				dr.DR[i] = slot.Address
				dr.DR7 = osbridge.EncodeDR7Slot(dr.DR7, i, osbridge.DR7RWExecute, 1)
			}
		})
		for i := 0; i < NumHWBreakpoints; i++ {
			if slot := e.bp.HW(i); !slot.InUse {
				if e.arch == ArchARM64 {
					dr.BCR[i] = osbridge.ClearCtrl(dr.BCR[i])
				} else {
					dr.DR7 = osbridge.ClearDR7Slot(dr.DR7, i)
				}
			}
		}
		if err := e.bridge.SetDebugRegisters(e.handle, ts.TID, dr); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}

// programWatchpointSlots rewrites every tracked thread's debug
// registers to match the current set of occupied watchpoint slots.
func (e *Engine) programWatchpointSlots() error {
	var firstErr error
	e.threads.Each(func(ts *ThreadState) {
		dr, err := e.bridge.GetDebugRegisters(e.handle, ts.TID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		e.bp.EachWatch(func(i int, slot WatchpointSlot) {
			rw := watchRWField(slot.Type)
			if e.arch == ArchARM64 {
				dr.WVR[i] = slot.Address
				dr.WCR[i] = osbridge.EncodeWCR(watchLSC(slot.Type), 0, slot.Size)
			} else {
				dr.DR[i] = slot.Address
				dr.DR7 = osbridge.EncodeDR7Slot(dr.DR7, i, rw, slot.Size)
			}
		})
		for i := 0; i < NumWatchpoints; i++ {
			if slot := e.bp.Watch(i); !slot.InUse {
				if e.arch == ArchARM64 {
					dr.WCR[i] = osbridge.ClearCtrl(dr.WCR[i])
				} else {
					dr.DR7 = osbridge.ClearDR7Slot(dr.DR7, i)
				}
			}
		}
		if err := e.bridge.SetDebugRegisters(e.handle, ts.TID, dr); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}

func watchRWField(t WatchpointType) osbridge.DR7RW {
	switch t {
	case WatchWrite:
		return osbridge.DR7RWWrite
	default:
		return osbridge.DR7RWAccess
	}
}

func watchLSC(t WatchpointType) osbridge.Arm64LSC {
	switch t {
	case WatchRead:
		return osbridge.Arm64LSCLoad
	case WatchWrite:
		return osbridge.Arm64LSCStore
	default:
		return osbridge.Arm64LSCAccess
	}
}
