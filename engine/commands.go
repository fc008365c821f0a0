// commands.go - request-enqueue front door (spec.md §5, §6)
//
// Generalizes DebugX86.Resume/Freeze's direct bpMu-guarded mutation
// (debug_cpu_x86.go) into command values pushed onto a single bounded
// channel and drained only by the event-loop goroutine (dispatcher.go),
// per SPEC_FULL.md §5.

package engine

type cmdKind int

const (
	cmdAttach cmdKind = iota
	cmdDetach
	cmdSetHardwareBreakpoint
	cmdSetSoftwareBreakpoint
	cmdRemoveBreakpoint
	cmdSetWatchpoint
	cmdRemoveWatchpoint
	cmdContinue
	cmdSingleStep
	cmdReadRegister
	cmdWriteRegister
	cmdReadMemory
	cmdWriteMemory
	cmdEnableTraceFile
	cmdDisableTraceFile
	cmdEnableMemoryCache
	cmdDisableMemoryCache
	cmdRequestTraceStop
	cmdSetSignalPolicy
	cmdGetSignalPolicy
	cmdRemoveSignalPolicy
	cmdState
)

type command struct {
	kind cmdKind

	pid         int
	tid         int
	addr        uint64
	endAddr     uint64
	targetCount uint64
	size        int
	watchKind   WatchpointType
	regName     string
	regValue    uint64
	data        []byte
	path        string
	dumpPath    string
	logPath     string
	notifyUI    bool
	sig         int
	disposition SignalDisposition

	resultCh chan result
}

type result struct {
	err     *EngineError
	value   uint64
	data    []byte
	index   int
	found   bool
	state   GlobalState
	disp    SignalDisposition
}

func (e *Engine) submit(c command) result {
	c.resultCh = make(chan result, 1)
	select {
	case e.cmdCh <- c:
	case <-e.closed:
		return result{err: newErr(ErrCancelled, "engine is shut down", nil)}
	}
	select {
	case r := <-c.resultCh:
		return r
	case <-e.closed:
		return result{err: newErr(ErrCancelled, "engine shut down while waiting", nil)}
	}
}

// Attach seizes pid and starts tracking its (initially single) thread.
func (e *Engine) Attach(pid int) *EngineError {
	r := e.submit(command{kind: cmdAttach, pid: pid})
	return r.err
}

// Detach releases the traced process, restoring any patched software
// breakpoint bytes first.
func (e *Engine) Detach() *EngineError {
	r := e.submit(command{kind: cmdDetach})
	return r.err
}

// SetHardwareBreakpoint installs a hardware execute breakpoint at addr.
// targetCount of 0 means break on every hit. endAddr is stored with the
// slot but nothing reads it: it changes neither which address triggers
// the breakpoint nor when a trace ends.
func (e *Engine) SetHardwareBreakpoint(addr uint64, targetCount uint64, endAddr uint64) (int, *EngineError) {
	r := e.submit(command{kind: cmdSetHardwareBreakpoint, addr: addr, targetCount: targetCount, endAddr: endAddr})
	return r.index, r.err
}

// SetSoftwareBreakpoint patches a trap instruction at addr. targetCount
// of 0 stops the thread on every hit; a non-zero count puts the
// breakpoint in trace mode, silently stepping over the first
// targetCount-1 hits and recording a trace entry for each.
func (e *Engine) SetSoftwareBreakpoint(addr uint64, targetCount uint64) (int, *EngineError) {
	r := e.submit(command{kind: cmdSetSoftwareBreakpoint, addr: addr, targetCount: targetCount})
	return r.index, r.err
}

// RemoveBreakpoint removes whichever breakpoint (hardware or software)
// occupies addr.
func (e *Engine) RemoveBreakpoint(addr uint64) *EngineError {
	r := e.submit(command{kind: cmdRemoveBreakpoint, addr: addr})
	return r.err
}

// SetWatchpoint installs a hardware data watchpoint over
// [addr, addr+size).
func (e *Engine) SetWatchpoint(addr uint64, size int, kind WatchpointType) (int, *EngineError) {
	r := e.submit(command{kind: cmdSetWatchpoint, addr: addr, size: size, watchKind: kind})
	return r.index, r.err
}

// RemoveWatchpoint removes the watchpoint at addr.
func (e *Engine) RemoveWatchpoint(addr uint64) *EngineError {
	r := e.submit(command{kind: cmdRemoveWatchpoint, addr: addr})
	return r.err
}

// Continue resumes tid (or every thread if tid == 0) until the next
// stop event.
func (e *Engine) Continue(tid int) *EngineError {
	r := e.submit(command{kind: cmdContinue, tid: tid})
	return r.err
}

// SingleStep steps tid by exactly one instruction.
func (e *Engine) SingleStep(tid int) *EngineError {
	r := e.submit(command{kind: cmdSingleStep, tid: tid})
	return r.err
}

// ReadRegister reads a named register from tid.
func (e *Engine) ReadRegister(tid int, name string) (uint64, *EngineError) {
	r := e.submit(command{kind: cmdReadRegister, tid: tid, regName: name})
	return r.value, r.err
}

// WriteRegister writes a named register on tid.
func (e *Engine) WriteRegister(tid int, name string, value uint64) *EngineError {
	r := e.submit(command{kind: cmdWriteRegister, tid: tid, regName: name, regValue: value})
	return r.err
}

// ReadMemory reads length bytes from the traced process at addr.
func (e *Engine) ReadMemory(addr uint64, length int) ([]byte, *EngineError) {
	r := e.submit(command{kind: cmdReadMemory, addr: addr, size: length})
	return r.data, r.err
}

// WriteMemory writes data into the traced process at addr.
func (e *Engine) WriteMemory(addr uint64, data []byte) *EngineError {
	r := e.submit(command{kind: cmdWriteMemory, addr: addr, data: data})
	return r.err
}

// EnableTraceFile starts a new trace recording session at path.
func (e *Engine) EnableTraceFile(path string) *EngineError {
	r := e.submit(command{kind: cmdEnableTraceFile, path: path})
	return r.err
}

// DisableTraceFile ends the current trace recording session.
func (e *Engine) DisableTraceFile() *EngineError {
	r := e.submit(command{kind: cmdDisableTraceFile})
	return r.err
}

// EnableFullMemoryCache turns on the optional memory-dump and
// memory-access-log side files.
func (e *Engine) EnableFullMemoryCache(dumpPath, logPath string) *EngineError {
	r := e.submit(command{kind: cmdEnableMemoryCache, dumpPath: dumpPath, logPath: logPath})
	return r.err
}

// DisableFullMemoryCache turns the memory cache side files back off.
func (e *Engine) DisableFullMemoryCache() *EngineError {
	r := e.submit(command{kind: cmdDisableMemoryCache})
	return r.err
}

// RequestTraceStop asks the active trace session to end: the next trace
// step closes the trace file instead of recording an entry. notifyUI is
// kept alongside the request (TraceRecorder.NotifyUIRequested).
func (e *Engine) RequestTraceStop(notifyUI bool) *EngineError {
	r := e.submit(command{kind: cmdRequestTraceStop, notifyUI: notifyUI})
	return r.err
}

// SetSignalPolicy configures how sig is handled.
func (e *Engine) SetSignalPolicy(sig int, d SignalDisposition) *EngineError {
	r := e.submit(command{kind: cmdSetSignalPolicy, sig: sig, disposition: d})
	return r.err
}

// GetSignalPolicy returns sig's effective disposition.
func (e *Engine) GetSignalPolicy(sig int) SignalDisposition {
	r := e.submit(command{kind: cmdGetSignalPolicy, sig: sig})
	return r.disp
}

// RemoveSignalPolicy reverts sig to the default disposition.
func (e *Engine) RemoveSignalPolicy(sig int) *EngineError {
	r := e.submit(command{kind: cmdRemoveSignalPolicy, sig: sig})
	return r.err
}

// State returns the current engine-wide derived state.
func (e *Engine) State() GlobalState {
	r := e.submit(command{kind: cmdState})
	return r.state
}
