package engine

import (
	"context"
	"testing"
	"time"

	"github.com/intuitionamiga/nativedbg/engine/osbridge"
)

const testPID = 4242

func startEngine(t *testing.T, bridge *fakeBridge) (*Engine, context.CancelFunc) {
	t.Helper()
	eng := New(Config{Bridge: bridge, Arch: ArchAMD64, PollInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	go eng.Run(ctx)
	if eerr := eng.Attach(testPID); eerr != nil {
		t.Fatalf("Attach: %v", eerr)
	}
	return eng, cancel
}

func waitForState(t *testing.T, eng *Engine, want GlobalState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if eng.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state did not reach %v within deadline, last was %v", want, eng.State())
}

// S1: a hardware breakpoint in wait mode (target_count=0) stops the
// thread exactly once; Continue resumes it.
func TestScenarioHardwareBreakpointWaitMode(t *testing.T) {
	bridge := newFakeBridge()
	eng, cancel := startEngine(t, bridge)
	defer cancel()

	const addr = 0x401040
	if _, eerr := eng.SetHardwareBreakpoint(addr, 0, 0); eerr != nil {
		t.Fatalf("SetHardwareBreakpoint: %v", eerr)
	}

	bridge.setPC(testPID, addr)
	bridge.push(osbridge.Event{Kind: osbridge.EventStopped, TID: testPID, Signal: sigTrap, Trap: osbridge.TrapHardware})

	waitForState(t, eng, StateBreakpointHit)

	if eerr := eng.Continue(0); eerr != nil {
		t.Fatalf("Continue: %v", eerr)
	}
	waitForState(t, eng, StateRunning)

	if bridge.resumeCount() == 0 {
		t.Fatal("expected Resume to have been called after Continue")
	}
}

// S3: a write watchpoint reports the faulting address inside the
// watched range.
func TestScenarioWatchpointHit(t *testing.T) {
	bridge := newFakeBridge()
	eng, cancel := startEngine(t, bridge)
	defer cancel()

	const addr = 0x500000
	index, eerr := eng.SetWatchpoint(addr, 4, WatchWrite)
	if eerr != nil {
		t.Fatalf("SetWatchpoint: %v", eerr)
	}

	bridge.setFault(addr + 1) // inside [addr, addr+4)
	bridge.push(osbridge.Event{Kind: osbridge.EventStopped, TID: testPID, Signal: sigTrap, Trap: osbridge.TrapWatch})

	waitForState(t, eng, StateWatchpointHit)

	ts := eng.threads.Get(testPID)
	if ts == nil || ts.CurrentWatchpointIndex != index {
		t.Fatalf("CurrentWatchpointIndex = %v, want %d", ts, index)
	}
}

// S5: a caught, non-passed signal is reported but not delivered to the
// tracee on continue.
func TestScenarioSignalCaughtNotPassed(t *testing.T) {
	bridge := newFakeBridge()
	eng, cancel := startEngine(t, bridge)
	defer cancel()

	const sigsegv = 11
	if eerr := eng.SetSignalPolicy(sigsegv, SignalDisposition{Catch: true, Pass: false}); eerr != nil {
		t.Fatalf("SetSignalPolicy: %v", eerr)
	}

	bridge.push(osbridge.Event{Kind: osbridge.EventStopped, TID: testPID, Signal: sigsegv})

	deadline := time.Now().Add(2 * time.Second)
	var ts *ThreadState
	for time.Now().Before(deadline) {
		ts = eng.threads.Get(testPID)
		if ts != nil && ts.PendingSignal == sigsegv {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if ts == nil || ts.PendingSignal != sigsegv {
		t.Fatalf("PendingSignal not recorded before Continue")
	}

	if eerr := eng.Continue(0); eerr != nil {
		t.Fatalf("Continue: %v", eerr)
	}
	waitForState(t, eng, StateRunning)

	last := bridge.lastResume()
	if last.sig != 0 {
		t.Fatalf("resume delivered signal %d, want 0 (signal should vanish)", last.sig)
	}
}

// S6: a new thread reported via clone is registered and currently
// armed hardware breakpoints are programmed onto it.
func TestScenarioCloneRegistersNewThread(t *testing.T) {
	bridge := newFakeBridge()
	eng, cancel := startEngine(t, bridge)
	defer cancel()

	if _, eerr := eng.SetHardwareBreakpoint(0x401040, 0, 0); eerr != nil {
		t.Fatalf("SetHardwareBreakpoint: %v", eerr)
	}

	const newTID = 4243
	bridge.push(osbridge.Event{Kind: osbridge.EventNewThread, TID: testPID, NewTID: newTID})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if eng.threads.Get(newTID) != nil {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if eng.threads.Get(newTID) == nil {
		t.Fatal("new thread was never registered")
	}

	dr, _ := bridge.GetDebugRegisters(osbridge.Handle{}, newTID)
	if dr.DR7 == 0 {
		t.Fatal("hardware breakpoint was not reprogrammed onto the new thread")
	}
}
