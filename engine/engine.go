// engine.go - public Engine type and construction
//
// Engine is the whole-process generalization of debug_monitor.go's
// MachineMonitor: one owner of all mutable debug state, reached only
// through its public methods (which enqueue commands, see commands.go)
// or its single event-loop goroutine (dispatcher.go).

package engine

import (
	"sync/atomic"
	"time"

	"github.com/intuitionamiga/nativedbg/disasm"
	"github.com/intuitionamiga/nativedbg/engine/osbridge"
	"github.com/sirupsen/logrus"
)

// Config configures an Engine at construction (SPEC_FULL.md §2): the
// bridge, the architecture, the callbacks and the event-loop tuning.
type Config struct {
	// Bridge is the OS-specific capability set. Required.
	Bridge osbridge.Bridge
	// Arch is the target architecture; determines register names and
	// hardware debug-register encoding.
	Arch Arch
	// Disasm is used by the trace recorder to render instruction text.
	// Defaults to disasm.X86 when Arch == ArchAMD64 and nil otherwise.
	Disasm disasm.Func
	// PollInterval bounds how long WaitEvent blocks per call; the event
	// loop drains the command queue between calls. Defaults to 10ms.
	PollInterval time.Duration
	// Logger is used for structured logging; defaults to
	// logrus.StandardLogger().
	Logger *logrus.Logger
	// CommandQueueDepth bounds the command channel; defaults to 64.
	CommandQueueDepth int
	// ShouldBreak is the "should-break" callback (spec.md §1(e), §4.D,
	// §9): invoked inline from the event loop with a full register
	// snapshot at every breakpoint hit, before the hit counter's
	// trace/break decision is finalized. Returning false turns the hit
	// into a silent continue regardless of target_count. Nil means
	// every hit is eligible to break. Must not take any lock the engine
	// itself holds.
	ShouldBreak func(osbridge.Registers) bool
}

// Engine is the top-level debugger engine: OS bridge, the three
// breakpoint/watchpoint slot tables, the thread state map, the signal
// policy table and the trace recorder, all mutated only from one
// goroutine (Run).
type Engine struct {
	bridge       osbridge.Bridge
	arch         Arch
	disasmFn     disasm.Func
	pollInterval time.Duration
	log          *logrus.Entry

	handle   osbridge.Handle
	attached bool

	bp          *BreakpointTable
	threads     *ThreadMap
	sigPolicy   *SignalPolicyTable
	trace       *TraceRecorder
	shouldBreak func(osbridge.Registers) bool

	globalState atomic.Int32

	cmdCh  chan command
	closed chan struct{}
}

// New constructs an Engine. Call Run in its own goroutine to start the
// event loop before issuing any command.
func New(cfg Config) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.CommandQueueDepth <= 0 {
		cfg.CommandQueueDepth = 64
	}
	disasmFn := cfg.Disasm
	if disasmFn == nil && cfg.Arch == ArchAMD64 {
		disasmFn = disasm.X86
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	e := &Engine{
		bridge:       cfg.Bridge,
		arch:         cfg.Arch,
		disasmFn:     disasmFn,
		pollInterval: cfg.PollInterval,
		log:          logger.WithField("component", "engine"),
		bp:           NewBreakpointTable(),
		threads:      NewThreadMap(),
		sigPolicy:    sharedSignalPolicy(),
		trace:        NewTraceRecorder(),
		shouldBreak:  cfg.ShouldBreak,
		cmdCh:        make(chan command, cfg.CommandQueueDepth),
		closed:       make(chan struct{}),
	}
	e.globalState.Store(int32(StateDetached))
	return e
}

func (e *Engine) setState(s GlobalState) {
	e.globalState.Store(int32(s))
}

func (e *Engine) getState() GlobalState {
	return GlobalState(e.globalState.Load())
}
