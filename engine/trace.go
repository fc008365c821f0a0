// trace.go - trace recorder (component E)
//
// A binary file writer: fixed header then fixed-size repeated entries,
// per spec.md §6. No teacher file writes a binary trace format, but
// the fixed-header-then-fixed-record shape follows the save-state
// writers in the teacher's own bus/memory code style (explicit
// encoding/binary, no reflection-based serialization); the session id
// is the one [EXPANSION] addition (spec.md §3 / SPEC_FULL.md §3).

package engine

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

const (
	traceMagic   uint32 = 0x4e415444 // "NATD"
	traceVersion uint32 = 1
)

// TraceHeader is the fixed-size header written at the start of every
// trace file.
type TraceHeader struct {
	Magic     uint32
	Version   uint32
	Arch      uint32 // osbridge.Arch
	EntrySize uint32
	SessionID [16]byte
}

// TraceEntry is one recorded step. Register fields are a superset
// covering both supported architectures; unused fields are zero for
// the arch not in use, keeping EntrySize constant across a trace file
// regardless of which Arch it was recorded for.
type TraceEntry struct {
	Timestamp     uint64
	PC            uint64
	SP            uint64
	Regs          [31]uint64 // arch-ordered: X0-X30 on arm64, the 24 Amd64RegisterNames on amd64
	Flags         uint64     // PSTATE / RFLAGS
	InstrLen      uint32
	InstrText     [24]byte
	MemAccessAddr [6]uint64
	MemAccessLen  [6]uint32
	MemAccessKind [6]uint32  // 0 none, 1 read, 2 write
	MemWindows    [6][64]byte // 64-byte windows read from the first six argument registers
}

const traceEntrySize = 8 + 8 + 8 + 31*8 + 8 + 4 + 24 + 6*8 + 6*4 + 6*4 + 6*64

// TraceRecorder owns the optional trace file plus its companion
// memory-dump and memory-access-log side files (spec.md §4.E).
type TraceRecorder struct {
	mu        sync.Mutex
	w         *os.File
	sessionID uuid.UUID
	arch      Arch
	count     uint64

	memMu         sync.Mutex
	dumpWriter    *os.File
	dumpedOnce    bool
	accessLog     *os.File

	stopRequested atomic.Bool
	notifyUI      atomic.Bool
}

func NewTraceRecorder() *TraceRecorder {
	return &TraceRecorder{}
}

// Enable opens path and writes the header, starting a new session.
func (r *TraceRecorder) Enable(path string, arch Arch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w != nil {
		r.w.Close()
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create trace file: %w", err)
	}
	r.w = f
	r.arch = arch
	r.sessionID = uuid.New()
	r.count = 0
	r.stopRequested.Store(false)
	r.notifyUI.Store(false)
	hdr := TraceHeader{
		Magic:     traceMagic,
		Version:   traceVersion,
		Arch:      uint32(arch),
		EntrySize: traceEntrySize,
	}
	copy(hdr.SessionID[:], r.sessionID[:])
	if err := binary.Write(f, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("write trace header: %w", err)
	}
	return nil
}

// Disable closes the trace file, if open.
func (r *TraceRecorder) Disable() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	err := r.w.Close()
	r.w = nil
	return err
}

// Enabled reports whether a trace file is currently open.
func (r *TraceRecorder) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.w != nil
}

// WriteEntry appends one step to the open trace file. It is a no-op if
// no trace file is open.
func (r *TraceRecorder) WriteEntry(e TraceEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	if err := binary.Write(r.w, binary.LittleEndian, &e); err != nil {
		return fmt.Errorf("write trace entry: %w", err)
	}
	r.count++
	return nil
}

// EnableMemoryCache opens the optional full memory-dump and per-step
// memory-access-log side files.
func (r *TraceRecorder) EnableMemoryCache(dumpPath, logPath string) error {
	r.memMu.Lock()
	defer r.memMu.Unlock()
	if dumpPath != "" {
		f, err := os.Create(dumpPath)
		if err != nil {
			return fmt.Errorf("create memory dump file: %w", err)
		}
		r.dumpWriter = f
		r.dumpedOnce = false
	}
	if logPath != "" {
		f, err := os.Create(logPath)
		if err != nil {
			return fmt.Errorf("create memory access log: %w", err)
		}
		r.accessLog = f
	}
	return nil
}

// DumpPending reports whether the one-time full memory dump for this
// session has not yet been written.
func (r *TraceRecorder) DumpPending() bool {
	r.memMu.Lock()
	defer r.memMu.Unlock()
	return r.dumpWriter != nil && !r.dumpedOnce
}

func (r *TraceRecorder) DisableMemoryCache() {
	r.memMu.Lock()
	defer r.memMu.Unlock()
	if r.dumpWriter != nil {
		r.dumpWriter.Close()
		r.dumpWriter = nil
	}
	if r.accessLog != nil {
		r.accessLog.Close()
		r.accessLog = nil
	}
	r.dumpedOnce = false
}

// WriteMemorySnapshot writes the one-time full memory dump, if the
// memory cache is enabled and no dump has been written yet this
// session.
func (r *TraceRecorder) WriteMemorySnapshot(data []byte) error {
	r.memMu.Lock()
	defer r.memMu.Unlock()
	if r.dumpWriter == nil || r.dumpedOnce {
		return nil
	}
	if _, err := r.dumpWriter.Write(data); err != nil {
		return fmt.Errorf("write memory snapshot: %w", err)
	}
	r.dumpedOnce = true
	return nil
}

// LogMemoryAccess appends one line to the access log, if enabled.
func (r *TraceRecorder) LogMemoryAccess(addr uint64, length int, write bool) error {
	r.memMu.Lock()
	defer r.memMu.Unlock()
	if r.accessLog == nil {
		return nil
	}
	kind := "R"
	if write {
		kind = "W"
	}
	_, err := fmt.Fprintf(r.accessLog, "%s 0x%x %d\n", kind, addr, length)
	return err
}

// RequestStop asks the recording session to end (spec.md §4.E): the
// engine's next trace step closes the file instead of writing an entry.
// notifyUI marks whether the caller also wants a UI-visible
// notification bit set alongside the stop.
func (r *TraceRecorder) RequestStop(notifyUI bool) {
	r.stopRequested.Store(true)
	r.notifyUI.Store(notifyUI)
}

func (r *TraceRecorder) StopRequested() bool { return r.stopRequested.Load() }
func (r *TraceRecorder) NotifyUIRequested() bool { return r.notifyUI.Load() }

func (r *TraceRecorder) ClearStopRequest() {
	r.stopRequested.Store(false)
	r.notifyUI.Store(false)
}

// SessionID returns the active session's UUID, or the zero UUID if no
// session is open.
func (r *TraceRecorder) SessionID() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}
