package engine

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestTraceRecorderWritesHeaderAndEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.bin")

	rec := NewTraceRecorder()
	if rec.Enabled() {
		t.Fatal("recorder should start disabled")
	}
	if err := rec.Enable(path, ArchAMD64); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if !rec.Enabled() {
		t.Fatal("recorder should be enabled after Enable")
	}

	entry := TraceEntry{PC: 0x401000, SP: 0x7ffee0000000, InstrLen: 1}
	copy(entry.InstrText[:], "nop")
	if err := rec.WriteEntry(entry); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}
	if err := rec.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	const headerSize = 4 + 4 + 4 + 4 + 16
	if len(data) != headerSize+traceEntrySize {
		t.Fatalf("file size = %d, want %d", len(data), headerSize+traceEntrySize)
	}
	magic := binary.LittleEndian.Uint32(data[0:4])
	if magic != traceMagic {
		t.Fatalf("magic = %#x, want %#x", magic, traceMagic)
	}
	arch := binary.LittleEndian.Uint32(data[8:12])
	if arch != uint32(ArchAMD64) {
		t.Fatalf("arch = %d, want %d", arch, ArchAMD64)
	}
}

func TestTraceRecorderWriteEntryNoopWhenDisabled(t *testing.T) {
	rec := NewTraceRecorder()
	if err := rec.WriteEntry(TraceEntry{}); err != nil {
		t.Fatalf("WriteEntry on a disabled recorder should be a no-op, got %v", err)
	}
}

func TestMemorySnapshotWritesOnlyOnce(t *testing.T) {
	dir := t.TempDir()
	dumpPath := filepath.Join(dir, "dump.bin")
	logPath := filepath.Join(dir, "access.log")

	rec := NewTraceRecorder()
	if err := rec.EnableMemoryCache(dumpPath, logPath); err != nil {
		t.Fatalf("EnableMemoryCache: %v", err)
	}
	defer rec.DisableMemoryCache()

	if err := rec.WriteMemorySnapshot([]byte("first")); err != nil {
		t.Fatalf("first WriteMemorySnapshot: %v", err)
	}
	if err := rec.WriteMemorySnapshot([]byte("second")); err != nil {
		t.Fatalf("second WriteMemorySnapshot: %v", err)
	}
	if err := rec.LogMemoryAccess(0x1000, 4, true); err != nil {
		t.Fatalf("LogMemoryAccess: %v", err)
	}

	data, err := os.ReadFile(dumpPath)
	if err != nil {
		t.Fatalf("ReadFile dump: %v", err)
	}
	if string(data) != "first" {
		t.Fatalf("dump contents = %q, want %q (second call must be ignored)", data, "first")
	}
}

func TestRequestStopAndClear(t *testing.T) {
	rec := NewTraceRecorder()
	rec.RequestStop(true)
	if !rec.StopRequested() || !rec.NotifyUIRequested() {
		t.Fatal("RequestStop(true) should set both flags")
	}
	rec.ClearStopRequest()
	if rec.StopRequested() || rec.NotifyUIRequested() {
		t.Fatal("ClearStopRequest should clear both flags")
	}
}
