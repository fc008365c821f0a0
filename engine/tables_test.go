package engine

import (
	"testing"
	"time"
)

func TestAddSoftwareRejectsAddressHeldByHardware(t *testing.T) {
	tbl := NewBreakpointTable()
	if _, eerr := tbl.AddHardware(0x1000, 0, 0); eerr != nil {
		t.Fatalf("first AddHardware: %v", eerr)
	}
	if _, eerr := tbl.AddSoftware(0x1000, []byte{0x90}, 0); eerr == nil {
		t.Fatal("AddSoftware at an address already holding a hardware breakpoint should fail")
	}
}

func TestAddHardwareExhaustsSlots(t *testing.T) {
	tbl := NewBreakpointTable()
	for i := 0; i < NumHWBreakpoints; i++ {
		if _, eerr := tbl.AddHardware(uint64(0x1000+i), 0, 0); eerr != nil {
			t.Fatalf("slot %d: %v", i, eerr)
		}
	}
	if _, eerr := tbl.AddHardware(0x2000, 0, 0); eerr == nil {
		t.Fatal("expected ErrOutOfSlots once all hardware slots are used")
	} else if eerr.Kind != ErrOutOfSlots {
		t.Fatalf("got kind %v, want ErrOutOfSlots", eerr.Kind)
	}
}

func TestFindAnyAndRemoveSoftwareRestoresOriginalBytes(t *testing.T) {
	tbl := NewBreakpointTable()
	original := []byte{0x55, 0x48, 0x89, 0xe5}
	index, eerr := tbl.AddSoftware(0x4000, original, 0)
	if eerr != nil {
		t.Fatalf("AddSoftware: %v", eerr)
	}
	kind, foundIndex, ok := tbl.FindAny(0x4000)
	if !ok || kind != "sw" || foundIndex != index {
		t.Fatalf("FindAny = (%q, %d, %v), want (sw, %d, true)", kind, foundIndex, ok, index)
	}
	restored, n := tbl.RemoveSoftware(index)
	if n != len(original) {
		t.Fatalf("restored length = %d, want %d", n, len(original))
	}
	for i, b := range original {
		if restored[i] != b {
			t.Fatalf("restored[%d] = %#x, want %#x", i, restored[i], b)
		}
	}
	if _, _, ok := tbl.FindAny(0x4000); ok {
		t.Fatal("address should no longer be tracked after RemoveSoftware")
	}
}

func TestIncHWHitGatesOnTargetCount(t *testing.T) {
	tbl := NewBreakpointTable()
	index, eerr := tbl.AddHardware(0x5000, 3, 0)
	if eerr != nil {
		t.Fatalf("AddHardware: %v", eerr)
	}
	if tbl.IncHWHit(index) {
		t.Fatal("hit 1/3 should not reach target")
	}
	if tbl.IncHWHit(index) {
		t.Fatal("hit 2/3 should not reach target")
	}
	if !tbl.IncHWHit(index) {
		t.Fatal("hit 3/3 should reach target")
	}
}

func TestIncHWHitZeroTargetAlwaysBreaks(t *testing.T) {
	tbl := NewBreakpointTable()
	index, eerr := tbl.AddHardware(0x6000, 0, 0)
	if eerr != nil {
		t.Fatalf("AddHardware: %v", eerr)
	}
	if !tbl.IncHWHit(index) {
		t.Fatal("a target count of 0 should break on every hit")
	}
}

func TestIncSWHitGatesOnTargetCount(t *testing.T) {
	tbl := NewBreakpointTable()
	index, eerr := tbl.AddSoftware(0x9000, []byte{0x55}, 3)
	if eerr != nil {
		t.Fatalf("AddSoftware: %v", eerr)
	}
	if tbl.IncSWHit(index) {
		t.Fatal("hit 1/3 should not reach target")
	}
	if tbl.IncSWHit(index) {
		t.Fatal("hit 2/3 should not reach target")
	}
	if !tbl.IncSWHit(index) {
		t.Fatal("hit 3/3 should reach target")
	}
}

func TestFindWatchContaining(t *testing.T) {
	tbl := NewBreakpointTable()
	index, eerr := tbl.AddWatchpoint(0x7000, 8, WatchWrite)
	if eerr != nil {
		t.Fatalf("AddWatchpoint: %v", eerr)
	}
	if got, ok := tbl.FindWatchContaining(0x7004); !ok || got != index {
		t.Fatalf("FindWatchContaining(0x7004) = (%d, %v), want (%d, true)", got, ok, index)
	}
	if _, ok := tbl.FindWatchContaining(0x7008); ok {
		t.Fatal("0x7008 is one past the watched range and should not match")
	}
	if _, ok := tbl.FindWatchContaining(0x6fff); ok {
		t.Fatal("0x6fff is one before the watched range and should not match")
	}
}

func TestRemoveHardwareForcesResetAfterTimeout(t *testing.T) {
	tbl := NewBreakpointTable()
	index, eerr := tbl.AddHardware(0x8000, 0, 0)
	if eerr != nil {
		t.Fatalf("AddHardware: %v", eerr)
	}
	tbl.BeginHandlingHW(index) // simulate a handler that never calls EndHandlingHW

	warned := false
	done := make(chan struct{})
	go func() {
		tbl.RemoveHardware(index, func(int) { warned = true })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("RemoveHardware did not return within the bounded interlock timeout")
	}
	if !warned {
		t.Fatal("expected the forced-reset warning to fire")
	}
	if slot := tbl.HW(index); slot.InUse {
		t.Fatal("slot should be cleared after a forced reset")
	}
}
