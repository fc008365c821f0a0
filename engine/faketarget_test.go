// faketarget_test.go - a scripted osbridge.Bridge fake driving the
// scenario tests below, since CI cannot assume ptrace/Mach permissions
// (mirrors the teacher's own approach of constructing a CPU_X86 and
// driving it directly instead of spawning a real machine, per
// cpu_x86_test.go).

package engine

import (
	"sync"
	"time"

	"github.com/intuitionamiga/nativedbg/engine/osbridge"
)

type resumeCall struct {
	tid  int
	sig  int
	step bool
}

type fakeBridge struct {
	mu sync.Mutex

	regs    map[int]osbridge.Registers
	dbgRegs map[int]osbridge.DebugRegisters
	mem     map[uint64]byte

	events chan osbridge.Event

	resumes   []resumeCall
	faultAddr uint64
	faultOK   bool
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		regs:    make(map[int]osbridge.Registers),
		dbgRegs: make(map[int]osbridge.DebugRegisters),
		mem:     make(map[uint64]byte),
		events:  make(chan osbridge.Event, 16),
	}
}

func (f *fakeBridge) setPC(tid int, pc uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.regs[tid]
	if !ok {
		r = osbridge.NewRegisters(osbridge.ArchAMD64)
	}
	r.SetPC(pc)
	f.regs[tid] = r
}

func (f *fakeBridge) setFault(addr uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faultAddr = addr
	f.faultOK = true
}

func (f *fakeBridge) push(ev osbridge.Event) { f.events <- ev }

func (f *fakeBridge) resumeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resumes)
}

func (f *fakeBridge) lastResume() resumeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resumes[len(f.resumes)-1]
}

func (f *fakeBridge) Attach(pid int) (osbridge.Handle, error) {
	return osbridge.Handle{PID: pid, Arch: osbridge.ArchAMD64}, nil
}

func (f *fakeBridge) Detach(h osbridge.Handle) error { return nil }

func (f *fakeBridge) Threads(h osbridge.Handle) ([]int, error) { return nil, nil }

func (f *fakeBridge) WaitEvent(h osbridge.Handle, timeout time.Duration) (osbridge.Event, bool, error) {
	select {
	case ev := <-f.events:
		return ev, true, nil
	case <-time.After(timeout):
		return osbridge.Event{}, false, nil
	}
}

func (f *fakeBridge) Resume(h osbridge.Handle, tid int, sig int, step bool) error {
	f.mu.Lock()
	f.resumes = append(f.resumes, resumeCall{tid: tid, sig: sig, step: step})
	f.mu.Unlock()
	return nil
}

func (f *fakeBridge) GetRegisters(h osbridge.Handle, tid int) (osbridge.Registers, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.regs[tid]
	if !ok {
		r = osbridge.NewRegisters(osbridge.ArchAMD64)
	}
	return r, nil
}

func (f *fakeBridge) SetRegisters(h osbridge.Handle, tid int, regs osbridge.Registers) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[tid] = regs
	return nil
}

func (f *fakeBridge) ReadMemory(h osbridge.Handle, addr uint64, length int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, length)
	for i := 0; i < length; i++ {
		out[i] = f.mem[addr+uint64(i)]
	}
	return out, nil
}

func (f *fakeBridge) WriteMemory(h osbridge.Handle, addr uint64, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, b := range data {
		f.mem[addr+uint64(i)] = b
	}
	return nil
}

func (f *fakeBridge) FaultAddr(h osbridge.Handle, tid int) (uint64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.faultAddr, f.faultOK, nil
}

func (f *fakeBridge) GetDebugRegisters(h osbridge.Handle, tid int) (osbridge.DebugRegisters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dbgRegs[tid], nil
}

func (f *fakeBridge) SetDebugRegisters(h osbridge.Handle, tid int, dr osbridge.DebugRegisters) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dbgRegs[tid] = dr
	return nil
}

func (f *fakeBridge) Regions(h osbridge.Handle) ([]osbridge.MemoryRegion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var regions []osbridge.MemoryRegion
	for addr := range f.mem {
		regions = append(regions, osbridge.MemoryRegion{Start: addr, End: addr + 1})
	}
	return regions, nil
}

var _ osbridge.Bridge = (*fakeBridge)(nil)
