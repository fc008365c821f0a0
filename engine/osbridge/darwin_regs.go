//go:build darwin

// darwin_regs.go - thread_get_state/thread_set_state register and
// hardware debug-state access for DarwinBridge.

package osbridge

/*
#include <mach/mach.h>
#include <mach/thread_status.h>

#if defined(__arm64__) || defined(__aarch64__)
typedef arm_thread_state64_t nativedbg_gpr_state;
typedef arm_debug_state64_t nativedbg_dbg_state;
#define NATIVEDBG_GPR_FLAVOR ARM_THREAD_STATE64
#define NATIVEDBG_GPR_COUNT ARM_THREAD_STATE64_COUNT
#define NATIVEDBG_DBG_FLAVOR ARM_DEBUG_STATE64
#define NATIVEDBG_DBG_COUNT ARM_DEBUG_STATE64_COUNT
#else
typedef x86_thread_state64_t nativedbg_gpr_state;
typedef x86_debug_state64_t nativedbg_dbg_state;
#define NATIVEDBG_GPR_FLAVOR x86_THREAD_STATE64
#define NATIVEDBG_GPR_COUNT x86_THREAD_STATE64_COUNT
#define NATIVEDBG_DBG_FLAVOR x86_DEBUG_STATE64
#define NATIVEDBG_DBG_COUNT x86_DEBUG_STATE64_COUNT
#endif

kern_return_t nativedbg_get_gpr(thread_act_t t, nativedbg_gpr_state *st) {
	mach_msg_type_number_t count = NATIVEDBG_GPR_COUNT;
	return thread_get_state(t, NATIVEDBG_GPR_FLAVOR, (thread_state_t)st, &count);
}

kern_return_t nativedbg_set_gpr(thread_act_t t, nativedbg_gpr_state *st) {
	return thread_set_state(t, NATIVEDBG_GPR_FLAVOR, (thread_state_t)st, NATIVEDBG_GPR_COUNT);
}

kern_return_t nativedbg_get_dbg(thread_act_t t, nativedbg_dbg_state *st) {
	mach_msg_type_number_t count = NATIVEDBG_DBG_COUNT;
	return thread_get_state(t, NATIVEDBG_DBG_FLAVOR, (thread_state_t)st, &count);
}

kern_return_t nativedbg_set_dbg(thread_act_t t, nativedbg_dbg_state *st) {
	return thread_set_state(t, NATIVEDBG_DBG_FLAVOR, (thread_state_t)st, NATIVEDBG_DBG_COUNT);
}
*/
import "C"

import "fmt"

func (b *DarwinBridge) GetRegisters(h Handle, tid int) (Registers, error) {
	t, ok := b.threads[tid]
	if !ok {
		return Registers{}, fmt.Errorf("unknown thread %d", tid)
	}
	var st C.nativedbg_gpr_state
	if kr := C.nativedbg_get_gpr(t, &st); kr != C.KERN_SUCCESS {
		return Registers{}, fmt.Errorf("thread_get_state failed: kr=%d", int(kr))
	}
	r := NewRegisters(b.arch)
	if b.arch == ArchARM64 {
		for i := 0; i < 29; i++ {
			r.Set(Arm64RegisterNames[i], uint64(st.__x[i]))
		}
		r.Set("X29", uint64(st.__fp))
		r.Set("X30", uint64(st.__lr))
		r.Set("SP", uint64(st.__sp))
		r.Set("PC", uint64(st.__pc))
		r.Set("PSTATE", uint64(st.__cpsr))
	} else {
		r.Set("RAX", uint64(st.__rax))
		r.Set("RBX", uint64(st.__rbx))
		r.Set("RCX", uint64(st.__rcx))
		r.Set("RDX", uint64(st.__rdx))
		r.Set("RSI", uint64(st.__rsi))
		r.Set("RDI", uint64(st.__rdi))
		r.Set("RBP", uint64(st.__rbp))
		r.Set("RSP", uint64(st.__rsp))
		r.Set("RIP", uint64(st.__rip))
		r.Set("RFLAGS", uint64(st.__rflags))
	}
	return r, nil
}

func (b *DarwinBridge) SetRegisters(h Handle, tid int, r Registers) error {
	t, ok := b.threads[tid]
	if !ok {
		return fmt.Errorf("unknown thread %d", tid)
	}
	var st C.nativedbg_gpr_state
	if kr := C.nativedbg_get_gpr(t, &st); kr != C.KERN_SUCCESS {
		return fmt.Errorf("thread_get_state failed: kr=%d", int(kr))
	}
	if b.arch == ArchARM64 {
		for i := 0; i < 29; i++ {
			if v, ok := r.Get(Arm64RegisterNames[i]); ok {
				st.__x[i] = C.uint64_t(v)
			}
		}
		if v, ok := r.Get("PC"); ok {
			st.__pc = C.uint64_t(v)
		}
		if v, ok := r.Get("SP"); ok {
			st.__sp = C.uint64_t(v)
		}
	} else {
		if v, ok := r.Get("RIP"); ok {
			st.__rip = C.uint64_t(v)
		}
		if v, ok := r.Get("RSP"); ok {
			st.__rsp = C.uint64_t(v)
		}
	}
	if kr := C.nativedbg_set_gpr(t, &st); kr != C.KERN_SUCCESS {
		return fmt.Errorf("thread_set_state failed: kr=%d", int(kr))
	}
	return nil
}

func (b *DarwinBridge) GetDebugRegisters(h Handle, tid int) (DebugRegisters, error) {
	t, ok := b.threads[tid]
	if !ok {
		return DebugRegisters{}, fmt.Errorf("unknown thread %d", tid)
	}
	var st C.nativedbg_dbg_state
	if kr := C.nativedbg_get_dbg(t, &st); kr != C.KERN_SUCCESS {
		return DebugRegisters{}, fmt.Errorf("thread_get_state(debug) failed: kr=%d", int(kr))
	}
	var dr DebugRegisters
	if b.arch == ArchARM64 {
		for i := 0; i < 4; i++ {
			dr.BVR[i] = uint64(st.__bvr[i])
			dr.BCR[i] = uint32(st.__bcr[i])
			dr.WVR[i] = uint64(st.__wvr[i])
			dr.WCR[i] = uint32(st.__wcr[i])
		}
	} else {
		dr.DR[0] = uint64(st.__dr0)
		dr.DR[1] = uint64(st.__dr1)
		dr.DR[2] = uint64(st.__dr2)
		dr.DR[3] = uint64(st.__dr3)
		dr.DR6 = uint64(st.__dr6)
		dr.DR7 = uint64(st.__dr7)
		dr.HaveDR6 = true
	}
	return dr, nil
}

func (b *DarwinBridge) SetDebugRegisters(h Handle, tid int, dr DebugRegisters) error {
	t, ok := b.threads[tid]
	if !ok {
		return fmt.Errorf("unknown thread %d", tid)
	}
	var st C.nativedbg_dbg_state
	if b.arch == ArchARM64 {
		for i := 0; i < 4; i++ {
			st.__bvr[i] = C.uint64_t(dr.BVR[i])
			st.__bcr[i] = C.uint32_t(dr.BCR[i])
			st.__wvr[i] = C.uint64_t(dr.WVR[i])
			st.__wcr[i] = C.uint32_t(dr.WCR[i])
		}
	} else {
		st.__dr0 = C.uint64_t(dr.DR[0])
		st.__dr1 = C.uint64_t(dr.DR[1])
		st.__dr2 = C.uint64_t(dr.DR[2])
		st.__dr3 = C.uint64_t(dr.DR[3])
		st.__dr6 = C.uint64_t(dr.DR6)
		st.__dr7 = C.uint64_t(dr.DR7)
	}
	if kr := C.nativedbg_set_dbg(t, &st); kr != C.KERN_SUCCESS {
		return fmt.Errorf("thread_set_state(debug) failed: kr=%d", int(kr))
	}
	return nil
}

func (b *DarwinBridge) threadIsSingleStepping(tid int) bool {
	t, ok := b.threads[tid]
	if !ok {
		return false
	}
	var st C.nativedbg_dbg_state
	if kr := C.nativedbg_get_dbg(t, &st); kr != C.KERN_SUCCESS {
		return false
	}
	if b.arch == ArchARM64 {
		return st.__mdscr_el1&1 != 0
	}
	return false
}

func (b *DarwinBridge) setSingleStepState(t C.thread_act_t, on bool) error {
	var st C.nativedbg_dbg_state
	if kr := C.nativedbg_get_dbg(t, &st); kr != C.KERN_SUCCESS {
		return fmt.Errorf("thread_get_state(debug) failed: kr=%d", int(kr))
	}
	if b.arch == ArchARM64 {
		if on {
			st.__mdscr_el1 |= 1
		} else {
			st.__mdscr_el1 &^= 1
		}
	}
	if kr := C.nativedbg_set_dbg(t, &st); kr != C.KERN_SUCCESS {
		return fmt.Errorf("thread_set_state(debug) failed: kr=%d", int(kr))
	}
	return nil
}
