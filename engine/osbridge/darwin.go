//go:build darwin

// darwin.go - Mach-exception-based OS bridge
//
// Grounded on other_examples/c065fbc4_Dparker1990-dbg__proc-proc_darwin.go.go:
// the same task_for_pid/exception-port/thread_suspend/mach_vm_* shims,
// generalized from "one process, launched or attached once" to the
// engine's repeated attach/detach/reattach lifecycle (spec.md §3's
// "signal policy table persists across detach/reattach").

package osbridge

/*
#include <mach/mach.h>
#include <mach/mach_vm.h>
#include <mach/exception_types.h>
#include <stdlib.h>

kern_return_t nativedbg_acquire_task(int pid, task_t *task, mach_port_t *exc_port) {
	kern_return_t kr = task_for_pid(mach_task_self(), pid, task);
	if (kr != KERN_SUCCESS) {
		return kr;
	}
	kr = mach_port_allocate(mach_task_self(), MACH_PORT_RIGHT_RECEIVE, exc_port);
	if (kr != KERN_SUCCESS) {
		return kr;
	}
	kr = mach_port_insert_right(mach_task_self(), *exc_port, *exc_port, MACH_MSG_TYPE_MAKE_SEND);
	if (kr != KERN_SUCCESS) {
		return kr;
	}
	return task_set_exception_ports(*task, EXC_MASK_ALL, *exc_port, EXCEPTION_DEFAULT, THREAD_STATE_NONE);
}

kern_return_t nativedbg_restore_ports(task_t task) {
	return task_set_exception_ports(task, EXC_MASK_ALL, MACH_PORT_NULL, EXCEPTION_DEFAULT, THREAD_STATE_NONE);
}
*/
import "C"

import (
	"fmt"
	"time"
)

// DarwinBridge implements Bridge over cgo calls into the Mach kernel
// interface. One task-port cache is owned here, resolving the "two
// caches" open question from spec.md §9 by never creating a second.
type DarwinBridge struct {
	arch        Arch
	task        C.task_t
	excPort     C.mach_port_t
	threads     map[int]C.thread_act_t
	lastExcData []byte
}

func NewDarwinBridge(arch Arch) *DarwinBridge {
	return &DarwinBridge{arch: arch, threads: make(map[int]C.thread_act_t)}
}

func (b *DarwinBridge) Attach(pid int) (Handle, error) {
	var task C.task_t
	var excPort C.mach_port_t
	kr := C.nativedbg_acquire_task(C.int(pid), &task, &excPort)
	if kr != C.KERN_SUCCESS {
		return Handle{}, fmt.Errorf("task_for_pid/exception port setup failed: kr=%d", int(kr))
	}
	b.task = task
	b.excPort = excPort
	if err := b.refreshThreads(); err != nil {
		return Handle{}, err
	}
	return Handle{PID: pid, Arch: b.arch}, nil
}

func (b *DarwinBridge) Detach(h Handle) error {
	kr := C.nativedbg_restore_ports(b.task)
	if kr != C.KERN_SUCCESS {
		return fmt.Errorf("restore exception ports failed: kr=%d", int(kr))
	}
	for _, t := range b.threads {
		C.thread_resume(t)
	}
	b.threads = make(map[int]C.thread_act_t)
	return nil
}

func (b *DarwinBridge) refreshThreads() error {
	var list C.thread_act_array_t
	var count C.mach_msg_type_number_t
	kr := C.task_threads(b.task, &list, &count)
	if kr != C.KERN_SUCCESS {
		return fmt.Errorf("task_threads failed: kr=%d", int(kr))
	}
	n := int(count)
	slice := (*[1 << 10]C.thread_act_t)(unsafePointer(list))[:n:n]
	for _, t := range slice {
		b.threads[int(t)] = t
	}
	return nil
}

func (b *DarwinBridge) Threads(h Handle) ([]int, error) {
	tids := make([]int, 0, len(b.threads))
	for tid := range b.threads {
		tids = append(tids, tid)
	}
	return tids, nil
}

// WaitEvent receives on the installed exception port with a bounded
// timeout (MACH_RCV_TIMEOUT) and classifies the Mach exception type
// directly, unlike Linux where the dispatcher must disambiguate.
func (b *DarwinBridge) WaitEvent(h Handle, timeout time.Duration) (Event, bool, error) {
	ev, ok, err := b.receiveException(timeout)
	return ev, ok, err
}

func (b *DarwinBridge) Resume(h Handle, tid int, sig int, step bool) error {
	t, ok := b.threads[tid]
	if !ok {
		return fmt.Errorf("unknown thread %d", tid)
	}
	if step {
		if err := b.setSingleStep(t, true); err != nil {
			return err
		}
	}
	kr := C.thread_resume(t)
	if kr != C.KERN_SUCCESS {
		return fmt.Errorf("thread_resume failed: kr=%d", int(kr))
	}
	return nil
}

func (b *DarwinBridge) ReadMemory(h Handle, addr uint64, length int) ([]byte, error) {
	return b.machVMRead(addr, length)
}

func (b *DarwinBridge) WriteMemory(h Handle, addr uint64, data []byte) error {
	return b.machVMWrite(addr, data)
}

func (b *DarwinBridge) FaultAddr(h Handle, tid int) (uint64, bool, error) {
	return b.lastExceptionSubcode(tid)
}

// Regions enumerates every readable region of the task's address
// space, for the full-memory-cache dump.
func (b *DarwinBridge) Regions(h Handle) ([]MemoryRegion, error) {
	return b.machVMRegions(), nil
}
