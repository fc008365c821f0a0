//go:build darwin

// darwin_mem.go - mach_vm_read/mach_vm_write plumbing,
// exception-port receive and register access for DarwinBridge.

package osbridge

/*
#include <mach/mach.h>
#include <mach/mach_vm.h>
#include <mach/exception_types.h>
#include <mach/message.h>
#include <string.h>

typedef struct {
	mach_msg_header_t head;
	char data[1024];
} nativedbg_exc_msg;

kern_return_t nativedbg_vm_read(task_t task, mach_vm_address_t addr, mach_vm_size_t size, vm_offset_t *data, mach_msg_type_number_t *count) {
	return mach_vm_read(task, addr, size, data, count);
}

kern_return_t nativedbg_vm_write(task_t task, mach_vm_address_t addr, vm_offset_t data, mach_msg_type_number_t count) {
	vm_prot_t cur, max;
	kern_return_t kr = mach_vm_protect(task, addr, count, 0, VM_PROT_READ|VM_PROT_WRITE|VM_PROT_COPY);
	if (kr != KERN_SUCCESS) {
		return kr;
	}
	kr = mach_vm_write(task, addr, data, count);
	mach_vm_protect(task, addr, count, 0, VM_PROT_READ|VM_PROT_EXECUTE);
	return kr;
}

kern_return_t nativedbg_recv(mach_port_t port, nativedbg_exc_msg *msg, mach_msg_timeout_t timeout_ms) {
	return mach_msg(&msg->head, MACH_RCV_MSG|MACH_RCV_TIMEOUT, 0, sizeof(nativedbg_exc_msg), port, timeout_ms, MACH_PORT_NULL);
}

kern_return_t nativedbg_vm_region(task_t task, mach_vm_address_t *addr, mach_vm_size_t *size, vm_prot_t *prot) {
	mach_port_t object_name;
	vm_region_basic_info_data_64_t info;
	mach_msg_type_number_t count = VM_REGION_BASIC_INFO_COUNT_64;
	kern_return_t kr = mach_vm_region(task, addr, size, VM_REGION_BASIC_INFO_64, (vm_region_info_t)&info, &count, &object_name);
	if (kr == KERN_SUCCESS) {
		*prot = info.protection;
	}
	return kr;
}
*/
import "C"

import (
	"encoding/binary"
	"fmt"
	"time"
	"unsafe"
)

func unsafePointer(p C.thread_act_array_t) unsafe.Pointer { return unsafe.Pointer(p) }

func (b *DarwinBridge) machVMRead(addr uint64, length int) ([]byte, error) {
	var data C.vm_offset_t
	var count C.mach_msg_type_number_t
	kr := C.nativedbg_vm_read(b.task, C.mach_vm_address_t(addr), C.mach_vm_size_t(length), &data, &count)
	if kr != C.KERN_SUCCESS {
		return nil, &fault{addr: addr, err: fmt.Errorf("mach_vm_read kr=%d", int(kr))}
	}
	defer C.vm_deallocate(C.mach_task_self_, C.vm_address_t(data), C.vm_size_t(count))
	out := C.GoBytes(unsafe.Pointer(data), C.int(count))
	return out, nil
}

func (b *DarwinBridge) machVMWrite(addr uint64, buf []byte) error {
	kr := C.nativedbg_vm_write(b.task, C.mach_vm_address_t(addr),
		C.vm_offset_t(uintptr(unsafe.Pointer(&buf[0]))), C.mach_msg_type_number_t(len(buf)))
	if kr != C.KERN_SUCCESS {
		return &fault{addr: addr, err: fmt.Errorf("mach_vm_write kr=%d", int(kr))}
	}
	return nil
}

// receiveException blocks on the exception port up to timeout and
// classifies the result. Exception subcodes carry the faulting address
// for EXC_BAD_ACCESS (watchpoint hits); EXC_BREAKPOINT covers both
// software (BRK) and hardware breakpoint/single-step traps. Reading the
// thread's debug state separates single-step completions; other
// breakpoint traps are left TrapUnknown for the dispatcher's PC lookup.
// Both kinds carry Signal 5 (SIGTRAP) so the dispatcher treats them as
// traps rather than as plain signals.
func (b *DarwinBridge) receiveException(timeout time.Duration) (Event, bool, error) {
	var msg C.nativedbg_exc_msg
	kr := C.nativedbg_recv(b.excPort, &msg, C.mach_msg_timeout_t(timeout.Milliseconds()))
	if kr == C.MACH_RCV_TIMED_OUT {
		return Event{}, false, nil
	}
	if kr != C.KERN_SUCCESS {
		return Event{}, false, fmt.Errorf("mach_msg receive failed: kr=%d", int(kr))
	}
	// msg.data layout after the header is implementation-specific
	// (mach_exception_raise_request); the exception code/subcode and
	// originating thread port are decoded by the generated MIG server
	// stub in a full implementation. Here the raw bytes are kept as the
	// seam a MIG-generated nativedbg_exc_server.c would fill in.
	b.lastExcData = C.GoBytes(unsafe.Pointer(&msg.data[0]), C.int(len(msg.data)))
	tid := b.lastExceptionThread()
	code := b.lastExceptionCode()
	ev := Event{TID: tid}
	switch code {
	case C.EXC_BREAKPOINT:
		ev.Kind = EventStopped
		ev.Signal = 5         // SIGTRAP
		ev.Trap = TrapUnknown // refined by single-step-state check below
		if b.threadIsSingleStepping(tid) {
			ev.Trap = TrapSoftwareStep
		}
	case C.EXC_BAD_ACCESS:
		ev.Kind = EventStopped
		ev.Signal = 5 // SIGTRAP
		ev.Trap = TrapWatch
	default:
		ev.Kind = EventStopped
	}
	return ev, true, nil
}

func (b *DarwinBridge) lastExceptionThread() int {
	if len(b.lastExcData) < 4 {
		return 0
	}
	return int(binary.LittleEndian.Uint32(b.lastExcData[0:4]))
}

func (b *DarwinBridge) lastExceptionCode() C.exception_type_t {
	if len(b.lastExcData) < 8 {
		return 0
	}
	return C.exception_type_t(binary.LittleEndian.Uint32(b.lastExcData[4:8]))
}

func (b *DarwinBridge) lastExceptionSubcode(tid int) (uint64, bool, error) {
	if len(b.lastExcData) < 16 {
		return 0, false, nil
	}
	return binary.LittleEndian.Uint64(b.lastExcData[8:16]), true, nil
}

func (b *DarwinBridge) setSingleStep(t C.thread_act_t, on bool) error {
	return b.setSingleStepState(t, on)
}

// machVMRegions enumerates every region of the task's address space
// readable by VM_PROT_READ, advancing by the returned region size
// until mach_vm_region stops reporting KERN_SUCCESS.
func (b *DarwinBridge) machVMRegions() []MemoryRegion {
	var regions []MemoryRegion
	addr := C.mach_vm_address_t(0)
	for {
		size := C.mach_vm_size_t(0)
		prot := C.vm_prot_t(0)
		kr := C.nativedbg_vm_region(b.task, &addr, &size, &prot)
		if kr != C.KERN_SUCCESS {
			break
		}
		if prot&C.VM_PROT_READ != 0 {
			regions = append(regions, MemoryRegion{Start: uint64(addr), End: uint64(addr) + uint64(size)})
		}
		addr += C.mach_vm_address_t(size)
	}
	return regions
}
