// nativedbgd is a line-oriented smoke-test harness for package engine,
// not a debugger product: it attaches to one pid and executes commands
// typed on stdin, one per line, printing whatever the engine returns.

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/intuitionamiga/nativedbg/engine"
	"github.com/intuitionamiga/nativedbg/engine/osbridge"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: nativedbgd <pid>")
		os.Exit(1)
	}
	pid, err := strconv.Atoi(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid pid %q: %v\n", os.Args[1], err)
		os.Exit(1)
	}

	arch := osbridge.ArchAMD64
	if runtime.GOARCH == "arm64" {
		arch = osbridge.ArchARM64
	}

	bridge, err := newBridge(arch)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unsupported platform: %v\n", err)
		os.Exit(1)
	}

	eng := engine.New(engine.Config{Bridge: bridge, Arch: arch})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	if eerr := eng.Attach(pid); eerr != nil {
		fmt.Fprintf(os.Stderr, "attach %d failed: %v\n", pid, eerr)
		os.Exit(1)
	}
	fmt.Printf("attached to pid %d (%s)\n", pid, arch)

	runCommandLoop(eng, pid)

	if eerr := eng.Detach(); eerr != nil {
		fmt.Fprintf(os.Stderr, "detach failed: %v\n", eerr)
	}
}

func runCommandLoop(eng *engine.Engine, pid int) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("commands: cont | step | reg <name> | setreg <name> <value> | break <addr> | watch <addr> <size> | state | quit")
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if !dispatch(eng, pid, fields) {
			return
		}
	}
}

func dispatch(eng *engine.Engine, pid int, fields []string) bool {
	switch fields[0] {
	case "quit", "exit":
		return false
	case "cont":
		if eerr := eng.Continue(pid); eerr != nil {
			fmt.Println("error:", eerr)
		}
	case "step":
		if eerr := eng.SingleStep(pid); eerr != nil {
			fmt.Println("error:", eerr)
		}
	case "reg":
		if len(fields) != 2 {
			fmt.Println("usage: reg <name>")
			break
		}
		v, eerr := eng.ReadRegister(pid, fields[1])
		if eerr != nil {
			fmt.Println("error:", eerr)
			break
		}
		fmt.Printf("%s = 0x%x\n", strings.ToUpper(fields[1]), v)
	case "setreg":
		if len(fields) != 3 {
			fmt.Println("usage: setreg <name> <value>")
			break
		}
		v, err := strconv.ParseUint(fields[2], 0, 64)
		if err != nil {
			fmt.Println("bad value:", err)
			break
		}
		if eerr := eng.WriteRegister(pid, fields[1], v); eerr != nil {
			fmt.Println("error:", eerr)
		}
	case "break":
		if len(fields) != 2 {
			fmt.Println("usage: break <addr>")
			break
		}
		addr, err := strconv.ParseUint(fields[1], 0, 64)
		if err != nil {
			fmt.Println("bad address:", err)
			break
		}
		index, eerr := eng.SetSoftwareBreakpoint(addr, 0)
		if eerr != nil {
			fmt.Println("error:", eerr)
			break
		}
		fmt.Printf("breakpoint %d at 0x%x\n", index, addr)
	case "watch":
		if len(fields) != 3 {
			fmt.Println("usage: watch <addr> <size>")
			break
		}
		addr, err := strconv.ParseUint(fields[1], 0, 64)
		if err != nil {
			fmt.Println("bad address:", err)
			break
		}
		size, err := strconv.Atoi(fields[2])
		if err != nil {
			fmt.Println("bad size:", err)
			break
		}
		index, eerr := eng.SetWatchpoint(addr, size, engine.WatchAccess)
		if eerr != nil {
			fmt.Println("error:", eerr)
			break
		}
		fmt.Printf("watchpoint %d at 0x%x\n", index, addr)
	case "state":
		fmt.Println(eng.State())
	default:
		fmt.Println("unknown command:", fields[0])
	}
	return true
}

func newBridge(arch osbridge.Arch) (osbridge.Bridge, error) {
	return newPlatformBridge(arch)
}
