//go:build linux

package main

import "github.com/intuitionamiga/nativedbg/engine/osbridge"

func newPlatformBridge(arch osbridge.Arch) (osbridge.Bridge, error) {
	return osbridge.NewLinuxBridge(arch), nil
}
