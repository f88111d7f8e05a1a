//go:build linux
// +build linux

// control/platform_linux.go
//
// Linux-specific debug probes. A LoRa-class node's host controller is
// frequently a Linux SBC (Raspberry Pi, OpenWrt router) running
// cuttlefish alongside the radio driver, so CPU count is worth exposing
// per-platform the same way the teacher's build-tag-partitioned probe
// registration does.
package control

import (
	"runtime"
)

// RegisterPlatformProbes sets the Linux build's debug metrics (currently
// the same platform.cpus probe as platform_other.go).
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
}
