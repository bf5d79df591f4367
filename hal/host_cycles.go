//go:build !tinygo && (linux || darwin)

package hal

import "golang.org/x/sys/unix"

// hostCycles counts nanoseconds of CLOCK_MONOTONIC as cycles.
type hostCycles struct{}

func newHostCycles() Cycles { return hostCycles{} }

func (hostCycles) Now() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return uint64(ts.Nano())
}
