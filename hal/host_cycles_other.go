//go:build !tinygo && !linux && !darwin

package hal

import "time"

type hostCycles struct {
	start time.Time
}

func newHostCycles() Cycles { return hostCycles{start: time.Now()} }

func (c hostCycles) Now() uint64 { return uint64(time.Since(c.start)) }
