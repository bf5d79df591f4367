//go:build !tinygo

package hal

import (
	"fmt"
	"io"
	"os"

	"gvisor.dev/gvisor/pkg/sync"
)

type hostHAL struct {
	logger *hostLogger
	fb     *hostFramebuffer
	t      *hostTime
	ports  *HostPorts
	cycles Cycles
}

// New returns a host HAL implementation logging to stdout.
func New() HAL {
	return newHost(os.Stdout)
}

func newHost(w io.Writer) *hostHAL {
	logger := &hostLogger{w: w}
	return &hostHAL{
		logger: logger,
		fb:     newHostFramebuffer(320, 320),
		t:      newHostTime(),
		ports:  &HostPorts{},
		cycles: newHostCycles(),
	}
}

func (h *hostHAL) Logger() Logger   { return h.logger }
func (h *hostHAL) Display() Display { return hostDisplay{fb: h.fb} }
func (h *hostHAL) Time() Time       { return h.t }
func (h *hostHAL) Ports() Ports     { return h.ports }
func (h *hostHAL) Cycles() Cycles   { return h.cycles }

type hostDisplay struct {
	fb *hostFramebuffer
}

func (d hostDisplay) Framebuffer() Framebuffer { return d.fb }

type hostLogger struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *hostLogger) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, s)
}

func (l *hostLogger) WriteLineBytes(b []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write(b)
	l.w.Write([]byte{'\n'})
}

// PortWrite is one recorded port write.
type PortWrite struct {
	Port uint16
	Val  uint8
}

// HostPorts stands in for the I/O port space. Writes are recorded and the
// interval timer programming is decoded so the host tick source can follow it.
type HostPorts struct {
	mu     sync.Mutex
	writes []PortWrite

	pitMode    uint8
	pitLow     bool
	pitDivisor uint16
	pitPending uint16
}

// PIT ports and base frequency.
const (
	PITChannel0 = 0x40
	PITCommand  = 0x43
	PITBaseHz   = 1193182
)

func (p *HostPorts) OutByte(port uint16, val uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, PortWrite{port, val})
	switch port {
	case PITCommand:
		p.pitMode = val
		p.pitLow = true
	case PITChannel0:
		if p.pitLow {
			p.pitPending = uint16(val)
			p.pitLow = false
			return
		}
		p.pitDivisor = p.pitPending | uint16(val)<<8
	}
}

// Writes returns the recorded writes in order.
func (p *HostPorts) Writes() []PortWrite {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PortWrite(nil), p.writes...)
}

// TimerHz returns the frequency channel 0 was programmed to, or zero.
func (p *HostPorts) TimerHz() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pitDivisor == 0 {
		return 0
	}
	return PITBaseHz / int(p.pitDivisor)
}
