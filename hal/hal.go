package hal

import "errors"

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
	WriteLineBytes(b []byte)
}

var ErrNotImplemented = errors.New("not implemented")

// PixelFormat defines the framebuffer pixel encoding.
type PixelFormat uint8

const (
	// PixelFormatRGB565 is 16bpp: rrrrrggggggbbbbb.
	PixelFormatRGB565 PixelFormat = iota + 1
)

// Framebuffer is a simple pixel buffer plus a "present" hook.
type Framebuffer interface {
	Width() int
	Height() int
	Format() PixelFormat
	StrideBytes() int
	Buffer() []byte
	ClearRGB(r, g, b uint8)
	Present() error
}

// Display provides access to the framebuffer (if available).
type Display interface {
	Framebuffer() Framebuffer
}

// Time provides a base tick stream, one tick per millisecond.
type Time interface {
	Ticks() <-chan uint64
}

// Ports is the I/O port space. The kernel programs the interval timer
// through it.
type Ports interface {
	OutByte(port uint16, val uint8)
}

// Cycles is a monotonic cycle counter used for thread accounting.
type Cycles interface {
	Now() uint64
}

// HAL provides the only contact point between the OS and the outside world.
type HAL interface {
	Logger() Logger
	Display() Display
	Time() Time
	Ports() Ports
	Cycles() Cycles
}
