package console

import (
	"image/color"
	"strings"
	"testing"

	"nanokern/hal"
	"nanokern/kernel/mem"
	"nanokern/kernel/task"
	"nanokern/kernel/vfs"
)

type testFB struct {
	w, h     int
	buf      []byte
	presents int
}

func newTestFB(w, h int) *testFB { return &testFB{w: w, h: h, buf: make([]byte, w*h*2)} }

func (f *testFB) Width() int                   { return f.w }
func (f *testFB) Height() int                  { return f.h }
func (f *testFB) Format() hal.PixelFormat      { return hal.PixelFormatRGB565 }
func (f *testFB) StrideBytes() int             { return f.w * 2 }
func (f *testFB) Buffer() []byte               { return f.buf }
func (f *testFB) Present() error               { f.presents++; return nil }
func (f *testFB) Framebuffer() hal.Framebuffer { return f }

func (f *testFB) ClearRGB(r, g, b uint8) {
	for i := range f.buf {
		f.buf[i] = 0
	}
}

func TestConsoleHistory(t *testing.T) {
	c := New(nil)
	for i := 0; i < HistoryLines+5; i++ {
		c.WriteLineString("line")
	}
	c.WriteLineBytes([]byte("last"))
	lines := c.Lines()
	if len(lines) != HistoryLines || lines[len(lines)-1] != "last" {
		t.Fatalf("expected %d lines ending with last, got %d", HistoryLines, len(lines))
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	c.Clear()
	if len(c.Lines()) != 0 {
		t.Fatal("expected an empty history")
	}
}

func TestConsoleFlushPresents(t *testing.T) {
	fb := newTestFB(64, 40)
	c := New(fb)
	c.WriteLineString("hello")
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if fb.presents != 1 {
		t.Fatalf("expected one present, got %d", fb.presents)
	}
	if err := c.Flush(); err != nil || fb.presents != 1 {
		t.Fatalf("expected nothing to draw, got %d presents, %v", fb.presents, err)
	}
}

func TestDisplayScrollComposes(t *testing.T) {
	fb := newTestFB(2, 4)
	d := newFBDisplay(fb)
	d.FillRectangle(0, 1, 2, 1, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	d.SetScroll(1)
	d.Display()
	// Row 1 of the shadow buffer is now the top row.
	if fb.buf[0] != 0xFF || fb.buf[4] != 0 {
		t.Fatalf("expected the scroll line on top, got %v", fb.buf)
	}
	d.SetScroll(-1)
	d.Display()
	if fb.buf[2*2*2] != 0xFF {
		t.Fatalf("expected a negative scroll to wrap, got %v", fb.buf)
	}
}

func TestDumps(t *testing.T) {
	frames := mem.NewFrames(64)
	vm := mem.NewVM(frames)
	fs := vfs.New(0)
	k, err := task.New(task.Config{}, task.Deps{
		Heap:   mem.NewHeap(0),
		Frames: frames,
		VM:     vm,
		Loader: mem.NewLoader(vm),
		VFS:    fs,
	})
	if err != nil {
		t.Fatalf("task.New: %v", err)
	}
	fs.CreateDriver(task.InitPid, "disk", vfs.DrvRead|vfs.DrvWrite)

	threads := ThreadLines(k)
	if len(threads) != 3 || !strings.HasPrefix(threads[1], "*") {
		t.Fatalf("expected a header, the running init thread and idle, got %q", threads)
	}
	if procs := ProcLines(k); len(procs) != 2 {
		t.Fatalf("expected a header and init, got %q", procs)
	}
	if drivers := DriverLines(fs); len(drivers) != 2 || !strings.Contains(drivers[1], "disk") {
		t.Fatalf("expected the disk driver, got %q", drivers)
	}

	c := New(nil)
	c.Dump(k, fs)
	if lines := c.Lines(); len(lines) != 1+3+2+2 || !strings.HasPrefix(lines[0], "up 0ms") {
		t.Fatalf("expected a full dump, got %q", lines)
	}
}
