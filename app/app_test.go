package app

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"nanokern/hal"
	"nanokern/kernel/task"
)

type testLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *testLogger) WriteLineString(s string) {
	l.mu.Lock()
	l.lines = append(l.lines, s)
	l.mu.Unlock()
}

func (l *testLogger) WriteLineBytes(b []byte) { l.WriteLineString(string(b)) }

func (l *testLogger) contains(sub string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, sub) {
			return true
		}
	}
	return false
}

type testHAL struct {
	logger *testLogger
	ticks  chan uint64
	ports  *hal.HostPorts
}

func newTestHAL() *testHAL {
	return &testHAL{logger: &testLogger{}, ticks: make(chan uint64, 16), ports: &hal.HostPorts{}}
}

func (h *testHAL) Logger() hal.Logger   { return h.logger }
func (h *testHAL) Display() hal.Display { return nil }
func (h *testHAL) Time() hal.Time       { return h }
func (h *testHAL) Ticks() <-chan uint64 { return h.ticks }
func (h *testHAL) Ports() hal.Ports     { return h.ports }
func (h *testHAL) Cycles() hal.Cycles   { return h }
func (h *testHAL) Now() uint64          { return 0 }

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "boot.json")
	data := `{"timer_frequency": 500, "boot": ["echo disk", "ping disk 2"], "console": true}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.TimerFrequency != 500 || !cfg.Console || cfg.TimeSliceMs != DefaultConfig().TimeSliceMs {
		t.Fatalf("expected the file on top of the defaults, got %+v", cfg)
	}
	cmds, _ := cfg.BootCommands()
	if len(cmds) != 2 || len(cmds[1]) != 3 || cmds[1][2] != "2" {
		t.Fatalf("expected two split commands, got %q", cmds)
	}

	if cfg, err := LoadConfig(""); err != nil || len(cfg.Boot) != 2 {
		t.Fatalf("expected the defaults, got %+v, %v", cfg, err)
	}
	if _, err := LoadConfig(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestBootCommandsRejectUnknown(t *testing.T) {
	for _, line := range []string{"nope", "", "echo 'open"} {
		cfg := Config{Boot: []string{line}}
		if _, err := cfg.BootCommands(); err == nil {
			t.Fatalf("expected %q to be rejected", line)
		}
	}
	cfg := Config{Boot: []string{`ping "my driver" 4`}}
	cmds, err := cfg.BootCommands()
	if err != nil || cmds[0][1] != "my driver" {
		t.Fatalf("expected a quoted driver name, got %q, %v", cmds, err)
	}
}

func TestBootPingsEcho(t *testing.T) {
	h := newTestHAL()
	cfg := DefaultConfig()
	cfg.Boot = []string{"echo echo", "ping echo 2"}
	cfg.Console = true
	s, err := New(h, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if hz := h.ports.TimerHz(); hz != cfg.TimerFrequency {
		t.Fatalf("expected the timer at %d Hz, got %d", cfg.TimerFrequency, hz)
	}

	s.Start()
	waitFor(t, 5*time.Second, func() bool { return h.logger.contains("exited: code 0") })
	if !h.logger.contains(`ping: "ping 1" answered by echo`) {
		t.Fatal("expected both pings to be answered")
	}
	if d, err := s.FS.Driver("echo"); err != nil || d.Clients != 0 {
		t.Fatalf("expected the echo driver without clients, got %+v, %v", d, err)
	}

	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case <-s.initDone:
	default:
		t.Fatal("expected init to finish")
	}
	if _, err := s.FS.Driver("echo"); err == nil {
		t.Fatal("expected the echo driver to be gone with its process")
	}
	found := false
	for _, line := range s.Console.Lines() {
		if strings.Contains(line, "app: started") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the log on the console")
	}
}

func TestTickFeedDrivesTimer(t *testing.T) {
	h := newTestHAL()
	cfg := DefaultConfig()
	cfg.Boot = nil
	cfg.TimerFrequency = 500
	s, err := New(h, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := uint64(1); i <= 4; i++ {
		h.ticks <- i
	}
	waitFor(t, 5*time.Second, func() bool {
		var ticks uint64
		s.Kernel.Interrupt(func() { ticks = s.Kernel.Timer().Ticks() })
		return ticks == 2
	})
	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

type panicFB struct {
	buf      []byte
	presents int
}

func (f *panicFB) Width() int                   { return 120 }
func (f *panicFB) Height() int                  { return 40 }
func (f *panicFB) Format() hal.PixelFormat      { return hal.PixelFormatRGB565 }
func (f *panicFB) StrideBytes() int             { return 240 }
func (f *panicFB) Buffer() []byte               { return f.buf }
func (f *panicFB) Present() error               { f.presents++; return nil }
func (f *panicFB) Framebuffer() hal.Framebuffer { return f }

func (f *panicFB) ClearRGB(r, g, b uint8) {
	for i := range f.buf {
		f.buf[i] = 0xFF
	}
}

func TestPanicScreen(t *testing.T) {
	fb := &panicFB{buf: make([]byte, 240*40)}
	drawPanic(fb, task.PanicInfo{Tid: 4, Message: "no frame for the initial kernel stack"})
	if fb.presents != 1 {
		t.Fatalf("expected one present, got %d", fb.presents)
	}
	dark := 0
	for _, b := range fb.buf {
		if b != 0xFF {
			dark++
		}
	}
	if dark == 0 {
		t.Fatal("expected text on the panic screen")
	}
	drawPanic(nil, task.PanicInfo{})
}
