//go:build !tinygo

package hal

import (
	"bytes"
	"testing"
)

func TestHostPortsDecodeTimer(t *testing.T) {
	p := &HostPorts{}
	if p.TimerHz() != 0 {
		t.Fatal("expected an unprogrammed timer")
	}
	p.OutByte(PITCommand, 0x34)
	p.OutByte(PITChannel0, 0xA9)
	p.OutByte(PITChannel0, 0x04)

	if hz := p.TimerHz(); hz != 1000 {
		t.Fatalf("expected 1000 Hz, got %d", hz)
	}
	w := p.Writes()
	if len(w) != 3 || w[0] != (PortWrite{PITCommand, 0x34}) {
		t.Fatalf("expected three writes starting with the mode, got %v", w)
	}
}

func TestHostLoggerLines(t *testing.T) {
	var buf bytes.Buffer
	h := newHost(&buf)
	h.Logger().WriteLineString("one")
	h.Logger().WriteLineBytes([]byte("two"))
	if got := buf.String(); got != "one\ntwo\n" {
		t.Fatalf("expected two lines, got %q", got)
	}
}

func TestHostCyclesMonotonic(t *testing.T) {
	c := newHostCycles()
	a := c.Now()
	b := c.Now()
	if b < a {
		t.Fatalf("expected monotonic cycles, got %d then %d", a, b)
	}
}

func TestHostTimeFirstStep(t *testing.T) {
	ht := newHostTime()
	ht.step(3)
	for want := uint64(1); want <= 3; want++ {
		if got := <-ht.Ticks(); got != want {
			t.Fatalf("expected tick %d, got %d", want, got)
		}
	}
}

func TestFramebufferClear(t *testing.T) {
	fb := newHostFramebuffer(4, 2)
	fb.ClearRGB(255, 255, 255)
	for i, b := range fb.Buffer() {
		if b != 0xFF {
			t.Fatalf("expected white at byte %d, got %#x", i, b)
		}
	}
}
