// Package console is the debug console. It renders log lines and kernel table
// dumps on the framebuffer through a VT100 terminal and keeps a short
// history for headless runs.
package console

import (
	"github.com/op/go-logging"
	"gvisor.dev/gvisor/pkg/sync"
	"tinygo.org/x/tinyfont/proggy"
	"tinygo.org/x/tinyterm"

	"nanokern/hal"
)

var log = logging.MustGetLogger("console")

// HistoryLines is the number of lines the console remembers.
const HistoryLines = 256

// Console is a hal.Logger that draws on a framebuffer.
type Console struct {
	mu sync.Mutex

	fb    hal.Framebuffer
	d     *fbDisplay
	term  *tinyterm.Terminal
	dirty bool

	history []string
}

// New returns a console on disp. Without a framebuffer it only keeps history.
func New(disp hal.Display) *Console {
	c := &Console{}
	if disp != nil {
		c.fb = disp.Framebuffer()
	}
	if c.fb != nil && c.fb.Format() == hal.PixelFormatRGB565 {
		c.d = newFBDisplay(c.fb)
		c.reset()
	}
	return c
}

func (c *Console) reset() {
	c.term = tinyterm.NewTerminal(c.d)
	c.term.Configure(&tinyterm.Config{
		Font:       &proggy.TinySZ8pt7b,
		FontHeight: 10,
		FontOffset: 6,
	})
	c.fb.ClearRGB(0, 0, 0)
	c.dirty = true
}

func (c *Console) WriteLineString(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, s)
	if n := len(c.history) - HistoryLines; n > 0 {
		c.history = append(c.history[:0], c.history[n:]...)
	}
	if c.term != nil {
		c.term.Write([]byte(s))
		c.term.Write([]byte("\r\n"))
		c.dirty = true
	}
}

func (c *Console) WriteLineBytes(b []byte) { c.WriteLineString(string(b)) }

// Flush draws pending output.
func (c *Console) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty || c.term == nil {
		return nil
	}
	c.dirty = false
	return c.d.Display()
}

// Clear empties the screen and the history.
func (c *Console) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = c.history[:0]
	if c.term != nil {
		c.reset()
	}
}

// Lines returns the remembered lines, oldest first.
func (c *Console) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.history...)
}

// Shutdown flushes the console.
func (c *Console) Shutdown() error {
	log.Debugf("console shutting down with %d lines", len(c.Lines()))
	return c.Flush()
}
