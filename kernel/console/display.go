package console

import (
	"image/color"

	"tinygo.org/x/drivers"

	"nanokern/hal"
)

// fbDisplay draws into a shadow buffer and copies it to the framebuffer on
// Display. The shadow buffer wraps around vertically the way a display with
// hardware scrolling does; Display puts the scroll line at the top.
type fbDisplay struct {
	fb     hal.Framebuffer
	back   []byte
	stride int
	w, h   int
	scroll int
	rot    drivers.Rotation
}

func newFBDisplay(fb hal.Framebuffer) *fbDisplay {
	d := &fbDisplay{fb: fb}
	if fb != nil && fb.Format() == hal.PixelFormatRGB565 {
		d.w, d.h = fb.Width(), fb.Height()
		d.stride = d.w * 2
		d.back = make([]byte, d.stride*d.h)
	}
	return d
}

func (d *fbDisplay) Size() (x, y int16) {
	return int16(d.w), int16(d.h)
}

func (d *fbDisplay) SetPixel(x, y int16, c color.RGBA) {
	ix, iy := int(x), int(y)
	if ix < 0 || ix >= d.w || iy < 0 || iy >= d.h {
		return
	}
	pixel := rgb565From888(c.R, c.G, c.B)
	off := iy*d.stride + ix*2
	d.back[off] = byte(pixel)
	d.back[off+1] = byte(pixel >> 8)
}

func (d *fbDisplay) FillRectangle(x, y, width, height int16, c color.RGBA) error {
	x0 := clampInt(int(x), 0, d.w)
	y0 := clampInt(int(y), 0, d.h)
	x1 := clampInt(int(x)+int(width), 0, d.w)
	y1 := clampInt(int(y)+int(height), 0, d.h)
	if x0 >= x1 || y0 >= y1 {
		return nil
	}

	pixel := rgb565From888(c.R, c.G, c.B)
	lo := byte(pixel)
	hi := byte(pixel >> 8)
	for py := y0; py < y1; py++ {
		row := py * d.stride
		for px := x0; px < x1; px++ {
			off := row + px*2
			d.back[off] = lo
			d.back[off+1] = hi
		}
	}
	return nil
}

func (d *fbDisplay) Display() error {
	if d.fb == nil || d.back == nil {
		return nil
	}
	buf := d.fb.Buffer()
	stride := d.fb.StrideBytes()
	for y := 0; y < d.h; y++ {
		src := ((y + d.scroll) % d.h) * d.stride
		dst := y * stride
		if dst+d.stride > len(buf) {
			break
		}
		copy(buf[dst:dst+d.stride], d.back[src:src+d.stride])
	}
	return d.fb.Present()
}

func (d *fbDisplay) SetScroll(line int16) {
	if d.h == 0 {
		return
	}
	d.scroll = ((int(line) % d.h) + d.h) % d.h
}

func (d *fbDisplay) SetRotation(rotation drivers.Rotation) error {
	d.rot = rotation
	return nil
}

func (d *fbDisplay) Rotation() drivers.Rotation { return d.rot }

func rgb565From888(r, g, b uint8) uint16 {
	return uint16((uint16(r>>3)&0x1F)<<11 | (uint16(g>>2)&0x3F)<<5 | (uint16(b>>3) & 0x1F))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
