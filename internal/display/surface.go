package display

import (
	"context"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/inconsolata"
	"golang.org/x/image/math/fixed"
)

// Panel geometry in landscape orientation
const (
	Width  = 250
	Height = 122
)

// FontSize selects one of the two faces used on the panel
type FontSize int

const (
	Small FontSize = iota
	Large
)

// Surface accepts primitive draw calls and pushes the frame on Commit.
// All drawing is black on white.
type Surface interface {
	Bounds() image.Rectangle
	Clear()
	// Text draws s with its baseline at y and returns the x just past it
	Text(x, y int, size FontSize, s string) int
	Line(x0, y0, x1, y1 int)
	RoundRect(x, y, w, h, r int)
	Circle(cx, cy, r int, fill bool)
	FillRect(x, y, w, h int)
	Commit(ctx context.Context) error
}

// Sink receives committed frames
type Sink interface {
	Flush(ctx context.Context, frame *image.Gray) error
	Close() error
}

const (
	black uint8 = 0x00
	white uint8 = 0xff
)

// Framebuffer is an in-memory Surface backed by an 8-bit gray image
type Framebuffer struct {
	img  *image.Gray
	sink Sink
}

// NewFramebuffer creates a white landscape frame that commits to sink
func NewFramebuffer(sink Sink) *Framebuffer {
	fb := &Framebuffer{
		img:  image.NewGray(image.Rect(0, 0, Width, Height)),
		sink: sink,
	}
	fb.Clear()
	return fb
}

// Image returns the current frame
func (fb *Framebuffer) Image() *image.Gray { return fb.img }

func (fb *Framebuffer) Bounds() image.Rectangle { return fb.img.Rect }

func (fb *Framebuffer) Clear() {
	draw.Draw(fb.img, fb.img.Bounds(), &image.Uniform{color.Gray{Y: white}}, image.Point{}, draw.Src)
}

func faceFor(size FontSize) font.Face {
	if size == Large {
		return inconsolata.Bold8x16
	}
	return basicfont.Face7x13
}

func (fb *Framebuffer) Text(x, y int, size FontSize, s string) int {
	d := font.Drawer{
		Dst:  fb.img,
		Src:  image.NewUniform(color.Gray{Y: black}),
		Face: faceFor(size),
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
	return d.Dot.X.Round()
}

// TextWidth measures s in the given face
func TextWidth(size FontSize, s string) int {
	return font.MeasureString(faceFor(size), s).Round()
}

func (fb *Framebuffer) set(x, y int) {
	if image.Pt(x, y).In(fb.img.Rect) {
		fb.img.SetGray(x, y, color.Gray{Y: black})
	}
}

// Line draws with Bresenham's algorithm
func (fb *Framebuffer) Line(x0, y0, x1, y1 int) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx := -1
	if x0 < x1 {
		sx = 1
	}
	sy := -1
	if y0 < y1 {
		sy = 1
	}
	err := dx + dy
	for {
		fb.set(x0, y0)
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

// RoundRect outlines a w x h rectangle at (x, y) with corner radius r
func (fb *Framebuffer) RoundRect(x, y, w, h, r int) {
	if r*2 > w {
		r = w / 2
	}
	if r*2 > h {
		r = h / 2
	}
	x1, y1 := x+w-1, y+h-1

	fb.Line(x+r, y, x1-r, y)
	fb.Line(x+r, y1, x1-r, y1)
	fb.Line(x, y+r, x, y1-r)
	fb.Line(x1, y+r, x1, y1-r)

	// corner arcs, one quadrant each
	for dy := 0; dy <= r; dy++ {
		for dx := 0; dx <= r; dx++ {
			d := dx*dx + dy*dy
			if d < (r-1)*(r-1) || d > r*r {
				continue
			}
			fb.set(x+r-dx, y+r-dy)
			fb.set(x1-r+dx, y+r-dy)
			fb.set(x+r-dx, y1-r+dy)
			fb.set(x1-r+dx, y1-r+dy)
		}
	}
}

func (fb *Framebuffer) Circle(cx, cy, r int, fill bool) {
	for y := -r; y <= r; y++ {
		for x := -r; x <= r; x++ {
			d := x*x + y*y
			if fill {
				if d <= r*r {
					fb.set(cx+x, cy+y)
				}
			} else if d >= (r-1)*(r-1) && d <= r*r {
				fb.set(cx+x, cy+y)
			}
		}
	}
}

func (fb *Framebuffer) FillRect(x, y, w, h int) {
	for py := y; py < y+h; py++ {
		for px := x; px < x+w; px++ {
			fb.set(px, py)
		}
	}
}

// Commit hands the frame to the sink
func (fb *Framebuffer) Commit(ctx context.Context) error {
	if fb.sink == nil {
		return nil
	}
	return fb.sink.Flush(ctx, fb.img)
}

// Close releases the sink
func (fb *Framebuffer) Close() error {
	if fb.sink == nil {
		return nil
	}
	return fb.sink.Close()
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
