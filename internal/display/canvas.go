package display

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/fieldmon/kismet-monitor/internal/models"
)

const (
	glyphWidth = 7
	rowHeight  = 13
)

var (
	on  = color.Gray{Y: 0xff}
	off = color.Gray{Y: 0x00}
)

// Canvas paints frames onto a monochrome bitmap
type Canvas struct {
	img  *image.Gray
	face font.Face
}

// NewCanvas allocates a w x h bitmap
func NewCanvas(w, h int) *Canvas {
	return &Canvas{
		img:  image.NewGray(image.Rect(0, 0, w, h)),
		face: basicfont.Face7x13,
	}
}

// Paint draws f and returns the bitmap. The image is reused between calls.
func (c *Canvas) Paint(f Frame) *image.Gray {
	b := c.img.Bounds()
	draw.Draw(c.img, b, image.NewUniform(off), image.Point{}, draw.Src)

	c.connGlyph(f.Conn)
	c.text(glyphCols*glyphWidth, 0, f.Fix, on)
	upX := b.Dx() - len(f.Uptime)*glyphWidth
	c.text(upX, 0, f.Uptime, on)

	row := 1
	if f.Error != "" {
		y := row * rowHeight
		c.fill(image.Rect(0, y, b.Dx(), y+rowHeight), on)
		c.text(0, y, f.Error, off)
		row++
	}
	for _, line := range f.Lines {
		c.text(0, row*rowHeight, line, on)
		row++
	}

	c.sparkline(f.Bars)
	return c.img
}

func (c *Canvas) text(x, y int, s string, col color.Gray) {
	d := font.Drawer{
		Dst:  c.img,
		Src:  image.NewUniform(col),
		Face: c.face,
		Dot:  fixed.P(x, y+c.face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(s)
}

func (c *Canvas) fill(r image.Rectangle, col color.Gray) {
	draw.Draw(c.img, r.Intersect(c.img.Bounds()), image.NewUniform(col), image.Point{}, draw.Src)
}

// connGlyph: filled box when up, outline when connecting, cross when down
func (c *Canvas) connGlyph(s models.ConnState) {
	const x0, y0, size = 1, 1, 10

	switch s {
	case models.ConnUp:
		c.fill(image.Rect(x0, y0, x0+size, y0+size), on)
	case models.ConnConnecting:
		for i := 0; i < size; i++ {
			c.img.SetGray(x0+i, y0, on)
			c.img.SetGray(x0+i, y0+size-1, on)
			c.img.SetGray(x0, y0+i, on)
			c.img.SetGray(x0+size-1, y0+i, on)
		}
	default:
		for i := 0; i < size; i++ {
			c.img.SetGray(x0+i, y0+i, on)
			c.img.SetGray(x0+size-1-i, y0+i, on)
		}
	}
}

func (c *Canvas) sparkline(bars []int) {
	if len(bars) == 0 {
		return
	}
	b := c.img.Bounds()
	bw := b.Dx() / len(bars)
	if bw < 1 {
		bw = 1
	}
	x := (b.Dx() - bw*len(bars)) / 2
	gap := 0
	if bw > 1 {
		gap = 1
	}

	for _, h := range bars {
		if h > 0 {
			c.fill(image.Rect(x, b.Max.Y-h, x+bw-gap, b.Max.Y), on)
		}
		x += bw
	}
}
