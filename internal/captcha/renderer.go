// Package captcha renders challenge text as a distorted PNG.
package captcha

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand/v2"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	DefaultWidth  = 160
	DefaultHeight = 60

	glyphWidth = 7  // basicfont.Face7x13 advance
	cellWidth  = 10 // glyph plus spacing on the small canvas
	smallH     = 20
)

// Renderer draws challenge text. The zero value is not usable; use NewRenderer.
type Renderer struct {
	width  int
	height int
	noise  int

	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

func NewRenderer(width, height int) *Renderer {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	return &Renderer{
		width:  width,
		height: height,
		noise:  6,
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// Render returns text drawn on a noisy background as PNG bytes.
func (r *Renderer) Render(text string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("captcha: empty text")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Glyphs are drawn on a small canvas with per-character jitter and then
	// scaled up, which thickens the bitmap font.
	smallW := cellWidth*len(text) + 6
	small := image.NewRGBA(image.Rect(0, 0, smallW, smallH))
	draw.Draw(small, small.Bounds(), image.NewUniform(color.RGBA{245, 245, 240, 255}), image.Point{}, draw.Src)

	for i, ch := range text {
		d := &font.Drawer{
			Dst:  small,
			Src:  image.NewUniform(r.inkColor()),
			Face: basicfont.Face7x13,
			Dot: fixed.P(
				3+i*cellWidth+r.rng.IntN(cellWidth-glyphWidth+1),
				13+r.rng.IntN(5),
			),
		}
		d.DrawString(string(ch))
	}

	dst := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), small, small.Bounds(), draw.Src, nil)

	for i := 0; i < r.noise; i++ {
		r.line(dst, r.rng.IntN(r.width), r.rng.IntN(r.height), r.rng.IntN(r.width), r.rng.IntN(r.height))
	}
	for i := 0; i < r.width*r.height/12; i++ {
		dst.Set(r.rng.IntN(r.width), r.rng.IntN(r.height), r.inkColor())
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("captcha: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURL encodes PNG bytes as a data URL for JSON responses.
func DataURL(pngBytes []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
}

func (r *Renderer) inkColor() color.RGBA {
	return color.RGBA{
		R: uint8(r.rng.IntN(120)),
		G: uint8(r.rng.IntN(120)),
		B: uint8(r.rng.IntN(120)),
		A: 255,
	}
}

// line draws a 1px Bresenham line.
func (r *Renderer) line(img *image.RGBA, x0, y0, x1, y1 int) {
	c := r.inkColor()
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		img.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
