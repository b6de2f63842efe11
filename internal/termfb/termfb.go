// Package termfb renders a terminal's character-cell grid into a pixel
// framebuffer image. It plays the role of the teacher's
// framebuffer_text.go (pixel-level glyph blitting onto a GPU
// framebuffer), generalized from raw unsafe.Pointer MMIO writes onto
// the library stack the sibling mazboot module already pulls in for
// the same job (src/mazboot/golang/main/gg_circle_qemu.go): an
// image.RGBA backbuffer drawn through a gg.Context, with an optional
// TrueType face loaded via golang/freetype for callers that want real
// glyphs instead of gg's built-in bitmap font.
package termfb

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
)

// Cell pixel dimensions for the built-in bitmap face. A loaded
// TrueType face may render narrower or wider; the grid geometry is
// fixed at construction time regardless.
const (
	CellWidthPx  = 8
	CellHeightPx = 16
)

// Cell is one character cell's renderable content: glyph and the
// foreground/background XRGB8888 colors the line discipline selected
// for it (spec.md §4.12 SGR state).
type Cell struct {
	Rune rune
	Fg   uint32
	Bg   uint32
}

// Renderer owns the pixel backbuffer for a cols x rows character grid.
type Renderer struct {
	ctx  *gg.Context
	cols int
	rows int
}

// NewRenderer allocates a backbuffer sized for a cols x rows terminal.
func NewRenderer(cols, rows int) *Renderer {
	return &Renderer{
		ctx:  gg.NewContext(cols*CellWidthPx, rows*CellHeightPx),
		cols: cols,
		rows: rows,
	}
}

// LoadFace parses TrueType font bytes and builds a renderable face at
// the given point size. Callers that don't need real glyphs can skip
// this entirely; gg.Context already carries a built-in bitmap face.
func LoadFace(ttfData []byte, points float64) (font.Face, error) {
	f, err := freetype.ParseFont(ttfData)
	if err != nil {
		return nil, err
	}
	return truetype.NewFace(f, &truetype.Options{Size: points}), nil
}

// SetFace swaps the renderer's glyph face (e.g. one built by LoadFace).
func (r *Renderer) SetFace(face font.Face) {
	r.ctx.SetFontFace(face)
}

func xrgbToColor(v uint32) color.RGBA {
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xFF}
}

// DrawCell paints one character cell's background and, unless the
// glyph is blank, its foreground glyph. Coordinates outside the grid
// are silently ignored.
func (r *Renderer) DrawCell(col, row int, cell Cell) {
	if col < 0 || col >= r.cols || row < 0 || row >= r.rows {
		return
	}
	x := float64(col * CellWidthPx)
	y := float64(row * CellHeightPx)

	r.ctx.SetColor(xrgbToColor(cell.Bg))
	r.ctx.DrawRectangle(x, y, CellWidthPx, CellHeightPx)
	r.ctx.Fill()

	if cell.Rune == 0 || cell.Rune == ' ' {
		return
	}
	r.ctx.SetColor(xrgbToColor(cell.Fg))
	r.ctx.DrawStringAnchored(string(cell.Rune), x, y+CellHeightPx, 0, 1)
}

// Image returns the current backbuffer contents.
func (r *Renderer) Image() *image.RGBA {
	img, _ := r.ctx.Image().(*image.RGBA)
	return img
}

// Cols and Rows report the grid geometry the renderer was built with.
func (r *Renderer) Cols() int { return r.cols }
func (r *Renderer) Rows() int { return r.rows }
