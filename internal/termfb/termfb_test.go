package termfb_test

import (
	"testing"

	"nucleus/internal/termfb"
)

func TestNewRendererSizesImageToGrid(t *testing.T) {
	r := termfb.NewRenderer(10, 4)
	img := r.Image()
	if img.Bounds().Dx() != 10*termfb.CellWidthPx {
		t.Fatalf("width = %d, want %d", img.Bounds().Dx(), 10*termfb.CellWidthPx)
	}
	if img.Bounds().Dy() != 4*termfb.CellHeightPx {
		t.Fatalf("height = %d, want %d", img.Bounds().Dy(), 4*termfb.CellHeightPx)
	}
}

func TestDrawCellPaintsBackgroundColor(t *testing.T) {
	r := termfb.NewRenderer(4, 2)
	r.DrawCell(1, 1, termfb.Cell{Rune: 'x', Fg: 0x00FFFFFF, Bg: 0x00FF0000})
	img := r.Image()
	px := img.RGBAAt(1*termfb.CellWidthPx, 1*termfb.CellHeightPx)
	if px.R != 0xFF || px.G != 0 || px.B != 0 {
		t.Fatalf("corner pixel = %+v, want red background", px)
	}
}

func TestDrawCellOutsideGridIsNoOp(t *testing.T) {
	r := termfb.NewRenderer(2, 2)
	r.DrawCell(5, 5, termfb.Cell{Rune: 'x', Fg: 0x00FFFFFF, Bg: 0x00FF0000})
}

func TestLoadFaceRejectsGarbage(t *testing.T) {
	if _, err := termfb.LoadFace([]byte("not a font"), 12); err == nil {
		t.Fatalf("expected LoadFace to reject non-TrueType data")
	}
}
