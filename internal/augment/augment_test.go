package augment

import (
	"image"
	"image/color"
	"math"
	"testing"
)

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 10), G: uint8(y * 10), B: 7, A: 255})
		}
	}
	return img
}

func TestTransformIdentity(t *testing.T) {
	src := gradient(9, 7)
	out := Transform(src, Params{ZoomX: 1, ZoomY: 1})
	for i := range src.Pix {
		if out.Pix[i] != src.Pix[i] {
			t.Fatalf("identity transform changed byte %d: %d vs %d", i, out.Pix[i], src.Pix[i])
		}
	}
}

func TestTransformFlip(t *testing.T) {
	src := gradient(5, 3)
	out := Transform(src, Params{ZoomX: 1, ZoomY: 1, Flip: true})
	if got := out.NRGBAAt(0, 1).R; got != 40 {
		t.Fatalf("left column after flip has R=%d, want 40", got)
	}
}

func TestTransformShiftFillsNearest(t *testing.T) {
	src := gradient(6, 4)
	out := Transform(src, Params{ZoomX: 1, ZoomY: 1, ShiftX: 2})
	// Pixels shifted in from the left edge replicate column 0.
	if got := out.NRGBAAt(0, 0).R; got != 0 {
		t.Fatalf("fill pixel R=%d, want 0", got)
	}
	if got := out.NRGBAAt(2, 0).R; got != 0 {
		t.Fatalf("shifted pixel R=%d, want 0", got)
	}
	if got := out.NRGBAAt(5, 0).R; got != 30 {
		t.Fatalf("shifted pixel R=%d, want 30", got)
	}
}

func TestDrawWithinRanges(t *testing.T) {
	opts := DefaultOptions()
	a := New(opts, 3)
	flips := 0
	for i := 0; i < 500; i++ {
		p := a.Draw(64, 64)
		if math.Abs(p.Theta) > opts.RotationRange*math.Pi/180 {
			t.Fatalf("theta out of range: %f", p.Theta)
		}
		if p.ZoomX < 1-opts.ZoomRange || p.ZoomX > 1+opts.ZoomRange {
			t.Fatalf("zoom out of range: %f", p.ZoomX)
		}
		if math.Abs(p.ShiftX) > opts.WidthShiftRange*64 || math.Abs(p.ShiftY) > opts.HeightShiftRange*64 {
			t.Fatalf("shift out of range: %f,%f", p.ShiftX, p.ShiftY)
		}
		if p.Flip {
			flips++
		}
	}
	if flips == 0 || flips == 500 {
		t.Fatalf("flip never varied: %d", flips)
	}
}

func TestApplyDeterministicPerSeed(t *testing.T) {
	src := gradient(16, 16)
	a := New(DefaultOptions(), 11).Apply(src)
	b := New(DefaultOptions(), 11).Apply(src)
	for i := range a.Pix {
		if a.Pix[i] != b.Pix[i] {
			t.Fatalf("same seed produced different output at %d", i)
		}
	}
	if a.Rect.Dx() != 16 || a.Rect.Dy() != 16 {
		t.Fatalf("shape changed: %v", a.Rect)
	}
}
