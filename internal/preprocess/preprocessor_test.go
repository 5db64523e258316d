package preprocess

import (
	"image"
	"image/color"
	"testing"
)

func TestFromImageRespectsOrder(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 255})

	rgb := FromImage(src, OrderRGB)
	if rgb.Pix[0] != 10 || rgb.Pix[1] != 20 || rgb.Pix[2] != 30 {
		t.Fatalf("RGB pixel = %v", rgb.Pix)
	}
	bgr := FromImage(src, OrderBGR)
	if bgr.Pix[0] != 30 || bgr.Pix[1] != 20 || bgr.Pix[2] != 10 {
		t.Fatalf("BGR pixel = %v", bgr.Pix)
	}
	back := bgr.ToNRGBA().NRGBAAt(0, 0)
	if back.R != 10 || back.G != 20 || back.B != 30 {
		t.Fatalf("round trip = %+v", back)
	}
}

func TestSimplePreprocessorResizes(t *testing.T) {
	img := uniformImage(32, 16, OrderRGB, 200, 100, 50)
	out := NewSimplePreprocessor(8, 8).Preprocess(img)
	if out.Width != 8 || out.Height != 8 || len(out.Pix) != 8*8*3 {
		t.Fatalf("unexpected size %dx%d (%d values)", out.Width, out.Height, len(out.Pix))
	}
	if out.Pix[0] != 200 || out.Pix[1] != 100 || out.Pix[2] != 50 {
		t.Fatalf("uniform color changed: %v", out.Pix[:3])
	}
}

func TestImageToArrayCHW(t *testing.T) {
	img := NewImage(2, 1, 3, OrderRGB)
	copy(img.Pix, []float32{1, 2, 3, 4, 5, 6})
	out := NewImageToArrayPreprocessor(LayoutCHW).Preprocess(img)
	want := []float32{1, 4, 2, 5, 3, 6}
	for i := range want {
		if out.Pix[i] != want[i] {
			t.Fatalf("CHW = %v want %v", out.Pix, want)
		}
	}
	if out.At(1, 0, 2) != 6 {
		t.Fatalf("At(1,0,2) = %f", out.At(1, 0, 2))
	}
}

func TestChainOrder(t *testing.T) {
	img := uniformImage(16, 16, OrderRGB, 150, 150, 150)
	chain := Chain{
		NewSimplePreprocessor(4, 4),
		NewMeanPreprocessor(120, 110, 100),
		NewImageToArrayPreprocessor(LayoutHWC),
	}
	out := chain.Apply(img)
	if out.Width != 4 || out.Height != 4 {
		t.Fatalf("unexpected size %dx%d", out.Width, out.Height)
	}
	if out.Pix[0] != 30 || out.Pix[1] != 40 || out.Pix[2] != 50 {
		t.Fatalf("chain output = %v", out.Pix[:3])
	}
	if v := out.Vector(); len(v) != 4*4*3 || v[0] != 30 {
		t.Fatalf("vector = %v", v[:3])
	}
}
