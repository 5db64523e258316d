package preprocess

import "github.com/disintegration/imaging"

// Preprocessor transforms one image before it is batched.
type Preprocessor interface {
	Preprocess(img *Image) *Image
}

// Chain applies preprocessors left to right. Later steps assume the shape
// and layout produced by earlier ones.
type Chain []Preprocessor

// Apply runs every preprocessor in order.
func (c Chain) Apply(img *Image) *Image {
	for _, p := range c {
		img = p.Preprocess(img)
	}
	return img
}

// SimplePreprocessor resizes to a fixed size, ignoring aspect ratio. It
// works on 8-bit values, so it must run before any mean subtraction.
type SimplePreprocessor struct {
	Width  int
	Height int
	Filter imaging.ResampleFilter
}

// NewSimplePreprocessor resizes with a box filter, the closest match to area
// interpolation when shrinking.
func NewSimplePreprocessor(width, height int) *SimplePreprocessor {
	return &SimplePreprocessor{Width: width, Height: height, Filter: imaging.Box}
}

func (p *SimplePreprocessor) Preprocess(img *Image) *Image {
	if img.Width == p.Width && img.Height == p.Height {
		return img.Clone()
	}
	resized := imaging.Resize(img.ToNRGBA(), p.Width, p.Height, p.Filter)
	return FromImage(resized, img.Order)
}

// ImageToArrayPreprocessor rearranges the buffer into the layout the
// network consumes.
type ImageToArrayPreprocessor struct {
	Layout Layout
}

func NewImageToArrayPreprocessor(layout Layout) *ImageToArrayPreprocessor {
	if layout == "" {
		layout = LayoutHWC
	}
	return &ImageToArrayPreprocessor{Layout: layout}
}

func (p *ImageToArrayPreprocessor) Preprocess(img *Image) *Image {
	if img.Layout == p.Layout {
		return img.Clone()
	}
	out := &Image{
		Width:    img.Width,
		Height:   img.Height,
		Channels: img.Channels,
		Order:    img.Order,
		Layout:   p.Layout,
		Pix:      make([]float32, len(img.Pix)),
	}
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			for c := 0; c < img.Channels; c++ {
				out.Pix[out.offset(x, y, c)] = img.At(x, y, c)
			}
		}
	}
	return out
}
