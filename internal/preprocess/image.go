package preprocess

import (
	"image"
	"image/color"
	"math"
)

// ChannelOrder names where each color channel sits inside a pixel.
type ChannelOrder string

const (
	OrderRGB ChannelOrder = "RGB"
	OrderBGR ChannelOrder = "BGR"
)

// Layout describes how the pixel buffer is arranged.
type Layout string

const (
	// LayoutHWC interleaves channels per pixel (row, column, channel).
	LayoutHWC Layout = "HWC"
	// LayoutCHW stores one full plane per channel.
	LayoutCHW Layout = "CHW"
)

// Image is a float32 multi-channel image. Values are not clamped; mean
// subtraction and later stages may push them outside [0, 255].
type Image struct {
	Width    int
	Height   int
	Channels int
	Order    ChannelOrder
	Layout   Layout
	Pix      []float32
}

// NewImage allocates a zeroed HWC image.
func NewImage(width, height, channels int, order ChannelOrder) *Image {
	return &Image{
		Width:    width,
		Height:   height,
		Channels: channels,
		Order:    order,
		Layout:   LayoutHWC,
		Pix:      make([]float32, width*height*channels),
	}
}

// FromImage converts a decoded image into a 3-channel HWC float image with
// 8-bit intensity values.
func FromImage(src image.Image, order ChannelOrder) *Image {
	bounds := src.Bounds()
	out := NewImage(bounds.Dx(), bounds.Dy(), 3, order)
	ri, gi, bi := channelOffsets(order)
	idx := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := pixelAt(src, x, y)
			out.Pix[idx+ri] = float32(c.R)
			out.Pix[idx+gi] = float32(c.G)
			out.Pix[idx+bi] = float32(c.B)
			idx += 3
		}
	}
	return out
}

// pixelAt reads a pixel as non-premultiplied 8-bit color, so partially
// transparent pixels keep their stored intensities.
func pixelAt(src image.Image, x, y int) color.NRGBA {
	return color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
}

// ToNRGBA converts an HWC image back into 8-bit pixels, rounding and
// clamping to [0, 255].
func (m *Image) ToNRGBA() *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
	ri, gi, bi := channelOffsets(m.Order)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			base := (y*m.Width + x) * m.Channels
			if base+m.Channels > len(m.Pix) {
				return dst
			}
			o := dst.PixOffset(x, y)
			dst.Pix[o] = clamp8(m.Pix[base+ri])
			dst.Pix[o+1] = clamp8(m.Pix[base+gi])
			dst.Pix[o+2] = clamp8(m.Pix[base+bi])
			dst.Pix[o+3] = 0xff
		}
	}
	return dst
}

// Clone returns a deep copy.
func (m *Image) Clone() *Image {
	out := *m
	out.Pix = append([]float32(nil), m.Pix...)
	return &out
}

// At returns the value of channel c at (x, y), honoring the layout.
func (m *Image) At(x, y, c int) float32 {
	return m.Pix[m.offset(x, y, c)]
}

// Vector flattens the pixel buffer to float64 in its current layout.
func (m *Image) Vector() []float64 {
	out := make([]float64, len(m.Pix))
	for i, v := range m.Pix {
		out[i] = float64(v)
	}
	return out
}

func (m *Image) offset(x, y, c int) int {
	if m.Layout == LayoutCHW {
		return c*m.Width*m.Height + y*m.Width + x
	}
	return (y*m.Width+x)*m.Channels + c
}

// channelOffsets returns the position of the red, green and blue channel
// inside a pixel for the given order.
func channelOffsets(order ChannelOrder) (r, g, b int) {
	if order == OrderBGR {
		return 2, 1, 0
	}
	return 0, 1, 2
}

func clamp8(v float32) uint8 {
	r := math.Round(float64(v))
	if r < 0 {
		return 0
	}
	if r > 255 {
		return 255
	}
	return uint8(r)
}
