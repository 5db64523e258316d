// Package augment applies random geometric distortions to training images.
package augment

import (
	"image"
	"math"
	"math/rand"

	"github.com/disintegration/imaging"
)

// Options mirrors the usual image-data-generator knobs. Ranges are
// symmetric: a RotationRange of 18 draws angles from [-18, 18] degrees.
type Options struct {
	RotationRange    float64 // degrees
	ZoomRange        float64 // fraction, zoom drawn from [1-z, 1+z]
	WidthShiftRange  float64 // fraction of width
	HeightShiftRange float64 // fraction of height
	ShearRange       float64 // shear angle in degrees
	HorizontalFlip   bool
}

// DefaultOptions are the distortions used for the residual network run.
func DefaultOptions() Options {
	return Options{
		RotationRange:    18,
		ZoomRange:        0.15,
		WidthShiftRange:  0.2,
		HeightShiftRange: 0.2,
		ShearRange:       0.15,
		HorizontalFlip:   true,
	}
}

// Augmenter draws one random affine transform per image. Pixels that map
// outside the source are filled from the nearest edge pixel.
//
// An Augmenter is not safe for concurrent use; give each worker its own via
// Fork.
type Augmenter struct {
	opts Options
	rng  *rand.Rand
}

func New(opts Options, seed int64) *Augmenter {
	return &Augmenter{opts: opts, rng: rand.New(rand.NewSource(seed))}
}

// Fork returns an independent augmenter with the same options, seeded from
// this one.
func (a *Augmenter) Fork() *Augmenter {
	return New(a.opts, a.rng.Int63())
}

// Params is one drawn transform.
type Params struct {
	Theta  float64 // radians
	Shear  float64 // radians
	ZoomX  float64
	ZoomY  float64
	ShiftX float64 // pixels
	ShiftY float64 // pixels
	Flip   bool
}

// Draw samples transform parameters for an image of the given size.
func (a *Augmenter) Draw(width, height int) Params {
	p := Params{ZoomX: 1, ZoomY: 1}
	if r := a.opts.RotationRange; r > 0 {
		p.Theta = a.uniform(-r, r) * math.Pi / 180
	}
	if z := a.opts.ZoomRange; z > 0 {
		p.ZoomX = a.uniform(1-z, 1+z)
		p.ZoomY = a.uniform(1-z, 1+z)
	}
	if s := a.opts.WidthShiftRange; s > 0 {
		p.ShiftX = a.uniform(-s, s) * float64(width)
	}
	if s := a.opts.HeightShiftRange; s > 0 {
		p.ShiftY = a.uniform(-s, s) * float64(height)
	}
	if s := a.opts.ShearRange; s > 0 {
		p.Shear = a.uniform(-s, s) * math.Pi / 180
	}
	if a.opts.HorizontalFlip {
		p.Flip = a.rng.Float64() < 0.5
	}
	return p
}

// Apply draws a transform and applies it.
func (a *Augmenter) Apply(src image.Image) *image.NRGBA {
	b := src.Bounds()
	return Transform(src, a.Draw(b.Dx(), b.Dy()))
}

func (a *Augmenter) uniform(lo, hi float64) float64 {
	return lo + a.rng.Float64()*(hi-lo)
}

// Transform warps src by p around the image centre.
func Transform(src image.Image, p Params) *image.NRGBA {
	in := imaging.Clone(src)
	if p.Flip {
		in = imaging.FlipH(in)
	}
	w, h := in.Rect.Dx(), in.Rect.Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return dst
	}

	// Inverse mapping: for each output pixel find the source coordinate.
	// forward = T(shift) * R(theta) * Sh(shear) * Z(zoom), about the centre.
	cos, sin := math.Cos(p.Theta), math.Sin(p.Theta)
	shCos, shSin := math.Cos(p.Shear), math.Sin(p.Shear)
	m00 := (cos - sin*shSin) * p.ZoomX
	m01 := -sin * shCos * p.ZoomY
	m10 := (sin + cos*shSin) * p.ZoomX
	m11 := cos * shCos * p.ZoomY
	det := m00*m11 - m01*m10
	if math.Abs(det) < 1e-12 {
		copy(dst.Pix, in.Pix)
		return dst
	}
	i00, i01 := m11/det, -m01/det
	i10, i11 := -m10/det, m00/det

	cx, cy := float64(w-1)/2, float64(h-1)/2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx := float64(x) - cx - p.ShiftX
			dy := float64(y) - cy - p.ShiftY
			sx := clampInt(int(math.Round(i00*dx+i01*dy+cx)), 0, w-1)
			sy := clampInt(int(math.Round(i10*dx+i11*dy+cy)), 0, h-1)
			so := in.PixOffset(sx, sy)
			do := dst.PixOffset(x, y)
			copy(dst.Pix[do:do+4], in.Pix[so:so+4])
		}
	}
	return dst
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
