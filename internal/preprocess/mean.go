package preprocess

import (
	"encoding/json"
	"fmt"
	"image"
	"os"
)

// MeanPreprocessor subtracts dataset-wide channel means. Channel count is
// not validated; pixels beyond the last full triple are copied unchanged.
type MeanPreprocessor struct {
	RMean float64
	GMean float64
	BMean float64
}

func NewMeanPreprocessor(r, g, b float64) *MeanPreprocessor {
	return &MeanPreprocessor{RMean: r, GMean: g, BMean: b}
}

// Preprocess returns a new image with each channel's mean subtracted. The
// red mean always lands on the red channel, whatever img.Order says.
func (p *MeanPreprocessor) Preprocess(img *Image) *Image {
	out := img.Clone()
	if img.Channels < 3 {
		return out
	}
	ri, gi, bi := channelOffsets(img.Order)
	rm, gm, bm := float32(p.RMean), float32(p.GMean), float32(p.BMean)
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			r, g, b := out.offset(x, y, ri), out.offset(x, y, gi), out.offset(x, y, bi)
			if r >= len(out.Pix) || g >= len(out.Pix) || b >= len(out.Pix) {
				return out
			}
			out.Pix[r] -= rm
			out.Pix[g] -= gm
			out.Pix[b] -= bm
		}
	}
	return out
}

// Means is the per-channel mean record persisted next to the dataset.
type Means struct {
	R float64 `json:"R"`
	G float64 `json:"G"`
	B float64 `json:"B"`
}

// LoadMeans reads the mean record from a JSON file.
func LoadMeans(path string) (Means, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Means{}, fmt.Errorf("read means: %w", err)
	}
	var m Means
	if err := json.Unmarshal(raw, &m); err != nil {
		return Means{}, fmt.Errorf("parse means %s: %w", path, err)
	}
	return m, nil
}

// Save writes the mean record as JSON.
func (m Means) Save(path string) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode means: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write means: %w", err)
	}
	return nil
}

// Preprocessor returns a MeanPreprocessor for the record.
func (m Means) Preprocessor() *MeanPreprocessor {
	return NewMeanPreprocessor(m.R, m.G, m.B)
}

// MeanAccumulator computes channel means over a stream of images.
type MeanAccumulator struct {
	sumR, sumG, sumB float64
	pixels           int64
	images           int
}

// Add accumulates every pixel of img.
func (a *MeanAccumulator) Add(img image.Image) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := pixelAt(img, x, y)
			a.sumR += float64(c.R)
			a.sumG += float64(c.G)
			a.sumB += float64(c.B)
			a.pixels++
		}
	}
	a.images++
}

// Images reports how many images were added.
func (a *MeanAccumulator) Images() int { return a.images }

// Means returns the per-channel average. An empty accumulator yields zeros.
func (a *MeanAccumulator) Means() Means {
	if a.pixels == 0 {
		return Means{}
	}
	n := float64(a.pixels)
	return Means{R: a.sumR / n, G: a.sumG / n, B: a.sumB / n}
}
