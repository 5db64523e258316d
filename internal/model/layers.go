package model

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// dense is a fully connected layer y = xW + b with SGD momentum state.
type dense struct {
	W  *mat.Dense // in x out
	B  []float64
	vW *mat.Dense
	vB []float64
	gW *mat.Dense
	gB []float64
}

// newDense initializes weights with He-normal scaling.
func newDense(in, out int, rng *rand.Rand) *dense {
	std := math.Sqrt(2.0 / float64(in))
	data := make([]float64, in*out)
	for i := range data {
		data[i] = rng.NormFloat64() * std
	}
	return &dense{
		W:  mat.NewDense(in, out, data),
		B:  make([]float64, out),
		vW: mat.NewDense(in, out, nil),
		vB: make([]float64, out),
		gW: mat.NewDense(in, out, nil),
		gB: make([]float64, out),
	}
}

func (d *dense) forward(x *mat.Dense) *mat.Dense {
	var y mat.Dense
	y.Mul(x, d.W)
	rows, _ := y.Dims()
	for i := 0; i < rows; i++ {
		row := y.RawRowView(i)
		for j, b := range d.B {
			row[j] += b
		}
	}
	return &y
}

// backward stores parameter gradients for input x and returns dL/dx.
func (d *dense) backward(x, dy *mat.Dense) *mat.Dense {
	d.gW.Mul(x.T(), dy)
	for j := range d.gB {
		d.gB[j] = 0
	}
	rows, _ := dy.Dims()
	for i := 0; i < rows; i++ {
		for j, v := range dy.RawRowView(i) {
			d.gB[j] += v
		}
	}
	var dx mat.Dense
	dx.Mul(dy, d.W.T())
	return &dx
}

// l2 returns sum(W^2).
func (d *dense) l2() float64 {
	s := 0.0
	for _, v := range d.W.RawMatrix().Data {
		s += v * v
	}
	return s
}

// step applies one momentum update: v = m*v - lr*(g + 2*reg*w); w += v.
func (d *dense) step(lr, momentum, reg float64) {
	w := d.W.RawMatrix().Data
	g := d.gW.RawMatrix().Data
	v := d.vW.RawMatrix().Data
	for i := range w {
		v[i] = momentum*v[i] - lr*(g[i]+2*reg*w[i])
		w[i] += v[i]
	}
	for j := range d.B {
		d.vB[j] = momentum*d.vB[j] - lr*d.gB[j]
		d.B[j] += d.vB[j]
	}
}

func relu(x *mat.Dense) *mat.Dense {
	var y mat.Dense
	y.Apply(func(_, _ int, v float64) float64 {
		if v > 0 {
			return v
		}
		return 0
	}, x)
	return &y
}

// reluGrad masks dy where the pre-activation x was not positive.
func reluGrad(x, dy *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Apply(func(i, j int, v float64) float64 {
		if x.At(i, j) > 0 {
			return v
		}
		return 0
	}, dy)
	return &out
}

func softmax(logits []float64) []float64 {
	maxLogit := logits[0]
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}
	sum := 0.0
	out := make([]float64, len(logits))
	for i, v := range logits {
		exp := math.Exp(v - maxLogit)
		out[i] = exp
		sum += exp
	}
	inv := 1.0 / sum
	for i := range out {
		out[i] *= inv
	}
	return out
}

func argmax(v []float64) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
