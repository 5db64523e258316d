package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// ErrNotCompiled is the panic value of TrainStep on a model that was never
// compiled.
var ErrNotCompiled = errors.New("model: not compiled")

// ResNetConfig parameterizes the residual network. Stage i holds Stages[i]
// blocks of width Filters[i+1]; Filters[0] is the stem width.
type ResNetConfig struct {
	Width   int
	Height  int
	Depth   int
	Classes int
	Stages  []int
	Filters []int
	Reg     float64
	Seed    int64
}

// InputSize is the flattened feature length the network expects.
func (c ResNetConfig) InputSize() int { return c.Width * c.Height * c.Depth }

// Validate checks that the architecture is buildable.
func (c ResNetConfig) Validate() error {
	if c.InputSize() <= 0 {
		return fmt.Errorf("model: input %dx%dx%d is empty", c.Width, c.Height, c.Depth)
	}
	if c.Classes <= 1 {
		return fmt.Errorf("model: classes must be > 1 (got %d)", c.Classes)
	}
	if len(c.Filters) != len(c.Stages)+1 {
		return fmt.Errorf("model: need %d filters for %d stages (got %d)", len(c.Stages)+1, len(c.Stages), len(c.Filters))
	}
	for i, f := range c.Filters {
		if f <= 0 {
			return fmt.Errorf("model: filters[%d] must be > 0", i)
		}
	}
	for i, s := range c.Stages {
		if s <= 0 {
			return fmt.Errorf("model: stages[%d] must be > 0", i)
		}
	}
	if c.Reg < 0 {
		return fmt.Errorf("model: reg must be >= 0")
	}
	return nil
}

// block is a pre-activation residual unit:
// out = fc2(relu(fc1(relu(x)))) + shortcut(x).
type block struct {
	fc1  *dense
	fc2  *dense
	proj *dense // nil when input and output widths match
}

type blockCache struct {
	x, a1, h1, a2 *mat.Dense
}

func (b *block) forward(x *mat.Dense) (*mat.Dense, blockCache) {
	c := blockCache{x: x}
	c.a1 = relu(x)
	c.h1 = b.fc1.forward(c.a1)
	c.a2 = relu(c.h1)
	out := b.fc2.forward(c.a2)
	if b.proj != nil {
		out.Add(out, b.proj.forward(x))
	} else {
		out.Add(out, x)
	}
	return out, c
}

func (b *block) backward(c blockCache, dOut *mat.Dense) *mat.Dense {
	dA2 := b.fc2.backward(c.a2, dOut)
	dA1 := b.fc1.backward(c.a1, reluGrad(c.h1, dA2))
	dx := reluGrad(c.x, dA1)
	if b.proj != nil {
		dx.Add(dx, b.proj.backward(c.x, dOut))
	} else {
		dx.Add(dx, dOut)
	}
	return dx
}

// ResNet is a dense residual classifier with softmax cross-entropy loss.
type ResNet struct {
	cfg    ResNetConfig
	stem   *dense
	blocks []*block
	head   *dense
	opt    *SGD
}

// BuildResNet constructs an uncompiled network.
func BuildResNet(cfg ResNetConfig) (*ResNet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	m := &ResNet{cfg: cfg}
	m.stem = newDense(cfg.InputSize(), cfg.Filters[0], rng)
	width := cfg.Filters[0]
	for i, n := range cfg.Stages {
		out := cfg.Filters[i+1]
		for j := 0; j < n; j++ {
			b := &block{
				fc1: newDense(width, out, rng),
				fc2: newDense(out, out, rng),
			}
			if width != out {
				b.proj = newDense(width, out, rng)
			}
			m.blocks = append(m.blocks, b)
			width = out
		}
	}
	m.head = newDense(width, cfg.Classes, rng)
	return m, nil
}

// Compile attaches the optimizer. Loss is categorical cross-entropy and the
// reported metric is accuracy.
func (m *ResNet) Compile(opt SGD) {
	m.opt = &opt
}

// Config returns the architecture the network was built with.
func (m *ResNet) Config() ResNetConfig { return m.cfg }

func (m *ResNet) LearningRate() float64 {
	if m.opt == nil {
		return 0
	}
	return m.opt.LR
}

func (m *ResNet) SetLearningRate(lr float64) {
	if m.opt == nil {
		m.opt = &SGD{}
	}
	m.opt.LR = lr
}

// Optimizer returns a copy of the optimizer settings.
func (m *ResNet) Optimizer() (SGD, bool) {
	if m.opt == nil {
		return SGD{}, false
	}
	return *m.opt, true
}

// layers lists every dense layer in a stable order.
func (m *ResNet) layers() []*dense {
	out := []*dense{m.stem}
	for _, b := range m.blocks {
		out = append(out, b.fc1, b.fc2)
		if b.proj != nil {
			out = append(out, b.proj)
		}
	}
	return append(out, m.head)
}

// Params counts trainable parameters.
func (m *ResNet) Params() int {
	n := 0
	for _, l := range m.layers() {
		r, c := l.W.Dims()
		n += r*c + len(l.B)
	}
	return n
}

type forwardCache struct {
	input  *mat.Dense
	blocks []blockCache
	last   *mat.Dense
	act    *mat.Dense
	probs  [][]float64
}

func (m *ResNet) forward(x *mat.Dense) forwardCache {
	c := forwardCache{input: x}
	h := m.stem.forward(x)
	for _, b := range m.blocks {
		var bc blockCache
		h, bc = b.forward(h)
		c.blocks = append(c.blocks, bc)
	}
	c.last = h
	c.act = relu(h)
	logits := m.head.forward(c.act)
	rows, _ := logits.Dims()
	c.probs = make([][]float64, rows)
	for i := 0; i < rows; i++ {
		c.probs[i] = softmax(logits.RawRowView(i))
	}
	return c
}

// inputs packs a batch into a matrix, dropping samples whose feature length
// or label does not fit the network.
func (m *ResNet) inputs(batch Batch) (*mat.Dense, []int) {
	size := m.cfg.InputSize()
	data := make([]float64, 0, len(batch.Inputs)*size)
	labels := make([]int, 0, len(batch.Inputs))
	for i, in := range batch.Inputs {
		if len(in) != size || i >= len(batch.Labels) {
			continue
		}
		label := batch.Labels[i]
		if label < 0 || label >= m.cfg.Classes {
			continue
		}
		data = append(data, in...)
		labels = append(labels, label)
	}
	if len(labels) == 0 {
		return nil, nil
	}
	return mat.NewDense(len(labels), size, data), labels
}

func (m *ResNet) score(probs [][]float64, labels []int) (loss, acc float64) {
	correct := 0
	for i, p := range probs {
		loss += -math.Log(math.Max(p[labels[i]], 1e-9))
		if argmax(p) == labels[i] {
			correct++
		}
	}
	n := float64(len(labels))
	loss /= n
	if m.cfg.Reg > 0 {
		l2 := 0.0
		for _, l := range m.layers() {
			l2 += l.l2()
		}
		loss += m.cfg.Reg * l2
	}
	return loss, float64(correct) / n
}

// TrainStep executes one SGD step and returns the pre-update loss and
// accuracy. It panics if the model was never compiled.
func (m *ResNet) TrainStep(batch Batch) (float64, float64) {
	if m.opt == nil {
		panic(ErrNotCompiled)
	}
	x, labels := m.inputs(batch)
	if x == nil {
		return 0, 0
	}
	c := m.forward(x)
	loss, acc := m.score(c.probs, labels)

	n := float64(len(labels))
	dLogits := mat.NewDense(len(labels), m.cfg.Classes, nil)
	for i, p := range c.probs {
		row := dLogits.RawRowView(i)
		for j, v := range p {
			row[j] = v / n
		}
		row[labels[i]] -= 1 / n
	}
	dh := reluGrad(c.last, m.head.backward(c.act, dLogits))
	for i := len(m.blocks) - 1; i >= 0; i-- {
		dh = m.blocks[i].backward(c.blocks[i], dh)
	}
	m.stem.backward(c.input, dh)

	for _, l := range m.layers() {
		l.step(m.opt.LR, m.opt.Momentum, m.cfg.Reg)
	}
	return loss, acc
}

// Evaluate returns loss and accuracy without touching weights.
func (m *ResNet) Evaluate(batch Batch) (float64, float64) {
	x, labels := m.inputs(batch)
	if x == nil {
		return 0, 0
	}
	c := m.forward(x)
	return m.score(c.probs, labels)
}

// Predict returns class probabilities for each well-formed input.
func (m *ResNet) Predict(inputs [][]float64) [][]float64 {
	labels := make([]int, len(inputs))
	x, _ := m.inputs(Batch{Inputs: inputs, Labels: labels})
	if x == nil {
		return nil
	}
	return m.forward(x).probs
}
