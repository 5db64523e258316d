package model

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
)

func tinyConfig() ResNetConfig {
	return ResNetConfig{
		Width:   2,
		Height:  2,
		Depth:   1,
		Classes: 3,
		Stages:  []int{1, 1},
		Filters: []int{6, 6, 5},
		Seed:    1,
	}
}

func tinyBatch() Batch {
	return Batch{
		Inputs: [][]float64{
			{0.1, 0.2, 0.3, 0.4},
			{0.4, 0.3, 0.2, 0.1},
			{-0.5, 0.5, -0.5, 0.5},
		},
		Labels: []int{1, 2, 0},
	}
}

func TestResNetTrainStepReducesLoss(t *testing.T) {
	m, err := BuildResNet(tinyConfig())
	if err != nil {
		t.Fatalf("BuildResNet: %v", err)
	}
	m.Compile(SGD{LR: 0.05, Momentum: 0.5})
	batch := tinyBatch()
	first, _ := m.TrainStep(batch)
	var last float64
	for i := 0; i < 20; i++ {
		last, _ = m.TrainStep(batch)
	}
	if last >= first {
		t.Fatalf("expected loss to decrease; first=%f last=%f", first, last)
	}
}

func TestResNetGradientMatchesNumeric(t *testing.T) {
	m, err := BuildResNet(tinyConfig())
	if err != nil {
		t.Fatalf("BuildResNet: %v", err)
	}
	m.Compile(SGD{LR: 0, Momentum: 0})
	batch := tinyBatch()
	m.TrainStep(batch) // fills gradients, lr=0 leaves weights untouched

	const eps = 1e-6
	for li, l := range []*dense{m.stem, m.blocks[1].proj, m.head} {
		data := l.W.RawMatrix().Data
		grads := l.gW.RawMatrix().Data
		for _, idx := range []int{0, len(data) / 2, len(data) - 1} {
			orig := data[idx]
			data[idx] = orig + eps
			plus, _ := m.Evaluate(batch)
			data[idx] = orig - eps
			minus, _ := m.Evaluate(batch)
			data[idx] = orig
			numeric := (plus - minus) / (2 * eps)
			if math.Abs(numeric-grads[idx]) > 1e-5+1e-3*math.Abs(numeric) {
				t.Fatalf("layer %d weight %d: analytic %g numeric %g", li, idx, grads[idx], numeric)
			}
		}
	}
}

func TestResNetProjectionOnlyWhenWidthChanges(t *testing.T) {
	m, err := BuildResNet(ResNetConfig{
		Width: 4, Height: 4, Depth: 3, Classes: 10,
		Stages: []int{3, 4, 6}, Filters: []int{8, 8, 16, 32},
	})
	if err != nil {
		t.Fatalf("BuildResNet: %v", err)
	}
	if len(m.blocks) != 13 {
		t.Fatalf("expected 13 blocks, got %d", len(m.blocks))
	}
	projections := 0
	for _, b := range m.blocks {
		if b.proj != nil {
			projections++
		}
	}
	if projections != 2 {
		t.Fatalf("expected 2 projection shortcuts, got %d", projections)
	}
	if r, _ := m.stem.W.Dims(); r != 48 {
		t.Fatalf("stem input %d, want 48", r)
	}
}

func TestResNetConfigValidate(t *testing.T) {
	cfg := tinyConfig()
	cfg.Filters = []int{4, 4}
	if _, err := BuildResNet(cfg); err == nil {
		t.Fatal("expected filter/stage mismatch error")
	}
	cfg = tinyConfig()
	cfg.Classes = 1
	if _, err := BuildResNet(cfg); err == nil {
		t.Fatal("expected classes error")
	}
}

func TestResNetSkipsMalformedSamples(t *testing.T) {
	m, _ := BuildResNet(tinyConfig())
	m.Compile(SGD{LR: 0.01})
	loss, acc := m.TrainStep(Batch{
		Inputs: [][]float64{{1, 2}, {0, 0, 0, 0}},
		Labels: []int{0, 7},
	})
	if loss != 0 || acc != 0 {
		t.Fatalf("expected empty batch result, got %f %f", loss, acc)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	m, _ := BuildResNet(tinyConfig())
	m.Compile(SGD{LR: 0.1, Momentum: 0.9})
	batch := tinyBatch()
	m.TrainStep(batch)

	path := filepath.Join(t.TempDir(), "epoch_10.ckpt")
	if err := m.Save(path, 10); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, epoch, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if epoch != 10 {
		t.Fatalf("epoch %d, want 10", epoch)
	}
	if loaded.LearningRate() != 0.1 {
		t.Fatalf("learning rate %f, want 0.1", loaded.LearningRate())
	}
	wantLoss, wantAcc := m.Evaluate(batch)
	gotLoss, gotAcc := loaded.Evaluate(batch)
	if gotLoss != wantLoss || gotAcc != wantAcc {
		t.Fatalf("loaded model scores %f/%f, want %f/%f", gotLoss, gotAcc, wantLoss, wantAcc)
	}
	// Momentum state must survive: one more step on both stays in lockstep.
	a, _ := m.TrainStep(batch)
	b, _ := loaded.TrainStep(batch)
	if a != b {
		t.Fatalf("post-resume step diverged: %f vs %f", a, b)
	}
}

func TestResumeOverridesLearningRate(t *testing.T) {
	m, _ := BuildResNet(tinyConfig())
	m.Compile(SGD{LR: 0.1, Momentum: 0.9})
	path := filepath.Join(t.TempDir(), "epoch_25.ckpt")
	if err := m.Save(path, 25); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	loaded.SetLearningRate(1e-3)
	if loaded.LearningRate() != 1e-3 {
		t.Fatalf("learning rate %g, want 1e-3", loaded.LearningRate())
	}
	opt, ok := loaded.Optimizer()
	if !ok || opt.Momentum != 0.9 {
		t.Fatalf("momentum lost on resume: %+v", opt)
	}
}

func TestLoadMissingCheckpoint(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "missing.ckpt"))
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrCheckpointVersion) {
		t.Fatalf("unexpected version error: %v", err)
	}
}

func TestResNetPredict(t *testing.T) {
	m, err := BuildResNet(tinyConfig())
	if err != nil {
		t.Fatalf("BuildResNet: %v", err)
	}
	batch := tinyBatch()
	inputs := append(batch.Inputs, []float64{1, 2})
	probs := m.Predict(inputs)
	if len(probs) != len(batch.Inputs) {
		t.Fatalf("expected %d rows (malformed input dropped), got %d", len(batch.Inputs), len(probs))
	}
	correct := 0
	for i, p := range probs {
		if len(p) != 3 {
			t.Fatalf("row %d has %d classes", i, len(p))
		}
		sum := 0.0
		for _, v := range p {
			sum += v
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("row %d sums to %f", i, sum)
		}
		if argmax(p) == batch.Labels[i] {
			correct++
		}
	}
	if _, acc := m.Evaluate(batch); math.Abs(acc-float64(correct)/3) > 1e-12 {
		t.Fatalf("Evaluate accuracy %f disagrees with Predict (%d/3)", acc, correct)
	}
	if m.Predict(nil) != nil {
		t.Fatal("empty input should predict nothing")
	}
}

func TestTrainStepPanicsWhenNotCompiled(t *testing.T) {
	m, err := BuildResNet(tinyConfig())
	if err != nil {
		t.Fatalf("BuildResNet: %v", err)
	}
	defer func() {
		r := recover()
		if err, ok := r.(error); !ok || !errors.Is(err, ErrNotCompiled) {
			t.Fatalf("expected ErrNotCompiled panic, got %v", r)
		}
	}()
	m.TrainStep(tinyBatch())
}
