package model

import (
	"compress/gzip"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
)

const checkpointVersion = 1

// ErrCheckpointVersion reports a checkpoint written by an incompatible build.
var ErrCheckpointVersion = errors.New("model: unsupported checkpoint version")

type layerState struct {
	Rows, Cols int
	W, VW      []float64
	B, VB      []float64
}

type checkpointState struct {
	Version   int
	Epoch     int
	Config    ResNetConfig
	Optimizer SGD
	Compiled  bool
	Layers    []layerState
}

// Save writes weights, optimizer velocity and settings, architecture and
// epoch. The file is written to a temp name and renamed into place so an
// existing checkpoint is never partially overwritten.
func (m *ResNet) Save(path string, epoch int) error {
	state := checkpointState{
		Version: checkpointVersion,
		Epoch:   epoch,
		Config:  m.cfg,
	}
	if m.opt != nil {
		state.Optimizer = *m.opt
		state.Compiled = true
	}
	for _, l := range m.layers() {
		r, c := l.W.Dims()
		state.Layers = append(state.Layers, layerState{
			Rows: r,
			Cols: c,
			W:    l.W.RawMatrix().Data,
			VW:   l.vW.RawMatrix().Data,
			B:    l.B,
			VB:   l.vB,
		})
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())

	zw := gzip.NewWriter(tmp)
	if err := gob.NewEncoder(zw).Encode(&state); err != nil {
		tmp.Close()
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("compress checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish checkpoint: %w", err)
	}
	return nil
}

// Load rebuilds a network from a checkpoint and returns the epoch it was
// saved at. The optimizer is restored if the model had been compiled.
func Load(path string) (*ResNet, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, 0, fmt.Errorf("decompress checkpoint: %w", err)
	}
	defer zr.Close()

	var state checkpointState
	if err := gob.NewDecoder(zr).Decode(&state); err != nil {
		return nil, 0, fmt.Errorf("decode checkpoint: %w", err)
	}
	if state.Version != checkpointVersion {
		return nil, 0, fmt.Errorf("%w: %d", ErrCheckpointVersion, state.Version)
	}

	m, err := BuildResNet(state.Config)
	if err != nil {
		return nil, 0, fmt.Errorf("rebuild checkpoint: %w", err)
	}
	layers := m.layers()
	if len(layers) != len(state.Layers) {
		return nil, 0, fmt.Errorf("checkpoint has %d layers, architecture has %d", len(state.Layers), len(layers))
	}
	for i, l := range layers {
		s := state.Layers[i]
		r, c := l.W.Dims()
		if s.Rows != r || s.Cols != c || len(s.W) != r*c || len(s.B) != c {
			return nil, 0, fmt.Errorf("checkpoint layer %d is %dx%d, want %dx%d", i, s.Rows, s.Cols, r, c)
		}
		l.W = mat.NewDense(r, c, s.W)
		if len(s.VW) == r*c {
			l.vW = mat.NewDense(r, c, s.VW)
		}
		l.B = s.B
		if len(s.VB) == c {
			l.vB = s.VB
		}
	}
	if state.Compiled {
		m.Compile(state.Optimizer)
	}
	return m, state.Epoch, nil
}
