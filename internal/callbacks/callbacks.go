// Package callbacks holds the hooks the trainer runs at epoch boundaries.
package callbacks

import (
	"fmt"
	"os"
	"path/filepath"

	"resnet-forge/internal/model"
)

// Logs carries epoch-level results keyed by metric name, e.g. "loss",
// "accuracy", "val_loss", "val_accuracy", "lr".
type Logs map[string]float64

// Callback reacts to training progress. epoch is zero-based and relative to
// the start of the current Fit call.
type Callback interface {
	OnTrainBegin() error
	OnEpochEnd(epoch int, logs Logs) error
}

// EpochCheckpoint serializes the model every Every epochs. StartAt offsets
// the epoch counter so resumed runs keep absolute epoch numbers.
type EpochCheckpoint struct {
	Dir     string
	Every   int
	StartAt int
	Model   model.Model
}

// NewEpochCheckpoint returns a checkpoint callback writing into dir.
func NewEpochCheckpoint(dir string, every, startAt int, m model.Model) *EpochCheckpoint {
	if every <= 0 {
		every = 5
	}
	return &EpochCheckpoint{Dir: dir, Every: every, StartAt: startAt, Model: m}
}

func (c *EpochCheckpoint) OnTrainBegin() error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	return nil
}

func (c *EpochCheckpoint) OnEpochEnd(epoch int, _ Logs) error {
	abs := c.StartAt + epoch + 1
	if abs%c.Every != 0 {
		return nil
	}
	path := c.Path(abs)
	if err := c.Model.Save(path, abs); err != nil {
		return fmt.Errorf("checkpoint epoch %d: %w", abs, err)
	}
	return nil
}

// Path is the checkpoint file for an absolute epoch.
func (c *EpochCheckpoint) Path(epoch int) string {
	return filepath.Join(c.Dir, fmt.Sprintf("epoch_%d.ckpt", epoch))
}
