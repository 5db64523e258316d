package trainer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"resnet-forge/internal/callbacks"
	"resnet-forge/internal/model"
)

// ErrEmptyStream is returned when a source closes before yielding a batch.
var ErrEmptyStream = errors.New("trainer: batch stream produced no data")

// BatchSource opens a stream of batches. dataset.Generator satisfies it.
type BatchSource interface {
	Stream(ctx context.Context) (<-chan model.Batch, <-chan error, error)
}

// FitConfig captures the knobs required by the training loop.
type FitConfig struct {
	Model model.Model
	Train BatchSource
	// Val is optional; without it the val_* logs are omitted.
	Val             BatchSource
	Epochs          int
	StepsPerEpoch   int
	ValidationSteps int
	// StartEpoch is only used to label log lines of resumed runs.
	StartEpoch int
	LogEvery   int
	Callbacks  []callbacks.Callback
	// OnBatch, when set, is called with the size of every trained batch.
	OnBatch func(n int)
}

// StepsFor mirrors the per-epoch step count used for both splits:
// numImages / divisor, at least one.
func StepsFor(numImages, divisor int) int {
	if divisor <= 0 {
		divisor = 1
	}
	if steps := numImages / divisor; steps > 0 {
		return steps
	}
	return 1
}

// Fit trains for cfg.Epochs epochs and returns the per-epoch logs.
func Fit(ctx context.Context, cfg FitConfig) ([]callbacks.Logs, error) {
	if cfg.Model == nil || cfg.Train == nil {
		return nil, errors.New("trainer: model and train source are required")
	}
	if cfg.Epochs <= 0 {
		return nil, errors.New("trainer: epochs must be > 0")
	}
	if cfg.StepsPerEpoch <= 0 {
		return nil, errors.New("trainer: steps per epoch must be > 0")
	}
	if cfg.Val != nil && cfg.ValidationSteps <= 0 {
		return nil, errors.New("trainer: validation steps must be > 0")
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 50
	}

	for _, cb := range cfg.Callbacks {
		if err := cb.OnTrainBegin(); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	train := &stream{src: cfg.Train}
	defer train.stop()

	var history []callbacks.Logs
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		label := cfg.StartEpoch + epoch + 1
		start := time.Now()
		loss, acc, err := trainEpoch(ctx, cfg, train, label)
		if err != nil {
			return history, fmt.Errorf("epoch %d: %w", label, err)
		}
		logs := callbacks.Logs{
			"loss":     loss,
			"accuracy": acc,
			"lr":       cfg.Model.LearningRate(),
		}
		if cfg.Val != nil {
			valLoss, valAcc, err := evaluate(ctx, cfg.Model, cfg.Val, cfg.ValidationSteps)
			if err != nil {
				return history, fmt.Errorf("epoch %d validation: %w", label, err)
			}
			logs["val_loss"] = valLoss
			logs["val_accuracy"] = valAcc
			log.Printf("epoch=%d loss=%.4f accuracy=%.4f val_loss=%.4f val_accuracy=%.4f lr=%g elapsed=%s",
				label, loss, acc, valLoss, valAcc, logs["lr"], time.Since(start).Round(time.Millisecond))
		} else {
			log.Printf("epoch=%d loss=%.4f accuracy=%.4f lr=%g elapsed=%s",
				label, loss, acc, logs["lr"], time.Since(start).Round(time.Millisecond))
		}
		history = append(history, logs)

		for _, cb := range cfg.Callbacks {
			if err := cb.OnEpochEnd(epoch, logs); err != nil {
				return history, err
			}
		}
	}
	return history, nil
}
