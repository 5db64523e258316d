package trainer

import (
	"context"
	"log"
	"time"

	"resnet-forge/internal/metrics"
	"resnet-forge/internal/model"
)

// stream wraps a BatchSource so a finite source is reopened when it runs
// out mid-epoch.
type stream struct {
	src    BatchSource
	batch  <-chan model.Batch
	errs   <-chan error
	cancel context.CancelFunc
}

func (s *stream) open(ctx context.Context) error {
	s.stop()
	sctx, cancel := context.WithCancel(ctx)
	batches, errs, err := s.src.Stream(sctx)
	if err != nil {
		cancel()
		return err
	}
	s.batch, s.errs, s.cancel = batches, errs, cancel
	return nil
}

func (s *stream) stop() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.batch, s.errs = nil, nil
}

// next returns the following batch, reopening the source once if it ended.
func (s *stream) next(ctx context.Context) (model.Batch, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if s.batch == nil {
			if err := s.open(ctx); err != nil {
				return model.Batch{}, err
			}
		}
		batch, ok, err := receive(ctx, s.batch, s.errs)
		if err != nil {
			return model.Batch{}, err
		}
		if ok {
			return batch, nil
		}
		s.stop()
	}
	return model.Batch{}, ErrEmptyStream
}

// receive waits for one batch. ok is false once the stream is exhausted
// without error.
func receive(ctx context.Context, batches <-chan model.Batch, errs <-chan error) (model.Batch, bool, error) {
	for {
		select {
		case <-ctx.Done():
			return model.Batch{}, false, ctx.Err()
		case err, open := <-errs:
			if !open {
				errs = nil
				continue
			}
			if err != nil {
				return model.Batch{}, false, err
			}
		case batch, open := <-batches:
			if !open {
				if errs != nil {
					if err := <-errs; err != nil {
						return model.Batch{}, false, err
					}
				}
				return model.Batch{}, false, nil
			}
			return batch, true, nil
		}
	}
}

func trainEpoch(ctx context.Context, cfg FitConfig, train *stream, epoch int) (float64, float64, error) {
	var (
		window metrics.Window
		mean   metrics.Mean
	)
	for step := 1; step <= cfg.StepsPerEpoch; step++ {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		startData := time.Now()
		batch, err := train.next(ctx)
		if err != nil {
			return 0, 0, err
		}
		dataTime := time.Since(startData)
		if batch.Len() == 0 {
			continue
		}

		startCompute := time.Now()
		loss, acc := cfg.Model.TrainStep(batch)
		computeTime := time.Since(startCompute)

		window.Record(batch.Len(), dataTime, computeTime, loss, acc)
		mean.Add(batch.Len(), loss, acc)
		if cfg.OnBatch != nil {
			cfg.OnBatch(batch.Len())
		}

		if step%cfg.LogEvery == 0 {
			snap := window.Snapshot()
			log.Printf("epoch=%d step=%d/%d images_per_sec=%.1f data_ms=%.2f compute_ms=%.2f loss=%.4f accuracy=%.4f",
				epoch,
				step,
				cfg.StepsPerEpoch,
				snap.ImagesPerSec,
				snap.AvgDataMS,
				snap.AvgComputeMS,
				snap.AvgLoss,
				snap.AvgAccuracy,
			)
		}
	}
	loss, acc := mean.Result()
	return loss, acc, nil
}

// evaluate scores up to steps batches from a fresh validation stream.
func evaluate(ctx context.Context, m model.Model, src BatchSource, steps int) (float64, float64, error) {
	vctx, cancel := context.WithCancel(ctx)
	defer cancel()
	batches, errs, err := src.Stream(vctx)
	if err != nil {
		return 0, 0, err
	}
	var mean metrics.Mean
	for step := 0; step < steps; step++ {
		batch, ok, err := receive(vctx, batches, errs)
		if err != nil {
			return 0, 0, err
		}
		if !ok {
			break
		}
		if batch.Len() == 0 {
			continue
		}
		loss, acc := m.Evaluate(batch)
		mean.Add(batch.Len(), loss, acc)
	}
	loss, acc := mean.Result()
	return loss, acc, nil
}
