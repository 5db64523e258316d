package metrics

import "time"

// Window accumulates timing and score stats across multiple steps.
type Window struct {
	samples int
	data    time.Duration
	compute time.Duration
	steps   int
	loss    float64
	acc     float64
	last    float64
}

// Record adds a new measurement to the window.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, loss, acc float64) {
	w.samples += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.steps++
	w.loss += loss
	w.acc += acc
	w.last = loss
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{}
	total := w.data + w.compute
	if total > 0 {
		snap.ImagesPerSec = float64(w.samples) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
		snap.AvgLoss = w.loss / float64(w.steps)
		snap.AvgAccuracy = w.acc / float64(w.steps)
	}
	snap.LastLoss = w.last

	*w = Window{}
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	ImagesPerSec float64
	AvgDataMS    float64
	AvgComputeMS float64
	AvgLoss      float64
	AvgAccuracy  float64
	LastLoss     float64
}

// Mean accumulates a running average of loss and accuracy, weighted by
// batch size.
type Mean struct {
	loss    float64
	acc     float64
	samples int
}

// Add folds one batch result into the mean.
func (m *Mean) Add(n int, loss, acc float64) {
	m.loss += loss * float64(n)
	m.acc += acc * float64(n)
	m.samples += n
}

// Result returns the weighted averages; zero when nothing was added.
func (m *Mean) Result() (loss, acc float64) {
	if m.samples == 0 {
		return 0, 0
	}
	n := float64(m.samples)
	return m.loss / n, m.acc / n
}
