package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

// Exporter keeps per-run training gauges in a private registry so they can
// be written as a node-exporter textfile at each epoch boundary.
type Exporter struct {
	registry *prometheus.Registry
	epoch    prometheus.Gauge
	lr       prometheus.Gauge
	scores   *prometheus.GaugeVec
	images   prometheus.Counter
	skipped  prometheus.Gauge
}

// NewExporter registers the training gauges labelled with runID.
func NewExporter(runID string) *Exporter {
	labels := prometheus.Labels{"run_id": runID}
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "resnet_train_epoch",
			Help:        "Last completed training epoch.",
			ConstLabels: labels,
		}),
		lr: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "resnet_train_learning_rate",
			Help:        "Current optimizer learning rate.",
			ConstLabels: labels,
		}),
		scores: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "resnet_train_score",
			Help:        "Epoch-level loss and accuracy by split.",
			ConstLabels: labels,
		}, []string{"split", "metric"}),
		images: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "resnet_train_images_total",
			Help:        "Training images consumed.",
			ConstLabels: labels,
		}),
		skipped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "resnet_train_skipped_images",
			Help:        "Images skipped because they failed to decode.",
			ConstLabels: labels,
		}),
	}
	e.registry.MustRegister(e.epoch, e.lr, e.scores, e.images, e.skipped)
	return e
}

// ObserveEpoch records the epoch-level scores.
func (e *Exporter) ObserveEpoch(epoch int, lr, loss, acc, valLoss, valAcc float64) {
	e.epoch.Set(float64(epoch))
	e.lr.Set(lr)
	e.scores.WithLabelValues("train", "loss").Set(loss)
	e.scores.WithLabelValues("train", "accuracy").Set(acc)
	e.scores.WithLabelValues("val", "loss").Set(valLoss)
	e.scores.WithLabelValues("val", "accuracy").Set(valAcc)
}

// AddImages counts consumed training images.
func (e *Exporter) AddImages(n int) { e.images.Add(float64(n)) }

// SetSkipped records the decoder skip count.
func (e *Exporter) SetSkipped(n int64) { e.skipped.Set(float64(n)) }

// WriteTextfile writes the registry in text exposition format.
func (e *Exporter) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, e.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
