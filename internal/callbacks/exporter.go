package callbacks

import "resnet-forge/internal/metrics"

// MetricsExporter mirrors epoch logs into Prometheus gauges and rewrites a
// textfile after every epoch.
type MetricsExporter struct {
	Exporter *metrics.Exporter
	Path     string
	StartAt  int
	// Skipped, when set, reports the decoder skip count.
	Skipped func() int64
}

func (e *MetricsExporter) OnTrainBegin() error { return nil }

func (e *MetricsExporter) OnEpochEnd(epoch int, logs Logs) error {
	e.Exporter.ObserveEpoch(e.StartAt+epoch+1, logs["lr"], logs["loss"], logs["accuracy"], logs["val_loss"], logs["val_accuracy"])
	if e.Skipped != nil {
		e.Exporter.SetSkipped(e.Skipped())
	}
	if e.Path == "" {
		return nil
	}
	return e.Exporter.WriteTextfile(e.Path)
}
