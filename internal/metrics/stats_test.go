package metrics

import (
	"math"
	"testing"
	"time"
)

func TestWindowSnapshot(t *testing.T) {
	var w Window
	w.Record(64, 20*time.Millisecond, 10*time.Millisecond, 1.2, 0.25)
	w.Record(64, 10*time.Millisecond, 20*time.Millisecond, 0.8, 0.75)
	snap := w.Snapshot()
	if math.Abs(snap.ImagesPerSec-2133.3333) > 1 {
		t.Fatalf("unexpected throughput %.2f", snap.ImagesPerSec)
	}
	if w.samples != 0 || w.steps != 0 {
		t.Fatalf("window was not reset")
	}
	if snap.LastLoss != 0.8 {
		t.Fatalf("expected last loss 0.8, got %.2f", snap.LastLoss)
	}
	if math.Abs(snap.AvgLoss-1.0) > 1e-9 || math.Abs(snap.AvgAccuracy-0.5) > 1e-9 {
		t.Fatalf("unexpected averages loss=%f acc=%f", snap.AvgLoss, snap.AvgAccuracy)
	}
}

func TestMeanWeightsByBatchSize(t *testing.T) {
	var m Mean
	if l, a := m.Result(); l != 0 || a != 0 {
		t.Fatalf("empty mean should be zero")
	}
	m.Add(3, 1.0, 1.0)
	m.Add(1, 3.0, 0.0)
	loss, acc := m.Result()
	if math.Abs(loss-1.5) > 1e-9 || math.Abs(acc-0.75) > 1e-9 {
		t.Fatalf("loss=%f acc=%f", loss, acc)
	}
}
