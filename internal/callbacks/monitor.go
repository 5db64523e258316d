package callbacks

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// History maps a metric name to its per-epoch values.
type History map[string][]float64

// TrainingMonitor keeps the loss/accuracy history on disk and renders it
// as a PNG after every epoch.
type TrainingMonitor struct {
	FigPath  string
	JSONPath string
	StartAt  int

	history History
}

func NewTrainingMonitor(figPath, jsonPath string, startAt int) *TrainingMonitor {
	return &TrainingMonitor{FigPath: figPath, JSONPath: jsonPath, StartAt: startAt, history: History{}}
}

// OnTrainBegin reloads the history of a resumed run and drops entries past
// StartAt, which belong to epochs that are about to be retrained.
func (m *TrainingMonitor) OnTrainBegin() error {
	m.history = History{}
	if m.JSONPath == "" || m.StartAt <= 0 {
		return nil
	}
	raw, err := os.ReadFile(m.JSONPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	if err := json.Unmarshal(raw, &m.history); err != nil {
		return fmt.Errorf("parse history %s: %w", m.JSONPath, err)
	}
	for k, v := range m.history {
		if len(v) > m.StartAt {
			m.history[k] = v[:m.StartAt]
		}
	}
	return nil
}

func (m *TrainingMonitor) OnEpochEnd(_ int, logs Logs) error {
	for k, v := range logs {
		m.history[k] = append(m.history[k], v)
	}
	if m.JSONPath != "" {
		raw, err := json.Marshal(m.history)
		if err != nil {
			return fmt.Errorf("encode history: %w", err)
		}
		if err := writeFile(m.JSONPath, raw); err != nil {
			return err
		}
	}
	if m.FigPath != "" && len(m.history["loss"]) > 1 {
		if err := m.plot(); err != nil {
			return fmt.Errorf("plot history: %w", err)
		}
	}
	return nil
}

// History returns the in-memory history.
func (m *TrainingMonitor) History() History { return m.history }

func (m *TrainingMonitor) plot() error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Training Loss and Accuracy [Epoch %d]", len(m.history["loss"]))
	p.X.Label.Text = "Epoch #"
	p.Y.Label.Text = "Loss/Accuracy"

	var series []interface{}
	for _, name := range m.seriesNames() {
		values := m.history[name]
		pts := make(plotter.XYs, len(values))
		for i, v := range values {
			pts[i].X = float64(i)
			pts[i].Y = v
		}
		series = append(series, name, pts)
	}
	if err := plotutil.AddLines(p, series...); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.FigPath), 0o755); err != nil {
		return err
	}
	return p.Save(8*vg.Inch, 6*vg.Inch, m.FigPath)
}

// seriesNames lists the plotted metrics in a stable order; the learning
// rate is on a different scale and is left out.
func (m *TrainingMonitor) seriesNames() []string {
	var names []string
	for k := range m.history {
		if k == "lr" {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func writeFile(path string, raw []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
