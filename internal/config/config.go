package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"resnet-forge/internal/procinit"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	TrainData       string  `yaml:"train_data"`
	ValData         string  `yaml:"val_data"`
	DatasetMean     string  `yaml:"dataset_mean"`
	NumClasses      int     `yaml:"num_classes"`
	ImageSize       int     `yaml:"image_size"`
	BatchSize       int     `yaml:"batch_size"`
	Epochs          int     `yaml:"epochs"`
	StepsDivisor    int     `yaml:"steps_divisor"`
	CheckpointEvery int     `yaml:"checkpoint_every"`
	FigPath         string  `yaml:"fig_path"`
	JSONPath        string  `yaml:"json_path"`
	MetricsPath     string  `yaml:"metrics_path"`
	NumWorkers      int     `yaml:"num_workers"`
	QueueSize       int     `yaml:"queue_size"`
	Seed            int64   `yaml:"seed"`
	LogEvery        int     `yaml:"log_every"`
	BaseLR          float64 `yaml:"base_lr"`
	Momentum        float64 `yaml:"momentum"`
	ResumeLR        float64 `yaml:"resume_lr"`
	Reg             float64 `yaml:"reg"`
	Stages          []int   `yaml:"stages"`
	Filters         []int   `yaml:"filters"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	Epochs     int
	BatchSize  int
	NumWorkers int
	Seed       int64
	LogEvery   int
}

// Default returns the tiny-imagenet residual network settings.
func Default() *Config {
	return &Config{
		DatasetMean:     "output/tiny-image-net-200-mean.json",
		NumClasses:      200,
		ImageSize:       64,
		BatchSize:       64,
		Epochs:          10,
		StepsDivisor:    16,
		CheckpointEvery: 10,
		FigPath:         "output/resnet_tinyimagenet.png",
		JSONPath:        "output/resnet_tinyimagenet.json",
		QueueSize:       128,
		Seed:            42,
		LogEvery:        50,
		BaseLR:          1e-1,
		Momentum:        0.9,
		ResumeLR:        1e-3,
		Reg:             0.0005,
		Stages:          []int{3, 4, 6},
		Filters:         []int{64, 128, 256, 512},
	}
}

// Load reads a YAML file on top of Default. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := parseYAML(f)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func parseYAML(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
}

// ApplyEnv overrides paths and worker settings from RESNET_* variables.
// lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"RESNET_TRAIN_DATA":   &c.TrainData,
		"RESNET_VAL_DATA":     &c.ValData,
		"RESNET_DATASET_MEAN": &c.DatasetMean,
		"RESNET_FIG_PATH":     &c.FigPath,
		"RESNET_JSON_PATH":    &c.JSONPath,
		"RESNET_METRICS_PATH": &c.MetricsPath,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	ints := map[string]*int{
		"RESNET_NUM_WORKERS": &c.NumWorkers,
		"RESNET_BATCH_SIZE":  &c.BatchSize,
		"RESNET_EPOCHS":      &c.Epochs,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}
	return nil
}

// Validate verifies the config is runnable and fills derived defaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.TrainData == "" || c.ValData == "" {
		return errors.New("train_data and val_data must both be set")
	}
	if c.DatasetMean == "" {
		return errors.New("dataset_mean must be set")
	}
	if c.NumClasses <= 1 {
		return fmt.Errorf("num_classes must be > 1 (got %d)", c.NumClasses)
	}
	if c.ImageSize <= 0 {
		return fmt.Errorf("image_size must be > 0 (got %d)", c.ImageSize)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.CheckpointEvery <= 0 {
		return fmt.Errorf("checkpoint_every must be > 0 (got %d)", c.CheckpointEvery)
	}
	if c.BaseLR <= 0 || c.ResumeLR <= 0 {
		return fmt.Errorf("learning rates must be > 0 (base %g, resume %g)", c.BaseLR, c.ResumeLR)
	}
	if len(c.Filters) != len(c.Stages)+1 {
		return fmt.Errorf("filters needs %d entries for %d stages (got %d)", len(c.Stages)+1, len(c.Stages), len(c.Filters))
	}
	if c.StepsDivisor <= 0 {
		c.StepsDivisor = 16
	}
	if c.NumWorkers <= 0 {
		c.NumWorkers = procinit.DefaultWorkers()
	}
	if c.QueueSize <= 0 {
		c.QueueSize = c.BatchSize * 2
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 50
	}
	return nil
}
