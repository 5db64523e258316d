package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"resnet-forge/internal/augment"
	"resnet-forge/internal/callbacks"
	"resnet-forge/internal/config"
	"resnet-forge/internal/dataset"
	"resnet-forge/internal/metrics"
	"resnet-forge/internal/model"
	"resnet-forge/internal/preprocess"
	"resnet-forge/internal/procinit"
	"resnet-forge/internal/trainer"
)

// openGenerator is swapped in tests to observe generator lifetimes.
var openGenerator = dataset.NewGenerator

type options struct {
	checkpoints string
	modelPath   string
	startEpoch  int
	configPath  string
	overrides   config.Overrides
}

func main() {
	var opts options
	flag.StringVar(&opts.checkpoints, "checkpoints", "", "Directory for epoch checkpoints (required)")
	flag.StringVar(&opts.modelPath, "model", "", "Checkpoint to resume from")
	flag.IntVar(&opts.startEpoch, "start-epoch", 0, "Epoch to restart training at")
	flag.StringVar(&opts.configPath, "config", "configs/tiny_imagenet.yaml", "Path to YAML config")
	flag.IntVar(&opts.overrides.Epochs, "epochs", 0, "Number of epochs to train")
	flag.IntVar(&opts.overrides.BatchSize, "batch-size", 0, "Batch size")
	flag.IntVar(&opts.overrides.NumWorkers, "num-workers", 0, "Number of data loader workers")
	flag.Int64Var(&opts.overrides.Seed, "seed", 0, "PRNG seed")
	flag.IntVar(&opts.overrides.LogEvery, "log-every", 0, "Log every N steps")

	flag.Parse()

	if opts.checkpoints == "" {
		flag.Usage()
		log.Fatal("--checkpoints is required")
	}

	if err := run(opts); err != nil {
		log.Fatalf("training failed: %v", err)
	}
}

func run(opts options) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	procinit.Init(procinit.Options{MaxStackBytes: procinit.DefaultMaxStack})

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return fmt.Errorf("apply env: %w", err)
	}
	cfg.ApplyOverrides(opts.overrides)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	runID := uuid.NewString()
	log.SetPrefix(fmt.Sprintf("[%s] ", runID))

	means, err := preprocess.LoadMeans(cfg.DatasetMean)
	if err != nil {
		return err
	}
	log.Printf("means R=%.3f G=%.3f B=%.3f", means.R, means.G, means.B)
	chain := preprocess.Chain{
		preprocess.NewSimplePreprocessor(cfg.ImageSize, cfg.ImageSize),
		means.Preprocessor(),
		preprocess.NewImageToArrayPreprocessor(preprocess.LayoutHWC),
	}

	trainGen, err := openGenerator(dataset.GeneratorOptions{
		Path:          cfg.TrainData,
		BatchSize:     cfg.BatchSize,
		Preprocessors: chain,
		Augmenter:     augment.New(augment.DefaultOptions(), cfg.Seed),
		Classes:       cfg.NumClasses,
		Shuffle:       true,
		Repeat:        true,
		Seed:          cfg.Seed,
		NumWorkers:    cfg.NumWorkers,
		QueueSize:     cfg.QueueSize,
	})
	if err != nil {
		return fmt.Errorf("open train data: %w", err)
	}
	defer closeGenerator("train", trainGen)

	valGen, err := openGenerator(dataset.GeneratorOptions{
		Path:          cfg.ValData,
		BatchSize:     cfg.BatchSize,
		Preprocessors: chain,
		Classes:       cfg.NumClasses,
		Repeat:        true,
		Seed:          cfg.Seed,
		NumWorkers:    cfg.NumWorkers,
		QueueSize:     cfg.QueueSize,
	})
	if err != nil {
		return fmt.Errorf("open val data: %w", err)
	}
	defer closeGenerator("val", valGen)

	log.Printf("split=train shards=%d images=%d classes=%d", len(trainGen.Shards()), trainGen.NumImages(), trainGen.NumClasses())
	log.Printf("split=val shards=%d images=%d classes=%d", len(valGen.Shards()), valGen.NumImages(), valGen.NumClasses())

	net, startAt, err := loadOrBuild(cfg, opts)
	if err != nil {
		return err
	}
	log.Printf("model params=%d start_epoch=%d", net.Params(), startAt)

	exporter := metrics.NewExporter(runID)
	cbs := []callbacks.Callback{
		callbacks.NewEpochCheckpoint(opts.checkpoints, cfg.CheckpointEvery, startAt, net),
		callbacks.NewTrainingMonitor(cfg.FigPath, cfg.JSONPath, startAt),
	}
	if cfg.MetricsPath != "" {
		cbs = append(cbs, &callbacks.MetricsExporter{
			Exporter: exporter,
			Path:     cfg.MetricsPath,
			StartAt:  startAt,
			Skipped:  func() int64 { return trainGen.Skipped() + valGen.Skipped() },
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, err = trainer.Fit(ctx, trainer.FitConfig{
		Model:           net,
		Train:           trainGen,
		Val:             valGen,
		Epochs:          cfg.Epochs,
		StepsPerEpoch:   trainer.StepsFor(trainGen.NumImages(), cfg.StepsDivisor),
		ValidationSteps: trainer.StepsFor(valGen.NumImages(), cfg.StepsDivisor),
		StartEpoch:      startAt,
		LogEvery:        cfg.LogEvery,
		Callbacks:       cbs,
		OnBatch:         exporter.AddImages,
	})
	return err
}

// loadOrBuild compiles a fresh network, or restores a checkpoint and drops
// its learning rate to the resume value.
func loadOrBuild(cfg *config.Config, opts options) (*model.ResNet, int, error) {
	if opts.modelPath == "" {
		log.Printf("compiling model...")
		net, err := model.BuildResNet(model.ResNetConfig{
			Width:   cfg.ImageSize,
			Height:  cfg.ImageSize,
			Depth:   3,
			Classes: cfg.NumClasses,
			Stages:  cfg.Stages,
			Filters: cfg.Filters,
			Reg:     cfg.Reg,
			Seed:    cfg.Seed,
		})
		if err != nil {
			return nil, 0, err
		}
		net.Compile(model.SGD{LR: cfg.BaseLR, Momentum: cfg.Momentum})
		return net, opts.startEpoch, nil
	}

	log.Printf("loading %s...", opts.modelPath)
	net, saved, err := model.Load(opts.modelPath)
	if err != nil {
		return nil, 0, err
	}
	arch := net.Config()
	if arch.Width != cfg.ImageSize || arch.Height != cfg.ImageSize || arch.Classes != cfg.NumClasses {
		return nil, 0, fmt.Errorf("checkpoint %s is %dx%d with %d classes, config wants %dx%d with %d",
			opts.modelPath, arch.Width, arch.Height, arch.Classes, cfg.ImageSize, cfg.ImageSize, cfg.NumClasses)
	}
	startAt := opts.startEpoch
	if startAt == 0 && saved > 0 {
		startAt = saved
		log.Printf("start epoch taken from checkpoint: %d", saved)
	}
	if opt, ok := net.Optimizer(); ok {
		log.Printf("restored optimizer momentum=%g", opt.Momentum)
	}
	log.Printf("old learning rate: %g", net.LearningRate())
	net.SetLearningRate(cfg.ResumeLR)
	log.Printf("new learning rate: %g", net.LearningRate())
	return net, startAt, nil
}

func closeGenerator(name string, g *dataset.Generator) {
	if err := g.Close(); err != nil {
		log.Printf("close %s generator: %v", name, err)
	}
}
