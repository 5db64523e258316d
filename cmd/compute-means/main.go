package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/disintegration/imaging"

	"resnet-forge/internal/dataset"
	"resnet-forge/internal/preprocess"
	"resnet-forge/internal/procinit"
)

func main() {
	datasetPath := flag.String("dataset", "", "Training shard file or directory (required)")
	out := flag.String("out", "output/tiny-image-net-200-mean.json", "Where to write the channel means")
	size := flag.Int("size", 64, "Resize images to size x size before accumulating; 0 keeps the original size")
	numWorkers := flag.Int("num-workers", 0, "Number of shard reader workers")
	logEvery := flag.Int("log-every", 10000, "Log progress every N images")

	flag.Parse()

	if *datasetPath == "" {
		flag.Usage()
		log.Fatal("--dataset is required")
	}
	if *numWorkers <= 0 {
		*numWorkers = procinit.DefaultWorkers()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	means, err := compute(ctx, *datasetPath, *size, *numWorkers, *logEvery)
	if err != nil {
		log.Fatalf("compute means: %v", err)
	}
	if err := means.Save(*out); err != nil {
		log.Fatalf("save means: %v", err)
	}
	log.Printf("wrote %s R=%.3f G=%.3f B=%.3f", *out, means.R, means.G, means.B)
}

func compute(ctx context.Context, path string, size, workers, logEvery int) (preprocess.Means, error) {
	gen, err := dataset.NewGenerator(dataset.GeneratorOptions{
		Path:       path,
		BatchSize:  1,
		NumWorkers: workers,
	})
	if err != nil {
		return preprocess.Means{}, err
	}
	defer gen.Close()
	log.Printf("dataset=%s shards=%d images=%d", path, len(gen.Shards()), gen.NumImages())

	samples, errs, err := gen.Samples(ctx)
	if err != nil {
		return preprocess.Means{}, err
	}
	var acc preprocess.MeanAccumulator
	skipped := 0
	for samples != nil {
		select {
		case <-ctx.Done():
			return preprocess.Means{}, ctx.Err()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return preprocess.Means{}, err
			}
		case s, ok := <-samples:
			if !ok {
				samples = nil
				continue
			}
			img, _, err := image.Decode(bytes.NewReader(s.Image))
			if err != nil {
				skipped++
				continue
			}
			if size > 0 {
				img = imaging.Resize(img, size, size, imaging.Box)
			}
			acc.Add(img)
			if logEvery > 0 && acc.Images()%logEvery == 0 {
				log.Printf("processed=%d/%d", acc.Images(), gen.NumImages())
			}
		}
	}
	if errs != nil {
		if err := <-errs; err != nil {
			return preprocess.Means{}, err
		}
	}
	if acc.Images() == 0 {
		return preprocess.Means{}, fmt.Errorf("no decodable images under %s", path)
	}
	log.Printf("processed=%d skipped=%d", acc.Images(), skipped)
	return acc.Means(), nil
}
