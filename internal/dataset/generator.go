package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"resnet-forge/internal/augment"
	"resnet-forge/internal/model"
	"resnet-forge/internal/preprocess"
)

var (
	// ErrClosed is returned when a closed generator is asked for data.
	ErrClosed = errors.New("dataset: generator closed")
	// ErrLabelRange reports a label outside [0, classes).
	ErrLabelRange = errors.New("dataset: label out of range")
)

const defaultShuffleBuffer = 512

// GeneratorOptions configures a batch generator over one dataset path.
type GeneratorOptions struct {
	// Path is a single shard file or a directory of shard-NNNNNN.tar files.
	Path      string
	BatchSize int
	// Preprocessors run in order on every decoded image.
	Preprocessors preprocess.Chain
	// Augmenter is applied before preprocessing; nil disables augmentation.
	Augmenter *augment.Augmenter
	// Classes bounds the labels; zero means the distinct label count.
	Classes int
	// Order is the channel order decoded images are converted to.
	Order         preprocess.ChannelOrder
	Shuffle       bool
	Repeat        bool
	Seed          int64
	NumWorkers    int
	QueueSize     int
	ShuffleBuffer int
	PendingCap    int
}

// Generator produces preprocessed batches from a sharded dataset. The shard
// files are opened by NewGenerator and stay open until Close.
type Generator struct {
	opts       GeneratorOptions
	roots      map[string][]string
	files      map[string]*os.File
	sizes      map[string]int64
	numImages  int
	numClasses int
	skipped    atomic.Int64

	mu     sync.Mutex
	closed bool
}

// NewGenerator opens every shard under opts.Path and counts its samples.
func NewGenerator(opts GeneratorOptions) (*Generator, error) {
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("dataset: batch size must be > 0 (got %d)", opts.BatchSize)
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = opts.NumWorkers * 2
	}
	if opts.ShuffleBuffer <= 0 {
		opts.ShuffleBuffer = defaultShuffleBuffer
	}
	if opts.Order == "" {
		opts.Order = preprocess.OrderRGB
	}

	roots, err := ResolveShards(opts.Path)
	if err != nil {
		return nil, err
	}
	g := &Generator{
		opts:  opts,
		roots: roots,
		files: make(map[string]*os.File),
		sizes: make(map[string]int64),
	}
	for _, shards := range roots {
		for _, path := range shards {
			if err := g.open(path); err != nil {
				g.Close()
				return nil, err
			}
		}
	}
	if len(g.files) == 0 {
		return nil, fmt.Errorf("dataset: no shards found under %s", opts.Path)
	}

	labels := make(map[int]struct{})
	for path := range g.files {
		n, err := countShard(g.reader(path), labels)
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("count %s: %w", path, err)
		}
		g.numImages += n
	}
	g.numClasses = len(labels)
	if g.opts.Classes <= 0 {
		g.opts.Classes = g.numClasses
	}
	return g, nil
}

func (g *Generator) open(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open shard: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat shard: %w", err)
	}
	g.files[path] = f
	g.sizes[path] = info.Size()
	return nil
}

// reader returns an independent view of the shard; concurrent readers do
// not share a file offset.
func (g *Generator) reader(path string) io.Reader {
	return io.NewSectionReader(g.files[path], 0, g.sizes[path])
}

// NumImages is the number of paired samples across all shards.
func (g *Generator) NumImages() int { return g.numImages }

// NumClasses is the number of distinct labels seen while counting.
func (g *Generator) NumClasses() int { return g.numClasses }

// Classes is the label bound used for validation.
func (g *Generator) Classes() int { return g.opts.Classes }

// Shards lists the opened shard paths in sorted order.
func (g *Generator) Shards() []string {
	out := make([]string, 0, len(g.files))
	for path := range g.files {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// Skipped reports how many samples failed to decode.
func (g *Generator) Skipped() int64 { return g.skipped.Load() }

// Close releases every shard handle. It is safe to call more than once.
func (g *Generator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	var errs []error
	for path, f := range g.files {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

func (g *Generator) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// Samples streams raw paired samples in generator order, without decoding.
func (g *Generator) Samples(ctx context.Context) (<-chan Sample, <-chan error, error) {
	if g.isClosed() {
		return nil, nil, ErrClosed
	}
	samples, errs := startSampler(ctx, samplerOptions{
		Roots:      g.roots,
		Open:       g.reader,
		Shuffle:    g.opts.Shuffle,
		Repeat:     g.opts.Repeat,
		Seed:       g.opts.Seed,
		NumWorkers: g.opts.NumWorkers,
		PendingCap: g.opts.PendingCap,
	})
	return samples, errs, nil
}

type rawBatch struct {
	idx     int64
	samples []Sample
}

type batchResult struct {
	idx   int64
	batch model.Batch
	err   error
}

// Stream produces batches into a queue of QueueSize. Batches keep the
// sampler order even though they are decoded by NumWorkers goroutines.
// Without Repeat the stream ends after one pass, with a final short batch
// if the image count is not a multiple of BatchSize.
func (g *Generator) Stream(parent context.Context) (<-chan model.Batch, <-chan error, error) {
	ctx, cancel := context.WithCancel(parent)
	samples, samplerErr, err := g.Samples(ctx)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	out := make(chan model.Batch, g.opts.QueueSize)
	errCh := make(chan error, 1)
	fail := func(err error) {
		select {
		case errCh <- err:
		default:
		}
		cancel()
	}

	jobs := make(chan rawBatch, g.opts.NumWorkers)
	results := make(chan batchResult, g.opts.NumWorkers)

	var senders sync.WaitGroup
	senders.Add(1)
	go func() {
		defer senders.Done()
		defer close(jobs)
		if err := g.assemble(ctx, samples, samplerErr, jobs); err != nil {
			fail(err)
		}
	}()

	var workers sync.WaitGroup
	for i := 0; i < g.opts.NumWorkers; i++ {
		var aug *augment.Augmenter
		if g.opts.Augmenter != nil {
			aug = g.opts.Augmenter.Fork()
		}
		workers.Add(1)
		go func() {
			defer workers.Done()
			for job := range jobs {
				batch, err := g.decodeBatch(job.samples, aug)
				select {
				case <-ctx.Done():
					return
				case results <- batchResult{idx: job.idx, batch: batch, err: err}:
				}
			}
		}()
	}
	go func() {
		workers.Wait()
		close(results)
	}()

	senders.Add(1)
	go func() {
		defer senders.Done()
		defer close(out)
		if err := emitOrdered(ctx, results, out); err != nil {
			fail(err)
		}
	}()

	go func() {
		senders.Wait()
		close(errCh)
		cancel()
	}()

	return out, errCh, nil
}

// assemble groups samples into raw batches, passing them through a shuffle
// buffer first when shuffling is enabled.
func (g *Generator) assemble(ctx context.Context, samples <-chan Sample, samplerErr <-chan error, jobs chan<- rawBatch) error {
	var (
		idx     int64
		current = make([]Sample, 0, g.opts.BatchSize)
		buffer  []Sample
		rng     = rand.New(rand.NewSource(g.opts.Seed + 1))
	)
	push := func(s Sample) error {
		current = append(current, s)
		if len(current) < g.opts.BatchSize {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case jobs <- rawBatch{idx: idx, samples: current}:
		}
		idx++
		current = make([]Sample, 0, g.opts.BatchSize)
		return nil
	}
	popRandom := func() Sample {
		i := rng.Intn(len(buffer))
		s := buffer[i]
		buffer[i] = buffer[len(buffer)-1]
		buffer = buffer[:len(buffer)-1]
		return s
	}

	for samples != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-samplerErr:
			if !ok {
				samplerErr = nil
				continue
			}
			if err != nil {
				return err
			}
		case s, ok := <-samples:
			if !ok {
				samples = nil
				continue
			}
			if !g.opts.Shuffle {
				if err := push(s); err != nil {
					return err
				}
				continue
			}
			buffer = append(buffer, s)
			if len(buffer) >= g.opts.ShuffleBuffer {
				if err := push(popRandom()); err != nil {
					return err
				}
			}
		}
	}
	if samplerErr != nil {
		if err := <-samplerErr; err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	for len(buffer) > 0 {
		if err := push(popRandom()); err != nil {
			return err
		}
	}
	if len(current) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case jobs <- rawBatch{idx: idx, samples: current}:
		}
	}
	return nil
}

// decodeBatch decodes, augments and preprocesses one batch. Undecodable
// images are skipped; an out-of-range label fails the batch.
func (g *Generator) decodeBatch(samples []Sample, aug *augment.Augmenter) (model.Batch, error) {
	batch := model.Batch{
		Inputs: make([][]float64, 0, len(samples)),
		Labels: make([]int, 0, len(samples)),
	}
	for _, s := range samples {
		if s.Label < 0 || s.Label >= g.opts.Classes {
			return model.Batch{}, fmt.Errorf("%w: key=%s label=%d classes=%d", ErrLabelRange, s.Key, s.Label, g.opts.Classes)
		}
		img, _, err := image.Decode(bytes.NewReader(s.Image))
		if err != nil {
			g.skipped.Add(1)
			continue
		}
		if aug != nil {
			img = aug.Apply(img)
		}
		pim := g.opts.Preprocessors.Apply(preprocess.FromImage(img, g.opts.Order))
		batch.Inputs = append(batch.Inputs, pim.Vector())
		batch.Labels = append(batch.Labels, s.Label)
	}
	return batch, nil
}

// emitOrdered forwards results in index order, holding early arrivals.
func emitOrdered(ctx context.Context, results <-chan batchResult, out chan<- model.Batch) error {
	pending := make(map[int64]batchResult)
	var next int64
	for res := range results {
		pending[res.idx] = res
		for {
			r, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			if r.err != nil {
				return r.err
			}
			if len(r.batch.Inputs) == 0 {
				continue
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- r.batch:
			}
		}
	}
	return ctx.Err()
}
