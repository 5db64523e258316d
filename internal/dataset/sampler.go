package dataset

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"sort"
	"sync"
)

// samplerOptions configures the shard-level sampler.
type samplerOptions struct {
	Roots      map[string][]string
	Open       func(path string) io.Reader
	Shuffle    bool
	Repeat     bool
	Seed       int64
	NumWorkers int
	PendingCap int
}

// startSampler streams samples shard by shard. Shards are read
// concurrently by NumWorkers but emitted in job order, so a fixed seed
// yields a fixed sample order.
func startSampler(parent context.Context, opts samplerOptions) (<-chan Sample, <-chan error) {
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.PendingCap <= 0 {
		opts.PendingCap = defaultPendingCap
	}

	ctx, cancel := context.WithCancel(parent)

	jobs := make(chan shardJob, opts.NumWorkers)
	cursors := make(chan shardCursor, opts.NumWorkers)
	out := make(chan Sample, opts.NumWorkers*2)
	errCh := make(chan error, opts.NumWorkers)

	var rng *rand.Rand
	if opts.Shuffle {
		rng = rand.New(rand.NewSource(opts.Seed))
	}

	go produceJobs(ctx, jobs, opts.Roots, rng, opts.Repeat)

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(ctx, jobs, cursors, opts.Open, opts.PendingCap)
		}()
	}

	go func() {
		wg.Wait()
		close(cursors)
	}()

	go func() {
		defer cancel()
		defer close(out)
		defer close(errCh)
		runAggregator(ctx, cursors, out, errCh)
	}()

	return out, errCh
}

type shardJob struct {
	id   int64
	root string
	path string
}

type shardCursor struct {
	id      int64
	samples <-chan Sample
	errCh   <-chan error
}

func worker(ctx context.Context, jobs <-chan shardJob, cursors chan<- shardCursor, open func(string) io.Reader, pendingCap int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			samples, errCh := StreamShard(ctx, open(job.path), pendingCap)
			cursor := shardCursor{id: job.id, samples: samples, errCh: errCh}
			select {
			case <-ctx.Done():
				return
			case cursors <- cursor:
			}
		}
	}
}

func runAggregator(ctx context.Context, cursors <-chan shardCursor, out chan<- Sample, errCh chan<- error) {
	pending := make(map[int64]shardCursor)
	var nextID int64
	for {
		cursor, ok := pending[nextID]
		if !ok {
			select {
			case <-ctx.Done():
				return
			case cursor, ok = <-cursors:
				if !ok {
					return
				}
				pending[cursor.id] = cursor
			}
			continue
		}

		if !drainCursor(ctx, cursor, out) {
			return
		}
		if err := <-cursor.errCh; err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
			return
		}
		delete(pending, nextID)
		nextID++
	}
}

// drainCursor forwards every sample of one shard; false means ctx ended.
func drainCursor(ctx context.Context, cursor shardCursor, out chan<- Sample) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case sample, ok := <-cursor.samples:
			if !ok {
				return true
			}
			select {
			case <-ctx.Done():
				return false
			case out <- sample:
			}
		}
	}
}

// produceJobs emits one pass over every shard, or passes forever when
// repeat is set. A nil rng keeps the order stable across passes.
func produceJobs(ctx context.Context, jobs chan<- shardJob, roots map[string][]string, rng *rand.Rand, repeat bool) {
	defer close(jobs)
	var jobID int64
	for {
		order := buildRoundRobinOrder(roots, rng)
		if len(order) == 0 {
			return
		}
		for _, entry := range order {
			select {
			case <-ctx.Done():
				return
			case jobs <- shardJob{id: jobID, root: entry.root, path: entry.path}:
				jobID++
			}
		}
		if !repeat {
			return
		}
	}
}

type orderEntry struct {
	root string
	path string
}

func buildRoundRobinOrder(roots map[string][]string, rng *rand.Rand) []orderEntry {
	rootNames := make([]string, 0, len(roots))
	for root, shards := range roots {
		if len(shards) > 0 {
			rootNames = append(rootNames, root)
		}
	}
	// Shuffle in sorted root order so the rng is consumed deterministically.
	sort.Strings(rootNames)
	copied := make(map[string][]string, len(rootNames))
	for _, root := range rootNames {
		shards := append([]string(nil), roots[root]...)
		if rng != nil {
			rng.Shuffle(len(shards), func(i, j int) {
				shards[i], shards[j] = shards[j], shards[i]
			})
		}
		copied[root] = shards
	}
	var order []orderEntry
	for {
		advanced := false
		for _, root := range rootNames {
			shards := copied[root]
			if len(shards) == 0 {
				continue
			}
			order = append(order, orderEntry{root: root, path: shards[0]})
			copied[root] = shards[1:]
			advanced = true
		}
		if !advanced {
			break
		}
	}
	return order
}
