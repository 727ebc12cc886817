package dataset

import (
	"context"
	"math/rand"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// SamplerOptions configures the shard sampler.
type SamplerOptions struct {
	// Roots maps each dataset root to its shard paths.
	Roots      map[string][]string
	Seed       int64
	NumWorkers int
	PendingCap int
	// Passes bounds how many times every shard is read. Zero streams
	// forever.
	Passes int
	// Limit ends the stream after that many samples. Zero means no limit.
	Limit int
}

// StartSampler reads shards from every root on NumWorkers goroutines and
// emits their samples in an interleaved order fixed by Seed. Each sample
// carries the root it came from. The error channel yields at most one error
// and both channels close when the stream ends.
func StartSampler(parent context.Context, opts SamplerOptions) (<-chan Sample, <-chan error, error) {
	if len(opts.Roots) == 0 {
		return nil, nil, errors.New("sampler: no dataset roots provided")
	}
	total := 0
	for _, shards := range opts.Roots {
		total += len(shards)
	}
	if total == 0 {
		return nil, nil, errors.New("sampler: no shards discovered")
	}
	if opts.Limit < 0 {
		return nil, nil, errors.Errorf("sampler: limit must be >= 0 (got %d)", opts.Limit)
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.PendingCap <= 0 {
		opts.PendingCap = defaultPendingCap
	}
	if opts.Seed == 0 {
		opts.Seed = 42
	}

	ctx, cancel := context.WithCancel(parent)

	jobs := make(chan shardJob, opts.NumWorkers)
	opened := make(chan openShard, opts.NumWorkers)
	out := make(chan Sample, opts.NumWorkers*2)
	errCh := make(chan error, 1)

	go scheduleShards(ctx, jobs, opts.Roots, rand.New(rand.NewSource(opts.Seed)), opts.Passes)

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			openShards(ctx, jobs, opened, opts.PendingCap)
		}()
	}
	go func() {
		wg.Wait()
		close(opened)
	}()

	go func() {
		defer cancel()
		defer close(out)
		defer close(errCh)
		m := &merger{out: out, limit: opts.Limit, early: make(map[int64]openShard)}
		if err := m.run(ctx, opened); err != nil {
			errCh <- err
		}
	}()

	return out, errCh, nil
}

type shardJob struct {
	id   int64
	root string
	path string
}

type openShard struct {
	shardJob
	samples <-chan Sample
	errCh   <-chan error
}

// scheduleShards emits every shard once per pass, reshuffling each pass.
func scheduleShards(ctx context.Context, jobs chan<- shardJob, roots map[string][]string, rng *rand.Rand, passes int) {
	defer close(jobs)
	var id int64
	for pass := 0; passes <= 0 || pass < passes; pass++ {
		for _, job := range interleaveRoots(roots, rng) {
			job.id = id
			select {
			case <-ctx.Done():
				return
			case jobs <- job:
				id++
			}
		}
	}
}

// interleaveRoots shuffles the shards of each root and takes one shard from
// every root in turn, so no root dominates the start of a pass.
func interleaveRoots(roots map[string][]string, rng *rand.Rand) []shardJob {
	names := make([]string, 0, len(roots))
	for root := range roots {
		names = append(names, root)
	}
	sort.Strings(names)

	queues := make([][]string, len(names))
	longest := 0
	for i, root := range names {
		q := append([]string(nil), roots[root]...)
		rng.Shuffle(len(q), func(a, b int) { q[a], q[b] = q[b], q[a] })
		queues[i] = q
		if len(q) > longest {
			longest = len(q)
		}
	}

	var order []shardJob
	for round := 0; round < longest; round++ {
		for i, q := range queues {
			if round < len(q) {
				order = append(order, shardJob{root: names[i], path: q[round]})
			}
		}
	}
	return order
}

func openShards(ctx context.Context, jobs <-chan shardJob, opened chan<- openShard, pendingCap int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			samples, errCh := StreamShard(ctx, job.path, pendingCap)
			select {
			case <-ctx.Done():
				return
			case opened <- openShard{shardJob: job, samples: samples, errCh: errCh}:
			}
		}
	}
}

// merger forwards shards in schedule order so that a seed fixes the sample
// sequence regardless of which worker opened a shard first.
type merger struct {
	out   chan<- Sample
	limit int
	sent  int
	next  int64
	early map[int64]openShard
}

func (m *merger) run(ctx context.Context, opened <-chan openShard) error {
	for {
		shard, ok := m.early[m.next]
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case shard, ok = <-opened:
				if !ok {
					return nil
				}
				m.early[shard.id] = shard
			}
			continue
		}
		delete(m.early, m.next)
		m.next++

		done, err := m.drain(ctx, shard)
		if err != nil || done {
			return err
		}
	}
}

// drain forwards one shard and reports whether the stream is over.
func (m *merger) drain(ctx context.Context, shard openShard) (bool, error) {
	for sample := range shard.samples {
		sample.Root = shard.root
		select {
		case <-ctx.Done():
			return true, nil
		case m.out <- sample:
		}
		m.sent++
		if m.limit > 0 && m.sent >= m.limit {
			return true, nil
		}
	}
	if err := <-shard.errCh; err != nil && ctx.Err() == nil {
		return true, errors.Wrapf(err, "shard %s", shard.path)
	}
	return false, nil
}
