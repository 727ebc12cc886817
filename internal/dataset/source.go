package dataset

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Source produces the decoded examples of a dataset.
type Source interface {
	Load(ctx context.Context) ([]Example, error)
}

// LoadOptions control decoding. Height and Width are the network input
// resolution; every image is resized to it.
type LoadOptions struct {
	Height  int
	Width   int
	Workers int
	Cache   *Cache
	Logger  *zap.Logger
}

// FolderSource reads the kill_feed / no_kill_feed layout under Root.
type FolderSource struct {
	Root string
	LoadOptions
}

func (s *FolderSource) Load(ctx context.Context) ([]Example, error) {
	files, err := DiscoverImages(s.Root)
	if err != nil {
		return nil, err
	}
	jobs := make([]decodeJob, len(files))
	for i, f := range files {
		jobs[i] = decodeJob{key: f.Path, path: f.Path, label: f.Label}
	}
	return decodeAll(ctx, jobs, s.LoadOptions)
}

// ShardSource reads every WebDataset shard under Roots once, interleaving
// roots round-robin in a seeded order. MaxSamples, when positive, caps how
// many frames are decoded.
type ShardSource struct {
	Roots      []string
	Seed       int64
	PendingCap int
	MaxSamples int
	LoadOptions
}

func (s *ShardSource) Load(ctx context.Context) ([]Example, error) {
	byRoot, err := DiscoverByRoot(s.Roots)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, shards := range byRoot {
		total += len(shards)
	}
	if total == 0 {
		return nil, errors.Wrapf(ErrNoImages, "no shards under %v", s.Roots)
	}

	stream, errCh, err := StartSampler(ctx, SamplerOptions{
		Roots:      byRoot,
		Seed:       s.Seed,
		NumWorkers: workerCount(s.Workers, total),
		PendingCap: s.PendingCap,
		Passes:     1,
		Limit:      s.MaxSamples,
	})
	if err != nil {
		return nil, err
	}
	var jobs []decodeJob
	perRoot := make(map[string]int)
	for sample := range stream {
		jobs = append(jobs, decodeJob{key: sample.Key, raw: sample.Image, label: sample.Label})
		perRoot[sample.Root]++
	}
	for err := range errCh {
		if err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, errors.Wrapf(ErrNoImages, "shards under %v are empty", s.Roots)
	}
	if s.Logger != nil {
		for _, root := range s.Roots {
			s.Logger.Debug("shard root read", zap.String("root", root), zap.Int("samples", perRoot[root]))
		}
	}
	return decodeAll(ctx, jobs, s.LoadOptions)
}

type decodeJob struct {
	key   string
	path  string // empty when raw is already in memory
	raw   []byte
	label int
}

func workerCount(requested, jobs int) int {
	n := requested
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n > jobs {
		n = jobs
	}
	if n < 1 {
		n = 1
	}
	return n
}

// decodeAll decodes jobs on a bounded worker pool. Results keep the job
// order; the first failure cancels the remaining work.
func decodeAll(parent context.Context, jobs []decodeJob, opts LoadOptions) ([]Example, error) {
	if opts.Height <= 0 || opts.Width <= 0 {
		return nil, errors.Errorf("dataset: target size %dx%d must be positive", opts.Height, opts.Width)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	start := time.Now()
	hits0, _ := opts.Cache.Stats()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	workers := workerCount(opts.Workers, len(jobs))
	feed := make(chan int)
	errCh := make(chan error, workers)
	out := make([]Example, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range feed {
				ex, err := decodeOne(jobs[idx], opts)
				if err != nil {
					errCh <- err
					cancel()
					return
				}
				out[idx] = ex
			}
		}()
	}

feedLoop:
	for i := range jobs {
		select {
		case <-ctx.Done():
			break feedLoop
		case feed <- i:
		}
	}
	close(feed)
	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		return nil, err
	}
	if err := parent.Err(); err != nil {
		return nil, err
	}

	hits1, _ := opts.Cache.Stats()
	log.Info("dataset decoded",
		zap.Int("images", len(out)),
		zap.Int("workers", workers),
		zap.Int64("cache_hits", hits1-hits0),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

func decodeOne(job decodeJob, opts LoadOptions) (Example, error) {
	ex := Example{Key: job.key, Label: float32(job.label)}
	raw := job.raw
	var key string
	if job.path != "" {
		info, err := os.Stat(job.path)
		if err != nil {
			return ex, errors.Wrap(err, "stat image")
		}
		key = cacheKey(job.path, info.Size(), info.ModTime(), opts.Height, opts.Width)
		if px, ok := opts.Cache.get(key); ok {
			ex.Pixels = px
			return ex, nil
		}
		raw, err = os.ReadFile(job.path)
		if err != nil {
			return ex, errors.Wrap(err, "read image")
		}
	}
	img, err := Decode(raw)
	if err != nil {
		return ex, errors.Wrap(err, job.key)
	}
	ex.Pixels = ToPixels(img, opts.Height, opts.Width)
	if key != "" {
		opts.Cache.add(key, ex.Pixels)
	}
	return ex, nil
}
