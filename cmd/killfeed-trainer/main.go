package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"killfeed-trainer/internal/config"
	"killfeed-trainer/internal/dataset"
	"killfeed-trainer/internal/logging"
	"killfeed-trainer/internal/model"
	"killfeed-trainer/internal/nn"
	"killfeed-trainer/internal/progress"
	"killfeed-trainer/internal/runlog"
	"killfeed-trainer/internal/trainer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "killfeed-trainer: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "", "Path to YAML config")
	dataDir := flag.String("data", "", "Dataset directory holding kill_feed/ and no_kill_feed/")
	shards := flag.String("shards", "", "Comma separated WebDataset shard roots")
	modelPath := flag.String("model", "", "Where to save the trained model")
	epochs := flag.Int("epochs", 0, "Number of training epochs")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	seed := flag.Int64("seed", 0, "PRNG seed")
	workers := flag.Int("workers", 0, "Number of decode and compute workers")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	progressAddr := flag.String("progress-addr", "", "Serve live progress on this address, e.g. :8081")
	runDB := flag.String("run-db", "", "SQLite file recording training runs")
	watch := flag.Bool("watch", false, "Retrain when the dataset directory changes")
	resume := flag.Bool("resume", false, "Start from the saved model when it exists")

	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	var shardRoots []string
	if *shards != "" {
		for _, root := range strings.Split(*shards, ",") {
			if root = strings.TrimSpace(root); root != "" {
				shardRoots = append(shardRoots, root)
			}
		}
	}
	cfg.ApplyOverrides(config.Overrides{
		DataDir:      *dataDir,
		ShardRoots:   shardRoots,
		ModelPath:    *modelPath,
		Epochs:       *epochs,
		BatchSize:    *batchSize,
		NumWorkers:   *workers,
		Seed:         *seed,
		LogLevel:     *logLevel,
		ProgressAddr: *progressAddr,
		RunDB:        *runDB,
		Watch:        *watch,
	})
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid config")
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()
	defer zap.ReplaceGlobals(log)()

	nn.SetWorkers(cfg.NumWorkers)
	log.Info("compute",
		zap.String("cpu", cpuid.CPU.BrandName),
		zap.Int("physical_cores", cpuid.CPU.PhysicalCores),
		zap.Int("logical_cores", cpuid.CPU.LogicalCores),
		zap.Bool("avx2", cpuid.CPU.Supports(cpuid.AVX2)),
		zap.Int("workers", nn.Workers()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	arch := model.DefaultArch()
	arch.Optimizer.LearningRate = cfg.LearningRate
	arch.Seed = cfg.Seed

	cache, err := dataset.NewCache(cfg.CacheSize)
	if err != nil {
		return err
	}

	var reporter trainer.Reporter
	if cfg.ProgressAddr != "" {
		hub := progress.NewHub(log)
		go hub.Run(ctx)
		go func() {
			if err := progress.Serve(ctx, cfg.ProgressAddr, hub, log); err != nil {
				log.Error("progress server stopped", zap.Error(err))
			}
		}()
		reporter = hub
	}

	fit := trainer.FitConfig{
		BatchSize: cfg.BatchSize,
		Shuffle:   true,
		Seed:      cfg.Seed,
		LogEvery:  cfg.LogEvery,
	}
	if es := cfg.EarlyStopping; es.Enabled {
		fit.EarlyStopping = trainer.EarlyStopping{Monitor: es.Monitor, Patience: es.Patience, MinDelta: es.MinDelta}
	}
	split := cfg.ValidationSplit
	if split == 0 {
		split = -1
	}
	t := trainer.New(trainer.Options{
		Arch:            &arch,
		Logger:          log,
		Reporter:        reporter,
		Fit:             fit,
		ValidationSplit: split,
		Seed:            cfg.Seed,
		Workers:         cfg.NumWorkers,
		Cache:           cache,
	})

	if *resume {
		if _, err := os.Stat(cfg.ModelPath); err == nil {
			if err := t.LoadModel(cfg.ModelPath); err != nil {
				return err
			}
		} else {
			log.Warn("no saved model to resume from", zap.String("path", cfg.ModelPath))
		}
	}

	if !cfg.HasData() {
		return demo(t)
	}

	var store *runlog.Store
	if cfg.RunDB != "" {
		store, err = runlog.Open(cfg.RunDB)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	if err := trainOnce(ctx, cfg, t, store, log); err != nil {
		return err
	}
	if !cfg.Watch {
		return nil
	}

	changes, err := dataset.Watch(ctx, cfg.DataDir, cfg.WatchDebounce, log)
	if err != nil {
		return err
	}
	log.Info("watching dataset for changes", zap.String("dir", cfg.DataDir))
	for change := range changes {
		log.Info("dataset changed, retraining", zap.Int("files", len(change.Paths)))
		if err := trainOnce(ctx, cfg, t, store, log); err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Error("retraining failed", zap.Error(err))
		}
	}
	return nil
}

// demo builds the detector without data and tells the user what comes next.
func demo(t *trainer.Trainer) error {
	if t.Model() == nil {
		if _, err := t.BuildModel(); err != nil {
			return err
		}
	}
	fmt.Println("Kill Feed Detector Model built successfully")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("1. Collect training data (screenshots with/without kill feeds)")
	fmt.Println("2. Label the data")
	fmt.Println("3. Run training script with your dataset")
	fmt.Println("4. Evaluate and fine-tune the model")
	return nil
}

func trainOnce(ctx context.Context, cfg *config.Config, t *trainer.Trainer, store *runlog.Store, log *zap.Logger) error {
	rec := runlog.Run{
		ID:              uuid.NewString(),
		DataDir:         cfg.DataDir,
		ModelPath:       cfg.ModelPath,
		EpochsRequested: cfg.Epochs,
		StartedAt:       time.Now(),
	}
	if rec.DataDir == "" {
		rec.DataDir = strings.Join(cfg.ShardRoots, ",")
	}
	t.SetRunID(rec.ID)

	var (
		split *dataset.Split
		err   error
	)
	if cfg.DataDir != "" {
		split, err = t.PrepareDataset(ctx, cfg.DataDir)
	} else {
		split, err = t.PrepareFrom(ctx, &dataset.ShardSource{
			Roots:       cfg.ShardRoots,
			Seed:        cfg.Seed,
			MaxSamples:  cfg.MaxSamples,
			LoadOptions: t.LoadOptions(),
		})
	}
	if err != nil {
		return err
	}
	rec.TrainSamples = split.Train.Len()
	rec.ValSamples = split.Val.Len()

	_, trainErr := t.Train(ctx, split.Train, split.Val, cfg.Epochs)
	rec.Trained = t.Trained()
	rec.StopReason = t.StopReason()
	if last, ok := t.History().Last(); ok {
		rec.EpochsRun = len(t.History().Epochs)
		rec.Loss, rec.Accuracy = last.Loss, last.Accuracy
		rec.ValLoss, rec.ValAccuracy = last.ValLoss, last.ValAccuracy
	}
	rec.FinishedAt = time.Now()

	if trainErr == nil {
		if err := t.SaveModel(cfg.ModelPath); err != nil {
			return err
		}
	}
	if store != nil {
		// Record even cancelled runs; the context may already be done.
		recCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		id, err := store.Record(recCtx, rec)
		if err != nil {
			log.Error("record run", zap.Error(err))
		} else {
			log.Info("run recorded", zap.String("id", id), zap.String("db", cfg.RunDB))
		}
	}
	return trainErr
}
