package trainer

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"killfeed-trainer/internal/dataset"
	"killfeed-trainer/internal/metrics"
	"killfeed-trainer/internal/nn"
)

const (
	defaultEpochs    = 50
	defaultBatchSize = 32
)

// Stop reasons recorded in History.
const (
	StopCompleted     = "completed"
	StopEarlyStopping = "early_stopping"
	StopCancelled     = "cancelled"
	StopNoData        = "no_data"
	StopFailed        = "failed"
)

// EarlyStopping halts training when Monitor has not improved by more than
// MinDelta for Patience consecutive epochs. Patience 0 disables it. Loss
// monitors are minimised, accuracy monitors maximised.
type EarlyStopping struct {
	Monitor  string
	Patience int
	MinDelta float64
}

// FitConfig captures the knobs of one optimisation run.
type FitConfig struct {
	Epochs        int
	BatchSize     int
	Shuffle       bool
	Seed          int64
	LogEvery      int
	EarlyStopping EarlyStopping
	RunID         string
}

// EpochMetrics is what one epoch produced.
type EpochMetrics struct {
	Epoch        int           `json:"epoch"`
	Loss         float64       `json:"loss"`
	Accuracy     float64       `json:"accuracy"`
	ValLoss      float64       `json:"val_loss,omitempty"`
	ValAccuracy  float64       `json:"val_accuracy,omitempty"`
	HasVal       bool          `json:"has_val"`
	ImagesPerSec float64       `json:"images_per_sec"`
	Duration     time.Duration `json:"duration"`
}

func (m EpochMetrics) value(monitor string) float64 {
	switch monitor {
	case "accuracy":
		return m.Accuracy
	case "val_loss":
		return m.ValLoss
	case "val_accuracy":
		return m.ValAccuracy
	}
	return m.Loss
}

// History records every finished epoch of a run.
type History struct {
	Epochs     []EpochMetrics `json:"epochs"`
	StopReason string         `json:"stop_reason"`
	BestEpoch  int            `json:"best_epoch"`
}

// Last returns the final epoch, if any ran.
func (h *History) Last() (EpochMetrics, bool) {
	if h == nil || len(h.Epochs) == 0 {
		return EpochMetrics{}, false
	}
	return h.Epochs[len(h.Epochs)-1], true
}

// Driver runs the optimisation loop over a compiled network.
type Driver interface {
	Fit(ctx context.Context, net *nn.Sequential, train, val *dataset.Set, cfg FitConfig) (*History, error)
}

// Loop is the default Driver: mini-batch training with per-epoch validation.
type Loop struct {
	Logger   *zap.Logger
	Reporter Reporter
}

// Fit trains net in place. On cancellation it returns the epochs finished so
// far together with the context error.
func (l *Loop) Fit(ctx context.Context, net *nn.Sequential, train, val *dataset.Set, cfg FitConfig) (*History, error) {
	log := l.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if net == nil || !net.Compiled() {
		return nil, nn.ErrNotCompiled
	}
	if train.Len() == 0 {
		return nil, errors.Wrap(dataset.ErrNoImages, "trainer: empty training set")
	}
	if cfg.Epochs <= 0 {
		cfg.Epochs = defaultEpochs
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	es := cfg.EarlyStopping
	if es.Patience > 0 && val.Len() == 0 && strings.HasPrefix(es.Monitor, "val_") {
		log.Warn("no validation data, early stopping falls back to training metric", zap.String("monitor", es.Monitor))
		es.Monitor = strings.TrimPrefix(es.Monitor, "val_")
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	order := make([]int, train.Len())
	for i := range order {
		order[i] = i
	}

	hist := &History{StopReason: StopCompleted}
	report(l.Reporter, Event{Kind: EventTrainBegin, RunID: cfg.RunID, Epochs: cfg.Epochs, TrainSamples: train.Len(), ValSamples: val.Len()})

	var window metrics.Window
	best := math.NaN()
	wait := 0
	step := 0

epochs:
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		epochStart := time.Now()
		if cfg.Shuffle {
			rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}
		net.ResetMetrics()

		var lossSum float64
		var images int
		var busy time.Duration
		for start := 0; start < len(order); start += cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				hist.StopReason = StopCancelled
				break epochs
			}
			end := start + cfg.BatchSize
			if end > len(order) {
				end = len(order)
			}

			startData := time.Now()
			inputs, targets := train.Batch(order[start:end])
			dataTime := time.Since(startData)

			startCompute := time.Now()
			loss, err := net.TrainBatch(inputs, targets)
			if err != nil {
				return l.fail(hist, cfg, errors.Wrapf(err, "trainer: epoch %d batch at %d", epoch, start))
			}
			computeTime := time.Since(startCompute)

			window.Record(end-start, dataTime, computeTime, loss)
			lossSum += loss * float64(end-start)
			images += end - start
			busy += dataTime + computeTime
			step++

			if cfg.LogEvery > 0 && step%cfg.LogEvery == 0 {
				snap := window.Snapshot()
				log.Debug("train step",
					zap.Int("epoch", epoch),
					zap.Int("step", step),
					zap.Float64("images_per_sec", snap.ImagesPerSec),
					zap.Float64("data_ms", snap.AvgDataMS),
					zap.Float64("compute_ms", snap.AvgComputeMS),
					zap.Float64("loss", snap.AvgLoss),
				)
			}
		}

		m := EpochMetrics{
			Epoch:    epoch,
			Loss:     lossSum / float64(images),
			Accuracy: net.MetricResults()["accuracy"],
		}
		if busy > 0 {
			m.ImagesPerSec = float64(images) / busy.Seconds()
		}
		if val.Len() > 0 {
			all := make([]int, val.Len())
			for i := range all {
				all[i] = i
			}
			inputs, targets := val.Batch(all)
			res, err := net.Evaluate(inputs, targets, cfg.BatchSize)
			if err != nil {
				return l.fail(hist, cfg, errors.Wrapf(err, "trainer: validate epoch %d", epoch))
			}
			m.HasVal = true
			m.ValLoss = res["loss"]
			m.ValAccuracy = res["accuracy"]
		}
		m.Duration = time.Since(epochStart)
		hist.Epochs = append(hist.Epochs, m)

		fields := []zap.Field{
			zap.Int("epoch", epoch),
			zap.Int("epochs", cfg.Epochs),
			zap.Float64("loss", m.Loss),
			zap.Float64("accuracy", m.Accuracy),
			zap.Float64("images_per_sec", m.ImagesPerSec),
			zap.Duration("took", m.Duration),
		}
		if m.HasVal {
			fields = append(fields, zap.Float64("val_loss", m.ValLoss), zap.Float64("val_accuracy", m.ValAccuracy))
		}
		log.Info("epoch finished", fields...)
		report(l.Reporter, Event{Kind: EventEpochEnd, RunID: cfg.RunID, Epoch: epoch, Epochs: cfg.Epochs, Metrics: &m})

		v := m.value(es.Monitor)
		if math.IsNaN(best) || improved(es.Monitor, v, best, es.MinDelta) {
			best = v
			hist.BestEpoch = epoch
			wait = 0
		} else {
			wait++
		}
		if es.Patience > 0 && wait >= es.Patience {
			hist.StopReason = StopEarlyStopping
			log.Info("early stopping",
				zap.String("monitor", es.Monitor),
				zap.Int("best_epoch", hist.BestEpoch),
				zap.Float64("best", best),
			)
			break
		}
	}

	report(l.Reporter, Event{Kind: EventTrainEnd, RunID: cfg.RunID, Epochs: cfg.Epochs, StopReason: hist.StopReason})
	if hist.StopReason == StopCancelled {
		return hist, ctx.Err()
	}
	return hist, nil
}

func (l *Loop) fail(hist *History, cfg FitConfig, err error) (*History, error) {
	hist.StopReason = StopFailed
	report(l.Reporter, Event{Kind: EventTrainEnd, RunID: cfg.RunID, Epochs: cfg.Epochs, StopReason: StopFailed})
	return hist, err
}

func improved(monitor string, v, best, minDelta float64) bool {
	if monitor == "accuracy" || monitor == "val_accuracy" {
		return v > best+minDelta
	}
	return v < best-minDelta
}
