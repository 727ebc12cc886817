package trainer

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"killfeed-trainer/internal/dataset"
	"killfeed-trainer/internal/model"
	"killfeed-trainer/internal/nn"
)

const defaultValidationSplit = 0.2

// Options configure a Trainer. Every field is optional.
type Options struct {
	// Arch defaults to model.DefaultArch.
	Arch *model.Arch
	// Driver defaults to a Loop using Logger and Reporter.
	Driver Driver
	// Logger defaults to the zap global logger, or stderr when none is set.
	Logger   *zap.Logger
	Reporter Reporter
	// Fit is passed to the driver; Train sets its epoch count.
	Fit FitConfig
	// ValidationSplit is the held out fraction per class. Zero means 0.2;
	// a negative value keeps every example for training.
	ValidationSplit float64
	Seed            int64
	Workers         int
	Cache           *dataset.Cache
}

// Trainer owns the kill feed detector model: it builds it, prepares the
// labelled frames, trains and saves it.
type Trainer struct {
	arch     model.Arch
	opts     Options
	log      *zap.Logger
	driver   Driver
	model    *nn.Sequential
	trained  bool
	history  *History
	lastStop string
}

// New returns a trainer with an empty model slot.
func New(opts Options) *Trainer {
	t := &Trainer{opts: opts, log: opts.Logger}
	if opts.Arch != nil {
		t.arch = *opts.Arch
	} else {
		t.arch = model.DefaultArch()
	}
	if t.log == nil {
		t.log = defaultLogger()
	}
	t.driver = opts.Driver
	if t.driver == nil {
		t.driver = &Loop{Logger: t.log, Reporter: opts.Reporter}
	}
	switch {
	case t.opts.ValidationSplit == 0:
		t.opts.ValidationSplit = defaultValidationSplit
	case t.opts.ValidationSplit < 0:
		t.opts.ValidationSplit = 0
	}
	return t
}

// defaultLogger is the global logger when one was installed with
// zap.ReplaceGlobals, otherwise an info level console logger on stderr.
func defaultLogger() *zap.Logger {
	if l := zap.L(); l.Core().Enabled(zapcore.InfoLevel) {
		return l
	}
	enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	return zap.New(zapcore.NewCore(enc, zapcore.Lock(os.Stderr), zapcore.InfoLevel))
}

// InputShape is the per-frame input shape, [224 224 3] for the detector.
func (t *Trainer) InputShape() []int { return append([]int(nil), t.arch.InputShape...) }

// Model returns the model in the slot, or nil before BuildModel.
func (t *Trainer) Model() *nn.Sequential { return t.model }

// Trained reports whether the model in the slot went through at least one
// completed optimisation run.
func (t *Trainer) Trained() bool { return t.trained }

// History is the record of the last Train call that ran the driver.
func (t *Trainer) History() *History { return t.history }

// StopReason describes how the last Train call ended.
func (t *Trainer) StopReason() string { return t.lastStop }

// SetRunID tags the progress events of subsequent Train calls.
func (t *Trainer) SetRunID(id string) { t.opts.Fit.RunID = id }

// BuildModel constructs and compiles a fresh network and puts it in the
// slot, replacing any previous model.
func (t *Trainer) BuildModel() (*nn.Sequential, error) {
	net, err := model.Build(t.arch)
	if err != nil {
		return nil, errors.Wrap(err, "build model")
	}
	t.model = net
	t.trained = false
	t.history = nil
	t.lastStop = ""
	t.log.Info("Kill feed detector model built",
		zap.Ints("input_shape", net.InputShape()),
		zap.Int("layers", len(net.Layers())),
		zap.Int("params", net.ParamCount()),
		zap.String("optimizer", net.OptimizerName()),
		zap.String("loss", net.LossName()),
	)
	t.log.Debug("model summary\n" + net.Summary())
	return net, nil
}

// LoadOptions is how this trainer decodes frames for its input shape.
func (t *Trainer) LoadOptions() dataset.LoadOptions {
	return dataset.LoadOptions{
		Height:  t.arch.InputShape[0],
		Width:   t.arch.InputShape[1],
		Workers: t.opts.Workers,
		Cache:   t.opts.Cache,
		Logger:  t.log,
	}
}

// PrepareDataset loads dir/kill_feed (label 1) and dir/no_kill_feed (label 0)
// and returns a stratified train/validation split.
func (t *Trainer) PrepareDataset(ctx context.Context, dir string) (*dataset.Split, error) {
	return t.PrepareFrom(ctx, &dataset.FolderSource{Root: dir, LoadOptions: t.LoadOptions()})
}

// PrepareFrom loads src and splits it like PrepareDataset.
func (t *Trainer) PrepareFrom(ctx context.Context, src dataset.Source) (*dataset.Split, error) {
	if ch := t.arch.InputShape[2]; ch != 3 {
		return nil, errors.Errorf("prepare dataset: frames are RGB but the model expects %d channels", ch)
	}
	examples, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "prepare dataset")
	}
	split, err := dataset.SplitSamples(examples, t.arch.InputShape, t.opts.ValidationSplit, t.opts.Seed)
	if err != nil {
		return nil, errors.Wrap(err, "prepare dataset")
	}
	t.log.Info("Dataset prepared",
		zap.Int("train", split.Train.Len()),
		zap.Int("train_positive", split.Train.Positives()),
		zap.Int("val", split.Val.Len()),
		zap.Int("val_positive", split.Val.Positives()),
	)
	return split, nil
}

// Train fits the model in the slot, building it first when the slot is
// empty. epochs <= 0 means 50. Without training data no optimisation runs
// and Trained stays false; the model is still returned.
func (t *Trainer) Train(ctx context.Context, train, val *dataset.Set, epochs int) (*nn.Sequential, error) {
	if t.model == nil {
		if _, err := t.BuildModel(); err != nil {
			return nil, err
		}
	}
	if epochs <= 0 {
		epochs = defaultEpochs
	}
	if train.Len() == 0 {
		t.lastStop = StopNoData
		t.log.Warn("no training data, model left untrained")
		t.log.Info("Training completed", zap.Bool("trained", t.trained), zap.Int("epochs_run", 0))
		return t.model, nil
	}

	cfg := t.opts.Fit
	cfg.Epochs = epochs
	if cfg.Seed == 0 {
		cfg.Seed = t.opts.Seed
	}
	start := time.Now()
	hist, err := t.driver.Fit(ctx, t.model, train, val, cfg)
	t.history = hist
	if hist != nil {
		t.lastStop = hist.StopReason
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			t.lastStop = StopCancelled
		} else {
			t.lastStop = StopFailed
		}
		return t.model, errors.Wrap(err, "train")
	}
	t.trained = true

	fields := []zap.Field{
		zap.Bool("trained", t.trained),
		zap.Int("epochs_run", len(hist.Epochs)),
		zap.String("stop_reason", hist.StopReason),
		zap.Duration("took", time.Since(start)),
	}
	if last, ok := hist.Last(); ok {
		fields = append(fields, zap.Float64("loss", last.Loss), zap.Float64("accuracy", last.Accuracy))
		if last.HasVal {
			fields = append(fields, zap.Float64("val_loss", last.ValLoss), zap.Float64("val_accuracy", last.ValAccuracy))
		}
	}
	t.log.Info("Training completed", fields...)
	return t.model, nil
}

// SaveModel writes the model in the slot to path. With an empty slot it
// writes nothing and returns nil.
func (t *Trainer) SaveModel(path string) error {
	if t.model == nil {
		t.log.Warn("no model to save, call BuildModel or Train first", zap.String("path", path))
		return nil
	}
	if err := t.model.Save(path); err != nil {
		return errors.Wrap(err, "save model")
	}
	t.log.Info("Model saved", zap.String("path", path), zap.Bool("trained", t.trained))
	return nil
}

// LoadModel restores weights saved by SaveModel into the slot, building the
// model first when needed. Loaded weights count as trained.
func (t *Trainer) LoadModel(path string) error {
	if t.model == nil {
		if _, err := t.BuildModel(); err != nil {
			return err
		}
	}
	if err := t.model.Load(path); err != nil {
		return errors.Wrap(err, "load model")
	}
	t.trained = true
	t.log.Info("Model loaded", zap.String("path", path))
	return nil
}
