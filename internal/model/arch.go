package model

import (
	"github.com/pkg/errors"

	"killfeed-trainer/internal/nn"
)

// ConvBlock is a convolution followed by max pooling.
type ConvBlock struct {
	Filters    int    `yaml:"filters"`
	Kernel     int    `yaml:"kernel"`
	Activation string `yaml:"activation"`
	Pool       int    `yaml:"pool"`
}

// OptimizerSpec names the optimizer and its hyperparameters.
type OptimizerSpec struct {
	Name         string  `yaml:"name"`
	LearningRate float64 `yaml:"learning_rate"`
	Beta1        float64 `yaml:"beta1"`
	Beta2        float64 `yaml:"beta2"`
	Epsilon      float64 `yaml:"epsilon"`
}

// Arch describes the detector network as data so that tests and tools can
// build smaller variants of it.
type Arch struct {
	InputShape       []int         `yaml:"input_shape"`
	ConvBlocks       []ConvBlock   `yaml:"conv_blocks"`
	DenseUnits       int           `yaml:"dense_units"`
	DenseActivation  string        `yaml:"dense_activation"`
	DropoutRate      float64       `yaml:"dropout_rate"`
	OutputUnits      int           `yaml:"output_units"`
	OutputActivation string        `yaml:"output_activation"`
	Optimizer        OptimizerSpec `yaml:"optimizer"`
	Loss             string        `yaml:"loss"`
	Metrics          []string      `yaml:"metrics"`
	Seed             int64         `yaml:"seed"`
}

// InputHeight, InputWidth and InputChannels are the detector's frame shape.
const (
	InputHeight   = 224
	InputWidth    = 224
	InputChannels = 3
)

// DefaultArch is the kill feed detector: three conv/pool stages of 32, 64 and
// 128 filters, a 512 unit dense layer with dropout and one sigmoid output.
func DefaultArch() Arch {
	return Arch{
		InputShape: []int{InputHeight, InputWidth, InputChannels},
		ConvBlocks: []ConvBlock{
			{Filters: 32, Kernel: 3, Activation: "relu", Pool: 2},
			{Filters: 64, Kernel: 3, Activation: "relu", Pool: 2},
			{Filters: 128, Kernel: 3, Activation: "relu", Pool: 2},
		},
		DenseUnits:       512,
		DenseActivation:  "relu",
		DropoutRate:      0.5,
		OutputUnits:      1,
		OutputActivation: "sigmoid",
		Optimizer:        DefaultOptimizer(),
		Loss:             "binary_crossentropy",
		Metrics:          []string{"accuracy"},
	}
}

// DefaultOptimizer is Adam with Keras defaults.
func DefaultOptimizer() OptimizerSpec {
	cfg := nn.DefaultAdam()
	return OptimizerSpec{
		Name:         "adam",
		LearningRate: cfg.LR,
		Beta1:        cfg.Beta1,
		Beta2:        cfg.Beta2,
		Epsilon:      cfg.Epsilon,
	}
}

// Validate checks sizes and names without building anything.
func (a Arch) Validate() error {
	if len(a.InputShape) != 3 {
		return errors.Errorf("model: input shape must be [height width channels], got %v", a.InputShape)
	}
	for _, d := range a.InputShape {
		if d <= 0 {
			return errors.Errorf("model: input shape %v has a non-positive dimension", a.InputShape)
		}
	}
	for i, b := range a.ConvBlocks {
		if b.Filters <= 0 || b.Kernel <= 0 {
			return errors.Errorf("model: conv block %d needs positive filters and kernel", i)
		}
		if b.Pool < 0 {
			return errors.Errorf("model: conv block %d has negative pool size", i)
		}
		if _, err := nn.ActivationByName(b.Activation); err != nil {
			return errors.Wrapf(err, "model: conv block %d", i)
		}
	}
	if a.DenseUnits < 0 {
		return errors.New("model: dense units must be >= 0")
	}
	if a.DenseUnits > 0 {
		if _, err := nn.ActivationByName(a.DenseActivation); err != nil {
			return errors.Wrap(err, "model: dense layer")
		}
	}
	if a.DropoutRate < 0 || a.DropoutRate >= 1 {
		return errors.Errorf("model: dropout rate must be in [0, 1), got %g", a.DropoutRate)
	}
	if a.OutputUnits <= 0 {
		return errors.New("model: output units must be > 0")
	}
	if _, err := nn.ActivationByName(a.OutputActivation); err != nil {
		return errors.Wrap(err, "model: output layer")
	}
	if _, err := optimizerFor(a.Optimizer); err != nil {
		return err
	}
	if _, err := lossFor(a.Loss); err != nil {
		return err
	}
	if _, err := metricsFor(a.Metrics); err != nil {
		return err
	}
	return nil
}

// Build constructs and compiles the network described by a.
func Build(a Arch) (*nn.Sequential, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	net := nn.NewSequential(a.Seed)
	for _, b := range a.ConvBlocks {
		act, _ := nn.ActivationByName(b.Activation)
		net.Add(nn.Conv2D(b.Filters, [2]int{b.Kernel, b.Kernel}).WithActivation(act).Build())
		if b.Pool > 0 {
			net.Add(nn.MaxPool2D([2]int{b.Pool, b.Pool}).Build())
		}
	}
	net.Add(nn.Flatten().Build())
	if a.DenseUnits > 0 {
		act, _ := nn.ActivationByName(a.DenseActivation)
		net.Add(nn.Dense(a.DenseUnits).WithActivation(act).Build())
	}
	if a.DropoutRate > 0 {
		net.Add(nn.Dropout(a.DropoutRate).Build())
	}
	outAct, _ := nn.ActivationByName(a.OutputActivation)
	net.Add(nn.Dense(a.OutputUnits).WithActivation(outAct).Build())

	if err := net.Build(a.InputShape); err != nil {
		return nil, errors.Wrap(err, "model: build")
	}

	opt, _ := optimizerFor(a.Optimizer)
	loss, _ := lossFor(a.Loss)
	metrics, _ := metricsFor(a.Metrics)
	if err := net.Compile(nn.CompileConfig{Optimizer: opt, Loss: loss, Metrics: metrics}); err != nil {
		return nil, errors.Wrap(err, "model: compile")
	}
	return net, nil
}

func optimizerFor(opt OptimizerSpec) (nn.Optimizer, error) {
	switch opt.Name {
	case "adam", "":
		cfg := nn.DefaultAdam()
		if opt.LearningRate > 0 {
			cfg.LR = opt.LearningRate
		}
		if opt.Beta1 > 0 {
			cfg.Beta1 = opt.Beta1
		}
		if opt.Beta2 > 0 {
			cfg.Beta2 = opt.Beta2
		}
		if opt.Epsilon > 0 {
			cfg.Epsilon = opt.Epsilon
		}
		if cfg.Beta1 >= 1 || cfg.Beta2 >= 1 {
			return nil, errors.Errorf("model: adam betas must be < 1, got %g and %g", cfg.Beta1, cfg.Beta2)
		}
		return nn.Adam(cfg), nil
	}
	return nil, errors.Errorf("model: unknown optimizer %q", opt.Name)
}

func lossFor(name string) (nn.Loss, error) {
	switch name {
	case "binary_crossentropy", "":
		return nn.BinaryCrossEntropy(), nil
	}
	return nil, errors.Errorf("model: unknown loss %q", name)
}

func metricsFor(names []string) ([]nn.Metric, error) {
	out := make([]nn.Metric, 0, len(names))
	for _, name := range names {
		switch name {
		case "accuracy":
			out = append(out, nn.Accuracy())
		case "precision":
			out = append(out, nn.Precision(0.5))
		case "recall":
			out = append(out, nn.Recall(0.5))
		default:
			return nil, errors.Errorf("model: unknown metric %q", name)
		}
	}
	return out, nil
}
