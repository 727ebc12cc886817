package nn

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/pkg/errors"
)

// CompileConfig attaches the training configuration to a built network.
type CompileConfig struct {
	Optimizer Optimizer
	Loss      Loss
	Metrics   []Metric
}

// Sequential is a linear stack of layers.
type Sequential struct {
	layers     []Layer
	inputShape []int
	rng        *rand.Rand
	built      bool
	optimizer  Optimizer
	loss       Loss
	metrics    []Metric
}

// NewSequential creates an empty network whose weight initialisation and
// dropout masks are driven by seed.
func NewSequential(seed int64) *Sequential {
	return &Sequential{rng: rand.New(rand.NewSource(seed))}
}

// Add appends a layer. Layers cannot be added after Build.
func (s *Sequential) Add(l Layer) *Sequential {
	if !s.built {
		s.layers = append(s.layers, l)
	}
	return s
}

// Build fixes the per-sample input shape and allocates every layer's weights.
func (s *Sequential) Build(inputShape []int) error {
	if s.built {
		return errors.New("nn: network already built")
	}
	if len(s.layers) == 0 {
		return errors.New("nn: network has no layers")
	}
	if len(inputShape) == 0 {
		return errors.New("nn: input shape is empty")
	}
	for _, d := range inputShape {
		if d <= 0 {
			return errorf("input shape %v has a non-positive dimension", inputShape)
		}
	}
	shape := append([]int(nil), inputShape...)
	for i, l := range s.layers {
		if err := l.build(shape, s.rng); err != nil {
			return &LayerError{Index: i, Layer: kindOf(l), Phase: "build", Err: err}
		}
		shape = l.outputShape()
	}
	s.inputShape = append([]int(nil), inputShape...)
	s.built = true
	return nil
}

// kindOf is safe to call on layers that failed to build.
func kindOf(l Layer) string {
	switch l.(type) {
	case *Conv2DLayer:
		return "conv2d"
	case *MaxPool2DLayer:
		return "max_pool2d"
	case *DenseLayer:
		return "dense"
	case *DropoutLayer:
		return "dropout"
	case *FlattenLayer:
		return "flatten"
	}
	return fmt.Sprintf("%T", l)
}

// Compile sets the optimizer, loss and metrics used by TrainBatch and Evaluate.
// Compiling again replaces the previous configuration.
func (s *Sequential) Compile(cfg CompileConfig) error {
	if !s.built {
		return ErrNotBuilt
	}
	if cfg.Optimizer == nil {
		return errors.New("nn: compile requires an optimizer")
	}
	if cfg.Loss == nil {
		return errors.New("nn: compile requires a loss")
	}
	s.optimizer = cfg.Optimizer
	s.loss = cfg.Loss
	s.metrics = cfg.Metrics
	return nil
}

func (s *Sequential) Built() bool    { return s.built }
func (s *Sequential) Compiled() bool { return s.loss != nil }

// InputShape is the per-sample input shape given to Build.
func (s *Sequential) InputShape() []int { return append([]int(nil), s.inputShape...) }

// OutputShape is the per-sample output shape of the last layer.
func (s *Sequential) OutputShape() []int {
	if !s.built {
		return nil
	}
	return append([]int(nil), s.layers[len(s.layers)-1].outputShape()...)
}

func (s *Sequential) Layers() []LayerInfo {
	infos := make([]LayerInfo, 0, len(s.layers))
	for _, l := range s.layers {
		if s.built {
			infos = append(infos, l.info())
		} else {
			infos = append(infos, LayerInfo{Kind: kindOf(l)})
		}
	}
	return infos
}

func (s *Sequential) LossName() string {
	if s.loss == nil {
		return ""
	}
	return s.loss.Name()
}

func (s *Sequential) OptimizerName() string {
	if s.optimizer == nil {
		return ""
	}
	return s.optimizer.Name()
}

func (s *Sequential) MetricNames() []string {
	names := make([]string, len(s.metrics))
	for i, m := range s.metrics {
		names[i] = m.Name()
	}
	return names
}

// ParamCount is the number of trainable scalars.
func (s *Sequential) ParamCount() int {
	n := 0
	for _, l := range s.layers {
		n += paramCount(l.params())
	}
	return n
}

// Summary renders one line per layer, in the style of a Keras summary.
func (s *Sequential) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-4s %-12s %-18s %12s\n", "#", "layer", "output", "params")
	for i, info := range s.Layers() {
		fmt.Fprintf(&b, "%-4d %-12s %-18s %12d\n", i, info.Kind, fmt.Sprint(info.OutputShape), info.Params)
	}
	fmt.Fprintf(&b, "total params: %d\n", s.ParamCount())
	return b.String()
}

func (s *Sequential) forward(x *tensor, training bool) (*tensor, error) {
	out := x
	for i, l := range s.layers {
		var err error
		out, err = l.forward(out, training)
		if err != nil {
			return nil, &LayerError{Index: i, Layer: kindOf(l), Phase: "forward", Err: err}
		}
	}
	return out, nil
}

func (s *Sequential) backward(grad *tensor) error {
	for i := len(s.layers) - 1; i >= 0; i-- {
		var err error
		grad, err = s.layers[i].backward(grad)
		if err != nil {
			return &LayerError{Index: i, Layer: kindOf(s.layers[i]), Phase: "backward", Err: err}
		}
	}
	return nil
}

func (s *Sequential) batch(inputs, targets [][]float32) (*tensor, *tensor, error) {
	if len(inputs) == 0 {
		return nil, nil, errors.New("nn: empty batch")
	}
	x, err := rows(inputs, s.inputShape)
	if err != nil {
		return nil, nil, err
	}
	if targets == nil {
		return x, nil, nil
	}
	if len(targets) != len(inputs) {
		return nil, nil, errorf("%d inputs but %d targets", len(inputs), len(targets))
	}
	y, err := rows(targets, s.OutputShape())
	if err != nil {
		return nil, nil, errors.Wrap(err, "targets")
	}
	return x, y, nil
}

// TrainBatch runs one optimisation step and returns the batch loss. The
// compiled metrics accumulate the batch predictions until ResetMetrics.
func (s *Sequential) TrainBatch(inputs, targets [][]float32) (float64, error) {
	if !s.built {
		return 0, ErrNotBuilt
	}
	if !s.Compiled() {
		return 0, ErrNotCompiled
	}
	x, y, err := s.batch(inputs, targets)
	if err != nil {
		return 0, err
	}
	pred, err := s.forward(x, true)
	if err != nil {
		return 0, err
	}
	loss := s.loss.compute(pred, y)
	for _, m := range s.metrics {
		m.update(pred, y)
	}
	grad := newTensor(pred.shape...)
	s.loss.gradient(pred, y, grad)
	if err := s.backward(grad); err != nil {
		return 0, err
	}

	var params, grads []*tensor
	for _, l := range s.layers {
		params = append(params, l.params()...)
		grads = append(grads, l.grads()...)
	}
	s.optimizer.step(params, grads)
	return loss, nil
}

// ResetMetrics clears the compiled metrics.
func (s *Sequential) ResetMetrics() {
	for _, m := range s.metrics {
		m.reset()
	}
}

// MetricResults reads the compiled metrics accumulated since the last reset.
func (s *Sequential) MetricResults() map[string]float64 {
	out := make(map[string]float64, len(s.metrics))
	for _, m := range s.metrics {
		out[m.Name()] = m.result()
	}
	return out
}

// Predict runs inference with dropout disabled.
func (s *Sequential) Predict(inputs [][]float32) ([][]float32, error) {
	if !s.built {
		return nil, ErrNotBuilt
	}
	x, _, err := s.batch(inputs, nil)
	if err != nil {
		return nil, err
	}
	out, err := s.forward(x, false)
	if err != nil {
		return nil, err
	}
	width := out.size() / len(inputs)
	res := make([][]float32, len(inputs))
	for i := range res {
		res[i] = append([]float32(nil), out.data[i*width:(i+1)*width]...)
	}
	return res, nil
}

// Evaluate computes the mean loss and the compiled metrics over inputs in
// chunks of batchSize. It resets the compiled metrics.
func (s *Sequential) Evaluate(inputs, targets [][]float32, batchSize int) (map[string]float64, error) {
	if !s.built {
		return nil, ErrNotBuilt
	}
	if !s.Compiled() {
		return nil, ErrNotCompiled
	}
	if len(inputs) == 0 {
		return nil, errors.New("nn: nothing to evaluate")
	}
	if len(targets) != len(inputs) {
		return nil, errorf("%d inputs but %d targets", len(inputs), len(targets))
	}
	if batchSize <= 0 {
		batchSize = len(inputs)
	}
	s.ResetMetrics()
	lossSum := 0.0
	for start := 0; start < len(inputs); start += batchSize {
		end := start + batchSize
		if end > len(inputs) {
			end = len(inputs)
		}
		x, y, err := s.batch(inputs[start:end], targets[start:end])
		if err != nil {
			return nil, err
		}
		pred, err := s.forward(x, false)
		if err != nil {
			return nil, err
		}
		lossSum += s.loss.compute(pred, y) * float64(end-start)
		for _, m := range s.metrics {
			m.update(pred, y)
		}
	}
	res := s.MetricResults()
	res["loss"] = lossSum / float64(len(inputs))
	s.ResetMetrics()
	return res, nil
}
