package nn

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Layer is one stage of a Sequential network. Layers are created through
// the builder functions in this package.
type Layer interface {
	build(inputShape []int, rng *rand.Rand) error
	forward(input *tensor, training bool) (*tensor, error)
	backward(gradOutput *tensor) (*tensor, error)
	params() []*tensor
	grads() []*tensor
	outputShape() []int
	info() LayerInfo
}

// LayerInfo describes a built layer. It is what Summary prints and what the
// model file records to check that weights are loaded into the same network.
type LayerInfo struct {
	Kind        string
	Units       int // dense units or conv filters
	Kernel      [2]int
	Stride      [2]int
	Padding     string
	Activation  string
	Rate        float64
	OutputShape []int
	Params      int
}

func paramCount(ts []*tensor) int {
	n := 0
	for _, t := range ts {
		n += t.size()
	}
	return n
}

// DenseLayer is a fully connected layer over the last input dimension.
type DenseLayer struct {
	units      int
	activation Activation
	kernelInit Initializer
	biasInit   Initializer
	useBias    bool
	weights    *tensor // [in, units]
	bias       *tensor
	gradW      *tensor
	gradB      *tensor
	input      *tensor
	output     *tensor
	fanIn      int
}

type DenseBuilder struct {
	layer *DenseLayer
}

// Dense defaults to a linear activation, Glorot-uniform kernel and zero bias.
func Dense(units int) *DenseBuilder {
	return &DenseBuilder{layer: &DenseLayer{
		units:      units,
		activation: Linear(),
		kernelInit: GlorotUniform(),
		biasInit:   Zeros(),
		useBias:    true,
	}}
}

func (b *DenseBuilder) WithActivation(act Activation) *DenseBuilder {
	b.layer.activation = act
	return b
}

func (b *DenseBuilder) WithInitializer(init Initializer) *DenseBuilder {
	b.layer.kernelInit = init
	return b
}

func (b *DenseBuilder) WithBias(useBias bool) *DenseBuilder {
	b.layer.useBias = useBias
	return b
}

func (b *DenseBuilder) Build() Layer { return b.layer }

func (d *DenseLayer) build(inputShape []int, rng *rand.Rand) error {
	if len(inputShape) != 1 {
		return errors.Errorf("dense expects a flat input, got shape %v", inputShape)
	}
	if d.units <= 0 {
		return errors.Errorf("dense units must be > 0, got %d", d.units)
	}
	d.fanIn = inputShape[0]
	d.weights = newTensor(d.fanIn, d.units)
	d.kernelInit.initialize(d.weights, d.fanIn, d.units, rng)
	if d.useBias {
		d.bias = newTensor(d.units)
		d.biasInit.initialize(d.bias, d.fanIn, d.units, rng)
	}
	return nil
}

func (d *DenseLayer) forward(input *tensor, training bool) (*tensor, error) {
	if len(input.shape) != 2 || input.shape[1] != d.fanIn {
		return nil, errors.Errorf("input shape %v, want [batch %d]", input.shape, d.fanIn)
	}
	batch := input.shape[0]
	out := newTensor(batch, d.units)
	w := d.weights.data

	parallel(spans(batch), func(_, lo, hi int) {
		for b := lo; b < hi; b++ {
			x := input.data[b*d.fanIn : (b+1)*d.fanIn]
			y := out.data[b*d.units : (b+1)*d.units]
			if d.useBias {
				copy(y, d.bias.data)
			}
			for i, xi := range x {
				if xi == 0 {
					continue
				}
				row := w[i*d.units : (i+1)*d.units]
				for j, wij := range row {
					y[j] += xi * wij
				}
			}
			d.activation.apply(y)
		}
	})

	if training {
		d.input = input
		d.output = out
	}
	return out, nil
}

func (d *DenseLayer) backward(gradOutput *tensor) (*tensor, error) {
	if d.input == nil {
		return nil, errors.New("backward called before a training forward pass")
	}
	batch := d.input.shape[0]
	g := newTensor(gradOutput.shape...)
	copy(g.data, gradOutput.data)
	d.activation.derive(d.output.data, g.data)

	if d.gradW == nil {
		d.gradW = newTensor(d.fanIn, d.units)
		if d.useBias {
			d.gradB = newTensor(d.units)
		}
	}
	if d.useBias {
		d.gradB.zero()
		for b := 0; b < batch; b++ {
			for j, v := range g.data[b*d.units : (b+1)*d.units] {
				d.gradB.data[j] += v
			}
		}
	}

	gradInput := newTensor(batch, d.fanIn)
	w := d.weights.data
	parallel(spans(d.fanIn), func(_, lo, hi int) {
		for i := lo; i < hi; i++ {
			row := w[i*d.units : (i+1)*d.units]
			gw := d.gradW.data[i*d.units : (i+1)*d.units]
			for j := range gw {
				gw[j] = 0
			}
			for b := 0; b < batch; b++ {
				gb := g.data[b*d.units : (b+1)*d.units]
				xi := d.input.data[b*d.fanIn+i]
				var dx float32
				for j, gj := range gb {
					dx += gj * row[j]
					gw[j] += xi * gj
				}
				gradInput.data[b*d.fanIn+i] = dx
			}
		}
	})

	d.input, d.output = nil, nil
	return gradInput, nil
}

func (d *DenseLayer) params() []*tensor {
	if d.useBias {
		return []*tensor{d.weights, d.bias}
	}
	return []*tensor{d.weights}
}

func (d *DenseLayer) grads() []*tensor {
	if d.useBias {
		return []*tensor{d.gradW, d.gradB}
	}
	return []*tensor{d.gradW}
}

func (d *DenseLayer) outputShape() []int { return []int{d.units} }

func (d *DenseLayer) info() LayerInfo {
	return LayerInfo{
		Kind:        "dense",
		Units:       d.units,
		Activation:  d.activation.Name(),
		OutputShape: d.outputShape(),
		Params:      paramCount(d.params()),
	}
}

// DropoutLayer zeroes a fraction of activations while training and scales
// the survivors by 1/(1-rate). At inference it is the identity.
type DropoutLayer struct {
	rate  float64
	shape []int
	mask  []float32
	rng   *rand.Rand
}

type DropoutBuilder struct {
	layer *DropoutLayer
}

func Dropout(rate float64) *DropoutBuilder {
	return &DropoutBuilder{layer: &DropoutLayer{rate: rate}}
}

func (b *DropoutBuilder) Build() Layer { return b.layer }

func (d *DropoutLayer) build(inputShape []int, rng *rand.Rand) error {
	if d.rate < 0 || d.rate >= 1 {
		return errors.Errorf("dropout rate must be in [0, 1), got %g", d.rate)
	}
	d.shape = inputShape
	d.rng = rng
	return nil
}

func (d *DropoutLayer) forward(input *tensor, training bool) (*tensor, error) {
	if !training || d.rate == 0 {
		d.mask = nil
		return input, nil
	}
	out := newTensor(input.shape...)
	if cap(d.mask) < input.size() {
		d.mask = make([]float32, input.size())
	}
	d.mask = d.mask[:input.size()]
	scale := float32(1 / (1 - d.rate))
	for i, v := range input.data {
		if d.rng.Float64() >= d.rate {
			d.mask[i] = scale
			out.data[i] = v * scale
		} else {
			d.mask[i] = 0
		}
	}
	return out, nil
}

func (d *DropoutLayer) backward(gradOutput *tensor) (*tensor, error) {
	if d.mask == nil {
		return gradOutput, nil
	}
	gradInput := newTensor(gradOutput.shape...)
	for i, g := range gradOutput.data {
		gradInput.data[i] = g * d.mask[i]
	}
	return gradInput, nil
}

func (d *DropoutLayer) params() []*tensor  { return nil }
func (d *DropoutLayer) grads() []*tensor   { return nil }
func (d *DropoutLayer) outputShape() []int { return d.shape }

func (d *DropoutLayer) info() LayerInfo {
	return LayerInfo{Kind: "dropout", Rate: d.rate, OutputShape: d.shape}
}

// FlattenLayer reshapes [batch, ...] to [batch, prod(...)].
type FlattenLayer struct {
	inputShape []int
}

type FlattenBuilder struct {
	layer *FlattenLayer
}

func Flatten() *FlattenBuilder {
	return &FlattenBuilder{layer: &FlattenLayer{}}
}

func (b *FlattenBuilder) Build() Layer { return b.layer }

func (f *FlattenLayer) build(inputShape []int, _ *rand.Rand) error {
	f.inputShape = append([]int(nil), inputShape...)
	return nil
}

func (f *FlattenLayer) forward(input *tensor, _ bool) (*tensor, error) {
	return input.view(input.shape[0], shapeSize(f.inputShape)), nil
}

func (f *FlattenLayer) backward(gradOutput *tensor) (*tensor, error) {
	return gradOutput.view(append([]int{gradOutput.shape[0]}, f.inputShape...)...), nil
}

func (f *FlattenLayer) params() []*tensor  { return nil }
func (f *FlattenLayer) grads() []*tensor   { return nil }
func (f *FlattenLayer) outputShape() []int { return []int{shapeSize(f.inputShape)} }

func (f *FlattenLayer) info() LayerInfo {
	return LayerInfo{Kind: "flatten", OutputShape: f.outputShape()}
}
