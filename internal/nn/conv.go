package nn

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

// Conv2DLayer is a 2D convolution over NHWC input.
type Conv2DLayer struct {
	filters    int
	kernel     [2]int
	stride     [2]int
	padding    string // "valid" or "same"
	activation Activation
	kernelInit Initializer
	biasInit   Initializer
	useBias    bool
	weights    *tensor // [kh, kw, inC, filters]
	bias       *tensor
	gradW      *tensor
	gradB      *tensor
	inShape    []int // [H, W, C]
	outH, outW int
	padT, padL int
	input      *tensor
	output     *tensor
}

type Conv2DBuilder struct {
	layer *Conv2DLayer
}

// Conv2D defaults to stride 1, valid padding, linear activation,
// Glorot-uniform kernel and zero bias.
func Conv2D(filters int, kernel [2]int) *Conv2DBuilder {
	return &Conv2DBuilder{layer: &Conv2DLayer{
		filters:    filters,
		kernel:     kernel,
		stride:     [2]int{1, 1},
		padding:    "valid",
		activation: Linear(),
		kernelInit: GlorotUniform(),
		biasInit:   Zeros(),
		useBias:    true,
	}}
}

func (b *Conv2DBuilder) WithStride(h, w int) *Conv2DBuilder {
	b.layer.stride = [2]int{h, w}
	return b
}

func (b *Conv2DBuilder) WithPadding(padding string) *Conv2DBuilder {
	b.layer.padding = padding
	return b
}

func (b *Conv2DBuilder) WithActivation(act Activation) *Conv2DBuilder {
	b.layer.activation = act
	return b
}

func (b *Conv2DBuilder) WithInitializer(init Initializer) *Conv2DBuilder {
	b.layer.kernelInit = init
	return b
}

func (b *Conv2DBuilder) WithBias(useBias bool) *Conv2DBuilder {
	b.layer.useBias = useBias
	return b
}

func (b *Conv2DBuilder) Build() Layer { return b.layer }

func (c *Conv2DLayer) build(inputShape []int, rng *rand.Rand) error {
	if len(inputShape) != 3 {
		return errors.Errorf("conv2d expects input shape [H, W, C], got %v", inputShape)
	}
	if c.filters <= 0 || c.kernel[0] <= 0 || c.kernel[1] <= 0 {
		return errors.Errorf("conv2d needs positive filters and kernel, got %d %v", c.filters, c.kernel)
	}
	if c.stride[0] <= 0 || c.stride[1] <= 0 {
		return errors.Errorf("conv2d stride must be positive, got %v", c.stride)
	}
	h, w := inputShape[0], inputShape[1]
	switch c.padding {
	case "valid":
		if h < c.kernel[0] || w < c.kernel[1] {
			return errors.Errorf("conv2d kernel %v does not fit input %v", c.kernel, inputShape)
		}
		c.outH = (h-c.kernel[0])/c.stride[0] + 1
		c.outW = (w-c.kernel[1])/c.stride[1] + 1
		c.padT, c.padL = 0, 0
	case "same":
		c.outH = (h + c.stride[0] - 1) / c.stride[0]
		c.outW = (w + c.stride[1] - 1) / c.stride[1]
		c.padT = maxInt((c.outH-1)*c.stride[0]+c.kernel[0]-h, 0) / 2
		c.padL = maxInt((c.outW-1)*c.stride[1]+c.kernel[1]-w, 0) / 2
	default:
		return errors.Errorf("conv2d padding must be valid or same, got %q", c.padding)
	}
	if c.outH <= 0 || c.outW <= 0 {
		return errors.Errorf("conv2d kernel %v does not fit input %v", c.kernel, inputShape)
	}

	c.inShape = append([]int(nil), inputShape...)
	inC := inputShape[2]
	c.weights = newTensor(c.kernel[0], c.kernel[1], inC, c.filters)
	receptive := c.kernel[0] * c.kernel[1]
	c.kernelInit.initialize(c.weights, receptive*inC, receptive*c.filters, rng)
	if c.useBias {
		c.bias = newTensor(c.filters)
		c.biasInit.initialize(c.bias, receptive*inC, receptive*c.filters, rng)
	}
	return nil
}

func (c *Conv2DLayer) forward(input *tensor, training bool) (*tensor, error) {
	if len(input.shape) != 4 || !sameShape(input.shape[1:], c.inShape) {
		return nil, errors.Errorf("input shape %v, want [batch %v]", input.shape, c.inShape)
	}
	batch := input.shape[0]
	h, w, inC := c.inShape[0], c.inShape[1], c.inShape[2]
	f := c.filters
	out := newTensor(batch, c.outH, c.outW, f)

	parallel(spans(batch), func(_, lo, hi int) {
		for b := lo; b < hi; b++ {
			for oh := 0; oh < c.outH; oh++ {
				for ow := 0; ow < c.outW; ow++ {
					base := ((b*c.outH+oh)*c.outW + ow) * f
					acc := out.data[base : base+f]
					if c.useBias {
						copy(acc, c.bias.data)
					}
					for kh := 0; kh < c.kernel[0]; kh++ {
						ih := oh*c.stride[0] + kh - c.padT
						if ih < 0 || ih >= h {
							continue
						}
						for kw := 0; kw < c.kernel[1]; kw++ {
							iw := ow*c.stride[1] + kw - c.padL
							if iw < 0 || iw >= w {
								continue
							}
							in := input.data[((b*h+ih)*w+iw)*inC:][:inC]
							wBase := (kh*c.kernel[1] + kw) * inC * f
							for ic, x := range in {
								if x == 0 {
									continue
								}
								row := c.weights.data[wBase+ic*f:][:f]
								for k, wk := range row {
									acc[k] += x * wk
								}
							}
						}
					}
				}
			}
			sample := out.data[b*c.outH*c.outW*f : (b+1)*c.outH*c.outW*f]
			c.activation.apply(sample)
		}
	})

	if training {
		c.input = input
		c.output = out
	}
	return out, nil
}

func (c *Conv2DLayer) backward(gradOutput *tensor) (*tensor, error) {
	if c.input == nil {
		return nil, errors.New("backward called before a training forward pass")
	}
	batch := c.input.shape[0]
	h, w, inC := c.inShape[0], c.inShape[1], c.inShape[2]
	f := c.filters

	g := newTensor(gradOutput.shape...)
	copy(g.data, gradOutput.data)
	c.activation.derive(c.output.data, g.data)

	if c.gradW == nil {
		c.gradW = newTensor(c.weights.shape...)
		if c.useBias {
			c.gradB = newTensor(c.filters)
		}
	}

	parts := spans(batch)
	localW := make([][]float32, len(parts))
	localB := make([][]float32, len(parts))
	gradInput := newTensor(c.input.shape...)

	parallel(parts, func(worker, lo, hi int) {
		gw := make([]float32, c.weights.size())
		gb := make([]float32, f)
		for b := lo; b < hi; b++ {
			for oh := 0; oh < c.outH; oh++ {
				for ow := 0; ow < c.outW; ow++ {
					base := ((b*c.outH+oh)*c.outW + ow) * f
					dout := g.data[base : base+f]
					for k, d := range dout {
						gb[k] += d
					}
					for kh := 0; kh < c.kernel[0]; kh++ {
						ih := oh*c.stride[0] + kh - c.padT
						if ih < 0 || ih >= h {
							continue
						}
						for kw := 0; kw < c.kernel[1]; kw++ {
							iw := ow*c.stride[1] + kw - c.padL
							if iw < 0 || iw >= w {
								continue
							}
							inBase := ((b*h+ih)*w + iw) * inC
							wBase := (kh*c.kernel[1] + kw) * inC * f
							for ic := 0; ic < inC; ic++ {
								x := c.input.data[inBase+ic]
								row := c.weights.data[wBase+ic*f:][:f]
								grow := gw[wBase+ic*f:][:f]
								var dx float32
								for k, d := range dout {
									dx += row[k] * d
									grow[k] += x * d
								}
								gradInput.data[inBase+ic] += dx
							}
						}
					}
				}
			}
		}
		localW[worker] = gw
		localB[worker] = gb
	})

	c.gradW.zero()
	for _, gw := range localW {
		for i, v := range gw {
			c.gradW.data[i] += v
		}
	}
	if c.useBias {
		c.gradB.zero()
		for _, gb := range localB {
			for i, v := range gb {
				c.gradB.data[i] += v
			}
		}
	}

	c.input, c.output = nil, nil
	return gradInput, nil
}

func (c *Conv2DLayer) params() []*tensor {
	if c.useBias {
		return []*tensor{c.weights, c.bias}
	}
	return []*tensor{c.weights}
}

func (c *Conv2DLayer) grads() []*tensor {
	if c.useBias {
		return []*tensor{c.gradW, c.gradB}
	}
	return []*tensor{c.gradW}
}

func (c *Conv2DLayer) outputShape() []int { return []int{c.outH, c.outW, c.filters} }

func (c *Conv2DLayer) info() LayerInfo {
	return LayerInfo{
		Kind:        "conv2d",
		Units:       c.filters,
		Kernel:      c.kernel,
		Stride:      c.stride,
		Padding:     c.padding,
		Activation:  c.activation.Name(),
		OutputShape: c.outputShape(),
		Params:      paramCount(c.params()),
	}
}

// MaxPool2DLayer keeps the maximum of each pooling window. Windows that run
// past the input edge are dropped (valid padding).
type MaxPool2DLayer struct {
	pool       [2]int
	stride     [2]int
	inShape    []int
	outH, outW int
	argmax     []int32
	batch      int
}

type MaxPool2DBuilder struct {
	layer *MaxPool2DLayer
}

// MaxPool2D uses a stride equal to the pool size unless WithStride is given.
func MaxPool2D(pool [2]int) *MaxPool2DBuilder {
	return &MaxPool2DBuilder{layer: &MaxPool2DLayer{pool: pool, stride: pool}}
}

func (b *MaxPool2DBuilder) WithStride(h, w int) *MaxPool2DBuilder {
	b.layer.stride = [2]int{h, w}
	return b
}

func (b *MaxPool2DBuilder) Build() Layer { return b.layer }

func (m *MaxPool2DLayer) build(inputShape []int, _ *rand.Rand) error {
	if len(inputShape) != 3 {
		return errors.Errorf("max_pool2d expects input shape [H, W, C], got %v", inputShape)
	}
	if m.pool[0] <= 0 || m.pool[1] <= 0 || m.stride[0] <= 0 || m.stride[1] <= 0 {
		return errors.Errorf("max_pool2d pool %v and stride %v must be positive", m.pool, m.stride)
	}
	if inputShape[0] < m.pool[0] || inputShape[1] < m.pool[1] {
		return errors.Errorf("max_pool2d pool %v does not fit input %v", m.pool, inputShape)
	}
	m.outH = (inputShape[0]-m.pool[0])/m.stride[0] + 1
	m.outW = (inputShape[1]-m.pool[1])/m.stride[1] + 1
	m.inShape = append([]int(nil), inputShape...)
	return nil
}

func (m *MaxPool2DLayer) forward(input *tensor, training bool) (*tensor, error) {
	if len(input.shape) != 4 || !sameShape(input.shape[1:], m.inShape) {
		return nil, errors.Errorf("input shape %v, want [batch %v]", input.shape, m.inShape)
	}
	batch := input.shape[0]
	h, w, ch := m.inShape[0], m.inShape[1], m.inShape[2]
	out := newTensor(batch, m.outH, m.outW, ch)
	argmax := make([]int32, out.size())

	parallel(spans(batch), func(_, lo, hi int) {
		for b := lo; b < hi; b++ {
			for oh := 0; oh < m.outH; oh++ {
				for ow := 0; ow < m.outW; ow++ {
					for k := 0; k < ch; k++ {
						best := float32(math.Inf(-1))
						// An all NaN window routes its gradient to the first element.
						bestIdx := ((b*h+oh*m.stride[0])*w+ow*m.stride[1])*ch + k
						for ph := 0; ph < m.pool[0]; ph++ {
							ih := oh*m.stride[0] + ph
							for pw := 0; pw < m.pool[1]; pw++ {
								iw := ow*m.stride[1] + pw
								idx := ((b*h+ih)*w+iw)*ch + k
								if v := input.data[idx]; v > best {
									best, bestIdx = v, idx
								}
							}
						}
						o := ((b*m.outH+oh)*m.outW+ow)*ch + k
						out.data[o] = best
						argmax[o] = int32(bestIdx)
					}
				}
			}
		}
	})

	if training {
		m.argmax = argmax
		m.batch = batch
	}
	return out, nil
}

func (m *MaxPool2DLayer) backward(gradOutput *tensor) (*tensor, error) {
	if m.argmax == nil {
		return nil, errors.New("backward called before a training forward pass")
	}
	gradInput := newTensor(append([]int{m.batch}, m.inShape...)...)
	for o, g := range gradOutput.data {
		gradInput.data[m.argmax[o]] += g
	}
	m.argmax = nil
	return gradInput, nil
}

func (m *MaxPool2DLayer) params() []*tensor  { return nil }
func (m *MaxPool2DLayer) grads() []*tensor   { return nil }
func (m *MaxPool2DLayer) outputShape() []int { return []int{m.outH, m.outW, m.inShape[2]} }

func (m *MaxPool2DLayer) info() LayerInfo {
	return LayerInfo{
		Kind:        "max_pool2d",
		Kernel:      m.pool,
		Stride:      m.stride,
		Padding:     "valid",
		OutputShape: m.outputShape(),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
