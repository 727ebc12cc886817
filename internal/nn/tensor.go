package nn

import "math/rand"

// tensor is a dense row-major float32 array. Image tensors use NHWC order.
type tensor struct {
	data  []float32
	shape []int
}

func newTensor(shape ...int) *tensor {
	return &tensor{
		data:  make([]float32, shapeSize(shape)),
		shape: append([]int(nil), shape...),
	}
}

func shapeSize(shape []int) int {
	size := 1
	for _, s := range shape {
		size *= s
	}
	return size
}

func (t *tensor) size() int { return len(t.data) }

// view returns a tensor sharing t's data under a different shape.
func (t *tensor) view(shape ...int) *tensor {
	return &tensor{data: t.data, shape: append([]int(nil), shape...)}
}

func (t *tensor) zero() {
	for i := range t.data {
		t.data[i] = 0
	}
}

func (t *tensor) fillUniform(low, high float32, rng *rand.Rand) {
	for i := range t.data {
		t.data[i] = low + rng.Float32()*(high-low)
	}
}

func (t *tensor) fillNormal(std float64, rng *rand.Rand) {
	for i := range t.data {
		t.data[i] = float32(rng.NormFloat64() * std)
	}
}

// rows packs equally sized samples into a [len(rows), sampleShape...] tensor.
func rows(samples [][]float32, sampleShape []int) (*tensor, error) {
	per := shapeSize(sampleShape)
	out := newTensor(append([]int{len(samples)}, sampleShape...)...)
	for i, s := range samples {
		if len(s) != per {
			return nil, errorf("sample %d has %d values, want %d for shape %v", i, len(s), per, sampleShape)
		}
		copy(out.data[i*per:(i+1)*per], s)
	}
	return out, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
