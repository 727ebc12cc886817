package nn

import (
	"math"

	"github.com/pkg/errors"
)

// Activation is applied element-wise after a layer's affine transform.
// Derivatives are expressed in terms of the activated output so layers only
// keep one copy of their activations.
type Activation interface {
	apply(x []float32)
	derive(out, grad []float32)
	Name() string
}

type reluActivation struct{}

// ReLU returns max(0, x).
func ReLU() Activation { return reluActivation{} }

func (reluActivation) apply(x []float32) {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
}

func (reluActivation) derive(out, grad []float32) {
	for i, v := range out {
		if v <= 0 {
			grad[i] = 0
		}
	}
}

func (reluActivation) Name() string { return "relu" }

type sigmoidActivation struct{}

// Sigmoid squashes values into (0, 1).
func Sigmoid() Activation { return sigmoidActivation{} }

func (sigmoidActivation) apply(x []float32) {
	for i, v := range x {
		x[i] = float32(1 / (1 + math.Exp(-float64(v))))
	}
}

func (sigmoidActivation) derive(out, grad []float32) {
	for i, s := range out {
		grad[i] *= s * (1 - s)
	}
}

func (sigmoidActivation) Name() string { return "sigmoid" }

type linearActivation struct{}

// Linear is the identity.
func Linear() Activation { return linearActivation{} }

func (linearActivation) apply([]float32)       {}
func (linearActivation) derive(_, _ []float32) {}
func (linearActivation) Name() string          { return "linear" }

// ActivationByName resolves the identifiers used in architecture configs.
func ActivationByName(name string) (Activation, error) {
	switch name {
	case "relu":
		return ReLU(), nil
	case "sigmoid":
		return Sigmoid(), nil
	case "linear", "":
		return Linear(), nil
	}
	return nil, errors.Errorf("nn: unknown activation %q", name)
}
