package nn

import "math"

// Optimizer updates parameters in place from their gradients.
type Optimizer interface {
	step(params, grads []*tensor)
	Name() string
}

// AdamConfig mirrors the usual Adam hyperparameters.
type AdamConfig struct {
	LR      float64
	Beta1   float64
	Beta2   float64
	Epsilon float64
}

// DefaultAdam returns lr 0.001, betas 0.9/0.999 and epsilon 1e-7.
func DefaultAdam() AdamConfig {
	return AdamConfig{LR: 0.001, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-7}
}

// AdamOptimizer keeps first and second moment estimates per parameter.
type AdamOptimizer struct {
	cfg AdamConfig
	m   [][]float32
	v   [][]float32
	t   int
}

func Adam(cfg AdamConfig) *AdamOptimizer {
	return &AdamOptimizer{cfg: cfg}
}

// Config returns the hyperparameters the optimizer was created with.
func (a *AdamOptimizer) Config() AdamConfig { return a.cfg }

// Steps reports how many updates have been applied.
func (a *AdamOptimizer) Steps() int { return a.t }

func (a *AdamOptimizer) step(params, grads []*tensor) {
	if a.m == nil {
		a.m = make([][]float32, len(params))
		a.v = make([][]float32, len(params))
		for i, p := range params {
			a.m[i] = make([]float32, p.size())
			a.v[i] = make([]float32, p.size())
		}
	}
	a.t++
	b1, b2 := float32(a.cfg.Beta1), float32(a.cfg.Beta2)
	bc1 := 1 - math.Pow(a.cfg.Beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.cfg.Beta2, float64(a.t))
	lr := a.cfg.LR

	for i, p := range params {
		g := grads[i]
		if g == nil {
			continue
		}
		m, v := a.m[i], a.v[i]
		parallel(spans(p.size()), func(_, lo, hi int) {
			for j := lo; j < hi; j++ {
				gj := g.data[j]
				m[j] = b1*m[j] + (1-b1)*gj
				v[j] = b2*v[j] + (1-b2)*gj*gj
				mHat := float64(m[j]) / bc1
				vHat := float64(v[j]) / bc2
				p.data[j] -= float32(lr * mHat / (math.Sqrt(vHat) + a.cfg.Epsilon))
			}
		})
	}
}

func (a *AdamOptimizer) Name() string { return "adam" }
