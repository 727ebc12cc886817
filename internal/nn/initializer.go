package nn

import (
	"math"
	"math/rand"
)

// Initializer fills a freshly allocated parameter tensor.
type Initializer interface {
	initialize(t *tensor, fanIn, fanOut int, rng *rand.Rand)
	Name() string
}

type glorotUniform struct{}

// GlorotUniform draws from U(-l, l) with l = sqrt(6 / (fanIn + fanOut)).
func GlorotUniform() Initializer { return glorotUniform{} }

func (glorotUniform) initialize(t *tensor, fanIn, fanOut int, rng *rand.Rand) {
	limit := float32(math.Sqrt(6.0 / float64(fanIn+fanOut)))
	t.fillUniform(-limit, limit, rng)
}

func (glorotUniform) Name() string { return "glorot_uniform" }

type heNormal struct{}

// HeNormal draws from N(0, 2/fanIn).
func HeNormal() Initializer { return heNormal{} }

func (heNormal) initialize(t *tensor, fanIn, _ int, rng *rand.Rand) {
	t.fillNormal(math.Sqrt(2.0/float64(fanIn)), rng)
}

func (heNormal) Name() string { return "he_normal" }

type zeros struct{}

// Zeros leaves the tensor at zero.
func Zeros() Initializer { return zeros{} }

func (zeros) initialize(t *tensor, _, _ int, _ *rand.Rand) { t.zero() }
func (zeros) Name() string                                 { return "zeros" }
