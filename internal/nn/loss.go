package nn

import "math"

// Loss scores predictions against targets and yields dLoss/dPred.
type Loss interface {
	compute(pred, target *tensor) float64
	gradient(pred, target, grad *tensor)
	Name() string
}

type binaryCrossEntropy struct {
	eps float64
}

// BinaryCrossEntropy is the mean of -[y log p + (1-y) log(1-p)] over all
// outputs, with p clamped to [1e-7, 1-1e-7].
func BinaryCrossEntropy() Loss { return binaryCrossEntropy{eps: 1e-7} }

func (l binaryCrossEntropy) clamp(p float32) float64 {
	return math.Min(math.Max(float64(p), l.eps), 1-l.eps)
}

func (l binaryCrossEntropy) compute(pred, target *tensor) float64 {
	sum := 0.0
	for i, p := range pred.data {
		q := l.clamp(p)
		y := float64(target.data[i])
		sum -= y*math.Log(q) + (1-y)*math.Log(1-q)
	}
	return sum / float64(len(pred.data))
}

func (l binaryCrossEntropy) gradient(pred, target, grad *tensor) {
	n := float64(len(pred.data))
	for i, p := range pred.data {
		q := l.clamp(p)
		y := float64(target.data[i])
		grad.data[i] = float32((q - y) / (q * (1 - q)) / n)
	}
}

func (binaryCrossEntropy) Name() string { return "binary_crossentropy" }
