package dataset

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

// Example is a decoded, normalised image and its binary label.
type Example struct {
	Key    string
	Pixels []float32
	Label  float32
}

// Set is an in-memory collection of examples sharing one input shape.
type Set struct {
	Shape    []int
	Examples []Example
}

// NewSet wraps examples whose pixel count must match shape.
func NewSet(shape []int, examples []Example) (*Set, error) {
	want := 1
	for _, d := range shape {
		want *= d
	}
	for _, ex := range examples {
		if len(ex.Pixels) != want {
			return nil, errors.Errorf("dataset: example %s has %d values, want %d for %v", ex.Key, len(ex.Pixels), want, shape)
		}
	}
	return &Set{Shape: append([]int(nil), shape...), Examples: examples}, nil
}

// Len is safe on a nil set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Examples)
}

// Positives counts examples labelled as showing a kill feed.
func (s *Set) Positives() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, ex := range s.Examples {
		if ex.Label >= 0.5 {
			n++
		}
	}
	return n
}

// Batch gathers the examples at indices as network inputs and targets. The
// pixel slices are shared, not copied.
func (s *Set) Batch(indices []int) (inputs, targets [][]float32) {
	inputs = make([][]float32, len(indices))
	targets = make([][]float32, len(indices))
	for i, idx := range indices {
		ex := s.Examples[idx]
		inputs[i] = ex.Pixels
		targets[i] = []float32{ex.Label}
	}
	return inputs, targets
}

// Split is a train/validation partition.
type Split struct {
	Train *Set
	Val   *Set
}

// SplitSamples shuffles examples with seed and holds out valFraction of each
// class for validation, so both sets keep the overall class balance.
func SplitSamples(examples []Example, shape []int, valFraction float64, seed int64) (*Split, error) {
	if valFraction < 0 || valFraction >= 1 {
		return nil, errors.Errorf("dataset: validation fraction must be in [0, 1), got %g", valFraction)
	}
	if len(examples) == 0 {
		return nil, ErrNoImages
	}
	rng := rand.New(rand.NewSource(seed))

	var pos, neg []Example
	for _, ex := range examples {
		if ex.Label >= 0.5 {
			pos = append(pos, ex)
		} else {
			neg = append(neg, ex)
		}
	}

	var train, val []Example
	for _, class := range [][]Example{pos, neg} {
		rng.Shuffle(len(class), func(i, j int) { class[i], class[j] = class[j], class[i] })
		n := int(math.Round(float64(len(class)) * valFraction))
		if n >= len(class) && len(class) > 0 {
			n = len(class) - 1
		}
		val = append(val, class[:n]...)
		train = append(train, class[n:]...)
	}
	rng.Shuffle(len(train), func(i, j int) { train[i], train[j] = train[j], train[i] })
	rng.Shuffle(len(val), func(i, j int) { val[i], val[j] = val[j], val[i] })

	trainSet, err := NewSet(shape, train)
	if err != nil {
		return nil, err
	}
	valSet, err := NewSet(shape, val)
	if err != nil {
		return nil, err
	}
	return &Split{Train: trainSet, Val: valSet}, nil
}
