package nn

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotBuilt is returned when a network is used before Build.
	ErrNotBuilt = errors.New("nn: network is not built")
	// ErrNotCompiled is returned when TrainBatch or Evaluate runs before
	// Compile. Predict only needs a built network.
	ErrNotCompiled = errors.New("nn: network is not compiled")
	// ErrArchitectureMismatch is returned by Load when the file describes a different network.
	ErrArchitectureMismatch = errors.New("nn: saved architecture does not match network")
)

// LayerError locates a failure inside the layer stack.
type LayerError struct {
	Index int
	Layer string
	Phase string // "build", "forward" or "backward"
	Err   error
}

func (e *LayerError) Error() string {
	return fmt.Sprintf("nn: layer %d (%s) %s: %v", e.Index, e.Layer, e.Phase, e.Err)
}

func (e *LayerError) Unwrap() error { return e.Err }

func errorf(format string, args ...interface{}) error {
	return errors.Errorf("nn: "+format, args...)
}
