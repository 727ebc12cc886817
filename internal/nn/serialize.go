package nn

import (
	"bufio"
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const modelFormat = 1

// modelFile is the on-disk layout written by Save.
type modelFile struct {
	Format     int
	InputShape []int
	Layers     []LayerInfo
	Optimizer  string
	Loss       string
	Metrics    []string
	Params     []paramBlob
}

type paramBlob struct {
	Shape []int
	Data  []float32
}

// Save writes the architecture description and all weights to path. The file
// is written next to path and renamed into place.
func (s *Sequential) Save(path string) error {
	if !s.built {
		return ErrNotBuilt
	}
	mf := modelFile{
		Format:     modelFormat,
		InputShape: s.inputShape,
		Layers:     s.Layers(),
		Optimizer:  s.OptimizerName(),
		Loss:       s.LossName(),
		Metrics:    s.MetricNames(),
	}
	for _, l := range s.layers {
		for _, p := range l.params() {
			mf.Params = append(mf.Params, paramBlob{Shape: p.shape, Data: p.data})
		}
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create model dir")
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "create model file")
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := gob.NewEncoder(w).Encode(&mf); err != nil {
		tmp.Close()
		return errors.Wrap(err, "encode model")
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write model")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close model file")
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "rename model file")
}

// Load reads weights written by Save into s, which must already be built with
// the same layers.
func (s *Sequential) Load(path string) error {
	if !s.built {
		return ErrNotBuilt
	}
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open model file")
	}
	defer f.Close()

	var mf modelFile
	if err := gob.NewDecoder(bufio.NewReader(f)).Decode(&mf); err != nil {
		return errors.Wrap(err, "decode model")
	}
	if mf.Format != modelFormat {
		return errorf("unsupported model format %d", mf.Format)
	}
	if !sameShape(mf.InputShape, s.inputShape) {
		return errors.Wrapf(ErrArchitectureMismatch, "input shape %v, network has %v", mf.InputShape, s.inputShape)
	}
	own := s.Layers()
	if len(mf.Layers) != len(own) {
		return errors.Wrapf(ErrArchitectureMismatch, "%d layers, network has %d", len(mf.Layers), len(own))
	}
	for i := range own {
		if !sameLayer(mf.Layers[i], own[i]) {
			return errors.Wrapf(ErrArchitectureMismatch, "layer %d is %+v, network has %+v", i, mf.Layers[i], own[i])
		}
	}

	idx := 0
	for _, l := range s.layers {
		for _, p := range l.params() {
			if idx >= len(mf.Params) {
				return errors.Wrap(ErrArchitectureMismatch, "file has fewer parameter tensors")
			}
			blob := mf.Params[idx]
			if !sameShape(blob.Shape, p.shape) || len(blob.Data) != p.size() {
				return errors.Wrapf(ErrArchitectureMismatch, "parameter %d has shape %v, want %v", idx, blob.Shape, p.shape)
			}
			copy(p.data, blob.Data)
			idx++
		}
	}
	if idx != len(mf.Params) {
		return errors.Wrap(ErrArchitectureMismatch, "file has extra parameter tensors")
	}
	return nil
}

// sameLayer compares everything that describes a layer except its
// parameter count, which the per-tensor shape check covers.
func sameLayer(a, b LayerInfo) bool {
	return a.Kind == b.Kind &&
		a.Units == b.Units &&
		a.Kernel == b.Kernel &&
		a.Stride == b.Stride &&
		a.Padding == b.Padding &&
		a.Activation == b.Activation &&
		a.Rate == b.Rate &&
		sameShape(a.OutputShape, b.OutputShape)
}
