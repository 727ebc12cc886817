package metrics

import "time"

// Window accumulates per-batch timings between two log lines of the
// training loop.
type Window struct {
	images   int
	steps    int
	data     time.Duration
	compute  time.Duration
	lossSum  float64
	lastLoss float64
}

// Record adds one batch: how long it took to assemble and to run the
// optimisation step, and the loss it produced.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, loss float64) {
	w.images += batchSize
	w.steps++
	w.data += dataTime
	w.compute += computeTime
	w.lossSum += loss
	w.lastLoss = loss
}

// Steps is the number of batches recorded since the last snapshot.
func (w *Window) Steps() int { return w.steps }

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Steps: w.steps, Images: w.images, LastLoss: w.lastLoss}
	if total := w.data + w.compute; total > 0 {
		snap.ImagesPerSec = float64(w.images) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = float64(w.data.Microseconds()) / 1000 / float64(w.steps)
		snap.AvgComputeMS = float64(w.compute.Microseconds()) / 1000 / float64(w.steps)
		snap.AvgLoss = w.lossSum / float64(w.steps)
	}
	*w = Window{}
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	Steps        int
	Images       int
	ImagesPerSec float64
	AvgDataMS    float64
	AvgComputeMS float64
	AvgLoss      float64
	LastLoss     float64
}
