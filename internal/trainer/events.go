package trainer

import "time"

// Event kinds sent to a Reporter.
const (
	EventTrainBegin = "train_begin"
	EventEpochEnd   = "epoch_end"
	EventTrainEnd   = "train_end"
)

// Event is a progress notification from the training loop.
type Event struct {
	Kind         string        `json:"kind"`
	RunID        string        `json:"run_id,omitempty"`
	Epoch        int           `json:"epoch,omitempty"`
	Epochs       int           `json:"epochs"`
	TrainSamples int           `json:"train_samples,omitempty"`
	ValSamples   int           `json:"val_samples,omitempty"`
	Metrics      *EpochMetrics `json:"metrics,omitempty"`
	StopReason   string        `json:"stop_reason,omitempty"`
	Time         time.Time     `json:"time"`
}

// Reporter receives progress events. Report is called on the training
// goroutine and must not block.
type Reporter interface {
	Report(ev Event)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ev Event)

func (f ReporterFunc) Report(ev Event) { f(ev) }

func report(r Reporter, ev Event) {
	if r == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	r.Report(ev)
}
