package trainer

import (
	"context"
	"errors"
	"testing"

	"killfeed-trainer/internal/dataset"
	"killfeed-trainer/internal/model"
	"killfeed-trainer/internal/nn"
)

func buildSmall(t *testing.T) *nn.Sequential {
	t.Helper()
	net, err := model.Build(*smallArch())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return net
}

func syntheticSet(t *testing.T, n int) *dataset.Set {
	t.Helper()
	var examples []dataset.Example
	for i := 0; i < n; i++ {
		px := make([]float32, 8*8*3)
		label := float32(i % 2)
		for j := range px {
			if j%3 == 0 {
				px[j] = label
			} else {
				px[j] = 1 - label
			}
		}
		examples = append(examples, dataset.Example{Key: "s", Pixels: px, Label: label})
	}
	set, err := dataset.NewSet([]int{8, 8, 3}, examples)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	return set
}

func TestLoopEarlyStopping(t *testing.T) {
	loop := &Loop{}
	hist, err := loop.Fit(context.Background(), buildSmall(t), syntheticSet(t, 6), syntheticSet(t, 2), FitConfig{
		Epochs:    10,
		BatchSize: 3,
		// Nothing can beat the first epoch by this margin.
		EarlyStopping: EarlyStopping{Monitor: "val_loss", Patience: 2, MinDelta: 1e9},
	})
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if hist.StopReason != StopEarlyStopping || len(hist.Epochs) != 3 || hist.BestEpoch != 1 {
		t.Fatalf("stop=%q epochs=%d best=%d", hist.StopReason, len(hist.Epochs), hist.BestEpoch)
	}
}

func TestLoopEarlyStoppingWithoutValidation(t *testing.T) {
	loop := &Loop{}
	hist, err := loop.Fit(context.Background(), buildSmall(t), syntheticSet(t, 4), nil, FitConfig{
		Epochs:        5,
		EarlyStopping: EarlyStopping{Monitor: "val_accuracy", Patience: 1, MinDelta: 2},
	})
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if hist.StopReason != StopEarlyStopping || len(hist.Epochs) != 2 {
		t.Fatalf("stop=%q epochs=%d", hist.StopReason, len(hist.Epochs))
	}
	if hist.Epochs[0].HasVal {
		t.Fatal("no validation set was given")
	}
}

func TestLoopCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var end Event
	loop := &Loop{Reporter: ReporterFunc(func(ev Event) {
		if ev.Kind == EventTrainEnd {
			end = ev
		}
	})}
	hist, err := loop.Fit(ctx, buildSmall(t), syntheticSet(t, 4), nil, FitConfig{Epochs: 3})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if hist.StopReason != StopCancelled || len(hist.Epochs) != 0 {
		t.Fatalf("stop=%q epochs=%d", hist.StopReason, len(hist.Epochs))
	}
	if end.StopReason != StopCancelled {
		t.Fatalf("train_end event %+v", end)
	}
}

func TestLoopValidationFailureStopsAsFailed(t *testing.T) {
	val, err := dataset.NewSet([]int{4, 4, 3}, []dataset.Example{{Key: "v", Pixels: make([]float32, 4*4*3), Label: 1}})
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	var end Event
	loop := &Loop{Reporter: ReporterFunc(func(ev Event) {
		if ev.Kind == EventTrainEnd {
			end = ev
		}
	})}
	hist, err := loop.Fit(context.Background(), buildSmall(t), syntheticSet(t, 4), val, FitConfig{Epochs: 3})
	if err == nil {
		t.Fatal("expected a validation error")
	}
	if hist.StopReason != StopFailed || len(hist.Epochs) != 0 {
		t.Fatalf("stop=%q epochs=%d", hist.StopReason, len(hist.Epochs))
	}
	if end.StopReason != StopFailed {
		t.Fatalf("train_end event %+v", end)
	}
}

func TestLoopRejectsEmptyOrUncompiled(t *testing.T) {
	loop := &Loop{}
	if _, err := loop.Fit(context.Background(), buildSmall(t), nil, nil, FitConfig{}); !errors.Is(err, dataset.ErrNoImages) {
		t.Fatalf("expected ErrNoImages, got %v", err)
	}
	raw := nn.NewSequential(1).Add(nn.Flatten().Build()).Add(nn.Dense(1).Build())
	if err := raw.Build([]int{8, 8, 3}); err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := loop.Fit(context.Background(), raw, syntheticSet(t, 2), nil, FitConfig{}); !errors.Is(err, nn.ErrNotCompiled) {
		t.Fatalf("expected ErrNotCompiled, got %v", err)
	}
}

func TestImproved(t *testing.T) {
	if !improved("val_loss", 0.4, 0.5, 0.05) || improved("val_loss", 0.46, 0.5, 0.05) {
		t.Fatal("loss monitors are minimised")
	}
	if !improved("accuracy", 0.8, 0.7, 0) || improved("accuracy", 0.7, 0.7, 0) {
		t.Fatal("accuracy monitors are maximised")
	}
}
