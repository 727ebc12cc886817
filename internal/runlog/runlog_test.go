package runlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestRecordAndList(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first, err := store.Record(ctx, Run{
		DataDir:         "/frames",
		EpochsRequested: 50,
		EpochsRun:       12,
		TrainSamples:    80,
		ValSamples:      20,
		ValAccuracy:     0.9,
		Trained:         true,
		StopReason:      "early_stopping",
		StartedAt:       base,
		FinishedAt:      base.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(first) != 36 {
		t.Fatalf("expected a uuid, got %q", first)
	}
	second, err := store.Record(ctx, Run{StopReason: "no_data", StartedAt: base.Add(time.Hour), FinishedAt: base.Add(time.Hour)})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	runs, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != second || runs[1].ID != first {
		t.Fatalf("runs not ordered newest first: %v", runs)
	}
	got := runs[1]
	if !got.Trained || got.EpochsRun != 12 || got.ValAccuracy != 0.9 || got.StopReason != "early_stopping" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !got.StartedAt.Equal(base) {
		t.Fatalf("started_at %v want %v", got.StartedAt, base)
	}

	limited, err := store.List(ctx, 1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 run, got %d", len(limited))
	}
}

func TestRecordReplacesSameID(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	id, err := store.Record(ctx, Run{StopReason: "running", StartedAt: time.Now()})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := store.Record(ctx, Run{ID: id, StopReason: "completed", Trained: true, StartedAt: time.Now()}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	runs, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 1 || runs[0].StopReason != "completed" || !runs[0].Trained {
		t.Fatalf("expected a single replaced run, got %+v", runs)
	}
}
