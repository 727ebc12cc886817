package dataset

import (
	"errors"
	"reflect"
	"strconv"
	"testing"
)

func labelled(pos, neg int) []Example {
	var out []Example
	for i := 0; i < pos; i++ {
		out = append(out, Example{Key: "p" + strconv.Itoa(i), Pixels: []float32{1, 1}, Label: 1})
	}
	for i := 0; i < neg; i++ {
		out = append(out, Example{Key: "n" + strconv.Itoa(i), Pixels: []float32{0, 0}, Label: 0})
	}
	return out
}

func keys(s *Set) []string {
	out := make([]string, s.Len())
	for i, ex := range s.Examples {
		out[i] = ex.Key
	}
	return out
}

func TestSplitSamplesStratified(t *testing.T) {
	split, err := SplitSamples(labelled(10, 30), []int{2}, 0.2, 5)
	if err != nil {
		t.Fatalf("SplitSamples: %v", err)
	}
	if split.Train.Len() != 32 || split.Val.Len() != 8 {
		t.Fatalf("sizes train=%d val=%d", split.Train.Len(), split.Val.Len())
	}
	if split.Val.Positives() != 2 || split.Train.Positives() != 8 {
		t.Fatalf("positives train=%d val=%d", split.Train.Positives(), split.Val.Positives())
	}
}

func TestSplitSamplesDeterministic(t *testing.T) {
	a, err := SplitSamples(labelled(6, 6), []int{2}, 0.25, 9)
	if err != nil {
		t.Fatalf("SplitSamples: %v", err)
	}
	b, _ := SplitSamples(labelled(6, 6), []int{2}, 0.25, 9)
	if !reflect.DeepEqual(keys(a.Train), keys(b.Train)) || !reflect.DeepEqual(keys(a.Val), keys(b.Val)) {
		t.Fatal("same seed produced different splits")
	}
}

func TestSplitSamplesKeepsSingletonInTrain(t *testing.T) {
	split, err := SplitSamples(labelled(1, 4), []int{2}, 0.5, 1)
	if err != nil {
		t.Fatalf("SplitSamples: %v", err)
	}
	if split.Train.Positives() != 1 {
		t.Fatalf("the only positive must stay in train, got %d", split.Train.Positives())
	}
}

func TestSplitSamplesErrors(t *testing.T) {
	if _, err := SplitSamples(nil, []int{2}, 0.2, 1); !errors.Is(err, ErrNoImages) {
		t.Fatalf("expected ErrNoImages, got %v", err)
	}
	if _, err := SplitSamples(labelled(2, 2), []int{2}, 1, 1); err == nil {
		t.Fatal("expected error for fraction 1")
	}
	if _, err := SplitSamples(labelled(2, 2), []int{3}, 0.2, 1); err == nil {
		t.Fatal("expected error for pixel count mismatch")
	}
}

func TestSetBatch(t *testing.T) {
	set, err := NewSet([]int{2}, labelled(1, 2))
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	inputs, targets := set.Batch([]int{2, 0})
	if len(inputs) != 2 || targets[0][0] != 0 || targets[1][0] != 1 {
		t.Fatalf("unexpected batch %v %v", inputs, targets)
	}
	var empty *Set
	if empty.Len() != 0 || empty.Positives() != 0 {
		t.Fatal("nil set must be empty")
	}
}
