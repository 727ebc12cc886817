package model

import (
	"strings"
	"testing"
)

func TestDefaultArchBuild(t *testing.T) {
	net, err := Build(DefaultArch())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	layers := net.Layers()
	if len(layers) != 10 {
		t.Fatalf("expected 10 layers, got %d", len(layers))
	}
	wantKinds := []string{
		"conv2d", "max_pool2d", "conv2d", "max_pool2d", "conv2d", "max_pool2d",
		"flatten", "dense", "dropout", "dense",
	}
	for i, kind := range wantKinds {
		if layers[i].Kind != kind {
			t.Fatalf("layer %d is %s, want %s", i, layers[i].Kind, kind)
		}
	}
	if got := net.InputShape(); len(got) != 3 || got[0] != 224 || got[1] != 224 || got[2] != 3 {
		t.Fatalf("input shape %v", got)
	}
	if got := layers[6].OutputShape; len(got) != 1 || got[0] != 26*26*128 {
		t.Fatalf("flatten output %v", got)
	}
	last := layers[9]
	if last.Units != 1 || last.Activation != "sigmoid" {
		t.Fatalf("output layer %+v", last)
	}
	if layers[8].Rate != 0.5 {
		t.Fatalf("dropout rate %v", layers[8].Rate)
	}
	if net.LossName() != "binary_crossentropy" {
		t.Fatalf("loss %q", net.LossName())
	}
	if net.OptimizerName() != "adam" {
		t.Fatalf("optimizer %q", net.OptimizerName())
	}
	if names := net.MetricNames(); len(names) != 1 || names[0] != "accuracy" {
		t.Fatalf("metrics %v", names)
	}
	if n := net.ParamCount(); n != 44396609 {
		t.Fatalf("param count %d", n)
	}
}

func smallArch() Arch {
	a := DefaultArch()
	a.InputShape = []int{8, 8, 3}
	a.ConvBlocks = []ConvBlock{{Filters: 2, Kernel: 3, Activation: "relu", Pool: 2}}
	a.DenseUnits = 4
	return a
}

func TestBuildSmallArch(t *testing.T) {
	net, err := Build(smallArch())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(net.Layers()) != 6 {
		t.Fatalf("expected 6 layers, got %d", len(net.Layers()))
	}
	// conv 3*3*3*2+2, dense 3*3*2*4+4, out 4+1
	if n := net.ParamCount(); n != 56+76+5 {
		t.Fatalf("param count %d", n)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Arch)
		want   string
	}{
		{"input rank", func(a *Arch) { a.InputShape = []int{224, 224} }, "input shape"},
		{"zero filters", func(a *Arch) { a.ConvBlocks[0].Filters = 0 }, "conv block 0"},
		{"activation", func(a *Arch) { a.ConvBlocks[1].Activation = "tanh" }, "unknown activation"},
		{"dropout", func(a *Arch) { a.DropoutRate = 1 }, "dropout rate"},
		{"output", func(a *Arch) { a.OutputUnits = 0 }, "output units"},
		{"optimizer", func(a *Arch) { a.Optimizer.Name = "sgd" }, "unknown optimizer"},
		{"loss", func(a *Arch) { a.Loss = "mse" }, "unknown loss"},
		{"metric", func(a *Arch) { a.Metrics = []string{"auc"} }, "unknown metric"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := DefaultArch()
			tt.mutate(&a)
			err := a.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestBuildFailsWhenPoolingShrinksTooFar(t *testing.T) {
	a := smallArch()
	a.ConvBlocks = append(a.ConvBlocks, ConvBlock{Filters: 2, Kernel: 3, Activation: "relu", Pool: 2})
	if _, err := Build(a); err == nil {
		t.Fatal("expected build error for 3x3 kernel on 3x3 input after pooling")
	}
}
