package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Epochs != 50 || cfg.BatchSize != 32 || cfg.ValidationSplit != 0.2 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.NumWorkers <= 0 {
		t.Fatalf("expected a positive worker default, got %d", cfg.NumWorkers)
	}
	if cfg.HasData() {
		t.Fatal("defaults must not configure a dataset")
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	path := writeConfig(t, `
data_dir: /data/frames
epochs: 5
batch_size: 8
watch: true
watch_debounce: 2s
early_stopping:
  enabled: true
  monitor: val_accuracy
  patience: 2
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != "/data/frames" || cfg.Epochs != 5 || cfg.BatchSize != 8 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.ValidationSplit != 0.2 || cfg.ModelPath == "" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if cfg.WatchDebounce != 2*time.Second {
		t.Fatalf("watch_debounce %v", cfg.WatchDebounce)
	}
	if !cfg.EarlyStopping.Enabled || cfg.EarlyStopping.Monitor != "val_accuracy" {
		t.Fatalf("early stopping %+v", cfg.EarlyStopping)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" || cfg.Log.MaxBackups != 3 {
		t.Fatalf("log %+v", cfg.Log)
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeConfig(t, "epochz: 3\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Epochs != 50 {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	cfg.ApplyOverrides(Overrides{
		DataDir:   "/frames",
		Epochs:    3,
		BatchSize: 4,
		Seed:      9,
		LogLevel:  "warn",
		Watch:     true,
	})
	if cfg.DataDir != "/frames" || cfg.Epochs != 3 || cfg.BatchSize != 4 || cfg.Seed != 9 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Log.Level != "warn" || !cfg.Watch {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.ValidationSplit != 0.2 {
		t.Fatal("zero override must keep existing value")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestBundledConfigWithShardOverride(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "killfeed.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir == "" {
		t.Fatal("bundled config is expected to set data_dir")
	}
	cfg.ApplyOverrides(Overrides{ShardRoots: []string{"/mnt/shards/a"}})
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate after shard override: %v", err)
	}
	if cfg.DataDir != "" || len(cfg.ShardRoots) != 1 {
		t.Fatalf("shard override must replace data_dir: %+v", cfg)
	}
}

func TestWatchConfigCompletedByDataOverride(t *testing.T) {
	path := writeConfig(t, `
shard_roots:
  - /mnt/shards/a
watch: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load must defer cross-key checks: %v", err)
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "watch requires data_dir") {
		t.Fatalf("expected watch error before override, got %v", err)
	}
	cfg.ApplyOverrides(Overrides{DataDir: "/data/frames"})
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate after -data override: %v", err)
	}
	if len(cfg.ShardRoots) != 0 {
		t.Fatalf("data override must replace shard_roots: %v", cfg.ShardRoots)
	}
}

func TestBothSourceOverridesStillConflict(t *testing.T) {
	cfg := Default()
	cfg.ApplyOverrides(Overrides{DataDir: "/frames", ShardRoots: []string{"/shards"}})
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestLoadStillChecksFieldValues(t *testing.T) {
	if _, err := Load(writeConfig(t, "batch_size: -1\n")); err == nil || !strings.Contains(err.Error(), "batch_size") {
		t.Fatalf("expected batch_size error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"both sources", func(c *Config) { c.DataDir = "a"; c.ShardRoots = []string{"b"} }, "mutually exclusive"},
		{"batch", func(c *Config) { c.BatchSize = 0 }, "batch_size"},
		{"split", func(c *Config) { c.ValidationSplit = 1 }, "validation_split"},
		{"epochs", func(c *Config) { c.Epochs = -1 }, "epochs"},
		{"lr", func(c *Config) { c.LearningRate = 0 }, "learning_rate"},
		{"max samples", func(c *Config) { c.MaxSamples = -1 }, "max_samples"},
		{"monitor", func(c *Config) { c.EarlyStopping = EarlyStopping{Enabled: true, Monitor: "auc", Patience: 1} }, "monitor"},
		{"patience", func(c *Config) { c.EarlyStopping = EarlyStopping{Enabled: true, Monitor: "loss"} }, "patience"},
		{"watch", func(c *Config) { c.Watch = true }, "watch requires data_dir"},
		{"level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateFillsDerivedDefaults(t *testing.T) {
	cfg := Default()
	cfg.NumWorkers = 0
	cfg.LogEvery = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.NumWorkers != DefaultWorkers() || cfg.LogEvery != 10 {
		t.Fatalf("derived defaults not filled: workers=%d log_every=%d", cfg.NumWorkers, cfg.LogEvery)
	}
}
