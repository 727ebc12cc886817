package config

import (
	"io"
	"os"
	"runtime"
	"time"

	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v2"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	DataDir         string        `yaml:"data_dir"`
	ShardRoots      []string      `yaml:"shard_roots"`
	ModelPath       string        `yaml:"model_path"`
	Epochs          int           `yaml:"epochs"`
	BatchSize       int           `yaml:"batch_size"`
	ValidationSplit float64       `yaml:"validation_split"`
	Seed            int64         `yaml:"seed"`
	NumWorkers      int           `yaml:"num_workers"`
	LogEvery        int           `yaml:"log_every"`
	LearningRate    float64       `yaml:"learning_rate"`
	CacheSize       int           `yaml:"cache_size"`
	MaxSamples      int           `yaml:"max_samples"`
	EarlyStopping   EarlyStopping `yaml:"early_stopping"`
	RunDB           string        `yaml:"run_db"`
	ProgressAddr    string        `yaml:"progress_addr"`
	Watch           bool          `yaml:"watch"`
	WatchDebounce   time.Duration `yaml:"watch_debounce"`
	Log             Log           `yaml:"log"`
}

// EarlyStopping stops training once Monitor has not improved by MinDelta
// for Patience epochs.
type EarlyStopping struct {
	Enabled  bool    `yaml:"enabled"`
	Monitor  string  `yaml:"monitor"`
	Patience int     `yaml:"patience"`
	MinDelta float64 `yaml:"min_delta"`
}

// Log configures the process logger. File output is rotated.
type Log struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	DataDir      string
	ShardRoots   []string
	ModelPath    string
	Epochs       int
	BatchSize    int
	NumWorkers   int
	Seed         int64
	LogLevel     string
	ProgressAddr string
	RunDB        string
	Watch        bool
}

// DefaultWorkers is the number of physical cores, falling back to the
// logical CPU count when the CPU cannot be identified.
func DefaultWorkers() int {
	if n := cpuid.CPU.PhysicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		ModelPath:       "models/kill_feed_detector.model",
		Epochs:          50,
		BatchSize:       32,
		ValidationSplit: 0.2,
		Seed:            42,
		NumWorkers:      DefaultWorkers(),
		LogEvery:        10,
		LearningRate:    0.001,
		CacheSize:       512,
		EarlyStopping: EarlyStopping{
			Monitor:  "val_loss",
			Patience: 5,
		},
		WatchDebounce: 5 * time.Second,
		Log: Log{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads a YAML file over the defaults and checks each value. Checks
// spanning several keys wait for Validate, after CLI overrides. An empty
// path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.checkFields()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.SetStrict(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "parse config")
	}

	if err := cfg.checkFields(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override. A data source
// given on its own replaces the one from the file.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.DataDir != "" {
		c.DataDir = o.DataDir
		if len(o.ShardRoots) == 0 {
			c.ShardRoots = nil
		}
	}
	if len(o.ShardRoots) > 0 {
		c.ShardRoots = append([]string(nil), o.ShardRoots...)
		if o.DataDir == "" {
			c.DataDir = ""
		}
	}
	if o.ModelPath != "" {
		c.ModelPath = o.ModelPath
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.LogLevel != "" {
		c.Log.Level = o.LogLevel
	}
	if o.ProgressAddr != "" {
		c.ProgressAddr = o.ProgressAddr
	}
	if o.RunDB != "" {
		c.RunDB = o.RunDB
	}
	if o.Watch {
		c.Watch = true
	}
}

// HasData reports whether a dataset is configured. Without one the CLI only
// builds the model.
func (c *Config) HasData() bool {
	return c.DataDir != "" || len(c.ShardRoots) > 0
}

// Validate verifies the config is runnable and fills derived defaults.
func (c *Config) Validate() error {
	if err := c.checkFields(); err != nil {
		return err
	}
	if c.DataDir != "" && len(c.ShardRoots) > 0 {
		return errors.New("data_dir and shard_roots are mutually exclusive")
	}
	if c.Watch && c.DataDir == "" {
		return errors.New("watch requires data_dir")
	}
	return nil
}

func (c *Config) checkFields() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.ModelPath == "" {
		return errors.New("model_path must be set")
	}
	if c.Epochs < 0 {
		return errors.Errorf("epochs must be >= 0 (got %d)", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.ValidationSplit < 0 || c.ValidationSplit >= 1 {
		return errors.Errorf("validation_split must be in [0, 1) (got %g)", c.ValidationSplit)
	}
	if c.NumWorkers < 0 {
		return errors.Errorf("num_workers must be >= 0 (got %d)", c.NumWorkers)
	}
	if c.NumWorkers == 0 {
		c.NumWorkers = DefaultWorkers()
	}
	if c.LearningRate <= 0 {
		return errors.Errorf("learning_rate must be > 0 (got %g)", c.LearningRate)
	}
	if c.CacheSize < 0 {
		return errors.Errorf("cache_size must be >= 0 (got %d)", c.CacheSize)
	}
	if c.MaxSamples < 0 {
		return errors.Errorf("max_samples must be >= 0 (got %d)", c.MaxSamples)
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 10
	}
	if es := c.EarlyStopping; es.Enabled {
		switch es.Monitor {
		case "loss", "accuracy", "val_loss", "val_accuracy":
		default:
			return errors.Errorf("early_stopping.monitor %q is not a tracked metric", es.Monitor)
		}
		if es.Patience <= 0 {
			return errors.Errorf("early_stopping.patience must be > 0 (got %d)", es.Patience)
		}
	}
	if c.WatchDebounce <= 0 {
		c.WatchDebounce = 5 * time.Second
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return errors.Errorf("log.format must be json or console (got %q)", c.Log.Format)
	}
	return nil
}
