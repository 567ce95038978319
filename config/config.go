// Package config reads heap and collector tuning from a TOML or YAML file.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/regvm/vmheap/gc"
	"github.com/regvm/vmheap/heap"
	"github.com/regvm/vmheap/stack"
	"gopkg.in/yaml.v2"
)

// Config is the root of a tuning file. Every field is optional; omitted fields keep the package defaults.
type Config struct {
	Heap      Heap      `toml:"heap" yaml:"heap"`
	Collector Collector `toml:"collector" yaml:"collector"`
	Thread    Thread    `toml:"thread" yaml:"thread"`
}

type Heap struct {
	MaxPages               int  `toml:"max-pages" yaml:"max-pages"`
	MinorPageBudget        int  `toml:"minor-page-budget" yaml:"minor-page-budget"`
	ExternallySynchronized bool `toml:"externally-synchronized" yaml:"externally-synchronized"`
}

type Collector struct {
	PromotionThreshold     int     `toml:"promotion-threshold" yaml:"promotion-threshold"`
	MinorTriggerRatio      float64 `toml:"minor-trigger-ratio" yaml:"minor-trigger-ratio"`
	MajorGrowthRatio       float64 `toml:"major-growth-ratio" yaml:"major-growth-ratio"`
	StepBudget             int     `toml:"step-budget" yaml:"step-budget"`
	StepBytes              int     `toml:"step-bytes" yaml:"step-bytes"`
	ExternallySynchronized bool    `toml:"externally-synchronized" yaml:"externally-synchronized"`
}

type Thread struct {
	Registers      int `toml:"registers" yaml:"registers"`
	AutoChunkPages int `toml:"auto-chunk-pages" yaml:"auto-chunk-pages"`
}

// Load parses the tuning file at path. Files ending in .yaml or .yml are read as YAML, anything else as TOML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read %s", path)
	}

	parse := Parse
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parse = ParseYAML
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse error in %s", path)
	}
	return cfg, nil
}

// Parse decodes a TOML tuning file. Keys it does not recognize are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	meta, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, err
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, errors.Newf("unknown keys: %s", strings.Join(keys, ", "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseYAML decodes a YAML tuning file with the same layout as the TOML one. Keys it does not recognize
// are rejected.
func ParseYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Heap.MaxPages < 0 || c.Heap.MinorPageBudget < 0 {
		return errors.New("heap page counts must not be negative")
	}
	if c.Thread.Registers < 0 || c.Thread.AutoChunkPages < 0 {
		return errors.New("thread sizes must not be negative")
	}
	return nil
}

func (c *Config) HeapOptions() heap.CreateOptions {
	options := heap.CreateOptions{
		MaxPages:        c.Heap.MaxPages,
		MinorPageBudget: c.Heap.MinorPageBudget,
	}
	if c.Heap.ExternallySynchronized {
		options.Flags |= heap.HeapCreateExternallySynchronized
	}
	return options
}

// CollectorOptions are not validated here: gc.New reports out-of-range values
func (c *Config) CollectorOptions() gc.Options {
	options := gc.Options{
		PromotionThreshold: c.Collector.PromotionThreshold,
		MinorTriggerRatio:  c.Collector.MinorTriggerRatio,
		MajorGrowthRatio:   c.Collector.MajorGrowthRatio,
		StepBudget:         c.Collector.StepBudget,
		StepBytes:          c.Collector.StepBytes,
	}
	if c.Collector.ExternallySynchronized {
		options.Flags |= gc.CollectorCreateExternallySynchronized
	}
	return options
}

func (c *Config) ThreadOptions() stack.ThreadOptions {
	return stack.ThreadOptions{
		Registers:      c.Thread.Registers,
		AutoChunkPages: c.Thread.AutoChunkPages,
	}
}
