// Package config holds the tunables of a shapevm runtime: heap budget, shape
// graph limits, inline cache width and the inlining compiler's thresholds.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// MaxPolymorphicEntries is the widest property cache a site can hold.
const MaxPolymorphicEntries = 4

// Config is the root configuration document.
type Config struct {
	Heap   HeapConfig   `toml:"heap" yaml:"heap"`
	Shapes ShapeConfig  `toml:"shapes" yaml:"shapes"`
	Cache  CacheConfig  `toml:"cache" yaml:"cache"`
	Inline InlineConfig `toml:"inline" yaml:"inline"`
	Log    LogConfig    `toml:"log" yaml:"log"`
}

// HeapConfig controls the collector's allocation budget.
type HeapConfig struct {
	// InitialBudget is the accounted heap size that triggers the first collection.
	InitialBudget ByteSize `toml:"initial_budget" yaml:"initial_budget"`
	// Limit is the hard ceiling; exceeding it after a full collection is fatal.
	Limit ByteSize `toml:"limit" yaml:"limit"`
	// GrowthFactor scales the live size to compute the next threshold.
	GrowthFactor float64 `toml:"growth_factor" yaml:"growth_factor"`
	// MinHeadroom is the smallest gap left between live bytes and the next threshold.
	MinHeadroom ByteSize `toml:"min_headroom" yaml:"min_headroom"`
}

// ShapeConfig bounds the transition graph.
type ShapeConfig struct {
	// DictionaryThreshold is the property count above which an object leaves
	// the shape graph and switches to dictionary mode.
	DictionaryThreshold int `toml:"dictionary_threshold" yaml:"dictionary_threshold"`
}

// CacheConfig controls inline caches.
type CacheConfig struct {
	// MaxPolymorphic is the number of shapes a property site remembers before
	// going megamorphic. 1 means a single entry overwritten on every miss.
	MaxPolymorphic int `toml:"max_polymorphic" yaml:"max_polymorphic"`
}

// InlineConfig controls call-site promotion.
type InlineConfig struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
	// HotThreshold is how many consecutive calls with the same callee promote a site.
	HotThreshold int `toml:"hot_threshold" yaml:"hot_threshold"`
	// MaxCalleeSize is the largest Code.Size that will be inlined.
	MaxCalleeSize int `toml:"max_callee_size" yaml:"max_callee_size"`
	// MaxDeopts is how many invalidations a site tolerates before it stops compiling.
	MaxDeopts int `toml:"max_deopts" yaml:"max_deopts"`
	// Exclude is an ECMAScript regular expression; callees whose name matches are never inlined.
	Exclude string `toml:"exclude" yaml:"exclude"`
}

// LogConfig is consumed by the command-line driver.
type LogConfig struct {
	Verbosity int    `toml:"verbosity" yaml:"verbosity"`
	Path      string `toml:"path" yaml:"path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Heap: HeapConfig{
			InitialBudget: 4 * humanize.MiByte,
			Limit:         512 * humanize.MiByte,
			GrowthFactor:  2.0,
			MinHeadroom:   256 * humanize.KiByte,
		},
		Shapes: ShapeConfig{
			DictionaryThreshold: 64,
		},
		Cache: CacheConfig{
			MaxPolymorphic: MaxPolymorphicEntries,
		},
		Inline: InlineConfig{
			Enabled:       true,
			HotThreshold:  8,
			MaxCalleeSize: 64,
			MaxDeopts:     3,
		},
	}
}

// Load reads a configuration file on top of the defaults. The format is
// chosen by extension: .toml, .yaml or .yml.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from SHAPEVM_* environment variables.
func (c *Config) ApplyEnv() {
	c.Heap.InitialBudget = getEnvBytes("SHAPEVM_HEAP_INITIAL", c.Heap.InitialBudget)
	c.Heap.Limit = getEnvBytes("SHAPEVM_HEAP_LIMIT", c.Heap.Limit)
	c.Shapes.DictionaryThreshold = getEnvInt("SHAPEVM_DICT_THRESHOLD", c.Shapes.DictionaryThreshold)
	c.Cache.MaxPolymorphic = getEnvInt("SHAPEVM_MAX_POLY_ENTRIES", c.Cache.MaxPolymorphic)
	c.Inline.Enabled = getEnvBool("SHAPEVM_INLINE", c.Inline.Enabled)
	c.Inline.HotThreshold = getEnvInt("SHAPEVM_INLINE_HOT", c.Inline.HotThreshold)
	c.Log.Verbosity = getEnvInt("SHAPEVM_LOG_VERBOSITY", c.Log.Verbosity)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch {
	case c.Heap.GrowthFactor < 1:
		return fmt.Errorf("heap.growth_factor must be >= 1, got %v", c.Heap.GrowthFactor)
	case c.Heap.Limit != 0 && c.Heap.InitialBudget > c.Heap.Limit:
		return fmt.Errorf("heap.initial_budget (%s) exceeds heap.limit (%s)", c.Heap.InitialBudget, c.Heap.Limit)
	case c.Shapes.DictionaryThreshold < 1:
		return fmt.Errorf("shapes.dictionary_threshold must be positive, got %d", c.Shapes.DictionaryThreshold)
	case c.Cache.MaxPolymorphic < 1 || c.Cache.MaxPolymorphic > MaxPolymorphicEntries:
		return fmt.Errorf("cache.max_polymorphic must be in 1..%d, got %d", MaxPolymorphicEntries, c.Cache.MaxPolymorphic)
	case c.Inline.HotThreshold < 1:
		return fmt.Errorf("inline.hot_threshold must be positive, got %d", c.Inline.HotThreshold)
	case c.Inline.MaxDeopts < 0:
		return fmt.Errorf("inline.max_deopts must not be negative, got %d", c.Inline.MaxDeopts)
	}
	return nil
}

// getEnvBool reads a boolean environment variable with a default value
func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvInt reads an integer environment variable with a default value
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBytes(key string, defaultVal ByteSize) ByteSize {
	if val := os.Getenv(key); val != "" {
		if n, err := humanize.ParseBytes(val); err == nil {
			return ByteSize(n)
		}
	}
	return defaultVal
}
