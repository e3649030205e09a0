package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/robert-at-pretension-io/fabricdb/internal/policy"
)

// Config is the top-level configuration for fabricdb
type Config struct {
	// Family names the chip family every device must belong to
	Family string `json:"family" yaml:"family"`

	// Architecture is the interconnect template (JSON or YAML)
	Architecture string `json:"architecture" yaml:"architecture"`

	// Bits lists bit-level data files merged into the family bits model
	Bits []string `json:"bits,omitempty" yaml:"bits,omitempty"`

	// Devices lists geometry files (glob patterns) and their captures
	Devices []DeviceEntry `json:"devices" yaml:"devices"`

	// Select restricts the build to devices whose name matches a pattern
	Select []string `json:"select,omitempty" yaml:"select,omitempty"`

	// Layout maps tile class names to their configuration bit layout
	Layout map[string]ColumnLayout `json:"layout,omitempty" yaml:"layout,omitempty"`

	// Output controls where build artifacts are written
	Output OutputConfig `json:"output,omitempty" yaml:"output,omitempty"`

	// Verify contains verification and triage configuration
	Verify VerifyConfig `json:"verify,omitempty" yaml:"verify,omitempty"`

	// Analysis contains pipeline options
	Analysis AnalysisConfig `json:"analysis,omitempty" yaml:"analysis,omitempty"`
}

// DeviceEntry names geometry files and where their ground truth lives
type DeviceEntry struct {
	// Geometry is a glob pattern for device geometry files; ** crosses
	// directories. The file stem is the device name.
	Geometry string `json:"geometry" yaml:"geometry"`

	// Captures is a directory holding <device>.json ground truth.
	// Devices without a capture are built but not verified.
	Captures string `json:"captures,omitempty" yaml:"captures,omitempty"`
}

// ColumnLayout places a tile's bits in a frame-major device bitstream:
// the tile at (col, row) owns Frames frames starting at col*FramesPerCol
// and Bits bits starting at row*BitsPerRow. Horizontal and the flips set
// the orientation of the rectangle.
type ColumnLayout struct {
	FramesPerCol int  `json:"framesPerCol" yaml:"framesPerCol"`
	BitsPerRow   int  `json:"bitsPerRow" yaml:"bitsPerRow"`
	Frames       int  `json:"frames" yaml:"frames"`
	Bits         int  `json:"bits" yaml:"bits"`
	Horizontal   bool `json:"horizontal,omitempty" yaml:"horizontal,omitempty"`
	FlipFrames   bool `json:"flipFrames,omitempty" yaml:"flipFrames,omitempty"`
	FlipBits     bool `json:"flipBits,omitempty" yaml:"flipBits,omitempty"`
}

// OutputConfig controls build artifacts
type OutputConfig struct {
	// Dir is the output directory (relative to project root if not absolute)
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`

	// Database is the container file name inside Dir
	Database string `json:"database,omitempty" yaml:"database,omitempty"`

	// Metrics is the Prometheus textfile name inside Dir ("" disables it)
	Metrics string `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// VerifyConfig contains verification and triage configuration
type VerifyConfig struct {
	// Rules maps mismatch kinds to severity: "off", "info", "warning", "error"
	Rules map[string]string `json:"rules,omitempty" yaml:"rules,omitempty"`

	// IgnoreSiteKinds lists captured site kinds the model does not describe
	IgnoreSiteKinds []string `json:"ignoreSiteKinds,omitempty" yaml:"ignoreSiteKinds,omitempty"`

	// IgnoreTilePrefixes lists captured tile name prefixes to skip
	IgnoreTilePrefixes []string `json:"ignoreTilePrefixes,omitempty" yaml:"ignoreTilePrefixes,omitempty"`

	// IgnoreLocations lists mismatch location prefixes dropped by triage
	IgnoreLocations []string `json:"ignoreLocations,omitempty" yaml:"ignoreLocations,omitempty"`

	// SkipResidual disables unclaimed pip and node reporting
	SkipResidual bool `json:"skipResidual,omitempty" yaml:"skipResidual,omitempty"`

	// PolicyDir holds extra .rego modules added to the triage rules
	PolicyDir string `json:"policyDir,omitempty" yaml:"policyDir,omitempty"`
}

// CacheConfig controls the verification report cache
type CacheConfig struct {
	// Enabled turns on cache usage
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`

	// Dir is the cache directory (relative to project root if not absolute)
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// AnalysisConfig contains pipeline options
type AnalysisConfig struct {
	// Parallelism limits concurrent device processing (0 = auto)
	Parallelism int `json:"parallelism,omitempty" yaml:"parallelism,omitempty"`

	// Cache controls the verification report cache
	Cache CacheConfig `json:"cache,omitempty" yaml:"cache,omitempty"`
}

const (
	defaultOutputDir = "build"
	defaultDatabase  = "fabric.fdb"
	defaultMetrics   = "fabricdb.prom"
	defaultCacheDir  = ".fabricdb_cache"
)

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Architecture: "arch.yaml",
		Devices: []DeviceEntry{
			{Geometry: "devices/*.yaml", Captures: "captures"},
		},
		Output: OutputConfig{
			Dir:      defaultOutputDir,
			Database: defaultDatabase,
			Metrics:  defaultMetrics,
		},
		Verify: VerifyConfig{
			Rules: map[string]string{},
		},
		Analysis: AnalysisConfig{
			Parallelism: 0, // auto
			Cache: CacheConfig{
				Enabled: boolPtr(true),
				Dir:     defaultCacheDir,
			},
		},
	}
}

func boolPtr(v bool) *bool {
	return &v
}

// Load finds and loads the configuration file
// Search order:
//  1. ./fabricdb.json (current working directory)
//  2. ./fabricdb.yaml (current working directory)
//  3. <rootPath>/fabricdb.json, <rootPath>/fabricdb.yaml (if different from cwd)
//  4. ~/.config/fabricdb/config.json
//
// Returns DefaultConfig if no config file is found
func Load(rootPath string) (*Config, error) {
	cwd, _ := os.Getwd()

	searchPaths := []string{
		filepath.Join(cwd, "fabricdb.json"),
		filepath.Join(cwd, "fabricdb.yaml"),
	}

	if info, err := os.Stat(rootPath); err == nil && info.IsDir() {
		absRoot, _ := filepath.Abs(rootPath)
		if absRoot != cwd {
			searchPaths = append(searchPaths,
				filepath.Join(rootPath, "fabricdb.json"),
				filepath.Join(rootPath, "fabricdb.yaml"),
			)
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", "fabricdb", "config.json"))
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}

	return DefaultConfig(), nil
}

// LoadFile loads configuration from a specific file. Files ending in
// .yaml or .yml are YAML, everything else JSON.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &cfg, nil
}

// applyDefaults fills in missing configuration with defaults
func (c *Config) applyDefaults() {
	if c.Output.Dir == "" {
		c.Output.Dir = defaultOutputDir
	}
	if c.Output.Database == "" {
		c.Output.Database = defaultDatabase
	}
	if c.Verify.Rules == nil {
		c.Verify.Rules = make(map[string]string)
	}
	if c.Analysis.Cache.Dir == "" {
		c.Analysis.Cache.Dir = defaultCacheDir
	}
	if c.Analysis.Cache.Enabled == nil {
		c.Analysis.Cache.Enabled = boolPtr(true)
	}
}

// Validate checks values the pipeline cannot recover from.
func (c *Config) Validate() error {
	if c.Architecture == "" {
		return fmt.Errorf("config: architecture is required")
	}
	if len(c.Devices) == 0 {
		return fmt.Errorf("config: at least one device entry is required")
	}
	for i, d := range c.Devices {
		if d.Geometry == "" {
			return fmt.Errorf("config: devices[%d]: geometry pattern is required", i)
		}
	}
	rules := make([]string, 0, len(c.Verify.Rules))
	for r := range c.Verify.Rules {
		rules = append(rules, r)
	}
	sort.Strings(rules)
	for _, r := range rules {
		if !policy.ValidSeverity(c.Verify.Rules[r]) {
			return fmt.Errorf("config: rule %s: unknown severity %q", r, c.Verify.Rules[r])
		}
	}
	for class, l := range c.Layout {
		if l.Frames <= 0 || l.Bits <= 0 {
			return fmt.Errorf("config: layout %s: frames and bits must be positive", class)
		}
	}
	if c.Analysis.Parallelism < 0 {
		return fmt.Errorf("config: parallelism must not be negative")
	}
	return nil
}

// Save writes the configuration to a file, as YAML when the name ends in
// .yaml or .yml and JSON otherwise.
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// CacheEnabled reports whether the report cache is on.
func (c *Config) CacheEnabled() bool {
	return c.Analysis.Cache.Enabled == nil || *c.Analysis.Cache.Enabled
}

// Resolve returns path made absolute against rootPath.
func Resolve(rootPath, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootPath, path)
}
