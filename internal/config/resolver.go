// Package config resolves the clustering engine's tunables from layered
// sources — built-in defaults, an optional YAML file, environment
// variables, and explicit caller overrides — tagging each resolved value
// with where it came from.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ValueSource identifies which layer ultimately supplied a resolved value.
type ValueSource int

const (
	SourceDefault ValueSource = iota
	SourceFile
	SourceEnv
	SourceExplicit
)

func (s ValueSource) String() string {
	switch s {
	case SourceFile:
		return "file"
	case SourceEnv:
		return "env"
	case SourceExplicit:
		return "explicit"
	default:
		return "default"
	}
}

// ResolvedValue carries a resolved scalar plus its provenance.
type ResolvedValue struct {
	Value  float64
	Source ValueSource
	From   string
}

// Options holds the five clustering tunables of spec.md §6.
type Options struct {
	CosineThreshold  ResolvedValue
	MergeFraction    ResolvedValue
	MinObservations  ResolvedValue
	InitialChunkSize ResolvedValue
	SkipFraction     ResolvedValue
}

// fileConfig mirrors the subset of Options a YAML file may override.
type fileConfig struct {
	CosineThreshold  *float64 `yaml:"cosine_threshold"`
	MergeFraction    *float64 `yaml:"merge_fraction"`
	MinObservations  *float64 `yaml:"min_observations"`
	InitialChunkSize *float64 `yaml:"initial_chunk_size"`
	SkipFraction     *float64 `yaml:"skip_fraction"`
}

// Overrides carries explicit caller-supplied values, the highest-priority
// layer. A nil field means "not overridden".
type Overrides struct {
	CosineThreshold  *float64
	MergeFraction    *float64
	MinObservations  *float64
	InitialChunkSize *float64
	SkipFraction     *float64
}

// ResolveOptions layers defaults < configPath (if non-empty and present)
// < environment variables < overrides, returning provenance-tagged values.
func ResolveOptions(configPath string, overrides Overrides) (Options, error) {
	opts := Options{
		CosineThreshold:  ResolvedValue{Value: 0.65, Source: SourceDefault},
		MergeFraction:    ResolvedValue{Value: 0.3, Source: SourceDefault},
		MinObservations:  ResolvedValue{Value: 20, Source: SourceDefault},
		InitialChunkSize: ResolvedValue{Value: 20, Source: SourceDefault},
		SkipFraction:     ResolvedValue{Value: 0.35, Source: SourceDefault},
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			fc, err := loadFile(configPath)
			if err != nil {
				return Options{}, err
			}
			applyFile(&opts, fc, configPath)
		} else if !os.IsNotExist(err) {
			return Options{}, fmt.Errorf("config: checking %q: %w", configPath, err)
		}
	}

	applyEnv(&opts)
	applyOverrides(&opts, overrides)

	return opts, nil
}

func loadFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %q: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("config: parsing %q: %w", path, err)
	}
	return &fc, nil
}

func applyFile(opts *Options, fc *fileConfig, path string) {
	if fc.CosineThreshold != nil {
		opts.CosineThreshold = ResolvedValue{Value: *fc.CosineThreshold, Source: SourceFile, From: path}
	}
	if fc.MergeFraction != nil {
		opts.MergeFraction = ResolvedValue{Value: *fc.MergeFraction, Source: SourceFile, From: path}
	}
	if fc.MinObservations != nil {
		opts.MinObservations = ResolvedValue{Value: *fc.MinObservations, Source: SourceFile, From: path}
	}
	if fc.InitialChunkSize != nil {
		opts.InitialChunkSize = ResolvedValue{Value: *fc.InitialChunkSize, Source: SourceFile, From: path}
	}
	if fc.SkipFraction != nil {
		opts.SkipFraction = ResolvedValue{Value: *fc.SkipFraction, Source: SourceFile, From: path}
	}
}

func applyEnv(opts *Options) {
	setFromEnv("WORDCLASS_COSINE_THRESHOLD", &opts.CosineThreshold)
	setFromEnv("WORDCLASS_MERGE_FRACTION", &opts.MergeFraction)
	setFromEnv("WORDCLASS_MIN_OBSERVATIONS", &opts.MinObservations)
	setFromEnv("WORDCLASS_INITIAL_CHUNK_SIZE", &opts.InitialChunkSize)
	setFromEnv("WORDCLASS_SKIP_FRACTION", &opts.SkipFraction)
}

func setFromEnv(name string, dest *ResolvedValue) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return
	}
	*dest = ResolvedValue{Value: v, Source: SourceEnv, From: name}
}

func applyOverrides(opts *Options, ov Overrides) {
	if ov.CosineThreshold != nil {
		opts.CosineThreshold = ResolvedValue{Value: *ov.CosineThreshold, Source: SourceExplicit}
	}
	if ov.MergeFraction != nil {
		opts.MergeFraction = ResolvedValue{Value: *ov.MergeFraction, Source: SourceExplicit}
	}
	if ov.MinObservations != nil {
		opts.MinObservations = ResolvedValue{Value: *ov.MinObservations, Source: SourceExplicit}
	}
	if ov.InitialChunkSize != nil {
		opts.InitialChunkSize = ResolvedValue{Value: *ov.InitialChunkSize, Source: SourceExplicit}
	}
	if ov.SkipFraction != nil {
		opts.SkipFraction = ResolvedValue{Value: *ov.SkipFraction, Source: SourceExplicit}
	}
}

// DefaultConfigPath returns the conventional config file location,
// honoring WORDCLASS_CONFIG if set.
func DefaultConfigPath() string {
	if p := os.Getenv("WORDCLASS_CONFIG"); p != "" {
		return p
	}
	return "wordclass.yaml"
}
