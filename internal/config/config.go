// Package config loads codedup settings from file, environment, and defaults.
package config

import (
	"errors"
	"fmt"

	"github.com/Sumatoshi-tech/codedup/pkg/engine"
)

// Default values applied when the config file and environment are silent.
const (
	DefaultStorePath       = ".codedup-index"
	DefaultSketchHashes    = engine.DefaultHashes
	DefaultSketchBands     = engine.DefaultBands
	DefaultSketchRows      = engine.DefaultRowsPerBand
	DefaultSketchSeed      = engine.DefaultSeed
	DefaultSimilarityFloor = engine.DefaultSimilarityFloor
	DefaultMaxBucketSize   = engine.DefaultMaxBucketSize
	DefaultGranularity     = "file"
)

// Config is the top-level configuration struct for codedup.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Store   StoreConfig   `mapstructure:"store"`
	Sketch  SketchConfig  `mapstructure:"sketch"`
	Query   QueryConfig   `mapstructure:"query"`
	Report  ReportConfig  `mapstructure:"report"`
	Walk    WalkConfig    `mapstructure:"walk"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// StoreConfig locates the index database.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// SketchConfig holds the Weighted MinHash and banding parameters. Changing
// any of them invalidates an existing index.
type SketchConfig struct {
	Hashes      int    `mapstructure:"hashes"`
	Bands       int    `mapstructure:"bands"`
	RowsPerBand int    `mapstructure:"rows_per_band"`
	Seed        uint64 `mapstructure:"seed"`
	Workers     int    `mapstructure:"workers"`
}

// QueryConfig holds the read-path knobs shared by query and report.
type QueryConfig struct {
	SimilarityFloor float64 `mapstructure:"similarity_floor"`
	Granularity     string  `mapstructure:"granularity"`
}

// ReportConfig holds report-only knobs.
type ReportConfig struct {
	MaxBucketSize int  `mapstructure:"max_bucket_size"`
	PostFilter    bool `mapstructure:"post_filter"`
}

// WalkConfig holds corpus walk filtering.
type WalkConfig struct {
	IncludeVendored bool `mapstructure:"include_vendored"`
}

// MetricsConfig enables the Prometheus scrape endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Validation errors.
var (
	ErrStorePathEmpty  = errors.New("config: store.path must not be empty")
	ErrBandMismatch    = errors.New("config: sketch.hashes must equal sketch.bands * sketch.rows_per_band")
	ErrFloorOutOfRange = errors.New("config: query.similarity_floor must be in [0, 1]")
	ErrBucketSize      = errors.New("config: report.max_bucket_size must be positive")
)

// Validate checks cross-field invariants.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return ErrStorePathEmpty
	}

	if c.Sketch.Hashes != c.Sketch.Bands*c.Sketch.RowsPerBand {
		return fmt.Errorf("%w: K=%d, B=%d, R=%d",
			ErrBandMismatch, c.Sketch.Hashes, c.Sketch.Bands, c.Sketch.RowsPerBand)
	}

	if c.Query.SimilarityFloor < 0 || c.Query.SimilarityFloor > 1 {
		return fmt.Errorf("%w: got %v", ErrFloorOutOfRange, c.Query.SimilarityFloor)
	}

	if c.Report.MaxBucketSize <= 0 {
		return fmt.Errorf("%w: got %d", ErrBucketSize, c.Report.MaxBucketSize)
	}

	if _, err := engine.ParseGranularity(c.Query.Granularity); err != nil {
		return err
	}

	return nil
}

// EngineOptions maps the configuration onto engine options.
func (c *Config) EngineOptions() (engine.Options, error) {
	granularity, err := engine.ParseGranularity(c.Query.Granularity)
	if err != nil {
		return engine.Options{}, err
	}

	return engine.Options{
		Hashes:          c.Sketch.Hashes,
		Bands:           c.Sketch.Bands,
		RowsPerBand:     c.Sketch.RowsPerBand,
		Seed:            c.Sketch.Seed,
		Workers:         c.Sketch.Workers,
		SimilarityFloor: c.Query.SimilarityFloor,
		MaxBucketSize:   c.Report.MaxBucketSize,
		Granularity:     granularity,
		IncludeVendored: c.Walk.IncludeVendored,
		PostFilter:      c.Report.PostFilter,
	}, nil
}
