// Package engine ties the pipeline together: it indexes corpora into a
// store, answers single-document queries, and produces corpus-wide duplicate
// and similarity reports.
//
// Indexing is a two-pass job. The first pass walks the corpus and extracts a
// feature bag per distinct blob; the second derives the document-frequency
// model, generates the sketching parameters, and writes metadata, sketches,
// and band rows. Query and report are read paths over the same store.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"

	"github.com/Sumatoshi-tech/codedup/pkg/alg/lru"
	"github.com/Sumatoshi-tech/codedup/pkg/alg/lsh"
	"github.com/Sumatoshi-tech/codedup/pkg/alg/wminhash"
	"github.com/Sumatoshi-tech/codedup/pkg/docfreq"
	"github.com/Sumatoshi-tech/codedup/pkg/extract"
	"github.com/Sumatoshi-tech/codedup/pkg/safeconv"
	"github.com/Sumatoshi-tech/codedup/pkg/store"
)

// Granularity selects the indexable unit: whole files or single functions.
type Granularity int

const (
	// GranularityFile indexes whole files.
	GranularityFile Granularity = iota

	// GranularityFunc indexes function units discovered by the extractor.
	GranularityFunc
)

// ErrBadGranularity is returned for granularity strings other than
// "file" and "func".
var ErrBadGranularity = errors.New(`engine: granularity must be "file" or "func"`)

// ParseGranularity parses the CLI granularity flag.
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(s) {
	case "file":
		return GranularityFile, nil
	case "func":
		return GranularityFunc, nil
	default:
		return GranularityFile, fmt.Errorf("%w: got %q", ErrBadGranularity, s)
	}
}

// String renders the flag form.
func (g Granularity) String() string {
	if g == GranularityFunc {
		return "func"
	}

	return "file"
}

// Defaults for Options fields left zero.
const (
	DefaultHashes          = 128
	DefaultBands           = lsh.DefaultBands
	DefaultRowsPerBand     = lsh.DefaultRowsPerBand
	DefaultSeed            = 1
	DefaultSimilarityFloor = 0.5
	DefaultMaxBucketSize   = 1024

	// DefaultMaxParamBytes caps the resident size of the materialized
	// parameter matrices; larger vocabularies fall back to lazy
	// per-row regeneration.
	DefaultMaxParamBytes = 1 << 30
)

// sketchCacheEntries bounds the decoded-sketch cache shared by query scoring
// and the report post-filter.
const sketchCacheEntries = 4096

// Options tunes the engine. Zero values take the documented defaults.
type Options struct {
	// Hashes is the sketch length K. Must equal Bands * RowsPerBand.
	Hashes int

	// Bands is the number of LSH bands B.
	Bands int

	// RowsPerBand is the number of sketch rows per band R.
	RowsPerBand int

	// Seed keys the parameter artifact. Changing it invalidates the index.
	Seed uint64

	// SimilarityFloor is the minimum estimated Jaccard reported as similar.
	SimilarityFloor float64

	// Workers is the sketching parallelism. Defaults to GOMAXPROCS.
	Workers int

	// MaxBucketSize drops band buckets larger than this from the report
	// graph, trading recall on pathological token families for bounded work.
	MaxBucketSize int

	// MaxParamBytes bounds the materialized parameter matrices.
	MaxParamBytes uint64

	// Granularity selects file or function documents.
	Granularity Granularity

	// IncludeVendored keeps vendored paths during the corpus walk.
	IncludeVendored bool

	// PostFilter re-estimates pairwise similarity inside report components
	// and drops components below the floor.
	PostFilter bool
}

// withDefaults fills unset fields.
func (o Options) withDefaults() Options {
	if o.Bands == 0 {
		o.Bands = DefaultBands
	}

	if o.RowsPerBand == 0 {
		o.RowsPerBand = DefaultRowsPerBand
	}

	if o.Hashes == 0 {
		o.Hashes = o.Bands * o.RowsPerBand
	}

	if o.Seed == 0 {
		o.Seed = DefaultSeed
	}

	if o.SimilarityFloor == 0 {
		o.SimilarityFloor = DefaultSimilarityFloor
	}

	if o.Workers == 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}

	if o.MaxBucketSize == 0 {
		o.MaxBucketSize = DefaultMaxBucketSize
	}

	if o.MaxParamBytes == 0 {
		o.MaxParamBytes = DefaultMaxParamBytes
	}

	return o
}

// ErrBandMismatch is returned when Hashes does not equal Bands * RowsPerBand.
var ErrBandMismatch = errors.New("engine: hashes must equal bands * rows-per-band")

// Metrics receives engine events. Implementations must be safe for
// concurrent use; a nil Metrics disables instrumentation.
type Metrics interface {
	// DocumentIndexed counts one indexed document.
	DocumentIndexed(ctx context.Context)

	// DocumentSkipped counts one skipped document by reason.
	DocumentSkipped(ctx context.Context, reason string)

	// SketchComputed records the duration of one sketch in seconds.
	SketchComputed(ctx context.Context, seconds float64)

	// StoreWrite counts one store write batch.
	StoreWrite(ctx context.Context)
}

// nopMetrics is the default no-instrumentation sink.
type nopMetrics struct{}

func (nopMetrics) DocumentIndexed(context.Context) {}

func (nopMetrics) DocumentSkipped(context.Context, string) {}

func (nopMetrics) SketchComputed(context.Context, float64) {}

func (nopMetrics) StoreWrite(context.Context) {}

// Engine is the pipeline front. It is safe for sequential reuse across verbs
// but one Index/Query/Report call runs at a time.
type Engine struct {
	store     store.Store
	extractor extract.Extractor
	opts      Options
	log       *slog.Logger
	metrics   Metrics
	sketches  *lru.Cache[string, *wminhash.Sketch]
}

// New creates an engine over the given store and extractor. logger and
// metrics may be nil.
func New(st store.Store, extractor extract.Extractor, opts Options, logger *slog.Logger, metrics Metrics) (*Engine, error) {
	opts = opts.withDefaults()

	if opts.Hashes != opts.Bands*opts.RowsPerBand {
		return nil, fmt.Errorf("%w: K=%d, B=%d, R=%d", ErrBandMismatch, opts.Hashes, opts.Bands, opts.RowsPerBand)
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if metrics == nil {
		metrics = nopMetrics{}
	}

	return &Engine{
		store:     st,
		extractor: extractor,
		opts:      opts,
		log:       logger,
		metrics:   metrics,
		sketches:  lru.New(lru.WithMaxEntries[string, *wminhash.Sketch](sketchCacheEntries)),
	}, nil
}

// Options returns the effective options after defaulting.
func (e *Engine) Options() Options {
	return e.opts
}

// bagFromFeatures folds raw features into a TF-IDF bag ordered by ascending
// vocabulary position. Unknown tokens and non-positive weights drop out; the
// result may be empty.
func bagFromFeatures(df *docfreq.OrderedDocFreq, features []extract.Feature) wminhash.Bag {
	features = extract.SumFeatures(features)

	bag := make(wminhash.Bag, 0, len(features))

	for _, f := range features {
		pos, weight, ok := df.Weight(f.Name, f.Weight)
		if !ok {
			continue
		}

		bag = append(bag, wminhash.BagEntry{Pos: safeconv.MustIntToUint32(pos), Weight: weight})
	}

	sort.Slice(bag, func(i, j int) bool { return bag[i].Pos < bag[j].Pos })

	return bag
}

// loadModel loads the document-frequency model and parameter artifact from
// the store, mapping a missing model to ErrIndexNotBuilt.
func (e *Engine) loadModel(ctx context.Context) (*docfreq.OrderedDocFreq, *wminhash.Params, error) {
	dfData, err := e.store.LoadDocFreq(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrIndexNotBuilt
	}

	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	df := new(docfreq.OrderedDocFreq)
	if err := json.Unmarshal(dfData, df); err != nil {
		return nil, nil, fmt.Errorf("engine: decode docfreq: %w", err)
	}

	paramsData, err := e.store.LoadParams(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrIndexNotBuilt
	}

	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	params, err := wminhash.DecodeParams(paramsData)
	if err != nil {
		return nil, nil, fmt.Errorf("engine: decode params: %w", err)
	}

	if wminhash.MaterializedBytes(params.Size(), params.K()) <= e.opts.MaxParamBytes {
		params.Materialize()
	}

	return df, params, nil
}

// loadSketch returns the decoded sketch for a blob, consulting the
// in-process cache first. A blob without a stored sketch returns
// store.ErrNotFound.
func (e *Engine) loadSketch(ctx context.Context, blobID string) (*wminhash.Sketch, error) {
	if cached, ok := e.sketches.Get(blobID); ok {
		return cached, nil
	}

	data, err := e.store.Sketch(ctx, blobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	sketch, err := wminhash.FromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("engine: decode sketch %s: %w", blobID, err)
	}

	e.sketches.Put(blobID, sketch)

	return sketch, nil
}
