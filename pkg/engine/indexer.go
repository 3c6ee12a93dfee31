package engine

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Sumatoshi-tech/codedup/pkg/alg/lsh"
	"github.com/Sumatoshi-tech/codedup/pkg/alg/wminhash"
	"github.com/Sumatoshi-tech/codedup/pkg/docfreq"
	"github.com/Sumatoshi-tech/codedup/pkg/extract"
	"github.com/Sumatoshi-tech/codedup/pkg/identity"
	"github.com/Sumatoshi-tech/codedup/pkg/store"
	"github.com/Sumatoshi-tech/codedup/pkg/walker"
)

// IndexSummary reports what one indexing run did.
type IndexSummary struct {
	Documents  int        `json:"documents"`
	Blobs      int        `json:"blobs"`
	Sketched   int        `json:"sketched"`
	Vocabulary int        `json:"vocabulary"`
	Skips      SkipCounts `json:"skips,omitempty"`
}

// corpusDoc is one document occurrence gathered during the walk.
type corpusDoc struct {
	key  identity.DocumentKey
	meta store.Meta
}

// corpusBlob is one distinct content blob and everything derived from it.
// Path is the first path the blob was seen at; the extractor only uses it for
// language detection, which is content-equal for equal bytes in practice.
type corpusBlob struct {
	id      string
	path    string
	content []byte

	features []extract.Feature
	skipped  bool
}

// corpus is the in-memory working set of one indexing run.
type corpus struct {
	docs      []corpusDoc
	blobs     map[string]*corpusBlob
	blobOrder []string
}

// Index walks root, builds the document-frequency model and parameter
// artifact, sketches every distinct blob, and persists the index. Per-document
// failures are counted, not fatal; infrastructure failures abort the run.
func (e *Engine) Index(ctx context.Context, root string) (*IndexSummary, error) {
	// A rebuilt vocabulary shifts token positions and band values, so no
	// record from a previous generation may survive: drop the whole index
	// and the cached sketch decodes before writing.
	if err := e.store.Reset(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.sketches.Clear()

	skips := newSkipTally()

	crp, err := e.collect(ctx, root, skips)
	if err != nil {
		return nil, err
	}

	e.log.Info("corpus collected",
		"documents", len(crp.docs),
		"blobs", len(crp.blobOrder))

	if err := e.extractAll(ctx, crp, skips); err != nil {
		return nil, err
	}

	df := e.buildDocFreq(crp)

	e.log.Info("document frequencies built",
		"docs", df.Docs,
		"vocabulary", df.Size())

	summary := &IndexSummary{
		Documents:  len(crp.docs),
		Blobs:      len(crp.blobOrder),
		Vocabulary: df.Size(),
	}

	if df.Size() > 0 {
		params, err := e.newParams(df.Size())
		if err != nil {
			return nil, err
		}

		sketched, err := e.sketchAll(ctx, crp, df, params, skips)
		if err != nil {
			return nil, err
		}

		summary.Sketched = sketched

		if err := e.saveModel(ctx, df, params); err != nil {
			return nil, err
		}
	}

	if err := e.writeMeta(ctx, crp); err != nil {
		return nil, err
	}

	summary.Skips = skips.counts

	return summary, nil
}

// collect walks the corpus and gathers documents and distinct blobs.
func (e *Engine) collect(ctx context.Context, root string, skips *skipTally) (*corpus, error) {
	crp := &corpus{blobs: make(map[string]*corpusBlob)}
	opts := walker.Options{IncludeVendored: e.opts.IncludeVendored}

	err := walker.Walk(ctx, root, opts, func(f walker.File) error {
		if e.opts.Granularity == GranularityFunc {
			return e.collectUnits(ctx, crp, f, skips)
		}

		e.addDocument(crp, f, identity.BlobID(f.Content), f.Content, "", 0)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("engine: walk %s: %w", root, err)
	}

	return crp, nil
}

// collectUnits splits one file into function-scoped documents. Each unit is
// content-addressed by its own byte range, so identical functions dedupe
// across files.
func (e *Engine) collectUnits(ctx context.Context, crp *corpus, f walker.File, skips *skipTally) error {
	units, err := e.extractor.Units(ctx, f.Path, f.Content)
	if err != nil {
		skips.add(SkipNoFunctions)
		e.metrics.DocumentSkipped(ctx, SkipNoFunctions)

		return nil
	}

	for _, unit := range units {
		body := f.Content[unit.Start:unit.End]
		e.addDocument(crp, f, identity.BlobID(body), body, unit.Name, unit.StartLine)
	}

	return nil
}

// addDocument records one document occurrence and registers its blob.
func (e *Engine) addDocument(crp *corpus, f walker.File, blobID string, content []byte, name string, line int) {
	crp.docs = append(crp.docs, corpusDoc{
		key: identity.DocumentKey{
			Repo:   f.Repo,
			Path:   f.Path,
			BlobID: blobID,
			Name:   name,
			Line:   line,
		},
		meta: store.Meta{
			Repo:   f.Repo,
			Commit: f.Commit,
			Path:   f.Path,
			Name:   name,
			Line:   line,
		},
	})

	if _, seen := crp.blobs[blobID]; !seen {
		crp.blobs[blobID] = &corpusBlob{id: blobID, path: f.Path, content: content}
		crp.blobOrder = append(crp.blobOrder, blobID)
	}
}

// extractAll computes the feature bag of every distinct blob, in parallel
// sharded by blob id. Extraction failures mark the blob skipped.
func (e *Engine) extractAll(ctx context.Context, crp *corpus, skips *skipTally) error {
	p := pool.New().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(e.opts.Workers)

	for _, shard := range e.shardBlobs(crp) {
		p.Go(func(ctx context.Context) error {
			for _, blob := range shard {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}

				features, err := e.extractor.Extract(ctx, blob.path, blob.content)
				if err != nil {
					blob.skipped = true

					skips.add(SkipExtractor)
					e.metrics.DocumentSkipped(ctx, SkipExtractor)

					continue
				}

				blob.features = extract.SumFeatures(features)
			}

			return nil
		})
	}

	return p.Wait()
}

// shardBlobs partitions the distinct blobs by the leading bits of their ids.
// Blob ids are content hashes, so the shards balance without bookkeeping.
func (e *Engine) shardBlobs(crp *corpus) [][]*corpusBlob {
	shards := make([][]*corpusBlob, e.opts.Workers)

	for _, id := range crp.blobOrder {
		n, err := strconv.ParseUint(id[:8], 16, 64)
		if err != nil {
			n = 0
		}

		shard := int(n) % e.opts.Workers
		shards[shard] = append(shards[shard], crp.blobs[id])
	}

	return shards
}

// buildDocFreq folds per-document token sets into the frequency model.
func (e *Engine) buildDocFreq(crp *corpus) *docfreq.OrderedDocFreq {
	builder := docfreq.NewBuilder()

	for _, doc := range crp.docs {
		blob := crp.blobs[doc.key.BlobID]
		if blob.skipped {
			continue
		}

		tokens := make([]string, len(blob.features))
		for i, f := range blob.features {
			tokens[i] = f.Name
		}

		builder.Add(doc.key.String(), tokens)
	}

	return builder.Build()
}

// newParams generates the parameter artifact for the vocabulary, materialized
// when the matrices fit the configured ceiling.
func (e *Engine) newParams(vocab int) (*wminhash.Params, error) {
	if wminhash.MaterializedBytes(vocab, e.opts.Hashes) <= e.opts.MaxParamBytes {
		params, err := wminhash.NewParams(e.opts.Seed, vocab, e.opts.Hashes)
		if err != nil {
			return nil, fmt.Errorf("engine: generate params: %w", err)
		}

		return params, nil
	}

	e.log.Info("parameter matrices exceed memory ceiling, using lazy rows",
		"vocabulary", vocab,
		"bytes", wminhash.MaterializedBytes(vocab, e.opts.Hashes))

	params, err := wminhash.NewLazyParams(e.opts.Seed, vocab, e.opts.Hashes)
	if err != nil {
		return nil, fmt.Errorf("engine: generate params: %w", err)
	}

	return params, nil
}

// sketchAll sketches and bands every distinct blob and writes the sketch and
// band rows. Empty bags get no sketch and no bands, only a skip count; their
// meta rows are still written later.
func (e *Engine) sketchAll(ctx context.Context, crp *corpus, df *docfreq.OrderedDocFreq, params *wminhash.Params, skips *skipTally) (int, error) {
	bander, err := lsh.New(e.opts.Bands, e.opts.RowsPerBand)
	if err != nil {
		return 0, fmt.Errorf("engine: bander: %w", err)
	}

	var (
		mu       sync.Mutex
		sketched int
	)

	p := pool.New().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(e.opts.Workers)

	for _, shard := range e.shardBlobs(crp) {
		p.Go(func(ctx context.Context) error {
			sketcher := wminhash.NewSketcher(params)

			for _, blob := range shard {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}

				if blob.skipped {
					continue
				}

				ok, err := e.sketchBlob(ctx, sketcher, bander, df, blob, skips)
				if err != nil {
					return err
				}

				if ok {
					mu.Lock()
					sketched++
					mu.Unlock()
				}
			}

			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return 0, err
	}

	return sketched, nil
}

// sketchBlob runs bag -> sketch -> bands -> store for one blob. It reports
// whether a sketch was written.
func (e *Engine) sketchBlob(ctx context.Context, sketcher *wminhash.Sketcher, bander *lsh.Bander, df *docfreq.OrderedDocFreq, blob *corpusBlob, skips *skipTally) (bool, error) {
	bag := bagFromFeatures(df, blob.features)
	if len(bag) == 0 {
		skips.add(SkipSketchEmpty)
		e.metrics.DocumentSkipped(ctx, SkipSketchEmpty)

		return false, nil
	}

	start := time.Now()

	sketch, err := sketcher.Sketch(bag)
	if err != nil {
		skips.add(SkipSketchEmpty)
		e.metrics.DocumentSkipped(ctx, SkipSketchEmpty)

		return false, nil
	}

	e.metrics.SketchComputed(ctx, time.Since(start).Seconds())

	values, err := bander.Values(sketch)
	if err != nil {
		return false, fmt.Errorf("engine: band %s: %w", blob.id, err)
	}

	if err := e.store.PutSketch(ctx, blob.id, sketch.Bytes()); err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := e.store.PutBands(ctx, blob.id, values); err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metrics.StoreWrite(ctx)

	return true, nil
}

// writeMeta persists one meta row per document occurrence.
func (e *Engine) writeMeta(ctx context.Context, crp *corpus) error {
	for _, doc := range crp.docs {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err := e.store.PutDocument(ctx, doc.key.BlobID, doc.key.String(), doc.meta)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		e.metrics.DocumentIndexed(ctx)
	}

	return nil
}

// saveModel persists the frequency model and the parameter artifact.
func (e *Engine) saveModel(ctx context.Context, df *docfreq.OrderedDocFreq, params *wminhash.Params) error {
	dfData, err := df.MarshalJSON()
	if err != nil {
		return fmt.Errorf("engine: encode docfreq: %w", err)
	}

	if err := e.store.SaveDocFreq(ctx, dfData); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	paramsData, err := params.Encode()
	if err != nil {
		return fmt.Errorf("engine: encode params: %w", err)
	}

	if err := e.store.SaveParams(ctx, paramsData); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return nil
}
