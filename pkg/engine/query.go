package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/Sumatoshi-tech/codedup/pkg/alg/lsh"
	"github.com/Sumatoshi-tech/codedup/pkg/alg/wminhash"
	"github.com/Sumatoshi-tech/codedup/pkg/identity"
	"github.com/Sumatoshi-tech/codedup/pkg/store"
)

// QueryInput identifies the document to search for. Name and Line select a
// function unit within the file; both zero means the whole file.
type QueryInput struct {
	Path string
	Name string
	Line int
}

// Match is one similar blob: its estimated Jaccard and every place it was
// indexed at.
type Match struct {
	BlobID     string           `json:"blob_id"`
	Similarity float64          `json:"similarity"`
	Documents  []store.Document `json:"documents"`
}

// QueryResult partitions the answer into exact duplicates and similar
// documents, per the content-identity rule: equal bytes are duplicates,
// everything else is ranked by sketch agreement.
type QueryResult struct {
	BlobID     string           `json:"blob_id"`
	Duplicates []store.Document `json:"duplicates"`
	Similar    []Match          `json:"similar"`
}

// Query searches the index for documents duplicating or similar to the input.
// An input with no in-vocabulary features returns duplicates only. A store
// without a frequency model fails with ErrIndexNotBuilt.
func (e *Engine) Query(ctx context.Context, input QueryInput) (*QueryResult, error) {
	content, err := os.ReadFile(input.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInputUnreadable, input.Path, err)
	}

	if input.Name != "" {
		content, err = e.unitContent(ctx, input, content)
		if err != nil {
			return nil, err
		}
	}

	df, params, err := e.loadModel(ctx)
	if err != nil {
		return nil, err
	}

	blobID := identity.BlobID(content)

	result := &QueryResult{BlobID: blobID}

	result.Duplicates, err = e.store.DocumentsByBlob(ctx, blobID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	features, err := e.extractor.Extract(ctx, input.Path, content)
	if err != nil {
		// No features means no similarity search, not a failed query.
		return result, nil
	}

	bag := bagFromFeatures(df, features)
	if len(bag) == 0 {
		return result, nil
	}

	sketch, err := wminhash.NewSketcher(params).Sketch(bag)
	if err != nil {
		return result, nil
	}

	candidates, err := e.bandCandidates(ctx, sketch, blobID)
	if err != nil {
		return nil, err
	}

	result.Similar, err = e.scoreCandidates(ctx, sketch, candidates)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// unitContent narrows the file to the named function's byte range.
func (e *Engine) unitContent(ctx context.Context, input QueryInput, content []byte) ([]byte, error) {
	units, err := e.extractor.Units(ctx, input.Path, content)
	if err != nil {
		return nil, fmt.Errorf("%w: %s:%s: %v", ErrUnitNotFound, input.Path, input.Name, err)
	}

	for _, unit := range units {
		if unit.Name != input.Name {
			continue
		}

		if input.Line != 0 && unit.StartLine != input.Line {
			continue
		}

		return content[unit.Start:unit.End], nil
	}

	return nil, fmt.Errorf("%w: %s:%s", ErrUnitNotFound, input.Path, input.Name)
}

// bandCandidates unions bucket members across all bands, excluding the query
// blob itself.
func (e *Engine) bandCandidates(ctx context.Context, sketch *wminhash.Sketch, selfID string) ([]string, error) {
	bander, err := lsh.New(e.opts.Bands, e.opts.RowsPerBand)
	if err != nil {
		return nil, fmt.Errorf("engine: bander: %w", err)
	}

	values, err := bander.Values(sketch)
	if err != nil {
		return nil, fmt.Errorf("engine: band query sketch: %w", err)
	}

	seen := make(map[string]struct{})

	var candidates []string

	for band, value := range values {
		members, err := e.store.BucketMembers(ctx, band, value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		for _, member := range members {
			if member == selfID {
				continue
			}

			if _, dup := seen[member]; dup {
				continue
			}

			seen[member] = struct{}{}
			candidates = append(candidates, member)
		}
	}

	return candidates, nil
}

// scoreCandidates estimates similarity from stored sketches and keeps
// candidates at or above the floor, ranked by descending estimate.
func (e *Engine) scoreCandidates(ctx context.Context, query *wminhash.Sketch, candidates []string) ([]Match, error) {
	var matches []Match

	for _, blobID := range candidates {
		candidate, err := e.loadSketch(ctx, blobID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}

		if err != nil {
			return nil, err
		}

		similarity, err := query.Similarity(candidate)
		if err != nil || similarity < e.opts.SimilarityFloor {
			continue
		}

		docs, err := e.store.DocumentsByBlob(ctx, blobID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		matches = append(matches, Match{
			BlobID:     blobID,
			Similarity: similarity,
			Documents:  docs,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}

		return matches[i].BlobID < matches[j].BlobID
	})

	return matches, nil
}
