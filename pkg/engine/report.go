package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Sumatoshi-tech/codedup/pkg/alg/unionfind"
	"github.com/Sumatoshi-tech/codedup/pkg/alg/wminhash"
	"github.com/Sumatoshi-tech/codedup/pkg/store"
)

// Cluster is one group of exact duplicates: two or more document occurrences
// of the same blob.
type Cluster struct {
	BlobID    string           `json:"blob_id"`
	Documents []store.Document `json:"documents"`
}

// Component is one connected component of the band graph: blobs linked by
// sharing at least one band bucket.
type Component struct {
	BlobIDs   []string         `json:"blob_ids"`
	Documents []store.Document `json:"documents"`
}

// ReportResult is the corpus-wide answer: duplicate clusters and similar
// components.
type ReportResult struct {
	Duplicates     []Cluster   `json:"duplicates"`
	Similar        []Component `json:"similar"`
	DroppedBuckets int         `json:"dropped_buckets,omitempty"`
}

// Report scans the whole index and emits every duplicate cluster and every
// similar component. Both scans are streaming; the band graph is folded into
// union-find as buckets arrive, so no pair list is ever materialized.
// Buckets larger than the configured cap are dropped, which biases recall
// against extremely popular token families.
func (e *Engine) Report(ctx context.Context) (*ReportResult, error) {
	if _, err := e.store.LoadDocFreq(ctx); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrIndexNotBuilt
		}

		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	result := &ReportResult{}

	if err := e.duplicateClusters(ctx, result); err != nil {
		return nil, err
	}

	if err := e.similarComponents(ctx, result); err != nil {
		return nil, err
	}

	return result, nil
}

// duplicateClusters groups the meta scan by blob id. Scan order keeps one
// blob's occurrences contiguous, so grouping is a single pass.
func (e *Engine) duplicateClusters(ctx context.Context, result *ReportResult) error {
	var current Cluster

	flush := func() {
		if len(current.Documents) >= 2 {
			result.Duplicates = append(result.Duplicates, current)
		}
	}

	err := e.store.ScanDocuments(ctx, func(blobID, docKey string, meta store.Meta) error {
		if blobID != current.BlobID {
			flush()

			current = Cluster{BlobID: blobID}
		}

		current.Documents = append(current.Documents, store.Document{Key: docKey, Meta: meta})

		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	flush()

	return nil
}

// similarComponents builds the band graph with union-find over a dense
// remapping of blob ids and emits components of size two or more.
func (e *Engine) similarComponents(ctx context.Context, result *ReportResult) error {
	forest := unionfind.New(0)
	ids := make(map[string]int)

	var blobs []string

	dense := func(blobID string) int {
		if id, ok := ids[blobID]; ok {
			return id
		}

		id := forest.Len()
		forest.Grow(id + 1)
		ids[blobID] = id
		blobs = append(blobs, blobID)

		return id
	}

	err := e.store.ScanBuckets(ctx, func(bucket store.Bucket) error {
		if len(bucket.Members) < 2 {
			return nil
		}

		if len(bucket.Members) > e.opts.MaxBucketSize {
			result.DroppedBuckets++

			e.log.Warn("dropping oversized band bucket",
				"band", bucket.Band,
				"size", len(bucket.Members))

			return nil
		}

		// Star unions are enough: connecting every member to the first
		// yields the same components as the full pair clique.
		first := dense(bucket.Members[0])
		for _, member := range bucket.Members[1:] {
			forest.Union(first, dense(member))
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	for _, group := range forest.Components() {
		if len(group) < 2 {
			continue
		}

		component, keep, err := e.buildComponent(ctx, group, blobs)
		if err != nil {
			return err
		}

		if keep {
			result.Similar = append(result.Similar, component)
		}
	}

	return nil
}

// buildComponent maps dense ids back to blobs, applies the optional
// similarity post-filter, and annotates member documents.
func (e *Engine) buildComponent(ctx context.Context, group []int, blobs []string) (Component, bool, error) {
	component := Component{BlobIDs: make([]string, len(group))}
	for i, id := range group {
		component.BlobIDs[i] = blobs[id]
	}

	sort.Strings(component.BlobIDs)

	if e.opts.PostFilter {
		keep, err := e.pairsMeetFloor(ctx, component.BlobIDs)
		if err != nil {
			return Component{}, false, err
		}

		if !keep {
			return Component{}, false, nil
		}
	}

	for _, blobID := range component.BlobIDs {
		docs, err := e.store.DocumentsByBlob(ctx, blobID)
		if err != nil {
			return Component{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		component.Documents = append(component.Documents, docs...)
	}

	return component, true, nil
}

// pairsMeetFloor re-estimates every pairwise similarity in a component from
// the stored sketches and reports whether all pairs reach the floor.
func (e *Engine) pairsMeetFloor(ctx context.Context, blobIDs []string) (bool, error) {
	sketches := make([]*wminhash.Sketch, len(blobIDs))

	for i, blobID := range blobIDs {
		var err error

		sketches[i], err = e.loadSketch(ctx, blobID)
		if err != nil {
			return false, err
		}
	}

	for i := range sketches {
		for j := i + 1; j < len(sketches); j++ {
			similarity, err := sketches[i].Similarity(sketches[j])
			if err != nil {
				return false, fmt.Errorf("engine: compare sketches: %w", err)
			}

			if similarity < e.opts.SimilarityFloor {
				return false, nil
			}
		}
	}

	return true, nil
}
