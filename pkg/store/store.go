// Package store persists the duplicate-detection index.
//
// One store holds everything a corpus index needs: per-document metadata,
// compressed sketches, hash-band buckets, the document-frequency model, and
// the sketching parameters. Keys are laid out so that related records are
// contiguous, which lets the report stage stream buckets and documents with
// prefix scans instead of point reads.
package store

import (
	"context"
	"errors"

	"github.com/Sumatoshi-tech/codedup/pkg/alg/lsh"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrStop stops a scan early without error.
	ErrStop = errors.New("store: stop scan") //nolint:errname // control sentinel, mirrors fs.SkipAll.
)

// Meta describes where a document came from. It is stored alongside the
// document key so reports can print locations without re-walking the corpus.
type Meta struct {
	Repo   string `json:"repo"`
	Commit string `json:"commit,omitempty"`
	Path   string `json:"path"`
	Name   string `json:"name,omitempty"`
	Line   int    `json:"line,omitempty"`
}

// Value is one opaque band value.
type Value = lsh.Value

// Document is one stored document occurrence: its canonical key and where it
// was observed.
type Document struct {
	Key  string `json:"key"`
	Meta Meta   `json:"meta"`
}

// Bucket is one hash-band bucket: every indexed blob whose sketch produced
// Value in band Band. Members are sorted lexicographically.
type Bucket struct {
	Band    int
	Value   Value
	Members []string
}

// Store is the persistence surface of the index. Implementations must be
// safe for concurrent writers.
type Store interface {
	// PutDocument records one document occurrence of a blob.
	PutDocument(ctx context.Context, blobID, docKey string, meta Meta) error

	// PutSketch stores the serialized sketch of a blob.
	PutSketch(ctx context.Context, blobID string, sketch []byte) error

	// Sketch loads a blob's sketch, or ErrNotFound.
	Sketch(ctx context.Context, blobID string) ([]byte, error)

	// PutBands registers a blob in every bucket its band values select.
	PutBands(ctx context.Context, blobID string, values []Value) error

	// BucketMembers lists the blobs sharing one bucket, sorted.
	BucketMembers(ctx context.Context, band int, value Value) ([]string, error)

	// DocumentsByBlob lists the document occurrences of one blob in key order.
	DocumentsByBlob(ctx context.Context, blobID string) ([]Document, error)

	// ScanDocuments streams document records in blob-id order, so all
	// occurrences of one blob arrive contiguously.
	ScanDocuments(ctx context.Context, fn func(blobID, docKey string, meta Meta) error) error

	// ScanBuckets streams every non-empty bucket in (band, value) order.
	ScanBuckets(ctx context.Context, fn func(bucket Bucket) error) error

	// SaveDocFreq stores the serialized document-frequency model.
	SaveDocFreq(ctx context.Context, data []byte) error

	// LoadDocFreq loads the document-frequency model, or ErrNotFound.
	LoadDocFreq(ctx context.Context) ([]byte, error)

	// SaveParams stores the serialized sketching parameters.
	SaveParams(ctx context.Context, data []byte) error

	// LoadParams loads the sketching parameters, or ErrNotFound.
	LoadParams(ctx context.Context) ([]byte, error)

	// Reset deletes every index record. A rebuilt vocabulary shifts token
	// positions and band values, so nothing from a previous generation may
	// survive a re-index.
	Reset(ctx context.Context) error

	// Close releases the underlying database.
	Close() error
}
