package store

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Hex blob ids used across store tests; values only need to be distinct.
const (
	blobA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	blobB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	blobC = "cccccccccccccccccccccccccccccccccccccccc"
)

func openTestStore(t *testing.T) *Badger {
	t.Helper()

	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	return s
}

func bandValue(fill byte) Value {
	var v Value
	for i := range v {
		v[i] = fill
	}

	return v
}

func TestCompressRoundTrip(t *testing.T) {
	t.Parallel()

	compressible := bytes.Repeat([]byte("sketch row "), 200)
	incompressible := []byte{0x01, 0xfe, 0x42, 0x99, 0x7a}

	for _, data := range [][]byte{compressible, incompressible, {}} {
		out, err := decompress(compress(data))
		require.NoError(t, err)
		assert.Equal(t, data, out)
	}

	// The repetitive payload must actually shrink.
	assert.Less(t, len(compress(compressible)), len(compressible))
}

func TestDecompressCorrupt(t *testing.T) {
	t.Parallel()

	_, err := decompress([]byte{0x01})
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = decompress([]byte{0x7f, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestSketchRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	sketch := bytes.Repeat([]byte{1, 2, 3, 4}, 64)

	require.NoError(t, s.PutSketch(ctx, blobA, sketch))

	got, err := s.Sketch(ctx, blobA)
	require.NoError(t, err)
	assert.Equal(t, sketch, got)

	_, err = s.Sketch(ctx, blobB)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocumentScanOrder(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutDocument(ctx, blobB, "repo//b.go@"+blobB, Meta{Repo: "repo", Path: "b.go"}))
	require.NoError(t, s.PutDocument(ctx, blobA, "repo//a.go@"+blobA, Meta{Repo: "repo", Path: "a.go"}))
	require.NoError(t, s.PutDocument(ctx, blobA, "repo//copy.go@"+blobA, Meta{Repo: "repo", Path: "copy.go"}))

	var blobs []string

	var paths []string

	err := s.ScanDocuments(ctx, func(blobID, _ string, meta Meta) error {
		blobs = append(blobs, blobID)
		paths = append(paths, meta.Path)

		return nil
	})
	require.NoError(t, err)

	// Blob-id order, occurrences of one blob contiguous.
	assert.Equal(t, []string{blobA, blobA, blobB}, blobs)
	assert.Equal(t, []string{"a.go", "copy.go", "b.go"}, paths)
}

func TestDocumentsByBlob(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutDocument(ctx, blobA, "r1//a.go@"+blobA, Meta{Repo: "r1", Path: "a.go"}))
	require.NoError(t, s.PutDocument(ctx, blobA, "r2//b.go@"+blobA, Meta{Repo: "r2", Path: "b.go"}))
	require.NoError(t, s.PutDocument(ctx, blobB, "r1//c.go@"+blobB, Meta{Repo: "r1", Path: "c.go"}))

	docs, err := s.DocumentsByBlob(ctx, blobA)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "r1//a.go@"+blobA, docs[0].Key)
	assert.Equal(t, "r2", docs[1].Meta.Repo)

	docs, err = s.DocumentsByBlob(ctx, blobC)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestScanStopsOnSentinel(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutDocument(ctx, blobA, "k1", Meta{Path: "1"}))
	require.NoError(t, s.PutDocument(ctx, blobB, "k2", Meta{Path: "2"}))

	seen := 0

	err := s.ScanDocuments(ctx, func(string, string, Meta) error {
		seen++

		return ErrStop
	})
	require.NoError(t, err)
	assert.Equal(t, 1, seen)
}

func TestBandBuckets(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	shared := bandValue(0x11)
	lone := bandValue(0x22)

	require.NoError(t, s.PutBands(ctx, blobA, []Value{shared, lone}))
	require.NoError(t, s.PutBands(ctx, blobB, []Value{shared, bandValue(0x33)}))

	members, err := s.BucketMembers(ctx, 0, shared)
	require.NoError(t, err)
	assert.Equal(t, []string{blobA, blobB}, members)

	members, err = s.BucketMembers(ctx, 1, lone)
	require.NoError(t, err)
	assert.Equal(t, []string{blobA}, members)

	// Band index is part of the key: same value in another band is a miss.
	members, err = s.BucketMembers(ctx, 1, shared)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestScanBucketsGroups(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	shared := bandValue(0x44)

	require.NoError(t, s.PutBands(ctx, blobA, []Value{shared}))
	require.NoError(t, s.PutBands(ctx, blobB, []Value{shared}))
	require.NoError(t, s.PutBands(ctx, blobC, []Value{bandValue(0x55)}))

	var buckets []Bucket

	err := s.ScanBuckets(ctx, func(b Bucket) error {
		buckets = append(buckets, b)

		return nil
	})
	require.NoError(t, err)

	require.Len(t, buckets, 2)
	assert.Equal(t, 0, buckets[0].Band)
	assert.Equal(t, shared, buckets[0].Value)
	assert.Equal(t, []string{blobA, blobB}, buckets[0].Members)
	assert.Equal(t, []string{blobC}, buckets[1].Members)
}

func TestBlobRoundTrips(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.LoadDocFreq(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.LoadParams(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	df := []byte(`{"docs":2}`)
	params := bytes.Repeat([]byte{9}, 32)

	require.NoError(t, s.SaveDocFreq(ctx, df))
	require.NoError(t, s.SaveParams(ctx, params))

	got, err := s.LoadDocFreq(ctx)
	require.NoError(t, err)
	assert.Equal(t, df, got)

	got, err = s.LoadParams(ctx)
	require.NoError(t, err)
	assert.Equal(t, params, got)
}

func TestPersistentOpen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	s, err := Open(dir, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.PutSketch(ctx, blobA, []byte("payload")))
	require.NoError(t, s.Close())

	s, err = Open(dir, nil)
	require.NoError(t, err)

	defer func() { require.NoError(t, s.Close()) }()

	got, err := s.Sketch(ctx, blobA)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestResetClearsIndex(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutDocument(ctx, blobA, "r//a.go@"+blobA, Meta{Repo: "r", Path: "a.go"}))
	require.NoError(t, s.PutSketch(ctx, blobA, []byte("sketch bytes")))
	require.NoError(t, s.PutBands(ctx, blobA, []Value{bandValue(0x11), bandValue(0x22)}))
	require.NoError(t, s.SaveDocFreq(ctx, []byte("model")))
	require.NoError(t, s.SaveParams(ctx, []byte("params")))

	require.NoError(t, s.Reset(ctx))

	_, err := s.Sketch(ctx, blobA)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.LoadDocFreq(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.LoadParams(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	docs, err := s.DocumentsByBlob(ctx, blobA)
	require.NoError(t, err)
	assert.Empty(t, docs)

	buckets := 0
	require.NoError(t, s.ScanBuckets(ctx, func(Bucket) error {
		buckets++

		return nil
	}))
	assert.Zero(t, buckets)

	// The store stays writable after a reset.
	require.NoError(t, s.PutSketch(ctx, blobB, []byte("fresh")))

	got, err := s.Sketch(ctx, blobB)
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), got)
}
