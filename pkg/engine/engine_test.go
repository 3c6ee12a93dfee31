package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/codedup/pkg/extract"
	"github.com/Sumatoshi-tech/codedup/pkg/identity"
	"github.com/Sumatoshi-tech/codedup/pkg/store"
)

// helloContent is the canonical exact-duplicate fixture.
const helloContent = "hello\nworld\n"

// goBase is a Go file with enough identifiers that a single rename keeps the
// weighted Jaccard similarity high.
const goBase = `package metrics

func meanValue(samples []float64) float64 {
	total := 0.0
	for _, sample := range samples {
		total += sample
	}
	return total / float64(len(samples))
}

func maxValue(samples []float64) float64 {
	best := samples[0]
	for _, sample := range samples {
		if sample > best {
			best = sample
		}
	}
	return best
}

func minValue(samples []float64) float64 {
	worst := samples[0]
	for _, sample := range samples {
		if sample < worst {
			worst = sample
		}
	}
	return worst
}

func spread(samples []float64) float64 {
	return maxValue(samples) - minValue(samples)
}
`

// unrelated fixtures keep the corpus vocabulary diverse so IDF weights stay
// positive for document-specific tokens.
const (
	readmeContent = "project overview\n\ninstall the toolchain and run the linters before sending patches\n"
	notesContent  = "meeting notes\n\nagenda retrospective planning capacity vacation schedule\n"
	configContent = "timeout fifty\nretries three\nverbose true\nendpoint production\n"
)

func writeCorpus(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	return dir
}

func newTestEngine(t *testing.T, opts Options) (*Engine, *store.Badger) {
	t.Helper()

	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })

	eng, err := New(st, extract.NewAuto(), opts, nil, nil)
	require.NoError(t, err)

	return eng, st
}

func writeQueryFile(t *testing.T, content string, name string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestIndexSummaryCounts(t *testing.T) {
	t.Parallel()

	dir := writeCorpus(t, map[string]string{
		"a.txt":    helloContent,
		"copy.txt": helloContent,
		"b.txt":    readmeContent,
	})

	eng, _ := newTestEngine(t, Options{})

	summary, err := eng.Index(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Documents)
	assert.Equal(t, 2, summary.Blobs)
	assert.Equal(t, 2, summary.Sketched)
	assert.Positive(t, summary.Vocabulary)
	assert.Zero(t, summary.Skips.Total())
}

func TestQueryExactDuplicate(t *testing.T) {
	t.Parallel()

	dir := writeCorpus(t, map[string]string{
		"p1.txt": helloContent,
		"p2.txt": helloContent,
		"b.txt":  readmeContent,
	})

	eng, _ := newTestEngine(t, Options{})

	ctx := context.Background()
	_, err := eng.Index(ctx, dir)
	require.NoError(t, err)

	result, err := eng.Query(ctx, QueryInput{Path: writeQueryFile(t, helloContent, "probe.txt")})
	require.NoError(t, err)

	assert.Equal(t, identity.BlobID([]byte(helloContent)), result.BlobID)
	require.Len(t, result.Duplicates, 2)
	assert.Equal(t, "p1.txt", result.Duplicates[0].Meta.Path)
	assert.Equal(t, "p2.txt", result.Duplicates[1].Meta.Path)

	// The probe's own blob never reports itself as similar.
	for _, match := range result.Similar {
		assert.NotEqual(t, result.BlobID, match.BlobID)
	}
}

func TestQueryNearDuplicate(t *testing.T) {
	t.Parallel()

	dir := writeCorpus(t, map[string]string{
		"stats.go":   goBase,
		"readme.txt": readmeContent,
		"notes.txt":  notesContent,
		"conf.txt":   configContent,
	})

	eng, _ := newTestEngine(t, Options{})

	ctx := context.Background()
	_, err := eng.Index(ctx, dir)
	require.NoError(t, err)

	// Same code plus trailing comment lines: zero duplicates, one strong
	// similar hit on the original.
	probe := goBase + "\n// threshold note\n// review pending\n// tracked upstream\n"
	result, err := eng.Query(ctx, QueryInput{Path: writeQueryFile(t, probe, "probe.go")})
	require.NoError(t, err)

	assert.Empty(t, result.Duplicates)
	require.NotEmpty(t, result.Similar)

	best := result.Similar[0]
	assert.Equal(t, identity.BlobID([]byte(goBase)), best.BlobID)
	assert.GreaterOrEqual(t, best.Similarity, 0.5)
	require.NotEmpty(t, best.Documents)
	assert.Equal(t, "stats.go", best.Documents[0].Meta.Path)
}

func TestQueryUnrelatedIsEmpty(t *testing.T) {
	t.Parallel()

	dir := writeCorpus(t, map[string]string{
		"stats.go":   goBase,
		"readme.txt": readmeContent,
	})

	eng, _ := newTestEngine(t, Options{})

	ctx := context.Background()
	_, err := eng.Index(ctx, dir)
	require.NoError(t, err)

	result, err := eng.Query(ctx, QueryInput{Path: writeQueryFile(t, notesContent, "other.txt")})
	require.NoError(t, err)

	assert.Empty(t, result.Duplicates)
	assert.Empty(t, result.Similar)
}

func TestQueryEmptyFeaturesReturnsDuplicatesOnly(t *testing.T) {
	t.Parallel()

	punctuation := "!!! ??? ***\n"

	dir := writeCorpus(t, map[string]string{
		"odd.txt":  punctuation,
		"real.txt": readmeContent,
	})

	eng, _ := newTestEngine(t, Options{})

	ctx := context.Background()
	summary, err := eng.Index(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skips[SkipSketchEmpty])

	result, err := eng.Query(ctx, QueryInput{Path: writeQueryFile(t, punctuation, "probe.txt")})
	require.NoError(t, err)

	require.Len(t, result.Duplicates, 1)
	assert.Equal(t, "odd.txt", result.Duplicates[0].Meta.Path)
	assert.Empty(t, result.Similar)
}

func TestQueryBeforeIndexFails(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, Options{})

	_, err := eng.Query(context.Background(), QueryInput{Path: writeQueryFile(t, helloContent, "probe.txt")})
	assert.ErrorIs(t, err, ErrIndexNotBuilt)
}

func TestQueryUnreadableInput(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, Options{})

	_, err := eng.Query(context.Background(), QueryInput{Path: "/does/not/exist.go"})
	assert.ErrorIs(t, err, ErrInputUnreadable)
}

func TestReportMirroredCorpus(t *testing.T) {
	t.Parallel()

	renamed := strings.ReplaceAll(goBase, "spread", "valueRange")

	dir := writeCorpus(t, map[string]string{
		"one/common.txt": configContent,
		"two/common.txt": configContent,
		"one/metrics.go": goBase,
		"two/metrics.go": renamed,
		"one/readme.txt": readmeContent,
		"two/agenda.txt": notesContent,
	})

	eng, _ := newTestEngine(t, Options{})

	ctx := context.Background()
	_, err := eng.Index(ctx, dir)
	require.NoError(t, err)

	report, err := eng.Report(ctx)
	require.NoError(t, err)

	// Exactly one byte-identical pair.
	require.Len(t, report.Duplicates, 1)
	assert.Equal(t, identity.BlobID([]byte(configContent)), report.Duplicates[0].BlobID)
	assert.Len(t, report.Duplicates[0].Documents, 2)

	// The renamed mirror lands in one similar component with the original.
	wantPair := []string{
		identity.BlobID([]byte(goBase)),
		identity.BlobID([]byte(renamed)),
	}
	if wantPair[0] > wantPair[1] {
		wantPair[0], wantPair[1] = wantPair[1], wantPair[0]
	}

	found := false

	for _, component := range report.Similar {
		if assert.ObjectsAreEqual(wantPair, component.BlobIDs) {
			found = true

			assert.Len(t, component.Documents, 2)
		}
	}

	assert.True(t, found, "renamed pair missing from similar components")
}

func TestReportBeforeIndexFails(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, Options{})

	_, err := eng.Report(context.Background())
	assert.ErrorIs(t, err, ErrIndexNotBuilt)
}

func TestIndexDeterminism(t *testing.T) {
	t.Parallel()

	files := map[string]string{
		"stats.go":   goBase,
		"readme.txt": readmeContent,
		"notes.txt":  notesContent,
	}
	blobID := identity.BlobID([]byte(goBase))
	ctx := context.Background()

	var sketches [][]byte

	for range 2 {
		dir := writeCorpus(t, files)
		eng, st := newTestEngine(t, Options{})

		_, err := eng.Index(ctx, dir)
		require.NoError(t, err)

		sketch, err := st.Sketch(ctx, blobID)
		require.NoError(t, err)

		df, err := st.LoadDocFreq(ctx)
		require.NoError(t, err)

		sketches = append(sketches, sketch, df)
	}

	assert.Equal(t, sketches[0], sketches[2], "sketch bytes differ across runs")
	assert.Equal(t, sketches[1], sketches[3], "docfreq bytes differ across runs")
}

func TestFunctionGranularity(t *testing.T) {
	t.Parallel()

	shared := `func sharedHelper(count int) int {
	total := 0
	for i := 0; i < count; i++ {
		total += i
	}
	return total
}
`

	dir := writeCorpus(t, map[string]string{
		"a.go": "package a\n\n" + shared,
		"b.go": "package b\n\n" + shared + `
func onlyInB(flag bool) bool {
	return !flag
}
`,
	})

	eng, st := newTestEngine(t, Options{Granularity: GranularityFunc})

	ctx := context.Background()
	summary, err := eng.Index(ctx, dir)
	require.NoError(t, err)

	// Three function documents, two distinct bodies.
	assert.Equal(t, 3, summary.Documents)
	assert.Equal(t, 2, summary.Blobs)

	docs, err := st.DocumentsByBlob(ctx, identity.BlobID([]byte(shared[:len(shared)-1])))
	require.NoError(t, err)
	require.Len(t, docs, 2)

	for _, doc := range docs {
		key, err := identity.ParseDocumentKey(doc.Key)
		require.NoError(t, err)
		assert.Equal(t, "sharedHelper", key.Name)
		assert.True(t, key.IsUnit())
	}
}

func TestIndexCancelled(t *testing.T) {
	t.Parallel()

	dir := writeCorpus(t, map[string]string{"a.txt": helloContent})
	eng, _ := newTestEngine(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.Index(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseGranularity(t *testing.T) {
	t.Parallel()

	g, err := ParseGranularity("file")
	require.NoError(t, err)
	assert.Equal(t, GranularityFile, g)

	g, err = ParseGranularity("FUNC")
	require.NoError(t, err)
	assert.Equal(t, GranularityFunc, g)

	_, err = ParseGranularity("module")
	assert.ErrorIs(t, err, ErrBadGranularity)
}

func TestOptionsValidation(t *testing.T) {
	t.Parallel()

	st, err := store.OpenInMemory()
	require.NoError(t, err)

	defer func() { require.NoError(t, st.Close()) }()

	_, err = New(st, extract.NewAuto(), Options{Hashes: 100, Bands: 32, RowsPerBand: 4}, nil, nil)
	assert.ErrorIs(t, err, ErrBandMismatch)
}

func collectBuckets(t *testing.T, st *store.Badger) []store.Bucket {
	t.Helper()

	var buckets []store.Bucket

	require.NoError(t, st.ScanBuckets(context.Background(), func(bucket store.Bucket) error {
		buckets = append(buckets, bucket)

		return nil
	}))

	return buckets
}

func TestReindexMatchesFreshBuild(t *testing.T) {
	t.Parallel()

	grown := map[string]string{
		"stats.go":   goBase,
		"readme.txt": readmeContent,
		"notes.txt":  notesContent,
		"conf.txt":   configContent,
	}

	ctx := context.Background()

	// Index a small corpus, grow it in place, and index again into the same
	// store. Growing the vocabulary shifts token positions, so every band
	// value changes; rows from the first run must not survive.
	dir := writeCorpus(t, map[string]string{
		"stats.go":   goBase,
		"readme.txt": readmeContent,
	})
	eng, st := newTestEngine(t, Options{})

	_, err := eng.Index(ctx, dir)
	require.NoError(t, err)

	for name, content := range grown {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	_, err = eng.Index(ctx, dir)
	require.NoError(t, err)

	// Reference: one fresh build over the grown corpus.
	freshEng, freshSt := newTestEngine(t, Options{})

	_, err = freshEng.Index(ctx, writeCorpus(t, grown))
	require.NoError(t, err)

	assert.Equal(t, collectBuckets(t, freshSt), collectBuckets(t, st),
		"re-indexed band table differs from a fresh build")

	df, err := st.LoadDocFreq(ctx)
	require.NoError(t, err)

	freshDF, err := freshSt.LoadDocFreq(ctx)
	require.NoError(t, err)
	assert.Equal(t, freshDF, df, "re-indexed frequency model differs from a fresh build")
}
