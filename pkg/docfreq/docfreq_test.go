package docfreq

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSample() *OrderedDocFreq {
	b := NewBuilder()
	b.Add("doc1", []string{"alpha", "beta", "beta"})
	b.Add("doc2", []string{"beta", "gamma"})
	b.Add("doc3", []string{"alpha"})

	return b.Build()
}

func TestBuilder_CountsDistinctDocuments(t *testing.T) {
	t.Parallel()

	df := buildSample()

	assert.Equal(t, 3, df.Docs)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, df.Tokens)
	assert.Equal(t, map[string]int{"alpha": 2, "beta": 2, "gamma": 1}, df.DF)
}

func TestBuilder_DuplicateTokensWithinDocCountOnce(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	b.Add("doc", []string{"x", "x", "x"})
	b.Add("doc", []string{"x"}) // second batch for the same doc

	df := b.Build()

	assert.Equal(t, 1, df.Docs)
	assert.Equal(t, 1, df.DF["x"])
}

func TestBuilder_Deterministic(t *testing.T) {
	t.Parallel()

	first, err := json.Marshal(buildSample())
	require.NoError(t, err)

	second, err := json.Marshal(buildSample())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestPosition_StableOrdering(t *testing.T) {
	t.Parallel()

	df := buildSample()

	for i, tok := range df.Tokens {
		pos, err := df.Position(tok)

		require.NoError(t, err)
		assert.Equal(t, i, pos)
	}

	_, err := df.Position("unknown")
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestWeight_TFIDF(t *testing.T) {
	t.Parallel()

	df := buildSample()

	pos, w, ok := df.Weight("gamma", 2)

	require.True(t, ok)
	assert.Equal(t, 2, pos)
	assert.InDelta(t, math.Log(3)*math.Log(3), w, 1e-12)
}

func TestWeight_UniversalTokenDropped(t *testing.T) {
	t.Parallel()

	// A token present in every document has idf log(N/N) = 0 and must not
	// contribute to the bag.
	b := NewBuilder()
	b.Add("d1", []string{"everywhere", "rare"})
	b.Add("d2", []string{"everywhere"})

	df := b.Build()

	_, _, ok := df.Weight("everywhere", 5)
	assert.False(t, ok)

	_, _, ok = df.Weight("rare", 1)
	assert.True(t, ok)
}

func TestWeight_UnknownAndZeroTF(t *testing.T) {
	t.Parallel()

	df := buildSample()

	_, _, ok := df.Weight("nope", 1)
	assert.False(t, ok)

	_, _, ok = df.Weight("alpha", 0)
	assert.False(t, ok)
}

func TestJSON_RoundTrip(t *testing.T) {
	t.Parallel()

	df := buildSample()

	data, err := json.Marshal(df)
	require.NoError(t, err)

	var decoded OrderedDocFreq

	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, df.Docs, decoded.Docs)
	assert.Equal(t, df.Tokens, decoded.Tokens)
	assert.Equal(t, df.DF, decoded.DF)

	// Positions survive the round trip.
	pos, err := decoded.Position("beta")
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
}

func TestJSON_RejectsInconsistentArtifact(t *testing.T) {
	t.Parallel()

	var decoded OrderedDocFreq

	err := json.Unmarshal([]byte(`{"docs":1,"tokens":["a","b"],"df":{"a":1}}`), &decoded)
	assert.ErrorIs(t, err, ErrInconsistent)

	err = json.Unmarshal([]byte(`{"docs":1,"tokens":["a"],"df":{"b":1}}`), &decoded)
	assert.ErrorIs(t, err, ErrInconsistent)
}

func TestVocabularyMonotonicity(t *testing.T) {
	t.Parallel()

	// Rebuilding with an extra document yields a superset vocabulary.
	b := NewBuilder()
	b.Add("d1", []string{"alpha", "beta"})
	before := b.Build()

	b.Add("d2", []string{"aardvark", "beta"})
	after := b.Build()

	assert.Subset(t, after.Tokens, before.Tokens)
	assert.GreaterOrEqual(t, after.Size(), before.Size())
}
