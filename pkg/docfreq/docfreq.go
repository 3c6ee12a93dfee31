// Package docfreq builds and persists corpus-wide document frequencies.
//
// The OrderedDocFreq artifact assigns every observed token a stable integer
// position via lexicographic ordering. Positions are valid across indexing
// and querying as long as the artifact is not rebuilt; adding documents to
// the corpus grows the vocabulary and shifts positions, so sketches must be
// recomputed after a rebuild.
package docfreq

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrUnknownToken is returned when a token is not part of the vocabulary.
	ErrUnknownToken = errors.New("docfreq: token not in vocabulary")

	// ErrInconsistent is returned when a decoded artifact violates its invariants.
	ErrInconsistent = errors.New("docfreq: tokens and df are inconsistent")
)

// OrderedDocFreq is the immutable document-frequency artifact for one index.
//
// Docs is the number of distinct documents that contributed features.
// Tokens holds the vocabulary in lexicographic order; the position of a token
// in Tokens is its index everywhere downstream. DF maps each token to the
// number of distinct documents containing it.
type OrderedDocFreq struct {
	Docs   int            `json:"docs"`
	Tokens []string       `json:"tokens"`
	DF     map[string]int `json:"df"`

	// positions caches token -> index; rebuilt on decode.
	positions map[string]int
}

// Builder accumulates per-document token observations.
//
// Duplicate tokens within one document count once toward the document
// frequency; duplicate document keys count once toward the corpus size.
type Builder struct {
	docs   map[string]struct{}
	counts map[string]int
	seen   map[string]map[string]struct{}
}

// NewBuilder creates an empty document-frequency builder.
func NewBuilder() *Builder {
	return &Builder{
		docs:   make(map[string]struct{}),
		counts: make(map[string]int),
		seen:   make(map[string]map[string]struct{}),
	}
}

// Add records that the document identified by docKey contains the given
// tokens. It may be called several times per document.
func (b *Builder) Add(docKey string, tokens []string) {
	b.docs[docKey] = struct{}{}

	docSeen := b.seen[docKey]
	if docSeen == nil {
		docSeen = make(map[string]struct{}, len(tokens))
		b.seen[docKey] = docSeen
	}

	for _, tok := range tokens {
		if _, dup := docSeen[tok]; dup {
			continue
		}

		docSeen[tok] = struct{}{}
		b.counts[tok]++
	}
}

// Docs returns the number of distinct documents added so far.
func (b *Builder) Docs() int {
	return len(b.docs)
}

// Build freezes the accumulated counts into an OrderedDocFreq. The same input
// multiset yields a bit-for-bit identical artifact.
func (b *Builder) Build() *OrderedDocFreq {
	tokens := make([]string, 0, len(b.counts))
	for tok := range b.counts {
		tokens = append(tokens, tok)
	}

	sort.Strings(tokens)

	df := make(map[string]int, len(b.counts))
	positions := make(map[string]int, len(tokens))

	for i, tok := range tokens {
		df[tok] = b.counts[tok]
		positions[tok] = i
	}

	return &OrderedDocFreq{
		Docs:      len(b.docs),
		Tokens:    tokens,
		DF:        df,
		positions: positions,
	}
}

// Size returns the vocabulary size |T|.
func (d *OrderedDocFreq) Size() int {
	return len(d.Tokens)
}

// Position returns the stable index of a token, or ErrUnknownToken.
func (d *OrderedDocFreq) Position(token string) (int, error) {
	pos, ok := d.positions[token]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownToken, token)
	}

	return pos, nil
}

// Weight returns the TF-IDF weight log(1+tf) * log(N/df) for a token with the
// given summed term frequency. Unknown tokens and non-positive results report
// ok=false and contribute nothing to the bag.
func (d *OrderedDocFreq) Weight(token string, tf uint32) (pos int, weight float64, ok bool) {
	pos, exists := d.positions[token]
	if !exists || tf == 0 {
		return 0, 0, false
	}

	weight = math.Log(1+float64(tf)) * math.Log(float64(d.Docs)/float64(d.DF[token]))
	if weight <= 0 {
		return 0, 0, false
	}

	return pos, weight, true
}

// MarshalJSON serializes the artifact. Tokens are redundant with the keys of
// DF but written explicitly for reader stability.
func (d *OrderedDocFreq) MarshalJSON() ([]byte, error) {
	type wire struct {
		Docs   int            `json:"docs"`
		Tokens []string       `json:"tokens"`
		DF     map[string]int `json:"df"`
	}

	return json.Marshal(wire{Docs: d.Docs, Tokens: d.Tokens, DF: d.DF})
}

// UnmarshalJSON restores the artifact and validates its invariants: every
// token in DF appears in Tokens and vice versa.
func (d *OrderedDocFreq) UnmarshalJSON(data []byte) error {
	type wire struct {
		Docs   int            `json:"docs"`
		Tokens []string       `json:"tokens"`
		DF     map[string]int `json:"df"`
	}

	var w wire

	err := json.Unmarshal(data, &w)
	if err != nil {
		return fmt.Errorf("docfreq decode: %w", err)
	}

	if len(w.Tokens) != len(w.DF) {
		return ErrInconsistent
	}

	positions := make(map[string]int, len(w.Tokens))

	for i, tok := range w.Tokens {
		if _, ok := w.DF[tok]; !ok {
			return ErrInconsistent
		}

		positions[tok] = i
	}

	d.Docs = w.Docs
	d.Tokens = w.Tokens
	d.DF = w.DF
	d.positions = positions

	return nil
}
