// Package wminhash implements the Ioffe Weighted MinHash over sparse
// nonnegative bags.
//
// A sketch is a fixed-length sequence of K rows; two bags agree on any one
// row with probability equal to their generalized Jaccard similarity
// sum(min(u_i, v_i)) / sum(max(u_i, v_i)). Sketches are deterministic given
// the parameter artifact, so an index built from the same inputs and the
// same seed is byte-identical across runs.
package wminhash

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

var (
	// ErrInvalidParams is returned when the sketch dimensions are not positive.
	ErrInvalidParams = errors.New("wminhash: hash count and vocabulary size must be positive")

	// ErrVocabularyMismatch is returned when a bag references a token position
	// outside the parameter artifact.
	ErrVocabularyMismatch = errors.New("wminhash: token position exceeds vocabulary size")

	// ErrEmptyBag is returned when a bag has no positive-weight entries.
	ErrEmptyBag = errors.New("wminhash: empty bag")

	// ErrSizeMismatch is returned when comparing sketches of different lengths.
	ErrSizeMismatch = errors.New("wminhash: sketch sizes do not match")

	// ErrInvalidData is returned when deserialization data is invalid.
	ErrInvalidData = errors.New("wminhash: invalid serialized data")
)

// Params is the immutable parameter artifact shared read-only by every
// sketching worker. It is keyed by (Seed, Size, K): r and c entries are drawn
// from Gamma(2, 1), beta entries from Uniform(0, 1). Re-seeding or resizing
// invalidates every sketch built from the previous artifact.
//
// Each token owns an independent PCG stream seeded by (Seed, position), so
// any vocabulary chunk can be rematerialized without generating its
// predecessors. Materialized mode holds all three matrices
// (Size x K x 3 x 8 bytes); lazy mode regenerates one token row per access
// and keeps the resident set constant.
type Params struct {
	seed uint64
	k    int
	size int

	// Slabs in token-major layout: entry (i, k) lives at i*K + k. Nil in
	// lazy mode.
	r []float64
	c []float64
	b []float64
}

// MaterializedBytes returns the memory needed to hold the matrices for a
// vocabulary of the given size.
func MaterializedBytes(size, k int) uint64 {
	const matrices, wordSize = 3, 8

	return uint64(size) * uint64(k) * matrices * wordSize
}

// NewParams generates a materialized parameter artifact.
func NewParams(seed uint64, size, k int) (*Params, error) {
	p, err := NewLazyParams(seed, size, k)
	if err != nil {
		return nil, err
	}

	p.r = make([]float64, size*k)
	p.c = make([]float64, size*k)
	p.b = make([]float64, size*k)

	for i := range size {
		generateRow(seed, i, k, p.r[i*k:(i+1)*k], p.c[i*k:(i+1)*k], p.b[i*k:(i+1)*k])
	}

	return p, nil
}

// NewLazyParams creates an artifact that regenerates parameter rows on
// demand instead of holding the full matrices.
func NewLazyParams(seed uint64, size, k int) (*Params, error) {
	if size <= 0 || k <= 0 {
		return nil, ErrInvalidParams
	}

	return &Params{seed: seed, k: k, size: size}, nil
}

// Seed returns the generation seed.
func (p *Params) Seed() uint64 { return p.seed }

// K returns the number of hash rows per sketch.
func (p *Params) K() int { return p.k }

// Size returns the vocabulary size the artifact was generated for.
func (p *Params) Size() int { return p.size }

// Materialized reports whether the matrices are held in memory.
func (p *Params) Materialized() bool { return p.r != nil }

// row returns the K-length parameter rows for token position i. In lazy mode
// the rows are regenerated into the provided scratch slices.
func (p *Params) row(i int, scratchR, scratchC, scratchB []float64) (r, c, b []float64) {
	if p.r != nil {
		return p.r[i*p.k : (i+1)*p.k], p.c[i*p.k : (i+1)*p.k], p.b[i*p.k : (i+1)*p.k]
	}

	generateRow(p.seed, i, p.k, scratchR, scratchC, scratchB)

	return scratchR, scratchC, scratchB
}

// generateRow fills the parameter row for token position i. The per-token
// stream draws r[k], c[k], b[k] in that order for k = 0..K-1.
func generateRow(seed uint64, i, k int, r, c, b []float64) {
	rng := rand.New(rand.NewPCG(seed, uint64(i)))

	for j := range k {
		r[j] = gamma21(rng)
		c[j] = gamma21(rng)
		b[j] = rng.Float64()
	}
}

// gamma21 draws from Gamma(2, 1) as the sum of two unit exponentials,
// -ln(u1 * u2). Uniform draws are shifted off zero so the logarithm is finite.
func gamma21(rng *rand.Rand) float64 {
	u1 := 1 - rng.Float64()
	u2 := 1 - rng.Float64()

	return -math.Log(u1 * u2)
}

// paramsWire is the persisted form of the artifact key. The matrices are
// rematerialized bit-identically from it, so only the key travels.
type paramsWire struct {
	Seed uint64
	K    int
	Size int
}

// Encode serializes the artifact key with gob.
func (p *Params) Encode() ([]byte, error) {
	var buf bytes.Buffer

	err := gob.NewEncoder(&buf).Encode(paramsWire{Seed: p.seed, K: p.k, Size: p.size})
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeParams restores an artifact from its persisted key. The matrices are
// regenerated lazily; call Materialize to trade memory for speed.
func DecodeParams(data []byte) (*Params, error) {
	var w paramsWire

	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w)
	if err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}

	return NewLazyParams(w.Seed, w.Size, w.K)
}

// Materialize fills the matrices if they are not already resident. It is a
// no-op for a materialized artifact.
func (p *Params) Materialize() {
	if p.r != nil {
		return
	}

	full, err := NewParams(p.seed, p.size, p.k)
	if err != nil {
		return // dimensions were validated at construction.
	}

	p.r, p.c, p.b = full.r, full.c, full.b
}
