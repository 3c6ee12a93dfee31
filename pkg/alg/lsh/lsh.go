// Package lsh turns Weighted MinHash sketches into banded locality-sensitive
// hash values.
//
// A sketch of K rows is split into B contiguous bands of R rows each
// (K = B x R). Every band reduces to one opaque value, the SHA1 of the
// band's canonical byte serialization. Two documents are banded-equal at
// band b iff their b-th values match; the probability of agreeing on at
// least one band is 1 - (1 - J^R)^B for generalized Jaccard similarity J.
// With the default B=32, R=4 the curve is near 0 below J~0.2 and near 1
// above J~0.8.
package lsh

import (
	"crypto/sha1" //nolint:gosec // band bucketing, not security.
	"encoding/binary"
	"errors"

	"github.com/Sumatoshi-tech/codedup/pkg/alg/wminhash"
)

const (
	// DefaultBands is the default number of bands B.
	DefaultBands = 32

	// DefaultRowsPerBand is the default number of sketch rows per band R.
	DefaultRowsPerBand = 4

	// ValueSize is the byte length of one band value.
	ValueSize = sha1.Size
)

var (
	// ErrInvalidParams is returned when bands or rows are not positive.
	ErrInvalidParams = errors.New("lsh: bands and rows must be positive")

	// ErrSizeMismatch is returned when a sketch length does not equal bands * rows.
	ErrSizeMismatch = errors.New("lsh: sketch size must equal bands * rows")
)

// Value is one opaque band value.
type Value [ValueSize]byte

// Bander partitions sketches into band values. It is immutable and safe for
// concurrent use.
type Bander struct {
	bands int
	rows  int
}

// New creates a bander with the given number of bands and rows per band.
func New(bands, rows int) (*Bander, error) {
	if bands <= 0 || rows <= 0 {
		return nil, ErrInvalidParams
	}

	return &Bander{bands: bands, rows: rows}, nil
}

// Bands returns B.
func (b *Bander) Bands() int { return b.bands }

// Rows returns R.
func (b *Bander) Rows() int { return b.rows }

// Values computes the B band values of a sketch. Each band serializes its R
// rows as two fixed-width big-endian integers per row and hashes the result,
// so values are reproducible across runs and platforms.
func (b *Bander) Values(sketch *wminhash.Sketch) ([]Value, error) {
	if sketch == nil || sketch.Len() != b.bands*b.rows {
		return nil, ErrSizeMismatch
	}

	rows := sketch.Rows()
	values := make([]Value, b.bands)
	buf := make([]byte, b.rows*wminhash.BytesPerRow)

	for band := range b.bands {
		for i, row := range rows[band*b.rows : (band+1)*b.rows] {
			offset := i * wminhash.BytesPerRow
			binary.BigEndian.PutUint32(buf[offset:offset+4], row.Index)
			binary.BigEndian.PutUint32(buf[offset+4:offset+8], uint32(row.Tag))
		}

		values[band] = sha1.Sum(buf) //nolint:gosec // band bucketing, not security.
	}

	return values, nil
}
