package wminhash

import (
	"encoding/binary"
	"math"

	"github.com/Sumatoshi-tech/codedup/pkg/safeconv"
)

const (
	// HeaderSize is the number of bytes for the row-count uint32 in serialization.
	HeaderSize = 4

	// BytesPerRow is the serialized size of one sketch row: a uint32 token
	// position followed by an int32 tag, both big-endian.
	BytesPerRow = 8
)

// Row is one coordinate of a sketch: the vocabulary position of the selected
// token and the integer quantization tag from the Ioffe construction. Two
// sketches collide on a row iff both fields match.
type Row struct {
	Index uint32
	Tag   int32
}

// Sketch is a fixed-length Weighted MinHash sketch for one document.
type Sketch struct {
	rows []Row
}

// BagEntry is one nonzero coordinate of a sparse weighted bag, keyed by the
// token's vocabulary position.
type BagEntry struct {
	Pos    uint32
	Weight float64
}

// Bag is a sparse weighted vector ordered by ascending position. Ordering
// matters: argmin ties break toward the lower position.
type Bag []BagEntry

// Sketcher computes sketches against one parameter artifact. A Sketcher is
// stateless apart from per-call scratch space; create one per worker.
type Sketcher struct {
	params *Params

	scratchR []float64
	scratchC []float64
	scratchB []float64
}

// NewSketcher creates a sketcher bound to the given artifact.
func NewSketcher(params *Params) *Sketcher {
	return &Sketcher{
		params:   params,
		scratchR: make([]float64, params.K()),
		scratchC: make([]float64, params.K()),
		scratchB: make([]float64, params.K()),
	}
}

// Sketch computes the Weighted MinHash sketch of a bag.
//
// For every hash row k the Ioffe construction computes, per token i with
// weight w > 0:
//
//	t = floor(ln(w)/r + beta)
//	ln(a) = ln(c) - r*(t - beta) - r
//
// and selects the token minimizing a. The comparison runs in log space; it is
// equivalent to the textbook a = c / (y * e^r) but never overflows. Entries
// with non-positive weight are skipped; a bag with no positive entries
// returns ErrEmptyBag.
func (s *Sketcher) Sketch(bag Bag) (*Sketch, error) {
	k := s.params.K()

	minLnA := make([]float64, k)
	for i := range minLnA {
		minLnA[i] = math.Inf(1)
	}

	rows := make([]Row, k)
	nonzero := false

	for _, entry := range bag {
		if entry.Weight <= 0 {
			continue
		}

		if int(entry.Pos) >= s.params.Size() {
			return nil, ErrVocabularyMismatch
		}

		nonzero = true
		lnW := math.Log(entry.Weight)

		r, c, beta := s.params.row(int(entry.Pos), s.scratchR, s.scratchC, s.scratchB)

		for j := range k {
			t := math.Floor(lnW/r[j] + beta[j])
			lnA := math.Log(c[j]) - r[j]*(t-beta[j]) - r[j]

			// Strict comparison keeps the lowest position on ties because
			// bags are ordered by ascending position.
			if lnA < minLnA[j] {
				minLnA[j] = lnA
				rows[j] = Row{Index: entry.Pos, Tag: int32(t)}
			}
		}
	}

	if !nonzero {
		return nil, ErrEmptyBag
	}

	return &Sketch{rows: rows}, nil
}

// Len returns the number of rows in the sketch.
func (s *Sketch) Len() int {
	return len(s.rows)
}

// Rows returns the sketch rows. The slice must not be mutated.
func (s *Sketch) Rows() []Row {
	return s.rows
}

// Similarity returns the row-agreement rate between two sketches, an unbiased
// estimator of the generalized Jaccard similarity with variance J(1-J)/K.
func (s *Sketch) Similarity(other *Sketch) (float64, error) {
	if other == nil || len(s.rows) != len(other.rows) {
		return 0, ErrSizeMismatch
	}

	matches := 0

	for i := range s.rows {
		if s.rows[i] == other.rows[i] {
			matches++
		}
	}

	return float64(matches) / float64(len(s.rows)), nil
}

// Bytes serializes the sketch.
// Format: [row count as uint32 big-endian] + per row [position uint32,
// tag int32 two's complement], all big-endian.
func (s *Sketch) Bytes() []byte {
	data := make([]byte, HeaderSize+len(s.rows)*BytesPerRow)
	binary.BigEndian.PutUint32(data[:HeaderSize], safeconv.MustIntToUint32(len(s.rows)))

	for i, row := range s.rows {
		offset := HeaderSize + i*BytesPerRow
		binary.BigEndian.PutUint32(data[offset:offset+4], row.Index)
		binary.BigEndian.PutUint32(data[offset+4:offset+8], uint32(row.Tag))
	}

	return data
}

// FromBytes deserializes a sketch produced by Bytes.
func FromBytes(data []byte) (*Sketch, error) {
	if len(data) < HeaderSize {
		return nil, ErrInvalidData
	}

	count := int(binary.BigEndian.Uint32(data[:HeaderSize]))
	if count <= 0 || len(data) != HeaderSize+count*BytesPerRow {
		return nil, ErrInvalidData
	}

	rows := make([]Row, count)

	for i := range count {
		offset := HeaderSize + i*BytesPerRow
		rows[i] = Row{
			Index: binary.BigEndian.Uint32(data[offset : offset+4]),
			Tag:   int32(binary.BigEndian.Uint32(data[offset+4 : offset+8])),
		}
	}

	return &Sketch{rows: rows}, nil
}
