// Package extract turns source bytes into weighted feature bags.
//
// The tree-sitter extractor parses supported languages and emits identifier
// and node-type features; everything else falls through to a lexical word
// tokenizer so plain-text documents still index. Extraction is deterministic
// per input: the same bytes always yield the same multiset of features.
package extract

import (
	"context"
	"errors"
	"sort"
)

var (
	// ErrUnsupported is returned when no extractor can process the input.
	ErrUnsupported = errors.New("extract: unsupported input")

	// ErrNoFunctions is returned when function units are requested from an
	// input with no parseable function declarations.
	ErrNoFunctions = errors.New("extract: no function units")

	// ErrParse is returned when the syntax parser fails on the input.
	ErrParse = errors.New("extract: parse failed")
)

// Feature is one (token, weight) observation. Equal tokens within a document
// are summed by the consumer.
type Feature struct {
	Name   string
	Weight uint32
}

// Unit is a function-scoped slice of a file: its declared name, 1-based
// start line, and byte range [Start, End) in the original content.
type Unit struct {
	Name      string
	StartLine int
	Start     uint32
	End       uint32
}

// Extractor produces features for a whole document and enumerates its
// function units. Implementations must be deterministic per input and safe
// for concurrent use.
type Extractor interface {
	// Extract returns the feature bag of the content.
	Extract(ctx context.Context, path string, content []byte) ([]Feature, error)

	// Units enumerates function-scoped sub-documents of the content.
	Units(ctx context.Context, path string, content []byte) ([]Unit, error)
}

// SumFeatures folds duplicate tokens into summed weights, preserving the
// first-seen order of tokens.
func SumFeatures(features []Feature) []Feature {
	index := make(map[string]int, len(features))
	out := make([]Feature, 0, len(features))

	for _, f := range features {
		if i, ok := index[f.Name]; ok {
			out[i].Weight += f.Weight

			continue
		}

		index[f.Name] = len(out)
		out = append(out, f)
	}

	return out
}

// featuresFromCounts flattens a count map into features in lexicographic
// token order, so extraction output is stable.
func featuresFromCounts(counts map[string]uint32) []Feature {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	features := make([]Feature, 0, len(keys))
	for _, name := range keys {
		features = append(features, Feature{Name: name, Weight: counts[name]})
	}

	return features
}
