package extract

import (
	"context"
	"fmt"
	"unicode"
)

// wordPrefix namespaces lexical tokens away from syntax features.
const wordPrefix = "w."

// maxLexicalTokenLen drops degenerate tokens (minified blobs, base64 runs).
const maxLexicalTokenLen = 64

// Lexical is the fallback extractor for inputs without a grammar: it counts
// word tokens, runs of letters, digits, and underscores.
type Lexical struct{}

// NewLexical creates a lexical extractor.
func NewLexical() *Lexical {
	return &Lexical{}
}

// Extract implements Extractor by tokenizing the content into words.
func (e *Lexical) Extract(_ context.Context, _ string, content []byte) ([]Feature, error) {
	counts := make(map[string]uint32)

	start := -1

	flush := func(end int) {
		if start < 0 {
			return
		}

		if end-start <= maxLexicalTokenLen {
			counts[wordPrefix+string(content[start:end])]++
		}

		start = -1
	}

	for i, b := range content {
		if isWordByte(b) {
			if start < 0 {
				start = i
			}

			continue
		}

		flush(i)
	}

	flush(len(content))

	return featuresFromCounts(counts), nil
}

// Units implements Extractor. Plain text has no function structure.
func (e *Lexical) Units(_ context.Context, path string, _ []byte) ([]Unit, error) {
	return nil, fmt.Errorf("%w: %s", ErrNoFunctions, path)
}

func isWordByte(b byte) bool {
	return b == '_' || unicode.IsLetter(rune(b)) || unicode.IsDigit(rune(b))
}
