package extract

import (
	"context"
)

// Auto routes each input to the tree-sitter extractor when its language has
// a grammar and to the lexical tokenizer otherwise. Function units are only
// available for grammar-backed inputs.
type Auto struct {
	syntax  *TreeSitter
	lexical *Lexical
}

// NewAuto creates the default extractor chain.
func NewAuto() *Auto {
	return &Auto{syntax: NewTreeSitter(), lexical: NewLexical()}
}

// Extract implements Extractor.
func (e *Auto) Extract(ctx context.Context, path string, content []byte) ([]Feature, error) {
	if e.syntax.Supported(path, content) {
		return e.syntax.Extract(ctx, path, content)
	}

	return e.lexical.Extract(ctx, path, content)
}

// Units implements Extractor.
func (e *Auto) Units(ctx context.Context, path string, content []byte) ([]Unit, error) {
	if e.syntax.Supported(path, content) {
		return e.syntax.Units(ctx, path, content)
	}

	return e.lexical.Units(ctx, path, content)
}
