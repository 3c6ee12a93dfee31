package extract

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/src-d/enry/v2"
)

// Feature name prefixes. Identifier and node-type features live in disjoint
// namespaces so a type named like an identifier cannot alias it.
const (
	identPrefix = "i."
	typePrefix  = "t."
)

// languages maps enry language names to tree-sitter grammars.
var languages = map[string]func() *sitter.Language{
	"Go":         golang.GetLanguage,
	"Python":     python.GetLanguage,
	"Java":       java.GetLanguage,
	"JavaScript": javascript.GetLanguage,
	"C":          c.GetLanguage,
}

// functionNodeTypes are the grammar node types treated as function units.
var functionNodeTypes = map[string]bool{
	"function_declaration":    true, // go, javascript
	"method_declaration":      true, // go, java
	"function_definition":     true, // python, c
	"method_definition":       true, // javascript
	"constructor_declaration": true, // java
}

// TreeSitter extracts identifier and node-type features from parsed syntax
// trees. Unsupported languages report ErrUnsupported so a caller can fall
// back to lexical extraction.
type TreeSitter struct{}

// NewTreeSitter creates a tree-sitter extractor.
func NewTreeSitter() *TreeSitter {
	return &TreeSitter{}
}

// Supported reports whether the file's detected language has a grammar.
func (e *TreeSitter) Supported(path string, content []byte) bool {
	_, ok := languages[enry.GetLanguage(path, content)]

	return ok
}

// Extract implements Extractor. Identifier leaves weigh their occurrence
// count; named node types contribute structural features the same way.
func (e *TreeSitter) Extract(ctx context.Context, path string, content []byte) ([]Feature, error) {
	root, err := e.parse(ctx, path, content)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]uint32)
	collectFeatures(root, content, counts)

	return featuresFromCounts(counts), nil
}

// Units implements Extractor, returning one unit per function declaration.
func (e *TreeSitter) Units(ctx context.Context, path string, content []byte) ([]Unit, error) {
	root, err := e.parse(ctx, path, content)
	if err != nil {
		return nil, err
	}

	var units []Unit

	collectUnits(root, content, &units)

	if len(units) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoFunctions, path)
	}

	return units, nil
}

func (e *TreeSitter) parse(ctx context.Context, path string, content []byte) (*sitter.Node, error) {
	grammar, ok := languages[enry.GetLanguage(path, content)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, path)
	}

	parser := sitter.NewParser()
	parser.SetLanguage(grammar())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParse, path, err)
	}

	return tree.RootNode(), nil
}

// collectFeatures walks the tree counting identifier tokens and named node
// types.
func collectFeatures(node *sitter.Node, content []byte, counts map[string]uint32) {
	if node == nil {
		return
	}

	nodeType := node.Type()

	if node.IsNamed() {
		counts[typePrefix+nodeType]++

		if isIdentifierType(nodeType) && node.NamedChildCount() == 0 {
			counts[identPrefix+node.Content(content)]++
		}
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		collectFeatures(node.Child(i), content, counts)
	}
}

// collectUnits walks the tree gathering function declarations in source
// order.
func collectUnits(node *sitter.Node, content []byte, units *[]Unit) {
	if node == nil {
		return
	}

	if functionNodeTypes[node.Type()] {
		name := unitName(node, content)
		if name != "" {
			*units = append(*units, Unit{
				Name:      name,
				StartLine: int(node.StartPoint().Row) + 1,
				Start:     node.StartByte(),
				End:       node.EndByte(),
			})
		}
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		collectUnits(node.Child(i), content, units)
	}
}

// unitName resolves a function node's declared name. Most grammars expose a
// "name" field; C nests it inside the declarator.
func unitName(node *sitter.Node, content []byte) string {
	if name := node.ChildByFieldName("name"); name != nil {
		return name.Content(content)
	}

	if decl := node.ChildByFieldName("declarator"); decl != nil {
		if ident := firstIdentifier(decl, content); ident != "" {
			return ident
		}
	}

	return ""
}

// firstIdentifier returns the first identifier leaf under the node.
func firstIdentifier(node *sitter.Node, content []byte) string {
	if node == nil {
		return ""
	}

	if isIdentifierType(node.Type()) && node.NamedChildCount() == 0 {
		return node.Content(content)
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		if ident := firstIdentifier(node.Child(i), content); ident != "" {
			return ident
		}
	}

	return ""
}

func isIdentifierType(nodeType string) bool {
	return strings.HasSuffix(nodeType, "identifier")
}
