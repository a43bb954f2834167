// File: internal/syntax/gate.go

// Package syntax pre-screens candidate file contents with real grammars
// before any mutation is staged. A candidate that cannot parse has no chance
// of building; rejecting it here saves a full sandbox build cycle.
package syntax

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"go.uber.org/zap"
)

// ParseError pinpoints the first syntax error in a rejected candidate.
// Line and Column are 1-based.
type ParseError struct {
	Path   string
	Line   uint32
	Column uint32
	// Near is the text of the offending line, for prompt and log context.
	Near string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("syntax error in %s at %d:%d near %q", e.Path, e.Line, e.Column, e.Near)
}

// Gate validates candidate syntax for the languages it has grammars for.
// Files in other languages pass through unchecked; the sandbox build remains
// the authority either way.
type Gate struct {
	logger *zap.Logger
}

// NewGate creates a syntax gate.
func NewGate(logger *zap.Logger) *Gate {
	return &Gate{logger: logger.Named("syntax")}
}

// Supported reports whether path's language has a grammar.
func (g *Gate) Supported(path string) bool {
	return languageFor(path) != nil
}

// Check parses content with the grammar selected by path's extension and
// returns a *ParseError when the tree contains errors. nil means parsed
// clean or no grammar available.
func (g *Gate) Check(ctx context.Context, path string, content []byte) error {
	lang := languageFor(path)
	if lang == nil {
		g.logger.Debug("No grammar for file; syntax gate skipped.", zap.String("path", path))
		return nil
	}

	parser := sitter.NewParser()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return fmt.Errorf("failed to parse %q: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return nil
	}

	node := firstErrorNode(root)
	point := node.StartPoint()
	perr := &ParseError{
		Path:   path,
		Line:   point.Row + 1,
		Column: point.Column + 1,
		Near:   lineAt(content, int(point.Row)),
	}
	g.logger.Debug("Candidate rejected by syntax gate.",
		zap.String("path", path),
		zap.Uint32("line", perr.Line),
		zap.Uint32("column", perr.Column))
	return perr
}

func languageFor(path string) *sitter.Language {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return golang.GetLanguage()
	case ".js", ".mjs", ".cjs", ".jsx":
		return javascript.GetLanguage()
	case ".py":
		return python.GetLanguage()
	default:
		return nil
	}
}

// firstErrorNode descends to the earliest explicit ERROR or missing node,
// pruning subtrees the parser marked clean.
func firstErrorNode(n *sitter.Node) *sitter.Node {
	if n.Type() == "ERROR" || n.IsMissing() {
		return n
	}
	if !n.HasError() {
		return nil
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if found := firstErrorNode(n.Child(i)); found != nil {
			return found
		}
	}
	return n
}

func lineAt(content []byte, row int) string {
	lines := strings.Split(string(content), "\n")
	if row < 0 || row >= len(lines) {
		return ""
	}
	return strings.TrimSpace(lines[row])
}
