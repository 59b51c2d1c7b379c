// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package docexamples renders the jsonlrpc package doc comment's usage
// example through goldmark and checks it stays valid, parseable Markdown,
// the same way godoc's own module (golang.org/x/tools/godoc) depends on
// goldmark to render doc comments.
package docexamples

import (
	"bytes"
	"fmt"
	"go/parser"
	"go/token"
	"strings"

	"github.com/yuin/goldmark"
	gast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ExtractDoc reads the package doc comment from the Go source file at path
// and re-renders it as Markdown, fencing any tab- or space-indented block
// the way godoc itself treats indented comment lines as preformatted code.
func ExtractDoc(path string) (string, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, path, nil, parser.ParseComments|parser.PackageClauseOnly)
	if err != nil {
		return "", fmt.Errorf("docexamples: parsing %s: %w", path, err)
	}
	if f.Doc == nil {
		return "", fmt.Errorf("docexamples: %s has no package doc comment", path)
	}
	return toMarkdown(f.Doc.Text()), nil
}

func toMarkdown(doc string) string {
	var md strings.Builder
	inCode := false
	for _, line := range strings.Split(doc, "\n") {
		indented := strings.HasPrefix(line, "\t") || strings.HasPrefix(line, "    ")
		if indented && !inCode {
			md.WriteString("```go\n")
			inCode = true
		} else if !indented && inCode {
			md.WriteString("```\n")
			inCode = false
		}
		md.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "\t"), "    "))
		md.WriteString("\n")
	}
	if inCode {
		md.WriteString("```\n")
	}
	return md.String()
}

// RenderHTML renders markdown through goldmark.
func RenderHTML(markdown string) ([]byte, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return nil, fmt.Errorf("docexamples: rendering markdown: %w", err)
	}
	return buf.Bytes(), nil
}

// CountFencedCodeBlocks parses markdown with goldmark and reports how many
// fenced code blocks it contains.
func CountFencedCodeBlocks(markdown string) (int, error) {
	md := goldmark.New()
	reader := text.NewReader([]byte(markdown))
	doc := md.Parser().Parse(reader)
	count := 0
	err := gast.Walk(doc, func(n gast.Node, entering bool) (gast.WalkStatus, error) {
		if entering {
			if _, ok := n.(*gast.FencedCodeBlock); ok {
				count++
			}
		}
		return gast.WalkContinue, nil
	})
	return count, err
}
