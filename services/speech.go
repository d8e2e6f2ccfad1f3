// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var (
	speechParserInstance goldmark.Markdown
	speechParserOnce     sync.Once
)

func speechParser() goldmark.Markdown {
	speechParserOnce.Do(func() {
		speechParserInstance = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return speechParserInstance
}

// SpeechText reduces markdown to the text a speech engine should read:
// inline markup is dropped, code blocks and raw HTML are skipped, and
// every block ends up on its own line.
func SpeechText(markdown string) string {
	if strings.TrimSpace(markdown) == "" {
		return ""
	}
	source := []byte(markdown)
	document := speechParser().Parser().Parse(text.NewReader(source))

	var lines []string
	var line strings.Builder
	flush := func() {
		if trimmed := strings.Join(strings.Fields(line.String()), " "); trimmed != "" {
			lines = append(lines, trimmed)
		}
		line.Reset()
	}

	ast.Walk(document, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node.Kind() {
		case ast.KindFencedCodeBlock, ast.KindCodeBlock, ast.KindHTMLBlock, ast.KindRawHTML:
			return ast.WalkSkipChildren, nil

		case ast.KindParagraph, ast.KindHeading, ast.KindTextBlock, ast.KindListItem, extast.KindTableCell:
			if !entering {
				flush()
			}

		case ast.KindText:
			if entering {
				textNode := node.(*ast.Text)
				line.Write(textNode.Segment.Value(source))
				if textNode.SoftLineBreak() || textNode.HardLineBreak() {
					line.WriteByte(' ')
				}
			}

		case ast.KindString:
			if entering {
				line.Write(node.(*ast.String).Value)
			}

		case ast.KindAutoLink:
			if entering {
				line.Write(node.(*ast.AutoLink).Label(source))
			}
		}
		return ast.WalkContinue, nil
	})
	flush()
	return strings.Join(lines, "\n")
}
