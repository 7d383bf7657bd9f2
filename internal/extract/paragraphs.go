// Package extract flattens HTML policy pages into addressable paragraphs.
package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/ppiankov/policyrag/internal/model"
	"golang.org/x/net/html"
)

const (
	minParagraphLen = 30
	maxParagraphLen = 2000
)

// ParagraphExtractor turns block-level HTML elements into corpus paragraphs
type ParagraphExtractor struct {
	blocks map[string]bool
}

// NewParagraphExtractor creates a new paragraph extractor
func NewParagraphExtractor() *ParagraphExtractor {
	return &ParagraphExtractor{
		blocks: map[string]bool{
			"p": true, "li": true, "td": true, "dd": true, "blockquote": true,
			"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
		},
	}
}

// Extract parses HTML and returns one paragraph per block element with enough text.
// Pages are not paginated, so every paragraph is assigned page 1.
func (e *ParagraphExtractor) Extract(r io.Reader, docID, sourceFile string) ([]model.Paragraph, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var texts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skipElement(n.Data) {
				return
			}
			if e.blocks[n.Data] && !hasBlockChild(n, e.blocks) {
				texts = append(texts, extractVisibleText(n))
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var paragraphs []model.Paragraph
	for _, text := range dedupeTexts(texts) {
		if len(text) < minParagraphLen {
			continue
		}
		if len(text) > maxParagraphLen {
			text = text[:maxParagraphLen]
		}
		idx := len(paragraphs)
		paragraphs = append(paragraphs, model.Paragraph{
			ParagraphID: ParagraphID(docID, 1, idx, text),
			DocID:       docID,
			Page:        1,
			Text:        text,
			SourceFile:  sourceFile,
		})
	}

	return paragraphs, nil
}

// ParagraphID builds the stable id {doc_id}::p{page:04d}::i{index:04d}::{sha12}
func ParagraphID(docID string, page, index int, content string) string {
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%s::p%04d::i%04d::%s", docID, page, index, hex.EncodeToString(sum[:])[:12])
}

func skipElement(tag string) bool {
	switch tag {
	case "script", "style", "noscript", "iframe", "nav", "footer":
		return true
	}
	return false
}

func hasBlockChild(n *html.Node, blocks map[string]bool) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (blocks[c.Data] || hasBlockChild(c, blocks)) {
			return true
		}
	}
	return false
}

// extractVisibleText extracts text nodes from HTML, skipping scripts/styles
func extractVisibleText(n *html.Node) string {
	var buf strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipElement(n.Data) {
			return
		}

		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				buf.WriteString(text)
				buf.WriteString(" ")
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(n)
	return strings.Join(strings.Fields(buf.String()), " ")
}

// dedupeTexts removes duplicate paragraphs (case-insensitive), keeping first occurrence
func dedupeTexts(texts []string) []string {
	seen := make(map[string]bool)
	var unique []string

	for _, t := range texts {
		key := strings.ToLower(strings.TrimSpace(t))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, t)
	}

	return unique
}
