// Package markdown extracts structure from issue bodies.
//
// Issue templates render as markdown headings ("### Steps to reproduce",
// "### Expected behavior"). The outline is stored next to the issue so search
// results can show which template sections a report filled in.
package markdown

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// MetadataKey is the issue metadata key holding the encoded outline.
const MetadataKey = "sections"

// sectionSeparator joins heading titles in the stored metadata value.
// Headings may contain commas, so the label delimiter is not reused.
const sectionSeparator = "\n"

// Heading is a single entry of a body outline.
type Heading struct {
	Level int    // Nesting depth in the outline, 1 for top-level
	Path  string // Hierarchy: "# Bug report > ## Steps"
	Title string
}

// Outliner parses markdown bodies into heading outlines.
type Outliner struct {
	parser   goldmark.Markdown
	maxDepth int
}

// NewOutliner creates an outliner that reports headings down to maxDepth.
// A non-positive maxDepth includes every heading level.
func NewOutliner(maxDepth int) *Outliner {
	if maxDepth <= 0 || maxDepth > 6 {
		maxDepth = 6
	}
	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
	return &Outliner{parser: md, maxDepth: maxDepth}
}

// Outline returns the headings of body in document order.
// A body without headings yields an empty outline.
func (o *Outliner) Outline(body string) ([]Heading, error) {
	source := []byte(body)
	doc := o.parser.Parser().Parse(text.NewReader(source))

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(o.maxDepth),
		toc.Compact(true),
	)
	if err != nil {
		return nil, fmt.Errorf("inspect TOC: %w", err)
	}

	headings := []Heading{}
	flatten(tree.Items, nil, &headings)
	return headings, nil
}

// Sections returns the outline encoded as a single metadata string.
// An empty string means the body has no headings.
func (o *Outliner) Sections(body string) (string, error) {
	headings, err := o.Outline(body)
	if err != nil {
		return "", err
	}
	return EncodeSections(headings), nil
}

// EncodeSections joins heading titles for storage as scalar metadata.
func EncodeSections(headings []Heading) string {
	titles := make([]string, 0, len(headings))
	for _, h := range headings {
		titles = append(titles, h.Title)
	}
	return strings.Join(titles, sectionSeparator)
}

// DecodeSections is the inverse of EncodeSections.
func DecodeSections(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, sectionSeparator)
}

func flatten(items toc.Items, ancestors []string, out *[]Heading) {
	for _, item := range items {
		title := strings.TrimSpace(string(item.Title))
		current := append(append([]string(nil), ancestors...), title)
		*out = append(*out, Heading{
			Level: len(current),
			Path:  formatHeaderPath(current),
			Title: title,
		})
		if len(item.Items) > 0 {
			flatten(item.Items, current, out)
		}
	}
}

// formatHeaderPath builds a header hierarchy string.
// Example: ["Bug report", "Steps"] -> "# Bug report > ## Steps"
func formatHeaderPath(path []string) string {
	parts := make([]string, 0, len(path))
	for i, segment := range path {
		parts = append(parts, fmt.Sprintf("%s %s", strings.Repeat("#", i+1), segment))
	}
	return strings.Join(parts, " > ")
}
