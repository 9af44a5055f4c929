package markdown

import (
	"reflect"
	"testing"
)

// TestOutline_IssueTemplate tests the flat H3 layout produced by GitHub issue forms.
func TestOutline_IssueTemplate(t *testing.T) {
	input := `### Describe the bug

Clicking save crashes the editor.

### Steps to reproduce

1. Open a file
2. Press save

### Expected behavior

The file is saved.
`

	headings, err := NewOutliner(0).Outline(input)
	if err != nil {
		t.Fatalf("Outline failed: %v", err)
	}

	var titles []string
	for _, h := range headings {
		titles = append(titles, h.Title)
		if h.Level != 1 {
			t.Errorf("Heading %q level: expected 1, got %d", h.Title, h.Level)
		}
	}

	expected := []string{"Describe the bug", "Steps to reproduce", "Expected behavior"}
	if !reflect.DeepEqual(titles, expected) {
		t.Errorf("Titles: expected %v, got %v", expected, titles)
	}
}

// TestOutline_Hierarchy tests that nested headings carry their header path.
func TestOutline_Hierarchy(t *testing.T) {
	input := `# Crash report

## Environment

OS details.

## Logs

Stack trace.
`

	headings, err := NewOutliner(0).Outline(input)
	if err != nil {
		t.Fatalf("Outline failed: %v", err)
	}

	if len(headings) != 3 {
		t.Fatalf("Expected 3 headings, got %d", len(headings))
	}

	if headings[0].Path != "# Crash report" {
		t.Errorf("Heading 0 path: got %q", headings[0].Path)
	}
	if headings[1].Path != "# Crash report > ## Environment" || headings[1].Level != 2 {
		t.Errorf("Heading 1: got %+v", headings[1])
	}
	if headings[2].Path != "# Crash report > ## Logs" {
		t.Errorf("Heading 2 path: got %q", headings[2].Path)
	}
}

// TestOutline_MaxDepth tests that deeper headings are excluded.
func TestOutline_MaxDepth(t *testing.T) {
	input := "# Top\n\n## Middle\n\n### Deep\n"

	headings, err := NewOutliner(2).Outline(input)
	if err != nil {
		t.Fatalf("Outline failed: %v", err)
	}

	if len(headings) != 2 {
		t.Errorf("Expected 2 headings, got %d: %+v", len(headings), headings)
	}
}

// TestOutline_NoHeadings tests plain-text bodies.
func TestOutline_NoHeadings(t *testing.T) {
	for _, input := range []string{"", "just some text\n\nand more"} {
		headings, err := NewOutliner(0).Outline(input)
		if err != nil {
			t.Fatalf("Outline(%q) failed: %v", input, err)
		}
		if len(headings) != 0 {
			t.Errorf("Outline(%q): expected no headings, got %+v", input, headings)
		}

		sections, err := NewOutliner(0).Sections(input)
		if err != nil {
			t.Fatalf("Sections(%q) failed: %v", input, err)
		}
		if sections != "" {
			t.Errorf("Sections(%q): expected empty, got %q", input, sections)
		}
	}
}

// TestSections_RoundTrip tests that titles containing commas survive encoding.
func TestSections_RoundTrip(t *testing.T) {
	headings := []Heading{{Title: "Steps, in order"}, {Title: "Logs"}}

	decoded := DecodeSections(EncodeSections(headings))
	expected := []string{"Steps, in order", "Logs"}
	if !reflect.DeepEqual(decoded, expected) {
		t.Errorf("Expected %v, got %v", expected, decoded)
	}

	if len(DecodeSections("")) != 0 {
		t.Errorf("Expected empty decode for empty string")
	}
}
