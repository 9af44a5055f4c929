package issue

import "strings"

// LabelDelimiter separates labels in CSV cells and in index metadata.
const LabelDelimiter = ","

// ParseLabels splits a delimited label string into trimmed, non-empty, de-duplicated labels.
func ParseLabels(s string) []string {
	return CleanLabels(strings.Split(s, LabelDelimiter))
}

// CleanLabels trims labels and drops blanks and repeats, keeping first-seen order.
// The result is never nil.
func CleanLabels(in []string) []string {
	labels := []string{}
	seen := make(map[string]bool)
	for _, part := range in {
		l := strings.TrimSpace(part)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		labels = append(labels, l)
	}
	return labels
}

// EncodeLabels joins labels into the single string stored in scalar metadata.
func EncodeLabels(labels []string) string {
	clean := make([]string, 0, len(labels))
	for _, l := range labels {
		if l = strings.TrimSpace(l); l != "" {
			clean = append(clean, l)
		}
	}
	return strings.Join(clean, LabelDelimiter)
}

// DecodeLabels is the inverse of EncodeLabels.
func DecodeLabels(s string) []string {
	return ParseLabels(s)
}

// LabelSet builds a lookup set, ignoring blank entries. Returns nil for no labels.
func LabelSet(labels []string) map[string]struct{} {
	var set map[string]struct{}
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if set == nil {
			set = make(map[string]struct{})
		}
		set[l] = struct{}{}
	}
	return set
}
